package app

import (
	"context"
	"fmt"

	"procurement-reconciler/internal/core"
)

type appService struct {
	repo       core.Repository
	sync       core.BasketSyncService
	dispatcher core.DispatchAllocator
}

// NewAppService constructs an appService that satisfies ApplicationService.
func NewAppService(
	repo core.Repository,
	sync core.BasketSyncService,
	dispatcher core.DispatchAllocator,
) ApplicationService {
	return &appService{
		repo:       repo,
		sync:       sync,
		dispatcher: dispatcher,
	}
}

// GetBasket returns a basket with its current lines.
func (s *appService) GetBasket(ctx context.Context, basketID string) (*BasketResult, error) {
	basket, err := s.repo.GetBasket(ctx, basketID)
	if err != nil {
		return nil, err
	}
	return &BasketResult{Basket: basket}, nil
}

// ListBaskets returns baskets matching filter.
func (s *appService) ListBaskets(ctx context.Context, filter BasketFilter) (*BasketListResult, error) {
	all, err := s.repo.ListBaskets(ctx)
	if err != nil {
		return nil, err
	}
	baskets := make([]core.SupplierOrder, 0, len(all))
	for _, b := range all {
		if filter.Status != "" && b.Status != filter.Status {
			continue
		}
		if filter.SupplierID != "" && b.SupplierID != filter.SupplierID {
			continue
		}
		baskets = append(baskets, b)
	}
	return &BasketListResult{Baskets: baskets}, nil
}

// ChangeBasketStatus moves a basket to req.Target. On a partial failure the returned
// result still describes the steps that completed.
func (s *appService) ChangeBasketStatus(ctx context.Context, req ChangeStatusRequest) (*TransitionResult, error) {
	tr, err := s.sync.ChangeBasketStatus(ctx, req.BasketID, req.Target)
	if err != nil {
		if tr == nil {
			return nil, err
		}
		return &TransitionResult{Transition: tr}, err
	}
	basket, err := s.repo.GetBasket(ctx, req.BasketID)
	if err != nil {
		return nil, fmt.Errorf("reload basket %s: %w", req.BasketID, err)
	}
	return &TransitionResult{Transition: tr, Basket: basket}, nil
}

// ToggleLineSelection selects or deselects a line.
func (s *appService) ToggleLineSelection(ctx context.Context, req ToggleSelectionRequest) (*SelectionResult, error) {
	sel, err := s.sync.ToggleLineSelection(ctx, req.BasketID, req.LineID, req.Selected)
	if err != nil {
		return nil, err
	}
	return &SelectionResult{Selection: sel}, nil
}

// RecordQuote stores a supplier quote on a line.
func (s *appService) RecordQuote(ctx context.Context, req RecordQuoteRequest) (*LineResult, error) {
	if req.Price.IsNegative() {
		return nil, &core.ValidationError{Reason: "quote price cannot be negative", Lines: []string{req.LineID}}
	}
	if req.LeadTimeDays != nil && *req.LeadTimeDays < 0 {
		return nil, &core.ValidationError{Reason: "lead time cannot be negative", Lines: []string{req.LineID}}
	}
	line, err := s.sync.RecordQuote(ctx, req.BasketID, req.LineID, req.Price, req.LeadTimeDays)
	if err != nil {
		return nil, err
	}
	return &LineResult{Line: line}, nil
}

// ReEvaluateBasket reapplies the basket's mapped status to its requests.
func (s *appService) ReEvaluateBasket(ctx context.Context, basketID string) (*ReEvaluationResult, error) {
	n, err := s.sync.ReEvaluate(ctx, basketID)
	if err != nil {
		return nil, err
	}
	return &ReEvaluationResult{BasketID: basketID, RequestsUpdated: n}, nil
}

// PreviewFinalization reports whether the basket could move to RECEIVED now.
func (s *appService) PreviewFinalization(ctx context.Context, basketID string) (*core.FinalizationPreview, error) {
	return s.sync.PreviewFinalization(ctx, basketID)
}

// Dispatch allocates open requests. With explicit ids each request is loaded first; a
// request that cannot be loaded is reported in the result's errors and the rest proceed.
func (s *appService) Dispatch(ctx context.Context, req DispatchRequest) (*core.DispatchResult, error) {
	if len(req.RequestIDs) == 0 {
		return s.dispatcher.Dispatch(ctx, nil)
	}

	var (
		requests   []core.PurchaseRequest
		loadErrors []core.DispatchError
	)
	for _, id := range req.RequestIDs {
		pr, err := s.repo.GetPurchaseRequest(ctx, id)
		if err != nil {
			loadErrors = append(loadErrors, core.DispatchError{RequestID: id, Err: err})
			continue
		}
		requests = append(requests, *pr)
	}

	// an empty list would make the allocator fetch every open request
	if len(requests) == 0 {
		return &core.DispatchResult{Errors: loadErrors}, nil
	}
	result, err := s.dispatcher.Dispatch(ctx, requests)
	if err != nil {
		return nil, err
	}
	result.Errors = append(loadErrors, result.Errors...)
	return result, nil
}

// ConsultSupplier opens a parallel consultation for a line.
func (s *appService) ConsultSupplier(ctx context.Context, req ConsultSupplierRequest) (*LineResult, error) {
	if req.SupplierID == "" {
		return nil, &core.ValidationError{Reason: "supplier is required", Lines: []string{req.LineID}}
	}
	line, err := s.dispatcher.ConsultSupplier(ctx, req.LineID, req.SupplierID)
	if err != nil {
		return nil, err
	}
	return &LineResult{Line: line}, nil
}

// FindTwins lists the lines referencing a request across non-cancelled baskets.
func (s *appService) FindTwins(ctx context.Context, requestID string) (*TwinsResult, error) {
	all, err := s.repo.ListBaskets(ctx)
	if err != nil {
		return nil, err
	}
	return &TwinsResult{RequestID: requestID, Twins: core.FindTwins(requestID, all)}, nil
}
