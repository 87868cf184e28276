package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DispatchedRequest records where a purchase request was placed.
type DispatchedRequest struct {
	RequestID  string
	SupplierID string
	BasketID   string
	LineID     string
	Merged     bool // added to an existing line for the same stock item
}

// DispatchError is a per-request failure. The batch continues past it.
type DispatchError struct {
	RequestID string
	Err       error
}

func (e DispatchError) Error() string {
	return fmt.Sprintf("request %s: %v", e.RequestID, e.Err)
}

// DispatchResult is the outcome of one dispatch run. Partial success is normal.
type DispatchResult struct {
	Dispatched []DispatchedRequest
	ToQualify  []PurchaseRequest // no preferred supplier; needs a buyer's decision
	Errors     []DispatchError
}

// DispatchAllocator places open purchase requests into supplier basket lines.
type DispatchAllocator interface {
	// Dispatch allocates each open request to its preferred supplier's POOLING basket,
	// creating the basket when needed. With no requests it fetches the open ones.
	Dispatch(ctx context.Context, openRequests []PurchaseRequest) (*DispatchResult, error)

	// ConsultSupplier opens a parallel consultation for the requests of an existing line:
	// an unselected twin line is added to the supplier's POOLING basket.
	ConsultSupplier(ctx context.Context, lineID, supplierID string) (*SupplierOrderLine, error)
}

type dispatchAllocator struct {
	repo     Repository
	observer Observer
	logger   *zap.Logger
	limit    int

	// one POOLING basket per supplier: find-or-create must not race with itself
	supplierMu sync.Mutex
	supplier   map[string]*sync.Mutex
}

// NewDispatchAllocator constructs a DispatchAllocator over repo.
func NewDispatchAllocator(repo Repository, observer Observer, logger *zap.Logger, limit int) DispatchAllocator {
	if observer == nil {
		observer = nopObserver{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if limit <= 0 {
		limit = DefaultBatchConcurrency
	}
	return &dispatchAllocator{
		repo:     repo,
		observer: observer,
		logger:   logger,
		limit:    limit,
		supplier: make(map[string]*sync.Mutex),
	}
}

// Dispatch allocates open requests. Requests of one supplier are handled in order;
// different suppliers proceed concurrently.
func (a *dispatchAllocator) Dispatch(ctx context.Context, openRequests []PurchaseRequest) (*DispatchResult, error) {
	if len(openRequests) == 0 {
		fetched, err := a.repo.FetchOpenPurchaseRequests(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch open purchase requests: %w", err)
		}
		openRequests = fetched
	}

	all, err := a.repo.ListBaskets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list baskets: %w", err)
	}

	result := &DispatchResult{}
	var (
		order  []string
		groups = make(map[string][]PurchaseRequest)
	)
	for _, pr := range openRequests {
		// in_progress requests without a line were returned to the pool by a purge
		if pr.Status != RequestOpen && pr.Status != RequestInProgress {
			result.Errors = append(result.Errors, DispatchError{
				RequestID: pr.ID,
				Err:       &ValidationError{Reason: fmt.Sprintf("request status is %s (must be open or in_progress)", pr.Status)},
			})
			continue
		}
		if pr.Quantity.IsZero() || pr.Quantity.IsNegative() {
			result.Errors = append(result.Errors, DispatchError{
				RequestID: pr.ID,
				Err:       &ValidationError{Reason: "request quantity must be positive"},
			})
			continue
		}
		if pr.PreferredSupplierID == nil || *pr.PreferredSupplierID == "" {
			result.ToQualify = append(result.ToQualify, pr)
			continue
		}
		sid := *pr.PreferredSupplierID
		if twin := selectedOutsidePool(pr.ID, sid, all); twin != nil {
			result.Errors = append(result.Errors, DispatchError{
				RequestID: pr.ID,
				Err: &ValidationError{
					Reason: fmt.Sprintf("request is already selected in basket %s (%s)", twin.BasketID, twin.BasketStatus),
					Lines:  []string{twin.Line.ID},
				},
			})
			continue
		}
		if _, ok := groups[sid]; !ok {
			order = append(order, sid)
		}
		groups[sid] = append(groups[sid], pr)
	}

	type supplierOutcome struct {
		dispatched []DispatchedRequest
		errs       []DispatchError
	}
	outcomes := make([]supplierOutcome, len(order))

	writeCtx := context.WithoutCancel(ctx)
	var g errgroup.Group
	g.SetLimit(a.limit)
	for i, sid := range order {
		g.Go(func() error {
			for _, pr := range groups[sid] {
				d, err := a.allocate(writeCtx, sid, pr)
				if err != nil {
					outcomes[i].errs = append(outcomes[i].errs, DispatchError{RequestID: pr.ID, Err: err})
					continue
				}
				outcomes[i].dispatched = append(outcomes[i].dispatched, *d)
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		result.Dispatched = append(result.Dispatched, o.dispatched...)
		result.Errors = append(result.Errors, o.errs...)
	}

	a.observer.DispatchObserved("dispatched", len(result.Dispatched))
	a.observer.DispatchObserved("to_qualify", len(result.ToQualify))
	a.observer.DispatchObserved("error", len(result.Errors))
	a.logger.Info("dispatch finished",
		zap.Int("dispatched", len(result.Dispatched)),
		zap.Int("to_qualify", len(result.ToQualify)),
		zap.Int("errors", len(result.Errors)))
	for _, e := range result.Errors {
		a.logger.Warn("request not dispatched", zap.String("request_id", e.RequestID), zap.Error(e.Err))
	}
	return result, nil
}

// allocate places one request into the supplier's pooling basket and marks it in_progress.
func (a *dispatchAllocator) allocate(ctx context.Context, supplierID string, pr PurchaseRequest) (*DispatchedRequest, error) {
	mu := a.supplierLock(supplierID)
	mu.Lock()
	defer mu.Unlock()

	basket, err := a.poolingBasket(ctx, supplierID)
	if err != nil {
		return nil, err
	}

	d := &DispatchedRequest{RequestID: pr.ID, SupplierID: supplierID, BasketID: basket.ID}
	if existing := lineReferencing(basket.Lines, pr.ID); existing != nil {
		d.LineID = existing.ID
	} else if existing := mergeCandidate(basket.Lines, pr); existing != nil {
		qty := existing.Quantity.Add(pr.Quantity)
		refs := append(append([]string(nil), existing.RequestIDs...), pr.ID)
		line, err := a.repo.UpdateLine(ctx, existing.ID, LineFields{Quantity: &qty, RequestIDs: refs})
		if err != nil {
			return nil, fmt.Errorf("merge into line %s: %w", existing.ID, err)
		}
		d.LineID, d.Merged = line.ID, true
	} else {
		line, err := a.repo.CreateLine(ctx, SupplierOrderLine{
			BasketID:    basket.ID,
			Quantity:    pr.Quantity,
			StockItemID: pr.StockItemID,
			IsSelected:  true,
			RequestIDs:  []string{pr.ID},
		})
		if err != nil {
			return nil, fmt.Errorf("add line to basket %s: %w", basket.ID, err)
		}
		d.LineID = line.ID
	}

	if _, err := a.repo.UpdatePurchaseRequest(ctx, pr.ID, RequestInProgress); err != nil {
		return nil, fmt.Errorf("mark request in progress: %w", err)
	}
	return d, nil
}

func (a *dispatchAllocator) poolingBasket(ctx context.Context, supplierID string) (*SupplierOrder, error) {
	basket, err := a.repo.FindPoolingBasket(ctx, supplierID)
	if err == nil {
		return basket, nil
	}
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		return nil, fmt.Errorf("find pooling basket for supplier %s: %w", supplierID, err)
	}
	basket, err = a.repo.CreateBasket(ctx, supplierID)
	if err != nil {
		return nil, fmt.Errorf("create basket for supplier %s: %w", supplierID, err)
	}
	a.logger.Info("basket created", zap.String("basket_id", basket.ID), zap.String("supplier_id", supplierID))
	return basket, nil
}

func (a *dispatchAllocator) supplierLock(supplierID string) *sync.Mutex {
	a.supplierMu.Lock()
	defer a.supplierMu.Unlock()
	mu, ok := a.supplier[supplierID]
	if !ok {
		mu = &sync.Mutex{}
		a.supplier[supplierID] = mu
	}
	return mu
}

// ConsultSupplier adds an unselected twin of lineID to the supplier's pooling basket.
func (a *dispatchAllocator) ConsultSupplier(ctx context.Context, lineID, supplierID string) (*SupplierOrderLine, error) {
	if supplierID == "" {
		return nil, &ValidationError{Reason: "supplier is required"}
	}

	all, err := a.repo.ListBaskets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list baskets: %w", err)
	}
	var (
		source *SupplierOrderLine
		owner  SupplierOrder
	)
	for _, b := range all {
		if l := b.Line(lineID); l != nil {
			source, owner = l, b
			break
		}
	}
	if source == nil {
		return nil, &NotFoundError{Entity: "line", ID: lineID}
	}
	if owner.SupplierID == supplierID {
		return nil, &ValidationError{Reason: "line is already with this supplier", Lines: []string{lineID}}
	}
	if len(source.RequestIDs) == 0 {
		return nil, &ValidationError{Reason: "line has no purchase request to consult on", Lines: []string{lineID}}
	}
	for _, rid := range source.RequestIDs {
		pr, err := a.repo.GetPurchaseRequest(ctx, rid)
		if err != nil {
			return nil, fmt.Errorf("load request %s: %w", rid, err)
		}
		if pr.Status != RequestOpen && pr.Status != RequestInProgress {
			return nil, &ValidationError{
				Reason: fmt.Sprintf("request %s is %s; twins are only allowed while open or in progress", rid, pr.Status),
				Lines:  []string{lineID},
			}
		}
	}

	mu := a.supplierLock(supplierID)
	mu.Lock()
	defer mu.Unlock()

	basket, err := a.poolingBasket(ctx, supplierID)
	if err != nil {
		return nil, err
	}
	for _, l := range basket.Lines {
		for _, rid := range source.RequestIDs {
			if l.References(rid) {
				return nil, &ValidationError{
					Reason: fmt.Sprintf("supplier %s is already consulted for request %s", supplierID, rid),
					Lines:  []string{l.ID},
				}
			}
		}
	}

	twin, err := a.repo.CreateLine(ctx, SupplierOrderLine{
		BasketID:        basket.ID,
		Quantity:        source.Quantity,
		StockItemID:     source.StockItemID,
		Manufacturer:    source.Manufacturer,
		ManufacturerRef: source.ManufacturerRef,
		RequestIDs:      append([]string(nil), source.RequestIDs...),
	})
	if err != nil {
		return nil, fmt.Errorf("add twin line to basket %s: %w", basket.ID, err)
	}
	a.logger.Info("parallel consultation opened",
		zap.String("source_line_id", lineID),
		zap.String("twin_line_id", twin.ID),
		zap.String("supplier_id", supplierID))
	return twin, nil
}

// mergeCandidate returns a selected line of the basket for the same stock item.
// Unselected lines are consultations and are never merged into.
func mergeCandidate(lines []SupplierOrderLine, pr PurchaseRequest) *SupplierOrderLine {
	if pr.StockItemID == nil {
		return nil
	}
	for i := range lines {
		l := &lines[i]
		if l.IsSelected && l.StockItemID != nil && *l.StockItemID == *pr.StockItemID {
			return l
		}
	}
	return nil
}

func lineReferencing(lines []SupplierOrderLine, requestID string) *SupplierOrderLine {
	for i := range lines {
		if lines[i].References(requestID) {
			return &lines[i]
		}
	}
	return nil
}

// selectedOutsidePool returns a selected line for requestID in any basket other than the
// supplier's POOLING basket, where a repeated dispatch is a no-op. A second selected line
// would fail twin exclusivity at finalization.
func selectedOutsidePool(requestID, supplierID string, allBaskets []SupplierOrder) *TwinLine {
	for _, t := range FindTwins(requestID, allBaskets) {
		if !t.Line.IsSelected {
			continue
		}
		if t.BasketStatus == BasketPooling && basketSupplier(allBaskets, t.BasketID) == supplierID {
			continue
		}
		return &t
	}
	return nil
}

func basketSupplier(allBaskets []SupplierOrder, basketID string) string {
	for _, b := range allBaskets {
		if b.ID == basketID {
			return b.SupplierID
		}
	}
	return ""
}
