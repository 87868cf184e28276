package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// allowedTransitions is the basket lifecycle. CLOSED and CANCELLED are terminal.
var allowedTransitions = map[BasketStatus][]BasketStatus{
	BasketPooling:  {BasketSent, BasketCancelled},
	BasketSent:     {BasketAck, BasketReceived, BasketCancelled},
	BasketAck:      {BasketReceived, BasketCancelled},
	BasketReceived: {BasketClosed, BasketCancelled},
}

// CanTransition reports whether a basket may move from one status to another.
func CanTransition(from, to BasketStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionResult describes a completed (or partially completed) basket transition.
type TransitionResult struct {
	BasketID        string
	From            BasketStatus
	To              BasketStatus
	Purge           *PurgeResult
	UpdatedRequests []string
	Warnings        []string
}

// SelectionResult describes a completed selection toggle.
type SelectionResult struct {
	Line    *SupplierOrderLine
	Changed bool
	Flagged bool
	Reason  string
}

// FinalizationPreview is the dry-run of the RECEIVED guard.
type FinalizationPreview struct {
	BasketID        string
	HasSelectedLine bool
	Report          FinalizationReport
}

// Ready reports whether the basket would pass the RECEIVED guard right now.
func (p *FinalizationPreview) Ready() bool { return p.HasSelectedLine && p.Report.OK() }

// BasketSyncService drives the basket state machine and reconciles basket state onto
// every linked purchase request.
type BasketSyncService interface {
	// ChangeBasketStatus moves a basket to target. Moving to RECEIVED is guarded (at least
	// one selected line, no conflicting twins) and purges unselected lines before the
	// mapped status is applied to the remaining requests and the basket is persisted.
	ChangeBasketStatus(ctx context.Context, basketID string, target BasketStatus) (*TransitionResult, error)

	// ToggleLineSelection sets isSelected on a line after consulting the selection rules.
	// Setting the value the line already has is a no-op.
	ToggleLineSelection(ctx context.Context, basketID, lineID string, desired bool) (*SelectionResult, error)

	// ReEvaluate reapplies the mapped status of the basket to every linked purchase request
	// without changing the basket. Returns the number of requests written.
	ReEvaluate(ctx context.Context, basketID string) (int, error)

	// PreviewFinalization evaluates the RECEIVED guard without writing anything.
	PreviewFinalization(ctx context.Context, basketID string) (*FinalizationPreview, error)

	// RecordQuote stores a supplier quote on a line and marks the quote as received.
	RecordQuote(ctx context.Context, basketID, lineID string, price decimal.Decimal, leadTimeDays *int) (*SupplierOrderLine, error)
}

// SyncConfig carries the synchronizer's collaborators. Only Mapping is required.
type SyncConfig struct {
	Mapping          StatusMapping
	Locker           RequestLocker
	Observer         Observer
	Logger           *zap.Logger
	BatchConcurrency int
	Now              func() time.Time
}

type basketSyncService struct {
	repo     Repository
	mapping  StatusMapping
	purge    *PurgeProcessor
	locker   RequestLocker
	observer Observer
	logger   *zap.Logger
	limit    int
	now      func() time.Time
}

// NewBasketSyncService constructs a BasketSyncService over repo.
func NewBasketSyncService(repo Repository, cfg SyncConfig) BasketSyncService {
	s := &basketSyncService{
		repo:     repo,
		mapping:  cfg.Mapping,
		locker:   cfg.Locker,
		observer: cfg.Observer,
		logger:   cfg.Logger,
		limit:    cfg.BatchConcurrency,
		now:      cfg.Now,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.locker == nil {
		s.locker = noLocker{}
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.limit <= 0 {
		s.limit = DefaultBatchConcurrency
	}
	s.purge = NewPurgeProcessor(repo, s.limit, s.logger)
	return s
}

// ChangeBasketStatus moves a basket to target.
func (s *basketSyncService) ChangeBasketStatus(ctx context.Context, basketID string, target BasketStatus) (*TransitionResult, error) {
	mapped, err := s.mapping.Map(target)
	if err != nil {
		return nil, err
	}

	basket, err := s.repo.GetBasket(ctx, basketID)
	if err != nil {
		return nil, fmt.Errorf("load basket %s: %w", basketID, err)
	}

	if !CanTransition(basket.Status, target) {
		s.observer.TransitionObserved(basket.Status, target, "rejected")
		return nil, &TransitionError{BasketID: basketID, From: basket.Status, To: target}
	}

	var result *TransitionResult
	if target == BasketReceived {
		result, err = s.finalize(ctx, basket, mapped)
	} else {
		result, err = s.advance(ctx, basket, target, mapped)
	}
	s.observer.TransitionObserved(basket.Status, target, outcomeOf(err))
	if err != nil {
		var partial *PartialBatchError
		if errors.As(err, &partial) {
			s.observer.BatchFailuresObserved(partial.Step, len(partial.Failed))
			s.logger.Warn("basket transition stopped mid-sequence; re-evaluate to repair",
				zap.String("basket_id", basketID),
				zap.String("target", string(target)),
				zap.String("step", partial.Step),
				zap.Int("failed", len(partial.Failed)),
				zap.Error(err))
		}
		return result, err
	}

	s.logger.Info("basket status changed",
		zap.String("basket_id", basketID),
		zap.String("from", string(basket.Status)),
		zap.String("to", string(target)),
		zap.Int("requests_updated", len(result.UpdatedRequests)))
	return result, nil
}

// finalize runs the RECEIVED unit of work: guard, purge, map, persist.
func (s *basketSyncService) finalize(ctx context.Context, basket *SupplierOrder, mapped RequestStatus) (*TransitionResult, error) {
	lines, err := s.repo.FetchLinesForBasket(ctx, basket.ID)
	if err != nil {
		return nil, fmt.Errorf("fetch lines for basket %s: %w", basket.ID, err)
	}

	requestIDs := referencedRequests(lines)
	unlock, err := s.locker.LockRequests(ctx, requestIDs)
	if err != nil {
		return nil, &LockError{RequestIDs: requestIDs, Err: err}
	}
	defer unlock()

	// Re-read under the lock: another finalization may have completed meanwhile.
	lines, err = s.repo.FetchLinesForBasket(ctx, basket.ID)
	if err != nil {
		return nil, fmt.Errorf("fetch lines for basket %s: %w", basket.ID, err)
	}
	basket.Lines = lines

	if !basket.HasSelectedLine() {
		return nil, &ValidationError{Reason: fmt.Sprintf("basket %s has no selected line", basket.ID)}
	}

	all, err := s.repo.ListBaskets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list baskets: %w", err)
	}
	report := ValidateForFinalization(*basket, all)
	if !report.OK() {
		return nil, &ValidationError{
			Reason: conflictReason(report),
			Lines:  report.ConflictingLines(),
		}
	}

	result := &TransitionResult{
		BasketID: basket.ID,
		From:     basket.Status,
		To:       BasketReceived,
		Warnings: report.Messages(),
	}
	for _, w := range result.Warnings {
		s.logger.Warn("abandoning parallel consultation", zap.String("basket_id", basket.ID), zap.String("detail", w))
	}

	purged, err := s.purge.Purge(ctx, basket.ID, lines, all)
	result.Purge = purged
	if err != nil {
		return result, err
	}

	remaining, err := s.repo.FetchLinesForBasket(ctx, basket.ID)
	if err != nil {
		return result, &PartialBatchError{Step: "map", Failed: []BatchFailure{{ID: basket.ID, Err: err}}}
	}
	var selected []SupplierOrderLine
	for _, l := range remaining {
		if l.IsSelected {
			selected = append(selected, l)
		}
	}

	updated, err := s.applyMapping(ctx, referencedRequests(selected), mapped)
	result.UpdatedRequests = updated
	if err != nil {
		return result, err
	}

	now := s.now()
	status := BasketReceived
	if _, err := s.repo.UpdateBasket(ctx, basket.ID, BasketFields{Status: &status, ReceivedAt: &now}); err != nil {
		return result, &PartialBatchError{Step: "persist", Failed: []BatchFailure{{ID: basket.ID, Err: err}}}
	}
	return result, nil
}

// advance applies any non-RECEIVED transition: map, then persist.
func (s *basketSyncService) advance(ctx context.Context, basket *SupplierOrder, target BasketStatus, mapped RequestStatus) (*TransitionResult, error) {
	lines, err := s.repo.FetchLinesForBasket(ctx, basket.ID)
	if err != nil {
		return nil, fmt.Errorf("fetch lines for basket %s: %w", basket.ID, err)
	}

	result := &TransitionResult{BasketID: basket.ID, From: basket.Status, To: target}
	updated, err := s.applyMapping(ctx, referencedRequests(lines), mapped)
	result.UpdatedRequests = updated
	if err != nil {
		return result, err
	}

	now := s.now()
	fields := BasketFields{Status: &target}
	switch target {
	case BasketSent:
		fields.SentAt = &now
	case BasketClosed:
		fields.ClosedAt = &now
	}
	if _, err := s.repo.UpdateBasket(ctx, basket.ID, fields); err != nil {
		return result, &PartialBatchError{Step: "persist", Failed: []BatchFailure{{ID: basket.ID, Err: err}}}
	}
	return result, nil
}

// applyMapping writes status to every request concurrently. A request that vanished
// counts as resolved.
func (s *basketSyncService) applyMapping(ctx context.Context, requestIDs []string, status RequestStatus) ([]string, error) {
	succeeded, failed := runBatch(ctx, s.limit, requestIDs, func(ctx context.Context, id string) error {
		_, err := s.repo.UpdatePurchaseRequest(ctx, id, status)
		if IsNotFound(err) {
			return nil
		}
		return err
	})
	if len(failed) > 0 {
		return succeeded, &PartialBatchError{Step: "map", Succeeded: succeeded, Failed: failed}
	}
	return succeeded, nil
}

// ToggleLineSelection sets isSelected on a line.
func (s *basketSyncService) ToggleLineSelection(ctx context.Context, basketID, lineID string, desired bool) (*SelectionResult, error) {
	basket, err := s.repo.GetBasket(ctx, basketID)
	if err != nil {
		return nil, &SelectionError{BasketID: basketID, LineID: lineID, Err: err}
	}
	line := basket.Line(lineID)
	if line == nil {
		return nil, &SelectionError{BasketID: basketID, LineID: lineID, Err: &NotFoundError{Entity: "line", ID: lineID}}
	}
	// a locked basket refuses even a no-op toggle
	if d := CanModify(*basket, *line); !d.Allowed {
		return nil, &SelectionError{BasketID: basketID, LineID: lineID, Err: d.Err}
	}
	if line.IsSelected == desired {
		return &SelectionResult{Line: line, Reason: "line already in requested state"}, nil
	}

	all, err := s.repo.ListBaskets(ctx)
	if err != nil {
		return nil, &SelectionError{BasketID: basketID, LineID: lineID, Err: fmt.Errorf("list baskets: %w", err)}
	}

	var decision Decision
	if desired {
		decision = CanSelect(*basket, *line, all)
	} else {
		decision = CanDeselect(*basket, *line, all)
	}
	if !decision.Allowed {
		return nil, &SelectionError{BasketID: basketID, LineID: lineID, Err: decision.Err}
	}

	updated, err := s.repo.UpdateLine(ctx, lineID, LineFields{IsSelected: &desired})
	if err != nil {
		return nil, &SelectionError{BasketID: basketID, LineID: lineID, Err: err}
	}
	if decision.Flagged {
		s.logger.Warn("selected twin while a sibling is selected",
			zap.String("basket_id", basketID), zap.String("line_id", lineID), zap.String("reason", decision.Reason))
	}
	return &SelectionResult{Line: updated, Changed: true, Flagged: decision.Flagged, Reason: decision.Reason}, nil
}

// ReEvaluate reapplies the basket's mapped status to its linked requests.
func (s *basketSyncService) ReEvaluate(ctx context.Context, basketID string) (int, error) {
	basket, err := s.repo.GetBasket(ctx, basketID)
	if err != nil {
		return 0, &ReEvaluationError{BasketID: basketID, Err: err}
	}
	mapped, err := s.mapping.Map(basket.Status)
	if err != nil {
		return 0, &ReEvaluationError{BasketID: basketID, Err: err}
	}
	lines, err := s.repo.FetchLinesForBasket(ctx, basketID)
	if err != nil {
		return 0, &ReEvaluationError{BasketID: basketID, Err: err}
	}

	updated, err := s.applyMapping(ctx, referencedRequests(lines), mapped)
	if err != nil {
		var partial *PartialBatchError
		if errors.As(err, &partial) {
			s.observer.BatchFailuresObserved("reevaluate", len(partial.Failed))
		}
		return len(updated), &ReEvaluationError{BasketID: basketID, Updated: len(updated), Err: err}
	}
	s.logger.Info("basket re-evaluated",
		zap.String("basket_id", basketID),
		zap.String("request_status", string(mapped)),
		zap.Int("requests_updated", len(updated)))
	return len(updated), nil
}

// PreviewFinalization evaluates the RECEIVED guard without writing anything.
func (s *basketSyncService) PreviewFinalization(ctx context.Context, basketID string) (*FinalizationPreview, error) {
	basket, err := s.repo.GetBasket(ctx, basketID)
	if err != nil {
		return nil, fmt.Errorf("load basket %s: %w", basketID, err)
	}
	lines, err := s.repo.FetchLinesForBasket(ctx, basketID)
	if err != nil {
		return nil, fmt.Errorf("fetch lines for basket %s: %w", basketID, err)
	}
	basket.Lines = lines

	all, err := s.repo.ListBaskets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list baskets: %w", err)
	}
	return &FinalizationPreview{
		BasketID:        basketID,
		HasSelectedLine: basket.HasSelectedLine(),
		Report:          ValidateForFinalization(*basket, all),
	}, nil
}

// RecordQuote stores a supplier quote on a line.
func (s *basketSyncService) RecordQuote(ctx context.Context, basketID, lineID string, price decimal.Decimal, leadTimeDays *int) (*SupplierOrderLine, error) {
	if price.IsNegative() {
		return nil, &ValidationError{Reason: "quote price must not be negative", Lines: []string{lineID}}
	}
	if leadTimeDays != nil && *leadTimeDays < 0 {
		return nil, &ValidationError{Reason: "lead time must not be negative", Lines: []string{lineID}}
	}

	basket, err := s.repo.GetBasket(ctx, basketID)
	if err != nil {
		return nil, fmt.Errorf("load basket %s: %w", basketID, err)
	}
	line := basket.Line(lineID)
	if line == nil {
		return nil, &NotFoundError{Entity: "line", ID: lineID}
	}
	if d := CanModify(*basket, *line); !d.Allowed {
		return nil, d.Err
	}

	received := true
	return s.repo.UpdateLine(ctx, lineID, LineFields{
		QuotePrice:    &price,
		LeadTimeDays:  leadTimeDays,
		QuoteReceived: &received,
	})
}

func conflictReason(report FinalizationReport) string {
	if len(report.Errors) == 1 {
		return fmt.Sprintf("request %s has several selected twins", report.Errors[0].RequestID)
	}
	return fmt.Sprintf("%d requests have several selected twins", len(report.Errors))
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	var (
		ve *ValidationError
		pe *PartialBatchError
		le *LockError
	)
	switch {
	case errors.As(err, &ve):
		return "invalid"
	case errors.As(err, &pe):
		return "partial"
	case errors.As(err, &le):
		return "locked"
	}
	return "error"
}

type noLocker struct{}

func (noLocker) LockRequests(context.Context, []string) (func(), error) { return func() {}, nil }
