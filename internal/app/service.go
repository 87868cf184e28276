package app

import (
	"context"

	"procurement-reconciler/internal/core"
)

// ApplicationService is the single interface all adapters (CLI, Web) call.
// It decouples presentation from the reconciliation core. Implementations must contain
// no display logic of any kind.
type ApplicationService interface {
	// GetBasket returns a basket with its current lines.
	GetBasket(ctx context.Context, basketID string) (*BasketResult, error)

	// ListBaskets returns baskets, optionally filtered by status and supplier.
	ListBaskets(ctx context.Context, filter BasketFilter) (*BasketListResult, error)

	// ChangeBasketStatus moves a basket through its lifecycle and reconciles the linked
	// purchase requests. Moving to RECEIVED purges unselected lines first.
	ChangeBasketStatus(ctx context.Context, req ChangeStatusRequest) (*TransitionResult, error)

	// ToggleLineSelection selects or deselects a line, subject to the twin rules.
	ToggleLineSelection(ctx context.Context, req ToggleSelectionRequest) (*SelectionResult, error)

	// RecordQuote stores a supplier quote on a line of an editable basket.
	RecordQuote(ctx context.Context, req RecordQuoteRequest) (*LineResult, error)

	// ReEvaluateBasket reapplies the basket's mapped status to every linked request.
	// It is the repair action after a partially failed transition.
	ReEvaluateBasket(ctx context.Context, basketID string) (*ReEvaluationResult, error)

	// PreviewFinalization reports whether the basket could move to RECEIVED now.
	PreviewFinalization(ctx context.Context, basketID string) (*core.FinalizationPreview, error)

	// Dispatch places open purchase requests into their preferred suppliers' baskets.
	Dispatch(ctx context.Context, req DispatchRequest) (*core.DispatchResult, error)

	// ConsultSupplier opens a parallel consultation for a line with another supplier.
	ConsultSupplier(ctx context.Context, req ConsultSupplierRequest) (*LineResult, error)

	// FindTwins lists every line, across non-cancelled baskets, that references a request.
	FindTwins(ctx context.Context, requestID string) (*TwinsResult, error)
}
