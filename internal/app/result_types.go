package app

import "procurement-reconciler/internal/core"

// BasketResult is returned by GetBasket.
type BasketResult struct {
	Basket *core.SupplierOrder
}

// BasketListResult is returned by ListBaskets.
type BasketListResult struct {
	Baskets []core.SupplierOrder
}

// TransitionResult is returned by ChangeBasketStatus. Transition is set even when the
// unit of work stopped part way, so callers can report what was written.
type TransitionResult struct {
	Transition *core.TransitionResult
	Basket     *core.SupplierOrder
}

// SelectionResult is returned by ToggleLineSelection.
type SelectionResult struct {
	Selection *core.SelectionResult
}

// LineResult is returned by operations that produce a single line.
type LineResult struct {
	Line *core.SupplierOrderLine
}

// ReEvaluationResult is returned by ReEvaluateBasket.
type ReEvaluationResult struct {
	BasketID        string
	RequestsUpdated int
}

// TwinsResult is returned by FindTwins.
type TwinsResult struct {
	RequestID string
	Twins     []core.TwinLine
}
