package app

import (
	"procurement-reconciler/internal/core"

	"github.com/shopspring/decimal"
)

// BasketFilter narrows ListBaskets. Empty fields match everything.
type BasketFilter struct {
	Status     core.BasketStatus
	SupplierID string
}

// ChangeStatusRequest is the input for a basket transition.
type ChangeStatusRequest struct {
	BasketID string
	Target   core.BasketStatus
}

// ToggleSelectionRequest is the input for selecting or deselecting a line.
type ToggleSelectionRequest struct {
	BasketID string
	LineID   string
	Selected bool
}

// RecordQuoteRequest is the input for recording a supplier quote.
type RecordQuoteRequest struct {
	BasketID     string
	LineID       string
	Price        decimal.Decimal
	LeadTimeDays *int
}

// DispatchRequest limits a dispatch run to the given requests.
// An empty list dispatches every open request.
type DispatchRequest struct {
	RequestIDs []string
}

// ConsultSupplierRequest is the input for opening a parallel consultation.
type ConsultSupplierRequest struct {
	LineID     string
	SupplierID string
}
