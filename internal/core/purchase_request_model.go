package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// RequestStatus is the lifecycle status of a purchase request.
type RequestStatus string

const (
	RequestOpen       RequestStatus = "open"
	RequestInProgress RequestStatus = "in_progress"
	RequestOrdered    RequestStatus = "ordered"
	RequestReceived   RequestStatus = "received"
	RequestCancelled  RequestStatus = "cancelled"
)

// Valid reports whether s is one of the defined request statuses.
func (s RequestStatus) Valid() bool {
	switch s {
	case RequestOpen, RequestInProgress, RequestOrdered, RequestReceived, RequestCancelled:
		return true
	}
	return false
}

// PurchaseRequest is an originating demand for a stock item.
// Requests are created by intake; the core only moves their status.
type PurchaseRequest struct {
	ID                  string
	Quantity            decimal.Decimal
	StockItemID         *string
	Status              RequestStatus
	PreferredSupplierID *string // resolved upstream; nil sends the request to qualification
	CreatedAt           time.Time
}
