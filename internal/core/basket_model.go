package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// BasketStatus is the lifecycle status of a supplier order (basket).
type BasketStatus string

const (
	BasketPooling   BasketStatus = "POOLING"
	BasketSent      BasketStatus = "SENT"
	BasketAck       BasketStatus = "ACK"
	BasketReceived  BasketStatus = "RECEIVED"
	BasketClosed    BasketStatus = "CLOSED"
	BasketCancelled BasketStatus = "CANCELLED"
)

// BasketStatuses lists every defined basket status in lifecycle order.
var BasketStatuses = []BasketStatus{
	BasketPooling, BasketSent, BasketAck, BasketReceived, BasketClosed, BasketCancelled,
}

// IsTerminal reports whether no transition leaves s.
func (s BasketStatus) IsTerminal() bool {
	return s == BasketClosed || s == BasketCancelled
}

// IsEditable reports whether lines of a basket in status s may be (de)selected or modified.
func (s BasketStatus) IsEditable() bool {
	return s == BasketPooling || s == BasketSent || s == BasketAck
}

// SupplierOrder is a basket: a consolidated purchase document addressed to one supplier.
type SupplierOrder struct {
	ID         string
	SupplierID string
	Status     BasketStatus
	SentAt     *time.Time
	ReceivedAt *time.Time
	ClosedAt   *time.Time
	CreatedAt  time.Time
	Lines      []SupplierOrderLine
}

// HasSelectedLine reports whether at least one line of the basket is selected.
func (b *SupplierOrder) HasSelectedLine() bool {
	for _, l := range b.Lines {
		if l.IsSelected {
			return true
		}
	}
	return false
}

// Line returns the line with the given id, or nil.
func (b *SupplierOrder) Line(lineID string) *SupplierOrderLine {
	for i := range b.Lines {
		if b.Lines[i].ID == lineID {
			return &b.Lines[i]
		}
	}
	return nil
}

// RequestIDs returns the distinct purchase request ids referenced by the basket's lines,
// in first-seen order.
func (b *SupplierOrder) RequestIDs() []string {
	return referencedRequests(b.Lines)
}

// SupplierOrderLine is one item quantity within a basket.
// RequestIDs are weak references: the same purchase request may be referenced by
// lines in several baskets while it is being consulted (twin lines).
type SupplierOrderLine struct {
	ID              string
	BasketID        string
	Quantity        decimal.Decimal
	StockItemID     *string
	IsSelected      bool
	QuoteReceived   bool
	QuotePrice      *decimal.Decimal
	LeadTimeDays    *int
	Manufacturer    string
	ManufacturerRef string
	RequestIDs      []string
}

// References reports whether the line links to the given purchase request.
func (l *SupplierOrderLine) References(requestID string) bool {
	for _, id := range l.RequestIDs {
		if id == requestID {
			return true
		}
	}
	return false
}

// LineFields is a partial update of a line. Nil fields are left untouched.
type LineFields struct {
	Quantity      *decimal.Decimal
	IsSelected    *bool
	QuoteReceived *bool
	QuotePrice    *decimal.Decimal
	LeadTimeDays  *int
	RequestIDs    []string
}

// BasketFields is a partial update of a basket. Nil fields are left untouched.
type BasketFields struct {
	Status     *BasketStatus
	SentAt     *time.Time
	ReceivedAt *time.Time
	ClosedAt   *time.Time
}

// Repository is the persistence collaborator consumed by the reconciliation core.
// The authoritative copy of baskets and requests lives behind it; the core re-reads
// line sets before acting on them.
type Repository interface {
	// GetBasket returns a basket with its lines.
	GetBasket(ctx context.Context, basketID string) (*SupplierOrder, error)

	// ListBaskets returns every basket with its lines. Used to find twin lines.
	ListBaskets(ctx context.Context) ([]SupplierOrder, error)

	// FetchLinesForBasket returns the current lines of a basket in a stable order.
	FetchLinesForBasket(ctx context.Context, basketID string) ([]SupplierOrderLine, error)

	// FindPoolingBasket returns the supplier's open (POOLING) basket, or a NotFoundError.
	FindPoolingBasket(ctx context.Context, supplierID string) (*SupplierOrder, error)

	// CreateBasket creates a new POOLING basket for the supplier.
	CreateBasket(ctx context.Context, supplierID string) (*SupplierOrder, error)

	// UpdateBasket applies fields to a basket and returns the updated basket.
	UpdateBasket(ctx context.Context, basketID string, fields BasketFields) (*SupplierOrder, error)

	// CreateLine adds a line to the basket identified by line.BasketID.
	CreateLine(ctx context.Context, line SupplierOrderLine) (*SupplierOrderLine, error)

	// UpdateLine applies fields to a line and returns the updated line.
	UpdateLine(ctx context.Context, lineID string, fields LineFields) (*SupplierOrderLine, error)

	// DeleteLine removes a line. Returns a NotFoundError if it is already gone.
	DeleteLine(ctx context.Context, lineID string) error

	// GetPurchaseRequest returns a purchase request by id.
	GetPurchaseRequest(ctx context.Context, requestID string) (*PurchaseRequest, error)

	// UpdatePurchaseRequest sets the status of a purchase request.
	UpdatePurchaseRequest(ctx context.Context, requestID string, status RequestStatus) (*PurchaseRequest, error)

	// FetchOpenPurchaseRequests returns every request with status open, oldest first.
	FetchOpenPurchaseRequests(ctx context.Context) ([]PurchaseRequest, error)
}

// RequestLocker serializes finalizations touching the same purchase requests.
// unlock must be called exactly once after a successful LockRequests.
type RequestLocker interface {
	LockRequests(ctx context.Context, requestIDs []string) (unlock func(), err error)
}

// Observer receives reconciliation outcomes for metrics.
type Observer interface {
	TransitionObserved(from, to BasketStatus, outcome string)
	BatchFailuresObserved(step string, failed int)
	DispatchObserved(outcome string, count int)
}

type nopObserver struct{}

func (nopObserver) TransitionObserved(BasketStatus, BasketStatus, string) {}
func (nopObserver) BatchFailuresObserved(string, int)                     {}
func (nopObserver) DispatchObserved(string, int)                          {}

func referencedRequests(lines []SupplierOrderLine) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, l := range lines {
		for _, id := range l.RequestIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}
