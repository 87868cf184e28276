package web

import (
	"time"

	"procurement-reconciler/internal/core"
)

// JSON views of core types. Decimals are rendered as strings.

type basketView struct {
	ID         string     `json:"id"`
	SupplierID string     `json:"supplier_id"`
	Status     string     `json:"status"`
	SentAt     *time.Time `json:"sent_at,omitempty"`
	ReceivedAt *time.Time `json:"received_at,omitempty"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	Lines      []lineView `json:"lines"`
}

type lineView struct {
	ID              string   `json:"id"`
	BasketID        string   `json:"basket_id"`
	Quantity        string   `json:"quantity"`
	StockItemID     *string  `json:"stock_item_id,omitempty"`
	IsSelected      bool     `json:"is_selected"`
	QuoteReceived   bool     `json:"quote_received"`
	QuotePrice      *string  `json:"quote_price,omitempty"`
	LeadTimeDays    *int     `json:"lead_time_days,omitempty"`
	Manufacturer    string   `json:"manufacturer,omitempty"`
	ManufacturerRef string   `json:"manufacturer_ref,omitempty"`
	RequestIDs      []string `json:"purchase_request_ids"`
}

type purgeView struct {
	DeletedLines []string `json:"deleted_lines"`
	Redispatched []string `json:"redispatched"`
	Skipped      []string `json:"skipped"`
	Held         []string `json:"held"`
}

type transitionView struct {
	BasketID        string     `json:"basket_id"`
	From            string     `json:"from"`
	To              string     `json:"to"`
	Purge           *purgeView `json:"purge,omitempty"`
	UpdatedRequests []string   `json:"updated_requests"`
	Warnings        []string   `json:"warnings,omitempty"`
}

type twinView struct {
	BasketID     string   `json:"basket_id"`
	BasketStatus string   `json:"basket_status"`
	Line         lineView `json:"line"`
}

func toBasketView(b *core.SupplierOrder) basketView {
	v := basketView{
		ID:         b.ID,
		SupplierID: b.SupplierID,
		Status:     string(b.Status),
		SentAt:     b.SentAt,
		ReceivedAt: b.ReceivedAt,
		ClosedAt:   b.ClosedAt,
		CreatedAt:  b.CreatedAt,
		Lines:      make([]lineView, len(b.Lines)),
	}
	for i := range b.Lines {
		v.Lines[i] = toLineView(&b.Lines[i])
	}
	return v
}

func toLineView(l *core.SupplierOrderLine) lineView {
	v := lineView{
		ID:              l.ID,
		BasketID:        l.BasketID,
		Quantity:        l.Quantity.String(),
		StockItemID:     l.StockItemID,
		IsSelected:      l.IsSelected,
		QuoteReceived:   l.QuoteReceived,
		LeadTimeDays:    l.LeadTimeDays,
		Manufacturer:    l.Manufacturer,
		ManufacturerRef: l.ManufacturerRef,
		RequestIDs:      nonNil(l.RequestIDs),
	}
	if l.QuotePrice != nil {
		p := l.QuotePrice.String()
		v.QuotePrice = &p
	}
	return v
}

func toTransitionView(tr *core.TransitionResult) transitionView {
	v := transitionView{
		BasketID:        tr.BasketID,
		From:            string(tr.From),
		To:              string(tr.To),
		UpdatedRequests: nonNil(tr.UpdatedRequests),
		Warnings:        tr.Warnings,
	}
	if tr.Purge != nil {
		v.Purge = &purgeView{
			DeletedLines: nonNil(tr.Purge.DeletedLines),
			Redispatched: nonNil(tr.Purge.Redispatched),
			Skipped:      nonNil(tr.Purge.Skipped),
			Held:         nonNil(tr.Purge.Held),
		}
	}
	return v
}
