package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// Records arriving from upstream systems spell the same field in camelCase or
// snake_case, and sometimes nest references as objects. They are parsed here into the
// canonical structs; nothing past this file looks at field-name variants.

// ParseBasketRecord parses a basket record, including its lines when embedded.
func ParseBasketRecord(data []byte) (*SupplierOrder, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("basket record is not valid JSON")
	}
	return basketFromResult(gjson.ParseBytes(data))
}

// ParseBasketList parses a JSON array of basket records.
func ParseBasketList(data []byte) ([]SupplierOrder, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("basket list is not valid JSON")
	}
	var out []SupplierOrder
	for _, r := range listItems(gjson.ParseBytes(data)) {
		b, err := basketFromResult(r)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, nil
}

// ParseLineRecord parses a supplier order line record.
func ParseLineRecord(data []byte) (*SupplierOrderLine, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("line record is not valid JSON")
	}
	return lineFromResult(gjson.ParseBytes(data), "")
}

// ParseLineList parses a JSON array of line records.
func ParseLineList(data []byte) ([]SupplierOrderLine, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("line list is not valid JSON")
	}
	var out []SupplierOrderLine
	for _, r := range listItems(gjson.ParseBytes(data)) {
		l, err := lineFromResult(r, "")
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, nil
}

// ParsePurchaseRequestRecord parses a purchase request record.
func ParsePurchaseRequestRecord(data []byte) (*PurchaseRequest, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("purchase request record is not valid JSON")
	}
	return requestFromResult(gjson.ParseBytes(data))
}

// ParsePurchaseRequestList parses a JSON array of purchase request records.
func ParsePurchaseRequestList(data []byte) ([]PurchaseRequest, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("purchase request list is not valid JSON")
	}
	var out []PurchaseRequest
	for _, r := range listItems(gjson.ParseBytes(data)) {
		pr, err := requestFromResult(r)
		if err != nil {
			return nil, err
		}
		out = append(out, *pr)
	}
	return out, nil
}

func basketFromResult(r gjson.Result) (*SupplierOrder, error) {
	id := field(r, "id", "_id").String()
	if id == "" {
		return nil, fmt.Errorf("basket record has no id")
	}
	b := &SupplierOrder{
		ID:         id,
		SupplierID: field(r, "supplierId", "supplier_id", "supplier.id").String(),
		Status:     BasketStatus(strings.ToUpper(strings.TrimSpace(field(r, "status").String()))),
	}
	var err error
	if b.SentAt, err = optionalTime(field(r, "sentAt", "sent_at", "dateSent", "date_sent")); err != nil {
		return nil, fmt.Errorf("basket %s: sent_at: %w", id, err)
	}
	if b.ReceivedAt, err = optionalTime(field(r, "receivedAt", "received_at", "dateReceived", "date_received")); err != nil {
		return nil, fmt.Errorf("basket %s: received_at: %w", id, err)
	}
	if b.ClosedAt, err = optionalTime(field(r, "closedAt", "closed_at")); err != nil {
		return nil, fmt.Errorf("basket %s: closed_at: %w", id, err)
	}
	created, err := optionalTime(field(r, "createdAt", "created_at"))
	if err != nil {
		return nil, fmt.Errorf("basket %s: created_at: %w", id, err)
	}
	if created != nil {
		b.CreatedAt = *created
	}

	for _, lr := range field(r, "lines", "supplierOrderLines", "supplier_order_lines").Array() {
		l, err := lineFromResult(lr, id)
		if err != nil {
			return nil, err
		}
		b.Lines = append(b.Lines, *l)
	}
	return b, nil
}

func lineFromResult(r gjson.Result, basketID string) (*SupplierOrderLine, error) {
	id := field(r, "id", "_id").String()
	if id == "" {
		return nil, fmt.Errorf("line record has no id")
	}
	l := &SupplierOrderLine{
		ID:              id,
		BasketID:        field(r, "basketId", "basket_id", "supplierOrderId", "supplier_order_id", "supplierOrder.id").String(),
		StockItemID:     optionalString(field(r, "stockItemId", "stock_item_id", "stockItem.id", "stock_item.id")),
		IsSelected:      field(r, "isSelected", "is_selected", "selected").Bool(),
		QuoteReceived:   field(r, "quoteReceived", "quote_received").Bool(),
		Manufacturer:    field(r, "manufacturer", "manufacturerName", "manufacturer_name").String(),
		ManufacturerRef: field(r, "manufacturerRef", "manufacturer_ref", "manufacturerReference", "manufacturer_reference").String(),
		RequestIDs:      requestRefs(r),
	}
	if l.BasketID == "" {
		l.BasketID = basketID
	}

	qty, err := decimalField(field(r, "quantity", "qty"))
	if err != nil {
		return nil, fmt.Errorf("line %s: quantity: %w", id, err)
	}
	l.Quantity = qty

	if p := field(r, "quotePrice", "quote_price"); p.Exists() && p.Type != gjson.Null && p.String() != "" {
		price, err := decimalField(p)
		if err != nil {
			return nil, fmt.Errorf("line %s: quote_price: %w", id, err)
		}
		l.QuotePrice = &price
	}
	if lt := field(r, "leadTimeDays", "lead_time_days", "leadTime", "lead_time"); lt.Exists() && lt.Type != gjson.Null {
		days := int(lt.Int())
		l.LeadTimeDays = &days
	}
	return l, nil
}

func requestFromResult(r gjson.Result) (*PurchaseRequest, error) {
	id := field(r, "id", "_id").String()
	if id == "" {
		return nil, fmt.Errorf("purchase request record has no id")
	}
	pr := &PurchaseRequest{
		ID:                  id,
		StockItemID:         optionalString(field(r, "stockItemId", "stock_item_id", "stockItem.id", "stock_item.id")),
		Status:              RequestStatus(strings.ToLower(strings.TrimSpace(field(r, "status").String()))),
		PreferredSupplierID: optionalString(field(r, "preferredSupplierId", "preferred_supplier_id", "preferredSupplier.id", "preferred_supplier.id")),
	}
	qty, err := decimalField(field(r, "quantity", "qty"))
	if err != nil {
		return nil, fmt.Errorf("purchase request %s: quantity: %w", id, err)
	}
	pr.Quantity = qty

	created, err := optionalTime(field(r, "createdAt", "created_at"))
	if err != nil {
		return nil, fmt.Errorf("purchase request %s: created_at: %w", id, err)
	}
	if created != nil {
		pr.CreatedAt = *created
	}
	return pr, nil
}

// requestRefs reads the weak purchase request references of a line, which upstream
// sends as an id list, a list of objects or a single id.
func requestRefs(r gjson.Result) []string {
	var ids []string
	add := func(v gjson.Result) {
		var id string
		if v.IsObject() {
			id = field(v, "id", "_id").String()
		} else {
			id = v.String()
		}
		if id == "" {
			return
		}
		for _, existing := range ids {
			if existing == id {
				return
			}
		}
		ids = append(ids, id)
	}

	list := field(r, "purchaseRequestIds", "purchase_request_ids", "purchaseRequests", "purchase_requests", "requestIds", "request_ids")
	for _, v := range list.Array() {
		add(v)
	}
	if single := field(r, "purchaseRequestId", "purchase_request_id", "purchaseRequest", "purchase_request"); single.Exists() && single.Type != gjson.Null {
		add(single)
	}
	return ids
}

// field returns the first of paths present in r.
func field(r gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

func listItems(r gjson.Result) []gjson.Result {
	if r.IsArray() {
		return r.Array()
	}
	// envelopes such as {"data": [...]} or {"results": [...]}
	return field(r, "data", "results", "items").Array()
}

func optionalString(r gjson.Result) *string {
	if !r.Exists() || r.Type == gjson.Null {
		return nil
	}
	s := r.String()
	if s == "" {
		return nil
	}
	return &s
}

func optionalTime(r gjson.Result) (*time.Time, error) {
	if !r.Exists() || r.Type == gjson.Null || r.String() == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, r.String())
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func decimalField(r gjson.Result) (decimal.Decimal, error) {
	if !r.Exists() || r.Type == gjson.Null || r.String() == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(r.String())
}
