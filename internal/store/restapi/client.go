// Package restapi is a core.Repository backed by the procurement system's REST API.
// Responses are normalized with the core record parsers, so the upstream may use
// camelCase or snake_case field names.
package restapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"procurement-reconciler/internal/core"

	"github.com/go-resty/resty/v2"
)

// Client implements core.Repository against the procurement HTTP API.
type Client struct {
	http *resty.Client
}

// New returns a client for the API rooted at baseURL.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &Client{http: c}
}

var _ core.Repository = (*Client)(nil)

// UpstreamError is a non-2xx answer other than 404.
type UpstreamError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s %s: upstream status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// GetBasket fetches a basket, loading its lines separately when the record omits them.
func (c *Client) GetBasket(ctx context.Context, basketID string) (*core.SupplierOrder, error) {
	body, err := c.do(ctx, http.MethodGet, "/supplier-orders/{id}", basketID, nil, nil, "basket")
	if err != nil {
		return nil, err
	}
	b, err := core.ParseBasketRecord(body)
	if err != nil {
		return nil, err
	}
	// some deployments do not embed lines in the basket record
	if b.Lines == nil {
		if b.Lines, err = c.FetchLinesForBasket(ctx, basketID); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// ListBaskets fetches all supplier orders.
func (c *Client) ListBaskets(ctx context.Context) ([]core.SupplierOrder, error) {
	body, err := c.do(ctx, http.MethodGet, "/supplier-orders", "", map[string]string{"include": "lines"}, nil, "basket")
	if err != nil {
		return nil, err
	}
	return core.ParseBasketList(body)
}

// FetchLinesForBasket lists the lines of one supplier order.
func (c *Client) FetchLinesForBasket(ctx context.Context, basketID string) ([]core.SupplierOrderLine, error) {
	body, err := c.do(ctx, http.MethodGet, "/supplier-orders/{id}/lines", basketID, nil, nil, "basket")
	if err != nil {
		return nil, err
	}
	lines, err := core.ParseLineList(body)
	if err != nil {
		return nil, err
	}
	for i := range lines {
		if lines[i].BasketID == "" {
			lines[i].BasketID = basketID
		}
	}
	return lines, nil
}

// FindPoolingBasket queries the supplier's POOLING order.
func (c *Client) FindPoolingBasket(ctx context.Context, supplierID string) (*core.SupplierOrder, error) {
	body, err := c.do(ctx, http.MethodGet, "/supplier-orders", "", map[string]string{
		"supplier_id": supplierID,
		"status":      string(core.BasketPooling),
		"include":     "lines",
	}, nil, "basket")
	if err != nil {
		return nil, err
	}
	baskets, err := core.ParseBasketList(body)
	if err != nil {
		return nil, err
	}
	for i := range baskets {
		// filters are advisory on some upstreams
		if baskets[i].SupplierID == supplierID && baskets[i].Status == core.BasketPooling {
			return &baskets[i], nil
		}
	}
	return nil, &core.NotFoundError{Entity: "pooling basket for supplier", ID: supplierID}
}

// CreateBasket posts a new POOLING order for supplierID.
func (c *Client) CreateBasket(ctx context.Context, supplierID string) (*core.SupplierOrder, error) {
	body, err := c.do(ctx, http.MethodPost, "/supplier-orders", "", nil, map[string]any{
		"supplier_id": supplierID,
		"status":      core.BasketPooling,
	}, "basket")
	if err != nil {
		return nil, err
	}
	return core.ParseBasketRecord(body)
}

// UpdateBasket patches the non-nil fields.
func (c *Client) UpdateBasket(ctx context.Context, basketID string, fields core.BasketFields) (*core.SupplierOrder, error) {
	payload := map[string]any{}
	if fields.Status != nil {
		payload["status"] = *fields.Status
	}
	if fields.SentAt != nil {
		payload["sent_at"] = fields.SentAt.UTC().Format(time.RFC3339)
	}
	if fields.ReceivedAt != nil {
		payload["received_at"] = fields.ReceivedAt.UTC().Format(time.RFC3339)
	}
	if fields.ClosedAt != nil {
		payload["closed_at"] = fields.ClosedAt.UTC().Format(time.RFC3339)
	}
	body, err := c.do(ctx, http.MethodPatch, "/supplier-orders/{id}", basketID, nil, payload, "basket")
	if err != nil {
		return nil, err
	}
	return core.ParseBasketRecord(body)
}

// CreateLine posts a line to its basket.
func (c *Client) CreateLine(ctx context.Context, line core.SupplierOrderLine) (*core.SupplierOrderLine, error) {
	payload := map[string]any{
		"supplier_order_id":    line.BasketID,
		"quantity":             line.Quantity.String(),
		"is_selected":          line.IsSelected,
		"quote_received":       line.QuoteReceived,
		"manufacturer":         line.Manufacturer,
		"manufacturer_ref":     line.ManufacturerRef,
		"purchase_request_ids": nonNil(line.RequestIDs),
	}
	if line.StockItemID != nil {
		payload["stock_item_id"] = *line.StockItemID
	}
	if line.QuotePrice != nil {
		payload["quote_price"] = line.QuotePrice.String()
	}
	if line.LeadTimeDays != nil {
		payload["lead_time_days"] = *line.LeadTimeDays
	}
	body, err := c.do(ctx, http.MethodPost, "/supplier-order-lines", "", nil, payload, "basket")
	if err != nil {
		return nil, err
	}
	return core.ParseLineRecord(body)
}

// UpdateLine patches the non-nil fields of a line.
func (c *Client) UpdateLine(ctx context.Context, lineID string, fields core.LineFields) (*core.SupplierOrderLine, error) {
	payload := map[string]any{}
	if fields.Quantity != nil {
		payload["quantity"] = fields.Quantity.String()
	}
	if fields.IsSelected != nil {
		payload["is_selected"] = *fields.IsSelected
	}
	if fields.QuoteReceived != nil {
		payload["quote_received"] = *fields.QuoteReceived
	}
	if fields.QuotePrice != nil {
		payload["quote_price"] = fields.QuotePrice.String()
	}
	if fields.LeadTimeDays != nil {
		payload["lead_time_days"] = *fields.LeadTimeDays
	}
	if fields.RequestIDs != nil {
		payload["purchase_request_ids"] = fields.RequestIDs
	}
	body, err := c.do(ctx, http.MethodPatch, "/supplier-order-lines/{id}", lineID, nil, payload, "line")
	if err != nil {
		return nil, err
	}
	return core.ParseLineRecord(body)
}

// DeleteLine deletes a line.
func (c *Client) DeleteLine(ctx context.Context, lineID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/supplier-order-lines/{id}", lineID, nil, nil, "line")
	return err
}

// GetPurchaseRequest fetches one purchase request.
func (c *Client) GetPurchaseRequest(ctx context.Context, requestID string) (*core.PurchaseRequest, error) {
	body, err := c.do(ctx, http.MethodGet, "/purchase-requests/{id}", requestID, nil, nil, "purchase request")
	if err != nil {
		return nil, err
	}
	return core.ParsePurchaseRequestRecord(body)
}

// UpdatePurchaseRequest patches the status of a purchase request.
func (c *Client) UpdatePurchaseRequest(ctx context.Context, requestID string, status core.RequestStatus) (*core.PurchaseRequest, error) {
	body, err := c.do(ctx, http.MethodPatch, "/purchase-requests/{id}", requestID, nil,
		map[string]any{"status": status}, "purchase request")
	if err != nil {
		return nil, err
	}
	return core.ParsePurchaseRequestRecord(body)
}

// FetchOpenPurchaseRequests lists open requests. The status filter is re-applied client side.
func (c *Client) FetchOpenPurchaseRequests(ctx context.Context) ([]core.PurchaseRequest, error) {
	body, err := c.do(ctx, http.MethodGet, "/purchase-requests", "",
		map[string]string{"status": string(core.RequestOpen)}, nil, "purchase request")
	if err != nil {
		return nil, err
	}
	all, err := core.ParsePurchaseRequestList(body)
	if err != nil {
		return nil, err
	}
	open := all[:0]
	for _, pr := range all {
		if pr.Status == core.RequestOpen {
			open = append(open, pr)
		}
	}
	return open, nil
}

// do sends one request. A 404 becomes a NotFoundError for entity id.
func (c *Client) do(ctx context.Context, method, path, id string, query map[string]string, payload any, entity string) ([]byte, error) {
	req := c.http.R().SetContext(ctx)
	if id != "" {
		req.SetPathParam("id", id)
	}
	if len(query) > 0 {
		req.SetQueryParams(query)
	}
	if payload != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(payload)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, &core.NotFoundError{Entity: entity, ID: id}
	}
	if resp.IsError() {
		return nil, &UpstreamError{Method: method, Path: path, Status: resp.StatusCode(), Body: resp.String()}
	}
	return resp.Body(), nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
