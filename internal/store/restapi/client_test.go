package restapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"procurement-reconciler/internal/core"
	"procurement-reconciler/internal/store/restapi"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// upstream speaks camelCase, as the procurement API does.
func newUpstream(t *testing.T) (*httptest.Server, *map[string]any) {
	t.Helper()
	lastBody := map[string]any{}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /supplier-orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "b1" {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, `{"id":"b1","supplierId":"sup","status":"SENT","lines":[
			{"id":"l1","isSelected":true,"quantity":"2","purchaseRequests":[{"id":"pr-1"}]},
			{"id":"l2","isSelected":false,"quantity":1,"purchaseRequestIds":["pr-2"]}
		]}`)
	})
	mux.HandleFunc("GET /supplier-orders", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("status") == "POOLING" {
			io.WriteString(w, `{"data":[{"id":"b9","supplierId":"other","status":"POOLING"},
				{"id":"b7","supplierId":"sup","status":"POOLING","lines":[]}]}`)
			return
		}
		io.WriteString(w, `[{"id":"b1","supplier_id":"sup","status":"SENT","lines":[{"id":"l1","is_selected":true,"purchase_request_ids":["pr-1"]}]}]`)
	})
	mux.HandleFunc("PATCH /purchase-requests/{id}", func(w http.ResponseWriter, r *http.Request) {
		switch r.PathValue("id") {
		case "gone":
			http.NotFound(w, r)
			return
		case "boom":
			http.Error(w, "database down", http.StatusBadGateway)
			return
		}
		body, _ := io.ReadAll(r.Body)
		clear(lastBody)
		_ = json.Unmarshal(body, &lastBody)
		io.WriteString(w, `{"id":"`+r.PathValue("id")+`","quantity":1,"status":"`+lastBody["status"].(string)+`"}`)
	})
	mux.HandleFunc("PATCH /supplier-order-lines/{id}", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		clear(lastBody)
		_ = json.Unmarshal(body, &lastBody)
		io.WriteString(w, `{"id":"`+r.PathValue("id")+`","supplierOrderId":"b1","isSelected":true,"quoteReceived":true,"quotePrice":"12.5","quantity":"1"}`)
	})
	mux.HandleFunc("DELETE /supplier-order-lines/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "gone" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &lastBody
}

func TestClient_GetBasketNormalizes(t *testing.T) {
	srv, _ := newUpstream(t)
	c := restapi.New(srv.URL, time.Second)

	b, err := c.GetBasket(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, core.BasketSent, b.Status)
	require.Len(t, b.Lines, 2)
	assert.Equal(t, []string{"pr-1"}, b.Lines[0].RequestIDs)
	assert.Equal(t, []string{"pr-2"}, b.Lines[1].RequestIDs)
	assert.Equal(t, "b1", b.Lines[1].BasketID)

	_, err = c.GetBasket(context.Background(), "nope")
	assert.True(t, core.IsNotFound(err))
}

func TestClient_ListAndFindPooling(t *testing.T) {
	srv, _ := newUpstream(t)
	c := restapi.New(srv.URL, time.Second)
	ctx := context.Background()

	all, err := c.ListBaskets(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Lines[0].IsSelected)

	b, err := c.FindPoolingBasket(ctx, "sup")
	require.NoError(t, err)
	assert.Equal(t, "b7", b.ID)

	_, err = c.FindPoolingBasket(ctx, "nobody")
	assert.True(t, core.IsNotFound(err))
}

func TestClient_Writes(t *testing.T) {
	srv, last := newUpstream(t)
	c := restapi.New(srv.URL, time.Second)
	ctx := context.Background()

	pr, err := c.UpdatePurchaseRequest(ctx, "pr-1", core.RequestOrdered)
	require.NoError(t, err)
	assert.Equal(t, core.RequestOrdered, pr.Status)
	assert.Equal(t, "ordered", (*last)["status"])

	_, err = c.UpdatePurchaseRequest(ctx, "gone", core.RequestOrdered)
	assert.True(t, core.IsNotFound(err))

	_, err = c.UpdatePurchaseRequest(ctx, "boom", core.RequestOrdered)
	var ue *restapi.UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, http.StatusBadGateway, ue.Status)

	price := decimal.RequireFromString("12.50")
	received := true
	l, err := c.UpdateLine(ctx, "l1", core.LineFields{QuotePrice: &price, QuoteReceived: &received})
	require.NoError(t, err)
	assert.True(t, l.QuotePrice.Equal(price))
	assert.Equal(t, "12.5", (*last)["quote_price"])
	assert.Equal(t, true, (*last)["quote_received"])
	_, sentSelection := (*last)["is_selected"]
	assert.False(t, sentSelection, "only set fields are sent")

	require.NoError(t, c.DeleteLine(ctx, "l2"))
	assert.True(t, core.IsNotFound(c.DeleteLine(ctx, "gone")))
}
