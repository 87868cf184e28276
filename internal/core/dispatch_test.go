package core_test

import (
	"context"
	"errors"
	"testing"

	"procurement-reconciler/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatch_PreferredSupplierOrQualification(t *testing.T) {
	ctx := context.Background()
	repo := newFaultyRepo()
	obs := newRecordingObserver()
	repo.PutPurchaseRequest(core.PurchaseRequest{ID: "pr-1", Status: core.RequestOpen, Quantity: decimal.NewFromInt(2), PreferredSupplierID: strPtr("sup-a")})
	repo.PutPurchaseRequest(core.PurchaseRequest{ID: "pr-2", Status: core.RequestOpen, Quantity: decimal.NewFromInt(1), PreferredSupplierID: strPtr("sup-b")})
	repo.PutPurchaseRequest(core.PurchaseRequest{ID: "pr-3", Status: core.RequestOpen, Quantity: decimal.NewFromInt(4)})

	res, err := core.NewDispatchAllocator(repo, obs, nil, 0).Dispatch(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, res.Dispatched, 2)
	require.Len(t, res.ToQualify, 1)
	assert.Equal(t, "pr-3", res.ToQualify[0].ID)
	assert.Empty(t, res.Errors)

	for _, d := range res.Dispatched {
		b, err := repo.GetBasket(ctx, d.BasketID)
		require.NoError(t, err)
		assert.Equal(t, core.BasketPooling, b.Status)
		assert.Equal(t, d.SupplierID, b.SupplierID)
		l := b.Line(d.LineID)
		require.NotNil(t, l)
		assert.True(t, l.IsSelected)
		assert.True(t, l.References(d.RequestID))
		assert.Equal(t, core.RequestInProgress, requestStatus(t, repo, d.RequestID))
	}
	assert.Equal(t, core.RequestOpen, requestStatus(t, repo, "pr-3"))
	assert.Equal(t, 2, obs.dispatch["dispatched"])
	assert.Equal(t, 1, obs.dispatch["to_qualify"])
}

func TestDispatch_ReusesPoolingBasketAndMerges(t *testing.T) {
	ctx := context.Background()
	repo := newFaultyRepo()
	item := strPtr("item-42")
	reqs := []core.PurchaseRequest{
		{ID: "pr-1", Status: core.RequestOpen, Quantity: decimal.NewFromInt(2), StockItemID: item, PreferredSupplierID: strPtr("sup")},
		{ID: "pr-2", Status: core.RequestOpen, Quantity: decimal.NewFromInt(3), StockItemID: item, PreferredSupplierID: strPtr("sup")},
		{ID: "pr-3", Status: core.RequestOpen, Quantity: decimal.NewFromInt(1), StockItemID: strPtr("item-7"), PreferredSupplierID: strPtr("sup")},
	}
	for _, pr := range reqs {
		repo.PutPurchaseRequest(pr)
	}

	alloc := core.NewDispatchAllocator(repo, nil, nil, 4)
	res, err := alloc.Dispatch(ctx, reqs)
	require.NoError(t, err)
	require.Len(t, res.Dispatched, 3)
	assert.False(t, res.Dispatched[0].Merged)
	assert.True(t, res.Dispatched[1].Merged)
	assert.Equal(t, res.Dispatched[0].LineID, res.Dispatched[1].LineID)

	baskets, err := repo.ListBaskets(ctx)
	require.NoError(t, err)
	require.Len(t, baskets, 1, "one pooling basket per supplier")
	require.Len(t, baskets[0].Lines, 2)
	merged := baskets[0].Line(res.Dispatched[0].LineID)
	assert.True(t, merged.Quantity.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, []string{"pr-1", "pr-2"}, merged.RequestIDs)

	// dispatching again is idempotent for requests already on a line
	res, err = alloc.Dispatch(ctx, reqs[:1])
	require.NoError(t, err)
	require.Len(t, res.Dispatched, 1)
	assert.Equal(t, merged.ID, res.Dispatched[0].LineID)
	again, _ := repo.GetBasket(ctx, baskets[0].ID)
	assert.True(t, again.Line(merged.ID).Quantity.Equal(decimal.NewFromInt(5)))
}

func TestDispatch_PerRequestErrors(t *testing.T) {
	ctx := context.Background()
	repo := newFaultyRepo()
	reqs := []core.PurchaseRequest{
		{ID: "pr-ordered", Status: core.RequestOrdered, Quantity: decimal.NewFromInt(1), PreferredSupplierID: strPtr("sup")},
		{ID: "pr-zero", Status: core.RequestOpen, Quantity: decimal.Zero, PreferredSupplierID: strPtr("sup")},
		{ID: "pr-ok", Status: core.RequestOpen, Quantity: decimal.NewFromInt(1), PreferredSupplierID: strPtr("sup")},
		{ID: "pr-fail", Status: core.RequestOpen, Quantity: decimal.NewFromInt(1), PreferredSupplierID: strPtr("sup")},
	}
	for _, pr := range reqs {
		repo.PutPurchaseRequest(pr)
	}
	repo.failRequest["pr-fail"] = true

	res, err := core.NewDispatchAllocator(repo, nil, nil, 0).Dispatch(ctx, reqs)
	require.NoError(t, err, "per-request failures never fail the batch")
	require.Len(t, res.Dispatched, 1)
	assert.Equal(t, "pr-ok", res.Dispatched[0].RequestID)

	got := map[string]error{}
	for _, e := range res.Errors {
		got[e.RequestID] = e.Err
	}
	require.Len(t, got, 3)
	var ve *core.ValidationError
	assert.True(t, errors.As(got["pr-ordered"], &ve))
	assert.True(t, errors.As(got["pr-zero"], &ve))
	assert.ErrorIs(t, got["pr-fail"], errUpstream)
}

func TestDispatch_RefusesRequestSelectedInAnotherBasket(t *testing.T) {
	ctx := context.Background()
	repo := newFaultyRepo()
	reqs := []core.PurchaseRequest{
		{ID: "pr-held", Status: core.RequestInProgress, Quantity: decimal.NewFromInt(1), PreferredSupplierID: strPtr("sup-a")},
		{ID: "pr-consulted", Status: core.RequestInProgress, Quantity: decimal.NewFromInt(1), PreferredSupplierID: strPtr("sup-a")},
		{ID: "pr-stale", Status: core.RequestInProgress, Quantity: decimal.NewFromInt(1), PreferredSupplierID: strPtr("sup-a")},
	}
	for _, pr := range reqs {
		repo.PutPurchaseRequest(pr)
	}
	repo.PutBasket(core.SupplierOrder{ID: "B", SupplierID: "sup-b", Status: core.BasketSent, Lines: []core.SupplierOrderLine{
		line("lb", true, "pr-held"),
		line("lc", false, "pr-consulted"),
	}})
	repo.PutBasket(core.SupplierOrder{ID: "X", SupplierID: "sup-x", Status: core.BasketCancelled, Lines: []core.SupplierOrderLine{
		line("lx", true, "pr-stale"),
	}})

	res, err := core.NewDispatchAllocator(repo, nil, nil, 0).Dispatch(ctx, reqs)
	require.NoError(t, err)

	require.Len(t, res.Errors, 1)
	assert.Equal(t, "pr-held", res.Errors[0].RequestID)
	var ve *core.ValidationError
	require.True(t, errors.As(res.Errors[0].Err, &ve))
	assert.Equal(t, []string{"lb"}, ve.Lines)

	dispatched := map[string]bool{}
	for _, d := range res.Dispatched {
		dispatched[d.RequestID] = true
	}
	assert.Equal(t, map[string]bool{"pr-consulted": true, "pr-stale": true}, dispatched,
		"unselected consultations and cancelled baskets do not block dispatch")

	twins := core.FindTwins("pr-held", mustList(t, repo))
	assert.Len(t, twins, 1, "no second line is created")
}

func mustList(t *testing.T, repo core.Repository) []core.SupplierOrder {
	t.Helper()
	all, err := repo.ListBaskets(context.Background())
	require.NoError(t, err)
	return all
}

func TestConsultSupplier(t *testing.T) {
	ctx := context.Background()
	repo := newFaultyRepo()
	seedRequest(t, repo, "pr-1", core.RequestInProgress)
	seedRequest(t, repo, "pr-done", core.RequestReceived)
	repo.PutBasket(core.SupplierOrder{ID: "A", SupplierID: "sup-a", Status: core.BasketPooling, Lines: []core.SupplierOrderLine{
		{ID: "la", IsSelected: true, Quantity: decimal.NewFromInt(3), StockItemID: strPtr("item-1"), Manufacturer: "Acme", RequestIDs: []string{"pr-1"}},
		line("l-done", true, "pr-done"),
	}})
	alloc := core.NewDispatchAllocator(repo, nil, nil, 0)

	twin, err := alloc.ConsultSupplier(ctx, "la", "sup-b")
	require.NoError(t, err)
	assert.False(t, twin.IsSelected)
	assert.Equal(t, []string{"pr-1"}, twin.RequestIDs)
	assert.Equal(t, "Acme", twin.Manufacturer)
	assert.True(t, twin.Quantity.Equal(decimal.NewFromInt(3)))

	baskets, err := repo.ListBaskets(ctx)
	require.NoError(t, err)
	assert.Len(t, core.FindTwins("pr-1", baskets), 2)

	var ve *core.ValidationError
	_, err = alloc.ConsultSupplier(ctx, "la", "sup-b")
	assert.True(t, errors.As(err, &ve), "same supplier twice")

	_, err = alloc.ConsultSupplier(ctx, "la", "sup-a")
	assert.True(t, errors.As(err, &ve), "own supplier")

	_, err = alloc.ConsultSupplier(ctx, "l-done", "sup-c")
	assert.True(t, errors.As(err, &ve), "request past in_progress")

	_, err = alloc.ConsultSupplier(ctx, "nope", "sup-c")
	assert.True(t, core.IsNotFound(err))
}
