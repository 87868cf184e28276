package cli_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"procurement-reconciler/internal/adapters/cli"
	"procurement-reconciler/internal/app"
	"procurement-reconciler/internal/core"
	"procurement-reconciler/internal/store/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService() (app.ApplicationService, *memory.Store) {
	store := memory.New()
	sync := core.NewBasketSyncService(store, core.SyncConfig{Mapping: core.DefaultStatusMapping()})
	return app.NewAppService(store, sync, core.NewDispatchAllocator(store, nil, nil, 0)), store
}

func run(t *testing.T, svc app.ApplicationService, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := cli.Run(context.Background(), svc, args, &out)
	return out.String(), err
}

func TestRun_Usage(t *testing.T) {
	svc, _ := newService()

	_, err := run(t, svc)
	assert.True(t, errors.Is(err, cli.ErrUsage))

	_, err = run(t, svc, "frobnicate")
	assert.True(t, errors.Is(err, cli.ErrUsage))

	_, err = run(t, svc, "status", "b1")
	assert.True(t, errors.Is(err, cli.ErrUsage))
}

func TestRun_Workflow(t *testing.T) {
	svc, store := newService()
	sup := "sup-a"
	store.PutPurchaseRequest(core.PurchaseRequest{ID: "pr-1", Quantity: decimal.NewFromInt(1), Status: core.RequestOpen, PreferredSupplierID: &sup})
	store.PutPurchaseRequest(core.PurchaseRequest{ID: "pr-2", Quantity: decimal.NewFromInt(1), Status: core.RequestOpen})

	out, err := run(t, svc, "dispatch")
	require.NoError(t, err)
	assert.Contains(t, out, "Dispatched 1, to qualify 1, failed 0.")
	assert.Contains(t, out, "pr-2 has no preferred supplier")

	baskets, err := store.ListBaskets(context.Background())
	require.NoError(t, err)
	require.Len(t, baskets, 1)
	basketID := baskets[0].ID
	lineID := baskets[0].Lines[0].ID

	out, err = run(t, svc, "show", basketID)
	require.NoError(t, err)
	assert.Contains(t, out, "POOLING")
	assert.Contains(t, out, lineID)

	out, err = run(t, svc, "status", basketID, "sent")
	require.NoError(t, err)
	assert.Contains(t, out, "POOLING -> SENT")

	out, err = run(t, svc, "select", basketID, lineID)
	require.NoError(t, err)
	assert.Contains(t, out, "unchanged")

	out, err = run(t, svc, "check", basketID)
	require.NoError(t, err)
	assert.Contains(t, out, "can be received")

	out, err = run(t, svc, "reevaluate", basketID)
	require.NoError(t, err)
	assert.Contains(t, out, "1 purchase request(s) updated")

	out, err = run(t, svc, "twins", "pr-1")
	require.NoError(t, err)
	assert.Contains(t, out, lineID)

	_, err = run(t, svc, "status", basketID, "closed")
	var terr *core.TransitionError
	assert.True(t, errors.As(err, &terr))

	_, err = run(t, svc, "deselect", basketID, lineID)
	require.NoError(t, err)
	out, err = run(t, svc, "check", basketID)
	require.NoError(t, err)
	assert.Contains(t, out, "no line is selected")
}
