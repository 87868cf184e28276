package core_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"procurement-reconciler/internal/core"
	"procurement-reconciler/internal/store/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream unavailable")

// faultyRepo wraps the memory store and fails writes on demand.
type faultyRepo struct {
	*memory.Store

	mu            sync.Mutex
	failDelete    map[string]bool
	failRequest   map[string]bool
	failPersist   bool
	requestWrites int
}

func newFaultyRepo() *faultyRepo {
	return &faultyRepo{
		Store:       memory.New(),
		failDelete:  map[string]bool{},
		failRequest: map[string]bool{},
	}
}

func (r *faultyRepo) DeleteLine(ctx context.Context, lineID string) error {
	if r.failDelete[lineID] {
		return errUpstream
	}
	return r.Store.DeleteLine(ctx, lineID)
}

func (r *faultyRepo) UpdatePurchaseRequest(ctx context.Context, id string, status core.RequestStatus) (*core.PurchaseRequest, error) {
	r.mu.Lock()
	r.requestWrites++
	r.mu.Unlock()
	if r.failRequest[id] {
		return nil, errUpstream
	}
	return r.Store.UpdatePurchaseRequest(ctx, id, status)
}

func (r *faultyRepo) UpdateBasket(ctx context.Context, id string, fields core.BasketFields) (*core.SupplierOrder, error) {
	if r.failPersist {
		return nil, errUpstream
	}
	return r.Store.UpdateBasket(ctx, id, fields)
}

func (r *faultyRepo) writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requestWrites
}

// recordingObserver captures observer calls.
type recordingObserver struct {
	mu          sync.Mutex
	transitions []string
	failures    map[string]int
	dispatch    map[string]int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{failures: map[string]int{}, dispatch: map[string]int{}}
}

func (o *recordingObserver) TransitionObserved(from, to core.BasketStatus, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, string(from)+">"+string(to)+":"+outcome)
}

func (o *recordingObserver) BatchFailuresObserved(step string, failed int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures[step] += failed
}

func (o *recordingObserver) DispatchObserved(outcome string, count int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dispatch[outcome] += count
}

var fixedNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newSyncService(repo core.Repository, obs core.Observer) core.BasketSyncService {
	return core.NewBasketSyncService(repo, core.SyncConfig{
		Mapping:  core.DefaultStatusMapping(),
		Observer: obs,
		Now:      func() time.Time { return fixedNow },
	})
}

func seedRequest(t *testing.T, repo *faultyRepo, id string, status core.RequestStatus) {
	t.Helper()
	repo.PutPurchaseRequest(core.PurchaseRequest{ID: id, Status: status, Quantity: decimal.NewFromInt(1)})
}

func requestStatus(t *testing.T, repo core.Repository, id string) core.RequestStatus {
	t.Helper()
	pr, err := repo.GetPurchaseRequest(context.Background(), id)
	require.NoError(t, err)
	return pr.Status
}

func line(id string, selected bool, refs ...string) core.SupplierOrderLine {
	return core.SupplierOrderLine{ID: id, IsSelected: selected, Quantity: decimal.NewFromInt(1), RequestIDs: refs}
}

func strPtr(s string) *string { return &s }
