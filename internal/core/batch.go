package core

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultBatchConcurrency bounds the writes in flight for one batch.
const DefaultBatchConcurrency = 8

// runBatch issues fn for every id concurrently and collects the outcome of each write.
// Once issued a write is not cancelled: fn receives a context detached from ctx's
// cancellation. Results are sorted by id so callers get a stable report.
func runBatch(ctx context.Context, limit int, ids []string, fn func(ctx context.Context, id string) error) ([]string, []BatchFailure) {
	if limit <= 0 {
		limit = DefaultBatchConcurrency
	}
	writeCtx := context.WithoutCancel(ctx)

	var (
		mu        sync.Mutex
		succeeded []string
		failed    []BatchFailure
	)

	var g errgroup.Group
	g.SetLimit(limit)
	for _, id := range ids {
		g.Go(func() error {
			err := fn(writeCtx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed = append(failed, BatchFailure{ID: id, Err: err})
			} else {
				succeeded = append(succeeded, id)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(succeeded)
	sort.Slice(failed, func(i, j int) bool { return failed[i].ID < failed[j].ID })
	return succeeded, failed
}
