package core

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// PurgeResult reports what a purge changed.
type PurgeResult struct {
	DeletedLines []string
	Redispatched []string // requests returned to the dispatch pool
	Skipped      []string // requests also referenced by a kept line; mapping decides their status
	Held         []string // requests with a selected twin in another basket, which owns their status
}

// PurgeProcessor removes unselected lines from a basket that is being finalized and
// returns the purchase requests they alone referenced to the dispatch pool.
type PurgeProcessor struct {
	repo   Repository
	limit  int
	logger *zap.Logger
}

// NewPurgeProcessor constructs a PurgeProcessor. limit bounds concurrent writes.
func NewPurgeProcessor(repo Repository, limit int, logger *zap.Logger) *PurgeProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PurgeProcessor{repo: repo, limit: limit, logger: logger}
}

// Purge deletes every unselected line among lines (the current line set of basketID) and
// sets requests referenced only by deleted lines to in_progress. Requests that still have
// a selected line in another non-cancelled basket of allBaskets are left untouched. A line
// that is already gone counts as deleted. If any deletion fails, no request is redispatched.
func (p *PurgeProcessor) Purge(ctx context.Context, basketID string, lines []SupplierOrderLine, allBaskets []SupplierOrder) (*PurgeResult, error) {
	var purged, kept []SupplierOrderLine
	for _, l := range lines {
		if l.IsSelected {
			kept = append(kept, l)
		} else {
			purged = append(purged, l)
		}
	}

	result := &PurgeResult{}
	if len(purged) == 0 {
		return result, nil
	}

	lineIDs := make([]string, len(purged))
	for i, l := range purged {
		lineIDs[i] = l.ID
	}

	deleted, failed := runBatch(ctx, p.limit, lineIDs, func(ctx context.Context, id string) error {
		err := p.repo.DeleteLine(ctx, id)
		if IsNotFound(err) {
			p.logger.Debug("line already gone", zap.String("line_id", id))
			return nil
		}
		return err
	})
	result.DeletedLines = deleted
	if len(failed) > 0 {
		return result, &PartialBatchError{Step: "purge", Succeeded: deleted, Failed: failed}
	}

	keptRefs := make(map[string]bool)
	for _, rid := range referencedRequests(kept) {
		keptRefs[rid] = true
	}
	var toRedispatch []string
	for _, rid := range referencedRequests(purged) {
		switch {
		case keptRefs[rid]:
			result.Skipped = append(result.Skipped, rid)
		case selectedElsewhere(rid, basketID, allBaskets):
			result.Held = append(result.Held, rid)
		default:
			toRedispatch = append(toRedispatch, rid)
		}
	}
	sort.Strings(result.Skipped)
	sort.Strings(result.Held)

	if len(result.Skipped) > 0 {
		p.logger.Warn("requests referenced by both purged and kept lines; redispatch skipped",
			zap.Strings("request_ids", result.Skipped))
	}
	if len(result.Held) > 0 {
		p.logger.Info("requests selected in another basket; redispatch skipped",
			zap.Strings("request_ids", result.Held))
	}

	redispatched, failed := runBatch(ctx, p.limit, toRedispatch, func(ctx context.Context, id string) error {
		if _, err := p.repo.UpdatePurchaseRequest(ctx, id, RequestInProgress); err != nil {
			return fmt.Errorf("redispatch request %s: %w", id, err)
		}
		return nil
	})
	result.Redispatched = redispatched
	if len(failed) > 0 {
		return result, &PartialBatchError{Step: "redispatch", Succeeded: redispatched, Failed: failed}
	}
	return result, nil
}

// selectedElsewhere reports whether requestID has a selected line in a non-cancelled
// basket other than basketID.
func selectedElsewhere(requestID, basketID string, allBaskets []SupplierOrder) bool {
	for _, t := range FindTwins(requestID, allBaskets) {
		if t.BasketID != basketID && t.Line.IsSelected {
			return true
		}
	}
	return false
}
