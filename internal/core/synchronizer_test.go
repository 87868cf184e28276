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

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to core.BasketStatus
		want     bool
	}{
		{core.BasketPooling, core.BasketSent, true},
		{core.BasketPooling, core.BasketReceived, false},
		{core.BasketSent, core.BasketAck, true},
		{core.BasketSent, core.BasketReceived, true},
		{core.BasketAck, core.BasketReceived, true},
		{core.BasketAck, core.BasketSent, false},
		{core.BasketReceived, core.BasketClosed, true},
		{core.BasketReceived, core.BasketCancelled, true},
		{core.BasketClosed, core.BasketCancelled, false},
		{core.BasketCancelled, core.BasketPooling, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"_"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, core.CanTransition(tt.from, tt.to))
		})
	}
}

func TestChangeBasketStatus_ReceivedPurgesAndMaps(t *testing.T) {
	ctx := context.Background()
	repo := newFaultyRepo()
	obs := newRecordingObserver()
	seedRequest(t, repo, "pr-1", core.RequestInProgress)
	seedRequest(t, repo, "pr-2", core.RequestInProgress)
	repo.PutBasket(core.SupplierOrder{ID: "b1", SupplierID: "sup", Status: core.BasketSent, Lines: []core.SupplierOrderLine{
		line("l1", true, "pr-1"),
		line("l2", false, "pr-2"),
	}})

	svc := newSyncService(repo, obs)
	res, err := svc.ChangeBasketStatus(ctx, "b1", core.BasketReceived)
	require.NoError(t, err)
	assert.Equal(t, []string{"l2"}, res.Purge.DeletedLines)
	assert.Equal(t, []string{"pr-2"}, res.Purge.Redispatched)
	assert.Equal(t, []string{"pr-1"}, res.UpdatedRequests)

	b, err := repo.GetBasket(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, core.BasketReceived, b.Status)
	require.NotNil(t, b.ReceivedAt)
	assert.True(t, b.ReceivedAt.Equal(fixedNow))
	require.Len(t, b.Lines, 1)
	for _, l := range b.Lines {
		assert.True(t, l.IsSelected, "every remaining line is selected")
	}

	assert.Equal(t, core.RequestOrdered, requestStatus(t, repo, "pr-1"))
	assert.Equal(t, core.RequestInProgress, requestStatus(t, repo, "pr-2"))
	assert.Equal(t, []string{"SENT>RECEIVED:ok"}, obs.transitions)
}

func TestChangeBasketStatus_ReceivedRequiresSelectedLine(t *testing.T) {
	ctx := context.Background()
	repo := newFaultyRepo()
	seedRequest(t, repo, "pr-1", core.RequestInProgress)
	repo.PutBasket(core.SupplierOrder{ID: "b1", SupplierID: "sup", Status: core.BasketAck, Lines: []core.SupplierOrderLine{
		line("l1", false, "pr-1"),
	}})

	_, err := newSyncService(repo, nil).ChangeBasketStatus(ctx, "b1", core.BasketReceived)
	var ve *core.ValidationError
	require.True(t, errors.As(err, &ve), "got %v", err)

	b, err := repo.GetBasket(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, core.BasketAck, b.Status)
	assert.Len(t, b.Lines, 1)
	assert.Zero(t, repo.writes())
}

func TestChangeBasketStatus_SelectedTwinsBlockFinalization(t *testing.T) {
	ctx := context.Background()
	repo := newFaultyRepo()
	seedRequest(t, repo, "pr-5", core.RequestInProgress)
	repo.PutBasket(core.SupplierOrder{ID: "A", SupplierID: "sup-a", Status: core.BasketSent, Lines: []core.SupplierOrderLine{
		line("la", true, "pr-5"),
		line("la-extra", false, "pr-6"),
	}})
	repo.PutBasket(core.SupplierOrder{ID: "B", SupplierID: "sup-b", Status: core.BasketSent, Lines: []core.SupplierOrderLine{
		line("lb", true, "pr-5"),
	}})

	_, err := newSyncService(repo, nil).ChangeBasketStatus(ctx, "A", core.BasketReceived)
	var ve *core.ValidationError
	require.True(t, errors.As(err, &ve), "got %v", err)
	assert.ElementsMatch(t, []string{"la", "lb"}, ve.Lines)

	a, err := repo.GetBasket(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, core.BasketSent, a.Status)
	assert.Len(t, a.Lines, 2, "nothing purged")
	assert.Zero(t, repo.writes())
}

func TestChangeBasketStatus_MappingCoversEveryStatus(t *testing.T) {
	ctx := context.Background()
	m := core.DefaultStatusMapping()
	for _, s := range core.BasketStatuses {
		_, err := m.Map(s)
		assert.NoError(t, err, s)
	}

	repo := newFaultyRepo()
	_, err := newSyncService(repo, nil).ChangeBasketStatus(ctx, "does-not-matter", "ARCHIVED")
	var ce *core.ConfigurationError
	assert.True(t, errors.As(err, &ce), "undefined status must fail before any read, got %v", err)
}

func TestChangeBasketStatus_IllegalTransition(t *testing.T) {
	ctx := context.Background()
	repo := newFaultyRepo()
	obs := newRecordingObserver()
	repo.PutBasket(core.SupplierOrder{ID: "b1", SupplierID: "sup", Status: core.BasketPooling, Lines: []core.SupplierOrderLine{
		line("l1", true, "pr-1"),
	}})

	_, err := newSyncService(repo, obs).ChangeBasketStatus(ctx, "b1", core.BasketReceived)
	var te *core.TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, core.BasketPooling, te.From)
	assert.Equal(t, []string{"POOLING>RECEIVED:rejected"}, obs.transitions)

	_, err = newSyncService(repo, obs).ChangeBasketStatus(ctx, "missing", core.BasketSent)
	assert.True(t, core.IsNotFound(err))
}

func TestChangeBasketStatus_AdvanceMapsEveryLine(t *testing.T) {
	ctx := context.Background()
	repo := newFaultyRepo()
	seedRequest(t, repo, "pr-1", core.RequestInProgress)
	seedRequest(t, repo, "pr-2", core.RequestInProgress)
	repo.PutBasket(core.SupplierOrder{ID: "b1", SupplierID: "sup", Status: core.BasketPooling, Lines: []core.SupplierOrderLine{
		line("l1", true, "pr-1"),
		line("l2", false, "pr-2", "pr-gone"),
	}})
	svc := newSyncService(repo, nil)

	res, err := svc.ChangeBasketStatus(ctx, "b1", core.BasketSent)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"pr-1", "pr-2", "pr-gone"}, res.UpdatedRequests, "a vanished request counts as resolved")
	assert.Equal(t, core.RequestOrdered, requestStatus(t, repo, "pr-1"))
	assert.Equal(t, core.RequestOrdered, requestStatus(t, repo, "pr-2"))

	b, err := repo.GetBasket(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, core.BasketSent, b.Status)
	require.NotNil(t, b.SentAt)
	assert.Len(t, b.Lines, 2, "only RECEIVED purges")

	_, err = svc.ChangeBasketStatus(ctx, "b1", core.BasketCancelled)
	require.NoError(t, err)
	assert.Equal(t, core.RequestCancelled, requestStatus(t, repo, "pr-1"))
}

func TestChangeBasketStatus_SharedRequestIsNotRedispatched(t *testing.T) {
	ctx := context.Background()
	repo := newFaultyRepo()
	seedRequest(t, repo, "pr-1", core.RequestInProgress)
	seedRequest(t, repo, "pr-3", core.RequestInProgress)
	repo.PutBasket(core.SupplierOrder{ID: "b1", SupplierID: "sup", Status: core.BasketSent, Lines: []core.SupplierOrderLine{
		line("l1", true, "pr-1"),
		line("l2", false, "pr-1", "pr-3"),
	}})

	res, err := newSyncService(repo, nil).ChangeBasketStatus(ctx, "b1", core.BasketReceived)
	require.NoError(t, err)
	assert.Equal(t, []string{"pr-1"}, res.Purge.Skipped)
	assert.Equal(t, []string{"pr-3"}, res.Purge.Redispatched)
	assert.Equal(t, core.RequestOrdered, requestStatus(t, repo, "pr-1"))
	assert.Equal(t, core.RequestInProgress, requestStatus(t, repo, "pr-3"))
}

func TestChangeBasketStatus_RequestSelectedInAnotherBasketKeepsItsStatus(t *testing.T) {
	ctx := context.Background()
	repo := newFaultyRepo()
	seedRequest(t, repo, "pr-1", core.RequestOrdered)
	seedRequest(t, repo, "pr-2", core.RequestOrdered)
	seedRequest(t, repo, "pr-4", core.RequestOrdered)
	repo.PutBasket(core.SupplierOrder{ID: "A", SupplierID: "sup-a", Status: core.BasketAck, Lines: []core.SupplierOrderLine{
		line("l1", true, "pr-1"),
		line("l2", false, "pr-2"),
		line("l4", false, "pr-4"),
	}})
	repo.PutBasket(core.SupplierOrder{ID: "B", SupplierID: "sup-b", Status: core.BasketSent, Lines: []core.SupplierOrderLine{
		line("l3", true, "pr-2"),
	}})
	// a selected twin in a cancelled basket holds nothing
	repo.PutBasket(core.SupplierOrder{ID: "X", SupplierID: "sup-x", Status: core.BasketCancelled, Lines: []core.SupplierOrderLine{
		line("l5", true, "pr-4"),
	}})

	res, err := newSyncService(repo, nil).ChangeBasketStatus(ctx, "A", core.BasketReceived)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"l2", "l4"}, res.Purge.DeletedLines)
	assert.Equal(t, []string{"pr-2"}, res.Purge.Held)
	assert.Equal(t, []string{"pr-4"}, res.Purge.Redispatched)
	assert.Equal(t, core.RequestOrdered, requestStatus(t, repo, "pr-2"), "basket B's mapping owns pr-2")
	assert.Equal(t, core.RequestInProgress, requestStatus(t, repo, "pr-4"))
	assert.Equal(t, core.RequestOrdered, requestStatus(t, repo, "pr-1"))
}

func TestChangeBasketStatus_PurgeFailureStopsSequence(t *testing.T) {
	ctx := context.Background()
	repo := newFaultyRepo()
	obs := newRecordingObserver()
	seedRequest(t, repo, "pr-1", core.RequestInProgress)
	seedRequest(t, repo, "pr-2", core.RequestInProgress)
	seedRequest(t, repo, "pr-3", core.RequestInProgress)
	repo.PutBasket(core.SupplierOrder{ID: "b1", SupplierID: "sup", Status: core.BasketSent, Lines: []core.SupplierOrderLine{
		line("l1", true, "pr-1"),
		line("l2", false, "pr-2"),
		line("l3", false, "pr-3"),
	}})
	repo.failDelete["l3"] = true

	res, err := newSyncService(repo, obs).ChangeBasketStatus(ctx, "b1", core.BasketReceived)
	var pe *core.PartialBatchError
	require.True(t, errors.As(err, &pe), "got %v", err)
	assert.Equal(t, "purge", pe.Step)
	assert.Equal(t, []string{"l2"}, pe.Succeeded)
	require.Len(t, pe.Failed, 1)
	assert.Equal(t, "l3", pe.Failed[0].ID)
	assert.ErrorIs(t, err, errUpstream)
	require.NotNil(t, res)

	assert.Zero(t, repo.writes(), "no request is redispatched after a failed purge")
	b, _ := repo.GetBasket(ctx, "b1")
	assert.Equal(t, core.BasketSent, b.Status)
	assert.Equal(t, 1, obs.failures["purge"])
	assert.Equal(t, []string{"SENT>RECEIVED:partial"}, obs.transitions)

	// the saga is retryable once the store recovers
	repo.failDelete["l3"] = false
	_, err = newSyncService(repo, obs).ChangeBasketStatus(ctx, "b1", core.BasketReceived)
	require.NoError(t, err)
	assert.Equal(t, core.RequestInProgress, requestStatus(t, repo, "pr-3"))
	assert.Equal(t, core.RequestOrdered, requestStatus(t, repo, "pr-1"))
}

func TestChangeBasketStatus_PersistFailureIsPartial(t *testing.T) {
	ctx := context.Background()
	repo := newFaultyRepo()
	seedRequest(t, repo, "pr-1", core.RequestInProgress)
	repo.PutBasket(core.SupplierOrder{ID: "b1", SupplierID: "sup", Status: core.BasketPooling, Lines: []core.SupplierOrderLine{
		line("l1", true, "pr-1"),
	}})
	repo.failPersist = true

	res, err := newSyncService(repo, nil).ChangeBasketStatus(ctx, "b1", core.BasketSent)
	var pe *core.PartialBatchError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "persist", pe.Step)
	assert.Equal(t, []string{"pr-1"}, res.UpdatedRequests)
	assert.Equal(t, core.RequestOrdered, requestStatus(t, repo, "pr-1"))
}

func TestChangeBasketStatus_LockFailure(t *testing.T) {
	ctx := context.Background()
	repo := newFaultyRepo()
	repo.PutBasket(core.SupplierOrder{ID: "b1", SupplierID: "sup", Status: core.BasketSent, Lines: []core.SupplierOrderLine{
		line("l1", true, "pr-1"),
	}})
	svc := core.NewBasketSyncService(repo, core.SyncConfig{
		Mapping: core.DefaultStatusMapping(),
		Locker:  failingLocker{},
	})

	_, err := svc.ChangeBasketStatus(ctx, "b1", core.BasketReceived)
	var le *core.LockError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, []string{"pr-1"}, le.RequestIDs)
}

type failingLocker struct{}

func (failingLocker) LockRequests(context.Context, []string) (func(), error) {
	return nil, errors.New("lock held elsewhere")
}

func TestReEvaluate(t *testing.T) {
	ctx := context.Background()
	repo := newFaultyRepo()
	obs := newRecordingObserver()
	seedRequest(t, repo, "pr-1", core.RequestInProgress)
	seedRequest(t, repo, "pr-2", core.RequestInProgress)
	repo.PutBasket(core.SupplierOrder{ID: "b1", SupplierID: "sup", Status: core.BasketAck, Lines: []core.SupplierOrderLine{
		line("l1", true, "pr-1"),
		line("l2", true, "pr-2"),
	}})
	svc := newSyncService(repo, obs)

	repo.failRequest["pr-2"] = true
	n, err := svc.ReEvaluate(ctx, "b1")
	var re *core.ReEvaluationError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, re.Updated)
	assert.Equal(t, 1, obs.failures["reevaluate"])

	repo.failRequest["pr-2"] = false
	n, err = svc.ReEvaluate(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, core.RequestOrdered, requestStatus(t, repo, "pr-2"))

	b, _ := repo.GetBasket(ctx, "b1")
	assert.Equal(t, core.BasketAck, b.Status, "re-evaluation never moves the basket")

	_, err = svc.ReEvaluate(ctx, "missing")
	assert.True(t, errors.As(err, &re))
	assert.True(t, core.IsNotFound(err))
}

func TestToggleLineSelection(t *testing.T) {
	ctx := context.Background()
	repo := newFaultyRepo()
	repo.PutBasket(core.SupplierOrder{ID: "A", SupplierID: "sup-a", Status: core.BasketSent, Lines: []core.SupplierOrderLine{
		line("la", true, "pr-1"),
	}})
	repo.PutBasket(core.SupplierOrder{ID: "B", SupplierID: "sup-b", Status: core.BasketPooling, Lines: []core.SupplierOrderLine{
		line("lb", false, "pr-1"),
	}})
	repo.PutBasket(core.SupplierOrder{ID: "R", SupplierID: "sup-r", Status: core.BasketReceived, Lines: []core.SupplierOrderLine{
		line("lr", true, "pr-9"),
	}})
	svc := newSyncService(repo, nil)

	res, err := svc.ToggleLineSelection(ctx, "A", "la", true)
	require.NoError(t, err)
	assert.False(t, res.Changed)

	_, err = svc.ToggleLineSelection(ctx, "A", "la", false)
	var se *core.SelectionError
	require.True(t, errors.As(err, &se))
	var ve *core.ValidationError
	assert.True(t, errors.As(err, &ve), "only selected twin cannot be deselected")

	res, err = svc.ToggleLineSelection(ctx, "B", "lb", true)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.True(t, res.Flagged)
	assert.True(t, res.Line.IsSelected)

	// now that B is selected, A may let go
	res, err = svc.ToggleLineSelection(ctx, "A", "la", false)
	require.NoError(t, err)
	assert.False(t, res.Line.IsSelected)

	_, err = svc.ToggleLineSelection(ctx, "R", "lr", false)
	var locked *core.LockedBasketError
	assert.True(t, errors.As(err, &locked))

	_, err = svc.ToggleLineSelection(ctx, "A", "nope", true)
	assert.True(t, core.IsNotFound(err))
}

func TestToggleLineSelection_LockedBasketRefusesNoOp(t *testing.T) {
	ctx := context.Background()
	for _, status := range []core.BasketStatus{core.BasketReceived, core.BasketClosed, core.BasketCancelled} {
		t.Run(string(status), func(t *testing.T) {
			repo := newFaultyRepo()
			repo.PutBasket(core.SupplierOrder{ID: "R", SupplierID: "sup-r", Status: status, Lines: []core.SupplierOrderLine{
				line("lr", true, "pr-9"),
				line("lu", false, "pr-8"),
			}})
			svc := newSyncService(repo, nil)

			res, err := svc.ToggleLineSelection(ctx, "R", "lr", true)
			assert.Nil(t, res)
			var locked *core.LockedBasketError
			require.True(t, errors.As(err, &locked))
			assert.Equal(t, status, locked.Status)

			_, err = svc.ToggleLineSelection(ctx, "R", "lu", false)
			assert.True(t, errors.As(err, &locked))
		})
	}
}

func TestPreviewFinalization(t *testing.T) {
	ctx := context.Background()
	repo := newFaultyRepo()
	repo.PutBasket(core.SupplierOrder{ID: "A", SupplierID: "sup-a", Status: core.BasketSent, Lines: []core.SupplierOrderLine{
		line("la", true, "pr-1"),
	}})
	repo.PutBasket(core.SupplierOrder{ID: "B", SupplierID: "sup-b", Status: core.BasketSent, Lines: []core.SupplierOrderLine{
		line("lb", false, "pr-1"),
	}})
	svc := newSyncService(repo, nil)

	p, err := svc.PreviewFinalization(ctx, "A")
	require.NoError(t, err)
	assert.True(t, p.Ready())
	assert.Len(t, p.Report.Warnings, 1)

	p, err = svc.PreviewFinalization(ctx, "B")
	require.NoError(t, err)
	assert.False(t, p.HasSelectedLine)
	assert.False(t, p.Ready())
	assert.Zero(t, repo.writes())
}

func TestRecordQuote(t *testing.T) {
	ctx := context.Background()
	repo := newFaultyRepo()
	repo.PutBasket(core.SupplierOrder{ID: "A", SupplierID: "sup-a", Status: core.BasketPooling, Lines: []core.SupplierOrderLine{
		line("la", false, "pr-1"),
	}})
	repo.PutBasket(core.SupplierOrder{ID: "C", SupplierID: "sup-c", Status: core.BasketClosed, Lines: []core.SupplierOrderLine{
		line("lc", true, "pr-2"),
	}})
	svc := newSyncService(repo, nil)

	days := 5
	l, err := svc.RecordQuote(ctx, "A", "la", decimal.RequireFromString("19.90"), &days)
	require.NoError(t, err)
	assert.True(t, l.QuoteReceived)
	assert.Equal(t, "19.9", l.QuotePrice.String())
	assert.Equal(t, 5, *l.LeadTimeDays)

	_, err = svc.RecordQuote(ctx, "A", "la", decimal.NewFromInt(-1), nil)
	var ve *core.ValidationError
	assert.True(t, errors.As(err, &ve))

	_, err = svc.RecordQuote(ctx, "C", "lc", decimal.NewFromInt(3), nil)
	var locked *core.LockedBasketError
	assert.True(t, errors.As(err, &locked))
}
