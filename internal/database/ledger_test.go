package database

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"chansync/internal/domain"
	"chansync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEntry(syncID string, total int) *models.SyncLedgerEntry {
	return &models.SyncLedgerEntry{
		SyncID:       syncID,
		PropertyID:   "prop-1",
		ChannelID:    "ch-1",
		Operation:    models.OperationUpdate,
		Priority:     models.PriorityNormal,
		RequestedBy:  "tester",
		TotalRecords: total,
	}
}

func TestLedgerLifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.CreateLedgerEntry(ctx, newEntry("s1", 3)))

	got, err := db.GetLedgerEntry(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusPending, got.Status)
	assert.Equal(t, 3, got.TotalRecords)
	assert.Nil(t, got.StartedAt)

	start := time.Now().UTC()
	require.NoError(t, db.MarkInProgress(ctx, "s1", start))

	err = db.CompleteLedgerEntry(ctx, "s1", models.SyncOutcome{
		Status:       models.SyncStatusPartialSuccess,
		SuccessCount: 2,
		FailedCount:  1,
		ErrorSummary: "r3: upstream unavailable",
		CompletedAt:  start.Add(time.Second),
		DurationMs:   1000,
	})
	require.NoError(t, err)

	got, err = db.GetLedgerEntry(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusPartialSuccess, got.Status)
	assert.Equal(t, 2, got.SuccessCount)
	assert.Equal(t, 1, got.FailedCount)
	assert.Equal(t, int64(1000), got.DurationMs)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.CompletedAt)

	t.Run("TerminalIsNotRevisited", func(t *testing.T) {
		err := db.MarkInProgress(ctx, "s1", time.Now())
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)

		err = db.CancelLedgerEntry(ctx, "s1", time.Now())
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)

		err = db.FailPendingEntry(ctx, "s1", "boom", time.Now())
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})
}

func TestLedgerCompleteRequiresMatchingCounts(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.CreateLedgerEntry(ctx, newEntry("s1", 3)))
	require.NoError(t, db.MarkInProgress(ctx, "s1", time.Now()))

	err := db.CompleteLedgerEntry(ctx, "s1", models.SyncOutcome{
		Status:       models.SyncStatusSuccess,
		SuccessCount: 2,
		CompletedAt:  time.Now(),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	err = db.CompleteLedgerEntry(ctx, "s1", models.SyncOutcome{Status: models.SyncStatusCancelled})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestLedgerCompleteRequiresInProgress(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.CreateLedgerEntry(ctx, newEntry("s1", 1)))

	err := db.CompleteLedgerEntry(ctx, "s1", models.SyncOutcome{
		Status:       models.SyncStatusSuccess,
		SuccessCount: 1,
		CompletedAt:  time.Now(),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestLedgerFailAndCancelPending(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.CreateLedgerEntry(ctx, newEntry("failed", 4)))
	require.NoError(t, db.CreateLedgerEntry(ctx, newEntry("cancelled", 2)))

	require.NoError(t, db.FailPendingEntry(ctx, "failed", "queue unavailable: connection refused", time.Now()))
	require.NoError(t, db.CancelLedgerEntry(ctx, "cancelled", time.Now()))

	failed, err := db.GetLedgerEntry(ctx, "failed")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusFailed, failed.Status)
	assert.Equal(t, 4, failed.FailedCount)
	assert.Equal(t, 0, failed.SuccessCount)
	assert.Contains(t, failed.ErrorSummary, "queue unavailable")

	cancelled, err := db.GetLedgerEntry(ctx, "cancelled")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusCancelled, cancelled.Status)
	assert.Equal(t, 2, cancelled.FailedCount)
	assert.NotEmpty(t, cancelled.ErrorSummary)
}

func TestLedgerAbortEntry(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.CreateLedgerEntry(ctx, newEntry("running", 2)))
	require.NoError(t, db.MarkInProgress(ctx, "running", time.Now()))
	require.NoError(t, db.AbortEntry(ctx, "running", "interrupted by restart", time.Now()))

	got, err := db.GetLedgerEntry(ctx, "running")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusFailed, got.Status)
	assert.Equal(t, 2, got.FailedCount)
}

func TestLedgerNotFound(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := db.GetLedgerEntry(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = db.MarkInProgress(ctx, "missing", time.Now())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListLedgerEntries(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		e := newEntry(fmt.Sprintf("s%d", i), 1)
		e.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if i == 4 {
			e.ChannelID = "ch-2"
		}
		require.NoError(t, db.CreateLedgerEntry(ctx, e))
	}

	all, err := db.ListLedgerEntries(ctx, "prop-1", "", 10)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "s4", all[0].SyncID, "most recent first")
	assert.Equal(t, "s0", all[4].SyncID)

	ch1, err := db.ListLedgerEntries(ctx, "prop-1", "ch-1", 10)
	require.NoError(t, err)
	assert.Len(t, ch1, 4)

	page, err := db.ListLedgerEntries(ctx, "prop-1", "", 2)
	require.NoError(t, err)
	assert.Len(t, page, 2)

	none, err := db.ListLedgerEntries(ctx, "prop-9", "", 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	stale, err := db.ListStaleEntries(ctx, base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Len(t, stale, 2)
}

func TestLedgerConcurrentTransitions(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.CreateLedgerEntry(ctx, newEntry("race", 1)))

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- db.MarkInProgress(ctx, "race", time.Now())
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	}
	assert.Equal(t, 1, wins, "exactly one worker may claim the entry")
}
