package worker

import (
	"testing"
	"time"

	"chansync/internal/config"
	"chansync/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestNextDelay(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3, InitialDelay: 5 * time.Second, MaxDelay: 30 * time.Second, BackoffFactor: 2}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 5 * time.Second},
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{4, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.NextDelay(tt.attempt), "attempt %d", tt.attempt)
	}

	assert.Equal(t, time.Second, RetryPolicy{}.NextDelay(1))
}

func TestExhausted(t *testing.T) {
	p := PolicyFromConfig(config.RetryConfig{MaxRetries: models.DefaultRetryBudget})
	assert.False(t, p.Exhausted(0))
	assert.False(t, p.Exhausted(2))
	assert.True(t, p.Exhausted(3))
}

func TestMerge(t *testing.T) {
	a := models.BatchResult{SyncedCount: 2, FailedCount: 1, Errors: []models.SyncError{{RecordID: "r3"}}}
	b := models.BatchResult{SyncedCount: 0, FailedCount: 2, Errors: []models.SyncError{{RecordID: "r4"}, {RecordID: "r5"}}}

	got := Merge(a, b, models.BatchResult{})
	assert.Equal(t, 2, got.SyncedCount)
	assert.Equal(t, 3, got.FailedCount)
	assert.Len(t, got.Errors, 3)

	assert.Equal(t, models.BatchResult{}, Merge())
}
