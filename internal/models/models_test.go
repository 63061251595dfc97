package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncRequestNormalized(t *testing.T) {
	req := SyncRequest{
		PropertyID: " prop-1 ",
		ChannelID:  "ch-1",
		RecordIDs:  []string{"r1", "r2", "r1", " ", "r3", "r2"},
		Operation:  "update",
	}

	out := req.Normalized()

	assert.Equal(t, "prop-1", out.PropertyID)
	assert.Equal(t, []string{"r1", "r2", "r3"}, out.RecordIDs)
	assert.Equal(t, OperationUpdate, out.Operation)
	assert.Equal(t, PriorityNormal, out.Priority)
	assert.Len(t, req.RecordIDs, 6, "original request must not be modified")
}

func TestPriorityWeight(t *testing.T) {
	assert.Equal(t, 10, PriorityHigh.Weight())
	assert.Equal(t, 5, PriorityNormal.Weight())
	assert.Equal(t, 1, PriorityLow.Weight())
	assert.Equal(t, PriorityHigh, ParsePriority(" high"))
	assert.Equal(t, PriorityNormal, ParsePriority(""))
	assert.False(t, ParsePriority("urgent").Valid())
}

func TestOperation(t *testing.T) {
	assert.True(t, OperationCreate.IsUpsert())
	assert.True(t, OperationUpdate.IsUpsert())
	assert.False(t, OperationDelete.IsUpsert())
	assert.False(t, Operation("PATCH").Valid())
}

func TestStatusForCounts(t *testing.T) {
	assert.Equal(t, SyncStatusSuccess, StatusForCounts(3, 0))
	assert.Equal(t, SyncStatusPartialSuccess, StatusForCounts(3, 1))
	assert.Equal(t, SyncStatusFailed, StatusForCounts(3, 3))
	assert.True(t, SyncStatusCancelled.IsTerminal())
	assert.False(t, SyncStatusInProgress.IsTerminal())
}

func TestSyncJobNarrow(t *testing.T) {
	job := SyncJob{
		SyncID:     "parent",
		RetryCount: 1,
		Request: SyncRequest{
			PropertyID: "p",
			ChannelID:  "c",
			RecordIDs:  []string{"a", "b"},
			Operation:  OperationUpdate,
			Priority:   PriorityHigh,
		},
		Channel: ChannelConfig{ChannelID: "c"},
	}

	retry := job.Narrow("child", "b")

	assert.Equal(t, "child", retry.SyncID)
	assert.Equal(t, "parent", retry.ParentSyncID)
	assert.Equal(t, 2, retry.RetryCount)
	assert.Equal(t, []string{"b"}, retry.Request.RecordIDs)
	assert.Equal(t, PriorityHigh, retry.Request.Priority)
	assert.Equal(t, []string{"a", "b"}, job.Request.RecordIDs)
}

func TestChannelMappingFallThrough(t *testing.T) {
	ch := ChannelConfig{
		RoomTypeMapping: map[string]string{"DBL": "DOUBLE", "EMPTY": ""},
		RatePlanMapping: map[string]string{"BAR": "BEST"},
	}

	assert.Equal(t, "DOUBLE", ch.RoomTypeCode("DBL"))
	assert.Equal(t, "TWN", ch.RoomTypeCode("TWN"))
	assert.Equal(t, "EMPTY", ch.RoomTypeCode("EMPTY"))
	assert.Equal(t, "BEST", ch.RatePlanCode("BAR"))
	assert.Equal(t, "NR", ch.RatePlanCode("NR"))
}

func TestGroupByDate(t *testing.T) {
	d1 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2025, 3, 2, 23, 0, 0, 0, time.UTC)
	records := []*RateInventoryRecord{
		{ID: "a", Date: d2},
		{ID: "b", Date: d1},
		{ID: "c", Date: d2},
	}

	keys, groups := GroupByDate(records)

	require.Equal(t, []string{"2025-03-01", "2025-03-02"}, keys)
	assert.Len(t, groups["2025-03-01"], 1)
	assert.Len(t, groups["2025-03-02"], 2)
}
