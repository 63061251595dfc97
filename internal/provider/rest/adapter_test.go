package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"chansync/internal/config"
	"chansync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)

func newAdapter(t *testing.T, handler http.HandlerFunc, mutate ...func(*config.RESTProviderConfig)) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.RESTProviderConfig{
		BaseURL:         srv.URL,
		APIKey:          "secret",
		ProtocolVersion: "2024-06",
		Timeout:         2 * time.Second,
		TransientCodes:  []string{"LOCKED"},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	logger := zerolog.Nop()
	return New(cfg, &logger)
}

func channel() models.ChannelConfig {
	return models.ChannelConfig{
		ChannelID:       "ch-1",
		PropertyID:      "p",
		ProviderType:    models.ProviderREST,
		HotelID:         "H1",
		Currency:        "EUR",
		RoomTypeMapping: map[string]string{"DBL": "DOUBLE"},
		RatePlanMapping: map[string]string{"BAR": "FLEX"},
		IsActive:        true,
	}
}

func records() []*models.RateInventoryRecord {
	rate := 99.0
	inv := 3
	return []*models.RateInventoryRecord{
		{ID: "r1", Date: day, RoomType: "DBL", RatePlan: "BAR", Rate: &rate, Inventory: &inv, MinStay: 2},
		{ID: "r2", Date: day, RoomType: "TWN", RatePlan: "BAR", StopSell: true},
		{ID: "r3", Date: day, RoomType: "STE", RatePlan: "NR"},
	}
}

func TestSyncBatchUpsertSuccess(t *testing.T) {
	var got upsertRequest
	var headers http.Header
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/hotels/H1/ari", r.URL.Path)
		headers = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(batchResponse{Success: boolPtr(true)})
	})

	res := a.SyncBatch(context.Background(), day, records(), channel(), models.OperationUpdate)

	assert.Equal(t, 3, res.SyncedCount)
	assert.Equal(t, 0, res.FailedCount)
	assert.Empty(t, res.Errors)

	assert.Equal(t, "2025-08-01", got.Date)
	assert.Equal(t, "EUR", got.Currency)
	require.Len(t, got.Items, 3)
	assert.Equal(t, "DOUBLE", got.Items[0].RoomTypeCode)
	assert.Equal(t, "FLEX", got.Items[0].RatePlanCode)
	require.NotNil(t, got.Items[0].Rate)
	assert.Equal(t, 99.0, *got.Items[0].Rate)
	assert.Equal(t, "TWN", got.Items[1].RoomTypeCode)
	assert.Nil(t, got.Items[1].Rate)
	assert.True(t, got.Items[1].StopSell)

	assert.Equal(t, "Bearer secret", headers.Get("Authorization"))
	assert.Equal(t, "2024-06", headers.Get(HeaderProtocolVersion))
	assert.NotEmpty(t, headers.Get(HeaderCorrelationID))
}

func TestSyncBatchDeleteUsesDeleteEndpoint(t *testing.T) {
	var path string
	var got deleteRequest
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	})

	res := a.SyncBatch(context.Background(), day, records(), channel(), models.OperationDelete)

	assert.Equal(t, "/v1/hotels/H1/ari/delete", path)
	assert.Equal(t, 3, res.SyncedCount)
	require.Len(t, got.Items, 3)
}

func TestSyncBatchPartialFailure(t *testing.T) {
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(batchResponse{
			Success: boolPtr(false),
			Errors: []itemError{
				{RoomTypeCode: "TWN", RatePlanCode: "FLEX", Code: "LOCKED", Message: "inventory locked"},
				{RoomTypeCode: "STE", RatePlanCode: "NR", Code: "INVALID_RATE", Message: "missing rate"},
				{RoomTypeCode: "PENTHOUSE", RatePlanCode: "FLEX", Code: "UNKNOWN", Message: "unattributable"},
			},
		})
	})

	res := a.SyncBatch(context.Background(), day, records(), channel(), models.OperationUpdate)

	assert.Equal(t, 1, res.SyncedCount)
	assert.Equal(t, 2, res.FailedCount)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, "r2", res.Errors[0].RecordID)
	assert.True(t, res.Errors[0].Retryable)
	assert.Equal(t, "r3", res.Errors[1].RecordID)
	assert.False(t, res.Errors[1].Retryable)
}

func TestSyncBatchTotalFailure(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retryable bool
		contains  string
	}{
		{name: "503", status: http.StatusServiceUnavailable, body: `{"code":"MAINTENANCE","message":"down for maintenance"}`, retryable: true, contains: "down for maintenance"},
		{name: "429", status: http.StatusTooManyRequests, body: `slow down`, retryable: true, contains: "slow down"},
		{name: "400", status: http.StatusBadRequest, body: `{"error":"hotel not mapped"}`, retryable: false, contains: "hotel not mapped"},
		{name: "401", status: http.StatusUnauthorized, body: ``, retryable: false, contains: "Unauthorized"},
		{name: "transient code on 409", status: http.StatusConflict, body: `{"code":"LOCKED","message":"busy"}`, retryable: true, contains: "busy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			res := a.SyncBatch(context.Background(), day, records(), channel(), models.OperationUpdate)

			assert.Equal(t, 0, res.SyncedCount)
			assert.Equal(t, 3, res.FailedCount)
			require.Len(t, res.Errors, 3)
			for _, e := range res.Errors {
				assert.Equal(t, tt.retryable, e.Retryable)
				assert.Contains(t, e.Message, tt.contains)
			}
		})
	}
}

func TestSyncBatchTimeoutIsRetryable(t *testing.T) {
	release := make(chan struct{})
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, func(c *config.RESTProviderConfig) { c.Timeout = 50 * time.Millisecond })
	defer close(release)

	res := a.SyncBatch(context.Background(), day, records(), channel(), models.OperationUpdate)

	assert.Equal(t, 3, res.FailedCount)
	for _, e := range res.Errors {
		assert.True(t, e.Retryable, e.Message)
	}
}

func TestSyncBatchConnectionRefusedIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	logger := zerolog.Nop()
	a := New(config.RESTProviderConfig{BaseURL: url, Timeout: time.Second}, &logger)

	res := a.SyncBatch(context.Background(), day, records(), channel(), models.OperationCreate)
	assert.Equal(t, 3, res.FailedCount)
	assert.True(t, res.Errors[0].Retryable)
}

func TestSyncBatchSuccessBodies(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "empty body", body: ""},
		{name: "empty object", body: `{}`},
		{name: "empty error list", body: `{"errors":[]}`},
		{name: "unrelated fields", body: `{"status":"ok","received":3}`},
		{name: "explicit success", body: `{"success":true}`},
		{name: "explicit success with empty errors", body: `{"success":true,"errors":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte(tt.body))
			})

			res := a.SyncBatch(context.Background(), day, records(), channel(), models.OperationUpdate)

			assert.Equal(t, 3, res.SyncedCount)
			assert.Equal(t, 0, res.FailedCount)
			assert.Empty(t, res.Errors)
		})
	}
}

func TestSyncBatchExplicitRejectionFailsAll(t *testing.T) {
	for _, body := range []string{`{"success":false}`, `{"success":false,"errors":[]}`} {
		t.Run(body, func(t *testing.T) {
			a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			})

			res := a.SyncBatch(context.Background(), day, records(), channel(), models.OperationUpdate)

			assert.Equal(t, 0, res.SyncedCount)
			assert.Equal(t, 3, res.FailedCount)
			require.Len(t, res.Errors, 3)
			for _, e := range res.Errors {
				assert.Equal(t, "REJECTED", e.Code)
				assert.False(t, e.Retryable)
			}
		})
	}
}

func TestSyncBatchDuplicatesRejectedBeforeCall(t *testing.T) {
	var calls int32
	var got upsertRequest
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(batchResponse{Success: boolPtr(true)})
	})

	recs := records()
	dup := *recs[0]
	dup.ID = "r1-dup"
	dup.UpdatedAt = day.Add(time.Hour)
	recs = append(recs, &dup)

	res := a.SyncBatch(context.Background(), day, recs, channel(), models.OperationUpdate)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "one call per date group")
	assert.Len(t, got.Items, 3)
	assert.Equal(t, 3, res.SyncedCount)
	assert.Equal(t, 1, res.FailedCount)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "r1", res.Errors[0].RecordID)
	assert.False(t, res.Errors[0].Retryable)
}

func TestTestConnection(t *testing.T) {
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/ping" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	res := a.TestConnection(context.Background())
	assert.True(t, res.Success, res.Message)

	down := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	res = down.TestConnection(context.Background())
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "502")

	logger := zerolog.Nop()
	unconfigured := New(config.RESTProviderConfig{}, &logger)
	assert.False(t, unconfigured.TestConnection(context.Background()).Success)
	assert.Equal(t, models.ProviderREST, unconfigured.Type())
}

func boolPtr(b bool) *bool { return &b }
