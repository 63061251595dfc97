package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"chansync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockChannels struct {
	mock.Mock
}

func (m *mockChannels) GetChannelConfig(ctx context.Context, channelID string) (*models.ChannelConfig, error) {
	args := m.Called(ctx, channelID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ChannelConfig), args.Error(1)
}

func (m *mockChannels) PropertyExists(ctx context.Context, propertyID string) (bool, error) {
	args := m.Called(ctx, propertyID)
	return args.Bool(0), args.Error(1)
}

func ids(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("rec-%04d", i)
	}
	return out
}

func validRequest() models.SyncRequest {
	return models.SyncRequest{
		PropertyID: "prop-1",
		ChannelID:  "ch-1",
		RecordIDs:  []string{"r1"},
		Operation:  models.OperationUpdate,
	}.Normalized()
}

func TestValidateStructure(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *models.SyncRequest)
		field  string
	}{
		{name: "missing property", mutate: func(r *models.SyncRequest) { r.PropertyID = "" }, field: "property_id"},
		{name: "missing channel", mutate: func(r *models.SyncRequest) { r.ChannelID = "" }, field: "channel_id"},
		{name: "no records", mutate: func(r *models.SyncRequest) { r.RecordIDs = nil }, field: "record_ids"},
		{name: "too many records", mutate: func(r *models.SyncRequest) { r.RecordIDs = ids(1001) }, field: "record_ids"},
		{name: "unknown operation", mutate: func(r *models.SyncRequest) { r.Operation = "MERGE" }, field: "operation"},
		{name: "unknown priority", mutate: func(r *models.SyncRequest) { r.Priority = "URGENT" }, field: "priority"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockChannels{}
			v := NewValidator(store, 0)

			req := validRequest()
			tt.mutate(&req)
			err := v.Validate(context.Background(), req)

			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidRequest)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Fields[0].Field)
			// structural problems never reach the store
			store.AssertNotCalled(t, "PropertyExists", mock.Anything, mock.Anything)
		})
	}
}

func TestValidateAcceptsLimit(t *testing.T) {
	store := &mockChannels{}
	store.On("PropertyExists", mock.Anything, "prop-1").Return(true, nil)
	v := NewValidator(store, 0)

	req := validRequest()
	req.RecordIDs = ids(models.MaxRecordsPerRequest)
	assert.NoError(t, v.Validate(context.Background(), req))
	store.AssertExpectations(t)
}

func TestValidateConfiguredLimit(t *testing.T) {
	v := NewValidator(&mockChannels{}, 10)
	req := validRequest()
	req.RecordIDs = ids(11)
	assert.ErrorIs(t, v.Validate(context.Background(), req), ErrInvalidRequest)
}

func TestValidateUnknownProperty(t *testing.T) {
	store := &mockChannels{}
	store.On("PropertyExists", mock.Anything, "prop-1").Return(false, nil)

	err := NewValidator(store, 0).Validate(context.Background(), validRequest())
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestValidateStoreFailure(t *testing.T) {
	store := &mockChannels{}
	store.On("PropertyExists", mock.Anything, "prop-1").Return(false, errors.New("database is locked"))

	err := NewValidator(store, 0).Validate(context.Background(), validRequest())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidRequest)
}

func TestValidationErrorListsAllFields(t *testing.T) {
	v := NewValidator(&mockChannels{}, 0)
	err := v.Validate(context.Background(), models.SyncRequest{}.Normalized())

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Fields, 4)
	assert.Contains(t, err.Error(), "channel_id: is required")
}
