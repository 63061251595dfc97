package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chansync/internal/domain"
	"chansync/internal/models"
)

// UpsertProperty creates or renames a property.
func (db *DB) UpsertProperty(ctx context.Context, p *models.Property) error {
	if p.Timezone == "" {
		p.Timezone = "UTC"
	}
	query := `INSERT INTO properties (id, name, timezone, created_at) VALUES (?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET name = excluded.name, timezone = excluded.timezone`
	now := time.Now().UTC()
	if _, err := db.ExecContext(ctx, query, p.ID, p.Name, p.Timezone, now); err != nil {
		return fmt.Errorf("failed to upsert property %s: %w", p.ID, err)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	return nil
}

func (db *DB) PropertyExists(ctx context.Context, propertyID string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM properties WHERE id = ?)`, propertyID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check property %s: %w", propertyID, err)
	}
	return exists, nil
}

// UpsertChannel stores a channel configuration, replacing any previous version.
func (db *DB) UpsertChannel(ctx context.Context, ch *models.ChannelConfig) error {
	roomMapping, err := json.Marshal(nonNilMapping(ch.RoomTypeMapping))
	if err != nil {
		return fmt.Errorf("marshal room type mapping: %w", err)
	}
	rateMapping, err := json.Marshal(nonNilMapping(ch.RatePlanMapping))
	if err != nil {
		return fmt.Errorf("marshal rate plan mapping: %w", err)
	}

	query := `INSERT INTO channels (channel_id, property_id, name, provider_type, hotel_id, currency,
                  room_type_mapping, rate_plan_mapping, is_active, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(channel_id) DO UPDATE SET
                  property_id = excluded.property_id,
                  name = excluded.name,
                  provider_type = excluded.provider_type,
                  hotel_id = excluded.hotel_id,
                  currency = excluded.currency,
                  room_type_mapping = excluded.room_type_mapping,
                  rate_plan_mapping = excluded.rate_plan_mapping,
                  is_active = excluded.is_active,
                  updated_at = excluded.updated_at`
	_, err = db.ExecContext(ctx, query,
		ch.ChannelID,
		ch.PropertyID,
		ch.Name,
		ch.ProviderType,
		ch.HotelID,
		ch.Currency,
		string(roomMapping),
		string(rateMapping),
		ch.IsActive,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert channel %s: %w", ch.ChannelID, err)
	}
	return nil
}

// GetChannelConfig returns domain.ErrNotFound when the channel does not exist.
// Inactive channels are returned as-is; callers decide what to do with them.
func (db *DB) GetChannelConfig(ctx context.Context, channelID string) (*models.ChannelConfig, error) {
	query := `SELECT channel_id, property_id, name, provider_type, hotel_id, currency,
                     room_type_mapping, rate_plan_mapping, is_active
              FROM channels WHERE channel_id = ?`
	ch, err := scanChannel(db.QueryRowContext(ctx, query, channelID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("channel %s: %w", channelID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get channel %s: %w", channelID, err)
	}
	return ch, nil
}

func (db *DB) ListChannels(ctx context.Context, propertyID string) ([]*models.ChannelConfig, error) {
	query := `SELECT channel_id, property_id, name, provider_type, hotel_id, currency,
                     room_type_mapping, rate_plan_mapping, is_active
              FROM channels WHERE property_id = ? ORDER BY channel_id`
	rows, err := db.QueryContext(ctx, query, propertyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	defer rows.Close()

	var channels []*models.ChannelConfig
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanChannel(row rowScanner) (*models.ChannelConfig, error) {
	var (
		ch                       models.ChannelConfig
		roomMapping, rateMapping string
	)
	err := row.Scan(
		&ch.ChannelID,
		&ch.PropertyID,
		&ch.Name,
		&ch.ProviderType,
		&ch.HotelID,
		&ch.Currency,
		&roomMapping,
		&rateMapping,
		&ch.IsActive,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(roomMapping), &ch.RoomTypeMapping); err != nil {
		return nil, fmt.Errorf("decode room type mapping: %w", err)
	}
	if err := json.Unmarshal([]byte(rateMapping), &ch.RatePlanMapping); err != nil {
		return nil, fmt.Errorf("decode rate plan mapping: %w", err)
	}
	return &ch, nil
}

func nonNilMapping(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
