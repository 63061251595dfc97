package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"chansync/internal/models"
)

// UpsertRecord writes the business fields of a record and resets its sync status to PENDING.
func (db *DB) UpsertRecord(ctx context.Context, r *models.RateInventoryRecord) error {
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now().UTC()
	}
	query := `INSERT INTO rate_inventory (id, property_id, date, room_type, rate_plan, rate, inventory,
                  min_stay, max_stay, closed_to_arrival, closed_to_departure, stop_sell, updated_at, sync_status)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                  property_id = excluded.property_id,
                  date = excluded.date,
                  room_type = excluded.room_type,
                  rate_plan = excluded.rate_plan,
                  rate = excluded.rate,
                  inventory = excluded.inventory,
                  min_stay = excluded.min_stay,
                  max_stay = excluded.max_stay,
                  closed_to_arrival = excluded.closed_to_arrival,
                  closed_to_departure = excluded.closed_to_departure,
                  stop_sell = excluded.stop_sell,
                  updated_at = excluded.updated_at,
                  sync_status = excluded.sync_status`
	_, err := db.ExecContext(ctx, query,
		r.ID,
		r.PropertyID,
		r.DateKey(),
		r.RoomType,
		r.RatePlan,
		r.Rate,
		r.Inventory,
		r.MinStay,
		r.MaxStay,
		r.ClosedToArrival,
		r.ClosedToDeparture,
		r.StopSell,
		r.UpdatedAt,
		models.RecordSyncPending,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert record %s: %w", r.ID, err)
	}
	r.SyncStatus = models.RecordSyncPending
	return nil
}

// FindRecords returns the records with the given IDs that belong to propertyID.
// IDs owned by another property are silently excluded.
func (db *DB) FindRecords(ctx context.Context, propertyID string, recordIDs []string) ([]*models.RateInventoryRecord, error) {
	if len(recordIDs) == 0 {
		return nil, nil
	}

	var records []*models.RateInventoryRecord
	// sqlite caps host parameters, keep chunks well below the limit
	const chunkSize = 500
	for start := 0; start < len(recordIDs); start += chunkSize {
		end := start + chunkSize
		if end > len(recordIDs) {
			end = len(recordIDs)
		}
		chunk, err := db.findRecordsChunk(ctx, propertyID, recordIDs[start:end])
		if err != nil {
			return nil, err
		}
		records = append(records, chunk...)
	}
	return records, nil
}

func (db *DB) findRecordsChunk(ctx context.Context, propertyID string, ids []string) ([]*models.RateInventoryRecord, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	query := `SELECT id, property_id, date, room_type, rate_plan, rate, inventory, min_stay, max_stay,
                     closed_to_arrival, closed_to_departure, stop_sell, updated_at,
                     sync_status, sync_error, last_synced_at
              FROM rate_inventory
              WHERE property_id = ? AND id IN (` + placeholders + `)
              ORDER BY date, room_type, rate_plan`

	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, propertyID)
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find records: %w", err)
	}
	defer rows.Close()

	var records []*models.RateInventoryRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (db *DB) GetRecord(ctx context.Context, recordID string) (*models.RateInventoryRecord, error) {
	query := `SELECT id, property_id, date, room_type, rate_plan, rate, inventory, min_stay, max_stay,
                     closed_to_arrival, closed_to_departure, stop_sell, updated_at,
                     sync_status, sync_error, last_synced_at
              FROM rate_inventory WHERE id = ?`
	r, err := scanRecord(db.QueryRowContext(ctx, query, recordID))
	if err != nil {
		return nil, wrapNotFound(err, "record "+recordID)
	}
	return r, nil
}

// AnnotateSyncStatus records the outcome of the last sync attempt on a record.
// Business fields are left untouched.
func (db *DB) AnnotateSyncStatus(ctx context.Context, recordID, status, errMsg string, at time.Time) error {
	query := `UPDATE rate_inventory SET sync_status = ?, sync_error = ?, last_synced_at = ? WHERE id = ?`
	if _, err := db.ExecContext(ctx, query, status, errMsg, at.UTC(), recordID); err != nil {
		return fmt.Errorf("failed to annotate record %s: %w", recordID, err)
	}
	return nil
}

func scanRecord(row rowScanner) (*models.RateInventoryRecord, error) {
	var (
		r            models.RateInventoryRecord
		date         string
		rate         sql.NullFloat64
		inventory    sql.NullInt64
		lastSyncedAt sql.NullTime
	)
	err := row.Scan(
		&r.ID,
		&r.PropertyID,
		&date,
		&r.RoomType,
		&r.RatePlan,
		&rate,
		&inventory,
		&r.MinStay,
		&r.MaxStay,
		&r.ClosedToArrival,
		&r.ClosedToDeparture,
		&r.StopSell,
		&r.UpdatedAt,
		&r.SyncStatus,
		&r.SyncError,
		&lastSyncedAt,
	)
	if err != nil {
		return nil, err
	}

	parsed, err := time.Parse(models.DateLayout, date)
	if err != nil {
		return nil, fmt.Errorf("record %s has invalid date %q: %w", r.ID, date, err)
	}
	r.Date = parsed

	if rate.Valid {
		v := rate.Float64
		r.Rate = &v
	}
	if inventory.Valid {
		v := int(inventory.Int64)
		r.Inventory = &v
	}
	if lastSyncedAt.Valid {
		t := lastSyncedAt.Time
		r.LastSyncedAt = &t
	}
	return &r, nil
}
