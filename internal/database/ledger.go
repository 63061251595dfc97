package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"chansync/internal/domain"
	"chansync/internal/models"
)

const cancelledSummary = "cancelled before processing"

const ledgerColumns = `sync_id, parent_sync_id, property_id, channel_id, operation, priority, requested_by,
                       retry_count, status, total_records, success_count, failed_count, error_summary,
                       created_at, started_at, completed_at, duration_ms`

// CreateLedgerEntry inserts a new PENDING entry.
func (db *DB) CreateLedgerEntry(ctx context.Context, e *models.SyncLedgerEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	e.Status = models.SyncStatusPending

	query := `INSERT INTO sync_ledger (sync_id, parent_sync_id, property_id, channel_id, operation, priority,
                  requested_by, retry_count, status, total_records, created_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, query,
		e.SyncID,
		e.ParentSyncID,
		e.PropertyID,
		e.ChannelID,
		string(e.Operation),
		string(e.Priority),
		e.RequestedBy,
		e.RetryCount,
		string(e.Status),
		e.TotalRecords,
		e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create ledger entry %s: %w", e.SyncID, err)
	}
	return nil
}

// MarkInProgress moves a PENDING entry to IN_PROGRESS.
func (db *DB) MarkInProgress(ctx context.Context, syncID string, at time.Time) error {
	return db.transition(ctx, syncID,
		[]models.SyncStatus{models.SyncStatusPending},
		`status = ?, started_at = ?`,
		string(models.SyncStatusInProgress), at.UTC(),
	)
}

// CompleteLedgerEntry applies the terminal outcome of an IN_PROGRESS entry.
// The update is rejected unless the counts add up to total_records.
func (db *DB) CompleteLedgerEntry(ctx context.Context, syncID string, outcome models.SyncOutcome) error {
	if !outcome.Status.IsTerminal() || outcome.Status == models.SyncStatusCancelled {
		return fmt.Errorf("ledger %s: %s is not a completion status: %w", syncID, outcome.Status, domain.ErrInvalidTransition)
	}

	query := `UPDATE sync_ledger
              SET status = ?, success_count = ?, failed_count = ?, error_summary = ?, completed_at = ?, duration_ms = ?
              WHERE sync_id = ? AND status = ? AND total_records = ?`
	res, err := db.ExecContext(ctx, query,
		string(outcome.Status),
		outcome.SuccessCount,
		outcome.FailedCount,
		outcome.ErrorSummary,
		outcome.CompletedAt.UTC(),
		outcome.DurationMs,
		syncID,
		string(models.SyncStatusInProgress),
		outcome.SuccessCount+outcome.FailedCount,
	)
	if err != nil {
		return fmt.Errorf("failed to complete ledger entry %s: %w", syncID, err)
	}
	return db.checkTransition(ctx, res, syncID)
}

// FailPendingEntry marks a PENDING entry FAILED without it ever reaching a worker.
// All records are counted failed.
func (db *DB) FailPendingEntry(ctx context.Context, syncID, summary string, at time.Time) error {
	return db.transition(ctx, syncID,
		[]models.SyncStatus{models.SyncStatusPending},
		`status = ?, success_count = 0, failed_count = total_records, error_summary = ?, completed_at = ?`,
		string(models.SyncStatusFailed), summary, at.UTC(),
	)
}

// CancelLedgerEntry marks a PENDING entry CANCELLED.
func (db *DB) CancelLedgerEntry(ctx context.Context, syncID string, at time.Time) error {
	return db.transition(ctx, syncID,
		[]models.SyncStatus{models.SyncStatusPending},
		`status = ?, success_count = 0, failed_count = total_records, error_summary = ?, completed_at = ?`,
		string(models.SyncStatusCancelled), cancelledSummary, at.UTC(),
	)
}

// AbortEntry fails an entry that was left PENDING or IN_PROGRESS by a process that went away.
func (db *DB) AbortEntry(ctx context.Context, syncID, summary string, at time.Time) error {
	return db.transition(ctx, syncID,
		[]models.SyncStatus{models.SyncStatusPending, models.SyncStatusInProgress},
		`status = ?, success_count = 0, failed_count = total_records, error_summary = ?, completed_at = ?`,
		string(models.SyncStatusFailed), summary, at.UTC(),
	)
}

func (db *DB) transition(ctx context.Context, syncID string, from []models.SyncStatus, set string, args ...interface{}) error {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(from)), ",")
	query := `UPDATE sync_ledger SET ` + set + ` WHERE sync_id = ? AND status IN (` + placeholders + `)`

	args = append(args, syncID)
	for _, s := range from {
		args = append(args, string(s))
	}

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update ledger entry %s: %w", syncID, err)
	}
	return db.checkTransition(ctx, res, syncID)
}

func (db *DB) checkTransition(ctx context.Context, res sql.Result, syncID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n > 0 {
		return nil
	}

	entry, err := db.GetLedgerEntry(ctx, syncID)
	if err != nil {
		return err
	}
	return fmt.Errorf("ledger %s is %s: %w", syncID, entry.Status, domain.ErrInvalidTransition)
}

func (db *DB) GetLedgerEntry(ctx context.Context, syncID string) (*models.SyncLedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM sync_ledger WHERE sync_id = ?`
	e, err := scanLedgerEntry(db.QueryRowContext(ctx, query, syncID))
	if err != nil {
		return nil, wrapNotFound(err, "ledger entry "+syncID)
	}
	return e, nil
}

// ListLedgerEntries returns the most recent entries for a property, optionally
// narrowed to one channel.
func (db *DB) ListLedgerEntries(ctx context.Context, propertyID, channelID string, limit int) ([]*models.SyncLedgerEntry, error) {
	if limit <= 0 {
		limit = models.DefaultStatusPageSize
	}

	query := `SELECT ` + ledgerColumns + ` FROM sync_ledger WHERE property_id = ?`
	args := []interface{}{propertyID}
	if channelID != "" {
		query += ` AND channel_id = ?`
		args = append(args, channelID)
	}
	query += ` ORDER BY created_at DESC, sync_id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.SyncLedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListStaleEntries returns entries still PENDING or IN_PROGRESS that were created before the cutoff.
func (db *DB) ListStaleEntries(ctx context.Context, before time.Time) ([]*models.SyncLedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM sync_ledger
              WHERE status IN (?, ?) AND created_at < ? ORDER BY created_at`
	rows, err := db.QueryContext(ctx, query,
		string(models.SyncStatusPending), string(models.SyncStatusInProgress), before.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list stale ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.SyncLedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanLedgerEntry(row rowScanner) (*models.SyncLedgerEntry, error) {
	var (
		e                      models.SyncLedgerEntry
		operation, priority    string
		status                 string
		startedAt, completedAt sql.NullTime
	)
	err := row.Scan(
		&e.SyncID,
		&e.ParentSyncID,
		&e.PropertyID,
		&e.ChannelID,
		&operation,
		&priority,
		&e.RequestedBy,
		&e.RetryCount,
		&status,
		&e.TotalRecords,
		&e.SuccessCount,
		&e.FailedCount,
		&e.ErrorSummary,
		&e.CreatedAt,
		&startedAt,
		&completedAt,
		&e.DurationMs,
	)
	if err != nil {
		return nil, err
	}
	e.Operation = models.Operation(operation)
	e.Priority = models.Priority(priority)
	e.Status = models.SyncStatus(status)
	if startedAt.Valid {
		t := startedAt.Time
		e.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		e.CompletedAt = &t
	}
	return &e, nil
}

func wrapNotFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return fmt.Errorf("failed to load %s: %w", what, err)
}
