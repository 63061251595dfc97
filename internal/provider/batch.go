package provider

import (
	"errors"
	"fmt"
	"strings"

	"chansync/internal/models"
)

const CodeDuplicateItem = "DUPLICATE_ITEM"

// ItemKey identifies an item inside one date batch by its provider codes.
type ItemKey struct {
	RoomTypeCode string
	RatePlanCode string
}

func (k ItemKey) String() string {
	return k.RoomTypeCode + "/" + k.RatePlanCode
}

type PreparedItem struct {
	Key    ItemKey
	Record *models.RateInventoryRecord
}

// ItemError is a per-item failure reported inside a successful provider response.
type ItemError struct {
	RoomTypeCode string
	RatePlanCode string
	Code         string
	Message      string
}

// PrepareBatch maps records to provider codes and keeps one record per key.
// When two records collide, the most recently updated one is sent and the
// other is rejected without retry, since the provider could not tell them apart.
func PrepareBatch(records []*models.RateInventoryRecord, channel models.ChannelConfig) ([]PreparedItem, []models.SyncError) {
	items := make([]PreparedItem, 0, len(records))
	index := make(map[ItemKey]int, len(records))
	var rejected []models.SyncError

	for _, r := range records {
		key := ItemKey{
			RoomTypeCode: channel.RoomTypeCode(r.RoomType),
			RatePlanCode: channel.RatePlanCode(r.RatePlan),
		}
		pos, seen := index[key]
		if !seen {
			index[key] = len(items)
			items = append(items, PreparedItem{Key: key, Record: r})
			continue
		}

		loser, winner := r, items[pos].Record
		if r.UpdatedAt.After(winner.UpdatedAt) {
			loser, winner = winner, r
			items[pos].Record = r
		}
		rejected = append(rejected, models.SyncError{
			RecordID: loser.ID,
			Code:     CodeDuplicateItem,
			Message: fmt.Sprintf("duplicate %s on %s, superseded by record %s",
				key, loser.DateKey(), winner.ID),
		})
	}
	return items, rejected
}

// FailAll reports every record as failed with the same cause.
func FailAll(records []*models.RateInventoryRecord, cause error, c Classifier) models.BatchResult {
	retryable := c.IsRetryable(cause)
	code := ""
	var perr *Error
	if errors.As(cause, &perr) {
		code = perr.Code
	}

	res := models.BatchResult{FailedCount: len(records), Errors: make([]models.SyncError, 0, len(records))}
	for _, r := range records {
		res.Errors = append(res.Errors, models.SyncError{
			RecordID:  r.ID,
			Message:   cause.Error(),
			Code:      code,
			Retryable: retryable,
		})
	}
	return res
}

// FailItems is FailAll for prepared items.
func FailItems(items []PreparedItem, cause error, c Classifier) models.BatchResult {
	records := make([]*models.RateInventoryRecord, len(items))
	for i, it := range items {
		records[i] = it.Record
	}
	return FailAll(records, cause, c)
}

// MatchItemErrors attributes provider item errors to the records that were sent.
// Errors that match no sent item are returned separately for the caller to log.
func MatchItemErrors(items []PreparedItem, itemErrs []ItemError, c Classifier) (models.BatchResult, []ItemError) {
	byKey := make(map[ItemKey]*models.RateInventoryRecord, len(items))
	for _, it := range items {
		byKey[it.Key] = it.Record
	}

	var (
		unmatched []ItemError
		order     []string
		failed    = make(map[string]*models.SyncError)
	)
	for _, ie := range itemErrs {
		rec, ok := byKey[ItemKey{RoomTypeCode: ie.RoomTypeCode, RatePlanCode: ie.RatePlanCode}]
		if !ok {
			unmatched = append(unmatched, ie)
			continue
		}
		msg := ie.Message
		if ie.Code != "" {
			msg = fmt.Sprintf("[%s] %s", ie.Code, ie.Message)
		}
		if existing, dup := failed[rec.ID]; dup {
			existing.Message += "; " + msg
			existing.Retryable = existing.Retryable && c.IsTransientCode(ie.Code)
			continue
		}
		failed[rec.ID] = &models.SyncError{
			RecordID:  rec.ID,
			Message:   strings.TrimSpace(msg),
			Code:      ie.Code,
			Retryable: c.IsTransientCode(ie.Code),
		}
		order = append(order, rec.ID)
	}

	res := models.BatchResult{
		SyncedCount: len(items) - len(failed),
		FailedCount: len(failed),
	}
	for _, id := range order {
		res.Errors = append(res.Errors, *failed[id])
	}
	return res, unmatched
}

// WithRejected folds records rejected before the call into a batch result.
func WithRejected(res models.BatchResult, rejected []models.SyncError) models.BatchResult {
	if len(rejected) == 0 {
		return res
	}
	res.FailedCount += len(rejected)
	res.Errors = append(res.Errors, rejected...)
	return res
}
