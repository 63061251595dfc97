package worker

import (
	"fmt"
	"strings"

	"chansync/internal/models"
)

const (
	codeRecordNotFound = "RECORD_NOT_FOUND"
	codeStoreFailure   = "RECORD_STORE_UNAVAILABLE"
	codeNoProvider     = "PROVIDER_NOT_REGISTERED"

	maxSummaryLen = 4000
)

// Merge folds per-date results into one job result.
func Merge(parts ...models.BatchResult) models.BatchResult {
	var out models.BatchResult
	for _, p := range parts {
		out.SyncedCount += p.SyncedCount
		out.FailedCount += p.FailedCount
		out.Errors = append(out.Errors, p.Errors...)
	}
	return out
}

// reconcile forces a provider result to describe exactly the records of its
// group: errors for foreign records are dropped, repeated errors for one
// record are collapsed and the counts are derived from what is left.
func reconcile(group []*models.RateInventoryRecord, res models.BatchResult) (models.BatchResult, bool) {
	inGroup := make(map[string]bool, len(group))
	for _, r := range group {
		inGroup[r.ID] = true
	}

	seen := make(map[string]bool, len(res.Errors))
	errs := make([]models.SyncError, 0, len(res.Errors))
	for _, e := range res.Errors {
		if !inGroup[e.RecordID] || seen[e.RecordID] {
			continue
		}
		seen[e.RecordID] = true
		errs = append(errs, e)
	}

	out := models.BatchResult{
		SyncedCount: len(group) - len(errs),
		FailedCount: len(errs),
		Errors:      errs,
	}
	consistent := out.SyncedCount == res.SyncedCount && out.FailedCount == res.FailedCount
	return out, consistent
}

// failJob reports every requested record as failed for a cause that
// prevented the job from reaching any provider.
func failJob(recordIDs []string, code, msg string, retryable bool) models.BatchResult {
	res := models.BatchResult{FailedCount: len(recordIDs), Errors: make([]models.SyncError, 0, len(recordIDs))}
	for _, id := range recordIDs {
		res.Errors = append(res.Errors, models.SyncError{
			RecordID:  id,
			Message:   msg,
			Code:      code,
			Retryable: retryable,
		})
	}
	return res
}

// missingRecords fails the requested IDs the record store did not return.
func missingRecords(requested []string, found []*models.RateInventoryRecord) models.BatchResult {
	have := make(map[string]bool, len(found))
	for _, r := range found {
		have[r.ID] = true
	}
	var missing []string
	for _, id := range requested {
		if !have[id] {
			missing = append(missing, id)
		}
	}
	return failJob(missing, codeRecordNotFound, "record not found for property", false)
}

type retryNote struct {
	retrySyncID string
	abandoned   bool
	reason      string
}

// summarize renders the human-readable error summary stored in the ledger.
func summarize(errs []models.SyncError, notes map[string]retryNote) string {
	if len(errs) == 0 {
		return ""
	}

	var b strings.Builder
	for i, e := range errs {
		line := fmt.Sprintf("%s: %s", e.RecordID, e.Message)
		if e.Code != "" {
			line += fmt.Sprintf(" [%s]", e.Code)
		}
		if n, ok := notes[e.RecordID]; ok {
			switch {
			case n.abandoned:
				line += " (" + n.reason + ")"
			case n.retrySyncID != "":
				line += " (retry " + n.retrySyncID + ")"
			}
		}

		if b.Len()+len(line)+2 > maxSummaryLen {
			fmt.Fprintf(&b, "; ... and %d more", len(errs)-i)
			break
		}
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(line)
	}
	return b.String()
}
