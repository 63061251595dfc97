package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"chansync/internal/export"
	"chansync/internal/models"

	"github.com/go-chi/chi/v5"
)

const (
	maxBodyBytes   = 1 << 20
	maxExportLimit = 10000
)

type submitRequest struct {
	PropertyID  string   `json:"property_id"`
	ChannelID   string   `json:"channel_id"`
	RecordIDs   []string `json:"record_ids"`
	Operation   string   `json:"operation"`
	Priority    string   `json:"priority"`
	RequestedBy string   `json:"requested_by"`
}

type scopeRequest struct {
	PropertyID string `json:"property_id"`
	ChannelID  string `json:"channel_id"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return err
	}
	if decoder.More() {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

func (s *HTTPServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body submitRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid JSON body: "+err.Error(), nil)
		return
	}

	requestedBy := strings.TrimSpace(body.RequestedBy)
	if requestedBy == "" {
		if client, ok := clientFromContext(r.Context()); ok {
			requestedBy = client.Name
		}
	}

	req := models.SyncRequest{
		PropertyID:  body.PropertyID,
		ChannelID:   body.ChannelID,
		RecordIDs:   body.RecordIDs,
		Operation:   models.Operation(body.Operation),
		Priority:    models.Priority(body.Priority),
		RequestedBy: requestedBy,
	}

	res, err := s.svc.SubmitSync(r.Context(), req)
	if err != nil {
		var details interface{}
		if res.SyncID != "" {
			details = map[string]string{"sync_id": res.SyncID}
		}
		writeServiceError(w, err, details)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries, err := s.svc.GetStatus(r.Context(), strings.TrimSpace(q.Get("property_id")), strings.TrimSpace(q.Get("channel_id")))
	if err != nil {
		writeServiceError(w, err, nil)
		return
	}
	if entries == nil {
		entries = []*models.SyncLedgerEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

func (s *HTTPServer) handleEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := s.svc.GetEntry(r.Context(), chi.URLParam(r, "syncID"))
	if err != nil {
		writeServiceError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *HTTPServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	var body scopeRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid JSON body: "+err.Error(), nil)
		return
	}

	n, err := s.svc.CancelPending(r.Context(), strings.TrimSpace(body.PropertyID), strings.TrimSpace(body.ChannelID))
	if err != nil {
		writeServiceError(w, err, map[string]int{"cancelled": n})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cancelled": n})
}

func (s *HTTPServer) handleQueues(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.GetQueueStats(r.Context())
	if err != nil {
		writeServiceError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	propertyID := strings.TrimSpace(q.Get("property_id"))
	channelID := strings.TrimSpace(q.Get("channel_id"))

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxExportLimit {
			writeError(w, http.StatusBadRequest, codeInvalidRequest,
				fmt.Sprintf("limit must be between 1 and %d", maxExportLimit), nil)
			return
		}
		limit = n
	}

	entries, err := s.svc.ExportEntries(r.Context(), propertyID, channelID, limit)
	if err != nil {
		writeServiceError(w, err, nil)
		return
	}

	title := "Sync ledger: " + propertyID
	if channelID != "" {
		title += " / " + channelID
	}

	// render fully before writing headers so a failure can still produce a JSON error
	var buf bytes.Buffer
	if err := export.WriteLedger(&buf, title, entries); err != nil {
		s.logger.Error().Err(err).Msg("render ledger export")
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to render export", nil)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, export.FileName(propertyID, time.Now())))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, &buf)
}

func (s *HTTPServer) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.TestConnection(r.Context(), chi.URLParam(r, "channelID"))
	if err != nil {
		writeServiceError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
