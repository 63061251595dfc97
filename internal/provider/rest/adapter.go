// Package rest is the reference channel-manager adapter speaking a JSON ARI
// (availability, rates, inventory) API over HTTPS.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chansync/internal/config"
	"chansync/internal/models"
	"chansync/internal/provider"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	HeaderCorrelationID   = "X-Correlation-ID"
	HeaderProtocolVersion = "X-Protocol-Version"

	maxErrorBody = 64 << 10
)

type Adapter struct {
	kind            string
	baseURL         string
	apiKey          string
	protocolVersion string
	timeout         time.Duration

	client     *http.Client
	limiter    *rate.Limiter
	classifier provider.Classifier
	logger     zerolog.Logger
	newID      func() string
}

func New(cfg config.RESTProviderConfig, logger *zerolog.Logger) *Adapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = models.ProviderCallTimeout
	}
	kind := cfg.Type
	if kind == "" {
		kind = models.ProviderREST
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Adapter{
		kind:            kind,
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:          cfg.APIKey,
		protocolVersion: cfg.ProtocolVersion,
		timeout:         timeout,
		client:          &http.Client{Timeout: timeout},
		limiter:         rate.NewLimiter(limit, burst),
		classifier:      provider.NewClassifier(cfg.TransientCodes),
		logger:          logger.With().Str("component", "rest_adapter").Str("provider", kind).Logger(),
		newID:           func() string { return uuid.NewString() },
	}
}

func (a *Adapter) Type() string { return a.kind }

type ariItem struct {
	RoomTypeCode      string   `json:"roomTypeCode"`
	RatePlanCode      string   `json:"ratePlanCode"`
	Rate              *float64 `json:"rate,omitempty"`
	Inventory         *int     `json:"inventory,omitempty"`
	MinStay           int      `json:"minStay,omitempty"`
	MaxStay           int      `json:"maxStay,omitempty"`
	ClosedToArrival   bool     `json:"closedToArrival"`
	ClosedToDeparture bool     `json:"closedToDeparture"`
	StopSell          bool     `json:"stopSell"`
}

type deleteItem struct {
	RoomTypeCode string `json:"roomTypeCode"`
	RatePlanCode string `json:"ratePlanCode"`
}

type upsertRequest struct {
	HotelID  string    `json:"hotelId"`
	Date     string    `json:"date"`
	Currency string    `json:"currency,omitempty"`
	Items    []ariItem `json:"items"`
}

type deleteRequest struct {
	HotelID string       `json:"hotelId"`
	Date    string       `json:"date"`
	Items   []deleteItem `json:"items"`
}

type itemError struct {
	RoomTypeCode string `json:"roomTypeCode"`
	RatePlanCode string `json:"ratePlanCode"`
	Code         string `json:"code"`
	Message      string `json:"message"`
}

// batchResponse is the 2xx reply body. Success is only an explicit verdict
// when present; an empty body or a missing field means the batch was accepted.
type batchResponse struct {
	Success *bool       `json:"success,omitempty"`
	Errors  []itemError `json:"errors"`
}

func (r *batchResponse) rejected() bool {
	return r.Success != nil && !*r.Success && len(r.Errors) == 0
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (a *Adapter) SyncBatch(
	ctx context.Context,
	date time.Time,
	records []*models.RateInventoryRecord,
	channel models.ChannelConfig,
	op models.Operation,
) models.BatchResult {
	items, rejected := provider.PrepareBatch(records, channel)
	if len(items) == 0 {
		return provider.WithRejected(models.BatchResult{}, rejected)
	}

	dateKey := date.UTC().Format(models.DateLayout)
	endpoint, body := a.buildRequest(dateKey, items, channel, op)
	payload, err := json.Marshal(body)
	if err != nil {
		return provider.WithRejected(provider.FailItems(items, fmt.Errorf("encode request: %w", err), a.classifier), rejected)
	}

	correlationID := a.newID()
	log := a.logger.With().
		Str("correlation_id", correlationID).
		Str("channel_id", channel.ChannelID).
		Str("date", dateKey).
		Str("operation", string(op)).
		Int("items", len(items)).
		Logger()

	start := time.Now()
	resp, err := a.do(ctx, http.MethodPost, endpoint, correlationID, payload)
	if err != nil {
		log.Warn().Err(err).Dur("took", time.Since(start)).Msg("Batch call failed")
		return provider.WithRejected(provider.FailItems(items, err, a.classifier), rejected)
	}

	result, unmatched := provider.MatchItemErrors(items, toItemErrors(resp.Errors), a.classifier)
	if resp.rejected() {
		cause := &provider.Error{StatusCode: http.StatusOK, Code: "REJECTED", Message: "provider reported failure without item errors"}
		result = provider.FailItems(items, cause, a.classifier)
	}
	for _, u := range unmatched {
		log.Warn().
			Str("room_type_code", u.RoomTypeCode).
			Str("rate_plan_code", u.RatePlanCode).
			Str("code", u.Code).
			Str("message", u.Message).
			Msg("Dropping provider error that matches no sent item")
	}

	log.Debug().
		Int("synced", result.SyncedCount).
		Int("failed", result.FailedCount).
		Dur("took", time.Since(start)).
		Msg("Batch call completed")

	return provider.WithRejected(result, rejected)
}

func (a *Adapter) buildRequest(date string, items []provider.PreparedItem, channel models.ChannelConfig, op models.Operation) (string, interface{}) {
	hotelPath := a.baseURL + "/v1/hotels/" + url.PathEscape(channel.HotelID) + "/ari"

	if !op.IsUpsert() {
		req := deleteRequest{HotelID: channel.HotelID, Date: date, Items: make([]deleteItem, 0, len(items))}
		for _, it := range items {
			req.Items = append(req.Items, deleteItem{RoomTypeCode: it.Key.RoomTypeCode, RatePlanCode: it.Key.RatePlanCode})
		}
		return hotelPath + "/delete", req
	}

	req := upsertRequest{HotelID: channel.HotelID, Date: date, Currency: channel.Currency, Items: make([]ariItem, 0, len(items))}
	for _, it := range items {
		r := it.Record
		req.Items = append(req.Items, ariItem{
			RoomTypeCode:      it.Key.RoomTypeCode,
			RatePlanCode:      it.Key.RatePlanCode,
			Rate:              r.Rate,
			Inventory:         r.Inventory,
			MinStay:           r.MinStay,
			MaxStay:           r.MaxStay,
			ClosedToArrival:   r.ClosedToArrival,
			ClosedToDeparture: r.ClosedToDeparture,
			StopSell:          r.StopSell,
		})
	}
	return hotelPath, req
}

// do performs one call and decodes a 2xx batch response. Non-2xx answers become *provider.Error.
func (a *Adapter) do(ctx context.Context, method, endpoint, correlationID string, payload []byte) (*batchResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if err := a.limiter.Wait(ctx); err != nil {
		return nil, &provider.Error{Message: "rate limiter", Err: err}
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, &provider.Error{Code: "BAD_REQUEST", Message: err.Error()}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}
	req.Header.Set(HeaderCorrelationID, correlationID)
	req.Header.Set(HeaderProtocolVersion, a.protocolVersion)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &provider.Error{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, decodeError(resp)
	}

	var out batchResponse
	if resp.StatusCode == http.StatusNoContent {
		return &out, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if errors.Is(err, io.EOF) {
			return &out, nil
		}
		return nil, &provider.Error{StatusCode: resp.StatusCode, Code: "INVALID_RESPONSE", Message: "undecodable response body", Err: err}
	}
	return &out, nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	perr := &provider.Error{StatusCode: resp.StatusCode}

	var er errorResponse
	if json.Unmarshal(raw, &er) == nil {
		perr.Code = er.Code
		perr.Message = er.Message
		if perr.Message == "" {
			perr.Message = er.Error
		}
	}
	if perr.Message == "" {
		perr.Message = strings.TrimSpace(string(raw))
	}
	if perr.Message == "" {
		perr.Message = http.StatusText(resp.StatusCode)
	}
	return perr
}

func toItemErrors(in []itemError) []provider.ItemError {
	out := make([]provider.ItemError, 0, len(in))
	for _, e := range in {
		out = append(out, provider.ItemError{
			RoomTypeCode: e.RoomTypeCode,
			RatePlanCode: e.RatePlanCode,
			Code:         e.Code,
			Message:      e.Message,
		})
	}
	return out
}

func (a *Adapter) TestConnection(ctx context.Context) models.ConnectionResult {
	if a.baseURL == "" {
		return models.ConnectionResult{Success: false, Message: "base url is not configured"}
	}
	start := time.Now()
	if _, err := a.do(ctx, http.MethodGet, a.baseURL+"/v1/ping", a.newID(), nil); err != nil {
		return models.ConnectionResult{Success: false, Message: err.Error()}
	}
	return models.ConnectionResult{
		Success: true,
		Message: fmt.Sprintf("%s reachable in %s", a.baseURL, time.Since(start).Round(time.Millisecond)),
	}
}
