// Package client calls the sync engine HTTP API. It backs the syncctl CLI.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"chansync/internal/models"
)

// APIError is a non-2xx reply from the engine.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type Client struct {
	baseURL    string
	apiKey     string
	header     string
	httpClient *http.Client
}

// New builds a client. header is the API key header name, x-api-key when empty.
func New(baseURL, apiKey, header string) *Client {
	if header == "" {
		header = "x-api-key"
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		header:     header,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) Submit(ctx context.Context, req models.SyncRequest) (models.SubmitResult, error) {
	var res models.SubmitResult
	err := c.doPost(ctx, "/api/v1/sync", req, &res)
	return res, err
}

func (c *Client) Status(ctx context.Context, propertyID, channelID string) ([]models.SyncLedgerEntry, error) {
	q := url.Values{}
	q.Set("property_id", propertyID)
	if channelID != "" {
		q.Set("channel_id", channelID)
	}
	var wrap struct {
		Entries []models.SyncLedgerEntry `json:"entries"`
	}
	if err := c.doGet(ctx, "/api/v1/sync/status?"+q.Encode(), &wrap); err != nil {
		return nil, err
	}
	return wrap.Entries, nil
}

func (c *Client) Entry(ctx context.Context, syncID string) (*models.SyncLedgerEntry, error) {
	var entry models.SyncLedgerEntry
	if err := c.doGet(ctx, "/api/v1/sync/"+url.PathEscape(syncID), &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Cancel returns how many queued syncs were cancelled.
func (c *Client) Cancel(ctx context.Context, propertyID, channelID string) (int, error) {
	body := map[string]string{"property_id": propertyID, "channel_id": channelID}
	var out struct {
		Cancelled int `json:"cancelled"`
	}
	err := c.doPost(ctx, "/api/v1/sync/cancel", body, &out)
	return out.Cancelled, err
}

func (c *Client) Queues(ctx context.Context) (models.QueueStats, error) {
	var stats models.QueueStats
	err := c.doGet(ctx, "/api/v1/sync/queues", &stats)
	return stats, err
}

func (c *Client) TestChannel(ctx context.Context, channelID string) (models.ConnectionResult, error) {
	var res models.ConnectionResult
	err := c.doPost(ctx, "/api/v1/channels/"+url.PathEscape(channelID)+"/test", struct{}{}, &res)
	return res, err
}

// Export streams the ledger workbook into w.
func (c *Client) Export(ctx context.Context, propertyID, channelID string, limit int, w io.Writer) error {
	q := url.Values{}
	q.Set("property_id", propertyID)
	if channelID != "" {
		q.Set("channel_id", channelID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/sync/export?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	c.addHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

func (c *Client) doGet(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.addHeaders(req)
	return c.do(req, out)
}

func (c *Client) doPost(ctx context.Context, path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.addHeaders(req)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err == nil && env.Error != nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
	}
	return apiErr
}

func (c *Client) addHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(c.header, c.apiKey)
	}
}
