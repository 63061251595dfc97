// Package sheets publishes rate and availability rows to a Google Sheets
// spreadsheet per channel. Channels using it store the spreadsheet ID as hotel ID.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"chansync/internal/config"
	"chansync/internal/models"
	"chansync/internal/provider"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

var header = []interface{}{
	"Date", "Room Type", "Rate Plan", "Rate", "Inventory", "Min Stay", "Max Stay",
	"CTA", "CTD", "Stop Sell", "Operation", "Record ID", "Synced At",
}

type Adapter struct {
	service            *sheets.Service
	sheetName          string
	defaultSpreadsheet string
	timeout            time.Duration
	classifier         provider.Classifier
	logger             zerolog.Logger
	now                func() time.Time
}

// NewService builds a Sheets client from a service-account credentials file.
func NewService(ctx context.Context, credentialsFile string) (*sheets.Service, error) {
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	jwtConfig, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(jwtConfig.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}
	return srv, nil
}

func New(service *sheets.Service, cfg config.SheetsProviderConfig, logger *zerolog.Logger) *Adapter {
	sheetName := cfg.SheetName
	if sheetName == "" {
		sheetName = "ARI"
	}
	return &Adapter{
		service:            service,
		sheetName:          sheetName,
		defaultSpreadsheet: cfg.SpreadsheetID,
		timeout:            models.ProviderCallTimeout,
		classifier:         provider.NewClassifier(cfg.TransientCodes),
		logger:             logger.With().Str("component", "sheets_adapter").Logger(),
		now:                time.Now,
	}
}

func (a *Adapter) Type() string { return models.ProviderSheets }

func (a *Adapter) spreadsheetFor(channel models.ChannelConfig) string {
	if channel.HotelID != "" {
		return channel.HotelID
	}
	return a.defaultSpreadsheet
}

// SyncBatch appends one row per item with a single Values.Append call.
// Sheets has no per-row error reporting, so a batch either lands or fails as a whole.
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

	spreadsheetID := a.spreadsheetFor(channel)
	if spreadsheetID == "" {
		cause := &provider.Error{Code: "NO_SPREADSHEET", Message: "channel has no spreadsheet id"}
		return provider.WithRejected(provider.FailItems(items, cause, a.classifier), rejected)
	}

	dateKey := date.UTC().Format(models.DateLayout)
	syncedAt := a.now().UTC().Format(time.RFC3339)
	values := make([][]interface{}, 0, len(items))
	for _, it := range items {
		values = append(values, rowValues(dateKey, it, op, syncedAt))
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	rangeData := fmt.Sprintf("%s!A:M", a.sheetName)
	_, err := a.service.Spreadsheets.Values.Append(spreadsheetID, rangeData, &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		perr := toProviderError(err)
		a.logger.Warn().Err(perr).
			Str("channel_id", channel.ChannelID).
			Str("date", dateKey).
			Int("items", len(items)).
			Msg("Append failed")
		return provider.WithRejected(provider.FailItems(items, perr, a.classifier), rejected)
	}

	return provider.WithRejected(models.BatchResult{SyncedCount: len(items)}, rejected)
}

func rowValues(date string, it provider.PreparedItem, op models.Operation, syncedAt string) []interface{} {
	r := it.Record
	var rate, inventory interface{} = "", ""
	if r.Rate != nil {
		rate = *r.Rate
	}
	if r.Inventory != nil {
		inventory = *r.Inventory
	}
	return []interface{}{
		date,
		it.Key.RoomTypeCode,
		it.Key.RatePlanCode,
		rate,
		inventory,
		r.MinStay,
		r.MaxStay,
		r.ClosedToArrival,
		r.ClosedToDeparture,
		r.StopSell,
		string(op),
		r.ID,
		syncedAt,
	}
}

func toProviderError(err error) *provider.Error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		perr := &provider.Error{StatusCode: gerr.Code, Message: gerr.Message, Err: err}
		if len(gerr.Errors) > 0 {
			perr.Code = gerr.Errors[0].Reason
		}
		return perr
	}
	return &provider.Error{Err: err}
}

// EnsureHeader writes the column header into the first row of the sheet.
func (a *Adapter) EnsureHeader(ctx context.Context, spreadsheetID string) error {
	rangeData := fmt.Sprintf("%s!A1:M1", a.sheetName)
	_, err := a.service.Spreadsheets.Values.Update(spreadsheetID, rangeData, &sheets.ValueRange{
		Values: [][]interface{}{header},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	return nil
}

func (a *Adapter) TestConnection(ctx context.Context) models.ConnectionResult {
	if a.defaultSpreadsheet == "" {
		return models.ConnectionResult{Success: false, Message: "no spreadsheet configured"}
	}
	_, err := a.service.Spreadsheets.Values.Get(a.defaultSpreadsheet, a.sheetName+"!A1").Context(ctx).Do()
	if err != nil {
		return models.ConnectionResult{Success: false, Message: fmt.Sprintf("connection test failed: %v", toProviderError(err))}
	}
	return models.ConnectionResult{Success: true, Message: "spreadsheet " + a.defaultSpreadsheet + " reachable"}
}
