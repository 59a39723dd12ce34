package google

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"tablesync/internal/config"
	"tablesync/internal/models"
	"tablesync/internal/sink"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// Cell values are stored as given; strings are never parsed as formulas or
// dates by Sheets.
const valueInputOption = "RAW"

var plainSheetName = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// SheetsSink writes records into Google Sheets. Row 1 of every target sheet
// is the header; data starts at row 2.
type SheetsSink struct {
	service *sheets.Service
	limiter *rate.Limiter
	logger  zerolog.Logger
}

func NewSheetsSink(ctx context.Context, cfg config.GoogleConfig, logger *zerolog.Logger) (*SheetsSink, error) {
	credentialsJSON, err := os.ReadFile(cfg.CredentialsFile)
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

	return NewSheetsSinkWithService(srv, cfg.RequestsPerSecond, cfg.Burst, logger), nil
}

// NewSheetsSinkWithService wraps an existing client. rps <= 0 disables throttling.
func NewSheetsSinkWithService(srv *sheets.Service, rps float64, burst int, logger *zerolog.Logger) *SheetsSink {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst <= 0 {
		burst = 1
	}
	return &SheetsSink{
		service: srv,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.With().Str("component", "google_sink").Logger(),
	}
}

// ServiceAccountEmail reads client_email from a credentials file.
func ServiceAccountEmail(credentialsFile string) (string, error) {
	file, err := os.ReadFile(credentialsFile)
	if err != nil {
		return "", err
	}
	var creds struct {
		ClientEmail string `json:"client_email"`
	}
	if err := json.Unmarshal(file, &creds); err != nil {
		return "", err
	}
	return creds.ClientEmail, nil
}

func a1(sheet, rng string) string {
	if plainSheetName.MatchString(sheet) {
		return sheet + "!" + rng
	}
	return "'" + strings.ReplaceAll(sheet, "'", "''") + "'!" + rng
}

func (s *SheetsSink) wait(ctx context.Context) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("sheets rate limiter: %w", err)
	}
	return nil
}

// TestConnection reads the header of ref.
func (s *SheetsSink) TestConnection(ctx context.Context, ref models.SheetRef) error {
	if _, err := s.readHeader(ctx, ref); err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

func (s *SheetsSink) readHeader(ctx context.Context, ref models.SheetRef) ([]string, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := s.service.Spreadsheets.Values.Get(ref.SpreadsheetID, a1(ref.Sheet, "1:1")).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("unable to read header: %w", err)
	}
	if len(resp.Values) == 0 {
		return nil, nil
	}
	return sink.HeaderStrings(resp.Values[0]), nil
}

func (s *SheetsSink) writeHeader(ctx context.Context, ref models.SheetRef, header []string) error {
	row := make([]interface{}, len(header))
	for i, h := range header {
		row[i] = h
	}
	if err := s.wait(ctx); err != nil {
		return err
	}
	_, err := s.service.Spreadsheets.Values.Update(ref.SpreadsheetID, a1(ref.Sheet, "A1"), &sheets.ValueRange{
		Values: [][]interface{}{row},
	}).ValueInputOption(valueInputOption).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("unable to update header: %w", err)
	}
	return nil
}

// layout merges the header with the record fields and renders the rows.
func (s *SheetsSink) layout(ctx context.Context, ref models.SheetRef, records []*models.Record) ([][]interface{}, error) {
	header, err := s.readHeader(ctx, ref)
	if err != nil {
		return nil, err
	}
	merged, grew := sink.MergeHeader(header, records)
	if grew {
		if err := s.writeHeader(ctx, ref, merged); err != nil {
			return nil, err
		}
		s.logger.Debug().Str("target", ref.String()).Strs("header", merged).Msg("Header extended")
	}

	values := make([][]interface{}, 0, len(records))
	for _, rec := range records {
		values = append(values, sink.RowValues(merged, rec))
	}
	return values, nil
}

// GetFieldTypes derives column types from the header names in row 1 and the
// cell formats of row 2. Columns without a recognizable format are omitted.
func (s *SheetsSink) GetFieldTypes(ctx context.Context, ref models.SheetRef) (map[string]models.FieldType, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := s.service.Spreadsheets.Get(ref.SpreadsheetID).
		Ranges(a1(ref.Sheet, "1:2")).
		IncludeGridData(true).
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("unable to read sheet metadata: %w", err)
	}

	types := make(map[string]models.FieldType)
	for _, sh := range resp.Sheets {
		if sh.Properties != nil && sh.Properties.Title != ref.Sheet {
			continue
		}
		for _, grid := range sh.Data {
			if len(grid.RowData) < 2 {
				continue
			}
			names := grid.RowData[0].Values
			formats := grid.RowData[1].Values
			for i, cell := range names {
				if cell == nil || cell.FormattedValue == "" || i >= len(formats) {
					continue
				}
				if ft, ok := cellFieldType(formats[i]); ok {
					types[cell.FormattedValue] = ft
				}
			}
		}
	}
	return types, nil
}

func cellFieldType(cell *sheets.CellData) (models.FieldType, bool) {
	if cell == nil {
		return "", false
	}
	if cell.DataValidation != nil && cell.DataValidation.Condition != nil &&
		cell.DataValidation.Condition.Type == "BOOLEAN" {
		return models.FieldTypeBoolean, true
	}

	var nf *sheets.NumberFormat
	switch {
	case cell.UserEnteredFormat != nil && cell.UserEnteredFormat.NumberFormat != nil:
		nf = cell.UserEnteredFormat.NumberFormat
	case cell.EffectiveFormat != nil && cell.EffectiveFormat.NumberFormat != nil:
		nf = cell.EffectiveFormat.NumberFormat
	default:
		return "", false
	}

	switch nf.Type {
	case "NUMBER", "CURRENCY", "PERCENT", "SCIENTIFIC":
		return models.FieldTypeNumber, true
	case "DATE", "TIME", "DATE_TIME":
		return models.FieldTypeDatetime, true
	case "TEXT":
		return models.FieldTypeText, true
	}
	return "", false
}

// Clear removes every data row and keeps the header.
func (s *SheetsSink) Clear(ctx context.Context, ref models.SheetRef) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	_, err := s.service.Spreadsheets.Values.Clear(ref.SpreadsheetID, a1(ref.Sheet, "A2:ZZZ"), &sheets.ClearValuesRequest{}).
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("unable to clear sheet: %w", err)
	}
	s.logger.Debug().Str("target", ref.String()).Msg("Sheet cleared")
	return nil
}

// Write places records starting at row 2.
func (s *SheetsSink) Write(ctx context.Context, ref models.SheetRef, records []*models.Record) error {
	values, err := s.layout(ctx, ref, records)
	if err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}
	if err := s.wait(ctx); err != nil {
		return err
	}
	_, err = s.service.Spreadsheets.Values.Update(ref.SpreadsheetID, a1(ref.Sheet, "A2"), &sheets.ValueRange{
		Values: values,
	}).ValueInputOption(valueInputOption).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("unable to write rows: %w", err)
	}
	s.logger.Debug().Str("target", ref.String()).Int("rows", len(values)).Msg("Rows written")
	return nil
}

// Append adds records after the last data row.
func (s *SheetsSink) Append(ctx context.Context, ref models.SheetRef, records []*models.Record) error {
	values, err := s.layout(ctx, ref, records)
	if err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}
	if err := s.wait(ctx); err != nil {
		return err
	}
	_, err = s.service.Spreadsheets.Values.Append(ref.SpreadsheetID, a1(ref.Sheet, "A1"), &sheets.ValueRange{
		Values: values,
	}).ValueInputOption(valueInputOption).InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("unable to append rows: %w", err)
	}
	s.logger.Debug().Str("target", ref.String()).Int("rows", len(values)).Msg("Rows appended")
	return nil
}
