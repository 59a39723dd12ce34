package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"tablesync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// fakeSheet emulates one sheet of the Values API: row 1 is header, the rest data.
type fakeSheet struct {
	mu      sync.Mutex
	header  []interface{}
	rows    [][]interface{}
	formats map[int]string
	calls   []string
	inputs  []string
}

func (f *fakeSheet) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		path := r.URL.Path
		f.calls = append(f.calls, r.Method+" "+path)
		if opt := r.URL.Query().Get("valueInputOption"); opt != "" {
			f.inputs = append(f.inputs, opt)
		}

		switch {
		case r.Method == http.MethodGet && strings.HasSuffix(path, "/values/Orders!1:1"):
			resp := sheets.ValueRange{}
			if len(f.header) > 0 {
				resp.Values = [][]interface{}{f.header}
			}
			_ = json.NewEncoder(w).Encode(resp)

		case r.Method == http.MethodPut && strings.HasSuffix(path, "/values/Orders!A1"):
			var vr sheets.ValueRange
			require.NoError(t, json.NewDecoder(r.Body).Decode(&vr))
			f.header = vr.Values[0]
			_ = json.NewEncoder(w).Encode(sheets.UpdateValuesResponse{})

		case r.Method == http.MethodPut && strings.HasSuffix(path, "/values/Orders!A2"):
			var vr sheets.ValueRange
			require.NoError(t, json.NewDecoder(r.Body).Decode(&vr))
			for i, row := range vr.Values {
				if i < len(f.rows) {
					f.rows[i] = row
				} else {
					f.rows = append(f.rows, row)
				}
			}
			_ = json.NewEncoder(w).Encode(sheets.UpdateValuesResponse{UpdatedRows: int64(len(vr.Values))})

		case r.Method == http.MethodPost && strings.HasSuffix(path, "/values/Orders!A1:append"):
			assert.Equal(t, "INSERT_ROWS", r.URL.Query().Get("insertDataOption"))
			var vr sheets.ValueRange
			require.NoError(t, json.NewDecoder(r.Body).Decode(&vr))
			f.rows = append(f.rows, vr.Values...)
			_ = json.NewEncoder(w).Encode(sheets.AppendValuesResponse{})

		case r.Method == http.MethodPost && strings.HasSuffix(path, "/values/Orders!A2:ZZZ:clear"):
			f.rows = nil
			_ = json.NewEncoder(w).Encode(sheets.ClearValuesResponse{})

		case r.Method == http.MethodGet && strings.HasSuffix(path, "/spreadsheets/sheet-1"):
			names := &sheets.RowData{}
			formats := &sheets.RowData{}
			for i, h := range f.header {
				names.Values = append(names.Values, &sheets.CellData{FormattedValue: h.(string)})
				cell := &sheets.CellData{}
				switch kind := f.formats[i]; kind {
				case "":
				case "BOOLEAN":
					cell.DataValidation = &sheets.DataValidationRule{Condition: &sheets.BooleanCondition{Type: "BOOLEAN"}}
				default:
					cell.EffectiveFormat = &sheets.CellFormat{NumberFormat: &sheets.NumberFormat{Type: kind}}
				}
				formats.Values = append(formats.Values, cell)
			}
			_ = json.NewEncoder(w).Encode(sheets.Spreadsheet{
				SpreadsheetId: "sheet-1",
				Sheets: []*sheets.Sheet{{
					Properties: &sheets.SheetProperties{Title: "Orders"},
					Data:       []*sheets.GridData{{RowData: []*sheets.RowData{names, formats}}},
				}},
			})

		default:
			t.Logf("unexpected request %s %s", r.Method, path)
			http.Error(w, `{"error":{"code":404,"message":"not found"}}`, http.StatusNotFound)
		}
	}
}

func setupSink(t *testing.T, f *fakeSheet) *SheetsSink {
	t.Helper()
	server := httptest.NewServer(f.handler(t))
	t.Cleanup(server.Close)

	srv, err := sheets.NewService(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)

	logger := zerolog.Nop()
	return NewSheetsSinkWithService(srv, 0, 0, &logger)
}

var ordersRef = models.SheetRef{Kind: models.SinkKindGoogle, SpreadsheetID: "sheet-1", Sheet: "Orders"}

func orderRecords(n int) []*models.Record {
	out := make([]*models.Record, n)
	for i := range out {
		out[i] = models.RecordFromPairs("ID", float64(i+1), "Name", "row")
	}
	return out
}

func TestA1(t *testing.T) {
	assert.Equal(t, "Orders!A1", a1("Orders", "A1"))
	assert.Equal(t, "'Q1 Orders'!1:1", a1("Q1 Orders", "1:1"))
	assert.Equal(t, "'Bob''s'!A2", a1("Bob's", "A2"))
}

func TestSheetsSink_OverwriteReplacesRows(t *testing.T) {
	f := &fakeSheet{header: []interface{}{"ID", "Name"}}
	for i := 0; i < 5; i++ {
		f.rows = append(f.rows, []interface{}{float64(100 + i), "old"})
	}
	s := setupSink(t, f)
	ctx := context.Background()

	require.NoError(t, s.Clear(ctx, ordersRef))
	require.NoError(t, s.Write(ctx, ordersRef, orderRecords(3)))

	assert.Len(t, f.rows, 3)
	assert.Equal(t, []interface{}{float64(1), "row"}, f.rows[0])
	assert.Equal(t, []interface{}{"ID", "Name"}, f.header)
}

func TestSheetsSink_WritesRawValues(t *testing.T) {
	f := &fakeSheet{}
	sink := setupSink(t, f)
	ctx := context.Background()

	formulaish := []*models.Record{models.RecordFromPairs("ID", float64(1), "Name", "=SUM(A1:A9)")}
	require.NoError(t, sink.Write(ctx, ordersRef, formulaish))
	require.NoError(t, sink.Append(ctx, ordersRef, orderRecords(1)))

	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.inputs)
	for _, opt := range f.inputs {
		assert.Equal(t, "RAW", opt)
	}
	assert.Equal(t, "=SUM(A1:A9)", f.rows[0][1])
}

func TestSheetsSink_AppendKeepsRows(t *testing.T) {
	f := &fakeSheet{header: []interface{}{"ID", "Name"}, rows: [][]interface{}{{float64(1), "a"}, {float64(2), "b"}}}
	s := setupSink(t, f)

	require.NoError(t, s.Append(context.Background(), ordersRef, orderRecords(3)))
	assert.Len(t, f.rows, 5)
}

func TestSheetsSink_ExtendsHeader(t *testing.T) {
	f := &fakeSheet{}
	s := setupSink(t, f)

	records := []*models.Record{models.RecordFromPairs("Name", "x", "Total", float64(9))}
	require.NoError(t, s.Write(context.Background(), ordersRef, records))

	assert.Equal(t, []interface{}{"Name", "Total"}, f.header)
	assert.Equal(t, []interface{}{"x", float64(9)}, f.rows[0])
}

func TestSheetsSink_WriteNothing(t *testing.T) {
	f := &fakeSheet{header: []interface{}{"ID"}}
	s := setupSink(t, f)

	require.NoError(t, s.Write(context.Background(), ordersRef, nil))
	for _, c := range f.calls {
		assert.NotContains(t, c, "PUT")
	}
}

func TestSheetsSink_GetFieldTypes(t *testing.T) {
	f := &fakeSheet{
		header:  []interface{}{"ID", "Created", "Paid", "Note", "Plain"},
		formats: map[int]string{0: "CURRENCY", 1: "DATE_TIME", 2: "BOOLEAN", 3: "TEXT"},
	}
	s := setupSink(t, f)

	types, err := s.GetFieldTypes(context.Background(), ordersRef)
	require.NoError(t, err)
	assert.Equal(t, map[string]models.FieldType{
		"ID":      models.FieldTypeNumber,
		"Created": models.FieldTypeDatetime,
		"Paid":    models.FieldTypeBoolean,
		"Note":    models.FieldTypeText,
	}, types)
}

func TestSheetsSink_APIError(t *testing.T) {
	f := &fakeSheet{}
	s := setupSink(t, f)

	err := s.Clear(context.Background(), models.SheetRef{SpreadsheetID: "sheet-1", Sheet: "Missing"})
	assert.Error(t, err)
}

func TestServiceAccountEmail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"client_email":"sync@example.iam.gserviceaccount.com"}`), 0o600))

	email, err := ServiceAccountEmail(path)
	require.NoError(t, err)
	assert.Equal(t, "sync@example.iam.gserviceaccount.com", email)

	_, err = ServiceAccountEmail(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
