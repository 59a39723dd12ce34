package excel

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"tablesync/internal/models"
	"tablesync/internal/sink"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

// WorkbookSink writes records into local .xlsx files. Row 1 of every sheet
// is the header; data starts at row 2.
type WorkbookSink struct {
	baseDir string
	logger  zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewWorkbookSink(baseDir string, logger *zerolog.Logger) *WorkbookSink {
	return &WorkbookSink{
		baseDir: baseDir,
		logger:  logger.With().Str("component", "xlsx_sink").Logger(),
		locks:   make(map[string]*sync.Mutex),
	}
}

func (s *WorkbookSink) path(ref models.SheetRef) (string, error) {
	if ref.Path == "" {
		return "", errors.New("xlsx target has no path")
	}
	if filepath.IsAbs(ref.Path) || s.baseDir == "" {
		return filepath.Clean(ref.Path), nil
	}
	return filepath.Join(s.baseDir, ref.Path), nil
}

// lock serializes access to one workbook file.
func (s *WorkbookSink) lock(path string) func() {
	s.mu.Lock()
	l, ok := s.locks[path]
	if !ok {
		l = &sync.Mutex{}
		s.locks[path] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// open returns the workbook at path with ref.Sheet present, creating both
// when missing.
func (s *WorkbookSink) open(path, sheet string) (*excelize.File, error) {
	f, err := excelize.OpenFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		f = excelize.NewFile()
		if err := f.SetSheetName("Sheet1", sheet); err != nil {
			f.Close()
			return nil, fmt.Errorf("unable to name sheet: %w", err)
		}
		return f, nil
	case err != nil:
		return nil, fmt.Errorf("unable to open workbook %s: %w", path, err)
	}

	idx, err := f.GetSheetIndex(sheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("unable to look up sheet %s: %w", sheet, err)
	}
	if idx == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			f.Close()
			return nil, fmt.Errorf("unable to create sheet %s: %w", sheet, err)
		}
	}
	return f, nil
}

func (s *WorkbookSink) save(f *excelize.File, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("unable to create workbook directory: %w", err)
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("unable to save workbook %s: %w", path, err)
	}
	return nil
}

func header(f *excelize.File, sheet string) ([]string, int, error) {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, 0, fmt.Errorf("unable to read rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, 0, nil
	}
	cells := make([]interface{}, len(rows[0]))
	for i, c := range rows[0] {
		cells[i] = c
	}
	return sink.HeaderStrings(cells), len(rows), nil
}

func writeRow(f *excelize.File, sheet string, rowNum int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

// GetFieldTypes reads header names from row 1 and cell types from row 2.
// A missing workbook has no known types.
func (s *WorkbookSink) GetFieldTypes(_ context.Context, ref models.SheetRef) (map[string]models.FieldType, error) {
	path, err := s.path(ref)
	if err != nil {
		return nil, err
	}
	unlock := s.lock(path)
	defer unlock()

	types := make(map[string]models.FieldType)
	f, err := excelize.OpenFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return types, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to open workbook %s: %w", path, err)
	}
	defer f.Close()

	if idx, err := f.GetSheetIndex(ref.Sheet); err != nil || idx == -1 {
		return types, nil
	}

	names, _, err := header(f, ref.Sheet)
	if err != nil {
		return nil, err
	}
	for i, name := range names {
		if name == "" {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(i+1, 2)
		if err != nil {
			return nil, err
		}
		if ft, ok := cellFieldType(f, ref.Sheet, cell); ok {
			types[name] = ft
		}
	}
	return types, nil
}

func cellFieldType(f *excelize.File, sheet, cell string) (models.FieldType, bool) {
	ct, err := f.GetCellType(sheet, cell)
	if err != nil {
		return "", false
	}
	switch ct {
	case excelize.CellTypeBool:
		return models.FieldTypeBoolean, true
	case excelize.CellTypeDate:
		return models.FieldTypeDatetime, true
	case excelize.CellTypeNumber, excelize.CellTypeUnset:
		raw, err := f.GetCellValue(sheet, cell, excelize.Options{RawCellValue: true})
		if err != nil || raw == "" {
			return "", false
		}
		if _, err := strconv.ParseFloat(raw, 64); err != nil {
			return "", false
		}
		if isDateStyle(f, sheet, cell) {
			return models.FieldTypeDatetime, true
		}
		return models.FieldTypeNumber, true
	case excelize.CellTypeSharedString, excelize.CellTypeInlineString:
		return models.FieldTypeText, true
	}
	return "", false
}

// isDateStyle reports whether a numeric cell carries a built-in date format.
func isDateStyle(f *excelize.File, sheet, cell string) bool {
	styleID, err := f.GetCellStyle(sheet, cell)
	if err != nil || styleID == 0 {
		return false
	}
	style, err := f.GetStyle(styleID)
	if err != nil || style == nil {
		return false
	}
	return (style.NumFmt >= 14 && style.NumFmt <= 22) || (style.NumFmt >= 45 && style.NumFmt <= 47)
}

// Clear removes every data row and keeps the header.
func (s *WorkbookSink) Clear(_ context.Context, ref models.SheetRef) error {
	path, err := s.path(ref)
	if err != nil {
		return err
	}
	unlock := s.lock(path)
	defer unlock()

	f, err := s.open(path, ref.Sheet)
	if err != nil {
		return err
	}
	defer f.Close()

	_, count, err := header(f, ref.Sheet)
	if err != nil {
		return err
	}
	for row := count; row >= 2; row-- {
		if err := f.RemoveRow(ref.Sheet, row); err != nil {
			return fmt.Errorf("unable to remove row %d: %w", row, err)
		}
	}
	s.logger.Debug().Str("target", ref.String()).Int("rows", max(count-1, 0)).Msg("Sheet cleared")
	return s.save(f, path)
}

// Write places records starting at row 2.
func (s *WorkbookSink) Write(_ context.Context, ref models.SheetRef, records []*models.Record) error {
	return s.put(ref, records, false)
}

// Append adds records after the last used row.
func (s *WorkbookSink) Append(_ context.Context, ref models.SheetRef, records []*models.Record) error {
	return s.put(ref, records, true)
}

func (s *WorkbookSink) put(ref models.SheetRef, records []*models.Record, appendRows bool) error {
	path, err := s.path(ref)
	if err != nil {
		return err
	}
	unlock := s.lock(path)
	defer unlock()

	f, err := s.open(path, ref.Sheet)
	if err != nil {
		return err
	}
	defer f.Close()

	current, count, err := header(f, ref.Sheet)
	if err != nil {
		return err
	}
	merged, grew := sink.MergeHeader(current, records)
	if grew {
		cells := make([]interface{}, len(merged))
		for i, h := range merged {
			cells[i] = h
		}
		if err := writeRow(f, ref.Sheet, 1, cells); err != nil {
			return fmt.Errorf("unable to write header: %w", err)
		}
	}

	start := 2
	if appendRows && count >= 2 {
		start = count + 1
	}
	for i, rec := range records {
		if err := writeRow(f, ref.Sheet, start+i, sink.RowValues(merged, rec)); err != nil {
			return fmt.Errorf("unable to write row %d: %w", start+i, err)
		}
	}

	s.logger.Debug().Str("target", ref.String()).Int("rows", len(records)).Bool("append", appendRows).Msg("Rows written")
	return s.save(f, path)
}
