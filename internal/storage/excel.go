package storage

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"github.com/IshaanNene/crawlmaster/internal/types"
)

const (
	excelSheet       = "Results"
	excelHeaderColor = "366092"
	excelMaxColWidth = 50
)

// ExcelStorage writes each job as a styled .xlsx workbook: one header row in
// white bold text on a blue fill, then one row per record.
type ExcelStorage struct {
	target *fileTarget
	logger *slog.Logger
}

// NewExcelStorage creates a spreadsheet storage rooted at dir.
func NewExcelStorage(dir string, logger *slog.Logger) (*ExcelStorage, error) {
	t, err := newFileTarget(dir, "xlsx")
	if err != nil {
		return nil, err
	}
	return &ExcelStorage{target: t, logger: logger.With("component", "excel_storage")}, nil
}

func (s *ExcelStorage) Name() string { return "xlsx" }

func (s *ExcelStorage) Save(_ context.Context, name string, records []*types.Record) (string, error) {
	wb, err := buildWorkbook(records)
	if err != nil {
		return "", &types.StorageError{Backend: s.Name(), Err: err}
	}
	defer wb.Close()

	f, fileName, err := s.target.create(name)
	if err != nil {
		return "", &types.StorageError{Backend: s.Name(), Err: err}
	}
	defer f.Close()

	if err := wb.Write(f); err != nil {
		return "", &types.StorageError{Backend: s.Name(), Err: fmt.Errorf("write workbook: %w", err)}
	}
	if err := f.Close(); err != nil {
		return "", &types.StorageError{Backend: s.Name(), Err: err}
	}

	s.logger.Info("XLSX written", "path", s.target.path(fileName), "records", len(records))
	return fileName, nil
}

func (s *ExcelStorage) Close() error { return nil }

func buildWorkbook(records []*types.Record) (*excelize.File, error) {
	wb := excelize.NewFile()
	if err := wb.SetSheetName("Sheet1", excelSheet); err != nil {
		wb.Close()
		return nil, err
	}

	cols := Columns(records)
	widths := make([]int, len(cols))
	for i, c := range cols {
		widths[i] = utf8.RuneCountInString(c)
	}

	header := make([]any, len(cols))
	for i, c := range cols {
		header[i] = c
	}
	if err := wb.SetSheetRow(excelSheet, "A1", &header); err != nil {
		wb.Close()
		return nil, err
	}

	for r, rec := range records {
		row := make([]any, len(cols))
		for i, c := range cols {
			v := rec.GetString(c)
			row[i] = v
			widths[i] = max(widths[i], utf8.RuneCountInString(v))
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			wb.Close()
			return nil, err
		}
		if err := wb.SetSheetRow(excelSheet, cell, &row); err != nil {
			wb.Close()
			return nil, err
		}
	}

	if len(cols) == 0 {
		return wb, nil
	}

	style, err := wb.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{excelHeaderColor}, Pattern: 1},
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		wb.Close()
		return nil, err
	}
	last, err := excelize.CoordinatesToCellName(len(cols), 1)
	if err != nil {
		wb.Close()
		return nil, err
	}
	if err := wb.SetCellStyle(excelSheet, "A1", last, style); err != nil {
		wb.Close()
		return nil, err
	}

	for i, w := range widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			wb.Close()
			return nil, err
		}
		if err := wb.SetColWidth(excelSheet, col, col, float64(min(w+2, excelMaxColWidth))); err != nil {
			wb.Close()
			return nil, err
		}
	}
	return wb, nil
}
