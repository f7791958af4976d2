package handlers

import (
	"context"
	"fmt"
	"sort"

	"github.com/xuri/excelize/v2"

	"github.com/spec-kit/approval-service/internal/trigger"
)

const defaultSheet = "Sheet1"

// spreadsheetConfig.Fields limits and orders the exported variables; empty
// exports all of them.
type spreadsheetConfig struct {
	Filename string   `json:"filename"`
	Sheet    string   `json:"sheet"`
	Fields   []string `json:"fields"`
}

// SpreadsheetHandler exports the ticket variables as an .xlsx workbook with
// one row per variable.
type SpreadsheetHandler struct {
	dir string
}

// NewSpreadsheetHandler writes workbooks below dir.
func NewSpreadsheetHandler(dir string) *SpreadsheetHandler {
	return &SpreadsheetHandler{dir: dir}
}

// Name returns the binding name "spreadsheet".
func (h *SpreadsheetHandler) Name() string { return "spreadsheet" }

// Execute writes one Variable/Value row per selected variable.
func (h *SpreadsheetHandler) Execute(ctx context.Context, inv trigger.Invocation) (map[string]any, error) {
	var cfg spreadsheetConfig
	if err := bindConfig(inv, &cfg); err != nil {
		return nil, err
	}
	if cfg.Filename == "" {
		cfg.Filename = fmt.Sprintf("%s-%s.xlsx", ticketKey(inv.Variables), inv.Event)
	}

	rows := spreadsheetRows(inv.Variables, cfg.Fields)

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := defaultSheet
	if cfg.Sheet != "" && cfg.Sheet != defaultSheet {
		if err := f.SetSheetName(defaultSheet, cfg.Sheet); err != nil {
			return nil, fmt.Errorf("rename sheet: %w", err)
		}
		sheet = cfg.Sheet
	}

	if err := f.SetSheetRow(sheet, "A1", &[]any{"Variable", "Value"}); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(sheet, cell, &[]any{row[0], row[1]}); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := outputPath(h.dir, cfg.Filename)
	if err != nil {
		return nil, err
	}
	if err := f.SaveAs(path); err != nil {
		return nil, fmt.Errorf("save workbook: %w", err)
	}
	return map[string]any{"path": path, "rows": len(rows), "sheet": sheet}, nil
}

// spreadsheetRows flattens the variables into name/value pairs. Detail
// columns appear as "details.<label>".
func spreadsheetRows(vars map[string]any, fields []string) [][2]string {
	flat := map[string]string{}
	for name, value := range vars {
		if nested, ok := value.(map[string]any); ok {
			for label, v := range nested {
				flat[name+"."+label] = fmt.Sprintf("%v", v)
			}
			continue
		}
		flat[name] = fmt.Sprintf("%v", value)
	}

	names := fields
	if len(names) == 0 {
		names = make([]string, 0, len(flat))
		for name := range flat {
			names = append(names, name)
		}
		sort.Strings(names)
	}

	rows := make([][2]string, 0, len(names))
	for _, name := range names {
		value, ok := flat[name]
		if !ok {
			value = "-"
		}
		rows = append(rows, [2]string{name, value})
	}
	return rows
}
