package backup

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// maxSheetName is the longest sheet name a workbook accepts.
const maxSheetName = 31

// XLSXFileName is the spreadsheet counterpart of FileName.
func XLSXFileName(jsonName string) string {
	if n := len(jsonName); n > 5 && jsonName[n-5:] == ".json" {
		return jsonName[:n-5] + ".xlsx"
	}
	return jsonName + ".xlsx"
}

// ExportXLSX renders records as a one-sheet workbook: a header row of JSON field
// names in order of first appearance, then one row per record. Nested values are
// written as JSON text.
func ExportXLSX[T any](collection string, records []T) ([]byte, error) {
	rows := make([]row, 0, len(records))
	var headers []string
	seen := make(map[string]int)

	for i, record := range records {
		raw, err := json.Marshal(record)
		if err != nil {
			return nil, fmt.Errorf("backup: encode record %d: %w", i, err)
		}
		r, err := decodeRow(raw)
		if err != nil {
			return nil, fmt.Errorf("backup: record %d: %w", i, err)
		}
		for _, field := range r.fields {
			if _, ok := seen[field]; !ok {
				seen[field] = len(headers)
				headers = append(headers, field)
			}
		}
		rows = append(rows, r)
	}

	sheet := collection
	if len(sheet) > maxSheetName {
		sheet = sheet[:maxSheetName]
	}
	if sheet == "" {
		sheet = "Sheet1"
	}

	f := excelize.NewFile()
	defer f.Close()

	if sheet != "Sheet1" {
		if err := f.SetSheetName("Sheet1", sheet); err != nil {
			return nil, fmt.Errorf("backup: name sheet: %w", err)
		}
	}

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("backup: create header style: %w", err)
	}

	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return nil, fmt.Errorf("backup: set header %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, headerStyle); err != nil {
			return nil, fmt.Errorf("backup: style header %s: %w", cell, err)
		}
	}

	for i, r := range rows {
		for field, value := range r.values {
			cell, err := excelize.CoordinatesToCellName(seen[field]+1, i+2)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return nil, fmt.Errorf("backup: set cell %s: %w", cell, err)
			}
		}
	}

	if len(headers) > 0 {
		if err := f.SetPanes(sheet, &excelize.Panes{
			Freeze:      true,
			YSplit:      1,
			TopLeftCell: "A2",
			ActivePane:  "bottomLeft",
		}); err != nil {
			return nil, fmt.Errorf("backup: freeze header: %w", err)
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("backup: write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

type row struct {
	fields []string
	values map[string]any
}

// decodeRow reads one JSON object keeping its field order.
func decodeRow(raw []byte) (row, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return row{}, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return row{}, fmt.Errorf("not an object")
	}

	r := row{values: make(map[string]any)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return row{}, err
		}
		field, _ := tok.(string)

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return row{}, err
		}
		r.fields = append(r.fields, field)
		r.values[field] = cellValue(value)
	}
	if _, err := dec.Token(); err != nil && err != io.EOF {
		return row{}, err
	}
	return r, nil
}

func cellValue(raw json.RawMessage) any {
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return string(raw)
	}
	switch t := v.(type) {
	case nil:
		return ""
	case string, bool:
		return t
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	default:
		return string(raw)
	}
}
