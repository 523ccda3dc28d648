package ingestion

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rpattn/beneficiary/internal/domain"
	"github.com/rpattn/beneficiary/internal/tabular"

	"github.com/xuri/excelize/v2"
)

var byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

// uploadedIDColumn holds a file's own id column. The id column of a loaded
// table is always the source record identifier.
const uploadedIDColumn = "source_id"

type tableData struct {
	headers []string
	rows    [][]string
}

func parseTable(fileName string, payload []byte, headerRowIndex *int) (tableData, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv", "":
		return parseCSV(payload, headerRowIndex)
	case ".xlsx":
		return parseExcel(payload, headerRowIndex)
	default:
		return tableData{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func parseCSV(payload []byte, headerRowIndex *int) (tableData, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return tableData{}, fmt.Errorf("failed to read csv: %w", err)
	}
	return normalizeTable(records, headerRowIndex)
}

func parseExcel(payload []byte, headerRowIndex *int) (tableData, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return tableData{}, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return tableData{}, errors.New("excel file has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return tableData{}, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	return normalizeTable(rows, headerRowIndex)
}

// normalizeTable picks the header row (the first non-blank one unless an
// index is given), drops blank data rows and pads the rest to header width.
func normalizeTable(records [][]string, headerRowIndex *int) (tableData, error) {
	if len(records) == 0 {
		return tableData{}, errors.New("no rows found in file")
	}

	var headerRow []string
	var dataRows [][]string

	if headerRowIndex != nil {
		if *headerRowIndex < 0 || *headerRowIndex >= len(records) {
			return tableData{}, fmt.Errorf("header row index %d out of range", *headerRowIndex)
		}
		if isBlankRow(records[*headerRowIndex]) {
			return tableData{}, fmt.Errorf("selected header row %d is empty", *headerRowIndex+1)
		}
		headerRow = records[*headerRowIndex]
		dataRows = records[*headerRowIndex+1:]
	} else {
		for idx, row := range records {
			if isBlankRow(row) {
				continue
			}
			headerRow = row
			dataRows = records[idx+1:]
			break
		}
	}

	if headerRow == nil {
		return tableData{}, errors.New("header row could not be detected")
	}

	headers := sanitizeHeaders(headerRow)
	rows := make([][]string, 0, len(dataRows))
	for _, row := range dataRows {
		if isBlankRow(row) {
			continue
		}
		rows = append(rows, padRow(row, len(headers)))
	}

	return tableData{headers: headers, rows: rows}, nil
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func sanitizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	seen := make(map[string]int)

	for idx, value := range raw {
		name := strings.TrimSpace(value)
		name = strings.ReplaceAll(name, " ", "_")
		name = strings.ReplaceAll(name, ".", "_")
		name = strings.ReplaceAll(name, "-", "_")
		name = strings.Trim(name, "_")
		if name == "" {
			name = fmt.Sprintf("column_%d", idx+1)
		}
		if name == tabular.IDColumn {
			name = uploadedIDColumn
		}

		base := name
		count := seen[base]
		if count > 0 {
			name = fmt.Sprintf("%s_%d", base, count+1)
		}
		seen[base] = count + 1

		headers[idx] = name
	}

	return headers
}

func padRow(row []string, length int) []string {
	if len(row) >= length {
		return row[:length]
	}
	padded := make([]string, length)
	copy(padded, row)
	return padded
}

// profileColumn infers the kind of an undeclared column from its non-empty
// cells. Mixed columns stay strings.
func profileColumn(col int, rows [][]string) domain.FieldType {
	isBool, isInt, isFloat, hasValue := true, true, true, false

	for _, row := range rows {
		value := strings.TrimSpace(row[col])
		if value == "" {
			continue
		}
		hasValue = true

		if !looksLikeBool(value) {
			isBool = false
		}
		if !looksLikeInt(value) {
			isInt = false
		}
		if !looksLikeFloat(value) {
			isFloat = false
		}
	}

	switch {
	case !hasValue:
		return domain.FieldTypeString
	case isBool:
		return domain.FieldTypeBoolean
	case isInt:
		return domain.FieldTypeInteger
	case isFloat:
		return domain.FieldTypeNumber
	default:
		return domain.FieldTypeString
	}
}

func looksLikeBool(value string) bool {
	value = strings.ToLower(value)
	return value == "true" || value == "false"
}

func looksLikeInt(value string) bool {
	_, err := strconv.ParseInt(value, 10, 64)
	return err == nil
}

func looksLikeFloat(value string) bool {
	f, err := strconv.ParseFloat(value, 64)
	return err == nil && !math.IsInf(f, 0) && !math.IsNaN(f)
}

// coerceCell converts cell text to a Value of fieldType. Text that does not
// fit the type is kept as a string so the validator can report it.
func coerceCell(fieldType domain.FieldType, raw string) domain.Value {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.Null
	}

	switch fieldType {
	case domain.FieldTypeInteger:
		if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return domain.IntValue(i)
		}
		if f, err := strconv.ParseFloat(raw, 64); err == nil && math.Mod(f, 1) == 0 && math.Abs(f) < 1<<53 {
			return domain.IntValue(int64(f))
		}
	case domain.FieldTypeNumber:
		if looksLikeFloat(raw) {
			f, _ := strconv.ParseFloat(raw, 64)
			return domain.FloatValue(f)
		}
	case domain.FieldTypeBoolean:
		switch strings.ToLower(raw) {
		case "true":
			return domain.BoolValue(true)
		case "false":
			return domain.BoolValue(false)
		}
	}
	return domain.StringValue(raw)
}
