package source

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"lakerun/internal/domain"
)

// decodeRecords reads all records from r in the given format.
func decodeRecords(r io.Reader, format string) ([]domain.Row, error) {
	switch format {
	case "json":
		return decodeJSON(r)
	case "csv":
		return decodeCSV(r)
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

// decodeJSON accepts either a JSON array of objects or newline-delimited objects.
func decodeJSON(r io.Reader) ([]domain.Row, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var rows []domain.Row
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return nil, err
		}
		return rows, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	var rows []domain.Row
	for {
		var row domain.Row
		if err := dec.Decode(&row); err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// decodeCSV reads a CSV file with a header row. Empty cells decode as nil;
// numeric and boolean cells are typed, everything else stays a string.
func decodeCSV(r io.Reader) ([]domain.Row, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rows []domain.Row
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		row := make(domain.Row, len(header))
		for i, col := range header {
			if i >= len(record) {
				row[col] = nil
				continue
			}
			row[col] = typedCell(record[i])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func typedCell(s string) any {
	if s == "" {
		return nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}
