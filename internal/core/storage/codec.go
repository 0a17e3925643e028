package storage

import (
	"encoding/json"
	"fmt"
)

// Encode marshals rows into records.
func Encode[T any](rows []T) ([][]byte, error) {
	records := make([][]byte, 0, len(rows))
	for i := range rows {
		data, err := json.Marshal(rows[i])
		if err != nil {
			return nil, fmt.Errorf("encode record %d: %w", i, err)
		}
		records = append(records, data)
	}
	return records, nil
}

// EncodeOne marshals a single row.
func EncodeOne[T any](row T) ([]byte, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return data, nil
}

// Decode unmarshals records into rows. Empty records are skipped; a
// malformed record is an error because silently dropping a row would
// make a later Replace lose data.
func Decode[T any](records [][]byte) ([]T, error) {
	rows := make([]T, 0, len(records))
	for i, rec := range records {
		if len(rec) == 0 {
			continue
		}
		var row T
		if err := json.Unmarshal(rec, &row); err != nil {
			return nil, fmt.Errorf("decode record %d: %w", i, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
