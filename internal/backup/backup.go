// Package backup exports a tenant's collection as a downloadable file and restores it from one.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/okbozin/okboz-crm-sub003/internal/model"
	"github.com/okbozin/okboz-crm-sub003/internal/session"
	"github.com/okbozin/okboz-crm-sub003/internal/storage"
	"github.com/okbozin/okboz-crm-sub003/prometheus"
)

var (
	// ErrNotConfirmed is returned when an import was not confirmed by the caller.
	ErrNotConfirmed = errors.New("backup: import would overwrite existing data and was not confirmed")
	// ErrInvalidJSON is returned when the import file is not JSON.
	ErrInvalidJSON = errors.New("backup: file is not valid JSON")
	// ErrInvalidShape is returned when the import file is JSON but not a non-empty list of valid records.
	ErrInvalidShape = errors.New("backup: file is not a list of records")
)

// ImportOptions carries the caller's decisions for an import.
type ImportOptions struct {
	// Confirmed is the user's acknowledgement that the stored collection will be replaced.
	Confirmed bool
}

// Export renders records as an indented JSON array.
func Export[T any](records []T) ([]byte, error) {
	if records == nil {
		records = []T{}
	}
	return json.MarshalIndent(records, "", "  ")
}

// FileName is the download name of an export taken at now.
func FileName(collection string, now time.Time) string {
	return fmt.Sprintf("%s_%s.json", collection, now.Format("2006-01-02"))
}

// Parse validates data as an import file for T without touching storage.
func Parse[T any](data []byte) ([]T, error) {
	if !json.Valid(data) {
		return nil, ErrInvalidJSON
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("%w: top level must be an array", ErrInvalidShape)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: file contains no records", ErrInvalidShape)
	}

	records := make([]T, 0, len(items))
	for i, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) == 0 || item[0] != '{' {
			return nil, fmt.Errorf("%w: item %d is not an object", ErrInvalidShape, i)
		}
		var record T
		if err := json.Unmarshal(item, &record); err != nil {
			return nil, fmt.Errorf("%w: item %d: %v", ErrInvalidShape, i, err)
		}
		if err := model.Check(record); err != nil {
			return nil, fmt.Errorf("%w: item %d: %v", ErrInvalidShape, i, err)
		}
		records = append(records, record)
	}
	return records, nil
}

// Import replaces the collection of tenant tc with the records in data.
// Nothing is written unless every check passes.
func Import[T any](ctx context.Context, coll *storage.Collection[T], tc session.TenantContext, data []byte, opts ImportOptions) (int, error) {
	if !opts.Confirmed {
		prometheus.RecordBackup(coll.Name(), "import", "unconfirmed")
		return 0, ErrNotConfirmed
	}

	records, err := Parse[T](data)
	if err != nil {
		prometheus.RecordBackup(coll.Name(), "import", "invalid")
		return 0, err
	}

	if _, err := coll.Write(ctx, tc, records); err != nil {
		prometheus.RecordBackup(coll.Name(), "import", "error")
		return 0, fmt.Errorf("backup: restore %s: %w", coll.Name(), err)
	}
	prometheus.RecordBackup(coll.Name(), "import", "ok")
	return len(records), nil
}
