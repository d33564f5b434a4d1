// Package dataset holds the tabular value exchanged between fetchers and local
// stores, plus the CSV and SQLite stores that persist it.
package dataset

import (
	"github.com/cespare/xxhash/v2"
)

// Dataset is a table of string cells with named columns.
// A nil *Dataset behaves like an empty one.
type Dataset struct {
	Columns []string
	Rows    [][]string
}

// New creates a Dataset from columns and rows.
func New(columns []string, rows [][]string) *Dataset {
	return &Dataset{Columns: columns, Rows: rows}
}

// Empty returns a dataset with no columns and no rows.
func Empty() *Dataset {
	return &Dataset{}
}

// IsValid reports whether d is a usable, non-empty table.
func (d *Dataset) IsValid() bool {
	return d != nil && len(d.Columns) > 0 && len(d.Rows) > 0
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Rows)
}

// Column returns the values of the named column.
func (d *Dataset) Column(name string) ([]string, bool) {
	if d == nil {
		return nil, false
	}
	idx := -1
	for i, c := range d.Columns {
		if c == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, false
	}

	values := make([]string, 0, len(d.Rows))
	for _, row := range d.Rows {
		if idx < len(row) {
			values = append(values, row[idx])
		} else {
			values = append(values, "")
		}
	}
	return values, true
}

// Fingerprint returns a content hash of columns and rows.
// Equal tables produce equal fingerprints; it is used for logging change detection.
func (d *Dataset) Fingerprint() uint64 {
	if d == nil {
		return 0
	}
	h := xxhash.New()
	writeRecord(h, d.Columns)
	for _, row := range d.Rows {
		writeRecord(h, row)
	}
	return h.Sum64()
}

func writeRecord(h *xxhash.Digest, fields []string) {
	for _, f := range fields {
		_, _ = h.WriteString(f)
		_, _ = h.Write([]byte{0x1f})
	}
	_, _ = h.Write([]byte{0x1e})
}
