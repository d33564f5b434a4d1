package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

const utf8BOM = "\ufeff"

// ReadCSV parses a CSV document whose first record is the header.
// An empty document yields an empty dataset.
func ReadCSV(r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return Empty(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading csv header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], utf8BOM)
	}

	var rows [][]string
	for {
		record, readErr := reader.Read()
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("reading csv row %d: %w", len(rows)+1, readErr)
		}
		rows = append(rows, record)
	}

	return New(header, rows), nil
}

// WriteCSV writes d as CSV with a header record.
func WriteCSV(w io.Writer, d *Dataset) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(d.Columns); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	if err := writer.WriteAll(d.Rows); err != nil {
		return fmt.Errorf("writing csv rows: %w", err)
	}
	return nil
}

// CSVStore keeps each dataset as a CSV file at its location path.
type CSVStore struct {
	logger zerolog.Logger
}

// NewCSVStore creates a CSV-backed local store.
func NewCSVStore(logger zerolog.Logger) *CSVStore {
	return &CSVStore{logger: logger.With().Str("component", "csvstore").Logger()}
}

// Prepare creates the parent directory of location.
func (s *CSVStore) Prepare(location string) error {
	dir := filepath.Dir(location)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating dataset directory %s: %w", dir, err)
	}
	return nil
}

// Load reads the dataset stored at location. Missing or unreadable files yield
// an empty dataset.
func (s *CSVStore) Load(_ context.Context, location string) *Dataset {
	f, err := os.Open(location)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn().Err(err).Str("location", location).Msg("could not open local dataset")
		}
		return Empty()
	}
	defer func() { _ = f.Close() }()

	d, err := ReadCSV(f)
	if err != nil {
		s.logger.Warn().Err(err).Str("location", location).Msg("could not parse local dataset")
		return Empty()
	}
	return d
}

// Save writes d to location, replacing any previous file atomically.
// An invalid dataset is skipped with a warning.
func (s *CSVStore) Save(_ context.Context, location string, d *Dataset) error {
	if !d.IsValid() {
		s.logger.Warn().Str("location", location).Msg("refusing to save empty dataset")
		return nil
	}
	if err := s.Prepare(location); err != nil {
		return err
	}

	// Each save writes its own temp file next to location, so concurrent
	// saves never rename another writer's file.
	f, err := os.CreateTemp(filepath.Dir(location), filepath.Base(location)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating dataset temp file: %w", err)
	}
	tmpPath := f.Name()

	writeErr := WriteCSV(f, d)
	closeErr := f.Close()
	if writeErr != nil || closeErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("writing dataset temp file: %w", errors.Join(writeErr, closeErr))
	}

	if renameErr := os.Rename(tmpPath, location); renameErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming dataset temp file: %w", renameErr)
	}

	s.logger.Debug().
		Str("location", location).
		Int("rows", d.Len()).
		Uint64("fingerprint", d.Fingerprint()).
		Msg("dataset saved")
	return nil
}
