package dataset

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"

	"github.com/rshade/mktcache/internal/engine/batch"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// maxSQLParams is the bound-parameter limit of one INSERT statement.
const maxSQLParams = 999

const catalogSchema = `CREATE TABLE IF NOT EXISTS mktcache_datasets (
	location   TEXT PRIMARY KEY,
	table_name TEXT NOT NULL,
	columns    TEXT NOT NULL,
	row_count  INTEGER NOT NULL,
	saved_at   TEXT NOT NULL
)`

// SQLiteStore keeps every dataset in its own table of a single SQLite database.
// A catalog table maps each location to its table and original column names.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger zerolog.Logger
}

// OpenSQLite opens (creating if needed) the database file at path.
func OpenSQLite(ctx context.Context, path string, logger zerolog.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// A single connection serialises writers.
	db.SetMaxOpenConns(1)

	if _, execErr := db.ExecContext(ctx, catalogSchema); execErr != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating dataset catalog: %w", execErr)
	}

	return &SQLiteStore{
		db:     db,
		path:   path,
		logger: logger.With().Str("component", "sqlitestore").Logger(),
	}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Load returns the dataset saved under location, or an empty dataset when
// nothing was saved or it cannot be read.
func (s *SQLiteStore) Load(ctx context.Context, location string) *Dataset {
	var tableName, columnsJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT table_name, columns FROM mktcache_datasets WHERE location = ?`, location,
	).Scan(&tableName, &columnsJSON)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn().Err(err).Str("location", location).Msg("could not read dataset catalog")
		}
		return Empty()
	}

	var columns []string
	if unmarshalErr := json.Unmarshal([]byte(columnsJSON), &columns); unmarshalErr != nil || len(columns) == 0 {
		s.logger.Warn().Err(unmarshalErr).Str("location", location).Msg("invalid column list in catalog")
		return Empty()
	}

	d, err := s.readTable(ctx, tableName, columns)
	if err != nil {
		s.logger.Warn().Err(err).Str("location", location).Msg("could not read dataset table")
		return Empty()
	}
	return d
}

func (s *SQLiteStore) readTable(ctx context.Context, tableName string, columns []string) (*Dataset, error) {
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY row_id", strings.Join(cellColumns(len(columns)), ", "), tableName)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out [][]string
	cells := make([]sql.NullString, len(columns))
	dest := make([]any, len(columns))
	for i := range cells {
		dest[i] = &cells[i]
	}
	for rows.Next() {
		if scanErr := rows.Scan(dest...); scanErr != nil {
			return nil, scanErr
		}
		record := make([]string, len(cells))
		for i, c := range cells {
			record[i] = c.String
		}
		out = append(out, record)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}

	return New(columns, out), nil
}

// Save replaces the dataset stored under location in a single transaction.
// An invalid dataset is skipped with a warning.
func (s *SQLiteStore) Save(ctx context.Context, location string, d *Dataset) (err error) {
	if !d.IsValid() {
		s.logger.Warn().Str("location", location).Msg("refusing to save empty dataset")
		return nil
	}

	columnsJSON, err := json.Marshal(d.Columns)
	if err != nil {
		return fmt.Errorf("marshaling column names: %w", err)
	}

	tableName := tableNameFor(location)
	cols := cellColumns(len(d.Columns))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+tableName); err != nil {
		return fmt.Errorf("dropping previous table: %w", err)
	}

	createSQL := fmt.Sprintf("CREATE TABLE %s (row_id INTEGER PRIMARY KEY, %s TEXT)",
		tableName, strings.Join(cols, " TEXT, "))
	if _, err = tx.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("creating dataset table: %w", err)
	}

	if err = s.insertRows(ctx, tx, tableName, cols, d.Rows); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO mktcache_datasets (location, table_name, columns, row_count, saved_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(location) DO UPDATE SET
			table_name = excluded.table_name,
			columns = excluded.columns,
			row_count = excluded.row_count,
			saved_at = excluded.saved_at`,
		location, tableName, string(columnsJSON), d.Len(), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("updating dataset catalog: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing dataset: %w", err)
	}

	s.logger.Debug().
		Str("location", location).
		Str("table", tableName).
		Int("rows", d.Len()).
		Msg("dataset saved")
	return nil
}

// insertRows writes rows as multi-row INSERTs sized to stay under maxSQLParams.
// Short rows are padded with empty cells.
func (s *SQLiteStore) insertRows(ctx context.Context, tx *sql.Tx, tableName string, cols []string, rows [][]string) error {
	perRow := len(cols) + 1
	p, err := batch.NewProcessor[[]string](batch.SizeForParams(maxSQLParams, perRow))
	if err != nil {
		return err
	}
	p.WithProgressCallback(func(progress *batch.Progress) {
		snap := progress.Snapshot()
		event := s.logger.Trace()
		if progress.IsComplete() {
			event = s.logger.Debug()
		}
		event.
			Str("table", tableName).
			Int("rows", snap.ProcessedItems).
			Int("of", snap.TotalItems).
			Int("batches", snap.ProcessedBatches).
			Float64("percent", progress.PercentComplete()).
			Dur("elapsed", snap.Elapsed).
			Msg("rows inserted")
	})

	rowPlaceholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", perRow), ", ") + ")"
	prefix := fmt.Sprintf("INSERT INTO %s (row_id, %s) VALUES ", tableName, strings.Join(cols, ", "))

	return p.Process(ctx, rows, func(ctx context.Context, chunk [][]string, start int) error {
		values := make([]string, len(chunk))
		args := make([]any, 0, len(chunk)*perRow)
		for i, row := range chunk {
			values[i] = rowPlaceholder
			args = append(args, start+i)
			for j := range cols {
				if j < len(row) {
					args = append(args, row[j])
				} else {
					args = append(args, "")
				}
			}
		}

		if _, execErr := tx.ExecContext(ctx, prefix+strings.Join(values, ", "), args...); execErr != nil {
			return fmt.Errorf("inserting rows %d-%d: %w", start, start+len(chunk)-1, execErr)
		}
		return nil
	})
}

// tableNameFor derives a stable SQL identifier from a location.
func tableNameFor(location string) string {
	return fmt.Sprintf("ds_%016x", xxhash.Sum64String(location))
}

func cellColumns(n int) []string {
	cols := make([]string, n)
	for i := range cols {
		cols[i] = fmt.Sprintf("c%d", i)
	}
	return cols
}
