package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/rshade/mktcache/internal/calendar"
	"github.com/rshade/mktcache/internal/config"
	"github.com/rshade/mktcache/internal/dataset"
	"github.com/rshade/mktcache/internal/engine/cache"
	"github.com/rshade/mktcache/internal/fetch"
	"github.com/rshade/mktcache/internal/logging"
	"github.com/rshade/mktcache/internal/persist"
)

// runtime holds the collaborators shared by every dataset of one invocation.
type runtime struct {
	cfg      *config.Config
	logger   zerolog.Logger
	records  *persist.Store
	calendar *calendar.Calendar
	csv      *dataset.CSVStore

	sqliteOnce sync.Once
	sqlite     *dataset.SQLiteStore
	sqliteErr  error
}

// newRuntime opens the saved-date store and builds the calendar from cfg.
func newRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	base := *logging.FromContext(ctx)

	records, err := persist.Open(cfg.Cache.StoreFile)
	if err != nil {
		return nil, fmt.Errorf("opening saved-date store: %w", err)
	}

	cal, err := buildCalendar(cfg, base)
	if err != nil {
		return nil, err
	}

	return &runtime{
		cfg:      cfg,
		logger:   base,
		records:  records,
		calendar: cal,
		csv:      dataset.NewCSVStore(logging.ComponentLogger(base, "csv")),
	}, nil
}

// buildCalendar selects the trading-day source and wires the lookup cache.
func buildCalendar(cfg *config.Config, base zerolog.Logger) (*calendar.Calendar, error) {
	schedule, err := cfg.Schedule()
	if err != nil {
		return nil, err
	}

	var source calendar.Source
	if cfg.Calendar.SourceURL != "" {
		source = calendar.NewHTTPSource(cfg.Calendar.SourceURL,
			calendar.WithEncoding(cfg.Calendar.SourceEncoding),
			calendar.WithSourceLogger(logging.ComponentLogger(base, "calendar-source")),
		)
	} else {
		static, cnErr := calendar.NewCNSource(cfg.Calendar.Holidays...)
		if cnErr != nil {
			return nil, cnErr
		}
		source = static
	}

	opts := []calendar.Option{
		calendar.WithSchedule(schedule),
		calendar.WithMaxLookback(cfg.Calendar.MaxLookbackDays),
		calendar.WithLogger(logging.ComponentLogger(base, "calendar")),
	}
	if cfg.Calendar.CacheFile != "" {
		lookups, openErr := persist.Open(cfg.Calendar.CacheFile)
		if openErr != nil {
			return nil, fmt.Errorf("opening calendar cache: %w", openErr)
		}
		opts = append(opts, calendar.WithCache(lookups))
	}

	return calendar.New(source, opts...), nil
}

// localStore returns the storage backend of a dataset format.
func (r *runtime) localStore(ctx context.Context, format string) (cache.LocalStore, error) {
	if format != config.FormatSQLite {
		return r.csv, nil
	}

	r.sqliteOnce.Do(func() {
		r.sqlite, r.sqliteErr = dataset.OpenSQLite(ctx, r.cfg.Cache.SQLiteFile,
			logging.ComponentLogger(r.logger, "sqlite"))
	})
	if r.sqliteErr != nil {
		return nil, r.sqliteErr
	}
	return r.sqlite, nil
}

// viewStore returns a local store that reads a dataset without creating
// directories or database files. A SQLite database that does not exist yet
// reads as empty.
func (r *runtime) viewStore(ctx context.Context, format string) (cache.LocalStore, error) {
	if format == config.FormatSQLite && r.sqlite == nil {
		if _, err := os.Stat(r.cfg.Cache.SQLiteFile); errors.Is(err, fs.ErrNotExist) {
			return readOnlyStore{}, nil
		}
	}
	local, err := r.localStore(ctx, format)
	if err != nil {
		return nil, err
	}
	return readOnlyStore{inner: local}, nil
}

// readOnlyStore hides the Prepare method of the wrapped store and refuses saves.
type readOnlyStore struct {
	inner cache.LocalStore
}

func (s readOnlyStore) Load(ctx context.Context, location string) *dataset.Dataset {
	if s.inner == nil {
		return dataset.Empty()
	}
	return s.inner.Load(ctx, location)
}

func (readOnlyStore) Save(_ context.Context, location string, _ *dataset.Dataset) error {
	return fmt.Errorf("dataset %s is opened read-only", location)
}

// fetcher builds the HTTP fetcher of a dataset.
func (r *runtime) fetcher(ds config.DatasetConfig) (cache.Fetcher, error) {
	opts := []fetch.HTTPOption{
		fetch.WithEncoding(ds.Encoding),
		fetch.WithLogger(logging.ComponentLogger(r.logger, "fetch").With().Str("dataset", ds.Name).Logger()),
	}
	for k, v := range ds.Headers {
		opts = append(opts, fetch.WithHeader(k, v))
	}

	f, err := fetch.NewHTTPFetcher(ds.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", ds.Name, err)
	}
	return fetch.WithTimeout(f, config.TimeoutOf(ds)), nil
}

// coordinator builds the cache coordinator of a dataset.
func (r *runtime) coordinator(ctx context.Context, ds config.DatasetConfig) (*cache.Coordinator, error) {
	local, err := r.localStore(ctx, config.FormatOf(ds))
	if err != nil {
		return nil, err
	}
	return r.newCoordinator(ds, local)
}

// viewCoordinator builds a coordinator for status and invalidation only. It
// leaves the filesystem untouched apart from the saved-date store.
func (r *runtime) viewCoordinator(ctx context.Context, ds config.DatasetConfig) (*cache.Coordinator, error) {
	local, err := r.viewStore(ctx, config.FormatOf(ds))
	if err != nil {
		return nil, err
	}
	return r.newCoordinator(ds, local)
}

func (r *runtime) newCoordinator(ds config.DatasetConfig, local cache.LocalStore) (*cache.Coordinator, error) {
	f, err := r.fetcher(ds)
	if err != nil {
		return nil, err
	}

	return cache.NewCoordinator(cache.Options{
		Key:      r.cfg.DatasetLocation(ds),
		Fetcher:  f,
		Local:    local,
		Calendar: r.calendar,
		Store:    r.records,
		Debounce: r.cfg.DebounceFor(ds),
		Logger:   r.logger.With().Str("dataset", ds.Name).Logger(),
	})
}

// datasets resolves names to configured datasets; no names means all of them.
func (r *runtime) datasets(names []string) ([]config.DatasetConfig, error) {
	if len(names) == 0 {
		if len(r.cfg.Datasets) == 0 {
			return nil, errors.New("no datasets configured")
		}
		return r.cfg.Datasets, nil
	}

	out := make([]config.DatasetConfig, 0, len(names))
	for _, name := range names {
		ds, ok := r.cfg.FindDataset(name)
		if !ok {
			return nil, fmt.Errorf("unknown dataset %q", name)
		}
		out = append(out, ds)
	}
	return out, nil
}

// Close releases the SQLite handle, if one was opened.
func (r *runtime) Close() error {
	if r.sqlite != nil {
		return r.sqlite.Close()
	}
	return nil
}
