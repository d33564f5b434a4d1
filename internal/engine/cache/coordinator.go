package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rshade/mktcache/internal/calendar"
	"github.com/rshade/mktcache/internal/dataset"
)

// Coordinator errors.
var (
	// ErrFetch marks a fetch that failed or returned an empty dataset.
	// The coordinator logs it and serves an empty dataset instead of returning it.
	ErrFetch = errors.New("fetch failed")

	// ErrInvalidOptions is returned by NewCoordinator for incomplete options.
	ErrInvalidOptions = errors.New("invalid coordinator options")
)

// Fetcher produces a fresh dataset from the remote source.
type Fetcher interface {
	Fetch(ctx context.Context) (*dataset.Dataset, error)
}

// LocalStore loads and saves datasets at a storage location.
// Load never fails: missing or unreadable data is an empty dataset.
// Save ignores invalid datasets.
type LocalStore interface {
	Load(ctx context.Context, location string) *dataset.Dataset
	Save(ctx context.Context, location string, d *dataset.Dataset) error
}

// preparer is implemented by local stores that can create a location's
// containing directory ahead of the first save.
type preparer interface {
	Prepare(location string) error
}

// TradingCalendar is the subset of *calendar.Calendar the coordinator needs.
type TradingCalendar interface {
	IsTradingTime(ctx context.Context, now time.Time) (bool, error)
	IsAtOrAfterNearestTradingDate(ctx context.Context, candidate, reference string) (bool, error)
	DateOf(t time.Time) string
}

// Source tells where a returned dataset came from.
type Source string

const (
	// SourceLocal means the local copy was served without fetching.
	SourceLocal Source = "local"
	// SourceRemote means a fresh dataset was fetched and saved.
	SourceRemote Source = "remote"
	// SourceFailed means the fetch failed and an empty dataset was returned.
	SourceFailed Source = "failed"
)

// Result is the outcome of one FetchAndCacheResult call.
type Result struct {
	Data       *dataset.Dataset
	Source     Source
	MarketOpen bool
	// Debounced is true when a market-open call was served locally inside the window.
	Debounced bool
	// FetchErr holds the swallowed fetch failure for SourceFailed results.
	FetchErr error
}

// Options configures a Coordinator.
type Options struct {
	// Key is the dataset storage location; it is also the record key.
	Key      string
	Fetcher  Fetcher
	Local    LocalStore
	Calendar TradingCalendar
	Store    RecordStore

	// Debounce is the market-open refetch window. Zero means DefaultDebounce.
	Debounce time.Duration

	// Clock supplies "now". Nil means the system clock.
	Clock calendar.Clock

	// OnLoad, if set, is applied to every dataset loaded from the local store.
	OnLoad func(*dataset.Dataset)

	Logger zerolog.Logger
}

// Coordinator serves one dataset from its local copy or refreshes it.
// Calls on one Coordinator are serialised.
type Coordinator struct {
	mu sync.Mutex

	key      string
	fetcher  Fetcher
	local    LocalStore
	calendar TradingCalendar
	store    RecordStore
	debounce time.Duration
	clock    calendar.Clock
	onLoad   func(*dataset.Dataset)
	logger   zerolog.Logger

	// lastCallTime is the time of the last successful market-open fetch.
	lastCallTime *time.Time
}

// NewCoordinator validates opts and creates a Coordinator. If the local store can
// prepare locations, the dataset's directory is created here.
func NewCoordinator(opts Options) (*Coordinator, error) {
	switch {
	case opts.Key == "":
		return nil, fmt.Errorf("%w: key cannot be empty", ErrInvalidOptions)
	case opts.Fetcher == nil:
		return nil, fmt.Errorf("%w: fetcher is required", ErrInvalidOptions)
	case opts.Local == nil:
		return nil, fmt.Errorf("%w: local store is required", ErrInvalidOptions)
	case opts.Calendar == nil:
		return nil, fmt.Errorf("%w: calendar is required", ErrInvalidOptions)
	case opts.Store == nil:
		return nil, fmt.Errorf("%w: record store is required", ErrInvalidOptions)
	case opts.Debounce < 0:
		return nil, fmt.Errorf("%w: %w: got %s", ErrInvalidOptions, ErrInvalidDebounce, opts.Debounce)
	}

	c := &Coordinator{
		key:      opts.Key,
		fetcher:  opts.Fetcher,
		local:    opts.Local,
		calendar: opts.Calendar,
		store:    opts.Store,
		debounce: opts.Debounce,
		clock:    opts.Clock,
		onLoad:   opts.OnLoad,
		logger:   opts.Logger.With().Str("component", "cache").Str("key", opts.Key).Logger(),
	}
	if c.debounce == 0 {
		c.debounce = DefaultDebounce
	}
	if c.clock == nil {
		c.clock = calendar.SystemClock{}
	}

	if p, ok := c.local.(preparer); ok {
		if err := p.Prepare(c.key); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Key returns the dataset storage location.
func (c *Coordinator) Key() string {
	return c.key
}

// Debounce returns the market-open refetch window.
func (c *Coordinator) Debounce() time.Duration {
	return c.debounce
}

// FetchAndCache returns the dataset, refreshing it when the cached copy is not
// fresh. Fetch failures yield an empty dataset and a nil error; record store and
// calendar failures are returned.
func (c *Coordinator) FetchAndCache(ctx context.Context) (*dataset.Dataset, error) {
	res, err := c.FetchAndCacheResult(ctx)
	if err != nil {
		return nil, err
	}
	return res.Data, nil
}

// FetchAndCacheResult is FetchAndCache with details on how the dataset was obtained.
func (c *Coordinator) FetchAndCacheResult(ctx context.Context) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	open, err := c.calendar.IsTradingTime(ctx, now)
	if err != nil {
		return Result{}, err
	}

	if open {
		return c.marketOpen(ctx, now)
	}
	return c.marketClosed(ctx, now)
}

// marketClosed serves the local copy while its saved date covers the latest trading day.
func (c *Coordinator) marketClosed(ctx context.Context, now time.Time) (Result, error) {
	local := c.loadLocal(ctx)
	if !local.IsValid() {
		c.logger.Debug().Msg("no local copy, fetching")
		return c.refresh(ctx, now, false)
	}

	record, ok := LookupRecord(c.store, c.key)
	if !ok {
		c.logger.Debug().Msg("no saved date recorded, fetching")
		return c.refresh(ctx, now, false)
	}

	today := c.calendar.DateOf(now)
	fresh, err := c.calendar.IsAtOrAfterNearestTradingDate(ctx, record.SavedDate, today)
	if err != nil {
		return Result{}, err
	}
	if fresh {
		c.logger.Debug().Str("saved_date", record.SavedDate).Msg("local copy is fresh")
		return Result{Data: local, Source: SourceLocal}, nil
	}

	c.logger.Debug().Str("saved_date", record.SavedDate).Str("today", today).Msg("local copy is stale, fetching")
	return c.refresh(ctx, now, false)
}

// marketOpen refetches unless the previous successful fetch is inside the debounce window.
func (c *Coordinator) marketOpen(ctx context.Context, now time.Time) (Result, error) {
	if c.lastCallTime != nil && now.Sub(*c.lastCallTime) < c.debounce {
		c.logger.Debug().
			Dur("since_last_fetch", now.Sub(*c.lastCallTime)).
			Dur("debounce", c.debounce).
			Msg("within debounce window, serving local copy")
		return Result{Data: c.loadLocal(ctx), Source: SourceLocal, MarketOpen: true, Debounced: true}, nil
	}

	res, err := c.refresh(ctx, now, true)
	if err != nil {
		return Result{}, err
	}
	if res.Source == SourceRemote {
		t := c.clock.Now()
		c.lastCallTime = &t
	}
	return res, nil
}

// refresh fetches, and on success saves the dataset and records today's date.
func (c *Coordinator) refresh(ctx context.Context, now time.Time, open bool) (Result, error) {
	data, fetchErr := c.fetch(ctx)
	if fetchErr != nil {
		c.logger.Warn().Err(fetchErr).Bool("market_open", open).Msg("fetch returned no usable data, keeping cached copy")
		return Result{Data: dataset.Empty(), Source: SourceFailed, MarketOpen: open, FetchErr: fetchErr}, nil
	}

	if err := c.local.Save(ctx, c.key, data); err != nil {
		return Result{}, fmt.Errorf("saving dataset %s: %w", c.key, err)
	}

	record := CacheRecord{Key: c.key, SavedDate: c.calendar.DateOf(now)}
	if err := SaveRecord(c.store, record); err != nil {
		return Result{}, fmt.Errorf("recording saved date for %s: %w", c.key, err)
	}

	c.logger.Info().
		Int("rows", data.Len()).
		Uint64("fingerprint", data.Fingerprint()).
		Str("saved_date", record.SavedDate).
		Bool("market_open", open).
		Msg("dataset refreshed")
	return Result{Data: data, Source: SourceRemote, MarketOpen: open}, nil
}

func (c *Coordinator) fetch(ctx context.Context) (*dataset.Dataset, error) {
	data, err := c.fetcher.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	if !data.IsValid() {
		return nil, fmt.Errorf("%w: empty or invalid dataset", ErrFetch)
	}
	return data, nil
}

func (c *Coordinator) loadLocal(ctx context.Context) *dataset.Dataset {
	d := c.local.Load(ctx, c.key)
	if d == nil {
		d = dataset.Empty()
	}
	if c.onLoad != nil && d.IsValid() {
		c.onLoad(d)
	}
	return d
}

// Status describes the cache state of the dataset at one instant.
type Status struct {
	Key        string
	Today      string
	MarketOpen bool
	HasRecord  bool
	SavedDate  string
	// Fresh reports whether a market-closed call would serve the local copy
	// on the strength of its saved date.
	Fresh        bool
	LastCallTime time.Time
	Debounce     time.Duration
}

// Status reports the current cache state without fetching.
func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	st := Status{
		Key:      c.key,
		Today:    c.calendar.DateOf(now),
		Debounce: c.debounce,
	}
	if c.lastCallTime != nil {
		st.LastCallTime = *c.lastCallTime
	}

	open, err := c.calendar.IsTradingTime(ctx, now)
	if err != nil {
		return Status{}, err
	}
	st.MarketOpen = open

	record, ok := LookupRecord(c.store, c.key)
	if !ok {
		return st, nil
	}
	st.HasRecord = true
	st.SavedDate = record.SavedDate

	fresh, err := c.calendar.IsAtOrAfterNearestTradingDate(ctx, record.SavedDate, st.Today)
	if err != nil {
		return Status{}, err
	}
	st.Fresh = fresh
	return st, nil
}

// Invalidate deletes the saved-date record so the next call refetches.
// The local copy and the debounce state are left untouched.
func (c *Coordinator) Invalidate() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Delete(c.key); err != nil {
		return fmt.Errorf("invalidating %s: %w", c.key, err)
	}
	c.logger.Info().Msg("saved date cleared")
	return nil
}
