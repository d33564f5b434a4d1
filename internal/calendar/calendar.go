package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// DefaultMaxLookbackDays bounds the backward scan for a trading day.
// The longest CN closure (Spring Festival plus weekends) is well under this.
const DefaultMaxLookbackDays = 30

// Cache key prefixes used in the lookup cache.
const (
	tradingDayKeyPrefix = "trading_day:"
	nearestKeyPrefix    = "nearest:"
)

// ErrCalendarLookup is returned when a trading-day question cannot be answered.
var ErrCalendarLookup = errors.New("calendar lookup failed")

// KV is the lookup cache the calendar may persist answers in.
type KV interface {
	Get(key string) (string, bool)
	Set(key, value string) error
}

// Calendar classifies instants and dates against a market's trading calendar.
type Calendar struct {
	source      Source
	schedule    Schedule
	cache       KV
	maxLookback int
	logger      zerolog.Logger
}

// Option configures a Calendar.
type Option func(*Calendar)

// WithSchedule sets the session schedule. The default is CNSchedule.
func WithSchedule(s Schedule) Option {
	return func(c *Calendar) { c.schedule = s }
}

// WithCache persists trading-day and nearest-date answers in kv.
func WithCache(kv KV) Option {
	return func(c *Calendar) { c.cache = kv }
}

// WithMaxLookback sets how many days NearestTradingDateAtOrBefore scans back.
func WithMaxLookback(days int) Option {
	return func(c *Calendar) {
		if days > 0 {
			c.maxLookback = days
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Calendar) { c.logger = l }
}

// New creates a Calendar answering trading-day questions from source.
func New(source Source, opts ...Option) *Calendar {
	c := &Calendar{
		source:      source,
		schedule:    CNSchedule(),
		maxLookback: DefaultMaxLookbackDays,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Location returns the market time zone.
func (c *Calendar) Location() *time.Location {
	return c.schedule.Location
}

// Schedule returns the session schedule.
func (c *Calendar) Schedule() Schedule {
	return c.schedule
}

// DateOf returns the market-local calendar date of t.
func (c *Calendar) DateOf(t time.Time) string {
	return t.In(c.schedule.Location).Format(DateLayout)
}

// IsTradingDay reports whether date is a trading day.
func (c *Calendar) IsTradingDay(ctx context.Context, date string) (bool, error) {
	trading, _, err := c.tradingDay(ctx, date)
	return trading, err
}

// tradingDay answers IsTradingDay and reports whether the answer is covered by
// the source. Only covered answers are cached.
func (c *Calendar) tradingDay(ctx context.Context, date string) (trading, covered bool, err error) {
	key := tradingDayKeyPrefix + date
	if c.cache != nil {
		if v, ok := c.cache.Get(key); ok {
			return v == "true", true, nil
		}
	}

	trading, err = c.source.IsTradingDay(ctx, date)
	if err != nil {
		return false, false, err
	}

	if !c.covers(date) {
		c.logger.Warn().Str("date", date).Bool("trading_day", trading).
			Msg("date outside the trading calendar's coverage, answer not cached")
		return trading, false, nil
	}

	if c.cache != nil {
		if setErr := c.cache.Set(key, fmt.Sprintf("%t", trading)); setErr != nil {
			return false, false, fmt.Errorf("caching trading day %s: %w", date, setErr)
		}
	}
	return trading, true, nil
}

func (c *Calendar) covers(date string) bool {
	cov, ok := c.source.(Coverage)
	return !ok || cov.Covers(date)
}

// IsTradingTime reports whether now falls on a trading day and inside one of
// the day's sessions, both evaluated in the market time zone.
func (c *Calendar) IsTradingTime(ctx context.Context, now time.Time) (bool, error) {
	local := now.In(c.schedule.Location)
	if !c.schedule.InSession(local) {
		return false, nil
	}
	return c.IsTradingDay(ctx, local.Format(DateLayout))
}

// NearestTradingDateAtOrBefore returns date if it is a trading day, otherwise
// the closest earlier trading day. It gives up with ErrCalendarLookup after
// the configured lookback.
func (c *Calendar) NearestTradingDateAtOrBefore(ctx context.Context, date string) (string, error) {
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return "", fmt.Errorf("%w: invalid date %q: %w", ErrCalendarLookup, date, err)
	}

	key := nearestKeyPrefix + date
	if c.cache != nil {
		if v, ok := c.cache.Get(key); ok {
			return v, nil
		}
	}

	allCovered := true
	for i := 0; i <= c.maxLookback; i++ {
		candidate := d.AddDate(0, 0, -i).Format(DateLayout)
		trading, covered, dayErr := c.tradingDay(ctx, candidate)
		if dayErr != nil {
			return "", dayErr
		}
		allCovered = allCovered && covered
		if !trading {
			continue
		}

		if c.cache != nil && allCovered {
			if setErr := c.cache.Set(key, candidate); setErr != nil {
				return "", fmt.Errorf("caching nearest trading date for %s: %w", date, setErr)
			}
		}
		return candidate, nil
	}

	return "", fmt.Errorf("%w: no trading day within %d days before %s", ErrCalendarLookup, c.maxLookback, date)
}

// IsAtOrAfterNearestTradingDate reports whether candidate is not older than the
// most recent trading day at or before reference.
func (c *Calendar) IsAtOrAfterNearestTradingDate(ctx context.Context, candidate, reference string) (bool, error) {
	nearest, err := c.NearestTradingDateAtOrBefore(ctx, reference)
	if err != nil {
		return false, err
	}
	return candidate >= nearest, nil
}
