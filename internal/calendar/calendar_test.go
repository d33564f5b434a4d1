package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rshade/mktcache/internal/persist"
)

func shanghai(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(DefaultTimezone)
	require.NoError(t, err)
	return loc
}

func newCNCalendar(t *testing.T, opts ...Option) *Calendar {
	t.Helper()
	src, err := NewCNSource()
	require.NoError(t, err)
	return New(src, opts...)
}

func newCachedCalendar(t *testing.T) (*Calendar, *persist.Store) {
	t.Helper()
	store, err := persist.Open(filepath.Join(t.TempDir(), "test_trade_dates_cache.json"))
	require.NoError(t, err)
	return newCNCalendar(t, WithCache(store)), store
}

func TestIsTradingTime(t *testing.T) {
	t.Parallel()

	cal, _ := newCachedCalendar(t)
	loc := shanghai(t)
	ctx := context.Background()

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{name: "trading day morning session", at: time.Date(2023, 10, 23, 10, 0, 0, 0, loc), want: true},
		{name: "trading day after close", at: time.Date(2023, 10, 23, 16, 0, 0, 0, loc), want: false},
		{name: "sunday", at: time.Date(2023, 10, 22, 10, 0, 0, 0, loc), want: false},
		{name: "lunch break", at: time.Date(2023, 10, 23, 12, 0, 0, 0, loc), want: false},
		{name: "afternoon session", at: time.Date(2023, 10, 23, 14, 59, 59, 0, loc), want: true},
		{name: "open is inclusive", at: time.Date(2023, 10, 23, 9, 30, 0, 0, loc), want: true},
		{name: "close is exclusive", at: time.Date(2023, 10, 23, 15, 0, 0, 0, loc), want: false},
		{name: "before open", at: time.Date(2023, 10, 23, 9, 29, 59, 0, loc), want: false},
		{name: "national day holiday", at: time.Date(2023, 10, 4, 10, 0, 0, 0, loc), want: false},
		{name: "utc instant converted to market zone", at: time.Date(2023, 10, 23, 2, 0, 0, 0, time.UTC), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cal.IsTradingTime(ctx, tt.at)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNearestTradingDateAtOrBefore(t *testing.T) {
	t.Parallel()

	cal, store := newCachedCalendar(t)
	ctx := context.Background()

	tests := []struct {
		date string
		want string
	}{
		{date: "2023-10-23", want: "2023-10-23"},
		{date: "2023-10-22", want: "2023-10-20"},
		{date: "2023-10-21", want: "2023-10-20"},
		{date: "2023-10-06", want: "2023-09-28"},
		{date: "2024-02-18", want: "2024-02-08"},
	}

	for _, tt := range tests {
		t.Run(tt.date, func(t *testing.T) {
			got, err := cal.NearestTradingDateAtOrBefore(ctx, tt.date)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, got, tt.date)
		})
	}

	v, ok := store.Get("nearest:2023-10-22")
	require.True(t, ok)
	assert.Equal(t, "2023-10-20", v)

	v, ok = store.Get("trading_day:2023-10-22")
	require.True(t, ok)
	assert.Equal(t, "false", v)

	t.Run("invalid date", func(t *testing.T) {
		_, err := cal.NearestTradingDateAtOrBefore(ctx, "23-10-2023")
		assert.ErrorIs(t, err, ErrCalendarLookup)
	})
}

func TestNearestTradingDate_LookbackExhausted(t *testing.T) {
	t.Parallel()

	closures := make([]string, 0, 20)
	start := time.Date(2023, 10, 1, 0, 0, 0, 0, time.UTC)
	for i := range 20 {
		closures = append(closures, start.AddDate(0, 0, i).Format(DateLayout))
	}
	src, err := NewStaticSource(closures...)
	require.NoError(t, err)

	cal := New(src, WithMaxLookback(5))
	_, err = cal.NearestTradingDateAtOrBefore(context.Background(), "2023-10-15")
	assert.ErrorIs(t, err, ErrCalendarLookup)
}

func TestIsAtOrAfterNearestTradingDate(t *testing.T) {
	t.Parallel()

	cal, _ := newCachedCalendar(t)
	ctx := context.Background()

	tests := []struct {
		candidate string
		reference string
		want      bool
	}{
		{candidate: "2023-10-23", reference: "2023-10-23", want: true},
		{candidate: "2023-10-22", reference: "2023-10-23", want: false},
		{candidate: "2023-10-20", reference: "2023-10-22", want: true},
		{candidate: "2023-10-19", reference: "2023-10-22", want: false},
		{candidate: "2023-10-24", reference: "2023-10-23", want: true},
		{candidate: "2023-10-21", reference: "2023-10-21", want: true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_at_%s", tt.candidate, tt.reference), func(t *testing.T) {
			got, err := cal.IsAtOrAfterNearestTradingDate(ctx, tt.candidate, tt.reference)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type countingSource struct {
	calls atomic.Int32
	inner Source
}

func (s *countingSource) IsTradingDay(ctx context.Context, date string) (bool, error) {
	s.calls.Add(1)
	return s.inner.IsTradingDay(ctx, date)
}

func TestCalendar_CacheSurvivesRestart(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "calendar.json")
	inner, err := NewCNSource()
	require.NoError(t, err)
	ctx := context.Background()

	store1, err := persist.Open(path)
	require.NoError(t, err)
	src1 := &countingSource{inner: inner}
	_, err = New(src1, WithCache(store1)).NearestTradingDateAtOrBefore(ctx, "2023-10-22")
	require.NoError(t, err)
	assert.Equal(t, int32(3), src1.calls.Load())

	store2, err := persist.Open(path)
	require.NoError(t, err)
	src2 := &countingSource{inner: inner}
	got, err := New(src2, WithCache(store2)).NearestTradingDateAtOrBefore(ctx, "2023-10-22")
	require.NoError(t, err)
	assert.Equal(t, "2023-10-20", got)
	assert.Equal(t, int32(0), src2.calls.Load())
}

type failingKV struct{}

func (failingKV) Get(string) (string, bool) { return "", false }
func (failingKV) Set(string, string) error  { return persist.ErrStorage }

func TestCalendar_CacheWriteFailurePropagates(t *testing.T) {
	t.Parallel()

	cal := newCNCalendar(t, WithCache(failingKV{}))
	_, err := cal.IsTradingDay(context.Background(), "2023-10-23")
	assert.True(t, errors.Is(err, persist.ErrStorage))
}

func TestStaticSource(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	src, err := NewStaticSource("2023-10-24")
	require.NoError(t, err)

	ok, err := src.IsTradingDay(ctx, "2023-10-23")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = src.IsTradingDay(ctx, "2023-10-24")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = src.IsTradingDay(ctx, "not-a-date")
	assert.ErrorIs(t, err, ErrCalendarLookup)

	_, err = NewStaticSource("2023/10/24")
	assert.Error(t, err)

	closures, err := CNClosures()
	require.NoError(t, err)
	assert.Contains(t, closures, "2024-02-12")
	assert.IsNonDecreasing(t, closures)
}

func TestHTTPSource(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("trade_date\n2023-10-19\n2023-10-20\n2023-10-23 00:00:00\nbogus\n"))
	}))
	t.Cleanup(server.Close)

	src := NewHTTPSource(server.URL)
	cal := New(src)
	ctx := context.Background()

	got, err := cal.NearestTradingDateAtOrBefore(ctx, "2023-10-22")
	require.NoError(t, err)
	assert.Equal(t, "2023-10-20", got)

	ok, err := src.IsTradingDay(ctx, "2023-10-23")
	require.NoError(t, err)
	assert.True(t, ok)

	// Beyond the list: weekday rule.
	ok, err = src.IsTradingDay(ctx, "2023-10-25")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = src.IsTradingDay(ctx, "2023-10-28")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, int32(1), hits.Load())
}

func TestHTTPSource_DownloadFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)

	_, err := NewHTTPSource(server.URL).IsTradingDay(context.Background(), "2023-10-23")
	assert.ErrorIs(t, err, ErrCalendarLookup)
}

func TestSchedule(t *testing.T) {
	t.Parallel()

	s, err := NewSchedule("Asia/Shanghai", [2]string{"09:30", "11:30"})
	require.NoError(t, err)
	assert.Equal(t, "09:30-11:30", s.Sessions[0].String())

	_, err = NewSchedule("Mars/Olympus", [2]string{"09:30", "11:30"})
	assert.Error(t, err)

	_, err = NewSchedule("Asia/Shanghai", [2]string{"11:30", "09:30"})
	assert.Error(t, err)

	_, err = NewSchedule("Asia/Shanghai")
	assert.Error(t, err)

	tod, err := ParseTimeOfDay("14:57:30")
	require.NoError(t, err)
	assert.Equal(t, "14:57:30", tod.String())

	_, err = ParseTimeOfDay("25:00")
	assert.Error(t, err)
}

func TestClock(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2023, 10, 23, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, fixed, ClockFunc(func() time.Time { return fixed }).Now())
	assert.WithinDuration(t, time.Now(), SystemClock{}.Now(), time.Second)
}

func TestCNSource_2026Closures(t *testing.T) {
	t.Parallel()

	cal, _ := newCachedCalendar(t)
	loc := shanghai(t)
	ctx := context.Background()

	for _, date := range []string{"2026-01-02", "2026-02-17", "2026-05-05", "2026-10-01", "2026-10-07"} {
		ok, err := cal.IsTradingDay(ctx, date)
		require.NoError(t, err)
		assert.False(t, ok, date)
	}

	open, err := cal.IsTradingTime(ctx, time.Date(2026, 10, 1, 10, 0, 0, 0, loc))
	require.NoError(t, err)
	assert.False(t, open)

	nearest, err := cal.NearestTradingDateAtOrBefore(ctx, "2026-10-07")
	require.NoError(t, err)
	assert.Equal(t, "2026-09-30", nearest)
}

func TestCNSource_Coverage(t *testing.T) {
	t.Parallel()

	first, last, err := CNCoverage()
	require.NoError(t, err)
	assert.Equal(t, "2023-01-01", first)
	assert.GreaterOrEqual(t, last, "2026-12-31")

	src, err := NewCNSource()
	require.NoError(t, err)
	assert.True(t, src.Covers(first))
	assert.True(t, src.Covers(last))
	assert.False(t, src.Covers("2022-12-30"))
	assert.False(t, src.Covers("2099-10-01"))

	custom, err := NewStaticSource()
	require.NoError(t, err)
	assert.True(t, custom.Covers("2099-10-01"))
}

func TestCalendar_UncoveredAnswersAreNotCached(t *testing.T) {
	t.Parallel()

	cal, store := newCachedCalendar(t)
	ctx := context.Background()

	// 2099-10-01 is a Thursday past the embedded list: weekday rule, not cached.
	ok, err := cal.IsTradingDay(ctx, "2099-10-01")
	require.NoError(t, err)
	assert.True(t, ok)
	_, cached := store.Get("trading_day:2099-10-01")
	assert.False(t, cached)

	nearest, err := cal.NearestTradingDateAtOrBefore(ctx, "2099-10-04")
	require.NoError(t, err)
	assert.Equal(t, "2099-10-02", nearest)
	_, cached = store.Get("nearest:2099-10-04")
	assert.False(t, cached)

	// Covered answers are still cached.
	_, err = cal.IsTradingDay(ctx, "2026-10-01")
	require.NoError(t, err)
	v, cached := store.Get("trading_day:2026-10-01")
	require.True(t, cached)
	assert.Equal(t, "false", v)
}

func TestHTTPSource_OnlyListedRangeIsCached(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("trade_date\n2023-10-19\n2023-10-20\n2023-10-23\n"))
	}))
	t.Cleanup(server.Close)

	src := NewHTTPSource(server.URL)
	assert.False(t, src.Covers("2023-10-20"), "nothing is covered before the download")

	store, err := persist.Open(filepath.Join(t.TempDir(), "calendar.json"))
	require.NoError(t, err)
	cal := New(src, WithCache(store))
	ctx := context.Background()

	for _, date := range []string{"2023-10-18", "2023-10-20", "2023-10-25"} {
		_, err = cal.IsTradingDay(ctx, date)
		require.NoError(t, err)
	}

	_, cached := store.Get("trading_day:2023-10-20")
	assert.True(t, cached)
	_, cached = store.Get("trading_day:2023-10-18")
	assert.False(t, cached, "before the first listed date")
	_, cached = store.Get("trading_day:2023-10-25")
	assert.False(t, cached, "after the last listed date")
}
