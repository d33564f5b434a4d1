package calendar

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rshade/mktcache/internal/dataset"
)

// tradeDateColumn is the preferred header of the date column in a remote list.
const tradeDateColumn = "trade_date"

// HTTPSource downloads a CSV list of trade dates once per process and answers
// from that list. Dates after the last listed date fall back to the weekday rule
// and dates before the first are closed; neither is covered.
type HTTPSource struct {
	url      string
	encoding string
	client   *http.Client
	logger   zerolog.Logger

	mu     sync.Mutex
	dates  map[string]struct{}
	first  string
	latest string
}

// HTTPSourceOption configures an HTTPSource.
type HTTPSourceOption func(*HTTPSource)

// WithHTTPClient sets the client used for the download.
func WithHTTPClient(c *http.Client) HTTPSourceOption {
	return func(s *HTTPSource) { s.client = c }
}

// WithEncoding sets the text encoding of the remote CSV.
func WithEncoding(encoding string) HTTPSourceOption {
	return func(s *HTTPSource) { s.encoding = encoding }
}

// WithSourceLogger sets the logger.
func WithSourceLogger(l zerolog.Logger) HTTPSourceOption {
	return func(s *HTTPSource) { s.logger = l }
}

// NewHTTPSource creates a source backed by the CSV at url.
func NewHTTPSource(url string, opts ...HTTPSourceOption) *HTTPSource {
	const defaultTimeout = 30 * time.Second
	s := &HTTPSource{
		url:    url,
		client: &http.Client{Timeout: defaultTimeout},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IsTradingDay implements Source.
func (s *HTTPSource) IsTradingDay(ctx context.Context, date string) (bool, error) {
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return false, fmt.Errorf("%w: invalid date %q: %w", ErrCalendarLookup, date, err)
	}

	dates, latest, err := s.load(ctx)
	if err != nil {
		return false, err
	}

	if date > latest {
		s.logger.Debug().Str("date", date).Str("latest", latest).
			Msg("date beyond downloaded calendar, using weekday rule")
		return isWeekday(d), nil
	}
	_, ok := dates[date]
	return ok, nil
}

// Covers implements Coverage. Nothing is covered before the list is downloaded.
func (s *HTTPSource) Covers(date string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.dates != nil && date >= s.first && date <= s.latest
}

// load downloads the list on first use. A failed download is retried on the next call.
func (s *HTTPSource) load(ctx context.Context) (map[string]struct{}, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dates != nil {
		return s.dates, s.latest, nil
	}

	dates, err := s.download(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("%w: downloading trade dates: %w", ErrCalendarLookup, err)
	}
	if len(dates) == 0 {
		return nil, "", fmt.Errorf("%w: trade date list at %s is empty", ErrCalendarLookup, s.url)
	}

	sort.Strings(dates)
	s.dates = make(map[string]struct{}, len(dates))
	for _, d := range dates {
		s.dates[d] = struct{}{}
	}
	s.first = dates[0]
	s.latest = dates[len(dates)-1]

	s.logger.Info().
		Str("url", s.url).
		Int("dates", len(dates)).
		Str("first", dates[0]).
		Str("latest", s.latest).
		Msg("trade calendar downloaded")

	return s.dates, s.latest, nil
}

func (s *HTTPSource) download(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	body, err := dataset.DecodingReader(resp.Body, s.encoding)
	if err != nil {
		return nil, err
	}
	table, err := dataset.ReadCSV(body)
	if err != nil {
		return nil, err
	}

	column, ok := table.Column(tradeDateColumn)
	if !ok {
		column, _ = table.Column(firstColumn(table))
	}

	dates := make([]string, 0, len(column))
	for _, raw := range column {
		v := strings.TrimSpace(raw)
		// Accept both "2023-10-23" and "2023-10-23 00:00:00".
		if len(v) > len(DateLayout) {
			v = v[:len(DateLayout)]
		}
		if _, parseErr := time.Parse(DateLayout, v); parseErr != nil {
			continue
		}
		dates = append(dates, v)
	}
	return dates, nil
}

func firstColumn(d *dataset.Dataset) string {
	if len(d.Columns) == 0 {
		return ""
	}
	return d.Columns[0]
}
