package calendar

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DateLayout is the layout of every date string handled by this package.
const DateLayout = "2006-01-02"

// DefaultTimezone is the zone of the default CN market schedule.
const DefaultTimezone = "Asia/Shanghai"

// Source reports whether a calendar date is a trading day.
type Source interface {
	IsTradingDay(ctx context.Context, date string) (bool, error)
}

//go:embed holidays/cn_sse.yaml
var cnClosuresYAML []byte

type closureFile struct {
	Market   string              `yaml:"market"`
	Timezone string              `yaml:"timezone"`
	Closures map[string][]string `yaml:"closures"`
}

// Coverage is implemented by sources whose answers are authoritative only for
// a range of dates. Answers outside the range are served but never cached.
type Coverage interface {
	Covers(date string) bool
}

// CNClosures returns the embedded list of weekday exchange closures, sorted.
func CNClosures() ([]string, error) {
	dates, _, _, err := cnClosureList()
	return dates, err
}

// CNCoverage returns the first and last date of the years the embedded
// closure list covers.
func CNCoverage() (first, last string, err error) {
	_, first, last, err = cnClosureList()
	return first, last, err
}

func cnClosureList() (dates []string, first, last string, err error) {
	var f closureFile
	if err = yaml.Unmarshal(cnClosuresYAML, &f); err != nil {
		return nil, "", "", fmt.Errorf("parsing embedded closure list: %w", err)
	}

	years := make([]int, 0, len(f.Closures))
	for year, list := range f.Closures {
		y, atoiErr := strconv.Atoi(year)
		if atoiErr != nil {
			return nil, "", "", fmt.Errorf("embedded closure list: invalid year %q: %w", year, atoiErr)
		}
		years = append(years, y)
		dates = append(dates, list...)
	}
	if len(years) == 0 {
		return nil, "", "", errors.New("embedded closure list is empty")
	}
	sort.Ints(years)
	sort.Strings(dates)

	first = fmt.Sprintf("%04d-01-01", years[0])
	last = fmt.Sprintf("%04d-12-31", years[len(years)-1])
	return dates, first, last, nil
}

// StaticSource treats weekdays as trading days except for listed closures.
// A source built by NewCNSource covers only the years of the embedded list.
type StaticSource struct {
	closures map[string]struct{}

	// first and last bound the covered dates; empty means unbounded.
	first, last string
}

// NewStaticSource creates a source closed on weekends and on each closure date.
// The list is taken as complete for every date.
func NewStaticSource(closures ...string) (*StaticSource, error) {
	s := &StaticSource{closures: make(map[string]struct{}, len(closures))}
	for _, c := range closures {
		if _, err := time.Parse(DateLayout, c); err != nil {
			return nil, fmt.Errorf("invalid closure date %q: %w", c, err)
		}
		s.closures[c] = struct{}{}
	}
	return s, nil
}

// NewCNSource creates a StaticSource from the embedded CN closure list plus extra dates.
func NewCNSource(extra ...string) (*StaticSource, error) {
	closures, first, last, err := cnClosureList()
	if err != nil {
		return nil, err
	}
	s, err := NewStaticSource(append(closures, extra...)...)
	if err != nil {
		return nil, err
	}
	s.first, s.last = first, last
	return s, nil
}

// Covers implements Coverage.
func (s *StaticSource) Covers(date string) bool {
	return (s.first == "" || date >= s.first) && (s.last == "" || date <= s.last)
}

// IsTradingDay implements Source.
func (s *StaticSource) IsTradingDay(_ context.Context, date string) (bool, error) {
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return false, fmt.Errorf("%w: invalid date %q: %w", ErrCalendarLookup, date, err)
	}
	return isWeekday(d) && !s.isClosed(date), nil
}

func (s *StaticSource) isClosed(date string) bool {
	_, ok := s.closures[date]
	return ok
}

func isWeekday(d time.Time) bool {
	wd := d.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}
