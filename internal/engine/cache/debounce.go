package cache

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Debounce configuration constants and defaults.
const (
	// DefaultDebounce is the minimum time between two fetches while the market is open.
	DefaultDebounce = 5 * time.Second

	// MaxDebounce is the largest accepted debounce window.
	MaxDebounce = 10 * time.Minute

	hoursPerDay = 24

	dateLayout = "2006-01-02"
)

// ErrInvalidDebounce is returned for windows outside (0, MaxDebounce].
var ErrInvalidDebounce = fmt.Errorf("debounce must be greater than 0 and at most %s", MaxDebounce)

// ParseDebounce parses a debounce window in either form:
// - Integer seconds: "5".
// - Duration string: "5s", "1m30s", "500ms".
func ParseDebounce(s string) (time.Duration, error) {
	var d time.Duration
	if seconds, err := strconv.Atoi(s); err == nil {
		d = time.Duration(seconds) * time.Second
	} else {
		parsed, parseErr := time.ParseDuration(s)
		if parseErr != nil {
			return 0, fmt.Errorf("invalid debounce format: %w", parseErr)
		}
		d = parsed
	}

	if d <= 0 || d > MaxDebounce {
		return 0, fmt.Errorf("%w: got %s", ErrInvalidDebounce, d)
	}
	return d, nil
}

// FormatDuration renders d with every non-zero unit from days down to seconds,
// e.g. "5s", "1m30s", "3d2h". Durations under a second keep their
// time.Duration form.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return d.String()
	}

	units := []struct {
		size time.Duration
		name string
	}{
		{hoursPerDay * time.Hour, "d"},
		{time.Hour, "h"},
		{time.Minute, "m"},
		{time.Second, "s"},
	}

	var b strings.Builder
	for _, u := range units {
		if n := d / u.size; n > 0 {
			fmt.Fprintf(&b, "%d%s", int64(n), u.name)
			d -= n * u.size
		}
	}
	return b.String()
}
