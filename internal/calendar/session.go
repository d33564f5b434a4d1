package calendar

import (
	"fmt"
	"time"
)

// TimeOfDay is a wall-clock time within a day, at second precision.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

// ParseTimeOfDay parses "15:04" or "15:04:05".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDay{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}, nil
		}
	}
	return TimeOfDay{}, fmt.Errorf("invalid time of day %q (want HH:MM or HH:MM:SS)", s)
}

func (t TimeOfDay) seconds() int {
	return t.Hour*3600 + t.Minute*60 + t.Second
}

func (t TimeOfDay) String() string {
	if t.Second != 0 {
		return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
	}
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Session is a half-open trading window [Open, Close).
type Session struct {
	Open  TimeOfDay
	Close TimeOfDay
}

// Contains reports whether the wall-clock time of t lies inside the session.
func (s Session) Contains(t time.Time) bool {
	sec := t.Hour()*3600 + t.Minute()*60 + t.Second()
	return sec >= s.Open.seconds() && sec < s.Close.seconds()
}

func (s Session) String() string {
	return s.Open.String() + "-" + s.Close.String()
}

// Schedule is the fixed daily session layout of a market.
type Schedule struct {
	Location *time.Location
	Sessions []Session
}

// NewSchedule builds a schedule from "HH:MM" pairs in the named IANA zone.
func NewSchedule(timezone string, windows ...[2]string) (Schedule, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return Schedule{}, fmt.Errorf("loading timezone %q: %w", timezone, err)
	}

	sessions := make([]Session, 0, len(windows))
	for _, w := range windows {
		open, openErr := ParseTimeOfDay(w[0])
		if openErr != nil {
			return Schedule{}, openErr
		}
		closeAt, closeErr := ParseTimeOfDay(w[1])
		if closeErr != nil {
			return Schedule{}, closeErr
		}
		if closeAt.seconds() <= open.seconds() {
			return Schedule{}, fmt.Errorf("session %s-%s closes before it opens", w[0], w[1])
		}
		sessions = append(sessions, Session{Open: open, Close: closeAt})
	}
	if len(sessions) == 0 {
		return Schedule{}, fmt.Errorf("schedule for %s has no sessions", timezone)
	}

	return Schedule{Location: loc, Sessions: sessions}, nil
}

// CNSchedule is the regular A-share continuous trading schedule.
func CNSchedule() Schedule {
	s, err := NewSchedule(DefaultTimezone, [2]string{"09:30", "11:30"}, [2]string{"13:00", "15:00"})
	if err != nil {
		// Unreachable: tzdata is linked in by doc.go.
		panic(err)
	}
	return s
}

// InSession reports whether t, converted to the schedule's zone, falls inside any session.
func (s Schedule) InSession(t time.Time) bool {
	local := t.In(s.Location)
	for _, sess := range s.Sessions {
		if sess.Contains(local) {
			return true
		}
	}
	return false
}
