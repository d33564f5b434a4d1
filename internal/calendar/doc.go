// Package calendar answers trading-time questions for one market: whether an
// instant falls inside a trading session, and which trading day is the most
// recent one at or before a date.
//
// Dates are "YYYY-MM-DD" strings throughout; their lexicographic order is their
// chronological order, which is what the staleness comparison relies on.
// Nothing in this package reads the system clock directly. Callers resolve
// "now" once, usually through a Clock, and pass it in.
package calendar

import (
	_ "time/tzdata" // market zones must resolve on hosts without zoneinfo
)
