// Package timeutil holds the clock and the window boundaries of usage
// intervals. Window math is pure: callers pass the reference time.
package timeutil

import (
	"fmt"
	"time"

	"github.com/BatmanBruc/gpt-bot/types"
)

// Location is the fixed system zone windows are aligned to. It is not the
// user's zone.
var Location = time.FixedZone("MSK", 3*60*60)

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

type FixedClock struct {
	T time.Time
}

func (c FixedClock) Now() time.Time { return c.T }

// WindowStart returns the start of the interval window containing at.
func WindowStart(interval types.Interval, at time.Time) time.Time {
	return WindowStartIn(interval, at, Location)
}

// WindowStartIn is WindowStart for an explicit location. Weeks start on
// Monday.
func WindowStartIn(interval types.Interval, at time.Time, loc *time.Location) time.Time {
	t := at.In(loc)
	y, m, d := t.Date()
	switch interval {
	case types.Day:
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	case types.Week:
		offset := (int(t.Weekday()) + 6) % 7
		return time.Date(y, m, d-offset, 0, 0, 0, 0, loc)
	case types.Month:
		return time.Date(y, m, 1, 0, 0, 0, 0, loc)
	default:
		panic(fmt.Sprintf("timeutil: unknown interval %q", interval))
	}
}

// SameWindow reports whether a and b fall into the same interval window.
func SameWindow(interval types.Interval, a, b time.Time) bool {
	return WindowStart(interval, a).Equal(WindowStart(interval, b))
}

// ToISO formats t the way timestamps are persisted.
func ToISO(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
