// Package window resolves the two calendar days, today and yesterday in
// Beijing time, that a sync run is allowed to update.
package window

import (
	"time"
	_ "time/tzdata"
)

// DateLayout is the calendar date format used by the upstream API and in
// snapshot file names.
const DateLayout = "2006-01-02"

const zoneName = "Asia/Shanghai"

var location = loadLocation()

func loadLocation() *time.Location {
	loc, err := time.LoadLocation(zoneName)
	if err != nil {
		return time.FixedZone("CST", 8*60*60)
	}
	return loc
}

// Location returns the civil time zone all windows are computed in.
func Location() *time.Location { return location }

// Now returns the current instant in Location.
func Now() time.Time { return time.Now().In(location) }

// Window is the pair of days eligible for file updates. Both values are
// midnight in Location.
type Window struct {
	Today     time.Time
	Yesterday time.Time
}

// Resolve computes the window for the instant now.
func Resolve(now time.Time) Window {
	local := now.In(location)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, location)
	return Window{
		Today:     today,
		Yesterday: today.AddDate(0, 0, -1),
	}
}

// From is the first day of the fetch range.
func (w Window) From() string { return w.Yesterday.Format(DateLayout) }

// To is the last day of the fetch range, inclusive.
func (w Window) To() string { return w.Today.Format(DateLayout) }

// Contains reports whether date (YYYY-MM-DD) is today or yesterday.
// Strings that are not valid calendar dates are never contained.
func (w Window) Contains(date string) bool {
	d, err := time.ParseInLocation(DateLayout, date, location)
	if err != nil {
		return false
	}
	return d.Equal(w.Today) || d.Equal(w.Yesterday)
}

func (w Window) String() string { return w.From() + ".." + w.To() }
