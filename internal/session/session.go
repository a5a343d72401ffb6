// Package session answers whether the upstream market is in its trading
// session at a given instant.
package session

import (
	"fmt"
	"strings"
	"time"
)

// Window is a weekly trading session: a set of weekdays and an [Open, Close)
// clock range, both evaluated in Location.
type Window struct {
	Days     map[time.Weekday]bool
	Open     time.Duration // offset from local midnight
	Close    time.Duration
	Location *time.Location
}

// Default is the US equity regular session.
func Default() Window {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.FixedZone("EST", -5*3600)
	}
	return Window{
		Days: map[time.Weekday]bool{
			time.Monday: true, time.Tuesday: true, time.Wednesday: true,
			time.Thursday: true, time.Friday: true,
		},
		Open:     9*time.Hour + 30*time.Minute,
		Close:    16 * time.Hour,
		Location: loc,
	}
}

// Contains reports whether t falls inside the session.
func (w Window) Contains(t time.Time) bool {
	loc := w.Location
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	if !w.Days[local.Weekday()] {
		return false
	}
	// Wall clock, not elapsed time since midnight, so DST days keep their
	// local open and close.
	offset := time.Duration(local.Hour())*time.Hour +
		time.Duration(local.Minute())*time.Minute +
		time.Duration(local.Second())*time.Second +
		time.Duration(local.Nanosecond())
	return offset >= w.Open && offset < w.Close
}

func (w Window) String() string {
	var days []string
	for d := time.Sunday; d <= time.Saturday; d++ {
		if w.Days[d] {
			days = append(days, strings.ToLower(d.String()[:3]))
		}
	}
	loc := "UTC"
	if w.Location != nil {
		loc = w.Location.String()
	}
	return fmt.Sprintf("%s %s-%s %s", strings.Join(days, ","), clock(w.Open), clock(w.Close), loc)
}

func clock(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d.Hours()), int(d.Minutes())%60)
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// Parse builds a Window from config strings: days like "mon" or ranges like
// "mon-fri", clock times "HH:MM", and an IANA timezone name.
func Parse(days []string, open, close, timezone string) (Window, error) {
	w := Window{Days: map[time.Weekday]bool{}}
	for _, spec := range days {
		spec = strings.ToLower(strings.TrimSpace(spec))
		from, to, isRange := strings.Cut(spec, "-")
		start, ok := weekdays[from]
		if !ok {
			return Window{}, fmt.Errorf("session: unknown weekday %q", from)
		}
		end := start
		if isRange {
			if end, ok = weekdays[to]; !ok {
				return Window{}, fmt.Errorf("session: unknown weekday %q", to)
			}
		}
		for d := start; ; d = (d + 1) % 7 {
			w.Days[d] = true
			if d == end {
				break
			}
		}
	}
	if len(w.Days) == 0 {
		return Window{}, fmt.Errorf("session: no trading days")
	}

	var err error
	if w.Open, err = parseClock(open); err != nil {
		return Window{}, err
	}
	if w.Close, err = parseClock(close); err != nil {
		return Window{}, err
	}
	if w.Close <= w.Open {
		return Window{}, fmt.Errorf("session: close %s must be after open %s", close, open)
	}

	if timezone == "" {
		timezone = "UTC"
	}
	if w.Location, err = time.LoadLocation(timezone); err != nil {
		return Window{}, fmt.Errorf("session: load timezone: %w", err)
	}
	return w, nil
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("session: invalid clock time %q", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
