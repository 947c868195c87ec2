package shift

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay is a wall-clock time without a date, as configured for shift
// boundaries ("HH:MM").
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses a "HH:MM" string.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q: expected HH:MM", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return TimeOfDay{}, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid minute in %q", s)
	}
	return TimeOfDay{Hour: hour, Minute: minute}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Minutes returns the offset from midnight in minutes.
func (t TimeOfDay) Minutes() int {
	return t.Hour*60 + t.Minute
}

// On anchors the time of day on the given date in the given location.
func (t TimeOfDay) On(date time.Time, loc *time.Location) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour, t.Minute, 0, 0, loc)
}

// Window is the configured work window a shift is measured against. For
// overnight windows End is earlier in the day than Start and the shift ends on
// the calendar day after its shift date.
type Window struct {
	Start     TimeOfDay
	End       TimeOfDay
	Overnight bool

	// Tolerances around the expected clock-in/out before a punch is an
	// outlier.
	EarlyIn  time.Duration
	LateIn   time.Duration
	EarlyOut time.Duration
	LateOut  time.Duration

	// Location is the timezone punches are grouped and judged in. Stored
	// timestamps stay UTC instants.
	Location *time.Location
}

// Validate reports a configuration error before any pipeline runs with it.
func (w Window) Validate() error {
	if w.Location == nil {
		return fmt.Errorf("shift window: missing timezone location")
	}
	if w.EarlyIn < 0 || w.LateIn < 0 || w.EarlyOut < 0 || w.LateOut < 0 {
		return fmt.Errorf("shift window: tolerances must not be negative")
	}
	crossesMidnight := w.End.Minutes() < w.Start.Minutes()
	if w.Overnight != crossesMidnight {
		return fmt.Errorf("shift window: overnight=%v inconsistent with start %s end %s",
			w.Overnight, w.Start, w.End)
	}
	return nil
}

// ShiftDate returns the date the shift containing the punch started, at
// midnight in the window's location. For overnight windows a punch before the
// shift start time belongs to the shift that began the previous day.
func (w Window) ShiftDate(ts time.Time) time.Time {
	local := ts.In(w.Location)
	date := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, w.Location)
	if !w.Overnight {
		return date
	}
	tod := local.Hour()*60 + local.Minute()
	if tod >= w.Start.Minutes() {
		return date
	}
	return date.AddDate(0, 0, -1)
}

// ExpectedIn is the instant the shift starting on shiftDate is expected to
// begin.
func (w Window) ExpectedIn(shiftDate time.Time) time.Time {
	return w.Start.On(shiftDate, w.Location)
}

// ExpectedOut is the instant the shift starting on shiftDate is expected to
// end; for overnight windows that is on the following day.
func (w Window) ExpectedOut(shiftDate time.Time) time.Time {
	end := shiftDate
	if w.Overnight {
		end = shiftDate.AddDate(0, 0, 1)
	}
	return w.End.On(end, w.Location)
}

// Span is the half-open instant range [from, to) of punches attributed to the
// shift starting on shiftDate. It mirrors ShiftDate exactly, so re-reading the
// span yields the full union of old and new punches when merging late
// arrivals into an already reconciled shift.
func (w Window) Span(shiftDate time.Time) (time.Time, time.Time) {
	if !w.Overnight {
		return shiftDate, shiftDate.AddDate(0, 0, 1)
	}
	from := w.Start.On(shiftDate, w.Location)
	return from, from.AddDate(0, 0, 1)
}
