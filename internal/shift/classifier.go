package shift

import (
	"fmt"
	"strings"
	"time"
)

// Classify judges one candidate against the work window. It returns whether
// the record is an outlier and a human-readable reason, empty when it is not.
// Rules are evaluated independently and reasons accumulate: a partial record
// with an out-of-window clock-in reports both.
func Classify(c Candidate, w Window) (bool, string) {
	var reasons []string

	if c.ClockIn == nil || c.ClockOut == nil {
		reasons = append(reasons, "missing punch")
	}

	expectedIn := w.ExpectedIn(c.ShiftDate)
	expectedOut := w.ExpectedOut(c.ShiftDate)

	if c.ClockIn != nil {
		if r := checkBounds("clock-in", *c.ClockIn, expectedIn, w.EarlyIn, w.LateIn, w.Location); r != "" {
			reasons = append(reasons, r)
		}
	}
	if c.ClockOut != nil {
		if r := checkBounds("clock-out", *c.ClockOut, expectedOut, w.EarlyOut, w.LateOut, w.Location); r != "" {
			reasons = append(reasons, r)
		}
	}

	if len(reasons) == 0 {
		return false, ""
	}
	return true, strings.Join(reasons, "; ")
}

// checkBounds compares a punch against [expected-early, expected+late].
// The boundaries themselves are allowed.
func checkBounds(field string, actual, expected time.Time, early, late time.Duration, loc *time.Location) string {
	earliest := expected.Add(-early)
	latest := expected.Add(late)

	hhmm := func(t time.Time) string { return t.In(loc).Format("15:04") }

	if actual.Before(earliest) {
		return fmt.Sprintf("%s %s before allowed window %s-%s",
			field, hhmm(actual), hhmm(earliest), hhmm(latest))
	}
	if actual.After(latest) {
		return fmt.Sprintf("%s %s after allowed window %s-%s",
			field, hhmm(actual), hhmm(earliest), hhmm(latest))
	}
	return ""
}
