package shift

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/google/uuid"
)

func candidate(in, out *time.Time) Candidate {
	c := Candidate{
		DeviceID:   uuid.New(),
		EmployeeID: "101",
		ShiftDate:  time.Date(2026, 3, 10, 0, 0, 0, 0, nairobi),
		ClockIn:    in,
		ClockOut:   out,
		PunchCount: 2,
	}
	if out == nil {
		c.PunchCount = 1
	}
	return c
}

func at(hour, minute int) *time.Time {
	ts := time.Date(2026, 3, 10, hour, minute, 0, 0, nairobi)
	return &ts
}

func TestClassifyWithinWindow(t *testing.T) {
	outlier, reason := Classify(candidate(at(7, 55), at(18, 10)), dayWindow())
	assert.False(t, outlier)
	assert.Empty(t, reason)
}

func TestClassifyBoundariesAllowed(t *testing.T) {
	w := dayWindow()

	// 06:00 and 21:00 sit exactly on the tolerance edges and are not
	// outliers.
	outlier, reason := Classify(candidate(at(6, 0), at(21, 0)), w)
	assert.False(t, outlier, "reason: %s", reason)
}

func TestClassifyEarlyClockIn(t *testing.T) {
	outlier, reason := Classify(candidate(at(5, 59), at(17, 0)), dayWindow())
	assert.True(t, outlier)
	assert.Contains(t, reason, "clock-in")
	assert.Contains(t, reason, "before allowed window")
	assert.Contains(t, reason, "05:59")
}

func TestClassifyLateClockOut(t *testing.T) {
	outlier, reason := Classify(candidate(at(8, 0), at(21, 1)), dayWindow())
	assert.True(t, outlier)
	assert.Contains(t, reason, "clock-out")
	assert.Contains(t, reason, "after allowed window")
}

func TestClassifyMissingPunch(t *testing.T) {
	outlier, reason := Classify(candidate(at(8, 0), nil), dayWindow())
	assert.True(t, outlier)
	assert.Contains(t, reason, "missing punch")
}

func TestClassifyAccumulatesReasons(t *testing.T) {
	// A lone punch far before the window reports both rules.
	outlier, reason := Classify(candidate(at(4, 0), nil), dayWindow())
	assert.True(t, outlier)
	assert.Contains(t, reason, "missing punch")
	assert.Contains(t, reason, "clock-in")
	assert.Contains(t, reason, "; ")
}

func TestClassifyOvernight(t *testing.T) {
	w := nightWindow()
	in := time.Date(2026, 3, 10, 20, 15, 0, 0, nairobi)
	out := time.Date(2026, 3, 11, 5, 10, 0, 0, nairobi)

	outlier, reason := Classify(candidate(&in, &out), w)
	assert.False(t, outlier, "reason: %s", reason)

	// Leaving at 08:01 the next morning is past the 05:00+3h cutoff.
	late := time.Date(2026, 3, 11, 8, 1, 0, 0, nairobi)
	outlier, reason = Classify(candidate(&in, &late), w)
	assert.True(t, outlier)
	assert.Contains(t, reason, "clock-out")
}
