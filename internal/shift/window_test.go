package shift

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var nairobi = time.FixedZone("EAT", 3*3600)

func dayWindow() Window {
	return Window{
		Start:    TimeOfDay{Hour: 8},
		End:      TimeOfDay{Hour: 18},
		EarlyIn:  2 * time.Hour,
		LateIn:   2 * time.Hour,
		EarlyOut: 2 * time.Hour,
		LateOut:  3 * time.Hour,
		Location: nairobi,
	}
}

func nightWindow() Window {
	return Window{
		Start:     TimeOfDay{Hour: 20},
		End:       TimeOfDay{Hour: 5},
		Overnight: true,
		EarlyIn:   2 * time.Hour,
		LateIn:    2 * time.Hour,
		EarlyOut:  2 * time.Hour,
		LateOut:   3 * time.Hour,
		Location:  nairobi,
	}
}

func TestParseTimeOfDay(t *testing.T) {
	tod, err := ParseTimeOfDay("08:30")
	require.NoError(t, err)
	assert.Equal(t, TimeOfDay{Hour: 8, Minute: 30}, tod)
	assert.Equal(t, "08:30", tod.String())

	for _, bad := range []string{"8", "24:00", "08:60", "ab:cd", ""} {
		_, err := ParseTimeOfDay(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestWindowValidate(t *testing.T) {
	require.NoError(t, dayWindow().Validate())
	require.NoError(t, nightWindow().Validate())

	w := dayWindow()
	w.Location = nil
	assert.Error(t, w.Validate())

	w = dayWindow()
	w.Overnight = true
	assert.Error(t, w.Validate(), "overnight flag must match start/end ordering")

	w = nightWindow()
	w.Overnight = false
	assert.Error(t, w.Validate())

	w = dayWindow()
	w.LateOut = -time.Hour
	assert.Error(t, w.Validate())
}

func TestShiftDateDayWindow(t *testing.T) {
	w := dayWindow()

	// A day-shift punch always belongs to its own local calendar day, even
	// shortly after midnight.
	punch := time.Date(2026, 3, 10, 7, 45, 0, 0, nairobi)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, nairobi), w.ShiftDate(punch))

	punch = time.Date(2026, 3, 10, 0, 30, 0, 0, nairobi)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, nairobi), w.ShiftDate(punch))
}

func TestShiftDateOvernightWindow(t *testing.T) {
	w := nightWindow()
	d := time.Date(2026, 3, 10, 0, 0, 0, 0, nairobi)

	// At or after the start the shift is dated that day.
	assert.Equal(t, d, w.ShiftDate(time.Date(2026, 3, 10, 20, 0, 0, 0, nairobi)))
	assert.Equal(t, d, w.ShiftDate(time.Date(2026, 3, 10, 23, 59, 0, 0, nairobi)))

	// Before the start the punch belongs to the shift that began the
	// previous evening.
	assert.Equal(t, d, w.ShiftDate(time.Date(2026, 3, 11, 5, 10, 0, 0, nairobi)))
	assert.Equal(t, d, w.ShiftDate(time.Date(2026, 3, 11, 19, 59, 0, 0, nairobi)))
}

func TestShiftDateUsesWindowLocation(t *testing.T) {
	w := nightWindow()

	// 2026-03-11 02:00 UTC is 05:00 in Nairobi, still the March 10 shift.
	punch := time.Date(2026, 3, 11, 2, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, nairobi), w.ShiftDate(punch))
}

func TestExpectedInstants(t *testing.T) {
	d := time.Date(2026, 3, 10, 0, 0, 0, 0, nairobi)

	w := dayWindow()
	assert.Equal(t, time.Date(2026, 3, 10, 8, 0, 0, 0, nairobi), w.ExpectedIn(d))
	assert.Equal(t, time.Date(2026, 3, 10, 18, 0, 0, 0, nairobi), w.ExpectedOut(d))

	n := nightWindow()
	assert.Equal(t, time.Date(2026, 3, 10, 20, 0, 0, 0, nairobi), n.ExpectedIn(d))
	assert.Equal(t, time.Date(2026, 3, 11, 5, 0, 0, 0, nairobi), n.ExpectedOut(d))
}

func TestSpanMirrorsShiftDate(t *testing.T) {
	for _, w := range []Window{dayWindow(), nightWindow()} {
		d := time.Date(2026, 3, 10, 0, 0, 0, 0, nairobi)
		from, to := w.Span(d)

		// Every instant inside the span attributes back to the same shift
		// date, and the boundaries are half-open.
		assert.Equal(t, d, w.ShiftDate(from))
		assert.Equal(t, d, w.ShiftDate(to.Add(-time.Minute)))
		assert.NotEqual(t, d, w.ShiftDate(to))
		assert.NotEqual(t, d, w.ShiftDate(from.Add(-time.Minute)))
	}
}
