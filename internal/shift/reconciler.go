package shift

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/chrismotari/zkteco-f18-attendance-bridge/internal/db/models"
)

// Candidate is a reconciled shift summary before outlier classification.
// ClockOut is nil when only a single punch was observed; such partial records
// are kept, not dropped, and surfaced to the classifier.
type Candidate struct {
	DeviceID   uuid.UUID
	EmployeeID string
	ShiftDate  time.Time
	ClockIn    *time.Time
	ClockOut   *time.Time
	PunchCount int
}

// Duration returns the candidate's worked duration, nil for partial records.
func (c Candidate) Duration() *time.Duration {
	if c.ClockIn == nil || c.ClockOut == nil {
		return nil
	}
	d := c.ClockOut.Sub(*c.ClockIn)
	return &d
}

type groupKey struct {
	deviceID   uuid.UUID
	employeeID string
	shiftDate  time.Time
}

// Reconcile turns raw punches into per-shift candidates. Punches are grouped
// per (device, employee) by the window's shift-date attribution, earliest
// punch becomes clock-in and latest clock-out. The input need not be ordered;
// duplicates are already removed by the punch store. Given the same punches
// the output is identical, so reconciliation can be re-run at any time.
func Reconcile(punches []models.RawPunch, w Window) []Candidate {
	if len(punches) == 0 {
		return nil
	}

	sorted := make([]models.RawPunch, len(punches))
	copy(sorted, punches)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	groups := make(map[groupKey][]models.RawPunch)
	order := make([]groupKey, 0)
	for _, p := range sorted {
		key := groupKey{
			deviceID:   p.DeviceID,
			employeeID: p.EmployeeID,
			shiftDate:  w.ShiftDate(p.Timestamp),
		}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], p)
	}

	// Deterministic output ordering regardless of input order.
	sort.Slice(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if a.employeeID != b.employeeID {
			return a.employeeID < b.employeeID
		}
		if !a.shiftDate.Equal(b.shiftDate) {
			return a.shiftDate.Before(b.shiftDate)
		}
		return a.deviceID.String() < b.deviceID.String()
	})

	candidates := make([]Candidate, 0, len(order))
	for _, key := range order {
		group := groups[key]
		first := group[0].Timestamp
		c := Candidate{
			DeviceID:   key.deviceID,
			EmployeeID: key.employeeID,
			ShiftDate:  key.shiftDate,
			ClockIn:    &first,
			PunchCount: len(group),
		}
		if len(group) > 1 {
			last := group[len(group)-1].Timestamp
			c.ClockOut = &last
		}
		candidates = append(candidates, c)
	}
	return candidates
}
