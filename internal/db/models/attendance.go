package models

import (
	"time"

	"github.com/google/uuid"
)

// AttendanceRecord is the reconciled daily summary for one employee on one
// shift date. ShiftDate is the calendar date the shift started; for overnight
// shifts the clock-out falls on the following day. Unique on
// (device_id, employee_id, shift_date).
type AttendanceRecord struct {
	ID            uuid.UUID  `db:"id"`
	DeviceID      uuid.UUID  `db:"device_id"`
	EmployeeID    string     `db:"employee_id"`
	ShiftDate     time.Time  `db:"shift_date"`
	ClockIn       *time.Time `db:"clock_in"`
	ClockOut      *time.Time `db:"clock_out"`
	PunchCount    int        `db:"punch_count"`
	IsOutlier     bool       `db:"is_outlier"`
	OutlierReason string     `db:"outlier_reason"`
	SyncState     SyncState  `db:"sync_state"`
	SyncAttempts  int        `db:"sync_attempts"`
	LastSyncAt    *time.Time `db:"last_sync_attempt"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
}

// Duration returns the worked duration, or nil when the record is partial.
// Clock times are absolute instants, so shifts crossing midnight yield a
// positive duration.
func (r *AttendanceRecord) Duration() *time.Duration {
	if r.ClockIn == nil || r.ClockOut == nil {
		return nil
	}
	d := r.ClockOut.Sub(*r.ClockIn)
	return &d
}

// Key returns the dispatch identity of the record.
func (r *AttendanceRecord) Key() RecordKey {
	return RecordKey{EmployeeID: r.EmployeeID, ShiftDate: r.ShiftDate}
}
