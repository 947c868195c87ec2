package models

import (
	"time"

	"github.com/google/uuid"
)

// RawPunch is a single clock event read from a terminal. Immutable once
// stored; unique on (device_id, employee_id, timestamp).
type RawPunch struct {
	DeviceID     uuid.UUID `db:"device_id"`
	EmployeeID   string    `db:"employee_id"`
	Timestamp    time.Time `db:"timestamp"`
	PunchKind    int       `db:"punch_kind"`
	VerifyMethod int       `db:"verify_method"`
	CreatedAt    time.Time `db:"created_at"`
}
