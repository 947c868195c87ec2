package models

import (
	"time"

	"github.com/google/uuid"
)

// SyncState tracks whether an attendance record has been delivered to the CRM.
type SyncState string

const (
	SyncStateUnsynced SyncState = "unsynced"
	SyncStateSynced   SyncState = "synced"
	SyncStateFailed   SyncState = "failed"
)

// Device is a registered attendance terminal.
type Device struct {
	ID          uuid.UUID  `db:"id"`
	Name        string     `db:"name"`
	IPAddress   string     `db:"ip_address"`
	SecondaryIP *string    `db:"secondary_ip_address"`
	Port        int        `db:"port"`
	Timezone    string     `db:"timezone"`
	Enabled     bool       `db:"enabled"`
	LastPoll    *time.Time `db:"last_poll"`
	CreatedAt   time.Time  `db:"created_at"`
}

// RecordKey identifies one attendance record in dispatch results and error
// reports.
type RecordKey struct {
	EmployeeID string
	ShiftDate  time.Time
}
