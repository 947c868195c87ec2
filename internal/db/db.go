package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chrismotari/zkteco-f18-attendance-bridge/internal/config"
	"github.com/chrismotari/zkteco-f18-attendance-bridge/internal/db/models"
)

type DB struct {
	*pgxpool.Pool
}

func New(cfg config.DatabaseConfig) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("error creating connection pool: %w", err)
	}

	return &DB{pool}, nil
}

// CreateDevice registers a new terminal.
func (db *DB) CreateDevice(ctx context.Context, device *models.Device) error {
	query := `
		INSERT INTO devices (id, name, ip_address, secondary_ip_address, port, timezone, enabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := db.Exec(ctx, query,
		device.ID.String(),
		device.Name,
		device.IPAddress,
		device.SecondaryIP,
		device.Port,
		device.Timezone,
		device.Enabled,
		device.CreatedAt,
	)
	return err
}

// GetDevice retrieves a device by ID, nil when it does not exist.
func (db *DB) GetDevice(ctx context.Context, id uuid.UUID) (*models.Device, error) {
	query := `
		SELECT id, name, ip_address, secondary_ip_address, port, timezone, enabled, last_poll, created_at
		FROM devices
		WHERE id = $1`

	device := &models.Device{}
	err := db.QueryRow(ctx, query, id.String()).Scan(
		&device.ID,
		&device.Name,
		&device.IPAddress,
		&device.SecondaryIP,
		&device.Port,
		&device.Timezone,
		&device.Enabled,
		&device.LastPoll,
		&device.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return device, nil
}

// ListDevices returns all registered devices; enabledOnly narrows to devices
// eligible for polling.
func (db *DB) ListDevices(ctx context.Context, enabledOnly bool) ([]models.Device, error) {
	query := `
		SELECT id, name, ip_address, secondary_ip_address, port, timezone, enabled, last_poll, created_at
		FROM devices`
	if enabledOnly {
		query += ` WHERE enabled`
	}
	query += ` ORDER BY name`

	rows, err := db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []models.Device
	for rows.Next() {
		var d models.Device
		err := rows.Scan(
			&d.ID,
			&d.Name,
			&d.IPAddress,
			&d.SecondaryIP,
			&d.Port,
			&d.Timezone,
			&d.Enabled,
			&d.LastPoll,
			&d.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// UpdateDeviceLastPoll records a successful poll watermark.
func (db *DB) UpdateDeviceLastPoll(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE devices
		SET last_poll = $1
		WHERE id = $2`

	_, err := db.Exec(ctx, query, at, id.String())
	return err
}

// InsertPunches stores raw punches idempotently: duplicates on
// (device_id, employee_id, timestamp) are skipped. Returns how many rows were
// actually new.
func (db *DB) InsertPunches(ctx context.Context, punches []models.RawPunch) (int, error) {
	query := `
		INSERT INTO raw_punches (device_id, employee_id, timestamp, punch_kind, verify_method, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (device_id, employee_id, timestamp) DO NOTHING`

	inserted := 0
	for _, p := range punches {
		createdAt := p.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		tag, err := db.Exec(ctx, query,
			p.DeviceID.String(),
			p.EmployeeID,
			p.Timestamp,
			p.PunchKind,
			p.VerifyMethod,
			createdAt,
		)
		if err != nil {
			return inserted, fmt.Errorf("error inserting punch: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// PunchFilter narrows punch queries. Zero values mean "no filter".
type PunchFilter struct {
	DeviceID   *uuid.UUID
	EmployeeID string
	From       time.Time
	To         time.Time
	Limit      int
}

// ListPunches returns raw punches ordered by timestamp ascending. The To
// bound is exclusive so adjacent shift spans never overlap.
func (db *DB) ListPunches(ctx context.Context, f PunchFilter) ([]models.RawPunch, error) {
	query := `
		SELECT device_id, employee_id, timestamp, punch_kind, verify_method, created_at
		FROM raw_punches
		WHERE true`
	args := []interface{}{}

	if f.DeviceID != nil {
		args = append(args, f.DeviceID.String())
		query += fmt.Sprintf(" AND device_id = $%d", len(args))
	}
	if f.EmployeeID != "" {
		args = append(args, f.EmployeeID)
		query += fmt.Sprintf(" AND employee_id = $%d", len(args))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		query += fmt.Sprintf(" AND timestamp >= $%d", len(args))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		query += fmt.Sprintf(" AND timestamp < $%d", len(args))
	}
	query += ` ORDER BY timestamp`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var punches []models.RawPunch
	for rows.Next() {
		var p models.RawPunch
		err := rows.Scan(
			&p.DeviceID,
			&p.EmployeeID,
			&p.Timestamp,
			&p.PunchKind,
			&p.VerifyMethod,
			&p.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		punches = append(punches, p)
	}
	return punches, rows.Err()
}

// DeletePunchesBefore removes raw punches older than the cutoff. Reconciled
// records derived from them are kept.
func (db *DB) DeletePunchesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := db.Exec(ctx, `DELETE FROM raw_punches WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const attendanceColumns = `id, device_id, employee_id, shift_date, clock_in, clock_out, punch_count,
	is_outlier, outlier_reason, sync_state, sync_attempts, last_sync_attempt, created_at, updated_at`

func scanAttendance(row pgx.Row) (*models.AttendanceRecord, error) {
	rec := &models.AttendanceRecord{}
	err := row.Scan(
		&rec.ID,
		&rec.DeviceID,
		&rec.EmployeeID,
		&rec.ShiftDate,
		&rec.ClockIn,
		&rec.ClockOut,
		&rec.PunchCount,
		&rec.IsOutlier,
		&rec.OutlierReason,
		&rec.SyncState,
		&rec.SyncAttempts,
		&rec.LastSyncAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// UpsertAttendance writes the reconciled fields of a record. On conflict only
// reconciler-owned fields are replaced; sync state, attempt count and last
// attempt timestamp survive reprocessing.
func (db *DB) UpsertAttendance(ctx context.Context, rec *models.AttendanceRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	now := time.Now().UTC()

	query := `
		INSERT INTO attendance_records
			(id, device_id, employee_id, shift_date, clock_in, clock_out, punch_count,
			 is_outlier, outlier_reason, sync_state, sync_attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, $11, $11)
		ON CONFLICT (device_id, employee_id, shift_date) DO UPDATE SET
			clock_in = EXCLUDED.clock_in,
			clock_out = EXCLUDED.clock_out,
			punch_count = EXCLUDED.punch_count,
			is_outlier = EXCLUDED.is_outlier,
			outlier_reason = EXCLUDED.outlier_reason,
			updated_at = EXCLUDED.updated_at`

	_, err := db.Exec(ctx, query,
		rec.ID.String(),
		rec.DeviceID.String(),
		rec.EmployeeID,
		rec.ShiftDate,
		rec.ClockIn,
		rec.ClockOut,
		rec.PunchCount,
		rec.IsOutlier,
		rec.OutlierReason,
		string(models.SyncStateUnsynced),
		now,
	)
	return err
}

// GetAttendance retrieves one record, nil when it does not exist.
func (db *DB) GetAttendance(ctx context.Context, deviceID uuid.UUID, employeeID string, shiftDate time.Time) (*models.AttendanceRecord, error) {
	query := `
		SELECT ` + attendanceColumns + `
		FROM attendance_records
		WHERE device_id = $1 AND employee_id = $2 AND shift_date = $3`

	rec, err := scanAttendance(db.QueryRow(ctx, query, deviceID.String(), employeeID, shiftDate))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// AttendanceFilter narrows attendance queries.
type AttendanceFilter struct {
	DeviceID   *uuid.UUID
	EmployeeID string
	From       time.Time
	To         time.Time
	IsOutlier  *bool
	SyncState  *models.SyncState
	Limit      int
}

// ListAttendance returns records ordered by shift date then employee.
func (db *DB) ListAttendance(ctx context.Context, f AttendanceFilter) ([]models.AttendanceRecord, error) {
	query := `
		SELECT ` + attendanceColumns + `
		FROM attendance_records
		WHERE true`
	args := []interface{}{}

	if f.DeviceID != nil {
		args = append(args, f.DeviceID.String())
		query += fmt.Sprintf(" AND device_id = $%d", len(args))
	}
	if f.EmployeeID != "" {
		args = append(args, f.EmployeeID)
		query += fmt.Sprintf(" AND employee_id = $%d", len(args))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		query += fmt.Sprintf(" AND shift_date >= $%d", len(args))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		query += fmt.Sprintf(" AND shift_date <= $%d", len(args))
	}
	if f.IsOutlier != nil {
		args = append(args, *f.IsOutlier)
		query += fmt.Sprintf(" AND is_outlier = $%d", len(args))
	}
	if f.SyncState != nil {
		args = append(args, string(*f.SyncState))
		query += fmt.Sprintf(" AND sync_state = $%d", len(args))
	}
	query += ` ORDER BY shift_date, employee_id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.AttendanceRecord
	for rows.Next() {
		rec, err := scanAttendance(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// SyncFilter selects dispatch candidates.
type SyncFilter struct {
	Force       bool        // include records already synced
	MaxAttempts int         // exclude permanently failed records unless Force
	DeviceID    *uuid.UUID
	EmployeeID  string
	From        time.Time
	To          time.Time
	IDs         []uuid.UUID // explicit record set, overrides state selection
	Limit       int
}

// ListPendingSync returns records eligible for dispatch ordered by shift date
// then employee. Without Force this is unsynced and retry-eligible failed
// records; records at or past the attempt cap stay out until an operator
// resets them.
func (db *DB) ListPendingSync(ctx context.Context, f SyncFilter) ([]models.AttendanceRecord, error) {
	query := `
		SELECT ` + attendanceColumns + `
		FROM attendance_records
		WHERE true`
	args := []interface{}{}

	if len(f.IDs) > 0 {
		ids := make([]string, len(f.IDs))
		for i, id := range f.IDs {
			ids[i] = id.String()
		}
		args = append(args, ids)
		query += fmt.Sprintf(" AND id = ANY($%d)", len(args))
	} else if !f.Force {
		args = append(args, string(models.SyncStateSynced))
		query += fmt.Sprintf(" AND sync_state != $%d", len(args))
		if f.MaxAttempts > 0 {
			args = append(args, f.MaxAttempts)
			query += fmt.Sprintf(" AND sync_attempts < $%d", len(args))
		}
	}
	if f.DeviceID != nil {
		args = append(args, f.DeviceID.String())
		query += fmt.Sprintf(" AND device_id = $%d", len(args))
	}
	if f.EmployeeID != "" {
		args = append(args, f.EmployeeID)
		query += fmt.Sprintf(" AND employee_id = $%d", len(args))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		query += fmt.Sprintf(" AND shift_date >= $%d", len(args))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		query += fmt.Sprintf(" AND shift_date <= $%d", len(args))
	}
	query += ` ORDER BY shift_date, employee_id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.AttendanceRecord
	for rows.Next() {
		rec, err := scanAttendance(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// MarkSynced records a successful delivery.
func (db *DB) MarkSynced(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE attendance_records
		SET sync_state = $1, last_sync_attempt = $2, updated_at = $2
		WHERE id = $3`

	_, err := db.Exec(ctx, query, string(models.SyncStateSynced), at, id.String())
	return err
}

// MarkSyncFailed records a failed delivery attempt.
func (db *DB) MarkSyncFailed(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE attendance_records
		SET sync_state = $1, sync_attempts = sync_attempts + 1, last_sync_attempt = $2, updated_at = $2
		WHERE id = $3`

	_, err := db.Exec(ctx, query, string(models.SyncStateFailed), at, id.String())
	return err
}

// ResetSyncState forces a record back to unsynced so the next dispatch picks
// it up again, clearing the attempt counter.
func (db *DB) ResetSyncState(ctx context.Context, deviceID uuid.UUID, employeeID string, shiftDate time.Time) (bool, error) {
	query := `
		UPDATE attendance_records
		SET sync_state = $1, sync_attempts = 0, updated_at = $2
		WHERE device_id = $3 AND employee_id = $4 AND shift_date = $5`

	tag, err := db.Exec(ctx, query,
		string(models.SyncStateUnsynced),
		time.Now().UTC(),
		deviceID.String(),
		employeeID,
		shiftDate,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// SyncStats summarizes delivery state across all records.
type SyncStats struct {
	Total             int64   `json:"total"`
	Synced            int64   `json:"synced"`
	Unsynced          int64   `json:"unsynced"`
	Failed            int64   `json:"failed"`
	PermanentlyFailed int64   `json:"permanently_failed"`
	SyncedPercent     float64 `json:"synced_percent"`
}

// GetSyncStats aggregates delivery state counts.
func (db *DB) GetSyncStats(ctx context.Context, maxAttempts int) (*SyncStats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE sync_state = 'synced'),
			COUNT(*) FILTER (WHERE sync_state = 'unsynced'),
			COUNT(*) FILTER (WHERE sync_state = 'failed'),
			COUNT(*) FILTER (WHERE sync_state = 'failed' AND sync_attempts >= $1)
		FROM attendance_records`

	stats := &SyncStats{}
	err := db.QueryRow(ctx, query, maxAttempts).Scan(
		&stats.Total,
		&stats.Synced,
		&stats.Unsynced,
		&stats.Failed,
		&stats.PermanentlyFailed,
	)
	if err != nil {
		return nil, err
	}
	if stats.Total > 0 {
		stats.SyncedPercent = float64(stats.Synced) / float64(stats.Total) * 100
	}
	return stats, nil
}
