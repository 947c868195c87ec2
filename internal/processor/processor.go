package processor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/chrismotari/zkteco-f18-attendance-bridge/internal/db"
	"github.com/chrismotari/zkteco-f18-attendance-bridge/internal/db/models"
	"github.com/chrismotari/zkteco-f18-attendance-bridge/internal/locking"
	"github.com/chrismotari/zkteco-f18-attendance-bridge/internal/shift"
)

// maxReportedErrors bounds the error list carried in a processing result.
const maxReportedErrors = 50

// Store is the persistence contract the processor needs.
type Store interface {
	ListPunches(ctx context.Context, f db.PunchFilter) ([]models.RawPunch, error)
	UpsertAttendance(ctx context.Context, rec *models.AttendanceRecord) error
}

// ProcessError identifies one shift that could not be processed.
type ProcessError struct {
	EmployeeID string `json:"employee_id"`
	ShiftDate  string `json:"shift_date"`
	Error      string `json:"error"`
}

// Result summarizes one processing run.
type Result struct {
	Shifts    int            `json:"shifts"`
	Processed int            `json:"processed"`
	Outliers  int            `json:"outliers"`
	Partial   int            `json:"partial"`
	Failed    int            `json:"failed"`
	Errors    []ProcessError `json:"errors"`

	mu sync.Mutex
}

func (r *Result) record(rec *models.AttendanceRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Processed++
	if rec.IsOutlier {
		r.Outliers++
	}
	if rec.ClockOut == nil {
		r.Partial++
	}
}

func (r *Result) failure(employeeID string, shiftDate time.Time, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Failed++
	if len(r.Errors) < maxReportedErrors {
		r.Errors = append(r.Errors, ProcessError{
			EmployeeID: employeeID,
			ShiftDate:  shiftDate.Format("2006-01-02"),
			Error:      err.Error(),
		})
	}
}

// Processor turns raw punches into classified attendance records. Employee
// groups are processed in parallel under a bounded worker pool; a keyed lock
// per (device, employee) keeps at most one reconciliation in flight for a
// pair, so the attendance upsert stays the only serialization point.
type Processor struct {
	store          Store
	window         shift.Window
	maxConcurrency int
	locks          *locking.KeyedMutex
	log            *logrus.Logger
}

func New(store Store, window shift.Window, maxConcurrency int, log *logrus.Logger) *Processor {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &Processor{
		store:          store,
		window:         window,
		maxConcurrency: maxConcurrency,
		locks:          locking.NewKeyedMutex(),
		log:            log,
	}
}

type employeeKey struct {
	deviceID   uuid.UUID
	employeeID string
}

// ProcessRange reconciles every shift that has punches in [from, to). Zero
// bounds mean unbounded, so ProcessRange(ctx, time.Time{}, time.Time{}, nil)
// reprocesses everything from raw data, which is always safe: the same
// punches produce the same records.
func (p *Processor) ProcessRange(ctx context.Context, from, to time.Time, deviceID *uuid.UUID) (*Result, error) {
	res := &Result{}

	punches, err := p.store.ListPunches(ctx, db.PunchFilter{
		DeviceID: deviceID,
		From:     from,
		To:       to,
	})
	if err != nil {
		return res, fmt.Errorf("error listing punches: %w", err)
	}
	if len(punches) == 0 {
		p.log.Debug("process: no punches in range")
		return res, nil
	}

	// Map each punch to its shift date, then fan out per (device, employee)
	// so all of one employee's shifts are handled by a single worker.
	groups := make(map[employeeKey][]time.Time)
	seen := make(map[employeeKey]map[time.Time]bool)
	for _, punch := range punches {
		key := employeeKey{deviceID: punch.DeviceID, employeeID: punch.EmployeeID}
		shiftDate := p.window.ShiftDate(punch.Timestamp)
		if seen[key] == nil {
			seen[key] = make(map[time.Time]bool)
		}
		if !seen[key][shiftDate] {
			seen[key][shiftDate] = true
			groups[key] = append(groups[key], shiftDate)
			res.Shifts++
		}
	}

	keys := make([]employeeKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].employeeID != keys[j].employeeID {
			return keys[i].employeeID < keys[j].employeeID
		}
		return keys[i].deviceID.String() < keys[j].deviceID.String()
	})

	p.log.WithFields(logrus.Fields{
		"employees": len(keys),
		"shifts":    res.Shifts,
	}).Info("process: starting reconciliation run")

	sem := make(chan struct{}, p.maxConcurrency)
	var wg sync.WaitGroup
	for _, key := range keys {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(key employeeKey, dates []time.Time) {
			defer wg.Done()
			defer func() { <-sem }()
			p.processEmployee(ctx, key, dates, res)
		}(key, groups[key])
	}
	wg.Wait()

	p.log.WithFields(logrus.Fields{
		"processed": res.Processed,
		"outliers":  res.Outliers,
		"partial":   res.Partial,
		"failed":    res.Failed,
	}).Info("process: reconciliation run complete")

	return res, ctx.Err()
}

// processEmployee reconciles each of the employee's shift dates in order.
func (p *Processor) processEmployee(ctx context.Context, key employeeKey, dates []time.Time, res *Result) {
	unlock := p.locks.Lock(key.deviceID.String() + "|" + key.employeeID)
	defer unlock()

	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	for _, shiftDate := range dates {
		if ctx.Err() != nil {
			return
		}
		rec, err := p.ProcessShift(ctx, key.deviceID, key.employeeID, shiftDate)
		if err != nil {
			res.failure(key.employeeID, shiftDate, err)
			p.log.WithError(err).WithFields(logrus.Fields{
				"employee_id": key.employeeID,
				"shift_date":  shiftDate.Format("2006-01-02"),
			}).Error("process: shift failed")
			continue
		}
		if rec != nil {
			res.record(rec)
		}
	}
}

// ProcessShift reconciles a single (device, employee, shift date). It always
// re-reads the full union of punches attributed to the shift, so punches that
// arrive after the shift was first reconciled merge correctly into
// earliest/latest.
func (p *Processor) ProcessShift(ctx context.Context, deviceID uuid.UUID, employeeID string, shiftDate time.Time) (*models.AttendanceRecord, error) {
	from, to := p.window.Span(shiftDate)
	punches, err := p.store.ListPunches(ctx, db.PunchFilter{
		DeviceID:   &deviceID,
		EmployeeID: employeeID,
		From:       from,
		To:         to,
	})
	if err != nil {
		return nil, fmt.Errorf("error reading shift punches: %w", err)
	}
	if len(punches) == 0 {
		return nil, nil
	}

	for _, c := range shift.Reconcile(punches, p.window) {
		if !c.ShiftDate.Equal(shiftDate) {
			continue
		}
		isOutlier, reason := shift.Classify(c, p.window)
		rec := &models.AttendanceRecord{
			DeviceID:      c.DeviceID,
			EmployeeID:    c.EmployeeID,
			ShiftDate:     c.ShiftDate,
			ClockIn:       c.ClockIn,
			ClockOut:      c.ClockOut,
			PunchCount:    c.PunchCount,
			IsOutlier:     isOutlier,
			OutlierReason: reason,
		}
		if err := p.store.UpsertAttendance(ctx, rec); err != nil {
			return nil, fmt.Errorf("error upserting attendance: %w", err)
		}
		return rec, nil
	}
	return nil, nil
}
