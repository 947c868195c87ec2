package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/chrismotari/zkteco-f18-attendance-bridge/internal/config"
	"github.com/chrismotari/zkteco-f18-attendance-bridge/internal/db"
	"github.com/chrismotari/zkteco-f18-attendance-bridge/internal/db/models"
	"github.com/chrismotari/zkteco-f18-attendance-bridge/internal/locking"
)

// maxReportedErrors bounds the error list carried in a dispatch result.
const maxReportedErrors = 50

// RecordStore is the persistence contract the dispatcher needs. Each record's
// state is written immediately after its own submission so an interrupted run
// leaves already-submitted records in their terminal state.
type RecordStore interface {
	ListPendingSync(ctx context.Context, f db.SyncFilter) ([]models.AttendanceRecord, error)
	GetDevice(ctx context.Context, id uuid.UUID) (*models.Device, error)
	MarkSynced(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkSyncFailed(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Endpoint submits one record per call. Any returned error, including a
// timeout, counts as a failed submission.
type Endpoint interface {
	Submit(ctx context.Context, rec models.AttendanceRecord, device models.Device) error
}

// Options selects dispatch candidates.
type Options struct {
	// Force includes records already synced; the remote upserts on
	// (employee_id, shift_date) so resubmission cannot duplicate.
	Force      bool
	DeviceID   *uuid.UUID
	EmployeeID string
	From       time.Time
	To         time.Time
	IDs        []uuid.UUID
}

// SyncError identifies one failed submission.
type SyncError struct {
	EmployeeID string `json:"employee_id"`
	ShiftDate  string `json:"shift_date"`
	Error      string `json:"error"`
}

// Result summarizes one dispatch run. PermanentlyFailed counts records whose
// attempt count reached the cap during this run; they will not be retried
// until an operator forces a resync.
type Result struct {
	RunID             uuid.UUID   `json:"run_id"`
	Total             int         `json:"total"`
	Successful        int         `json:"successful"`
	Failed            int         `json:"failed"`
	PermanentlyFailed int         `json:"permanently_failed"`
	Errors            []SyncError `json:"errors"`

	mu sync.Mutex
}

func (r *Result) success() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Successful++
}

func (r *Result) failure(rec models.AttendanceRecord, permanent bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if permanent {
		r.PermanentlyFailed++
	} else {
		r.Failed++
	}
	if len(r.Errors) < maxReportedErrors {
		r.Errors = append(r.Errors, SyncError{
			EmployeeID: rec.EmployeeID,
			ShiftDate:  rec.ShiftDate.Format("2006-01-02"),
			Error:      err.Error(),
		})
	}
}

// Dispatcher drives unsynced attendance records to the CRM with bounded
// concurrency and at-most-one in-flight submission per record.
type Dispatcher struct {
	store    RecordStore
	endpoint Endpoint
	cfg      config.CRMConfig
	locks    *locking.KeyedMutex
	log      *logrus.Logger

	deviceMu sync.Mutex
	devices  map[uuid.UUID]models.Device
}

func New(store RecordStore, endpoint Endpoint, cfg config.CRMConfig, log *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		store:    store,
		endpoint: endpoint,
		cfg:      cfg,
		locks:    locking.NewKeyedMutex(),
		log:      log,
		devices:  make(map[uuid.UUID]models.Device),
	}
}

func lockKey(rec models.AttendanceRecord) string {
	return rec.EmployeeID + "|" + rec.ShiftDate.Format("2006-01-02")
}

// Dispatch selects candidates, chunks them into batches and submits each
// record once. Submission order inside a batch is not guaranteed; records for
// the same (employee, shift date) are serialized by a keyed lock. The
// returned result is valid even when ctx is cancelled midway, in which case
// the context error is returned alongside it: records already submitted keep
// their persisted state and the rest remain untouched, safe to resume.
func (d *Dispatcher) Dispatch(ctx context.Context, opts Options) (*Result, error) {
	res := &Result{RunID: uuid.New()}

	candidates, err := d.store.ListPendingSync(ctx, db.SyncFilter{
		Force:       opts.Force,
		MaxAttempts: d.cfg.MaxAttempts,
		DeviceID:    opts.DeviceID,
		EmployeeID:  opts.EmployeeID,
		From:        opts.From,
		To:          opts.To,
		IDs:         opts.IDs,
	})
	if err != nil {
		return res, fmt.Errorf("error listing pending records: %w", err)
	}

	res.Total = len(candidates)
	if res.Total == 0 {
		d.log.Debug("dispatch: nothing to sync")
		return res, nil
	}

	d.log.WithFields(logrus.Fields{
		"run_id": res.RunID,
		"total":  res.Total,
		"force":  opts.Force,
	}).Info("dispatch: starting sync run")

	for start := 0; start < len(candidates); start += d.cfg.BatchSize {
		if ctx.Err() != nil {
			break
		}
		end := start + d.cfg.BatchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		d.dispatchBatch(ctx, candidates[start:end], res)
	}

	d.log.WithFields(logrus.Fields{
		"run_id":             res.RunID,
		"successful":         res.Successful,
		"failed":             res.Failed,
		"permanently_failed": res.PermanentlyFailed,
	}).Info("dispatch: sync run complete")

	return res, ctx.Err()
}

// dispatchBatch submits one batch through a bounded worker pool. The
// cooperative stop check sits between records: a record already in flight
// completes its attempt before cancellation takes effect.
func (d *Dispatcher) dispatchBatch(ctx context.Context, batch []models.AttendanceRecord, res *Result) {
	concurrency := d.cfg.MaxConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for _, rec := range batch {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(rec models.AttendanceRecord) {
			defer wg.Done()
			defer func() { <-sem }()
			// Re-check after acquiring the slot: a cancellation raised by
			// an in-flight submission must stop the next record, not the
			// one after it.
			if ctx.Err() != nil {
				return
			}
			d.dispatchOne(ctx, rec, res)
			if delay := d.cfg.DelayBetween(); delay > 0 {
				time.Sleep(delay)
			}
		}(rec)
	}
	wg.Wait()
}

// dispatchOne submits a single record and durably persists the outcome before
// returning.
func (d *Dispatcher) dispatchOne(ctx context.Context, rec models.AttendanceRecord, res *Result) {
	unlock := d.locks.Lock(lockKey(rec))
	defer unlock()

	device, err := d.deviceFor(ctx, rec.DeviceID)
	if err != nil {
		d.recordFailure(ctx, rec, res, fmt.Errorf("error resolving device: %w", err))
		return
	}

	if err := d.endpoint.Submit(ctx, rec, device); err != nil {
		d.recordFailure(ctx, rec, res, err)
		return
	}

	if err := d.store.MarkSynced(context.WithoutCancel(ctx), rec.ID, time.Now().UTC()); err != nil {
		d.log.WithError(err).WithField("employee_id", rec.EmployeeID).
			Error("dispatch: record delivered but state update failed")
		res.failure(rec, false, fmt.Errorf("error persisting sync state: %w", err))
		return
	}

	res.success()
	d.log.WithFields(logrus.Fields{
		"employee_id": rec.EmployeeID,
		"shift_date":  rec.ShiftDate.Format("2006-01-02"),
	}).Debug("dispatch: record synced")
}

func (d *Dispatcher) recordFailure(ctx context.Context, rec models.AttendanceRecord, res *Result, submitErr error) {
	// State updates must land even when the run is being cancelled.
	if err := d.store.MarkSyncFailed(context.WithoutCancel(ctx), rec.ID, time.Now().UTC()); err != nil {
		d.log.WithError(err).WithField("employee_id", rec.EmployeeID).
			Error("dispatch: could not persist failed attempt")
	}

	attempts := rec.SyncAttempts + 1
	permanent := attempts >= d.cfg.MaxAttempts

	entry := d.log.WithFields(logrus.Fields{
		"employee_id": rec.EmployeeID,
		"shift_date":  rec.ShiftDate.Format("2006-01-02"),
		"attempts":    attempts,
	})
	if permanent {
		entry.WithError(submitErr).Warn("dispatch: record permanently failed, operator resync required")
	} else {
		entry.WithError(submitErr).Warn("dispatch: submission failed, will retry")
	}

	res.failure(rec, permanent, submitErr)
}

func (d *Dispatcher) deviceFor(ctx context.Context, id uuid.UUID) (models.Device, error) {
	d.deviceMu.Lock()
	device, ok := d.devices[id]
	d.deviceMu.Unlock()
	if ok {
		return device, nil
	}

	fetched, err := d.store.GetDevice(ctx, id)
	if err != nil {
		return models.Device{}, err
	}
	if fetched == nil {
		return models.Device{}, fmt.Errorf("device %s not found", id)
	}

	d.deviceMu.Lock()
	d.devices[id] = *fetched
	d.deviceMu.Unlock()
	return *fetched, nil
}
