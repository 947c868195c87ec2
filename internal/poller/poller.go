package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/chrismotari/zkteco-f18-attendance-bridge/internal/db/models"
)

// PunchSource reads punches from a terminal. Implementations own the wire
// protocol. Punches must come back in non-decreasing timestamp order for a
// device; duplicates across calls are fine since the punch store deduplicates
// on insert.
type PunchSource interface {
	ReadSince(ctx context.Context, device models.Device, since time.Time) ([]models.RawPunch, error)
}

// Store is the persistence contract the poller needs.
type Store interface {
	ListDevices(ctx context.Context, enabledOnly bool) ([]models.Device, error)
	InsertPunches(ctx context.Context, punches []models.RawPunch) (int, error)
	UpdateDeviceLastPoll(ctx context.Context, id uuid.UUID, at time.Time) error
}

// DeviceResult is the poll outcome for one device.
type DeviceResult struct {
	Device  string `json:"device"`
	Status  string `json:"status"`
	Fetched int    `json:"fetched"`
	New     int    `json:"new"`
	Error   string `json:"error,omitempty"`
}

// Result summarizes one poll run.
type Result struct {
	TotalDevices int            `json:"total_devices"`
	Successful   int            `json:"successful"`
	Failed       int            `json:"failed"`
	Devices      []DeviceResult `json:"devices"`
}

// Poller walks enabled devices and stores their punches. One unreachable
// device never stops the others; its failure lands in the run summary and the
// next scheduled cycle retries from the same watermark.
type Poller struct {
	store   Store
	source  PunchSource
	timeout time.Duration
	log     *logrus.Logger
}

func New(store Store, source PunchSource, timeout time.Duration, log *logrus.Logger) *Poller {
	return &Poller{store: store, source: source, timeout: timeout, log: log}
}

// PollAll polls every enabled device in turn.
func (p *Poller) PollAll(ctx context.Context) (*Result, error) {
	devices, err := p.store.ListDevices(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("error listing devices: %w", err)
	}

	res := &Result{TotalDevices: len(devices)}
	p.log.WithField("devices", len(devices)).Info("poll: starting run")

	for _, device := range devices {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		fetched, inserted, err := p.PollDevice(ctx, device)
		if err != nil {
			res.Failed++
			res.Devices = append(res.Devices, DeviceResult{
				Device: device.Name,
				Status: "failed",
				Error:  err.Error(),
			})
			p.log.WithError(err).WithField("device", device.Name).Error("poll: device failed")
			continue
		}
		res.Successful++
		res.Devices = append(res.Devices, DeviceResult{
			Device:  device.Name,
			Status:  "success",
			Fetched: fetched,
			New:     inserted,
		})
	}

	p.log.WithFields(logrus.Fields{
		"successful": res.Successful,
		"failed":     res.Failed,
	}).Info("poll: run complete")
	return res, nil
}

// PollDevice reads punches since the device's last successful poll and stores
// them. The watermark only advances after the punches are persisted, so a
// crash mid-poll re-reads rather than loses; the store's dedup absorbs the
// overlap.
func (p *Poller) PollDevice(ctx context.Context, device models.Device) (int, int, error) {
	readCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var since time.Time
	if device.LastPoll != nil {
		since = *device.LastPoll
	}

	punches, err := p.source.ReadSince(readCtx, device, since)
	if err != nil {
		return 0, 0, fmt.Errorf("error reading punches from %s: %w", device.Name, err)
	}

	for i := range punches {
		punches[i].DeviceID = device.ID
	}

	inserted, err := p.store.InsertPunches(ctx, punches)
	if err != nil {
		return len(punches), inserted, fmt.Errorf("error storing punches from %s: %w", device.Name, err)
	}

	if err := p.store.UpdateDeviceLastPoll(ctx, device.ID, time.Now().UTC()); err != nil {
		return len(punches), inserted, fmt.Errorf("error updating poll watermark for %s: %w", device.Name, err)
	}

	p.log.WithFields(logrus.Fields{
		"device":  device.Name,
		"fetched": len(punches),
		"new":     inserted,
	}).Info("poll: device polled")
	return len(punches), inserted, nil
}
