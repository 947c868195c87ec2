package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/chrismotari/zkteco-f18-attendance-bridge/internal/config"
	"github.com/chrismotari/zkteco-f18-attendance-bridge/internal/db/models"
)

// Client submits attendance records to the CRM endpoint, one record per call.
// The remote side upserts on (employee_id, shift_date), so resubmitting an
// already delivered record is safe.
type Client struct {
	apiURL string
	token  string
	client *http.Client
}

func NewClient(cfg config.CRMConfig) *Client {
	return &Client{
		apiURL: cfg.APIURL,
		token:  cfg.APIToken,
		client: &http.Client{Timeout: cfg.RequestTimeout()},
	}
}

// RejectedError is a structured failure response from the CRM. The dispatcher
// treats it the same as a transport error; it exists so logs and summaries can
// show what the remote said.
type RejectedError struct {
	StatusCode int
	Body       string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("crm rejected record: status %d: %s", e.StatusCode, e.Body)
}

type recordPayload struct {
	EmployeeID    string   `json:"employee_id"`
	ShiftDate     string   `json:"shift_date"`
	ClockIn       *string  `json:"clock_in"`
	ClockOut      *string  `json:"clock_out"`
	HoursWorked   *float64 `json:"hours_worked"`
	IsOutlier     bool     `json:"is_outlier"`
	OutlierReason string   `json:"outlier_reason"`
	DeviceName    string   `json:"device_name"`
	DeviceIP      string   `json:"device_ip"`
}

func buildPayload(rec models.AttendanceRecord, device models.Device) recordPayload {
	p := recordPayload{
		EmployeeID:    rec.EmployeeID,
		ShiftDate:     rec.ShiftDate.Format("2006-01-02"),
		IsOutlier:     rec.IsOutlier,
		OutlierReason: rec.OutlierReason,
		DeviceName:    device.Name,
		DeviceIP:      device.IPAddress,
	}
	if rec.ClockIn != nil {
		s := rec.ClockIn.UTC().Format(time.RFC3339)
		p.ClockIn = &s
	}
	if rec.ClockOut != nil {
		s := rec.ClockOut.UTC().Format(time.RFC3339)
		p.ClockOut = &s
	}
	if d := rec.Duration(); d != nil {
		h := float64(*d) / float64(time.Hour)
		p.HoursWorked = &h
	}
	return p
}

// Submit delivers one record. Any non-2xx response, timeout or connection
// error is returned as a failure; the caller decides retry policy.
func (c *Client) Submit(ctx context.Context, rec models.AttendanceRecord, device models.Device) error {
	body, err := json.Marshal(buildPayload(rec, device))
	if err != nil {
		return fmt.Errorf("error encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("error submitting record: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &RejectedError{StatusCode: resp.StatusCode, Body: string(respBody)}
}

// TestConnection checks reachability and authentication. 405 means the
// endpoint exists but does not serve GET, which still proves the connection.
func (c *Client) TestConnection(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL, nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("error connecting to CRM: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusMethodNotAllowed:
		return nil
	default:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &RejectedError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
}
