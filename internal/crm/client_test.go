package crm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrismotari/zkteco-f18-attendance-bridge/internal/config"
	"github.com/chrismotari/zkteco-f18-attendance-bridge/internal/db/models"
)

func testRecord() (models.AttendanceRecord, models.Device) {
	in := time.Date(2026, 3, 10, 5, 2, 0, 0, time.UTC)
	out := time.Date(2026, 3, 10, 14, 2, 0, 0, time.UTC)
	rec := models.AttendanceRecord{
		ID:         uuid.New(),
		DeviceID:   uuid.New(),
		EmployeeID: "101",
		ShiftDate:  time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		ClockIn:    &in,
		ClockOut:   &out,
		PunchCount: 2,
	}
	device := models.Device{ID: rec.DeviceID, Name: "gate-1", IPAddress: "10.0.0.5"}
	return rec, device
}

func newTestClient(url string) *Client {
	return NewClient(config.CRMConfig{
		APIURL:                url,
		APIToken:              "secret-token",
		RequestTimeoutSeconds: 1,
	})
}

func TestSubmitSuccess(t *testing.T) {
	var got map[string]any
	var auth, contentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		contentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	rec, device := testRecord()
	err := newTestClient(server.URL).Submit(context.Background(), rec, device)
	require.NoError(t, err)

	assert.Equal(t, "Token secret-token", auth)
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "101", got["employee_id"])
	assert.Equal(t, "2026-03-10", got["shift_date"])
	assert.Equal(t, "2026-03-10T05:02:00Z", got["clock_in"])
	assert.Equal(t, "2026-03-10T14:02:00Z", got["clock_out"])
	assert.InDelta(t, 9.0, got["hours_worked"], 0.001)
	assert.Equal(t, "gate-1", got["device_name"])
	assert.Equal(t, "10.0.0.5", got["device_ip"])
}

func TestSubmitPartialRecordNullFields(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	rec, device := testRecord()
	rec.ClockOut = nil
	rec.IsOutlier = true
	rec.OutlierReason = "missing punch"

	err := newTestClient(server.URL).Submit(context.Background(), rec, device)
	require.NoError(t, err)

	assert.Nil(t, got["clock_out"])
	assert.Nil(t, got["hours_worked"])
	assert.Equal(t, true, got["is_outlier"])
	assert.Equal(t, "missing punch", got["outlier_reason"])
}

func TestSubmitRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"unknown employee"}`))
	}))
	defer server.Close()

	rec, device := testRecord()
	err := newTestClient(server.URL).Submit(context.Background(), rec, device)
	require.Error(t, err)

	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, http.StatusBadRequest, rejected.StatusCode)
	assert.Contains(t, rejected.Body, "unknown employee")
}

func TestSubmitTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer server.Close()

	rec, device := testRecord()
	err := newTestClient(server.URL).Submit(context.Background(), rec, device)
	require.Error(t, err)

	var rejected *RejectedError
	assert.False(t, errors.As(err, &rejected), "timeout is a transport error, not a rejection")
}

func TestTestConnection(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusMethodNotAllowed} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		err := newTestClient(server.URL).TestConnection(context.Background())
		assert.NoError(t, err, "status %d", status)
		server.Close()
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()
	err := newTestClient(server.URL).TestConnection(context.Background())
	require.Error(t, err)
	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, http.StatusUnauthorized, rejected.StatusCode)
}
