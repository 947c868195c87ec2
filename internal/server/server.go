package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/chrismotari/zkteco-f18-attendance-bridge/internal/config"
	"github.com/chrismotari/zkteco-f18-attendance-bridge/internal/crm"
	"github.com/chrismotari/zkteco-f18-attendance-bridge/internal/db"
	"github.com/chrismotari/zkteco-f18-attendance-bridge/internal/db/models"
	"github.com/chrismotari/zkteco-f18-attendance-bridge/internal/dispatch"
	"github.com/chrismotari/zkteco-f18-attendance-bridge/internal/poller"
	"github.com/chrismotari/zkteco-f18-attendance-bridge/internal/processor"
	"github.com/chrismotari/zkteco-f18-attendance-bridge/internal/shift"
)

// Server exposes the operator HTTP API: read-only listings plus manual
// triggers for the poll, process and sync pipelines.
type Server struct {
	db         *db.DB
	poller     *poller.Poller
	processor  *processor.Processor
	dispatcher *dispatch.Dispatcher
	crm        *crm.Client
	window     shift.Window
	cfg        *config.Config
	log        *logrus.Logger
}

func New(database *db.DB, p *poller.Poller, proc *processor.Processor, d *dispatch.Dispatcher, client *crm.Client, window shift.Window, cfg *config.Config, log *logrus.Logger) *Server {
	return &Server{
		db:         database,
		poller:     p,
		processor:  proc,
		dispatcher: d,
		crm:        client,
		window:     window,
		cfg:        cfg,
		log:        log,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.handleHealth)

	api := r.Group("/api")
	{
		api.GET("/devices", s.handleListDevices)
		api.POST("/devices", s.handleCreateDevice)
		api.POST("/poll", s.handlePollAll)
		api.POST("/punches", s.handleIngestPunches)
		api.GET("/punches", s.handleListPunches)
		api.GET("/attendance", s.handleListAttendance)
		api.POST("/process", s.handleProcess)
		api.POST("/sync", s.handleSync)
		api.POST("/sync/resync", s.handleResync)
		api.GET("/sync/stats", s.handleSyncStats)
		api.GET("/crm/test", s.handleCRMTest)
	}
	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleListDevices(c *gin.Context) {
	devices, err := s.db.ListDevices(c.Request.Context(), false)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

type createDeviceRequest struct {
	Name        string  `json:"name" binding:"required"`
	IPAddress   string  `json:"ip_address" binding:"required,ip"`
	SecondaryIP *string `json:"secondary_ip_address"`
	Port        int     `json:"port"`
	Timezone    string  `json:"timezone"`
	Enabled     *bool   `json:"enabled"`
}

func (s *Server) handleCreateDevice(c *gin.Context) {
	var req createDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	device := &models.Device{
		ID:          uuid.New(),
		Name:        req.Name,
		IPAddress:   req.IPAddress,
		SecondaryIP: req.SecondaryIP,
		Port:        req.Port,
		Timezone:    req.Timezone,
		Enabled:     true,
		CreatedAt:   time.Now().UTC(),
	}
	if device.Port == 0 {
		device.Port = 4370
	}
	if device.Timezone == "" {
		device.Timezone = s.cfg.Shift.Timezone
	}
	if req.Enabled != nil {
		device.Enabled = *req.Enabled
	}

	if err := s.db.CreateDevice(c.Request.Context(), device); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"device": device})
}

func (s *Server) handlePollAll(c *gin.Context) {
	if s.poller == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "no punch source configured; punches arrive via POST /api/punches"})
		return
	}
	res, err := s.poller.PollAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

type ingestPunch struct {
	EmployeeID   string `json:"employee_id" binding:"required"`
	Timestamp    string `json:"timestamp" binding:"required"`
	PunchKind    int    `json:"punch_kind"`
	VerifyMethod int    `json:"verify_method"`
}

type ingestRequest struct {
	DeviceID string        `json:"device_id" binding:"required"`
	Punches  []ingestPunch `json:"punches" binding:"required,min=1"`
}

// handleIngestPunches accepts raw punches pushed by a device agent.
// Timestamps are either RFC3339 instants or naive device-local
// "2006-01-02 15:04:05" values, converted to UTC using the device's timezone
// at ingestion. Duplicates are absorbed by the store.
func (s *Server) handleIngestPunches(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	deviceID, err := uuid.Parse(req.DeviceID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid device_id"})
		return
	}
	device, err := s.db.GetDevice(c.Request.Context(), deviceID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if device == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
		return
	}
	loc, err := time.LoadLocation(device.Timezone)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "device has invalid timezone " + device.Timezone})
		return
	}

	punches := make([]models.RawPunch, 0, len(req.Punches))
	for _, p := range req.Punches {
		ts, err := time.Parse(time.RFC3339, p.Timestamp)
		if err != nil {
			ts, err = time.ParseInLocation("2006-01-02 15:04:05", p.Timestamp, loc)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid timestamp " + p.Timestamp})
				return
			}
		}
		punches = append(punches, models.RawPunch{
			DeviceID:     device.ID,
			EmployeeID:   p.EmployeeID,
			Timestamp:    ts.UTC(),
			PunchKind:    p.PunchKind,
			VerifyMethod: p.VerifyMethod,
		})
	}

	inserted, err := s.db.InsertPunches(c.Request.Context(), punches)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": len(punches), "new": inserted})
}

func (s *Server) handleListPunches(c *gin.Context) {
	filter := db.PunchFilter{
		EmployeeID: c.Query("employee_id"),
		Limit:      intQuery(c, "limit", 500),
	}
	if id, ok := uuidQuery(c, "device_id"); ok {
		filter.DeviceID = &id
	}
	var ok bool
	if filter.From, filter.To, ok = s.dateRangeQuery(c); !ok {
		return
	}

	punches, err := s.db.ListPunches(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"punches": punches})
}

func (s *Server) handleListAttendance(c *gin.Context) {
	filter := db.AttendanceFilter{
		EmployeeID: c.Query("employee_id"),
		Limit:      intQuery(c, "limit", 500),
	}
	if id, ok := uuidQuery(c, "device_id"); ok {
		filter.DeviceID = &id
	}
	if v := c.Query("outliers"); v != "" {
		b := v == "true" || v == "1"
		filter.IsOutlier = &b
	}
	if v := c.Query("sync_state"); v != "" {
		state := models.SyncState(v)
		filter.SyncState = &state
	}
	var ok bool
	if filter.From, filter.To, ok = s.dateRangeQuery(c); !ok {
		return
	}

	records, err := s.db.ListAttendance(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"attendance": records})
}

type processRequest struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	DeviceID  string `json:"device_id"`
}

func (s *Server) handleProcess(c *gin.Context) {
	var req processRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var from, to time.Time
	if req.StartDate != "" {
		d, err := time.ParseInLocation("2006-01-02", req.StartDate, s.window.Location)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start_date"})
			return
		}
		from = d
	}
	if req.EndDate != "" {
		d, err := time.ParseInLocation("2006-01-02", req.EndDate, s.window.Location)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end_date"})
			return
		}
		to = d.AddDate(0, 0, 1)
	}

	var deviceID *uuid.UUID
	if req.DeviceID != "" {
		id, err := uuid.Parse(req.DeviceID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid device_id"})
			return
		}
		deviceID = &id
	}

	res, err := s.processor.ProcessRange(c.Request.Context(), from, to, deviceID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "result": res})
		return
	}
	c.JSON(http.StatusOK, res)
}

type syncRequest struct {
	Force      bool     `json:"force"`
	EmployeeID string   `json:"employee_id"`
	DeviceID   string   `json:"device_id"`
	StartDate  string   `json:"start_date"`
	EndDate    string   `json:"end_date"`
	IDs        []string `json:"ids"`
}

func (s *Server) handleSync(c *gin.Context) {
	var req syncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	opts := dispatch.Options{
		Force:      req.Force,
		EmployeeID: req.EmployeeID,
	}
	if req.DeviceID != "" {
		id, err := uuid.Parse(req.DeviceID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid device_id"})
			return
		}
		opts.DeviceID = &id
	}
	if req.StartDate != "" {
		d, err := time.Parse("2006-01-02", req.StartDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start_date"})
			return
		}
		opts.From = d
	}
	if req.EndDate != "" {
		d, err := time.Parse("2006-01-02", req.EndDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end_date"})
			return
		}
		opts.To = d
	}
	for _, raw := range req.IDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid record id " + raw})
			return
		}
		opts.IDs = append(opts.IDs, id)
	}

	res, err := s.dispatcher.Dispatch(c.Request.Context(), opts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "result": res})
		return
	}
	c.JSON(http.StatusOK, res)
}

type resyncRequest struct {
	DeviceID   string `json:"device_id" binding:"required"`
	EmployeeID string `json:"employee_id" binding:"required"`
	ShiftDate  string `json:"shift_date" binding:"required"`
}

func (s *Server) handleResync(c *gin.Context) {
	var req resyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	deviceID, err := uuid.Parse(req.DeviceID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid device_id"})
		return
	}
	shiftDate, err := time.Parse("2006-01-02", req.ShiftDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid shift_date"})
		return
	}

	reset, err := s.db.ResetSyncState(c.Request.Context(), deviceID, req.EmployeeID, shiftDate)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !reset {
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

func (s *Server) handleSyncStats(c *gin.Context) {
	stats, err := s.db.GetSyncStats(c.Request.Context(), s.cfg.CRM.MaxAttempts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleCRMTest(c *gin.Context) {
	if err := s.crm.TestConnection(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "failed", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// dateRangeQuery parses optional start_date/end_date query params as local
// dates; end_date is inclusive.
func (s *Server) dateRangeQuery(c *gin.Context) (time.Time, time.Time, bool) {
	var from, to time.Time
	if v := c.Query("start_date"); v != "" {
		d, err := time.ParseInLocation("2006-01-02", v, s.window.Location)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start_date"})
			return from, to, false
		}
		from = d
	}
	if v := c.Query("end_date"); v != "" {
		d, err := time.ParseInLocation("2006-01-02", v, s.window.Location)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end_date"})
			return from, to, false
		}
		to = d.AddDate(0, 0, 1)
	}
	return from, to, true
}

func intQuery(c *gin.Context, name string, fallback int) int {
	v := c.Query(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func uuidQuery(c *gin.Context, name string) (uuid.UUID, bool) {
	v := c.Query(name)
	if v == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
