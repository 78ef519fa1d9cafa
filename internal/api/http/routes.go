package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"pt100-monitor/internal/domain"
	"pt100-monitor/internal/export"
	"pt100-monitor/internal/metrics"
)

const (
	statusStarted           = "started"
	statusAlreadyRunning    = "already_running"
	statusStopped           = "stopped"
	statusNotRunning        = "not_running"
	statusConfigured        = "configured"
	statusAlreadyConfigured = "already_configured"
	statusRecordingStarted  = "recording_started"
	statusRecordingStopped  = "recording_stopped"
	statusError             = "error"

	queryRun   = "run"
	queryFrom  = "from"
	queryTo    = "to"
	queryLimit = "limit"
)

type handler struct {
	service     domain.MeasurementService
	records     RecordStore
	subscribers Subscribers
	logger      Logger
	channels    []string
	now         func() time.Time
	writeWait   time.Duration
	pongWait    time.Duration
}

func registerRoutes(router chi.Router, h *handler, opts Options) {
	router.Get("/health", handleHealth)
	router.Get("/healthz", handleHealth)
	router.Handle("/metrics", metrics.Handler())

	router.Route(opts.Prefix, func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(rateLimit(opts.ControlRateLimit))
			r.Post("/api/start", h.handleStart)
			r.Post("/api/stop", h.handleStop)
			r.Post("/api/configure", h.handleConfigure)
			r.Post("/api/record/start", h.handleRecord(true))
			r.Post("/api/record/stop", h.handleRecord(false))
		})

		r.Get("/api/status", h.handleStatus)
		r.Get("/api/data", h.handleData)
		r.Get("/api/records", h.handleListRecords)
		r.Post("/api/records", h.handleCreateRecord)
		r.Get("/api/runs", h.handleListRuns)
		r.Get("/api/download", h.handleDownload)
		r.Get("/ws", h.handleWebsocket)
	})
}

type statusResponse struct {
	Status    string `json:"status"`
	RunNumber int64  `json:"run_number,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

type sessionStatusResponse struct {
	Measuring  bool    `json:"measuring"`
	Recording  bool    `json:"recording"`
	Connected  bool    `json:"connected"`
	Configured bool    `json:"configured"`
	Phase      string  `json:"phase"`
	RunNumber  int64   `json:"run_number"`
	Interval   float64 `json:"interval"`
	LastError  string  `json:"last_error,omitempty"`
}

type recordResponse struct {
	ID        int64         `json:"id"`
	RunID     int64         `json:"run_id"`
	Timestamp string        `json:"timestamp"`
	Readings  domain.Sample `json:"readings"`
}

type recordRequest struct {
	RunID     int64         `json:"run_id"`
	Timestamp *time.Time    `json:"timestamp"`
	Readings  domain.Sample `json:"readings"`
}

type runResponse struct {
	RunID   int64  `json:"run_id"`
	Records int64  `json:"records"`
	First   string `json:"first"`
	Last    string `json:"last"`
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) handleStart(w http.ResponseWriter, r *http.Request) {
	run, err := h.service.Start(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, statusResponse{Status: statusStarted, RunNumber: run})
	case errors.Is(err, domain.ErrAlreadyRunning):
		writeJSON(w, http.StatusOK, statusResponse{Status: statusAlreadyRunning})
	default:
		h.respondControlError(w, r, "start", err)
	}
}

func (h *handler) handleStop(w http.ResponseWriter, r *http.Request) {
	err := h.service.Stop(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, statusResponse{Status: statusStopped})
	case errors.Is(err, domain.ErrNotRunning):
		writeJSON(w, http.StatusOK, statusResponse{Status: statusNotRunning})
	default:
		h.respondControlError(w, r, "stop", err)
	}
}

func (h *handler) handleConfigure(w http.ResponseWriter, r *http.Request) {
	err := h.service.Configure(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, statusResponse{Status: statusConfigured})
	case errors.Is(err, domain.ErrAlreadyConfigured):
		writeJSON(w, http.StatusOK, statusResponse{Status: statusAlreadyConfigured})
	default:
		h.respondControlError(w, r, "configure", err)
	}
}

func (h *handler) handleRecord(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.service.SetRecording(r.Context(), enabled); err != nil {
			h.respondControlError(w, r, "record", err)
			return
		}
		status := statusRecordingStopped
		if enabled {
			status = statusRecordingStarted
		}
		writeJSON(w, http.StatusOK, statusResponse{Status: status})
	}
}

// respondControlError maps lifecycle conflicts to 409 and everything else,
// typically instrument or database trouble, to 503.
func (h *handler) respondControlError(w http.ResponseWriter, r *http.Request, action string, err error) {
	code := http.StatusServiceUnavailable
	switch {
	case errors.Is(err, domain.ErrAlreadyRunning),
		errors.Is(err, domain.ErrNotRunning),
		errors.Is(err, domain.ErrFaulted):
		code = http.StatusConflict
	}
	if h.logger != nil {
		h.logger.Warn("http: control request failed",
			"action", action, "request_id", r.Header.Get(headerRequestID), "error", err)
	}
	writeJSON(w, code, statusResponse{Status: statusError, Detail: err.Error()})
}

func (h *handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s := h.service.Status()
	writeJSON(w, http.StatusOK, sessionStatusResponse{
		Measuring:  s.Measuring,
		Recording:  s.Recording,
		Connected:  s.Connected,
		Configured: s.Configured,
		Phase:      s.Phase,
		RunNumber:  s.RunNumber,
		Interval:   s.Interval.Seconds(),
		LastError:  s.LastError,
	})
}

func (h *handler) handleData(w http.ResponseWriter, _ *http.Request) {
	sample := h.service.Latest()
	if sample == nil {
		sample = domain.Sample{}
	}
	writeJSON(w, http.StatusOK, sample)
}

func (h *handler) handleListRecords(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.records.ListRecords(r.Context(), filter)
	if err != nil {
		h.respondStorageError(w, r, err)
		return
	}

	payload := make([]recordResponse, len(records))
	for i, record := range records {
		payload[i] = toRecordResponse(record)
	}
	writeJSON(w, http.StatusOK, payload)
}

func (h *handler) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RunID <= 0 {
		writeError(w, http.StatusBadRequest, "run_id must be positive")
		return
	}
	if len(req.Readings) == 0 {
		writeError(w, http.StatusBadRequest, "readings are required")
		return
	}

	record := domain.MeasurementRecord{RunID: req.RunID, Timestamp: h.now().UTC(), Readings: req.Readings}
	if req.Timestamp != nil {
		record.Timestamp = req.Timestamp.UTC()
	}

	saved, err := h.records.Save(r.Context(), record)
	if err != nil {
		h.respondStorageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRecordResponse(saved))
}

func (h *handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.records.ListRuns(r.Context())
	if err != nil {
		h.respondStorageError(w, r, err)
		return
	}

	payload := make([]runResponse, len(runs))
	for i, run := range runs {
		payload[i] = runResponse{
			RunID:   run.RunID,
			Records: run.Records,
			First:   run.First.UTC().Format(time.RFC3339Nano),
			Last:    run.Last.UTC().Format(time.RFC3339Nano),
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

func (h *handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.records.ListRecords(r.Context(), filter)
	if err != nil {
		h.respondStorageError(w, r, err)
		return
	}

	channels := h.channels
	if len(channels) == 0 && len(records) > 0 {
		channels = records[0].Readings.Channels()
	}

	var buf bytes.Buffer
	if err := export.WriteXLSX(&buf, channels, records); err != nil {
		h.respondStorageError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.Filename(h.now())+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (h *handler) respondStorageError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "measurement not found")
		return
	}
	if h.logger != nil {
		h.logger.Error("http: storage request failed",
			"path", r.URL.Path, "request_id", r.Header.Get(headerRequestID), "error", err)
	}
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func parseFilter(r *http.Request) (domain.RecordFilter, error) {
	var filter domain.RecordFilter
	params := r.URL.Query()

	if raw := params.Get(queryRun); raw != "" {
		run, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || run <= 0 {
			return filter, errors.New("invalid run")
		}
		filter.RunID = run
	}
	if raw := params.Get(queryFrom); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, errors.New("invalid from timestamp")
		}
		filter.From = from
	}
	if raw := params.Get(queryTo); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, errors.New("invalid to timestamp")
		}
		filter.To = to
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.From.After(filter.To) {
		return filter, errors.New("from must be before to")
	}
	if raw := params.Get(queryLimit); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return filter, errors.New("invalid limit")
		}
		filter.Limit = limit
	}
	return filter, nil
}

func toRecordResponse(record domain.MeasurementRecord) recordResponse {
	readings := record.Readings
	if readings == nil {
		readings = domain.Sample{}
	}
	return recordResponse{
		ID:        record.ID,
		RunID:     record.RunID,
		Timestamp: record.Timestamp.UTC().Format(time.RFC3339Nano),
		Readings:  readings,
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: status})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
