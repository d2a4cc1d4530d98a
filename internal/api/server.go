// Package api exposes the HTTP control surface: live status, waveform
// history, alarm lifecycle, configuration inspection, and debug charts.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/vigil-data/breathwatch/internal/breath"
	"github.com/vigil-data/breathwatch/internal/config"
	"github.com/vigil-data/breathwatch/internal/db"
	"github.com/vigil-data/breathwatch/internal/httputil"
	"github.com/vigil-data/breathwatch/internal/monitoring"
	"github.com/vigil-data/breathwatch/internal/stream"
	"github.com/vigil-data/breathwatch/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	alarm   *breath.Alarm
	history *breath.History
	store   *db.DB
	cfg     *config.Config

	videoClients *stream.Registry
	dataClients  *stream.Registry
}

// NewServer wires the HTTP surface. store may be nil when persistence is
// disabled; the cycle and alarm-event endpoints then report 404.
func NewServer(alarm *breath.Alarm, history *breath.History, store *db.DB, cfg *config.Config, videoClients, dataClients *stream.Registry) *Server {
	return &Server{
		alarm:        alarm,
		history:      history,
		store:        store,
		cfg:          cfg,
		videoClients: videoClients,
		dataClients:  dataClients,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/history", s.listHistory)
	mux.HandleFunc("/api/alarm", s.showAlarm)
	mux.HandleFunc("/api/alarm/arm", s.armAlarm)
	mux.HandleFunc("/api/alarm/reset", s.resetAlarm)
	mux.HandleFunc("/api/alarm/events", s.listAlarmEvents)
	mux.HandleFunc("/api/cycles", s.listCycles)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/version", s.showVersion)
	mux.HandleFunc("/charts/waveform", s.waveformChart)
	mux.HandleFunc("/charts/trend", s.trendChart)
	mux.HandleFunc("/debug/waveform.png", s.waveformPNG)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	httputil.WriteJSONError(w, status, msg)
}

// statusResponse is the live-status payload.
type statusResponse struct {
	Timestamp     float64           `json:"timestamp"`
	MotionState   string            `json:"motion_state"`
	Alert         string            `json:"alert"`
	BreathingRate float64           `json:"breathing_rate"`
	Alarm         breath.AlarmState `json:"alarm"`
	VideoClients  int               `json:"video_clients"`
	DataClients   int               `json:"data_clients"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	resp := statusResponse{
		Alarm:        s.alarm.State(),
		VideoClients: s.videoClients.Len(),
		DataClients:  s.dataClients.Len(),
	}
	if latest, ok := s.history.Latest(); ok {
		resp.Timestamp = float64(latest.Timestamp.UnixNano()) / 1e9
		resp.MotionState = string(latest.Classification.Motion)
		resp.Alert = string(latest.Classification.Alert)
		resp.BreathingRate = latest.BreathingRate
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write status")
		return
	}
}

// historyEntry is one snapshot in the history payload.
type historyEntry struct {
	Timestamp     float64   `json:"timestamp"`
	MotionState   string    `json:"motion_state"`
	Alert         string    `json:"alert"`
	BreathingRate float64   `json:"breathing_rate"`
	Waveform      []float64 `json:"waveform,omitempty"`
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	includeWaveforms := r.URL.Query().Get("waveforms") == "true"

	snapshots := s.history.Snapshots()
	limit := len(snapshots)
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		if parsed < limit {
			limit = parsed
		}
	}
	snapshots = snapshots[len(snapshots)-limit:]

	entries := make([]historyEntry, 0, len(snapshots))
	for _, snap := range snapshots {
		e := historyEntry{
			Timestamp:     float64(snap.Timestamp.UnixNano()) / 1e9,
			MotionState:   string(snap.Classification.Motion),
			Alert:         string(snap.Classification.Alert),
			BreathingRate: snap.BreathingRate,
		}
		if includeWaveforms {
			e.Waveform = snap.Waveform
		}
		entries = append(entries, e)
	}

	if err := json.NewEncoder(w).Encode(entries); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write history")
		return
	}
}

func (s *Server) showAlarm(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := json.NewEncoder(w).Encode(s.alarm.State()); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write alarm state")
		return
	}
}

func (s *Server) armAlarm(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.alarm.Arm()
	s.recordAlarmEvent(db.AlarmEventArmed)

	if err := json.NewEncoder(w).Encode(s.alarm.State()); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write alarm state")
		return
	}
}

func (s *Server) resetAlarm(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	disarm := r.URL.Query().Get("disarm") == "true"
	s.alarm.Reset(disarm)
	s.recordAlarmEvent(db.AlarmEventReset)

	if err := json.NewEncoder(w).Encode(s.alarm.State()); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write alarm state")
		return
	}
}

func (s *Server) recordAlarmEvent(event string) {
	if s.store == nil {
		return
	}
	if err := s.store.RecordAlarmEvent(event, s.alarm.State().ValidationCount); err != nil {
		monitoring.Logf("[API] failed to record alarm event: %v", err)
	}
}

func (s *Server) listAlarmEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.store == nil {
		s.writeJSONError(w, http.StatusNotFound, "Persistence is disabled")
		return
	}

	limit, ok := s.parseLimit(w, r)
	if !ok {
		return
	}

	events, err := s.store.AlarmEvents(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to retrieve alarm events")
		return
	}
	if events == nil {
		events = []db.AlarmEvent{}
	}

	if err := json.NewEncoder(w).Encode(events); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write alarm events")
		return
	}
}

func (s *Server) listCycles(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.store == nil {
		s.writeJSONError(w, http.StatusNotFound, "Persistence is disabled")
		return
	}

	limit, ok := s.parseLimit(w, r)
	if !ok {
		return
	}

	cycles, err := s.store.Cycles(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to retrieve cycles")
		return
	}
	if cycles == nil {
		cycles = []db.CycleRecord{}
	}

	if err := json.NewEncoder(w).Encode(cycles); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write cycles")
		return
	}
}

func (s *Server) parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return 0, false
		}
		limit = parsed
	}
	return limit, true
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := json.NewEncoder(w).Encode(s.cfg); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write config")
		return
	}
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	info := map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	}
	if err := json.NewEncoder(w).Encode(info); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write version")
		return
	}
}
