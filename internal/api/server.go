// Package api exposes stored session results and reports over HTTP as typed
// JSON. No rendering or clinical text lives here: the UI layer formats what
// these endpoints return.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/physioassist/motioncore/internal/alignment"
	"github.com/physioassist/motioncore/internal/config"
	"github.com/physioassist/motioncore/internal/goniometry"
	"github.com/physioassist/motioncore/internal/report"
	"github.com/physioassist/motioncore/internal/store"
	"github.com/physioassist/motioncore/internal/version"
)

// ANSI escape codes used by the request logger.
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Server serves session results from the store and owns the hot-reloadable
// clinical configuration.
type Server struct {
	store   *store.Store
	cfgPath string

	mu  sync.RWMutex
	cfg *config.ClinicalConfig

	// onReload is notified after a successful config reload so live sessions
	// can pick up the new thresholds.
	onReload func(*config.ClinicalConfig)
}

// NewServer creates a server over the store with an initial validated config.
func NewServer(st *store.Store, cfg *config.ClinicalConfig, cfgPath string, onReload func(*config.ClinicalConfig)) *Server {
	return &Server{store: st, cfg: cfg, cfgPath: cfgPath, onReload: onReload}
}

// Config returns the current clinical configuration.
func (s *Server) Config() *config.ClinicalConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	default:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	}
}

// LoggingMiddleware logs method, path, status, and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux registers all routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.health)
	mux.HandleFunc("/api/sessions", s.listSessions)
	mux.HandleFunc("/api/session", s.showSession)
	mux.HandleFunc("/api/session/measurements", s.showMeasurements)
	mux.HandleFunc("/api/session/events", s.showEvents)
	mux.HandleFunc("/api/session/feedback", s.showFeedback)
	mux.HandleFunc("/api/session/alignment", s.showAlignment)
	mux.HandleFunc("/api/session/report", s.showReport)
	mux.HandleFunc("/api/session/trace.png", s.showTracePNG)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/config/reload", s.reloadConfig)
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{
		"status":  "ok",
		"version": version.Version,
		"git_sha": version.GitSHA,
	})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.ListSessions()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, rows)
}

// sessionID extracts the mandatory id query parameter.
func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.URL.Query().Get("id")
	if id == "" {
		s.writeJSONError(w, http.StatusBadRequest, "missing id parameter")
		return "", false
	}
	return id, true
}

func (s *Server) showSession(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	row, err := s.store.GetSession(id)
	if err != nil {
		s.writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	stats, err := s.store.JointStats(id)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, map[string]any{"session": row, "joint_stats": stats})
}

func (s *Server) showMeasurements(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	joint := goniometry.JointID(r.URL.Query().Get("joint"))
	ms, err := s.store.Measurements(id, joint)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, ms)
}

func (s *Server) showEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	events, err := s.store.Events(id)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, events)
}

func (s *Server) showFeedback(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	items, err := s.store.Feedback(id)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, items)
}

// showAlignment aligns a stored session's primary-joint series against the
// exercise's stored reference. mode=constant (default) or mode=elastic.
func (s *Server) showAlignment(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	joint := goniometry.JointID(r.URL.Query().Get("joint"))
	if joint == "" {
		s.writeJSONError(w, http.StatusBadRequest, "missing joint parameter")
		return
	}

	row, err := s.store.GetSession(id)
	if err != nil {
		s.writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	patient, err := s.store.Measurements(id, joint)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	refSeries, err := s.store.LoadReference(row.ExerciseID)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	refAngles := refSeries[joint]

	var amap *alignment.Map
	switch mode := r.URL.Query().Get("mode"); mode {
	case "", "constant":
		amap, err = alignment.AlignConstant(len(patient), len(refAngles))
	case "elastic":
		pv := make([][]float64, len(patient))
		for i, m := range patient {
			pv[i] = []float64{m.AngleDegrees}
		}
		rv := make([][]float64, len(refAngles))
		for i, a := range refAngles {
			rv[i] = []float64{a}
		}
		amap, err = alignment.AlignElastic(pv, rv, 0)
	default:
		s.writeJSONError(w, http.StatusBadRequest, "mode must be constant or elastic")
		return
	}
	if err != nil {
		s.writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.writeJSON(w, amap)
}

// reportData assembles everything the report renderers need.
func (s *Server) reportData(id string) (*report.Data, error) {
	row, err := s.store.GetSession(id)
	if err != nil {
		return nil, err
	}
	ms, err := s.store.Measurements(id, "")
	if err != nil {
		return nil, err
	}
	events, err := s.store.Events(id)
	if err != nil {
		return nil, err
	}
	items, err := s.store.Feedback(id)
	if err != nil {
		return nil, err
	}
	return &report.Data{Session: row, Measurements: ms, Events: events, Feedback: items}, nil
}

func (s *Server) showReport(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	data, err := s.reportData(id)
	if err != nil {
		s.writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := report.SessionHTML(w, data); err != nil {
		log.Printf("failed to render report for %s: %v", id, err)
	}
}

func (s *Server) showTracePNG(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	joint := goniometry.JointID(r.URL.Query().Get("joint"))
	if joint == "" {
		s.writeJSONError(w, http.StatusBadRequest, "missing joint parameter")
		return
	}
	data, err := s.reportData(id)
	if err != nil {
		s.writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if err := report.AngleTracePNG(w, data, joint); err != nil {
		log.Printf("failed to render trace for %s/%s: %v", id, joint, err)
	}
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.Config())
}

// reloadConfig re-loads the clinical config file and swaps it in. A file
// that fails validation leaves the running config untouched: wrong clinical
// thresholds must never reach a session.
func (s *Server) reloadConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.cfgPath == "" {
		s.writeJSONError(w, http.StatusUnprocessableEntity, "no config file configured")
		return
	}
	cfg, err := config.LoadClinicalConfig(s.cfgPath)
	if err != nil {
		s.writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	if s.onReload != nil {
		s.onReload(cfg)
	}
	log.Printf("reloaded clinical config from %s", s.cfgPath)
	s.writeJSON(w, map[string]string{"status": "reloaded"})
}
