// Package web serves the JSON control surface for the monitor: start and
// stop, enabled-sound and schedule updates, statistics, recent alerts, log
// downloads, the live WebSocket feed, health probes and Prometheus metrics.
//
// Every route goes through [observe.Middleware].
package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/soundalert/internal/alert"
	"github.com/MrWong99/soundalert/internal/eventlog"
	"github.com/MrWong99/soundalert/internal/health"
	"github.com/MrWong99/soundalert/internal/observe"
	"github.com/MrWong99/soundalert/internal/stats"
	"github.com/MrWong99/soundalert/pkg/classifier"
)

const (
	// timelineLimit is the number of timeline entries returned by /api/stats.
	timelineLimit = 50

	// alertsLimit is the number of alerts returned by /api/alerts_json.
	alertsLimit = 20

	// maxBodyBytes caps request bodies.
	maxBodyBytes = 64 << 10

	// suggestThreshold is the minimum Jaro-Winkler similarity for a "did you
	// mean" hint on unknown labels.
	suggestThreshold = 0.8
)

// Controller is the monitor surface the handlers drive. [*monitor.Monitor]
// satisfies it.
type Controller interface {
	Start() bool
	Stop() bool
	Running() bool
	SetEnabled(alert.EnabledSet)
	Enabled() alert.EnabledSet
	SetSchedule(alert.Schedule)
	Schedule() alert.Schedule
	Stats() stats.Snapshot
	RecentAlerts() []alert.DetectionEvent
	Policy() *alert.PriorityPolicy
}

// Config holds the server's collaborators. Monitor is required; the rest are
// optional and their routes are omitted (or answer 501) when nil.
type Config struct {
	Monitor Controller

	// Vocabulary is used to warn about unknown labels in enabled-sound
	// updates.
	Vocabulary *classifier.Vocabulary

	// Logs serves /api/logs when the log sink writes downloadable files.
	Logs eventlog.Archive

	// Live serves /ws.
	Live http.Handler

	// Health serves /healthz and /readyz.
	Health *health.Handler

	// Metrics records request durations. Default: observe.DefaultMetrics.
	Metrics *observe.Metrics

	// MetricsHandler serves /metrics. Default: promhttp.Handler.
	MetricsHandler http.Handler
}

// Server routes HTTP requests to the monitor.
type Server struct {
	cfg Config

	// scheduleMu serialises read-modify-write schedule updates.
	scheduleMu sync.Mutex
}

// New returns a Server for cfg.
func New(cfg Config) (*Server, error) {
	if cfg.Monitor == nil {
		return nil, errors.New("web: monitor is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.MetricsHandler == nil {
		cfg.MetricsHandler = promhttp.Handler()
	}
	return &Server{cfg: cfg}, nil
}

// Handler returns the fully routed and instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /start", s.handleStart)
	mux.HandleFunc("GET /stop", s.handleStop)
	mux.HandleFunc("GET /api/enabled_sounds", s.handleEnabledSounds)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/alerts_json", s.handleAlerts)
	mux.HandleFunc("GET /api/schedule", s.handleGetSchedule)
	mux.HandleFunc("POST /api/schedule", s.handlePostSchedule)
	mux.HandleFunc("GET /api/logs", s.handleLogs)
	mux.HandleFunc("GET /api/logs/{filename}", s.handleLogDownload)
	mux.HandleFunc("GET /api/priority_sounds", s.handlePriorities)
	mux.Handle("GET /metrics", s.cfg.MetricsHandler)
	if s.cfg.Live != nil {
		mux.Handle("GET /ws", s.cfg.Live)
	}
	if s.cfg.Health != nil {
		s.cfg.Health.Register(mux)
	}
	return observe.Middleware(s.cfg.Metrics,
		observe.WithAuditRoutes("GET /start", "GET /stop", "GET /api/enabled_sounds", "POST /api/schedule"),
	)(mux)
}

// statusResponse is the body of control and update endpoints.
type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Monitor.Start() {
		writeJSON(w, http.StatusOK, statusResponse{
			Status:  "already_running",
			Message: "Sound monitoring is already running",
		})
		return
	}
	observe.Logger(r.Context()).Info("monitoring start requested", "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, statusResponse{
		Status:  "started",
		Message: "Sound monitoring STARTED",
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Monitor.Stop() {
		observe.Logger(r.Context()).Info("monitoring stop requested", "remote", r.RemoteAddr)
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Status:  "stopped",
		Message: "Sound monitoring STOPPED",
	})
}

// enabledResponse is the body of /api/enabled_sounds.
type enabledResponse struct {
	Status string   `json:"status"`
	Sounds []string `json:"sounds"`
}

func (s *Server) handleEnabledSounds(w http.ResponseWriter, r *http.Request) {
	sounds := alert.ParseEnabledList(r.URL.Query().Get("sounds"))
	if sounds == nil {
		sounds = []string{}
	}
	log := observe.Logger(r.Context())
	if v := s.cfg.Vocabulary; v != nil {
		for _, label := range sounds {
			if v.Contains(label) {
				continue
			}
			if hint, score := v.Suggest(label); score >= suggestThreshold {
				log.Warn("enabled sound not in vocabulary", "label", label, "did_you_mean", hint)
			} else {
				log.Warn("enabled sound not in vocabulary", "label", label)
			}
		}
	}

	s.cfg.Monitor.SetEnabled(alert.NewEnabledSet(sounds...))
	log.Info("enabled sounds updated", "count", len(sounds), "sounds", sounds)
	writeJSON(w, http.StatusOK, enabledResponse{Status: "updated", Sounds: sounds})
}

// statsResponse is the body of /api/stats.
type statsResponse struct {
	HourlyCounts    map[string]int        `json:"hourly_counts"`
	SoundFrequency  map[string]int        `json:"sound_frequency"`
	RecentTimeline  []stats.TimelineEntry `json:"recent_timeline"`
	SessionStart    *string               `json:"session_start"`
	TotalAlerts     int                   `json:"total_alerts"`
	TotalDetections int64                 `json:"total_detections"`
	IsMonitoring    bool                  `json:"is_monitoring"`
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	snap := s.cfg.Monitor.Stats()
	res := statsResponse{
		HourlyCounts:    snap.HourlyCounts,
		SoundFrequency:  snap.SoundFrequency,
		RecentTimeline:  snap.RecentTimeline(timelineLimit),
		TotalAlerts:     len(s.cfg.Monitor.RecentAlerts()),
		TotalDetections: snap.Total,
		IsMonitoring:    s.cfg.Monitor.Running(),
	}
	if res.HourlyCounts == nil {
		res.HourlyCounts = map[string]int{}
	}
	if res.SoundFrequency == nil {
		res.SoundFrequency = map[string]int{}
	}
	if res.RecentTimeline == nil {
		res.RecentTimeline = []stats.TimelineEntry{}
	}
	if !snap.SessionStart.IsZero() {
		start := snap.SessionStart.Format(stats.SessionLayout)
		res.SessionStart = &start
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAlerts(w http.ResponseWriter, _ *http.Request) {
	alerts := s.cfg.Monitor.RecentAlerts()
	if len(alerts) > alertsLimit {
		alerts = alerts[len(alerts)-alertsLimit:]
	}
	if alerts == nil {
		alerts = []alert.DetectionEvent{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

// scheduleJSON is the wire form of a schedule.
type scheduleJSON struct {
	Enabled   bool     `json:"enabled"`
	StartTime string   `json:"start_time"`
	EndTime   string   `json:"end_time"`
	Days      []string `json:"days"`
}

func toScheduleJSON(s alert.Schedule) scheduleJSON {
	return scheduleJSON{
		Enabled:   s.Enabled,
		StartTime: s.Start.String(),
		EndTime:   s.End.String(),
		Days:      s.Days.Names(),
	}
}

// schedulePatch is a partial schedule update. Absent fields keep their
// current value.
type schedulePatch struct {
	Enabled   *bool     `json:"enabled"`
	StartTime *string   `json:"start_time"`
	EndTime   *string   `json:"end_time"`
	Days      *[]string `json:"days"`
}

// apply merges p over cur and reports every invalid field.
func (p schedulePatch) apply(cur alert.Schedule) (alert.Schedule, error) {
	var errs []error
	if p.Enabled != nil {
		cur.Enabled = *p.Enabled
	}
	if p.StartTime != nil {
		t, err := alert.ParseTimeOfDay(*p.StartTime)
		if err != nil {
			errs = append(errs, fmt.Errorf("start_time: %w", err))
		}
		cur.Start = t
	}
	if p.EndTime != nil {
		t, err := alert.ParseTimeOfDay(*p.EndTime)
		if err != nil {
			errs = append(errs, fmt.Errorf("end_time: %w", err))
		}
		cur.End = t
	}
	if p.Days != nil {
		days, err := alert.ParseWeekdaySet(*p.Days)
		if err != nil {
			errs = append(errs, fmt.Errorf("days: %w", err))
		}
		cur.Days = days
	}
	return cur, errors.Join(errs...)
}

// scheduleResponse is the body of POST /api/schedule.
type scheduleResponse struct {
	Status   string       `json:"status"`
	Schedule scheduleJSON `json:"schedule"`
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toScheduleJSON(s.cfg.Monitor.Schedule()))
}

func (s *Server) handlePostSchedule(w http.ResponseWriter, r *http.Request) {
	var patch schedulePatch
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&patch); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid schedule: "+err.Error())
		return
	}

	s.scheduleMu.Lock()
	next, err := patch.apply(s.cfg.Monitor.Schedule())
	if err == nil {
		s.cfg.Monitor.SetSchedule(next)
	}
	s.scheduleMu.Unlock()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid schedule: "+err.Error())
		return
	}

	observe.Logger(r.Context()).Info("schedule updated",
		"enabled", next.Enabled,
		"start", next.Start.String(),
		"end", next.End.String(),
		"days", next.Days.Names(),
	)
	writeJSON(w, http.StatusOK, scheduleResponse{Status: "updated", Schedule: toScheduleJSON(next)})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Logs == nil {
		writeError(w, http.StatusNotImplemented, "the configured event log does not produce files")
		return
	}
	files, err := s.cfg.Logs.Files()
	if err != nil {
		observe.Logger(r.Context()).Error("list log files", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list log files")
		return
	}
	if files == nil {
		files = []eventlog.FileInfo{}
	}
	writeJSON(w, http.StatusOK, files)
}

func (s *Server) handleLogDownload(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Logs == nil {
		writeError(w, http.StatusNotImplemented, "the configured event log does not produce files")
		return
	}
	name := r.PathValue("filename")
	f, info, err := s.cfg.Logs.Open(name)
	if errors.Is(err, eventlog.ErrNotFound) {
		writeError(w, http.StatusNotFound, "log file not found")
		return
	}
	if err != nil {
		observe.Logger(r.Context()).Error("open log file", "file", name, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to open log file")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", info.Name))
	http.ServeContent(w, r, info.Name, info.ModTime, f)
}

func (s *Server) handlePriorities(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Monitor.Policy().Table())
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("web: encode response", "err", err)
	}
}

// writeError writes {"status":"error","message":msg}.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, statusResponse{Status: "error", Message: msg})
}
