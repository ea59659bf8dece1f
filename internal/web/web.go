package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"calalarm/internal/alarm"
	"calalarm/internal/config"
	appLog "calalarm/internal/log"
	"calalarm/internal/model"
)

const (
	maxCalendarBody = 4 << 20
	shutdownTimeout = 5 * time.Second
	defaultLimit    = 100
)

// Refresher re-reads the configured feeds.
type Refresher interface {
	SyncAll(ctx context.Context) (alarm.SyncReport, error)
}

// Deps are the collaborators served over HTTP. Nil members disable the
// endpoints that need them.
type Deps struct {
	Store    alarm.Store
	Ingester *alarm.Ingester
	Feeds    Refresher
	Gatherer prometheus.Gatherer
	// Health reports readiness, typically a database ping.
	Health func(ctx context.Context) error
}

// Server provides health, metrics and the pending alarm API.
type Server struct {
	cfg  *config.Config
	deps Deps
	mux  *http.ServeMux
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mux:  http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials count as disabled.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="calalarm", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Run serves on cfg.Listen until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if s.deps.Gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}
	if s.deps.Store != nil {
		s.mux.HandleFunc("GET /api/alarms", s.handleListAlarms)
	}
	if s.deps.Ingester != nil {
		s.mux.HandleFunc("POST /api/alarms", s.handleSchedule)
		s.mux.HandleFunc("DELETE /api/alarms", s.handleCancel)
	}
	if s.deps.Feeds != nil {
		s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if s.deps.Health != nil {
		if err := s.deps.Health(r.Context()); err != nil {
			appLog.Warn("health check failed", "err", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("unavailable\n"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// alarmDTO is the wire form of a pending alarm. The calendar payload is
// omitted.
type alarmDTO struct {
	EventUID       string    `json:"eventUid"`
	Recipient      string    `json:"recipient"`
	AlarmTime      time.Time `json:"alarmTime"`
	EventStartTime time.Time `json:"eventStartTime"`
	EventEndTime   time.Time `json:"eventEndTime"`
	Recurring      bool      `json:"recurring"`
	RecurrenceID   string    `json:"recurrenceId,omitempty"`
}

func toDTOs(events []model.AlarmEvent) []alarmDTO {
	out := make([]alarmDTO, 0, len(events))
	for _, e := range events {
		out = append(out, alarmDTO{
			EventUID:       e.EventUID,
			Recipient:      e.Recipient,
			AlarmTime:      e.AlarmTime,
			EventStartTime: e.EventStartTime,
			EventEndTime:   e.EventEndTime,
			Recurring:      e.Recurring,
			RecurrenceID:   e.RecurrenceID,
		})
	}
	return out
}

// handleListAlarms returns pending alarms ordered by alarm time.
//
// GET /api/alarms?limit=100
func (s *Server) handleListAlarms(w http.ResponseWriter, r *http.Request) {
	limit := parseIntDefault(r.URL.Query().Get("limit"), defaultLimit)
	events, err := s.deps.Store.List(r.Context(), limit)
	if err != nil {
		appLog.Error("api alarms: list failed", err)
		writeError(w, http.StatusInternalServerError, "failed to list alarms")
		return
	}
	writeJSON(w, http.StatusOK, toDTOs(events))
}

// handleSchedule ingests the calendar object in the body for one attendee.
//
// POST /api/alarms?attendee=bob@example.com  (body: text/calendar)
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	attendee := r.URL.Query().Get("attendee")
	if attendee == "" {
		writeError(w, http.StatusBadRequest, "attendee is required")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCalendarBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "calendar body too large")
		return
	}
	events, err := s.deps.Ingester.Schedule(r.Context(), attendee, body)
	if err != nil {
		appLog.Debug("api alarms: schedule rejected", "attendee", attendee, "err", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toDTOs(events))
}

// handleCancel removes pending alarms of one event.
//
// DELETE /api/alarms?uid=...&recipient=...  (recipient optional)
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	uid := q.Get("uid")
	if uid == "" {
		writeError(w, http.StatusBadRequest, "uid is required")
		return
	}
	if err := s.deps.Ingester.Cancel(r.Context(), uid, q.Get("recipient")); err != nil {
		appLog.Error("api alarms: cancel failed", err, "uid", uid)
		writeError(w, http.StatusInternalServerError, "failed to cancel alarms")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type refreshResponse struct {
	Feeds     int    `json:"feeds"`
	Events    int    `json:"events"`
	Scheduled int    `json:"scheduled"`
	Failed    int    `json:"failed"`
	Error     string `json:"error,omitempty"`
}

// handleRefresh syncs every feed now.
//
// POST /api/refresh
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	rep, err := s.deps.Feeds.SyncAll(r.Context())
	resp := refreshResponse{Feeds: rep.Feeds, Events: rep.Events, Scheduled: rep.Scheduled, Failed: rep.Failed}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
