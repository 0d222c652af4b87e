package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"stratusdash/internal/agenda"
	"stratusdash/internal/config"
	"stratusdash/internal/ics"
	appLog "stratusdash/internal/log"
	"stratusdash/internal/metrics"
	"stratusdash/internal/model"
)

// Calendar is the cached calendar source the handlers read from.
type Calendar interface {
	Get(ctx context.Context, url string) ics.Result
	Invalidate(url string)
	Refresh(ctx context.Context, url string) ics.Result
}

// Server provides the HTTP API for the calendar widget.
type Server struct {
	cfgMu   sync.RWMutex
	cfg     *config.Config
	cfgPath string

	calendar Calendar
	loc      *time.Location
	now      func() time.Time

	router chi.Router
}

// NewServer constructs a new Server. cfgPath is where settings changes are
// persisted; an empty path keeps them in memory only.
func NewServer(cfg *config.Config, cfgPath string, calendar Calendar, loc *time.Location) *Server {
	if loc == nil {
		loc = time.Local
	}
	s := &Server{
		cfg:      cfg,
		cfgPath:  cfgPath,
		calendar: calendar,
		loc:      loc,
		now:      time.Now,
	}
	s.router = s.routes()
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// CalendarURL returns the currently configured feed URL.
func (s *Server) CalendarURL() string {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg.CalendarURL
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware())

	r.Get("/health", s.handleHealth)

	s.cfgMu.RLock()
	metricsEnabled := s.cfg.MetricsEnabled
	s.cfgMu.RUnlock()

	r.Group(func(r chi.Router) {
		r.Use(s.basicAuthMiddleware)

		if metricsEnabled {
			r.Handle("/metrics", metrics.Handler())
		}

		r.Route("/api", func(r chi.Router) {
			r.Get("/calendar/events", s.handleEvents)
			r.Get("/calendar/day", s.handleDay)
			r.Post("/calendar/refresh", s.handleRefresh)
			r.Get("/settings/calendar", s.handleGetCalendarSettings)
			r.Put("/settings/calendar", s.handlePutCalendarSettings)
		})
	})

	return r
}

// basicAuthMiddleware enforces HTTP Basic Auth when configured.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.cfgMu.RLock()
		auth := s.cfg.BasicAuth
		s.cfgMu.RUnlock()
		if auth == nil || auth.Username == "" || auth.Password == "" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, auth.Username) || !secureCompare(p, auth.Password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="StratusDash", charset="UTF-8"`)
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

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		appLog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// eventsResponse is the JSON response shape for /api/calendar/events.
type eventsResponse struct {
	Events     []model.ResolvedEvent `json:"events"`
	RangeStart time.Time             `json:"range_start"`
	RangeEnd   time.Time             `json:"range_end"`
	Timezone   string                `json:"timezone"`
	Status     string                `json:"status"`
	ResolvedAt time.Time             `json:"resolved_at"`
}

// dayResponse is the JSON response shape for /api/calendar/day.
type dayResponse struct {
	agenda.Nav
	Events []model.ResolvedEvent `json:"events"`
	Status string                `json:"status"`
}

// handleEvents returns the full resolved window for the configured feed.
//
// Failures surface only as an empty list plus a status field; the request
// itself still succeeds.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	res := s.calendar.Get(r.Context(), s.CalendarURL())
	writeJSON(w, http.StatusOK, eventsResponse{
		Events:     res.Events,
		RangeStart: res.Window.Start,
		RangeEnd:   res.Window.End,
		Timezone:   s.loc.String(),
		Status:     res.Status(),
		ResolvedAt: res.ResolvedAt,
	})
}

// handleDay filters the cached window to one day.
//
// GET /api/calendar/day?offset=N
//   - offset: signed day offset from today, -4..14 (default 0)
func (s *Server) handleDay(w http.ResponseWriter, r *http.Request) {
	offset, err := parseIntDefault(r.URL.Query().Get("offset"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "offset must be an integer")
		return
	}

	now := s.now()
	nav, err := agenda.Navigation(now, s.loc, offset)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res := s.calendar.Get(r.Context(), s.CalendarURL())
	events, err := agenda.FilterDay(res.Events, now, s.loc, offset)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, dayResponse{
		Nav:    nav,
		Events: events,
		Status: res.Status(),
	})
}

// handleRefresh drops the cached window so the next read re-fetches.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	url := s.CalendarURL()
	s.calendar.Invalidate(url)
	appLog.Info("calendar refresh requested", "url", ics.RedactURL(url), "request_id", middleware.GetReqID(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

type calendarSettings struct {
	URL string `json:"url"`
}

func (s *Server) handleGetCalendarSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, calendarSettings{URL: s.CalendarURL()})
}

// handlePutCalendarSettings replaces the feed URL, persists the config and
// invalidates both the old and the new URL.
func (s *Server) handlePutCalendarSettings(w http.ResponseWriter, r *http.Request) {
	var body calendarSettings
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	newURL := strings.TrimSpace(body.URL)
	if newURL != "" && !strings.HasPrefix(newURL, "http://") && !strings.HasPrefix(newURL, "https://") && !strings.HasPrefix(newURL, "webcal://") {
		writeError(w, http.StatusBadRequest, "url must be http(s) or webcal")
		return
	}
	newURL = normalizeFeedURL(newURL)

	s.cfgMu.Lock()
	oldURL := s.cfg.CalendarURL
	next := s.cfg.Clone()
	next.CalendarURL = newURL
	if s.cfgPath != "" {
		if err := next.Save(s.cfgPath); err != nil {
			s.cfgMu.Unlock()
			appLog.Error("failed to persist calendar settings", err, "config_path", s.cfgPath)
			writeError(w, http.StatusInternalServerError, "failed to save settings")
			return
		}
	}
	s.cfg = next
	s.cfgMu.Unlock()

	s.calendar.Invalidate(oldURL)
	s.calendar.Invalidate(newURL)
	appLog.Info("calendar settings updated", "old_url", ics.RedactURL(oldURL), "new_url", ics.RedactURL(newURL))

	writeJSON(w, http.StatusOK, calendarSettings{URL: newURL})
}

// normalizeFeedURL maps webcal:// subscriptions onto https.
func normalizeFeedURL(u string) string {
	if strings.HasPrefix(u, "webcal://") {
		return "https://" + strings.TrimPrefix(u, "webcal://")
	}
	return u
}

func parseIntDefault(s string, def int) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.New("not an integer")
	}
	return n, nil
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
