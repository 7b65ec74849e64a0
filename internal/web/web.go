package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"homecal/internal/cache"
	"homecal/internal/calendar"
	"homecal/internal/config"
	"homecal/internal/ics"
	appLog "homecal/internal/log"
	"homecal/internal/model"
	"homecal/internal/store"
)

// maxBodyBytes bounds event payloads.
const maxBodyBytes = 1 << 20

// Server exposes the calendar views and event CRUD over HTTP.
type Server struct {
	cfg   *config.Config
	svc   *calendar.Service
	store store.Store
	mux   *http.ServeMux
	now   func() time.Time

	syncer *ics.Syncer
	feeds  []ics.Feed
}

// Option configures a Server.
type Option func(*Server)

// WithSyncer enables POST /api/feeds/sync.
func WithSyncer(s *ics.Syncer, feeds []ics.Feed) Option {
	return func(srv *Server) {
		srv.syncer = s
		srv.feeds = feeds
	}
}

// WithClock overrides time.Now, used for default month selection.
func WithClock(now func() time.Time) Option {
	return func(srv *Server) { srv.now = now }
}

// NewServer constructs a Server. svc must read from st.
func NewServer(cfg *config.Config, svc *calendar.Service, st store.Store, opts ...Option) *Server {
	s := &Server{
		cfg:   cfg,
		svc:   svc,
		store: st,
		mux:   http.NewServeMux(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s
}

// Handler returns the root handler, wrapped in basic auth when configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		return s.basicAuthMiddleware(h)
	}
	return h
}

// ListenAndServe serves on cfg.Listen until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen, "basic_auth", s.basicAuthEnabled())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	appLog.Info("shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/calendar/month", s.handleMonth)
	s.mux.HandleFunc("GET /api/calendar/day", s.handleDay)
	s.mux.HandleFunc("GET /api/calendar/export.ics", s.handleExport)
	s.mux.HandleFunc("GET /api/calendar/stats", s.handleStats)

	s.mux.HandleFunc("POST /api/events", s.handleCreateEvent)
	s.mux.HandleFunc("GET /api/events/{id}", s.handleGetEvent)
	s.mux.HandleFunc("PUT /api/events/{id}", s.handleUpdateEvent)
	s.mux.HandleFunc("DELETE /api/events/{id}", s.handleDeleteEvent)

	s.mux.HandleFunc("POST /api/feeds/sync", s.handleSync)
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Either half missing disables auth.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware guards everything except /health.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password
	hashed := isBcryptHash(password)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !checkPassword(p, password, hashed) {
			w.Header().Set("WWW-Authenticate", `Basic realm="homecal", charset="UTF-8"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

func checkPassword(given, configured string, hashed bool) bool {
	if hashed {
		return bcrypt.CompareHashAndPassword([]byte(configured), []byte(given)) == nil
	}
	return secureCompare(given, configured)
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// viewParams are the month/tz query parameters shared by calendar views.
type viewParams struct {
	month string
	zone  string
	loc   *time.Location
}

// parseView reads ?month=YYYY-MM&tz=Zone. Missing values default to the
// configured zone and the current month there.
func (s *Server) parseView(r *http.Request) (viewParams, error) {
	q := r.URL.Query()
	p := viewParams{month: q.Get("month"), zone: q.Get("tz")}
	if p.zone == "" {
		p.zone = s.cfg.Timezone
	}
	loc, err := calendar.LoadZone(p.zone)
	if err != nil {
		return p, err
	}
	p.loc = loc
	p.zone = loc.String()
	if p.month == "" {
		p.month = calendar.MonthKeyOf(s.now(), loc)
	}
	if _, err := calendar.MonthStart(p.month, loc); err != nil {
		return p, err
	}
	return p, nil
}

type monthResponse struct {
	model.MonthAggregate
	Timezone string `json:"timezone"`
}

// handleMonth returns day summaries and capped day lists.
//
// GET /api/calendar/month?month=2024-01&tz=Australia/Melbourne
func (s *Server) handleMonth(w http.ResponseWriter, r *http.Request) {
	p, err := s.parseView(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	agg, err := s.svc.Month(r.Context(), p.month, p.zone)
	if err != nil {
		s.writeServiceError(w, "month", err)
		return
	}
	if agg.Days == nil {
		agg.Days = map[string][]model.Occurrence{}
	}
	if agg.Summaries == nil {
		agg.Summaries = map[string]model.DaySummary{}
	}
	writeJSON(w, http.StatusOK, monthResponse{MonthAggregate: agg, Timezone: p.zone})
}

type dayResponse struct {
	Month       string             `json:"month"`
	Timezone    string             `json:"timezone"`
	Day         string             `json:"day"`
	Summary     model.DaySummary   `json:"summary"`
	Occurrences []model.Occurrence `json:"occurrences"`
}

// handleDay returns one day bucket of a month view.
//
// GET /api/calendar/day?month=2024-01&tz=UTC&day=2024-01-15
func (s *Server) handleDay(w http.ResponseWriter, r *http.Request) {
	p, err := s.parseView(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	day := r.URL.Query().Get("day")
	if _, err := time.Parse(calendar.DayKeyLayout, day); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid day %q", day))
		return
	}

	agg, err := s.svc.Month(r.Context(), p.month, p.zone)
	if err != nil {
		s.writeServiceError(w, "day", err)
		return
	}
	occs, err := s.svc.Day(r.Context(), p.month, p.zone, day)
	if err != nil {
		s.writeServiceError(w, "day", err)
		return
	}
	if occs == nil {
		occs = []model.Occurrence{}
	}
	writeJSON(w, http.StatusOK, dayResponse{
		Month:       p.month,
		Timezone:    p.zone,
		Day:         day,
		Summary:     agg.Summaries[day],
		Occurrences: occs,
	})
}

// handleExport writes every occurrence of the month as iCalendar. Unlike
// the month view it is not capped per day.
//
// GET /api/calendar/export.ics?month=2024-01&tz=UTC
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	p, err := s.parseView(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	win, err := calendar.MonthWindow(p.month, p.loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	engine := s.svc.Engine()
	defs, err := s.store.ListEvents(r.Context(), win.Buffered(engine.Config().Lookaround))
	if err != nil {
		s.writeServiceError(w, "export", err)
		return
	}
	res, err := engine.Expand(defs, win)
	if err != nil {
		s.writeServiceError(w, "export", err)
		return
	}
	occs := res.Occurrences
	sort.SliceStable(occs, func(i, j int) bool {
		if !occs[i].StartsAt.Equal(occs[j].StartsAt) {
			return occs[i].StartsAt.Before(occs[j].StartsAt)
		}
		return occs[i].InstanceID < occs[j].InstanceID
	})

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="homecal-%s.ics"`, p.month))
	if err := ics.WriteOccurrences(w, "homecal "+p.month, occs, s.now()); err != nil {
		appLog.Error("export write failed", err, "month", p.month)
	}
}

type cacheStatsDTO struct {
	Entries   int    `json:"entries"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

func toStatsDTO(st cache.Stats) cacheStatsDTO {
	return cacheStatsDTO{Entries: st.Entries, Hits: st.Hits, Misses: st.Misses, Evictions: st.Evictions}
}

// handleStats reports cache counters for the month and day views.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	months, days := s.svc.CacheStats()
	writeJSON(w, http.StatusOK, map[string]cacheStatsDTO{
		"months": toStatsDTO(months),
		"days":   toStatsDTO(days),
	})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil {
		writeError(w, http.StatusNotFound, "feed sync is not configured")
		return
	}
	reports, err := s.syncer.Sync(r.Context(), s.feeds)
	type feedResult struct {
		Feed      string `json:"feed"`
		Events    int    `json:"events"`
		Changed   int    `json:"changed"`
		FromCache bool   `json:"from_cache"`
		Error     string `json:"error,omitempty"`
	}
	out := make([]feedResult, 0, len(reports))
	for _, rep := range reports {
		fr := feedResult{Feed: rep.FeedID, Events: rep.Events, Changed: rep.Changed, FromCache: rep.FromCache}
		if rep.Err != nil {
			fr.Error = rep.Err.Error()
		}
		out = append(out, fr)
	}
	status := http.StatusOK
	if err != nil {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]any{"feeds": out})
}

// writeServiceError maps engine and store errors onto status codes.
func (s *Server) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, calendar.ErrWindowOrder):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "event not found")
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to send.
	default:
		appLog.Error("api "+op+" failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
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
