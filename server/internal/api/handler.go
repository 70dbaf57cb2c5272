package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/wardwatch/wardwatch/server/internal/alert"
	"github.com/wardwatch/wardwatch/server/internal/auth"
	"github.com/wardwatch/wardwatch/server/internal/metrics"
)

const maxBodyBytes = 64 << 10

// Service is the alert engine as seen by the HTTP surface.
type Service interface {
	Create(ctx context.Context, req alert.CreateRequest) (alert.Alert, error)
	Acknowledge(ctx context.Context, id, responder, role string) (alert.Alert, error)
	Resolve(ctx context.Context, id, resolver string) (alert.Alert, error)
	Get(id string) (alert.Alert, error)
	List(hospitalID string) []alert.Alert
}

// Options wires the optional parts of the router.
type Options struct {
	// Auth wraps the /api/v1 routes. Nil leaves them open.
	Auth func(http.Handler) http.Handler

	// CORSOrigins lists the allowed browser origins. Empty allows all.
	CORSOrigins []string

	// Health fills the counters of GET /api/v1/health. Nil reports only
	// status and uptime.
	Health func() HealthResponse

	// WebSocket is mounted at /ws when set. It authenticates the handshake
	// itself.
	WebSocket http.Handler

	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

// Handler serves the REST routes.
type Handler struct {
	svc     Service
	health  func() HealthResponse
	started time.Time
}

// New creates the router.
func New(svc Service, opts Options) http.Handler {
	h := &Handler{svc: svc, health: opts.Health, started: time.Now()}

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	if opts.WebSocket != nil {
		r.Handle("/ws", opts.WebSocket)
	}
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(instrument)
		r.Get("/health", h.getHealth)

		r.Group(func(r chi.Router) {
			if opts.Auth != nil {
				r.Use(opts.Auth)
			}
			r.Post("/alerts", h.createAlert)
			r.Get("/alerts", h.listAlerts)
			r.Get("/alerts/{id}", h.getAlert)
			r.Post("/alerts/{id}/acknowledge", h.acknowledgeAlert)
			r.Post("/alerts/{id}/resolve", h.resolveAlert)
		})
	})
	return r
}

// --- route handlers ---------------------------------------------------------

func (h *Handler) getHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{}
	if h.health != nil {
		resp = h.health()
	}
	resp.Status = "ok"
	resp.Uptime = time.Since(h.started).Round(time.Second).String()
	jsonResp(w, http.StatusOK, resp)
}

func (h *Handler) createAlert(w http.ResponseWriter, r *http.Request) {
	var req alert.CreateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p, _ := auth.FromContext(r.Context())
	if !p.CanAccess(req.HospitalID) {
		jsonErr(w, http.StatusForbidden, "not authorized for hospital "+req.HospitalID)
		return
	}
	if p.Authenticated() {
		req.CreatedBy, req.CreatorRole = p.Subject, p.Role
	}

	a, err := h.svc.Create(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResp(w, http.StatusCreated, a)
}

func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	hospitalID := r.URL.Query().Get("hospital_id")
	if hospitalID == "" {
		jsonErr(w, http.StatusBadRequest, "hospital_id is required")
		return
	}
	p, _ := auth.FromContext(r.Context())
	if !p.CanAccess(hospitalID) {
		jsonErr(w, http.StatusForbidden, "not authorized for hospital "+hospitalID)
		return
	}
	jsonResp(w, http.StatusOK, ListResponse{HospitalID: hospitalID, Alerts: h.svc.List(hospitalID)})
}

func (h *Handler) getAlert(w http.ResponseWriter, r *http.Request) {
	a, ok := h.authorized(w, r)
	if !ok {
		return
	}
	jsonResp(w, http.StatusOK, a)
}

func (h *Handler) acknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	var req AcknowledgeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	cur, ok := h.authorized(w, r)
	if !ok {
		return
	}
	if p, _ := auth.FromContext(r.Context()); p.Authenticated() {
		req.Responder, req.Role = p.Subject, p.Role
	}

	a, err := h.svc.Acknowledge(r.Context(), cur.ID, req.Responder, req.Role)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResp(w, http.StatusOK, a)
}

func (h *Handler) resolveAlert(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	cur, ok := h.authorized(w, r)
	if !ok {
		return
	}
	if p, _ := auth.FromContext(r.Context()); p.Authenticated() {
		req.Resolver = p.Subject
	}

	a, err := h.svc.Resolve(r.Context(), cur.ID, req.Resolver)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResp(w, http.StatusOK, a)
}

// --- helpers ----------------------------------------------------------------

// authorized loads the {id} alert and checks the caller may act on its
// hospital. On failure the response has been written.
func (h *Handler) authorized(w http.ResponseWriter, r *http.Request) (alert.Alert, bool) {
	a, err := h.svc.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return alert.Alert{}, false
	}
	p, _ := auth.FromContext(r.Context())
	if !p.CanAccess(a.HospitalID) {
		jsonErr(w, http.StatusForbidden, "not authorized for hospital "+a.HospitalID)
		return alert.Alert{}, false
	}
	return a, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.ContentLength == 0 {
		return true
	}
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		jsonErr(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// writeError maps an engine error to its status code.
func writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error(), Code: alert.CodeOf(err)}
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, alert.ErrValidation):
		code = http.StatusBadRequest
	case errors.Is(err, alert.ErrForbidden):
		code = http.StatusForbidden
	case errors.Is(err, alert.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, alert.ErrInvalidState):
		code = http.StatusConflict
	case errors.Is(err, alert.ErrPersistence):
		code = http.StatusServiceUnavailable
		resp.Retryable = true
		if a, ok := alert.Applied(err); ok {
			resp.Alert = &a
		}
	default:
		slog.Error("api: unexpected error", "err", err)
	}
	jsonResp(w, code, resp)
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

// instrument records request latency by route pattern.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RequestDuration.
			WithLabelValues("rest", route, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
	})
}
