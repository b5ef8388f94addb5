// Package httpapi exposes the auth service over HTTP and gRPC health.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"worksuite.app/internal/auth"
	"worksuite.app/internal/obs"
)

const serviceName = "worksuite-api"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Pinger is implemented by session stores that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe pings the database and the session store when configured.
type ReadyProbe struct {
	DB       *sql.DB
	Sessions Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Sessions != nil {
		if err := rp.Sessions.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// API is the HTTP layer.
type API struct {
	svc     *auth.Service
	guard   *Guard
	router  *Router
	ready   readinessChecker
	version string

	ratePerSec float64
	rateBurst  int
	maxBody    int64
	trusted    []netip.Prefix
}

// Option configures API.
type Option func(*API)

// WithRateLimit sets the per-IP limit applied to credential endpoints.
// A non-positive rate disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(a *API) {
		a.ratePerSec = perSecond
		a.rateBurst = burst
	}
}

func WithMaxBodyBytes(n int64) Option {
	return func(a *API) { a.maxBody = n }
}

// WithTrustedProxies lists the peers whose X-Forwarded-For header is used to
// key the rate limiter. Without it the peer address is always used.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(a *API) { a.trusted = prefixes }
}

func New(svc *auth.Service, rp readinessChecker, version string, opts ...Option) *API {
	a := &API{
		svc:        svc,
		guard:      NewGuard(svc),
		router:     NewRouter(),
		ready:      rp,
		version:    version,
		ratePerSec: 20,
		rateBurst:  40,
		maxBody:    1 << 20,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.ready == nil {
		a.ready = ReadyProbe{}
	}

	limited := func(h http.HandlerFunc) http.Handler { return h }
	if a.ratePerSec > 0 {
		limiter := newIPLimiter(a.ratePerSec, a.rateBurst)
		limiter.trusted = a.trusted
		limited = func(h http.HandlerFunc) http.Handler { return limiter.wrap(h) }
	}

	rt := a.router
	rt.HandleFunc(http.MethodGet, "/healthz", a.Healthz)
	rt.HandleFunc(http.MethodGet, "/readyz", a.Ready)
	rt.Handle(http.MethodGet, "/metrics", obs.Handler())

	rt.Handle(http.MethodPost, "/api/auth/register", limited(a.handleRegister))
	rt.Handle(http.MethodPost, "/api/auth/login", limited(a.handleLogin))
	rt.Handle(http.MethodPost, "/api/auth/magic-link", limited(a.handleMagicLink))
	rt.Handle(http.MethodPost, "/api/auth/verify-magic-link", limited(a.handleVerifyMagicLink))
	rt.HandleFunc(http.MethodPost, "/api/auth/logout", a.handleLogout)
	rt.Handle(http.MethodGet, "/api/auth/me", a.guard.RequireAuth(http.HandlerFunc(a.handleMe)))

	rt.Handle(http.MethodGet, "/api/users", a.guard.RequireAdminOrTeam(http.HandlerFunc(a.handleListUsers)))
	rt.Handle(http.MethodGet, "/api/users/:id", a.guard.RequireAdminOrTeam(http.HandlerFunc(a.handleGetUser)))
	rt.Handle(http.MethodPost, "/api/users/:id/deactivate", a.guard.RequireAdmin(http.HandlerFunc(a.handleDeactivateUser)))

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	h = MaxBodyBytes(h, a.maxBody)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// Guard exposes the access-control checks for handlers mounted elsewhere.
func (a *API) Guard() *Guard { return a.guard }

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.ready.Check(ctx); err != nil {
		obs.SetReady(false)
		obs.Logger().WarnContext(r.Context(), "readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"success": false,
		"error":   msg,
	}
	if rid := RequestIDFromContext(r); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// writeServiceError maps auth errors onto the HTTP taxonomy. Anything
// unrecognised is logged and reported as a generic 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, detail(err, auth.ErrInvalidInput))
	case errors.Is(err, auth.ErrUnauthenticated):
		writeError(w, r, http.StatusUnauthorized, detail(err, auth.ErrUnauthenticated))
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "insufficient permissions")
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, "email already registered")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	default:
		obs.Logger().ErrorContext(r.Context(), "request failed",
			"request_id", RequestIDFromContext(r),
			"path", r.URL.Path,
			"error", err,
		)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// detail strips the sentinel prefix from err so only the reason is shown.
func detail(err, base error) string {
	msg := strings.TrimPrefix(err.Error(), base.Error())
	msg = strings.TrimPrefix(msg, ": ")
	if msg == "" {
		return base.Error()
	}
	return msg
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func writeDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
}
