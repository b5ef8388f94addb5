package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"worksuite.app/internal/auth"
	"worksuite.app/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
	authCookie = "auth_token"
)

// Authenticator resolves a raw token into a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (auth.Principal, error)
}

// AuthResult is the outcome of a guard check. A failed result carries the
// status and message to render.
type AuthResult struct {
	Valid     bool
	Principal auth.Principal
	Status    int
	Message   string
	Err       error
}

// WriteFailure renders a failed result as a JSON error response.
func (res AuthResult) WriteFailure(w http.ResponseWriter, r *http.Request) {
	if res.Status == http.StatusInternalServerError {
		obs.Logger().ErrorContext(r.Context(), "authentication error",
			"request_id", RequestIDFromContext(r), "error", res.Err)
	}
	writeError(w, r, res.Status, res.Message)
}

// Guard runs the authentication chain and role checks for protected routes.
type Guard struct {
	authn Authenticator
}

func NewGuard(a Authenticator) *Guard {
	return &Guard{authn: a}
}

// Check authenticates the request from its bearer token or auth cookie.
func (g *Guard) Check(r *http.Request) AuthResult {
	principal, err := g.authn.Authenticate(r.Context(), tokenFromRequest(r))
	if err == nil {
		return AuthResult{Valid: true, Principal: principal}
	}
	res := AuthResult{Status: http.StatusUnauthorized, Err: err}
	switch {
	case errors.Is(err, auth.ErrNoToken):
		res.Message = "no token"
		obs.ObserveRejection("no_token")
	case errors.Is(err, auth.ErrInvalidToken):
		res.Message = "invalid or expired token"
		obs.ObserveRejection("invalid_token")
	case errors.Is(err, auth.ErrSessionExpired):
		res.Message = "session expired"
		obs.ObserveRejection("session_expired")
	case errors.Is(err, auth.ErrAccountInactive):
		res.Message = "user not found or inactive"
		obs.ObserveRejection("account_inactive")
	default:
		res.Status = http.StatusInternalServerError
		res.Message = "authentication error"
	}
	return res
}

// CheckRoles is Check followed by a role allow-list check.
func (g *Guard) CheckRoles(r *http.Request, allowed auth.RoleSet) AuthResult {
	res := g.Check(r)
	if !res.Valid {
		return res
	}
	if err := auth.Authorize(res.Principal, allowed); err != nil {
		obs.ObserveRejection("forbidden")
		return AuthResult{Status: http.StatusForbidden, Message: "insufficient permissions", Err: err}
	}
	return res
}

// RequireAuth admits any authenticated principal.
func (g *Guard) RequireAuth(next http.Handler) http.Handler {
	return g.require(nil, next)
}

// RequireRoles admits principals whose role is in allowed.
func (g *Guard) RequireRoles(allowed auth.RoleSet, next http.Handler) http.Handler {
	return g.require(allowed, next)
}

func (g *Guard) RequireAdmin(next http.Handler) http.Handler {
	return g.require(auth.AdminOnly, next)
}

func (g *Guard) RequireAdminOrTeam(next http.Handler) http.Handler {
	return g.require(auth.AdminOrTeam, next)
}

func (g *Guard) require(allowed auth.RoleSet, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var res AuthResult
		if allowed == nil {
			res = g.Check(r)
		} else {
			res = g.CheckRoles(r, allowed)
		}
		if !res.Valid {
			res.WriteFailure(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), res.Principal)))
	})
}

// tokenFromRequest prefers the Authorization bearer token and falls back to
// the auth cookie.
func tokenFromRequest(r *http.Request) string {
	if token := bearerToken(r.Header.Get(authHeader)); token != "" {
		return token
	}
	if c, err := r.Cookie(authCookie); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return ""
	}
	return strings.TrimSpace(header[len(bearer):])
}
