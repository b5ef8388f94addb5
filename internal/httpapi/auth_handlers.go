package httpapi

import (
	"net/http"
	"strings"
	"time"

	"worksuite.app/internal/audit"
	"worksuite.app/internal/auth"
)

type registerRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Password  string `json:"password,omitempty"`
	Role      string `json:"role,omitempty"`
	ClientID  string `json:"clientId,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type magicLinkRequest struct {
	Email string `json:"email"`
}

type verifyMagicLinkRequest struct {
	Token string `json:"token"`
}

type userView struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	FirstName string     `json:"firstName"`
	LastName  string     `json:"lastName"`
	Role      auth.Role  `json:"role"`
	ClientID  string     `json:"clientId,omitempty"`
	Active    bool       `json:"active"`
	LastLogin *time.Time `json:"lastLogin,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

func newUserView(a *auth.Account) userView {
	return userView{
		ID:        a.ID,
		Email:     a.Email,
		FirstName: a.FirstName,
		LastName:  a.LastName,
		Role:      a.Role,
		ClientID:  a.ClientID,
		Active:    a.Active,
		LastLogin: a.LastLogin,
		CreatedAt: a.CreatedAt,
	}
}

type sessionResponse struct {
	Success   bool      `json:"success"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      userView  `json:"user"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}

	var role auth.Role
	if strings.TrimSpace(req.Role) != "" {
		parsed, ok := auth.ParseRole(req.Role)
		if !ok {
			writeError(w, r, http.StatusBadRequest, "unknown role")
			return
		}
		role = parsed
	}
	clientID := strings.TrimSpace(req.ClientID)
	if (role != "" && role != auth.RoleClient) || clientID != "" {
		// Privileged fields are only honoured for an authenticated admin.
		res := a.guard.CheckRoles(r, auth.AdminOnly)
		if !res.Valid {
			res.WriteFailure(w, r)
			return
		}
		r = r.WithContext(auth.WithPrincipal(r.Context(), res.Principal))
	}

	acct, err := a.svc.Register(r.Context(), auth.RegisterInput{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Password:  req.Password,
		Role:      role,
		ClientID:  clientID,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.registered", map[string]any{
		"account_id": acct.ID,
		"role":       acct.Role.String(),
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"userId":  acct.ID,
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	res, err := a.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"account_id": res.Account.ID,
		"method":     "password",
	})
	a.writeSession(w, res)
}

func (a *API) handleMagicLink(w http.ResponseWriter, r *http.Request) {
	var req magicLinkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	if err := a.svc.RequestMagicLink(r.Context(), req.Email); err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.magic_link.requested", nil)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) handleVerifyMagicLink(w http.ResponseWriter, r *http.Request) {
	var req verifyMagicLinkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	res, err := a.svc.VerifyMagicLink(r.Context(), req.Token)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"account_id": res.Account.ID,
		"method":     "magic_link",
	})
	a.writeSession(w, res)
}

// handleLogout always succeeds. Session cleanup is best-effort.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	revoked := a.svc.Logout(r.Context(), tokenFromRequest(r))
	_ = audit.LogEvent(r.Context(), "auth.logout", map[string]any{"session_revoked": revoked})
	clearAuthCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	p, err := auth.RequirePrincipal(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	acct, err := a.svc.Account(r.Context(), p.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user":    newUserView(acct),
	})
}

func (a *API) writeSession(w http.ResponseWriter, res auth.LoginResult) {
	setAuthCookie(w, res.Token, int(a.svc.SessionTTL()/time.Second))
	writeJSON(w, http.StatusOK, sessionResponse{
		Success:   true,
		Token:     res.Token,
		ExpiresAt: res.ExpiresAt,
		User:      newUserView(res.Account),
	})
}

func setAuthCookie(w http.ResponseWriter, token string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     authCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

// clearAuthCookie emits Max-Age=0 so browsers drop the cookie.
func clearAuthCookie(w http.ResponseWriter) {
	setAuthCookie(w, "", -1)
}
