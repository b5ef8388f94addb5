package httpapi

import (
	"net/http"

	"worksuite.app/internal/audit"
	"worksuite.app/internal/auth"
)

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	accounts, err := a.svc.ListAccounts(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	users := make([]userView, 0, len(accounts))
	for _, acct := range accounts {
		users = append(users, newUserView(acct))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"users":   users,
	})
}

func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	acct, err := a.svc.Account(r.Context(), PathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user":    newUserView(acct),
	})
}

func (a *API) handleDeactivateUser(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.RequirePrincipal(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	id := PathParam(r, "id")
	if err := a.svc.Deactivate(r.Context(), actor, id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "account.deactivated", map[string]any{"account_id": id})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
