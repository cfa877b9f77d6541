package httpapi

import (
	"net/http"

	"fieldreport.org/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}

type loginResponse struct {
	AccessToken   string `json:"access_token"`
	RememberToken string `json:"remember_token,omitempty"`
	Name          string `json:"name"`
	Role          string `json:"role"`
	Dept          string `json:"dept"`
	ForceChange   bool   `json:"force_change,omitempty"`
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := a.deps.Auth.Login(r.Context(), req.Email, req.Password, req.Remember)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken:   res.AccessToken,
		RememberToken: res.RememberToken,
		Name:          res.Identity.Name,
		Role:          res.Identity.Role,
		Dept:          res.Identity.Dept,
		ForceChange:   res.Identity.ForceChange,
	})
}

func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	var req struct {
		RememberToken string `json:"remember_token"`
	}
	_ = decodeJSON(r, &req)
	if err := a.deps.Auth.Logout(r.Context(), id.Email, req.RememberToken); err != nil {
		respondDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

// refresh exchanges a valid credential for a fresh short-lived token.
func (a *API) refresh(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	token, err := a.deps.Signer.Sign(id, a.deps.Auth.AccessTTL())
	if err != nil {
		respondDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"access_token": token})
}

func (a *API) changePassword(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	var req struct {
		Current string `json:"current"`
		Next    string `json:"next"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := a.deps.Auth.ChangePassword(r.Context(), id.Email, req.Current, req.Next); err != nil {
		respondDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "changed"})
}

func (a *API) requestOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := a.deps.Auth.RequestOTP(r.Context(), req.Email); err != nil {
		respondDomainError(w, err)
		return
	}
	// Identical response whether or not the account exists.
	writeJSON(w, http.StatusOK, map[string]any{"status": "sent"})
}

func (a *API) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Code  string `json:"code"`
		Next  string `json:"next"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := a.deps.Auth.ResetPassword(r.Context(), req.Email, req.Code, req.Next); err != nil {
		respondDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "reset"})
}
