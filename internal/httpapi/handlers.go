package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"fieldreport.org/internal/auth"
	"fieldreport.org/internal/sheet"
)

const serviceName = "fieldreport-api"

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.deps.Version,
	})
}

func (a *API) readyz(w http.ResponseWriter, r *http.Request) {
	if a.deps.Ready != nil {
		if err := a.deps.Ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.deps.Version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// respondDomainError maps domain sentinels to HTTP statuses. The message
// stays generic for credential failures.
func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrLocked):
		// The auth layer wraps ErrLocked with the retry-in hint; pass it
		// through without the package prefix.
		respondError(w, http.StatusLocked, strings.TrimPrefix(err.Error(), "auth: "))
	case errors.Is(err, auth.ErrInvalidCredentials):
		respondError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrInvalidToken):
		respondError(w, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, auth.ErrWeakPassword):
		respondError(w, http.StatusBadRequest, "password too weak: need 8+ characters with letters and digits")
	case errors.Is(err, auth.ErrUnauthorized):
		respondError(w, http.StatusForbidden, "not allowed")
	case errors.Is(err, auth.ErrNotFound), errors.Is(err, sheet.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, sheet.ErrQuota):
		respondError(w, http.StatusServiceUnavailable, "upstream quota exhausted, retry later")
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}
