// internal/auth/handler.go
package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"familymiles/internal/httpjson"
)

type Handler struct {
	auth *Authenticator
}

func NewHandler(a *Authenticator) *Handler {
	return &Handler{auth: a}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/login", h.handleLogin)
}

// LoginResponse carries the issued token. Token is empty when
// authentication is disabled.
type LoginResponse struct {
	Token     string     `json:"token"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := httpjson.Decode(r, &req); err != nil {
		httpjson.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	token, expires, err := h.auth.Login(req.Password)
	switch {
	case errors.Is(err, ErrRateLimited):
		httpjson.Error(w, http.StatusTooManyRequests, err.Error())
		return
	case errors.Is(err, ErrInvalidCode):
		httpjson.Error(w, http.StatusUnauthorized, "Senha incorreta")
		return
	case err != nil:
		httpjson.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := LoginResponse{Token: token}
	if !expires.IsZero() {
		resp.ExpiresAt = &expires
	}
	httpjson.JSON(w, http.StatusOK, resp)
}

func unauthorized(w http.ResponseWriter) {
	httpjson.Error(w, http.StatusUnauthorized, "authentication required")
}
