package api

import (
	"net/http"

	"github.com/gatescope/gatescope/internal/auth"
	"github.com/gatescope/gatescope/internal/middleware"
)

type AuthHandler struct {
	service *auth.Service
}

func NewAuthHandler(service *auth.Service) *AuthHandler {
	return &AuthHandler{service: service}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil || body.Password == "" {
		badRequest(w, "password is required")
		return
	}

	session, err := h.service.Login(r.Context(), body.Password, middleware.ClientIP(r))
	if err != nil {
		respondErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"token":      session.Token,
		"expires_at": session.ExpiresAt,
	})
}

// Logout is a no-op; tokens simply expire.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	respondMessage(w, "logged out", nil)
}
