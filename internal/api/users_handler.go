package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/gatescope/gatescope/internal/accounts"
)

type UsersHandler struct {
	service *accounts.Service
}

func NewUsersHandler(service *accounts.Service) *UsersHandler {
	return &UsersHandler{service: service}
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	return id, err == nil && id > 0
}

func (h *UsersHandler) Detail(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "user_id")
	if !ok {
		badRequest(w, "user_id must be a positive integer")
		return
	}
	out, err := h.service.User(r.Context(), id)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, out)
}

func (h *UsersHandler) Ban(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "user_id")
	if !ok {
		badRequest(w, "user_id must be a positive integer")
		return
	}
	var body struct {
		Reason        string `json:"reason"`
		DisableTokens bool   `json:"disable_tokens"`
	}
	_ = decodeBody(r, &body)

	if err := h.service.BanUser(r.Context(), id, body.Reason, "admin", body.DisableTokens); err != nil {
		respondErr(w, err)
		return
	}
	respondMessage(w, "user banned", nil)
}

func (h *UsersHandler) Unban(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "user_id")
	if !ok {
		badRequest(w, "user_id must be a positive integer")
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	_ = decodeBody(r, &body)

	if err := h.service.UnbanUser(r.Context(), id, body.Reason, "admin"); err != nil {
		respondErr(w, err)
		return
	}
	respondMessage(w, "user unbanned", nil)
}

func (h *UsersHandler) Tokens(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "user_id")
	if !ok {
		badRequest(w, "user_id must be a positive integer")
		return
	}
	tokens, err := h.service.UserTokens(r.Context(), id)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, map[string]interface{}{"tokens": tokens, "total": len(tokens)})
}

func (h *UsersHandler) DisableToken(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "token_id")
	if !ok {
		badRequest(w, "token_id must be a positive integer")
		return
	}
	if err := h.service.DisableToken(r.Context(), id); err != nil {
		respondErr(w, err)
		return
	}
	respondMessage(w, "token disabled", nil)
}

func (h *UsersHandler) DeleteToken(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "token_id")
	if !ok {
		badRequest(w, "token_id must be a positive integer")
		return
	}
	if err := h.service.DeleteToken(r.Context(), id); err != nil {
		respondErr(w, err)
		return
	}
	respondMessage(w, "token deleted", nil)
}
