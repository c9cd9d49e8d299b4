package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/gatescope/gatescope/internal/topup"
)

type TopUpHandler struct {
	service *topup.Service
}

func NewTopUpHandler(service *topup.Service) *TopUpHandler {
	return &TopUpHandler{service: service}
}

func (h *TopUpHandler) List(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 20)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 20
	}

	records, total, err := h.service.List(r.Context(), page, pageSize,
		queryString(r, "status", ""), queryInt64(r, "user_id", 0))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, map[string]interface{}{
		"records":   records,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

func (h *TopUpHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.Statistics(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, out)
}

func (h *TopUpHandler) Refund(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		badRequest(w, "id must be a positive integer")
		return
	}
	out, err := h.service.Refund(r.Context(), id)
	if errors.Is(err, topup.ErrAlreadyRefunded) {
		// Refunds are idempotent at the API level: repeating one is a 200.
		respondMessage(w, "already refunded", out)
		return
	}
	if err != nil {
		respondErr(w, err)
		return
	}
	respondMessage(w, "refund applied", out)
}
