package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/gatescope/gatescope/internal/redemption"
)

type RedemptionHandler struct {
	service *redemption.Service
}

func NewRedemptionHandler(service *redemption.Service) *RedemptionHandler {
	return &RedemptionHandler{service: service}
}

func (h *RedemptionHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req redemption.GenerateRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid body")
		return
	}
	out, err := h.service.Generate(r.Context(), req)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondMessage(w, "codes generated", out)
}

func (h *RedemptionHandler) List(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 20)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 20
	}

	codes, total, err := h.service.List(r.Context(), page, pageSize, queryString(r, "search", ""))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, map[string]interface{}{
		"codes":     codes,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

func (h *RedemptionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		badRequest(w, "id must be a positive integer")
		return
	}
	removed, err := h.service.Delete(r.Context(), id)
	if err != nil {
		respondErr(w, err)
		return
	}
	if !removed {
		respondError(w, http.StatusNotFound, codeNotFound, "redemption code not found", "")
		return
	}
	respondMessage(w, "redemption code deleted", nil)
}

func (h *RedemptionHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.Statistics(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, out)
}
