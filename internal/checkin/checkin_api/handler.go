package checkin_api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"ms-eventchain/internal/apperr"
	"ms-eventchain/internal/auth"
	"ms-eventchain/internal/checkin"
	"ms-eventchain/internal/logger"
	"ms-eventchain/internal/models"
	"ms-eventchain/internal/utils"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	CheckIn *checkin.Service
	Logger  *logger.Logger
}

type ScanRequest struct {
	Code string `json:"code"`
}

// RegisterRoutes mounts under /api/checkin.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireRoles(models.StaffRoles...))
		r.Post("/events/{eventId}/tickets/{tokenId}", h.ByToken)
		r.Post("/scan", h.Scan)
	})
}

func (h *Handler) ByToken(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	eventID := chi.URLParam(r, "eventId")
	tokenID, err := strconv.ParseInt(chi.URLParam(r, "tokenId"), 10, 64)
	if err != nil {
		utils.WriteError(w, apperr.Validation("tokenId must be an integer"))
		return
	}

	ticket, err := h.CheckIn.CheckIn(r.Context(), actor, eventID, tokenID)
	h.respond(w, ticket, err)
}

func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		utils.WriteError(w, apperr.Validation("code is required"))
		return
	}

	ticket, err := h.CheckIn.Scan(r.Context(), actor, req.Code)
	h.respond(w, ticket, err)
}

func (h *Handler) respond(w http.ResponseWriter, ticket *models.Ticket, err error) {
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			h.Logger.Error("API", fmt.Sprintf("Check-in failed: %v", err))
		}
		utils.WriteError(w, err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "checked in", ticket)
}
