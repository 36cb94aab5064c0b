package analytics_api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"ms-eventchain/internal/analytics"
	"ms-eventchain/internal/apperr"
	"ms-eventchain/internal/auth"
	"ms-eventchain/internal/logger"
	"ms-eventchain/internal/models"
	"ms-eventchain/internal/utils"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	Service *analytics.Service
	Logger  *logger.Logger
}

func NewHandler(service *analytics.Service, log *logger.Logger) *Handler {
	return &Handler{Service: service, Logger: log}
}

type BatchRequest struct {
	EventIDs []string `json:"eventIds"`
}

// RegisterEventRoutes mounts under /api/events.
func (h *Handler) RegisterEventRoutes(r chi.Router) {
	r.With(auth.RequireRoles(models.StaffRoles...)).Get("/{eventId}/analytics", h.GetEventAnalytics)
}

// RegisterRoutes mounts under /api/analytics.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.With(auth.RequireRoles(models.StaffRoles...)).Post("/events/batch", h.GetBatchEventAnalytics)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if apperr.KindOf(err) == apperr.KindInternal {
		h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))
	}
	utils.WriteError(w, err)
}

func (h *Handler) GetEventAnalytics(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	snap, err := h.Service.GetEventAnalytics(r.Context(), actor, chi.URLParam(r, "eventId"))
	if err != nil {
		h.fail(w, "GetEventAnalytics", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "event analytics", snap)
}

func (h *Handler) GetBatchEventAnalytics(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, apperr.Validation("invalid request body"))
		return
	}
	list, err := h.Service.GetBatchEventAnalytics(r.Context(), actor, req.EventIDs)
	if err != nil {
		h.fail(w, "GetBatchEventAnalytics", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "event analytics", list)
}
