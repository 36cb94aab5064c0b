package lottery_api

import (
	"fmt"
	"net/http"
	"strconv"

	"ms-eventchain/internal/apperr"
	"ms-eventchain/internal/auth"
	"ms-eventchain/internal/logger"
	"ms-eventchain/internal/lottery"
	"ms-eventchain/internal/models"
	"ms-eventchain/internal/utils"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	LotteryService *lottery.Service
	Logger         *logger.Logger
}

// RegisterRoutes mounts under /api/events.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.With(auth.RequireRoles(models.AdminRoles...)).Post("/{eventId}/lottery/trigger", h.Trigger)
}

func (h *Handler) Trigger(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	eventID := chi.URLParam(r, "eventId")

	force := false
	if raw := r.URL.Query().Get("force"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			utils.WriteError(w, apperr.Validation("force must be a boolean"))
			return
		}
		force = parsed
	}

	result, err := h.LotteryService.Trigger(r.Context(), actor, eventID, force)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			h.Logger.Error("API", fmt.Sprintf("Trigger lottery %s: %v", eventID, err))
		}
		utils.WriteError(w, err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "lottery drawn", result)
}
