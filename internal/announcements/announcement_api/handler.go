package announcement_api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"ms-eventchain/internal/announcements"
	"ms-eventchain/internal/apperr"
	"ms-eventchain/internal/auth"
	"ms-eventchain/internal/logger"
	"ms-eventchain/internal/models"
	"ms-eventchain/internal/utils"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	Announcements *announcements.Service
	Logger        *logger.Logger
}

// RegisterRoutes mounts the authenticated routes under /api/announcements.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.With(auth.RequireRoles(models.StaffRoles...)).Post("/", h.Create)
	r.Get("/events/{eventId}", h.ForEvent)
}

// RegisterPublicRoutes mounts under /api/announcements/public without auth.
func (h *Handler) RegisterPublicRoutes(r chi.Router) {
	r.Get("/", h.Public)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if apperr.KindOf(err) == apperr.KindInternal {
		h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))
	}
	utils.WriteError(w, err)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	var in models.AnnouncementInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		h.fail(w, "CreateAnnouncement", apperr.Validation("invalid request body"))
		return
	}
	a, err := h.Announcements.Create(r.Context(), actor, in)
	if err != nil {
		h.fail(w, "CreateAnnouncement", err)
		return
	}
	utils.WriteSuccess(w, http.StatusCreated, "announcement posted", a)
}

func (h *Handler) ForEvent(w http.ResponseWriter, r *http.Request) {
	list, err := h.Announcements.ForEvent(r.Context(), chi.URLParam(r, "eventId"))
	if err != nil {
		h.fail(w, "ListEventAnnouncements", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "announcements", list)
}

func (h *Handler) Public(w http.ResponseWriter, r *http.Request) {
	list, err := h.Announcements.Public(r.Context())
	if err != nil {
		h.fail(w, "ListPublicAnnouncements", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "announcements", list)
}
