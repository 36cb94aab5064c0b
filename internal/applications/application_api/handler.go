package application_api

import (
	"fmt"
	"net/http"

	"ms-eventchain/internal/applications"
	"ms-eventchain/internal/apperr"
	"ms-eventchain/internal/auth"
	"ms-eventchain/internal/logger"
	"ms-eventchain/internal/models"
	"ms-eventchain/internal/utils"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	ApplicationService *applications.Service
	Logger             *logger.Logger
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/events/{eventId}/apply", h.Apply)
	r.Get("/me", h.ListMine)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireRoles(models.AdminRoles...))
		r.Get("/events/{eventId}", h.ListByEvent)
		r.Post("/{applicationId}/reject", h.Reject)
	})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if apperr.KindOf(err) == apperr.KindInternal {
		h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))
	}
	utils.WriteError(w, err)
}

func (h *Handler) Apply(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	app, err := h.ApplicationService.Apply(r.Context(), actor, chi.URLParam(r, "eventId"))
	if err != nil {
		h.fail(w, "Apply", err)
		return
	}
	utils.WriteSuccess(w, http.StatusCreated, "application submitted", app)
}

func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	apps, err := h.ApplicationService.ListByUser(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.fail(w, "ListMine", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "applications", apps)
}

func (h *Handler) ListByEvent(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	apps, err := h.ApplicationService.ListByEvent(r.Context(), actor, chi.URLParam(r, "eventId"))
	if err != nil {
		h.fail(w, "ListByEvent", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "applications", apps)
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	app, err := h.ApplicationService.Reject(r.Context(), actor, chi.URLParam(r, "applicationId"))
	if err != nil {
		h.fail(w, "Reject", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "application rejected", app)
}
