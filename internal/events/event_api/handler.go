package event_api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"ms-eventchain/internal/apperr"
	"ms-eventchain/internal/auth"
	"ms-eventchain/internal/events"
	"ms-eventchain/internal/logger"
	"ms-eventchain/internal/models"
	"ms-eventchain/internal/utils"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	EventService *events.Service
	Logger       *logger.Logger
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.ListEvents)
	r.Get("/{eventId}", h.GetEvent)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireRoles(models.AdminRoles...))
		r.Post("/", h.CreateEvent)
		r.Put("/{eventId}", h.UpdateEvent)
		r.Post("/{eventId}/publish", h.PublishEvent)
		r.Post("/{eventId}/close", h.CloseEvent)
	})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if apperr.KindOf(err) == apperr.KindInternal {
		h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))
	} else {
		h.Logger.Debug("API", fmt.Sprintf("%s: %v", op, err))
	}
	utils.WriteError(w, err)
}

func decodeInput(r *http.Request) (models.EventInput, error) {
	var in models.EventInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		return in, apperr.Validation("invalid request body")
	}
	return in, nil
}

func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("size"))

	result, err := h.EventService.List(r.Context(), models.EventStatus(q.Get("status")), page, size)
	if err != nil {
		h.fail(w, "ListEvents", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "events", result)
}

func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.EventService.Get(r.Context(), chi.URLParam(r, "eventId"))
	if err != nil {
		h.fail(w, "GetEvent", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "event", event)
}

func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	in, err := decodeInput(r)
	if err != nil {
		h.fail(w, "CreateEvent", err)
		return
	}

	event, err := h.EventService.Create(r.Context(), actor, in)
	if err != nil {
		h.fail(w, "CreateEvent", err)
		return
	}
	utils.WriteSuccess(w, http.StatusCreated, "event created", event)
}

func (h *Handler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	in, err := decodeInput(r)
	if err != nil {
		h.fail(w, "UpdateEvent", err)
		return
	}

	event, err := h.EventService.Update(r.Context(), actor, chi.URLParam(r, "eventId"), in)
	if err != nil {
		h.fail(w, "UpdateEvent", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "event updated", event)
}

func (h *Handler) PublishEvent(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	event, err := h.EventService.Publish(r.Context(), actor, chi.URLParam(r, "eventId"))
	if err != nil {
		h.fail(w, "PublishEvent", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "event published", event)
}

func (h *Handler) CloseEvent(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	event, err := h.EventService.Close(r.Context(), actor, chi.URLParam(r, "eventId"))
	if err != nil {
		h.fail(w, "CloseEvent", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "event closed", event)
}
