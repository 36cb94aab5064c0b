package ticket_api

import (
	"fmt"
	"net/http"

	"ms-eventchain/internal/apperr"
	"ms-eventchain/internal/auth"
	"ms-eventchain/internal/logger"
	"ms-eventchain/internal/models"
	"ms-eventchain/internal/tickets"
	"ms-eventchain/internal/utils"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	TicketService *tickets.TicketService
	Logger        *logger.Logger
}

func NewHandler(ticketService *tickets.TicketService, log *logger.Logger) *Handler {
	return &Handler{TicketService: ticketService, Logger: log}
}

// RegisterRoutes mounts under /api/tickets.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/me", h.ListMine)
	r.Get("/{ticketId}/qr", h.GetQRCode)
	r.With(auth.RequireRoles(models.AdminRoles...)).Get("/event/{eventId}", h.ListByEvent)
}

// RegisterAdminRoutes mounts under /api/admin.
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Use(auth.RequireRoles(models.AdminRoles...))
	r.Get("/mint-jobs", h.ListMintJobs)
	r.Post("/mint-jobs/{applicationId}/retry", h.RetryMintJob)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if apperr.KindOf(err) == apperr.KindInternal {
		h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))
	}
	utils.WriteError(w, err)
}

func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	list, err := h.TicketService.ListMine(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.fail(w, "ListMine", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "tickets", list)
}

func (h *Handler) ListByEvent(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	list, err := h.TicketService.ListByEvent(r.Context(), actor, chi.URLParam(r, "eventId"))
	if err != nil {
		h.fail(w, "ListByEvent", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "tickets", list)
}

func (h *Handler) GetQRCode(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	png, err := h.TicketService.QRCode(r.Context(), actor, chi.URLParam(r, "ticketId"))
	if err != nil {
		h.fail(w, "GetQRCode", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

func (h *Handler) ListMintJobs(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	status := models.MintJobStatus(r.URL.Query().Get("status"))
	jobs, err := h.TicketService.ListJobs(r.Context(), actor, status)
	if err != nil {
		h.fail(w, "ListMintJobs", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "mint jobs", jobs)
}

func (h *Handler) RetryMintJob(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	job, err := h.TicketService.RetryJob(r.Context(), actor, chi.URLParam(r, "applicationId"))
	if err != nil {
		h.fail(w, "RetryMintJob", err)
		return
	}
	utils.WriteSuccess(w, http.StatusAccepted, "mint job re-queued", job)
}
