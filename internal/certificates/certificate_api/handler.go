package certificate_api

import (
	"fmt"
	"net/http"

	"ms-eventchain/internal/apperr"
	"ms-eventchain/internal/auth"
	"ms-eventchain/internal/certificates"
	"ms-eventchain/internal/logger"
	"ms-eventchain/internal/utils"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	Certificates *certificates.Service
	Logger       *logger.Logger
}

type VerifyResponse struct {
	CertificateID string `json:"certificateId"`
	Valid         bool   `json:"valid"`
}

// RegisterRoutes mounts the authenticated routes under /api/certificates.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/ticket/{ticketId}", h.Issue)
	r.Get("/ticket/{ticketId}/download", h.Download)
}

// RegisterPublicRoutes mounts under /api/certificates/verify without auth.
func (h *Handler) RegisterPublicRoutes(r chi.Router) {
	r.Get("/{certificateId}", h.Verify)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if apperr.KindOf(err) == apperr.KindInternal {
		h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))
	}
	utils.WriteError(w, err)
}

func (h *Handler) Issue(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	cert, err := h.Certificates.Issue(r.Context(), actor, chi.URLParam(r, "ticketId"))
	if err != nil {
		h.fail(w, "IssueCertificate", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "certificate issued", cert)
}

func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	cert, pdf, err := h.Certificates.Download(r.Context(), actor, chi.URLParam(r, "ticketId"))
	if err != nil {
		h.fail(w, "DownloadCertificate", err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", cert.ID+".pdf"))
	w.WriteHeader(http.StatusOK)
	w.Write(pdf)
}

func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "certificateId")
	valid, err := h.Certificates.Verify(r.Context(), id)
	if err != nil {
		h.fail(w, "VerifyCertificate", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "verification result", VerifyResponse{CertificateID: id, Valid: valid})
}
