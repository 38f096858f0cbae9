/**
 * @description
 * HTTP handlers for the meal-mitra API. Handlers resolve the caller's principal,
 * decode the request, call the donation service and map its error kinds to
 * status codes with a machine-readable `code` field.
 *
 * @dependencies
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pankajsagvekar/meal-mitra/internal/app"
	"github.com/pankajsagvekar/meal-mitra/internal/domain"
	"github.com/pankajsagvekar/meal-mitra/internal/store"
)

const maxRequestBodyBytes = 1 << 20

// Handlers holds the application service that handlers will use.
type Handlers struct {
	service *app.Service
}

// NewHandlers creates a new instance of Handlers.
func NewHandlers(service *app.Service) *Handlers {
	return &Handlers{service: service}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeJSON is a helper for writing JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

// writeServiceError maps lifecycle errors onto HTTP responses.
func writeServiceError(w http.ResponseWriter, endpoint string, err error) {
	var limitErr *app.RateLimitError
	switch {
	case errors.As(err, &limitErr):
		w.Header().Set("Retry-After", strconv.Itoa(limitErr.RetryAfterSeconds))
		writeError(w, http.StatusTooManyRequests, "rate_limited", "Too many attempts. Please wait and try again.")
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Donation not found")
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, app.ErrInvalidState):
		writeError(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, app.ErrCodeMismatch):
		writeError(w, http.StatusUnprocessableEntity, "code_mismatch", "Handover code does not match")
	case errors.Is(err, app.ErrCodeExpired):
		writeError(w, http.StatusGone, "code_expired", "Handover code expired; the donation is available again")
	case errors.Is(err, app.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	default:
		log.Printf("level=error component=api endpoint=%s msg=\"request failed\" err=%v", endpoint, err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}

// principal loads the caller's current record so verification status is never stale.
func (h *Handlers) principal(w http.ResponseWriter, r *http.Request, endpoint string) (*domain.Principal, bool) {
	session, ok := GetSession(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Could not get session from context")
		return nil, false
	}
	p, err := h.service.ResolvePrincipal(r.Context(), session.Kind, session.PrincipalID)
	if err != nil {
		if errors.Is(err, store.ErrPrincipalNotFound) {
			log.Printf("level=warn component=api endpoint=%s outcome=reject reason=principal_not_found principal_id=%s kind=%s", endpoint, session.PrincipalID, session.Kind)
			writeError(w, http.StatusUnauthorized, "unauthorized", "Principal not found")
			return nil, false
		}
		log.Printf("level=error component=api endpoint=%s msg=\"principal lookup failed\" err=%v", endpoint, err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
		return nil, false
	}
	return p, true
}

func donationIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid donation ID format")
		return uuid.Nil, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return false
	}
	return true
}

// CreateDonationHandler lists new surplus food from free text.
func (h *Handlers) CreateDonationHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r, "create_donation")
	if !ok {
		return
	}
	var req domain.CreateDonationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := h.service.CreateDonation(r.Context(), p, req)
	if err != nil {
		writeServiceError(w, "create_donation", err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// ListDonationsHandler returns the claimable index visible to the caller.
func (h *Handlers) ListDonationsHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r, "list_donations")
	if !ok {
		return
	}
	donations, err := h.service.ListAvailable(r.Context(), p)
	if err != nil {
		writeServiceError(w, "list_donations", err)
		return
	}
	writeJSON(w, http.StatusOK, donations)
}

func (h *Handlers) GetDonationHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r, "get_donation")
	if !ok {
		return
	}
	id, ok := donationIDParam(w, r)
	if !ok {
		return
	}
	d, err := h.service.GetDonation(r.Context(), p, id)
	if err != nil {
		writeServiceError(w, "get_donation", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handlers) UpdateDonationHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r, "update_donation")
	if !ok {
		return
	}
	id, ok := donationIDParam(w, r)
	if !ok {
		return
	}
	var req domain.UpdateDonationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	d, err := h.service.UpdateDonation(r.Context(), p, id, req)
	if err != nil {
		writeServiceError(w, "update_donation", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// ClaimDonationHandler takes a listing and returns the handover code to the claimant.
func (h *Handlers) ClaimDonationHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r, "claim_donation")
	if !ok {
		return
	}
	id, ok := donationIDParam(w, r)
	if !ok {
		return
	}
	result, err := h.service.ClaimDonation(r.Context(), p, id)
	if err != nil {
		log.Printf("level=info component=api endpoint=claim_donation outcome=reject donation_id=%s principal_id=%s err=%v", id, p.ID, err)
		writeServiceError(w, "claim_donation", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// VerifyHandoverHandler is called by the donor with the claimant's code.
func (h *Handlers) VerifyHandoverHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r, "verify_handover")
	if !ok {
		return
	}
	id, ok := donationIDParam(w, r)
	if !ok {
		return
	}
	var req domain.VerifyHandoverRequest
	if !decodeBody(w, r, &req) {
		return
	}
	d, err := h.service.VerifyHandover(r.Context(), p, id, req.Code)
	if err != nil {
		writeServiceError(w, "verify_handover", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handlers) MyDonationsHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r, "my_donations")
	if !ok {
		return
	}
	donations, err := h.service.ListMyDonations(r.Context(), p)
	if err != nil {
		writeServiceError(w, "my_donations", err)
		return
	}
	writeJSON(w, http.StatusOK, donations)
}

func (h *Handlers) DashboardHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r, "dashboard")
	if !ok {
		return
	}
	dashboard, err := h.service.Dashboard(r.Context(), p)
	if err != nil {
		writeServiceError(w, "dashboard", err)
		return
	}
	writeJSON(w, http.StatusOK, dashboard)
}

func (h *Handlers) BadgesHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r, "badges")
	if !ok {
		return
	}
	views, err := h.service.BadgeViews(r.Context(), p)
	if err != nil {
		writeServiceError(w, "badges", err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handlers) AchievementsHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r, "achievements")
	if !ok {
		return
	}
	progress, err := h.service.AchievementProgress(r.Context(), p)
	if err != nil {
		writeServiceError(w, "achievements", err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

// CertificateHandler streams the donor's impact certificate as a PDF.
func (h *Handlers) CertificateHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r, "certificate")
	if !ok {
		return
	}
	pdf, err := h.service.ImpactCertificate(r.Context(), p)
	if err != nil {
		writeServiceError(w, "certificate", err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"mealmitra-impact-%s.pdf\"", p.ID))
	w.WriteHeader(http.StatusOK)
	w.Write(pdf)
}

func (h *Handlers) AdminListDonationsHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r, "admin_list_donations")
	if !ok {
		return
	}
	donations, err := h.service.AdminListDonations(r.Context(), p)
	if err != nil {
		writeServiceError(w, "admin_list_donations", err)
		return
	}
	writeJSON(w, http.StatusOK, donations)
}

func (h *Handlers) AdminDeleteDonationHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r, "admin_delete_donation")
	if !ok {
		return
	}
	id, ok := donationIDParam(w, r)
	if !ok {
		return
	}
	if err := h.service.AdminDeleteDonation(r.Context(), p, id); err != nil {
		writeServiceError(w, "admin_delete_donation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
