package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/servicehub/backend/internal/middleware"
	"github.com/servicehub/backend/internal/models"
	"github.com/servicehub/backend/internal/services"
)

type AppointmentService interface {
	Book(ctx context.Context, req services.BookingRequest) (*models.Appointment, error)
	Get(ctx context.Context, appointmentID, actorID string) (*models.Appointment, error)
	Transition(ctx context.Context, appointmentID string, target models.AppointmentStatus, actorID, actorRole, reason string) (*models.Appointment, error)
	PayWithWallet(ctx context.Context, appointmentID, payerID string) (*services.PaymentResult, error)
	PayWithCard(ctx context.Context, appointmentID, payerID, externalPaymentID string) (*services.PaymentResult, error)
}

type AppointmentHandler struct {
	service   AppointmentService
	validator *services.ValidationHelper
}

func NewAppointmentHandler(service AppointmentService) *AppointmentHandler {
	return &AppointmentHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

type TransitionRequest struct {
	Status string `json:"status" validate:"required"`
	Reason string `json:"reason" validate:"max=500"`
}

type CardPaymentRequest struct {
	PaymentID string `json:"payment_id" validate:"required,max=255"`
}

// Book requests a provider's time slot
// @Summary Book appointment
// @Tags Appointments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.BookingRequest true "Booking request"
// @Success 201 {object} Envelope{data=models.Appointment}
// @Failure 400 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /appointments [post]
func (h *AppointmentHandler) Book(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req services.BookingRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}
	req.CustomerID = userID

	appt, err := h.service.Book(r.Context(), req)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, appt)
}

// Get returns an appointment to one of its parties
// @Summary Get appointment
// @Tags Appointments
// @Produce json
// @Security BearerAuth
// @Param id path string true "Appointment ID"
// @Success 200 {object} Envelope{data=models.Appointment}
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /appointments/{id} [get]
func (h *AppointmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	appt, err := h.service.Get(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// Transition moves an appointment through its lifecycle
// @Summary Transition appointment
// @Description Request a status change. The caller's role claim must match their side of the appointment.
// @Tags Appointments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Appointment ID"
// @Param request body TransitionRequest true "Target status"
// @Success 200 {object} Envelope{data=models.Appointment}
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /appointments/{id}/transition [post]
func (h *AppointmentHandler) Transition(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req TransitionRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	appt, err := h.service.Transition(r.Context(), chi.URLParam(r, "id"),
		models.AppointmentStatus(req.Status), userID, middleware.GetRole(r.Context()), req.Reason)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// PayWithWallet pays an appointment from the customer's wallet
// @Summary Pay appointment from wallet
// @Tags Appointments
// @Produce json
// @Security BearerAuth
// @Param id path string true "Appointment ID"
// @Success 200 {object} Envelope{data=services.PaymentResult}
// @Failure 403 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /appointments/{id}/pay/wallet [post]
func (h *AppointmentHandler) PayWithWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	result, err := h.service.PayWithWallet(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// PayWithCard applies a confirmed card payment to an appointment
// @Summary Pay appointment by card
// @Tags Appointments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Appointment ID"
// @Param request body CardPaymentRequest true "Processor payment"
// @Success 200 {object} Envelope{data=services.PaymentResult}
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Failure 502 {object} services.ErrorResponse
// @Router /appointments/{id}/pay/card [post]
func (h *AppointmentHandler) PayWithCard(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req CardPaymentRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	result, err := h.service.PayWithCard(r.Context(), chi.URLParam(r, "id"), userID, req.PaymentID)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
