package handlers

import (
	"context"
	"net/http"

	"github.com/servicehub/backend/internal/models"
	"github.com/servicehub/backend/internal/services"
)

type MoneyRequestService interface {
	Create(ctx context.Context, requesterID string, amount models.Cents) (*services.MoneyRequest, error)
	Pay(ctx context.Context, payerID, code string) (*services.Transfer, error)
}

type QRHandler struct {
	service   MoneyRequestService
	validator *services.ValidationHelper
}

func NewQRHandler(service MoneyRequestService) *QRHandler {
	return &QRHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

type CreateMoneyRequest struct {
	Amount models.Cents `json:"amount" validate:"required,gt=0" swaggertype:"string" example:"12.50"`
}

type PayMoneyRequest struct {
	Code string `json:"code" validate:"required,max=64"`
}

// CreateRequest generates a QR money request
// @Summary Create money request
// @Description Generate a one-time QR code asking the scanner to pay the given amount
// @Tags QR
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CreateMoneyRequest true "Money request"
// @Success 201 {object} Envelope{data=services.MoneyRequest}
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /money-requests [post]
func (h *QRHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req CreateMoneyRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	moneyRequest, err := h.service.Create(r.Context(), userID, req.Amount)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, moneyRequest)
}

// PayRequest pays a scanned money request
// @Summary Pay money request
// @Description Pay the requester of a scanned QR code from the caller's wallet
// @Tags QR
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body PayMoneyRequest true "Scanned code"
// @Success 200 {object} Envelope{data=services.Transfer}
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /money-requests/pay [post]
func (h *QRHandler) PayRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req PayMoneyRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	transfer, err := h.service.Pay(r.Context(), userID, req.Code)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transfer)
}
