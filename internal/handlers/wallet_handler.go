package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/servicehub/backend/internal/models"
	"github.com/servicehub/backend/internal/services"
)

// WalletService is the ledger as the wallet endpoints use it.
type WalletService interface {
	GetOrCreateAccount(ctx context.Context, userID string) (*models.Account, error)
	Entries(ctx context.Context, userID string, limit, offset int) ([]models.LedgerEntry, error)
	TopUp(ctx context.Context, userID string, amount models.Cents, externalReference string) (*models.LedgerEntry, error)
	SendMoney(ctx context.Context, senderID, receiverIdentifier string, amount models.Cents) (*services.Transfer, error)
	Withdraw(ctx context.Context, userID string, amount models.Cents) (*services.Withdrawal, error)
}

type WalletHandler struct {
	service   WalletService
	validator *services.ValidationHelper
}

func NewWalletHandler(service WalletService) *WalletHandler {
	return &WalletHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

type TopUpRequest struct {
	Amount    models.Cents `json:"amount" validate:"required,gt=0" swaggertype:"string" example:"25.00"`
	Reference string       `json:"reference" validate:"required,max=255"`
}

type SendMoneyRequest struct {
	Receiver string       `json:"receiver" validate:"required,max=255"`
	Amount   models.Cents `json:"amount" validate:"required,gt=0" swaggertype:"string" example:"40.00"`
}

type WithdrawRequest struct {
	Amount models.Cents `json:"amount" validate:"required,gt=0" swaggertype:"string" example:"100.00"`
}

// GetWallet returns the caller's wallet, opening it on first use
// @Summary Get wallet
// @Description Get the authenticated user's wallet account and balance
// @Tags Wallet
// @Produce json
// @Security BearerAuth
// @Success 200 {object} Envelope{data=models.Account}
// @Failure 401 {object} services.ErrorResponse
// @Router /wallet [get]
func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	account, err := h.service.GetOrCreateAccount(r.Context(), userID)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// ListEntries lists ledger entries, newest first
// @Summary List wallet entries
// @Tags Wallet
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Page size" default(50)
// @Param offset query int false "Offset"
// @Success 200 {object} Envelope{data=[]models.LedgerEntry}
// @Failure 400 {object} services.ErrorResponse
// @Router /wallet/entries [get]
func (h *WalletHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	limit, err := queryInt(r, "limit", 50)
	if err != nil || limit < 1 || limit > 200 {
		services.SendErrorResponse(w, "limit must be between 1 and 200", http.StatusBadRequest, nil)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		services.SendErrorResponse(w, "offset must not be negative", http.StatusBadRequest, nil)
		return
	}

	entries, err := h.service.Entries(r.Context(), userID, limit, offset)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// TopUp credits a confirmed external payment
// @Summary Top up wallet
// @Description Credit the wallet with a payment the processor has confirmed
// @Tags Wallet
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body TopUpRequest true "Top-up request"
// @Success 201 {object} Envelope{data=models.LedgerEntry}
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Failure 502 {object} services.ErrorResponse
// @Router /wallet/topup [post]
func (h *WalletHandler) TopUp(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req TopUpRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	entry, err := h.service.TopUp(r.Context(), userID, req.Amount, req.Reference)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// SendMoney transfers between wallets
// @Summary Send money
// @Description Send money to a user identified by id, email or phone number
// @Tags Wallet
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body SendMoneyRequest true "Send request"
// @Success 201 {object} Envelope{data=services.Transfer}
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /wallet/send [post]
func (h *WalletHandler) SendMoney(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req SendMoneyRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	transfer, err := h.service.SendMoney(r.Context(), userID, req.Receiver, req.Amount)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, transfer)
}

// Withdraw moves funds to the caller's payout destination
// @Summary Withdraw
// @Description Withdraw to the configured payout destination. A payout_error in the response means the payout needs manual follow-up.
// @Tags Wallet
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body WithdrawRequest true "Withdraw request"
// @Success 201 {object} Envelope{data=services.Withdrawal}
// @Failure 400 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Failure 502 {object} services.ErrorResponse
// @Router /wallet/withdraw [post]
func (h *WalletHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req WithdrawRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	result, err := h.service.Withdraw(r.Context(), userID, req.Amount)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
