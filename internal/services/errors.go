package services

import (
	"errors"
	"fmt"

	"github.com/servicehub/backend/internal/models"
)

// Kind classifies a service error. Every mutating operation rejects
// Validation, State, Authorization and Resource errors before it writes.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindState
	KindAuthorization
	KindResource
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindState:
		return "state"
	case KindAuthorization:
		return "authorization"
	case KindResource:
		return "resource"
	case KindExternal:
		return "external"
	}
	return "internal"
}

// Error is a classified, client-presentable failure. Compare with errors.Is
// against the sentinels below.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	ErrInvalidAmount    = newError(KindValidation, "INVALID_AMOUNT", "amount must be greater than zero")
	ErrInvalidReference = newError(KindValidation, "INVALID_REFERENCE", "external reference is required")
	ErrSelfTransfer     = newError(KindValidation, "SELF_TRANSFER", "cannot send money to yourself")
	ErrAmountMismatch   = newError(KindValidation, "AMOUNT_MISMATCH", "amount does not match the confirmed payment")
	ErrReasonRequired   = newError(KindValidation, "REASON_REQUIRED", "a reason is required")
	ErrInvalidSlot      = newError(KindValidation, "INVALID_SLOT", "appointment slot is invalid")
	ErrInvalidStatus    = newError(KindValidation, "INVALID_STATUS", "unknown appointment status")

	ErrFeatureDisabled        = newError(KindState, "FEATURE_DISABLED", "this feature is currently disabled")
	ErrAccountBlocked         = newError(KindState, "ACCOUNT_BLOCKED", "account is blocked")
	ErrInsufficientFunds      = newError(KindState, "INSUFFICIENT_FUNDS", "insufficient funds")
	ErrIllegalTransition      = newError(KindState, "ILLEGAL_TRANSITION", "status transition is not allowed")
	ErrWrongAppointmentStatus = newError(KindState, "WRONG_APPOINTMENT_STATUS", "appointment is not in the required status")
	ErrProviderBusy           = newError(KindState, "PROVIDER_BUSY", "provider already has an appointment in progress")
	ErrPaymentRequired        = newError(KindState, "PAYMENT_REQUIRED", "appointment must be paid before review")
	ErrNothingToPay           = newError(KindState, "NOTHING_TO_PAY", "appointment has no cost to pay")
	ErrSlotUnavailable        = newError(KindState, "SLOT_UNAVAILABLE", "provider is already booked for this slot")
	ErrDuplicateReference     = newError(KindState, "DUPLICATE_REFERENCE", "external payment has already been applied")
	ErrNoPayoutDestination    = newError(KindState, "NO_PAYOUT_DESTINATION", "no payout destination configured")
	ErrConflict               = newError(KindState, "CONCURRENT_MODIFICATION", "resource was modified concurrently, retry")

	ErrForbidden = newError(KindAuthorization, "FORBIDDEN", "not allowed to perform this action")

	ErrAccountInactive      = newError(KindResource, "ACCOUNT_INACTIVE", "user does not exist or is inactive")
	ErrReceiverNotFound     = newError(KindResource, "RECEIVER_NOT_FOUND", "receiver not found")
	ErrAppointmentNotFound  = newError(KindResource, "APPOINTMENT_NOT_FOUND", "appointment not found")
	ErrMoneyRequestNotFound = newError(KindResource, "MONEY_REQUEST_NOT_FOUND", "money request not found or expired")

	ErrSettlement = newError(KindExternal, "SETTLEMENT_FAILED", "payment processor request failed")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// InsufficientFundsError carries the shortfall of a rejected debit.
type InsufficientFundsError struct {
	AccountID string
	Available models.Cents
	Requested models.Cents
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: available %s, requested %s", e.Available, e.Requested)
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

// TransitionError names the rejected edge of the appointment state machine.
type TransitionError struct {
	From models.AppointmentStatus
	To   models.AppointmentStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move appointment from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrIllegalTransition
}

// ExternalError wraps a settlement adapter failure. It matches both
// ErrSettlement and the adapter's own error.
type ExternalError struct {
	Op  string
	Err error
}

func (e *ExternalError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrSettlement.Message, e.Op, e.Err)
}

func (e *ExternalError) Unwrap() []error {
	return []error{ErrSettlement, e.Err}
}

// =============================================================================
// HELPERS
// =============================================================================

// KindOf classifies err. Unclassified errors are internal.
func KindOf(err error) Kind {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Kind
	}
	return KindInternal
}

// CodeOf returns the stable error code of err, or INTERNAL.
func CodeOf(err error) string {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Code
	}
	return "INTERNAL"
}

func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	return CodeOf(err)
}
