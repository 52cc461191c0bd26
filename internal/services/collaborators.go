package services

import (
	"context"

	"github.com/servicehub/backend/internal/models"
	"github.com/servicehub/backend/internal/settlement"
)

type Feature string

const (
	FeatureTopUp        Feature = "topUp"
	FeatureWithdraw     Feature = "withdraw"
	FeatureMoneySend    Feature = "moneySend"
	FeatureMoneyRequest Feature = "moneyRequest"
	FeatureCardPayment  Feature = "cardPayment"
)

// FeatureFlags is consulted before every wallet operation and card payment.
type FeatureFlags interface {
	IsEnabled(ctx context.Context, feature Feature) bool
}

// Notification is a message for one user about one domain object.
type Notification struct {
	ReceiverID  string `json:"receiver_id"`
	Title       string `json:"title"`
	Message     string `json:"message"`
	ReferenceID string `json:"reference_id"`
	Screen      string `json:"screen"`
}

// Notifier delivers notifications. Callers treat it as fire-and-forget.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Settlement is the payment processor boundary. Errors wrapping
// settlement.ErrNotIssued guarantee nothing moved on the processor side.
type Settlement interface {
	CreateTransfer(ctx context.Context, amount models.Cents, destination string) (string, error)
	CreatePayout(ctx context.Context, amount models.Cents, destination string) error
	ConfirmTopUp(ctx context.Context, externalPaymentID string) (*settlement.Confirmation, error)
}

// ProfileLookup reads user profiles. Missing users are reported as
// store.ErrNotFound.
type ProfileLookup interface {
	UserByID(ctx context.Context, id string) (*models.User, error)
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	UserByPhone(ctx context.Context, phone string) (*models.User, error)
}
