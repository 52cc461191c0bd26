package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/servicehub/backend/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/skip2/go-qrcode"
)

const moneyRequestPrefix = "money_request:"

// MoneyRequest is a one-time code asking the scanner to pay the requester.
type MoneyRequest struct {
	Code        string       `json:"code"`
	RequesterID string       `json:"requester_id"`
	Amount      models.Cents `json:"amount"`
	QRImage     string       `json:"qr_image,omitempty"` // base64 PNG
	CreatedAt   time.Time    `json:"created_at"`
	ExpiresAt   time.Time    `json:"expires_at"`
}

// MoneyRequestService issues QR money requests and settles them through
// the ledger. Codes live in redis until paid or expired.
type MoneyRequestService struct {
	redis    *redis.Client
	ledger   *LedgerService
	flags    FeatureFlags
	notifier Notifier
	ttl      time.Duration
	logger   logrus.FieldLogger

	now     func() time.Time
	newCode func() string
}

func NewMoneyRequestService(rdb *redis.Client, ledger *LedgerService, flags FeatureFlags, notifier Notifier, ttl time.Duration, logger logrus.FieldLogger) *MoneyRequestService {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &MoneyRequestService{
		redis:    rdb,
		ledger:   ledger,
		flags:    flags,
		notifier: notifier,
		ttl:      ttl,
		logger:   logger.WithField("component", "money_requests"),
		now:      time.Now,
		newCode:  generateNonce,
	}
}

func (s *MoneyRequestService) enabled(ctx context.Context) bool {
	return s.redis != nil && s.flags.IsEnabled(ctx, FeatureMoneyRequest)
}

// Create stores a new money request and renders its QR code.
func (s *MoneyRequestService) Create(ctx context.Context, requesterID string, amount models.Cents) (*MoneyRequest, error) {
	if !s.enabled(ctx) {
		return nil, ErrFeatureDisabled
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if _, err := s.ledger.activeUser(ctx, requesterID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	req := &MoneyRequest{
		Code:        s.newCode(),
		RequesterID: requesterID,
		Amount:      amount,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if err := s.redis.Set(ctx, moneyRequestPrefix+req.Code, data, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("store money request: %w", err)
	}

	png, err := qrcode.Encode("servicehub://pay?code="+req.Code, qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("render qr code: %w", err)
	}
	req.QRImage = base64.StdEncoding.EncodeToString(png)

	s.logger.WithFields(logrus.Fields{
		"requester_id": requesterID,
		"amount":       amount.String(),
	}).Info("money request created")
	return req, nil
}

// Pay consumes the code and sends its amount from payerID to the requester.
// The code is claimed before the send and put back if the send fails.
func (s *MoneyRequestService) Pay(ctx context.Context, payerID, code string) (*Transfer, error) {
	if !s.enabled(ctx) {
		return nil, ErrFeatureDisabled
	}
	key := moneyRequestPrefix + code

	data, err := s.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMoneyRequestNotFound
	}
	if err != nil {
		return nil, err
	}

	var req MoneyRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode money request: %w", err)
	}
	if req.RequesterID == payerID {
		return nil, ErrSelfTransfer
	}

	claimed, err := s.redis.Del(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if claimed == 0 {
		return nil, ErrMoneyRequestNotFound
	}

	transfer, err := s.ledger.SendMoney(ctx, payerID, req.RequesterID, req.Amount)
	if err != nil {
		s.restore(ctx, key, data, req.ExpiresAt)
		return nil, err
	}

	note := Notification{
		ReceiverID:  req.RequesterID,
		Title:       "Money received",
		Message:     fmt.Sprintf("Your request for %s was paid", req.Amount),
		ReferenceID: transfer.ID,
		Screen:      "wallet",
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.WithError(err).WithField("receiver_id", req.RequesterID).Warn("notification failed")
	}
	return transfer, nil
}

// restore puts a claimed code back for the rest of its lifetime.
func (s *MoneyRequestService) restore(ctx context.Context, key string, data []byte, expiresAt time.Time) {
	remaining := expiresAt.Sub(s.now())
	if remaining <= 0 {
		return
	}
	if err := s.redis.Set(ctx, key, data, remaining).Err(); err != nil {
		s.logger.WithError(err).Warn("could not restore money request after failed payment")
	}
}

func generateNonce() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
