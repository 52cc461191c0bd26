// Package settlement is the HTTP boundary to the external payment processor:
// payouts, transfers to connected accounts and top-up confirmation.
package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/servicehub/backend/internal/models"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotIssued means the processor never accepted the request; nothing
	// moved and the caller may safely undo its own side.
	ErrNotIssued = errors.New("settlement request was not issued")

	// ErrOutcomeUnknown means the request may have reached the processor but
	// no definitive answer came back.
	ErrOutcomeUnknown = errors.New("settlement outcome unknown")

	ErrPaymentNotFound = errors.New("payment not found")
	ErrNotConfirmed    = errors.New("payment is not confirmed")
)

const paymentSucceeded = "succeeded"

// Confirmation is the processor's view of a completed customer payment.
type Confirmation struct {
	PaymentID string
	Amount    models.Cents
	PayerID   string
}

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     logrus.FieldLogger
}

func NewClient(cfg Config, logger logrus.FieldLogger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.WithField("component", "settlement"),
	}
}

type transferRequest struct {
	Amount      int64  `json:"amount"`
	Destination string `json:"destination"`
}

type transferResponse struct {
	ID string `json:"id"`
}

type paymentResponse struct {
	ID      string `json:"id"`
	Amount  int64  `json:"amount"`
	PayerID string `json:"payer_id"`
	Status  string `json:"status"`
}

// CreateTransfer moves amount from the platform balance to the connected
// account destination and returns the processor transfer id.
func (c *Client) CreateTransfer(ctx context.Context, amount models.Cents, destination string) (string, error) {
	var resp transferResponse
	body := transferRequest{Amount: int64(amount), Destination: destination}
	if err := c.do(ctx, http.MethodPost, "/transfers", body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("%w: empty transfer id", ErrOutcomeUnknown)
	}
	c.logger.WithFields(logrus.Fields{
		"transfer_id": resp.ID,
		"amount":      amount.String(),
	}).Info("transfer created")
	return resp.ID, nil
}

// CreatePayout pays amount out of the connected account to its bank.
func (c *Client) CreatePayout(ctx context.Context, amount models.Cents, destination string) error {
	body := transferRequest{Amount: int64(amount), Destination: destination}
	if err := c.do(ctx, http.MethodPost, "/payouts", body, nil); err != nil {
		return err
	}
	c.logger.WithField("amount", amount.String()).Info("payout created")
	return nil
}

// ConfirmTopUp fetches a customer payment and returns it only if it succeeded.
func (c *Client) ConfirmTopUp(ctx context.Context, externalPaymentID string) (*Confirmation, error) {
	var resp paymentResponse
	path := "/payments/" + url.PathEscape(externalPaymentID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Status != paymentSucceeded {
		return nil, fmt.Errorf("%w: status %q", ErrNotConfirmed, resp.Status)
	}
	return &Confirmation{
		PaymentID: resp.ID,
		Amount:    models.Cents(resp.Amount),
		PayerID:   resp.PayerID,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: encode request: %v", ErrNotIssued, err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrNotIssued, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if method == http.MethodPost {
		req.Header.Set("Idempotency-Key", uuid.NewString())
	}

	log := c.logger.WithFields(logrus.Fields{"method": method, "path": path})
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.WithError(err).Warn("settlement request failed")
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound && method == http.MethodGet:
		return ErrPaymentNotFound
	case resp.StatusCode >= 500:
		log.WithField("status", resp.StatusCode).Warn("settlement server error")
		return fmt.Errorf("%w: status %d", ErrOutcomeUnknown, resp.StatusCode)
	case resp.StatusCode >= 400:
		log.WithField("status", resp.StatusCode).Warn("settlement request rejected")
		return fmt.Errorf("%w: status %d", ErrNotIssued, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrOutcomeUnknown, err)
	}
	return nil
}

// classifyTransportError treats failures to connect as not issued; anything
// after the connection was made is ambiguous.
func classifyTransportError(err error) error {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return fmt.Errorf("%w: %v", ErrNotIssued, err)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Errorf("%w: %v", ErrNotIssued, err)
	}
	return fmt.Errorf("%w: %v", ErrOutcomeUnknown, err)
}
