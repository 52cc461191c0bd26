package settlement

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/servicehub/backend/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	logger, _ := test.NewNullLogger()
	return NewClient(Config{BaseURL: srv.URL, APIKey: "sk_test"}, logger)
}

func TestClient_CreateTransfer(t *testing.T) {
	t.Run("returns transfer id", func(t *testing.T) {
		r := chi.NewRouter()
		r.Post("/transfers", func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
			assert.NotEmpty(t, r.Header.Get("Idempotency-Key"))

			var req transferRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, int64(2500), req.Amount)
			assert.Equal(t, "acct_123", req.Destination)

			json.NewEncoder(w).Encode(transferResponse{ID: "tr_1"})
		})
		c := newTestClient(t, r)

		id, err := c.CreateTransfer(context.Background(), 2500, "acct_123")
		require.NoError(t, err)
		assert.Equal(t, "tr_1", id)
	})

	t.Run("client error means not issued", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
		}))

		_, err := c.CreateTransfer(context.Background(), 2500, "acct_123")
		assert.ErrorIs(t, err, ErrNotIssued)
	})

	t.Run("server error means outcome unknown", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))

		_, err := c.CreateTransfer(context.Background(), 2500, "acct_123")
		assert.ErrorIs(t, err, ErrOutcomeUnknown)
	})

	t.Run("connection refused means not issued", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		logger, _ := test.NewNullLogger()
		c := NewClient(Config{BaseURL: url}, logger)

		_, err := c.CreateTransfer(context.Background(), 2500, "acct_123")
		assert.ErrorIs(t, err, ErrNotIssued)
	})
}

func TestClient_CreatePayout(t *testing.T) {
	called := false
	r := chi.NewRouter()
	r.Post("/payouts", func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})
	c := newTestClient(t, r)

	assert.NoError(t, c.CreatePayout(context.Background(), 100, "acct_123"))
	assert.True(t, called)
}

func TestClient_ConfirmTopUp(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/payments/{id}", func(w http.ResponseWriter, r *http.Request) {
		switch chi.URLParam(r, "id") {
		case "pi_ok":
			json.NewEncoder(w).Encode(paymentResponse{ID: "pi_ok", Amount: 5000, PayerID: "user-1", Status: "succeeded"})
		case "pi_pending":
			json.NewEncoder(w).Encode(paymentResponse{ID: "pi_pending", Amount: 5000, PayerID: "user-1", Status: "processing"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	c := newTestClient(t, r)

	t.Run("succeeded payment", func(t *testing.T) {
		conf, err := c.ConfirmTopUp(context.Background(), "pi_ok")
		require.NoError(t, err)
		assert.Equal(t, models.Cents(5000), conf.Amount)
		assert.Equal(t, "user-1", conf.PayerID)
	})

	t.Run("unconfirmed payment", func(t *testing.T) {
		_, err := c.ConfirmTopUp(context.Background(), "pi_pending")
		assert.ErrorIs(t, err, ErrNotConfirmed)
	})

	t.Run("unknown payment", func(t *testing.T) {
		_, err := c.ConfirmTopUp(context.Background(), "pi_missing")
		assert.ErrorIs(t, err, ErrPaymentNotFound)
	})
}

func TestNewClient_DefaultTimeout(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://processor/"}, logrus.New())
	assert.Equal(t, "http://processor", c.baseURL)
	assert.NotZero(t, c.httpClient.Timeout)
}
