package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/servicehub/backend/internal/middleware"
	"github.com/servicehub/backend/internal/models"
	"github.com/servicehub/backend/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockWallet struct {
	mock.Mock
}

func (m *MockWallet) GetOrCreateAccount(ctx context.Context, userID string) (*models.Account, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Account), args.Error(1)
}

func (m *MockWallet) Entries(ctx context.Context, userID string, limit, offset int) ([]models.LedgerEntry, error) {
	args := m.Called(ctx, userID, limit, offset)
	return args.Get(0).([]models.LedgerEntry), args.Error(1)
}

func (m *MockWallet) TopUp(ctx context.Context, userID string, amount models.Cents, ref string) (*models.LedgerEntry, error) {
	args := m.Called(ctx, userID, amount, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.LedgerEntry), args.Error(1)
}

func (m *MockWallet) SendMoney(ctx context.Context, senderID, receiver string, amount models.Cents) (*services.Transfer, error) {
	args := m.Called(ctx, senderID, receiver, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.Transfer), args.Error(1)
}

func (m *MockWallet) Withdraw(ctx context.Context, userID string, amount models.Cents) (*services.Withdrawal, error) {
	args := m.Called(ctx, userID, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.Withdrawal), args.Error(1)
}

type MockAppointments struct {
	mock.Mock
}

func (m *MockAppointments) Book(ctx context.Context, req services.BookingRequest) (*models.Appointment, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Appointment), args.Error(1)
}

func (m *MockAppointments) Get(ctx context.Context, id, actorID string) (*models.Appointment, error) {
	args := m.Called(ctx, id, actorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Appointment), args.Error(1)
}

func (m *MockAppointments) Transition(ctx context.Context, id string, target models.AppointmentStatus, actorID, role, reason string) (*models.Appointment, error) {
	args := m.Called(ctx, id, target, actorID, role, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Appointment), args.Error(1)
}

func (m *MockAppointments) PayWithWallet(ctx context.Context, id, payerID string) (*services.PaymentResult, error) {
	args := m.Called(ctx, id, payerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.PaymentResult), args.Error(1)
}

func (m *MockAppointments) PayWithCard(ctx context.Context, id, payerID, paymentID string) (*services.PaymentResult, error) {
	args := m.Called(ctx, id, payerID, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.PaymentResult), args.Error(1)
}

type MockMoneyRequests struct {
	mock.Mock
}

func (m *MockMoneyRequests) Create(ctx context.Context, requesterID string, amount models.Cents) (*services.MoneyRequest, error) {
	args := m.Called(ctx, requesterID, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.MoneyRequest), args.Error(1)
}

func (m *MockMoneyRequests) Pay(ctx context.Context, payerID, code string) (*services.Transfer, error) {
	args := m.Called(ctx, payerID, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.Transfer), args.Error(1)
}

type fixture struct {
	wallet       *MockWallet
	appointments *MockAppointments
	requests     *MockMoneyRequests
	router       chi.Router
}

func newFixture() *fixture {
	f := &fixture{
		wallet:       &MockWallet{},
		appointments: &MockAppointments{},
		requests:     &MockMoneyRequests{},
	}
	wallet := NewWalletHandler(f.wallet)
	appointments := NewAppointmentHandler(f.appointments)
	qr := NewQRHandler(f.requests)

	r := chi.NewRouter()
	r.Get("/wallet", wallet.GetWallet)
	r.Get("/wallet/entries", wallet.ListEntries)
	r.Post("/wallet/topup", wallet.TopUp)
	r.Post("/wallet/send", wallet.SendMoney)
	r.Post("/wallet/withdraw", wallet.Withdraw)
	r.Post("/appointments", appointments.Book)
	r.Get("/appointments/{id}", appointments.Get)
	r.Post("/appointments/{id}/transition", appointments.Transition)
	r.Post("/appointments/{id}/pay/wallet", appointments.PayWithWallet)
	r.Post("/appointments/{id}/pay/card", appointments.PayWithCard)
	r.Post("/money-requests", qr.CreateRequest)
	r.Post("/money-requests/pay", qr.PayRequest)
	f.router = r
	return f
}

// do performs the request as userID with role; an empty userID is anonymous.
func (f *fixture) do(method, path, body, userID, role string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req = req.WithContext(middleware.WithIdentity(req.Context(), userID, role))
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) services.ErrorResponse {
	t.Helper()
	var resp services.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestWalletHandler_Unauthenticated(t *testing.T) {
	f := newFixture()
	w := f.do(http.MethodGet, "/wallet", "", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	f.wallet.AssertNotCalled(t, "GetOrCreateAccount", mock.Anything, mock.Anything)
}

func TestWalletHandler_GetWallet(t *testing.T) {
	f := newFixture()
	f.wallet.On("GetOrCreateAccount", mock.Anything, "alice").
		Return(&models.Account{ID: "acc-1", OwnerID: "alice", Balance: 1250}, nil)

	w := f.do(http.MethodGet, "/wallet", "", "alice", "customer")

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			ID      string `json:"id"`
			Balance string `json:"balance"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "12.50", resp.Data.Balance)
}

func TestWalletHandler_ListEntries(t *testing.T) {
	f := newFixture()
	f.wallet.On("Entries", mock.Anything, "alice", 10, 20).Return([]models.LedgerEntry{}, nil)

	w := f.do(http.MethodGet, "/wallet/entries?limit=10&offset=20", "", "alice", "customer")
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, "/wallet/entries?limit=0", "", "alice", "customer")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = f.do(http.MethodGet, "/wallet/entries?offset=-1", "", "alice", "customer")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWalletHandler_SendMoney(t *testing.T) {
	t.Run("decimal amount becomes cents", func(t *testing.T) {
		f := newFixture()
		f.wallet.On("SendMoney", mock.Anything, "alice", "bob@example.com", models.Cents(4000)).
			Return(&services.Transfer{ID: "tr-1", Amount: 4000}, nil)

		w := f.do(http.MethodPost, "/wallet/send", `{"receiver":"bob@example.com","amount":"40.00"}`, "alice", "customer")

		assert.Equal(t, http.StatusCreated, w.Code)
		f.wallet.AssertExpectations(t)
	})

	t.Run("insufficient funds maps to conflict", func(t *testing.T) {
		f := newFixture()
		f.wallet.On("SendMoney", mock.Anything, "alice", "bob", models.Cents(4000)).
			Return(nil, &services.InsufficientFundsError{Available: 3000, Requested: 4000})

		w := f.do(http.MethodPost, "/wallet/send", `{"receiver":"bob","amount":40}`, "alice", "customer")

		assert.Equal(t, http.StatusConflict, w.Code)
		resp := decodeError(t, w)
		assert.Equal(t, "INSUFFICIENT_FUNDS", resp.Code)
		assert.Equal(t, "30.00", resp.Details["available"])
	})

	t.Run("sub-cent amount is rejected", func(t *testing.T) {
		f := newFixture()
		w := f.do(http.MethodPost, "/wallet/send", `{"receiver":"bob","amount":"1.005"}`, "alice", "customer")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("amount beyond int64 cents is rejected", func(t *testing.T) {
		f := newFixture()
		for _, amount := range []string{`"184467440737095516.17"`, `92233720368547758.08`, `1e18`} {
			w := f.do(http.MethodPost, "/wallet/send", `{"receiver":"bob","amount":`+amount+`}`, "alice", "customer")
			assert.Equal(t, http.StatusBadRequest, w.Code, amount)
		}
		f.wallet.AssertNotCalled(t, "SendMoney", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("missing receiver fails validation", func(t *testing.T) {
		f := newFixture()
		w := f.do(http.MethodPost, "/wallet/send", `{"amount":"5"}`, "alice", "customer")

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, services.ErrValidation, decodeError(t, w).Code)
	})

	t.Run("unknown fields are rejected", func(t *testing.T) {
		f := newFixture()
		w := f.do(http.MethodPost, "/wallet/send", `{"receiver":"bob","amount":"5","sender":"mallory"}`, "alice", "customer")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("trailing data is rejected", func(t *testing.T) {
		f := newFixture()
		w := f.do(http.MethodPost, "/wallet/send", `{"receiver":"bob","amount":"5"}{}`, "alice", "customer")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestWalletHandler_TopUpAndWithdraw(t *testing.T) {
	f := newFixture()
	f.wallet.On("TopUp", mock.Anything, "alice", models.Cents(2500), "pi_1").
		Return(nil, services.ErrDuplicateReference)
	f.wallet.On("Withdraw", mock.Anything, "alice", models.Cents(1000)).
		Return(&services.Withdrawal{EntryID: "e-1", Amount: 1000, Status: models.EntrySuccess, PayoutError: "bank offline"}, nil)

	w := f.do(http.MethodPost, "/wallet/topup", `{"amount":"25.00","reference":"pi_1"}`, "alice", "customer")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "DUPLICATE_REFERENCE", decodeError(t, w).Code)

	w = f.do(http.MethodPost, "/wallet/withdraw", `{"amount":"10"}`, "alice", "provider")
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"payout_error":"bank offline"`)
}

func TestAppointmentHandler_Book(t *testing.T) {
	f := newFixture()
	start := time.Date(2030, 1, 1, 10, 0, 0, 0, time.UTC)
	f.appointments.On("Book", mock.Anything, mock.MatchedBy(func(req services.BookingRequest) bool {
		return req.CustomerID == "cust" && req.ProviderID == "prov" && req.StartTime.Equal(start)
	})).Return(&models.Appointment{ID: "appt-1", Status: models.StatusPending}, nil)

	body := `{"provider_id":"prov","service":"plumbing","start_time":"2030-01-01T10:00:00Z","end_time":"2030-01-01T12:00:00Z"}`
	w := f.do(http.MethodPost, "/appointments", body, "cust", "customer")

	assert.Equal(t, http.StatusCreated, w.Code)
	f.appointments.AssertExpectations(t)

	// The customer is always the caller.
	w = f.do(http.MethodPost, "/appointments", `{"customer_id":"victim","provider_id":"prov","service":"x","start_time":"2030-01-01T10:00:00Z","end_time":"2030-01-01T12:00:00Z"}`, "cust", "customer")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAppointmentHandler_Transition(t *testing.T) {
	f := newFixture()
	f.appointments.On("Transition", mock.Anything, "appt-1", models.StatusCancelled, "cust", "customer", "changed plans").
		Return(&models.Appointment{ID: "appt-1", Status: models.StatusCancelled}, nil)
	f.appointments.On("Transition", mock.Anything, "appt-1", models.StatusCompleted, "cust", "customer", "").
		Return(nil, &services.TransitionError{From: models.StatusPending, To: models.StatusCompleted})

	w := f.do(http.MethodPost, "/appointments/appt-1/transition", `{"status":"cancelled","reason":"changed plans"}`, "cust", "customer")
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodPost, "/appointments/appt-1/transition", `{"status":"completed"}`, "cust", "customer")
	assert.Equal(t, http.StatusConflict, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, "ILLEGAL_TRANSITION", resp.Code)
	assert.Equal(t, "pending", resp.Details["from"])
	assert.Equal(t, "completed", resp.Details["to"])
}

func TestAppointmentHandler_GetAndPay(t *testing.T) {
	f := newFixture()
	f.appointments.On("Get", mock.Anything, "appt-1", "stranger").Return(nil, services.ErrForbidden)
	f.appointments.On("PayWithWallet", mock.Anything, "appt-1", "cust").
		Return(&services.PaymentResult{Appointment: &models.Appointment{ID: "appt-1", Status: models.StatusReviewPending}}, nil)
	f.appointments.On("PayWithCard", mock.Anything, "appt-1", "cust", "pi_9").
		Return(nil, &services.ExternalError{Op: "confirm_payment", Err: assert.AnError})

	w := f.do(http.MethodGet, "/appointments/appt-1", "", "stranger", "customer")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(http.MethodPost, "/appointments/appt-1/pay/wallet", "", "cust", "customer")
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodPost, "/appointments/appt-1/pay/card", `{"payment_id":"pi_9"}`, "cust", "customer")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "SETTLEMENT_FAILED", decodeError(t, w).Code)
}

func TestQRHandler(t *testing.T) {
	f := newFixture()
	f.requests.On("Create", mock.Anything, "alice", models.Cents(1250)).
		Return(&services.MoneyRequest{Code: "abc", RequesterID: "alice", Amount: 1250, QRImage: "iVBORw0"}, nil)
	f.requests.On("Pay", mock.Anything, "bob", "expired").Return(nil, services.ErrMoneyRequestNotFound)

	w := f.do(http.MethodPost, "/money-requests", `{"amount":"12.50"}`, "alice", "customer")
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"abc"`)

	w = f.do(http.MethodPost, "/money-requests/pay", `{"code":"expired"}`, "bob", "customer")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodPost, "/money-requests", `{"amount":"0"}`, "alice", "customer")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
