package services

import (
	"context"
	"testing"
	"time"

	"github.com/servicehub/backend/internal/models"
	"github.com/servicehub/backend/internal/settlement"
	"github.com/servicehub/backend/internal/store/memory"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/mock"
)

type MockSettlement struct {
	mock.Mock
}

func (m *MockSettlement) CreateTransfer(ctx context.Context, amount models.Cents, destination string) (string, error) {
	args := m.Called(ctx, amount, destination)
	return args.String(0), args.Error(1)
}

func (m *MockSettlement) CreatePayout(ctx context.Context, amount models.Cents, destination string) error {
	args := m.Called(ctx, amount, destination)
	return args.Error(0)
}

func (m *MockSettlement) ConfirmTopUp(ctx context.Context, externalPaymentID string) (*settlement.Confirmation, error) {
	args := m.Called(ctx, externalPaymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*settlement.Confirmation), args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, n Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

// staticFlags enables every feature not explicitly switched off.
type staticFlags map[Feature]bool

func (f staticFlags) IsEnabled(_ context.Context, feature Feature) bool {
	enabled, ok := f[feature]
	return !ok || enabled
}

// testEnv wires the services over the in-memory store.
type testEnv struct {
	store        *memory.Memory
	flags        staticFlags
	settle       *MockSettlement
	notifier     *MockNotifier
	logHook      *test.Hook
	ledger       *LedgerService
	appointments *AppointmentService
	clock        time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	env := &testEnv{
		store:    memory.New(),
		flags:    staticFlags{},
		settle:   &MockSettlement{},
		notifier: &MockNotifier{},
		logHook:  hook,
		clock:    time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC),
	}
	env.ledger = NewLedgerService(env.store, env.store, env.flags, env.settle, logger)
	env.appointments = NewAppointmentService(env.store, env.ledger, env.store, env.flags, env.settle, env.notifier, logger)
	env.appointments.now = func() time.Time { return env.clock }
	return env
}

// addUser seeds an active user.
func (e *testEnv) addUser(id string, opts ...func(*models.User)) {
	u := models.User{
		ID:          id,
		Email:       id + "@example.com",
		PhoneNumber: "+1555" + id,
		Status:      models.UserActive,
	}
	for _, opt := range opts {
		opt(&u)
	}
	e.store.PutUser(u)
}

// fund credits a wallet through the top-up path.
func (e *testEnv) fund(t *testing.T, userID string, amount models.Cents) {
	t.Helper()
	ref := "seed-" + userID + "-" + amount.String()
	e.settle.On("ConfirmTopUp", mock.Anything, ref).
		Return(&settlement.Confirmation{PaymentID: ref, Amount: amount, PayerID: userID}, nil).Once()
	if _, err := e.ledger.TopUp(context.Background(), userID, amount, ref); err != nil {
		t.Fatalf("fund %s: %v", userID, err)
	}
}

func (e *testEnv) balance(t *testing.T, userID string) models.Cents {
	t.Helper()
	account, err := e.store.AccountByOwner(context.Background(), userID)
	if err != nil {
		return 0
	}
	return account.Balance
}

// assertLedgerInvariant checks every balance against its entries.
func (e *testEnv) assertLedgerInvariant(t *testing.T) {
	t.Helper()
	drift, err := e.store.BalanceDrift(context.Background())
	if err != nil {
		t.Fatalf("balance drift: %v", err)
	}
	if len(drift) != 0 {
		t.Fatalf("ledger invariant violated: %+v", drift)
	}
	for _, a := range e.store.Accounts() {
		if a.Balance < 0 {
			t.Fatalf("negative balance on %s: %s", a.ID, a.Balance)
		}
	}
}

func withRate(rate models.Cents) func(*models.User) {
	return func(u *models.User) { u.HourlyRate = rate }
}

func withPayout(destination string) func(*models.User) {
	return func(u *models.User) { u.PayoutDestination = destination }
}

func inactive(u *models.User) {
	u.Status = models.UserInactive
}
