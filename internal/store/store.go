// Package store defines the persistence boundary for wallets, ledger entries
// and appointments.
//
// Balances and entries are only written through Tx, inside Store.WithTx.
// Entries are append-only: the single permitted mutation is settling a
// pending entry to success or failed.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/servicehub/backend/internal/models"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrDuplicateReference     = errors.New("external reference already applied")
	ErrActiveWorkConflict     = errors.New("provider already has an appointment in progress")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrEntryNotPending        = errors.New("ledger entry is not pending")
)

// Store is the transactional entry point.
type Store interface {
	Reader

	// WithTx runs fn inside one atomic unit. If fn returns an error every
	// write made through the Tx is discarded.
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// Tx carries every write path. Implementations hold row locks taken by the
// Lock* methods until the enclosing WithTx returns.
type Tx interface {
	// GetOrCreateAccount is idempotent under concurrency; uniqueness of the
	// owner is enforced by the storage layer.
	GetOrCreateAccount(ctx context.Context, ownerID string) (*models.Account, error)

	// LockAccounts locks the accounts with the given ids in ascending id
	// order and returns them in that order.
	LockAccounts(ctx context.Context, accountIDs ...string) ([]*models.Account, error)

	// UpdateBalance writes a new balance if the account version is unchanged.
	UpdateBalance(ctx context.Context, account *models.Account, balance models.Cents) error

	AppendEntries(ctx context.Context, entries ...*models.LedgerEntry) error

	// SettleEntry moves a pending entry to success or failed.
	SettleEntry(ctx context.Context, entryID string, status models.EntryStatus, reference string) error

	ReferenceExists(ctx context.Context, reference string) (bool, error)
	RecordPayoutFailure(ctx context.Context, entryID, reason string) error

	InsertAppointment(ctx context.Context, appt *models.Appointment) error
	LockAppointment(ctx context.Context, id string) (*models.Appointment, error)
	HasActiveWork(ctx context.Context, providerID, excludeID string) (bool, error)
	HasOverlap(ctx context.Context, providerID string, start, end time.Time) (bool, error)
	SaveAppointment(ctx context.Context, appt *models.Appointment) error
}

// Reader is the read-only side, usable outside a transaction.
type Reader interface {
	AccountByOwner(ctx context.Context, ownerID string) (*models.Account, error)
	EntriesByAccount(ctx context.Context, accountID string, limit, offset int) ([]models.LedgerEntry, error)
	Appointment(ctx context.Context, id string) (*models.Appointment, error)

	UserByID(ctx context.Context, id string) (*models.User, error)
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	UserByPhone(ctx context.Context, phone string) (*models.User, error)

	BalanceDrift(ctx context.Context) ([]Drift, error)
	StalePending(ctx context.Context, before time.Time) ([]models.LedgerEntry, error)
	PayoutFailures(ctx context.Context, since time.Time) ([]models.PayoutFailure, error)
}

// Drift describes an account whose balance disagrees with its entries.
type Drift struct {
	AccountID string
	OwnerID   string
	Balance   models.Cents
	Expected  models.Cents
}
