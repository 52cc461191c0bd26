// Package postgres implements store.Store on PostgreSQL through database/sql
// and lib/pq. Row locks come from SELECT ... FOR UPDATE and every balance or
// appointment write is guarded by a version column.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/servicehub/backend/internal/models"
	"github.com/servicehub/backend/internal/store"
)

const uniqueViolation = "23505"

const (
	constraintReference  = "idx_ledger_entries_reference"
	constraintInProgress = "idx_appointments_provider_in_progress"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) WithTx(ctx context.Context, fn func(store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&tx{q: sqlTx, now: s.now}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// SCANNING
// =============================================================================

const accountColumns = `id, owner_id, balance, status, version, created_at, updated_at`

const entryColumns = `id, account_id, COALESCE(transfer_id, ''), amount, kind, direction, status,
	COALESCE(counterparty_from, ''), COALESCE(counterparty_to, ''), COALESCE(reference, ''), created_at`

const appointmentColumns = `id, customer_id, provider_id, service, date, start_time, end_time,
	actual_start_time, actual_end_time, status, total_worked_time, total_cost,
	COALESCE(payment_method, ''), reason, version, created_at, updated_at`

const userColumns = `id, COALESCE(email, ''), COALESCE(phone_number, ''), status, hourly_rate,
	COALESCE(payout_destination, '')`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row scanner) (*models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.OwnerID, &a.Balance, &a.Status, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func scanEntry(row scanner) (models.LedgerEntry, error) {
	var e models.LedgerEntry
	err := row.Scan(&e.ID, &e.AccountID, &e.TransferID, &e.Amount, &e.Kind, &e.Direction, &e.Status,
		&e.CounterpartyFrom, &e.CounterpartyTo, &e.Reference, &e.CreatedAt)
	return e, err
}

func scanAppointment(row scanner) (*models.Appointment, error) {
	var (
		a             models.Appointment
		actualStart   sql.NullTime
		actualEnd     sql.NullTime
		paymentMethod string
	)
	err := row.Scan(&a.ID, &a.CustomerID, &a.ProviderID, &a.Service, &a.Date, &a.StartTime, &a.EndTime,
		&actualStart, &actualEnd, &a.Status, &a.TotalWorkedTime, &a.TotalCost,
		&paymentMethod, &a.Reason, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if actualStart.Valid {
		t := actualStart.Time
		a.ActualStartTime = &t
	}
	if actualEnd.Valid {
		t := actualEnd.Time
		a.ActualEndTime = &t
	}
	a.PaymentMethod = models.PaymentMethod(paymentMethod)
	return &a, nil
}

func scanUser(row scanner) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.PhoneNumber, &u.Status, &u.HourlyRate, &u.PayoutDestination)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func collectEntries(rows *sql.Rows) ([]models.LedgerEntry, error) {
	defer rows.Close()
	var out []models.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

// mapUnique translates unique-index violations into store sentinels.
func mapUnique(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return err
	}
	switch pqErr.Constraint {
	case constraintReference:
		return store.ErrDuplicateReference
	case constraintInProgress:
		return store.ErrActiveWorkConflict
	}
	return err
}

// =============================================================================
// READER
// =============================================================================

func (s *Store) AccountByOwner(ctx context.Context, ownerID string) (*models.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE owner_id = $1`, ownerID))
}

func (s *Store) EntriesByAccount(ctx context.Context, accountID string, limit, offset int) ([]models.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

func (s *Store) Appointment(ctx context.Context, id string) (*models.Appointment, error) {
	return scanAppointment(s.db.QueryRowContext(ctx,
		`SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id))
}

func (s *Store) UserByID(ctx context.Context, id string) (*models.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (s *Store) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

func (s *Store) UserByPhone(ctx context.Context, phone string) (*models.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE phone_number = $1`, phone))
}

// BalanceDrift compares every balance with the sum of its success entries
// minus the amounts held by pending debits.
func (s *Store) BalanceDrift(ctx context.Context) ([]store.Drift, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.owner_id, a.balance, COALESCE(SUM(
			CASE
				WHEN e.status = 'success' AND e.direction = 'credit' THEN e.amount
				WHEN e.status = 'success' AND e.direction = 'debit' THEN -e.amount
				WHEN e.status = 'pending' AND e.direction = 'debit' THEN -e.amount
				ELSE 0
			END), 0) AS expected
		FROM accounts a
		LEFT JOIN ledger_entries e ON e.account_id = a.id
		GROUP BY a.id, a.owner_id, a.balance
		HAVING a.balance <> COALESCE(SUM(
			CASE
				WHEN e.status = 'success' AND e.direction = 'credit' THEN e.amount
				WHEN e.status = 'success' AND e.direction = 'debit' THEN -e.amount
				WHEN e.status = 'pending' AND e.direction = 'debit' THEN -e.amount
				ELSE 0
			END), 0)
		ORDER BY a.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drift []store.Drift
	for rows.Next() {
		var d store.Drift
		if err := rows.Scan(&d.AccountID, &d.OwnerID, &d.Balance, &d.Expected); err != nil {
			return nil, err
		}
		drift = append(drift, d)
	}
	return drift, rows.Err()
}

func (s *Store) StalePending(ctx context.Context, before time.Time) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at`, before)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

func (s *Store) PayoutFailures(ctx context.Context, since time.Time) ([]models.PayoutFailure, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entry_id, reason, created_at
		FROM payout_failures
		WHERE created_at >= $1
		ORDER BY created_at`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PayoutFailure
	for rows.Next() {
		var f models.PayoutFailure
		if err := rows.Scan(&f.EntryID, &f.Reason, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// =============================================================================
// TRANSACTION
// =============================================================================

type tx struct {
	q   querier
	now func() time.Time
}

// GetOrCreateAccount relies on the unique owner_id constraint: a concurrent
// creator makes the insert a no-op and the follow-up select sees its row.
func (t *tx) GetOrCreateAccount(ctx context.Context, ownerID string) (*models.Account, error) {
	now := t.now()
	if _, err := t.q.ExecContext(ctx, `
		INSERT INTO accounts (id, owner_id, balance, status, version, created_at, updated_at)
		VALUES ($1, $2, 0, $3, 1, $4, $4)
		ON CONFLICT (owner_id) DO NOTHING`,
		uuid.NewString(), ownerID, models.AccountActive, now); err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	return scanAccount(t.q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE owner_id = $1`, ownerID))
}

// LockAccounts locks in ascending id order so that two transfers touching the
// same pair of accounts can never deadlock.
func (t *tx) LockAccounts(ctx context.Context, accountIDs ...string) ([]*models.Account, error) {
	ids := append([]string(nil), accountIDs...)
	sort.Strings(ids)

	out := make([]*models.Account, 0, len(ids))
	for _, id := range ids {
		a, err := scanAccount(t.q.QueryRowContext(ctx,
			`SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (t *tx) UpdateBalance(ctx context.Context, account *models.Account, balance models.Cents) error {
	now := t.now()
	result, err := t.q.ExecContext(ctx, `
		UPDATE accounts
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4`,
		balance, now, account.ID, account.Version)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("account %s: %w", account.ID, store.ErrConcurrentModification)
	}

	account.Balance = balance
	account.Version++
	account.UpdatedAt = now
	return nil
}

func (t *tx) AppendEntries(ctx context.Context, entries ...*models.LedgerEntry) error {
	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = t.now()
		}
		_, err := t.q.ExecContext(ctx, `
			INSERT INTO ledger_entries (id, account_id, transfer_id, amount, kind, direction, status,
				counterparty_from, counterparty_to, reference, created_at)
			VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), $11)`,
			e.ID, e.AccountID, e.TransferID, e.Amount, e.Kind, e.Direction, e.Status,
			e.CounterpartyFrom, e.CounterpartyTo, e.Reference, e.CreatedAt)
		if err != nil {
			return mapUnique(err)
		}
	}
	return nil
}

func (t *tx) SettleEntry(ctx context.Context, entryID string, status models.EntryStatus, reference string) error {
	result, err := t.q.ExecContext(ctx, `
		UPDATE ledger_entries
		SET status = $1, reference = COALESCE(NULLIF($2, ''), reference)
		WHERE id = $3 AND status = 'pending'`,
		status, reference, entryID)
	if err != nil {
		return mapUnique(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return store.ErrEntryNotPending
	}
	return nil
}

func (t *tx) ReferenceExists(ctx context.Context, reference string) (bool, error) {
	var exists bool
	err := t.q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM ledger_entries WHERE reference = $1)`, reference).Scan(&exists)
	return exists, err
}

func (t *tx) RecordPayoutFailure(ctx context.Context, entryID, reason string) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO payout_failures (entry_id, reason, created_at)
		VALUES ($1, $2, $3)`,
		entryID, reason, t.now())
	return err
}

func (t *tx) InsertAppointment(ctx context.Context, appt *models.Appointment) error {
	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	now := t.now()
	appt.Version = 1
	appt.CreatedAt = now
	appt.UpdatedAt = now

	_, err := t.q.ExecContext(ctx, `
		INSERT INTO appointments (id, customer_id, provider_id, service, date, start_time, end_time,
			status, total_worked_time, total_cost, reason, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)`,
		appt.ID, appt.CustomerID, appt.ProviderID, appt.Service, appt.Date, appt.StartTime, appt.EndTime,
		appt.Status, appt.TotalWorkedTime, appt.TotalCost, appt.Reason, appt.Version, now)
	return err
}

func (t *tx) LockAppointment(ctx context.Context, id string) (*models.Appointment, error) {
	return scanAppointment(t.q.QueryRowContext(ctx,
		`SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, id))
}

func (t *tx) HasActiveWork(ctx context.Context, providerID, excludeID string) (bool, error) {
	var busy bool
	err := t.q.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM appointments
			WHERE provider_id = $1 AND status = 'in_progress' AND id <> $2
		)`, providerID, excludeID).Scan(&busy)
	return busy, err
}

func (t *tx) HasOverlap(ctx context.Context, providerID string, start, end time.Time) (bool, error) {
	var overlap bool
	err := t.q.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM appointments
			WHERE provider_id = $1
			  AND status NOT IN ('completed', 'cancelled', 'rejected')
			  AND start_time < $3 AND $2 < end_time
		)`, providerID, start, end).Scan(&overlap)
	return overlap, err
}

func (t *tx) SaveAppointment(ctx context.Context, appt *models.Appointment) error {
	now := t.now()
	result, err := t.q.ExecContext(ctx, `
		UPDATE appointments
		SET status = $1, actual_start_time = $2, actual_end_time = $3, total_worked_time = $4,
			total_cost = $5, payment_method = NULLIF($6, ''), reason = $7,
			version = version + 1, updated_at = $8
		WHERE id = $9 AND version = $10`,
		appt.Status, nullTime(appt.ActualStartTime), nullTime(appt.ActualEndTime), appt.TotalWorkedTime,
		appt.TotalCost, appt.PaymentMethod, appt.Reason, now, appt.ID, appt.Version)
	if err != nil {
		return mapUnique(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("appointment %s: %w", appt.ID, store.ErrConcurrentModification)
	}
	appt.Version++
	appt.UpdatedAt = now
	return nil
}
