// Package memory provides an in-memory store.Store for tests and local runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/servicehub/backend/internal/models"
	"github.com/servicehub/backend/internal/store"
)

// Memory serializes transactions with txMu and stages every write until
// commit, so readers never observe a partially applied unit.
type Memory struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	accounts       map[string]models.Account
	byOwner        map[string]string
	entries        []models.LedgerEntry
	entryIdx       map[string]int
	references     map[string]bool
	payoutFailures []models.PayoutFailure
	appointments   map[string]models.Appointment
	users          map[string]models.User

	now func() time.Time
}

func New() *Memory {
	return &Memory{
		accounts:     make(map[string]models.Account),
		byOwner:      make(map[string]string),
		entryIdx:     make(map[string]int),
		references:   make(map[string]bool),
		appointments: make(map[string]models.Appointment),
		users:        make(map[string]models.User),
		now:          time.Now,
	}
}

// PutUser seeds or replaces a user profile.
func (m *Memory) PutUser(u models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

// SetAccountStatus blocks or unblocks the wallet of ownerID.
func (m *Memory) SetAccountStatus(ownerID string, status models.AccountStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byOwner[ownerID]; ok {
		a := m.accounts[id]
		a.Status = status
		m.accounts[id] = a
	}
}

// Entries returns every ledger entry in insertion order.
func (m *Memory) Entries() []models.LedgerEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.LedgerEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Accounts returns every account.
func (m *Memory) Accounts() []models.Account {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, a)
	}
	return out
}

func (m *Memory) WithTx(ctx context.Context, fn func(store.Tx) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{
		m:            m,
		accounts:     make(map[string]models.Account),
		byOwner:      make(map[string]string),
		settled:      make(map[string]settlement),
		appointments: make(map[string]models.Appointment),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// =============================================================================
// READER
// =============================================================================

func (m *Memory) AccountByOwner(_ context.Context, ownerID string) (*models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byOwner[ownerID]
	if !ok {
		return nil, store.ErrNotFound
	}
	a := m.accounts[id]
	return &a, nil
}

func (m *Memory) EntriesByAccount(_ context.Context, accountID string, limit, offset int) ([]models.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.LedgerEntry
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].AccountID == accountID {
			out = append(out, m.entries[i])
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Appointment(_ context.Context, id string) (*models.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &a, nil
}

func (m *Memory) UserByID(_ context.Context, id string) (*models.User, error) {
	return m.findUser(func(u models.User) bool { return u.ID == id })
}

func (m *Memory) UserByEmail(_ context.Context, email string) (*models.User, error) {
	return m.findUser(func(u models.User) bool { return u.Email != "" && u.Email == email })
}

func (m *Memory) UserByPhone(_ context.Context, phone string) (*models.User, error) {
	return m.findUser(func(u models.User) bool { return u.PhoneNumber != "" && u.PhoneNumber == phone })
}

func (m *Memory) findUser(match func(models.User) bool) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if match(u) {
			u := u
			return &u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *Memory) BalanceDrift(_ context.Context) ([]store.Drift, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	expected := make(map[string]models.Cents, len(m.accounts))
	for _, e := range m.entries {
		expected[e.AccountID] += e.Signed() - e.Hold()
	}

	var drift []store.Drift
	for _, a := range m.accounts {
		if a.Balance != expected[a.ID] {
			drift = append(drift, store.Drift{
				AccountID: a.ID,
				OwnerID:   a.OwnerID,
				Balance:   a.Balance,
				Expected:  expected[a.ID],
			})
		}
	}
	sort.Slice(drift, func(i, j int) bool { return drift[i].AccountID < drift[j].AccountID })
	return drift, nil
}

func (m *Memory) StalePending(_ context.Context, before time.Time) ([]models.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.LedgerEntry
	for _, e := range m.entries {
		if e.Status == models.EntryPending && e.CreatedAt.Before(before) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) PayoutFailures(_ context.Context, since time.Time) ([]models.PayoutFailure, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.PayoutFailure
	for _, f := range m.payoutFailures {
		if !f.CreatedAt.Before(since) {
			out = append(out, f)
		}
	}
	return out, nil
}

// =============================================================================
// TRANSACTION
// =============================================================================

type settlement struct {
	status    models.EntryStatus
	reference string
}

type memTx struct {
	m *Memory

	accounts     map[string]models.Account
	byOwner      map[string]string
	entries      []models.LedgerEntry
	settled      map[string]settlement
	failures     []models.PayoutFailure
	appointments map[string]models.Appointment
}

func (t *memTx) account(id string) (models.Account, bool) {
	if a, ok := t.accounts[id]; ok {
		return a, true
	}
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	a, ok := t.m.accounts[id]
	return a, ok
}

func (t *memTx) GetOrCreateAccount(_ context.Context, ownerID string) (*models.Account, error) {
	if id, ok := t.byOwner[ownerID]; ok {
		a := t.accounts[id]
		return &a, nil
	}
	t.m.mu.RLock()
	id, ok := t.m.byOwner[ownerID]
	t.m.mu.RUnlock()
	if ok {
		a, _ := t.account(id)
		return &a, nil
	}

	now := t.m.now()
	a := models.Account{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Status:    models.AccountActive,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	t.accounts[a.ID] = a
	t.byOwner[ownerID] = a.ID
	return &a, nil
}

func (t *memTx) LockAccounts(_ context.Context, accountIDs ...string) ([]*models.Account, error) {
	ids := append([]string(nil), accountIDs...)
	sort.Strings(ids)

	out := make([]*models.Account, 0, len(ids))
	for _, id := range ids {
		a, ok := t.account(id)
		if !ok {
			return nil, store.ErrNotFound
		}
		out = append(out, &a)
	}
	return out, nil
}

func (t *memTx) UpdateBalance(_ context.Context, account *models.Account, balance models.Cents) error {
	current, ok := t.account(account.ID)
	if !ok {
		return store.ErrNotFound
	}
	if current.Version != account.Version {
		return store.ErrConcurrentModification
	}
	current.Balance = balance
	current.Version++
	current.UpdatedAt = t.m.now()
	t.accounts[current.ID] = current

	account.Balance = current.Balance
	account.Version = current.Version
	account.UpdatedAt = current.UpdatedAt
	return nil
}

func (t *memTx) AppendEntries(_ context.Context, entries ...*models.LedgerEntry) error {
	for _, e := range entries {
		if e.Reference != "" {
			if exists, _ := t.ReferenceExists(context.Background(), e.Reference); exists {
				return store.ErrDuplicateReference
			}
		}
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = t.m.now()
		}
		t.entries = append(t.entries, *e)
	}
	return nil
}

func (t *memTx) SettleEntry(_ context.Context, entryID string, status models.EntryStatus, reference string) error {
	current, ok := t.entryStatus(entryID)
	if !ok {
		return store.ErrNotFound
	}
	if current != models.EntryPending {
		return store.ErrEntryNotPending
	}
	if reference != "" {
		if exists, _ := t.ReferenceExists(context.Background(), reference); exists {
			return store.ErrDuplicateReference
		}
	}
	t.settled[entryID] = settlement{status: status, reference: reference}
	return nil
}

func (t *memTx) entryStatus(entryID string) (models.EntryStatus, bool) {
	if s, ok := t.settled[entryID]; ok {
		return s.status, true
	}
	for _, e := range t.entries {
		if e.ID == entryID {
			return e.Status, true
		}
	}
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	i, ok := t.m.entryIdx[entryID]
	if !ok {
		return "", false
	}
	return t.m.entries[i].Status, true
}

func (t *memTx) ReferenceExists(_ context.Context, reference string) (bool, error) {
	for _, e := range t.entries {
		if e.Reference == reference {
			return true, nil
		}
	}
	for _, s := range t.settled {
		if s.reference == reference {
			return true, nil
		}
	}
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	return t.m.references[reference], nil
}

func (t *memTx) RecordPayoutFailure(_ context.Context, entryID, reason string) error {
	t.failures = append(t.failures, models.PayoutFailure{
		EntryID:   entryID,
		Reason:    reason,
		CreatedAt: t.m.now(),
	})
	return nil
}

func (t *memTx) appointment(id string) (models.Appointment, bool) {
	if a, ok := t.appointments[id]; ok {
		return a, true
	}
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	a, ok := t.m.appointments[id]
	return a, ok
}

// eachAppointment visits the merged view of committed and staged appointments.
func (t *memTx) eachAppointment(fn func(models.Appointment) bool) {
	t.m.mu.RLock()
	merged := make(map[string]models.Appointment, len(t.m.appointments))
	for id, a := range t.m.appointments {
		merged[id] = a
	}
	t.m.mu.RUnlock()
	for id, a := range t.appointments {
		merged[id] = a
	}
	for _, a := range merged {
		if !fn(a) {
			return
		}
	}
}

func (t *memTx) InsertAppointment(_ context.Context, appt *models.Appointment) error {
	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	now := t.m.now()
	appt.Version = 1
	appt.CreatedAt = now
	appt.UpdatedAt = now
	t.appointments[appt.ID] = *appt
	return nil
}

func (t *memTx) LockAppointment(_ context.Context, id string) (*models.Appointment, error) {
	a, ok := t.appointment(id)
	if !ok {
		return nil, store.ErrNotFound
	}
	return &a, nil
}

func (t *memTx) HasActiveWork(_ context.Context, providerID, excludeID string) (bool, error) {
	found := false
	t.eachAppointment(func(a models.Appointment) bool {
		if a.ProviderID == providerID && a.ID != excludeID && a.Status == models.StatusInProgress {
			found = true
			return false
		}
		return true
	})
	return found, nil
}

func (t *memTx) HasOverlap(_ context.Context, providerID string, start, end time.Time) (bool, error) {
	found := false
	t.eachAppointment(func(a models.Appointment) bool {
		if a.ProviderID == providerID && !a.Status.Terminal() &&
			a.StartTime.Before(end) && start.Before(a.EndTime) {
			found = true
			return false
		}
		return true
	})
	return found, nil
}

func (t *memTx) SaveAppointment(_ context.Context, appt *models.Appointment) error {
	current, ok := t.appointment(appt.ID)
	if !ok {
		return store.ErrNotFound
	}
	if current.Version != appt.Version {
		return store.ErrConcurrentModification
	}
	if appt.Status == models.StatusInProgress {
		busy, _ := t.HasActiveWork(context.Background(), appt.ProviderID, appt.ID)
		if busy {
			return store.ErrActiveWorkConflict
		}
	}
	appt.Version++
	appt.UpdatedAt = t.m.now()
	t.appointments[appt.ID] = *appt
	return nil
}

func (t *memTx) commit() {
	m := t.m
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, a := range t.accounts {
		m.accounts[id] = a
	}
	for owner, id := range t.byOwner {
		m.byOwner[owner] = id
	}
	for _, e := range t.entries {
		m.entryIdx[e.ID] = len(m.entries)
		m.entries = append(m.entries, e)
		if e.Reference != "" {
			m.references[e.Reference] = true
		}
	}
	for id, s := range t.settled {
		i := m.entryIdx[id]
		m.entries[i].Status = s.status
		if s.reference != "" {
			m.entries[i].Reference = s.reference
			m.references[s.reference] = true
		}
	}
	m.payoutFailures = append(m.payoutFailures, t.failures...)
	for id, a := range t.appointments {
		m.appointments[id] = a
	}
}
