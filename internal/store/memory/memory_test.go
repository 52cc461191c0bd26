package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/servicehub/backend/internal/models"
	"github.com/servicehub/backend/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_WithTxRollback(t *testing.T) {
	ctx := context.Background()
	m := New()

	boom := errors.New("boom")
	err := m.WithTx(ctx, func(tx store.Tx) error {
		acc, err := tx.GetOrCreateAccount(ctx, "user-1")
		require.NoError(t, err)
		require.NoError(t, tx.UpdateBalance(ctx, acc, 500))
		require.NoError(t, tx.AppendEntries(ctx, &models.LedgerEntry{
			AccountID: acc.ID, Amount: 500, Kind: models.KindTopUp,
			Direction: models.Credit, Status: models.EntrySuccess, Reference: "pi_1",
		}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = m.AccountByOwner(ctx, "user-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, m.Entries())

	// The reference was never committed, so it may be used again.
	err = m.WithTx(ctx, func(tx store.Tx) error {
		exists, err := tx.ReferenceExists(ctx, "pi_1")
		require.NoError(t, err)
		assert.False(t, exists)
		return nil
	})
	require.NoError(t, err)
}

func TestMemory_GetOrCreateAccountConcurrent(t *testing.T) {
	ctx := context.Background()
	m := New()

	var wg sync.WaitGroup
	ids := make([]string, 20)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = m.WithTx(ctx, func(tx store.Tx) error {
				acc, err := tx.GetOrCreateAccount(ctx, "user-1")
				if err == nil {
					ids[i] = acc.ID
				}
				return err
			})
		}(i)
	}
	wg.Wait()

	assert.Len(t, m.Accounts(), 1)
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestMemory_LockAccountsOrdersByID(t *testing.T) {
	ctx := context.Background()
	m := New()

	err := m.WithTx(ctx, func(tx store.Tx) error {
		a, _ := tx.GetOrCreateAccount(ctx, "a")
		b, _ := tx.GetOrCreateAccount(ctx, "b")

		locked, err := tx.LockAccounts(ctx, b.ID, a.ID)
		require.NoError(t, err)
		require.Len(t, locked, 2)
		assert.True(t, locked[0].ID < locked[1].ID)
		return nil
	})
	require.NoError(t, err)
}

func TestMemory_SettleEntry(t *testing.T) {
	ctx := context.Background()
	m := New()

	entry := &models.LedgerEntry{
		AccountID: "acc", Amount: 100, Kind: models.KindWithdraw,
		Direction: models.Debit, Status: models.EntryPending,
	}
	require.NoError(t, m.WithTx(ctx, func(tx store.Tx) error {
		return tx.AppendEntries(ctx, entry)
	}))

	require.NoError(t, m.WithTx(ctx, func(tx store.Tx) error {
		return tx.SettleEntry(ctx, entry.ID, models.EntrySuccess, "tr_1")
	}))

	entries := m.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, models.EntrySuccess, entries[0].Status)
	assert.Equal(t, "tr_1", entries[0].Reference)

	err := m.WithTx(ctx, func(tx store.Tx) error {
		return tx.SettleEntry(ctx, entry.ID, models.EntryFailed, "")
	})
	assert.ErrorIs(t, err, store.ErrEntryNotPending)
}

func TestMemory_SaveAppointmentVersion(t *testing.T) {
	ctx := context.Background()
	m := New()

	appt := &models.Appointment{CustomerID: "c", ProviderID: "p", Status: models.StatusPending}
	require.NoError(t, m.WithTx(ctx, func(tx store.Tx) error {
		return tx.InsertAppointment(ctx, appt)
	}))

	stale := *appt
	require.NoError(t, m.WithTx(ctx, func(tx store.Tx) error {
		appt.Status = models.StatusAccepted
		return tx.SaveAppointment(ctx, appt)
	}))

	err := m.WithTx(ctx, func(tx store.Tx) error {
		stale.Status = models.StatusRejected
		return tx.SaveAppointment(ctx, &stale)
	})
	assert.ErrorIs(t, err, store.ErrConcurrentModification)

	got, err := m.Appointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, got.Status)
}
