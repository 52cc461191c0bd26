package models

import (
	"time"
)

type AccountStatus string

const (
	AccountActive  AccountStatus = "active"
	AccountBlocked AccountStatus = "blocked"
)

// Account is the wallet of a single user.
type Account struct {
	ID        string        `json:"id" db:"id"`
	OwnerID   string        `json:"owner_id" db:"owner_id"`
	Balance   Cents         `json:"balance" db:"balance"`
	Status    AccountStatus `json:"status" db:"status"`
	Version   int           `json:"-" db:"version"` // for optimistic locking
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt time.Time     `json:"updated_at" db:"updated_at"`
}

func (a *Account) Blocked() bool {
	return a.Status == AccountBlocked
}

type EntryKind string

const (
	KindTopUp    EntryKind = "topup"
	KindWithdraw EntryKind = "withdraw"
	KindSend     EntryKind = "send"
)

type Direction string

const (
	Credit Direction = "credit"
	Debit  Direction = "debit"
)

type EntryStatus string

const (
	EntryPending EntryStatus = "pending"
	EntrySuccess EntryStatus = "success"
	EntryFailed  EntryStatus = "failed"
)

// LedgerEntry is an append-only record of a balance change. Only the status
// of a pending entry may change, and only to success or failed.
type LedgerEntry struct {
	ID               string      `json:"id" db:"id"`
	AccountID        string      `json:"account_id" db:"account_id"`
	TransferID       string      `json:"transfer_id,omitempty" db:"transfer_id"`
	Amount           Cents       `json:"amount" db:"amount"`
	Kind             EntryKind   `json:"kind" db:"kind"`
	Direction        Direction   `json:"direction" db:"direction"`
	Status           EntryStatus `json:"status" db:"status"`
	CounterpartyFrom string      `json:"counterparty_from,omitempty" db:"counterparty_from"`
	CounterpartyTo   string      `json:"counterparty_to,omitempty" db:"counterparty_to"`
	Reference        string      `json:"reference,omitempty" db:"reference"`
	CreatedAt        time.Time   `json:"created_at" db:"created_at"`
}

// Signed returns the entry's contribution to its account balance: credits
// positive, debits negative. Only success entries contribute.
func (e *LedgerEntry) Signed() Cents {
	if e.Status != EntrySuccess {
		return 0
	}
	if e.Direction == Debit {
		return -e.Amount
	}
	return e.Amount
}

// Hold returns the amount a pending debit keeps out of the balance.
func (e *LedgerEntry) Hold() Cents {
	if e.Status == EntryPending && e.Direction == Debit {
		return e.Amount
	}
	return 0
}

// PayoutFailure records a payout that failed after its withdrawal committed.
type PayoutFailure struct {
	EntryID   string    `json:"entry_id" db:"entry_id"`
	Reason    string    `json:"reason" db:"reason"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
