package services

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/servicehub/backend/internal/metrics"
	"github.com/servicehub/backend/internal/models"
	"github.com/servicehub/backend/internal/settlement"
	"github.com/servicehub/backend/internal/store"
	"github.com/sirupsen/logrus"
)

// LedgerService owns wallet balances and ledger entries. Every balance
// change goes through one store transaction that locks the touched accounts
// in ascending id order, updates their balances and appends the entries.
type LedgerService struct {
	store    store.Store
	profiles ProfileLookup
	flags    FeatureFlags
	settle   Settlement
	logger   logrus.FieldLogger
}

func NewLedgerService(st store.Store, profiles ProfileLookup, flags FeatureFlags, settle Settlement, logger logrus.FieldLogger) *LedgerService {
	return &LedgerService{
		store:    st,
		profiles: profiles,
		flags:    flags,
		settle:   settle,
		logger:   logger.WithField("component", "ledger"),
	}
}

// Transfer is the result of a wallet-to-wallet send.
type Transfer struct {
	ID         string             `json:"transfer_id"`
	SenderID   string             `json:"sender_id"`
	ReceiverID string             `json:"receiver_id"`
	Amount     models.Cents       `json:"amount"`
	Debit      models.LedgerEntry `json:"debit"`
	Credit     models.LedgerEntry `json:"credit"`
}

// Withdrawal is the result of a withdraw. A non-empty PayoutError means the
// funds left the wallet but the payout needs manual reconciliation.
type Withdrawal struct {
	EntryID     string             `json:"entry_id"`
	TransferID  string             `json:"transfer_id"`
	Amount      models.Cents       `json:"amount"`
	Status      models.EntryStatus `json:"status"`
	PayoutError string             `json:"payout_error,omitempty"`
}

func (s *LedgerService) GetOrCreateAccount(ctx context.Context, userID string) (*models.Account, error) {
	var account *models.Account
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		account, err = tx.GetOrCreateAccount(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// Entries lists the newest entries of the user's wallet first.
func (s *LedgerService) Entries(ctx context.Context, userID string, limit, offset int) ([]models.LedgerEntry, error) {
	account, err := s.store.AccountByOwner(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return []models.LedgerEntry{}, nil
	}
	if err != nil {
		return nil, err
	}
	return s.store.EntriesByAccount(ctx, account.ID, limit, offset)
}

// =============================================================================
// TOP UP
// =============================================================================

// TopUp credits the wallet with a payment the processor has confirmed. The
// confirmation happens before the transaction opens; only the confirmed
// amount for the confirmed payer is ever credited.
func (s *LedgerService) TopUp(ctx context.Context, userID string, amount models.Cents, externalReference string) (entry *models.LedgerEntry, err error) {
	log := s.logger.WithFields(logrus.Fields{
		"op":        "topup",
		"user_id":   userID,
		"amount":    amount.String(),
		"reference": externalReference,
	})
	defer func() { s.record("topup", log, err) }()

	if !s.flags.IsEnabled(ctx, FeatureTopUp) {
		return nil, ErrFeatureDisabled
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	externalReference = strings.TrimSpace(externalReference)
	if externalReference == "" {
		return nil, ErrInvalidReference
	}
	if _, err := s.activeUser(ctx, userID); err != nil {
		return nil, err
	}

	confirmation, err := s.settle.ConfirmTopUp(ctx, externalReference)
	if err != nil {
		return nil, &ExternalError{Op: "confirm_topup", Err: err}
	}
	if confirmation.PayerID != userID {
		return nil, ErrForbidden
	}
	if confirmation.Amount != amount {
		return nil, ErrAmountMismatch
	}

	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		entry, err = s.CreditTx(ctx, tx, userID, amount, "", externalReference)
		return err
	})
	if err != nil {
		return nil, translateStoreError(err)
	}
	return entry, nil
}

// CreditTx credits ownerID's wallet with an externally funded amount inside
// tx. A non-empty reference may only ever be applied once.
func (s *LedgerService) CreditTx(ctx context.Context, tx store.Tx, ownerID string, amount models.Cents, from, reference string) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	created, err := tx.GetOrCreateAccount(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	locked, err := tx.LockAccounts(ctx, created.ID)
	if err != nil {
		return nil, err
	}
	account := locked[0]
	if account.Blocked() {
		return nil, ErrAccountBlocked
	}

	if reference != "" {
		applied, err := tx.ReferenceExists(ctx, reference)
		if err != nil {
			return nil, err
		}
		if applied {
			return nil, ErrDuplicateReference
		}
	}

	if err := tx.UpdateBalance(ctx, account, account.Balance+amount); err != nil {
		return nil, err
	}
	entry := &models.LedgerEntry{
		AccountID:        account.ID,
		Amount:           amount,
		Kind:             models.KindTopUp,
		Direction:        models.Credit,
		Status:           models.EntrySuccess,
		CounterpartyFrom: from,
		CounterpartyTo:   ownerID,
		Reference:        reference,
	}
	if err := tx.AppendEntries(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// =============================================================================
// SEND MONEY
// =============================================================================

// ResolveReceiver finds a user by id, then email, then phone. The first
// match wins.
func (s *LedgerService) ResolveReceiver(ctx context.Context, identifier string) (*models.User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, ErrReceiverNotFound
	}

	lookups := []func(context.Context, string) (*models.User, error){
		s.profiles.UserByID,
		s.profiles.UserByEmail,
		s.profiles.UserByPhone,
	}
	for _, lookup := range lookups {
		user, err := lookup(ctx, identifier)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrReceiverNotFound
}

func (s *LedgerService) SendMoney(ctx context.Context, senderID, receiverIdentifier string, amount models.Cents) (transfer *Transfer, err error) {
	log := s.logger.WithFields(logrus.Fields{
		"op":        "send",
		"sender_id": senderID,
		"receiver":  receiverIdentifier,
		"amount":    amount.String(),
	})
	defer func() { s.record("send", log, err) }()

	if !s.flags.IsEnabled(ctx, FeatureMoneySend) {
		return nil, ErrFeatureDisabled
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	receiver, err := s.ResolveReceiver(ctx, receiverIdentifier)
	if err != nil {
		return nil, err
	}
	if err := s.checkParties(ctx, senderID, receiver.ID); err != nil {
		return nil, err
	}

	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		transfer, err = s.SendMoneyTx(ctx, tx, senderID, receiver.ID, amount)
		return err
	})
	if err != nil {
		return nil, translateStoreError(err)
	}
	return transfer, nil
}

// checkParties validates the users on both ends of a send. It runs before
// any transaction opens.
func (s *LedgerService) checkParties(ctx context.Context, senderID, receiverID string) error {
	if senderID == receiverID {
		return ErrSelfTransfer
	}
	if _, err := s.activeUser(ctx, senderID); err != nil {
		return err
	}
	if _, err := s.activeUser(ctx, receiverID); err != nil {
		return err
	}
	return nil
}

// SendMoneyTx moves amount between two wallets inside tx. Callers compose it
// with their own writes; the caller's transaction decides the commit.
func (s *LedgerService) SendMoneyTx(ctx context.Context, tx store.Tx, senderID, receiverID string, amount models.Cents) (*Transfer, error) {
	if senderID == receiverID {
		return nil, ErrSelfTransfer
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	senderAccount, err := tx.GetOrCreateAccount(ctx, senderID)
	if err != nil {
		return nil, err
	}
	receiverAccount, err := tx.GetOrCreateAccount(ctx, receiverID)
	if err != nil {
		return nil, err
	}

	// Lock accounts in consistent order to prevent deadlocks
	locked, err := tx.LockAccounts(ctx, senderAccount.ID, receiverAccount.ID)
	if err != nil {
		return nil, err
	}
	from, to := locked[0], locked[1]
	if from.ID != senderAccount.ID {
		from, to = to, from
	}

	if from.Blocked() || to.Blocked() {
		return nil, ErrAccountBlocked
	}
	if from.Balance < amount {
		return nil, &InsufficientFundsError{AccountID: from.ID, Available: from.Balance, Requested: amount}
	}

	if err := tx.UpdateBalance(ctx, from, from.Balance-amount); err != nil {
		return nil, err
	}
	if err := tx.UpdateBalance(ctx, to, to.Balance+amount); err != nil {
		return nil, err
	}

	transferID := uuid.NewString()
	debit := &models.LedgerEntry{
		AccountID:        from.ID,
		TransferID:       transferID,
		Amount:           amount,
		Kind:             models.KindSend,
		Direction:        models.Debit,
		Status:           models.EntrySuccess,
		CounterpartyFrom: senderID,
		CounterpartyTo:   receiverID,
	}
	credit := &models.LedgerEntry{
		AccountID:        to.ID,
		TransferID:       transferID,
		Amount:           amount,
		Kind:             models.KindSend,
		Direction:        models.Credit,
		Status:           models.EntrySuccess,
		CounterpartyFrom: senderID,
		CounterpartyTo:   receiverID,
	}
	if err := tx.AppendEntries(ctx, debit, credit); err != nil {
		return nil, err
	}

	return &Transfer{
		ID:         transferID,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Amount:     amount,
		Debit:      *debit,
		Credit:     *credit,
	}, nil
}

// =============================================================================
// WITHDRAW
// =============================================================================

// Withdraw runs in three phases. The debit commits first as a pending entry
// that holds the funds. The processor transfer is then created with no
// transaction open: if it was never issued the hold is released, if its
// outcome is unknown the entry stays pending for reconciliation, and on
// success the entry settles. The payout follows; its failure is recorded
// for manual reconciliation and never reverses the debit.
//
// While a hold is pending the balance equals the signed sum of success
// entries minus the pending debits; the Reconciler checks that form.
func (s *LedgerService) Withdraw(ctx context.Context, userID string, amount models.Cents) (result *Withdrawal, err error) {
	log := s.logger.WithFields(logrus.Fields{
		"op":      "withdraw",
		"user_id": userID,
		"amount":  amount.String(),
	})
	defer func() { s.record("withdraw", log, err) }()

	if !s.flags.IsEnabled(ctx, FeatureWithdraw) {
		return nil, ErrFeatureDisabled
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	user, err := s.activeUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	destination := strings.TrimSpace(user.PayoutDestination)
	if destination == "" {
		return nil, ErrNoPayoutDestination
	}

	var hold *models.LedgerEntry
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		hold, err = s.holdTx(ctx, tx, userID, amount)
		return err
	})
	if err != nil {
		return nil, translateStoreError(err)
	}
	log = log.WithField("entry_id", hold.ID)

	transferID, err := s.settle.CreateTransfer(ctx, amount, destination)
	if err != nil {
		if errors.Is(err, settlement.ErrNotIssued) {
			s.releaseHold(ctx, log, hold)
		} else {
			log.WithError(err).WithField("reconciliation", "manual").
				Error("transfer outcome unknown, withdrawal left pending")
		}
		return nil, &ExternalError{Op: "create_transfer", Err: err}
	}

	result = &Withdrawal{
		EntryID:    hold.ID,
		TransferID: transferID,
		Amount:     amount,
		Status:     models.EntrySuccess,
	}
	log = log.WithField("transfer_id", transferID)

	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.SettleEntry(ctx, hold.ID, models.EntrySuccess, transferID)
	})
	if err != nil {
		// The balance already excludes the held amount, so the wallet stays
		// consistent; only the entry status lags behind the processor.
		log.WithError(err).WithField("reconciliation", "manual").
			Error("transfer succeeded but entry could not be settled")
		result.Status = models.EntryPending
	}

	if err := s.settle.CreatePayout(ctx, amount, destination); err != nil {
		metrics.RecordPayoutFailure()
		log.WithError(err).WithField("reconciliation", "manual").
			Error("payout failed after withdrawal committed")
		result.PayoutError = err.Error()

		recErr := s.store.WithTx(ctx, func(tx store.Tx) error {
			return tx.RecordPayoutFailure(ctx, hold.ID, err.Error())
		})
		if recErr != nil {
			log.WithError(recErr).Error("could not record payout failure")
		}
	}
	return result, nil
}

// holdTx debits the wallet and appends a pending withdraw entry.
func (s *LedgerService) holdTx(ctx context.Context, tx store.Tx, userID string, amount models.Cents) (*models.LedgerEntry, error) {
	created, err := tx.GetOrCreateAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	locked, err := tx.LockAccounts(ctx, created.ID)
	if err != nil {
		return nil, err
	}
	account := locked[0]
	if account.Blocked() {
		return nil, ErrAccountBlocked
	}
	if account.Balance < amount {
		return nil, &InsufficientFundsError{AccountID: account.ID, Available: account.Balance, Requested: amount}
	}

	if err := tx.UpdateBalance(ctx, account, account.Balance-amount); err != nil {
		return nil, err
	}
	entry := &models.LedgerEntry{
		AccountID:        account.ID,
		Amount:           amount,
		Kind:             models.KindWithdraw,
		Direction:        models.Debit,
		Status:           models.EntryPending,
		CounterpartyFrom: userID,
	}
	if err := tx.AppendEntries(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// releaseHold restores the held amount and fails the entry in one unit.
// If that itself fails the entry stays pending and reconciliation owns it.
func (s *LedgerService) releaseHold(ctx context.Context, log logrus.FieldLogger, hold *models.LedgerEntry) {
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		locked, err := tx.LockAccounts(ctx, hold.AccountID)
		if err != nil {
			return err
		}
		account := locked[0]
		if err := tx.SettleEntry(ctx, hold.ID, models.EntryFailed, ""); err != nil {
			return err
		}
		return tx.UpdateBalance(ctx, account, account.Balance+hold.Amount)
	})
	if err != nil {
		log.WithError(err).WithField("reconciliation", "manual").
			Error("could not release withdrawal hold")
		return
	}
	log.Warn("transfer not issued, withdrawal rolled back")
}

// =============================================================================
// HELPERS
// =============================================================================

// activeUser returns the user if it exists and is active.
func (s *LedgerService) activeUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.profiles.UserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrAccountInactive
	}
	if err != nil {
		return nil, err
	}
	if !user.Active() {
		return nil, ErrAccountInactive
	}
	return user, nil
}

func (s *LedgerService) record(op string, log logrus.FieldLogger, err error) {
	metrics.RecordLedgerOperation(op, resultLabel(err))
	switch {
	case err == nil:
		log.Info("ledger operation committed")
	case KindOf(err) == KindInternal || KindOf(err) == KindExternal:
		log.WithError(err).Error("ledger operation failed")
	default:
		log.WithError(err).WithField("code", CodeOf(err)).Warn("ledger operation rejected")
	}
}

// translateStoreError maps storage sentinels onto the service taxonomy.
func translateStoreError(err error) error {
	switch {
	case errors.Is(err, store.ErrDuplicateReference):
		return ErrDuplicateReference
	case errors.Is(err, store.ErrActiveWorkConflict):
		return ErrProviderBusy
	case errors.Is(err, store.ErrConcurrentModification):
		return ErrConflict
	}
	return err
}
