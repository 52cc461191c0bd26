package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/servicehub/backend/internal/metrics"
	"github.com/servicehub/backend/internal/models"
	"github.com/servicehub/backend/internal/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const appointmentScreen = "appointment"

var secondsPerHour = decimal.NewFromInt(3600)

type notice struct {
	title   string
	message string
}

// notices are keyed by the persisted status after a transition.
var notices = map[models.AppointmentStatus]notice{
	models.StatusPending:               {"New booking request", "You have a new appointment request"},
	models.StatusAccepted:              {"Appointment accepted", "Your appointment was accepted"},
	models.StatusRejected:              {"Appointment rejected", "Your appointment was rejected"},
	models.StatusCancelled:             {"Appointment cancelled", "The customer cancelled the appointment"},
	models.StatusInProgress:            {"Work started", "The provider has started working"},
	models.StatusAwaitingPayment:       {"Payment due", "Work is complete and payment is due"},
	models.StatusCashPayment:           {"Cash payment", "The customer will pay in cash"},
	models.StatusReviewPending:         {"Payment received", "Payment is settled, please leave a review"},
	models.StatusProviderReviewPending: {"Review received", "The customer left a review, please review them"},
	models.StatusCustomerReviewPending: {"Review received", "The provider left a review, please review them"},
	models.StatusCompleted:             {"Appointment completed", "The appointment is complete"},
}

// AppointmentService drives the appointment lifecycle and the payments that
// gate it. Each transition locks the appointment row for its duration.
type AppointmentService struct {
	store    store.Store
	ledger   *LedgerService
	profiles ProfileLookup
	flags    FeatureFlags
	settle   Settlement
	notifier Notifier
	logger   logrus.FieldLogger
	now      func() time.Time
}

func NewAppointmentService(st store.Store, ledger *LedgerService, profiles ProfileLookup, flags FeatureFlags, settle Settlement, notifier Notifier, logger logrus.FieldLogger) *AppointmentService {
	return &AppointmentService{
		store:    st,
		ledger:   ledger,
		profiles: profiles,
		flags:    flags,
		settle:   settle,
		notifier: notifier,
		logger:   logger.WithField("component", "appointments"),
		now:      time.Now,
	}
}

// BookingRequest asks for a provider's time.
type BookingRequest struct {
	CustomerID string    `json:"-"`
	ProviderID string    `json:"provider_id" validate:"required"`
	Service    string    `json:"service" validate:"required,max=200"`
	StartTime  time.Time `json:"start_time" validate:"required"`
	EndTime    time.Time `json:"end_time" validate:"required,gtfield=StartTime"`
}

// PaymentResult is the outcome of paying for an appointment.
type PaymentResult struct {
	Appointment *models.Appointment `json:"appointment"`
	Transfer    *Transfer           `json:"transfer,omitempty"`
	Entry       *models.LedgerEntry `json:"entry,omitempty"`
}

// =============================================================================
// BOOKING AND READS
// =============================================================================

func (s *AppointmentService) Book(ctx context.Context, req BookingRequest) (*models.Appointment, error) {
	req.Service = strings.TrimSpace(req.Service)
	if req.Service == "" || !req.EndTime.After(req.StartTime) || req.StartTime.Before(s.now()) {
		return nil, ErrInvalidSlot
	}
	if req.CustomerID == req.ProviderID {
		return nil, ErrInvalidSlot
	}
	if _, err := s.ledger.activeUser(ctx, req.CustomerID); err != nil {
		return nil, err
	}
	if _, err := s.ledger.activeUser(ctx, req.ProviderID); err != nil {
		return nil, err
	}

	start, end := req.StartTime.UTC(), req.EndTime.UTC()
	appt := &models.Appointment{
		CustomerID:      req.CustomerID,
		ProviderID:      req.ProviderID,
		Service:         req.Service,
		Date:            time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC),
		StartTime:       start,
		EndTime:         end,
		Status:          models.StatusPending,
		TotalWorkedTime: decimal.Zero,
	}

	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		taken, err := tx.HasOverlap(ctx, req.ProviderID, start, end)
		if err != nil {
			return err
		}
		if taken {
			return ErrSlotUnavailable
		}
		return tx.InsertAppointment(ctx, appt)
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"appointment_id": appt.ID,
		"customer_id":    appt.CustomerID,
		"provider_id":    appt.ProviderID,
	}).Info("appointment booked")
	s.notify(ctx, appt, appt.ProviderID)
	return appt, nil
}

// Get returns the appointment to one of its parties.
func (s *AppointmentService) Get(ctx context.Context, appointmentID, actorID string) (*models.Appointment, error) {
	appt, err := s.store.Appointment(ctx, appointmentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrAppointmentNotFound
	}
	if err != nil {
		return nil, err
	}
	if _, ok := appt.Party(actorID); !ok {
		return nil, ErrForbidden
	}
	return appt, nil
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// Transition moves an appointment to target on behalf of actorID. The
// appointment is locked, the actor and edge are checked, side effects are
// applied and the result is saved in one transaction. The counterpart is
// notified after commit.
func (s *AppointmentService) Transition(ctx context.Context, appointmentID string, target models.AppointmentStatus, actorID, actorRole, reason string) (updated *models.Appointment, err error) {
	log := s.logger.WithFields(logrus.Fields{
		"appointment_id": appointmentID,
		"target":         target,
		"actor_id":       actorID,
	})
	defer func() {
		metrics.RecordTransition(string(target), resultLabel(err))
		if err != nil {
			log.WithError(err).WithField("code", CodeOf(err)).Warn("transition rejected")
		}
	}()

	if !target.Valid() {
		return nil, ErrInvalidStatus
	}
	role := models.ParseRole(actorRole)
	reason = strings.TrimSpace(reason)

	var from models.AppointmentStatus
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		appt, err := s.lockAppointment(ctx, tx, appointmentID)
		if err != nil {
			return err
		}
		from = appt.Status

		party, ok := appt.Party(actorID)
		if !ok || party != role {
			return ErrForbidden
		}
		if !CanTransition(appt.Status, target) {
			return &TransitionError{From: appt.Status, To: target}
		}
		if !roleAllowed(appt.Status, target, role) {
			return ErrForbidden
		}
		if requiresReason(target) && reason == "" {
			return ErrReasonRequired
		}

		if err := s.applyTransition(ctx, tx, appt, target, reason); err != nil {
			return err
		}
		if err := tx.SaveAppointment(ctx, appt); err != nil {
			return err
		}
		updated = appt
		return nil
	})
	if err != nil {
		return nil, translateStoreError(err)
	}

	log.WithFields(logrus.Fields{
		"from":   from,
		"status": updated.Status,
	}).Info("appointment transitioned")
	s.notify(ctx, updated, updated.Counterpart(actorID))
	return updated, nil
}

// applyTransition runs the side effects of target and sets the status that
// will be persisted, which is not always target itself.
func (s *AppointmentService) applyTransition(ctx context.Context, tx store.Tx, appt *models.Appointment, target models.AppointmentStatus, reason string) error {
	switch target {
	case models.StatusCancelled, models.StatusRejected:
		appt.Reason = reason
		appt.Status = target

	case models.StatusInProgress:
		busy, err := tx.HasActiveWork(ctx, appt.ProviderID, appt.ID)
		if err != nil {
			return err
		}
		if busy {
			return ErrProviderBusy
		}
		startedAt := s.now().UTC()
		appt.ActualStartTime = &startedAt
		appt.Status = models.StatusInProgress

	case models.StatusWorkCompleted:
		provider, err := s.profiles.UserByID(ctx, appt.ProviderID)
		if err != nil {
			return err
		}
		endedAt := s.now().UTC()
		if err := CompleteWork(appt, endedAt, provider.HourlyRate); err != nil {
			return err
		}
		appt.Status = models.StatusAwaitingPayment

	case models.StatusReviewPending:
		// Leaving awaiting_payment needs a settled payment; only the
		// payment operations record one.
		if appt.Status == models.StatusAwaitingPayment &&
			appt.PaymentMethod != models.PaymentWallet && appt.PaymentMethod != models.PaymentCard {
			return ErrPaymentRequired
		}
		appt.Status = models.StatusReviewPending

	case models.StatusCashPayment:
		appt.PaymentMethod = models.PaymentCash
		appt.Status = models.StatusCashPayment

	case models.StatusCashReceived:
		appt.Status = models.StatusReviewPending

	default:
		appt.Status = target
	}
	return nil
}

// CompleteWork stamps the end of work and prices it: worked hours rounded
// half-up to two places, cost = hours x hourly rate rounded half-up to cents.
func CompleteWork(appt *models.Appointment, endedAt time.Time, hourlyRate models.Cents) error {
	if appt.ActualStartTime == nil {
		return ErrWrongAppointmentStatus
	}
	worked := endedAt.Sub(*appt.ActualStartTime)
	if worked < 0 {
		worked = 0
	}

	hours := decimal.NewFromInt(int64(worked / time.Second)).Div(secondsPerHour).Round(2)
	appt.ActualEndTime = &endedAt
	appt.TotalWorkedTime = hours
	appt.TotalCost = models.RoundCents(hours.Mul(hourlyRate.Decimal()))
	return nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

// PayWithWallet pays an awaiting_payment appointment from the customer's
// wallet to the provider's. The transfer and the move to review_pending
// commit together or not at all.
func (s *AppointmentService) PayWithWallet(ctx context.Context, appointmentID, payerID string) (result *PaymentResult, err error) {
	log := s.logger.WithFields(logrus.Fields{
		"op":             "pay_wallet",
		"appointment_id": appointmentID,
		"payer_id":       payerID,
	})
	defer func() { s.ledger.record("pay_wallet", log, err) }()

	if !s.flags.IsEnabled(ctx, FeatureMoneySend) {
		return nil, ErrFeatureDisabled
	}
	appt, err := s.payable(ctx, appointmentID, payerID)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.checkParties(ctx, appt.CustomerID, appt.ProviderID); err != nil {
		return nil, err
	}

	result = &PaymentResult{}
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		locked, err := s.lockPayable(ctx, tx, appointmentID, payerID)
		if err != nil {
			return err
		}
		transfer, err := s.ledger.SendMoneyTx(ctx, tx, locked.CustomerID, locked.ProviderID, locked.TotalCost)
		if err != nil {
			return err
		}
		locked.Status = models.StatusReviewPending
		locked.PaymentMethod = models.PaymentWallet
		if err := tx.SaveAppointment(ctx, locked); err != nil {
			return err
		}
		result.Appointment = locked
		result.Transfer = transfer
		return nil
	})
	if err != nil {
		return nil, translateStoreError(err)
	}

	s.notify(ctx, result.Appointment, result.Appointment.ProviderID)
	return result, nil
}

// PayWithCard applies a processor-confirmed card payment for the
// appointment: the provider's wallet is credited with the confirmed amount
// and the appointment moves to review_pending in one transaction.
func (s *AppointmentService) PayWithCard(ctx context.Context, appointmentID, payerID, externalPaymentID string) (result *PaymentResult, err error) {
	log := s.logger.WithFields(logrus.Fields{
		"op":             "pay_card",
		"appointment_id": appointmentID,
		"payer_id":       payerID,
		"reference":      externalPaymentID,
	})
	defer func() { s.ledger.record("pay_card", log, err) }()

	if !s.flags.IsEnabled(ctx, FeatureCardPayment) {
		return nil, ErrFeatureDisabled
	}
	externalPaymentID = strings.TrimSpace(externalPaymentID)
	if externalPaymentID == "" {
		return nil, ErrInvalidReference
	}
	appt, err := s.payable(ctx, appointmentID, payerID)
	if err != nil {
		return nil, err
	}
	if _, err := s.ledger.activeUser(ctx, appt.ProviderID); err != nil {
		return nil, err
	}

	confirmation, err := s.settle.ConfirmTopUp(ctx, externalPaymentID)
	if err != nil {
		return nil, &ExternalError{Op: "confirm_payment", Err: err}
	}
	if confirmation.PayerID != payerID {
		return nil, ErrForbidden
	}

	result = &PaymentResult{}
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		locked, err := s.lockPayable(ctx, tx, appointmentID, payerID)
		if err != nil {
			return err
		}
		if confirmation.Amount != locked.TotalCost {
			return ErrAmountMismatch
		}
		entry, err := s.ledger.CreditTx(ctx, tx, locked.ProviderID, locked.TotalCost, locked.CustomerID, externalPaymentID)
		if err != nil {
			return err
		}
		locked.Status = models.StatusReviewPending
		locked.PaymentMethod = models.PaymentCard
		if err := tx.SaveAppointment(ctx, locked); err != nil {
			return err
		}
		result.Appointment = locked
		result.Entry = entry
		return nil
	})
	if err != nil {
		return nil, translateStoreError(err)
	}

	s.notify(ctx, result.Appointment, result.Appointment.ProviderID)
	return result, nil
}

// payable checks the payment preconditions outside a transaction so that
// hopeless requests never reach the processor.
func (s *AppointmentService) payable(ctx context.Context, appointmentID, payerID string) (*models.Appointment, error) {
	appt, err := s.store.Appointment(ctx, appointmentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrAppointmentNotFound
	}
	if err != nil {
		return nil, err
	}
	return appt, checkPayable(appt, payerID)
}

// lockPayable re-checks the payment preconditions under the row lock.
func (s *AppointmentService) lockPayable(ctx context.Context, tx store.Tx, appointmentID, payerID string) (*models.Appointment, error) {
	appt, err := s.lockAppointment(ctx, tx, appointmentID)
	if err != nil {
		return nil, err
	}
	return appt, checkPayable(appt, payerID)
}

func checkPayable(appt *models.Appointment, payerID string) error {
	if payerID != appt.CustomerID {
		return ErrForbidden
	}
	if appt.Status != models.StatusAwaitingPayment {
		return ErrWrongAppointmentStatus
	}
	if appt.TotalCost <= 0 {
		return ErrNothingToPay
	}
	return nil
}

func (s *AppointmentService) lockAppointment(ctx context.Context, tx store.Tx, id string) (*models.Appointment, error) {
	appt, err := tx.LockAppointment(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrAppointmentNotFound
	}
	return appt, err
}

// notify is best-effort; failures are logged and never reach the caller.
func (s *AppointmentService) notify(ctx context.Context, appt *models.Appointment, receiverID string) {
	n, ok := notices[appt.Status]
	if !ok {
		return
	}
	err := s.notifier.Notify(ctx, Notification{
		ReceiverID:  receiverID,
		Title:       n.title,
		Message:     n.message,
		ReferenceID: appt.ID,
		Screen:      appointmentScreen,
	})
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"appointment_id": appt.ID,
			"receiver_id":    receiverID,
		}).Warn("notification failed")
	}
}
