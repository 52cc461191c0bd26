package services

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/servicehub/backend/internal/metrics"
	"github.com/servicehub/backend/internal/models"
	"github.com/servicehub/backend/internal/store"
	"github.com/sirupsen/logrus"
)

// ReconcileReport lists everything that needs a human.
type ReconcileReport struct {
	Drift          []store.Drift          `json:"drift"`
	StalePending   []models.LedgerEntry   `json:"stale_pending"`
	PayoutFailures []models.PayoutFailure `json:"payout_failures"`
}

// Clean reports whether the run found nothing to act on.
func (r *ReconcileReport) Clean() bool {
	return len(r.Drift) == 0 && len(r.StalePending) == 0 && len(r.PayoutFailures) == 0
}

// Reconciler periodically checks the ledger against its balances and
// surfaces withdrawals stuck between the wallet and the processor.
// It only reports; it never writes.
type Reconciler struct {
	reader       store.Reader
	pendingAfter time.Duration
	lookback     time.Duration
	logger       logrus.FieldLogger
	now          func() time.Time
	cron         *cron.Cron
}

func NewReconciler(reader store.Reader, pendingAfter, lookback time.Duration, logger logrus.FieldLogger) *Reconciler {
	return &Reconciler{
		reader:       reader,
		pendingAfter: pendingAfter,
		lookback:     lookback,
		logger:       logger.WithField("component", "reconcile"),
		now:          time.Now,
	}
}

func (r *Reconciler) Run(ctx context.Context) (*ReconcileReport, error) {
	now := r.now()
	report := &ReconcileReport{}

	var err error
	if report.Drift, err = r.reader.BalanceDrift(ctx); err != nil {
		return nil, err
	}
	if report.StalePending, err = r.reader.StalePending(ctx, now.Add(-r.pendingAfter)); err != nil {
		return nil, err
	}
	if report.PayoutFailures, err = r.reader.PayoutFailures(ctx, now.Add(-r.lookback)); err != nil {
		return nil, err
	}

	for _, d := range report.Drift {
		r.logger.WithFields(logrus.Fields{
			"account_id": d.AccountID,
			"owner_id":   d.OwnerID,
			"balance":    d.Balance.String(),
			"expected":   d.Expected.String(),
		}).Error("balance drift detected")
	}
	for _, e := range report.StalePending {
		r.logger.WithFields(logrus.Fields{
			"entry_id":   e.ID,
			"account_id": e.AccountID,
			"amount":     e.Amount.String(),
			"created_at": e.CreatedAt,
		}).Error("pending withdrawal needs reconciliation")
	}
	for _, f := range report.PayoutFailures {
		r.logger.WithFields(logrus.Fields{
			"entry_id": f.EntryID,
			"reason":   f.Reason,
		}).Warn("payout failure awaiting manual reconciliation")
	}

	metrics.SetReconcileState(len(report.Drift), len(report.StalePending), len(report.PayoutFailures))
	if report.Clean() {
		r.logger.Debug("reconciliation clean")
	}
	return report, nil
}

// Start schedules Run with a cron spec such as "@every 15m".
func (r *Reconciler) Start(schedule string) error {
	r.cron = cron.New()
	_, err := r.cron.AddFunc(schedule, func() {
		if _, err := r.Run(context.Background()); err != nil {
			r.logger.WithError(err).Error("reconciliation run failed")
		}
	})
	if err != nil {
		return err
	}
	r.cron.Start()
	r.logger.WithField("schedule", schedule).Info("reconciliation scheduled")
	return nil
}

// Stop halts scheduling and waits for a running job to finish.
func (r *Reconciler) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
}
