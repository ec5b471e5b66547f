package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crawlmeter/internal/config"
	"crawlmeter/internal/notify"
	"crawlmeter/internal/payment"
	"crawlmeter/internal/storage"
)

// Cadence names a payout schedule.
type Cadence string

const (
	CadenceWeekly  Cadence = "weekly"
	CadenceMonthly Cadence = "monthly"
)

// Store is the persistence surface the aggregator needs.
type Store interface {
	storage.RevenueStore
	storage.PayoutStore
}

// Aggregator runs the daily rollup and the scheduled payout sweep. Both jobs
// are idempotent and safe to re-run after a crash; payout creation is
// serialized per owner.
type Aggregator struct {
	cfg      config.SettlementConfig
	store    Store
	locker   storage.AdvisoryLocker
	payments payment.Client
	notifier notify.Notifier
	logger   zerolog.Logger

	minPayout decimal.Decimal
	feePct    decimal.Decimal
	currency  string
}

// NewAggregator constructs the settlement aggregator.
func NewAggregator(cfg config.SettlementConfig, currency string, store Store, locker storage.AdvisoryLocker, payments payment.Client, notifier notify.Notifier, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		cfg:       cfg,
		store:     store,
		locker:    locker,
		payments:  payments,
		notifier:  notifier,
		logger:    logger.With().Str("component", "settlement").Logger(),
		minPayout: decimal.NewFromFloat(cfg.MinimumPayout),
		feePct:    decimal.NewFromFloat(cfg.PlatformFeePct),
		currency:  currency,
	}
}

// Rollup upserts daily revenue rows for the given day from its visit
// records. Re-running without new visits leaves the totals unchanged.
func (a *Aggregator) Rollup(ctx context.Context, day time.Time) error {
	unlock, proceed, err := a.acquireLock(ctx, a.cfg.AdvisoryLockKey)
	if err != nil {
		return err
	}
	if !proceed {
		a.logger.Debug().Time("day", day).Msg("skip rollup: lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	rows, err := a.store.RollupDay(ctx, day)
	if err != nil {
		return fmt.Errorf("rollup %s: %w", day.Format("2006-01-02"), err)
	}
	a.logger.Info().Time("day", day).Int64("rows", rows).Msg("daily rollup complete")
	return nil
}

// RunPayouts sweeps owners on the given cadence whose pending balance meets
// the minimum threshold, creating one payout each and handing the net amount
// to the payment collaborator. The balance covers every pending day before
// the period end, not just the elapsed period: rows reverted by a failed
// payout, or stranded while the service was down, are swept by the next run.
//
// Fee arithmetic that does not reconcile is an invariant violation: the run
// halts rather than write an incorrect payout. A rejected transfer is not
// fatal to the run; the payout is marked failed and its rows revert to
// pending for the next sweep.
func (a *Aggregator) RunPayouts(ctx context.Context, cadence Cadence, asOf time.Time) error {
	periodStart, periodEnd := PeriodFor(cadence, asOf)

	balances, err := a.store.PendingBalances(ctx, periodEnd)
	if err != nil {
		return fmt.Errorf("pending balances: %w", err)
	}

	for _, balance := range balances {
		if a.ownerCadence(balance.OwnerID) != cadence {
			continue
		}
		if balance.Amount.LessThan(a.minPayout) {
			continue
		}

		if err := a.payOwner(ctx, balance, periodStart, periodEnd); err != nil {
			if errors.Is(err, storage.ErrInvariant) {
				return err
			}
			a.logger.Error().Err(err).Str("owner", balance.OwnerID).Msg("payout attempt failed")
		}
	}
	return nil
}

func (a *Aggregator) payOwner(ctx context.Context, balance storage.OwnerBalance, periodStart, periodEnd time.Time) error {
	unlock, proceed, err := a.acquireLock(ctx, storage.OwnerLockKey(balance.OwnerID))
	if err != nil {
		return err
	}
	if !proceed {
		a.logger.Debug().Str("owner", balance.OwnerID).Msg("skip owner: payout lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	gross := balance.Amount
	fee := gross.Mul(a.feePct).Round(4)
	net := gross.Sub(fee)
	if net.IsNegative() || !net.Add(fee).Equal(gross) {
		return fmt.Errorf("%w: gross %s fee %s net %s for owner %s",
			storage.ErrInvariant, gross, fee, net, balance.OwnerID)
	}

	payout := storage.Payout{
		ID:          uuid.NewString(),
		OwnerID:     balance.OwnerID,
		Gross:       gross,
		Fee:         fee,
		Net:         net,
		Currency:    a.currency,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Status:      storage.PayoutPending,
	}

	if err := a.store.CreatePayout(ctx, payout); err != nil {
		return fmt.Errorf("create payout: %w", err)
	}
	a.logger.Info().
		Str("owner", payout.OwnerID).
		Str("payout", payout.ID).
		Str("gross", gross.StringFixed(4)).
		Str("net", net.StringFixed(4)).
		Msg("payout created")

	if a.payments == nil {
		a.logger.Warn().Str("payout", payout.ID).Msg("no payment client configured; payout left pending")
		return nil
	}

	if err := a.store.MarkPayoutProcessing(ctx, payout.ID); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	receipt, transferErr := a.payments.Transfer(ctx, payment.Transfer{
		OwnerID:   payout.OwnerID,
		Amount:    net,
		Currency:  a.currency,
		Reference: payout.ID,
	})
	if transferErr != nil {
		if err := a.store.MarkPayoutFailed(ctx, payout.ID, transferErr.Error()); err != nil {
			return fmt.Errorf("mark failed after transfer error %v: %w", transferErr, err)
		}
		a.emit(ctx, notify.Event{
			Kind:     notify.KindPayoutFailed,
			OwnerID:  payout.OwnerID,
			PayoutID: payout.ID,
			Amount:   net,
			Currency: a.currency,
			Detail:   transferErr.Error(),
			At:       time.Now().UTC(),
		})
		return fmt.Errorf("transfer: %w", transferErr)
	}

	if err := a.store.MarkPayoutCompleted(ctx, payout.ID, receipt.TransferID); err != nil {
		// Funds moved but the status write failed; surface loudly so
		// reconciliation picks it up instead of retrying the transfer.
		return fmt.Errorf("transfer %s succeeded but completion write failed: %w", receipt.TransferID, err)
	}

	a.emit(ctx, notify.Event{
		Kind:     notify.KindPayoutCompleted,
		OwnerID:  payout.OwnerID,
		PayoutID: payout.ID,
		Amount:   net,
		Currency: a.currency,
		At:       time.Now().UTC(),
	})
	return nil
}

func (a *Aggregator) ownerCadence(ownerID string) Cadence {
	if c, ok := a.cfg.OwnerCadences[ownerID]; ok {
		switch Cadence(c) {
		case CadenceWeekly, CadenceMonthly:
			return Cadence(c)
		}
	}
	return Cadence(a.cfg.DefaultCadence)
}

func (a *Aggregator) emit(ctx context.Context, event notify.Event) {
	if a.notifier == nil {
		return
	}
	if err := a.notifier.Notify(ctx, event); err != nil {
		a.logger.Error().Err(err).Str("kind", string(event.Kind)).Msg("failed to deliver event")
	}
}

func (a *Aggregator) acquireLock(ctx context.Context, key int64) (func(), bool, error) {
	if key == 0 || a.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := a.locker.TryAdvisoryLock(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

// PeriodFor returns the elapsed settlement period ending at asOf's date.
func PeriodFor(cadence Cadence, asOf time.Time) (time.Time, time.Time) {
	end := asOf.UTC().Truncate(24 * time.Hour)
	switch cadence {
	case CadenceMonthly:
		return end.AddDate(0, -1, 0), end
	default:
		return end.AddDate(0, 0, -7), end
	}
}
