package storage

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrInvariant indicates persisted state disagrees with a settlement
	// invariant; the current job run must halt rather than write through it.
	ErrInvariant = errors.New("storage: settlement invariant violated")
)

const (
	insertVisitSQL = `INSERT INTO visit_records (
        site_id, owner_id, bot_name, bot_company, ip, url,
        is_billable, revenue, dedup_degraded, occurred_at
    )
    SELECT $1, $2, $3, $4, $5, $6,
        eligible.ok,
        CASE WHEN eligible.ok THEN $7::numeric ELSE 0 END,
        $8, $9
    FROM (
        SELECT NOT EXISTS (
            SELECT 1 FROM visit_records
            WHERE site_id = $1
              AND ip = $5
              AND url = $6
              AND occurred_at > $9::timestamptz - make_interval(secs => $10)
        ) AS ok
    ) AS eligible
    RETURNING id, is_billable, revenue, created_at;`

	listRecentVisitsSQL = `SELECT
        id, site_id, owner_id, bot_name, bot_company, ip, url,
        is_billable, revenue, dedup_degraded, occurred_at, created_at
    FROM visit_records
    ORDER BY occurred_at DESC
    LIMIT $1;`

	rollupDaySQL = `INSERT INTO daily_revenue (
        owner_id, site_id, day, visit_count, billable_count, amount, status
    )
    SELECT owner_id, site_id, $1::date,
        COUNT(*),
        COUNT(*) FILTER (WHERE is_billable),
        COALESCE(SUM(revenue), 0),
        'pending'
    FROM visit_records
    WHERE occurred_at >= $1::date
      AND occurred_at < $1::date + interval '1 day'
    GROUP BY owner_id, site_id
    ON CONFLICT (owner_id, site_id, day) DO UPDATE
    SET visit_count    = EXCLUDED.visit_count,
        billable_count = EXCLUDED.billable_count,
        amount         = EXCLUDED.amount
    WHERE daily_revenue.status = 'pending';`

	// Pending rows are bounded only above: revenue reverted by a failed
	// payout, or left behind by a missed sweep, stays eligible until paid.
	pendingBalancesSQL = `SELECT
        owner_id, COALESCE(SUM(amount), 0), MIN(day), MAX(day)
    FROM daily_revenue
    WHERE status = 'pending'
      AND day < $1::date
    GROUP BY owner_id
    ORDER BY owner_id;`

	listDailyRevenueSQL = `SELECT
        owner_id, site_id, day, visit_count, billable_count, amount,
        status, payout_id, updated_at
    FROM daily_revenue
    WHERE day >= $1::date
      AND day < $2::date
    ORDER BY day, owner_id, site_id;`

	lockPendingRevenueSQL = `SELECT COALESCE(SUM(amount), 0)
    FROM daily_revenue
    WHERE owner_id = $1
      AND status = 'pending'
      AND day < $2::date
    FOR UPDATE;`

	insertPayoutSQL = `INSERT INTO payouts (
        id, owner_id, gross, fee, net, currency,
        period_start, period_end, status
    ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);`

	linkRevenueSQL = `UPDATE daily_revenue
    SET status = 'processed', payout_id = $1, updated_at = now()
    WHERE owner_id = $2
      AND status = 'pending'
      AND day < $3::date;`

	markPayoutProcessingSQL = `UPDATE payouts
    SET status = 'processing', updated_at = now()
    WHERE id = $1 AND status = 'pending';`

	completePayoutSQL = `UPDATE payouts
    SET status = 'completed', transfer_id = $2, updated_at = now()
    WHERE id = $1 AND status = 'processing';`

	markRevenuePaidSQL = `UPDATE daily_revenue
    SET status = 'paid', updated_at = now()
    WHERE payout_id = $1 AND status = 'processed';`

	failPayoutSQL = `UPDATE payouts
    SET status = 'failed', failure_reason = $2, updated_at = now()
    WHERE id = $1 AND status IN ('pending', 'processing');`

	revertRevenueSQL = `UPDATE daily_revenue
    SET status = 'pending', payout_id = NULL, updated_at = now()
    WHERE payout_id = $1 AND status = 'processed';`

	listRecentPayoutsSQL = `SELECT
        id, owner_id, gross, fee, net, currency,
        period_start, period_end, status, transfer_id, failure_reason,
        created_at, updated_at
    FROM payouts
    ORDER BY created_at DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// VisitStore defines the durable append and dedup query for visit records.
type VisitStore interface {
	InsertVisit(ctx context.Context, visit VisitRecord, dedupWindow time.Duration) (VisitRecord, error)
	ListRecentVisits(ctx context.Context, limit int) ([]VisitRecord, error)
}

// RevenueStore defines daily rollup persistence.
type RevenueStore interface {
	RollupDay(ctx context.Context, day time.Time) (int64, error)
	PendingBalances(ctx context.Context, before time.Time) ([]OwnerBalance, error)
	ListDailyRevenueBetween(ctx context.Context, from, to time.Time) ([]DailyRevenue, error)
}

// PayoutStore defines payout creation and status transitions.
type PayoutStore interface {
	CreatePayout(ctx context.Context, payout Payout) error
	MarkPayoutProcessing(ctx context.Context, id string) error
	MarkPayoutCompleted(ctx context.Context, id, transferID string) error
	MarkPayoutFailed(ctx context.Context, id, reason string) error
	ListRecentPayouts(ctx context.Context, limit int) ([]Payout, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to visits, daily revenue, and payouts.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// OwnerLockKey derives a stable advisory lock key from an owner id.
func OwnerLockKey(ownerID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("payout:" + ownerID))
	return int64(h.Sum64())
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// InsertVisit appends a visit record, deciding billability atomically in the
// same statement: a visit bills only when no record for the same
// (site, ip, url) exists inside the trailing dedup window. The returned
// record carries the flag and amount the database settled on.
func (s *Store) InsertVisit(ctx context.Context, visit VisitRecord, dedupWindow time.Duration) (VisitRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return VisitRecord{}, err
	}

	row := pool.QueryRow(ctx, insertVisitSQL,
		visit.SiteID,
		visit.OwnerID,
		visit.BotName,
		visit.BotCompany,
		visit.IP,
		visit.URL,
		visit.Revenue.String(),
		visit.DedupDegraded,
		visit.OccurredAt,
		dedupWindow.Seconds(),
	)

	stored := visit
	var revenueStr string
	if err := row.Scan(&stored.ID, &stored.IsBillable, &revenueStr, &stored.CreatedAt); err != nil {
		return VisitRecord{}, fmt.Errorf("insert visit: %w", err)
	}
	stored.Revenue, err = decimal.NewFromString(revenueStr)
	if err != nil {
		return VisitRecord{}, fmt.Errorf("parse stored revenue: %w", err)
	}
	return stored, nil
}

// ListRecentVisits lists the most recent visit records.
func (s *Store) ListRecentVisits(ctx context.Context, limit int) ([]VisitRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentVisitsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent visits: %w", queryErr)
	}
	defer rows.Close()

	visits := make([]VisitRecord, 0, limit)
	for rows.Next() {
		visit, scanErr := scanVisit(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		visits = append(visits, visit)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return visits, nil
}

// RollupDay upserts daily revenue rows for every owner x site with visits on
// the given day. Re-running overwrites rather than accumulates, so the job
// is idempotent; rows already swept into a payout are left alone.
func (s *Store) RollupDay(ctx context.Context, day time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	tag, execErr := pool.Exec(ctx, rollupDaySQL, day.UTC().Truncate(24*time.Hour))
	if execErr != nil {
		return 0, fmt.Errorf("rollup day: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

// PendingBalances sums pending daily revenue per owner for all days before
// the cutoff, however old. Status, not period membership, decides whether a
// row is owed.
func (s *Store) PendingBalances(ctx context.Context, before time.Time) ([]OwnerBalance, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, pendingBalancesSQL, before)
	if queryErr != nil {
		return nil, fmt.Errorf("pending balances: %w", queryErr)
	}
	defer rows.Close()

	balances := make([]OwnerBalance, 0)
	for rows.Next() {
		var b OwnerBalance
		var amountStr string
		if err := rows.Scan(&b.OwnerID, &amountStr, &b.FirstDay, &b.LastDay); err != nil {
			return nil, err
		}
		b.Amount, err = decimal.NewFromString(amountStr)
		if err != nil {
			return nil, fmt.Errorf("parse balance amount: %w", err)
		}
		balances = append(balances, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return balances, nil
}

// ListDailyRevenueBetween lists rollup rows within a date window.
func (s *Store) ListDailyRevenueBetween(ctx context.Context, from, to time.Time) ([]DailyRevenue, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listDailyRevenueSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list daily revenue: %w", queryErr)
	}
	defer rows.Close()

	result := make([]DailyRevenue, 0)
	for rows.Next() {
		rec, scanErr := scanDailyRevenue(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		result = append(result, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return result, nil
}

// CreatePayout creates a payout covering all of the owner's pending rows up
// to the period end and links those rows to it, in one transaction. The
// payout's gross must equal the locked pending sum exactly; a mismatch means
// concurrent mutation and aborts the run.
func (s *Store) CreatePayout(ctx context.Context, payout Payout) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin payout tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var lockedStr string
	if err := tx.QueryRow(ctx, lockPendingRevenueSQL,
		payout.OwnerID, payout.PeriodEnd,
	).Scan(&lockedStr); err != nil {
		return fmt.Errorf("lock pending revenue: %w", err)
	}
	locked, err := decimal.NewFromString(lockedStr)
	if err != nil {
		return fmt.Errorf("parse locked amount: %w", err)
	}
	if !locked.Equal(payout.Gross) {
		return fmt.Errorf("%w: pending sum %s != payout gross %s for owner %s",
			ErrInvariant, locked, payout.Gross, payout.OwnerID)
	}

	if _, err := tx.Exec(ctx, insertPayoutSQL,
		payout.ID,
		payout.OwnerID,
		payout.Gross.String(),
		payout.Fee.String(),
		payout.Net.String(),
		payout.Currency,
		payout.PeriodStart,
		payout.PeriodEnd,
		string(PayoutPending),
	); err != nil {
		return fmt.Errorf("insert payout: %w", err)
	}

	if _, err := tx.Exec(ctx, linkRevenueSQL,
		payout.ID, payout.OwnerID, payout.PeriodEnd,
	); err != nil {
		return fmt.Errorf("link revenue rows: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit payout tx: %w", err)
	}
	return nil
}

// MarkPayoutProcessing moves a pending payout to processing.
func (s *Store) MarkPayoutProcessing(ctx context.Context, id string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, execErr := pool.Exec(ctx, markPayoutProcessingSQL, id)
	if execErr != nil {
		return fmt.Errorf("mark payout processing: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// MarkPayoutCompleted records a successful transfer and marks linked rows paid.
func (s *Store) MarkPayoutCompleted(ctx context.Context, id, transferID string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin complete tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, execErr := tx.Exec(ctx, completePayoutSQL, id, transferID)
	if execErr != nil {
		return fmt.Errorf("complete payout: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	if _, err := tx.Exec(ctx, markRevenuePaidSQL, id); err != nil {
		return fmt.Errorf("mark revenue paid: %w", err)
	}
	return tx.Commit(ctx)
}

// MarkPayoutFailed records a failed transfer and reverts linked rows to
// pending so the next scheduled run retries them.
func (s *Store) MarkPayoutFailed(ctx context.Context, id, reason string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin fail tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, execErr := tx.Exec(ctx, failPayoutSQL, id, reason)
	if execErr != nil {
		return fmt.Errorf("fail payout: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	if _, err := tx.Exec(ctx, revertRevenueSQL, id); err != nil {
		return fmt.Errorf("revert revenue rows: %w", err)
	}
	return tx.Commit(ctx)
}

// ListRecentPayouts lists most recent payouts.
func (s *Store) ListRecentPayouts(ctx context.Context, limit int) ([]Payout, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentPayoutsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent payouts: %w", queryErr)
	}
	defer rows.Close()

	payouts := make([]Payout, 0, limit)
	for rows.Next() {
		payout, scanErr := scanPayout(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		payouts = append(payouts, payout)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return payouts, nil
}

func scanVisit(rows pgx.Rows) (VisitRecord, error) {
	var (
		visit      VisitRecord
		revenueStr string
	)
	if err := rows.Scan(
		&visit.ID,
		&visit.SiteID,
		&visit.OwnerID,
		&visit.BotName,
		&visit.BotCompany,
		&visit.IP,
		&visit.URL,
		&visit.IsBillable,
		&revenueStr,
		&visit.DedupDegraded,
		&visit.OccurredAt,
		&visit.CreatedAt,
	); err != nil {
		return VisitRecord{}, err
	}

	revenue, err := decimal.NewFromString(revenueStr)
	if err != nil {
		return VisitRecord{}, fmt.Errorf("parse visit revenue: %w", err)
	}
	visit.Revenue = revenue
	return visit, nil
}

func scanDailyRevenue(rows pgx.Rows) (DailyRevenue, error) {
	var (
		rec       DailyRevenue
		amountStr string
		status    string
	)
	if err := rows.Scan(
		&rec.OwnerID,
		&rec.SiteID,
		&rec.Day,
		&rec.VisitCount,
		&rec.BillableCount,
		&amountStr,
		&status,
		&rec.PayoutID,
		&rec.UpdatedAt,
	); err != nil {
		return DailyRevenue{}, err
	}

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return DailyRevenue{}, fmt.Errorf("parse daily amount: %w", err)
	}
	rec.Amount = amount
	rec.Status = RevenueStatus(status)
	return rec, nil
}

func scanPayout(rows pgx.Rows) (Payout, error) {
	var (
		payout   Payout
		grossStr string
		feeStr   string
		netStr   string
		status   string
	)
	if err := rows.Scan(
		&payout.ID,
		&payout.OwnerID,
		&grossStr,
		&feeStr,
		&netStr,
		&payout.Currency,
		&payout.PeriodStart,
		&payout.PeriodEnd,
		&status,
		&payout.TransferID,
		&payout.FailureReason,
		&payout.CreatedAt,
		&payout.UpdatedAt,
	); err != nil {
		return Payout{}, err
	}

	var err error
	if payout.Gross, err = decimal.NewFromString(grossStr); err != nil {
		return Payout{}, fmt.Errorf("parse payout gross: %w", err)
	}
	if payout.Fee, err = decimal.NewFromString(feeStr); err != nil {
		return Payout{}, fmt.Errorf("parse payout fee: %w", err)
	}
	if payout.Net, err = decimal.NewFromString(netStr); err != nil {
		return Payout{}, fmt.Errorf("parse payout net: %w", err)
	}
	payout.Status = PayoutStatus(status)
	return payout, nil
}
