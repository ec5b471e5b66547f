package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// VisitRecord is the append-only audit row for one detected bot request.
// Non-billable duplicates are recorded too; only the billable flag and the
// revenue amount differ.
type VisitRecord struct {
	ID            int64
	SiteID        string
	OwnerID       string
	BotName       string
	BotCompany    string
	IP            string
	URL           string
	IsBillable    bool
	Revenue       decimal.Decimal
	DedupDegraded bool
	OccurredAt    time.Time
	CreatedAt     time.Time
}

// RevenueStatus tracks a daily revenue row through settlement.
type RevenueStatus string

const (
	RevenuePending   RevenueStatus = "pending"
	RevenueProcessed RevenueStatus = "processed"
	RevenuePaid      RevenueStatus = "paid"
	RevenueCancelled RevenueStatus = "cancelled"
)

// DailyRevenue is one owner x site x date rollup row, upserted by the daily
// job and mutated again when swept into a payout.
type DailyRevenue struct {
	OwnerID       string
	SiteID        string
	Day           time.Time
	VisitCount    int64
	BillableCount int64
	Amount        decimal.Decimal
	Status        RevenueStatus
	PayoutID      *string
	UpdatedAt     time.Time
}

// PayoutStatus tracks a payout through the external transfer.
type PayoutStatus string

const (
	PayoutPending    PayoutStatus = "pending"
	PayoutProcessing PayoutStatus = "processing"
	PayoutCompleted  PayoutStatus = "completed"
	PayoutFailed     PayoutStatus = "failed"
	PayoutCancelled  PayoutStatus = "cancelled"
)

// Payout is one settlement transfer to an owner. net = gross - fee always.
type Payout struct {
	ID            string
	OwnerID       string
	Gross         decimal.Decimal
	Fee           decimal.Decimal
	Net           decimal.Decimal
	Currency      string
	PeriodStart   time.Time
	PeriodEnd     time.Time
	Status        PayoutStatus
	TransferID    *string
	FailureReason *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// OwnerBalance is the pending revenue summary used for payout eligibility.
type OwnerBalance struct {
	OwnerID  string
	Amount   decimal.Decimal
	FirstDay time.Time
	LastDay  time.Time
}
