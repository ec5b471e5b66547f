package notify

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Kind names a domain event the engine emits.
type Kind string

const (
	KindPayoutCompleted Kind = "payout_completed"
	KindPayoutFailed    Kind = "payout_failed"
	KindDetectionBurst  Kind = "detection_burst"
)

// Event is one emitted domain event. The engine publishes; whoever sends
// emails or pages subscribes.
type Event struct {
	Kind     Kind
	OwnerID  string
	SiteID   string
	PayoutID string
	Amount   decimal.Decimal
	Currency string
	Detail   string
	At       time.Time
}

// Notifier delivers events to one channel.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Multi fans an event out to every configured channel; one failing channel
// does not stop the others.
type Multi []Notifier

// Notify delivers to all channels and returns the first error seen.
func (m Multi) Notify(ctx context.Context, event Event) error {
	var firstErr error
	for _, n := range m {
		if err := n.Notify(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ Notifier = Multi(nil)
