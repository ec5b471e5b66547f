package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestOwnerLockKeyStable(t *testing.T) {
	a := OwnerLockKey("owner-1")
	b := OwnerLockKey("owner-1")
	if a != b {
		t.Fatalf("lock key not stable: %d vs %d", a, b)
	}
	if a == OwnerLockKey("owner-2") {
		t.Fatalf("distinct owners collide on %d", a)
	}
}

func TestNilStoreReturnsNotConfigured(t *testing.T) {
	var s *Store
	ctx := context.Background()

	if _, err := s.InsertVisit(ctx, VisitRecord{}, time.Minute); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("InsertVisit err = %v", err)
	}
	if _, err := s.RollupDay(ctx, time.Now()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("RollupDay err = %v", err)
	}
	if err := s.CreatePayout(ctx, Payout{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("CreatePayout err = %v", err)
	}
	if _, _, err := s.TryAdvisoryLock(ctx, 1); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("TryAdvisoryLock err = %v", err)
	}
}
