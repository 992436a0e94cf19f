package breaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func failing(ctx context.Context) error { return errBoom }
func succeeding(ctx context.Context) error { return nil }

// newTestBreaker returns a breaker with a controllable clock.
func newTestBreaker(settings Settings) (*Breaker, *time.Time) {
	b := New(settings)
	now := time.Unix(1700000000, 0)
	b.now = func() time.Time { return now }
	return b, &now
}

func TestOpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(Settings{FailureThreshold: 3, RecoveryTimeout: 30 * time.Second})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := b.Execute(ctx, "transport", failing, nil); !errors.Is(err, errBoom) {
			t.Fatalf("attempt %d: expected op error, got %v", i, err)
		}
	}

	if got := b.State("transport"); got != Open {
		t.Fatalf("expected open after threshold, got %v", got)
	}

	// Calls are now short-circuited
	if err := b.Execute(ctx, "transport", failing, nil); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestFallbackRunsWhenOpen(t *testing.T) {
	b, _ := newTestBreaker(Settings{FailureThreshold: 1})
	ctx := context.Background()

	b.Execute(ctx, "store", failing, nil)

	ran := false
	err := b.Execute(ctx, "store", failing, func(ctx context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("fallback should not error: %v", err)
	}
	if !ran {
		t.Fatal("fallback did not run")
	}
}

func TestHalfOpenClosesAfterSuccesses(t *testing.T) {
	b, now := newTestBreaker(Settings{FailureThreshold: 2, RecoveryTimeout: 10 * time.Second, SuccessToClose: 2})
	ctx := context.Background()

	b.Execute(ctx, "db", failing, nil)
	b.Execute(ctx, "db", failing, nil)
	if got := b.State("db"); got != Open {
		t.Fatalf("expected open, got %v", got)
	}

	// Before the recovery timeout the circuit stays open
	if err := b.Execute(ctx, "db", succeeding, nil); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected short-circuit before recovery, got %v", err)
	}

	*now = now.Add(11 * time.Second)

	// First probe succeeds -> still half-open
	if err := b.Execute(ctx, "db", succeeding, nil); err != nil {
		t.Fatalf("half-open probe failed: %v", err)
	}
	if got := b.State("db"); got != HalfOpen {
		t.Fatalf("expected half-open after one success, got %v", got)
	}

	// Second success closes the circuit
	if err := b.Execute(ctx, "db", succeeding, nil); err != nil {
		t.Fatalf("second probe failed: %v", err)
	}
	if got := b.State("db"); got != Closed {
		t.Fatalf("expected closed, got %v", got)
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker(Settings{FailureThreshold: 2, RecoveryTimeout: 10 * time.Second})
	ctx := context.Background()

	b.Execute(ctx, "transport", failing, nil)
	b.Execute(ctx, "transport", failing, nil)
	*now = now.Add(11 * time.Second)

	// Probe fails -> straight back to open
	if err := b.Execute(ctx, "transport", failing, nil); !errors.Is(err, errBoom) {
		t.Fatalf("expected probe to run, got %v", err)
	}
	if err := b.Execute(ctx, "transport", succeeding, nil); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected reopened circuit, got %v", err)
	}
}

func TestServicesAreIndependent(t *testing.T) {
	b, _ := newTestBreaker(Settings{FailureThreshold: 1})
	ctx := context.Background()

	b.Execute(ctx, "transport", failing, nil)

	if err := b.Execute(ctx, "db", succeeding, nil); err != nil {
		t.Fatalf("unrelated service affected: %v", err)
	}
	if got := b.State("db"); got != Closed {
		t.Fatalf("expected db closed, got %v", got)
	}
	if got := b.State("transport"); got != Open {
		t.Fatalf("expected transport open, got %v", got)
	}
}
