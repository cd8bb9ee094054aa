// v1
// internal/breaker/breaker_test.go
package breaker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var errBoom = errors.New("boom")

func failing(ctx context.Context) error { return errBoom }
func succeeding(ctx context.Context) error { return nil }

func TestBreakerOpensAfterMaxFailures(t *testing.T) {
	b := New("test", Config{MaxFailures: 3, ResetTimeout: time.Minute}, testLogger(), nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := b.Execute(ctx, failing); !errors.Is(err, errBoom) {
			t.Fatalf("attempt %d: expected boom, got %v", i, err)
		}
	}
	if b.State() != Open {
		t.Fatalf("expected open after 3 failures, got %s", b.State())
	}
	if err := b.Execute(ctx, succeeding); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected fast-fail while open, got %v", err)
	}
}

func TestBreakerFastFailDoesNotInvokeOp(t *testing.T) {
	b := New("test", Config{MaxFailures: 1, ResetTimeout: time.Minute}, testLogger(), nil)
	ctx := context.Background()
	_ = b.Execute(ctx, failing)

	called := false
	_ = b.Execute(ctx, func(ctx context.Context) error {
		called = true
		return nil
	})
	if called {
		t.Fatalf("operation must not run while breaker is open")
	}
}

func TestBreakerRecoversAfterResetTimeout(t *testing.T) {
	b := New("test", Config{MaxFailures: 1, ResetTimeout: 10 * time.Millisecond}, testLogger(), nil)
	ctx := context.Background()
	_ = b.Execute(ctx, failing)
	if b.State() != Open {
		t.Fatalf("expected open, got %s", b.State())
	}

	time.Sleep(20 * time.Millisecond)
	if err := b.Execute(ctx, succeeding); err != nil {
		t.Fatalf("expected success after reset timeout, got %v", err)
	}
	if b.State() != Closed {
		t.Fatalf("expected closed after successful probe, got %s", b.State())
	}
}

func TestBreakerProbeFailureKeepsOpen(t *testing.T) {
	b := New("test", Config{MaxFailures: 1, ResetTimeout: 10 * time.Millisecond}, testLogger(), failing)
	ctx := context.Background()
	_ = b.Execute(ctx, failing)

	time.Sleep(20 * time.Millisecond)
	if err := b.Execute(ctx, succeeding); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen when probe fails, got %v", err)
	}
	if b.State() != Open {
		t.Fatalf("expected breaker to stay open, got %s", b.State())
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := New("test", Config{MaxFailures: 2, ResetTimeout: time.Minute}, testLogger(), nil)
	ctx := context.Background()
	_ = b.Execute(ctx, failing)
	_ = b.Execute(ctx, succeeding)
	_ = b.Execute(ctx, failing)
	if b.State() != Closed {
		t.Fatalf("interleaved success must reset the count, got %s", b.State())
	}
}

func TestBreakerDefaults(t *testing.T) {
	b := New("test", Config{}, testLogger(), nil)
	if b.cfg.MaxFailures != 3 || b.cfg.ResetTimeout != 30*time.Second {
		t.Fatalf("unexpected defaults: %+v", b.cfg)
	}
}
