// v1
// internal/notify/notify_test.go
package notify

import (
	"io"
	"log/slog"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRingNewestFirst(t *testing.T) {
	r := NewRing(testLogger(), 10)
	r.Notify(KindNoData, "first")
	r.Notify(KindFetchFailed, "second")

	got := r.Recent(0)
	if len(got) != 2 {
		t.Fatalf("expected 2 notices, got %d", len(got))
	}
	if got[0].Message != "second" || got[1].Message != "first" {
		t.Fatalf("wrong order: %+v", got)
	}
	if got[0].ID == "" || got[0].ID == got[1].ID {
		t.Fatalf("notices must carry distinct ids")
	}
}

func TestRingBounded(t *testing.T) {
	r := NewRing(testLogger(), 3)
	for i := 0; i < 10; i++ {
		r.Notify(KindNoData, "n")
	}
	if got := len(r.Recent(0)); got != 3 {
		t.Fatalf("ring must cap at 3, got %d", got)
	}
}

func TestRingRecentLimit(t *testing.T) {
	r := NewRing(testLogger(), 10)
	for i := 0; i < 5; i++ {
		r.Notify(KindFetchFailed, "n")
	}
	if got := len(r.Recent(2)); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
}

func TestRingCountByKind(t *testing.T) {
	r := NewRing(testLogger(), 10)
	r.Notify(KindFetchFailed, "a")
	r.Notify(KindNoData, "b")
	r.Notify(KindFetchFailed, "c")
	if got := r.CountByKind(KindFetchFailed); got != 2 {
		t.Fatalf("expected 2 fetch_failed, got %d", got)
	}
	r.Reset()
	if got := r.CountByKind(KindFetchFailed); got != 0 {
		t.Fatalf("expected empty after reset, got %d", got)
	}
}

func TestRingDismiss(t *testing.T) {
	r := NewRing(testLogger(), 10)
	r.Notify(KindNoData, "keep")
	r.Notify(KindFetchFailed, "drop")

	target := r.Recent(0)[0]
	if !r.Dismiss(target.ID) {
		t.Fatalf("expected dismiss to find %s", target.ID)
	}
	if r.Dismiss(target.ID) {
		t.Fatalf("second dismiss of %s must report false", target.ID)
	}

	left := r.Recent(0)
	if len(left) != 1 || left[0].Message != "keep" {
		t.Fatalf("wrong survivor: %+v", left)
	}
	if r.Dismiss("not-a-real-id") {
		t.Fatalf("unknown id must not dismiss anything")
	}
}
