package service

import (
	"context"
	"testing"
	"time"
)

func TestAcquireSlotRespectsCapacity(t *testing.T) {
	l := NewLifecycle(1, time.Second)

	release1, ok := l.AcquireSlot()
	if !ok {
		t.Fatal("expected first acquisition to succeed")
	}
	if _, ok := l.AcquireSlot(); ok {
		t.Fatal("expected second acquisition to fail while capacity is exhausted")
	}
	if got := l.InFlight(); got != 1 {
		t.Fatalf("InFlight() = %d, want 1", got)
	}

	release1()
	if _, ok := l.AcquireSlot(); !ok {
		t.Fatal("expected acquisition to succeed after release")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	l := NewLifecycle(2, time.Second)
	release, ok := l.AcquireSlot()
	if !ok {
		t.Fatal("expected acquisition to succeed")
	}
	release()
	release()
	if got := l.InFlight(); got != 0 {
		t.Fatalf("InFlight() = %d, want 0 after double release", got)
	}
}

func TestAcquireSlotFailsDuringShutdown(t *testing.T) {
	l := NewLifecycle(4, time.Second)
	l.MarkReady()
	go l.Shutdown(context.Background())
	time.Sleep(5 * time.Millisecond)
	if _, ok := l.AcquireSlot(); ok {
		t.Fatal("expected acquisition to fail once shutdown has begun")
	}
}

func TestReadyReportsFalseUntilMarked(t *testing.T) {
	l := NewLifecycle(1, time.Second)
	if l.Ready() {
		t.Fatal("expected Ready() to be false before MarkReady")
	}
	l.MarkReady()
	if !l.Ready() {
		t.Fatal("expected Ready() to be true after MarkReady")
	}
}

func TestShutdownDrainsInFlightBeforeDeadline(t *testing.T) {
	l := NewLifecycle(1, time.Second)
	l.MarkReady()

	release, ok := l.AcquireSlot()
	if !ok {
		t.Fatal("expected acquisition to succeed")
	}
	go func() {
		time.Sleep(20 * time.Millisecond)
		release()
	}()

	if !l.Shutdown(context.Background()) {
		t.Fatal("expected Shutdown to report a clean drain")
	}
	if l.Ready() {
		t.Fatal("expected Ready() to be false once shutdown has begun")
	}
}

func TestShutdownReportsFalseOnDrainTimeout(t *testing.T) {
	l := NewLifecycle(1, 20*time.Millisecond)
	l.MarkReady()

	if _, ok := l.AcquireSlot(); !ok {
		t.Fatal("expected acquisition to succeed")
	}
	// Slot is never released.
	if l.Shutdown(context.Background()) {
		t.Fatal("expected Shutdown to report a timed-out drain")
	}
}
