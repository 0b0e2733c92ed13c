package progress

import (
	"errors"
	"testing"
)

func TestBusStartCompleteFinish(t *testing.T) {
	b := NewBus([]string{"boot", "system"})

	b.Start(0, 3, "worker-0")
	b.CompleteOp(0)
	b.CompleteOp(0)
	b.Finish(0, nil)

	snap := b.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("Snapshot len = %d, want 2", len(snap))
	}
	if snap[0].TotalOps != 3 || snap[0].CompletedOps != 2 || !snap[0].Done {
		t.Errorf("unexpected status: %+v", snap[0])
	}
	if snap[1].Done {
		t.Errorf("untouched partition should not be Done")
	}
}

func TestBusFinishRecordsError(t *testing.T) {
	b := NewBus([]string{"boot"})
	b.Start(0, 1, "w")
	failure := errors.New("disk full")
	b.Finish(0, failure)

	snap := b.Snapshot()
	if snap[0].Err != failure {
		t.Errorf("Err = %v, want %v", snap[0].Err, failure)
	}
}

func TestBusSubscribeReceivesUpdates(t *testing.T) {
	b := NewBus([]string{"boot"})
	var calls int
	var lastStatus PartitionStatus
	b.Subscribe(func(index int, status PartitionStatus) {
		calls++
		lastStatus = status
	})

	b.Start(0, 2, "w")
	b.CompleteOp(0)

	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
	if lastStatus.CompletedOps != 1 {
		t.Errorf("CompletedOps = %d, want 1", lastStatus.CompletedOps)
	}
}

func TestBusCancel(t *testing.T) {
	b := NewBus(nil)
	if b.Cancelled() {
		t.Fatalf("should not start cancelled")
	}
	b.Cancel()
	if !b.Cancelled() {
		t.Fatalf("should be cancelled after Cancel()")
	}
}
