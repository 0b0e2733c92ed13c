package main

import (
	"testing"

	"github.com/indrora/payload-extract/payload"
	"github.com/indrora/payload-extract/payload/engine"
	"github.com/indrora/payload-extract/payload/scheduler"
)

func TestReportOutcomeSurfacesWorstKind(t *testing.T) {
	result := &engine.Result{
		Partitions: []scheduler.Result{
			{Index: 0, Partition: "boot", Err: nil},
			{Index: 1, Partition: "system", Err: payload.WrapPartition(payload.KindIoWrite, "system", nil, "disk full")},
			{Index: 2, Partition: "vendor", Err: payload.WrapPartition(payload.KindOutputHashMismatch, "vendor", nil, "digest mismatch")},
		},
	}

	err := reportOutcome(result)
	if err == nil {
		t.Fatalf("expected an error, got nil")
	}
	if got := payload.ExitCode(err); got != 4 {
		t.Errorf("ExitCode = %d, want 4 (KindOutputHashMismatch should win over KindIoWrite)", got)
	}
}

func TestReportOutcomeSurfacesCancellation(t *testing.T) {
	result := &engine.Result{
		Partitions: []scheduler.Result{
			{Index: 0, Partition: "boot", Err: payload.WrapPartition(payload.KindOutputHashMismatch, "boot", nil, "digest mismatch")},
			{Index: 1, Partition: "system", Err: payload.WrapPartition(payload.KindCancelled, "system", nil, "cancelled")},
		},
	}

	err := reportOutcome(result)
	if got := payload.ExitCode(err); got != 5 {
		t.Errorf("ExitCode = %d, want 5 (KindCancelled should win over KindOutputHashMismatch)", got)
	}
}

func TestReportOutcomeNoFailures(t *testing.T) {
	result := &engine.Result{
		Partitions: []scheduler.Result{
			{Index: 0, Partition: "boot", Err: nil},
		},
	}
	if err := reportOutcome(result); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}
