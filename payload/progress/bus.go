// Package progress implements the process-wide progress registry and
// cooperative-cancellation flag shared by every scheduler worker. Both are
// small, independently-locked structures: the design note calls for
// narrow critical sections here, not one coarse lock, because throughput
// depends on releasing the source-level read lock across decompression —
// folding progress reporting into that lock would serialize unrelated work.
package progress

import (
	"sync"
	"sync/atomic"
)

// PartitionStatus is one partition's live progress, keyed by index in the
// order partitions were enqueued.
type PartitionStatus struct {
	Name          string
	ThreadTag     string
	TotalOps      int
	CompletedOps  int
	Done          bool
	Err           error
}

// Bus is the shared progress registry plus the cancellation flag.
type Bus struct {
	mu        sync.Mutex
	statuses  []*PartitionStatus
	cancelled atomic.Bool

	sinkMu sync.Mutex
	sink   func(index int, status PartitionStatus)
}

// NewBus preallocates a status slot per partition, in enqueue order.
func NewBus(partitionNames []string) *Bus {
	statuses := make([]*PartitionStatus, len(partitionNames))
	for i, name := range partitionNames {
		statuses[i] = &PartitionStatus{Name: name}
	}
	return &Bus{statuses: statuses}
}

// Subscribe registers a callback invoked after every Start, CompleteOp and
// Finish, letting a UI layer receive per-operation callbacks instead of
// polling Snapshot.
func (b *Bus) Subscribe(sink func(index int, status PartitionStatus)) {
	b.sinkMu.Lock()
	defer b.sinkMu.Unlock()
	b.sink = sink
}

func (b *Bus) notify(index int) {
	b.mu.Lock()
	status := *b.statuses[index]
	b.mu.Unlock()

	b.sinkMu.Lock()
	sink := b.sink
	b.sinkMu.Unlock()
	if sink != nil {
		sink(index, status)
	}
}

// Start records the total operation count and worker thread tag for a
// partition when its worker begins.
func (b *Bus) Start(index int, totalOps int, threadTag string) {
	b.mu.Lock()
	b.statuses[index].TotalOps = totalOps
	b.statuses[index].ThreadTag = threadTag
	b.mu.Unlock()
	b.notify(index)
}

// CompleteOp increments the completed-operation counter for a partition.
// Workers call this after each successful operation, under the bus's
// single mutex — the critical section is just an increment.
func (b *Bus) CompleteOp(index int) {
	b.mu.Lock()
	b.statuses[index].CompletedOps++
	b.mu.Unlock()
	b.notify(index)
}

// Finish records a partition's terminal outcome (nil err on success).
func (b *Bus) Finish(index int, err error) {
	b.mu.Lock()
	b.statuses[index].Done = true
	b.statuses[index].Err = err
	b.mu.Unlock()
	b.notify(index)
}

// Snapshot returns a copy of the current status table, for a UI layer that
// prefers polling over callbacks.
func (b *Bus) Snapshot() []PartitionStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]PartitionStatus, len(b.statuses))
	for i, s := range b.statuses {
		out[i] = *s
	}
	return out
}

// Cancel sets the shared cancellation flag. Workers check it between
// operations and between range requests, and it is never cleared once set.
func (b *Bus) Cancel() { b.cancelled.Store(true) }

// Cancelled reports whether Cancel has been called.
func (b *Bus) Cancelled() bool { return b.cancelled.Load() }
