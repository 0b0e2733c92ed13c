// Package scheduler runs a FIFO queue of partitions across a fixed pool of
// worker goroutines, in the style of flatcar-mantle's leaseUpdater
// (platform/api/esx/lease.go): a WaitGroup tracks worker completion, and a
// shared channel hands out work items until the queue drains.
package scheduler

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/coreos/pkg/capnslog"

	"github.com/indrora/payload-extract/payload"
	"github.com/indrora/payload-extract/payload/ops"
	"github.com/indrora/payload-extract/payload/progress"
	"github.com/indrora/payload-extract/payload/source"
)

var plog = capnslog.NewPackageLogger("github.com/indrora/payload-extract", "scheduler")

// Options controls how the partition queue is filtered and parallelized.
type Options struct {
	Threads     int      // worker count; <=1 runs a single worker goroutine
	Images      []string // substring filters; nil/empty means "all partitions"
	BlobSource  source.ByteSource
	Interpreter ops.Options
	BlockSize   uint64 // manifest's declared block_size; propagated into Interpreter
}

type job struct {
	index int
	part  *payload.PartitionUpdate
}

// Result is one partition's terminal outcome.
type Result struct {
	Index     int
	Partition string
	Err       error
}

// Run filters manifest.Partitions against opts.Images (substring match,
// case-sensitive, matching the teacher's extract.go --force-prefix style
// plain string comparison), then executes the filtered set across
// opts.Threads workers, returning one Result per scheduled partition, sorted
// by manifest index. A zero or negative Threads is treated as 1, and a
// Threads above the filtered queue length is capped at that length —
// spec's "min(threads, queue_len)" worker count.
func Run(manifest *payload.Manifest, opts Options, bus *progress.Bus) []Result {
	jobs := filterPartitions(manifest.Partitions, opts.Images)

	threads := opts.Threads
	if threads <= 0 {
		threads = 1
	}
	if threads > len(jobs) {
		threads = len(jobs)
	}
	if threads == 0 {
		return nil
	}

	interpOpts := opts.Interpreter
	interpOpts.BlockSize = opts.BlockSize
	interp := ops.New(opts.BlobSource, interpOpts, bus)

	queue := make(chan job, len(jobs))
	for _, j := range jobs {
		queue <- j
	}
	close(queue)

	results := make(chan Result, len(jobs))
	var wg sync.WaitGroup

	for w := 0; w < threads; w++ {
		wg.Add(1)
		tag := "worker-" + strconv.Itoa(w)
		go func(tag string) {
			defer wg.Done()
			for j := range queue {
				if bus.Cancelled() {
					results <- Result{Index: j.index, Partition: j.part.Name, Err: payload.WrapPartition(payload.KindCancelled, j.part.Name, nil, "cancelled before start")}
					continue
				}
				err := interp.RunPartition(j.index, j.part, tag)
				bus.Finish(j.index, err)
				results <- Result{Index: j.index, Partition: j.part.Name, Err: err}
			}
		}(tag)
	}

	wg.Wait()
	close(results)

	out := make([]Result, 0, len(jobs))
	for r := range results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Index < out[k].Index })
	return out
}

func filterPartitions(all []payload.PartitionUpdate, images []string) []job {
	jobs := make([]job, 0, len(all))
	for i := range all {
		p := &all[i]
		if matchesFilter(p.Name, images) {
			jobs = append(jobs, job{index: i, part: p})
		}
	}
	return jobs
}

func matchesFilter(name string, images []string) bool {
	if len(images) == 0 {
		return true
	}
	for _, f := range images {
		if strings.Contains(name, f) {
			return true
		}
	}
	return false
}
