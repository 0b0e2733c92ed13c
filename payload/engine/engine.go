// Package engine wires the byte source, ZIP locator, framer, manifest
// decoder, scheduler, and verifier together into the single entry point the
// CLI calls — the control flow described in spec §2.
package engine

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/coreos/pkg/capnslog"

	"github.com/indrora/payload-extract/payload"
	"github.com/indrora/payload-extract/payload/framer"
	"github.com/indrora/payload-extract/payload/manifest"
	"github.com/indrora/payload-extract/payload/ops"
	"github.com/indrora/payload-extract/payload/progress"
	"github.com/indrora/payload-extract/payload/scheduler"
	"github.com/indrora/payload-extract/payload/source"
	"github.com/indrora/payload-extract/payload/verify"
	"github.com/indrora/payload-extract/payload/zipfind"
)

var plog = capnslog.NewPackageLogger("github.com/indrora/payload-extract", "engine")

// Options configures one extraction run, built directly from the CLI's
// parsed flags (spec §6).
type Options struct {
	Input       string // local path or http(s) URL
	OutDir      string
	OldDir      string // non-empty enables differential mode
	Threads     int
	Images      []string
	Verify      bool
	Prefetch    bool
	UserAgent   string
	Cookie      string
	ManifestCap int64
}

// Result is the outcome of one extraction run: the decoded manifest (for
// --list/--metadata rendering) plus a per-partition result list.
type Result struct {
	Header     *payload.Header
	Manifest   *payload.Manifest
	Partitions []scheduler.Result
}

// ProgressSink receives a callback when a partition starts, after every
// operation completes, and after every partition finishes, the way
// progress.Bus.Subscribe does.
type ProgressSink func(index int, status progress.PartitionStatus)

// Run performs a full extraction: open the input, locate and frame the
// payload, decode its manifest, schedule every matching partition across
// the worker pool, and verify each produced image's digest. sink may be nil
// when the caller doesn't want progress callbacks (e.g. --list/--metadata).
func Run(opts Options, sink ProgressSink) (*Result, error) {
	raw, err := openInput(opts)
	if err != nil {
		return nil, err
	}

	safeSrc := source.Open(raw)

	payloadSrc, err := locatePayload(safeSrc)
	if err != nil {
		raw.Close()
		return nil, err
	}

	hdr, err := framer.Frame(payloadSrc, opts.ManifestCap)
	if err != nil {
		raw.Close()
		return nil, err
	}

	manifestBytes, err := framer.ReadManifestBytes(payloadSrc, hdr)
	if err != nil {
		raw.Close()
		return nil, err
	}

	mf, err := manifest.Decode(manifestBytes)
	if err != nil {
		raw.Close()
		return nil, err
	}

	if err := os.MkdirAll(opts.OutDir, 0755); err != nil {
		raw.Close()
		return nil, payload.Wrap(payload.KindIoWrite, err, "create output directory %s", opts.OutDir)
	}

	blobSize := payloadSrc.Len() - int64(hdr.BlobOffset)
	blobSrc := source.NewSub(payloadSrc, int64(hdr.BlobOffset), blobSize)

	names := make([]string, len(mf.Partitions))
	for i, p := range mf.Partitions {
		names[i] = p.Name
	}
	bus := progress.NewBus(names)
	if sink != nil {
		bus.Subscribe(sink)
	}

	schedOpts := scheduler.Options{
		Threads:    opts.Threads,
		Images:     opts.Images,
		BlobSource: blobSrc,
		BlockSize:  mf.BlockSize,
		Interpreter: ops.Options{
			OutDir: opts.OutDir,
			OldDir: opts.OldDir,
			Verify: opts.Verify,
		},
	}

	results := scheduler.Run(mf, schedOpts, bus)

	if opts.Verify {
		verifyOutputs(opts.OutDir, mf, results)
	}

	raw.Close()

	return &Result{Header: hdr, Manifest: mf, Partitions: results}, nil
}

func verifyOutputs(outDir string, mf *payload.Manifest, results []scheduler.Result) {
	byName := make(map[string]*payload.PartitionInfo, len(mf.Partitions))
	for i := range mf.Partitions {
		byName[mf.Partitions[i].Name] = mf.Partitions[i].NewInfo
	}
	for i, r := range results {
		if r.Err != nil {
			continue
		}
		info := byName[r.Partition]
		if info == nil || len(info.SHA256) == 0 {
			continue
		}
		path := filepath.Join(outDir, r.Partition+".img")
		if err := verify.File(path, info.SHA256); err != nil {
			results[i].Err = err
		}
	}
}

func openInput(opts Options) (source.ByteSource, error) {
	if isURL(opts.Input) {
		if opts.Prefetch {
			return source.NewPrefetched(opts.Input, opts.UserAgent, opts.Cookie)
		}
		h, probe, err := source.NewHttpRange(opts.Input, opts.UserAgent, opts.Cookie)
		if err != nil {
			return nil, err
		}
		if h.RangesSupported() {
			return h, nil
		}
		plog.Infof("downgrading %s to a prefetched mirror (no range support)", opts.Input)
		pf, err := source.NewPrefetchedFromReader(bytes.NewReader(probe))
		h.Close()
		return pf, err
	}
	return source.OpenLocalFile(opts.Input)
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// locatePayload returns a ByteSource rooted at the payload's "CrAU" magic:
// either an outer ZIP's located payload.bin member, or src itself when it
// is already a bare payload.bin (no EOCD record found).
func locatePayload(src source.ByteSource) (source.ByteSource, error) {
	entry, err := zipfind.Locate(src)
	if err != nil {
		if pe, ok := err.(*payload.Error); ok && pe.Kind == payload.KindNotAZip {
			return src, nil
		}
		return nil, err
	}
	return source.NewSub(src, entry.DataOffset, entry.Size), nil
}
