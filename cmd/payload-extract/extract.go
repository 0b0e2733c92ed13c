/*
Copyright © 2022 Morgan Gangwere <morgan.gangwere@gmail.com>
*/
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/coreos/ioprogress"
	"github.com/spf13/cobra"

	"github.com/indrora/payload-extract/payload"
	"github.com/indrora/payload-extract/payload/engine"
	"github.com/indrora/payload-extract/payload/jsonmeta"
	"github.com/indrora/payload-extract/payload/progress"
)

func runExtract(cmd *cobra.Command, args []string) error {
	input := args[0]

	out, _ := cmd.Flags().GetString("out")
	images, _ := cmd.Flags().GetStringSlice("images")
	threads, _ := cmd.Flags().GetInt("threads")
	noParallel, _ := cmd.Flags().GetBool("no-parallel")
	listOnly, _ := cmd.Flags().GetBool("list")
	noVerify, _ := cmd.Flags().GetBool("no-verify")
	prefetch, _ := cmd.Flags().GetBool("prefetch")
	userAgent, _ := cmd.Flags().GetString("user-agent")
	cookies, _ := cmd.Flags().GetString("cookies")
	diff, _ := cmd.Flags().GetBool("diff")
	oldDir, _ := cmd.Flags().GetString("old")

	if noParallel {
		threads = 1
	}
	if diff && oldDir == "" {
		return payload.Wrap(payload.KindInvalidArgument, nil, "--diff requires --old")
	}
	if !diff {
		oldDir = ""
	}

	var metadataMode string
	if cmd.Flags().Changed("metadata") {
		metadataMode, _ = cmd.Flags().GetString("metadata")
	}

	opts := engine.Options{
		Input:     input,
		OutDir:    out,
		OldDir:    oldDir,
		Threads:   threads,
		Images:    images,
		Verify:    !noVerify,
		Prefetch:  prefetch,
		UserAgent: userAgent,
		Cookie:    cookies,
	}

	wantMetadataOnly := metadataMode != ""

	var sink engine.ProgressSink
	if !listOnly && !wantMetadataOnly {
		sink = terminalProgressSink
	}

	result, err := engine.Run(opts, sink)
	if err != nil {
		return err
	}

	if listOnly {
		printPartitionTable(result)
		return nil
	}
	if wantMetadataOnly {
		doc := jsonmeta.Build(result.Header, result.Manifest, metadataMode == "full")
		return jsonmeta.Write(cmd.OutOrStdout(), doc)
	}

	return reportOutcome(result)
}

func printPartitionTable(result *engine.Result) {
	fmt.Printf("%-24s %12s %8s\n", "PARTITION", "SIZE", "OPS")
	for _, p := range result.Manifest.Partitions {
		var size uint64
		if p.NewInfo != nil {
			size = p.NewInfo.Size
		}
		fmt.Printf("%-24s %12d %8d\n", p.Name, size, len(p.Operations))
		hist := map[string]int{}
		for _, op := range p.Operations {
			hist[op.Type.String()]++
		}
		for _, name := range []string{"REPLACE", "REPLACE_BZ", "REPLACE_XZ", "ZSTD", "SOURCE_COPY", "SOURCE_BSDIFF", "BROTLI_BSDIFF", "ZERO", "DISCARD"} {
			if n := hist[name]; n > 0 {
				fmt.Printf("    %-16s %d\n", name, n)
			}
		}
	}
}

// kindSeverity ranks Kinds so reportOutcome can surface the most significant
// failure across a run's partitions rather than whichever happened to be
// last: a cancellation should be reported as KindCancelled (exit 5) even if
// another partition also hit a plain I/O error, and a hash mismatch should
// win over a plain I/O error too, since it says something stronger went
// wrong than a transient read/write failure.
func kindSeverity(k payload.Kind) int {
	switch k {
	case payload.KindCancelled:
		return 3
	case payload.KindOutputHashMismatch, payload.KindSourceHashMismatch:
		return 2
	default:
		return 1
	}
}

func reportOutcome(result *engine.Result) error {
	var failed int
	var worst *payload.Error
	for _, r := range result.Partitions {
		if r.Err == nil {
			continue
		}
		failed++
		fmt.Fprintf(os.Stderr, "%s: %v\n", r.Partition, r.Err)

		var pe *payload.Error
		if !errors.As(r.Err, &pe) {
			pe = payload.WrapPartition(payload.KindIoWrite, r.Partition, r.Err, "partition failed")
		}
		if worst == nil || kindSeverity(pe.Kind) > kindSeverity(worst.Kind) {
			worst = pe
		}
	}
	if failed > 0 {
		return payload.Wrap(worst.Kind, nil, "%d of %d partitions failed (worst: %v)", failed, len(result.Partitions), worst)
	}
	fmt.Printf("extracted %d partitions\n", len(result.Partitions))
	return nil
}

// terminalProgressSink renders per-partition text bars in the style of
// flatcar-mantle's util.CopyProgress (util/logio.go), swapping its
// byte-count progress for an operation-count progress since partitions
// report progress per completed InstallOp rather than per byte copied.
func terminalProgressSink(index int, status progress.PartitionStatus) {
	if status.TotalOps == 0 {
		return
	}
	bar := ioprogress.DrawTextFormatBarForW(40, os.Stderr)
	fmt.Fprintf(os.Stderr, "\r%-24s %s %s", status.Name, bar(int64(status.CompletedOps), int64(status.TotalOps)),
		ioprogress.DrawTextFormatBytes(int64(status.CompletedOps), int64(status.TotalOps)))
	if status.Done {
		fmt.Fprintln(os.Stderr)
	}
}
