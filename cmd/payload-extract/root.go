/*
Copyright © 2022 Morgan Gangwere <morgan.gangwere@gmail.com>
*/
package main

import (
	"fmt"
	"os"

	"github.com/coreos/pkg/capnslog"
	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"

	"github.com/indrora/payload-extract/payload"
)

var plog = capnslog.NewPackageLogger("github.com/indrora/payload-extract", "main")

// rootCmd is both the base command and the tool's only real verb: extract
// a payload.bin (bare or inside an OTA ZIP) to a directory of raw images.
var rootCmd = &cobra.Command{
	Use:   "payload-extract <path-or-url>",
	Short: "Extract an Android OTA payload.bin to raw partition images",
	Long: `payload-extract reads an update_engine OTA payload (a bare
payload.bin, or payload.bin inside an outer OTA ZIP, from a local path or
an http(s) URL) and writes each partition it contains to <out>/<name>.img.`,
	Args:    cobra.ExactArgs(1),
	Version: "1.0.0",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		verbose, _ := cmd.Flags().GetBool("verbose")
		level := capnslog.NOTICE
		if verbose {
			level = capnslog.INFO
		}
		capnslog.SetFormatter(capnslog.NewStringFormatter(os.Stderr))
		capnslog.SetGlobalLogLevel(level)
		plog.Infof("logging started at level %s", level)
	},
	RunE: runExtract,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(). It only needs to happen
// once to rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		code := payload.ExitCode(err)
		fmt.Fprintln(os.Stderr, "payload-extract:", err)
		os.Exit(code)
	}
}

func genDocs() {
	if err := os.MkdirAll("./docs/payload-extract", 0775); err != nil {
		fmt.Println("failed to make docs dir:", err)
		return
	}
	if err := doc.GenMarkdownTree(rootCmd, "./docs/payload-extract"); err != nil {
		fmt.Println("failed to make docs:", err)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "write detailed information to the terminal")

	rootCmd.Flags().StringP("out", "o", ".", "output directory for extracted partition images")
	rootCmd.Flags().StringSliceP("images", "i", nil, "only extract partitions whose name contains one of these substrings")
	rootCmd.Flags().IntP("threads", "t", 4, "number of partitions to extract in parallel")
	rootCmd.Flags().BoolP("no-parallel", "P", false, "disable parallel extraction (equivalent to --threads=1)")
	rootCmd.Flags().BoolP("list", "l", false, "list partitions and exit without extracting")
	rootCmd.Flags().StringP("metadata", "m", "", "print manifest metadata as JSON and exit (value 'full' adds an operation-type histogram per partition)")
	rootCmd.Flags().Lookup("metadata").NoOptDefVal = "brief"
	rootCmd.Flags().BoolP("no-verify", "n", false, "skip SHA-256 verification of operation data and output images")
	rootCmd.Flags().Bool("prefetch", false, "download the whole payload before extracting instead of issuing ranged reads")
	rootCmd.Flags().StringP("user-agent", "U", "", "User-Agent header for http(s) input")
	rootCmd.Flags().StringP("cookies", "C", "", "Cookie header for http(s) input")
	rootCmd.Flags().Bool("diff", false, "differential mode: apply SOURCE_COPY/SOURCE_BSDIFF-family operations against --old")
	rootCmd.Flags().String("old", "", "directory of <name>.img old partition images, required with --diff")
}
