/*
Copyright © 2022 Morgan Gangwere <morgan.gangwere@gmail.com>
*/
package main

import (
	"github.com/spf13/cobra"
)

// docsCmd is hidden: it exists for maintainers regenerating ./docs, not for
// end users extracting a payload.
var docsCmd = &cobra.Command{
	Use:    "docs",
	Short:  "Generate markdown help pages",
	Hidden: true,
	Run: func(cmd *cobra.Command, args []string) {
		genDocs()
	},
}

func init() {
	rootCmd.AddCommand(docsCmd)
}
