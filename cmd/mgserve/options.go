// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/z5labs/mgbridge/native"
	"github.com/z5labs/mgbridge/native/engine"

	"github.com/spf13/cobra"
)

func optionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "options",
		Short: "List the options understood by the engine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printOptions(cmd.OutOrStdout(), engine.New().ValidOptions())
		},
	}
}

func printOptions(w io.Writer, specs []native.OptionSpec) error {
	slices.SortFunc(specs, func(a, b native.OptionSpec) int {
		return strings.Compare(a.Name, b.Name)
	})

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tDEFAULT")
	for _, spec := range specs {
		def := "-"
		if spec.HasDefault {
			def = spec.Default
		}
		fmt.Fprintf(tw, "%s\t%s\n", spec.Name, def)
	}
	return tw.Flush()
}
