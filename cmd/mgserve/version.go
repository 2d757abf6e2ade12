// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/z5labs/mgbridge/event"
	"github.com/z5labs/mgbridge/native/engine"

	"github.com/spf13/cobra"
)

func version() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" {
		return "(devel)"
	}
	return info.Main.Version
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			native := engine.New().Version()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "mgserve:    %s\n", version())
			fmt.Fprintf(out, "engine:     %s (protocol %s)\n", native, event.ForVersion(native).Name())
			fmt.Fprintf(out, "go version: %s\n", runtime.Version())
		},
	}
}
