// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

func newVersionCmd(version string) *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			if short {
				fmt.Println(version)
				return
			}
			commit, built := vcsStamp()
			fmt.Printf("modelfetch %s\n", version)
			fmt.Printf("  go:      %s (%s/%s)\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
			fmt.Printf("  commit:  %s\n", commit)
			fmt.Printf("  built:   %s\n", built)
		},
	}

	cmd.Flags().BoolVarP(&short, "short", "s", false, "Print only the version number")

	return cmd
}

// vcsStamp reads the revision metadata the Go toolchain bakes into the
// binary. Builds outside a checkout (or via go test) carry none.
func vcsStamp() (commit, built string) {
	commit, built = "unknown", "unknown"
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	var modified bool
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			commit = s.Value
			if len(commit) > 12 {
				commit = commit[:12]
			}
		case "vcs.modified":
			modified = s.Value == "true"
		case "vcs.time":
			built = s.Value
		}
	}
	if modified && commit != "unknown" {
		commit += " (modified)"
	}
	return
}
