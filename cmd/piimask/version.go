package main

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// resolvedVersion returns Version unless it is "dev" and the build info
// carries a real module version.
func resolvedVersion() string {
	if Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return Version
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "piimask %s\n", resolvedVersion())
			fmt.Fprintf(w, "Commit: %s\n", Commit)
			fmt.Fprintf(w, "Built:  %s\n", BuildDate)
			fmt.Fprintf(w, "Go:     %s\n", runtime.Version())
			return nil
		},
	}
}
