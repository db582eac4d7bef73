package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print build information",
		// Works without a readable config file.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "veo3 %s (%s)\n", Version, Commit)
			fmt.Fprintf(out, "built %s with %s %s/%s\n", BuildTime, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	})
}
