package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	var jobCmd = &cobra.Command{
		Use:   "job",
		Short: "Background job management",
	}
	jobCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
				fmt.Fprintln(w, "Name\tSchedule")
				for _, e := range a.scheduler.Entries() {
					fmt.Fprintf(w, "%s\t%s\n", e.Name, e.Spec)
				}
				return w.Flush()
			})
		},
	})
	jobCmd.AddCommand(&cobra.Command{
		Use:   "run <name>",
		Short: "Run a job once in the foreground",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				fmt.Printf("Running job %s...\n", args[0])
				if err := a.scheduler.RunNow(ctx, args[0]); err != nil {
					return fmt.Errorf("job run failed: %w", err)
				}
				fmt.Println("Job completed successfully.")
				return nil
			})
		},
	})
	rootCmd.AddCommand(jobCmd)
}
