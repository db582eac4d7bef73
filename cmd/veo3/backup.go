package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/veo3pk/studio/internal/backup"
	"github.com/veo3pk/studio/internal/bootstrap"
)

func init() {
	var output string
	var compress, upload bool
	backupCmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the database, optionally uploading it over FTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := bootstrap.OpenSQLite(cfg.DB.Path)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, out := cmd.Context(), cmd.OutOrStdout()
			path, err := backup.Create(ctx, db, backup.Options{
				Output:   output,
				Dir:      cfg.Backup.Dir,
				Compress: compress,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Backup written to %s\n", path)

			if upload {
				if err := backup.Upload(ctx, cfg.Backup.FTP, path); err != nil {
					return err
				}
				fmt.Fprintf(out, "Uploaded to ftp://%s%s\n", cfg.Backup.FTP.Host, cfg.Backup.FTP.Path)
			}
			if output != "" {
				return nil
			}
			removed, err := backup.Prune(cfg.Backup.Dir, cfg.Backup.Keep)
			for _, p := range removed {
				fmt.Fprintf(out, "Pruned %s\n", p)
			}
			return err
		},
	}
	backupCmd.Flags().StringVar(&output, "output", "", "Write to this path instead of backup.dir")
	backupCmd.Flags().BoolVar(&compress, "compress", false, "Gzip the snapshot")
	backupCmd.Flags().BoolVar(&upload, "ftp", false, "Upload the snapshot to backup.ftp")

	backupCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List local snapshots, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			snaps, err := backup.List(cfg.Backup.Dir)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "File\tSize\tModified")
			for _, s := range snaps {
				fmt.Fprintf(w, "%s\t%d\t%s\n", s.Path, s.Size, s.ModTime.Format(time.DateTime))
			}
			return w.Flush()
		},
	})
	rootCmd.AddCommand(backupCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "restore <backup-file>",
		Short: "Replace the database with a snapshot (stop the server first)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			safety, err := backup.Restore(args[0], cfg.DB.Path, time.Now())
			if safety != "" {
				fmt.Fprintf(out, "Previous database kept at %s\n", safety)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(out, "Database restored.")
			return nil
		},
	})
}
