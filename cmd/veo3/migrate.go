package main

import (
	"database/sql"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/veo3pk/studio/internal/bootstrap"
	"github.com/veo3pk/studio/internal/migrations"
)

var migrateActions = map[string]func(*sql.DB) error{
	"up":     migrations.Up,
	"down":   migrations.Down,
	"status": migrations.Status,
}

func migrateActionNames() []string {
	names := make([]string, 0, len(migrateActions))
	for name := range migrateActions {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func init() {
	var status, rollback bool
	migrateCmd := &cobra.Command{
		Use:       "migrate [up|down|status]",
		Short:     "Apply, roll back or inspect schema migrations",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: migrateActionNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			action := "up"
			switch {
			case status:
				action = "status"
			case rollback:
				action = "down"
			case len(args) == 1:
				action = args[0]
			}
			run, ok := migrateActions[action]
			if !ok {
				return fmt.Errorf("unknown migrate action %q (want %s)", action, strings.Join(migrateActionNames(), ", "))
			}

			db, err := bootstrap.OpenSQLite(cfg.DB.Path)
			if err != nil {
				return err
			}
			defer db.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "Database: %s\n", cfg.DB.Path)
			return run(db)
		},
	}
	migrateCmd.Flags().BoolVar(&status, "status", false, "Same as `migrate status`")
	migrateCmd.Flags().BoolVar(&rollback, "rollback", false, "Same as `migrate down`")
	rootCmd.AddCommand(migrateCmd)
}
