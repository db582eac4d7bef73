package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/veo3pk/studio/internal/repository"
	"github.com/veo3pk/studio/internal/service"
)

func init() {
	var userCmd = &cobra.Command{
		Use:   "user",
		Short: "User management",
	}

	var listQuery, listPlan string
	var listLimit int
	var listCmd = &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				users, total, err := a.services.AdminUser.Search(ctx, repository.UserSearchFilter{
					Keyword:  listQuery,
					PlanType: listPlan,
					Limit:    listLimit,
				})
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
				fmt.Fprintln(w, "ID\tUsername\tEmail\tPlan\tExpires\tAdmin\tStatus")
				for _, u := range users {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s/%s\t%s\t%v\t%d\n",
						u.ID, u.Username, u.Email, u.PlanType, u.PlanStatus, formatUnix(u.PlanExpiresAt), u.IsAdmin, u.Status)
				}
				if err := w.Flush(); err != nil {
					return err
				}
				fmt.Printf("%d of %d users\n", len(users), total)
				return nil
			})
		},
	}
	listCmd.Flags().StringVarP(&listQuery, "query", "q", "", "Filter by username or email")
	listCmd.Flags().StringVar(&listPlan, "plan", "", "Filter by plan type")
	listCmd.Flags().IntVar(&listLimit, "limit", 100, "Maximum rows")
	userCmd.AddCommand(listCmd)

	var createEmail, createPassword string
	var createAdmin bool
	var createCmd = &cobra.Command{
		Use:   "create <username>",
		Short: "Create a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if createPassword == "" {
				return fmt.Errorf("--password is required")
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				user, err := a.services.Auth.CreateAccount(ctx, service.NewAccount{
					Username: args[0],
					Password: createPassword,
					Email:    createEmail,
					IsAdmin:  createAdmin,
				})
				if err != nil {
					return fmt.Errorf("create user: %w", err)
				}
				fmt.Printf("User %s created (id %d).\n", user.Username, user.ID)
				return nil
			})
		},
	}
	createCmd.Flags().StringVar(&createEmail, "email", "", "User email")
	createCmd.Flags().StringVar(&createPassword, "password", "", "User password")
	createCmd.Flags().BoolVar(&createAdmin, "admin", false, "Grant the admin role")
	userCmd.AddCommand(createCmd)

	var resetPassword string
	var resetCmd = &cobra.Command{
		Use:   "reset-password <username>",
		Short: "Reset a user's password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(resetPassword) < 8 {
				return fmt.Errorf("--password must be at least 8 characters")
			}
			return updateUser(cmd, args[0], service.AdminUserUpdate{Password: &resetPassword}, "password reset")
		},
	}
	resetCmd.Flags().StringVar(&resetPassword, "password", "", "New password")
	userCmd.AddCommand(resetCmd)

	userCmd.AddCommand(&cobra.Command{
		Use:   "disable <username>",
		Short: "Disable a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status := repository.UserStatusDisabled
			return updateUser(cmd, args[0], service.AdminUserUpdate{Status: &status}, "disabled")
		},
	})
	userCmd.AddCommand(&cobra.Command{
		Use:   "enable <username>",
		Short: "Enable a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status := repository.UserStatusActive
			return updateUser(cmd, args[0], service.AdminUserUpdate{Status: &status}, "enabled")
		},
	})

	var planDays int
	var setPlanCmd = &cobra.Command{
		Use:   "set-plan <username> <free|scale|empire|enterprise>",
		Short: "Assign a plan, starting now",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan := args[1]
			update := service.AdminUserUpdate{PlanType: &plan}
			if cmd.Flags().Changed("days") {
				update.DurationDays = &planDays
			}
			return updateUser(cmd, args[0], update, "moved to "+plan)
		},
	}
	setPlanCmd.Flags().IntVar(&planDays, "days", 0, "Plan duration in days (default: the plan's own duration)")
	userCmd.AddCommand(setPlanCmd)

	var revoke bool
	var promoteCmd = &cobra.Command{
		Use:   "promote <username>",
		Short: "Grant or revoke the admin role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			admin := !revoke
			action := "promoted to admin"
			if revoke {
				action = "demoted"
			}
			return updateUser(cmd, args[0], service.AdminUserUpdate{IsAdmin: &admin}, action)
		},
	}
	promoteCmd.Flags().BoolVar(&revoke, "revoke", false, "Remove the admin role instead")
	userCmd.AddCommand(promoteCmd)

	rootCmd.AddCommand(userCmd)
}

// updateUser applies an admin update on behalf of the CLI operator (actor 0).
func updateUser(cmd *cobra.Command, username string, update service.AdminUserUpdate, action string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		user, err := a.store.Users().FindByUsername(ctx, username)
		if err != nil {
			return fmt.Errorf("find user %s: %w", username, err)
		}
		if _, err := a.services.AdminUser.Update(ctx, 0, user.ID, update); err != nil {
			return fmt.Errorf("update user %s: %w", username, err)
		}
		fmt.Printf("User %s %s.\n", username, action)
		return nil
	})
}

func formatUnix(ts int64) string {
	if ts == 0 {
		return "never"
	}
	return time.Unix(ts, 0).UTC().Format("2006-01-02")
}
