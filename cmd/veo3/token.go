package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/veo3pk/studio/internal/service"
)

// tokenFile is the document read by `token import`.
type tokenFile struct {
	Tokens []struct {
		Pool       string `yaml:"pool"`
		Label      string `yaml:"label"`
		Credential string `yaml:"credential"`
		UsageLimit int64  `yaml:"usage_limit"`
		Disabled   bool   `yaml:"disabled"`
	} `yaml:"tokens"`
}

func parseTokenFile(r io.Reader) ([]service.TokenInput, error) {
	var doc tokenFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse token file: %w", err)
	}
	inputs := make([]service.TokenInput, 0, len(doc.Tokens))
	for i, t := range doc.Tokens {
		if t.Pool == "" || t.Credential == "" {
			return nil, fmt.Errorf("token %d: pool and credential are required", i+1)
		}
		active := !t.Disabled
		inputs = append(inputs, service.TokenInput{
			Pool:       t.Pool,
			Label:      t.Label,
			Credential: t.Credential,
			UsageLimit: t.UsageLimit,
			IsActive:   &active,
		})
	}
	return inputs, nil
}

func init() {
	var tokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Upstream credential management",
	}

	var listPool string
	var listCmd = &cobra.Command{
		Use:   "list",
		Short: "List tokens and pool health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				tokens, err := a.services.Tokens.ListTokens(ctx, listPool)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
				fmt.Fprintln(w, "ID\tPool\tLabel\tActive\tRequests\tLimit\tStreak\tLast Error")
				for _, t := range tokens {
					fmt.Fprintf(w, "%d\t%s\t%s\t%v\t%d\t%d\t%d\t%s\n",
						t.ID, t.Pool, t.Label, t.IsActive, t.RequestCount, t.UsageLimit, t.ConsecutiveErrors, t.LastError)
				}
				if err := w.Flush(); err != nil {
					return err
				}

				stats, err := a.services.Tokens.Stats(ctx)
				if err != nil {
					return err
				}
				fmt.Println()
				w = tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
				fmt.Fprintln(w, "Pool\tPolicy\tTotal\tActive\tEligible")
				for _, s := range stats {
					fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n", s.Pool, s.Policy, s.Total, s.Active, s.Eligible)
				}
				return w.Flush()
			})
		},
	}
	listCmd.Flags().StringVar(&listPool, "pool", "", "Only list one pool")
	tokenCmd.AddCommand(listCmd)

	var addInput service.TokenInput
	var addCmd = &cobra.Command{
		Use:   "add",
		Short: "Add one credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				tok, err := a.services.Tokens.CreateToken(ctx, addInput)
				if err != nil {
					return fmt.Errorf("add token: %w", err)
				}
				fmt.Printf("Token %d added to pool %s.\n", tok.ID, tok.Pool)
				return nil
			})
		},
	}
	addCmd.Flags().StringVar(&addInput.Pool, "pool", "", "Pool: video, image, cartesia, zyphra or flow")
	addCmd.Flags().StringVar(&addInput.Label, "label", "", "Display label")
	addCmd.Flags().StringVar(&addInput.Credential, "credential", "", "API key or bearer token")
	addCmd.Flags().Int64Var(&addInput.UsageLimit, "limit", 0, "Usage limit (0 = unlimited)")
	_ = addCmd.MarkFlagRequired("pool")
	_ = addCmd.MarkFlagRequired("credential")
	tokenCmd.AddCommand(addCmd)

	tokenCmd.AddCommand(&cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Add every credential listed in a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			inputs, err := parseTokenFile(f)
			f.Close()
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				for i, in := range inputs {
					tok, err := a.services.Tokens.CreateToken(ctx, in)
					if err != nil {
						return fmt.Errorf("token %d (%s): %w", i+1, in.Label, err)
					}
					fmt.Printf("Token %d added to pool %s.\n", tok.ID, tok.Pool)
				}
				fmt.Printf("Imported %d tokens.\n", len(inputs))
				return nil
			})
		},
	})

	tokenCmd.AddCommand(&cobra.Command{
		Use:   "reset <id>",
		Short: "Clear error counters and reactivate a token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid token id %q", args[0])
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.services.Tokens.ResetToken(ctx, id); err != nil {
					return err
				}
				fmt.Printf("Token %d reset.\n", id)
				return nil
			})
		},
	})

	rootCmd.AddCommand(tokenCmd)
}
