package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/sourcefinder/internal/apikey"
	"github.com/kiranshivaraju/sourcefinder/internal/store"
	"github.com/kiranshivaraju/sourcefinder/pkg/models"
	"github.com/spf13/cobra"
)

func buildKeysCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys",
	}
	cmd.AddCommand(buildKeysCreateCommand())
	cmd.AddCommand(buildKeysListCommand())
	cmd.AddCommand(buildKeysRevokeCommand())
	return cmd
}

func buildKeysCreateCommand() *cobra.Command {
	var name, scopes string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key and print it once",
		Example: `  sourcefinder keys create --name bootstrap --scopes search,admin`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return withStore(cmd.Context(), cmd.ErrOrStderr(), func(s store.Store) error {
				return createKey(cmd.Context(), cmd.OutOrStdout(), s, name, apikey.ParseScopes(scopes))
			})
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "key name")
	cmd.Flags().StringVar(&scopes, "scopes", models.ScopeSearch, "comma-separated scopes: search, admin")
	cmd.MarkFlagRequired("name")

	return cmd
}

func buildKeysListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return withStore(cmd.Context(), cmd.ErrOrStderr(), func(s store.Store) error {
				return listKeys(cmd.Context(), cmd.OutOrStdout(), s)
			})
		},
	}
}

func buildKeysRevokeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid key id %q: %w", args[0], err)
			}
			cmd.SilenceUsage = true
			return withStore(cmd.Context(), cmd.ErrOrStderr(), func(s store.Store) error {
				if err := s.RevokeAPIKey(cmd.Context(), id); err != nil {
					return fmt.Errorf("revoke key: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Revoked %s\n", id)
				return nil
			})
		},
	}
}

func createKey(ctx context.Context, w io.Writer, s store.Store, name string, scopes []string) error {
	raw, key, err := apikey.Generate(name, scopes)
	if err != nil {
		return err
	}
	if err := s.CreateAPIKey(ctx, key); err != nil {
		return fmt.Errorf("create key: %w", err)
	}

	fmt.Fprintf(w, "ID:     %s\n", key.ID)
	fmt.Fprintf(w, "Name:   %s\n", key.Name)
	fmt.Fprintf(w, "Scopes: %s\n", strings.Join(key.Scopes, ","))
	fmt.Fprintf(w, "Key:    %s\n\n", raw)
	fmt.Fprintln(w, "Store this key now. It cannot be shown again.")
	return nil
}

func listKeys(ctx context.Context, w io.Writer, s store.Store) error {
	keys, err := s.ListAPIKeys(ctx)
	if err != nil {
		return fmt.Errorf("list keys: %w", err)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPREFIX\tSCOPES\tLAST USED")
	for _, k := range keys {
		lastUsed := "never"
		if k.LastUsedAt != nil {
			lastUsed = k.LastUsedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", k.ID, k.Name, k.KeyPrefix, strings.Join(k.Scopes, ","), lastUsed)
	}
	return tw.Flush()
}
