package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/teemow/mailauth/internal/auth"
)

func newAccountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List accounts with stored tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService(nil)
			if err != nil {
				return err
			}
			emails, err := svc.ListStoredAccounts()
			if err != nil {
				return err
			}
			if len(emails) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No accounts. Add one with: mailauth login <email>")
				return nil
			}

			now := time.Now()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "EMAIL\tPROVIDER\tTOKEN")
			for _, email := range emails {
				status, err := svc.AccountStatus(email)
				if err != nil {
					fmt.Fprintf(w, "%s\t-\tunreadable\n", email)
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", status.Email, status.Provider, formatExpiry(status.ExpiresAt, now))
			}
			return w.Flush()
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <email>",
		Short: "Show token status for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService(nil)
			if err != nil {
				return err
			}
			status, err := svc.AccountStatus(args[0])
			if err != nil {
				return err
			}

			now := time.Now()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Email:\t%s\n", status.Email)
			fmt.Fprintf(w, "Provider:\t%s\n", status.Provider)
			fmt.Fprintf(w, "Access token:\t%s (%s)\n", formatExpiry(status.ExpiresAt, now), status.ExpiresAt.Format(time.RFC3339))
			fmt.Fprintf(w, "Needs refresh:\t%t\n", status.NeedsRefresh)
			fmt.Fprintf(w, "Refresh token:\t%t\n", status.HasRefreshToken)
			fmt.Fprintf(w, "Client configured:\t%t\n", status.ClientConfigured)
			fmt.Fprintf(w, "Scopes:\t%s\n", strings.Join(status.Scopes, " "))
			fmt.Fprintf(w, "Authorized:\t%s\n", status.CreatedAt.Format(time.RFC3339))
			fmt.Fprintf(w, "Updated:\t%s\n", status.UpdatedAt.Format(time.RFC3339))
			return w.Flush()
		},
	}
}

func newTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token <email>",
		Short: "Print a fresh access token for an account",
		Long: `Print a usable access token to stdout, refreshing it first when it
expires within the next minute.

Example:
  curl -H "Authorization: Bearer $(mailauth token user@gmail.com)" ...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			svc, err := newService(nil)
			if err != nil {
				return err
			}
			token, err := svc.EnsureFreshToken(ctx, args[0])
			if err != nil {
				if errors.Is(err, auth.ErrReauthRequired) {
					return fmt.Errorf("stored authorization for %s is no longer valid: %w", args[0], err)
				}
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}

func newRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <email>",
		Short: "Delete the stored tokens for an account",
		Long: `Delete the stored tokens for an account. The grant is not revoked at
the provider; remove the app from your account's security settings for that.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService(nil)
			if err != nil {
				return err
			}
			deleted, err := svc.DeleteTokens(context.Background(), args[0])
			if err != nil {
				return err
			}
			if !deleted {
				return fmt.Errorf("%w for %s", auth.ErrNoTokensFound, args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted tokens for %s\n", args[0])
			return nil
		},
	}
}
