package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <email>",
		Short: "Authorize a mail account in the browser",
		Long: `Run the OAuth authorization code flow for the given email address.

A loopback listener on 127.0.0.1 receives the provider redirect. The
authorization URL is opened in your browser and printed to stderr in case
the browser cannot be opened. Press Ctrl-C to abort.

The provider's OAuth client must be configured first, see "mailauth client set".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			svc, err := newService(nil)
			if err != nil {
				return err
			}

			result, err := svc.RunOAuthFlow(ctx, args[0])
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Authorized %s (%s)\n", result.Email, result.Provider)
			fmt.Fprintf(out, "Access token %s\n", formatExpiry(result.ExpiresAt, time.Now()))
			if len(result.Scopes) > 0 {
				fmt.Fprintf(out, "Scopes: %s\n", strings.Join(result.Scopes, " "))
			}
			if !result.HasRefreshToken {
				fmt.Fprintln(out, "Warning: no refresh token was issued; you will need to log in again when the access token expires.")
			}
			return nil
		},
	}
}
