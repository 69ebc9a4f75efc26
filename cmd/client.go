package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teemow/mailauth/internal/logging"
	"github.com/teemow/mailauth/internal/store"
)

func newClientCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Manage OAuth client registrations per provider",
	}
	cmd.AddCommand(newClientSetCmd())
	cmd.AddCommand(newClientShowCmd())
	cmd.AddCommand(newClientListCmd())
	cmd.AddCommand(newClientDeleteCmd())
	return cmd
}

func newClientSetCmd() *cobra.Command {
	var clientID, clientSecret string

	cmd := &cobra.Command{
		Use:   "set <provider>",
		Short: "Store the OAuth client ID and secret for a provider",
		Long: `Store the OAuth client registration used for logins and refreshes.

The client secret is encrypted at rest. Values can also be provided with the
MAILAUTH_CLIENT_ID and MAILAUTH_CLIENT_SECRET env vars.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			clientID = envFallback(clientID, ClientIDEnv)
			clientSecret = envFallback(clientSecret, ClientSecretEnv)
			if clientID == "" {
				return fmt.Errorf("client ID is required: use --client-id or %s", ClientIDEnv)
			}

			svc, err := newService(nil)
			if err != nil {
				return err
			}
			err = svc.SaveClientConfig(context.Background(), store.ClientCredential{
				Provider:     args[0],
				ClientID:     clientID,
				ClientSecret: clientSecret,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Saved OAuth client for %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&clientID, "client-id", "", "OAuth client ID. Can also use MAILAUTH_CLIENT_ID env var.")
	cmd.Flags().StringVar(&clientSecret, "client-secret", "", "OAuth client secret. Can also use MAILAUTH_CLIENT_SECRET env var.")
	return cmd
}

func newClientShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <provider>",
		Short: "Show the stored OAuth client for a provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService(nil)
			if err != nil {
				return err
			}
			cred, err := svc.LoadClientConfig(args[0])
			if err != nil {
				return err
			}
			if cred == nil {
				return fmt.Errorf("no OAuth client configured for %s", args[0])
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Provider:      %s\n", cred.Provider)
			fmt.Fprintf(out, "Client ID:     %s\n", cred.ClientID)
			fmt.Fprintf(out, "Client secret: %s\n", logging.SanitizeToken(cred.ClientSecret))
			return nil
		},
	}
}

func newClientListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List providers with a stored OAuth client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService(nil)
			if err != nil {
				return err
			}
			names, err := svc.ListClientConfigs()
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func newClientDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <provider>",
		Short: "Delete the stored OAuth client for a provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService(nil)
			if err != nil {
				return err
			}
			deleted, err := svc.DeleteClientConfig(context.Background(), args[0])
			if err != nil {
				return err
			}
			if !deleted {
				return fmt.Errorf("no OAuth client configured for %s", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted OAuth client for %s\n", args[0])
			return nil
		},
	}
}
