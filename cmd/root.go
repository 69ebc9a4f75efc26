package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/teemow/mailauth/internal/logging"
)

var (
	configDir string
	debugMode bool
)

// rootCmd represents the base command for the mailauth application
var rootCmd = &cobra.Command{
	Use:   "mailauth",
	Short: "Obtains and refreshes OAuth tokens for mail accounts",
	Long: `mailauth runs the OAuth 2.0 authorization code flow with PKCE for mail
accounts hosted by Google and Microsoft, stores the resulting tokens encrypted
on disk and refreshes them on demand.

It can run as:
  - A CLI for logging in accounts and printing fresh access tokens
  - A background keeper (serve) that refreshes tokens ahead of expiry`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(debugMode)
	},
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "mailauth version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setupLogging installs the default slog handler. Logs go to stderr so
// commands like "token" can be piped.
func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(logging.NewHandler(os.Stderr, level)))
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "Directory for tokens and client credentials. Can also use MAILAUTH_CONFIG_DIR env var. Default: <user config dir>/mailauth")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(newLoginCmd())
	rootCmd.AddCommand(newClientCmd())
	rootCmd.AddCommand(newAccountsCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newTokenCmd())
	rootCmd.AddCommand(newRevokeCmd())
	rootCmd.AddCommand(newProvidersCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
}
