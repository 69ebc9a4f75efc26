package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/teemow/mailauth/internal/provider"
)

func newProvidersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List supported OAuth providers and their mail domains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := provider.DefaultRegistry()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tDOMAINS\tTOKEN ENDPOINT")
			for _, name := range registry.Names() {
				p, _ := registry.Lookup(name)
				fmt.Fprintf(w, "%s\t%s\t%s\n", p.Name, strings.Join(p.Domains, ","), p.TokenURL())
			}
			return w.Flush()
		},
	}
}
