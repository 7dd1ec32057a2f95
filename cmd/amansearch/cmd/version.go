package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amansearch/internal/output"
	"github.com/Aman-CERP/amansearch/pkg/version"
)

func newVersionCmd() *cobra.Command {
	var asJSON, short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long: `Print the version, commit, build date and Go version.

Release builds set these with -ldflags; 'go install' builds report the
module version and VCS stamp instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			switch {
			case short:
				_, err := fmt.Fprintln(out, version.Short())
				return err
			case asJSON:
				return output.New(out).JSON(version.GetInfo())
			}
			_, err := fmt.Fprintln(out, version.String())
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print build info as JSON")
	cmd.Flags().BoolVar(&short, "short", false, "Print only the version")
	cmd.MarkFlagsMutuallyExclusive("json", "short")
	return cmd
}
