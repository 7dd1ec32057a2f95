package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amansearch/internal/output"
	"github.com/Aman-CERP/amansearch/internal/validation"
)

func newValidateCmd(root *rootOptions) *cobra.Command {
	var (
		jsonOutput  bool
		minPassRate float64
	)

	cmd := &cobra.Command{
		Use:   "validate <queries.yaml>",
		Short: "Check search relevance against a query file",
		Long: `Run a set of relevance checks against the current index.

The query file has three sections. Tier 1 and Tier 2 entries list document
ids that must appear in the top results ('expected') and ids that must not
('excluded'). Negative entries only need to run without an internal error.

The command fails when the Tier 1 pass rate is below --min-pass.`,
		Example: `  amansearch validate testdata/queries.yaml
  amansearch validate queries.yaml --min-pass 0.8 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			queries, err := validation.LoadQueries(args[0])
			if err != nil {
				return err
			}
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if err := root.setupLogging(cfg, false); err != nil {
				return err
			}

			engine, closeEngine, err := openEngine(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer closeEngine()

			result := validation.NewValidator(engine).RunAll(ctx, queries)

			out := output.New(cmd.OutOrStdout())
			if jsonOutput {
				if err := out.JSON(result); err != nil {
					return err
				}
			} else {
				printValidation(out, result)
			}

			if rate := result.Tier1.PassRate(); rate < minPassRate {
				return fmt.Errorf("tier 1 pass rate %.0f%% is below minimum %.0f%%", rate*100, minPassRate*100)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	cmd.Flags().Float64Var(&minPassRate, "min-pass", 1.0, "Minimum Tier 1 pass rate (0-1)")

	return cmd
}

func printValidation(out *output.Writer, r *validation.Result) {
	tiers := []struct {
		name    string
		summary validation.TierSummary
	}{
		{"Tier 1", r.Tier1},
		{"Tier 2", r.Tier2},
		{"Negative", r.Negative},
	}
	for _, tier := range tiers {
		if tier.summary.Total == 0 {
			continue
		}
		for _, tr := range tier.summary.Results {
			label := tr.Spec.ID
			if tr.Spec.Name != "" {
				label += " " + tr.Spec.Name
			}
			switch {
			case tr.Passed:
				out.Successf("%s (%.1fms)", label, float64(tr.Duration.Microseconds())/1000)
			case tr.Error != "":
				out.Errorf("%s: %s", label, tr.Error)
			case len(tr.Leaked) > 0:
				out.Errorf("%s: excluded documents returned: %s", label, strings.Join(tr.Leaked, ", "))
			default:
				out.Errorf("%s: expected %v, got %v", label, tr.Spec.Expected, tr.TopResults)
			}
		}
		out.Statusf("📊", "%s: %d/%d passed (%.0f%%)",
			tier.name, tier.summary.Pass, tier.summary.Total, tier.summary.PassRate()*100)
		out.Newline()
	}
}
