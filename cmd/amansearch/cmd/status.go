package cmd

import (
	"context"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
	"github.com/Aman-CERP/amansearch/internal/index"
	"github.com/Aman-CERP/amansearch/internal/output"
	"github.com/Aman-CERP/amansearch/internal/store"
	"github.com/Aman-CERP/amansearch/internal/telemetry"
)

// StatusReport is the JSON form of amansearch status.
type StatusReport struct {
	DataDir          string `json:"data_dir"`
	Documents        int    `json:"documents"`
	Chunks           int    `json:"chunks"`
	TermEntries      int    `json:"term_entries"`
	Vectors          int    `json:"vectors"`
	CoarseVectors    int    `json:"coarse_vectors"`
	CoarseOrphans    int    `json:"coarse_orphans"`
	Model            string `json:"model,omitempty"`
	Dimensions       int    `json:"dimensions,omitempty"`
	CoarseDimensions int    `json:"coarse_dimensions,omitempty"`

	TopTerms          []telemetry.TermCount  `json:"top_terms,omitempty"`
	ZeroResultQueries []telemetry.ZeroResult `json:"zero_result_queries,omitempty"`

	Consistency *index.CheckResult `json:"consistency,omitempty"`
}

func newStatusCmd(root *rootOptions) *cobra.Command {
	var (
		jsonOutput bool
		check      bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index contents and health",
		Long: `Display information about the index:
  - Number of documents and chunks
  - Entries held by each store
  - Embedding model and dimensions the index was built with
  - Most frequent query terms and recent zero-result queries`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd, root, jsonOutput, check)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&check, "check", false, "Verify that every store holds every chunk")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, root *rootOptions, jsonOutput, check bool) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	if err := root.setupLogging(cfg, false); err != nil {
		return err
	}
	if !fileExists(filepath.Join(cfg.Storage.DataDir, store.MetadataFile)) {
		return amanerrors.New(amanerrors.ErrCodeIndexNotFound,
			"no index found in "+cfg.Storage.DataDir, nil).
			WithSuggestion("load documents with 'amansearch load <file.jsonl>'")
	}

	stores, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer closeStores(stores)

	report, err := buildStatus(ctx, cfg.Storage.DataDir, stores)
	if err != nil {
		return err
	}
	if check {
		if report.Consistency, err = index.Check(ctx, stores); err != nil {
			return err
		}
	}

	out := output.New(cmd.OutOrStdout())
	if jsonOutput {
		return out.JSON(report)
	}
	printStatus(out, report)
	return nil
}

func buildStatus(ctx context.Context, dataDir string, stores index.Stores) (*StatusReport, error) {
	md := stores.Metadata
	r := &StatusReport{
		DataDir:       dataDir,
		CoarseVectors: stores.Coarse.Count(),
		CoarseOrphans: stores.Coarse.Orphans(),
	}

	var err error
	if r.Documents, err = md.DocumentCount(ctx); err != nil {
		return nil, err
	}
	if r.Chunks, err = md.ChunkCount(ctx); err != nil {
		return nil, err
	}
	if r.TermEntries, err = stores.Terms.Count(); err != nil {
		return nil, err
	}
	if r.Vectors, err = stores.Vectors.Count(ctx); err != nil {
		return nil, err
	}
	if r.Model, err = md.GetState(ctx, store.StateKeyIndexModel); err != nil {
		return nil, err
	}
	for key, dst := range map[string]*int{
		store.StateKeyIndexDimension:  &r.Dimensions,
		store.StateKeyCoarseDimension: &r.CoarseDimensions,
	} {
		v, err := md.GetState(ctx, key)
		if err != nil {
			return nil, err
		}
		*dst, _ = strconv.Atoi(v)
	}

	// Query telemetry is best effort.
	if ms, err := telemetry.NewSQLiteMetricsStore(md.DB()); err == nil {
		r.TopTerms, _ = ms.GetTopTerms(5)
		r.ZeroResultQueries, _ = ms.GetZeroResultQueries(5)
	}
	return r, nil
}

func printStatus(out *output.Writer, r *StatusReport) {
	out.Statusf("📁", "Index: %s", r.DataDir)
	out.Statusf("📄", "Documents: %d (%d chunks)", r.Documents, r.Chunks)
	out.Statusf("🔤", "Term index: %d entries", r.TermEntries)
	out.Statusf("🧭", "Vectors: %d full, %d coarse (%d orphaned graph nodes)",
		r.Vectors, r.CoarseVectors, r.CoarseOrphans)
	if r.Model != "" {
		out.Statusf("🧠", "Model: %s (%d dims, coarse %d)", r.Model, r.Dimensions, r.CoarseDimensions)
	}

	if len(r.TopTerms) > 0 {
		out.Newline()
		out.Status("🔎", "Top query terms:")
		for _, t := range r.TopTerms {
			out.Statusf("", "  %-20s %d", t.Term, t.Count)
		}
	}
	if len(r.ZeroResultQueries) > 0 {
		out.Newline()
		out.Status("∅", "Recent zero-result queries:")
		for _, z := range r.ZeroResultQueries {
			out.Statusf("", "  %-30s %s", z.Query, z.Script)
		}
	}

	if c := r.Consistency; c != nil {
		out.Newline()
		if c.OK() {
			out.Successf("Consistent (%d chunks checked in %s)", c.Checked, c.Duration)
			return
		}
		out.Warningf("%d inconsistencies", len(c.Inconsistencies))
		for _, issue := range c.Inconsistencies {
			out.Statusf("", "  %s %s %s", issue.Type, issue.ChunkID, issue.Details)
		}
	}
}
