package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
	"github.com/Aman-CERP/amansearch/internal/filter"
	"github.com/Aman-CERP/amansearch/internal/output"
	"github.com/Aman-CERP/amansearch/internal/search"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	mode     string
	lang     string
	script   string
	fusion   string
	limit    int
	offset   int
	minScore float64
	explain  bool
	format   string // text, json

	requiredTags    []string
	anyTags         []string
	excludedTags    []string
	requiredSchemes []string
	excludedSchemes []string
}

func newSearchCmd(root *rootOptions) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the loaded documents",
		Long: `Search the loaded documents with hybrid lexical and semantic retrieval.

Query syntax:
  "exact phrase"   phrase match
  a AND b, a OR b  boolean operators (AND binds tighter)
  -term            exclude documents containing term

Strict filters are applied before ranking: a document outside the filter
is never returned, however relevant.`,
		Example: `  amansearch search "machine learning"
  amansearch search 人工智能 --limit 5
  amansearch search '"neural networks" -survey' --tag topic/ai --explain
  amansearch search retrieval --scheme kb/public --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := opts.request(strings.Join(args, " "))
			if cmd.Flags().Changed("min-score") {
				req.MinScore = &opts.minScore
			}
			return runSearch(cmd.Context(), cmd, root, req, opts.format)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.mode, "mode", "m", "", "Search mode: hybrid, fts, semantic (default from config)")
	f.StringVar(&opts.lang, "lang", "", "Language hint for stemming (e.g. en, de, fr)")
	f.StringVar(&opts.script, "script", "", "Script override (e.g. latin, han, cyrillic, arabic)")
	f.StringVar(&opts.fusion, "fusion", "", "Fusion method: rrf, rsf (default from config)")
	f.IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (default from config)")
	f.IntVar(&opts.offset, "offset", 0, "Results to skip")
	f.Float64Var(&opts.minScore, "min-score", 0, "Drop results below this normalized score")
	f.BoolVar(&opts.explain, "explain", false, "Show how results were ranked")
	f.StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	f.StringSliceVar(&opts.requiredTags, "tag", nil, "Require tag (repeatable, hierarchical)")
	f.StringSliceVar(&opts.anyTags, "any-tag", nil, "Require at least one of these tags (repeatable)")
	f.StringSliceVar(&opts.excludedTags, "exclude-tag", nil, "Exclude tag (repeatable)")
	f.StringSliceVar(&opts.requiredSchemes, "scheme", nil, "Require scheme (repeatable)")
	f.StringSliceVar(&opts.excludedSchemes, "exclude-scheme", nil, "Exclude scheme (repeatable)")

	return cmd
}

func (o searchOptions) request(q string) search.Request {
	return search.Request{
		Query:  q,
		Mode:   o.mode,
		Lang:   o.lang,
		Script: o.script,
		Fusion: o.fusion,
		Limit:  o.limit,
		Offset: o.offset,
		Filter: filter.StrictFilter{
			RequiredTags:    o.requiredTags,
			AnyTags:         o.anyTags,
			ExcludedTags:    o.excludedTags,
			RequiredSchemes: o.requiredSchemes,
			ExcludedSchemes: o.excludedSchemes,
		},
		Explain: o.explain,
	}
}

func runSearch(ctx context.Context, cmd *cobra.Command, root *rootOptions, req search.Request, format string) error {
	if format != "text" && format != "json" {
		return amanerrors.ValidationError(fmt.Sprintf("unknown format %q (use text or json)", format), nil)
	}
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	if err := root.setupLogging(cfg, false); err != nil {
		return err
	}

	engine, closeEngine, err := openEngine(ctx, cfg, req.Mode != "fts")
	if err != nil {
		return err
	}
	defer closeEngine()

	resp, err := engine.Search(ctx, req)
	if err != nil {
		return err
	}
	slog.Info("search_complete",
		slog.String("query", req.Query),
		slog.Int("results", len(resp.Results)),
		slog.Float64("ms", resp.Metadata.SearchTimeMs))

	out := output.New(cmd.OutOrStdout())
	if format == "json" {
		return out.JSON(resp)
	}
	out.Results(req.Query, resp)
	return nil
}
