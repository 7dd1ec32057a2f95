package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
	"github.com/Aman-CERP/amansearch/internal/index"
	"github.com/Aman-CERP/amansearch/internal/output"
)

// loadOptions holds CLI flags for load.
type loadOptions struct {
	reset     bool
	workers   int
	batchSize int
	check     bool
	quiet     bool
}

func newLoadCmd(root *rootOptions) *cobra.Command {
	var opts loadOptions

	cmd := &cobra.Command{
		Use:   "load <file.jsonl>",
		Short: "Load pre-chunked documents into the index",
		Long: `Load documents from a JSON Lines file, one document per line.

Each record has an id, an optional title, tags, schemes and language, and
either "text" (a single chunk) or "chunks" (strings or {"id","text"}
objects, in chain order). Loading a document id that already exists
replaces it, including every chunk of its old chain.

Use "-" to read from standard input.`,
		Example: `  amansearch load corpus.jsonl
  amansearch load corpus.jsonl --reset --workers 8
  cat corpus.jsonl | amansearch load -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd.Context(), cmd, root, args[0], opts)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.reset, "reset", false, "Delete the existing index first (required after changing the embedding model)")
	f.IntVar(&opts.workers, "workers", 0, "Concurrent embedding calls (default from embeddings.load_workers)")
	f.IntVar(&opts.batchSize, "batch-size", index.DefaultBatchSize, "Chunks per embedding call")
	f.BoolVar(&opts.check, "check", true, "Verify store consistency after loading")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "Suppress progress output")

	return cmd
}

func runLoad(ctx context.Context, cmd *cobra.Command, root *rootOptions, path string, opts loadOptions) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	if err := root.setupLogging(cfg, false); err != nil {
		return err
	}
	out := output.New(cmd.OutOrStdout())

	docs, err := readDocuments(cmd.InOrStdin(), path)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		out.Warning("No documents in input")
		return nil
	}

	if opts.reset {
		if err := resetStores(cfg.Storage.DataDir); err != nil {
			return err
		}
		out.Statusf("🧹", "Cleared index in %s", cfg.Storage.DataDir)
	}

	stores, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer closeStores(stores)

	embedder, err := newEmbedder(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer func() { _ = embedder.Close() }()

	workers := opts.workers
	if workers <= 0 {
		workers = cfg.Embeddings.LoadWorkers
	}
	lc := index.Config{
		DataDir:       cfg.Storage.DataDir,
		Workers:       workers,
		BatchSize:     opts.batchSize,
		MRLDimensions: cfg.Embeddings.MRLDimensions,
	}
	if !opts.quiet {
		lc.Progress = func(done, total int) {
			out.Progress(done, total, "embedding chunks")
		}
	}

	loader, err := index.NewLoader(stores, embedder, lc)
	if err != nil {
		return err
	}
	out.Statusf("📥", "Loading %d documents with %s", len(docs), embedder.ModelName())

	res, err := loader.Load(ctx, docs)
	if err != nil {
		return err
	}
	out.Successf("Loaded %d documents (%d chunks, %d replaced) in %s",
		res.Documents, res.Chunks, res.Replaced, res.Duration.Round(time.Millisecond))

	if !opts.check {
		return nil
	}
	check, err := index.Check(ctx, stores)
	if err != nil {
		return err
	}
	if check.OK() {
		out.Successf("Index consistent (%d chunks checked)", check.Checked)
		return nil
	}
	for _, issue := range check.Inconsistencies {
		out.Warningf("%s %s %s", issue.Type, issue.ChunkID, issue.Details)
	}
	slog.Warn("load_inconsistent", slog.Int("issues", len(check.Inconsistencies)))
	return amanerrors.New(amanerrors.ErrCodeCorruptIndex,
		fmt.Sprintf("%d store inconsistencies after load", len(check.Inconsistencies)), nil).
		WithSuggestion("rebuild with 'amansearch load --reset'")
}

// readDocuments reads JSONL from path, or from stdin when path is "-".
func readDocuments(stdin io.Reader, path string) ([]index.Document, error) {
	if path == "-" {
		return index.ReadJSONL(stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, amanerrors.New(amanerrors.ErrCodeInvalidInput, "cannot open "+path, err)
	}
	defer f.Close()
	return index.ReadJSONL(f)
}
