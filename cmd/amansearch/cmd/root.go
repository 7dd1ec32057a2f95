// Package cmd provides the CLI commands for amansearch.
package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amansearch/internal/config"
	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
	"github.com/Aman-CERP/amansearch/internal/logging"
	"github.com/Aman-CERP/amansearch/internal/profiling"
	"github.com/Aman-CERP/amansearch/pkg/version"
)

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configFile string
	projectDir string
	dataDir    string
	debug      bool

	profileCPU   string
	profileMem   string
	profileTrace string

	profile *profiling.Session
	stop    []func()
}

// NewRootCmd creates the root command for the amansearch CLI.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "amansearch",
		Short: "Hybrid multilingual search over pre-chunked documents",
		Long: `amansearch answers keyword and meaning queries over the same corpus.

Each query runs a script-aware lexical branch and a two-stage semantic
branch concurrently, fuses them with reciprocal rank fusion and returns
one result per document.

Load documents with 'amansearch load', query with 'amansearch search',
and expose the index to tools with 'amansearch serve'.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("amansearch version {{.Version}}\n")

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.configFile, "config", "", "Config file (default: user config + .amansearch.yaml)")
	pf.StringVar(&opts.projectDir, "dir", ".", "Directory searched for .amansearch.yaml")
	pf.StringVar(&opts.dataDir, "data-dir", "", "Index directory (overrides storage.data_dir)")
	pf.BoolVar(&opts.debug, "debug", false, "Enable debug logging to ~/.amansearch/logs/")
	pf.StringVar(&opts.profileCPU, "profile-cpu", "", "Write CPU profile to file")
	pf.StringVar(&opts.profileMem, "profile-mem", "", "Write memory profile to file")
	pf.StringVar(&opts.profileTrace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = opts.startProfiling
	cmd.PersistentPostRunE = opts.stopProfiling

	cmd.AddCommand(newSearchCmd(opts))
	cmd.AddCommand(newLoadCmd(opts))
	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newStatusCmd(opts))
	cmd.AddCommand(newValidateCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command and prints a failure to stderr.
func Execute() error {
	err := NewRootCmd().Execute()
	if err != nil {
		_, _ = fmt.Fprint(os.Stderr, amanerrors.FormatForCLI(err))
	}
	return err
}

// loadConfig resolves the effective configuration for a command.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configFile != "" {
		if _, statErr := os.Stat(o.configFile); errors.Is(statErr, fs.ErrNotExist) {
			return nil, amanerrors.New(amanerrors.ErrCodeConfigNotFound,
				"config file not found: "+o.configFile, statErr).
				WithSuggestion("run 'amansearch config init' or drop --config")
		}
		cfg, err = config.LoadFile(o.configFile)
	} else {
		cfg, err = config.Load(o.projectDir)
	}
	if err != nil {
		return nil, err
	}
	if o.dataDir != "" {
		cfg.Storage.DataDir = o.dataDir
	}
	return cfg, nil
}

// setupLogging installs the default logger. MCP stdio serving must never
// write to stdout or stderr, so it logs to file only.
func (o *rootOptions) setupLogging(cfg *config.Config, stdio bool) error {
	var lc logging.Config
	switch {
	case stdio:
		lc = logging.StdioConfig(cfg.Logging.Level)
	case o.debug:
		lc = logging.DebugConfig()
	default:
		lc = logging.DefaultConfig()
	}
	if cfg.Logging.File != "" {
		lc.FilePath = cfg.Logging.File
		lc.Level = cfg.Logging.Level
		lc.Format = cfg.Logging.Format
	}
	if o.debug {
		lc.Level = "debug"
	}

	logger, cleanup, err := logging.Setup(lc)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	slog.SetDefault(logger)
	o.stop = append(o.stop, cleanup)
	return nil
}

func (o *rootOptions) startProfiling(_ *cobra.Command, _ []string) error {
	opts := profiling.Options{CPU: o.profileCPU, Heap: o.profileMem, Trace: o.profileTrace}
	if !opts.Enabled() {
		return nil
	}
	session, err := profiling.Start(opts)
	if err != nil {
		return err
	}
	o.profile = session
	return nil
}

func (o *rootOptions) stopProfiling(_ *cobra.Command, _ []string) error {
	o.runStop()
	return o.profile.Stop()
}

// runStop runs cleanups in reverse registration order.
func (o *rootOptions) runStop() {
	for i := len(o.stop) - 1; i >= 0; i-- {
		o.stop[i]()
	}
	o.stop = nil
}

// fileExists reports whether path exists.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
