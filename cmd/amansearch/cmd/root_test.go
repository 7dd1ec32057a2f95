package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
)

// testEnv isolates a command run from the user's machine: no user config,
// static embeddings and an index under a temp directory. It returns the
// project directory and the data directory.
func testEnv(t *testing.T) (string, string) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("AMANSEARCH_EMBEDDINGS_PROVIDER", "static")
	t.Setenv("AMANSEARCH_DATA_DIR", "")
	t.Setenv("AMANSEARCH_LOG_LEVEL", "error")
	project := t.TempDir()
	return project, filepath.Join(project, "index")
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

const testCorpus = `{"id":"ml","title":"Intro to ML (Part 1/2)","tags":["topic/ai","level/intro"],"scheme":"kb/public","chunks":["Course outline and goals.","Machine learning models learn patterns from data."]}
{"id":"zh","title":"人工智能简介","language":"zh","tags":["topic/ai"],"scheme":"kb/public","text":"人工智能和机器学习正在改变世界。"}
{"id":"cook","title":"Bread baking","tags":["topic/cooking"],"scheme":"kb/private","text":"Knead the dough and let it rise overnight."}
`

// loadCorpus writes testCorpus and loads it into dataDir.
func loadCorpus(t *testing.T, project, dataDir string) {
	t.Helper()
	path := filepath.Join(project, "corpus.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(testCorpus), 0o644))
	out, err := execute(t, "load", path, "--dir", project, "--data-dir", dataDir, "--quiet")
	require.NoError(t, err)
	require.Contains(t, out, "Loaded 3 documents (4 chunks, 0 replaced)")
}

// =============================================================================
// Command tree
// =============================================================================

func TestRootCmd_HasSubcommands(t *testing.T) {
	// Given: root command
	cmd := NewRootCmd()

	// When: listing subcommands
	names := make(map[string]bool)
	for _, sc := range cmd.Commands() {
		names[sc.Name()] = true
	}

	// Then: every command is registered
	for _, want := range []string{"search", "load", "serve", "status", "validate", "config", "version"} {
		assert.True(t, names[want], "missing %s command", want)
	}
}

func TestRootCmd_PersistentFlags(t *testing.T) {
	cmd := NewRootCmd()
	for _, name := range []string{"config", "dir", "data-dir", "debug", "profile-cpu", "profile-mem", "profile-trace"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), "missing --%s", name)
	}
}

func TestRootCmd_MemoryProfile(t *testing.T) {
	// Given: an isolated environment and a profile path
	_, _ = testEnv(t)
	path := filepath.Join(t.TempDir(), "mem.prof")

	// When: running a command with --profile-mem
	_, err := execute(t, "version", "--profile-mem", path)

	// Then: the heap profile is written after the command
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestLoadConfig_DataDirFlagWins(t *testing.T) {
	project, _ := testEnv(t)
	opts := &rootOptions{projectDir: project, dataDir: "/tmp/elsewhere"}

	cfg, err := opts.loadConfig()

	require.NoError(t, err)
	assert.Equal(t, "/tmp/elsewhere", cfg.Storage.DataDir)
	assert.Equal(t, "static", cfg.Embeddings.Provider)
}

func TestLoadConfig_ExplicitFile(t *testing.T) {
	_, _ = testEnv(t)
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("search:\n  default_limit: 7\n"), 0o644))

	cfg, err := (&rootOptions{configFile: path}).loadConfig()

	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Search.DefaultLimit)
}

func TestLoadConfig_ExplicitFileMissing(t *testing.T) {
	// Given: --config naming a file that does not exist
	_, _ = testEnv(t)
	path := filepath.Join(t.TempDir(), "missing.yaml")

	// When: resolving the configuration
	_, err := (&rootOptions{configFile: path}).loadConfig()

	// Then: the error says the file is missing rather than unreadable
	require.Error(t, err)
	assert.True(t, amanerrors.HasCode(err, amanerrors.ErrCodeConfigNotFound))
	assert.Contains(t, err.Error(), "missing.yaml")
}
