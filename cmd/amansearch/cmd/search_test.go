package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
	"github.com/Aman-CERP/amansearch/internal/search"
)

func documentIDs(resp search.Response) []string {
	ids := make([]string, 0, len(resp.Results))
	for _, r := range resp.Results {
		ids = append(ids, r.DocumentID)
	}
	return ids
}

func searchJSON(t *testing.T, project, dataDir string, args ...string) search.Response {
	t.Helper()
	args = append([]string{"search", "--format", "json", "--dir", project, "--data-dir", dataDir}, args...)
	out, err := execute(t, args...)
	require.NoError(t, err)
	var resp search.Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	return resp
}

// =============================================================================
// Load then search
// =============================================================================

func TestSearch_AfterLoad(t *testing.T) {
	// Given: a loaded corpus
	project, dataDir := testEnv(t)
	loadCorpus(t, project, dataDir)

	tests := []struct {
		name   string
		args   []string
		want   string
		script string
	}{
		{"latin keyword", []string{"machine learning"}, "ml", "latin"},
		{"han keyword", []string{"人工智能"}, "zh", "han"},
		{"keyword only", []string{"dough", "--mode", "fts"}, "cook", "latin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// When: searching
			resp := searchJSON(t, project, dataDir, tt.args...)

			// Then: the expected document is found
			require.NotEmpty(t, resp.Results)
			assert.Equal(t, tt.want, resp.Results[0].DocumentID)
			assert.Equal(t, tt.script, resp.Metadata.DetectedScript)
		})
	}
}

func TestSearch_ChainInfo(t *testing.T) {
	project, dataDir := testEnv(t)
	loadCorpus(t, project, dataDir)

	resp := searchJSON(t, project, dataDir, "patterns from data", "--mode", "fts")

	require.NotEmpty(t, resp.Results)
	r := resp.Results[0]
	assert.Equal(t, "ml", r.DocumentID)
	assert.Equal(t, "Intro to ML", r.Title)
	assert.Equal(t, 2, r.ChainInfo.BestChunkSequence)
	assert.Equal(t, 2, r.ChainInfo.TotalChunks)
}

func TestSearch_StrictFilter(t *testing.T) {
	// Given: a loaded corpus
	project, dataDir := testEnv(t)
	loadCorpus(t, project, dataDir)

	// When: the filter excludes the best lexical match
	resp := searchJSON(t, project, dataDir, "machine learning", "--exclude-scheme", "kb/public")

	// Then: nothing outside the filter is returned
	assert.NotContains(t, documentIDs(resp), "ml")
	assert.NotContains(t, documentIDs(resp), "zh")

	// When: the filter matches nothing
	resp = searchJSON(t, project, dataDir, "machine learning", "--tag", "topic/none")

	// Then: the result is empty, not an error
	assert.Empty(t, resp.Results)
	assert.Zero(t, resp.Metadata.TotalResults)
}

func TestSearch_TextOutput(t *testing.T) {
	project, dataDir := testEnv(t)
	loadCorpus(t, project, dataDir)

	out, err := execute(t, "search", "machine learning", "--dir", project, "--data-dir", dataDir, "--explain")

	require.NoError(t, err)
	assert.Contains(t, out, `Results for "machine learning"`)
	assert.Contains(t, out, "Intro to ML")
	assert.Contains(t, out, "fusion")
}

func TestSearch_Errors(t *testing.T) {
	project, dataDir := testEnv(t)

	// No index yet.
	_, err := execute(t, "search", "anything", "--dir", project, "--data-dir", dataDir)
	assert.True(t, amanerrors.HasCode(err, amanerrors.ErrCodeIndexNotFound))

	loadCorpus(t, project, dataDir)

	tests := []struct {
		name string
		args []string
		code string
	}{
		{"bad format", []string{"x", "--format", "xml"}, amanerrors.ErrCodeInvalidInput},
		{"bad mode", []string{"x", "--mode", "fuzzy"}, amanerrors.ErrCodeInvalidInput},
		{"negative limit", []string{"x", "--limit", "-1"}, amanerrors.ErrCodeInvalidInput},
		{"blank query", []string{"   "}, amanerrors.ErrCodeQueryEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"search", "--dir", project, "--data-dir", dataDir}, tt.args...)
			_, err := execute(t, args...)
			require.Error(t, err)
			assert.True(t, amanerrors.HasCode(err, tt.code), "got %v", err)
		})
	}
}

// =============================================================================
// Load
// =============================================================================

func TestLoad_ReplaceAndReset(t *testing.T) {
	// Given: a loaded corpus
	project, dataDir := testEnv(t)
	loadCorpus(t, project, dataDir)
	path := filepath.Join(project, "update.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"id":"cook","title":"Sourdough","text":"Feed the starter daily."}`+"\n"), 0o644))

	// When: loading a document id that already exists
	out, err := execute(t, "load", path, "--dir", project, "--data-dir", dataDir, "--quiet")

	// Then: it is replaced
	require.NoError(t, err)
	assert.Contains(t, out, "Loaded 1 documents (1 chunks, 1 replaced)")
	assert.Contains(t, out, "Index consistent (4 chunks checked)")
	resp := searchJSON(t, project, dataDir, "dough", "--mode", "fts")
	assert.Empty(t, resp.Results)

	// When: loading with --reset
	out, err = execute(t, "load", path, "--dir", project, "--data-dir", dataDir, "--quiet", "--reset")

	// Then: only the new input remains
	require.NoError(t, err)
	assert.Contains(t, out, "Loaded 1 documents (1 chunks, 0 replaced)")
	resp = searchJSON(t, project, dataDir, "machine learning", "--mode", "fts")
	assert.Empty(t, resp.Results)
}

func TestLoad_InvalidInput(t *testing.T) {
	project, dataDir := testEnv(t)
	path := filepath.Join(project, "bad.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"id\":\"a\",\"text\":\"x\"}\nnot json\n"), 0o644))

	_, err := execute(t, "load", path, "--dir", project, "--data-dir", dataDir)
	assert.True(t, amanerrors.HasCode(err, amanerrors.ErrCodeInvalidInput))

	_, err = execute(t, "load", filepath.Join(project, "missing.jsonl"), "--dir", project, "--data-dir", dataDir)
	assert.True(t, amanerrors.HasCode(err, amanerrors.ErrCodeInvalidInput))
}

// =============================================================================
// Status
// =============================================================================

func TestStatus_JSON(t *testing.T) {
	project, dataDir := testEnv(t)
	loadCorpus(t, project, dataDir)

	out, err := execute(t, "status", "--json", "--check", "--dir", project, "--data-dir", dataDir)

	require.NoError(t, err)
	var report struct {
		Documents   int    `json:"documents"`
		Chunks      int    `json:"chunks"`
		Vectors     int    `json:"vectors"`
		Model       string `json:"model"`
		Dimensions  int    `json:"dimensions"`
		Consistency struct {
			Checked         int   `json:"checked"`
			Inconsistencies []any `json:"inconsistencies"`
		} `json:"consistency"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report), out)
	assert.Equal(t, 3, report.Documents)
	assert.Equal(t, 4, report.Chunks)
	assert.Equal(t, 4, report.Vectors)
	assert.Equal(t, 768, report.Dimensions)
	assert.NotEmpty(t, report.Model)
	assert.Equal(t, 4, report.Consistency.Checked)
	assert.Empty(t, report.Consistency.Inconsistencies)
}
