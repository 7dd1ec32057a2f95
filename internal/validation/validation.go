// Package validation runs data-driven relevance checks against a search index.
//
// Queries live in a YAML file split into three tiers. Tier 1 and Tier 2
// queries name document ids that must appear in the top results, and may
// name ids that must never appear (filter isolation). Negative queries only
// need to complete without an internal failure. The query set can change
// without rebuilding the binary.
package validation

import (
	"context"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
	"github.com/Aman-CERP/amansearch/internal/filter"
	"github.com/Aman-CERP/amansearch/internal/search"
)

// DefaultTopN is how deep a query's results are inspected when top_n is unset.
const DefaultTopN = 10

// QuerySpec defines a test query with expected results.
type QuerySpec struct {
	ID       string              `yaml:"id" json:"id"`
	Name     string              `yaml:"name" json:"name"`
	Query    string              `yaml:"query" json:"query"`
	Mode     string              `yaml:"mode,omitempty" json:"mode,omitempty"`
	Lang     string              `yaml:"lang,omitempty" json:"lang,omitempty"`
	Filter   filter.StrictFilter `yaml:"filter,omitempty" json:"filter,omitempty"`
	Expected []string            `yaml:"expected" json:"expected,omitempty"` // any one must rank within TopN
	Excluded []string            `yaml:"excluded" json:"excluded,omitempty"` // none may appear within TopN
	TopN     int                 `yaml:"top_n,omitempty" json:"top_n,omitempty"`
	Notes    string              `yaml:"notes,omitempty" json:"notes,omitempty"`
	Tier     int                 `yaml:"-" json:"tier"`
}

// QueryConfig holds all validation queries loaded from YAML.
type QueryConfig struct {
	Tier1    []QuerySpec `yaml:"tier1"`
	Tier2    []QuerySpec `yaml:"tier2"`
	Negative []QuerySpec `yaml:"negative"`
}

// LoadQueries reads a query file from path.
func LoadQueries(path string) (*QueryConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, amanerrors.ValidationError(fmt.Sprintf("failed to read queries file %s", path), err)
	}
	return ParseQueries(data)
}

// ParseQueries decodes a query file and assigns tiers.
func ParseQueries(data []byte) (*QueryConfig, error) {
	var cfg QueryConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, amanerrors.ValidationError("failed to parse queries YAML", err)
	}

	for i := range cfg.Tier1 {
		cfg.Tier1[i].Tier = 1
	}
	for i := range cfg.Tier2 {
		cfg.Tier2[i].Tier = 2
	}
	for i := range cfg.Negative {
		cfg.Negative[i].Tier = 0
	}

	for _, specs := range [][]QuerySpec{cfg.Tier1, cfg.Tier2} {
		for _, spec := range specs {
			if len(spec.Expected) == 0 && len(spec.Excluded) == 0 {
				return nil, amanerrors.ValidationError(
					fmt.Sprintf("query %q needs expected or excluded document ids", spec.ID), nil)
			}
		}
	}
	return &cfg, nil
}

// TestResult captures the outcome of a single query test.
type TestResult struct {
	Spec       QuerySpec     `json:"spec"`
	Passed     bool          `json:"passed"`
	Duration   time.Duration `json:"duration_ns"`
	TopResults []string      `json:"top_results"`
	MatchedAt  int           `json:"matched_at"` // 0-based; -1 if not found
	Leaked     []string      `json:"leaked,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// TierSummary counts passes within one tier.
type TierSummary struct {
	Results []TestResult `json:"results"`
	Pass    int          `json:"pass"`
	Total   int          `json:"total"`
}

// PassRate returns the pass fraction, or 1 for an empty tier.
func (s TierSummary) PassRate() float64 {
	if s.Total == 0 {
		return 1
	}
	return float64(s.Pass) / float64(s.Total)
}

func (s *TierSummary) add(tr TestResult) {
	s.Results = append(s.Results, tr)
	s.Total++
	if tr.Passed {
		s.Pass++
	}
}

// Result captures a full validation run.
type Result struct {
	Timestamp time.Time   `json:"timestamp"`
	Tier1     TierSummary `json:"tier1"`
	Tier2     TierSummary `json:"tier2"`
	Negative  TierSummary `json:"negative"`
}

// Validator runs validation queries against a searcher.
type Validator struct {
	searcher search.Searcher
}

// NewValidator creates a validator over s.
func NewValidator(s search.Searcher) *Validator {
	return &Validator{searcher: s}
}

// RunQuery executes a single query and returns the result.
func (v *Validator) RunQuery(ctx context.Context, spec QuerySpec) TestResult {
	result := TestResult{Spec: spec, MatchedAt: -1}

	topN := spec.TopN
	if topN <= 0 {
		topN = DefaultTopN
	}

	start := time.Now()
	resp, err := v.searcher.Search(ctx, search.Request{
		Query:  spec.Query,
		Mode:   spec.Mode,
		Lang:   spec.Lang,
		Filter: spec.Filter,
		Limit:  topN,
	})
	result.Duration = time.Since(start)

	if err != nil {
		// A negative query may be rejected as invalid input, never fail internally.
		if spec.Tier == 0 && isInputError(err) {
			result.Passed = true
		} else {
			result.Error = err.Error()
		}
		return result
	}

	for _, r := range resp.Results {
		result.TopResults = append(result.TopResults, r.DocumentID)
	}

	if spec.Tier == 0 {
		result.Passed = true
		return result
	}

	for _, id := range result.TopResults {
		if slices.Contains(spec.Excluded, id) {
			result.Leaked = append(result.Leaked, id)
		}
	}
	matched := len(spec.Expected) == 0
	if !matched {
		matched, result.MatchedAt = checkExpected(result.TopResults, spec.Expected)
	}
	result.Passed = matched && len(result.Leaked) == 0
	return result
}

// RunAll executes every query in cfg and returns the results.
func (v *Validator) RunAll(ctx context.Context, cfg *QueryConfig) *Result {
	result := &Result{Timestamp: time.Now()}

	for _, spec := range cfg.Tier1 {
		result.Tier1.add(v.RunQuery(ctx, spec))
	}
	for _, spec := range cfg.Tier2 {
		result.Tier2.add(v.RunQuery(ctx, spec))
	}
	for _, spec := range cfg.Negative {
		result.Negative.add(v.RunQuery(ctx, spec))
	}

	return result
}

// checkExpected returns the position of the first expected document.
func checkExpected(results, expected []string) (bool, int) {
	for i, id := range results {
		if slices.Contains(expected, id) {
			return true, i
		}
	}
	return false, -1
}

func isInputError(err error) bool {
	return amanerrors.HasCode(err, amanerrors.ErrCodeQueryEmpty) ||
		amanerrors.HasCode(err, amanerrors.ErrCodeInvalidInput)
}
