package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Script detection
// =============================================================================

func TestDetectScript(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		primary Script
		mixed   bool
	}{
		{"latin", "machine learning", ScriptLatin, false},
		{"cyrillic", "машинное обучение", ScriptCyrillic, false},
		{"han", "人工智能", ScriptHan, false},
		{"japanese kana and kanji stay one family", "東京のラーメン", ScriptKatakana, false},
		{"hangul", "인공지능", ScriptHangul, false},
		{"arabic", "تعلم الآلة", ScriptArabic, false},
		{"hebrew", "למידת מכונה", ScriptHebrew, false},
		{"greek", "μηχανική μάθηση", ScriptGreek, false},
		{"emoji", "🚀🔥", ScriptEmoji, false},
		{"digits and punctuation only", "2024 !!", ScriptUnknown, false},
		{"latin and han", "deep learning 深度学习", ScriptMixed, true},
		{"minor script below threshold", "a very long english sentence 字", ScriptLatin, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := DetectScript(tt.text)
			if tt.name == "japanese kana and kanji stay one family" {
				// Dominant bucket depends on character counts; only the family matters.
				assert.True(t, d.Primary.IsCJK())
				assert.NotEqual(t, ScriptMixed, d.Primary)
				return
			}
			assert.Equal(t, tt.primary, d.Primary)
			assert.Equal(t, tt.mixed, d.Primary == ScriptMixed)
		})
	}
}

func TestDetectScript_ReportsSharesAndConfidence(t *testing.T) {
	// Given: 4 latin letters and 4 han characters
	d := DetectScript("abcd 人工智能")

	// Then: both scripts are reported at 50% and the query is mixed
	assert.Equal(t, ScriptMixed, d.Primary)
	assert.InDelta(t, 0.5, d.Confidence, 1e-9)
	require.Len(t, d.Scripts, 2)
	assert.True(t, d.Ambiguous())
}

func TestParseScript(t *testing.T) {
	s, ok := ParseScript("Chinese")
	assert.True(t, ok)
	assert.Equal(t, ScriptHan, s)

	_, ok = ParseScript("klingon")
	assert.False(t, ok)
}

// =============================================================================
// Syntax
// =============================================================================

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		must    []Clause
		mustNot []Operand
		noted   bool
	}{
		{
			name: "implicit and",
			raw:  "rust async",
			must: []Clause{{Any: []Operand{{Text: "rust"}}}, {Any: []Operand{{Text: "async"}}}},
		},
		{
			name: "or binds tighter than and",
			raw:  "a b OR c d",
			must: []Clause{
				{Any: []Operand{{Text: "a"}}},
				{Any: []Operand{{Text: "b"}, {Text: "c"}}},
				{Any: []Operand{{Text: "d"}}},
			},
		},
		{
			name:    "not and phrase",
			raw:     `"machine learning" -python`,
			must:    []Clause{{Any: []Operand{{Text: "machine learning", Phrase: true}}}},
			mustNot: []Operand{{Text: "python"}},
		},
		{
			name:    "negated phrase",
			raw:     `go -"garbage collector"`,
			must:    []Clause{{Any: []Operand{{Text: "go"}}}},
			mustNot: []Operand{{Text: "garbage collector", Phrase: true}},
		},
		{
			name:  "unmatched quote is literal",
			raw:   `"unterminated phrase`,
			must:  []Clause{{Any: []Operand{{Text: `"unterminated`}}}, {Any: []Operand{{Text: "phrase"}}}},
			noted: true,
		},
		{
			name:  "dangling or dropped",
			raw:   "OR a OR",
			must:  []Clause{{Any: []Operand{{Text: "a"}}}},
			noted: true,
		},
		{
			name:  "bare minus dropped",
			raw:   "a - b",
			must:  []Clause{{Any: []Operand{{Text: "a"}}}, {Any: []Operand{{Text: "b"}}}},
			noted: true,
		},
		{
			name: "lowercase or is a term",
			raw:  "this or that",
			must: []Clause{
				{Any: []Operand{{Text: "this"}}},
				{Any: []Operand{{Text: "or"}}},
				{Any: []Operand{{Text: "that"}}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr, notes := Parse(tt.raw)
			assert.Equal(t, tt.must, expr.Must)
			assert.Equal(t, tt.mustNot, expr.MustNot)
			assert.Equal(t, tt.noted, len(notes) > 0, "notes: %v", notes)
		})
	}
}

func TestCountTokens(t *testing.T) {
	expr, _ := Parse(`"machine learning" models -slow`)
	assert.Equal(t, 3, CountTokens(expr))
	assert.True(t, expr.HasPhrase())
}

// =============================================================================
// Weighting
// =============================================================================

func TestWeighting_Select(t *testing.T) {
	w := DefaultWeighting()
	tests := []struct {
		name    string
		tokens  int
		quoted  bool
		weights Weights
		k       int
	}{
		{"quoted phrase", 2, true, Weights{0.70, 0.30}, 12},
		{"quoted long phrase still uses phrase multiplier", 8, true, Weights{0.70, 0.30}, 12},
		{"one token", 1, false, Weights{0.60, 0.40}, 14},
		{"two tokens", 2, false, Weights{0.60, 0.40}, 14},
		{"three tokens", 3, false, Weights{0.50, 0.50}, 20},
		{"five tokens", 5, false, Weights{0.50, 0.50}, 20},
		{"six tokens", 6, false, Weights{0.35, 0.65}, 26},
		{"no tokens", 0, false, Weights{0.50, 0.50}, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			weights, k := w.Select(tt.tokens, tt.quoted)
			assert.Equal(t, tt.weights, weights)
			assert.Equal(t, tt.k, k)
		})
	}
}

func TestWeighting_ClampsK(t *testing.T) {
	w := DefaultWeighting()
	w.BaseK = 100

	_, k := w.Select(8, false)
	assert.Equal(t, 40, k)

	w.BaseK = 5
	_, k = w.Select(1, false)
	assert.Equal(t, 8, k)
}

func TestWeighting_StaticWhenNotAdaptive(t *testing.T) {
	w := DefaultWeighting()
	w.Adaptive = false
	w.Static = Weights{Lexical: 0.8, Semantic: 0.2}

	weights, k := w.Select(1, true)

	assert.Equal(t, Weights{0.8, 0.2}, weights)
	assert.Equal(t, 20, k)
}

// =============================================================================
// Analyzer
// =============================================================================

func TestAnalyze_ScenarioQuotedPhrase(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())

	p := a.Analyze(`"machine learning"`, Options{})

	assert.Equal(t, Weights{0.70, 0.30}, p.Weights)
	assert.Equal(t, 12, p.K)
	assert.True(t, p.Quoted)
	assert.Equal(t, StrategyLatinStemmed, p.Strategy)
	assert.Equal(t, "en", p.Language)
}

func TestAnalyze_ScenarioTwoTokens(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())

	p := a.Analyze("rust async", Options{})

	assert.Equal(t, Weights{0.60, 0.40}, p.Weights)
	assert.Equal(t, 14, p.K)
	assert.Equal(t, 2, p.Tokens)
}

func TestAnalyze_CJKStrategyFollowsFlags(t *testing.T) {
	tests := []struct {
		name  string
		flags func(*Flags)
		want  Strategy
	}{
		{"bigram enabled", func(*Flags) {}, StrategyCJKBigram},
		{"bigram disabled falls back to trigram", func(f *Flags) { f.BigramCJK = false }, StrategyTrigram},
		{"both disabled", func(f *Flags) { f.BigramCJK = false; f.TrigramFallback = false }, StrategySimple},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.flags(&cfg.Flags)
			a := NewAnalyzer(cfg)

			p := a.Analyze("人工智能", Options{})

			assert.Equal(t, tt.want, p.Strategy)
			assert.Equal(t, ScriptHan, p.Script)
		})
	}
}

func TestAnalyze_StrategyPerScript(t *testing.T) {
	tests := []struct {
		query    string
		strategy Strategy
		language string
	}{
		{"машинное обучение", StrategyLatinStemmed, "ru"},
		{"تعلم الآلة", StrategySimple, ""},
		{"למידת מכונה", StrategySimple, ""},
		{"μηχανική μάθηση", StrategySimple, ""},
		{"🚀🔥", StrategyTrigram, ""},
		{"2024", StrategySimple, ""},
	}

	a := NewAnalyzer(DefaultConfig())
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			p := a.Analyze(tt.query, Options{})
			assert.Equal(t, tt.strategy, p.Strategy)
			assert.Equal(t, tt.language, p.Language)
			require.Len(t, p.SubQueries, 1)
		})
	}
}

func TestAnalyze_Hints(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())

	t.Run("language hint picks stemmer", func(t *testing.T) {
		p := a.Analyze("laufen", Options{Language: "de"})
		assert.Equal(t, StrategyLatinStemmed, p.Strategy)
		assert.Equal(t, "de", p.Language)
	})

	t.Run("script override wins over detection", func(t *testing.T) {
		p := a.Analyze("abc", Options{Script: "cjk"})
		assert.Equal(t, StrategyCJKBigram, p.Strategy)
	})

	t.Run("unknown hint noted and ignored", func(t *testing.T) {
		p := a.Analyze("hello", Options{Script: "klingon"})
		assert.Equal(t, StrategyLatinStemmed, p.Strategy)
		assert.NotEmpty(t, p.Notes)
	})
}

func TestAnalyze_MixedSplitsPerScript(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())

	p := a.Analyze("AI 深度学习 -python", Options{})

	assert.Equal(t, ScriptMixed, p.Script)
	assert.Equal(t, StrategyMixed, p.Strategy)
	require.Len(t, p.SubQueries, 2)

	strategies := map[Strategy]bool{}
	for _, sq := range p.SubQueries {
		strategies[sq.Strategy] = true
	}
	assert.True(t, strategies[StrategyLatinStemmed])
	assert.True(t, strategies[StrategyCJKBigram])

	require.Len(t, p.Exclusions, 1)
	assert.Equal(t, "python", p.Exclusions[0].Text)
	assert.Equal(t, StrategyLatinStemmed, p.Exclusions[0].Strategy)
}

func TestAnalyze_MixedTokenSplitsAtBoundary(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())

	p := a.Analyze("AI人工智能", Options{})

	require.Equal(t, StrategyMixed, p.Strategy)
	texts := map[string]bool{}
	for _, sq := range p.SubQueries {
		for _, c := range sq.Must {
			for _, op := range c.Any {
				texts[op.Text] = true
			}
		}
	}
	assert.True(t, texts["AI"])
	assert.True(t, texts["人工智能"])
}

func TestAnalyze_OperatorsDoNotAffectDetection(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())

	p := a.Analyze("人工 OR 智能", Options{})

	assert.Equal(t, ScriptHan, p.Script)
}

func TestAnalyze_DisabledDetectionUsesDefaultStemmer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Flags.ScriptDetection = false
	a := NewAnalyzer(cfg)

	p := a.Analyze("人工智能", Options{})

	assert.Equal(t, StrategyLatinStemmed, p.Strategy)
	assert.Equal(t, "en", p.Language)
}

func TestAnalyze_MultilingualOff(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Flags.MultilingualStemming = false
	a := NewAnalyzer(cfg)

	assert.Equal(t, "en", a.Analyze("laufen", Options{Language: "de"}).Language)
	assert.Equal(t, StrategySimple, a.Analyze("обучение", Options{}).Strategy)
}

func TestAnalyze_ModeOverridesWeights(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())

	assert.Equal(t, Weights{1, 0}, a.Analyze("rust", Options{Mode: ModeFTS}).Weights)
	assert.Equal(t, Weights{0, 1}, a.Analyze("rust", Options{Mode: ModeSemantic}).Weights)
}

func TestAnalyze_CachesPlans(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())

	first := a.Analyze("rust async", Options{})
	second := a.Analyze("rust async", Options{})
	other := a.Analyze("rust async", Options{Mode: ModeFTS})

	assert.Same(t, first, second)
	assert.NotSame(t, first, other)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeHybrid, m)

	m, err = ParseMode("FTS")
	require.NoError(t, err)
	assert.Equal(t, ModeFTS, m)
	assert.False(t, m.UsesSemantic())

	_, err = ParseMode("vector")
	assert.Error(t, err)
}

func TestPlan_SemanticText(t *testing.T) {
	a := NewAnalyzer(DefaultConfig())

	tests := []struct {
		raw  string
		want string
	}{
		{`rust OR go -java "async runtime"`, "rust go async runtime"},
		{"  plain words ", "plain words"},
		{"-only", ""},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, a.Analyze(tt.raw, Options{}).SemanticText())
		})
	}
}
