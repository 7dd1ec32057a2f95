package query

import (
	"fmt"
	"strings"
)

// Strategy is the lexical matching algorithm chosen for a query.
type Strategy int

const (
	// StrategySimple is basic unicode tokenization without stemming.
	StrategySimple Strategy = iota
	// StrategyLatinStemmed is language-specific stemmed matching.
	StrategyLatinStemmed
	// StrategyCJKBigram matches overlapping character bigrams and unigrams.
	StrategyCJKBigram
	// StrategyTrigram is substring matching over 2-3 character grams.
	StrategyTrigram
	// StrategyMixed runs one sub-query per script and unions the results.
	StrategyMixed
)

func (s Strategy) String() string {
	switch s {
	case StrategyLatinStemmed:
		return "latin_stemmed"
	case StrategyCJKBigram:
		return "cjk_bigram"
	case StrategyTrigram:
		return "trigram"
	case StrategyMixed:
		return "mixed"
	default:
		return "simple"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Strategy) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// MarshalText implements encoding.TextMarshaler.
func (s Script) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Mode selects which branches run.
type Mode string

const (
	ModeHybrid   Mode = "hybrid"
	ModeFTS      Mode = "fts"
	ModeSemantic Mode = "semantic"
)

// ParseMode validates a mode name. The empty string means hybrid.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeHybrid:
		return ModeHybrid, nil
	case ModeFTS:
		return ModeFTS, nil
	case ModeSemantic:
		return ModeSemantic, nil
	}
	return "", fmt.Errorf("unknown search mode %q (use hybrid, fts or semantic)", s)
}

// UsesLexical reports whether the lexical branch runs in this mode.
func (m Mode) UsesLexical() bool { return m != ModeSemantic }

// UsesSemantic reports whether the semantic branch runs in this mode.
func (m Mode) UsesSemantic() bool { return m != ModeFTS }

// SubQuery is one strategy-homogeneous part of the lexical query.
type SubQuery struct {
	Script   Script   `json:"script"`
	Strategy Strategy `json:"strategy"`
	Language string   `json:"language,omitempty"`
	Must     []Clause `json:"must"`
}

// Exclusion is a negated operand with the matching it must be analyzed with.
type Exclusion struct {
	Operand
	Strategy Strategy `json:"strategy"`
	Language string   `json:"language,omitempty"`
}

// Plan is the analyzed form of one query. Plans may be shared between
// concurrent queries through the analyzer cache and must not be mutated.
type Plan struct {
	Raw  string `json:"raw"`
	Mode Mode   `json:"mode"`

	Detection Detection `json:"-"`
	// Script is the script used for dispatch: an override, a language
	// hint, or the detected primary script.
	Script   Script   `json:"script"`
	Strategy Strategy `json:"strategy"`
	Language string   `json:"language,omitempty"`

	Expr   Expr `json:"expr"`
	Tokens int  `json:"tokens"`
	Quoted bool `json:"quoted"`

	Weights Weights `json:"weights"`
	K       int     `json:"k"`

	// SubQueries holds exactly one entry unless Strategy is StrategyMixed.
	SubQueries []SubQuery  `json:"sub_queries"`
	Exclusions []Exclusion `json:"exclusions,omitempty"`
	Notes      []string    `json:"notes,omitempty"`
}

// SemanticText is the text embedded for the semantic branch: the positive
// operands in query order, without operators or exclusions. A query made
// only of exclusions has no semantic text.
func (p *Plan) SemanticText() string {
	ops := p.Expr.Positive()
	parts := make([]string, 0, len(ops))
	for _, op := range ops {
		parts = append(parts, op.Text)
	}
	return strings.Join(parts, " ")
}
