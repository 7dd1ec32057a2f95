// Package query turns raw query text into an immutable Plan: detected
// script, parsed boolean/phrase structure, lexical strategy and the
// adaptive fusion parameters.
package query

import (
	"log/slog"
	"strings"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"

	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
)

// DefaultPlanCacheSize is the number of plans kept by the analyzer.
const DefaultPlanCacheSize = 4096

// StemmingLanguages are the languages with a stemmed analyzer.
var StemmingLanguages = []string{"en", "de", "fr", "es", "pt", "it", "ru"}

// Flags are the lexical feature toggles. They are fixed at construction.
type Flags struct {
	ScriptDetection      bool
	TrigramFallback      bool
	BigramCJK            bool
	MultilingualStemming bool
}

// DefaultFlags enables every feature.
func DefaultFlags() Flags {
	return Flags{
		ScriptDetection:      true,
		TrigramFallback:      true,
		BigramCJK:            true,
		MultilingualStemming: true,
	}
}

// Config configures an Analyzer.
type Config struct {
	Flags           Flags
	Weighting       Weighting
	DefaultLanguage string
	CacheSize       int
}

// DefaultConfig returns the default analyzer configuration.
func DefaultConfig() Config {
	return Config{
		Flags:           DefaultFlags(),
		Weighting:       DefaultWeighting(),
		DefaultLanguage: "en",
		CacheSize:       DefaultPlanCacheSize,
	}
}

// Options are the per-query hints.
type Options struct {
	Mode     Mode
	Language string
	Script   string
}

// Analyzer builds query plans. It is safe for concurrent use.
type Analyzer struct {
	cfg   Config
	cache *lru.Cache[string, *Plan]
}

// NewAnalyzer creates an analyzer. An unsupported default language falls
// back to English.
func NewAnalyzer(cfg Config) *Analyzer {
	if !isStemmingLanguage(cfg.DefaultLanguage) {
		cfg.DefaultLanguage = "en"
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = DefaultPlanCacheSize
	}
	cache, _ := lru.New[string, *Plan](size)
	return &Analyzer{cfg: cfg, cache: cache}
}

// Flags returns the analyzer's feature flags.
func (a *Analyzer) Flags() Flags { return a.cfg.Flags }

// Analyze returns the plan for raw. It never fails; malformed syntax is
// repaired and noted in Plan.Notes.
func (a *Analyzer) Analyze(raw string, opts Options) *Plan {
	if opts.Mode == "" {
		opts.Mode = ModeHybrid
	}
	key := strings.Join([]string{raw, string(opts.Mode), lower(opts.Language), lower(opts.Script)}, "\x00")
	if p, ok := a.cache.Get(key); ok {
		return p
	}
	p := a.analyze(raw, opts)
	a.cache.Add(key, p)
	return p
}

func (a *Analyzer) analyze(raw string, opts Options) *Plan {
	expr, notes := Parse(raw)
	p := &Plan{
		Raw:    raw,
		Mode:   opts.Mode,
		Expr:   expr,
		Tokens: CountTokens(expr),
		Quoted: expr.HasPhrase(),
		Notes:  notes,
	}
	lang := lower(opts.Language)

	p.Detection = DetectScript(operandText(expr))
	p.Script = a.resolveScript(p, opts.Script, lang)

	if p.Detection.Ambiguous() {
		slog.Debug("script_detection_ambiguous",
			slog.String("code", amanerrors.ErrCodeScriptAmbiguous),
			slog.String("query", raw),
			slog.String("dominant", p.Detection.Dominant.String()),
			slog.Float64("confidence", p.Detection.Confidence))
	}

	p.Weights, p.K = a.cfg.Weighting.Select(p.Tokens, p.Quoted)
	switch opts.Mode {
	case ModeFTS:
		p.Weights = Weights{Lexical: 1, Semantic: 0}
	case ModeSemantic:
		p.Weights = Weights{Lexical: 0, Semantic: 1}
	}

	if p.Script == ScriptMixed {
		a.planMixed(p, lang)
	} else {
		p.Strategy, p.Language = a.strategyFor(p.Script, lang)
		p.SubQueries = []SubQuery{{
			Script:   p.Script,
			Strategy: p.Strategy,
			Language: p.Language,
			Must:     expr.Must,
		}}
		for _, op := range expr.MustNot {
			p.Exclusions = append(p.Exclusions, Exclusion{Operand: op, Strategy: p.Strategy, Language: p.Language})
		}
	}
	return p
}

// resolveScript applies, in order: disabled detection, script override,
// language hint, detection.
func (a *Analyzer) resolveScript(p *Plan, override, lang string) Script {
	if !a.cfg.Flags.ScriptDetection {
		return ScriptLatin
	}
	if override != "" {
		if s, ok := ParseScript(override); ok {
			return s
		}
		p.Notes = append(p.Notes, "unknown script hint ignored: "+override)
	}
	if lang != "" {
		if s, ok := scriptByLanguage[lang]; ok {
			return s
		}
		p.Notes = append(p.Notes, "unknown language hint ignored: "+lang)
	}
	return p.Detection.Primary
}

func (a *Analyzer) strategyFor(s Script, lang string) (Strategy, string) {
	f := a.cfg.Flags
	if !f.ScriptDetection {
		return StrategyLatinStemmed, a.stemLanguage(ScriptLatin, lang)
	}
	switch {
	case s == ScriptLatin:
		return StrategyLatinStemmed, a.stemLanguage(s, lang)
	case s == ScriptCyrillic:
		if !f.MultilingualStemming {
			return StrategySimple, ""
		}
		return StrategyLatinStemmed, a.stemLanguage(s, lang)
	case s.IsCJK():
		switch {
		case f.BigramCJK:
			return StrategyCJKBigram, ""
		case f.TrigramFallback:
			return StrategyTrigram, ""
		}
		return StrategySimple, ""
	case s == ScriptEmoji:
		if f.TrigramFallback {
			return StrategyTrigram, ""
		}
		return StrategySimple, ""
	default:
		return StrategySimple, ""
	}
}

// stemLanguage picks the stemmer: a hint written in script s, then the
// script's own language, then the default.
func (a *Analyzer) stemLanguage(s Script, hint string) string {
	if !a.cfg.Flags.MultilingualStemming {
		return a.cfg.DefaultLanguage
	}
	if isStemmingLanguage(hint) && (!a.cfg.Flags.ScriptDetection || scriptByLanguage[hint] == s) {
		return hint
	}
	if s == ScriptCyrillic {
		return "ru"
	}
	return a.cfg.DefaultLanguage
}

// planMixed splits every operand at script boundaries and builds one
// sub-query per script family, largest share first.
func (a *Analyzer) planMixed(p *Plan, lang string) {
	p.Strategy = StrategyMixed
	fallback := p.Detection.Dominant.family()

	order := make([]Script, 0, len(p.Detection.Scripts))
	seen := make(map[Script]bool)
	for _, sh := range p.Detection.Scripts {
		if f := sh.Script.family(); !seen[f] {
			seen[f] = true
			order = append(order, f)
		}
	}

	byFamily := make(map[Script][]Clause)
	for _, clause := range p.Expr.Must {
		parts := make(map[Script][]Operand)
		for _, op := range clause.Any {
			for _, piece := range splitByFamily(op, fallback) {
				parts[piece.script] = append(parts[piece.script], piece.Operand)
			}
		}
		for fam, ops := range parts {
			byFamily[fam] = append(byFamily[fam], Clause{Any: ops})
		}
	}
	for _, op := range p.Expr.MustNot {
		for _, piece := range splitByFamily(op, fallback) {
			strategy, language := a.strategyFor(piece.script, lang)
			p.Exclusions = append(p.Exclusions, Exclusion{Operand: piece.Operand, Strategy: strategy, Language: language})
		}
	}

	for fam := range byFamily {
		if !seen[fam] {
			seen[fam] = true
			order = append(order, fam)
		}
	}
	for _, fam := range order {
		clauses, ok := byFamily[fam]
		if !ok {
			continue
		}
		strategy, language := a.strategyFor(fam, lang)
		p.SubQueries = append(p.SubQueries, SubQuery{
			Script:   fam,
			Strategy: strategy,
			Language: language,
			Must:     clauses,
		})
	}
}

type scriptPiece struct {
	Operand
	script Script
}

// splitByFamily cuts op where the script family changes. Neutral runes
// stay with the piece they follow. An operand with no classified rune
// belongs to fallback.
func splitByFamily(op Operand, fallback Script) []scriptPiece {
	var pieces []scriptPiece
	var buf []rune
	current := ScriptUnknown

	emit := func() {
		text := strings.TrimSpace(string(buf))
		if text != "" {
			fam := current
			if fam == ScriptUnknown {
				fam = fallback
			}
			pieces = append(pieces, scriptPiece{Operand: Operand{Text: text, Phrase: op.Phrase}, script: fam})
		}
		buf = buf[:0]
	}

	for _, r := range op.Text {
		fam := classifyRune(r).family()
		if fam != ScriptUnknown && current != ScriptUnknown && fam != current {
			emit()
		}
		if fam != ScriptUnknown {
			current = fam
		}
		buf = append(buf, r)
	}
	emit()
	return pieces
}

// operandText joins operand texts so operators such as OR never count
// toward script detection.
func operandText(e Expr) string {
	var sb strings.Builder
	for _, op := range e.Positive() {
		sb.WriteString(op.Text)
		sb.WriteByte(' ')
	}
	for _, op := range e.MustNot {
		sb.WriteString(op.Text)
		sb.WriteByte(' ')
	}
	return sb.String()
}

func isStemmingLanguage(lang string) bool {
	for _, l := range StemmingLanguages {
		if l == lang {
			return true
		}
	}
	return false
}

func lower(s string) string {
	return strings.ToLower(strings.TrimFunc(s, unicode.IsSpace))
}
