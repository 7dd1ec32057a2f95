// Package config loads amansearch configuration from YAML files and
// AMANSEARCH_* environment variables.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ProjectConfigNames are the project-level config file names, in lookup order.
var ProjectConfigNames = []string{".amansearch.yaml", ".amansearch.yml"}

// Config is the complete amansearch configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Fusion     FusionConfig     `yaml:"fusion" json:"fusion"`
	Lexical    LexicalConfig    `yaml:"lexical" json:"lexical"`
	Semantic   SemanticConfig   `yaml:"semantic" json:"semantic"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Storage    StorageConfig    `yaml:"storage" json:"storage"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// SearchConfig configures the query pipeline.
type SearchConfig struct {
	DefaultLimit int `yaml:"default_limit" json:"default_limit"`
	MaxLimit     int `yaml:"max_limit" json:"max_limit"`

	// DefaultMode is hybrid, fts or semantic.
	DefaultMode string `yaml:"default_mode" json:"default_mode"`

	// FusionMethod is rrf (default) or rsf.
	FusionMethod string `yaml:"fusion_method" json:"fusion_method"`

	// Per-branch timeouts, as Go durations ("2s", "800ms").
	LexicalTimeout  string `yaml:"lexical_timeout" json:"lexical_timeout"`
	SemanticTimeout string `yaml:"semantic_timeout" json:"semantic_timeout"`

	// MinScore drops results whose normalized fused score is lower.
	MinScore float64 `yaml:"min_score" json:"min_score"`

	// CandidateLimit caps the lexical candidate list per query.
	CandidateLimit int `yaml:"candidate_limit" json:"candidate_limit"`
}

// WeightPair is a lexical/semantic fusion weight pair.
type WeightPair struct {
	Lexical  float64 `yaml:"lexical" json:"lexical"`
	Semantic float64 `yaml:"semantic" json:"semantic"`
}

// FusionConfig holds the adaptive weighting table and RRF k parameters.
type FusionConfig struct {
	// Adaptive selects weights and k from query shape. When false,
	// StaticWeights and BaseK are used for every query.
	Adaptive      bool       `yaml:"adaptive" json:"adaptive"`
	StaticWeights WeightPair `yaml:"static_weights" json:"static_weights"`

	PhraseWeights WeightPair `yaml:"phrase_weights" json:"phrase_weights"`
	ShortWeights  WeightPair `yaml:"short_weights" json:"short_weights"`
	MediumWeights WeightPair `yaml:"medium_weights" json:"medium_weights"`
	LongWeights   WeightPair `yaml:"long_weights" json:"long_weights"`

	// ShortMaxTokens and MediumMaxTokens are the table breakpoints.
	ShortMaxTokens  int `yaml:"short_max_tokens" json:"short_max_tokens"`
	MediumMaxTokens int `yaml:"medium_max_tokens" json:"medium_max_tokens"`

	BaseK            float64 `yaml:"base_k" json:"base_k"`
	MinK             int     `yaml:"min_k" json:"min_k"`
	MaxK             int     `yaml:"max_k" json:"max_k"`
	ShortMultiplier  float64 `yaml:"short_multiplier" json:"short_multiplier"`
	LongMultiplier   float64 `yaml:"long_multiplier" json:"long_multiplier"`
	PhraseMultiplier float64 `yaml:"phrase_multiplier" json:"phrase_multiplier"`
}

// LexicalConfig configures term matching.
type LexicalConfig struct {
	TitleWeight float64 `yaml:"title_weight" json:"title_weight"`
	TagWeight   float64 `yaml:"tag_weight" json:"tag_weight"`
	BodyWeight  float64 `yaml:"body_weight" json:"body_weight"`

	// DefaultLanguage picks the stemmer when no hint is given.
	DefaultLanguage string `yaml:"default_language" json:"default_language"`

	ScriptDetection      bool `yaml:"script_detection" json:"script_detection"`
	TrigramFallback      bool `yaml:"trigram_fallback" json:"trigram_fallback"`
	BigramCJK            bool `yaml:"bigram_cjk" json:"bigram_cjk"`
	MultilingualStemming bool `yaml:"multilingual_stemming" json:"multilingual_stemming"`
}

// SemanticConfig configures two-stage vector retrieval.
type SemanticConfig struct {
	// CoarseDimensions is the MRL tier used for the ANN stage.
	CoarseDimensions int `yaml:"coarse_dimensions" json:"coarse_dimensions"`
	CoarseK          int `yaml:"coarse_k" json:"coarse_k"`

	// RecallProfile is fast, balanced, high or exhaustive.
	RecallProfile string  `yaml:"recall_profile" json:"recall_profile"`
	ScaleFactor   float64 `yaml:"scale_factor" json:"scale_factor"`
	MinEf         int     `yaml:"min_ef" json:"min_ef"`
	MaxEf         int     `yaml:"max_ef" json:"max_ef"`

	MinSimilarity float64 `yaml:"min_similarity" json:"min_similarity"`

	// ExactScanThreshold is the filtered universe size at or below which
	// the coarse stage scans exactly instead of walking the graph.
	ExactScanThreshold int `yaml:"exact_scan_threshold" json:"exact_scan_threshold"`

	// GraphM is the HNSW neighbor count used when building the coarse graph.
	GraphM int `yaml:"graph_m" json:"graph_m"`
}

// EmbeddingsConfig configures the inference provider.
type EmbeddingsConfig struct {
	// Provider is ollama, openai or static.
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`
	BaseURL    string `yaml:"base_url" json:"base_url"`

	// APIKey is never written back to disk.
	APIKey string `yaml:"-" json:"-"`

	Dimensions int `yaml:"dimensions" json:"dimensions"`

	// MRLDimensions lists the truncation tiers the model was trained for.
	MRLDimensions []int `yaml:"mrl_dimensions" json:"mrl_dimensions"`

	Timeout string `yaml:"timeout" json:"timeout"`

	// RateLimit is requests per second. Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit"`
	RateBurst int     `yaml:"rate_burst" json:"rate_burst"`

	CacheSize int `yaml:"cache_size" json:"cache_size"`

	// LoadWorkers bounds concurrent embedding calls during load.
	LoadWorkers int `yaml:"load_workers" json:"load_workers"`
}

// StorageConfig locates the index directory.
type StorageConfig struct {
	DataDir string `yaml:"data_dir" json:"data_dir"`
}

// ServerConfig configures amansearch serve.
type ServerConfig struct {
	// Transport is stdio (MCP) or http.
	Transport string `yaml:"transport" json:"transport"`
	HTTPAddr  string `yaml:"http_addr" json:"http_addr"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	File   string `yaml:"file" json:"file"`
}

// NewConfig returns the built-in defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Search: SearchConfig{
			DefaultLimit:    20,
			MaxLimit:        100,
			DefaultMode:     "hybrid",
			FusionMethod:    "rrf",
			LexicalTimeout:  "2s",
			SemanticTimeout: "5s",
			MinScore:        0,
			CandidateLimit:  100,
		},
		Fusion: FusionConfig{
			Adaptive:         true,
			StaticWeights:    WeightPair{Lexical: 0.5, Semantic: 0.5},
			PhraseWeights:    WeightPair{Lexical: 0.70, Semantic: 0.30},
			ShortWeights:     WeightPair{Lexical: 0.60, Semantic: 0.40},
			MediumWeights:    WeightPair{Lexical: 0.50, Semantic: 0.50},
			LongWeights:      WeightPair{Lexical: 0.35, Semantic: 0.65},
			ShortMaxTokens:   2,
			MediumMaxTokens:  5,
			BaseK:            20,
			MinK:             8,
			MaxK:             40,
			ShortMultiplier:  0.7,
			LongMultiplier:   1.3,
			PhraseMultiplier: 0.6,
		},
		Lexical: LexicalConfig{
			TitleWeight:          1.0,
			TagWeight:            0.4,
			BodyWeight:           0.2,
			DefaultLanguage:      "en",
			ScriptDetection:      true,
			TrigramFallback:      true,
			BigramCJK:            true,
			MultilingualStemming: true,
		},
		Semantic: SemanticConfig{
			CoarseDimensions:   64,
			CoarseK:            100,
			RecallProfile:      "balanced",
			ScaleFactor:        1.0,
			MinEf:              10,
			MaxEf:              500,
			MinSimilarity:      0.3,
			ExactScanThreshold: 2000,
			GraphM:             16,
		},
		Embeddings: EmbeddingsConfig{
			Provider:      "ollama",
			Model:         "nomic-embed-text",
			OllamaHost:    "http://localhost:11434",
			Dimensions:    768,
			MRLDimensions: []int{768, 512, 256, 128, 64},
			Timeout:       "5s",
			CacheSize:     1000,
			LoadWorkers:   4,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Server: ServerConfig{
			Transport: "stdio",
			HTTPAddr:  "127.0.0.1:8088",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".amansearch", "index")
	}
	return filepath.Join(home, ".amansearch", "index")
}

// GetUserConfigPath returns the path to the user configuration file:
//   - $XDG_CONFIG_HOME/amansearch/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/amansearch/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "amansearch", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "amansearch", "config.yaml")
	}
	return filepath.Join(home, ".config", "amansearch", "config.yaml")
}

// ProjectConfigPath returns the project config file in dir, or "" if none exists.
func ProjectConfigPath(dir string) string {
	for _, name := range ProjectConfigNames {
		p := filepath.Join(dir, name)
		if fileExists(p) {
			return p
		}
	}
	return ""
}

// Load loads configuration for the project in dir.
// Sources apply in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User config (~/.config/amansearch/config.yaml)
//  3. Project config (.amansearch.yaml in dir)
//  4. Environment variables (AMANSEARCH_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if p := GetUserConfigPath(); fileExists(p) {
		if err := cfg.loadYAML(p); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if p := ProjectConfigPath(dir); p != "" {
		if err := cfg.loadYAML(p); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFile applies a single explicit config file over the defaults and env.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadYAML decodes path over the current values. Keys absent from the file
// keep their existing value, and explicit false/0 values are honored.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	next := c.clone()
	if err := yaml.Unmarshal(data, next); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	*c = *next
	return nil
}

func (c *Config) clone() *Config {
	cp := *c
	cp.Embeddings.MRLDimensions = append([]int(nil), c.Embeddings.MRLDimensions...)
	return &cp
}

// applyEnvOverrides applies AMANSEARCH_* environment variable overrides.
// Malformed values are ignored.
func (c *Config) applyEnvOverrides() {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setBool := func(key string, dst *bool) {
		if b, ok := ParseBool(os.Getenv(key)); ok {
			*dst = b
		}
	}

	setString("AMANSEARCH_MODE", &c.Search.DefaultMode)
	setString("AMANSEARCH_FUSION_METHOD", &c.Search.FusionMethod)
	if v := os.Getenv("AMANSEARCH_RRF_BASE_K"); v != "" {
		if k, err := strconv.ParseFloat(v, 64); err == nil && k > 0 {
			c.Fusion.BaseK = k
		}
	}
	if v := os.Getenv("AMANSEARCH_MIN_SCORE"); v != "" {
		if s, err := strconv.ParseFloat(v, 64); err == nil && s >= 0 && s <= 1 {
			c.Search.MinScore = s
		}
	}

	setBool("AMANSEARCH_FTS_SCRIPT_DETECTION", &c.Lexical.ScriptDetection)
	setBool("AMANSEARCH_FTS_TRIGRAM_FALLBACK", &c.Lexical.TrigramFallback)
	setBool("AMANSEARCH_FTS_BIGRAM_CJK", &c.Lexical.BigramCJK)
	setBool("AMANSEARCH_FTS_MULTILINGUAL", &c.Lexical.MultilingualStemming)
	setString("AMANSEARCH_DEFAULT_LANGUAGE", &c.Lexical.DefaultLanguage)

	setString("AMANSEARCH_RECALL_PROFILE", &c.Semantic.RecallProfile)

	setString("AMANSEARCH_EMBEDDINGS_PROVIDER", &c.Embeddings.Provider)
	setString("AMANSEARCH_EMBEDDINGS_MODEL", &c.Embeddings.Model)
	setString("AMANSEARCH_OLLAMA_HOST", &c.Embeddings.OllamaHost)
	setString("AMANSEARCH_OPENAI_BASE_URL", &c.Embeddings.BaseURL)
	setString("OPENAI_API_KEY", &c.Embeddings.APIKey)
	setString("AMANSEARCH_OPENAI_API_KEY", &c.Embeddings.APIKey)

	setString("AMANSEARCH_DATA_DIR", &c.Storage.DataDir)
	setString("AMANSEARCH_TRANSPORT", &c.Server.Transport)
	setString("AMANSEARCH_HTTP_ADDR", &c.Server.HTTPAddr)
	setString("AMANSEARCH_LOG_LEVEL", &c.Logging.Level)
}

// ParseBool accepts true/1/yes/on and false/0/no/off, case-insensitively.
// The second result is false for any other value, including "".
func ParseBool(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "on":
		return true, true
	case "false", "0", "no", "off":
		return false, true
	default:
		return false, false
	}
}

// Validate checks the configuration for values no component can run with.
func (c *Config) Validate() error {
	s := c.Search
	if s.MaxLimit < 1 || s.MaxLimit > 1000 {
		return fmt.Errorf("search.max_limit must be between 1 and 1000, got %d", s.MaxLimit)
	}
	if s.DefaultLimit < 1 || s.DefaultLimit > s.MaxLimit {
		return fmt.Errorf("search.default_limit must be between 1 and %d, got %d", s.MaxLimit, s.DefaultLimit)
	}
	if !oneOf(s.DefaultMode, "hybrid", "fts", "semantic") {
		return fmt.Errorf("search.default_mode must be 'hybrid', 'fts' or 'semantic', got %s", s.DefaultMode)
	}
	if !oneOf(s.FusionMethod, "rrf", "rsf") {
		return fmt.Errorf("search.fusion_method must be 'rrf' or 'rsf', got %s", s.FusionMethod)
	}
	for name, v := range map[string]string{
		"search.lexical_timeout":  s.LexicalTimeout,
		"search.semantic_timeout": s.SemanticTimeout,
		"embeddings.timeout":      c.Embeddings.Timeout,
	} {
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			return fmt.Errorf("%s must be a positive duration, got %q", name, v)
		}
	}
	if s.MinScore < 0 || s.MinScore > 1 {
		return fmt.Errorf("search.min_score must be between 0 and 1, got %f", s.MinScore)
	}
	if s.CandidateLimit < 1 {
		return fmt.Errorf("search.candidate_limit must be positive, got %d", s.CandidateLimit)
	}

	f := c.Fusion
	for name, w := range map[string]WeightPair{
		"static_weights": f.StaticWeights,
		"phrase_weights": f.PhraseWeights,
		"short_weights":  f.ShortWeights,
		"medium_weights": f.MediumWeights,
		"long_weights":   f.LongWeights,
	} {
		if w.Lexical < 0 || w.Semantic < 0 || w.Lexical > 1 || w.Semantic > 1 {
			return fmt.Errorf("fusion.%s must be within [0,1]", name)
		}
		if math.Abs(w.Lexical+w.Semantic-1.0) > 0.01 {
			return fmt.Errorf("fusion.%s must sum to 1.0, got %.2f", name, w.Lexical+w.Semantic)
		}
	}
	if f.ShortMaxTokens < 1 || f.MediumMaxTokens <= f.ShortMaxTokens {
		return fmt.Errorf("fusion token breakpoints must satisfy 1 <= short_max_tokens < medium_max_tokens")
	}
	if f.BaseK <= 0 || f.MinK < 1 || f.MaxK < f.MinK {
		return fmt.Errorf("fusion k must satisfy base_k > 0 and 1 <= min_k <= max_k")
	}
	if f.ShortMultiplier <= 0 || f.LongMultiplier <= 0 || f.PhraseMultiplier <= 0 {
		return fmt.Errorf("fusion k multipliers must be positive")
	}

	l := c.Lexical
	if l.TitleWeight < 0 || l.TagWeight < 0 || l.BodyWeight < 0 {
		return fmt.Errorf("lexical field weights must be non-negative")
	}
	if l.TitleWeight+l.TagWeight+l.BodyWeight == 0 {
		return fmt.Errorf("lexical field weights must not all be zero")
	}

	sem := c.Semantic
	if !oneOf(sem.RecallProfile, "fast", "balanced", "high", "exhaustive") {
		return fmt.Errorf("semantic.recall_profile must be fast, balanced, high or exhaustive, got %s", sem.RecallProfile)
	}
	if sem.CoarseK < 1 || sem.MinEf < 1 || sem.MaxEf < sem.MinEf || sem.ScaleFactor <= 0 {
		return fmt.Errorf("semantic requires coarse_k >= 1, 1 <= min_ef <= max_ef and scale_factor > 0")
	}
	if sem.MinSimilarity < -1 || sem.MinSimilarity > 1 {
		return fmt.Errorf("semantic.min_similarity must be between -1 and 1, got %f", sem.MinSimilarity)
	}
	if sem.GraphM < 2 {
		return fmt.Errorf("semantic.graph_m must be at least 2, got %d", sem.GraphM)
	}

	e := c.Embeddings
	if !oneOf(e.Provider, "ollama", "openai", "static") {
		return fmt.Errorf("embeddings.provider must be 'ollama', 'openai' or 'static', got %s", e.Provider)
	}
	if e.Dimensions < 1 {
		return fmt.Errorf("embeddings.dimensions must be positive, got %d", e.Dimensions)
	}
	if !containsInt(e.MRLDimensions, sem.CoarseDimensions) {
		return fmt.Errorf("semantic.coarse_dimensions %d is not one of embeddings.mrl_dimensions %v",
			sem.CoarseDimensions, e.MRLDimensions)
	}
	if sem.CoarseDimensions > e.Dimensions {
		return fmt.Errorf("semantic.coarse_dimensions %d exceeds embeddings.dimensions %d",
			sem.CoarseDimensions, e.Dimensions)
	}
	if e.RateLimit < 0 || e.CacheSize < 0 || e.LoadWorkers < 1 {
		return fmt.Errorf("embeddings requires rate_limit >= 0, cache_size >= 0 and load_workers >= 1")
	}

	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir must not be empty")
	}
	if !oneOf(c.Server.Transport, "stdio", "http") {
		return fmt.Errorf("server.transport must be 'stdio' or 'http', got %s", c.Server.Transport)
	}
	if !oneOf(strings.ToLower(c.Logging.Level), "debug", "info", "warn", "error") {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}
	if !oneOf(c.Logging.Format, "json", "text") {
		return fmt.Errorf("logging.format must be 'json' or 'text', got %s", c.Logging.Format)
	}
	return nil
}

// Duration parses a duration field already checked by Validate.
// Unparseable input returns fallback.
func Duration(v string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}

func containsInt(values []int, v int) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
