package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Defaults for the knobs that matter most. The numeric constants are
// empirically chosen configuration defaults, not derived values; they are
// testable as configured behavior.
const (
	DefaultDBPath           = "mnemo.sqlite3"
	DefaultEmbeddingModel   = "text-embedding-3-small"
	DefaultEmbeddingDims    = 1536
	DefaultEmbeddingTimeout = 30 // seconds

	DefaultDedupThreshold = 0.95

	DefaultSemanticWeight      = 0.4
	DefaultTagWeight           = 0.2
	DefaultImportanceWeight    = 0.2
	DefaultRecencyWeight       = 0.2
	DefaultRecencyHalfLifeDays = 30.0

	DefaultPlannerMode          = "hybrid"
	DefaultMaxPlanTimeMs        = 300
	DefaultMaxTokenBudget       = 4000
	DefaultMinMemories          = 3
	DefaultMaxMemories          = 100
	DefaultAvgTokensPerMemory   = 80
	DefaultStatsCacheTTLSeconds = 30

	DefaultRelevanceThreshold = 0.3
	DefaultDecayHalfLifeDays  = 14.0
)

// Config is the flat, fully-enumerated knob set injected at startup.
// Every field has an explicit default; Validate rejects inconsistent
// values instead of coercing them.
type Config struct {
	// Logging
	LogLevel string
	LogFile  string

	// Store
	DBPath         string
	DedupThreshold float64

	// Embedding client
	EmbeddingProvider string // "openai" or "local"
	EmbeddingBaseURL  string
	EmbeddingAPIKey   string
	EmbeddingModel    string
	EmbeddingDims     int
	EmbeddingTimeout  int // seconds

	// Scorer (weights must sum to 1.0)
	SemanticWeight      float64
	TagWeight           float64
	ImportanceWeight    float64
	RecencyWeight       float64
	RecencyHalfLifeDays float64
	QueryThreshold      float64 // default record-drop threshold for queries

	// Router
	RouterRefinement bool // embedding-cluster refinement of the level decision

	// Planner
	PlannerMode              string // "static", "dynamic" or "hybrid"
	FallbackToStatic         bool
	SizeSmallThreshold       int
	SizeLargeThreshold       int
	SizeScalingBase          float64
	SizeScalingLogFactor     float64
	SizeScalingMax           float64
	ComplexityLengthWeight   float64
	ComplexityKeywordBoost   float64
	ComplexityMemoryBoost    float64
	ComplexityQuestionBoost  float64
	ComplexityMin            float64
	ComplexityMax            float64
	MultiplierBase           float64
	MultiplierRange          float64
	MaxPlanTimeMs            float64
	MaxTokenBudget           int
	MinMemories              int
	MaxMemories              int
	AvgTokensPerMemory       int
	StatsCacheTTLSeconds     int
	StaticRecent             map[string]int // keyed by memory level
	StaticSemantic           map[string]int
	StaticTokens             map[string]int
	EnableTagSearch          bool
	EnableKeywordSearch      bool
	EnableIntentSearch       bool
	EnableTemporalSearch     bool
	EnableNeuralSearch       bool
	TagSearchThreshold       float64 // complexity threshold
	IntentSearchDBThreshold  int
	TemporalSearchThreshold  int // store size threshold
	NeuralSearchThreshold    float64
	CompressionLightRatio    float64
	CompressionMaxRatio      float64
	CompressionOverageSlope  float64 // ratio increase per unit of token overage

	// Compressor
	RelevanceThreshold     float64
	BaseImportance         float64
	RecencyBoostDays       float64
	RecencyBoostFloor      float64
	TagBoostPerMatch       float64
	TagBoostCap            float64
	DecayHalfLifeDays      float64
	WeightFullThreshold    float64
	WeightSummaryThreshold float64
}

// fileConfig mirrors the TOML layout. Absent sections leave defaults intact.
type fileConfig struct {
	Logging struct {
		Level string `toml:"level"`
		File  string `toml:"file"`
	} `toml:"logging"`
	Store struct {
		Path           string  `toml:"path"`
		DedupThreshold float64 `toml:"dedup_threshold"`
	} `toml:"store"`
	Embedding struct {
		Provider   string `toml:"provider"`
		BaseURL    string `toml:"base_url"`
		APIKey     string `toml:"api_key"`
		Model      string `toml:"model"`
		Dimensions int    `toml:"dimensions"`
		TimeoutSec int    `toml:"timeout_seconds"`
	} `toml:"embedding"`
	Scorer struct {
		SemanticWeight      float64 `toml:"semantic_weight"`
		TagWeight           float64 `toml:"tag_weight"`
		ImportanceWeight    float64 `toml:"importance_weight"`
		RecencyWeight       float64 `toml:"recency_weight"`
		RecencyHalfLifeDays float64 `toml:"recency_half_life_days"`
		QueryThreshold      float64 `toml:"query_threshold"`
	} `toml:"scorer"`
	Router struct {
		Refinement *bool `toml:"refinement"`
	} `toml:"router"`
	Planner struct {
		Mode                 string  `toml:"mode"`
		FallbackToStatic     *bool   `toml:"fallback_to_static"`
		MaxPlanTimeMs        float64 `toml:"max_plan_time_ms"`
		MaxTokenBudget       int     `toml:"max_token_budget"`
		MinMemories          int     `toml:"min_memories"`
		MaxMemories          int     `toml:"max_memories"`
		AvgTokensPerMemory   int     `toml:"avg_tokens_per_memory"`
		StatsCacheTTLSeconds int     `toml:"stats_cache_ttl_seconds"`
	} `toml:"planner"`
	Compressor struct {
		RelevanceThreshold float64 `toml:"relevance_threshold"`
		DecayHalfLifeDays  float64 `toml:"decay_half_life_days"`
	} `toml:"compressor"`
}

// Default returns a Config populated with every default value.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		LogFile:  "",

		DBPath:         DefaultDBPath,
		DedupThreshold: DefaultDedupThreshold,

		EmbeddingProvider: "local",
		EmbeddingModel:    DefaultEmbeddingModel,
		EmbeddingDims:     DefaultEmbeddingDims,
		EmbeddingTimeout:  DefaultEmbeddingTimeout,

		SemanticWeight:      DefaultSemanticWeight,
		TagWeight:           DefaultTagWeight,
		ImportanceWeight:    DefaultImportanceWeight,
		RecencyWeight:       DefaultRecencyWeight,
		RecencyHalfLifeDays: DefaultRecencyHalfLifeDays,
		QueryThreshold:      0.3,

		RouterRefinement: true,

		PlannerMode:             DefaultPlannerMode,
		FallbackToStatic:        true,
		SizeSmallThreshold:      50,
		SizeLargeThreshold:      500,
		SizeScalingBase:         1.0,
		SizeScalingLogFactor:    0.5,
		SizeScalingMax:          2.0,
		ComplexityLengthWeight:  0.3,
		ComplexityKeywordBoost:  1.3,
		ComplexityMemoryBoost:   1.4,
		ComplexityQuestionBoost: 1.2,
		ComplexityMin:           0.5,
		ComplexityMax:           3.0,
		MultiplierBase:          0.3,
		MultiplierRange:         1.7,
		MaxPlanTimeMs:           DefaultMaxPlanTimeMs,
		MaxTokenBudget:          DefaultMaxTokenBudget,
		MinMemories:             DefaultMinMemories,
		MaxMemories:             DefaultMaxMemories,
		AvgTokensPerMemory:      DefaultAvgTokensPerMemory,
		StatsCacheTTLSeconds:    DefaultStatsCacheTTLSeconds,
		StaticRecent:            map[string]int{"none": 0, "light": 5, "moderate": 10, "full": 20},
		StaticSemantic:          map[string]int{"none": 0, "light": 2, "moderate": 5, "full": 10},
		StaticTokens:            map[string]int{"none": 200, "light": 400, "moderate": 800, "full": 1200},
		EnableTagSearch:         true,
		EnableKeywordSearch:     true,
		EnableIntentSearch:      true,
		EnableTemporalSearch:    true,
		EnableNeuralSearch:      true,
		TagSearchThreshold:      1.5,
		IntentSearchDBThreshold: 200,
		TemporalSearchThreshold: 500,
		NeuralSearchThreshold:   2.5,
		CompressionLightRatio:   0.1,
		CompressionMaxRatio:     0.9,
		CompressionOverageSlope: 0.4,

		RelevanceThreshold:     DefaultRelevanceThreshold,
		BaseImportance:         0.5,
		RecencyBoostDays:       30,
		RecencyBoostFloor:      0.1,
		TagBoostPerMatch:       0.2,
		TagBoostCap:            2.0,
		DecayHalfLifeDays:      DefaultDecayHalfLifeDays,
		WeightFullThreshold:    0.8,
		WeightSummaryThreshold: 0.5,
	}
}

// Load builds the configuration from defaults, an optional TOML file and
// MNEMO_* environment variables, in that precedence order, then validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	} else if envPath := os.Getenv("MNEMO_CONFIG"); envPath != "" {
		if err := cfg.applyFile(envPath); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	var parsed fileConfig
	if err := toml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	if parsed.Logging.Level != "" {
		c.LogLevel = parsed.Logging.Level
	}
	if parsed.Logging.File != "" {
		c.LogFile = parsed.Logging.File
	}
	if parsed.Store.Path != "" {
		c.DBPath = parsed.Store.Path
	}
	if parsed.Store.DedupThreshold != 0 {
		c.DedupThreshold = parsed.Store.DedupThreshold
	}
	if parsed.Embedding.Provider != "" {
		c.EmbeddingProvider = parsed.Embedding.Provider
	}
	if parsed.Embedding.BaseURL != "" {
		c.EmbeddingBaseURL = strings.TrimRight(parsed.Embedding.BaseURL, "/")
	}
	if parsed.Embedding.APIKey != "" {
		c.EmbeddingAPIKey = parsed.Embedding.APIKey
	}
	if parsed.Embedding.Model != "" {
		c.EmbeddingModel = parsed.Embedding.Model
	}
	if parsed.Embedding.Dimensions != 0 {
		c.EmbeddingDims = parsed.Embedding.Dimensions
	}
	if parsed.Embedding.TimeoutSec != 0 {
		c.EmbeddingTimeout = parsed.Embedding.TimeoutSec
	}
	if parsed.Scorer.SemanticWeight != 0 {
		c.SemanticWeight = parsed.Scorer.SemanticWeight
	}
	if parsed.Scorer.TagWeight != 0 {
		c.TagWeight = parsed.Scorer.TagWeight
	}
	if parsed.Scorer.ImportanceWeight != 0 {
		c.ImportanceWeight = parsed.Scorer.ImportanceWeight
	}
	if parsed.Scorer.RecencyWeight != 0 {
		c.RecencyWeight = parsed.Scorer.RecencyWeight
	}
	if parsed.Scorer.RecencyHalfLifeDays != 0 {
		c.RecencyHalfLifeDays = parsed.Scorer.RecencyHalfLifeDays
	}
	if parsed.Scorer.QueryThreshold != 0 {
		c.QueryThreshold = parsed.Scorer.QueryThreshold
	}
	if parsed.Router.Refinement != nil {
		c.RouterRefinement = *parsed.Router.Refinement
	}
	if parsed.Planner.Mode != "" {
		c.PlannerMode = parsed.Planner.Mode
	}
	if parsed.Planner.FallbackToStatic != nil {
		c.FallbackToStatic = *parsed.Planner.FallbackToStatic
	}
	if parsed.Planner.MaxPlanTimeMs != 0 {
		c.MaxPlanTimeMs = parsed.Planner.MaxPlanTimeMs
	}
	if parsed.Planner.MaxTokenBudget != 0 {
		c.MaxTokenBudget = parsed.Planner.MaxTokenBudget
	}
	if parsed.Planner.MinMemories != 0 {
		c.MinMemories = parsed.Planner.MinMemories
	}
	if parsed.Planner.MaxMemories != 0 {
		c.MaxMemories = parsed.Planner.MaxMemories
	}
	if parsed.Planner.AvgTokensPerMemory != 0 {
		c.AvgTokensPerMemory = parsed.Planner.AvgTokensPerMemory
	}
	if parsed.Planner.StatsCacheTTLSeconds != 0 {
		c.StatsCacheTTLSeconds = parsed.Planner.StatsCacheTTLSeconds
	}
	if parsed.Compressor.RelevanceThreshold != 0 {
		c.RelevanceThreshold = parsed.Compressor.RelevanceThreshold
	}
	if parsed.Compressor.DecayHalfLifeDays != 0 {
		c.DecayHalfLifeDays = parsed.Compressor.DecayHalfLifeDays
	}

	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("MNEMO_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("MNEMO_LOG_FILE"); v != "" {
		c.LogFile = v
	}
	if v := os.Getenv("MNEMO_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("MNEMO_EMBEDDING_PROVIDER"); v != "" {
		c.EmbeddingProvider = v
	}
	if v := os.Getenv("MNEMO_EMBEDDING_BASE_URL"); v != "" {
		c.EmbeddingBaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("MNEMO_EMBEDDING_API_KEY"); v != "" {
		c.EmbeddingAPIKey = v
	}
	if v := os.Getenv("MNEMO_EMBEDDING_MODEL"); v != "" {
		c.EmbeddingModel = v
	}
	if v := os.Getenv("MNEMO_PLANNER_MODE"); v != "" {
		c.PlannerMode = v
	}
	if v := os.Getenv("MNEMO_DEDUP_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.DedupThreshold = f
		}
	}
	if v := os.Getenv("MNEMO_ROUTER_REFINEMENT"); v != "" {
		c.RouterRefinement = v == "true" || v == "1"
	}
}

// Validate rejects inconsistent configuration. Errors here are fatal at
// startup; values are never silently coerced.
func (c *Config) Validate() error {
	weightSum := c.SemanticWeight + c.TagWeight + c.ImportanceWeight + c.RecencyWeight
	if math.Abs(weightSum-1.0) > 1e-9 {
		return fmt.Errorf("scorer weights must sum to 1.0, got %.4f", weightSum)
	}
	for name, w := range map[string]float64{
		"semantic":   c.SemanticWeight,
		"tag":        c.TagWeight,
		"importance": c.ImportanceWeight,
		"recency":    c.RecencyWeight,
	} {
		if w < 0 {
			return fmt.Errorf("scorer %s weight cannot be negative", name)
		}
	}
	if c.DedupThreshold <= 0 || c.DedupThreshold > 1 {
		return fmt.Errorf("dedup threshold must be in (0,1], got %v", c.DedupThreshold)
	}
	if c.RecencyHalfLifeDays <= 0 || c.DecayHalfLifeDays <= 0 {
		return fmt.Errorf("decay half-lives must be positive")
	}
	switch c.PlannerMode {
	case "static", "dynamic", "hybrid":
	default:
		return fmt.Errorf("planner mode must be static, dynamic or hybrid, got %q", c.PlannerMode)
	}
	if c.MaxTokenBudget <= 0 {
		return fmt.Errorf("max token budget must be positive")
	}
	if c.MinMemories < 0 || c.MaxMemories <= 0 || c.MinMemories > c.MaxMemories {
		return fmt.Errorf("memory bounds invalid: min=%d max=%d", c.MinMemories, c.MaxMemories)
	}
	if c.MaxPlanTimeMs <= 0 {
		return fmt.Errorf("max plan time must be positive")
	}
	if c.ComplexityMin >= c.ComplexityMax {
		return fmt.Errorf("complexity range invalid: min=%v max=%v", c.ComplexityMin, c.ComplexityMax)
	}
	if c.CompressionLightRatio < 0 || c.CompressionMaxRatio > 1 ||
		c.CompressionLightRatio > c.CompressionMaxRatio {
		return fmt.Errorf("compression ratio range invalid: light=%v max=%v",
			c.CompressionLightRatio, c.CompressionMaxRatio)
	}
	if c.CompressionOverageSlope <= 0 {
		return fmt.Errorf("compression overage slope must be positive")
	}
	if c.RelevanceThreshold < 0 || c.RelevanceThreshold > 1 {
		return fmt.Errorf("relevance threshold must be in [0,1]")
	}
	if c.QueryThreshold < 0 || c.QueryThreshold > 1 {
		return fmt.Errorf("query threshold must be in [0,1]")
	}
	for _, level := range []string{"none", "light", "moderate", "full"} {
		if _, ok := c.StaticRecent[level]; !ok {
			return fmt.Errorf("static plan table missing level %q", level)
		}
		if c.StaticTokens[level] <= 0 {
			return fmt.Errorf("static token budget for level %q must be positive", level)
		}
	}
	switch c.EmbeddingProvider {
	case "openai", "local":
	default:
		return fmt.Errorf("embedding provider must be openai or local, got %q", c.EmbeddingProvider)
	}
	if c.EmbeddingDims <= 0 {
		return fmt.Errorf("embedding dimensions must be positive")
	}
	if c.EmbeddingTimeout <= 0 {
		return fmt.Errorf("embedding timeout must be positive")
	}
	if c.AvgTokensPerMemory <= 0 {
		return fmt.Errorf("avg tokens per memory must be positive")
	}
	if c.StatsCacheTTLSeconds <= 0 {
		return fmt.Errorf("stats cache TTL must be positive")
	}
	return nil
}
