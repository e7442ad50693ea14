package memory

import (
	"fmt"
	"strings"
	"time"
)

// Importance ranks how strongly a record is favored during recall.
type Importance string

const (
	ImportanceLow    Importance = "low"
	ImportanceMedium Importance = "medium"
	ImportanceHigh   Importance = "high"
)

// IsValid reports whether the importance is one of the known levels.
func (i Importance) IsValid() bool {
	switch i {
	case ImportanceLow, ImportanceMedium, ImportanceHigh:
		return true
	default:
		return false
	}
}

// Weight maps importance to its fixed scoring contribution.
func (i Importance) Weight() float64 {
	switch i {
	case ImportanceHigh:
		return 1.0
	case ImportanceLow:
		return 0.3
	default:
		return 0.6
	}
}

// ParseImportance converts a string to an Importance, case-insensitively.
func ParseImportance(s string) (Importance, error) {
	imp := Importance(strings.ToLower(strings.TrimSpace(s)))
	if !imp.IsValid() {
		return "", fmt.Errorf("invalid importance %q (want low, medium or high)", s)
	}
	return imp, nil
}

// Level is the coarse memory retrieval intensity assigned by the router.
type Level string

const (
	LevelNone     Level = "none"
	LevelLight    Level = "light"
	LevelModerate Level = "moderate"
	LevelFull     Level = "full"
)

// IsValid reports whether the level is one of the known levels.
func (l Level) IsValid() bool {
	switch l {
	case LevelNone, LevelLight, LevelModerate, LevelFull:
		return true
	default:
		return false
	}
}

// ParseLevel converts a string to a Level, case-insensitively.
func ParseLevel(s string) (Level, error) {
	lvl := Level(strings.ToLower(strings.TrimSpace(s)))
	if !lvl.IsValid() {
		return "", fmt.Errorf("invalid memory level %q (want none, light, moderate or full)", s)
	}
	return lvl, nil
}

// Complexity is the response complexity class assigned by the router.
type Complexity string

const (
	ComplexitySimple     Complexity = "simple"
	ComplexityDetailed   Complexity = "detailed"
	ComplexityAnalytical Complexity = "analytical"
)

// Record is a stored unit of recalled knowledge.
//
// The embedding covers the combined question+answer text, is computed once
// at write time and regenerated only when the text changes. A record with
// an empty embedding is excluded from similarity-based retrieval paths but
// is never deleted for that reason.
type Record struct {
	ID         string     `json:"id"`
	Question   string     `json:"question"`
	Answer     string     `json:"answer"`
	Agent      string     `json:"agent"`
	Importance Importance `json:"importance"`
	Tags       []string   `json:"tags"`
	Embedding  []float32  `json:"embedding,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// CombinedText returns the text the embedding is computed over.
func (r *Record) CombinedText() string {
	return r.Question + " " + r.Answer
}

// HasEmbedding reports whether the record participates in similarity paths.
func (r *Record) HasEmbedding() bool {
	return len(r.Embedding) > 0
}

// RoutingDecision is the router's per-query triage output. It is ephemeral
// and never persisted.
type RoutingDecision struct {
	MemoryLevel         Level
	SaveMemory          bool
	ResponseComplexity  Complexity
	NeedsExternalSearch bool
	Confidence          float64
	// Reasoning is the ordered list of rule names that fired, kept for
	// debuggability only. Nothing downstream branches on it.
	Reasoning      []string
	ProcessingTime time.Duration
}

// ReasoningString joins the fired rule names for display.
func (d *RoutingDecision) ReasoningString() string {
	if len(d.Reasoning) == 0 {
		return "default_routing"
	}
	return strings.Join(d.Reasoning, " + ")
}

// RetrievalPlan is the planner's quantitative retrieval recipe for one
// query. Like RoutingDecision it is ephemeral.
type RetrievalPlan struct {
	RecentCount      int
	SemanticCount    int
	MaxTotal         int
	TokenBudget      int
	SearchStrategies []string
	CompressionRatio float64
	Confidence       float64
	EstimatedTime    time.Duration
	FallbackUsed     bool

	// Diagnostics describing how the plan was produced.
	Profile           string // "static" or "dynamic"
	ComplexityScore   float64
	SizeFactor        float64
	PerformanceScaled bool
}

// HasStrategy reports whether the plan includes the named search strategy.
func (p *RetrievalPlan) HasStrategy(name string) bool {
	for _, s := range p.SearchStrategies {
		if s == name {
			return true
		}
	}
	return false
}
