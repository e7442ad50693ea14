// Package router decides, from the query text alone, how much memory work
// a turn deserves. It is a fast ordered rule table with an optional
// embedding-cluster refinement pass; no generative model is consulted.
package router

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/daverage/mnemo/internal/memory"
)

// routeInput is what every rule predicate sees.
type routeInput struct {
	query    string
	tokens   []string
	topics   []string
	greeting bool
}

// rule pairs a named predicate with its effect on the decision. Rules run
// in table order on every query; each is testable in isolation. Predicates
// see the decision built so far, since the adjustment rules depend on the
// level chosen by the detection rules.
type rule struct {
	name  string
	when  func(in routeInput, d *memory.RoutingDecision) bool
	apply func(in routeInput, d *memory.RoutingDecision)
}

// ruleTable is the fixed decision sequence: detection rules first, then the
// context and length adjustments. The classifier refinement pass runs
// between the two groups (see adjustmentStart).
var ruleTable = []rule{
	{
		name: "simple_greeting",
		when: func(in routeInput, _ *memory.RoutingDecision) bool { return in.greeting },
		apply: func(_ routeInput, d *memory.RoutingDecision) {
			d.MemoryLevel = memory.LevelNone
			d.ResponseComplexity = memory.ComplexitySimple
			d.Confidence = 0.95
		},
	},
	{
		name: "memory_query_detected",
		when: func(in routeInput, _ *memory.RoutingDecision) bool {
			return !in.greeting &&
				(containsAny(in.tokens, memoryKeywords) ||
					countMatches(in.tokens, personalKeywords) >= 2)
		},
		apply: func(_ routeInput, d *memory.RoutingDecision) {
			d.MemoryLevel = memory.LevelFull
			d.ResponseComplexity = memory.ComplexityAnalytical
			d.Confidence = 0.9
		},
	},
	{
		// Save-worthiness is independent of the level decision above.
		name: "save_worthy_content",
		when: func(in routeInput, _ *memory.RoutingDecision) bool {
			return sharesPersonalInfo(in.query) || containsAny(in.tokens, memoryKeywords)
		},
		apply: func(_ routeInput, d *memory.RoutingDecision) {
			d.SaveMemory = true
		},
	},
	{
		name: "web_search_needed",
		when: func(in routeInput, _ *memory.RoutingDecision) bool {
			return containsAny(in.tokens, webKeywords)
		},
		apply: func(_ routeInput, d *memory.RoutingDecision) {
			d.NeedsExternalSearch = true
		},
	},
	{
		name: "context_memory_boost",
		when: func(in routeInput, d *memory.RoutingDecision) bool {
			return mentionsRecall(in.topics) &&
				levelRank(d.MemoryLevel) < levelRank(memory.LevelModerate)
		},
		apply: func(_ routeInput, d *memory.RoutingDecision) {
			d.MemoryLevel = memory.LevelModerate
		},
	},
	{
		// Short queries rarely need full memory; cap the level, never the
		// complexity.
		name: "short_query_optimization",
		when: func(in routeInput, d *memory.RoutingDecision) bool {
			return len(in.tokens) > 0 && len(in.tokens) <= 3 &&
				d.MemoryLevel != memory.LevelNone
		},
		apply: func(_ routeInput, d *memory.RoutingDecision) {
			d.MemoryLevel = memory.LevelLight
		},
	},
	{
		name: "long_query_detail",
		when: func(in routeInput, _ *memory.RoutingDecision) bool {
			return len(in.tokens) > 30
		},
		apply: func(_ routeInput, d *memory.RoutingDecision) {
			d.ResponseComplexity = memory.ComplexityAnalytical
		},
	},
}

// adjustmentStart is the index of the first adjustment rule
// (context_memory_boost); the refinement pass runs just before it, so a
// classifier override is still subject to the length cap.
const adjustmentStart = 4

// Router classifies queries into routing decisions.
type Router struct {
	classifier *Classifier // nil disables refinement
	logger     *zap.Logger
	now        func() time.Time
}

// New builds a router. classifier may be nil, in which case decisions come
// from the rule table alone.
func New(classifier *Classifier, logger *zap.Logger) *Router {
	return &Router{
		classifier: classifier,
		logger:     logger,
		now:        time.Now,
	}
}

// Route evaluates the rule table in order and returns the routing decision.
// recentTopics holds snippets of the recent conversation; recall vocabulary
// in them raises a none/light level to moderate. Route never fails; the
// zero-effort default is a moderate, detailed, no-save decision.
func (r *Router) Route(ctx context.Context, query string, recentTopics []string) memory.RoutingDecision {
	start := r.now()

	tokens := tokenize(query)
	in := routeInput{
		query:    query,
		tokens:   tokens,
		topics:   recentTopics,
		greeting: isSimpleGreeting(tokens),
	}

	decision := memory.RoutingDecision{
		MemoryLevel:        memory.LevelModerate,
		SaveMemory:         false,
		ResponseComplexity: memory.ComplexityDetailed,
		Confidence:         0.7,
	}

	for _, rl := range ruleTable[:adjustmentStart] {
		if !rl.when(in, &decision) {
			continue
		}
		rl.apply(in, &decision)
		decision.Reasoning = append(decision.Reasoning, rl.name)
	}

	r.refine(ctx, in, &decision)

	for _, rl := range ruleTable[adjustmentStart:] {
		if !rl.when(in, &decision) {
			continue
		}
		rl.apply(in, &decision)
		decision.Reasoning = append(decision.Reasoning, rl.name)
	}

	decision.ProcessingTime = r.now().Sub(start)

	r.logger.Debug("routed query",
		zap.String("level", string(decision.MemoryLevel)),
		zap.Bool("save", decision.SaveMemory),
		zap.Float64("confidence", decision.Confidence),
		zap.String("reasoning", decision.ReasoningString()),
	)
	return decision
}

// refine runs the optional embedding-cluster pass. It only ever raises the
// memory level and confidence; any classifier trouble leaves the rule
// decision untouched.
func (r *Router) refine(ctx context.Context, in routeInput, d *memory.RoutingDecision) {
	if r.classifier == nil || in.greeting {
		return
	}
	cluster, _, ok := r.classifier.Classify(ctx, in.query)
	if !ok {
		return
	}
	if level, known := clusterLevels[cluster]; known && levelRank(level) > levelRank(d.MemoryLevel) {
		d.MemoryLevel = level
	}
	d.Confidence = math.Min(d.Confidence+0.1, 1.0)
	d.Reasoning = append(d.Reasoning, "ml_enhanced:"+cluster)
}

// SaveVerdict is the outcome of the save-worthiness heuristic.
type SaveVerdict struct {
	Save       bool
	Score      int
	Confidence float64
	Reasoning  []string
}

// ShouldSaveInteraction scores a completed exchange for persistence.
// Personal facts and memory vocabulary anywhere in the exchange count as
// positive signals; a trivial greeting pushes the score firmly negative.
func (r *Router) ShouldSaveInteraction(query, response string) SaveVerdict {
	combined := query + " " + response

	var verdict SaveVerdict
	if sharesPersonalInfo(combined) {
		verdict.Score += 2
		verdict.Reasoning = append(verdict.Reasoning, "personal_info")
	}
	if containsAny(tokenize(combined), memoryKeywords) {
		verdict.Score++
		verdict.Reasoning = append(verdict.Reasoning, "memory_intent")
	}
	if len(response) > 200 {
		verdict.Score++
		verdict.Reasoning = append(verdict.Reasoning, "substantial_response")
	}
	if isSimpleGreeting(tokenize(query)) {
		verdict.Score -= 2
		verdict.Reasoning = append(verdict.Reasoning, "simple_greeting")
	}

	verdict.Save = verdict.Score > 0
	verdict.Confidence = math.Min(math.Abs(float64(verdict.Score))/3.0, 1.0)
	return verdict
}

func levelRank(l memory.Level) int {
	switch l {
	case memory.LevelNone:
		return 0
	case memory.LevelLight:
		return 1
	case memory.LevelModerate:
		return 2
	case memory.LevelFull:
		return 3
	default:
		return 0
	}
}

