package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/daverage/mnemo/internal/memory"
)

func newTestRouter() *Router {
	return New(nil, zap.NewNop())
}

func TestRouteSimpleGreeting(t *testing.T) {
	r := newTestRouter()
	ctx := context.Background()

	for _, query := range []string{"hi", "hello", "ok thanks", "Hey!"} {
		d := r.Route(ctx, query, nil)
		assert.Equal(t, memory.LevelNone, d.MemoryLevel, query)
		assert.Equal(t, memory.ComplexitySimple, d.ResponseComplexity, query)
		assert.False(t, d.SaveMemory, query)
		assert.InDelta(t, 0.95, d.Confidence, 1e-9, query)
		assert.Contains(t, d.Reasoning, "simple_greeting", query)
	}

	// Three greeting words are already past the short-circuit cutoff.
	d := r.Route(ctx, "ok thanks bye", nil)
	assert.NotContains(t, d.Reasoning, "simple_greeting")
}

func TestRouteIsDeterministic(t *testing.T) {
	r := newTestRouter()
	ctx := context.Background()

	first := r.Route(ctx, "hi", nil)
	second := r.Route(ctx, "hi", nil)

	assert.Equal(t, first.MemoryLevel, second.MemoryLevel)
	assert.Equal(t, first.Confidence, second.Confidence)
	assert.Equal(t, first.Reasoning, second.Reasoning)
}

func TestRouteMemoryQuery(t *testing.T) {
	r := newTestRouter()

	d := r.Route(context.Background(), "Do you remember what we discussed about the deadline?", nil)
	assert.Equal(t, memory.LevelFull, d.MemoryLevel)
	assert.Equal(t, memory.ComplexityAnalytical, d.ResponseComplexity)
	assert.InDelta(t, 0.9, d.Confidence, 1e-9)
	assert.Contains(t, d.Reasoning, "memory_query_detected")
}

func TestRoutePersonalReferencesRaiseLevel(t *testing.T) {
	r := newTestRouter()

	// Two personal-reference tokens trigger the memory rule even without
	// recall vocabulary.
	d := r.Route(context.Background(), "I live in Lisbon with my partner", nil)
	assert.Equal(t, memory.LevelFull, d.MemoryLevel)
	assert.Contains(t, d.Reasoning, "memory_query_detected")

	// A single personal reference does not.
	d = r.Route(context.Background(), "describe the process for my application", nil)
	assert.NotContains(t, d.Reasoning, "memory_query_detected")
}

func TestRouteMemoryKeywordNeedsWholeToken(t *testing.T) {
	r := newTestRouter()

	// "knowledge" must not trigger the "know" keyword.
	d := r.Route(context.Background(), "summarize the general knowledge sections of the report please", nil)
	assert.NotContains(t, d.Reasoning, "memory_query_detected")
}

func TestRoutePersonalSharingSaves(t *testing.T) {
	r := newTestRouter()

	d := r.Route(context.Background(), "I work as a nurse at the children's hospital", nil)
	assert.True(t, d.SaveMemory)
	assert.Contains(t, d.Reasoning, "save_worthy_content")
}

func TestRouteMemoryIntentSaves(t *testing.T) {
	r := newTestRouter()

	d := r.Route(context.Background(), "please recall what we discussed before the launch", nil)
	assert.True(t, d.SaveMemory)
	assert.Contains(t, d.Reasoning, "save_worthy_content")
}

func TestRouteWebSearch(t *testing.T) {
	r := newTestRouter()

	d := r.Route(context.Background(), "what is the latest news on the election", nil)
	assert.True(t, d.NeedsExternalSearch)
	assert.Contains(t, d.Reasoning, "web_search_needed")
}

func TestRouteDefault(t *testing.T) {
	r := newTestRouter()

	d := r.Route(context.Background(), "describe the process for renewing a passport in germany", nil)
	assert.Equal(t, memory.LevelModerate, d.MemoryLevel)
	assert.Equal(t, memory.ComplexityDetailed, d.ResponseComplexity)
	assert.False(t, d.SaveMemory)
	assert.False(t, d.NeedsExternalSearch)
	assert.InDelta(t, 0.7, d.Confidence, 1e-9)
	assert.Equal(t, "default_routing", d.ReasoningString())
}

func TestRouteShortQueryCapsLevel(t *testing.T) {
	r := newTestRouter()

	d := r.Route(context.Background(), "capital of france", nil)
	assert.Equal(t, memory.LevelLight, d.MemoryLevel)
	assert.Contains(t, d.Reasoning, "short_query_optimization")
	// The cap touches the level, not the complexity.
	assert.Equal(t, memory.ComplexityDetailed, d.ResponseComplexity)
}

func TestRouteShortQueryCapsMemoryIntent(t *testing.T) {
	r := newTestRouter()

	// A two-word recall query is still capped at light, but keeps the
	// save signal.
	d := r.Route(context.Background(), "remember me?", nil)
	assert.Equal(t, memory.LevelLight, d.MemoryLevel)
	assert.True(t, d.SaveMemory)
	assert.Contains(t, d.Reasoning, "memory_query_detected")
	assert.Contains(t, d.Reasoning, "short_query_optimization")
}

func TestRouteLongQuery(t *testing.T) {
	r := newTestRouter()

	long := "please walk through every stage of the deployment pipeline we maintain " +
		"for the billing service and describe the checks that run at each stage " +
		"along with the rollback procedure and who gets paged when a stage fails"
	d := r.Route(context.Background(), long, nil)
	assert.Equal(t, memory.ComplexityAnalytical, d.ResponseComplexity)
	assert.Contains(t, d.Reasoning, "long_query_detail")
	assert.Equal(t, memory.LevelModerate, d.MemoryLevel)
}

func TestRouteContextRecallBoost(t *testing.T) {
	r := newTestRouter()
	ctx := context.Background()

	history := []string{"we discussed the deadline earlier"}

	// A greeting alone stays at level none; recall vocabulary in the
	// recent history raises it (the short-query cap then lands it at
	// light rather than none).
	without := r.Route(ctx, "thanks", nil)
	assert.Equal(t, memory.LevelNone, without.MemoryLevel)

	with := r.Route(ctx, "thanks", history)
	assert.Contains(t, with.Reasoning, "context_memory_boost")
	assert.Equal(t, memory.LevelLight, with.MemoryLevel)

	// A moderate decision is left alone; the boost only lifts none/light.
	steady := r.Route(ctx, "describe the process for renewing a passport", history)
	assert.NotContains(t, steady.Reasoning, "context_memory_boost")
	assert.Equal(t, memory.LevelModerate, steady.MemoryLevel)
}

func TestRouteProcessingTimeSet(t *testing.T) {
	r := newTestRouter()

	d := r.Route(context.Background(), "hello", nil)
	assert.GreaterOrEqual(t, d.ProcessingTime, time.Duration(0))
}

func TestRulesFireIndependently(t *testing.T) {
	// Each rule's predicate is testable on its own, without running Route.
	cases := map[string]struct {
		query string
		fires bool
	}{
		"simple_greeting":          {"hi", true},
		"memory_query_detected":    {"do you recall the plan", true},
		"save_worthy_content":      {"i am a pilot", true},
		"web_search_needed":        {"latest headlines please", true},
		"short_query_optimization": {"capital of france", true},
		"long_query_detail":        {"hi", false},
	}

	byName := make(map[string]rule, len(ruleTable))
	for _, rl := range ruleTable {
		byName[rl.name] = rl
	}

	for name, tc := range cases {
		rl, ok := byName[name]
		require.True(t, ok, name)

		tokens := tokenize(tc.query)
		in := routeInput{query: tc.query, tokens: tokens, greeting: isSimpleGreeting(tokens)}
		d := memory.RoutingDecision{MemoryLevel: memory.LevelModerate}
		assert.Equal(t, tc.fires, rl.when(in, &d), name)
	}

	// The context boost depends on both the history and the level so far.
	boost := byName["context_memory_boost"]
	in := routeInput{topics: []string{"you mentioned the budget"}}
	light := memory.RoutingDecision{MemoryLevel: memory.LevelLight}
	moderate := memory.RoutingDecision{MemoryLevel: memory.LevelModerate}
	assert.True(t, boost.when(in, &light))
	assert.False(t, boost.when(in, &moderate))
	assert.False(t, boost.when(routeInput{}, &light))

	// The short-query cap never drags a greeting's level none back up.
	short := byName["short_query_optimization"]
	none := memory.RoutingDecision{MemoryLevel: memory.LevelNone}
	tokens := tokenize("hi")
	assert.False(t, short.when(routeInput{tokens: tokens, greeting: true}, &none))
}

func TestShouldSaveInteraction(t *testing.T) {
	r := newTestRouter()

	// Personal fact: +2, save.
	v := r.ShouldSaveInteraction("I live in Lisbon with my partner", "Noted!")
	assert.True(t, v.Save)
	assert.GreaterOrEqual(t, v.Score, 2)
	assert.Contains(t, v.Reasoning, "personal_info")

	// Greeting: -2, never saved.
	v = r.ShouldSaveInteraction("hi", "Hello! How can I help you today?")
	assert.False(t, v.Save)
	assert.Less(t, v.Score, 0)

	// Neutral question with a short answer: nothing to keep.
	v = r.ShouldSaveInteraction("what is two plus two", "Four.")
	assert.False(t, v.Save)
	assert.Equal(t, 0, v.Score)
}

func TestShouldSaveInteractionScansResponse(t *testing.T) {
	r := newTestRouter()

	// Personal and recall signals stated only in the response still count.
	v := r.ShouldSaveInteraction(
		"how should the report be structured",
		"Remember that my template lives in the shared drive",
	)
	assert.True(t, v.Save)
	assert.Contains(t, v.Reasoning, "personal_info")
	assert.Contains(t, v.Reasoning, "memory_intent")
}

func TestShouldSaveInteractionConfidence(t *testing.T) {
	r := newTestRouter()

	v := r.ShouldSaveInteraction("hi", "hello")
	assert.InDelta(t, 2.0/3.0, v.Confidence, 1e-9)

	// Confidence is capped at 1.0 no matter how many signals stack.
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	v = r.ShouldSaveInteraction("remember that I work at the observatory", string(long))
	assert.True(t, v.Save)
	assert.LessOrEqual(t, v.Confidence, 1.0)
}

// failingEmbedder always errors, standing in for an unreachable embedding
// service.
type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("embedding service unavailable")
}

func (failingEmbedder) Dimensions() int { return 0 }

func TestClassifierFailureLeavesRuleDecision(t *testing.T) {
	classifier := NewClassifier(failingEmbedder{}, zap.NewNop())
	r := New(classifier, zap.NewNop())

	d := r.Route(context.Background(), "describe the process for renewing a passport in germany", nil)

	// The classifier could not run; the rule-table defaults must survive
	// untouched with no ml reasoning recorded.
	require.Equal(t, memory.LevelModerate, d.MemoryLevel)
	assert.InDelta(t, 0.7, d.Confidence, 1e-9)
	for _, reason := range d.Reasoning {
		assert.NotContains(t, reason, "ml_enhanced")
	}
}
