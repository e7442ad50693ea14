package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/daverage/mnemo/internal/config"
	"github.com/daverage/mnemo/internal/memory"
	"github.com/daverage/mnemo/internal/store"
)

// stubStats serves a fixed record count.
type stubStats struct{ total int }

func (s stubStats) Stats(context.Context) (store.Stats, error) {
	return store.Stats{TotalRecords: s.total}, nil
}

// failingStats stands in for an unreachable store.
type failingStats struct{}

func (failingStats) Stats(context.Context) (store.Stats, error) {
	return store.Stats{}, errors.New("store unavailable")
}

func newTestPlanner(t *testing.T, mode string, stats StatsProvider) *Planner {
	t.Helper()
	cfg := config.Default()
	cfg.PlannerMode = mode
	require.NoError(t, cfg.Validate())

	p, err := New(cfg, stats, zap.NewNop())
	require.NoError(t, err)
	return p
}

func moderateDecision() memory.RoutingDecision {
	return memory.RoutingDecision{MemoryLevel: memory.LevelModerate}
}

func TestStaticPlanTable(t *testing.T) {
	p := newTestPlanner(t, "static", stubStats{total: 100})
	ctx := context.Background()

	cases := []struct {
		level    memory.Level
		recent   int
		semantic int
		tokens   int
	}{
		{memory.LevelNone, 0, 0, 200},
		{memory.LevelLight, 5, 2, 400},
		{memory.LevelModerate, 10, 5, 800},
		{memory.LevelFull, 20, 10, 1200},
	}
	for _, tc := range cases {
		plan := p.Plan(ctx, "some question", memory.RoutingDecision{MemoryLevel: tc.level})
		assert.Equal(t, tc.recent, plan.RecentCount, tc.level)
		assert.Equal(t, tc.semantic, plan.SemanticCount, tc.level)
		assert.Equal(t, tc.tokens, plan.TokenBudget, tc.level)
		assert.Equal(t, "static", plan.Profile, tc.level)
		assert.False(t, plan.FallbackUsed, tc.level)
	}
}

func TestStaticPlanStrategies(t *testing.T) {
	p := newTestPlanner(t, "static", stubStats{total: 100})
	ctx := context.Background()

	none := p.Plan(ctx, "hi", memory.RoutingDecision{MemoryLevel: memory.LevelNone})
	assert.Empty(t, none.SearchStrategies)

	full := p.Plan(ctx, "tell me everything", memory.RoutingDecision{MemoryLevel: memory.LevelFull})
	assert.True(t, full.HasStrategy(StrategySemantic))
	assert.True(t, full.HasStrategy(StrategyRecency))
	assert.True(t, full.HasStrategy(StrategyPersonal))
}

func TestDynamicPlanWithinBounds(t *testing.T) {
	cfg := config.Default()
	queries := []string{
		"hi",
		"what did we say about the deadline?",
		"analyze and compare the failure modes of both storage designs? " +
			"and explain how the recovery path differs? and why?",
	}
	totals := []int{0, 10, 100, 1000, 100000}

	for _, total := range totals {
		p := newTestPlanner(t, "dynamic", stubStats{total: total})
		for _, q := range queries {
			plan := p.Plan(context.Background(), q, moderateDecision())

			assert.GreaterOrEqual(t, plan.RecentCount, cfg.MinMemories)
			assert.LessOrEqual(t, plan.RecentCount, cfg.MaxMemories/2)
			assert.GreaterOrEqual(t, plan.SemanticCount, 1)
			assert.LessOrEqual(t, plan.SemanticCount, cfg.MaxMemories/3)
			assert.LessOrEqual(t, plan.MaxTotal, cfg.MaxMemories)
			assert.LessOrEqual(t, plan.TokenBudget, cfg.MaxTokenBudget)
			assert.Greater(t, plan.TokenBudget, 0)
			assert.Equal(t, "dynamic", plan.Profile)
		}
	}
}

func TestDynamicPlanScalesWithComplexity(t *testing.T) {
	p := newTestPlanner(t, "dynamic", stubStats{total: 300})
	ctx := context.Background()

	simple := p.Plan(ctx, "capital of france", moderateDecision())
	complexPlan := p.Plan(ctx,
		"analyze and compare the failure modes of both storage designs and "+
			"explain why the recovery paths differ? what should we remember here?",
		moderateDecision())

	assert.Greater(t, complexPlan.ComplexityScore, simple.ComplexityScore)
	assert.GreaterOrEqual(t, complexPlan.TokenBudget, simple.TokenBudget)
}

func TestDynamicPlanSizeFactor(t *testing.T) {
	ctx := context.Background()

	small := newTestPlanner(t, "dynamic", stubStats{total: 10}).
		Plan(ctx, "what did we discuss", moderateDecision())
	assert.InDelta(t, 0.8, small.SizeFactor, 1e-9)

	large := newTestPlanner(t, "dynamic", stubStats{total: 500}).
		Plan(ctx, "what did we discuss", moderateDecision())
	assert.InDelta(t, 1.5, large.SizeFactor, 1e-9)

	huge := newTestPlanner(t, "dynamic", stubStats{total: 5_000_000}).
		Plan(ctx, "what did we discuss", moderateDecision())
	assert.InDelta(t, 2.0, huge.SizeFactor, 1e-9) // capped
}

func TestDynamicPlanLevelNone(t *testing.T) {
	p := newTestPlanner(t, "dynamic", stubStats{total: 300})

	plan := p.Plan(context.Background(), "hi", memory.RoutingDecision{MemoryLevel: memory.LevelNone})
	assert.Equal(t, 0, plan.RecentCount)
	assert.Equal(t, 0, plan.SemanticCount)
	assert.Empty(t, plan.SearchStrategies)
}

func TestQueryComplexityLengthBuckets(t *testing.T) {
	p := newTestPlanner(t, "dynamic", stubStats{total: 100})

	// With the default length weight 0.3 the buckets multiply the 1.0 base
	// by 0.8, 0.95, 1.0 and 1.3 respectively.
	assert.InDelta(t, 0.8, p.queryComplexity("capital of france"), 1e-9)
	assert.InDelta(t, 0.95, p.queryComplexity("summarize the quarterly budget report"), 1e-9)

	elevenWords := "the team met on tuesday to review the quarterly budget numbers"
	assert.InDelta(t, 1.0, p.queryComplexity(elevenWords), 1e-9)

	longQuery := "over the next several weeks the team plans to migrate every " +
		"remaining service across both regions while keeping the billing reports " +
		"accurate and the support queues short for all customer tiers"
	assert.InDelta(t, 1.3, p.queryComplexity(longQuery), 1e-9)
}

func TestDynamicPlanStrategiesGatedByLevel(t *testing.T) {
	p := newTestPlanner(t, "dynamic", stubStats{total: 1000})
	complexQuery := "analyze and compare what we discussed about both storage designs? " +
		"and explain why the recovery paths differ? and what remains open?"

	// Light level gets recency alone, no matter how complex the query or
	// how large the store.
	plan := p.Plan(context.Background(), complexQuery,
		memory.RoutingDecision{MemoryLevel: memory.LevelLight})
	assert.Equal(t, []string{StrategyRecency}, plan.SearchStrategies)

	// Moderate adds semantic but none of the conditional strategies.
	plan = p.Plan(context.Background(), complexQuery, moderateDecision())
	assert.Equal(t, []string{StrategyRecency, StrategySemantic}, plan.SearchStrategies)
}

func TestDynamicRatioFromTokenOverage(t *testing.T) {
	p := newTestPlanner(t, "dynamic", stubStats{total: 100})

	// Fits the budget at the assumed average size: light ratio only.
	assert.InDelta(t, 0.1, p.dynamicRatio(5, 800), 1e-9)

	// 15 memories at 80 tokens each against an 800-token budget is a 1.5x
	// overage: 0.1 + 0.5*0.4.
	assert.InDelta(t, 0.3, p.dynamicRatio(15, 800), 1e-9)

	// Extreme overage is capped at the maximum ratio.
	assert.InDelta(t, 0.9, p.dynamicRatio(100, 800), 1e-9)
}

func TestDynamicPlanLightRatioWhenBudgetFits(t *testing.T) {
	cfg := config.Default()
	cfg.PlannerMode = "dynamic"
	cfg.AvgTokensPerMemory = 10
	require.NoError(t, cfg.Validate())
	p, err := New(cfg, stubStats{total: 100}, zap.NewNop())
	require.NoError(t, err)

	plan := p.Plan(context.Background(), "hi", moderateDecision())
	estimated := (plan.RecentCount + plan.SemanticCount) * cfg.AvgTokensPerMemory
	require.LessOrEqual(t, estimated, plan.TokenBudget)
	assert.InDelta(t, cfg.CompressionLightRatio, plan.CompressionRatio, 1e-9)
}

func TestDynamicPlanStrategyThresholds(t *testing.T) {
	ctx := context.Background()

	// Small store, simple query: only the baseline strategies.
	p := newTestPlanner(t, "dynamic", stubStats{total: 20})
	plan := p.Plan(ctx, "capital of france", moderateDecision())
	assert.True(t, plan.HasStrategy(StrategySemantic))
	assert.True(t, plan.HasStrategy(StrategyRecency))
	assert.False(t, plan.HasStrategy(StrategyTag))
	assert.False(t, plan.HasStrategy(StrategyTemporal))

	// Large store, complex query: the conditional strategies switch on.
	p = newTestPlanner(t, "dynamic", stubStats{total: 1000})
	plan = p.Plan(ctx,
		"analyze and compare what we discussed about both storage designs? "+
			"and explain why the recovery paths differ? and what remains open?",
		memory.RoutingDecision{MemoryLevel: memory.LevelFull})
	assert.True(t, plan.HasStrategy(StrategyTag))
	assert.True(t, plan.HasStrategy(StrategyKeyword))
	assert.True(t, plan.HasStrategy(StrategyIntent))
	assert.True(t, plan.HasStrategy(StrategyTemporal))
	assert.True(t, plan.HasStrategy(StrategyNeural))
	assert.True(t, plan.HasStrategy(StrategyPersonal))
}

func TestHybridFallsBackWhenStatsUnavailable(t *testing.T) {
	p := newTestPlanner(t, "hybrid", failingStats{})

	plan := p.Plan(context.Background(), "what did we discuss", moderateDecision())

	// Degradation must surface the static table for the level, flagged.
	assert.True(t, plan.FallbackUsed)
	assert.Equal(t, "static", plan.Profile)
	assert.Equal(t, 10, plan.RecentCount)
	assert.Equal(t, 5, plan.SemanticCount)
	assert.Equal(t, 800, plan.TokenBudget)
	assert.InDelta(t, 0.7, plan.Confidence, 1e-9)

	metrics := p.SnapshotMetrics()
	assert.Equal(t, int64(1), metrics.Fallbacks)
}

func TestHybridUsesDynamicWhenHealthy(t *testing.T) {
	p := newTestPlanner(t, "hybrid", stubStats{total: 300})

	plan := p.Plan(context.Background(), "what did we discuss about the project", moderateDecision())
	assert.False(t, plan.FallbackUsed)
	assert.Equal(t, "dynamic", plan.Profile)
}

func TestMetricsCounters(t *testing.T) {
	p := newTestPlanner(t, "hybrid", stubStats{total: 300})
	ctx := context.Background()

	p.Plan(ctx, "first question about the schedule", moderateDecision())
	p.Plan(ctx, "second question about the budget", moderateDecision())

	metrics := p.SnapshotMetrics()
	assert.Equal(t, int64(2), metrics.PlansTotal)
	assert.Equal(t, int64(2), metrics.DynamicPlans)
	assert.Equal(t, int64(0), metrics.Fallbacks)
}
