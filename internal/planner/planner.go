// Package planner turns a routing decision into a quantitative retrieval
// plan: how many recent and semantic records to fetch, which search
// strategies to run, the token budget and the compression ratio. It adapts
// to query complexity and store size and degrades to a fixed per-level
// table when it cannot. Planning itself never returns an error.
package planner

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/daverage/mnemo/internal/config"
	"github.com/daverage/mnemo/internal/memory"
)

// Strategy names emitted in RetrievalPlan.SearchStrategies.
const (
	StrategySemantic = "semantic_search"
	StrategyRecency  = "recency"
	StrategyTag      = "tag_search"
	StrategyKeyword  = "keyword_search"
	StrategyIntent   = "intent_search"
	StrategyTemporal = "temporal_search"
	StrategyNeural   = "neural_search"
	StrategyPersonal = "personal_info"
)

// Vocabulary that raises complexity. Phrase containment on the lower-cased
// query, matching how users actually write multi-part questions.
var (
	complexKeywords = []string{
		"analyze", "compare", "explain", "difference", "why", "how",
		"tradeoff", "versus",
	}
	memoryRecallKeywords = []string{
		"remember", "recall", "discussed", "mentioned", "told", "said",
	}
)

// Metrics counts planner outcomes since process start.
type Metrics struct {
	PlansTotal        int64
	DynamicPlans      int64
	StaticPlans       int64
	Fallbacks         int64
	PerformanceScaled int64
}

// Planner computes retrieval plans.
type Planner struct {
	cfg    *config.Config
	stats  StatsProvider
	logger *zap.Logger

	mu      sync.Mutex
	metrics Metrics
}

// New builds a planner. The stats provider is wrapped in a short-TTL cache
// so planning stays cheap under load.
func New(cfg *config.Config, stats StatsProvider, logger *zap.Logger) (*Planner, error) {
	cached, err := newCachedStats(stats, time.Duration(cfg.StatsCacheTTLSeconds)*time.Second)
	if err != nil {
		return nil, err
	}
	return &Planner{cfg: cfg, stats: cached, logger: logger}, nil
}

// Plan produces the retrieval plan for one query. The configured mode picks
// between the static table, the dynamic computation, or hybrid (dynamic
// with static degradation). Plan never fails: any internal trouble yields
// the static plan with FallbackUsed set.
func (p *Planner) Plan(ctx context.Context, query string, decision memory.RoutingDecision) memory.RetrievalPlan {
	var plan memory.RetrievalPlan

	switch p.cfg.PlannerMode {
	case "static":
		plan = p.staticPlan(decision.MemoryLevel)
	case "dynamic", "hybrid":
		dynamic, err := p.dynamicPlan(ctx, query, decision)
		if err != nil {
			if !p.cfg.FallbackToStatic {
				p.logger.Warn("dynamic planning failed without fallback, using static table anyway",
					zap.Error(err))
			} else {
				p.logger.Debug("dynamic planning degraded to static table", zap.Error(err))
			}
			plan = p.staticPlan(decision.MemoryLevel)
			plan.FallbackUsed = true
			p.count(func(m *Metrics) { m.Fallbacks++ })
		} else {
			plan = dynamic
		}
	default:
		plan = p.staticPlan(decision.MemoryLevel)
	}

	p.count(func(m *Metrics) {
		m.PlansTotal++
		if plan.Profile == "dynamic" {
			m.DynamicPlans++
		} else {
			m.StaticPlans++
		}
		if plan.PerformanceScaled {
			m.PerformanceScaled++
		}
	})

	p.logger.Debug("planned retrieval",
		zap.String("profile", plan.Profile),
		zap.Int("recent", plan.RecentCount),
		zap.Int("semantic", plan.SemanticCount),
		zap.Int("token_budget", plan.TokenBudget),
		zap.Bool("fallback", plan.FallbackUsed),
	)
	return plan
}

// SnapshotMetrics returns a copy of the counters.
func (p *Planner) SnapshotMetrics() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metrics
}

func (p *Planner) count(fn func(*Metrics)) {
	p.mu.Lock()
	fn(&p.metrics)
	p.mu.Unlock()
}

// staticPlan is the fixed per-level table. It needs no store statistics and
// cannot fail, which is exactly why it is the degradation target.
func (p *Planner) staticPlan(level memory.Level) memory.RetrievalPlan {
	key := string(level)
	recent := p.cfg.StaticRecent[key]
	semantic := p.cfg.StaticSemantic[key]

	plan := memory.RetrievalPlan{
		RecentCount:      recent,
		SemanticCount:    semantic,
		MaxTotal:         recent + semantic,
		TokenBudget:      p.cfg.StaticTokens[key],
		CompressionRatio: p.staticRatio(level),
		Confidence:       0.7,
		Profile:          "static",
	}
	if level != memory.LevelNone {
		plan.SearchStrategies = []string{StrategyRecency}
		if level == memory.LevelModerate || level == memory.LevelFull {
			plan.SearchStrategies = append(plan.SearchStrategies, StrategySemantic)
		}
		if level == memory.LevelFull {
			plan.SearchStrategies = append(plan.SearchStrategies, StrategyPersonal)
		}
	}
	plan.EstimatedTime = p.estimate(plan.RecentCount, plan.SemanticCount, len(plan.SearchStrategies))
	return plan
}

func (p *Planner) staticRatio(level memory.Level) float64 {
	switch level {
	case memory.LevelNone:
		return 0
	case memory.LevelLight:
		return p.cfg.CompressionLightRatio
	case memory.LevelModerate:
		return (p.cfg.CompressionLightRatio + p.cfg.CompressionMaxRatio) / 2
	default:
		return p.cfg.CompressionMaxRatio
	}
}

// dynamicPlan scales the static baseline by query complexity and store
// size. It is the only planning path that can fail, and only because store
// statistics are unavailable.
func (p *Planner) dynamicPlan(ctx context.Context, query string, decision memory.RoutingDecision) (memory.RetrievalPlan, error) {
	if decision.MemoryLevel == memory.LevelNone {
		plan := p.staticPlan(memory.LevelNone)
		plan.Profile = "dynamic"
		plan.Confidence = 0.95
		return plan, nil
	}

	stats, err := p.stats.Stats(ctx)
	if err != nil {
		return memory.RetrievalPlan{}, err
	}

	complexity := p.queryComplexity(query)
	sizeFactor := p.sizeFactor(stats.TotalRecords)
	multiplier := p.cfg.MultiplierBase +
		p.cfg.MultiplierRange*(complexity-p.cfg.ComplexityMin)/(p.cfg.ComplexityMax-p.cfg.ComplexityMin)

	key := string(decision.MemoryLevel)
	baseRecent := float64(p.cfg.StaticRecent[key])
	baseSemantic := float64(p.cfg.StaticSemantic[key])

	recent := clampInt(int(math.Round(baseRecent*sizeFactor*multiplier)),
		p.cfg.MinMemories, p.cfg.MaxMemories/2)
	semantic := clampInt(int(math.Round(baseSemantic*math.Sqrt(sizeFactor)*multiplier)),
		1, p.cfg.MaxMemories/3)

	maxTotal := recent + semantic
	if maxTotal > p.cfg.MaxMemories {
		maxTotal = p.cfg.MaxMemories
	}

	tokens := int(float64(p.cfg.StaticTokens[key]) * multiplier)
	if floor := p.cfg.AvgTokensPerMemory; tokens < floor {
		tokens = floor
	}
	if tokens > p.cfg.MaxTokenBudget {
		tokens = p.cfg.MaxTokenBudget
	}

	strategies := p.pickStrategies(decision.MemoryLevel, complexity, stats.TotalRecords)

	plan := memory.RetrievalPlan{
		RecentCount:      recent,
		SemanticCount:    semantic,
		MaxTotal:         maxTotal,
		TokenBudget:      tokens,
		SearchStrategies: strategies,
		CompressionRatio: p.dynamicRatio(recent+semantic, tokens),
		Confidence:       0.85,
		Profile:          "dynamic",
		ComplexityScore:  complexity,
		SizeFactor:       sizeFactor,
	}

	plan.EstimatedTime = p.estimate(recent, semantic, len(strategies))
	ceiling := time.Duration(p.cfg.MaxPlanTimeMs) * time.Millisecond
	if plan.EstimatedTime > ceiling {
		scale := float64(ceiling) / float64(plan.EstimatedTime)
		plan.RecentCount = maxInt(p.cfg.MinMemories, int(float64(plan.RecentCount)*scale))
		plan.SemanticCount = maxInt(1, int(float64(plan.SemanticCount)*scale))
		plan.MaxTotal = plan.RecentCount + plan.SemanticCount
		plan.PerformanceScaled = true
		plan.EstimatedTime = p.estimate(plan.RecentCount, plan.SemanticCount, len(strategies))
	}

	return plan, nil
}

// queryComplexity scores the query on [ComplexityMin, ComplexityMax] from
// its length, analytical vocabulary, memory vocabulary and question count.
// Every factor multiplies a base of 1.0; mid-length queries (11 to 30
// words) carry no length factor at all.
func (p *Planner) queryComplexity(query string) float64 {
	lower := strings.ToLower(query)
	words := len(strings.Fields(query))
	lengthWeight := p.cfg.ComplexityLengthWeight

	c := 1.0
	switch {
	case words <= 3:
		c *= 0.5 + lengthWeight
	case words <= 10:
		c *= 0.8 + lengthWeight*0.5
	case words > 30:
		c *= 1.0 + lengthWeight
	}

	if containsAnyPhrase(lower, complexKeywords) {
		c *= p.cfg.ComplexityKeywordBoost
	}
	if containsAnyPhrase(lower, memoryRecallKeywords) {
		c *= p.cfg.ComplexityMemoryBoost
	}
	if q := strings.Count(query, "?"); q > 1 {
		c *= math.Pow(p.cfg.ComplexityQuestionBoost, float64(q-1))
	}

	return math.Max(p.cfg.ComplexityMin, math.Min(p.cfg.ComplexityMax, c))
}

// sizeFactor scales retrieval with store size: a discount below the small
// threshold, linear growth through the normal range, then logarithmic
// growth capped at SizeScalingMax.
func (p *Planner) sizeFactor(total int) float64 {
	small := float64(p.cfg.SizeSmallThreshold)
	large := float64(p.cfg.SizeLargeThreshold)
	n := float64(total)

	switch {
	case n < small:
		return 0.8
	case n <= large:
		return p.cfg.SizeScalingBase + p.cfg.SizeScalingLogFactor*(n-small)/(large-small)
	default:
		f := p.cfg.SizeScalingBase + p.cfg.SizeScalingLogFactor*(1+math.Log10(n/large))
		return math.Min(f, p.cfg.SizeScalingMax)
	}
}

// dynamicRatio derives compression pressure from estimated token overage:
// if the planned memories fit the budget at the assumed average size, only
// the light ratio applies; otherwise compression rises linearly with the
// overage, capped at the maximum.
func (p *Planner) dynamicRatio(planned, tokenBudget int) float64 {
	if planned == 0 || tokenBudget <= 0 {
		return p.cfg.CompressionLightRatio
	}
	estimated := planned * p.cfg.AvgTokensPerMemory
	if estimated <= tokenBudget {
		return p.cfg.CompressionLightRatio
	}
	overage := float64(estimated) / float64(tokenBudget)
	ratio := p.cfg.CompressionLightRatio + (overage-1)*p.cfg.CompressionOverageSlope
	return math.Min(ratio, p.cfg.CompressionMaxRatio)
}

// pickStrategies gates strategy breadth on the memory level: recency alone
// for light, semantic from moderate up, and the conditional strategies only
// when the level is full.
func (p *Planner) pickStrategies(level memory.Level, complexity float64, total int) []string {
	strategies := []string{StrategyRecency}

	if level == memory.LevelModerate || level == memory.LevelFull {
		strategies = append(strategies, StrategySemantic)
	}
	if level != memory.LevelFull {
		return strategies
	}

	if p.cfg.EnableTagSearch && complexity >= p.cfg.TagSearchThreshold {
		strategies = append(strategies, StrategyTag)
	}
	if p.cfg.EnableKeywordSearch && complexity >= p.cfg.TagSearchThreshold {
		strategies = append(strategies, StrategyKeyword)
	}
	if p.cfg.EnableIntentSearch && complexity >= p.cfg.TagSearchThreshold && total >= p.cfg.IntentSearchDBThreshold {
		strategies = append(strategies, StrategyIntent)
	}
	if p.cfg.EnableTemporalSearch && total >= p.cfg.TemporalSearchThreshold {
		strategies = append(strategies, StrategyTemporal)
	}
	if p.cfg.EnableNeuralSearch && complexity >= p.cfg.NeuralSearchThreshold {
		strategies = append(strategies, StrategyNeural)
	}
	return append(strategies, StrategyPersonal)
}

// estimate approximates retrieval latency: recent fetches are cheap,
// semantic scoring dominates, each extra strategy adds a fixed cost.
func (p *Planner) estimate(recent, semantic, strategies int) time.Duration {
	ms := float64(recent)*0.5 + float64(semantic)*2 + float64(strategies)*10 + 20
	return time.Duration(ms * float64(time.Millisecond))
}

func containsAnyPhrase(haystack string, phrases []string) bool {
	for _, phrase := range phrases {
		if strings.Contains(haystack, phrase) {
			return true
		}
	}
	return false
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
