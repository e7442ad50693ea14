// Package pipeline wires the routing, planning, retrieval and compression
// stages into one engine. The engine is the public surface of the system:
// it degrades gracefully where the layers below return errors, so a failed
// embedding call costs recall quality, never the whole turn.
package pipeline

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/daverage/mnemo/internal/compress"
	"github.com/daverage/mnemo/internal/config"
	"github.com/daverage/mnemo/internal/embedding"
	"github.com/daverage/mnemo/internal/memory"
	"github.com/daverage/mnemo/internal/planner"
	"github.com/daverage/mnemo/internal/router"
	"github.com/daverage/mnemo/internal/score"
	"github.com/daverage/mnemo/internal/store"
)

// Engine runs the full retrieval pipeline. Construct it explicitly with
// New; there is no package-level instance.
type Engine struct {
	cfg        *config.Config
	embedder   embedding.Client
	store      *store.Store
	router     *router.Router
	planner    *planner.Planner
	compressor *compress.Compressor
	logger     *zap.Logger
}

// New assembles an engine from its already-constructed stages.
func New(
	cfg *config.Config,
	embedder embedding.Client,
	st *store.Store,
	rt *router.Router,
	pl *planner.Planner,
	cmp *compress.Compressor,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		cfg:        cfg,
		embedder:   embedder,
		store:      st,
		router:     rt,
		planner:    pl,
		compressor: cmp,
		logger:     logger,
	}
}

// Route classifies a query without touching the store.
func (e *Engine) Route(ctx context.Context, query string, recentTopics []string) memory.RoutingDecision {
	return e.router.Route(ctx, query, recentTopics)
}

// Plan produces the retrieval plan for a query, routing it first.
func (e *Engine) Plan(ctx context.Context, query string) (memory.RoutingDecision, memory.RetrievalPlan) {
	decision := e.router.Route(ctx, query, nil)
	plan := e.planner.Plan(ctx, query, decision)
	return decision, plan
}

// SaveMemory persists a record. Tags are extracted from the text when the
// request carries none, and importance defaults from the same signals when
// unset. Returns the new id, or "" when the dedup gate skipped the write.
func (e *Engine) SaveMemory(ctx context.Context, req store.SaveRequest) (string, error) {
	combined := req.Question + " " + req.Answer
	if len(req.Tags) == 0 {
		req.Tags = ExtractTags(combined)
	}
	if req.Importance == "" {
		req.Importance = InferImportance(combined, req.Tags)
	}
	return e.store.Save(ctx, req)
}

// QueryMemories runs a ranked semantic query against the store.
func (e *Engine) QueryMemories(ctx context.Context, query string, limit int, f store.Filters) ([]score.ScoredRecord, error) {
	return e.store.Query(ctx, query, limit, f, e.cfg.QueryThreshold)
}

// ContextResult carries everything BuildContext produced, including the
// intermediate decision and plan for observability.
type ContextResult struct {
	Context  string
	Decision memory.RoutingDecision
	Plan     memory.RetrievalPlan
	Stats    compress.Stats
}

// BuildContext is the full pipeline for one turn: route, plan, fetch recent
// and semantic candidates, merge, compress. A memory level of none
// short-circuits to an empty context. Retrieval errors degrade to whatever
// candidates survived; only storage-level failures propagate.
func (e *Engine) BuildContext(ctx context.Context, query string, recentTopics []string, agent string) (ContextResult, error) {
	decision := e.router.Route(ctx, query, recentTopics)
	result := ContextResult{Decision: decision}

	if decision.MemoryLevel == memory.LevelNone {
		result.Plan = e.planner.Plan(ctx, query, decision)
		return result, nil
	}

	plan := e.planner.Plan(ctx, query, decision)
	result.Plan = plan

	// One embedding call serves both retrieval and compression. Failure
	// here disables the semantic paths but recency survives.
	var queryVec []float32
	if strings.TrimSpace(query) != "" {
		vec, err := e.embedder.Embed(ctx, query)
		if err != nil {
			e.logger.Warn("query embedding failed, semantic retrieval disabled", zap.Error(err))
		} else {
			queryVec = vec
		}
	}

	candidates := make([]*memory.Record, 0, plan.MaxTotal)
	seen := make(map[string]struct{})

	recent, err := e.store.Recent(ctx, plan.RecentCount, agent)
	if err != nil {
		return result, err
	}
	for _, rec := range recent {
		seen[rec.ID] = struct{}{}
		candidates = append(candidates, rec)
	}

	if plan.SemanticCount > 0 && queryVec != nil {
		ranked, err := e.store.QueryWithEmbedding(ctx, query, queryVec,
			plan.SemanticCount, store.Filters{Agent: agent}, e.cfg.QueryThreshold)
		if err != nil {
			return result, err
		}
		for _, sr := range ranked {
			if _, dup := seen[sr.Record.ID]; dup {
				continue
			}
			seen[sr.Record.ID] = struct{}{}
			candidates = append(candidates, sr.Record)
		}
	}

	if plan.MaxTotal > 0 && len(candidates) > plan.MaxTotal {
		candidates = candidates[:plan.MaxTotal]
	}

	compressed, stats := e.compressor.Compress(query, queryVec, candidates, plan.TokenBudget)
	result.Context = compressed
	result.Stats = stats
	return result, nil
}

// InteractionResult reports what SaveInteraction decided and did.
type InteractionResult struct {
	Saved      bool
	ID         string
	Score      int
	Confidence float64
}

// SaveInteraction scores a finished exchange for save-worthiness and
// persists it when it clears the bar. The dedup gate still applies, so a
// repeated exchange reports Saved=false with an empty id.
func (e *Engine) SaveInteraction(ctx context.Context, query, response, agent string) (InteractionResult, error) {
	verdict := e.router.ShouldSaveInteraction(query, response)
	result := InteractionResult{Score: verdict.Score, Confidence: verdict.Confidence}
	if !verdict.Save {
		return result, nil
	}

	id, err := e.SaveMemory(ctx, store.SaveRequest{
		Question: query,
		Answer:   response,
		Agent:    agent,
	})
	if err != nil {
		return result, err
	}

	result.Saved = id != ""
	result.ID = id
	return result, nil
}
