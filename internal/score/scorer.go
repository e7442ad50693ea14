// Package score ranks memory records against a query by blending semantic
// similarity, tag overlap, importance and recency into one weighted total.
package score

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/daverage/mnemo/internal/config"
	"github.com/daverage/mnemo/internal/embedding"
	"github.com/daverage/mnemo/internal/memory"
)

// Weights blends the four sub-scores. The sum must be 1.0; config
// validation enforces that before a Scorer is ever constructed.
type Weights struct {
	Semantic   float64
	Tags       float64
	Importance float64
	Recency    float64
}

// Breakdown carries the sub-scores for one (query, record) pair so callers
// can inspect what drove a ranking.
type Breakdown struct {
	Semantic   float64
	TagMatch   float64
	Importance float64
	Recency    float64
	Total      float64
}

// ScoredRecord pairs a record with its scoring breakdown.
type ScoredRecord struct {
	Record *memory.Record
	Scores Breakdown
}

// Scorer computes composite relevance scores.
type Scorer struct {
	weights      Weights
	halfLifeDays float64
	now          func() time.Time
}

// New creates a scorer from configuration.
func New(cfg *config.Config) *Scorer {
	return &Scorer{
		weights: Weights{
			Semantic:   cfg.SemanticWeight,
			Tags:       cfg.TagWeight,
			Importance: cfg.ImportanceWeight,
			Recency:    cfg.RecencyWeight,
		},
		halfLifeDays: cfg.RecencyHalfLifeDays,
		now:          time.Now,
	}
}

// WithClock overrides the scorer's clock. Test hook.
func (s *Scorer) WithClock(now func() time.Time) *Scorer {
	s.now = now
	return s
}

// Score computes the sub-scores and weighted total for one record.
// queryEmbedding may be nil (semantic term becomes 0); a record without an
// embedding likewise contributes 0 semantically rather than an error.
func (s *Scorer) Score(queryEmbedding []float32, queryTokens map[string]struct{}, rec *memory.Record) Breakdown {
	var b Breakdown

	if len(queryEmbedding) > 0 && rec.HasEmbedding() {
		b.Semantic = embedding.ClampedSimilarity(queryEmbedding, rec.Embedding)
	}
	b.TagMatch = tagMatch(queryTokens, rec.Tags)
	b.Importance = rec.Importance.Weight()
	b.Recency = s.recency(rec.Timestamp)

	b.Total = s.weights.Semantic*b.Semantic +
		s.weights.Tags*b.TagMatch +
		s.weights.Importance*b.Importance +
		s.weights.Recency*b.Recency
	return b
}

// Rank scores all candidates, drops those below threshold and returns the
// survivors sorted by total score descending, ties broken by more recent
// timestamp. limit <= 0 means unlimited.
func (s *Scorer) Rank(queryText string, queryEmbedding []float32, records []*memory.Record, threshold float64, limit int) []ScoredRecord {
	tokens := QueryTokens(queryText)

	results := make([]ScoredRecord, 0, len(records))
	for _, rec := range records {
		scores := s.Score(queryEmbedding, tokens, rec)
		if scores.Total < threshold {
			continue
		}
		results = append(results, ScoredRecord{Record: rec, Scores: scores})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Scores.Total == results[j].Scores.Total {
			return results[i].Record.Timestamp.After(results[j].Record.Timestamp)
		}
		return results[i].Scores.Total > results[j].Scores.Total
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// recency applies exponential decay over the configured half-life.
func (s *Scorer) recency(ts time.Time) float64 {
	ageDays := s.now().Sub(ts).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp(-ageDays / s.halfLifeDays)
}

// QueryTokens lower-cases and splits the raw query text into a token set.
// This is deliberately the raw vocabulary of the query, not a curated one.
func QueryTokens(query string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, f := range strings.Fields(strings.ToLower(query)) {
		f = strings.Trim(f, ".,!?;:'\"()[]{}")
		if f != "" {
			tokens[f] = struct{}{}
		}
	}
	return tokens
}

// tagMatch is |queryTokens ∩ tags| / max(|queryTokens|, 1).
func tagMatch(queryTokens map[string]struct{}, tags []string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	matches := 0
	for _, tag := range tags {
		if _, ok := queryTokens[strings.ToLower(tag)]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(queryTokens))
}
