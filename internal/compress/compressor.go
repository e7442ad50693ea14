// Package compress assembles retrieved memory records into a bounded
// context block. Records pass through relevance filtering, content
// deduplication, weighting with temporal decay, and a greedy budget fit
// that degrades each record's rendering fidelity as its weight drops.
package compress

import (
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/daverage/mnemo/internal/config"
	"github.com/daverage/mnemo/internal/embedding"
	"github.com/daverage/mnemo/internal/memory"
	"github.com/daverage/mnemo/internal/score"
	"github.com/daverage/mnemo/internal/tokens"
)

// Stats reports what compression did to one candidate set.
type Stats struct {
	CompressionRatio   float64 // compressed tokens over original tokens
	MemoriesIncluded   int
	MemoriesTotal      int
	TokenCount         int
	TokenBudget        int
	InformationDensity float64 // included records per token
}

// Compressor builds context blocks.
type Compressor struct {
	cfg    *config.Config
	logger *zap.Logger
	now    func() time.Time
}

// New creates a compressor from configuration.
func New(cfg *config.Config, logger *zap.Logger) *Compressor {
	return &Compressor{cfg: cfg, logger: logger, now: time.Now}
}

// WithClock overrides the compressor's clock. Test hook.
func (c *Compressor) WithClock(now func() time.Time) *Compressor {
	c.now = now
	return c
}

// Compress renders the records into a single context string within
// tokenBudget. queryVec may be nil; relevance then falls back to token
// overlap, and an empty query keeps everything. Empty input produces an
// empty string and zero stats, never an error.
func (c *Compressor) Compress(query string, queryVec []float32, records []*memory.Record, tokenBudget int) (string, Stats) {
	stats := Stats{MemoriesTotal: len(records), TokenBudget: tokenBudget}
	if len(records) == 0 || tokenBudget <= 0 {
		return "", stats
	}

	originalTokens := 0
	for _, rec := range records {
		originalTokens += tokens.Estimate(rec.CombinedText())
	}

	relevant := c.filterRelevant(query, queryVec, records)
	unique := dedupeByContent(relevant)
	weighted := c.weigh(query, unique)

	sort.Slice(weighted, func(i, j int) bool {
		if weighted[i].weight == weighted[j].weight {
			return weighted[i].rec.Timestamp.After(weighted[j].rec.Timestamp)
		}
		return weighted[i].weight > weighted[j].weight
	})

	var parts []string
	used := 0
	for _, w := range weighted {
		rendered := c.render(w.rec, w.weight)
		cost := tokens.Estimate(rendered)
		if used+cost > tokenBudget {
			// First overflow ends selection; everything below this weight
			// stays out even if it would fit.
			break
		}
		parts = append(parts, rendered)
		used += cost
		stats.MemoriesIncluded++
	}

	stats.TokenCount = used
	if originalTokens > 0 {
		stats.CompressionRatio = float64(used) / float64(originalTokens)
	}
	if used > 0 {
		stats.InformationDensity = float64(stats.MemoriesIncluded) / float64(used)
	}

	c.logger.Debug("compressed context",
		zap.Int("candidates", stats.MemoriesTotal),
		zap.Int("included", stats.MemoriesIncluded),
		zap.Int("tokens", stats.TokenCount),
		zap.Float64("ratio", stats.CompressionRatio),
	)
	return strings.Join(parts, "\n\n"), stats
}

// filterRelevant drops records below the relevance threshold. Embedding
// similarity is preferred; token overlap is the fallback when either side
// lacks a vector. An empty query keeps everything.
func (c *Compressor) filterRelevant(query string, queryVec []float32, records []*memory.Record) []*memory.Record {
	queryTokens := score.QueryTokens(query)
	if len(queryTokens) == 0 {
		return records
	}

	kept := make([]*memory.Record, 0, len(records))
	for _, rec := range records {
		var relevance float64
		if len(queryVec) > 0 && rec.HasEmbedding() {
			relevance = embedding.ClampedSimilarity(queryVec, rec.Embedding)
		} else {
			relevance = tokenOverlap(queryTokens, rec.CombinedText())
		}
		if relevance >= c.cfg.RelevanceThreshold {
			kept = append(kept, rec)
		}
	}
	return kept
}

type weightedRecord struct {
	rec    *memory.Record
	weight float64
}

// weigh scores each record by importance, recency, tag alignment with the
// query, and exponential temporal decay. The weight later selects the
// rendering fidelity.
func (c *Compressor) weigh(query string, records []*memory.Record) []weightedRecord {
	queryTokens := score.QueryTokens(query)
	now := c.now()

	weighted := make([]weightedRecord, 0, len(records))
	for _, rec := range records {
		ageDays := now.Sub(rec.Timestamp).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}

		base := c.cfg.BaseImportance * (1 + rec.Importance.Weight())
		recencyBoost := math.Max(c.cfg.RecencyBoostFloor, 1-ageDays/c.cfg.RecencyBoostDays)

		tagBoost := 1.0
		for _, tag := range rec.Tags {
			if _, ok := queryTokens[strings.ToLower(tag)]; ok {
				tagBoost += c.cfg.TagBoostPerMatch
			}
		}
		tagBoost = math.Min(tagBoost, c.cfg.TagBoostCap)

		decay := math.Pow(0.5, ageDays/c.cfg.DecayHalfLifeDays)

		weighted = append(weighted, weightedRecord{
			rec:    rec,
			weight: base * recencyBoost * tagBoost * decay,
		})
	}
	return weighted
}

// render picks the fidelity for one record. High-weight records keep the
// full exchange, mid-weight ones a clipped summary, the rest a one-line
// note of the answer.
func (c *Compressor) render(rec *memory.Record, weight float64) string {
	switch {
	case weight > c.cfg.WeightFullThreshold:
		return fmt.Sprintf("Q: %s\nA: %s", rec.Question, rec.Answer)
	case weight > c.cfg.WeightSummaryThreshold:
		return fmt.Sprintf("Key: %s → %s", clip(rec.Question, 100), clip(rec.Answer, 150))
	default:
		return "Note: " + clip(rec.Answer, 100)
	}
}

// dedupeByContent keeps the first record for each normalized content hash.
// Input order is preserved, so when callers pass ranked records the best
// copy of a duplicate survives.
func dedupeByContent(records []*memory.Record) []*memory.Record {
	seen := make(map[uint64]struct{}, len(records))
	unique := make([]*memory.Record, 0, len(records))
	for _, rec := range records {
		h := contentHash(rec.CombinedText())
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		unique = append(unique, rec)
	}
	return unique
}

func contentHash(text string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(strings.Join(strings.Fields(strings.ToLower(text)), " ")))
	return h.Sum64()
}

func tokenOverlap(queryTokens map[string]struct{}, text string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	textTokens := score.QueryTokens(text)
	matches := 0
	for t := range queryTokens {
		if _, ok := textTokens[t]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(queryTokens))
}

func clip(s string, max int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
