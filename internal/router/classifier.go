package router

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/daverage/mnemo/internal/embedding"
	"github.com/daverage/mnemo/internal/memory"
)

// clusterExamples seed the centroid for each query cluster. The phrasing is
// deliberately plain; the centroids only need to separate the clusters, not
// cover every wording.
var clusterExamples = map[string][]string{
	"greeting": {
		"hi", "hello there", "hey, thanks", "ok bye",
	},
	"personal": {
		"my name is alex", "i live in berlin", "i work as an engineer",
		"tell me about my preferences",
	},
	"memory_recall": {
		"do you remember what i told you", "recall our last discussion",
		"what did we say about the deadline",
	},
	"complex_analysis": {
		"compare the tradeoffs between these two designs in depth",
		"analyze why this approach failed and propose alternatives",
	},
	"simple_question": {
		"what time is it", "how many grams in an ounce",
	},
}

// clusterLevels maps a matched cluster to the memory level it implies.
var clusterLevels = map[string]memory.Level{
	"greeting":         memory.LevelNone,
	"personal":         memory.LevelFull,
	"memory_recall":    memory.LevelFull,
	"complex_analysis": memory.LevelModerate,
	"simple_question":  memory.LevelLight,
}

const (
	clusterMatchThreshold = 0.7
	classifyTimeout       = 150 * time.Millisecond
)

// Classifier refines rule-based routing by comparing the query embedding
// against precomputed cluster centroids. It is strictly advisory: any
// failure or timeout leaves the rule decision untouched.
type Classifier struct {
	embedder embedding.Client
	logger   *zap.Logger

	initOnce  sync.Once
	centroids map[string][]float32
}

// NewClassifier builds a classifier. Centroids are computed lazily on the
// first classification so construction never blocks on the embedder.
func NewClassifier(embedder embedding.Client, logger *zap.Logger) *Classifier {
	return &Classifier{embedder: embedder, logger: logger}
}

// Classify returns the best-matching cluster and its similarity, or
// ok=false when no cluster clears the threshold or the embedder misbehaves
// within the time allowance.
func (c *Classifier) Classify(ctx context.Context, query string) (cluster string, similarity float64, ok bool) {
	ctx, cancel := context.WithTimeout(ctx, classifyTimeout)
	defer cancel()

	c.initOnce.Do(func() { c.buildCentroids(ctx) })
	if len(c.centroids) == 0 {
		return "", 0, false
	}

	vec, err := c.embedder.Embed(ctx, query)
	if err != nil {
		c.logger.Debug("cluster classification skipped", zap.Error(err))
		return "", 0, false
	}

	best := ""
	bestSim := 0.0
	for name, centroid := range c.centroids {
		if sim := embedding.ClampedSimilarity(vec, centroid); sim > bestSim {
			best, bestSim = name, sim
		}
	}
	if bestSim < clusterMatchThreshold {
		return "", 0, false
	}
	return best, bestSim, true
}

// buildCentroids embeds the example phrases and averages them per cluster.
// A failure leaves centroids empty and disables refinement for the process
// lifetime rather than retrying on every query.
func (c *Classifier) buildCentroids(ctx context.Context) {
	centroids := make(map[string][]float32, len(clusterExamples))

	for name, examples := range clusterExamples {
		var sum []float32
		count := 0
		for _, text := range examples {
			vec, err := c.embedder.Embed(ctx, text)
			if err != nil {
				c.logger.Debug("centroid build failed, refinement disabled", zap.Error(err))
				return
			}
			if sum == nil {
				sum = make([]float32, len(vec))
			}
			for i := range vec {
				sum[i] += vec[i]
			}
			count++
		}
		for i := range sum {
			sum[i] /= float32(count)
		}
		centroids[name] = sum
	}
	c.centroids = centroids
}
