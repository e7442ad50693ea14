// Package store persists memory records in SQLite and guards the save path
// with an approximate, similarity-based deduplication gate. Ranking is
// delegated to the scorer; the backing store itself needs no vector
// support.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/daverage/mnemo/internal/config"
	"github.com/daverage/mnemo/internal/embedding"
	"github.com/daverage/mnemo/internal/memory"
	"github.com/daverage/mnemo/internal/score"
)

// Store is the persisted collection of memory records.
type Store struct {
	db       *sql.DB
	embedder embedding.Client
	scorer   *score.Scorer
	logger   *zap.Logger

	dedupThreshold float64

	// saveMu makes the dedup-then-insert sequence effectively atomic per
	// store, so two near-duplicate records cannot be written concurrently.
	// It deliberately covers only the save path, not reads.
	saveMu sync.Mutex

	now func() time.Time
}

// New opens (or creates) the store at cfg.DBPath and applies migrations.
func New(cfg *config.Config, embedder embedding.Client, scorer *score.Scorer, logger *zap.Logger) (*Store, error) {
	db, err := openDB(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	return &Store{
		db:             db,
		embedder:       embedder,
		scorer:         scorer,
		logger:         logger,
		dedupThreshold: cfg.DedupThreshold,
		now:            time.Now,
	}, nil
}

// WithClock overrides the store's clock. Test hook.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveRequest carries the fields of a candidate new record.
type SaveRequest struct {
	Question   string
	Answer     string
	Agent      string
	Importance memory.Importance
	Tags       []string
	// DedupThreshold overrides the store default when > 0.
	DedupThreshold float64
}

// Filters narrows a query before any scoring happens.
type Filters struct {
	Agent      string
	Importance memory.Importance
	Tags       []string
}

// Stats summarizes the store for the planner's size factor.
type Stats struct {
	TotalRecords int
	ByImportance map[memory.Importance]int
	ByAgent      map[string]int
}

// RetentionPolicy bounds record age per importance level. A zero duration
// means records of that importance are kept forever.
type RetentionPolicy struct {
	MaxAge map[memory.Importance]time.Duration
}

// Save embeds the combined question+answer text, runs the deduplication
// gate and inserts the record. It returns the new id, or "" when the gate
// rejected the write as a near-duplicate. An embedding failure aborts the
// write; a partial record is never persisted.
func (s *Store) Save(ctx context.Context, req SaveRequest) (string, error) {
	if !req.Importance.IsValid() {
		return "", fmt.Errorf("invalid importance %q", req.Importance)
	}

	combined := req.Question + " " + req.Answer
	vec, err := s.embedder.Embed(ctx, combined)
	if err != nil {
		return "", fmt.Errorf("embed memory: %w", err)
	}

	threshold := req.DedupThreshold
	if threshold <= 0 {
		threshold = s.dedupThreshold
	}

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	best, bestID, err := s.bestSimilarity(ctx, vec)
	if err != nil {
		return "", fmt.Errorf("dedup scan: %w", err)
	}
	if best >= threshold {
		s.logger.Info("skipped near-duplicate memory",
			zap.Float64("similarity", best),
			zap.String("existing_id", bestID),
		)
		return "", nil
	}

	rec := &memory.Record{
		ID:         uuid.NewString(),
		Question:   req.Question,
		Answer:     req.Answer,
		Agent:      req.Agent,
		Importance: req.Importance,
		Tags:       req.Tags,
		Embedding:  vec,
		Timestamp:  s.now().UTC(),
	}

	tagsJSON, err := json.Marshal(orEmpty(rec.Tags))
	if err != nil {
		return "", err
	}
	vecJSON, err := json.Marshal(rec.Embedding)
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (id, question, answer, agent, importance, tags, embedding, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Question, rec.Answer, rec.Agent, string(rec.Importance),
		string(tagsJSON), string(vecJSON), rec.Timestamp)
	if err != nil {
		return "", fmt.Errorf("insert memory: %w", err)
	}

	s.logger.Debug("saved memory",
		zap.String("id", rec.ID),
		zap.String("importance", string(rec.Importance)),
		zap.Int("tags", len(rec.Tags)),
	)
	return rec.ID, nil
}

// Get returns the record with the given id, or nil when it does not exist.
func (s *Store) Get(ctx context.Context, id string) (*memory.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, question, answer, agent, importance, tags, embedding, timestamp
		FROM memories WHERE id = ?
	`, id)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// Updates names the fields an Update call may change. Nil fields are left
// untouched.
type Updates struct {
	Question   *string
	Answer     *string
	Agent      *string
	Importance *memory.Importance
	Tags       *[]string
}

// Update modifies an existing record. When the question or answer text
// changes the embedding is regenerated first; an embedding failure aborts
// the whole update. The timestamp is always refreshed and never moves
// backward.
func (s *Store) Update(ctx context.Context, id string, u Updates) (bool, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, nil
	}

	if u.Importance != nil && !u.Importance.IsValid() {
		return false, fmt.Errorf("invalid importance %q", *u.Importance)
	}

	question := existing.Question
	answer := existing.Answer
	if u.Question != nil {
		question = *u.Question
	}
	if u.Answer != nil {
		answer = *u.Answer
	}

	vec := existing.Embedding
	textChanged := question != existing.Question || answer != existing.Answer
	if textChanged {
		vec, err = s.embedder.Embed(ctx, question+" "+answer)
		if err != nil {
			return false, fmt.Errorf("re-embed memory: %w", err)
		}
	}

	agent := existing.Agent
	if u.Agent != nil {
		agent = *u.Agent
	}
	importance := existing.Importance
	if u.Importance != nil {
		importance = *u.Importance
	}
	tags := existing.Tags
	if u.Tags != nil {
		tags = *u.Tags
	}

	// Timestamps are monotonic per record.
	ts := s.now().UTC()
	if !ts.After(existing.Timestamp) {
		ts = existing.Timestamp.Add(time.Nanosecond)
	}

	tagsJSON, err := json.Marshal(orEmpty(tags))
	if err != nil {
		return false, err
	}
	vecJSON, err := json.Marshal(vec)
	if err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE memories
		SET question = ?, answer = ?, agent = ?, importance = ?, tags = ?, embedding = ?, timestamp = ?
		WHERE id = ?
	`, question, answer, agent, string(importance), string(tagsJSON), string(vecJSON), ts, id)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Delete removes a record permanently.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Query embeds the query text, loads the filtered candidate set and
// delegates ranking to the scorer. An embedding failure degrades to an
// empty result set rather than propagating; the failure is logged.
func (s *Store) Query(ctx context.Context, queryText string, limit int, f Filters, threshold float64) ([]score.ScoredRecord, error) {
	var queryVec []float32
	if strings.TrimSpace(queryText) != "" {
		vec, err := s.embedder.Embed(ctx, queryText)
		if err != nil {
			s.logger.Warn("query embedding failed, returning empty results", zap.Error(err))
			return []score.ScoredRecord{}, nil
		}
		queryVec = vec
	}
	return s.QueryWithEmbedding(ctx, queryText, queryVec, limit, f, threshold)
}

// QueryWithEmbedding ranks against a caller-supplied query embedding, so a
// caller that already embedded the query does not pay for it twice.
// queryVec may be nil; the semantic term then contributes nothing.
func (s *Store) QueryWithEmbedding(ctx context.Context, queryText string, queryVec []float32, limit int, f Filters, threshold float64) ([]score.ScoredRecord, error) {
	records, err := s.scanFiltered(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return []score.ScoredRecord{}, nil
	}
	return s.scorer.Rank(queryText, queryVec, records, threshold, limit), nil
}

// Recent returns the newest records, optionally filtered by agent.
func (s *Store) Recent(ctx context.Context, limit int, agent string) ([]*memory.Record, error) {
	if limit <= 0 {
		return []*memory.Record{}, nil
	}

	query := `
		SELECT id, question, answer, agent, importance, tags, embedding, timestamp
		FROM memories
	`
	args := []any{}
	if agent != "" {
		query += ` WHERE agent = ?`
		args = append(args, agent)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectRecords(rows)
}

// Stats returns aggregate counts used by the planner's size factor and the
// stats CLI.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{
		ByImportance: make(map[memory.Importance]int),
		ByAgent:      make(map[string]int),
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT importance, agent, COUNT(*) FROM memories GROUP BY importance, agent
	`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()

	for rows.Next() {
		var imp, agent string
		var n int
		if err := rows.Scan(&imp, &agent, &n); err != nil {
			return stats, err
		}
		stats.TotalRecords += n
		stats.ByImportance[memory.Importance(imp)] += n
		stats.ByAgent[agent] += n
	}
	return stats, rows.Err()
}

// Cleanup deletes records older than the policy allows for their
// importance level and returns the number removed.
func (s *Store) Cleanup(ctx context.Context, policy RetentionPolicy) (int64, error) {
	var total int64
	now := s.now().UTC()

	for imp, maxAge := range policy.MaxAge {
		if maxAge <= 0 {
			continue
		}
		cutoff := now.Add(-maxAge)
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM memories WHERE importance = ? AND timestamp < ?
		`, string(imp), cutoff)
		if err != nil {
			return total, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}

	if total > 0 {
		s.logger.Info("retention sweep removed records", zap.Int64("count", total))
	}
	return total, nil
}

// bestSimilarity scans stored embeddings and returns the highest cosine
// similarity against vec. Records without an embedding are skipped.
func (s *Store) bestSimilarity(ctx context.Context, vec []float32) (float64, string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding FROM memories`)
	if err != nil {
		return 0, "", err
	}
	defer rows.Close()

	best := -1.0
	bestID := ""
	for rows.Next() {
		var id, embJSON string
		if err := rows.Scan(&id, &embJSON); err != nil {
			return 0, "", err
		}
		var emb []float32
		if err := json.Unmarshal([]byte(embJSON), &emb); err != nil || len(emb) == 0 {
			continue
		}
		if sim := embedding.CosineSimilarity(vec, emb); sim > best {
			best = sim
			bestID = id
		}
	}
	return best, bestID, rows.Err()
}

// scanFiltered loads records matching the filters. Agent and importance
// narrow the scan in SQL; tag filtering happens after decoding since tags
// live in a JSON column.
func (s *Store) scanFiltered(ctx context.Context, f Filters) ([]*memory.Record, error) {
	query := `
		SELECT id, question, answer, agent, importance, tags, embedding, timestamp
		FROM memories
	`
	var clauses []string
	var args []any
	if f.Agent != "" {
		clauses = append(clauses, "agent = ?")
		args = append(args, f.Agent)
	}
	if f.Importance != "" {
		clauses = append(clauses, "importance = ?")
		args = append(args, string(f.Importance))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY timestamp DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records, err := collectRecords(rows)
	if err != nil {
		return nil, err
	}

	if len(f.Tags) == 0 {
		return records, nil
	}

	filtered := records[:0]
	for _, rec := range records {
		if hasAnyTag(rec.Tags, f.Tags) {
			filtered = append(filtered, rec)
		}
	}
	return filtered, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*memory.Record, error) {
	var rec memory.Record
	var importance, tagsJSON, embJSON string

	if err := row.Scan(&rec.ID, &rec.Question, &rec.Answer, &rec.Agent,
		&importance, &tagsJSON, &embJSON, &rec.Timestamp); err != nil {
		return nil, err
	}

	rec.Importance = memory.Importance(importance)
	if err := json.Unmarshal([]byte(tagsJSON), &rec.Tags); err != nil {
		rec.Tags = nil
	}
	if err := json.Unmarshal([]byte(embJSON), &rec.Embedding); err != nil {
		rec.Embedding = nil
	}
	return &rec, nil
}

func collectRecords(rows *sql.Rows) ([]*memory.Record, error) {
	var records []*memory.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func hasAnyTag(tags, wanted []string) bool {
	for _, w := range wanted {
		for _, t := range tags {
			if strings.EqualFold(t, w) {
				return true
			}
		}
	}
	return false
}

func orEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
