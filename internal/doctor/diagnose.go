// Package doctor runs environment diagnostics: store connectivity, config
// consistency and embedding service health.
package doctor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/daverage/mnemo/internal/config"
	"github.com/daverage/mnemo/internal/embedding"
	"github.com/daverage/mnemo/internal/store"
)

// Diagnostics holds the outcome of a full check run.
type Diagnostics struct {
	Checks []CheckResult `json:"checks"`
	Issues []string      `json:"issues"`
	Status string        `json:"status"`
}

// CheckResult is the result of a single check.
type CheckResult struct {
	Name     string `json:"name"`
	Status   string `json:"status"` // "pass", "fail", "warn"
	Message  string `json:"message"`
	Severity string `json:"severity"` // "info", "warning", "error"
}

// Runner runs diagnostic checks.
type Runner struct {
	config   *config.Config
	store    *store.Store
	embedder embedding.Client
}

// NewRunner creates a diagnostic runner.
func NewRunner(cfg *config.Config, st *store.Store, embedder embedding.Client) *Runner {
	return &Runner{config: cfg, store: st, embedder: embedder}
}

// RunAll runs every check and aggregates the failures.
func (d *Runner) RunAll(ctx context.Context) *Diagnostics {
	var results []CheckResult

	results = append(results, d.checkConfiguration()...)
	results = append(results, d.checkStorePath()...)
	results = append(results, d.checkStore(ctx)...)
	results = append(results, d.checkEmbedder(ctx)...)

	var issues []string
	for _, result := range results {
		if result.Status == "fail" {
			issues = append(issues, result.Message)
		}
	}

	status := "healthy"
	if len(issues) > 0 {
		status = "issues_found"
	}

	return &Diagnostics{Checks: results, Issues: issues, Status: status}
}

func (d *Runner) checkConfiguration() []CheckResult {
	if err := d.config.Validate(); err != nil {
		return []CheckResult{{
			Name:     "configuration",
			Status:   "fail",
			Message:  fmt.Sprintf("Configuration invalid: %v", err),
			Severity: "error",
		}}
	}
	return []CheckResult{{
		Name:     "configuration",
		Status:   "pass",
		Message:  "Configuration valid",
		Severity: "info",
	}}
}

func (d *Runner) checkStorePath() []CheckResult {
	dir := filepath.Dir(d.config.DBPath)
	info, err := os.Stat(dir)
	if err != nil {
		return []CheckResult{{
			Name:     "store_directory",
			Status:   "fail",
			Message:  fmt.Sprintf("Store directory %s not accessible: %v", dir, err),
			Severity: "error",
		}}
	}
	if !info.IsDir() {
		return []CheckResult{{
			Name:     "store_directory",
			Status:   "fail",
			Message:  fmt.Sprintf("Store path parent %s is not a directory", dir),
			Severity: "error",
		}}
	}
	return []CheckResult{{
		Name:     "store_directory",
		Status:   "pass",
		Message:  fmt.Sprintf("Store directory %s accessible", dir),
		Severity: "info",
	}}
}

func (d *Runner) checkStore(ctx context.Context) []CheckResult {
	var results []CheckResult

	if err := d.store.Ping(ctx); err != nil {
		results = append(results, CheckResult{
			Name:     "store_connectivity",
			Status:   "fail",
			Message:  fmt.Sprintf("Cannot connect to store: %v", err),
			Severity: "error",
		})
		return results
	}
	results = append(results, CheckResult{
		Name:     "store_connectivity",
		Status:   "pass",
		Message:  "Store connection successful",
		Severity: "info",
	})

	stats, err := d.store.Stats(ctx)
	if err != nil {
		results = append(results, CheckResult{
			Name:     "store_query",
			Status:   "fail",
			Message:  fmt.Sprintf("Cannot query store: %v", err),
			Severity: "error",
		})
	} else {
		results = append(results, CheckResult{
			Name:     "store_query",
			Status:   "pass",
			Message:  fmt.Sprintf("Store holds %d memories", stats.TotalRecords),
			Severity: "info",
		})
	}
	return results
}

func (d *Runner) checkEmbedder(ctx context.Context) []CheckResult {
	vec, err := d.embedder.Embed(ctx, "diagnostic probe")
	if err != nil {
		return []CheckResult{{
			Name:     "embedding_service",
			Status:   "fail",
			Message:  fmt.Sprintf("Embedding service unreachable: %v", err),
			Severity: "error",
		}}
	}
	if want := d.embedder.Dimensions(); want > 0 && len(vec) != want {
		return []CheckResult{{
			Name:     "embedding_service",
			Status:   "fail",
			Message:  fmt.Sprintf("Embedding dimension mismatch: got %d, want %d", len(vec), want),
			Severity: "error",
		}}
	}
	return []CheckResult{{
		Name:     "embedding_service",
		Status:   "pass",
		Message:  fmt.Sprintf("Embedding service healthy (%d dimensions)", len(vec)),
		Severity: "info",
	}}
}
