// Package runs keeps a local history of settled workflow runs in
// Postgres. The history is advisory: writes are best-effort and never
// gate the session.
package runs

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"valueprop-client/internal/common/logger"
	"valueprop-client/internal/models"
	"valueprop-client/internal/workflow/classify"
)

const insertRunQuery = `
	INSERT INTO workflow_runs (
		id, run_id, provider, model, temperature,
		outcome, message, content, source, customer_id,
		total_cost_usd, total_latency_ms, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

const recentRunsQuery = `
	SELECT id, run_id, provider, model, temperature,
	       outcome, message, content, source, customer_id,
	       total_cost_usd, total_latency_ms, created_at
	FROM workflow_runs
	ORDER BY created_at DESC
	LIMIT $1`

// Record is one persisted history row.
type Record struct {
	ID          string
	RunID       string
	Provider    models.Provider
	Model       string
	Temperature float64
	Outcome     string
	Message     string
	Content     string
	Source      string
	CustomerID  string
	CostUSD     float64
	LatencyMS   int64
	CreatedAt   time.Time
}

type Store struct {
	db  *sql.DB
	log logger.Logger
	now func() time.Time
}

func NewStore(db *sql.DB, log logger.Logger) *Store {
	return &Store{db: db, log: log, now: time.Now}
}

// RecordRun persists one settled execution. Error-derived outcomes have
// no result payload; their row carries the surfaced message only.
func (s *Store) RecordRun(ctx context.Context, in models.RawInput, cfg models.RunConfig, outcome *classify.Outcome) error {
	var runID string
	var cost float64
	var latency int64
	if outcome.Result != nil {
		runID = outcome.Result.RunID
		cost = outcome.Result.TotalCostUSD
		latency = outcome.Result.TotalLatencyMS
	}

	_, err := s.db.ExecContext(ctx, insertRunQuery,
		uuid.New().String(),
		runID,
		string(cfg.Provider),
		cfg.Model,
		cfg.Temperature,
		outcome.Kind.String(),
		outcome.Message,
		in.Content,
		in.Source,
		in.CustomerID,
		cost,
		latency,
		s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording run: %w", err)
	}

	s.log.Debug("run recorded", map[string]interface{}{
		"run_id":  runID,
		"outcome": outcome.Kind.String(),
	})
	return nil
}

// RecentRuns returns the newest history rows, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, recentRunsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("querying run history: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var provider string
		if err := rows.Scan(
			&r.ID, &r.RunID, &provider, &r.Model, &r.Temperature,
			&r.Outcome, &r.Message, &r.Content, &r.Source, &r.CustomerID,
			&r.CostUSD, &r.LatencyMS, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		r.Provider = models.Provider(provider)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating run rows: %w", err)
	}
	return out, nil
}
