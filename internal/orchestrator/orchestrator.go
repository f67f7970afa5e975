// Package orchestrator contains the resumable batch control loop: repeated
// session passes over a work set, checkpointed progress, and a stagnation
// circuit breaker that halts the run when the remaining items stop shrinking.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kmoravec/querypilot/internal/checkpoint"
	"github.com/kmoravec/querypilot/internal/metrics"
	"github.com/kmoravec/querypilot/internal/workset"
	"github.com/kmoravec/querypilot/pkg/models"
)

// ErrStagnation is returned when the configured number of consecutive
// sessions produced no reduction in remaining work. The unresolved items are
// reported, never silently dropped.
var ErrStagnation = errors.New("no progress across consecutive sessions")

// DefaultAuthBackoff is the pause before retrying after a failed login.
const DefaultAuthBackoff = 5 * time.Second

// UndoneSink receives the unresolved items of a stagnated run for
// out-of-band investigation. Implemented by the report package.
type UndoneSink interface {
	WriteUndone(task string, items []models.WorkItem) error
}

// Orchestrator is the top-level control loop for a known list of work items.
type Orchestrator struct {
	task        string
	runner      *SessionRunner
	store       *checkpoint.Store
	logger      *slog.Logger
	metrics     *metrics.Collector
	undone      UndoneSink
	threshold   int
	authBackoff time.Duration
}

// New wires an orchestrator for one logical task (e.g. one query name).
// undone may be nil; threshold and authBackoff <= 0 select defaults.
func New(
	task string,
	runner *SessionRunner,
	store *checkpoint.Store,
	collector *metrics.Collector,
	undone UndoneSink,
	threshold int,
	authBackoff time.Duration,
	logger *slog.Logger,
) *Orchestrator {
	if threshold <= 0 {
		threshold = DefaultStagnationThreshold
	}
	if authBackoff <= 0 {
		authBackoff = DefaultAuthBackoff
	}
	return &Orchestrator{
		task:        task,
		runner:      runner,
		store:       store,
		logger:      logger.With("task", task),
		metrics:     collector,
		undone:      undone,
		threshold:   threshold,
		authBackoff: authBackoff,
	}
}

// Run processes items to completion or stagnation. Items already present in
// the checkpoint ledger are never re-attempted; everything else is retried
// across as many sessions as it takes, as long as each round of sessions
// keeps making progress.
func (o *Orchestrator) Run(ctx context.Context, items []models.WorkItem) (*models.RunReport, error) {
	report := &models.RunReport{
		RunID:     uuid.New().String(),
		StartedAt: time.Now(),
	}

	done, _ := o.store.Load()
	all := workset.New(items)
	report.Total = all.Len()

	var pending []models.WorkItem
	for _, it := range all.Snapshot() {
		if !done[it.ID] {
			pending = append(pending, it)
		}
	}
	set := workset.New(pending)
	report.Completed = report.Total - set.Len()

	o.logger.Info("Starting batch run",
		"run_id", report.RunID,
		"total", report.Total,
		"already_done", report.Completed,
		"pending", set.Len())

	detector := NewStagnationDetector(set.Len(), o.threshold)
	o.metrics.SetRemaining(set.Len())

	for set.Len() > 0 {
		if err := ctx.Err(); err != nil {
			o.finish(report, set)
			return report, err
		}

		res := o.runner.Run(ctx, set)
		report.Sessions++
		report.Completed += res.Processed
		o.metrics.SetRemaining(set.Len())

		o.logger.Info("Session finished",
			"session_id", res.SessionID,
			"outcome", res.Outcome,
			"processed", res.Processed,
			"failed_id", res.FailedID,
			"remaining", set.Len(),
			"duration", res.Duration.Round(time.Second))

		if detector.Observe(set.Len()) {
			o.metrics.SetStagnantSessions(detector.Stagnant())
			report.Stagnated = true
			o.finish(report, set)
			o.logger.Error("Stagnation detected, aborting run",
				"remaining", set.Len(),
				"threshold", o.threshold)
			o.reportUndone(report.Unresolved)
			return report, ErrStagnation
		}
		o.metrics.SetStagnantSessions(detector.Stagnant())

		if res.Outcome == models.SessionAuthFailed && set.Len() > 0 {
			select {
			case <-ctx.Done():
				o.finish(report, set)
				return report, ctx.Err()
			case <-time.After(o.authBackoff):
			}
		}
	}

	o.finish(report, set)
	o.logger.Info("All items processed",
		"total", report.Total,
		"sessions", report.Sessions,
		"duration", report.Duration.Round(time.Second))
	return report, nil
}

func (o *Orchestrator) finish(report *models.RunReport, set *workset.Set) {
	report.FinishedAt = time.Now()
	report.Duration = report.FinishedAt.Sub(report.StartedAt)
	if set.Len() > 0 {
		report.Unresolved = set.Snapshot()
	}
}

func (o *Orchestrator) reportUndone(items []models.WorkItem) {
	if o.undone == nil {
		return
	}
	if err := o.undone.WriteUndone(o.task, items); err != nil {
		o.logger.Error("Failed to write undone report", "error", err)
	}
}
