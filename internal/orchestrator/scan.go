package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kmoravec/querypilot/internal/checkpoint"
	"github.com/kmoravec/querypilot/internal/driver"
	"github.com/kmoravec/querypilot/internal/metrics"
	"github.com/kmoravec/querypilot/internal/pager"
	"github.com/kmoravec/querypilot/internal/workset"
	"github.com/kmoravec/querypilot/pkg/models"
)

// Scanner is the grid-scanning variant of the batch loop. Instead of a known
// id list, work items are discovered page by page from the remote result
// grid, filtered against the checkpoint ledger, and processed in place. The
// page cursor is persisted at the start of each page so a restart resumes at
// the page that may still hold unfinished work.
type Scanner struct {
	task        string
	drv         driver.Driver
	auth        driver.Authenticator
	work        driver.UnitOfWork
	grid        driver.Grid
	nav         *pager.Navigator
	creds       driver.Credentials
	throttle    *driver.Throttle
	store       *checkpoint.Store
	logger      *slog.Logger
	metrics     *metrics.Collector
	undone      UndoneSink
	threshold   int
	authBackoff time.Duration
}

// NewScanner wires a grid scanner for one logical task.
func NewScanner(
	task string,
	drv driver.Driver,
	auth driver.Authenticator,
	work driver.UnitOfWork,
	grid driver.Grid,
	nav *pager.Navigator,
	creds driver.Credentials,
	throttle *driver.Throttle,
	store *checkpoint.Store,
	collector *metrics.Collector,
	undone UndoneSink,
	threshold int,
	authBackoff time.Duration,
	logger *slog.Logger,
) *Scanner {
	if threshold <= 0 {
		threshold = DefaultStagnationThreshold
	}
	if authBackoff <= 0 {
		authBackoff = DefaultAuthBackoff
	}
	return &Scanner{
		task:        task,
		drv:         drv,
		auth:        auth,
		work:        work,
		grid:        grid,
		nav:         nav,
		creds:       creds,
		throttle:    throttle,
		store:       store,
		logger:      logger.With("task", task),
		metrics:     collector,
		undone:      undone,
		threshold:   threshold,
		authBackoff: authBackoff,
	}
}

// Run scans every result page, processing each discovered item, until the
// end of the list is reached with nothing left pending, or until sessions
// stop making progress.
func (s *Scanner) Run(ctx context.Context) (*models.RunReport, error) {
	report := &models.RunReport{
		RunID:     uuid.New().String(),
		StartedAt: time.Now(),
	}

	_, startPage := s.store.Load()
	set := workset.New(nil)
	page := startPage
	scanDone := false

	s.logger.Info("Starting grid scan",
		"run_id", report.RunID,
		"resume_page", startPage,
		"already_done", s.store.DoneCount())

	detector := NewStagnationDetector(set.Len(), s.threshold)

	for {
		if err := ctx.Err(); err != nil {
			s.finishScan(report, set)
			return report, err
		}

		res, sessDone, nextPage := s.runSession(ctx, set, page, scanDone)
		scanDone = scanDone || sessDone
		page = nextPage
		report.Sessions++
		report.Completed += res.Processed
		s.metrics.SetRemaining(set.Len())

		s.logger.Info("Scan session finished",
			"session_id", res.SessionID,
			"outcome", res.Outcome,
			"processed", res.Processed,
			"failed_id", res.FailedID,
			"remaining", set.Len(),
			"page", page,
			"scan_complete", scanDone)

		if scanDone && set.Len() == 0 {
			break
		}

		if detector.Observe(set.Len()) {
			s.metrics.SetStagnantSessions(detector.Stagnant())
			report.Stagnated = true
			s.finishScan(report, set)
			s.logger.Error("Stagnation detected, aborting scan",
				"remaining", set.Len(),
				"threshold", s.threshold)
			if s.undone != nil {
				if err := s.undone.WriteUndone(s.task, report.Unresolved); err != nil {
					s.logger.Error("Failed to write undone report", "error", err)
				}
			}
			return report, ErrStagnation
		}
		s.metrics.SetStagnantSessions(detector.Stagnant())

		if res.Outcome == models.SessionAuthFailed {
			select {
			case <-ctx.Done():
				s.finishScan(report, set)
				return report, ctx.Err()
			case <-time.After(s.authBackoff):
			}
		}
	}

	s.finishScan(report, set)
	s.logger.Info("Scan complete",
		"processed", report.Completed,
		"sessions", report.Sessions,
		"duration", report.Duration.Round(time.Second))
	return report, nil
}

func (s *Scanner) finishScan(report *models.RunReport, set *workset.Set) {
	report.FinishedAt = time.Now()
	report.Duration = report.FinishedAt.Sub(report.StartedAt)
	if set.Len() > 0 {
		report.Unresolved = set.Snapshot()
	}
	report.Total = report.Completed + set.Len()
}

// runSession performs one authenticated scan pass: retry any leftover items
// from a previously failed session first, then continue page discovery from
// startPage. Returns the session result, whether the end of the list was
// reached, and the page to resume from next session.
func (s *Scanner) runSession(ctx context.Context, set *workset.Set, startPage int, scanDone bool) (models.SessionResult, bool, int) {
	start := time.Now()
	result := models.SessionResult{SessionID: uuid.New().String()}
	logger := s.logger.With("session_id", result.SessionID)

	defer func() {
		result.Duration = time.Since(start)
		s.metrics.RecordSession(string(result.Outcome))
	}()

	sess, err := s.drv.NewSession(ctx)
	if err != nil {
		logger.Error("Failed to open session", "error", err)
		result.Outcome = models.SessionAuthFailed
		return result, false, startPage
	}
	defer func() {
		if cerr := sess.Close(context.WithoutCancel(ctx)); cerr != nil {
			logger.Warn("Failed to close session", "error", cerr)
		}
	}()

	ok, err := s.auth.Authenticate(ctx, sess, s.creds)
	if err != nil || !ok {
		logger.Warn("Login failed, will retry with a fresh session", "error", err)
		result.Outcome = models.SessionAuthFailed
		return result, false, startPage
	}

	// Leftovers from an earlier failed session come first; their unit of
	// work navigates on its own, independent of the current page.
	if !s.drain(ctx, logger, sess, set, &result) {
		return result, false, startPage
	}
	if scanDone {
		result.Outcome = models.SessionCompleted
		return result, true, startPage
	}

	page := startPage
	for {
		if err := ctx.Err(); err != nil {
			result.Outcome = models.SessionFailed
			return result, false, page
		}

		// Written at the start of each page: on restart we re-land here,
		// and the ledger filter makes rescanning the page harmless.
		if err := s.store.SaveCursor(page); err != nil {
			logger.Error("Failed to persist page cursor", "page", page, "error", err)
		}

		if err := s.nav.SeekWithReload(ctx, sess, page); err != nil {
			if errors.Is(err, pager.ErrEndOfList) {
				logger.Info("Reached end of result list", "last_page", page-1)
				result.Outcome = models.SessionCompleted
				return result, true, page
			}
			logger.Warn("Pagination failed, restarting session", "page", page, "error", err)
			result.Outcome = models.SessionFailed
			return result, false, page
		}

		rows, err := s.grid.CandidateRows(ctx, sess)
		if err != nil {
			logger.Warn("Failed to read candidate rows, restarting session", "page", page, "error", err)
			result.Outcome = models.SessionFailed
			return result, false, page
		}

		added := 0
		for _, row := range rows {
			if s.store.IsDone(row.ID) {
				continue
			}
			if set.Add(row) {
				added++
			}
		}
		if added > 0 {
			logger.Info("Discovered candidates", "page", page, "candidates", len(rows), "new", added)
		} else if len(rows) > 0 {
			logger.Info("All candidates on page already done, fast-forwarding", "page", page)
		}

		if !s.drain(ctx, logger, sess, set, &result) {
			return result, false, page
		}
		page++
	}
}

// drain attempts every pending item and reports false on the first failure,
// leaving the failed item (and everything after it) in the set for the next
// session.
func (s *Scanner) drain(ctx context.Context, logger *slog.Logger, sess driver.Session, set *workset.Set, result *models.SessionResult) bool {
	for _, item := range set.Snapshot() {
		if err := ctx.Err(); err != nil {
			result.Outcome = models.SessionFailed
			return false
		}
		if err := s.throttle.Wait(ctx); err != nil {
			result.Outcome = models.SessionFailed
			return false
		}

		itemStart := time.Now()
		passed, err := s.work.Execute(ctx, sess, item)
		itemDuration := time.Since(itemStart)
		s.metrics.RecordItem(itemDuration, passed && err == nil)

		if err != nil || !passed {
			logger.Warn("Item failed, ending session early",
				"id", item.ID,
				"error", err)
			result.Outcome = models.SessionFailed
			result.FailedID = item.ID
			return false
		}

		set.Complete(item.ID)
		if err := s.store.MarkDone(item.ID); err != nil {
			logger.Error("Failed to persist done marker", "id", item.ID, "error", err)
		}
		result.Processed++
		logger.Info("Item completed",
			"id", item.ID,
			"duration", itemDuration.Round(time.Millisecond))
	}
	return true
}
