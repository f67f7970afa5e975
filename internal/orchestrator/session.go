package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"

	"github.com/kmoravec/querypilot/internal/checkpoint"
	"github.com/kmoravec/querypilot/internal/driver"
	"github.com/kmoravec/querypilot/internal/metrics"
	"github.com/kmoravec/querypilot/internal/workset"
	"github.com/kmoravec/querypilot/pkg/models"
)

// State is the session runner's position in its lifecycle.
type State string

const (
	StateIdle           State = "idle"
	StateAuthenticating State = "authenticating"
	StateProcessing     State = "processing"
	StateCompleted      State = "completed"
	StateFailed         State = "failed"
	StateClosed         State = "closed"
)

// SessionRunner drives one authenticated pass over the work set: acquire a
// fresh session, log in, attempt items in snapshot order, and stop on the
// first item failure rather than continuing in a possibly corrupted UI
// state. The session handle is released on every exit path.
type SessionRunner struct {
	driver   driver.Driver
	auth     driver.Authenticator
	work     driver.UnitOfWork
	creds    driver.Credentials
	throttle *driver.Throttle
	store    *checkpoint.Store
	logger   *slog.Logger
	metrics  *metrics.Collector
	progress bool

	state State
}

// NewSessionRunner wires a runner. throttle may be nil (no pacing) and
// progress toggles the per-session progress bar.
func NewSessionRunner(
	drv driver.Driver,
	auth driver.Authenticator,
	work driver.UnitOfWork,
	creds driver.Credentials,
	throttle *driver.Throttle,
	store *checkpoint.Store,
	collector *metrics.Collector,
	progress bool,
	logger *slog.Logger,
) *SessionRunner {
	return &SessionRunner{
		driver:   drv,
		auth:     auth,
		work:     work,
		creds:    creds,
		throttle: throttle,
		store:    store,
		logger:   logger,
		metrics:  collector,
		progress: progress,
		state:    StateIdle,
	}
}

// State returns the runner's current lifecycle state.
func (r *SessionRunner) State() State {
	return r.state
}

// Run executes one session pass over set. Items that succeed are removed
// from the set and appended to the checkpoint ledger before the next item is
// attempted; in-memory state is updated first so a crash between the two
// never counts an item twice.
func (r *SessionRunner) Run(ctx context.Context, set *workset.Set) models.SessionResult {
	start := time.Now()
	result := models.SessionResult{SessionID: uuid.New().String()}
	logger := r.logger.With("session_id", result.SessionID)

	defer func() {
		result.Duration = time.Since(start)
		r.metrics.RecordSession(string(result.Outcome))
	}()

	r.state = StateAuthenticating
	sess, err := r.driver.NewSession(ctx)
	if err != nil {
		logger.Error("Failed to open session", "error", err)
		r.state = StateFailed
		result.Outcome = models.SessionAuthFailed
		return result
	}
	defer func() {
		// Close must run even when the surrounding context is cancelled.
		if cerr := sess.Close(context.WithoutCancel(ctx)); cerr != nil {
			logger.Warn("Failed to close session", "error", cerr)
		}
		r.state = StateClosed
	}()

	ok, err := r.auth.Authenticate(ctx, sess, r.creds)
	if err != nil {
		logger.Error("Login errored", "error", err)
		r.state = StateFailed
		result.Outcome = models.SessionAuthFailed
		return result
	}
	if !ok {
		logger.Warn("Login rejected, will retry with a fresh session")
		r.state = StateFailed
		result.Outcome = models.SessionAuthFailed
		return result
	}

	r.state = StateProcessing
	snapshot := set.Snapshot()
	logger.Info("Session authenticated", "pending_items", len(snapshot))

	var bar *progressbar.ProgressBar
	if r.progress {
		bar = progressbar.Default(int64(len(snapshot)), "Processing items")
	}

	var totalItemTime time.Duration
	for i, item := range snapshot {
		if err := ctx.Err(); err != nil {
			r.state = StateFailed
			result.Outcome = models.SessionFailed
			return result
		}
		if err := r.throttle.Wait(ctx); err != nil {
			r.state = StateFailed
			result.Outcome = models.SessionFailed
			return result
		}

		itemStart := time.Now()
		passed, err := r.work.Execute(ctx, sess, item)
		itemDuration := time.Since(itemStart)
		r.metrics.RecordItem(itemDuration, passed && err == nil)

		if err != nil || !passed {
			// One unhandled UI failure likely left a stuck modal or broken
			// navigation behind; restart the session instead of pushing on.
			logger.Warn("Item failed, ending session early",
				"id", item.ID,
				"duration", itemDuration,
				"error", err)
			r.state = StateFailed
			result.Outcome = models.SessionFailed
			result.FailedID = item.ID
			return result
		}

		set.Complete(item.ID)
		if err := r.store.MarkDone(item.ID); err != nil {
			// Worst case the item is redone after a restart; the remote
			// side tolerates a repeat submission.
			logger.Error("Failed to persist done marker", "id", item.ID, "error", err)
		}
		result.Processed++
		if bar != nil {
			_ = bar.Add(1)
		}

		totalItemTime += itemDuration
		avg := totalItemTime / time.Duration(result.Processed)
		remaining := len(snapshot) - i - 1
		logger.Info("Item completed",
			"id", item.ID,
			"duration", itemDuration.Round(time.Millisecond),
			"avg", avg.Round(time.Millisecond),
			"eta", (avg * time.Duration(remaining)).Round(time.Second),
			"remaining", remaining)
	}

	r.state = StateCompleted
	result.Outcome = models.SessionCompleted
	return result
}
