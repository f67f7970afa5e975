package pager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kmoravec/querypilot/internal/driver"
	"github.com/kmoravec/querypilot/internal/metrics"
	"github.com/kmoravec/querypilot/pkg/models"
)

var (
	// ErrEndOfList means the target page is past the last page of results.
	// Not fatal: it signals "no more work reachable this session".
	ErrEndOfList = errors.New("pager: end of list")
	// ErrExhausted means the resolution attempt budget ran out before the
	// target page was reached.
	ErrExhausted = errors.New("pager: resolution attempts exhausted")
)

const (
	// DefaultMaxAttempts bounds resolve/act/re-snapshot rounds per seek.
	DefaultMaxAttempts = 15
	// DefaultWaitDelay is the pause before re-snapshotting an inconclusive
	// (still loading) pager.
	DefaultWaitDelay = 2 * time.Second
)

// Navigator drives the resolve/act/re-snapshot loop against a live grid.
type Navigator struct {
	grid        driver.Grid
	logger      *slog.Logger
	metrics     *metrics.Collector
	maxAttempts int
	waitDelay   time.Duration
}

// NewNavigator builds a navigator over grid. maxAttempts <= 0 and
// waitDelay <= 0 select the defaults.
func NewNavigator(grid driver.Grid, logger *slog.Logger, collector *metrics.Collector, maxAttempts int, waitDelay time.Duration) *Navigator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if waitDelay <= 0 {
		waitDelay = DefaultWaitDelay
	}
	return &Navigator{
		grid:        grid,
		logger:      logger,
		metrics:     collector,
		maxAttempts: maxAttempts,
		waitDelay:   waitDelay,
	}
}

// Seek navigates the grid until target is the current page. Page 1 is
// always reachable without navigation: the initial load already shows it.
func (n *Navigator) Seek(ctx context.Context, sess driver.Session, target int) error {
	if target <= 1 {
		return nil
	}

	for attempt := 1; attempt <= n.maxAttempts; attempt++ {
		window, err := n.grid.Snapshot(ctx, sess)
		if err != nil {
			return fmt.Errorf("pager snapshot failed: %w", err)
		}

		action := Resolve(target, window)
		n.metrics.RecordPagerAction(string(action.Kind))

		switch action.Kind {
		case models.ActionJump:
			if err := n.grid.Apply(ctx, sess, action); err != nil {
				return fmt.Errorf("pager jump failed: %w", err)
			}
			n.logger.Debug("Reached target page", "page", target, "attempts", attempt)
			return nil

		case models.ActionEndOfList:
			n.logger.Info("Target page past end of list",
				"page", target,
				"max_visible", window.Max())
			return ErrEndOfList

		case models.ActionWait:
			n.logger.Debug("Pager inconclusive, waiting",
				"page", target,
				"attempt", attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(n.waitDelay):
			}

		default:
			n.logger.Debug("Expanding pager window",
				"action", action.String(),
				"target", target,
				"visible_min", window.Min(),
				"visible_max", window.Max())
			if err := n.grid.Apply(ctx, sess, action); err != nil {
				return fmt.Errorf("pager %s failed: %w", action.Kind, err)
			}
		}
	}

	return fmt.Errorf("%w: page %d after %d attempts", ErrExhausted, target, n.maxAttempts)
}

// SeekWithReload is Seek with a hard-refresh fallback: a failed seek often
// means corrupted viewstate, which a full reload of the results view clears.
// End-of-list is passed through untouched.
func (n *Navigator) SeekWithReload(ctx context.Context, sess driver.Session, target int) error {
	err := n.Seek(ctx, sess, target)
	if err == nil || errors.Is(err, ErrEndOfList) || errors.Is(err, context.Canceled) {
		return err
	}

	n.logger.Warn("Seek failed, attempting hard refresh", "page", target, "error", err)
	if rerr := n.grid.Reload(ctx, sess); rerr != nil {
		return fmt.Errorf("reload after failed seek: %w", rerr)
	}
	return n.Seek(ctx, sess, target)
}
