package models

import (
	"fmt"
	"time"
)

// WorkItem is one unit of externally meaningful work: a reporter country,
// a suspended record, or a (query, country) pair. ID is the stable key used
// for checkpointing and dedup; Payload is whatever context the unit of work
// needs (typically a display name or raw grid row text).
type WorkItem struct {
	ID      string `json:"id"`
	Payload string `json:"payload,omitempty"`
}

// PairID builds the composite key for a (query, country) pair, matching the
// ledger format produced by earlier runs.
func PairID(queryName, iso3 string) string {
	return queryName + "|" + iso3
}

// PageWindow is an ephemeral snapshot of the remote grid's pager: the page
// numbers currently rendered plus whether the pager offers further expansion
// in either direction. Recomputed from a live snapshot on every resolution
// step, never persisted.
type PageWindow struct {
	VisiblePages    []int
	HasForwardMore  bool
	HasBackwardMore bool
}

// Empty reports whether the window shows no page numbers at all. An empty
// window is inconclusive (the grid may still be loading), not an end-of-list
// signal.
func (w PageWindow) Empty() bool {
	return len(w.VisiblePages) == 0
}

// Contains reports whether page is currently rendered.
func (w PageWindow) Contains(page int) bool {
	for _, p := range w.VisiblePages {
		if p == page {
			return true
		}
	}
	return false
}

// Min returns the lowest visible page, or 0 for an empty window.
func (w PageWindow) Min() int {
	if len(w.VisiblePages) == 0 {
		return 0
	}
	m := w.VisiblePages[0]
	for _, p := range w.VisiblePages[1:] {
		if p < m {
			m = p
		}
	}
	return m
}

// Max returns the highest visible page, or 0 for an empty window.
func (w PageWindow) Max() int {
	m := 0
	for _, p := range w.VisiblePages {
		if p > m {
			m = p
		}
	}
	return m
}

// PagerActionKind enumerates the single next navigation step the resolver
// can decide on.
type PagerActionKind string

const (
	// ActionJump clicks a page number that is currently visible.
	ActionJump PagerActionKind = "jump"
	// ActionExpandForward clicks the trailing "..." to slide the window up.
	ActionExpandForward PagerActionKind = "expand_forward"
	// ActionExpandBackward clicks the leading "..." to slide the window down.
	ActionExpandBackward PagerActionKind = "expand_backward"
	// ActionWait means the snapshot was inconclusive; re-snapshot after a delay.
	ActionWait PagerActionKind = "wait"
	// ActionEndOfList means the target page does not exist.
	ActionEndOfList PagerActionKind = "end_of_list"
)

// PagerAction is a resolver decision. Page is set only for ActionJump.
type PagerAction struct {
	Kind PagerActionKind
	Page int
}

func (a PagerAction) String() string {
	if a.Kind == ActionJump {
		return fmt.Sprintf("jump(%d)", a.Page)
	}
	return string(a.Kind)
}

// SessionOutcome classifies how one authenticated session ended.
type SessionOutcome string

const (
	// SessionCompleted means the session drained its whole snapshot.
	SessionCompleted SessionOutcome = "completed"
	// SessionFailed means an item failed and the session broke off early.
	SessionFailed SessionOutcome = "failed"
	// SessionAuthFailed means login never succeeded; no items were attempted.
	SessionAuthFailed SessionOutcome = "auth_failed"
)

// SessionResult summarizes one session pass for the orchestrator.
type SessionResult struct {
	SessionID string
	Outcome   SessionOutcome
	Processed int
	FailedID  string // id of the item that broke the session, if any
	Duration  time.Duration
}

// RunReport is the terminal outcome of a whole batch run.
type RunReport struct {
	RunID      string        `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Total      int           `json:"total"`
	Completed  int           `json:"completed"`
	Sessions   int           `json:"sessions"`
	Stagnated  bool          `json:"stagnated"`
	Unresolved []WorkItem    `json:"unresolved,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Success reports whether every work item was confirmed done.
func (r *RunReport) Success() bool {
	return !r.Stagnated && len(r.Unresolved) == 0
}
