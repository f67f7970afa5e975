// Package drivertest provides a scripted in-memory driver implementing every
// port in the driver package. It simulates the portal's sessions, login
// outcomes, per-item verdicts, and the sliding pager window of the result
// grid, so the orchestrator can be exercised without a real remote system.
// The CLI's --simulate flag uses it as a dry-run backend.
package drivertest

import (
	"context"
	"sync"

	"github.com/kmoravec/querypilot/internal/driver"
	"github.com/kmoravec/querypilot/pkg/models"
)

// DefaultWindowSize is the pager window width the simulated grid renders,
// matching the portal's grid footer.
const DefaultWindowSize = 5

// Script describes the simulated portal's behavior. Zero values mean
// "everything succeeds".
type Script struct {
	// LoginResults holds the outcome of successive logins; once exhausted,
	// logins succeed.
	LoginResults []bool
	// ItemResults holds successive unit-of-work verdicts per item id. An
	// absent id always passes; an exhausted slice repeats its last value,
	// so [false] means permanently failing and [false, true] means fail
	// once then pass.
	ItemResults map[string][]bool
	// Pages holds the candidate rows of each result page, in page order.
	Pages [][]models.WorkItem
	// WindowSize overrides the pager window width.
	WindowSize int
	// EmptySnapshots makes the first N pager snapshots of each session come
	// back empty, simulating a still-loading grid.
	EmptySnapshots int
}

// Sim is the scripted driver. It implements driver.Driver,
// driver.Authenticator, driver.UnitOfWork and driver.Grid.
type Sim struct {
	mu     sync.Mutex
	script Script

	logins      int
	opened      int
	closed      int
	attempts    map[string]int
	snapshots   int
	windowStart int
	currentPage int
}

// New builds a simulated driver from script.
func New(script Script) *Sim {
	if script.WindowSize <= 0 {
		script.WindowSize = DefaultWindowSize
	}
	return &Sim{
		script:      script,
		attempts:    make(map[string]int),
		windowStart: 1,
		currentPage: 1,
	}
}

type simSession struct {
	sim    *Sim
	closed bool
}

func (s *simSession) Close(ctx context.Context) error {
	s.sim.mu.Lock()
	defer s.sim.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.sim.closed++
	}
	return nil
}

// NewSession opens a fresh simulated browser session. The grid view resets
// to page 1, as a real fresh session would.
func (s *Sim) NewSession(ctx context.Context) (driver.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened++
	s.snapshots = 0
	s.windowStart = 1
	s.currentPage = 1
	return &simSession{sim: s}, nil
}

// Authenticate replays the scripted login outcomes.
func (s *Sim) Authenticate(ctx context.Context, sess driver.Session, creds driver.Credentials) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.logins
	s.logins++
	if i < len(s.script.LoginResults) {
		return s.script.LoginResults[i], nil
	}
	return true, nil
}

// Execute replays the scripted verdict for item.
func (s *Sim) Execute(ctx context.Context, sess driver.Session, item models.WorkItem) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.attempts[item.ID]
	s.attempts[item.ID] = n + 1

	results := s.script.ItemResults[item.ID]
	if len(results) == 0 {
		return true, nil
	}
	if n >= len(results) {
		return results[len(results)-1], nil
	}
	return results[n], nil
}

// Snapshot renders the simulated pager window.
func (s *Sim) Snapshot(ctx context.Context, sess driver.Session) (models.PageWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots++
	if s.snapshots <= s.script.EmptySnapshots {
		return models.PageWindow{}, nil
	}

	total := len(s.script.Pages)
	if total == 0 {
		total = 1
	}
	end := s.windowStart + s.script.WindowSize - 1
	if end > total {
		end = total
	}
	var pages []int
	for p := s.windowStart; p <= end; p++ {
		pages = append(pages, p)
	}
	return models.PageWindow{
		VisiblePages:    pages,
		HasForwardMore:  end < total,
		HasBackwardMore: s.windowStart > 1,
	}, nil
}

// Apply performs a pager action, sliding the visible window the way the
// portal's grid footer does.
func (s *Sim) Apply(ctx context.Context, sess driver.Session, action models.PagerAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch action.Kind {
	case models.ActionJump:
		s.currentPage = action.Page
	case models.ActionExpandForward:
		total := len(s.script.Pages)
		s.windowStart += s.script.WindowSize
		if total > 0 && s.windowStart > total {
			s.windowStart = total
		}
	case models.ActionExpandBackward:
		s.windowStart -= s.script.WindowSize
		if s.windowStart < 1 {
			s.windowStart = 1
		}
	}
	return nil
}

// Reload hard-refreshes the grid back to page 1.
func (s *Sim) Reload(ctx context.Context, sess driver.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windowStart = 1
	s.currentPage = 1
	return nil
}

// CandidateRows returns the scripted rows of the current page.
func (s *Sim) CandidateRows(ctx context.Context, sess driver.Session) ([]models.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentPage < 1 || s.currentPage > len(s.script.Pages) {
		return nil, nil
	}
	rows := s.script.Pages[s.currentPage-1]
	out := make([]models.WorkItem, len(rows))
	copy(out, rows)
	return out, nil
}

// SessionsOpened returns how many sessions were acquired.
func (s *Sim) SessionsOpened() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

// SessionsClosed returns how many sessions were released.
func (s *Sim) SessionsClosed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Attempts returns how many times id was attempted.
func (s *Sim) Attempts(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[id]
}

// Logins returns how many login attempts were made.
func (s *Sim) Logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

// CurrentPage returns the page the simulated grid is showing.
func (s *Sim) CurrentPage() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentPage
}
