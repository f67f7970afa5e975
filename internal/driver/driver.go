// Package driver defines the ports to the remote portal automation. The
// orchestrator consumes these interfaces and never implements them; a
// concrete driver wraps whatever browser automation actually talks to the
// portal. Calls block for the duration of the remote interaction and must
// honor their own timeouts.
package driver

import (
	"context"

	"github.com/kmoravec/querypilot/pkg/models"
)

// Credentials are the portal login secrets, loaded from the environment.
type Credentials struct {
	Email    string
	Password string
}

// Session is a single-use authenticated interaction context. It is owned
// exclusively by one session pass and must be closed on every exit path.
type Session interface {
	Close(ctx context.Context) error
}

// Driver creates fresh sessions. One driver instance serves the whole run.
type Driver interface {
	NewSession(ctx context.Context) (Session, error)
}

// Authenticator performs the portal login flow. A false return means a
// recoverable login failure (bad captcha, transient redirect); errors are
// reserved for unexpected conditions.
type Authenticator interface {
	Authenticate(ctx context.Context, sess Session, creds Credentials) (bool, error)
}

// UnitOfWork executes the full domain-specific sequence for one item:
// navigate, select, modify, submit. It may retry transient sub-steps
// internally but returns a single pass/fail verdict and must not leak
// partial state across items.
type UnitOfWork interface {
	Execute(ctx context.Context, sess Session, item models.WorkItem) (bool, error)
}

// Grid exposes the remote result grid to the pagination navigator and the
// scanning orchestrator.
type Grid interface {
	// Snapshot reads the currently rendered pager state.
	Snapshot(ctx context.Context, sess Session) (models.PageWindow, error)
	// Apply performs the navigation implied by a resolver decision.
	Apply(ctx context.Context, sess Session, action models.PagerAction) error
	// Reload performs a hard refresh of the results view, landing on page 1.
	Reload(ctx context.Context, sess Session) error
	// CandidateRows returns the processable rows visible on the current
	// page, pre-filtered by remote-visible status.
	CandidateRows(ctx context.Context, sess Session) ([]models.WorkItem, error)
}
