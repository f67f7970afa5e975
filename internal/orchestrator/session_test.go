package orchestrator

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/kmoravec/querypilot/internal/checkpoint"
	"github.com/kmoravec/querypilot/internal/driver"
	"github.com/kmoravec/querypilot/internal/driver/drivertest"
	"github.com/kmoravec/querypilot/internal/workset"
	"github.com/kmoravec/querypilot/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testStore(t *testing.T, task string) *checkpoint.Store {
	t.Helper()
	store, err := checkpoint.Open(t.TempDir(), task, testLogger())
	if err != nil {
		t.Fatalf("Failed to open checkpoint store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newRunner(sim *drivertest.Sim, store *checkpoint.Store) *SessionRunner {
	return NewSessionRunner(sim, sim, sim, driver.Credentials{Email: "t@example.com", Password: "x"},
		nil, store, nil, false, testLogger())
}

func TestSessionRunDrainsSet(t *testing.T) {
	sim := drivertest.New(drivertest.Script{})
	store := testStore(t, "execute")
	runner := newRunner(sim, store)

	set := workset.New([]models.WorkItem{{ID: "a"}, {ID: "b"}, {ID: "c"}})
	res := runner.Run(context.Background(), set)

	if res.Outcome != models.SessionCompleted {
		t.Errorf("Expected completed outcome, got %s", res.Outcome)
	}
	if res.Processed != 3 {
		t.Errorf("Expected 3 processed, got %d", res.Processed)
	}
	if set.Len() != 0 {
		t.Errorf("Expected empty set, got %d remaining", set.Len())
	}
	for _, id := range []string{"a", "b", "c"} {
		if !store.IsDone(id) {
			t.Errorf("Expected %q persisted as done", id)
		}
	}
	if runner.State() != StateClosed {
		t.Errorf("Expected state closed, got %s", runner.State())
	}
}

func TestSessionBreaksOnFirstFailure(t *testing.T) {
	sim := drivertest.New(drivertest.Script{
		ItemResults: map[string][]bool{"b": {false}},
	})
	store := testStore(t, "execute")
	runner := newRunner(sim, store)

	set := workset.New([]models.WorkItem{{ID: "a"}, {ID: "b"}, {ID: "c"}})
	res := runner.Run(context.Background(), set)

	if res.Outcome != models.SessionFailed {
		t.Errorf("Expected failed outcome, got %s", res.Outcome)
	}
	if res.FailedID != "b" {
		t.Errorf("Expected failed id b, got %q", res.FailedID)
	}
	if res.Processed != 1 {
		t.Errorf("Expected 1 processed before the break, got %d", res.Processed)
	}
	// c comes after b in snapshot order and must not have been attempted
	if sim.Attempts("c") != 0 {
		t.Errorf("Expected c untouched, got %d attempts", sim.Attempts("c"))
	}
	if set.Contains("a") {
		t.Error("Expected a removed from the set")
	}
	if !set.Contains("b") || !set.Contains("c") {
		t.Error("Expected b and c to stay pending")
	}
	if store.IsDone("b") {
		t.Error("Failed item must not be persisted as done")
	}
}

func TestSessionContinuesWhenLedgerWriteFails(t *testing.T) {
	sim := drivertest.New(drivertest.Script{})
	store := testStore(t, "execute")
	// Closing the ledger file makes every MarkDone fail while the
	// in-memory done set keeps working.
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	runner := newRunner(sim, store)
	set := workset.New([]models.WorkItem{{ID: "a"}, {ID: "b"}})
	res := runner.Run(context.Background(), set)

	if res.Outcome != models.SessionCompleted {
		t.Errorf("Expected completed outcome despite ledger failures, got %s", res.Outcome)
	}
	if res.Processed != 2 {
		t.Errorf("Expected 2 processed, got %d", res.Processed)
	}
	if set.Len() != 0 {
		t.Errorf("Expected empty set, got %d remaining", set.Len())
	}
	// In-memory state still advances, so the current run never re-attempts
	// the items; only a restart would.
	if !store.IsDone("a") || !store.IsDone("b") {
		t.Error("Expected items tracked as done in memory")
	}
}

func TestSessionAuthFailure(t *testing.T) {
	sim := drivertest.New(drivertest.Script{LoginResults: []bool{false}})
	store := testStore(t, "execute")
	runner := newRunner(sim, store)

	set := workset.New([]models.WorkItem{{ID: "a"}})
	res := runner.Run(context.Background(), set)

	if res.Outcome != models.SessionAuthFailed {
		t.Errorf("Expected auth_failed outcome, got %s", res.Outcome)
	}
	if sim.Attempts("a") != 0 {
		t.Error("No items must be attempted after a rejected login")
	}
	if set.Len() != 1 {
		t.Errorf("Expected set untouched, got %d remaining", set.Len())
	}
}

func TestSessionAlwaysReleased(t *testing.T) {
	tests := []struct {
		name   string
		script drivertest.Script
	}{
		{"clean completion", drivertest.Script{}},
		{"item failure", drivertest.Script{ItemResults: map[string][]bool{"a": {false}}}},
		{"rejected login", drivertest.Script{LoginResults: []bool{false}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := drivertest.New(tt.script)
			store := testStore(t, "execute")
			runner := newRunner(sim, store)

			runner.Run(context.Background(), workset.New([]models.WorkItem{{ID: "a"}}))

			if sim.SessionsOpened() != 1 || sim.SessionsClosed() != 1 {
				t.Errorf("Session leak: opened %d, closed %d",
					sim.SessionsOpened(), sim.SessionsClosed())
			}
		})
	}
}

func TestSessionReleasedOnCancelledContext(t *testing.T) {
	sim := drivertest.New(drivertest.Script{})
	store := testStore(t, "execute")
	runner := newRunner(sim, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := runner.Run(ctx, workset.New([]models.WorkItem{{ID: "a"}}))

	if res.Outcome != models.SessionFailed {
		t.Errorf("Expected failed outcome on cancelled context, got %s", res.Outcome)
	}
	if sim.SessionsClosed() != sim.SessionsOpened() {
		t.Errorf("Session leak: opened %d, closed %d",
			sim.SessionsOpened(), sim.SessionsClosed())
	}
}
