package checkpoint

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenMissingStore(t *testing.T) {
	tempDir := t.TempDir()

	store, err := Open(tempDir, "execute", testLogger())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	done, page := store.Load()
	if len(done) != 0 {
		t.Errorf("Expected empty done set, got %d entries", len(done))
	}
	if page != 1 {
		t.Errorf("Expected page 1 for missing cursor, got %d", page)
	}
}

func TestMarkDoneAndReload(t *testing.T) {
	tempDir := t.TempDir()

	store, err := Open(tempDir, "execute", testLogger())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	ids := []string{"Query1|USA", "Query1|BRA", "Query2|DEU"}
	for _, id := range ids {
		if err := store.MarkDone(id); err != nil {
			t.Fatalf("MarkDone(%q) failed: %v", id, err)
		}
	}
	// Marking twice must not duplicate
	if err := store.MarkDone("Query1|USA"); err != nil {
		t.Fatalf("Repeated MarkDone failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := Open(tempDir, "execute", testLogger())
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer reopened.Close()

	if reopened.DoneCount() != 3 {
		t.Errorf("Expected 3 done ids after reload, got %d", reopened.DoneCount())
	}
	for _, id := range ids {
		if !reopened.IsDone(id) {
			t.Errorf("Expected %q to be done after reload", id)
		}
	}
	if reopened.IsDone("Query9|FRA") {
		t.Error("Unexpected id reported done")
	}
}

func TestLoadSkipsMalformedEntries(t *testing.T) {
	tempDir := t.TempDir()
	ledger := filepath.Join(tempDir, "execute.done")

	content := "Query1|USA\n\n  \nQuery1|\x00garbled\nQuery1|BRA\n"
	if err := os.WriteFile(ledger, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to seed ledger: %v", err)
	}

	store, err := Open(tempDir, "execute", testLogger())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	if store.DoneCount() != 2 {
		t.Errorf("Expected 2 valid ids, got %d", store.DoneCount())
	}
	if !store.IsDone("Query1|USA") || !store.IsDone("Query1|BRA") {
		t.Error("Valid ids were not loaded")
	}
}

func TestSaveAndLoadCursor(t *testing.T) {
	tempDir := t.TempDir()

	store, err := Open(tempDir, "scan", testLogger())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	if err := store.SaveCursor(7); err != nil {
		t.Fatalf("SaveCursor failed: %v", err)
	}
	if _, page := store.Load(); page != 7 {
		t.Errorf("Expected cursor 7, got %d", page)
	}

	// Overwrite must be atomic and visible
	if err := store.SaveCursor(9); err != nil {
		t.Fatalf("SaveCursor failed: %v", err)
	}
	if _, page := store.Load(); page != 9 {
		t.Errorf("Expected cursor 9, got %d", page)
	}
}

func TestCursorFallsBackToPageOne(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"garbage", "not-a-number"},
		{"negative", "-3"},
		{"zero", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tempDir := t.TempDir()
			cursorFile := filepath.Join(tempDir, "scan.last_page")
			if err := os.WriteFile(cursorFile, []byte(tt.content), 0644); err != nil {
				t.Fatalf("Failed to seed cursor: %v", err)
			}

			store, err := Open(tempDir, "scan", testLogger())
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			defer store.Close()

			if _, page := store.Load(); page != 1 {
				t.Errorf("Expected fallback to page 1, got %d", page)
			}
		})
	}
}

func TestList(t *testing.T) {
	tempDir := t.TempDir()

	if names, err := List(filepath.Join(tempDir, "missing")); err != nil || names != nil {
		t.Errorf("Expected nil, nil for missing dir, got %v, %v", names, err)
	}

	for _, name := range []string{"execute", "scan"} {
		store, err := Open(tempDir, name, testLogger())
		if err != nil {
			t.Fatalf("Open(%q) failed: %v", name, err)
		}
		store.Close()
	}

	names, err := List(tempDir)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("Expected 2 ledgers, got %d: %v", len(names), names)
	}
}
