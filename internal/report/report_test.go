package report

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kmoravec/querypilot/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestRunDir(t *testing.T) *RunDir {
	t.Helper()
	rd, err := NewRunDir(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("NewRunDir failed: %v", err)
	}
	return rd
}

func TestNewRunDirCreatesDirectory(t *testing.T) {
	root := t.TempDir()
	rd, err := NewRunDir(root, testLogger())
	if err != nil {
		t.Fatalf("NewRunDir failed: %v", err)
	}

	info, err := os.Stat(rd.Dir())
	if err != nil || !info.IsDir() {
		t.Fatalf("Run directory not created: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(rd.Dir()), "run_") {
		t.Errorf("Unexpected run dir name: %s", filepath.Base(rd.Dir()))
	}
}

func TestBackupConfig(t *testing.T) {
	rd := newTestRunDir(t)

	cfgPath := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(cfgPath, []byte("[portal]\n"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	if err := rd.BackupConfig(cfgPath); err != nil {
		t.Fatalf("BackupConfig failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(rd.Dir(), "config.toml.bak"))
	if err != nil {
		t.Fatalf("Backup not readable: %v", err)
	}
	if string(data) != "[portal]\n" {
		t.Errorf("Backup content mismatch: %q", data)
	}
}

func TestWriteUndone(t *testing.T) {
	rd := newTestRunDir(t)

	items := []models.WorkItem{
		{ID: "Query1|USA", Payload: "United States"},
		{ID: "Query1|BRA", Payload: "Brazil"},
	}
	if err := rd.WriteUndone("execute", items); err != nil {
		t.Fatalf("WriteUndone failed: %v", err)
	}

	undoneDir := filepath.Join(rd.Dir(), "undone")

	data, err := os.ReadFile(filepath.Join(undoneDir, "execute_Query1_USA.json"))
	if err != nil {
		t.Fatalf("Undone file not readable: %v", err)
	}
	var rec struct {
		Task    string `json:"task"`
		ID      string `json:"id"`
		Payload string `json:"payload"`
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("Undone file is not valid JSON: %v", err)
	}
	if rec.Task != "execute" || rec.ID != "Query1|USA" || rec.Payload != "United States" {
		t.Errorf("Unexpected record: %+v", rec)
	}

	summary, err := os.ReadFile(filepath.Join(undoneDir, "execute_summary.txt"))
	if err != nil {
		t.Fatalf("Summary not readable: %v", err)
	}
	for _, id := range []string{"Query1|USA", "Query1|BRA"} {
		if !strings.Contains(string(summary), id) {
			t.Errorf("Summary missing %q", id)
		}
	}
}

func TestWriteUndoneEmptyIsNoOp(t *testing.T) {
	rd := newTestRunDir(t)

	if err := rd.WriteUndone("execute", nil); err != nil {
		t.Fatalf("WriteUndone(nil) failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(rd.Dir(), "undone")); !os.IsNotExist(err) {
		t.Error("Undone directory must not be created for an empty list")
	}
}

func TestWriteReport(t *testing.T) {
	rd := newTestRunDir(t)

	rep := &models.RunReport{
		RunID:     "run-1",
		StartedAt: time.Now(),
		Total:     4,
		Completed: 4,
		Sessions:  2,
	}
	if err := rd.WriteReport("execute", rep); err != nil {
		t.Fatalf("WriteReport failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(rd.Dir(), "execute_report.json"))
	if err != nil {
		t.Fatalf("Report not readable: %v", err)
	}
	var got models.RunReport
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Report is not valid JSON: %v", err)
	}
	if got.RunID != "run-1" || got.Completed != 4 {
		t.Errorf("Report roundtrip mismatch: %+v", got)
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Query1|USA", "Query1_USA"},
		{"a/b\\c:d e", "a_b_c_d_e"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := sanitize(tt.in); got != tt.want {
			t.Errorf("sanitize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSetupLoggerWritesJSONFile(t *testing.T) {
	rd := newTestRunDir(t)

	logger, logFile, err := SetupLogger(rd, slog.LevelInfo)
	if err != nil {
		t.Fatalf("SetupLogger failed: %v", err)
	}
	logger.Info("hello", "key", "value")
	if err := logFile.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	defer logFile.Close()

	data, err := os.ReadFile(rd.LogPath())
	if err != nil {
		t.Fatalf("Log file not readable: %v", err)
	}
	line := strings.TrimSpace(strings.Split(string(data), "\n")[0])
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("Log line is not JSON: %v", err)
	}
	if entry["msg"] != "hello" || entry["key"] != "value" {
		t.Errorf("Unexpected log entry: %v", entry)
	}
}
