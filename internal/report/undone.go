package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kmoravec/querypilot/pkg/models"
)

// undoneRecord is the on-disk shape of one unresolved item, one file per
// item so individual tasks can be picked up and re-fed later.
type undoneRecord struct {
	Task      string `json:"task"`
	ID        string `json:"id"`
	Payload   string `json:"payload,omitempty"`
	Timestamp string `json:"timestamp"`
}

// WriteUndone persists every unresolved item of a stagnated run as an
// individual JSON file under <run-dir>/undone, plus a summary listing all
// ids. Implements the orchestrator's UndoneSink.
func (r *RunDir) WriteUndone(task string, items []models.WorkItem) error {
	if len(items) == 0 {
		return nil
	}

	dir := filepath.Join(r.dir, "undone")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create undone directory: %w", err)
	}

	now := time.Now().Format("2006-01-02 15:04:05")
	for _, item := range items {
		rec := undoneRecord{
			Task:      task,
			ID:        item.ID,
			Payload:   item.Payload,
			Timestamp: now,
		}
		data, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal undone record: %w", err)
		}

		name := fmt.Sprintf("%s_%s.json", task, sanitize(item.ID))
		if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
			return fmt.Errorf("failed to write undone record: %w", err)
		}
	}

	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	summary := strings.Join(ids, "\n") + "\n"
	summaryPath := filepath.Join(dir, task+"_summary.txt")
	if err := os.WriteFile(summaryPath, []byte(summary), 0644); err != nil {
		return fmt.Errorf("failed to write undone summary: %w", err)
	}

	r.logger.Info("Saved undone task files", "task", task, "count", len(items), "dir", dir)
	return nil
}

// WriteReport persists the final run report of one task alongside the log.
func (r *RunDir) WriteReport(task string, report *models.RunReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run report: %w", err)
	}
	path := filepath.Join(r.dir, task+"_report.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write run report: %w", err)
	}
	return nil
}

// sanitize makes an item id safe to embed in a filename. Composite pair ids
// contain '|', which some filesystems reject.
func sanitize(id string) string {
	replacer := strings.NewReplacer("|", "_", "/", "_", "\\", "_", ":", "_", " ", "_")
	return replacer.Replace(id)
}
