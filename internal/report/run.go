// Package report owns the per-invocation run directory: the JSON log file,
// the config backup, and the undone-item reports written when a run ends in
// partial failure.
package report

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// RunDir manages the timestamped output directory of one invocation.
type RunDir struct {
	dir    string
	logger *slog.Logger
}

// NewRunDir creates output/run_<timestamp> under outputRoot.
func NewRunDir(outputRoot string, logger *slog.Logger) (*RunDir, error) {
	if err := os.MkdirAll(outputRoot, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02T15-04-05")
	dir := filepath.Join(outputRoot, "run_"+timestamp)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	logger.Info("Created run directory", "path", dir)
	return &RunDir{dir: dir, logger: logger}, nil
}

// Dir returns the run directory path.
func (r *RunDir) Dir() string {
	return r.dir
}

// LogPath returns the path of the run's JSON log file.
func (r *RunDir) LogPath() string {
	return filepath.Join(r.dir, "run.log")
}

// BackupConfig copies the config file into the run directory so the exact
// inputs of a long run can be reconstructed later.
func (r *RunDir) BackupConfig(configPath string) error {
	source, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	backupPath := filepath.Join(r.dir, filepath.Base(configPath)+".bak")
	if err := os.WriteFile(backupPath, source, 0644); err != nil {
		return fmt.Errorf("failed to write config backup: %w", err)
	}

	r.logger.Info("Backed up config file", "path", backupPath)
	return nil
}
