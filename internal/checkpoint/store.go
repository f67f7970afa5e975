// Package checkpoint persists the done-id ledger and the last pagination
// cursor so an interrupted run resumes instead of redoing completed work.
//
// The ledger is append-only, one id per line. A lost or torn entry only
// risks redundant reprocessing, never incorrect results, so write failures
// are reported to the caller but must not abort a run.
package checkpoint

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"
)

const (
	ledgerSuffix   = ".done"
	cursorFilename = "last_page"
)

// Store is the durable checkpoint for one logical task. Open one Store per
// query name (list variants) or one for the whole scan.
type Store struct {
	dir    string
	name   string
	logger *slog.Logger
	ledger *os.File
	done   map[string]bool
}

// Open creates or reopens the checkpoint files for the named task under dir,
// loading the existing ledger into memory. A missing or empty store is not
// an error: it loads as zero done ids and page 1.
func Open(dir, name string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	s := &Store{
		dir:    dir,
		name:   name,
		logger: logger,
		done:   make(map[string]bool),
	}

	if err := s.loadLedger(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(s.ledgerPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger for append: %w", err)
	}
	s.ledger = f

	return s, nil
}

func (s *Store) ledgerPath() string {
	return filepath.Join(s.dir, s.name+ledgerSuffix)
}

func (s *Store) cursorPath() string {
	return filepath.Join(s.dir, s.name+"."+cursorFilename)
}

func (s *Store) loadLedger() error {
	f, err := os.Open(s.ledgerPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read ledger: %w", err)
	}
	defer f.Close()

	skipped := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		id := strings.TrimSpace(scanner.Text())
		if id == "" || !printable(id) {
			// Torn or garbled entry from an interrupted write. Skipping it
			// only means the item gets retried.
			if id != "" {
				skipped++
			}
			continue
		}
		s.done[id] = true
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to scan ledger: %w", err)
	}

	if skipped > 0 {
		s.logger.Warn("Skipped malformed ledger entries",
			"task", s.name,
			"skipped", skipped)
	}
	return nil
}

func printable(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) || r == unicode.ReplacementChar {
			return false
		}
	}
	return true
}

// Load returns the done-id set and the last saved page cursor. The returned
// map is the Store's live view; callers must not mutate it.
func (s *Store) Load() (map[string]bool, int) {
	return s.done, s.loadCursor()
}

func (s *Store) loadCursor() int {
	data, err := os.ReadFile(s.cursorPath())
	if err != nil {
		return 1
	}
	page, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || page < 1 {
		s.logger.Warn("Ignoring unreadable page cursor", "task", s.name, "error", err)
		return 1
	}
	return page
}

// DoneCount returns how many ids the ledger currently holds.
func (s *Store) DoneCount() int {
	return len(s.done)
}

// IsDone reports whether id has already been confirmed done.
func (s *Store) IsDone(id string) bool {
	return s.done[id]
}

// MarkDone appends id to the ledger and syncs it to disk. The in-memory set
// is updated even when the write fails, so the current run never re-attempts
// the item; only a later restart would.
func (s *Store) MarkDone(id string) error {
	if s.done[id] {
		return nil
	}
	s.done[id] = true

	if _, err := fmt.Fprintln(s.ledger, id); err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	if err := s.ledger.Sync(); err != nil {
		return fmt.Errorf("failed to sync ledger: %w", err)
	}
	return nil
}

// SaveCursor records the page currently being processed. Written at the
// start of each page so resumption lands on the page that may still hold
// unfinished work. Atomic write via temp file and rename.
func (s *Store) SaveCursor(page int) error {
	tempPath := s.cursorPath() + ".tmp"
	if err := os.WriteFile(tempPath, []byte(strconv.Itoa(page)), 0644); err != nil {
		return fmt.Errorf("failed to write temp cursor: %w", err)
	}
	if err := os.Rename(tempPath, s.cursorPath()); err != nil {
		return fmt.Errorf("failed to rename cursor: %w", err)
	}
	return nil
}

// Close releases the ledger file handle.
func (s *Store) Close() error {
	if s.ledger == nil {
		return nil
	}
	err := s.ledger.Close()
	s.ledger = nil
	return err
}

// List returns the task names that have a ledger under dir.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ledgerSuffix) {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), ledgerSuffix))
	}
	return names, nil
}
