// Package workset holds the in-memory set of work items that are not yet
// confirmed done. It is mutated only by the single control thread driving
// the batch, so it carries no locking.
package workset

import (
	"sort"

	"github.com/kmoravec/querypilot/pkg/models"
)

// Set maps item id to WorkItem. An id is removed the moment its item is
// confirmed done; it never coexists with an entry in the checkpoint ledger.
type Set struct {
	items map[string]models.WorkItem
}

// New builds a Set from items, dropping duplicate ids (first one wins).
func New(items []models.WorkItem) *Set {
	s := &Set{items: make(map[string]models.WorkItem, len(items))}
	for _, it := range items {
		if _, ok := s.items[it.ID]; !ok {
			s.items[it.ID] = it
		}
	}
	return s
}

// Len returns the number of items still pending.
func (s *Set) Len() int {
	return len(s.items)
}

// Contains reports whether id is still pending.
func (s *Set) Contains(id string) bool {
	_, ok := s.items[id]
	return ok
}

// Add inserts an item discovered mid-run (grid scanning). Returns false if
// the id is already pending.
func (s *Set) Add(item models.WorkItem) bool {
	if _, ok := s.items[item.ID]; ok {
		return false
	}
	s.items[item.ID] = item
	return true
}

// Complete removes id from the set. Completing an id that is not present is
// a no-op, not an error: it may already have been removed by an earlier
// checkpoint replay.
func (s *Set) Complete(id string) {
	delete(s.items, id)
}

// Remaining returns the pending ids in sorted order.
func (s *Set) Remaining() []string {
	ids := make([]string, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns a stable, id-ordered copy of the pending items. Sessions
// iterate the snapshot so that completions during iteration cannot corrupt
// the walk.
func (s *Set) Snapshot() []models.WorkItem {
	out := make([]models.WorkItem, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
