// Package pager decides how to reach a target page in a remote grid whose
// pager renders only a sliding window of page numbers plus "..." links to
// expand the window in either direction.
package pager

import (
	"github.com/kmoravec/querypilot/pkg/models"
)

// Resolve decides the single next navigation action for reaching target
// given a snapshot of the pager. Pages are 1-indexed.
//
// An empty window is inconclusive: the grid may still be loading, so the
// caller must wait and re-snapshot rather than conclude end-of-list. A
// target inside the visible range but not rendered is treated the same way,
// since it only occurs while the pager is mid-update.
func Resolve(target int, w models.PageWindow) models.PagerAction {
	if w.Empty() {
		return models.PagerAction{Kind: models.ActionWait}
	}
	if w.Contains(target) {
		return models.PagerAction{Kind: models.ActionJump, Page: target}
	}
	if target > w.Max() {
		if w.HasForwardMore {
			return models.PagerAction{Kind: models.ActionExpandForward}
		}
		return models.PagerAction{Kind: models.ActionEndOfList}
	}
	if target < w.Min() {
		if w.HasBackwardMore {
			return models.PagerAction{Kind: models.ActionExpandBackward}
		}
		return models.PagerAction{Kind: models.ActionEndOfList}
	}
	return models.PagerAction{Kind: models.ActionWait}
}
