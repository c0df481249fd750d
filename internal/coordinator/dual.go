package coordinator

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scholiabot/core/internal/papers"
)

// DualResult is the outcome of a dual-generation request (spec.md §4.4.6):
// the none-character and selected-character variants, each independently
// succeeding or failing.
type DualResult struct {
	None         papers.Row
	NoneErr      error
	Selected     papers.Row
	SelectedErr  error
	SameAsNone   bool // true when no character was selected, so both fields mirror one Acquire call
}

// GenerateDual runs the Acquire protocol for both character=none and
// character=selected concurrently, sharing the same deadline, and merges
// the results. If selected is CharacterNone there is only one logical key;
// GenerateDual runs a single Acquire and mirrors it into both fields
// rather than doing the work twice.
func (c *Coordinator) GenerateDual(ctx context.Context, base papers.SummaryKey, selected papers.Character, promptUpdatedAt *time.Time, gen Generator) DualResult {
	noneKey := base
	noneKey.Character = papers.CharacterNone

	if selected == papers.CharacterNone {
		row, err := c.Acquire(ctx, noneKey, promptUpdatedAt, gen)
		return DualResult{None: row, NoneErr: err, Selected: row, SelectedErr: err, SameAsNone: true}
	}

	selKey := base
	selKey.Character = selected

	// A plain (not WithContext) errgroup: the two acquisitions must not
	// cancel each other on failure — spec.md §4.4.6 allows any of the four
	// (both, only-none, only-selected, neither) outcomes independently.
	var g errgroup.Group
	var result DualResult

	g.Go(func() error {
		result.None, result.NoneErr = c.Acquire(ctx, noneKey, promptUpdatedAt, gen)
		return nil
	})
	g.Go(func() error {
		result.Selected, result.SelectedErr = c.Acquire(ctx, selKey, promptUpdatedAt, gen)
		return nil
	})
	_ = g.Wait()

	return result
}
