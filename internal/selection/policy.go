// Package selection implements the Selection Policy (C5): scoring which of
// a (user, paper)'s stored summaries the user should see, per spec.md §4.5.
// It is pure scoring over in-memory structs — no I/O, no stdlib-vs-library
// question applies.
package selection

import (
	"time"

	"github.com/scholiabot/core/internal/papers"
)

// Mode names the three invocation contexts spec.md §4.5 distinguishes. All
// three share the same scoring function; only the candidate set differs.
type Mode string

const (
	ModeInitial          Mode = "initial"
	ModeRegenerateDetail Mode = "regenerate_detail"
	ModeRegenerateAdd    Mode = "regenerate_add"
)

// Candidate is one summary eligible for selection, reduced to the fields
// the scoring function needs. Exactly one of DefaultID/CustomID is set.
type Candidate struct {
	DefaultID *int64
	CustomID  *int64
	IsCustom  bool
	Character papers.Character
	CreatedAt time.Time
}

const (
	scoreCustomBase       = 1000
	scoreCharacterMatch   = 200
	scoreCharacterMismatch = -50
	scoreCharacterAbsent  = 100
)

// Score implements spec.md §4.5's scoring table for one candidate against
// the user's currently selected character.
func Score(c Candidate, selected papers.Character) int {
	score := 0
	if c.IsCustom {
		score += scoreCustomBase
	}
	switch {
	case c.Character == papers.CharacterNone:
		// no character on the candidate: no adjustment
	case selected == papers.CharacterNone:
		score += scoreCharacterAbsent
	case c.Character == selected:
		score += scoreCharacterMatch
	default:
		score += scoreCharacterMismatch
	}
	return score
}

// Selection is the outcome: exactly one of DefaultID or CustomID is set,
// unless candidates was empty, in which case both are nil.
type Selection struct {
	DefaultID *int64
	CustomID  *int64
}

// Choose picks the best candidate for mode. Ties break on newer CreatedAt.
//
// - ModeInitial and ModeRegenerateAdd pick globally across all candidates.
// - ModeRegenerateDetail prefers staying within the current lane (custom
//   vs default) if the current selection's lane has any eligible candidate;
//   it falls back to a global pick only when the current lane is empty.
func Choose(mode Mode, candidates []Candidate, selectedCharacter papers.Character, current Selection) Selection {
	if len(candidates) == 0 {
		return Selection{}
	}

	pool := candidates
	if mode == ModeRegenerateDetail {
		wantCustom := current.CustomID != nil
		if lane := filterLane(candidates, wantCustom); len(lane) > 0 {
			pool = lane
		}
	}

	best := pool[0]
	bestScore := Score(best, selectedCharacter)
	for _, c := range pool[1:] {
		s := Score(c, selectedCharacter)
		if s > bestScore || (s == bestScore && c.CreatedAt.After(best.CreatedAt)) {
			best, bestScore = c, s
		}
	}

	if best.IsCustom {
		return Selection{CustomID: best.CustomID}
	}
	return Selection{DefaultID: best.DefaultID}
}

func filterLane(candidates []Candidate, custom bool) []Candidate {
	var out []Candidate
	for _, c := range candidates {
		if c.IsCustom == custom {
			out = append(out, c)
		}
	}
	return out
}
