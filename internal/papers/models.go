// Package papers holds the relational data model shared by the Summary
// Coordinator (C4), Selection Policy (C5), Tagging Pipeline (C6), and
// Recommender (C9): papers, users, and the three summary tables from
// spec.md §3.
package papers

import "time"

// Character is the persona prefix a user may have selected.
type Character string

const (
	CharacterNone Character = ""
	CharacterA    Character = "A"
	CharacterB    Character = "B"
)

// User is the minimal user-preference surface the core reads. Full account
// management lives outside this repository (spec.md §1).
type User struct {
	ID                int64
	DisplayName       string
	Points            int
	SelectedCharacter Character
	AffinityA         int
	AffinityB         int
}

// AffinityFor returns the user's affinity qualifier for the given character,
// or 0 if the character is CharacterNone or doesn't match either slot.
func (u User) AffinityFor(c Character) int {
	switch c {
	case CharacterA:
		return u.AffinityA
	case CharacterB:
		return u.AffinityB
	default:
		return 0
	}
}

// PaperMetadata is created once per ExternalID and shared across users.
type PaperMetadata struct {
	ID         int64
	ExternalID string
	URL        string
	Title      string
	Authors    string
	Abstract   string
	FullText   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DefaultSummary is keyed by (paper_id, llm_provider, llm_model, character,
// affinity) and is shared across every user who reads PaperID.
type DefaultSummary struct {
	ID          int64
	PaperID     int64
	LLMProvider string
	LLMModel    string
	Character   Character
	Affinity    int
	Body        string
	OnePoint    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CustomSummary is keyed by (user_id, paper_id, prompt_id, llm_provider,
// llm_model, character, affinity).
type CustomSummary struct {
	ID                     int64
	UserID                 int64
	PaperID                int64
	PromptID               int64
	LLMProvider            string
	LLMModel               string
	Character              Character
	Affinity               int
	Body                   string
	OnePoint               string
	PromptUpdatedAtSnapshot time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// EditedSummary is a user-owned override of exactly one of DefaultSummary or
// CustomSummary.
type EditedSummary struct {
	ID               int64
	UserID           int64
	DefaultSummaryID *int64
	CustomSummaryID  *int64
	Body             string
	OnePoint         string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// UserPaperLink selects at most one of SelectedDefaultSummaryID or
// SelectedCustomSummaryID (spec.md §3 invariant).
type UserPaperLink struct {
	ID                       int64
	UserID                   int64
	PaperID                  int64
	Tags                     []string
	Memo                     string
	SelectedDefaultSummaryID *int64
	SelectedCustomSummaryID  *int64
	LastAccessed             time.Time
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// HasTag reports whether t is present among the link's comma-set of tags.
func (l UserPaperLink) HasTag(t string) bool {
	for _, tag := range l.Tags {
		if tag == t {
			return true
		}
	}
	return false
}

// Level tags used by the Recommender (C9) and by corpus filtering.
const (
	TagFavourite     = "Favourite"
	TagNotInterested = "NotInterested"
	TagRecommended   = "Recommended"
)
