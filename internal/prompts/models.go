// Package prompts implements the Prompt Resolver (C2): it turns a
// (type, user, optional custom id) triple into effective prompt text with
// variable substitution and character-persona prepending, and resolves the
// five-role PromptGroup slots the Research Graph (C8) reads from.
package prompts

import "time"

// Type is the fixed enum of prompt purposes spec.md §3 names. Unlike
// Character (three values) this enum has real breadth, so it is typed
// rather than left as a bare string to keep callers from passing typos
// through to storage.
type Type string

const (
	TypeDefaultSummary   Type = "default_summary"
	TypeTagging          Type = "tagging"
	TypeCharacterA       Type = "character_a"
	TypeCharacterB       Type = "character_b"
	TypeRAGAgent         Type = "rag_agent"
	TypePaperChat        Type = "paper_chat"
	TypeResearchCoord    Type = "research_coordinator"
	TypeResearchPlanner  Type = "research_planner"
	TypeResearchSupervis Type = "research_supervisor"
	TypeResearchAgent    Type = "research_agent"
	TypeResearchSummary  Type = "research_summary"
)

// characterEligible lists the types spec.md §4.2's "selected types" refers
// to: these get the persona prepended when the user has a character chosen.
// Role prompts for research/RAG and the tagging prompt are deliberately not
// in this set — a persona prefix would pollute structured-output parsing.
var characterEligible = map[Type]bool{
	TypeDefaultSummary: true,
	TypeRAGAgent:       true,
	TypePaperChat:      true,
}

// Prompt is one stored prompt body, either a global default (OwnerUserID
// nil) or a user's custom prompt.
type Prompt struct {
	ID          int64
	Type        Type
	Name        string
	Category    string
	Body        string
	OwnerUserID *int64
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PromptGroup names five role-prompt slots the Research Graph (C8) resolves
// at session start. A nil slot falls back to that role's type default.
type PromptGroup struct {
	ID       int64
	Name     string
	UserID   int64
	Category string

	CoordinatorPromptID *int64
	PlannerPromptID     *int64
	SupervisorPromptID  *int64
	AgentPromptID       *int64
	SummaryPromptID     *int64
}

// roleType maps a PromptGroup role to its fallback Type.
func roleType(role string) Type {
	switch role {
	case "coordinator":
		return TypeResearchCoord
	case "planner":
		return TypeResearchPlanner
	case "supervisor":
		return TypeResearchSupervis
	case "agent":
		return TypeResearchAgent
	case "summary":
		return TypeResearchSummary
	default:
		return ""
	}
}

// slot returns the group's configured prompt id for role, or nil if role is
// unrecognized or the group itself is nil.
func (g *PromptGroup) slot(role string) *int64 {
	if g == nil {
		return nil
	}
	switch role {
	case "coordinator":
		return g.CoordinatorPromptID
	case "planner":
		return g.PlannerPromptID
	case "supervisor":
		return g.SupervisorPromptID
	case "agent":
		return g.AgentPromptID
	case "summary":
		return g.SummaryPromptID
	default:
		return nil
	}
}
