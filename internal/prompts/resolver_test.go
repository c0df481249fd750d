package prompts

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/scholiabot/core/internal/papers"
)

type fakeUsers struct {
	users map[int64]papers.User
}

func (f *fakeUsers) GetUser(ctx context.Context, userID int64) (papers.User, bool, error) {
	u, ok := f.users[userID]
	return u, ok, nil
}

func newTestResolver(t *testing.T, users map[int64]papers.User) (*Resolver, *memRepository) {
	t.Helper()
	repo := NewMemoryRepository().(*memRepository)
	r := NewResolver(repo, &fakeUsers{users: users})
	r.now = func() time.Time { return time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC) }
	return r, repo
}

func TestResolveFallsBackToGlobalDefault(t *testing.T) {
	r, repo := newTestResolver(t, map[int64]papers.User{1: {ID: 1, DisplayName: "Ada"}})
	ctx := context.Background()

	if _, err := repo.CreatePrompt(ctx, Prompt{Type: TypeDefaultSummary, Body: "Summarize for {name} on {today}.", IsActive: true}); err != nil {
		t.Fatalf("CreatePrompt: %v", err)
	}

	resolved, err := r.Resolve(ctx, TypeDefaultSummary, 1, nil, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.IsCustom {
		t.Fatalf("expected the global default, got IsCustom=true")
	}
	want := "Summarize for Ada on 2026-07-31."
	if resolved.Body != want {
		t.Fatalf("Resolve body = %q, want %q", resolved.Body, want)
	}
}

func TestResolvePrefersOwnedActiveCustomPrompt(t *testing.T) {
	r, repo := newTestResolver(t, map[int64]papers.User{1: {ID: 1, DisplayName: "Ada"}})
	ctx := context.Background()

	owner := int64(1)
	custom, err := repo.CreatePrompt(ctx, Prompt{Type: TypeDefaultSummary, Body: "Custom body for {name}.", OwnerUserID: &owner, IsActive: true})
	if err != nil {
		t.Fatalf("CreatePrompt: %v", err)
	}

	resolved, err := r.Resolve(ctx, TypeDefaultSummary, 1, &custom.ID, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !resolved.IsCustom {
		t.Fatalf("expected the custom prompt to win, IsCustom=false")
	}
	if resolved.Body != "Custom body for Ada." {
		t.Fatalf("Resolve body = %q", resolved.Body)
	}
}

func TestResolveIgnoresCustomPromptOwnedByAnotherUser(t *testing.T) {
	r, repo := newTestResolver(t, map[int64]papers.User{
		1: {ID: 1, DisplayName: "Ada"},
		2: {ID: 2, DisplayName: "Grace"},
	})
	ctx := context.Background()

	if _, err := repo.CreatePrompt(ctx, Prompt{Type: TypeDefaultSummary, Body: "fallback", IsActive: true}); err != nil {
		t.Fatalf("CreatePrompt default: %v", err)
	}
	owner := int64(2)
	custom, err := repo.CreatePrompt(ctx, Prompt{Type: TypeDefaultSummary, Body: "grace's prompt", OwnerUserID: &owner, IsActive: true})
	if err != nil {
		t.Fatalf("CreatePrompt custom: %v", err)
	}

	// User 1 passes user 2's prompt id; it must not be honored.
	resolved, err := r.Resolve(ctx, TypeDefaultSummary, 1, &custom.ID, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.IsCustom {
		t.Fatalf("expected fallback to the global default, got another user's custom prompt")
	}
	if resolved.Body != "fallback" {
		t.Fatalf("Resolve body = %q, want fallback", resolved.Body)
	}
}

func TestResolveMissingPlaceholderLeftLiteral(t *testing.T) {
	r, repo := newTestResolver(t, map[int64]papers.User{1: {ID: 1, DisplayName: "Ada"}})
	ctx := context.Background()
	if _, err := repo.CreatePrompt(ctx, Prompt{Type: TypeTagging, Body: "Use {unknown_var} and {name}.", IsActive: true}); err != nil {
		t.Fatalf("CreatePrompt: %v", err)
	}

	resolved, err := r.Resolve(ctx, TypeTagging, 1, nil, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !strings.Contains(resolved.Body, "{unknown_var}") {
		t.Fatalf("expected an unknown placeholder to survive literally, got %q", resolved.Body)
	}
}

func TestResolvePrependsCharacterPersona(t *testing.T) {
	r, repo := newTestResolver(t, map[int64]papers.User{
		1: {ID: 1, DisplayName: "Ada", SelectedCharacter: papers.CharacterA},
	})
	ctx := context.Background()
	if _, err := repo.CreatePrompt(ctx, Prompt{Type: TypeDefaultSummary, Body: "base task", IsActive: true}); err != nil {
		t.Fatalf("CreatePrompt base: %v", err)
	}
	if _, err := repo.CreatePrompt(ctx, Prompt{Type: TypeCharacterA, Body: "persona A speaking", IsActive: true}); err != nil {
		t.Fatalf("CreatePrompt persona: %v", err)
	}

	resolved, err := r.Resolve(ctx, TypeDefaultSummary, 1, nil, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !strings.Contains(resolved.Body, "persona A speaking") || !strings.Contains(resolved.Body, "base task") {
		t.Fatalf("expected persona and base text both present, got %q", resolved.Body)
	}
	if strings.Index(resolved.Body, "persona A speaking") > strings.Index(resolved.Body, "base task") {
		t.Fatalf("expected persona before base text, got %q", resolved.Body)
	}
}

func TestResolveGroupFallsBackToRoleDefaults(t *testing.T) {
	r, repo := newTestResolver(t, map[int64]papers.User{1: {ID: 1, DisplayName: "Ada"}})
	ctx := context.Background()
	for _, tt := range []Type{TypeResearchCoord, TypeResearchPlanner, TypeResearchSupervis, TypeResearchAgent, TypeResearchSummary} {
		if _, err := repo.CreatePrompt(ctx, Prompt{Type: tt, Body: string(tt) + " default", IsActive: true}); err != nil {
			t.Fatalf("CreatePrompt %s: %v", tt, err)
		}
	}

	group, err := r.ResolveGroup(ctx, "default", 1, "")
	if err != nil {
		t.Fatalf("ResolveGroup: %v", err)
	}
	if len(group) != 5 {
		t.Fatalf("expected 5 roles resolved, got %d", len(group))
	}
	if group["planner"].Body != "research_planner default" {
		t.Fatalf("planner role resolved to %q", group["planner"].Body)
	}
}

func TestResolveGroupUsesConfiguredSlot(t *testing.T) {
	r, repo := newTestResolver(t, map[int64]papers.User{1: {ID: 1, DisplayName: "Ada"}})
	ctx := context.Background()
	if _, err := repo.CreatePrompt(ctx, Prompt{Type: TypeResearchPlanner, Body: "global planner", IsActive: true}); err != nil {
		t.Fatalf("CreatePrompt: %v", err)
	}
	owner := int64(1)
	custom, err := repo.CreatePrompt(ctx, Prompt{Type: TypeResearchPlanner, Body: "custom planner for ada", OwnerUserID: &owner, IsActive: true})
	if err != nil {
		t.Fatalf("CreatePrompt custom planner: %v", err)
	}
	repo.SeedGroup(PromptGroup{Name: "default", UserID: 1, PlannerPromptID: &custom.ID})

	group, err := r.ResolveGroup(ctx, "default", 1, "")
	if err != nil {
		t.Fatalf("ResolveGroup: %v", err)
	}
	if group["planner"].Body != "custom planner for ada" {
		t.Fatalf("planner role resolved to %q, want the group's configured custom prompt", group["planner"].Body)
	}
}
