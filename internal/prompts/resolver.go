package prompts

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/scholiabot/core/internal/papers"
)

// UserLookup is the minimal user-lookup dependency the resolver needs
// (display name for {name}, selected character for persona prepending).
// papers.LinkStore already satisfies this, so the caller typically wires
// the same store used for C4/C9 here without an adapter.
type UserLookup interface {
	GetUser(ctx context.Context, userID int64) (papers.User, bool, error)
}

// Resolver implements spec.md §4.2.
type Resolver struct {
	repo  Repository
	users UserLookup
	// now lets tests fix {today}; defaults to time.Now.
	now func() time.Time
}

func NewResolver(repo Repository, users UserLookup) *Resolver {
	return &Resolver{repo: repo, users: users, now: time.Now}
}

// Resolved is the outcome of a resolution: the effective text and whether a
// user-owned custom prompt (rather than the built-in default) was used.
type Resolved struct {
	Body     string
	IsCustom bool
	PromptID int64 // 0 if no stored Prompt backed the result (type has no default seeded)
}

// Resolve implements spec.md §4.2: (type, user, optional prompt id) plus
// caller-supplied substitution variables -> effective text.
func (r *Resolver) Resolve(ctx context.Context, t Type, userID int64, promptID *int64, vars map[string]string) (Resolved, error) {
	base, isCustom, err := r.resolveBase(ctx, t, userID, promptID)
	if err != nil {
		return Resolved{}, err
	}

	user, _, err := r.users.GetUser(ctx, userID)
	if err != nil {
		return Resolved{}, err
	}

	text := base.Body
	if characterEligible[t] && user.SelectedCharacter != papers.CharacterNone {
		text = r.withPersona(ctx, user, t, base.Body)
	}

	text = r.substitute(text, user, vars)
	return Resolved{Body: text, IsCustom: isCustom, PromptID: base.ID}, nil
}

// resolveBase returns the pre-substitution, pre-persona prompt per §4.2's
// first two bullets: a custom prompt if promptID is given, belongs to the
// user, and is active; otherwise the type's global default.
func (r *Resolver) resolveBase(ctx context.Context, t Type, userID int64, promptID *int64) (Prompt, bool, error) {
	if promptID != nil {
		p, ok, err := r.repo.GetByID(ctx, *promptID)
		if err != nil {
			return Prompt{}, false, err
		}
		if ok && p.IsActive && p.OwnerUserID != nil && *p.OwnerUserID == userID {
			return p, true, nil
		}
	}
	p, ok, err := r.repo.GetDefaultForType(ctx, t)
	if err != nil {
		return Prompt{}, false, err
	}
	if !ok {
		// No default has been seeded for this type; treat as an empty base
		// so substitution/persona still produce usable (if sparse) text
		// rather than erroring the caller's generation request.
		return Prompt{Type: t}, false, nil
	}
	return p, false, nil
}

// personaTaskType composes the type-specific instruction prompt's lookup
// key, e.g. "default_summary_character_a". Absence is not an error: the
// task-specific instruction is optional per §4.2.
func personaTaskType(t Type, c papers.Character) Type {
	return Type(string(t) + "_character_" + strings.ToLower(string(c)))
}

func personaType(c papers.Character) Type {
	if c == papers.CharacterA {
		return TypeCharacterA
	}
	return TypeCharacterB
}

func (r *Resolver) withPersona(ctx context.Context, user papers.User, t Type, base string) string {
	persona, ok, err := r.repo.GetDefaultForType(ctx, personaType(user.SelectedCharacter))
	if err != nil || !ok {
		return base
	}
	var b strings.Builder
	b.WriteString(persona.Body)
	if task, ok, err := r.repo.GetDefaultForType(ctx, personaTaskType(t, user.SelectedCharacter)); err == nil && ok {
		b.WriteString("\n\n")
		b.WriteString(task.Body)
	}
	b.WriteString("\n\n---\n\n")
	b.WriteString(base)
	return b.String()
}

// substitute applies the fixed small substitution vocabulary from §4.2.
// Missing placeholders (not in the known set and not in vars) are left
// literal rather than raising, which is also why this is a manual
// strings.Replacer pass rather than text/template: an unresolved `{{foo}}`
// surviving inside a stored prompt body must not break rendering.
func (r *Resolver) substitute(text string, user papers.User, vars map[string]string) string {
	pairs := []string{
		"{today}", r.now().Format("2006-01-02"),
	}
	name := user.DisplayName
	if name == "" {
		name = "user " + strconv.FormatInt(user.ID, 10)
	}
	pairs = append(pairs, "{name}", name)
	for k, v := range vars {
		key := k
		if !strings.HasPrefix(key, "{") {
			key = "{" + key + "}"
		}
		pairs = append(pairs, key, v)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// ResolveGroup implements the C13 PromptGroup read-only resolver the
// Research Graph (C8) uses at session start: each of the five roles
// resolves through its group slot if set, else the role's type default.
func (r *Resolver) ResolveGroup(ctx context.Context, groupName string, userID int64, category string) (map[string]Resolved, error) {
	group, found, err := r.repo.GetGroup(ctx, groupName, userID, category)
	if err != nil {
		return nil, err
	}
	var g *PromptGroup
	if found {
		g = &group
	}

	roles := []string{"coordinator", "planner", "supervisor", "agent", "summary"}
	out := make(map[string]Resolved, len(roles))
	for _, role := range roles {
		resolved, err := r.Resolve(ctx, roleType(role), userID, g.slot(role), nil)
		if err != nil {
			return nil, err
		}
		out[role] = resolved
	}
	return out, nil
}
