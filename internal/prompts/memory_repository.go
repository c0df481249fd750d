package prompts

import (
	"context"
	"fmt"
	"sync"
	"time"
)

func NewMemoryRepository() Repository {
	return &memRepository{
		prompts:   map[int64]*Prompt{},
		defaults:  map[Type]int64{},
		groups:    map[string]*PromptGroup{},
	}
}

type memRepository struct {
	mu   sync.Mutex
	next int64

	prompts  map[int64]*Prompt
	defaults map[Type]int64 // Type -> prompt id, only for owner_user_id == nil

	nextGroup int64
	groups    map[string]*PromptGroup // key: name|userID|category
}

func groupKey(name string, userID int64, category string) string {
	return fmt.Sprintf("%s|%d|%s", name, userID, category)
}

func (m *memRepository) GetByID(ctx context.Context, id int64) (Prompt, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prompts[id]
	if !ok {
		return Prompt{}, false, nil
	}
	return *p, true, nil
}

func (m *memRepository) GetDefaultForType(ctx context.Context, t Type) (Prompt, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.defaults[t]
	if !ok {
		return Prompt{}, false, nil
	}
	p := m.prompts[id]
	if !p.IsActive {
		return Prompt{}, false, nil
	}
	return *p, true, nil
}

func (m *memRepository) GetGroup(ctx context.Context, name string, userID int64, category string) (PromptGroup, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[groupKey(name, userID, category)]
	if !ok {
		return PromptGroup{}, false, nil
	}
	return *g, true, nil
}

func (m *memRepository) CreatePrompt(ctx context.Context, p Prompt) (Prompt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.OwnerUserID == nil {
		if _, exists := m.defaults[p.Type]; exists {
			return Prompt{}, fmt.Errorf("prompts: a global default already exists for type %q", p.Type)
		}
	}
	m.next++
	now := time.Now()
	p.ID, p.CreatedAt, p.UpdatedAt = m.next, now, now
	m.prompts[p.ID] = &p
	if p.OwnerUserID == nil {
		m.defaults[p.Type] = p.ID
	}
	return p, nil
}

func (m *memRepository) UpdatePrompt(ctx context.Context, p Prompt) (Prompt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.prompts[p.ID]
	if !ok {
		return Prompt{}, fmt.Errorf("prompts: unknown prompt %d", p.ID)
	}
	existing.Name, existing.Category, existing.Body, existing.IsActive = p.Name, p.Category, p.Body, p.IsActive
	existing.UpdatedAt = time.Now()
	return *existing, nil
}

func (m *memRepository) ListForUser(ctx context.Context, userID int64, t Type) ([]Prompt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Prompt
	for _, p := range m.prompts {
		if p.Type != t {
			continue
		}
		if p.OwnerUserID == nil || *p.OwnerUserID == userID {
			out = append(out, *p)
		}
	}
	return out, nil
}

// SeedGroup installs a PromptGroup directly, for tests that need role
// slots wired without going through a CreatePrompt/CreateGroup round trip.
func (m *memRepository) SeedGroup(g PromptGroup) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g.ID == 0 {
		m.nextGroup++
		g.ID = m.nextGroup
	}
	cp := g
	m.groups[groupKey(g.Name, g.UserID, g.Category)] = &cp
}
