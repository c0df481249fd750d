package papers

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// NewMemoryLinkStore returns an in-memory LinkStore, used by tests and by
// the embedded single-process deployment profile alongside
// NewMemoryRepository.
func NewMemoryLinkStore() LinkStore {
	return &memLinkStore{
		papersByID:   map[int64]*PaperMetadata{},
		papersByExt:  map[string]int64{},
		users:        map[int64]*User{},
		links:        map[int64]*UserPaperLink{},
		linksByUser:  map[int64]map[int64]int64{}, // userID -> paperID -> linkID
		edited:       map[int64]*EditedSummary{},
		editedByDef:  map[[2]int64]int64{},
		editedByCust: map[[2]int64]int64{},
	}
}

type memLinkStore struct {
	mu sync.Mutex

	papersByID  map[int64]*PaperMetadata
	papersByExt map[string]int64
	nextPaper   int64

	users map[int64]*User

	links       map[int64]*UserPaperLink
	linksByUser map[int64]map[int64]int64
	nextLink    int64

	edited       map[int64]*EditedSummary
	editedByDef  map[[2]int64]int64 // [userID, defaultSummaryID] -> editedID
	editedByCust map[[2]int64]int64 // [userID, customSummaryID] -> editedID
	nextEdited   int64
}

// SeedUser installs a user record directly, for tests that need a known
// affinity/character state without a full auth integration.
func (m *memLinkStore) SeedUser(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := u
	m.users[u.ID] = &cp
}

func (m *memLinkStore) EnsurePaper(ctx context.Context, externalID, url, title, authors, abstract string) (PaperMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.papersByExt[externalID]; ok {
		return *m.papersByID[id], nil
	}
	m.nextPaper++
	now := time.Now()
	p := &PaperMetadata{
		ID: m.nextPaper, ExternalID: externalID, URL: url, Title: title,
		Authors: authors, Abstract: abstract, CreatedAt: now, UpdatedAt: now,
	}
	m.papersByID[p.ID] = p
	m.papersByExt[externalID] = p.ID
	return *p, nil
}

func (m *memLinkStore) SetFullText(ctx context.Context, paperID int64, fullText string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.papersByID[paperID]
	if !ok {
		return fmt.Errorf("papers: unknown paper %d", paperID)
	}
	p.FullText = fullText
	p.UpdatedAt = time.Now()
	return nil
}

func (m *memLinkStore) GetPaper(ctx context.Context, paperID int64) (PaperMetadata, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.papersByID[paperID]
	if !ok {
		return PaperMetadata{}, false, nil
	}
	return *p, true, nil
}

func (m *memLinkStore) GetPaperByExternalID(ctx context.Context, externalID string) (PaperMetadata, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.papersByExt[externalID]
	if !ok {
		return PaperMetadata{}, false, nil
	}
	return *m.papersByID[id], true, nil
}

func (m *memLinkStore) GetUser(ctx context.Context, userID int64) (User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return User{}, false, nil
	}
	return *u, true, nil
}

func (m *memLinkStore) EnsureLink(ctx context.Context, userID, paperID int64) (UserPaperLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if byPaper, ok := m.linksByUser[userID]; ok {
		if id, ok := byPaper[paperID]; ok {
			return *m.links[id], nil
		}
	}
	m.nextLink++
	now := time.Now()
	l := &UserPaperLink{ID: m.nextLink, UserID: userID, PaperID: paperID, LastAccessed: now, CreatedAt: now, UpdatedAt: now}
	m.links[l.ID] = l
	if m.linksByUser[userID] == nil {
		m.linksByUser[userID] = map[int64]int64{}
	}
	m.linksByUser[userID][paperID] = l.ID
	return *l, nil
}

func (m *memLinkStore) GetLink(ctx context.Context, userID, paperID int64) (UserPaperLink, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byPaper, ok := m.linksByUser[userID]
	if !ok {
		return UserPaperLink{}, false, nil
	}
	id, ok := byPaper[paperID]
	if !ok {
		return UserPaperLink{}, false, nil
	}
	return *m.links[id], true, nil
}

func (m *memLinkStore) GetLinkByID(ctx context.Context, linkID int64) (UserPaperLink, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[linkID]
	if !ok {
		return UserPaperLink{}, false, nil
	}
	return *l, true, nil
}

func (m *memLinkStore) SetSelection(ctx context.Context, linkID int64, defaultID, customID *int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if defaultID != nil && customID != nil {
		return fmt.Errorf("papers: selection must set at most one of default/custom summary id")
	}
	l, ok := m.links[linkID]
	if !ok {
		return fmt.Errorf("papers: unknown link %d", linkID)
	}
	l.SelectedDefaultSummaryID = defaultID
	l.SelectedCustomSummaryID = customID
	l.UpdatedAt = time.Now()
	return nil
}

func (m *memLinkStore) SetTags(ctx context.Context, linkID int64, tags []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[linkID]
	if !ok {
		return fmt.Errorf("papers: unknown link %d", linkID)
	}
	l.Tags = append([]string(nil), tags...)
	l.UpdatedAt = time.Now()
	return nil
}

func (m *memLinkStore) TouchAccessed(ctx context.Context, linkID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[linkID]
	if !ok {
		return fmt.Errorf("papers: unknown link %d", linkID)
	}
	l.LastAccessed = time.Now()
	return nil
}

func (m *memLinkStore) DeleteLink(ctx context.Context, userID, paperID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byPaper, ok := m.linksByUser[userID]
	if !ok {
		return nil
	}
	id, ok := byPaper[paperID]
	if !ok {
		return nil
	}
	delete(m.links, id)
	delete(byPaper, paperID)
	for k, e := range m.edited {
		if e.UserID == userID {
			delete(m.edited, k)
			if e.DefaultSummaryID != nil {
				delete(m.editedByDef, [2]int64{userID, *e.DefaultSummaryID})
			}
			if e.CustomSummaryID != nil {
				delete(m.editedByCust, [2]int64{userID, *e.CustomSummaryID})
			}
		}
	}
	return nil
}

func (m *memLinkStore) LinksWithTag(ctx context.Context, userID int64, tag string, limit int) ([]UserPaperLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 10
	}
	byPaper, ok := m.linksByUser[userID]
	if !ok {
		return nil, nil
	}
	var out []UserPaperLink
	for _, id := range byPaper {
		l := m.links[id]
		if l.HasTag(tag) {
			out = append(out, *l)
		}
	}
	// newest first, matching the Postgres ORDER BY created_at DESC
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].CreatedAt.After(out[i].CreatedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memLinkStore) CandidateLinks(ctx context.Context, userID int64, excludeTags []string) ([]UserPaperLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byPaper, ok := m.linksByUser[userID]
	if !ok {
		return nil, nil
	}
	var out []UserPaperLink
	for _, id := range byPaper {
		l := m.links[id]
		excluded := false
		for _, t := range excludeTags {
			if l.HasTag(t) {
				excluded = true
				break
			}
		}
		if !excluded {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (m *memLinkStore) UpsertEditedSummary(ctx context.Context, userID int64, defaultID, customID *int64, body, onePoint string) (EditedSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if defaultID != nil {
		key := [2]int64{userID, *defaultID}
		if id, ok := m.editedByDef[key]; ok {
			e := m.edited[id]
			e.Body, e.OnePoint, e.UpdatedAt = body, onePoint, now
			return *e, nil
		}
		m.nextEdited++
		e := &EditedSummary{ID: m.nextEdited, UserID: userID, DefaultSummaryID: defaultID, Body: body, OnePoint: onePoint, CreatedAt: now, UpdatedAt: now}
		m.edited[e.ID] = e
		m.editedByDef[key] = e.ID
		return *e, nil
	}
	if customID != nil {
		key := [2]int64{userID, *customID}
		if id, ok := m.editedByCust[key]; ok {
			e := m.edited[id]
			e.Body, e.OnePoint, e.UpdatedAt = body, onePoint, now
			return *e, nil
		}
		m.nextEdited++
		e := &EditedSummary{ID: m.nextEdited, UserID: userID, CustomSummaryID: customID, Body: body, OnePoint: onePoint, CreatedAt: now, UpdatedAt: now}
		m.edited[e.ID] = e
		m.editedByCust[key] = e.ID
		return *e, nil
	}
	return EditedSummary{}, fmt.Errorf("papers: edited summary needs exactly one of default/custom id")
}
