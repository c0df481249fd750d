package papers

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// NewMemoryRepository returns an in-memory SummaryRepository. It is used by
// coordinator tests that exercise §8's concurrency properties without a real
// database, and by the embedded single-process deployment profile.
//
// Correctness note: this still must behave like a database under the unique
// index — InsertProcessing/BumpProcessing/CompleteRow/DeleteRow all take the
// map mutex for their entire critical section, so the same single-writer
// semantics Postgres gives via row locks hold here too.
func NewMemoryRepository() SummaryRepository {
	return &memRepository{rows: map[string]*Row{}}
}

type memRepository struct {
	mu   sync.Mutex
	rows map[string]*Row
	next int64
}

func keyString(k SummaryKey) string {
	prompt := int64(-1)
	if k.PromptID != nil {
		prompt = *k.PromptID
	}
	return fmt.Sprintf("%d|%d|%d|%s|%s|%s|%d", k.UserID, k.PaperID, prompt, k.Provider, k.Model, k.Character, k.Affinity)
}

func (m *memRepository) GetRow(ctx context.Context, key SummaryKey) (Row, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[keyString(key)]
	if !ok {
		return Row{}, false, nil
	}
	return *r, true, nil
}

func (m *memRepository) InsertProcessing(ctx context.Context, key SummaryKey, n int) (Row, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ks := keyString(key)
	if existing, ok := m.rows[ks]; ok {
		return *existing, false, nil
	}
	m.next++
	now := time.Now()
	row := &Row{ID: m.next, Key: key, Body: ProcessingBody(n), CreatedAt: now, UpdatedAt: now}
	m.rows[ks] = row
	return *row, true, nil
}

func (m *memRepository) BumpProcessing(ctx context.Context, key SummaryKey, expectN, newN int) (Row, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ks := keyString(key)
	row, ok := m.rows[ks]
	if !ok || row.Body != ProcessingBody(expectN) {
		return Row{}, false, nil
	}
	row.Body = ProcessingBody(newN)
	row.UpdatedAt = time.Now()
	return *row, true, nil
}

func (m *memRepository) CompleteRow(ctx context.Context, key SummaryKey, expectN int, body, onePoint string) (Row, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ks := keyString(key)
	row, ok := m.rows[ks]
	if !ok || row.Body != ProcessingBody(expectN) {
		return Row{}, false, nil
	}
	row.Body = body
	row.OnePoint = onePoint
	row.UpdatedAt = time.Now()
	return *row, true, nil
}

func (m *memRepository) DeleteRow(ctx context.Context, key SummaryKey, expectN int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ks := keyString(key)
	if row, ok := m.rows[ks]; ok && row.Body == ProcessingBody(expectN) {
		delete(m.rows, ks)
	}
	return nil
}

func (m *memRepository) BeginRegeneration(ctx context.Context, key SummaryKey, n int) (Row, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ks := keyString(key)
	row, ok := m.rows[ks]
	if !ok || !row.Ready() {
		if ok {
			return *row, false, nil
		}
		return Row{}, false, nil
	}
	row.Body = ProcessingBody(n)
	row.UpdatedAt = time.Now()
	return *row, true, nil
}

func (m *memRepository) AllForUserPaper(ctx context.Context, userID, paperID int64) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Row
	for _, r := range m.rows {
		if r.Key.PaperID != paperID {
			continue
		}
		if r.Key.IsCustom() {
			if r.Key.UserID == userID {
				out = append(out, *r)
			}
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}
