// Package research implements the Research Graph (C8): a five-role fixed
// state machine (Coordinator, Planner, Supervisor, Agent, Summary, plus a Tools step)
// for long-running investigations, spec.md §4.8.
package research

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role names the five roles plus the synthetic Tools step. These double as
// ResearchMessage.Role values and as PromptGroup/prompts.Type role keys.
type Role string

const (
	RoleCoordinator Role = "coordinator"
	RolePlanner     Role = "planner"
	RoleSupervisor  Role = "supervisor"
	RoleAgent       Role = "agent"
	RoleTools       Role = "tools"
	RoleSummary     Role = "summary"
	RoleUser        Role = "user"
	RoleSystemError Role = "system_error"
)

// ProcessingStatus tracks a ResearchSession's position in the graph for
// UIs to poll (spec.md §4.8: "updated at the entry of each role").
type ProcessingStatus string

const (
	StatusPending           ProcessingStatus = "pending"
	StatusCoordinating      ProcessingStatus = "coordinating"
	StatusPlanning          ProcessingStatus = "planning"
	StatusSupervising       ProcessingStatus = "supervising"
	StatusActing            ProcessingStatus = "acting"
	StatusSummarizing       ProcessingStatus = "summarizing"
	StatusDone              ProcessingStatus = "done"
	StatusFailed            ProcessingStatus = "failed"
	StatusUnknownCompletion ProcessingStatus = "unknown_completion"
)

// ResearchSession is the persisted state of one graph run.
type ResearchSession struct {
	ID               string
	UserID           *int64
	Name             string
	Flavour          Flavour
	ProcessingStatus ProcessingStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ResearchMessage is one role turn within a ResearchSession.
//
// IsIntermediate is true for every role output except the Summary and a
// terminal Coordinator response (next=END) — spec.md §4.8's persistence
// rule — so a UI can hide the scratch-work roles by default and still show
// the final answer.
type ResearchMessage struct {
	ID             string
	SessionID      string
	Role           Role
	Content        string
	IsIntermediate bool
	CreatedAt      time.Time
}

// Flavour selects the tool set wired into the Agent role: Research (web
// tools) or RAG (corpus tool only) per spec.md §4.8.
type Flavour string

const (
	FlavourResearch Flavour = "research"
	FlavourRAG      Flavour = "rag"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
)

func hasAccess(userID *int64, owner *int64) bool {
	if userID == nil {
		return true
	}
	return owner != nil && *owner == *userID
}

// Store persists ResearchSessions and their ResearchMessages. Modeled on
// persistence.ChatStore / the teacher's chat_store_memory.go shape, but
// carries the extra ProcessingStatus/IsIntermediate/Flavour fields C8 needs
// that ChatStore has no room for (see DESIGN.md).
type Store interface {
	CreateSession(ctx context.Context, userID *int64, name string, flavour Flavour) (ResearchSession, error)
	GetSession(ctx context.Context, userID *int64, id string) (ResearchSession, error)
	ListSessions(ctx context.Context, userID *int64) ([]ResearchSession, error)
	UpdateStatus(ctx context.Context, userID *int64, id string, status ProcessingStatus) error
	AppendMessage(ctx context.Context, userID *int64, sessionID string, msg ResearchMessage) error
	ListMessages(ctx context.Context, userID *int64, sessionID string) ([]ResearchMessage, error)
}

func NewMemoryStore() Store {
	return &memStore{
		sessions: map[string]ResearchSession{},
		messages: map[string][]ResearchMessage{},
	}
}

type memStore struct {
	mu       sync.RWMutex
	sessions map[string]ResearchSession
	messages map[string][]ResearchMessage
}

func (s *memStore) CreateSession(ctx context.Context, userID *int64, name string, flavour Flavour) (ResearchSession, error) {
	if strings.TrimSpace(name) == "" {
		name = "New Research Session"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	now := time.Now().UTC()
	var owner *int64
	if userID != nil {
		v := *userID
		owner = &v
	}
	sess := ResearchSession{ID: id, UserID: owner, Name: name, Flavour: flavour, ProcessingStatus: StatusPending, CreatedAt: now, UpdatedAt: now}
	s.sessions[id] = sess
	s.messages[id] = nil
	return sess, nil
}

func (s *memStore) GetSession(ctx context.Context, userID *int64, id string) (ResearchSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ResearchSession{}, ErrNotFound
	}
	if !hasAccess(userID, sess.UserID) {
		return ResearchSession{}, ErrForbidden
	}
	return sess, nil
}

func (s *memStore) ListSessions(ctx context.Context, userID *int64) ([]ResearchSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ResearchSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if !hasAccess(userID, sess.UserID) {
			continue
		}
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *memStore) UpdateStatus(ctx context.Context, userID *int64, id string, status ProcessingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if !hasAccess(userID, sess.UserID) {
		return ErrForbidden
	}
	sess.ProcessingStatus = status
	sess.UpdatedAt = time.Now().UTC()
	s.sessions[id] = sess
	return nil
}

func (s *memStore) AppendMessage(ctx context.Context, userID *int64, sessionID string, msg ResearchMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if !hasAccess(userID, sess.UserID) {
		return ErrForbidden
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.SessionID = sessionID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	s.messages[sessionID] = append(s.messages[sessionID], msg)
	sess.UpdatedAt = msg.CreatedAt
	s.sessions[sessionID] = sess
	return nil
}

func (s *memStore) ListMessages(ctx context.Context, userID *int64, sessionID string) ([]ResearchMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if !hasAccess(userID, sess.UserID) {
		return nil, ErrForbidden
	}
	msgs := s.messages[sessionID]
	out := make([]ResearchMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}
