package persistence

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound and ErrForbidden are the two access-control outcomes every
// ChatStore implementation (and, by extension, the RAG/paper-chat session
// stores built on the same pattern) reports: absence vs. cross-user access.
var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
)

// ChatSession is one persisted conversation thread, optionally owned by a
// user (nil UserID means a shared/anonymous session).
type ChatSession struct {
	ID                  string
	Name                string
	UserID              *int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
	LastMessagePreview  string
	Model               string
	Summary             string
	SummarizedCount     int
}

// ChatMessage is one role+content turn within a ChatSession.
type ChatMessage struct {
	ID        string
	SessionID string
	Role      string
	Content   string
	CreatedAt time.Time
}

// ChatStore persists sessions and their messages. Both backends
// (chat_store_memory.go, chat_store_postgres.go) implement this over the
// same access-control contract: a nil userID bypasses ownership checks
// (trusted/internal callers), a non-nil userID must match the session's
// owner or every call returns ErrForbidden.
type ChatStore interface {
	Init(ctx context.Context) error
	EnsureSession(ctx context.Context, userID *int64, id, name string) (ChatSession, error)
	ListSessions(ctx context.Context, userID *int64) ([]ChatSession, error)
	GetSession(ctx context.Context, userID *int64, id string) (ChatSession, error)
	CreateSession(ctx context.Context, userID *int64, name string) (ChatSession, error)
	RenameSession(ctx context.Context, userID *int64, id, name string) (ChatSession, error)
	DeleteSession(ctx context.Context, userID *int64, id string) error
	ListMessages(ctx context.Context, userID *int64, sessionID string, limit int) ([]ChatMessage, error)
	AppendMessages(ctx context.Context, userID *int64, sessionID string, messages []ChatMessage, preview string, model string) error
	UpdateSummary(ctx context.Context, userID *int64, sessionID string, summary string, summarizedCount int) error
}
