package papers

import (
	"context"
	"fmt"
	"time"
)

// SummaryKey is the full uniqueness tuple identifying one logical summary
// slot (the GLOSSARY's "Key"). PromptID is nil for the DefaultSummary family
// and set for the CustomSummary family; UserID is 0/ignored for the
// DefaultSummary family since default summaries are shared across users.
type SummaryKey struct {
	UserID    int64
	PaperID   int64
	PromptID  *int64
	Provider  string
	Model     string
	Character Character
	Affinity  int
}

// IsCustom reports whether this key addresses the CustomSummary table.
func (k SummaryKey) IsCustom() bool { return k.PromptID != nil }

// String is a stable, log/event-friendly identifier for k, used as the
// Kafka partition key and in-process Bus subject for the Event Bus (C11).
func (k SummaryKey) String() string {
	prompt := "default"
	if k.PromptID != nil {
		prompt = fmt.Sprintf("prompt:%d", *k.PromptID)
	}
	return fmt.Sprintf("paper:%d:user:%d:%s:%s:%s:%s:aff:%d", k.PaperID, k.UserID, prompt, k.Provider, k.Model, k.Character, k.Affinity)
}

// Row is the current state of a summary key: either absent (the caller never
// observes a Row value for that case), a PROCESSING_n placeholder, or a
// READY row with real content.
type Row struct {
	ID        int64
	Key       SummaryKey
	Body      string
	OnePoint  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// N returns the row's processing epoch and whether it is currently a
// placeholder (as opposed to READY).
func (r Row) N() (int, bool) { return ParseProcessing(r.Body) }

// Ready reports whether r holds generated content.
func (r Row) Ready() bool { return IsReady(r.Body) }

// SummaryRepository is the Summary Coordinator's (C4) only dependency: every
// method is implemented as a single conditional SQL statement against the
// unique index on the relevant summary table, so the database — not an
// in-process lock — is the sole coordination primitive (spec.md §4.4.7,
// §9 "Database as lock").
type SummaryRepository interface {
	// GetRow fetches the current row for key, if any.
	GetRow(ctx context.Context, key SummaryKey) (Row, bool, error)

	// InsertProcessing attempts to insert a PROCESSING_n placeholder for key.
	// won=true means the caller's INSERT succeeded under the unique index and
	// it now owns the key; won=false means a row already existed and row
	// holds that existing row instead.
	InsertProcessing(ctx context.Context, key SummaryKey, n int) (row Row, won bool, err error)

	// BumpProcessing performs the compare-and-swap update that transfers
	// ownership on timeout (spec.md §4.4.4): it succeeds only if the row's
	// body still matches ProcessingBody(expectN). ok=false means another
	// escalator already won the race (or the row changed state entirely).
	BumpProcessing(ctx context.Context, key SummaryKey, expectN, newN int) (row Row, ok bool, err error)

	// CompleteRow overwrites a PROCESSING_expectN row with final content. It
	// returns ok=false (no error) if the row no longer matches expectN, which
	// means a waiter already escalated past the caller and the caller's
	// result must be discarded rather than resurrecting a stale body
	// (spec.md S3).
	CompleteRow(ctx context.Context, key SummaryKey, expectN int, body, onePoint string) (row Row, ok bool, err error)

	// DeleteRow removes a PROCESSING_expectN row (total generation failure,
	// or fallback reconciliation). Deleting a row whose body no longer
	// matches expectN is a no-op, not an error.
	DeleteRow(ctx context.Context, key SummaryKey, expectN int) error

	// AllForUserPaper returns every DefaultSummary and CustomSummary row for
	// (userID, paperID), used by the Selection Policy (C5), Tagging Pipeline
	// (C6), and Edited-summary cascade on link deletion.
	AllForUserPaper(ctx context.Context, userID, paperID int64) ([]Row, error)

	// BeginRegeneration overwrites an existing READY row with a fresh
	// PROCESSING_n placeholder, for the case spec.md §4.4.3's step 2 falls
	// through: a custom prompt was edited after the row was last generated.
	// won=false means the row was no longer READY (a concurrent owner/waiter
	// already started a new generation); the caller should treat that like
	// a normal PROCESSING read and join the waiting protocol instead.
	BeginRegeneration(ctx context.Context, key SummaryKey, n int) (row Row, won bool, err error)
}
