// Package coordinator implements the Summary Coordinator (C4): the
// duplicate-suppression, wait/timeout/fork-off engine spec.md §4.4
// describes. It depends only on papers.SummaryRepository — every decision
// is driven by reading and conditionally writing the row for a key, never
// by in-process locks (spec.md §4.4.7, §9 "Database as lock").
//
// No teacher file implements this exact protocol; it is grounded on the
// teacher's general discipline of treating the database row as the sole
// coordination primitive (the `ON CONFLICT DO UPDATE`/`RETURNING` idioms in
// internal/persistence/databases) and, for the idempotent-insert/escalate-
// on-timeout shape specifically, on dshills-langgraph-go's sqlite store
// idempotency-key unique-constraint handling.
package coordinator

import (
	"context"
	"time"

	"github.com/scholiabot/core/internal/apperr"
	"github.com/scholiabot/core/internal/events"
	"github.com/scholiabot/core/internal/observability"
	"github.com/scholiabot/core/internal/papers"
)

// GenResult is what a Generator produces when it successfully runs the LLM
// call an owner is responsible for (spec.md §4.4.5 step 1-2).
type GenResult struct {
	Body         string
	OnePoint     string
	Provider     string
	Model        string
	UsedFallback bool
}

// Generator invokes the LLM Gateway (C1) with the resolved prompt (C2) and
// paper text for key, and extracts the one-point summary. The Coordinator
// is deliberately decoupled from C1/C2: callers (the summary-generation
// service) close over the paper/prompt/model context and hand the
// Coordinator a plain callback, keeping this package's only dependency
// papers.SummaryRepository per spec.md §4.4.7.
type Generator interface {
	Generate(ctx context.Context, key papers.SummaryKey) (GenResult, error)
}

// GeneratorFunc adapts a plain function to Generator.
type GeneratorFunc func(ctx context.Context, key papers.SummaryKey) (GenResult, error)

func (f GeneratorFunc) Generate(ctx context.Context, key papers.SummaryKey) (GenResult, error) {
	return f(ctx, key)
}

// Config tunes the waiting protocol (spec.md §4.4.4, §5).
type Config struct {
	PollInterval time.Duration // default 60s
	WaitTimeout  time.Duration // default 5m
}

func (c Config) pollInterval() time.Duration {
	if c.PollInterval <= 0 {
		return 60 * time.Second
	}
	return c.PollInterval
}

func (c Config) waitTimeout() time.Duration {
	if c.WaitTimeout <= 0 {
		return 5 * time.Minute
	}
	return c.WaitTimeout
}

// Coordinator implements the acquisition/waiting/escalation state machine
// of spec.md §4.4 over a single SummaryRepository.
type Coordinator struct {
	repo papers.SummaryRepository
	cfg  Config
	// sleep is overridden in tests to avoid real wall-clock waits.
	sleep func(ctx context.Context, d time.Duration) error
	// now lets tests control deadline arithmetic deterministically.
	now func() time.Time
	// Events publishes key_acquired/key_escalated/generation_completed
	// lifecycle events (C11, SPEC_FULL.md §3.1). Nil is valid: events.Publish
	// no-ops when there is no subscriber wired.
	Events events.Publisher
}

// New builds a Coordinator over repo.
func New(repo papers.SummaryRepository, cfg Config) *Coordinator {
	return &Coordinator{repo: repo, cfg: cfg, sleep: sleepCtx, now: time.Now}
}

func (c *Coordinator) publish(ctx context.Context, typ string, key papers.SummaryKey, data map[string]any) {
	events.Publish(ctx, c.Events, typ, key.String(), data)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Acquire implements spec.md §4.4.3-§4.4.5 for a single key: it returns the
// key's READY row, generating it (as owner) or waiting for a concurrent
// owner (as waiter/escalator) as needed.
//
// promptUpdatedAt is the resolved custom prompt's current updated_at for
// custom keys (nil for default keys, where the READY check is "trivially
// satisfied" per spec.md §4.4.3 step 2). When a READY row predates it, the
// row is treated as stale and a new generation is started.
func (c *Coordinator) Acquire(ctx context.Context, key papers.SummaryKey, promptUpdatedAt *time.Time, gen Generator) (papers.Row, error) {
	log := observability.LoggerWithTrace(ctx)

	row, found, err := c.repo.GetRow(ctx, key)
	if err != nil {
		return papers.Row{}, apperr.New(apperr.Dependency, err, "coordinator: read row")
	}

	if found && row.Ready() {
		if !c.isStale(key, promptUpdatedAt, row) {
			return row, nil
		}
		log.Info().Msg("coordinator_stale_ready_row_regenerating")
		fresh, won, err := c.repo.BeginRegeneration(ctx, key, 1)
		if err != nil {
			return papers.Row{}, apperr.New(apperr.Dependency, err, "coordinator: begin regeneration")
		}
		if won {
			return c.own(ctx, key, 1, gen)
		}
		// Another requester already started regenerating; join as waiter.
		row, found = fresh, true
	}

	if !found {
		fresh, won, err := c.repo.InsertProcessing(ctx, key, 1)
		if err != nil {
			return papers.Row{}, apperr.New(apperr.Dependency, err, "coordinator: insert processing")
		}
		if won {
			return c.own(ctx, key, 1, gen)
		}
		row = fresh
	}

	n, processing := row.N()
	if !processing {
		// Row transitioned to READY between our checks; re-read and return.
		if row.Ready() {
			return row, nil
		}
		n = 1
	}
	return c.wait(ctx, key, n, gen)
}

// isStale reports whether a READY row needs regeneration because the
// linked custom prompt has been edited since. Default-summary keys have no
// linked prompt, so staleness is "trivially satisfied" (never stale).
func (c *Coordinator) isStale(key papers.SummaryKey, promptUpdatedAt *time.Time, row papers.Row) bool {
	if !key.IsCustom() || promptUpdatedAt == nil {
		return false
	}
	return promptUpdatedAt.After(row.UpdatedAt)
}

// own runs the generation on behalf of the caller, who just won ownership
// of key at epoch n (spec.md §4.4.5).
func (c *Coordinator) own(ctx context.Context, key papers.SummaryKey, n int, gen Generator) (papers.Row, error) {
	c.publish(ctx, events.KeyAcquired, key, map[string]any{"n": n})

	result, err := gen.Generate(ctx, key)
	if err != nil {
		if derr := c.repo.DeleteRow(ctx, key, n); derr != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(derr).Msg("coordinator_delete_failed_row_after_generation_error")
		}
		return papers.Row{}, apperr.New(apperr.Fatal, err, "coordinator: generation failed")
	}

	if result.UsedFallback && (result.Provider != key.Provider || result.Model != key.Model) {
		return c.reconcileFallback(ctx, key, n, result)
	}

	completed, ok, err := c.repo.CompleteRow(ctx, key, n, result.Body, result.OnePoint)
	if err != nil {
		return papers.Row{}, apperr.New(apperr.Dependency, err, "coordinator: complete row")
	}
	if ok {
		c.publish(ctx, events.GenerationCompleted, key, map[string]any{"n": n, "used_fallback": result.UsedFallback})
		return completed, nil
	}

	// spec.md S3: a waiter escalated past us while we were generating. Our
	// result is discarded (it must not resurrect a stale body); join
	// whoever now owns the key instead of returning an error.
	observability.LoggerWithTrace(ctx).Warn().Msg("coordinator_owner_result_discarded_escalated_past")
	row, found, err := c.repo.GetRow(ctx, key)
	if err != nil {
		return papers.Row{}, apperr.New(apperr.Dependency, err, "coordinator: re-read row after discard")
	}
	if !found {
		return papers.Row{}, apperr.New(apperr.Fatal, nil, "coordinator: key vanished after discard")
	}
	if row.Ready() {
		return row, nil
	}
	m, _ := row.N()
	return c.wait(ctx, key, m, gen)
}

// reconcileFallback implements spec.md §4.4.5 step 3: when the Gateway used
// its fallback provider/model, the owner reconciles against any prior row
// stored under the fallback's own key rather than leaving two rows keyed
// differently for the same logical slot.
func (c *Coordinator) reconcileFallback(ctx context.Context, key papers.SummaryKey, n int, result GenResult) (papers.Row, error) {
	fallbackKey := key
	fallbackKey.Provider = result.Provider
	fallbackKey.Model = result.Model

	existing, found, err := c.repo.GetRow(ctx, fallbackKey)
	if err != nil {
		return papers.Row{}, apperr.New(apperr.Dependency, err, "coordinator: read fallback row")
	}

	if found && existing.Ready() {
		if _, won, err := c.repo.BeginRegeneration(ctx, fallbackKey, 1); err == nil && won {
			if _, _, err := c.repo.CompleteRow(ctx, fallbackKey, 1, result.Body, result.OnePoint); err != nil {
				return papers.Row{}, apperr.New(apperr.Dependency, err, "coordinator: complete fallback row")
			}
		}
	} else {
		if _, won, err := c.repo.InsertProcessing(ctx, fallbackKey, 1); err == nil && won {
			if _, _, err := c.repo.CompleteRow(ctx, fallbackKey, 1, result.Body, result.OnePoint); err != nil {
				return papers.Row{}, apperr.New(apperr.Dependency, err, "coordinator: complete new fallback row")
			}
		}
	}

	if err := c.repo.DeleteRow(ctx, key, n); err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("coordinator_delete_primary_after_fallback_reconcile_failed")
	}

	final, found, err := c.repo.GetRow(ctx, fallbackKey)
	if err != nil {
		return papers.Row{}, apperr.New(apperr.Dependency, err, "coordinator: read reconciled row")
	}
	if !found {
		return papers.Row{}, apperr.New(apperr.Fatal, nil, "coordinator: fallback row missing after reconcile")
	}
	return final, nil
}

// wait implements spec.md §4.4.4: poll the row, reset the deadline whenever
// n advances, escalate (become the new owner) on timeout.
func (c *Coordinator) wait(ctx context.Context, key papers.SummaryKey, n int, gen Generator) (papers.Row, error) {
	currentN := n
	deadline := c.now().Add(c.cfg.waitTimeout())

	for {
		if err := ctx.Err(); err != nil {
			return papers.Row{}, err
		}

		row, found, err := c.repo.GetRow(ctx, key)
		if err != nil {
			return papers.Row{}, apperr.New(apperr.Dependency, err, "coordinator: poll row")
		}

		if !found {
			// Owner crashed and its placeholder vanished: insert a
			// safe-number placeholder far enough ahead to avoid colliding
			// with a reviving owner (spec.md §4.4.4, SafeEscalationNumber).
			safeN := papers.SafeEscalationNumber(currentN)
			fresh, won, err := c.repo.InsertProcessing(ctx, key, safeN)
			if err != nil {
				return papers.Row{}, apperr.New(apperr.Dependency, err, "coordinator: insert after abandonment")
			}
			if won {
				return c.own(ctx, key, safeN, gen)
			}
			currentN, _ = fresh.N()
			deadline = c.now().Add(c.cfg.waitTimeout())
			continue
		}

		if row.Ready() {
			return row, nil
		}

		if m, _ := row.N(); m > currentN {
			currentN = m
			deadline = c.now().Add(c.cfg.waitTimeout())
		}

		if !c.now().Before(deadline) {
			newN := currentN + 1
			bumped, ok, err := c.repo.BumpProcessing(ctx, key, currentN, newN)
			if err != nil {
				return papers.Row{}, apperr.New(apperr.Dependency, err, "coordinator: bump processing")
			}
			if ok {
				_ = bumped
				c.publish(ctx, events.KeyEscalated, key, map[string]any{"from_n": currentN, "to_n": newN})
				return c.own(ctx, key, newN, gen)
			}
			// Another escalator won the single conditional write; refresh
			// and keep waiting against whatever epoch now holds.
			refreshed, found, err := c.repo.GetRow(ctx, key)
			if err != nil {
				return papers.Row{}, apperr.New(apperr.Dependency, err, "coordinator: re-read after lost escalation race")
			}
			if !found {
				continue
			}
			if refreshed.Ready() {
				return refreshed, nil
			}
			currentN, _ = refreshed.N()
			deadline = c.now().Add(c.cfg.waitTimeout())
			continue
		}

		if err := c.sleep(ctx, c.cfg.pollInterval()); err != nil {
			return papers.Row{}, err
		}
	}
}
