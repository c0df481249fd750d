package coordinator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/scholiabot/core/internal/papers"
)

func testKey() papers.SummaryKey {
	return papers.SummaryKey{PaperID: 1, Provider: "anthropic", Model: "claude", Character: papers.CharacterNone}
}

func countingGenerator(calls *int32, delay time.Duration) Generator {
	return GeneratorFunc(func(ctx context.Context, key papers.SummaryKey) (GenResult, error) {
		atomic.AddInt32(calls, 1)
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return GenResult{}, ctx.Err()
			}
		}
		return GenResult{Body: "summary body", OnePoint: "one point", Provider: key.Provider, Model: key.Model}, nil
	})
}

func TestAcquireSingleRequesterGeneratesOnce(t *testing.T) {
	repo := papers.NewMemoryRepository()
	c := New(repo, Config{})
	var calls int32
	gen := countingGenerator(&calls, 0)

	row, err := c.Acquire(context.Background(), testKey(), nil, gen)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if !row.Ready() {
		t.Fatalf("expected ready row, got %+v", row)
	}
	if calls != 1 {
		t.Fatalf("expected 1 generation call, got %d", calls)
	}
}

// TestConcurrentDuplicateSuppression is spec.md §8's core concurrency
// property: N concurrent requests on the same absent key produce exactly
// one LLM invocation and all N see the same body.
func TestConcurrentDuplicateSuppression(t *testing.T) {
	repo := papers.NewMemoryRepository()
	c := New(repo, Config{PollInterval: 5 * time.Millisecond, WaitTimeout: time.Second})
	var calls int32
	gen := countingGenerator(&calls, 30*time.Millisecond)

	const n = 10
	var wg sync.WaitGroup
	rows := make([]papers.Row, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rows[i], errs[i] = c.Acquire(context.Background(), testKey(), nil, gen)
		}(i)
	}
	wg.Wait()

	if calls != 1 {
		t.Fatalf("expected exactly 1 LLM invocation, got %d", calls)
	}
	for i, err := range errs {
		if err != nil {
			t.Fatalf("requester %d failed: %v", i, err)
		}
		if rows[i].Body != "summary body" {
			t.Fatalf("requester %d got unexpected body %q", i, rows[i].Body)
		}
	}
}

func TestAcquireReturnsReadyWithoutRegenerating(t *testing.T) {
	repo := papers.NewMemoryRepository()
	c := New(repo, Config{})
	var calls int32
	gen := countingGenerator(&calls, 0)

	key := testKey()
	if _, err := c.Acquire(context.Background(), key, nil, gen); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Acquire(context.Background(), key, nil, gen); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("expected cached READY row to skip regeneration, got %d calls", calls)
	}
}

func TestAcquireRegeneratesStaleCustomSummary(t *testing.T) {
	repo := papers.NewMemoryRepository()
	c := New(repo, Config{})
	var calls int32
	gen := countingGenerator(&calls, 0)

	promptID := int64(7)
	key := papers.SummaryKey{PaperID: 1, PromptID: &promptID, Provider: "anthropic", Model: "claude"}

	row, err := c.Acquire(context.Background(), key, nil, gen)
	if err != nil {
		t.Fatal(err)
	}
	staleCheck := row.UpdatedAt.Add(time.Hour) // prompt edited after the row was generated
	if _, err := c.Acquire(context.Background(), key, &staleCheck, gen); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Fatalf("expected regeneration for stale custom summary, got %d calls", calls)
	}
}

// TestOwnerTimeoutEscalation exercises spec.md S3: an owner that never
// returns causes a waiter to bump PROCESSING_1 -> PROCESSING_2 and become
// the new owner.
func TestOwnerTimeoutEscalation(t *testing.T) {
	repo := papers.NewMemoryRepository()
	key := testKey()

	// Simulate a stalled owner: insert the placeholder directly without
	// ever completing it.
	if _, won, err := repo.InsertProcessing(context.Background(), key, 1); err != nil || !won {
		t.Fatalf("setup insert failed: won=%v err=%v", won, err)
	}

	c := New(repo, Config{PollInterval: 2 * time.Millisecond, WaitTimeout: 10 * time.Millisecond})
	var calls int32
	gen := countingGenerator(&calls, 0)

	row, err := c.Acquire(context.Background(), key, nil, gen)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if !row.Ready() {
		t.Fatalf("expected escalator to produce a READY row, got %+v", row)
	}
	if calls != 1 {
		t.Fatalf("expected escalator to generate exactly once, got %d", calls)
	}

	final, found, err := repo.GetRow(context.Background(), key)
	if err != nil || !found {
		t.Fatalf("expected final row to exist: found=%v err=%v", found, err)
	}
	if final.Body != "summary body" {
		t.Fatalf("unexpected final body: %q", final.Body)
	}
}

func TestWaitAbandonedRowUsesSafeEscalationNumber(t *testing.T) {
	repo := papers.NewMemoryRepository()
	key := testKey()
	c := New(repo, Config{PollInterval: time.Millisecond, WaitTimeout: time.Second})

	// Simulate: caller observes PROCESSING_5 via another path (we fake this
	// by directly calling wait with n=5) but the row has since vanished
	// entirely (owner crashed and its row was reaped).
	var ownedN int
	gen := GeneratorFunc(func(ctx context.Context, key papers.SummaryKey) (GenResult, error) {
		if r, found, err := repo.GetRow(ctx, key); err == nil && found {
			ownedN, _ = r.N()
		}
		return GenResult{Body: "x", OnePoint: "y"}, nil
	})

	row, err := c.wait(context.Background(), key, 5, gen)
	if err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if !row.Ready() {
		t.Fatalf("expected ready row")
	}
	if ownedN != papers.SafeEscalationNumber(5) {
		t.Fatalf("expected re-inserted placeholder at epoch %d, got %d", papers.SafeEscalationNumber(5), ownedN)
	}
	n, _ := papers.ParseProcessing(papers.ProcessingBody(papers.SafeEscalationNumber(5)))
	if n != papers.SafeEscalationNumber(5) {
		t.Fatalf("sanity check on SafeEscalationNumber failed")
	}
}

func TestGenerateDualNoCharacterSelectedMirrorsOneAcquire(t *testing.T) {
	repo := papers.NewMemoryRepository()
	c := New(repo, Config{})
	var calls int32
	gen := countingGenerator(&calls, 0)

	result := c.GenerateDual(context.Background(), testKey(), papers.CharacterNone, nil, gen)
	if !result.SameAsNone {
		t.Fatalf("expected SameAsNone=true when no character is selected")
	}
	if result.None.ID != result.Selected.ID {
		t.Fatalf("expected mirrored rows, got none=%+v selected=%+v", result.None, result.Selected)
	}
	if calls != 1 {
		t.Fatalf("expected 1 generation call when no character selected, got %d", calls)
	}
}

func TestGenerateDualBothCharactersGenerateIndependently(t *testing.T) {
	repo := papers.NewMemoryRepository()
	c := New(repo, Config{})
	var calls int32
	gen := countingGenerator(&calls, 10*time.Millisecond)

	base := testKey()
	result := c.GenerateDual(context.Background(), base, papers.CharacterA, nil, gen)
	if result.NoneErr != nil || result.SelectedErr != nil {
		t.Fatalf("unexpected errors: none=%v selected=%v", result.NoneErr, result.SelectedErr)
	}
	if result.None.Key.Character != papers.CharacterNone {
		t.Fatalf("expected none row character=none, got %q", result.None.Key.Character)
	}
	if result.Selected.Key.Character != papers.CharacterA {
		t.Fatalf("expected selected row character=A, got %q", result.Selected.Key.Character)
	}
	if calls != 2 {
		t.Fatalf("expected 2 generation calls (one per character), got %d", calls)
	}
}

func TestOwnGenerationFailureDeletesProcessingRow(t *testing.T) {
	repo := papers.NewMemoryRepository()
	c := New(repo, Config{})
	key := testKey()
	failing := GeneratorFunc(func(ctx context.Context, key papers.SummaryKey) (GenResult, error) {
		return GenResult{}, fmt.Errorf("llm exhausted")
	})

	if _, err := c.Acquire(context.Background(), key, nil, failing); err == nil {
		t.Fatalf("expected error from failing generator")
	}
	if _, found, err := repo.GetRow(context.Background(), key); err != nil || found {
		t.Fatalf("expected row to be deleted after total failure: found=%v err=%v", found, err)
	}
}
