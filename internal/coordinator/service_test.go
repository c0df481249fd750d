package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/scholiabot/core/internal/papers"
	"github.com/scholiabot/core/internal/prompts"
)

func TestServiceGenerateSummaryRegeneratesStaleCustomRow(t *testing.T) {
	repo := papers.NewMemoryRepository()
	promptRepo := prompts.NewMemoryRepository()
	created, err := promptRepo.CreatePrompt(context.Background(), prompts.Prompt{Type: prompts.TypeDefaultSummary, Body: "custom prompt", IsActive: true, OwnerUserID: int64Ptr(1)})
	if err != nil {
		t.Fatalf("CreatePrompt failed: %v", err)
	}

	var calls int32
	gen := GeneratorFunc(func(ctx context.Context, key papers.SummaryKey) (GenResult, error) {
		calls++
		return GenResult{Body: "body", OnePoint: "point", Provider: key.Provider, Model: key.Model}, nil
	})

	svc := NewService(repo, promptRepo, gen, Config{})
	key := papers.SummaryKey{UserID: 1, PaperID: 1, PromptID: &created.ID, Provider: "anthropic", Model: "claude"}

	result := svc.GenerateSummary(context.Background(), key, papers.CharacterNone)
	if result.NoneErr != nil {
		t.Fatalf("first generation failed: %v", result.NoneErr)
	}
	if calls != 1 {
		t.Fatalf("expected 1 generation call, got %d", calls)
	}

	// Touch the prompt so its updated_at moves forward; the next
	// GenerateSummary call must see the existing READY row as stale and
	// regenerate rather than serving it as-is.
	time.Sleep(time.Millisecond)
	if _, err := promptRepo.UpdatePrompt(context.Background(), prompts.Prompt{ID: created.ID, Body: "edited prompt", IsActive: true}); err != nil {
		t.Fatalf("UpdatePrompt failed: %v", err)
	}

	result = svc.GenerateSummary(context.Background(), key, papers.CharacterNone)
	if result.NoneErr != nil {
		t.Fatalf("second generation failed: %v", result.NoneErr)
	}
	if calls != 2 {
		t.Fatalf("expected regeneration after prompt edit, got %d calls", calls)
	}
}

func int64Ptr(v int64) *int64 { return &v }
