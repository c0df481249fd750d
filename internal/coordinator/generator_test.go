package coordinator

import (
	"context"
	"testing"

	"github.com/scholiabot/core/internal/llm"
	"github.com/scholiabot/core/internal/papers"
	"github.com/scholiabot/core/internal/prompts"
)

type fakePaperSource struct {
	paper papers.PaperMetadata
	found bool
}

func (f fakePaperSource) GetPaper(ctx context.Context, paperID int64) (papers.PaperMetadata, bool, error) {
	return f.paper, f.found, nil
}

type fakePromptResolver struct{}

func (fakePromptResolver) Resolve(ctx context.Context, t prompts.Type, userID int64, promptID *int64, vars map[string]string) (prompts.Resolved, error) {
	return prompts.Resolved{Body: "summarize " + vars["title"]}, nil
}

type fakeGateway struct {
	content string
	route   llm.Route
}

func (f fakeGateway) Invoke(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, llm.Usage, llm.Route, error) {
	return llm.Message{Role: "assistant", Content: f.content}, llm.Usage{}, f.route, nil
}

func TestSummaryGeneratorExtractsOnePoint(t *testing.T) {
	gen := &SummaryGenerator{
		Papers:  fakePaperSource{paper: papers.PaperMetadata{ID: 1, Title: "Attention", FullText: "full text"}, found: true},
		Prompts: fakePromptResolver{},
		Gateway: fakeGateway{
			content: "長い本文です。\n一言でいうと：短い要約。\n続き。",
			route:   llm.Route{Provider: "anthropic", Model: "claude", UsedFallback: false},
		},
	}

	result, err := gen.Generate(context.Background(), papers.SummaryKey{PaperID: 1, Provider: "anthropic", Model: "claude"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if result.OnePoint != "短い要約。" {
		t.Fatalf("unexpected one-point: %q", result.OnePoint)
	}
	if result.Provider != "anthropic" || result.Model != "claude" {
		t.Fatalf("unexpected route: %+v", result)
	}
}

func TestSummaryGeneratorMissingMarkerYieldsEmptyOnePoint(t *testing.T) {
	gen := &SummaryGenerator{
		Papers:  fakePaperSource{paper: papers.PaperMetadata{ID: 1, Title: "Attention"}, found: true},
		Prompts: fakePromptResolver{},
		Gateway: fakeGateway{content: "no marker here"},
	}

	result, err := gen.Generate(context.Background(), papers.SummaryKey{PaperID: 1})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if result.OnePoint != "" {
		t.Fatalf("expected empty one-point, got %q", result.OnePoint)
	}
	if result.Body != "no marker here" {
		t.Fatalf("unexpected body: %q", result.Body)
	}
}

func TestSummaryGeneratorPaperNotFound(t *testing.T) {
	gen := &SummaryGenerator{
		Papers:  fakePaperSource{found: false},
		Prompts: fakePromptResolver{},
		Gateway: fakeGateway{},
	}
	if _, err := gen.Generate(context.Background(), papers.SummaryKey{PaperID: 99}); err == nil {
		t.Fatal("expected error for missing paper")
	}
}

func TestTruncatePaperText(t *testing.T) {
	if got := truncatePaperText("hello", 3); got != "hel" {
		t.Fatalf("unexpected truncation: %q", got)
	}
	if got := truncatePaperText("hi", 10); got != "hi" {
		t.Fatalf("unexpected truncation of short text: %q", got)
	}
}
