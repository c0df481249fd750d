package coordinator

import (
	"context"
	"fmt"
	"strings"

	"github.com/scholiabot/core/internal/llm"
	"github.com/scholiabot/core/internal/papers"
	"github.com/scholiabot/core/internal/prompts"
)

// maxPaperChars bounds how much of a paper's text is handed to the Gateway,
// per spec.md §4.4.5 step 1.
const maxPaperChars = 100_000

// onePointMarker is the fixed marker spec.md §4.4.5 step 2 requires the
// default-summary prompt to ask the model to prefix its one-line summary
// with, so the owner can mechanically split it out of the generated body.
const onePointMarker = "一言でいうと"

// PaperSource is the narrow papers.LinkStore surface SummaryGenerator reads
// through.
type PaperSource interface {
	GetPaper(ctx context.Context, paperID int64) (papers.PaperMetadata, bool, error)
}

// Gateway is the narrow llm.Gateway surface SummaryGenerator calls through.
type Gateway interface {
	Invoke(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, llm.Usage, llm.Route, error)
}

// PromptResolver is the narrow prompts.Resolver surface SummaryGenerator
// calls through.
type PromptResolver interface {
	Resolve(ctx context.Context, t prompts.Type, userID int64, promptID *int64, vars map[string]string) (prompts.Resolved, error)
}

// SummaryGenerator is the production Generator: it implements spec.md
// §4.4.5's owner-side generation step by resolving the prompt (C2),
// truncating the paper text, invoking the Gateway (C1), and splitting the
// one-point summary out of the returned body.
type SummaryGenerator struct {
	Papers  PaperSource
	Prompts PromptResolver
	Gateway Gateway
}

// Generate implements Generator.
func (s *SummaryGenerator) Generate(ctx context.Context, key papers.SummaryKey) (GenResult, error) {
	paper, found, err := s.Papers.GetPaper(ctx, key.PaperID)
	if err != nil {
		return GenResult{}, fmt.Errorf("summary generator: read paper %d: %w", key.PaperID, err)
	}
	if !found {
		return GenResult{}, fmt.Errorf("summary generator: paper %d not found", key.PaperID)
	}

	resolved, err := s.Prompts.Resolve(ctx, prompts.TypeDefaultSummary, key.UserID, key.PromptID, map[string]string{
		"title":    paper.Title,
		"abstract": paper.Abstract,
	})
	if err != nil {
		return GenResult{}, fmt.Errorf("summary generator: resolve prompt: %w", err)
	}

	msgs := []llm.Message{
		{Role: "system", Content: resolved.Body},
		{Role: "user", Content: truncatePaperText(paper.FullText, maxPaperChars)},
	}

	msg, _, route, err := s.Gateway.Invoke(ctx, msgs, nil, key.Model)
	if err != nil {
		return GenResult{}, fmt.Errorf("summary generator: gateway invoke: %w", err)
	}

	onePoint := extractOnePoint(msg.Content)
	return GenResult{
		Body:         msg.Content,
		OnePoint:     onePoint,
		Provider:     route.Provider,
		Model:        route.Model,
		UsedFallback: route.UsedFallback,
	}, nil
}

// truncatePaperText bounds text to at most maxRunes runes.
func truncatePaperText(text string, maxRunes int) string {
	r := []rune(text)
	if len(r) <= maxRunes {
		return text
	}
	return string(r[:maxRunes])
}

// extractOnePoint locates onePointMarker in content and returns the text of
// the line it introduces, trimmed of the marker's own punctuation. Absence
// of the marker (the model ignored the prompt's instruction) yields an
// empty one-point rather than an error — spec.md §4.4.5 treats one_point as
// best-effort.
func extractOnePoint(content string) string {
	idx := strings.Index(content, onePointMarker)
	if idx < 0 {
		return ""
	}
	rest := content[idx+len(onePointMarker):]
	rest = strings.TrimPrefix(rest, "：")
	rest = strings.TrimPrefix(rest, ":")
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[:nl]
	}
	return strings.TrimSpace(rest)
}
