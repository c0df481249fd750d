package coordinator

import (
	"context"
	"time"

	"github.com/scholiabot/core/internal/papers"
	"github.com/scholiabot/core/internal/prompts"
)

// Service is the production entry point for spec.md §4.4: the summary
// request path the external HTTP surface drives (spec.md §1/§6) wires one
// of these per request and calls GenerateSummary.
type Service struct {
	Coordinator *Coordinator
	Generator   Generator
	Prompts     prompts.Repository
}

// NewService builds a Coordinator over repo and pairs it with generator,
// looking up linked-prompt staleness through promptRepo.
func NewService(repo papers.SummaryRepository, promptRepo prompts.Repository, generator Generator, cfg Config) *Service {
	return &Service{
		Coordinator: New(repo, cfg),
		Generator:   generator,
		Prompts:     promptRepo,
	}
}

// GenerateSummary runs spec.md §4.4.6's dual-character generation for base.
// For a custom key it first resolves the linked prompt's current
// updated_at, so a READY row generated before the prompt was last edited is
// treated as stale and regenerated (spec.md §4.4.3 step 2) instead of being
// served as-is.
func (s *Service) GenerateSummary(ctx context.Context, base papers.SummaryKey, selected papers.Character) DualResult {
	var promptUpdatedAt *time.Time
	if base.PromptID != nil {
		if p, found, err := s.Prompts.GetByID(ctx, *base.PromptID); err == nil && found {
			t := p.UpdatedAt
			promptUpdatedAt = &t
		}
	}
	return s.Coordinator.GenerateDual(ctx, base, selected, promptUpdatedAt, s.Generator)
}
