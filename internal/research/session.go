package research

import (
	"context"
	"strconv"

	"github.com/scholiabot/core/internal/apperr"
	"github.com/scholiabot/core/internal/jobs"
	"github.com/scholiabot/core/internal/prompts"
	"github.com/scholiabot/core/internal/ragagent"
	"github.com/scholiabot/core/internal/tools"
	"github.com/scholiabot/core/internal/vectorstore"
)

// defaultGroupName is the PromptGroup name every session resolves against
// unless a user has defined their own group (not yet surfaced via an
// editing UI; group lookup falls back to per-role type defaults when
// nothing is seeded, so this is safe ahead of that surface existing).
const defaultGroupName = "default"

// Service wires an Engine to the Prompt Resolver and a tool-registry
// builder, choosing between the Research (web tools) and RAG (corpus tool
// only) flavours spec.md §4.8 describes.
type Service struct {
	Engine   *Engine
	Resolver *prompts.Resolver
	Store    Store

	vectorStore vectorstore.Store
	embedder    ragagent.Embedder
	searxngURL  string
}

func NewService(gw Gateway, store Store, resolver *prompts.Resolver, vstore vectorstore.Store, embedder ragagent.Embedder, model string, recursionLimit, roleMaxRetries int, searxngURL string) *Service {
	return &Service{
		Engine:      New(gw, store, model, recursionLimit, roleMaxRetries),
		Resolver:    resolver,
		Store:       store,
		vectorStore: vstore,
		embedder:    embedder,
		searxngURL:  searxngURL,
	}
}

// buildTools reuses C7's tool registry builder: Research sessions get
// corpus_search plus both web tools, RAG sessions get corpus_search alone.
func (s *Service) buildTools(userID int64, flavour Flavour) tools.Registry {
	filter := vectorstore.And(map[string]string{"user_id": strconv.FormatInt(userID, 10)})
	return ragagent.BuildTools(s.vectorStore, s.embedder, filter, s.searxngURL, flavour == FlavourResearch)
}

// StartSession creates a new ResearchSession in the requested flavour.
func (s *Service) StartSession(ctx context.Context, userID *int64, name string, flavour Flavour) (ResearchSession, error) {
	return s.Store.CreateSession(ctx, userID, name, flavour)
}

// RunTurn resolves the session's per-role prompts and drives the graph for
// one user turn synchronously.
func (s *Service) RunTurn(ctx context.Context, userID *int64, sessionID, userTurn string) error {
	sess, err := s.Store.GetSession(ctx, userID, sessionID)
	if err != nil {
		return err
	}

	var ownerID int64
	if sess.UserID != nil {
		ownerID = *sess.UserID
	}
	resolved, err := s.Resolver.ResolveGroup(ctx, defaultGroupName, ownerID, string(sess.Flavour))
	if err != nil {
		return apperr.New(apperr.Dependency, err, "research: resolve role prompts")
	}
	rolePrompts := make(RolePrompts, len(resolved))
	for role, r := range resolved {
		rolePrompts[role] = r.Body
	}

	registry := s.buildTools(ownerID, sess.Flavour)
	return s.Engine.Run(ctx, userID, sessionID, registry, rolePrompts, userTurn)
}

// RunAsync drives RunTurn on a background goroutine, reporting progress
// through the Job Registry (C10) keyed by sessionID, per spec.md §4.8/§6.
func (s *Service) RunAsync(registry *jobs.Registry, userID *int64, sessionID, userTurn string) {
	registry.Start(sessionID, 1)
	go func() {
		bg := context.Background()
		if err := s.RunTurn(bg, userID, sessionID, userTurn); err != nil {
			registry.Finish(sessionID, err.Error())
			return
		}
		registry.Finish(sessionID, "")
	}()
}
