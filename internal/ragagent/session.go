package ragagent

import (
	"context"
	"strconv"

	"github.com/scholiabot/core/internal/apperr"
	"github.com/scholiabot/core/internal/jobs"
	"github.com/scholiabot/core/internal/llm"
	"github.com/scholiabot/core/internal/persistence"
	"github.com/scholiabot/core/internal/prompts"
	"github.com/scholiabot/core/internal/tools"
	"github.com/scholiabot/core/internal/tools/web"
	"github.com/scholiabot/core/internal/vectorstore"
)

// webExtractAdapter renames the teacher's web_fetch tool to the name
// spec.md §4.7 calls it by (web_extract) without touching its logic.
type webExtractAdapter struct {
	tools.Tool
}

func (webExtractAdapter) Name() string { return "web_extract" }

func newWebExtractTool() tools.Tool {
	return webExtractAdapter{Tool: web.NewFetchTool(nil)}
}

// BuildTools assembles the C7 tool registry: corpus_search always, plus
// web_search/web_extract unless flavour is RAG-only (spec.md §4.8's
// "Research vs RAG tool-flavour variants" reuses this same switch for C8's
// Agent role).
func BuildTools(store vectorstore.Store, embedder Embedder, filter vectorstore.Filter, searxngURL string, includeWebTools bool) tools.Registry {
	reg := tools.NewRegistry()
	reg.Register(newCorpusSearchTool(store, embedder, filter, 8))
	if includeWebTools {
		reg.Register(web.NewTool(searxngURL))
		reg.Register(newWebExtractTool())
	}
	return reg
}

// Service wires together an Engine, a ChatStore, and the Prompt Resolver
// into the end-to-end RAG Agent session flow spec.md §4.7 describes: load
// session history, run the tool-calling loop, persist the resulting
// messages.
type Service struct {
	Engine   *Engine
	Chat     persistence.ChatStore
	Resolver *prompts.Resolver
}

// NewForUser builds a Service with a general (whole-corpus) corpus_search
// tool and both web tools enabled.
func NewForUser(gw Gateway, store vectorstore.Store, embedder Embedder, resolver *prompts.Resolver, chat persistence.ChatStore, userID int64, model string, maxSteps int, searxngURL string) *Service {
	reg := BuildTools(store, embedder, vectorstore.And(map[string]string{"user_id": strconv.FormatInt(userID, 10)}), searxngURL, true)
	return &Service{Engine: New(gw, reg, model, maxSteps), Chat: chat, Resolver: resolver}
}

// NewPaperChat implements C12: a RAG session scoped to exactly one paper,
// with web tools disabled, reusing the same Engine loop verbatim.
func NewPaperChat(gw Gateway, store vectorstore.Store, embedder Embedder, resolver *prompts.Resolver, chat persistence.ChatStore, userID, paperID int64, model string, maxSteps int) *Service {
	filter := vectorstore.And(map[string]string{
		"user_id":  strconv.FormatInt(userID, 10),
		"paper_id": strconv.FormatInt(paperID, 10),
	})
	reg := BuildTools(store, embedder, filter, "", false)
	return &Service{Engine: New(gw, reg, model, maxSteps), Chat: chat, Resolver: resolver}
}

// RunTurn loads sessionID's history, resolves the system prompt, runs one
// turn, and persists the new messages (spec.md §4.7 "sessions persist every
// message with its role and metadata").
func (s *Service) RunTurn(ctx context.Context, userID *int64, sessionID, userTurn string) (Result, error) {
	sess, err := s.Chat.GetSession(ctx, userID, sessionID)
	if err != nil {
		return Result{}, err
	}

	history, err := s.Chat.ListMessages(ctx, userID, sessionID, 0)
	if err != nil {
		return Result{}, err
	}
	asLLM := make([]llm.Message, 0, len(history))
	for _, m := range history {
		asLLM = append(asLLM, llm.Message{Role: m.Role, Content: m.Content})
	}

	var ownerID int64
	if sess.UserID != nil {
		ownerID = *sess.UserID
	}
	systemBody, err := ResolveSystemPrompt(ctx, s.Resolver, ownerID)
	if err != nil {
		return Result{}, err
	}

	result, err := s.Engine.Run(ctx, systemBody, asLLM, userTurn)
	if err != nil {
		return Result{}, err
	}

	toStore := append(
		[]persistence.ChatMessage{{SessionID: sessionID, Role: "user", Content: userTurn}},
		sessionMessages(sessionID, result.Messages)...,
	)
	if err := s.Chat.AppendMessages(ctx, userID, sessionID, toStore, previewOf(result.Answer), s.Engine.Model); err != nil {
		return Result{}, apperr.New(apperr.Dependency, err, "ragagent: persist session messages")
	}

	return result, nil
}

// RunAsync drives RunTurn on a background goroutine and reports progress
// through the Job Registry (C10), keyed by sessionID (spec.md §4.7's
// "asynchronous variant ... exposes status via the Job Registry").
func (s *Service) RunAsync(registry *jobs.Registry, userID *int64, sessionID, userTurn string) {
	registry.Start(sessionID, 1)
	go func() {
		bg := context.Background()
		if _, err := s.RunTurn(bg, userID, sessionID, userTurn); err != nil {
			registry.Finish(sessionID, err.Error())
			return
		}
		registry.Finish(sessionID, "")
	}()
}

func previewOf(s string) string {
	const max = 160
	if len(s) <= max {
		return s
	}
	return s[:max]
}
