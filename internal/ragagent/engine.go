// Package ragagent implements the RAG Agent Graph (C7): a bounded
// tool-calling loop over the LLM Gateway, grounded on the teacher's
// internal/agent/engine.go runLoop (the `for step < MaxSteps` / dispatch-
// tools / append-messages shape), generalized to enforce spec.md §4.7's
// citation policy and extract references post-hoc from tool output.
package ragagent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/scholiabot/core/internal/apperr"
	"github.com/scholiabot/core/internal/llm"
	"github.com/scholiabot/core/internal/observability"
	"github.com/scholiabot/core/internal/persistence"
	"github.com/scholiabot/core/internal/prompts"
	"github.com/scholiabot/core/internal/tools"
)

// Gateway is the narrow llm.Gateway surface the engine calls through.
type Gateway interface {
	Invoke(ctx context.Context, msgs []llm.Message, toolSchemas []llm.ToolSchema, model string) (llm.Message, llm.Usage, llm.Route, error)
}

// Reference is one post-hoc extracted citation (spec.md §4.7): a paper id
// from a corpus_search hit, or a title+url pair from a web_search hit.
type Reference struct {
	Kind    string // "paper" | "web"
	PaperID string
	Title   string
	URL     string
}

// Result is the outcome of a single Run: the final answer text, the
// messages appended this turn (for session persistence), and the
// references extracted from tool outputs along the way.
type Result struct {
	Answer     string
	Messages   []llm.Message
	References []Reference
}

// citationPolicy is appended to the leading system message. It is the single
// place spec.md §4.7's citation policy is enforced: inline URLs, no numeric
// footnotes.
const citationPolicy = "When citing external sources, embed the URL directly in the sentence (e.g. \"according to https://example.com/paper\"). Never use numeric footnote markers like [1] or [2]."

// Engine runs the bounded tool-calling loop for one turn of a RAG session.
type Engine struct {
	Gateway  Gateway
	Tools    tools.Registry
	MaxSteps int
	Model    string
}

// New builds an Engine with the given tool registry and model, defaulting
// MaxSteps to config.ResearchConfig.RAGMaxSteps's value (12) when unset.
func New(gw Gateway, registry tools.Registry, model string, maxSteps int) *Engine {
	if maxSteps <= 0 {
		maxSteps = 12
	}
	return &Engine{Gateway: gw, Tools: registry, MaxSteps: maxSteps, Model: model}
}

// Run drives the loop starting from systemPromptBody (the resolved
// TypeRAGAgent prompt, persona already applied by the Prompt Resolver) and
// history (prior session messages, oldest first) plus the new user turn.
func (e *Engine) Run(ctx context.Context, systemPromptBody string, history []llm.Message, userTurn string) (Result, error) {
	log := observability.LoggerWithTrace(ctx)

	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: "system", Content: systemPromptBody + "\n\n" + citationPolicy})
	msgs = append(msgs, history...)
	msgs = append(msgs, llm.Message{Role: "user", Content: userTurn})

	startLen := len(msgs)
	schemas := e.Tools.Schemas()

	var refs []Reference
	var final string

	for step := 0; step < e.MaxSteps; step++ {
		msg, _, _, err := e.Gateway.Invoke(ctx, msgs, schemas, e.Model)
		if err != nil {
			return Result{}, apperr.New(apperr.Dependency, err, "ragagent: gateway invoke")
		}
		msgs = append(msgs, msg)

		if len(msg.ToolCalls) == 0 {
			final = msg.Content
			break
		}

		log.Info().Int("step", step).Int("tool_calls", len(msg.ToolCalls)).Msg("ragagent_tool_calls")
		for _, tc := range msg.ToolCalls {
			payload, err := e.Tools.Dispatch(ctx, tc.Name, tc.Args)
			if err != nil {
				payload = []byte(fmt.Sprintf(`{"ok":false,"error":%q}`, err.Error()))
			}
			refs = append(refs, extractReferences(tc.Name, payload)...)
			msgs = append(msgs, llm.Message{Role: "tool", ToolID: tc.ID, Content: string(payload)})
		}
	}

	if final == "" {
		return Result{}, apperr.New(apperr.Timeout, nil, "ragagent: exceeded max steps (%d) without a final answer", e.MaxSteps)
	}

	return Result{Answer: final, Messages: msgs[startLen:], References: dedupeReferences(refs)}, nil
}

// extractReferences parses a tool's raw JSON output for citable entities:
// paper ids from corpus_search, title+url pairs from web_search.
func extractReferences(toolName string, payload []byte) []Reference {
	switch toolName {
	case "corpus_search":
		var decoded struct {
			Results []corpusSearchResult `json:"results"`
		}
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return nil
		}
		out := make([]Reference, 0, len(decoded.Results))
		for _, r := range decoded.Results {
			if r.PaperID == "" {
				continue
			}
			out = append(out, Reference{Kind: "paper", PaperID: r.PaperID})
		}
		return out
	case "web_search":
		var decoded struct {
			Results []struct {
				Title string `json:"title"`
				URL   string `json:"url"`
			} `json:"results"`
		}
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return nil
		}
		out := make([]Reference, 0, len(decoded.Results))
		for _, r := range decoded.Results {
			if r.URL == "" {
				continue
			}
			out = append(out, Reference{Kind: "web", Title: r.Title, URL: r.URL})
		}
		return out
	default:
		return nil
	}
}

func dedupeReferences(refs []Reference) []Reference {
	seen := map[Reference]bool{}
	out := make([]Reference, 0, len(refs))
	for _, r := range refs {
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

// sessionMessages converts llm.Message into persistence.ChatMessage for
// storage, dropping tool-call scaffolding fields the ChatStore schema has
// no column for (the raw content is still preserved for tool messages).
func sessionMessages(sessionID string, msgs []llm.Message) []persistence.ChatMessage {
	out := make([]persistence.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, persistence.ChatMessage{SessionID: sessionID, Role: m.Role, Content: m.Content})
	}
	return out
}

// ResolveSystemPrompt resolves the TypeRAGAgent prompt (persona-prepended
// per spec.md §4.2 when the user has a character selected).
func ResolveSystemPrompt(ctx context.Context, resolver *prompts.Resolver, userID int64) (string, error) {
	resolved, err := resolver.Resolve(ctx, prompts.TypeRAGAgent, userID, nil, nil)
	if err != nil {
		return "", apperr.New(apperr.Dependency, err, "ragagent: resolve system prompt")
	}
	return resolved.Body, nil
}
