package research

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/scholiabot/core/internal/llm"
	"github.com/scholiabot/core/internal/tools"
)

type scriptedGateway struct {
	turns []llm.Message
	calls int
}

func (g *scriptedGateway) next() llm.Message {
	msg := g.turns[g.calls]
	g.calls++
	return msg
}

func (g *scriptedGateway) Invoke(ctx context.Context, msgs []llm.Message, toolSchemas []llm.ToolSchema, model string) (llm.Message, llm.Usage, llm.Route, error) {
	return g.next(), llm.Usage{}, llm.Route{}, nil
}

func (g *scriptedGateway) InvokeStructured(ctx context.Context, msgs []llm.Message, toolSchemas []llm.ToolSchema, model string, maxAttempts int, validate func(string) error) (llm.Message, llm.Usage, llm.Route, error) {
	msg := g.next()
	if validate != nil {
		if err := validate(msg.Content); err != nil {
			return llm.Message{}, llm.Usage{}, llm.Route{}, err
		}
	}
	return msg, llm.Usage{}, llm.Route{}, nil
}

func assistantJSON(v any) llm.Message {
	b, _ := json.Marshal(v)
	return llm.Message{Role: "assistant", Content: string(b)}
}

func newTestService(gw Gateway, recursionLimit int) (*Engine, Store, string) {
	store := NewMemoryStore()
	engine := New(gw, store, "claude", recursionLimit, 3)
	sess, _ := store.CreateSession(context.Background(), nil, "s", FlavourRAG)
	return engine, store, sess.ID
}

var testPrompts = RolePrompts{
	"coordinator": "you are the coordinator",
	"planner":     "you are the planner",
	"supervisor":  "you are the supervisor",
	"agent":       "you are the agent",
	"summary":     "you are the summary writer",
}

func TestRunCoordinatorEndTerminatesWithoutPlanning(t *testing.T) {
	gw := &scriptedGateway{turns: []llm.Message{
		assistantJSON(coordinatorOutput{Response: "the answer is 4", Next: "END"}),
	}}
	engine, store, sessionID := newTestService(gw, 100)

	if err := engine.Run(context.Background(), nil, sessionID, tools.NewRegistry(), testPrompts, "what is 2+2?"); err != nil {
		t.Fatal(err)
	}

	sess, _ := store.GetSession(context.Background(), nil, sessionID)
	if sess.ProcessingStatus != StatusDone {
		t.Fatalf("expected status done, got %s", sess.ProcessingStatus)
	}
	msgs, _ := store.ListMessages(context.Background(), nil, sessionID)
	var coordMsg *ResearchMessage
	for i := range msgs {
		if msgs[i].Role == RoleCoordinator {
			coordMsg = &msgs[i]
		}
	}
	if coordMsg == nil || coordMsg.IsIntermediate {
		t.Fatalf("expected a non-intermediate coordinator message, got %+v", coordMsg)
	}
}

func TestRunFullGraphReachesSummary(t *testing.T) {
	gw := &scriptedGateway{turns: []llm.Message{
		assistantJSON(coordinatorOutput{Response: "let's look into it", Next: "planner"}),
		{Role: "assistant", Content: "plan: search the corpus then summarize"},
		assistantJSON(supervisorOutput{NextAction: "search the corpus", Next: "agent"}),
		{Role: "assistant", Content: "I found nothing useful"},
		assistantJSON(supervisorOutput{NextAction: "wrap up", Next: "summary"}),
		{Role: "assistant", Content: "# Final Report\n\nNo relevant results."},
	}}
	engine, store, sessionID := newTestService(gw, 100)

	if err := engine.Run(context.Background(), nil, sessionID, tools.NewRegistry(), testPrompts, "research X"); err != nil {
		t.Fatal(err)
	}

	sess, _ := store.GetSession(context.Background(), nil, sessionID)
	if sess.ProcessingStatus != StatusDone {
		t.Fatalf("expected status done, got %s", sess.ProcessingStatus)
	}
	msgs, _ := store.ListMessages(context.Background(), nil, sessionID)
	last := msgs[len(msgs)-1]
	if last.Role != RoleSummary || last.IsIntermediate {
		t.Fatalf("expected final non-intermediate summary message, got %+v", last)
	}
}

type echoToolRegistry struct {
	tools.Registry
	calls int
}

func (r *echoToolRegistry) Dispatch(ctx context.Context, name string, raw json.RawMessage) ([]byte, error) {
	r.calls++
	return r.Registry.Dispatch(ctx, name, raw)
}

type echoTool struct{}

func (echoTool) Name() string { return "corpus_search" }
func (echoTool) JSONSchema() map[string]any {
	return map[string]any{"name": "corpus_search", "parameters": map[string]any{}}
}
func (echoTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	return map[string]any{"results": []string{"a paper"}}, nil
}

func TestRunAgentToolCallRoutesThroughTools(t *testing.T) {
	base := tools.NewRegistry()
	base.Register(echoTool{})
	registry := &echoToolRegistry{Registry: base}

	gw := &scriptedGateway{turns: []llm.Message{
		assistantJSON(coordinatorOutput{Response: "ok", Next: "planner"}),
		{Role: "assistant", Content: "plan it"},
		assistantJSON(supervisorOutput{NextAction: "search", Next: "agent"}),
		{Role: "assistant", ToolCalls: []llm.ToolCall{{Name: "corpus_search", Args: json.RawMessage(`{"query":"x"}`), ID: "t1"}}},
		{Role: "assistant", Content: "done searching"},
		assistantJSON(supervisorOutput{NextAction: "wrap up", Next: "summary"}),
		{Role: "assistant", Content: "# Report"},
	}}
	engine, store, sessionID := newTestService(gw, 100)

	if err := engine.Run(context.Background(), nil, sessionID, registry, testPrompts, "research X"); err != nil {
		t.Fatal(err)
	}
	if registry.calls != 1 {
		t.Fatalf("expected exactly one tool dispatch, got %d", registry.calls)
	}

	msgs, _ := store.ListMessages(context.Background(), nil, sessionID)
	var sawTools bool
	for _, m := range msgs {
		if m.Role == RoleTools {
			sawTools = true
		}
	}
	if !sawTools {
		t.Fatalf("expected a persisted Tools-role message")
	}
}

func TestRunRecursionLimitExceededMarksFailed(t *testing.T) {
	turns := make([]llm.Message, 0, 20)
	for i := 0; i < 10; i++ {
		turns = append(turns,
			assistantJSON(coordinatorOutput{Response: "ok", Next: "planner"}),
			assistantJSON(coordinatorOutput{Response: "ok", Next: "planner"}),
		)
	}
	gw := &scriptedGateway{turns: turns}
	engine, store, sessionID := newTestService(gw, 2)

	if err := engine.Run(context.Background(), nil, sessionID, tools.NewRegistry(), testPrompts, "loop forever"); err == nil {
		t.Fatal("expected recursion limit error")
	}

	sess, _ := store.GetSession(context.Background(), nil, sessionID)
	if sess.ProcessingStatus != StatusFailed {
		t.Fatalf("expected status failed, got %s", sess.ProcessingStatus)
	}
	msgs, _ := store.ListMessages(context.Background(), nil, sessionID)
	last := msgs[len(msgs)-1]
	if last.Role != RoleSystemError {
		t.Fatalf("expected a system_error message, got %+v", last)
	}
}
