package research

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/scholiabot/core/internal/apperr"
	"github.com/scholiabot/core/internal/llm"
	"github.com/scholiabot/core/internal/tools"
)

// Gateway is the narrow llm.Gateway dependency the graph needs: plain
// Invoke for the Agent role's tool-calling turns, InvokeStructured for the
// structured-output roles' in-graph retry (spec.md §4.8).
type Gateway interface {
	Invoke(ctx context.Context, msgs []llm.Message, toolSchemas []llm.ToolSchema, model string) (llm.Message, llm.Usage, llm.Route, error)
	InvokeStructured(ctx context.Context, msgs []llm.Message, toolSchemas []llm.ToolSchema, model string, maxAttempts int, validate func(raw string) error) (llm.Message, llm.Usage, llm.Route, error)
}

// RolePrompts maps each role to its (already-resolved, substitution-applied)
// system prompt body, keyed the same as prompts.Resolver.ResolveGroup's
// output map ("coordinator", "planner", "supervisor", "agent", "summary").
type RolePrompts map[string]string

// defaultRoleMaxRetries is the in-graph structured-output retry ceiling
// spec.md §4.8 specifies ("up to 3 attempts per role"), layered on top of
// the Gateway's own transport-level retry. Tunable via
// config.ResearchConfig.RoleMaxRetries.
const defaultRoleMaxRetries = 3

const defaultRecursionLimit = 20000

// Engine drives the five-role fixed state machine for one session. It is
// grounded on dshills-langgraph-go's graph/node model (role-as-node,
// structured-output `next` field routing, a large recursion limit as a
// pure safety net rather than the expected exit path) generalized from that
// package's general-purpose graph executor down to C8's fixed five roles.
type Engine struct {
	Gateway        Gateway
	Store          Store
	Model          string
	RecursionLimit int
	RoleMaxRetries int
}

func New(gw Gateway, store Store, model string, recursionLimit, roleMaxRetries int) *Engine {
	if recursionLimit <= 0 {
		recursionLimit = defaultRecursionLimit
	}
	if roleMaxRetries <= 0 {
		roleMaxRetries = defaultRoleMaxRetries
	}
	return &Engine{Gateway: gw, Store: store, Model: model, RecursionLimit: recursionLimit, RoleMaxRetries: roleMaxRetries}
}

type coordinatorOutput struct {
	Reasoning string `json:"reasoning"`
	Response  string `json:"response"`
	Next      string `json:"next"`
}

type supervisorOutput struct {
	Reasoning  string `json:"reasoning"`
	Planning   string `json:"planning"`
	NextAction string `json:"next_action"`
	Next       string `json:"next"`
}

// Run drives sessionID's graph for one user turn: it persists userTurn as a
// RoleUser message, then walks Coordinator -> [Planner -> Supervisor <->
// {Agent, Tools} -> Summary] until a terminal role is reached, the
// recursion limit fires, or a role errors.
//
// registry supplies the Agent role's tool set (Research or RAG flavour,
// selected by the caller per session.Flavour). rolePrompts supplies each
// role's system prompt body, resolved ahead of time via
// prompts.Resolver.ResolveGroup.
func (e *Engine) Run(ctx context.Context, userID *int64, sessionID string, registry tools.Registry, rolePrompts RolePrompts, userTurn string) error {
	if err := e.Store.AppendMessage(ctx, userID, sessionID, ResearchMessage{Role: RoleUser, Content: userTurn, IsIntermediate: false}); err != nil {
		return err
	}

	role := RoleCoordinator
	var pendingCalls []llm.ToolCall
	for step := 0; ; step++ {
		if step >= e.RecursionLimit {
			return e.fail(ctx, userID, sessionID, fmt.Errorf("research graph: recursion limit (%d) exceeded", e.RecursionLimit))
		}

		var err error
		switch role {
		case RoleCoordinator:
			role, err = e.runCoordinator(ctx, userID, sessionID, rolePrompts)
		case RolePlanner:
			role, err = e.runPlanner(ctx, userID, sessionID, rolePrompts)
		case RoleSupervisor:
			role, err = e.runSupervisor(ctx, userID, sessionID, rolePrompts)
		case RoleAgent:
			var calls []llm.ToolCall
			role, calls, err = e.runAgent(ctx, userID, sessionID, registry, rolePrompts)
			pendingCalls = calls
		case RoleTools:
			role, err = e.runTools(ctx, userID, sessionID, registry, pendingCalls)
			pendingCalls = nil
		case RoleSummary:
			err = e.runSummary(ctx, userID, sessionID, rolePrompts)
			if err == nil {
				return e.Store.UpdateStatus(ctx, userID, sessionID, StatusDone)
			}
		case "":
			// Coordinator routed to END: a defined terminal path, not an
			// unknown completion.
			return e.Store.UpdateStatus(ctx, userID, sessionID, StatusDone)
		default:
			return e.Store.UpdateStatus(ctx, userID, sessionID, StatusUnknownCompletion)
		}
		if err != nil {
			return e.fail(ctx, userID, sessionID, err)
		}
	}
}

func (e *Engine) fail(ctx context.Context, userID *int64, sessionID string, cause error) error {
	_ = e.Store.AppendMessage(ctx, userID, sessionID, ResearchMessage{Role: RoleSystemError, Content: cause.Error(), IsIntermediate: false})
	_ = e.Store.UpdateStatus(ctx, userID, sessionID, StatusFailed)
	return apperr.New(apperr.Dependency, cause, "research graph: role failed")
}

func (e *Engine) history(ctx context.Context, userID *int64, sessionID string) ([]ResearchMessage, error) {
	return e.Store.ListMessages(ctx, userID, sessionID)
}

func toWire(msgs []ResearchMessage) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		wireRole := "assistant"
		switch m.Role {
		case RoleUser:
			wireRole = "user"
		case RoleTools:
			wireRole = "tool"
		}
		out = append(out, llm.Message{Role: wireRole, Content: m.Content})
	}
	return out
}

func withSystem(prompt string, msgs []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs)+1)
	out = append(out, llm.Message{Role: "system", Content: prompt})
	return append(out, msgs...)
}

func nonEmpty(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("empty response")
	}
	return nil
}

// runCoordinator implements the Coordinator role: input is the session's
// user messages, output is {reasoning, response, next}. next selects
// Planner or the terminal END path.
func (e *Engine) runCoordinator(ctx context.Context, userID *int64, sessionID string, prompts RolePrompts) (Role, error) {
	if err := e.Store.UpdateStatus(ctx, userID, sessionID, StatusCoordinating); err != nil {
		return "", err
	}
	hist, err := e.history(ctx, userID, sessionID)
	if err != nil {
		return "", err
	}
	var userMsgs []ResearchMessage
	for _, m := range hist {
		if m.Role == RoleUser {
			userMsgs = append(userMsgs, m)
		}
	}

	var out coordinatorOutput
	validate := func(raw string) error {
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			return err
		}
		if out.Next != "planner" && out.Next != "END" {
			return fmt.Errorf("next must be %q or %q, got %q", "planner", "END", out.Next)
		}
		return nil
	}
	msgs := withSystem(prompts[string(RoleCoordinator)], toWire(userMsgs))
	if _, _, _, err := e.Gateway.InvokeStructured(ctx, msgs, nil, e.Model, e.RoleMaxRetries, validate); err != nil {
		return "", err
	}

	terminal := out.Next == "END"
	if err := e.Store.AppendMessage(ctx, userID, sessionID, ResearchMessage{Role: RoleCoordinator, Content: out.Response, IsIntermediate: !terminal}); err != nil {
		return "", err
	}
	if terminal {
		return "", nil
	}
	return RolePlanner, nil
}

// runPlanner implements the Planner role: input is user+coordinator
// messages, output is a free-text strategy plan, next is always Supervisor.
func (e *Engine) runPlanner(ctx context.Context, userID *int64, sessionID string, prompts RolePrompts) (Role, error) {
	if err := e.Store.UpdateStatus(ctx, userID, sessionID, StatusPlanning); err != nil {
		return "", err
	}
	hist, err := e.history(ctx, userID, sessionID)
	if err != nil {
		return "", err
	}
	var filtered []ResearchMessage
	for _, m := range hist {
		if m.Role == RoleUser || m.Role == RoleCoordinator {
			filtered = append(filtered, m)
		}
	}

	msgs := withSystem(prompts[string(RolePlanner)], toWire(filtered))
	msg, _, _, err := e.Gateway.InvokeStructured(ctx, msgs, nil, e.Model, e.RoleMaxRetries, nonEmpty)
	if err != nil {
		return "", err
	}
	if err := e.Store.AppendMessage(ctx, userID, sessionID, ResearchMessage{Role: RolePlanner, Content: msg.Content, IsIntermediate: true}); err != nil {
		return "", err
	}
	return RoleSupervisor, nil
}

// runSupervisor implements the Supervisor role: input is the full history
// minus Tools-role clutter, output is {reasoning, planning, next_action,
// next}. next selects Agent (continue investigating) or Summary (wrap up).
func (e *Engine) runSupervisor(ctx context.Context, userID *int64, sessionID string, prompts RolePrompts) (Role, error) {
	if err := e.Store.UpdateStatus(ctx, userID, sessionID, StatusSupervising); err != nil {
		return "", err
	}
	hist, err := e.history(ctx, userID, sessionID)
	if err != nil {
		return "", err
	}
	var filtered []ResearchMessage
	for _, m := range hist {
		if m.Role != RoleTools {
			filtered = append(filtered, m)
		}
	}

	var out supervisorOutput
	validate := func(raw string) error {
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			return err
		}
		if out.Next != "agent" && out.Next != "summary" {
			return fmt.Errorf("next must be %q or %q, got %q", "agent", "summary", out.Next)
		}
		return nil
	}
	msgs := withSystem(prompts[string(RoleSupervisor)], toWire(filtered))
	if _, _, _, err := e.Gateway.InvokeStructured(ctx, msgs, nil, e.Model, e.RoleMaxRetries, validate); err != nil {
		return "", err
	}

	// supervisor_instruction is the Agent role's entry point marker; runAgent
	// slices history starting from the most recent Supervisor message.
	if err := e.Store.AppendMessage(ctx, userID, sessionID, ResearchMessage{Role: RoleSupervisor, Content: out.NextAction, IsIntermediate: true}); err != nil {
		return "", err
	}
	if out.Next == "summary" {
		return RoleSummary, nil
	}
	return RoleAgent, nil
}

// runAgent implements the Agent role: input is the history slice starting
// at the last Supervisor instruction, output is free text possibly
// carrying tool calls. Tool calls route to Tools; otherwise back to
// Supervisor for the next instruction or wrap-up decision.
func (e *Engine) runAgent(ctx context.Context, userID *int64, sessionID string, registry tools.Registry, prompts RolePrompts) (Role, []llm.ToolCall, error) {
	if err := e.Store.UpdateStatus(ctx, userID, sessionID, StatusActing); err != nil {
		return "", nil, err
	}
	hist, err := e.history(ctx, userID, sessionID)
	if err != nil {
		return "", nil, err
	}
	lastSupervisor := -1
	for i, m := range hist {
		if m.Role == RoleSupervisor {
			lastSupervisor = i
		}
	}
	slice := hist
	if lastSupervisor >= 0 {
		slice = hist[lastSupervisor:]
	}

	msgs := withSystem(prompts[string(RoleAgent)], toWire(slice))
	msg, _, _, err := e.Gateway.Invoke(ctx, msgs, registry.Schemas(), e.Model)
	if err != nil {
		return "", nil, err
	}

	content := msg.Content
	if len(msg.ToolCalls) > 0 {
		calls, merr := json.Marshal(msg.ToolCalls)
		if merr == nil {
			if content != "" {
				content += "\n"
			}
			content += string(calls)
		}
	}
	if err := e.Store.AppendMessage(ctx, userID, sessionID, ResearchMessage{Role: RoleAgent, Content: content, IsIntermediate: true}); err != nil {
		return "", nil, err
	}

	if len(msg.ToolCalls) > 0 {
		return RoleTools, msg.ToolCalls, nil
	}
	return RoleSupervisor, nil, nil
}

// runTools dispatches the Agent role's pending tool calls and persists
// their results as a single Tools-role message, then routes back to Agent.
func (e *Engine) runTools(ctx context.Context, userID *int64, sessionID string, registry tools.Registry, calls []llm.ToolCall) (Role, error) {
	results := make([]map[string]any, 0, len(calls))
	for _, call := range calls {
		payload, err := registry.Dispatch(ctx, call.Name, call.Args)
		entry := map[string]any{"tool_call_id": call.ID, "name": call.Name}
		if err != nil {
			entry["error"] = err.Error()
		} else {
			entry["result"] = json.RawMessage(payload)
		}
		results = append(results, entry)
	}

	body, err := json.Marshal(map[string]any{"tool_results": results})
	if err != nil {
		return "", err
	}
	if err := e.Store.AppendMessage(ctx, userID, sessionID, ResearchMessage{Role: RoleTools, Content: string(body), IsIntermediate: true}); err != nil {
		return "", err
	}
	return RoleAgent, nil
}

// runSummary implements the Summary role: input is the full history with
// the last role's message rewritten as a user turn (so the model treats
// its own prior output as something to respond to, not continue as
// assistant), output is the final markdown report.
func (e *Engine) runSummary(ctx context.Context, userID *int64, sessionID string, prompts RolePrompts) error {
	if err := e.Store.UpdateStatus(ctx, userID, sessionID, StatusSummarizing); err != nil {
		return err
	}
	hist, err := e.history(ctx, userID, sessionID)
	if err != nil {
		return err
	}

	wire := toWire(hist)
	if len(wire) > 0 {
		wire[len(wire)-1].Role = "user"
	}
	msgs := withSystem(prompts[string(RoleSummary)], wire)
	msg, _, _, err := e.Gateway.InvokeStructured(ctx, msgs, nil, e.Model, e.RoleMaxRetries, nonEmpty)
	if err != nil {
		return err
	}
	return e.Store.AppendMessage(ctx, userID, sessionID, ResearchMessage{Role: RoleSummary, Content: msg.Content, IsIntermediate: false})
}
