package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/scholiabot/core/internal/apperr"
	"github.com/scholiabot/core/internal/config"
	"github.com/scholiabot/core/internal/observability"
)

// Usage carries token accounting for a single Gateway call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Route describes which provider/model actually produced an Invoke result,
// so callers (the Summary Coordinator's fallback reconciliation, C4) don't
// have to re-derive the Gateway's internal activeProvider bookkeeping
// themselves.
type Route struct {
	Provider     string
	Model        string
	UsedFallback bool
}

// ProviderBuilder constructs an llm.Provider for a ModelSpec. internal/llm
// cannot import internal/llm/providers directly (that package imports this
// one for the Provider type), so the Gateway takes a builder function at
// construction time; providers.Build is the production implementation any
// caller wiring a Gateway (the coordinator's generation call site, the RAG/
// research engines) passes in.
type ProviderBuilder func(spec config.ModelSpec, httpClient *http.Client) (Provider, error)

// Gateway routes chat calls to a primary provider, retrying transient
// failures with a fixed backoff, and falling over to a fallback provider
// after FailThreshold consecutive primary failures.
type Gateway struct {
	cfg        config.LLMConfig
	httpClient *http.Client
	primary    Provider
	fallback   Provider

	consecutiveFailures int
}

// NewGateway builds a Gateway from config, constructing primary and fallback
// providers via build. The fallback provider is optional: if cfg.Fallback has
// no Provider set, Gateway runs primary-only and surfaces primary errors
// directly once retries are exhausted.
func NewGateway(cfg config.LLMConfig, build ProviderBuilder, httpClient *http.Client) (*Gateway, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	primary, err := build(cfg.Primary, httpClient)
	if err != nil {
		return nil, fmt.Errorf("build primary provider: %w", err)
	}
	g := &Gateway{cfg: cfg, httpClient: httpClient, primary: primary}
	if cfg.Fallback.Provider != "" {
		fb, err := build(cfg.Fallback, httpClient)
		if err != nil {
			return nil, fmt.Errorf("build fallback provider: %w", err)
		}
		g.fallback = fb
	}
	return g, nil
}

// Invoke runs a chat completion, retrying transient failures on the active
// provider up to cfg.Attempts times with a fixed cfg.RetryBackoff between
// attempts, and switching to the fallback provider once cfg.FailThreshold
// consecutive failures have been recorded against the primary.
func (g *Gateway) Invoke(ctx context.Context, msgs []Message, tools []ToolSchema, model string) (Message, Usage, Route, error) {
	provider, usingFallback := g.activeProvider()
	route := g.routeFor(usingFallback)
	log := observability.LoggerWithTrace(ctx)

	var lastErr error
	for attempt := 0; attempt < g.attempts(); attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, g.callTimeout())
		msg, err := provider.Chat(callCtx, msgs, tools, model)
		cancel()
		if err == nil {
			g.recordSuccess(usingFallback)
			usage := usageFromMessage(msg)
			return msg, usage, route, nil
		}

		lastErr = err
		classified := classifyProviderError(err)
		log.Warn().Err(classified).Int("attempt", attempt+1).Bool("fallback", usingFallback).Msg("llm_gateway_attempt_failed")

		if !usingFallback {
			g.consecutiveFailures++
		}
		if !apperr.IsRetryable(classified) {
			break
		}
		if attempt < g.attempts()-1 {
			select {
			case <-ctx.Done():
				return Message{}, Usage{}, Route{}, ctx.Err()
			case <-time.After(g.cfg.RetryBackoff):
			}
		}
	}

	if !usingFallback && g.fallback != nil && g.consecutiveFailures >= g.failThreshold() {
		log.Warn().Int("consecutive_failures", g.consecutiveFailures).Msg("llm_gateway_switching_to_fallback")
		return g.invokeFallback(ctx, msgs, tools, model)
	}

	return Message{}, Usage{}, Route{}, apperr.New(apperr.KindOf(classifyProviderError(lastErr)), lastErr, "llm gateway: primary provider exhausted retries")
}

func (g *Gateway) invokeFallback(ctx context.Context, msgs []Message, tools []ToolSchema, model string) (Message, Usage, Route, error) {
	route := g.routeFor(true)
	var lastErr error
	for attempt := 0; attempt < g.fallbackRetries(); attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, g.callTimeout())
		msg, err := g.fallback.Chat(callCtx, msgs, tools, model)
		cancel()
		if err == nil {
			g.consecutiveFailures = 0
			return msg, usageFromMessage(msg), route, nil
		}
		lastErr = err
		if attempt < g.fallbackRetries()-1 {
			select {
			case <-ctx.Done():
				return Message{}, Usage{}, Route{}, ctx.Err()
			case <-time.After(g.cfg.RetryBackoff):
			}
		}
	}
	return Message{}, Usage{}, Route{}, apperr.New(apperr.Dependency, lastErr, "llm gateway: fallback provider exhausted retries")
}

// routeFor reports the {provider, model, used_fallback} metadata for the
// route a call took, per spec.md §4.1.
func (g *Gateway) routeFor(usingFallback bool) Route {
	if usingFallback {
		return Route{Provider: g.cfg.Fallback.Provider, Model: g.cfg.Fallback.Model, UsedFallback: true}
	}
	return Route{Provider: g.cfg.Primary.Provider, Model: g.cfg.Primary.Model, UsedFallback: false}
}

// InvokeStructured retries Invoke until the response body parses as valid
// JSON matching target's shape (validated by the caller-supplied validate
// func), up to maxAttempts times. This backs the Research Graph's (C8)
// per-role structured-output retry and the RAG agent's tool-argument
// validation.
func (g *Gateway) InvokeStructured(ctx context.Context, msgs []Message, tools []ToolSchema, model string, maxAttempts int, validate func(raw string) error) (Message, Usage, Route, error) {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		msg, usage, route, err := g.Invoke(ctx, msgs, tools, model)
		if err != nil {
			return Message{}, Usage{}, Route{}, err
		}
		if validate == nil {
			return msg, usage, route, nil
		}
		if verr := validate(msg.Content); verr == nil {
			return msg, usage, route, nil
		} else {
			lastErr = verr
			msgs = append(msgs, msg, Message{
				Role:    "user",
				Content: fmt.Sprintf("Your previous response was invalid: %v. Respond again with only the corrected structured output.", verr),
			})
		}
	}
	return Message{}, Usage{}, Route{}, apperr.New(apperr.Validation, lastErr, "llm gateway: structured output failed validation after %d attempts", maxAttempts)
}

func (g *Gateway) activeProvider() (Provider, bool) {
	if g.fallback != nil && g.consecutiveFailures >= g.failThreshold() {
		return g.fallback, true
	}
	return g.primary, false
}

func (g *Gateway) recordSuccess(usingFallback bool) {
	if !usingFallback {
		g.consecutiveFailures = 0
	}
}

func (g *Gateway) attempts() int {
	if g.cfg.Attempts <= 0 {
		return 3
	}
	return g.cfg.Attempts
}

func (g *Gateway) fallbackRetries() int {
	if g.cfg.FallbackRetries <= 0 {
		return 3
	}
	return g.cfg.FallbackRetries
}

func (g *Gateway) failThreshold() int {
	if g.cfg.FailThreshold <= 0 {
		return 3
	}
	return g.cfg.FailThreshold
}

func (g *Gateway) callTimeout() time.Duration {
	if g.cfg.CallTimeout <= 0 {
		return 300 * time.Second
	}
	return g.cfg.CallTimeout
}

// classifyProviderError maps a raw provider error into an apperr-classified
// error so the retry loop and callers can branch on Kind uniformly. Context
// deadline/cancellation map to Timeout; everything else defaults to
// Transient since most provider SDK errors (rate limits, 5xx) are worth one
// retry and the Gateway's own attempt budget bounds the damage of guessing
// wrong.
func classifyProviderError(err error) error {
	if err == nil {
		return nil
	}
	if ae, ok := err.(*apperr.Error); ok {
		return ae
	}
	if err == context.DeadlineExceeded || err == context.Canceled {
		return apperr.New(apperr.Timeout, err, "llm provider call timed out")
	}
	return apperr.New(apperr.Transient, err, "llm provider call failed")
}

func usageFromMessage(msg Message) Usage {
	// Provider clients record token metrics via RecordTokenMetrics/Attributes
	// directly against OTel; Usage here is a best-effort echo for callers
	// that want it inline without scraping the metrics registry. Providers
	// that don't expose per-call usage on Message leave this zero.
	_ = msg
	return Usage{}
}

// validateJSON is a convenience validate func for InvokeStructured callers
// that only need "is this valid JSON", without per-field schema checks.
func validateJSON(raw string) error {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return fmt.Errorf("not valid JSON: %w", err)
	}
	return nil
}

// ValidateJSON is exported for reuse by C6/C7/C8 callers.
var ValidateJSON = validateJSON
