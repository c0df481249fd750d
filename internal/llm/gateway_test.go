package llm

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scholiabot/core/internal/config"
)

type scriptedProvider struct {
	calls   int
	failN   int // fail the first failN calls
	failErr error
	reply   Message
}

func (f *scriptedProvider) Chat(ctx context.Context, msgs []Message, tools []ToolSchema, model string) (Message, error) {
	f.calls++
	if f.calls <= f.failN {
		if f.failErr != nil {
			return Message{}, f.failErr
		}
		return Message{}, errors.New("boom")
	}
	return f.reply, nil
}

func (f *scriptedProvider) ChatStream(ctx context.Context, msgs []Message, tools []ToolSchema, model string, h StreamHandler) error {
	return errors.New("not implemented")
}

func TestGatewayInvokeRetriesThenSucceeds(t *testing.T) {
	primary := &scriptedProvider{failN: 1, reply: Message{Role: "assistant", Content: "ok"}}
	cfg := config.LLMConfig{Attempts: 3, FailThreshold: 5, RetryBackoff: time.Millisecond, CallTimeout: time.Second}
	gw, err := NewGateway(cfg, func(spec config.ModelSpec, _ *http.Client) (Provider, error) {
		return primary, nil
	}, nil)
	require.NoError(t, err)

	msg, _, _, err := gw.Invoke(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil, "m")
	require.NoError(t, err)
	require.Equal(t, "ok", msg.Content)
	require.Equal(t, 2, primary.calls)
}

func TestGatewayFallsBackAfterThreshold(t *testing.T) {
	primary := &scriptedProvider{failN: 1000}
	fallback := &scriptedProvider{reply: Message{Role: "assistant", Content: "fallback-ok"}}

	cfg := config.LLMConfig{
		Primary:         config.ModelSpec{Provider: "primary"},
		Fallback:        config.ModelSpec{Provider: "fallback"},
		Attempts:        2,
		FailThreshold:   3,
		FallbackRetries: 2,
		RetryBackoff:    time.Millisecond,
		CallTimeout:     time.Second,
	}
	gw, err := NewGateway(cfg, func(spec config.ModelSpec, _ *http.Client) (Provider, error) {
		if spec.Provider == "fallback" {
			return fallback, nil
		}
		return primary, nil
	}, nil)
	require.NoError(t, err)

	msgs := []Message{{Role: "user", Content: "hi"}}
	// First call: primary fails Attempts (2) times; 2 consecutive failures
	// are still below FailThreshold (3), so the error surfaces.
	_, _, _, err = gw.Invoke(context.Background(), msgs, nil, "m")
	require.Error(t, err)
	// Second call: further primary failures reach FailThreshold, so the
	// Gateway switches to the fallback within the same call.
	msg, _, route, err := gw.Invoke(context.Background(), msgs, nil, "m")
	require.NoError(t, err)
	require.Equal(t, "fallback-ok", msg.Content)
	require.True(t, route.UsedFallback)
	require.Equal(t, "fallback", route.Provider)
}

func TestGatewayInvokeStructuredRetriesOnValidationFailure(t *testing.T) {
	primary := &scriptedProvider{reply: Message{Role: "assistant", Content: `{"ok":true}`}}
	cfg := config.LLMConfig{Attempts: 1, FailThreshold: 5, RetryBackoff: time.Millisecond, CallTimeout: time.Second}
	gw, err := NewGateway(cfg, func(spec config.ModelSpec, _ *http.Client) (Provider, error) {
		return primary, nil
	}, nil)
	require.NoError(t, err)

	msg, _, _, err := gw.InvokeStructured(context.Background(), []Message{{Role: "user", Content: "x"}}, nil, "m", 2, ValidateJSON)
	require.NoError(t, err)
	require.Equal(t, `{"ok":true}`, msg.Content)
}
