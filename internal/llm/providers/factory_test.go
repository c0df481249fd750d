package providers

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scholiabot/core/internal/config"
	"github.com/scholiabot/core/internal/llm/anthropic"
	"github.com/scholiabot/core/internal/llm/google"
	openaillm "github.com/scholiabot/core/internal/llm/openai"
)

func TestBuildDispatchesOnProviderName(t *testing.T) {
	cases := []struct {
		provider string
		want     any
	}{
		{"", &openaillm.Client{}},
		{"openai", &openaillm.Client{}},
		{"openai-responses", &openaillm.Client{}},
		{"local", &openaillm.Client{}},
		{"anthropic", &anthropic.Client{}},
		{"Anthropic", &anthropic.Client{}},
		{"google", &google.Client{}},
		{"gemini", &google.Client{}},
	}
	for _, c := range cases {
		p, err := Build(config.ModelSpec{Provider: c.provider, Model: "m"}, nil)
		require.NoError(t, err, c.provider)
		require.IsType(t, c.want, p, c.provider)
	}
}

func TestBuildUnknownProviderErrors(t *testing.T) {
	_, err := Build(config.ModelSpec{Provider: "bogus"}, nil)
	require.Error(t, err)
}
