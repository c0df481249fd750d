package ragagent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/scholiabot/core/internal/config"
	"github.com/scholiabot/core/internal/embedding"
	"github.com/scholiabot/core/internal/vectorstore"
)

// Embedder is the narrow embedding.EmbedText dependency corpusSearchTool
// needs, kept as an interface so tests can fake it without a live endpoint.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// embedderFunc adapts embedding.EmbedText (bound to a config) to Embedder.
type embedderFunc func(ctx context.Context, inputs []string) ([][]float32, error)

func (f embedderFunc) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	return f(ctx, inputs)
}

// NewEmbedder binds embedding.EmbedText to cfg, satisfying Embedder.
func NewEmbedder(cfg config.EmbeddingConfig) Embedder {
	return embedderFunc(func(ctx context.Context, inputs []string) ([][]float32, error) {
		return embedding.EmbedText(ctx, cfg, inputs)
	})
}

// corpusSearchTool implements spec.md §4.7's corpus_search: embed the query,
// retrieve top-k from the vector store restricted to this user (and,
// optionally, one paper for the paper-chat variant, or a tag list for the
// general RAG agent).
type corpusSearchTool struct {
	store    vectorstore.Store
	embedder Embedder
	filter   vectorstore.Filter
	topK     int
}

// newCorpusSearchTool builds the tool pre-scoped to filter (the caller bakes
// the user_id, and optionally paper_id, conjunction into filter so the tool
// itself never sees raw user identity).
func newCorpusSearchTool(store vectorstore.Store, embedder Embedder, filter vectorstore.Filter, topK int) *corpusSearchTool {
	if topK <= 0 {
		topK = 8
	}
	return &corpusSearchTool{store: store, embedder: embedder, filter: filter, topK: topK}
}

func (t *corpusSearchTool) Name() string { return "corpus_search" }

func (t *corpusSearchTool) JSONSchema() map[string]any {
	return map[string]any{
		"name":        t.Name(),
		"description": "Search the user's paper corpus by semantic similarity and return matching paper excerpts.",
		"parameters": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": "Natural-language search query."},
			},
			"required": []string{"query"},
		},
	}
}

type corpusSearchResult struct {
	PaperID  string  `json:"paper_id"`
	Snippet  string  `json:"snippet"`
	Score    float64 `json:"score"`
}

func (t *corpusSearchTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("corpus_search: invalid arguments: %w", err)
	}
	if args.Query == "" {
		return nil, fmt.Errorf("corpus_search: query is required")
	}

	vecs, err := t.embedder.Embed(ctx, []string{args.Query})
	if err != nil || len(vecs) == 0 {
		return nil, fmt.Errorf("corpus_search: embed query: %w", err)
	}

	hits, err := t.store.SearchByVector(ctx, vecs[0], t.topK, t.filter)
	if err != nil {
		return nil, fmt.Errorf("corpus_search: search: %w", err)
	}

	out := make([]corpusSearchResult, 0, len(hits))
	for _, h := range hits {
		out = append(out, corpusSearchResult{
			PaperID: h.Metadata["paper_id"],
			Snippet: h.Text,
			Score:   h.Score,
		})
	}
	return map[string]any{"results": out}, nil
}
