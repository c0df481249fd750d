// Command server exposes the RAG Agent's tool surface (corpus_search,
// web_search, web_extract) as an MCP tool server over stdio. spec.md §1/§6
// treats the HTTP surface and authentication as an external collaborator,
// so the summary coordinator, research graph, tagging pipeline, and job
// registry are driven by that collaborator as a library rather than by a
// binary in this module; this command only boots the one piece that stands
// on its own as a process: the MCP tool server SPEC_FULL.md's domain stack
// commits to.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/scholiabot/core/internal/config"
	"github.com/scholiabot/core/internal/mcpserver"
	"github.com/scholiabot/core/internal/observability"
	"github.com/scholiabot/core/internal/ragagent"
	"github.com/scholiabot/core/internal/vectorstore"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional; env vars always take precedence)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		log.Fatal().Err(err).Msg("failed to load config")
	}

	observability.InitLogger("scholiabot-core.log", cfg.Observability.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := observability.InitOTel(ctx, cfg.Observability)
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without observability")
		shutdown = nil
	}
	if shutdown != nil {
		defer func() { _ = shutdown(context.Background()) }()
	}

	vstore, err := newVectorStore(cfg.VectorStore)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open vector store")
	}
	embedder := ragagent.NewEmbedder(cfg.Embedding)

	reg := ragagent.BuildTools(vstore, embedder, vectorstore.Filter{}, cfg.Research.SearxngURL, true)
	server := mcpserver.New(reg)

	log.Info().Str("vector_backend", cfg.VectorStore.Backend).Msg("scholiabot-core mcp server ready, serving tools over stdio")

	if err := mcpserver.ServeStdio(ctx, server); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("mcp server exited")
	}
}

// newVectorStore builds the C3 backend cfg selects. "memory" has no
// dedicated constructor (spec.md's vector index has no useful memory-only
// mode: similarity search needs either Qdrant or the embedded sqlite
// backend's brute-force scan), so it aliases to embedded with its
// configured path, which is what a first local run needs.
func newVectorStore(cfg config.VectorStoreConfig) (vectorstore.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "embedded", "memory":
		path := cfg.Path
		if path == "" {
			path = "./data/vectors.db"
		}
		return vectorstore.NewEmbeddedStore(path, cfg.Dimensions)
	case "qdrant":
		return vectorstore.NewQdrantStore(cfg.DSN, cfg.Collection, cfg.Dimensions, cfg.Metric)
	default:
		return nil, fmt.Errorf("unknown vector store backend %q", cfg.Backend)
	}
}
