// Package vectorstore implements the Vector Store Adapter (C3):
// backend-agnostic add/search/delete with metadata filters over one vector
// per (user_id, paper_id). Two backends satisfy Store: an embedded on-disk
// database (embedded.go) and Qdrant, a managed vector-search service
// (qdrant.go).
package vectorstore

import "context"

// Document is one vector row: the stored text is the currently preferred
// summary for (UserID, PaperID) per spec.md §4.5.
type Document struct {
	ID        string
	Text      string
	Embedding []float32
	Metadata  map[string]string
}

// Result is one similarity-search hit.
type Result struct {
	ID       string
	Text     string
	Score    float64
	Metadata map[string]string
}

// Filter is a disjunction of conjunctions: OR across the outer slice, AND
// across each inner map's key=value pairs. spec.md §4.3 uses this shape for
// RAG's "restrict to this user's corpus, optionally tag-filtered" queries.
type Filter []map[string]string

// And is a convenience constructor for a single-conjunction filter, the
// common case for delete_by_filter and most searches.
func And(kv map[string]string) Filter { return Filter{kv} }

// Condition addresses one (user, paper) pair for GetEmbeddings.
type Condition struct {
	UserID  int64
	PaperID int64
}

// DocID is the id convention every backend agrees on: one vector per
// (user, paper) pair (spec.md §3 "A vector row for (user, paper) is unique
// in the index").
func DocID(userID, paperID int64) string {
	return formatID(userID, paperID)
}

// Store is the Vector Store Adapter contract (spec.md §4.3). Implementations
// batch writes internally in chunks of ~100 (BatchChunkSize).
type Store interface {
	// Add upserts docs, batching internally.
	Add(ctx context.Context, docs []Document) error

	// DeleteByFilter deletes every vector whose metadata matches the
	// conjunction of filter's key=value pairs.
	DeleteByFilter(ctx context.Context, filter map[string]string) error

	// SearchByVector returns the k nearest documents to query, restricted
	// to filter (a disjunction of conjunctions, or nil for no restriction).
	SearchByVector(ctx context.Context, query []float32, k int, filter Filter) ([]Result, error)

	// GetEmbeddings fetches raw vectors for the given (user, paper) pairs,
	// keyed by DocID. Pairs with no stored vector are simply absent from
	// the result.
	GetEmbeddings(ctx context.Context, conditions []Condition) (map[string][]float32, error)

	// BatchExists reports, for each of paperIDs, whether a vector for
	// (userID, paperID) exists.
	BatchExists(ctx context.Context, userID int64, paperIDs []int64) (map[int64]bool, error)

	Dimension() int
	Close() error
}

// BatchChunkSize is spec.md §4.3's "all writes are batched (chunk size
// ≈100)".
const BatchChunkSize = 100

func chunks(docs []Document, size int) [][]Document {
	if size <= 0 {
		size = BatchChunkSize
	}
	var out [][]Document
	for len(docs) > 0 {
		n := size
		if n > len(docs) {
			n = len(docs)
		}
		out = append(out, docs[:n])
		docs = docs[n:]
	}
	return out
}
