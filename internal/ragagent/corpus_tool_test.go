package ragagent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/scholiabot/core/internal/vectorstore"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f fakeEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return [][]float32{f.vec}, nil
}

func TestCorpusSearchToolReturnsResults(t *testing.T) {
	store, err := vectorstore.NewEmbeddedStore(":memory:", 2)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Add(context.Background(), []vectorstore.Document{
		{ID: "user_1_paper_7", Text: "attention is all you need", Embedding: []float32{1, 0}, Metadata: map[string]string{"user_id": "1", "paper_id": "7"}},
	}); err != nil {
		t.Fatal(err)
	}

	tool := newCorpusSearchTool(store, fakeEmbedder{vec: []float32{1, 0}}, vectorstore.And(map[string]string{"user_id": "1"}), 5)
	raw, err := tool.Call(context.Background(), json.RawMessage(`{"query":"attention"}`))
	if err != nil {
		t.Fatal(err)
	}
	b, _ := json.Marshal(raw)
	var decoded struct {
		Results []corpusSearchResult `json:"results"`
	}
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatal(err)
	}
	if len(decoded.Results) != 1 || decoded.Results[0].PaperID != "7" {
		t.Fatalf("unexpected results: %+v", decoded.Results)
	}
}

func TestCorpusSearchToolRequiresQuery(t *testing.T) {
	tool := newCorpusSearchTool(nil, fakeEmbedder{}, nil, 5)
	if _, err := tool.Call(context.Background(), json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected error for missing query")
	}
}
