package tagging

import (
	"context"
	"testing"
	"time"

	"github.com/scholiabot/core/internal/llm"
	"github.com/scholiabot/core/internal/papers"
	"github.com/scholiabot/core/internal/prompts"
)

type fakeGateway struct {
	content string
	err     error
}

func (f *fakeGateway) Invoke(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, llm.Usage, llm.Route, error) {
	if f.err != nil {
		return llm.Message{}, llm.Usage{}, llm.Route{}, f.err
	}
	return llm.Message{Role: "assistant", Content: f.content}, llm.Usage{}, llm.Route{}, nil
}

type fakeLinks struct {
	link papers.UserPaperLink
	set  []string
}

func (f *fakeLinks) GetLink(ctx context.Context, userID, paperID int64) (papers.UserPaperLink, bool, error) {
	return f.link, true, nil
}
func (f *fakeLinks) SetTags(ctx context.Context, linkID int64, tags []string) error {
	f.set = tags
	return nil
}

func newResolver(t *testing.T) *prompts.Resolver {
	t.Helper()
	repo := prompts.NewMemoryRepository()
	users := fakeUserLookup{}
	return prompts.NewResolver(repo, users)
}

type fakeUserLookup struct{}

func (fakeUserLookup) GetUser(ctx context.Context, userID int64) (papers.User, bool, error) {
	return papers.User{ID: userID, DisplayName: "Ada"}, true, nil
}

func TestParseCSVTagsFiltersUnknownAndDuplicates(t *testing.T) {
	tags := ParseCSVTags(" Text, transformer , Transformer,NotARealTag, RAG ")
	want := []string{"Text", "Transformer", "RAG"}
	if len(tags) != len(want) {
		t.Fatalf("got %v, want %v", tags, want)
	}
	for i := range want {
		if tags[i] != want[i] {
			t.Fatalf("got %v, want %v", tags, want)
		}
	}
}

func TestSatisfiesRules(t *testing.T) {
	if !SatisfiesRules([]string{"Text", "Transformer"}) {
		t.Fatalf("expected rules satisfied")
	}
	if SatisfiesRules([]string{"Text", "RAG"}) {
		t.Fatalf("expected rules unsatisfied without an architecture tag")
	}
}

func TestTagSkipsWhenAlreadyTaggedAndNotForced(t *testing.T) {
	links := &fakeLinks{link: papers.UserPaperLink{ID: 1, Tags: []string{"Text"}}}
	p := &Pipeline{
		Repo:     papers.NewMemoryRepository(),
		Links:    links,
		Resolver: newResolver(t),
		Gateway:  &fakeGateway{content: "Text,Transformer"},
		Model:    "m",
	}
	if err := p.Tag(context.Background(), 1, 1, false); err != nil {
		t.Fatal(err)
	}
	if links.set != nil {
		t.Fatalf("expected SetTags not called, got %v", links.set)
	}
}

func TestTagWritesParsedTagsFromBestSummary(t *testing.T) {
	repo := papers.NewMemoryRepository()
	key := papers.SummaryKey{PaperID: 1, Provider: "anthropic", Model: "claude"}
	row, won, err := repo.InsertProcessing(context.Background(), key, 1)
	if err != nil || !won {
		t.Fatalf("setup failed: %v %v", won, err)
	}
	if _, _, err := repo.CompleteRow(context.Background(), key, 1, "a great paper about transformers", "short"); err != nil {
		t.Fatal(err)
	}
	_ = row

	links := &fakeLinks{link: papers.UserPaperLink{ID: 9}}
	p := &Pipeline{
		Repo:     repo,
		Links:    links,
		Resolver: newResolver(t),
		Gateway:  &fakeGateway{content: "Text, Transformer"},
		Model:    "m",
	}

	if err := p.Tag(context.Background(), 1, 1, false); err != nil {
		t.Fatal(err)
	}
	if len(links.set) != 2 {
		t.Fatalf("expected 2 tags written, got %v", links.set)
	}
}

func TestTagLeavesLinkUntouchedOnTotalFailure(t *testing.T) {
	repo := papers.NewMemoryRepository()
	key := papers.SummaryKey{PaperID: 1, Provider: "anthropic", Model: "claude"}
	if _, _, err := repo.InsertProcessing(context.Background(), key, 1); err != nil {
		t.Fatal(err)
	}
	if _, _, err := repo.CompleteRow(context.Background(), key, 1, "body", "one"); err != nil {
		t.Fatal(err)
	}

	links := &fakeLinks{link: papers.UserPaperLink{ID: 1}}
	p := &Pipeline{
		Repo:     repo,
		Links:    links,
		Resolver: newResolver(t),
		Gateway:  &fakeGateway{err: context.DeadlineExceeded},
		Model:    "m",
	}

	if err := p.Tag(context.Background(), 1, 1, false); err != nil {
		t.Fatal(err)
	}
	if links.set != nil {
		t.Fatalf("expected no tags written on total failure, got %v", links.set)
	}
}

func TestTagNoReadySummaryIsValidationError(t *testing.T) {
	links := &fakeLinks{link: papers.UserPaperLink{ID: 1}}
	p := &Pipeline{
		Repo:     papers.NewMemoryRepository(),
		Links:    links,
		Resolver: newResolver(t),
		Gateway:  &fakeGateway{content: "Text,Transformer"},
		Model:    "m",
	}
	if err := p.Tag(context.Background(), 1, 1, false); err == nil {
		t.Fatalf("expected error when no ready summary exists")
	}
}

var _ = time.Second
