package recommender

import (
	"context"
	"strconv"
	"testing"

	"github.com/scholiabot/core/internal/papers"
	"github.com/scholiabot/core/internal/vectorstore"
)

const userID = int64(1)

func seedLink(t *testing.T, ctx context.Context, links papers.LinkStore, vs vectorstore.Store, externalID string, vec []float32, tags []string) papers.UserPaperLink {
	t.Helper()
	paper, err := links.EnsurePaper(ctx, externalID, "http://example.com/"+externalID, externalID, "a", "abstract")
	if err != nil {
		t.Fatal(err)
	}
	link, err := links.EnsureLink(ctx, userID, paper.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(tags) > 0 {
		if err := links.SetTags(ctx, link.ID, tags); err != nil {
			t.Fatal(err)
		}
		link.Tags = tags
	}
	if err := vs.Add(ctx, []vectorstore.Document{{
		ID:        vectorstore.DocID(userID, paper.ID),
		Text:      externalID,
		Embedding: vec,
		Metadata:  map[string]string{"user_id": strconv.FormatInt(userID, 10), "paper_id": strconv.FormatInt(paper.ID, 10)},
	}}); err != nil {
		t.Fatal(err)
	}
	return link
}

func TestRunTagsBestCandidatesAsRecommended(t *testing.T) {
	ctx := context.Background()
	links := papers.NewMemoryLinkStore()
	vs, err := vectorstore.NewEmbeddedStore(":memory:", 2)
	if err != nil {
		t.Fatal(err)
	}

	seedLink(t, ctx, links, vs, "fav1", []float32{1, 0}, []string{papers.TagFavourite})
	seedLink(t, ctx, links, vs, "dis1", []float32{0, 1}, []string{papers.TagNotInterested})

	close := seedLink(t, ctx, links, vs, "close", []float32{0.9, 0.1}, nil)
	far := seedLink(t, ctx, links, vs, "far", []float32{0.1, 0.9}, nil)

	rec := New(links, vs)
	tagged, err := rec.Run(ctx, userID)
	if err != nil {
		t.Fatal(err)
	}
	if len(tagged) != 2 {
		t.Fatalf("expected both candidates tagged (budget=5), got %v", tagged)
	}

	closeLink, _, _ := links.GetLinkByID(ctx, close.ID)
	if !closeLink.HasTag(papers.TagRecommended) {
		t.Fatalf("expected close candidate tagged Recommended: %+v", closeLink)
	}
	farLink, _, _ := links.GetLinkByID(ctx, far.ID)
	if !farLink.HasTag(papers.TagRecommended) {
		t.Fatalf("expected far candidate tagged Recommended too (budget covers both): %+v", farLink)
	}
}

func TestRunRespectsExistingRecommendedBudget(t *testing.T) {
	ctx := context.Background()
	links := papers.NewMemoryLinkStore()
	vs, err := vectorstore.NewEmbeddedStore(":memory:", 2)
	if err != nil {
		t.Fatal(err)
	}

	seedLink(t, ctx, links, vs, "fav1", []float32{1, 0}, []string{papers.TagFavourite})
	for i := 0; i < 5; i++ {
		seedLink(t, ctx, links, vs, "already-rec-"+strconv.Itoa(i), []float32{1, 0}, []string{papers.TagRecommended})
	}
	candidate := seedLink(t, ctx, links, vs, "candidate", []float32{1, 0}, nil)

	rec := New(links, vs)
	tagged, err := rec.Run(ctx, userID)
	if err != nil {
		t.Fatal(err)
	}
	if len(tagged) != 0 {
		t.Fatalf("expected no new recommendations once budget is exhausted, got %v", tagged)
	}
	got, _, _ := links.GetLinkByID(ctx, candidate.ID)
	if got.HasTag(papers.TagRecommended) {
		t.Fatalf("candidate should not have been tagged")
	}
}

func TestRunNoFavouritesIsNoop(t *testing.T) {
	ctx := context.Background()
	links := papers.NewMemoryLinkStore()
	vs, err := vectorstore.NewEmbeddedStore(":memory:", 2)
	if err != nil {
		t.Fatal(err)
	}
	seedLink(t, ctx, links, vs, "candidate", []float32{1, 0}, nil)

	rec := New(links, vs)
	tagged, err := rec.Run(ctx, userID)
	if err != nil {
		t.Fatal(err)
	}
	if len(tagged) != 0 {
		t.Fatalf("expected no recommendations without favourites, got %v", tagged)
	}
}
