package papers

import (
	"context"
	"testing"
)

func TestEnsureLinkIsIdempotent(t *testing.T) {
	store := NewMemoryLinkStore()
	ctx := context.Background()

	l1, err := store.EnsureLink(ctx, 1, 100)
	if err != nil {
		t.Fatalf("EnsureLink: %v", err)
	}
	l2, err := store.EnsureLink(ctx, 1, 100)
	if err != nil {
		t.Fatalf("EnsureLink: %v", err)
	}
	if l1.ID != l2.ID {
		t.Fatalf("EnsureLink should return the same link on repeated calls, got %d and %d", l1.ID, l2.ID)
	}
}

func TestSetTagsAndLinksWithTag(t *testing.T) {
	store := NewMemoryLinkStore()
	ctx := context.Background()

	l, err := store.EnsureLink(ctx, 1, 100)
	if err != nil {
		t.Fatalf("EnsureLink: %v", err)
	}
	if err := store.SetTags(ctx, l.ID, []string{TagFavourite, "custom-tag"}); err != nil {
		t.Fatalf("SetTags: %v", err)
	}

	got, found, err := store.GetLink(ctx, 1, 100)
	if err != nil || !found {
		t.Fatalf("GetLink: found=%v err=%v", found, err)
	}
	if !got.HasTag(TagFavourite) || !got.HasTag("custom-tag") {
		t.Fatalf("expected both tags to be set, got %v", got.Tags)
	}

	favs, err := store.LinksWithTag(ctx, 1, TagFavourite, 10)
	if err != nil {
		t.Fatalf("LinksWithTag: %v", err)
	}
	if len(favs) != 1 || favs[0].ID != l.ID {
		t.Fatalf("expected the tagged link back, got %v", favs)
	}

	notInterested, err := store.LinksWithTag(ctx, 1, TagNotInterested, 10)
	if err != nil {
		t.Fatalf("LinksWithTag: %v", err)
	}
	if len(notInterested) != 0 {
		t.Fatalf("expected no links tagged NotInterested, got %v", notInterested)
	}
}

func TestCandidateLinksExcludesTags(t *testing.T) {
	store := NewMemoryLinkStore()
	ctx := context.Background()

	kept, err := store.EnsureLink(ctx, 1, 100)
	if err != nil {
		t.Fatalf("EnsureLink: %v", err)
	}
	excluded, err := store.EnsureLink(ctx, 1, 101)
	if err != nil {
		t.Fatalf("EnsureLink: %v", err)
	}
	if err := store.SetTags(ctx, excluded.ID, []string{TagNotInterested}); err != nil {
		t.Fatalf("SetTags: %v", err)
	}

	candidates, err := store.CandidateLinks(ctx, 1, []string{TagNotInterested, TagRecommended})
	if err != nil {
		t.Fatalf("CandidateLinks: %v", err)
	}
	if len(candidates) != 1 || candidates[0].ID != kept.ID {
		t.Fatalf("expected only the untagged link as a candidate, got %v", candidates)
	}
}

func TestSetSelectionRejectsBothIDs(t *testing.T) {
	store := NewMemoryLinkStore()
	ctx := context.Background()

	l, err := store.EnsureLink(ctx, 1, 100)
	if err != nil {
		t.Fatalf("EnsureLink: %v", err)
	}
	one := int64(1)
	if err := store.SetSelection(ctx, l.ID, &one, &one); err == nil {
		t.Fatalf("expected SetSelection to reject setting both default and custom ids")
	}
}

func TestDeleteLinkRemovesLinkAndEditedSummaries(t *testing.T) {
	store := NewMemoryLinkStore()
	ctx := context.Background()

	l, err := store.EnsureLink(ctx, 1, 100)
	if err != nil {
		t.Fatalf("EnsureLink: %v", err)
	}
	defID := int64(5)
	if _, err := store.UpsertEditedSummary(ctx, 1, &defID, nil, "edited body", "edited point"); err != nil {
		t.Fatalf("UpsertEditedSummary: %v", err)
	}

	if err := store.DeleteLink(ctx, 1, 100); err != nil {
		t.Fatalf("DeleteLink: %v", err)
	}
	if _, found, err := store.GetLinkByID(ctx, l.ID); err != nil || found {
		t.Fatalf("expected link to be gone, found=%v err=%v", found, err)
	}

	// A fresh edited summary for the same user should not collide with the
	// deleted one's bookkeeping.
	if _, err := store.UpsertEditedSummary(ctx, 1, &defID, nil, "new body", "new point"); err != nil {
		t.Fatalf("UpsertEditedSummary after delete: %v", err)
	}
}

func TestUpsertEditedSummaryUpdatesInPlace(t *testing.T) {
	store := NewMemoryLinkStore()
	ctx := context.Background()
	defID := int64(9)

	first, err := store.UpsertEditedSummary(ctx, 1, &defID, nil, "v1", "p1")
	if err != nil {
		t.Fatalf("UpsertEditedSummary: %v", err)
	}
	second, err := store.UpsertEditedSummary(ctx, 1, &defID, nil, "v2", "p2")
	if err != nil {
		t.Fatalf("UpsertEditedSummary: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected the same edited summary row to be updated, got %d and %d", first.ID, second.ID)
	}
	if second.Body != "v2" {
		t.Fatalf("expected updated body, got %q", second.Body)
	}
}
