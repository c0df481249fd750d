package research

import (
	"context"
	"testing"
)

func TestMemoryStoreSessionAccessControl(t *testing.T) {
	store := NewMemoryStore()
	owner := int64(1)
	sess, err := store.CreateSession(context.Background(), &owner, "my research", FlavourResearch)
	if err != nil {
		t.Fatal(err)
	}

	other := int64(2)
	if _, err := store.GetSession(context.Background(), &other, sess.ID); err != ErrForbidden {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := store.GetSession(context.Background(), nil, sess.ID); err != nil {
		t.Fatalf("expected trusted nil userID to bypass access control, got %v", err)
	}
	if _, err := store.GetSession(context.Background(), &owner, "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreAppendMessageAndStatus(t *testing.T) {
	store := NewMemoryStore()
	sess, _ := store.CreateSession(context.Background(), nil, "s", FlavourRAG)

	if err := store.UpdateStatus(context.Background(), nil, sess.ID, StatusCoordinating); err != nil {
		t.Fatal(err)
	}
	got, _ := store.GetSession(context.Background(), nil, sess.ID)
	if got.ProcessingStatus != StatusCoordinating {
		t.Fatalf("expected status coordinating, got %s", got.ProcessingStatus)
	}

	if err := store.AppendMessage(context.Background(), nil, sess.ID, ResearchMessage{Role: RoleUser, Content: "hi"}); err != nil {
		t.Fatal(err)
	}
	msgs, err := store.ListMessages(context.Background(), nil, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hi" || msgs[0].ID == "" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestMemoryStoreListSessionsOrderedByRecency(t *testing.T) {
	store := NewMemoryStore()
	owner := int64(1)
	a, _ := store.CreateSession(context.Background(), &owner, "a", FlavourRAG)
	_, _ = store.CreateSession(context.Background(), &owner, "b", FlavourRAG)

	if err := store.AppendMessage(context.Background(), &owner, a.ID, ResearchMessage{Role: RoleUser, Content: "bump a"}); err != nil {
		t.Fatal(err)
	}
	sessions, err := store.ListSessions(context.Background(), &owner)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 2 || sessions[0].ID != a.ID {
		t.Fatalf("expected most recently updated session first, got %+v", sessions)
	}
}
