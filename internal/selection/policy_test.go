package selection

import (
	"testing"
	"time"

	"github.com/scholiabot/core/internal/papers"
)

func i64(v int64) *int64 { return &v }

func TestScoreTable(t *testing.T) {
	cases := []struct {
		name     string
		c        Candidate
		selected papers.Character
		want     int
	}{
		{"default no character, none selected", Candidate{}, papers.CharacterNone, 0},
		{"custom no character", Candidate{IsCustom: true}, papers.CharacterNone, 1000},
		{"default character matches", Candidate{Character: papers.CharacterA}, papers.CharacterA, 200},
		{"default character mismatch", Candidate{Character: papers.CharacterB}, papers.CharacterA, -50},
		{"default character present, none selected", Candidate{Character: papers.CharacterA}, papers.CharacterNone, 100},
		{"custom character matches", Candidate{IsCustom: true, Character: papers.CharacterA}, papers.CharacterA, 1200},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Score(tc.c, tc.selected); got != tc.want {
				t.Fatalf("Score() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestChooseGlobalPicksHighestScore(t *testing.T) {
	now := time.Now()
	candidates := []Candidate{
		{DefaultID: i64(1), CreatedAt: now},
		{CustomID: i64(2), IsCustom: true, CreatedAt: now},
		{DefaultID: i64(3), Character: papers.CharacterA, CreatedAt: now},
	}
	sel := Choose(ModeInitial, candidates, papers.CharacterA, Selection{})
	if sel.CustomID == nil || *sel.CustomID != 2 {
		t.Fatalf("expected custom id 2, got %+v", sel)
	}
}

func TestChooseTieBreaksOnNewerCreatedAt(t *testing.T) {
	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	candidates := []Candidate{
		{DefaultID: i64(1), CreatedAt: older},
		{DefaultID: i64(2), CreatedAt: newer},
	}
	sel := Choose(ModeInitial, candidates, papers.CharacterNone, Selection{})
	if sel.DefaultID == nil || *sel.DefaultID != 2 {
		t.Fatalf("expected default id 2 (newer), got %+v", sel)
	}
}

func TestChooseRegenerateDetailStaysInLane(t *testing.T) {
	candidates := []Candidate{
		{DefaultID: i64(1), CreatedAt: time.Now()},
		{CustomID: i64(2), IsCustom: true, CreatedAt: time.Now()},
	}
	current := Selection{CustomID: i64(2)}
	sel := Choose(ModeRegenerateDetail, candidates, papers.CharacterNone, current)
	if sel.CustomID == nil {
		t.Fatalf("expected to stay in custom lane, got %+v", sel)
	}
}

func TestChooseRegenerateDetailFallsBackWhenLaneEmpty(t *testing.T) {
	candidates := []Candidate{
		{DefaultID: i64(1), CreatedAt: time.Now()},
	}
	current := Selection{CustomID: i64(99)} // current lane (custom) has no candidates
	sel := Choose(ModeRegenerateDetail, candidates, papers.CharacterNone, current)
	if sel.DefaultID == nil {
		t.Fatalf("expected fallback to default, got %+v", sel)
	}
}

func TestChooseEmptyCandidates(t *testing.T) {
	sel := Choose(ModeInitial, nil, papers.CharacterNone, Selection{})
	if sel.DefaultID != nil || sel.CustomID != nil {
		t.Fatalf("expected empty selection, got %+v", sel)
	}
}
