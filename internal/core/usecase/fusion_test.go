package usecase

import (
	"math"
	"reflect"
	"testing"

	"github.com/kirillkom/legal-rag-assistant/internal/core/domain"
)

func TestFuseRRFWeightedScoresAndOrder(t *testing.T) {
	listA := domain.RankedList{
		Weight: 0.6,
		Documents: []domain.RankedDocument{
			{ID: "docX", Content: "x"},
			{ID: "docY", Content: "y"},
		},
	}
	listB := domain.RankedList{
		Weight: 0.4,
		Documents: []domain.RankedDocument{
			{ID: "docY", Content: "y"},
			{ID: "docZ", Content: "z"},
		},
	}

	engine := NewFusionEngine(FusionConfig{Mode: FusionModeRRF, RRFK: 60, TopK: 5})
	result := engine.Fuse([]domain.RankedList{listA, listB})

	if len(result.Documents) != 3 {
		t.Fatalf("expected 3 fused documents, got %d", len(result.Documents))
	}
	wantOrder := []string{"docY", "docX", "docZ"}
	for i, want := range wantOrder {
		if got := result.Documents[i].Document.ID; got != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, got)
		}
	}

	wantScores := map[string]float64{
		"docY": 0.6/62 + 0.4/61,
		"docX": 0.6 / 61,
		"docZ": 0.4 / 62,
	}
	for _, scored := range result.Documents {
		want := wantScores[scored.Document.ID]
		if math.Abs(scored.Score-want) > 1e-9 {
			t.Fatalf("%s: expected score %.6f, got %.6f", scored.Document.ID, want, scored.Score)
		}
	}
}

func TestFuseRRFDeterministic(t *testing.T) {
	lists := []domain.RankedList{
		{Weight: 0.6, Documents: []domain.RankedDocument{
			{Source: "lei-8078.pdf", ChunkIndex: 2, Content: "art 6"},
			{Source: "cf88.pdf", ChunkIndex: 0, Content: "art 5"},
		}},
		{Weight: 0.4, Documents: []domain.RankedDocument{
			{Source: "cf88.pdf", ChunkIndex: 0, Content: "art 5"},
			{Source: "lei-8078.pdf", ChunkIndex: 7, Content: "art 49"},
		}},
	}

	engine := NewFusionEngine(FusionConfig{})
	first := engine.Fuse(lists)
	second := engine.Fuse(lists)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical output for identical input\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestFuseRRFTieBreakBySourceThenChunk(t *testing.T) {
	lists := []domain.RankedList{
		{Weight: 1, Documents: []domain.RankedDocument{{Source: "b.pdf", ChunkIndex: 0, Content: "b"}}},
		{Weight: 1, Documents: []domain.RankedDocument{{Source: "a.pdf", ChunkIndex: 0, Content: "a"}}},
	}

	engine := NewFusionEngine(FusionConfig{RRFK: 1000})
	result := engine.Fuse(lists)
	if len(result.Documents) != 2 {
		t.Fatalf("expected 2 fused documents, got %d", len(result.Documents))
	}
	if result.Documents[0].Document.Source != "a.pdf" {
		t.Fatalf("expected tie-break by source, got first=%s", result.Documents[0].Document.Source)
	}
}

func TestFuseRRFSumsContributionsAcrossLists(t *testing.T) {
	shared := domain.RankedDocument{Source: "cf88.pdf", ChunkIndex: 3, Content: "art 5 x"}
	lists := []domain.RankedList{
		{Weight: 1, Documents: []domain.RankedDocument{{Source: "solo.pdf", ChunkIndex: 0, Content: "solo"}, shared}},
		{Weight: 1, Documents: []domain.RankedDocument{shared}},
	}

	result := NewFusionEngine(FusionConfig{}).Fuse(lists)
	if result.Documents[0].Document.Source != "cf88.pdf" {
		t.Fatalf("expected document in both lists to rank first, got %s", result.Documents[0].Document.Source)
	}
}

func TestFuseWeightedSlotsAllocation(t *testing.T) {
	lexical := domain.RankedList{Documents: []domain.RankedDocument{
		{ID: "lex-1", Score: 9.1}, {ID: "lex-2", Score: 8.4}, {ID: "lex-3", Score: 7.0},
	}}
	vector := domain.RankedList{Documents: []domain.RankedDocument{
		{ID: "vec-1", Score: 0.93}, {ID: "vec-2", Score: 0.88}, {ID: "vec-3", Score: 0.71}, {ID: "vec-4", Score: 0.65},
	}}

	engine := NewFusionEngine(FusionConfig{Mode: FusionModeWeightedSlot, TopK: 5, WeightBM25: 0.4})
	result := engine.Fuse([]domain.RankedList{lexical, vector})

	// floor(5*0.4)=2 lexical slots, 3 vector slots.
	wantOrder := []string{"lex-1", "lex-2", "vec-1", "vec-2", "vec-3"}
	if len(result.Documents) != len(wantOrder) {
		t.Fatalf("expected %d documents, got %d", len(wantOrder), len(result.Documents))
	}
	for i, want := range wantOrder {
		if got := result.Documents[i].Document.ID; got != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, got)
		}
	}
}

func TestFuseWeightedSlotsShortLists(t *testing.T) {
	lexical := domain.RankedList{Documents: []domain.RankedDocument{{ID: "lex-1", Score: 3}}}
	vector := domain.RankedList{}

	engine := NewFusionEngine(FusionConfig{Mode: FusionModeWeightedSlot, TopK: 5, WeightBM25: 0.4})
	result := engine.Fuse([]domain.RankedList{lexical, vector})
	if len(result.Documents) != 1 {
		t.Fatalf("expected 1 document, got %d", len(result.Documents))
	}
	if result.Documents[0].Document.ID != "lex-1" {
		t.Fatalf("expected lex-1, got %s", result.Documents[0].Document.ID)
	}
}

func TestFuseEmptyListsProduceEmptyResult(t *testing.T) {
	engine := NewFusionEngine(FusionConfig{})
	result := engine.Fuse([]domain.RankedList{{Weight: 0.6}, {Weight: 0.4}})
	if len(result.Documents) != 0 {
		t.Fatalf("expected empty fusion result, got %d documents", len(result.Documents))
	}
}
