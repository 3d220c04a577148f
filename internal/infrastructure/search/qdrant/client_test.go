package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSearchVectorMapsPayloadToDocuments(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":[
			{"score":0.92,"payload":{"doc_id":"cf88-art5-c3","text":"Art. 5º...","source":"cf88.pdf","page":12,"chunk_index":3}},
			{"score":0.81,"payload":{"text":"sem id","source":"lei8078.pdf","page":2,"chunk_index":0}}
		]}`))
	}))
	defer server.Close()

	client := New(server.URL, "legal")
	docs, err := client.SearchVector(context.Background(), "constitutional_law", []float32{0.1, 0.2}, 5)
	if err != nil {
		t.Fatalf("SearchVector() error = %v", err)
	}

	if gotPath != "/collections/legal_constitutional_law/points/search" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotBody["with_payload"] != true {
		t.Fatalf("expected with_payload=true, got %v", gotBody["with_payload"])
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	first := docs[0]
	if first.ID != "cf88-art5-c3" || first.Source != "cf88.pdf" || first.Page != 12 || first.ChunkIndex != 3 {
		t.Fatalf("unexpected first document %+v", first)
	}
	if first.Domain != "constitutional_law" {
		t.Fatalf("expected domain stamped, got %q", first.Domain)
	}
	if first.Score != 0.92 {
		t.Fatalf("unexpected score %v", first.Score)
	}
	if docs[1].ID != "" {
		t.Fatalf("expected empty id for payload without doc_id, got %q", docs[1].ID)
	}
}

func TestSearchLexicalSendsNamedSparseVector(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":[]}`))
	}))
	defer server.Close()

	client := New(server.URL, "legal")
	if _, err := client.SearchLexical(context.Background(), "consumer_law", "direito do consumidor", 5); err != nil {
		t.Fatalf("SearchLexical() error = %v", err)
	}

	named, ok := gotBody["vector"].(map[string]any)
	if !ok {
		t.Fatalf("expected named vector object, got %T", gotBody["vector"])
	}
	if named["name"] != "lexical" {
		t.Fatalf("expected sparse vector name lexical, got %v", named["name"])
	}
	sparse, ok := named["vector"].(map[string]any)
	if !ok {
		t.Fatalf("expected sparse vector body, got %T", named["vector"])
	}
	indices, ok := sparse["indices"].([]any)
	if !ok || len(indices) == 0 {
		t.Fatalf("expected non-empty indices, got %v", sparse["indices"])
	}
	values, ok := sparse["values"].([]any)
	if !ok || len(values) != len(indices) {
		t.Fatalf("expected values aligned with indices, got %v", sparse["values"])
	}
}

func TestSearchLexicalEmptyQuerySkipsRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request for empty query")
	}))
	defer server.Close()

	client := New(server.URL, "legal")
	docs, err := client.SearchLexical(context.Background(), "consumer_law", "!!! ???", 5)
	if err != nil {
		t.Fatalf("SearchLexical() error = %v", err)
	}
	if docs != nil {
		t.Fatalf("expected nil documents, got %v", docs)
	}
}

func TestSearchVectorReportsBackendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"status":{"error":"collection not found"}}`, http.StatusNotFound)
	}))
	defer server.Close()

	client := New(server.URL, "legal")
	if _, err := client.SearchVector(context.Background(), "unknown_domain", []float32{0.1}, 5); err == nil {
		t.Fatalf("expected error for missing collection")
	}
}
