package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kirillkom/legal-rag-assistant/internal/core/domain"
)

type orchestratorFake struct {
	answer       *domain.FinalAnswer
	err          error
	lastQuery    string
	lastConvID   string
	clearedConv  string
	clearErr     error
	processCalls int
}

func (f *orchestratorFake) Process(_ context.Context, query, conversationID string) (*domain.FinalAnswer, error) {
	f.processCalls++
	f.lastQuery = query
	f.lastConvID = conversationID
	if f.err != nil {
		return nil, f.err
	}
	return f.answer, nil
}

func (f *orchestratorFake) ClearConversation(_ context.Context, conversationID string) error {
	f.clearedConv = conversationID
	return f.clearErr
}

type cacheStatsFake struct {
	stats domain.CacheStats
}

func (f *cacheStatsFake) Stats() domain.CacheStats { return f.stats }

func newTestRouter(orch *orchestratorFake, stats *cacheStatsFake) http.Handler {
	return NewRouter(orch, stats, nil, slog.New(slog.DiscardHandler)).Handler()
}

func TestQueryEndpointReturnsAnswer(t *testing.T) {
	orch := &orchestratorFake{answer: &domain.FinalAnswer{
		Answer:       "O artigo 5º garante...",
		PrimaryAgent: "constitutional_law",
		Confidence:   0.83,
		Status:       domain.AnswerStatusSuccess,
	}}
	handler := newTestRouter(orch, &cacheStatsFake{})

	body := `{"query":"o que diz o artigo 5?","conversation_id":"conv-1"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if orch.lastQuery != "o que diz o artigo 5?" || orch.lastConvID != "conv-1" {
		t.Fatalf("unexpected forwarded request: %q %q", orch.lastQuery, orch.lastConvID)
	}

	var got domain.FinalAnswer
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.PrimaryAgent != "constitutional_law" || got.Status != domain.AnswerStatusSuccess {
		t.Fatalf("unexpected response %+v", got)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestQueryEndpointRejectsBlankQuery(t *testing.T) {
	orch := &orchestratorFake{}
	handler := newTestRouter(orch, &cacheStatsFake{})

	req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{"query":"   "}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if orch.processCalls != 0 {
		t.Fatalf("expected orchestrator not called")
	}
}

func TestQueryEndpointRejectsInvalidJSON(t *testing.T) {
	handler := newTestRouter(&orchestratorFake{}, &cacheStatsFake{})

	req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestQueryEndpointMapsTemporaryErrors(t *testing.T) {
	orch := &orchestratorFake{err: domain.WrapError(domain.ErrTemporary, "llm call", errors.New("backend down"))}
	handler := newTestRouter(orch, &cacheStatsFake{})

	req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{"query":"pergunta"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestClearConversationEndpoint(t *testing.T) {
	orch := &orchestratorFake{}
	handler := newTestRouter(orch, &cacheStatsFake{})

	req := httptest.NewRequest(http.MethodPost, "/v1/conversations/conv-9/clear", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if orch.clearedConv != "conv-9" {
		t.Fatalf("expected conversation conv-9 cleared, got %q", orch.clearedConv)
	}
}

func TestClearConversationUnknownActionIs404(t *testing.T) {
	handler := newTestRouter(&orchestratorFake{}, &cacheStatsFake{})

	req := httptest.NewRequest(http.MethodPost, "/v1/conversations/conv-9/archive", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCacheStatsEndpoint(t *testing.T) {
	stats := &cacheStatsFake{stats: domain.CacheStats{Hits: 10, Misses: 5, HitRate: 0.6667, Entries: 42}}
	handler := newTestRouter(&orchestratorFake{}, stats)

	req := httptest.NewRequest(http.MethodGet, "/v1/cache/stats", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got domain.CacheStats
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Hits != 10 || got.Entries != 42 {
		t.Fatalf("unexpected stats %+v", got)
	}
}

func TestHealthz(t *testing.T) {
	handler := newTestRouter(&orchestratorFake{}, &cacheStatsFake{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
