package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/kirillkom/legal-rag-assistant/internal/core/domain"
	"github.com/kirillkom/legal-rag-assistant/internal/core/ports"
)

type domainAgentFake struct {
	name     string
	response domain.AgentResponse
	err      error
	panics   bool
}

func (f domainAgentFake) Invoke(context.Context, string, []domain.ConversationTurn) (domain.AgentResponse, error) {
	if f.panics {
		panic("agent exploded")
	}
	return f.response, f.err
}

func (f domainAgentFake) Domain() string { return f.name }

type historyFake struct {
	mu    sync.Mutex
	turns map[string][]domain.ConversationTurn
	err   error
}

func newHistoryFake() *historyFake {
	return &historyFake{turns: make(map[string][]domain.ConversationTurn)}
}

func (f *historyFake) EnsureConversation(context.Context, string) error { return f.err }

func (f *historyFake) AppendTurn(_ context.Context, conversationID string, turn domain.ConversationTurn) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns[conversationID] = append(f.turns[conversationID], turn)
	return nil
}

func (f *historyFake) ListRecentTurns(_ context.Context, conversationID string, limit int) ([]domain.ConversationTurn, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	turns := f.turns[conversationID]
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns, nil
}

func (f *historyFake) ClearConversation(_ context.Context, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.turns, conversationID)
	return f.err
}

type recorderFake struct {
	mu      sync.Mutex
	records []domain.InteractionRecord
}

func (f *recorderFake) Record(record domain.InteractionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record)
	return nil
}

func (f *recorderFake) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func (f *recorderFake) last() domain.InteractionRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[len(f.records)-1]
}

func successResponse(name string, confidence float64) domain.AgentResponse {
	return domain.AgentResponse{
		AgentID:    name + "_agent",
		Domain:     name,
		Answer:     "resposta de " + name,
		Sources:    []domain.RankedDocument{{Source: name + ".pdf", ChunkIndex: 0, Content: "c-" + name}},
		Confidence: confidence,
		Status:     domain.AgentStatusSuccess,
	}
}

func routingResponse(domains ...string) string {
	quoted := make([]string, len(domains))
	for i, d := range domains {
		quoted[i] = `"` + d + `"`
	}
	return `{"selected_agents": [` + strings.Join(quoted, ",") + `], "scores": {}}`
}

func newTestOrchestrator(routerResponse string, agents []domainAgentFake, history *historyFake, recorder *recorderFake, fallback *WebFallback) *Orchestrator {
	router := NewRouter(rerankGeneratorFake{response: routerResponse}, routerDomains, 0, testLogger())
	domainAgents := make([]ports.DomainAgent, 0, len(agents))
	for _, a := range agents {
		domainAgents = append(domainAgents, a)
	}
	return NewOrchestrator(
		OrchestratorConfig{MaxConcurrentAgents: 2},
		&agentGeneratorFake{textResponse: "pergunta reescrita"},
		router,
		domainAgents,
		fallback,
		history,
		recorder,
		nil,
		nil,
		testLogger(),
	)
}

func TestProcessSingleAgentPassesAnswerThroughVerbatim(t *testing.T) {
	recorder := &recorderFake{}
	agents := []domainAgentFake{{name: "consumer_law", response: successResponse("consumer_law", 0.82)}}

	orch := newTestOrchestrator(routingResponse("consumer_law"), agents, newHistoryFake(), recorder, nil)
	answer, err := orch.Process(context.Background(), "posso devolver um produto?", "")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if answer.Status != domain.AnswerStatusSuccess {
		t.Fatalf("expected success, got %s", answer.Status)
	}
	if answer.Answer != "resposta de consumer_law" {
		t.Fatalf("expected verbatim passthrough, got %q", answer.Answer)
	}
	if answer.PrimaryAgent != "consumer_law" || answer.Confidence != 0.82 {
		t.Fatalf("unexpected merged fields %+v", answer)
	}
	if recorder.count() != 1 {
		t.Fatalf("expected exactly 1 interaction record, got %d", recorder.count())
	}
}

func TestProcessMergesMultipleAgentsWithMaxConfidence(t *testing.T) {
	agents := []domainAgentFake{
		{name: "constitutional_law", response: successResponse("constitutional_law", 0.6)},
		{name: "consumer_law", response: successResponse("consumer_law", 0.8)},
	}

	orch := newTestOrchestrator(routingResponse("constitutional_law", "consumer_law"), agents, newHistoryFake(), &recorderFake{}, nil)
	answer, err := orch.Process(context.Background(), "q", "")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if answer.Confidence != 0.8 {
		t.Fatalf("expected max confidence 0.8, got %v", answer.Confidence)
	}
	if answer.PrimaryAgent != "constitutional_law" {
		t.Fatalf("expected primary from routing decision, got %s", answer.PrimaryAgent)
	}
	if !strings.Contains(answer.Answer, multiAgentHeader) {
		t.Fatalf("expected combined narrative header, got %q", answer.Answer)
	}
	if !strings.Contains(answer.Answer, "resposta de constitutional_law") || !strings.Contains(answer.Answer, "resposta de consumer_law") {
		t.Fatalf("expected both labeled blocks, got %q", answer.Answer)
	}
	if len(answer.Sources) != 2 {
		t.Fatalf("expected union of sources, got %d", len(answer.Sources))
	}
}

func TestProcessFanOutIsolatesFailingAgent(t *testing.T) {
	agents := []domainAgentFake{
		{name: "constitutional_law", response: successResponse("constitutional_law", 0.7)},
		{name: "consumer_law", err: errors.New("agent down")},
		{name: "human_rights_law", response: successResponse("human_rights_law", 0.5)},
	}

	orch := newTestOrchestrator(routingResponse("constitutional_law", "consumer_law", "human_rights_law"), agents, newHistoryFake(), &recorderFake{}, nil)
	answer, err := orch.Process(context.Background(), "q", "")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if answer.Status != domain.AnswerStatusSuccess {
		t.Fatalf("expected success, got %s", answer.Status)
	}
	if len(answer.Domains) != 2 {
		t.Fatalf("expected 2 contributing domains, got %v", answer.Domains)
	}
	for _, d := range answer.Domains {
		if d == "consumer_law" {
			t.Fatalf("failing agent must be excluded from merge")
		}
	}
}

func TestProcessNoSuccessesProducesNoAnswer(t *testing.T) {
	agents := []domainAgentFake{
		{name: "consumer_law", response: domain.AgentResponse{Domain: "consumer_law", Status: domain.AgentStatusNoDocuments, Confidence: 0.1}},
	}

	orch := newTestOrchestrator(routingResponse("consumer_law"), agents, newHistoryFake(), &recorderFake{}, nil)
	answer, err := orch.Process(context.Background(), "q", "")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if answer.Status != domain.AnswerStatusNoAnswer {
		t.Fatalf("expected no_answer, got %s", answer.Status)
	}
	if answer.Answer != noAnswerMessage {
		t.Fatalf("unexpected answer %q", answer.Answer)
	}
}

func TestProcessOutOfContextTakesWebFallback(t *testing.T) {
	recorder := &recorderFake{}
	searcher := webSearcherFake{results: []domain.WebResult{{URL: "https://www.gov.br", Content: "fubá"}}}
	fallback := NewWebFallback(WebFallbackConfig{}, searcher, rerankGeneratorFake{response: "Resposta do portal oficial."}, testLogger())

	orch := newTestOrchestrator(`{"selected_agents": [], "scores": {}}`, nil, newHistoryFake(), recorder, fallback)
	answer, err := orch.Process(context.Background(), "Qual a receita de bolo de fubá?", "")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if answer.Status != domain.AnswerStatusWebFallback {
		t.Fatalf("expected success_web_fallback, got %s", answer.Status)
	}
	if !strings.HasSuffix(answer.Answer, WebDisclaimer) {
		t.Fatalf("expected disclaimer suffix, got %q", answer.Answer)
	}
	if recorder.count() != 1 {
		t.Fatalf("expected 1 interaction record, got %d", recorder.count())
	}
}

func TestProcessOutOfContextWithoutWebFallback(t *testing.T) {
	orch := newTestOrchestrator(`{"selected_agents": [], "scores": {}}`, nil, newHistoryFake(), &recorderFake{}, nil)
	answer, err := orch.Process(context.Background(), "q", "")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if answer.Status != domain.AnswerStatusOutOfContext {
		t.Fatalf("expected out_of_context, got %s", answer.Status)
	}
}

func TestProcessHistoryUpdatedOnlyOnFanOutPath(t *testing.T) {
	history := newHistoryFake()
	agents := []domainAgentFake{{name: "consumer_law", response: successResponse("consumer_law", 0.9)}}

	orch := newTestOrchestrator(routingResponse("consumer_law"), agents, history, &recorderFake{}, nil)
	if _, err := orch.Process(context.Background(), "pergunta", "conv-1"); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	turns, _ := history.ListRecentTurns(context.Background(), "conv-1", 10)
	if len(turns) != 2 {
		t.Fatalf("expected user+assistant turns, got %d", len(turns))
	}
	if turns[0].Role != domain.RoleUser || turns[0].Content != "pergunta" {
		t.Fatalf("unexpected user turn %+v", turns[0])
	}
	if turns[1].Role != domain.RoleAssistant {
		t.Fatalf("unexpected assistant turn %+v", turns[1])
	}

	// The out-of-context path must not touch history.
	fallback := NewOrchestrator(OrchestratorConfig{}, &agentGeneratorFake{}, NewRouter(rerankGeneratorFake{response: `{"selected_agents": [], "scores": {}}`}, routerDomains, 0, testLogger()), nil, nil, history, &recorderFake{}, nil, nil, testLogger())
	if _, err := fallback.Process(context.Background(), "outra", "conv-2"); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if turns, _ := history.ListRecentTurns(context.Background(), "conv-2", 10); len(turns) != 0 {
		t.Fatalf("expected empty history on fallback path, got %d turns", len(turns))
	}
}

func TestProcessNoAnswerMergeStillAppendsHistory(t *testing.T) {
	history := newHistoryFake()
	agents := []domainAgentFake{
		{name: "consumer_law", response: domain.AgentResponse{Domain: "consumer_law", Status: domain.AgentStatusNoDocuments, Confidence: 0.1}},
	}

	orch := newTestOrchestrator(routingResponse("consumer_law"), agents, history, &recorderFake{}, nil)
	answer, err := orch.Process(context.Background(), "pergunta sem resposta", "conv-3")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if answer.Status != domain.AnswerStatusNoAnswer {
		t.Fatalf("expected no_answer, got %s", answer.Status)
	}

	turns, _ := history.ListRecentTurns(context.Background(), "conv-3", 10)
	if len(turns) != 2 {
		t.Fatalf("expected user+assistant turns on the no-answer merge, got %d", len(turns))
	}
	if turns[1].Role != domain.RoleAssistant || turns[1].Content != noAnswerMessage {
		t.Fatalf("unexpected assistant turn %+v", turns[1])
	}
}

func TestProcessPanickingAgentIsIsolated(t *testing.T) {
	recorder := &recorderFake{}
	agents := []domainAgentFake{
		{name: "constitutional_law", response: successResponse("constitutional_law", 0.7)},
		{name: "consumer_law", panics: true},
		{name: "human_rights_law", response: successResponse("human_rights_law", 0.5)},
	}

	orch := newTestOrchestrator(routingResponse("constitutional_law", "consumer_law", "human_rights_law"), agents, newHistoryFake(), recorder, nil)
	answer, err := orch.Process(context.Background(), "q", "")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if answer.Status != domain.AnswerStatusSuccess {
		t.Fatalf("expected surviving agents to merge, got %s", answer.Status)
	}
	if len(answer.Domains) != 2 {
		t.Fatalf("expected 2 contributing domains, got %v", answer.Domains)
	}
	if recorder.count() != 1 {
		t.Fatalf("expected 1 interaction record, got %d", recorder.count())
	}
}

func TestProcessTemporaryFailurePropagatesAndStillLogs(t *testing.T) {
	recorder := &recorderFake{}
	searcher := webSearcherFake{results: []domain.WebResult{{URL: "https://www.gov.br", Content: "x"}}}
	fallback := NewWebFallback(WebFallbackConfig{}, searcher, rerankGeneratorFake{err: errors.New("llm down")}, testLogger())

	orch := newTestOrchestrator(`{"selected_agents": [], "scores": {}}`, nil, newHistoryFake(), recorder, fallback)
	answer, err := orch.Process(context.Background(), "q", "")
	if err == nil {
		t.Fatalf("expected temporary infrastructure error to propagate")
	}
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary kind, got %v", err)
	}
	if answer.Status != domain.AnswerStatusError {
		t.Fatalf("expected error status, got %s", answer.Status)
	}
	if !strings.HasPrefix(answer.Answer, "Erro no sistema: ") {
		t.Fatalf("unexpected error answer %q", answer.Answer)
	}
	if recorder.count() != 1 {
		t.Fatalf("expected interaction record on the error path, got %d", recorder.count())
	}
	if recorder.last().Status != domain.AnswerStatusError {
		t.Fatalf("expected error status in record, got %s", recorder.last().Status)
	}
}
