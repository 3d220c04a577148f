package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/legal-rag-assistant/internal/core/domain"
	"github.com/kirillkom/legal-rag-assistant/internal/core/ports"
)

const (
	noAnswerMessage = "Não foi possível encontrar uma resposta adequada nas bases jurídicas especializadas."

	outOfContextMessage = "Desculpe, sua pergunta está fora do escopo das bases jurídicas especializadas deste assistente. Posso ajudar com questões de direito constitucional, direito do consumidor e direitos humanos."

	multiAgentHeader = "🔍 **Análise Multiagente - Resposta Integrada**"
)

// OrchestrationMetrics receives orchestration outcome signals.
// Implementations must be safe for concurrent use.
type OrchestrationMetrics interface {
	RecordRouting(primaryDomain string)
	RecordAgent(domainName string, status string, seconds float64)
	RecordQuery(status string, seconds float64)
}

type OrchestratorConfig struct {
	MaxConcurrentAgents int
	HistoryLimit        int
	LLMTimeout          time.Duration
}

func (c OrchestratorConfig) normalize() OrchestratorConfig {
	if c.MaxConcurrentAgents <= 0 {
		c.MaxConcurrentAgents = 3
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 6
	}
	if c.LLMTimeout <= 0 {
		c.LLMTimeout = 60 * time.Second
	}
	return c
}

// Orchestrator runs the per-query state machine: rewrite, route, fan out to
// the selected agents (or the web fallback), merge, and log. Every call
// produces a well-formed FinalAnswer and exactly one interaction record.
type Orchestrator struct {
	cfg         OrchestratorConfig
	generator   ports.TextGenerator
	router      *Router
	agents      map[string]ports.DomainAgent
	webFallback *WebFallback
	history     ports.ConversationStore
	recorder    ports.InteractionRecorder
	publisher   ports.InteractionPublisher
	metrics     OrchestrationMetrics
	logger      *slog.Logger
}

func NewOrchestrator(
	cfg OrchestratorConfig,
	generator ports.TextGenerator,
	router *Router,
	agents []ports.DomainAgent,
	webFallback *WebFallback,
	history ports.ConversationStore,
	recorder ports.InteractionRecorder,
	publisher ports.InteractionPublisher,
	metrics OrchestrationMetrics,
	logger *slog.Logger,
) *Orchestrator {
	byDomain := make(map[string]ports.DomainAgent, len(agents))
	for _, agent := range agents {
		byDomain[agent.Domain()] = agent
	}
	return &Orchestrator{
		cfg:         cfg.normalize(),
		generator:   generator,
		router:      router,
		agents:      byDomain,
		webFallback: webFallback,
		history:     history,
		recorder:    recorder,
		publisher:   publisher,
		metrics:     metrics,
		logger:      logger,
	}
}

// Process answers one query. Domain-logic failures never surface as errors:
// the catch-all converts them into an error-status FinalAnswer. Temporary
// infrastructure failures keep their error so transports can map them to a
// retryable status. The interaction record is written on every path.
func (o *Orchestrator) Process(ctx context.Context, query, conversationID string) (answer *domain.FinalAnswer, err error) {
	start := time.Now()
	interactionID := uuid.NewString()
	standalone := query

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("orchestration panicked", "panic", r)
			err = nil
			answer = errorAnswer(query, fmt.Errorf("%v", r))
		}
		if answer == nil {
			answer = errorAnswer(query, err)
		}
		if !domain.IsKind(err, domain.ErrTemporary) {
			err = nil
		}
		o.finalize(interactionID, conversationID, query, standalone, time.Since(start), answer)
	}()

	history := o.loadHistory(ctx, conversationID)
	standalone = o.rewriteQuery(ctx, query, history)

	decision := o.router.Route(ctx, standalone)
	if o.metrics != nil {
		o.metrics.RecordRouting(decision.PrimaryDomain)
	}

	if decision.OutOfContext() {
		if o.webFallback == nil {
			return &domain.FinalAnswer{
				Query:           query,
				Answer:          outOfContextMessage,
				RoutingDecision: &decision,
				Status:          domain.AnswerStatusOutOfContext,
			}, nil
		}
		webAnswer, webErr := o.webFallback.Answer(ctx, standalone)
		if webErr != nil {
			return nil, webErr
		}
		webAnswer.Query = query
		webAnswer.RoutingDecision = &decision
		return webAnswer, nil
	}

	responses := o.fanOut(ctx, standalone, history, decision)
	merged := o.merge(query, decision, responses)

	// Every fan-out outcome becomes part of the conversation, including
	// the no-answer message: a follow-up rephrasing needs that context.
	o.appendHistory(ctx, conversationID, query, merged.Answer)
	return merged, nil
}

func (o *Orchestrator) ClearConversation(ctx context.Context, conversationID string) error {
	if o.history == nil {
		return nil
	}
	return o.history.ClearConversation(ctx, conversationID)
}

func (o *Orchestrator) loadHistory(ctx context.Context, conversationID string) []domain.ConversationTurn {
	if o.history == nil || conversationID == "" {
		return nil
	}
	turns, err := o.history.ListRecentTurns(ctx, conversationID, o.cfg.HistoryLimit)
	if err != nil {
		o.logger.Warn("loading conversation history failed, proceeding without it", "error", err)
		return nil
	}
	return turns
}

// rewriteQuery turns a follow-up question into a standalone one. Failures
// keep the original query; this step only improves routing and retrieval.
func (o *Orchestrator) rewriteQuery(ctx context.Context, query string, history []domain.ConversationTurn) string {
	if len(history) == 0 {
		return query
	}

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.LLMTimeout)
	defer cancel()

	rewritten, err := o.generator.GenerateText(callCtx, buildRewritePrompt(query, history))
	if err != nil {
		o.logger.Warn("standalone rewrite failed, using original query", "error", err)
		return query
	}
	rewritten = strings.TrimSpace(rewritten)
	if rewritten == "" {
		return query
	}
	return rewritten
}

func buildRewritePrompt(query string, history []domain.ConversationTurn) string {
	var b strings.Builder
	b.WriteString("Reescreva a pergunta abaixo como uma pergunta independente e completa, usando o histórico da conversa para resolver referências. Responda apenas com a pergunta reescrita.\n\nHistórico:\n")
	for _, turn := range history {
		fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
	}
	fmt.Fprintf(&b, "\nPergunta: %s\n", query)
	return b.String()
}

type agentOutcome struct {
	response domain.AgentResponse
	err      error
}

// fanOut invokes every selected agent concurrently, bounded by the
// configured concurrency, and gathers all outcomes. A failing agent is
// recorded as an error-status response and never cancels its siblings.
func (o *Orchestrator) fanOut(ctx context.Context, query string, history []domain.ConversationTurn, decision domain.RoutingDecision) []domain.AgentResponse {
	type task struct {
		index int
		agent ports.DomainAgent
	}

	tasks := make([]task, 0, len(decision.SelectedDomains))
	outcomes := make([]agentOutcome, len(decision.SelectedDomains))
	for i, name := range decision.SelectedDomains {
		agent, ok := o.agents[name]
		if !ok {
			o.logger.Warn("routing selected unknown domain", "domain", name)
			outcomes[i] = agentOutcome{err: fmt.Errorf("unknown domain %s", name)}
			continue
		}
		tasks = append(tasks, task{index: i, agent: agent})
	}

	semaphore := make(chan struct{}, o.cfg.MaxConcurrentAgents)
	var wg sync.WaitGroup
	for _, t := range tasks {
		wg.Add(1)
		go func(t task) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					outcomes[t.index] = agentOutcome{err: fmt.Errorf("agent panic: %v", r)}
				}
			}()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			started := time.Now()
			response, err := t.agent.Invoke(ctx, query, history)
			if o.metrics != nil {
				status := string(response.Status)
				if err != nil {
					status = string(domain.AgentStatusError)
				}
				o.metrics.RecordAgent(t.agent.Domain(), status, time.Since(started).Seconds())
			}
			outcomes[t.index] = agentOutcome{response: response, err: err}
		}(t)
	}
	wg.Wait()

	responses := make([]domain.AgentResponse, 0, len(outcomes))
	for i, outcome := range outcomes {
		if outcome.err != nil {
			o.logger.Warn("agent invocation failed, excluding from merge",
				"domain", decision.SelectedDomains[i], "error", outcome.err)
			responses = append(responses, domain.AgentResponse{
				Domain: decision.SelectedDomains[i],
				Status: domain.AgentStatusError,
			})
			continue
		}
		responses = append(responses, outcome.response)
	}
	return responses
}

// merge combines agent responses in selected-domain order. One success
// passes through verbatim; several are concatenated as labeled blocks with
// the union of sources and the maximum confidence.
func (o *Orchestrator) merge(query string, decision domain.RoutingDecision, responses []domain.AgentResponse) *domain.FinalAnswer {
	successes := make([]domain.AgentResponse, 0, len(responses))
	for _, r := range responses {
		if r.Status == domain.AgentStatusSuccess {
			successes = append(successes, r)
		}
	}

	if len(successes) == 0 {
		return &domain.FinalAnswer{
			Query:           query,
			Answer:          noAnswerMessage,
			Domains:         decision.SelectedDomains,
			RoutingDecision: &decision,
			Status:          domain.AnswerStatusNoAnswer,
		}
	}

	if len(successes) == 1 {
		only := successes[0]
		return &domain.FinalAnswer{
			Query:           query,
			Answer:          only.Answer,
			Sources:         only.Sources,
			PrimaryAgent:    only.Domain,
			Domains:         []string{only.Domain},
			Confidence:      only.Confidence,
			RoutingDecision: &decision,
			Status:          domain.AnswerStatusSuccess,
		}
	}

	var b strings.Builder
	b.WriteString(multiAgentHeader)
	b.WriteString("\n\n")

	domains := make([]string, 0, len(successes))
	var sources []domain.RankedDocument
	seen := make(map[string]struct{})
	confidence := successes[0].Confidence

	for _, r := range successes {
		fmt.Fprintf(&b, "**📚 %s:**\n%s\n\n---\n\n", r.Domain, r.Answer)
		domains = append(domains, r.Domain)
		for _, doc := range r.Sources {
			key := doc.IdentityKey()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			sources = append(sources, doc)
		}
		// Ties keep the earlier agent in selected-domain order.
		if r.Confidence > confidence {
			confidence = r.Confidence
		}
	}
	b.WriteString("As análises acima integram as perspectivas das diferentes áreas do direito consultadas.")

	return &domain.FinalAnswer{
		Query:           query,
		Answer:          b.String(),
		Sources:         sources,
		PrimaryAgent:    decision.PrimaryDomain,
		Domains:         domains,
		Confidence:      confidence,
		RoutingDecision: &decision,
		Status:          domain.AnswerStatusSuccess,
	}
}

func (o *Orchestrator) appendHistory(ctx context.Context, conversationID, query, answer string) {
	if o.history == nil || conversationID == "" {
		return
	}
	if err := o.history.EnsureConversation(ctx, conversationID); err != nil {
		o.logger.Warn("ensuring conversation failed, skipping history update", "error", err)
		return
	}
	now := time.Now().UTC()
	userTurn := domain.ConversationTurn{Role: domain.RoleUser, Content: query, CreatedAt: now}
	if err := o.history.AppendTurn(ctx, conversationID, userTurn); err != nil {
		o.logger.Warn("appending user turn failed", "error", err)
		return
	}
	assistantTurn := domain.ConversationTurn{Role: domain.RoleAssistant, Content: answer, CreatedAt: now}
	if err := o.history.AppendTurn(ctx, conversationID, assistantTurn); err != nil {
		o.logger.Warn("appending assistant turn failed", "error", err)
	}
}

// finalize writes the interaction record and emits the completion event.
// It runs on every path out of Process, including the catch-all.
func (o *Orchestrator) finalize(interactionID, conversationID, query, standalone string, elapsed time.Duration, answer *domain.FinalAnswer) {
	record := domain.InteractionRecord{
		InteractionID:   interactionID,
		Timestamp:       time.Now().UTC(),
		ConversationID:  conversationID,
		OriginalQuery:   query,
		StandaloneQuery: standalone,
		DurationSeconds: elapsed.Seconds(),
		Answer:          answer.Answer,
		PrimaryAgent:    answer.PrimaryAgent,
		Domains:         answer.Domains,
		Confidence:      answer.Confidence,
		Status:          answer.Status,
	}

	if o.metrics != nil {
		o.metrics.RecordQuery(string(answer.Status), elapsed.Seconds())
	}
	if o.recorder != nil {
		if err := o.recorder.Record(record); err != nil {
			o.logger.Error("writing interaction record failed", "error", err)
		}
	}
	if o.publisher != nil {
		publishCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.publisher.PublishInteractionCompleted(publishCtx, record); err != nil {
			o.logger.Warn("publishing interaction event failed", "error", err)
		}
	}
}

func errorAnswer(query string, err error) *domain.FinalAnswer {
	message := "erro desconhecido"
	if err != nil {
		message = err.Error()
	}
	return &domain.FinalAnswer{
		Query:  query,
		Answer: fmt.Sprintf("Erro no sistema: %s", message),
		Status: domain.AnswerStatusError,
	}
}
