package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/legal-rag-assistant/internal/core/domain"
	"github.com/kirillkom/legal-rag-assistant/internal/core/ports"
)

// Router classifies a standalone query into the configured legal domains.
// It is the single seam between in-domain processing and the web fallback
// path and never returns an error: every malformed classifier output
// normalizes to the out-of-context decision.
type Router struct {
	generator ports.TextGenerator
	domains   []domain.KnowledgeDomain
	timeout   time.Duration
	logger    *slog.Logger
}

func NewRouter(generator ports.TextGenerator, domains []domain.KnowledgeDomain, timeout time.Duration, logger *slog.Logger) *Router {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Router{generator: generator, domains: domains, timeout: timeout, logger: logger}
}

func (r *Router) Route(ctx context.Context, query string) domain.RoutingDecision {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	raw, err := r.generator.GenerateJSON(callCtx, r.buildRoutingPrompt(query))
	if err != nil {
		r.logger.Warn("routing call failed, treating query as out of context", "error", err)
		return outOfContextDecision(query)
	}

	selected, scores, ok := parseRoutingResponse(raw, r.domainNames())
	if !ok {
		r.logger.Warn("routing response invalid, treating query as out of context", "response", raw)
		return outOfContextDecision(query)
	}
	if len(selected) == 0 {
		return outOfContextDecision(query)
	}

	return domain.RoutingDecision{
		Query:           query,
		SelectedDomains: selected,
		Scores:          scores,
		PrimaryDomain:   selected[0],
	}
}

func (r *Router) buildRoutingPrompt(query string) string {
	var b strings.Builder
	b.WriteString("Você é um classificador de perguntas jurídicas. Analise a pergunta e selecione os domínios capazes de respondê-la.\n\nDomínios disponíveis:\n")
	for _, d := range r.domains {
		fmt.Fprintf(&b, "- %s: %s\n", d.Name, d.Description)
	}
	b.WriteString("\nResponda apenas com um objeto JSON no formato:\n")
	b.WriteString(`{"selected_agents": ["dominio1", "dominio2"], "scores": {"dominio1": 0.9, "dominio2": 0.4}}`)
	b.WriteString("\n\nSe nenhum domínio for adequado, responda:\n")
	b.WriteString(`{"selected_agents": [], "scores": {}}`)
	fmt.Fprintf(&b, "\n\nPergunta: %s\n", query)
	return b.String()
}

func (r *Router) domainNames() map[string]struct{} {
	out := make(map[string]struct{}, len(r.domains))
	for _, d := range r.domains {
		out[d.Name] = struct{}{}
	}
	return out
}

type routingPayload struct {
	SelectedAgents []string           `json:"selected_agents"`
	Scores         map[string]float64 `json:"scores"`
}

// parseRoutingResponse validates the classifier output. Non-JSON payloads,
// non-object payloads, and unknown domain names all land on the invalid
// variant rather than an error.
func parseRoutingResponse(raw string, known map[string]struct{}) ([]string, map[string]float64, bool) {
	body, ok := extractJSONObject(raw)
	if !ok {
		return nil, nil, false
	}

	var payload routingPayload
	decoder := json.NewDecoder(strings.NewReader(body))
	if err := decoder.Decode(&payload); err != nil {
		return nil, nil, false
	}

	selected := make([]string, 0, len(payload.SelectedAgents))
	seen := make(map[string]struct{}, len(payload.SelectedAgents))
	for _, name := range payload.SelectedAgents {
		if _, valid := known[name]; !valid {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		selected = append(selected, name)
	}

	scores := make(map[string]float64, len(selected))
	for _, name := range selected {
		if score, present := payload.Scores[name]; present {
			scores[name] = score
		}
	}
	return selected, scores, true
}

func outOfContextDecision(query string) domain.RoutingDecision {
	return domain.RoutingDecision{
		Query:           query,
		SelectedDomains: []string{domain.OutOfContextDomain},
		Scores:          map[string]float64{},
		PrimaryDomain:   domain.OutOfContextDomain,
	}
}

// extractJSONObject cuts the first top-level JSON object out of a model
// response that may carry prose around it.
func extractJSONObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}
