package tavily

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/legal-rag-assistant/internal/core/domain"
	"github.com/kirillkom/legal-rag-assistant/internal/infrastructure/resilience"
)

const defaultBaseURL = "https://api.tavily.com"

// trustedSites is the allowlist for out-of-context answers. Only official
// Brazilian government and international institution domains are queried.
var trustedSites = []string{
	"gov.br",
	"stf.jus.br",
	"stj.jus.br",
	"tse.jus.br",
	"ibge.gov.br",
	"ipea.gov.br",
	"oas.org",
	"un.org",
}

type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

func (c Config) normalize() Config {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// Client searches the web through the Tavily API, restricted to the
// trusted-site allowlist.
type Client struct {
	cfg        Config
	httpClient *http.Client
	executor   *resilience.Executor
	logger     *slog.Logger
}

func New(cfg Config, executor *resilience.Executor, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "tavily client init", errors.New("api key is required"))
	}
	cfg = cfg.normalize()
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		executor:   executor,
		logger:     logger,
	}, nil
}

func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]domain.WebResult, error) {
	if maxResults <= 0 {
		maxResults = 5
	}

	reqBody := map[string]any{
		"api_key":     c.cfg.APIKey,
		"query":       restrictToTrustedSites(query),
		"max_results": maxResults,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal tavily request: %w", err)
	}

	var results []domain.WebResult
	err = c.executor.Execute(ctx, "tavily_search", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/search", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create tavily request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("tavily search request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			return fmt.Errorf("tavily search status: %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
		}

		var searchResp struct {
			Results []struct {
				URL     string `json:"url"`
				Content string `json:"content"`
			} `json:"results"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
			return fmt.Errorf("decode tavily response: %w", err)
		}

		results = results[:0]
		for _, r := range searchResp.Results {
			if strings.TrimSpace(r.Content) == "" {
				continue
			}
			results = append(results, domain.WebResult{URL: r.URL, Content: r.Content})
		}
		return nil
	}, classifyTavilyError)
	if err != nil {
		return nil, err
	}
	return results, nil
}

// restrictToTrustedSites appends the site filter so the search engine only
// returns pages from the allowlist.
func restrictToTrustedSites(query string) string {
	clauses := make([]string, len(trustedSites))
	for i, site := range trustedSites {
		clauses[i] = "site:" + site
	}
	return fmt.Sprintf("%s (%s)", query, strings.Join(clauses, " OR "))
}

func classifyTavilyError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
}
