package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/kirillkom/legal-rag-assistant/internal/core/domain"
	"github.com/kirillkom/legal-rag-assistant/internal/core/ports"
	"github.com/kirillkom/legal-rag-assistant/internal/infrastructure/resilience"
)

type Config struct {
	APIKey      string
	BaseURL     string
	ChatModel   string
	EmbedModel  string
	Temperature float32
	Timeout     time.Duration
}

func (c Config) normalize() Config {
	if c.ChatModel == "" {
		c.ChatModel = goopenai.GPT4oMini
	}
	if c.EmbedModel == "" {
		c.EmbedModel = string(goopenai.SmallEmbedding3)
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	return c
}

// Client talks to the OpenAI API for chat completions and embeddings.
// Calls run through the resilience executor; embeddings are cached in the
// artifact store keyed by model and input text.
type Client struct {
	cfg      Config
	api      *goopenai.Client
	executor *resilience.Executor
	cache    ports.ArtifactCache
	logger   *slog.Logger
}

// New fails when the API key is missing. That is a startup error: no query
// is accepted without a working model backend.
func New(cfg Config, executor *resilience.Executor, cache ports.ArtifactCache, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "openai client init", errors.New("api key is required"))
	}
	cfg = cfg.normalize()

	apiCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}

	return &Client{
		cfg:      cfg,
		api:      goopenai.NewClientWithConfig(apiCfg),
		executor: executor,
		cache:    cache,
		logger:   logger,
	}, nil
}

func (c *Client) GenerateText(ctx context.Context, prompt string) (string, error) {
	return c.chat(ctx, prompt, nil)
}

// GenerateJSON constrains the completion to a JSON object and trims any
// prose the model still wraps around it.
func (c *Client) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	format := &goopenai.ChatCompletionResponseFormat{Type: goopenai.ChatCompletionResponseFormatTypeJSONObject}
	raw, err := c.chat(ctx, prompt, format)
	if err != nil {
		return "", err
	}
	if body, ok := extractJSONObject(raw); ok {
		return body, nil
	}
	return raw, nil
}

func (c *Client) chat(ctx context.Context, prompt string, format *goopenai.ChatCompletionResponseFormat) (string, error) {
	var content string
	err := c.executor.Execute(ctx, "openai_chat", func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		resp, err := c.api.CreateChatCompletion(callCtx, goopenai.ChatCompletionRequest{
			Model:          c.cfg.ChatModel,
			Temperature:    c.cfg.Temperature,
			ResponseFormat: format,
			Messages: []goopenai.ChatCompletionMessage{
				{Role: goopenai.ChatMessageRoleUser, Content: prompt},
			},
		})
		if err != nil {
			return fmt.Errorf("openai chat completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("openai chat completion: empty choices")
		}
		content = resp.Choices[0].Message.Content
		return nil
	}, classifyOpenAIError)
	if err != nil {
		return "", wrapTemporaryIfNeeded("openai chat", err)
	}
	return content, nil
}

func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	missing := make([]string, 0, len(texts))
	missingIdx := make([]int, 0, len(texts))

	for i, text := range texts {
		if vector, ok := c.cachedEmbedding(text); ok {
			out[i] = vector
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	var data []goopenai.Embedding
	err := c.executor.Execute(ctx, "openai_embeddings", func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		resp, err := c.api.CreateEmbeddings(callCtx, goopenai.EmbeddingRequestStrings{
			Input: missing,
			Model: goopenai.EmbeddingModel(c.cfg.EmbedModel),
		})
		if err != nil {
			return fmt.Errorf("openai embeddings: %w", err)
		}
		if len(resp.Data) != len(missing) {
			return fmt.Errorf("openai embeddings: expected %d vectors, got %d", len(missing), len(resp.Data))
		}
		data = resp.Data
		return nil
	}, classifyOpenAIError)
	if err != nil {
		return nil, wrapTemporaryIfNeeded("openai embeddings", err)
	}

	for i, emb := range data {
		out[missingIdx[i]] = emb.Embedding
		c.storeEmbedding(missing[i], emb.Embedding)
	}
	return out, nil
}

func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (c *Client) cachedEmbedding(text string) ([]float32, bool) {
	if c.cache == nil {
		return nil, false
	}
	payload, ok := c.cache.Get(domain.CacheNamespaceEmbeddings, c.embeddingKey(text))
	if !ok {
		return nil, false
	}
	var vector []float32
	if err := json.Unmarshal(payload, &vector); err != nil {
		return nil, false
	}
	return vector, true
}

func (c *Client) storeEmbedding(text string, vector []float32) {
	if c.cache == nil {
		return
	}
	payload, err := json.Marshal(vector)
	if err != nil {
		return
	}
	c.cache.Set(domain.CacheNamespaceEmbeddings, c.embeddingKey(text), payload)
}

func (c *Client) embeddingKey(text string) string {
	return fmt.Sprintf("%s_%s", c.cfg.EmbedModel, text)
}

func extractJSONObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}
