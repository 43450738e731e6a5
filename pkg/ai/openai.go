package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	aiDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "deckquiz",
		Subsystem: "ai",
		Name:      "request_duration_seconds",
		Help:      "Duration of LLM and embedding requests",
	}, []string{"model", "operation"})

	aiFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deckquiz",
		Subsystem: "ai",
		Name:      "request_failures_total",
		Help:      "Number of failed LLM and embedding requests",
	}, []string{"model", "operation"})
)

// OpenAIConfig defines configuration options for the OpenAI client.
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	ChatModel      string
	VisionModel    string
	EmbeddingModel string
	MaxTokens      int
	Temperature    float32
	Logger         zerolog.Logger
}

// OpenAIClient implements Generator and Embedder against the OpenAI API.
// Requests carrying an image are routed to the vision model.
type OpenAIClient struct {
	client *openai.Client
	cfg    OpenAIConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewOpenAIClient builds a new client using the provided configuration.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	if cfg.ChatModel == "" {
		cfg.ChatModel = "gpt-4o-mini"
	}

	if cfg.VisionModel == "" {
		cfg.VisionModel = cfg.ChatModel
	}

	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = string(openai.SmallEmbedding3)
	}

	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 512
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(config),
		cfg:    cfg,
		tracer: otel.Tracer("github.com/deckquiz/deckquiz-go-api/pkg/ai/openai"),
		logger: cfg.Logger.With().Str("component", "openai_client").Logger(),
	}, nil
}

// Generate sends one chat completion request and returns the text response.
func (c *OpenAIClient) Generate(parent context.Context, req GenerateRequest) (string, error) {
	model := c.cfg.ChatModel
	operation := "generate"
	if len(req.Image) > 0 {
		model = c.cfg.VisionModel
		operation = "generate_vision"
	}

	ctx, span := c.tracer.Start(parent, "openai.generate", trace.WithAttributes(
		attribute.String("model", model),
		attribute.String("operation", operation),
	))
	defer span.End()

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}

	request := openai.ChatCompletionRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Messages:    buildMessages(req),
	}
	if req.JSONMode {
		request.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, request)
	aiDuration.WithLabelValues(model, operation).Observe(time.Since(start).Seconds())
	if err != nil {
		aiFailures.WithLabelValues(model, operation).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("openai generate: %w", err)
	}

	if len(resp.Choices) == 0 {
		err := fmt.Errorf("no choices returned from openai")
		aiFailures.WithLabelValues(model, operation).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// EmbedTexts embeds all inputs in one request, returning vectors in input order.
func (c *OpenAIClient) EmbedTexts(parent context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	ctx, span := c.tracer.Start(parent, "openai.embed", trace.WithAttributes(
		attribute.String("model", c.cfg.EmbeddingModel),
		attribute.Int("inputs", len(inputs)),
	))
	defer span.End()

	start := time.Now()
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: inputs,
		Model: openai.EmbeddingModel(c.cfg.EmbeddingModel),
	})
	aiDuration.WithLabelValues(c.cfg.EmbeddingModel, "embed").Observe(time.Since(start).Seconds())
	if err != nil {
		aiFailures.WithLabelValues(c.cfg.EmbeddingModel, "embed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("openai embed: %w", err)
	}

	if len(resp.Data) != len(inputs) {
		err := fmt.Errorf("embedding count mismatch: sent %d inputs, received %d vectors", len(inputs), len(resp.Data))
		aiFailures.WithLabelValues(c.cfg.EmbeddingModel, "embed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	vectors := make([][]float32, len(resp.Data))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}

	return vectors, nil
}

func buildMessages(req GenerateRequest) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}

	if len(req.Image) == 0 {
		return append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: req.Prompt,
		})
	}

	mime := req.ImageMIME
	if mime == "" {
		mime = "image/png"
	}

	dataURL := fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(req.Image))

	return append(messages, openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: req.Prompt},
			{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
				URL:    dataURL,
				Detail: openai.ImageURLDetailAuto,
			}},
		},
	})
}

// IsRetryable classifies OpenAI errors for the retry policy: rate limits and
// server-side failures are transient, other API rejections are not. Errors
// that never reached the API (network, context) count as transient so the
// retry wrapper decides based on its own context handling.
func IsRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500 {
			return true
		}
		return false
	}

	return !errors.Is(err, context.Canceled)
}
