package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Generator 文本生成服务
type Generator interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// OpenAIGeneratorOptions 生成参数
type OpenAIGeneratorOptions struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxRetries  int
	Backoff     []time.Duration
}

// OpenAIGenerator 基于Chat Completions的生成器，限流和服务端错误会退避重试
type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	temperature float32
	maxRetries  int
	backoff     []time.Duration
	logger      *zap.Logger
}

// NewOpenAIGenerator 创建生成器
func NewOpenAIGenerator(opts OpenAIGeneratorOptions, logger *zap.Logger) (*OpenAIGenerator, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("openai api key not configured")
	}
	if opts.Model == "" {
		opts.Model = openai.GPT3Dot5Turbo
	}
	if len(opts.Backoff) == 0 {
		opts.Backoff = []time.Duration{time.Second, 3 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}

	return &OpenAIGenerator{
		client:      openai.NewClientWithConfig(cfg),
		model:       opts.Model,
		temperature: float32(opts.Temperature),
		maxRetries:  opts.MaxRetries,
		backoff:     opts.Backoff,
		logger:      logger,
	}, nil
}

// Generate 生成回答文本
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       g.model,
		MaxTokens:   maxTokens,
		Temperature: g.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}

	for attempt := 0; ; attempt++ {
		resp, err := g.client.CreateChatCompletion(ctx, req)
		if err == nil {
			if len(resp.Choices) == 0 {
				return "", errors.New("completion has no choices")
			}
			return stripEchoedPrompt(resp.Choices[0].Message.Content, prompt), nil
		}
		if attempt >= g.maxRetries || !retryable(err) {
			return "", err
		}

		wait := g.backoff[len(g.backoff)-1]
		if attempt < len(g.backoff) {
			wait = g.backoff[attempt]
		}
		g.logger.Warn("generation call failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-time.After(wait):
		}
	}
}

// retryable 限流和5xx错误可重试
func retryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return false
}

func stripEchoedPrompt(response, prompt string) string {
	if strings.HasPrefix(response, prompt) {
		response = response[len(prompt):]
	}
	return strings.TrimSpace(response)
}

// ErrGeneratorNotConfigured 未配置生成服务
var ErrGeneratorNotConfigured = errors.New("generation backend not configured")

// UnconfiguredGenerator 没有API密钥时的占位实现，每次调用都失败
type UnconfiguredGenerator struct{}

func (UnconfiguredGenerator) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return "", ErrGeneratorNotConfigured
}
