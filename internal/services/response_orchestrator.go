package services

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/aihub/policy-assistant/internal/conversation"
	apperrors "github.com/aihub/policy-assistant/internal/errors"
	"github.com/aihub/policy-assistant/internal/knowledge"
	"github.com/aihub/policy-assistant/internal/models"
	"go.uber.org/zap"
)

const (
	// DetailedQuestionMessage 问题过短时的固定回复
	DetailedQuestionMessage = "Please ask a more detailed question about our insurance policies."

	minAnswerTokens = 150
	maxAnswerTokens = 500

	// DefaultGenerationTimeout 生成调用默认超时
	DefaultGenerationTimeout = 30 * time.Second
)

const promptTemplate = `You are an insurance policy assistant. Your task is to answer the user's question based ONLY on the information provided in the context.
If the context doesn't contain relevant information to answer the question, admit that you don't know rather than making up an answer.

Previous conversation:
%s

Context information from insurance policy documents:
%s

User's question: %s

Remember:
1. Only use facts stated in the context.
2. If the context doesn't contain the answer, say "I don't have enough information to answer this question accurately."
3. Don't make up policy details not found in the context.
4. Be clear and concise.

Your answer:`

// BuildPrompt 组装生成提示词
func BuildPrompt(history, context, question string) string {
	return fmt.Sprintf(promptTemplate, history, context, question)
}

// TokenBudget 回答长度上限：问题字符数的3倍，限制在[150, 500]
func TokenBudget(question string) int {
	budget := utf8.RuneCountInString(question) * 3
	if budget < minAnswerTokens {
		return minAnswerTokens
	}
	if budget > maxAnswerTokens {
		return maxAnswerTokens
	}
	return budget
}

// OrchestratorOptions 编排参数
type OrchestratorOptions struct {
	TopK              int
	GenerationTimeout time.Duration
	Templates         Templates
}

// ResponseOrchestrator 检索、提示词组装、生成与分档模板的完整问答流程
type ResponseOrchestrator struct {
	engine    *knowledge.QueryEngine
	generator Generator
	breaker   *CircuitBreaker
	metrics   *MetricsService
	templates Templates
	topK      int
	timeout   time.Duration
	logger    *zap.Logger
}

// NewResponseOrchestrator 创建问答编排器
func NewResponseOrchestrator(engine *knowledge.QueryEngine, generator Generator, breaker *CircuitBreaker, metrics *MetricsService, opts OrchestratorOptions, logger *zap.Logger) *ResponseOrchestrator {
	if opts.TopK <= 0 {
		opts.TopK = knowledge.DefaultTopK
	}
	if opts.GenerationTimeout <= 0 {
		opts.GenerationTimeout = DefaultGenerationTimeout
	}
	if opts.Templates == (Templates{}) {
		opts.Templates = DefaultTemplates()
	}
	if breaker == nil {
		breaker = NewCircuitBreaker("generation", 5, 1, 30*time.Second)
	}
	if metrics == nil {
		metrics = NewMetricsService()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResponseOrchestrator{
		engine:    engine,
		generator: generator,
		breaker:   breaker,
		metrics:   metrics,
		templates: opts.Templates,
		topK:      opts.TopK,
		timeout:   opts.GenerationTimeout,
		logger:    logger,
	}
}

// Answer 回答问题。history 为当前会话历史，末尾可以是尚未回答的本次提问
func (o *ResponseOrchestrator) Answer(ctx context.Context, question string, index knowledge.SimilarityIndex, chunks []knowledge.Chunk, history []models.ConversationTurn) (models.Answer, error) {
	result, err := o.engine.Query(ctx, question, index, chunks, o.topK)
	if apperrors.Is(err, apperrors.ErrCodeInvalidQuery) {
		o.metrics.RecordAnswer("rejected", "no_info", 0)
		return models.Answer{Text: DetailedQuestionMessage, Confidence: 0, Sources: []models.Source{}}, nil
	}
	if err != nil {
		o.metrics.RecordAnswer("retrieval_failure", "no_info", 0)
		return models.Answer{}, err
	}

	prompt := BuildPrompt(conversation.Format(history), result.Context, question)
	raw, err := o.generate(ctx, prompt, TokenBudget(question))
	if err != nil {
		o.metrics.RecordAnswer("generation_failure", Tier(result.Confidence), result.Confidence)
		return models.Answer{}, err
	}

	tier := Tier(result.Confidence)
	o.metrics.RecordAnswer("answered", tier, result.Confidence)
	o.logger.Info("question answered",
		zap.Float64("confidence", result.Confidence),
		zap.String("tier", tier),
		zap.Int("sources", len(result.Sources)))

	sources := make([]models.Source, len(result.Sources))
	for i, c := range result.Sources {
		sources[i] = models.Source{Ordinal: c.Ordinal, Text: c.Text}
	}
	return models.Answer{
		Text:       o.templates.Render(result.Confidence, raw),
		Confidence: result.Confidence,
		Sources:    sources,
	}, nil
}

type generation struct {
	text string
	err  error
}

// generate 在超时和熔断保护下调用生成服务；生成器不响应取消时也按时返回
func (o *ResponseOrchestrator) generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	start := time.Now()
	var text string
	err := o.breaker.Call(ctx, func(ctx context.Context) error {
		done := make(chan generation, 1)
		go func() {
			t, err := o.generator.Generate(ctx, prompt, maxTokens)
			done <- generation{text: t, err: err}
		}()
		select {
		case g := <-done:
			text = g.text
			return g.err
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	elapsed := time.Since(start)

	switch {
	case err == nil:
		o.metrics.RecordGeneration("ok", elapsed)
		return text, nil
	case errors.Is(err, ErrCircuitOpen):
		o.metrics.RecordGeneration(apperrors.KindCircuitOpen, elapsed)
		return "", apperrors.GenerationFailure(apperrors.KindCircuitOpen, err)
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		o.metrics.RecordGeneration(apperrors.KindTimeout, elapsed)
		return "", apperrors.GenerationFailure(apperrors.KindTimeout, fmt.Errorf("no response within %s: %w", o.timeout, err))
	default:
		o.metrics.RecordGeneration(apperrors.KindBackend, elapsed)
		return "", apperrors.GenerationFailure(apperrors.KindBackend, err)
	}
}
