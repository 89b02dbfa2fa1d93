package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/syedsabbir-git/ClassSync-sub001/internal/llm/prompts"
	"github.com/syedsabbir-git/ClassSync-sub001/internal/metrics"
	"github.com/syedsabbir-git/ClassSync-sub001/internal/model"
)

const tracerName = "github.com/syedsabbir-git/ClassSync-sub001/internal/llm"

// Config holds the settings for the generative text service.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string

	QuizTemperature  float32
	GradeTemperature float32
	QuizMaxTokens    int
	GradeMaxTokens   int

	// RequestsPerSecond caps outgoing calls. Zero means unlimited.
	RequestsPerSecond float64
}

// DefaultConfig returns the settings used when flags are not given.
func DefaultConfig() Config {
	return Config{
		BaseURL:          "https://api.openai.com/v1",
		Model:            "gpt-4o-mini",
		QuizTemperature:  0.7,
		GradeTemperature: 0.1,
		QuizMaxTokens:    4096,
		GradeMaxTokens:   2048,
	}
}

// Request is a fully specified single-prompt completion call.
type Request struct {
	Model       string
	Prompt      string
	Temperature float32
	MaxTokens   int
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api     *openai.Client
	cfg     Config
	limiter *rate.Limiter
}

// New creates a new LLM client. A missing API key is reported by the first call.
func New(cfg Config) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Client{
		api:     openai.NewClientWithConfig(oc),
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// BuildQuizRequest turns a quiz request into a completion request.
func (c *Client) BuildQuizRequest(req model.QuizRequest) (Request, error) {
	prompt, err := prompts.BuildQuizPrompt(req)
	if err != nil {
		return Request{}, err
	}
	return Request{
		Model:       c.cfg.Model,
		Prompt:      prompt,
		Temperature: c.cfg.QuizTemperature,
		MaxTokens:   c.cfg.QuizMaxTokens,
	}, nil
}

// BuildGradeRequest turns a short-answer attempt into a grading completion request.
func (c *Client) BuildGradeRequest(questions []model.ShortAnswerQuestion, answers model.AnswerSet) (Request, error) {
	prompt, err := prompts.BuildGradePrompt(questions, answers)
	if err != nil {
		return Request{}, err
	}
	return Request{
		Model:       c.cfg.Model,
		Prompt:      prompt,
		Temperature: c.cfg.GradeTemperature,
		MaxTokens:   c.cfg.GradeMaxTokens,
	}, nil
}

// GenerateQuiz asks the service for a quiz and validates it against the
// shape pinned for req.Kind. There is no retry; callers re-invoke.
func (c *Client) GenerateQuiz(ctx context.Context, req model.QuizRequest) (*model.Quiz, error) {
	const op = "generate quiz"
	if err := c.checkConfig(op); err != nil {
		return nil, err
	}
	creq, err := c.BuildQuizRequest(req)
	if err != nil {
		return nil, &Error{Kind: KindConfiguration, Op: op, Err: err}
	}

	ctx, span := c.startSpan(ctx, op, creq)
	defer span.End()
	span.SetAttributes(attribute.String("quiz.kind", string(req.Kind)))

	raw, err := c.complete(ctx, span, op, creq)
	if err != nil {
		return nil, err
	}
	quiz, err := decodeQuiz(req.Kind, raw)
	metrics.ObserveLLMOutcome(op, outcome(err))
	if err != nil {
		recordError(span, err)
		slog.Warn("quiz output rejected", "kind", req.Kind, "error", err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("quiz.questions", quiz.Len()))
	slog.Info("quiz generated", "topic", req.Topic, "kind", req.Kind, "questions", quiz.Len())
	return quiz, nil
}

// GradeShortAnswers grades a short-answer attempt with a single remote call.
func (c *Client) GradeShortAnswers(ctx context.Context, questions []model.ShortAnswerQuestion, answers model.AnswerSet) (*model.ShortAnswerReport, error) {
	const op = "grade short answers"
	if err := c.checkConfig(op); err != nil {
		return nil, err
	}
	creq, err := c.BuildGradeRequest(questions, answers)
	if err != nil {
		return nil, &Error{Kind: KindConfiguration, Op: op, Err: err}
	}

	ctx, span := c.startSpan(ctx, op, creq)
	defer span.End()
	span.SetAttributes(attribute.Int("quiz.questions", len(questions)))

	raw, err := c.complete(ctx, span, op, creq)
	if err != nil {
		return nil, err
	}
	report, err := decodeGrade(questions, answers, raw)
	metrics.ObserveLLMOutcome(op, outcome(err))
	if err != nil {
		recordError(span, err)
		slog.Warn("grading output rejected", "error", err)
		return nil, err
	}
	return report, nil
}

// Ping checks that the endpoint is reachable with the configured credential.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.checkConfig("ping"); err != nil {
		return err
	}
	if _, err := c.api.ListModels(ctx); err != nil {
		return &Error{Kind: KindTransport, Op: "ping", Err: err}
	}
	return nil
}

func (c *Client) checkConfig(op string) error {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		metrics.ObserveLLMOutcome(op, string(KindConfiguration))
		return &Error{Kind: KindConfiguration, Op: op, Err: ErrMissingAPIKey}
	}
	if c.cfg.Model == "" {
		metrics.ObserveLLMOutcome(op, string(KindConfiguration))
		return &Error{Kind: KindConfiguration, Op: op, Err: errors.New("model is not configured")}
	}
	return nil
}

func (c *Client) startSpan(ctx context.Context, op string, r Request) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "llm."+strings.ReplaceAll(op, " ", "_"),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.model", r.Model),
			attribute.Float64("llm.temperature", float64(r.Temperature)),
			attribute.Int("llm.max_tokens", r.MaxTokens),
			attribute.Int("llm.prompt_length", len(r.Prompt)),
		),
	)
}

// complete sends one prompt and returns the raw text of the first choice.
func (c *Client) complete(ctx context.Context, span trace.Span, op string, r Request) (string, error) {

	if err := c.limiter.Wait(ctx); err != nil {
		return "", c.fail(span, op, &Error{Kind: KindTransport, Op: op, Err: fmt.Errorf("rate limiter: %w", err)})
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: r.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: r.Prompt},
		},
		Temperature: r.Temperature,
		MaxTokens:   r.MaxTokens,
	})
	metrics.ObserveLLMDuration(op, time.Since(start))
	if err != nil {
		return "", c.fail(span, op, &Error{Kind: KindTransport, Op: op, Err: fmt.Errorf("LLM API call: %w", err)})
	}
	if len(resp.Choices) == 0 {
		return "", c.fail(span, op, &Error{Kind: KindEmptyResponse, Op: op, Err: errors.New("LLM returned no choices")})
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "op", op, "raw", raw)
	if strings.TrimSpace(raw) == "" {
		return "", c.fail(span, op, &Error{Kind: KindEmptyResponse, Op: op, Err: errors.New("LLM returned empty content")})
	}
	span.SetAttributes(attribute.Int("llm.response_length", len(raw)))
	return raw, nil
}

func (c *Client) fail(span trace.Span, op string, err *Error) error {
	recordError(span, err)
	metrics.ObserveLLMOutcome(op, string(err.Kind))
	return err
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, outcome(err))
	span.SetAttributes(attribute.String("llm.outcome", outcome(err)))
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if k, ok := KindOf(err); ok {
		return string(k)
	}
	return "error"
}
