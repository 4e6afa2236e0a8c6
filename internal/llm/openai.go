package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mtzanidakis/relay/internal/config"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"golang.org/x/time/rate"
)

// OpenAI is a Model backed by an OpenAI compatible chat completions API.
type OpenAI struct {
	client  openai.Client
	cfg     config.LLMConfig
	limiter *rate.Limiter
}

func NewOpenAI(cfg config.LLMConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm api key is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: timeout}),
		// Retries are handled here so rate limiting and backoff share one policy.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &OpenAI{
		client:  openai.NewClient(opts...),
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}

func (o *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	params := o.params(req)

	var reply string
	op := func() error {
		if err := o.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		resp, err := o.client.Chat.Completions.New(ctx, params)
		if err != nil {
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			slog.Warn("model call failed, retrying", "agent", req.Agent, "error", err)
			return err
		}
		if len(resp.Choices) == 0 {
			return backoff.Permanent(ErrEmptyReply)
		}
		reply = resp.Choices[0].Message.Content
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), o.cfg.MaxRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return "", fmt.Errorf("chat completion for %s: %w", req.Agent, err)
	}
	if strings.TrimSpace(reply) == "" {
		return "", fmt.Errorf("chat completion for %s: %w", req.Agent, ErrEmptyReply)
	}
	return reply, nil
}

func (o *OpenAI) params(req Request) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		case RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	model := req.Model
	if model == "" {
		model = o.cfg.Model
	}

	params := openai.ChatCompletionNewParams{
		Messages:    msgs,
		Model:       openai.ChatModel(model),
		Temperature: openai.Float(o.cfg.Temperature),
	}
	if o.cfg.MaxTokens > 0 {
		params.MaxTokens = openai.Int(o.cfg.MaxTokens)
	}
	if o.cfg.TopP > 0 {
		params.TopP = openai.Float(o.cfg.TopP)
	}
	if o.cfg.FrequencyPenalty != 0 {
		params.FrequencyPenalty = openai.Float(o.cfg.FrequencyPenalty)
	}
	if o.cfg.PresencePenalty != 0 {
		params.PresencePenalty = openai.Float(o.cfg.PresencePenalty)
	}
	if req.JSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return params
}

// retryable reports whether a failed call may succeed when repeated.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return true
}
