package provider

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperifyio/deepresearch/internal/cache"
	"github.com/rs/zerolog/log"
)

// OpenAICompatible talks to a remote OpenAI-compatible HTTP+SSE endpoint.
// It is the only variant that rate-limits and falls back to a secondary
// model: a hosted API has shared-capacity quotas to respect and secondary
// deployments to fall back to; a same-process local model has neither.
type OpenAICompatible struct {
	Client        *openai.Client
	DefaultModel  string
	FallbackModel string
	// Cache, when set, short-circuits Generate for repeated prompts.
	Cache   *cache.LLMCache
	limiter *slidingWindowLimiter
}

// NewOpenAICompatible builds a client against baseURL (its trailing "/v1" is
// stripped, since go-openai appends its own), applying a requests-per-minute
// sliding-window limiter to calls against DefaultModel only.
func NewOpenAICompatible(baseURL, apiKey, defaultModel, fallbackModel string, requestsPerMinute int) *OpenAICompatible {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = canonicalizeBaseURL(baseURL)
	return &OpenAICompatible{
		Client:        openai.NewClientWithConfig(cfg),
		DefaultModel:  defaultModel,
		FallbackModel: fallbackModel,
		limiter:       newSlidingWindowLimiter(requestsPerMinute),
	}
}

func canonicalizeBaseURL(u string) string {
	u = strings.TrimRight(strings.TrimSpace(u), "/")
	u = strings.TrimSuffix(u, "/v1")
	return u
}

// fallbackTriggerSubstrings lists substrings a provider error may contain
// to be treated as a condition worth a one-shot fallback-model retry.
var fallbackTriggerSubstrings = []string{
	"rate limit",
	"rate_limit",
	"context length",
	"context_length",
	"maximum context",
	"max tokens",
	"max_tokens",
	"too many tokens",
}

func isFallbackWorthy(err error) bool {
	if err == nil {
		return false
	}
	low := strings.ToLower(err.Error())
	for _, s := range fallbackTriggerSubstrings {
		if strings.Contains(low, s) {
			return true
		}
	}
	return false
}

func (p *OpenAICompatible) call(ctx context.Context, req Request, isFallback bool) (string, error) {
	if req.Model == "" {
		req.Model = p.DefaultModel
	}
	if !isFallback && req.Model == p.DefaultModel {
		if err := p.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	ccReq := openai.ChatCompletionRequest{Model: req.Model, Messages: msgs}
	if req.MaxTokens > 0 {
		ccReq.MaxTokens = req.MaxTokens
	}
	resp, err := p.Client.CreateChatCompletion(ctx, ccReq)
	if err != nil {
		return "", fmt.Errorf("openai-compatible: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyCompletion
	}
	return content, nil
}

// Generate performs a single completion, retrying exactly once against
// FallbackModel when the first attempt returns an empty completion or an
// error matching a rate-limit/context-window/max-tokens substring. The
// fallback attempt is flagged so it can never itself trigger a further
// fallback, preventing recursion.
func (p *OpenAICompatible) Generate(ctx context.Context, req Request) (string, error) {
	if req.Model == "" {
		req.Model = p.DefaultModel
	}
	key := responseCacheKey(req.Model, req.Messages)
	if p.Cache != nil {
		if raw, ok, _ := p.Cache.Get(ctx, key); ok {
			return string(raw), nil
		}
	}
	content, err := p.call(ctx, req, false)
	if err == nil {
		if p.Cache != nil {
			_ = p.Cache.Save(ctx, key, []byte(content))
		}
		return content, nil
	}
	if p.FallbackModel == "" || p.FallbackModel == req.Model {
		return "", err
	}
	if !errorsIsEmptyCompletion(err) && !isFallbackWorthy(err) {
		return "", err
	}
	log.Warn().Err(err).Str("model", req.Model).Str("fallback", p.FallbackModel).Msg("provider: retrying with fallback model")
	fallbackReq := req
	fallbackReq.Model = p.FallbackModel
	return p.call(ctx, fallbackReq, true)
}

func errorsIsEmptyCompletion(err error) bool {
	return err == ErrEmptyCompletion
}

// GenerateStream performs a streaming completion call over SSE. The
// returned channel yields content deltas and is closed when the stream
// ends; a terminal StreamChunk with a non-nil Err (other than a clean EOF)
// precedes closing only on unexpected failures.
func (p *OpenAICompatible) GenerateStream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	if req.Model == "" {
		req.Model = p.DefaultModel
	}
	if req.Model == p.DefaultModel {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	stream, err := p.Client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: msgs,
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("openai-compatible: stream: %w", err)
	}
	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer stream.Close()
		for {
			resp, err := stream.Recv()
			if err != nil {
				if !isStreamEOF(err) {
					select {
					case out <- StreamChunk{Err: err}:
					case <-ctx.Done():
					}
				}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			select {
			case out <- StreamChunk{Content: delta}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func isStreamEOF(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "eof")
}

// GenerateAndParseList performs a completion and parses the content as a
// list. It never returns an error — any failure yields an empty slice.
func (p *OpenAICompatible) GenerateAndParseList(ctx context.Context, req Request) []string {
	content, err := p.Generate(ctx, req)
	if err != nil {
		log.Warn().Err(err).Msg("provider: generate_and_parse_list failed, returning empty list")
		return nil
	}
	return parseList(content)
}

// JudgeAndRefine performs the single judge+refine completion call.
func (p *OpenAICompatible) JudgeAndRefine(ctx context.Context, req Request) (string, error) {
	content, err := p.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

var _ Provider = (*OpenAICompatible)(nil)
