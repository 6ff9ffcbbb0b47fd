package provider

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperifyio/deepresearch/internal/cache"
)

// Local talks to a same-host model server through that server's
// OpenAI-compatible chat API, the same wire protocol OpenAICompatible uses;
// it has no client for any other native model-server protocol. Unlike
// OpenAICompatible it never rate-limits and never falls
// back to a secondary model — a local model has no shared-capacity quota to
// protect and no secondary deployment to fall back to.
type Local struct {
	Client *openai.Client
	Model  string
	// Cache, when set, short-circuits Generate for repeated prompts.
	Cache *cache.LLMCache
}

// NewLocal builds a client against a local model server's OpenAI-compatible
// surface (the same wire protocol as OpenAICompatible, minus its ambient
// concerns).
func NewLocal(baseURL, apiKey, model string) *Local {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = canonicalizeBaseURL(baseURL)
	return &Local{Client: openai.NewClientWithConfig(cfg), Model: model}
}

func (p *Local) Generate(ctx context.Context, req Request) (string, error) {
	if req.Model == "" {
		req.Model = p.Model
	}
	key := responseCacheKey(req.Model, req.Messages)
	if p.Cache != nil {
		if raw, ok, _ := p.Cache.Get(ctx, key); ok {
			return string(raw), nil
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
		return "", fmt.Errorf("local provider: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyCompletion
	}
	if p.Cache != nil {
		_ = p.Cache.Save(ctx, key, []byte(content))
	}
	return content, nil
}

func (p *Local) GenerateStream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	if req.Model == "" {
		req.Model = p.Model
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
		return nil, fmt.Errorf("local provider: stream: %w", err)
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

func (p *Local) GenerateAndParseList(ctx context.Context, req Request) []string {
	content, err := p.Generate(ctx, req)
	if err != nil {
		return nil
	}
	return parseList(content)
}

func (p *Local) JudgeAndRefine(ctx context.Context, req Request) (string, error) {
	content, err := p.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

var _ Provider = (*Local)(nil)
