// Package provider implements the Provider capability the orchestrator uses
// to talk to a language model: one-shot generation, streaming generation,
// and the two structured helpers (list parsing, judge-and-refine) built on
// top of plain generation.
package provider

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/hyperifyio/deepresearch/internal/cache"
	"github.com/hyperifyio/deepresearch/internal/message"
)

// DoneSentinel is the literal value a planning or refinement call returns to
// signal that no further iteration is needed.
const DoneSentinel = "<done>"

// ErrEmptyCompletion is returned when a model call succeeds at the transport
// level but yields no usable content.
var ErrEmptyCompletion = errors.New("provider: empty completion")

// Request describes a single generation call.
type Request struct {
	Model     string
	Messages  []message.WireMessage
	MaxTokens int // reserved output tokens; 0 lets the backend decide
}

// StreamChunk is one piece of a streamed completion. A non-nil Err marks the
// end of the stream (io.EOF-equivalent errors are not surfaced as Err).
type StreamChunk struct {
	Content string
	Err     error
}

// Provider is the capability set the orchestrator depends on. It never
// raises for content-shape problems (empty list, missing <done>) — only for
// transport-level failures on Generate/GenerateStream.
type Provider interface {
	// Generate performs a single, non-streaming completion call.
	Generate(ctx context.Context, req Request) (string, error)

	// GenerateStream performs a streaming completion call. The returned
	// channel is lazy and not restartable: each receive advances the
	// underlying stream exactly once, and the channel closes when the
	// stream ends or the context is cancelled.
	GenerateStream(ctx context.Context, req Request) (<-chan StreamChunk, error)

	// GenerateAndParseList performs a completion and parses its content as
	// a list literal of strings. It never returns an error: a failed call,
	// a non-list response (prose included), or a literal <done> all yield a
	// nil/empty slice; callers treat nil and empty identically (both mean
	// "stop").
	GenerateAndParseList(ctx context.Context, req Request) []string

	// JudgeAndRefine asks the model to judge the latest findings and return
	// either a refined plan or the literal DoneSentinel. It is the single
	// implementation backing what upstream tooling sometimes calls
	// "judge_search_result" and "refine_plan" separately — here it is one
	// call, one prompt, one response.
	JudgeAndRefine(ctx context.Context, req Request) (string, error)
}

// responseCacheKey derives the response-cache key for one generation call
// from the model name and the full message sequence.
func responseCacheKey(model string, msgs []message.WireMessage) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return cache.KeyFrom(model, b.String())
}

var thinkTagRe = regexp.MustCompile(`(?s)<think>.*?</think>`)

// StripThink removes <think>...</think> spans from model output for
// internal logic that must not see reasoning scaffolding. Raw output sent
// to the client over SSE is never passed through this function.
func StripThink(s string) string {
	return thinkTagRe.ReplaceAllString(s, "")
}

var fencedCodeBlockRe = regexp.MustCompile("(?s)```[a-zA-Z0-9]*\\n?(.*?)```")

// parseList extracts a list of strings from model output. It strips a
// single layer of fenced-code-block wrapping if present, then parses the
// remainder as a list literal. Anything that is not a list literal —
// free-form prose included — yields a nil/empty slice; it never panics or
// returns an error. A literal <done> also yields nil, which callers read
// as the stop sentinel.
func parseList(raw string) []string {
	s := strings.TrimSpace(StripThink(raw))
	if s == "" {
		return nil
	}
	if strings.EqualFold(s, DoneSentinel) {
		return nil
	}
	if m := fencedCodeBlockRe.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}
	items, ok := tryParseJSONList(s)
	if !ok {
		return nil
	}
	return items
}
