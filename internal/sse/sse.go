// Package sse translates the Orchestrator's event stream into the
// chat-completions wire payloads, on top of the Tangerg/lynx/sse Writer.
package sse

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	lynxsse "github.com/Tangerg/lynx/sse"
)

// doneSentinel is the literal terminal payload closing every stream.
const doneSentinel = "[DONE]"

// heartbeat keeps slow client connections alive without disturbing the
// session-id/chunk/done payload sequence a client parses.
const heartbeat = 15 * time.Second

// Stream wraps a lynxsse.Writer bound to one HTTP response, emitting the
// three payload shapes the protocol defines: the one-time SESSION_ID line,
// content-delta chunks, and a trailing [DONE].
type Stream struct {
	w *lynxsse.Writer
}

// New opens a stream on rw bound to ctx's lifetime. The caller must ensure
// rw implements http.Flusher, which every net/http ResponseWriter used with
// the standard server does.
func New(ctx context.Context, rw http.ResponseWriter) (*Stream, error) {
	w, err := lynxsse.NewWriter(&lynxsse.WriterConfig{
		Context:        ctx,
		ResponseWriter: rw,
		HeartBeat:      heartbeat,
	})
	if err != nil {
		return nil, err
	}
	return &Stream{w: w}, nil
}

// chunkPayload is the OpenAI-style {"choices":[{"delta":{"content":...}}]}
// shape used for every content-delta chunk, raw <think> spans included.
type chunkPayload struct {
	Choices []chunkChoice `json:"choices"`
}

type chunkChoice struct {
	Delta chunkDelta `json:"delta"`
}

type chunkDelta struct {
	Content string `json:"content"`
}

// SendSessionID emits the exactly-once `SESSION_ID:<id>` line, first event
// after the session row is inserted.
func (s *Stream) SendSessionID(id string) error {
	return s.w.Send(&lynxsse.Message{Data: []byte("SESSION_ID:" + id)})
}

// SendContent emits a content-delta chunk. text may contain raw
// <think>...</think> spans; they are forwarded verbatim so clients can
// render the model's reasoning — this function never strips them.
func (s *Stream) SendContent(text string) error {
	payload, err := json.Marshal(chunkPayload{Choices: []chunkChoice{{Delta: chunkDelta{Content: text}}}})
	if err != nil {
		return err
	}
	return s.w.Send(&lynxsse.Message{Data: payload})
}

// SendThink wraps text in a <think>...</think> span before sending it as a
// content chunk, marking it as internal narration rather than answer text.
func (s *Stream) SendThink(text string) error {
	return s.SendContent("<think>" + text + "</think>")
}

// SendDone emits the closing `[DONE]` event, the last event on every
// stream, including error paths.
func (s *Stream) SendDone() error {
	return s.w.Send(&lynxsse.Message{Data: []byte(doneSentinel)})
}

// Close flushes and releases the underlying writer, returning any error
// accumulated during the stream's lifetime.
func (s *Stream) Close() error {
	return s.w.Close()
}
