package sse

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestStream_EmitsSessionIDContentAndDone(t *testing.T) {
	rec := httptest.NewRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := New(ctx, rec)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := stream.SendSessionID("sess-123"); err != nil {
		t.Fatalf("SendSessionID: %v", err)
	}
	if err := stream.SendContent("hello"); err != nil {
		t.Fatalf("SendContent: %v", err)
	}
	if err := stream.SendDone(); err != nil {
		t.Fatalf("SendDone: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "data: SESSION_ID:sess-123\n\n") {
		t.Fatalf("missing session id line, got: %q", body)
	}
	if !strings.Contains(body, `data: {"choices":[{"delta":{"content":"hello"}}]}`) {
		t.Fatalf("missing content chunk, got: %q", body)
	}
	if !strings.Contains(body, "data: [DONE]\n\n") {
		t.Fatalf("missing done sentinel, got: %q", body)
	}
	doneIdx := strings.Index(body, "[DONE]")
	contentIdx := strings.Index(body, `"content":"hello"`)
	if doneIdx < contentIdx {
		t.Fatalf("expected [DONE] to follow the content chunk in program order")
	}
}

func TestStream_SendThink_WrapsInThinkTags(t *testing.T) {
	rec := httptest.NewRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, err := New(ctx, rec)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := stream.SendThink("iteration 0"); err != nil {
		t.Fatalf("SendThink: %v", err)
	}
	_ = stream.Close()

	body := rec.Body.String()
	if !strings.Contains(body, `<think>iteration 0</think>`) && !strings.Contains(body, "<think>iteration 0</think>") {
		t.Fatalf("expected wrapped think span, got: %q", body)
	}
}

func TestStream_CancelledContextClosesWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	stream, err := New(ctx, rec)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cancel()
	time.Sleep(20 * time.Millisecond)
	// Sending after cancellation should not panic; the writer reports a
	// closed-writer error instead of blocking forever.
	_ = stream.SendContent("late")
}
