// Package message defines the chat Message type shared by the API request
// decoder and the orchestrator's prompt construction.
package message

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is a single turn in a conversation.
type Message struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// MessageList is an ordered conversation.
type MessageList []Message

// WireMessage is the minimal {role, content} projection sent to a Provider.
type WireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Wire projects the list down to the shape a chat-completions call expects.
func (l MessageList) Wire() []WireMessage {
	out := make([]WireMessage, 0, len(l))
	for _, m := range l {
		out = append(out, WireMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// FirstNonEmptyContent returns the content of the first message whose
// content is non-empty, used to derive the user's research query.
func (l MessageList) FirstNonEmptyContent() (string, bool) {
	for _, m := range l {
		if m.Content != "" {
			return m.Content, true
		}
	}
	return "", false
}

// rawMessage matches a single {role, content} JSON object.
type rawMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ParseMessages accepts the three request shapes the API allows for the
// "messages" field: a single message object, a list of message objects, or
// an already-built MessageList. Anything else is a 422-worthy input error.
func ParseMessages(raw json.RawMessage) (MessageList, error) {
	trimmed := trimLeadingSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("messages: empty body")
	}

	switch trimmed[0] {
	case '{':
		var one rawMessage
		if err := json.Unmarshal(trimmed, &one); err != nil {
			return nil, fmt.Errorf("messages: invalid object: %w", err)
		}
		if one.Role == "" {
			return nil, fmt.Errorf("messages: object missing role")
		}
		return MessageList{{Role: one.Role, Content: one.Content, Timestamp: time.Now()}}, nil
	case '[':
		var list []rawMessage
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("messages: invalid list: %w", err)
		}
		out := make(MessageList, 0, len(list))
		now := time.Now()
		for _, m := range list {
			if m.Role == "" {
				return nil, fmt.Errorf("messages: list item missing role")
			}
			out = append(out, Message{Role: m.Role, Content: m.Content, Timestamp: now})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("messages: unsupported shape")
	}
}

func trimLeadingSpace(b []byte) []byte {
	i := 0
	for i < len(b) {
		switch b[i] {
		case ' ', '\t', '\n', '\r':
			i++
			continue
		}
		break
	}
	return b[i:]
}
