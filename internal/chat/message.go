package chat

import "time"

// Role tags who authored a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message represents a single entry in the chat panel
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Role      Role      `json:"role"`
	Agent     string    `json:"agent,omitempty"` // Remote agent that produced the message, if reported
	Timestamp time.Time `json:"timestamp"`
}

// Visible returns the messages to display. With collapseThinking set, a
// thinking notice is hidden once a later non-system message exists. The
// input slice is not modified.
func Visible(messages []Message, collapseThinking bool) []Message {
	out := make([]Message, 0, len(messages))
	if !collapseThinking {
		return append(out, messages...)
	}

	lastAnswer := -1
	for i, msg := range messages {
		if msg.Role != RoleSystem {
			lastAnswer = i
		}
	}

	for i, msg := range messages {
		if msg.Role == RoleSystem && i < lastAnswer {
			continue
		}
		out = append(out, msg)
	}
	return out
}
