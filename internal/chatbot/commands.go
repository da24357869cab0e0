package chatbot

import (
	"context"
	"fmt"
	"strings"

	"StreamChat/internal/backend"
	"StreamChat/internal/cache"

	"github.com/jellydator/ttlcache/v3"
)

const helpText = `Available commands:
  /quit, /exit   - Exit the chat
  /session       - Show the current session and what the server knows about it
  /health        - Check the agent service
  /failures      - List events that could not be decoded
  /help          - Show this help message`

// maxListedFailures caps the /failures listing
const maxListedFailures = 10

// HandleCommand handles slash commands. It returns the text to show and
// whether the chat should end.
func (cb *ChatBot) HandleCommand(ctx context.Context, line string) (string, bool, error) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return "", false, nil
	}

	switch parts[0] {
	case "/quit", "/exit":
		return "", true, nil

	case "/help":
		return helpText, false, nil

	case "/session":
		out, err := cb.describeSession(ctx)
		return out, false, err

	case "/health":
		status, err := cb.client.Health(ctx)
		if err != nil {
			return "", false, fmt.Errorf("failed to check service health: %w", err)
		}
		return fmt.Sprintf("Service: %s (%d agents)", status.Status, status.Agents), false, nil

	case "/failures":
		return cb.describeFailures(), false, nil

	default:
		return "", false, fmt.Errorf("unknown command: %s (type /help)", parts[0])
	}
}

// describeSession reports the stored session and the server's view of it
func (cb *ChatBot) describeSession(ctx context.Context) (string, error) {
	id := cb.holder.ID()
	var sb strings.Builder
	fmt.Fprintf(&sb, "Session: %s (storage key %q)", displaySessionID(id), cb.holder.Key())
	if id == "" {
		return sb.String(), nil
	}

	key := cache.Key(cb.client.Endpoint(), id)
	var info backend.SessionInfo
	if item := cb.sessionInfo.Get(key); item != nil && !item.IsExpired() {
		info = item.Value()
	} else {
		fetched, err := cb.client.SessionInfo(ctx, id)
		if err != nil {
			return sb.String(), fmt.Errorf("failed to look up session: %w", err)
		}
		cb.sessionInfo.Set(key, fetched, ttlcache.DefaultTTL)
		info = fetched
	}

	if !info.Authenticated {
		sb.WriteString("\nNot signed in")
		return sb.String(), nil
	}
	fmt.Fprintf(&sb, "\nSigned in as %s <%s>", info.Name, info.Email)
	if info.HasProfile {
		sb.WriteString(", health profile on file")
	}
	return sb.String(), nil
}

func (cb *ChatBot) describeFailures() string {
	failures := cb.panel.ParseFailures()
	if len(failures) == 0 {
		return "No undecodable events."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d undecodable event(s):", len(failures))
	start := 0
	if len(failures) > maxListedFailures {
		start = len(failures) - maxListedFailures
	}
	for i, f := range failures[start:] {
		fmt.Fprintf(&sb, "\n%d. %v", start+i+1, f.Err)
		if f.Raw != "" {
			fmt.Fprintf(&sb, "\n   %s", f.Snippet(120))
		}
	}
	return sb.String()
}
