package tui

import (
	"fmt"
	"strings"

	"StreamChat/internal/chat"

	"github.com/charmbracelet/lipgloss"
)

type styles struct {
	title     lipgloss.Style
	session   lipgloss.Style
	user      lipgloss.Style
	assistant lipgloss.Style
	thinking  lipgloss.Style
	timestamp lipgloss.Style
	notice    lipgloss.Style
	help      lipgloss.Style
}

func defaultStyles() styles {
	return styles{
		title:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		session:   lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		user:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
		assistant: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13")),
		thinking:  lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("8")),
		timestamp: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		notice:    lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		help:      lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	}
}

func (m Model) View() string {
	var sb strings.Builder

	sessionID := m.panel.SessionID()
	if sessionID == "" {
		sessionID = "(none yet)"
	}
	sb.WriteString(m.styles.title.Render(m.opts.Title))
	sb.WriteString("  ")
	sb.WriteString(m.styles.session.Render("session: " + sessionID))
	sb.WriteString("\n\n")

	sb.WriteString(m.viewport.View())
	sb.WriteString("\n")

	switch {
	case m.panel.Loading():
		sb.WriteString(m.spinner.View() + " " + m.styles.thinking.Render("waiting for the agents..."))
	case m.notice != "":
		sb.WriteString(m.styles.notice.Render(m.notice))
	}
	sb.WriteString("\n")

	sb.WriteString(m.textinput.View())
	sb.WriteString("\n")
	sb.WriteString(m.styles.help.Render("enter: send • /help: commands • pgup/pgdn: scroll • esc: quit"))
	return sb.String()
}

// renderHistory formats the visible transcript for the viewport
func (m Model) renderHistory() string {
	msgs := chat.Visible(m.panel.Messages(), m.opts.CollapseThinking)
	if len(msgs) == 0 {
		return m.styles.help.Render("No messages yet. Say hello!")
	}

	var sb strings.Builder
	for i, msg := range msgs {
		if i > 0 {
			sb.WriteString("\n")
		}
		ts := m.styles.timestamp.Render(msg.Timestamp.Format("15:04:05"))

		switch msg.Role {
		case chat.RoleUser:
			fmt.Fprintf(&sb, "%s %s\n%s\n", m.styles.user.Render("You"), ts, msg.Content)
		case chat.RoleSystem:
			fmt.Fprintf(&sb, "%s\n", m.styles.thinking.Render("… "+msg.Content))
		default:
			name := "Assistant"
			if msg.Agent != "" {
				name = msg.Agent
			}
			fmt.Fprintf(&sb, "%s %s\n%s\n", m.styles.assistant.Render(name), ts, m.renderMarkdown(msg.Content))
		}
	}
	return sb.String()
}

// renderMarkdown renders assistant text, falling back to the raw text when
// no renderer is ready or rendering fails
func (m Model) renderMarkdown(content string) string {
	if m.renderer == nil {
		return content
	}
	out, err := m.renderer.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(out, "\n")
}
