// Package tui renders the chat panel as a Bubble Tea program.
package tui

import (
	"context"
	"errors"
	"strings"

	"StreamChat/internal/chat"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
)

const (
	defaultWidth  = 80
	defaultHeight = 24
	headerHeight  = 2
	footerHeight  = 4
)

// Commands runs a slash command and returns its output and whether to quit
type Commands func(ctx context.Context, line string) (string, bool, error)

// Options configures the model
type Options struct {
	Title            string
	CollapseThinking bool
	Commands         Commands
}

// refreshMsg signals that the panel changed
type refreshMsg struct{}

// exchangeDoneMsg reports the end of one submission
type exchangeDoneMsg struct{ err error }

// commandDoneMsg carries the result of a slash command
type commandDoneMsg struct {
	output string
	quit   bool
	err    error
}

// Model is the Bubble Tea model for the chat panel
type Model struct {
	panel   *chat.Panel
	opts    Options
	updates chan struct{}

	textinput textinput.Model
	viewport  viewport.Model
	spinner   spinner.Model
	renderer  *glamour.TermRenderer
	styles    styles

	width  int
	height int
	notice string
}

// New creates a model over panel. Wire Notify as the panel's change callback.
func New(panel *chat.Panel, opts Options) Model {
	if opts.Title == "" {
		opts.Title = "StreamChat"
	}

	ti := textinput.New()
	ti.Placeholder = "Type your message..."
	ti.Prompt = "> "
	ti.CharLimit = 4000
	ti.Width = defaultWidth - 4
	ti.Focus()

	sp := spinner.New(spinner.WithSpinner(spinner.Dot))

	m := Model{
		panel:     panel,
		opts:      opts,
		updates:   make(chan struct{}, 1),
		textinput: ti,
		viewport:  viewport.New(defaultWidth, defaultHeight-headerHeight-footerHeight),
		spinner:   sp,
		styles:    defaultStyles(),
		width:     defaultWidth,
		height:    defaultHeight,
	}
	m.refresh()
	return m
}

// Notify wakes the model after a panel change. It never blocks; pending
// wake-ups are coalesced.
func (m Model) Notify() {
	select {
	case m.updates <- struct{}{}:
	default:
	}
}

func (m Model) waitForUpdate() tea.Cmd {
	ch := m.updates
	return func() tea.Msg {
		<-ch
		return refreshMsg{}
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.waitForUpdate())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			return m, m.submit()
		case tea.KeyPgUp, tea.KeyPgDown:
			var vpCmd tea.Cmd
			m.viewport, vpCmd = m.viewport.Update(msg)
			return m, vpCmd
		}

	case refreshMsg:
		m.refresh()
		cmds = append(cmds, m.waitForUpdate())

	case exchangeDoneMsg:
		if msg.err != nil && !errors.Is(msg.err, chat.ErrBusy) && !errors.Is(msg.err, chat.ErrEmptyInput) {
			// The panel already shows a message; keep the cause visible too
			m.notice = "Request failed: " + msg.err.Error()
		}
		m.refresh()

	case commandDoneMsg:
		switch {
		case msg.err != nil:
			m.notice = "Error: " + msg.err.Error()
		default:
			m.notice = msg.output
		}
		if msg.quit {
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var spCmd tea.Cmd
		m.spinner, spCmd = m.spinner.Update(msg)
		cmds = append(cmds, spCmd)
	}

	// The input is disabled while a request is in flight
	if m.panel.Loading() {
		m.textinput.Blur()
	} else if !m.textinput.Focused() {
		cmds = append(cmds, m.textinput.Focus())
	}

	var tiCmd tea.Cmd
	m.textinput, tiCmd = m.textinput.Update(msg)
	cmds = append(cmds, tiCmd)

	return m, tea.Batch(cmds...)
}

// submit handles Enter: slash commands run through Options.Commands,
// anything else is sent through the panel
func (m *Model) submit() tea.Cmd {
	value := m.textinput.Value()
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}

	if strings.HasPrefix(trimmed, "/") {
		m.textinput.Reset()
		run := m.opts.Commands
		if run == nil {
			m.notice = "Commands are not available"
			return nil
		}
		return func() tea.Msg {
			out, quit, err := run(context.Background(), trimmed)
			return commandDoneMsg{output: out, quit: quit, err: err}
		}
	}

	if m.panel.Loading() {
		return nil
	}

	m.textinput.Reset()
	m.notice = ""
	panel := m.panel
	return func() tea.Msg {
		return exchangeDoneMsg{err: panel.Send(context.Background(), value)}
	}
}

func (m *Model) resize(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	m.width = width
	m.height = height

	vpHeight := height - headerHeight - footerHeight
	if vpHeight < 1 {
		vpHeight = 1
	}
	m.viewport.Width = width
	m.viewport.Height = vpHeight
	m.textinput.Width = max(width-4, 10)

	wrap := max(width-4, 20)
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(wrap),
	)
	if err == nil {
		m.renderer = renderer
	}
	m.refresh()
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
}
