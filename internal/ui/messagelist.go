package ui

import (
	"strings"

	"MetaChat/internal/session"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

// EmptyPlaceholder is shown instead of an empty transcript
const EmptyPlaceholder = "Start a conversation with MetaGPT!"

// Renderer turns a reply's text into display text for the given width
type Renderer func(text string, width int) string

// RenderMessages lays out messages top to bottom. render, if non-nil, is
// applied to AI replies.
func RenderMessages(messages []session.Message, width int, render Renderer) string {
	if len(messages) == 0 {
		return dimStyle.Render(EmptyPlaceholder)
	}

	body := lipgloss.NewStyle()
	if width > 2 {
		body = body.Width(width - 2).PaddingLeft(2)
	}

	blocks := make([]string, 0, len(messages))
	for _, msg := range messages {
		var label, text string
		switch msg.Sender {
		case session.SenderUser:
			label = userLabel.Render("You")
			text = body.Render(msg.Text)
		case session.SenderAI:
			label = aiLabel.Render("MetaGPT")
			if render != nil {
				text = render(msg.Text, width)
			} else {
				text = body.Render(msg.Text)
			}
		default:
			label = systemLabel.Render("System")
			if msg.IsError {
				text = body.Inherit(errorStyle).Render(msg.Text)
			} else {
				text = body.Render(msg.Text)
			}
		}
		blocks = append(blocks, label+"\n"+strings.TrimRight(text, "\n"))
	}
	return strings.Join(blocks, "\n\n")
}

// MessageList shows the transcript in a viewport kept at the newest message
type MessageList struct {
	viewport viewport.Model
	markdown bool

	md      *glamour.TermRenderer
	mdWidth int
}

// NewMessageList creates a list of the given size. With markdown set, AI
// replies are rendered through glamour.
func NewMessageList(width, height int, markdown bool) MessageList {
	return MessageList{
		viewport: viewport.New(width, height),
		markdown: markdown,
	}
}

// SetSize resizes the viewport; call SetMessages afterwards to reflow
func (l *MessageList) SetSize(width, height int) {
	l.viewport.Width = width
	l.viewport.Height = height
}

// SetMessages re-renders the transcript and scrolls to the bottom
func (l *MessageList) SetMessages(messages []session.Message) {
	var render Renderer
	if l.markdown {
		render = l.renderMarkdown
	}
	l.viewport.SetContent(RenderMessages(messages, l.viewport.Width, render))
	l.viewport.GotoBottom()
}

func (l *MessageList) renderMarkdown(text string, width int) string {
	if l.md == nil || l.mdWidth != width {
		r, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle("dark"),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			return text
		}
		l.md, l.mdWidth = r, width
	}

	out, err := l.md.Render(text)
	if err != nil {
		return text
	}
	return out
}

// AtBottom reports whether the newest message is in view
func (l MessageList) AtBottom() bool {
	return l.viewport.AtBottom()
}

// Update handles scrolling keys and mouse events
func (l MessageList) Update(msg tea.Msg) (MessageList, tea.Cmd) {
	var cmd tea.Cmd
	l.viewport, cmd = l.viewport.Update(msg)
	return l, cmd
}

func (l MessageList) View() string {
	return l.viewport.View()
}
