package ui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// BusyLabel replaces the button text while a submission is in flight
const BusyLabel = "Sending..."

// InputBox captures one line of text and hands it to OnSend. It does not
// know what the text is for.
type InputBox struct {
	input      textinput.Model
	buttonText string
	onSend     func(string) tea.Cmd
}

// NewInputBox creates a focused input box
func NewInputBox(placeholder, buttonText string, onSend func(string) tea.Cmd) InputBox {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = placeholder
	ti.CharLimit = 4096
	ti.Focus()

	if placeholder == "" {
		ti.Placeholder = "Type your message..."
	}
	if buttonText == "" {
		buttonText = "Send"
	}

	return InputBox{
		input:      ti,
		buttonText: buttonText,
		onSend:     onSend,
	}
}

// Masked hides the draft while typing
func (b InputBox) Masked() InputBox {
	b.input.EchoMode = textinput.EchoPassword
	b.input.EchoCharacter = '*'
	return b
}

func (b InputBox) Value() string { return b.input.Value() }

func (b *InputBox) SetValue(s string) { b.input.SetValue(s) }

func (b *InputBox) SetWidth(w int) { b.input.Width = w }

// Submit passes the draft to OnSend and clears it, unless the draft is blank
// or isLoading is set. It reports whether OnSend was called.
func (b *InputBox) Submit(isLoading bool) (tea.Cmd, bool) {
	draft := b.input.Value()
	if isLoading || strings.TrimSpace(draft) == "" {
		return nil, false
	}

	var cmd tea.Cmd
	if b.onSend != nil {
		cmd = b.onSend(draft)
	}
	b.input.Reset()
	return cmd, true
}

// Update edits the draft; edits are ignored while isLoading is set
func (b InputBox) Update(msg tea.Msg, isLoading bool) (InputBox, tea.Cmd) {
	if isLoading {
		if _, ok := msg.(tea.KeyMsg); ok {
			return b, nil
		}
	}
	var cmd tea.Cmd
	b.input, cmd = b.input.Update(msg)
	return b, cmd
}

func (b InputBox) View(isLoading bool) string {
	if isLoading {
		return b.input.View() + " " + disabledButtonStyle.Render(BusyLabel)
	}
	if strings.TrimSpace(b.input.Value()) == "" {
		return b.input.View() + " " + disabledButtonStyle.Render(b.buttonText)
	}
	return b.input.View() + " " + buttonStyle.Render(b.buttonText)
}
