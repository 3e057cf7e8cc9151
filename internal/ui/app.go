package ui

import (
	"context"
	"fmt"
	"strings"

	"MetaChat/internal/chatbot"
	"MetaChat/internal/session"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	Title = "MetaGPT Chat"

	credentialHeading = "Enter your OpenAI API Key"
	credentialNote    = "Your key will be stored locally and used to access MetaGPT services."
	credentialHint    = "Don't have an API key? Get one from https://platform.openai.com/api-keys"
)

// chrome is the number of rows taken by header, input and footer
const chrome = 5

// exchangeSettledMsg is delivered when an exchange has appended its reply
type exchangeSettledMsg struct {
	reply session.Message
}

// App is the Bubble Tea model for the whole screen. All conversation state
// lives in the controller; App only renders it.
type App struct {
	ctrl       *chatbot.Controller
	credential InputBox
	chat       InputBox
	list       MessageList
	spinner    spinner.Model

	width  int
	height int
}

// NewApp builds the screen around ctrl
func NewApp(ctrl *chatbot.Controller, markdown bool) App {
	credential := NewInputBox("Paste your API key here", "Submit", func(value string) tea.Cmd {
		ctrl.SubmitCredential(context.Background(), value)
		return nil
	}).Masked()

	chat := NewInputBox("Type your message...", "Send", func(text string) tea.Cmd {
		ex, ok := ctrl.SendMessage(context.Background(), text)
		if !ok {
			return nil
		}
		return waitForExchange(ex)
	})

	sp := spinner.New()
	sp.Spinner = spinner.Spinner{
		Frames: []string{"|", "/", "-", "\\"},
		FPS:    spinner.Line.FPS,
	}

	a := App{
		ctrl:       ctrl,
		credential: credential,
		chat:       chat,
		list:       NewMessageList(80, 20, markdown),
		spinner:    sp,
		width:      80,
		height:     20 + chrome,
	}
	a.refresh()
	return a
}

func waitForExchange(ex *chatbot.Exchange) tea.Cmd {
	return func() tea.Msg {
		return exchangeSettledMsg{reply: ex.Wait()}
	}
}

func (a App) Init() tea.Cmd {
	return textinput.Blink
}

func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.resize(msg.Width, msg.Height)
		return a, nil

	case exchangeSettledMsg:
		a.refresh()
		return a, nil

	case spinner.TickMsg:
		if !a.ctrl.Loading() {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case tea.KeyMsg:
		return a.handleKey(msg)
	}

	// cursor blink and mouse events
	var listCmd, inputCmd tea.Cmd
	if a.ctrl.Ready() {
		a.list, listCmd = a.list.Update(msg)
		a.chat, inputCmd = a.chat.Update(msg, false)
	} else {
		a.credential, inputCmd = a.credential.Update(msg, false)
	}
	return a, tea.Batch(listCmd, inputCmd)
}

func (a App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		return a, tea.Quit
	}

	if !a.ctrl.Ready() {
		if msg.Type == tea.KeyEnter {
			cmd, _ := a.credential.Submit(false)
			a.refresh()
			return a, cmd
		}
		var cmd tea.Cmd
		a.credential, cmd = a.credential.Update(msg, false)
		return a, cmd
	}

	loading := a.ctrl.Loading()
	switch msg.String() {
	case "enter":
		cmd, ok := a.chat.Submit(loading)
		if !ok {
			return a, nil
		}
		a.refresh()
		return a, tea.Batch(cmd, a.spinner.Tick)

	case "ctrl+l":
		a.ctrl.Clear()
		a.refresh()
		return a, nil

	case "ctrl+t":
		a.ctrl.ToggleResponder()
		return a, nil

	case "pgup", "pgdown", "ctrl+u", "ctrl+d":
		var cmd tea.Cmd
		a.list, cmd = a.list.Update(msg)
		return a, cmd
	}

	var cmd tea.Cmd
	a.chat, cmd = a.chat.Update(msg, loading)
	return a, cmd
}

func (a *App) resize(width, height int) {
	a.width, a.height = width, height

	listHeight := height - chrome
	if listHeight < 1 {
		listHeight = 1
	}
	a.list.SetSize(width, listHeight)

	// prompt and button take roughly 16 columns
	inputWidth := width - 16
	if inputWidth < 10 {
		inputWidth = 10
	}
	a.chat.SetWidth(inputWidth)
	a.credential.SetWidth(inputWidth)

	a.refresh()
}

// refresh re-renders the list from the controller's current state
func (a *App) refresh() {
	a.list.SetMessages(a.ctrl.Snapshot().Messages)
}

func (a App) View() string {
	var b strings.Builder
	b.WriteString(a.headerView())
	b.WriteString("\n\n")

	if !a.ctrl.Ready() {
		b.WriteString(a.credentialView())
	} else {
		loading := a.ctrl.Loading()
		b.WriteString(a.list.View())
		b.WriteString("\n")
		if loading {
			b.WriteString(a.spinner.View() + " ")
		}
		b.WriteString(a.chat.View(loading))
	}

	b.WriteString("\n")
	b.WriteString(a.footerView())
	return b.String()
}

func (a App) headerView() string {
	title := titleStyle.Render(Title)
	if !a.ctrl.Ready() {
		return title
	}

	mode := "Using Real API"
	if a.ctrl.UseSimulated() {
		mode = "Using Mock API"
	}
	return title + "  " + modeStyle.Render(mode) + "  " +
		dimStyle.Render("ctrl+l clear · ctrl+t toggle API · esc quit")
}

func (a App) credentialView() string {
	content := fmt.Sprintf("%s\n\n%s\n\n%s\n\n%s",
		titleStyle.Render(credentialHeading),
		credentialNote,
		a.credential.View(false),
		dimStyle.Render(credentialHint),
	)
	return lipgloss.Place(a.width, a.height-chrome, lipgloss.Center, lipgloss.Center, boxStyle.Render(content))
}

func (a App) footerView() string {
	mode := "Production Mode"
	if a.ctrl.UseSimulated() {
		mode = "Development Mode"
	}
	return footerStyle.Render("MetaGPT Frontend Demo | " + mode)
}
