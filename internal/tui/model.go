// Package tui renders the live line table and drives field edits from the
// keyboard.
package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/dwizi/switchboard/internal/controllerclient"
	"github.com/dwizi/switchboard/internal/dasherr"
	"github.com/dwizi/switchboard/internal/fieldedit"
	"github.com/dwizi/switchboard/internal/heartbeat"
	"github.com/dwizi/switchboard/internal/linestate"
)

const commandTimeout = 30 * time.Second

// Session is the part of a dashboard session the renderer needs.
type Session interface {
	Store() *linestate.Store
	Editor() *fieldedit.Controller
	Health() *heartbeat.Registry
	Ready() <-chan struct{}
	ToggleActive(ctx context.Context, line int) (controllerclient.ToggleResponse, error)
	RequestResync() bool
}

type model struct {
	sess    Session
	logger  *slog.Logger
	keys    keyMap
	theme   theme
	help    help.Model
	spinner spinner.Model
	input   textinput.Model
	sub     *linestate.Subscription
	done    chan struct{}

	waiting    bool
	selected   int
	editing    *fieldedit.Key
	busy       bool
	statusText string
	errorText  string
	connection string
	width      int
	height     int
	quitting   bool
}

type storeChangedMsg struct {
	changes []linestate.Change
}

type readyMsg struct{}

type tickMsg time.Time

type toggleDoneMsg struct {
	line     int
	response controllerclient.ToggleResponse
	err      error
}

type commitDoneMsg struct {
	key  fieldedit.Key
	blur bool
	err  error
}

// Run blocks until the user quits or ctx is done.
func Run(ctx context.Context, sess Session, waitForBootstrap bool, logger *slog.Logger) error {
	m := newModel(sess, waitForBootstrap, logger)
	defer m.close()
	program := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := program.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func newModel(sess Session, waitForBootstrap bool, logger *slog.Logger) model {
	if logger == nil {
		logger = slog.Default()
	}
	th := newTheme()

	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = th.spinner

	input := textinput.New()
	input.CharLimit = fieldedit.MaxLength
	input.Width = fieldedit.MaxLength
	input.Prompt = ""
	input.TextStyle = th.inputText

	waiting := waitForBootstrap
	select {
	case <-sess.Ready():
		waiting = false
	default:
	}

	return model{
		sess:       sess,
		logger:     logger,
		keys:       newKeyMap(),
		theme:      th,
		help:       help.New(),
		spinner:    spin,
		input:      input,
		sub:        sess.Store().Subscribe(),
		done:       make(chan struct{}),
		waiting:    waiting,
		connection: sess.Health().ConnectionText(),
	}
}

func (m model) close() {
	select {
	case <-m.done:
	default:
		close(m.done)
	}
	m.sess.Store().Unsubscribe(m.sub)
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.waitForChangesCmd(),
		m.waitForReadyCmd(),
		m.spinner.Tick,
		tickCmd(),
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.help.Width = typed.Width
		return m, nil
	case readyMsg:
		m.waiting = false
		return m, nil
	case storeChangedMsg:
		m.logger.Debug("store changed", "lines", len(typed.changes))
		return m, m.waitForChangesCmd()
	case tickMsg:
		m.connection = m.sess.Health().ConnectionText()
		return m, tickCmd()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	case toggleDoneMsg:
		m.busy = false
		if typed.err != nil {
			m.errorText = fmt.Sprintf("Could not toggle line %d: %s", typed.line, dasherr.Describe(typed.err))
			m.statusText = ""
			return m, nil
		}
		m.errorText = ""
		state := "inactive"
		if m.sess.Store().IsActive(typed.line) {
			state = "active"
		}
		m.statusText = fmt.Sprintf("Line %d is now %s.", typed.line, state)
		return m, nil
	case commitDoneMsg:
		return m.handleCommitDone(typed)
	case tea.KeyMsg:
		if m.editing != nil {
			return m.handleEditingKey(typed)
		}
		return m.handleTableKey(typed)
	}
	return m, nil
}

func (m model) handleTableKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		m.close()
		return m, tea.Quit
	case key.Matches(msg, m.keys.ToggleHelp):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	case key.Matches(msg, m.keys.Up):
		if m.selected > 0 {
			m.selected--
		}
		return m, nil
	case key.Matches(msg, m.keys.Down):
		if m.selected < m.sess.Store().Lines()-1 {
			m.selected++
		}
		return m, nil
	case key.Matches(msg, m.keys.Resync):
		if m.sess.RequestResync() {
			m.statusText = "Resync requested."
		} else {
			m.statusText = "Resync already pending."
		}
		m.errorText = ""
		return m, nil
	}
	if m.busy || m.waiting {
		return m, nil
	}
	switch {
	case key.Matches(msg, m.keys.Toggle):
		m.busy = true
		m.statusText = fmt.Sprintf("Toggling line %d...", m.selected)
		m.errorText = ""
		return m, m.toggleCmd(m.selected)
	case key.Matches(msg, m.keys.EditPhone):
		return m.startEditing(linestate.FieldPhone)
	case key.Matches(msg, m.keys.EditName):
		return m.startEditing(linestate.FieldName)
	}
	return m, nil
}

func (m model) startEditing(field linestate.Field) (tea.Model, tea.Cmd) {
	if !m.sess.Store().IsActive(m.selected) {
		m.errorText = fmt.Sprintf("Line %d is inactive.", m.selected)
		return m, nil
	}
	editor := m.sess.Editor()
	if err := editor.Focus(m.selected, field); err != nil {
		m.errorText = dasherr.Describe(err)
		return m, nil
	}
	m.editing = &fieldedit.Key{Line: m.selected, Field: field}
	m.input.SetValue(editor.Display(m.selected, field))
	m.input.CursorEnd()
	m.errorText = ""
	m.statusText = fmt.Sprintf("Editing %s of line %d.", field, m.selected)
	return m, m.input.Focus()
}

func (m model) handleEditingKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	editKey := *m.editing
	editor := m.sess.Editor()
	switch {
	case msg.String() == "ctrl+c":
		m.quitting = true
		m.close()
		return m, tea.Quit
	case key.Matches(msg, m.keys.Submit):
		if editor.State(editKey.Line, editKey.Field) == fieldedit.StateCommitting {
			return m, nil
		}
		m.statusText = "Saving..."
		return m, m.commitCmd(editKey, false)
	case key.Matches(msg, m.keys.Blur):
		if editor.State(editKey.Line, editKey.Field) == fieldedit.StateCommitting {
			return m, nil
		}
		m.editing = nil
		m.input.Blur()
		m.statusText = "Saving..."
		return m, m.commitCmd(editKey, true)
	}
	if editor.State(editKey.Line, editKey.Field) == fieldedit.StateCommitting {
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	sanitized := editor.Input(editKey.Line, editKey.Field, m.input.Value())
	if sanitized != m.input.Value() {
		m.input.SetValue(sanitized)
	}
	return m, cmd
}

func (m model) handleCommitDone(msg commitDoneMsg) (tea.Model, tea.Cmd) {
	editor := m.sess.Editor()
	if msg.err != nil {
		m.errorText = dasherr.Describe(msg.err)
		m.statusText = ""
		if !msg.blur && m.editing != nil && *m.editing == msg.key {
			m.input.SetValue(editor.Display(msg.key.Line, msg.key.Field))
			m.input.CursorEnd()
		}
		return m, nil
	}
	m.errorText = ""
	m.statusText = editor.Status()
	if m.editing != nil && *m.editing == msg.key && editor.State(msg.key.Line, msg.key.Field) == fieldedit.StateIdle {
		m.editing = nil
		m.input.Blur()
	}
	return m, nil
}

func (m model) waitForChangesCmd() tea.Cmd {
	sub := m.sub
	done := m.done
	return func() tea.Msg {
		select {
		case <-sub.Ready():
			return storeChangedMsg{changes: sub.Drain()}
		case <-done:
			return nil
		}
	}
}

func (m model) waitForReadyCmd() tea.Cmd {
	ready := m.sess.Ready()
	done := m.done
	return func() tea.Msg {
		select {
		case <-ready:
			return readyMsg{}
		case <-done:
			return nil
		}
	}
}

func (m model) toggleCmd(line int) tea.Cmd {
	sess := m.sess
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		response, err := sess.ToggleActive(ctx, line)
		return toggleDoneMsg{line: line, response: response, err: err}
	}
}

func (m model) commitCmd(editKey fieldedit.Key, blur bool) tea.Cmd {
	editor := m.sess.Editor()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		var err error
		if blur {
			err = editor.Blur(ctx, editKey.Line, editKey.Field)
		} else {
			err = editor.Submit(ctx, editKey.Line, editKey.Field)
		}
		return commitDoneMsg{key: editKey, blur: blur, err: err}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
