package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/dwizi/switchboard/internal/fieldedit"
	"github.com/dwizi/switchboard/internal/heartbeat"
	"github.com/dwizi/switchboard/internal/linemask"
	"github.com/dwizi/switchboard/internal/linestate"
)

const (
	colLine   = 6
	colActive = 10
	colStatus = 16
	colPhone  = fieldedit.MaxLength + 2
	colName   = fieldedit.MaxLength + 2
	colPeer   = 8
)

func (m model) View() string {
	if m.quitting {
		return ""
	}
	sections := []string{m.renderHeader()}
	if m.waiting {
		sections = append(sections, m.spinner.View()+" Loading line status...")
	} else {
		sections = append(sections, m.renderTable())
	}
	sections = append(sections, m.renderFooter())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m model) renderHeader() string {
	connection := m.theme.headerRun.Render(m.connection)
	switch m.connection {
	case heartbeat.ConnectionConnected:
		connection = m.theme.headerOK.Render(m.connection)
	case heartbeat.ConnectionProblem:
		connection = m.theme.headerErr.Render(m.connection)
	}
	store := m.sess.Store()
	active := len(linemask.ActiveLines(store.Mask(), store.Lines()))
	sub := m.theme.headerSub.Render(fmt.Sprintf("%d of %d lines active", active, store.Lines()))
	line := lipgloss.JoinHorizontal(lipgloss.Top,
		m.theme.brand.Render("Switchboard"), "  ", connection, "  ", sub)
	return m.theme.headerBox.Render(line)
}

func (m model) renderTable() string {
	store := m.sess.Store()
	rows := make([]string, 0, store.Lines()+1)
	rows = append(rows, m.theme.tableHeader.Render(joinCells(
		pad("LINE", colLine),
		pad("ACTIVE", colActive),
		pad("STATUS", colStatus),
		pad("PHONE", colPhone),
		pad("NAME", colName),
		pad("IN", colPeer),
		pad("OUT", colPeer),
	)))
	for id := 0; id < store.Lines(); id++ {
		rows = append(rows, m.renderRow(id))
	}
	return lipgloss.NewStyle().Padding(1, 1).Render(strings.Join(rows, "\n"))
}

func (m model) renderRow(id int) string {
	store := m.sess.Store()
	cursor := "  "
	if id == m.selected {
		cursor = "> "
	}
	lineCell := pad(cursor+fmt.Sprintf("%d", id), colLine)
	if !store.IsActive(id) {
		style := m.theme.tableHidden
		if id == m.selected {
			style = m.theme.tableSelected
		}
		return style.Render(lineCell) + m.theme.chipInactive.Render(pad("inactive", colActive))
	}

	record, ok := store.Record(id)
	if !ok {
		record = linestate.Record{ID: id, IncomingFrom: linestate.NoPeer, OutgoingTo: linestate.NoPeer}
	}
	chip := m.theme.chipActive.Render(pad("active", colActive))
	cells := []string{
		pad(StatusLabel(record.Status), colStatus),
		m.fieldCell(id, linestate.FieldPhone),
		m.fieldCell(id, linestate.FieldName),
		pad(peerLabel(record.IncomingFrom), colPeer),
		pad(peerLabel(record.OutgoingTo), colPeer),
	}
	style := m.theme.tableCell
	if id == m.selected {
		style = m.theme.tableSelected
	}
	return style.Render(lineCell) + chip + style.Render(joinCells(cells...))
}

func (m model) fieldCell(id int, field linestate.Field) string {
	width := colPhone
	if field == linestate.FieldName {
		width = colName
	}
	if m.editing != nil && m.editing.Line == id && m.editing.Field == field {
		return m.theme.inputPrompt.Render("[") + pad(m.input.View(), width-2) + m.theme.inputPrompt.Render("]")
	}
	editor := m.sess.Editor()
	value := editor.Display(id, field)
	switch editor.State(id, field) {
	case fieldedit.StateCommitting:
		return pad(value+" ...", width)
	case fieldedit.StateFocusedWithError:
		return m.theme.inputError.Render(pad(value, width))
	}
	return pad(value, width)
}

func (m model) renderFooter() string {
	var message string
	switch {
	case m.errorText != "":
		message = m.theme.footerErr.Render(m.errorText)
	case m.statusText != "":
		message = m.theme.footerInfo.Render(m.statusText)
	}
	helpView := m.help.View(m.keys)
	if m.editing != nil {
		helpView = m.help.View(editingKeyMap{keys: m.keys})
	}
	if message == "" {
		return m.theme.footerBox.Render(helpView)
	}
	return m.theme.footerBox.Render(message + "\n" + helpView)
}

// StatusLabel turns a controller status such as "line_ringing" into "ringing".
func StatusLabel(status string) string {
	label := strings.TrimPrefix(strings.TrimSpace(status), "line_")
	label = strings.ReplaceAll(label, "_", " ")
	if label == "" {
		return "-"
	}
	return label
}

func peerLabel(peer int) string {
	if peer == linestate.NoPeer {
		return "-"
	}
	return fmt.Sprintf("%d", peer)
}

func pad(text string, width int) string {
	visible := lipgloss.Width(text)
	if visible >= width {
		return text
	}
	return text + strings.Repeat(" ", width-visible)
}

func joinCells(cells ...string) string {
	return strings.Join(cells, "")
}
