package tui

import "github.com/charmbracelet/lipgloss"

type theme struct {
	brand lipgloss.Style

	headerBox lipgloss.Style
	headerSub lipgloss.Style
	headerOK  lipgloss.Style
	headerErr lipgloss.Style
	headerRun lipgloss.Style

	tableHeader   lipgloss.Style
	tableCell     lipgloss.Style
	tableSelected lipgloss.Style
	tableHidden   lipgloss.Style

	chipActive   lipgloss.Style
	chipInactive lipgloss.Style

	inputPrompt lipgloss.Style
	inputText   lipgloss.Style
	inputError  lipgloss.Style

	footerBox  lipgloss.Style
	footerInfo lipgloss.Style
	footerErr  lipgloss.Style

	spinner lipgloss.Style
}

func newTheme() theme {
	border := lipgloss.Color("238")
	text := lipgloss.Color("252")
	muted := lipgloss.Color("246")
	subtle := lipgloss.Color("240")
	accent := lipgloss.Color("111")
	success := lipgloss.Color("78")
	warn := lipgloss.Color("214")
	danger := lipgloss.Color("203")

	return theme{
		brand: lipgloss.NewStyle().
			Bold(true).
			Foreground(accent),

		headerBox: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, true, false).
			BorderForeground(border).
			Padding(0, 1),
		headerSub: lipgloss.NewStyle().Foreground(muted),
		headerOK:  lipgloss.NewStyle().Bold(true).Foreground(success),
		headerErr: lipgloss.NewStyle().Bold(true).Foreground(danger),
		headerRun: lipgloss.NewStyle().Bold(true).Foreground(warn),

		tableHeader: lipgloss.NewStyle().
			Bold(true).
			Foreground(accent),
		tableCell: lipgloss.NewStyle().Foreground(text),
		tableSelected: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("255")),
		tableHidden: lipgloss.NewStyle().Foreground(subtle),

		chipActive:   lipgloss.NewStyle().Bold(true).Foreground(success),
		chipInactive: lipgloss.NewStyle().Foreground(subtle),

		inputPrompt: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("147")),
		inputText:   lipgloss.NewStyle().Foreground(lipgloss.Color("255")),
		inputError:  lipgloss.NewStyle().Foreground(danger),

		footerBox: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), true, false, false, false).
			BorderForeground(border).
			Padding(0, 1),
		footerInfo: lipgloss.NewStyle().Foreground(text),
		footerErr:  lipgloss.NewStyle().Bold(true).Foreground(danger),

		spinner: lipgloss.NewStyle().Bold(true).Foreground(warn),
	}
}
