package cli

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(22)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	completeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	incompleteStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	issueStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	retryStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("69"))

	severityHigh   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	severityMedium = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	severityLow    = lipgloss.NewStyle().Foreground(lipgloss.Color("69"))
)
