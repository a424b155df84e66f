// Package ui renders sync plans and results on the terminal and asks the
// user to resolve ambiguous sync decisions.
package ui

import "github.com/charmbracelet/lipgloss"

var (
	red     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	green   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	yellow  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	magenta = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))
	cyan    = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	gray    = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
)

var (
	titleStyle    = cyan.Bold(true)
	headerStyle   = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle     = lipgloss.NewStyle().Padding(0, 1)
	selectedStyle = green.Bold(true)
	hintStyle     = gray
)
