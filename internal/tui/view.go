package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	colorGreen = lipgloss.Color("2")
	colorBlack = lipgloss.Color("0")
	colorGray  = lipgloss.Color("240")
	colorRed   = lipgloss.Color("196")
	colorWhite = lipgloss.Color("231")

	statusBarStyle = lipgloss.NewStyle().
			Foreground(colorBlack).
			Background(colorGreen).
			Padding(0, 1)

	alertStyle = lipgloss.NewStyle().
			Background(colorRed).
			Foreground(colorWhite).
			Bold(true)

	echoStyle = lipgloss.NewStyle().
			Foreground(colorGreen).
			Bold(true)

	selfStyle = lipgloss.NewStyle().
			Foreground(colorGreen).
			Bold(true)

	peerStyle = lipgloss.NewStyle().
			Foreground(colorGray)

	sidebarStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(colorGreen).
			Padding(0, 1)

	streamStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(colorGreen).
			Padding(0, 1)
)

const (
	sidebarWidth = 24
	// status bar and input line
	chromeHeight = 2
)

// streamSize is the inner size of the message pane for the current window.
func (m model) streamSize() (int, int) {
	w := m.width - sidebarWidth - streamStyle.GetHorizontalFrameSize()
	h := m.height - chromeHeight - streamStyle.GetVerticalFrameSize()
	return max(w, 10), max(h, 3)
}

func renderLine(kind lineKind, text string) string {
	switch kind {
	case kindWarn:
		return alertStyle.Render("WARN") + " " + text
	case kindEcho:
		return echoStyle.Render("You:") + " " + text
	default:
		return text
	}
}

func (m model) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}

	status := statusBarStyle.Width(m.width).Render(
		fmt.Sprintf("locals | room: %s | nick: %s | Esc to quit", m.room, m.nick))

	w, h := m.streamSize()
	stream := streamStyle.Width(w).Height(h).Render(m.viewport.View())
	sidebar := m.renderSidebar(sidebarWidth, lipgloss.Height(stream))

	body := lipgloss.JoinHorizontal(lipgloss.Top, stream, sidebar)
	return lipgloss.JoinVertical(lipgloss.Left, status, body, m.textInput.View())
}

func (m model) renderSidebar(width, height int) string {
	var s strings.Builder
	s.WriteString("PEERS\n-----\n")
	for i, name := range m.roster {
		if i == 0 {
			s.WriteString(selfStyle.Render(name+" (you)") + "\n")
			continue
		}
		s.WriteString(peerStyle.Render(name) + "\n")
	}
	return sidebarStyle.Width(width).Height(height).Render(s.String())
}
