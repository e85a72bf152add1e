package tui

import (
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

type lineKind int

const (
	kindInfo lineKind = iota
	kindWarn
	kindEcho
)

type lineMsg struct {
	kind lineKind
	text string
}

type seenMsg string

type model struct {
	room  string
	nick  string
	quit  string
	lines chan<- string
	done  <-chan struct{}

	roster    []string
	history   []string
	viewport  viewport.Model
	textInput textinput.Model
	width     int
	height    int
	ready     bool
}

func initialModel(room, nick, quit string, lines chan<- string, done <-chan struct{}) model {
	ti := textinput.New()
	ti.Placeholder = "Type a message..."
	ti.Focus()
	ti.CharLimit = 512
	ti.Width = 40

	return model{
		room:      room,
		nick:      nick,
		quit:      quit,
		lines:     lines,
		done:      done,
		roster:    []string{nick},
		textInput: ti,
	}
}

func (m model) Init() tea.Cmd {
	return textinput.Blink
}

// submit hands a line to the chat loop without blocking the UI.
func (m model) submit(line string) tea.Cmd {
	lines, done := m.lines, m.done
	return func() tea.Msg {
		select {
		case lines <- line:
		case <-done:
		}
		return nil
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case lineMsg:
		m.history = append(m.history, renderLine(msg.kind, msg.text))
		m.refresh()
		return m, nil

	case seenMsg:
		m.roster = addToRoster(m.roster, string(msg))
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			// the buffered channel takes the quit line even after the UI is gone
			select {
			case m.lines <- m.quit:
			default:
			}
			return m, tea.Quit
		case tea.KeyEnter:
			txt := m.textInput.Value()
			m.textInput.Reset()
			if txt == "" {
				return m, nil
			}
			if txt == m.quit {
				select {
				case m.lines <- m.quit:
				default:
				}
				return m, tea.Quit
			}
			return m, m.submit(txt)
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		w, h := m.streamSize()
		if !m.ready {
			m.viewport = viewport.New(w, h)
			m.ready = true
		} else {
			m.viewport.Width = w
			m.viewport.Height = h
		}
		m.textInput.Width = msg.Width - 4
		m.refresh()
	}

	m.textInput, tiCmd = m.textInput.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)

	return m, tea.Batch(tiCmd, vpCmd)
}

func (m *model) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(strings.Join(m.history, "\n"))
	m.viewport.GotoBottom()
}

// addToRoster inserts name keeping the list sorted, the local user first.
func addToRoster(roster []string, name string) []string {
	if name == "" {
		return roster
	}
	for _, r := range roster {
		if r == name {
			return roster
		}
	}
	roster = append(roster, name)
	sortRoster(roster[1:])
	return roster
}

func sortRoster(names []string) {
	sort.Slice(names, func(i, j int) bool {
		return strings.ToLower(names[i]) < strings.ToLower(names[j])
	})
}

// UI is a full-screen chat window. It is both the line source and the
// printer of a chat session.
type UI struct {
	program *tea.Program
	lines   chan string
	done    chan struct{}
	once    sync.Once
}

func New(room, nick, quit string) *UI {
	u := &UI{
		lines: make(chan string, 16),
		done:  make(chan struct{}),
	}
	u.program = tea.NewProgram(initialModel(room, nick, quit, u.lines, u.done), tea.WithAltScreen())
	return u
}

// Lines returns the lines typed by the user.
func (u *UI) Lines() <-chan string {
	return u.lines
}

// Run blocks until the window is closed.
func (u *UI) Run() error {
	defer u.once.Do(func() { close(u.done) })
	_, err := u.program.Run()
	return err
}

// Quit closes the window from outside the UI.
func (u *UI) Quit() {
	u.once.Do(func() { close(u.done) })
	u.program.Quit()
}

func (u *UI) Info(line string) { u.program.Send(lineMsg{kind: kindInfo, text: line}) }
func (u *UI) Warn(line string) { u.program.Send(lineMsg{kind: kindWarn, text: line}) }
func (u *UI) Echo(line string) { u.program.Send(lineMsg{kind: kindEcho, text: line}) }

// Seen adds a chat participant to the sidebar.
func (u *UI) Seen(username string) { u.program.Send(seenMsg(username)) }
