package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func newTestModel() (model, chan string) {
	lines := make(chan string, 4)
	m := initialModel("room", "alice", "q", lines, make(chan struct{}))
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return updated.(model), lines
}

func TestRosterSorting(t *testing.T) {
	roster := []string{"alice"}
	for _, name := range []string{"Zebra", "bob", "alice", "Carol", ""} {
		roster = addToRoster(roster, name)
	}

	want := []string{"alice", "bob", "Carol", "Zebra"}
	if strings.Join(roster, ",") != strings.Join(want, ",") {
		t.Errorf("Expected roster %v, got %v", want, roster)
	}
}

func TestLinesAppendToHistory(t *testing.T) {
	m, _ := newTestModel()

	updated, _ := m.Update(lineMsg{kind: kindInfo, text: "Got message: 'hi'"})
	updated, _ = updated.Update(lineMsg{kind: kindWarn, text: "bad hash"})
	m = updated.(model)

	if len(m.history) != 2 {
		t.Fatalf("Expected 2 history lines, got %d", len(m.history))
	}
	if m.history[0] != "Got message: 'hi'" {
		t.Errorf("Unexpected info line %q", m.history[0])
	}
	if !strings.Contains(m.history[1], "bad hash") {
		t.Errorf("Expected warning text in %q", m.history[1])
	}
	if !strings.Contains(m.View(), "alice (you)") {
		t.Error("Expected the local user in the sidebar")
	}
}

func TestEnterSubmitsLine(t *testing.T) {
	m, lines := newTestModel()
	m.textInput.SetValue("hello")

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("Expected a command to submit the line")
	}
	cmd()

	select {
	case got := <-lines:
		if got != "hello" {
			t.Errorf("Expected hello, got %q", got)
		}
	default:
		t.Fatal("Expected the line to be submitted")
	}
	if v := updated.(model).textInput.Value(); v != "" {
		t.Errorf("Expected input to be cleared, got %q", v)
	}
}

func TestEscSendsQuitLine(t *testing.T) {
	m, lines := newTestModel()

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if cmd == nil {
		t.Fatal("Expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("Expected tea.QuitMsg")
	}
	if got := <-lines; got != "q" {
		t.Errorf("Expected quit line, got %q", got)
	}
}

func TestSeenUpdatesRoster(t *testing.T) {
	m, _ := newTestModel()
	updated, _ := m.Update(seenMsg("bob"))
	m = updated.(model)
	if len(m.roster) != 2 || m.roster[1] != "bob" {
		t.Errorf("Expected bob in roster, got %v", m.roster)
	}
}
