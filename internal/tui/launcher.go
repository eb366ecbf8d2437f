// Package tui is the terminal frontend: a query line over a ranked result
// list, plus a plugin toggle view.
package tui

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/quern/internal/engine"
	"github.com/mattjoyce/quern/internal/extension"
	"github.com/mattjoyce/quern/internal/plugin"
	"github.com/mattjoyce/quern/internal/query"
)

// Session is the query surface the launcher drives.
type Session interface {
	StartQuery(input string) *engine.Execution
	Current() *engine.Execution
}

type viewMode int

const (
	viewQuery viewMode = iota
	viewPlugins
)

// resultsMsg reports that the current execution changed.
type resultsMsg struct{}

// showPluginsMsg switches to the plugin view.
type showPluginsMsg struct{}

const defaultVisibleRows = 10

// Model is the BubbleTea model of the launcher.
type Model struct {
	session  Session
	registry *extension.Registry
	signal   <-chan struct{}
	theme    Theme

	width   int
	height  int
	visible int

	input    textinput.Model
	rows     []query.Row
	state    query.State
	canMore  bool
	fallback string
	selected int

	mode      viewMode
	plugins   []extension.PluginInfo
	pluginSel int

	lastError string
	activated bool
}

// NewModel creates a launcher. signal is pulsed whenever the current
// execution has news; it may be nil.
func NewModel(session Session, registry *extension.Registry, signal <-chan struct{}) Model {
	ti := textinput.New()
	ti.Placeholder = "Type to search"
	ti.Prompt = "› "
	ti.CharLimit = 256
	ti.Focus()

	if registry == nil {
		registry = extension.NewRegistry()
	}
	return Model{
		session:  session,
		registry: registry,
		signal:   signal,
		theme:    NewDefaultTheme(),
		visible:  defaultVisibleRows,
		input:    ti,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForResults(m.signal))
}

// Activated reports whether the launcher quit because an item ran.
func (m Model) Activated() bool { return m.activated }

func waitForResults(signal <-chan struct{}) tea.Cmd {
	if signal == nil {
		return nil
	}
	return func() tea.Msg {
		if _, ok := <-signal; !ok {
			return nil
		}
		return resultsMsg{}
	}
}

// --- Update ---

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.visible = max(msg.Height-8, 3)
		return m, nil

	case resultsMsg:
		m.refresh()
		return m, waitForResults(m.signal)

	case showPluginsMsg:
		m.openPlugins()
		return m, nil

	case tea.KeyMsg:
		if m.mode == viewPlugins {
			return m.updatePlugins(msg)
		}
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "up", "ctrl+k":
			m.move(-1)
			return m, nil
		case "down", "ctrl+j":
			m.move(1)
			return m, nil
		case "tab":
			m.complete()
			return m, nil
		case "enter":
			return m.activate(0)
		case "alt+enter":
			return m.activate(1)
		}
	}

	before := m.input.Value()
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if m.input.Value() != before {
		m.startQuery()
	}
	return m, cmd
}

func (m *Model) startQuery() {
	m.session.StartQuery(m.input.Value())
	m.selected = 0
	m.lastError = ""
	m.refresh()
}

// refresh re-reads the current execution.
func (m *Model) refresh() {
	e := m.session.Current()
	if e == nil {
		m.rows, m.state, m.canMore, m.fallback = nil, query.StateCreated, false, ""
		m.selected = 0
		return
	}
	m.rows = e.Rows()
	for len(m.rows) < m.visible && e.CanFetchMore() {
		e.FetchMore()
		m.rows = e.Rows()
	}
	m.state = e.State()
	m.canMore = e.CanFetchMore()
	m.fallback = ""
	if len(m.rows) == 0 && len(e.Fallbacks()) > 0 {
		m.fallback = e.FallbackLabel()
	}
	m.selected = min(m.selected, max(len(m.rows)-1, 0))
}

func (m *Model) move(delta int) {
	if len(m.rows) == 0 && !m.canMore {
		return
	}
	next := m.selected + delta
	if next >= len(m.rows) && m.canMore {
		if e := m.session.Current(); e != nil {
			e.FetchMore()
			m.refresh()
		}
	}
	m.selected = max(0, min(next, len(m.rows)-1))
}

func (m *Model) complete() {
	if m.selected >= len(m.rows) {
		return
	}
	c := m.rows[m.selected].Completion
	if c == "" || c == m.input.Value() {
		return
	}
	m.input.SetValue(c)
	m.input.CursorEnd()
	m.startQuery()
}

func (m Model) activate(action int) (tea.Model, tea.Cmd) {
	e := m.session.Current()
	if e == nil {
		return m, nil
	}
	var ok bool
	if len(m.rows) == 0 {
		ok = e.ActivateFallback()
	} else {
		ok = e.Activate(m.selected, action)
	}
	if !ok {
		m.lastError = "nothing to activate"
		return m, nil
	}
	m.activated = true
	return m, tea.Quit
}

// --- Plugins ---

func (m *Model) openPlugins() {
	m.mode = viewPlugins
	m.lastError = ""
	m.loadPlugins()
}

func (m *Model) loadPlugins() {
	var infos []extension.PluginInfo
	for _, p := range m.registry.PluginProviders() {
		infos = append(infos, p.Describe()...)
	}
	slices.SortFunc(infos, func(a, b extension.PluginInfo) int { return strings.Compare(a.ID, b.ID) })
	m.plugins = infos
	m.pluginSel = max(0, min(m.pluginSel, len(infos)-1))
}

func (m Model) updatePlugins(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "esc", "q":
		m.mode = viewQuery
		m.lastError = ""
	case "up", "k":
		m.pluginSel = max(0, m.pluginSel-1)
	case "down", "j":
		m.pluginSel = max(0, min(m.pluginSel+1, len(m.plugins)-1))
	case " ", "enter":
		if m.pluginSel < len(m.plugins) {
			info := m.plugins[m.pluginSel]
			if err := m.setEnabled(info.ID, !info.Enabled); err != nil {
				m.lastError = err.Error()
			} else {
				m.lastError = ""
			}
			m.loadPlugins()
		}
	}
	return m, nil
}

func (m Model) setEnabled(id string, enabled bool) error {
	for _, p := range m.registry.PluginProviders() {
		err := p.SetEnabled(id, enabled)
		if errors.Is(err, plugin.ErrPluginNotFound) {
			continue
		}
		return err
	}
	return fmt.Errorf("%w: %s", plugin.ErrPluginNotFound, id)
}

// --- View ---

func (m Model) View() string {
	if m.mode == viewPlugins {
		return m.viewPlugins()
	}
	return m.viewQuery()
}

func (m Model) viewQuery() string {
	var lines []string
	offset := max(0, m.selected-m.visible+1)
	end := min(len(m.rows), offset+m.visible)
	for i := offset; i < end; i++ {
		lines = append(lines, m.renderRow(i))
	}
	if len(lines) == 0 {
		switch {
		case m.state == query.StateRunning:
			lines = append(lines, m.theme.Dim.Render("  Searching..."))
		case m.fallback != "":
			lines = append(lines, m.theme.Row.Render(m.fallback))
		case strings.TrimSpace(m.input.Value()) != "":
			lines = append(lines, m.theme.Dim.Render("  No results"))
		}
	}

	status := fmt.Sprintf("%d results", len(m.rows))
	if m.state == query.StateRunning {
		status += " • running"
	}
	if m.canMore {
		status += " • more"
	}
	if m.lastError != "" {
		status += " • " + m.theme.Failed.Render(m.lastError)
	}

	help := m.theme.Dim.Render(" [enter] Run • [alt+enter] Alternative • [tab] Complete • [↑/↓] Select • [esc] Quit")

	body := lipgloss.JoinVertical(lipgloss.Left,
		m.input.View(),
		strings.Join(lines, "\n"),
	)
	return lipgloss.JoinVertical(lipgloss.Left,
		m.frame().Render(body),
		m.theme.Dim.Render(" "+status),
		help,
	)
}

func (m Model) renderRow(i int) string {
	r := m.rows[i]
	if i == m.selected {
		line := "›" + r.Text
		if r.Action != "" {
			line += "  " + r.Action
		}
		return m.theme.Selected.Render(line)
	}
	line := m.theme.urgencyStyle(r.Urgency).Render(r.Text)
	if r.Subtext != "" {
		line += "  " + m.theme.Subtext.Render(r.Subtext)
	}
	return m.theme.Row.Render(line)
}

func (m Model) viewPlugins() string {
	var lines []string
	for i, p := range m.plugins {
		check := "[ ]"
		if p.Enabled {
			check = "[x]"
		}
		state := m.theme.Pending.Render(p.State)
		switch p.State {
		case plugin.StateLoaded.String():
			state = m.theme.Loaded.Render(p.State)
		case plugin.StateError.String(), plugin.StateInvalid.String():
			state = m.theme.Failed.Render(p.State)
		}
		line := fmt.Sprintf("%s %-16s %-8s %s", check, p.ID, p.Version, state)
		if p.Reason != "" {
			line += "  " + m.theme.Subtext.Render(p.Reason)
		}
		if i == m.pluginSel {
			lines = append(lines, m.theme.Selected.Render("›"+line))
		} else {
			lines = append(lines, m.theme.Row.Render(line))
		}
	}
	if len(lines) == 0 {
		lines = append(lines, m.theme.Dim.Render("  No plugins"))
	}

	footer := m.theme.Dim.Render(" [space] Toggle • [↑/↓] Select • [esc] Back")
	if m.lastError != "" {
		footer = m.theme.Failed.Render(" "+m.lastError) + "\n" + footer
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.frame().Render(lipgloss.JoinVertical(lipgloss.Left,
			m.theme.Title.Render("Plugins"),
			strings.Join(lines, "\n"),
		)),
		footer,
	)
}

func (m Model) frame() lipgloss.Style {
	if m.width > 4 {
		return m.theme.Border.Width(m.width - 4)
	}
	return m.theme.Border
}
