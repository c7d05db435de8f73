package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/broady/sdkplay"
	"github.com/broady/sdkplay/playground"
)

type TUICmd struct {
	LogFile string `help:"Write logs to this file instead of discarding them." type:"path" env:"SDKPLAY_LOG_FILE"`
}

func (c *TUICmd) Run(g *Globals) error {
	g.log = io.Discard
	if c.LogFile != "" {
		f, err := os.OpenFile(c.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		defer f.Close()
		g.log = f
	}
	pg, err := g.Playground()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	program := tea.NewProgram(newTUIModel(ctx, pg), tea.WithAltScreen(), tea.WithContext(ctx))
	go func() {
		for range pg.Session().Vars.Subscribe(ctx) {
			program.Send(varsChangedMsg{})
		}
	}()
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("tui failed: %w", err)
	}
	return nil
}

const maxHistory = 50

type historyEntry struct {
	key string
	res *sdkplay.InvocationResult
	err error
}

// tuiModel is the bubbletea state of the terminal playground.
type tuiModel struct {
	ctx      context.Context
	pg       *playground.Playground
	apis     []*sdkplay.APIDescriptor
	cursor   int
	editing  bool
	input    []rune
	inputErr error
	history  []historyEntry
	vars     []sdkplay.Binding
	inFlight int
	width    int
	height   int
}

func newTUIModel(ctx context.Context, pg *playground.Playground) tuiModel {
	return tuiModel{
		ctx:    ctx,
		pg:     pg,
		apis:   pg.Catalog.All(),
		vars:   pg.Session().Vars.Snapshot(),
		width:  100,
		height: 30,
	}
}

type invokedMsg historyEntry

type varsChangedMsg struct{}

func (m tuiModel) Init() tea.Cmd { return nil }

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case invokedMsg:
		m.inFlight--
		m.history = append(m.history, historyEntry(msg))
		if len(m.history) > maxHistory {
			m.history = m.history[len(m.history)-maxHistory:]
		}
		m.vars = m.pg.Session().Vars.Snapshot()
		return m, nil

	case varsChangedMsg:
		m.vars = m.pg.Session().Vars.Snapshot()
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		if m.editing {
			return m.updateInput(msg)
		}
		switch msg.String() {
		case "q":
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.apis)-1 {
				m.cursor++
			}
		case "enter":
			return m.invoke(nil)
		case "a":
			m.editing = true
			m.input = m.input[:0]
			m.inputErr = nil
		case "r":
			m.pg.Session().Reset()
			m.vars = m.pg.Session().Vars.Snapshot()
		}
	}
	return m, nil
}

func (m tuiModel) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.editing = false
	case tea.KeyEnter:
		args, err := parseArgs(string(m.input))
		if err != nil {
			m.inputErr = err
			return m, nil
		}
		m.editing = false
		return m.invoke(args)
	case tea.KeyBackspace:
		if len(m.input) > 0 {
			m.input = m.input[:len(m.input)-1]
		}
	case tea.KeySpace:
		m.input = append(m.input, ' ')
	case tea.KeyRunes:
		m.input = append(m.input, msg.Runes...)
	}
	return m, nil
}

// parseArgs reads a YAML flow or block mapping of parameter values, such as
// "text: hi" or "{limit: 5, reverse: true}".
func parseArgs(s string) (map[string]any, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var args map[string]any
	if err := yaml.Unmarshal([]byte(s), &args); err != nil {
		return nil, fmt.Errorf("args: %w", err)
	}
	return args, nil
}

func (m tuiModel) invoke(args map[string]any) (tea.Model, tea.Cmd) {
	if len(m.apis) == 0 {
		return m, nil
	}
	key := m.apis[m.cursor].Key()
	m.inFlight++
	ctx, pg := m.ctx, m.pg
	return m, func() tea.Msg {
		res, err := pg.Invoke(ctx, key, args)
		return invokedMsg{key: key, res: res, err: err}
	}
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	cursorStyle = lipgloss.NewStyle().Background(lipgloss.Color("240"))
	paneStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)
)

func (m tuiModel) View() string {
	sess := m.pg.Session()
	status := fmt.Sprintf("session %s  epoch %d  vars %d", shortID(sess.ID), sess.Vars.Epoch(), len(m.vars))
	if m.inFlight > 0 {
		status += fmt.Sprintf("  running %d", m.inFlight)
	}
	header := lipgloss.JoinHorizontal(lipgloss.Left, titleStyle.Render("sdkplay"), "  ", dimStyle.Render(status))

	bodyHeight := max(m.height-12, 5)
	listWidth := max(m.width/2-4, 20)
	left := paneStyle.Width(listWidth).Height(bodyHeight).Render(m.renderAPIs(bodyHeight, listWidth))
	right := paneStyle.Width(max(m.width-listWidth-8, 20)).Height(bodyHeight).Render(m.renderVars(bodyHeight))
	body := lipgloss.JoinHorizontal(lipgloss.Top, left, right)

	parts := []string{header, body}
	if m.editing {
		line := "args> " + string(m.input) + "█"
		if m.inputErr != nil {
			line += "  " + errorStyle.Render(m.inputErr.Error())
		}
		parts = append(parts, line)
	}
	parts = append(parts, m.renderHistory(4))
	parts = append(parts, dimStyle.Render("[↑↓] select  [enter] invoke  [a] invoke with args  [r] reset vars  [q] quit"))
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m tuiModel) renderAPIs(height, width int) string {
	start := 0
	if m.cursor >= height {
		start = m.cursor - height + 1
	}
	end := min(start+height, len(m.apis))
	router := m.pg.Session().Router
	rows := make([]string, 0, end-start)
	for i := start; i < end; i++ {
		d := m.apis[i]
		row := truncate(d.Key(), width)
		switch {
		case i == m.cursor:
			row = cursorStyle.Render(row)
		case !router.Ready(d.Instance):
			row = dimStyle.Render(row)
		}
		rows = append(rows, row)
	}
	return strings.Join(rows, "\n")
}

func (m tuiModel) renderVars(height int) string {
	if len(m.vars) == 0 {
		return dimStyle.Render("no variables yet")
	}
	rows := make([]string, 0, min(len(m.vars), height))
	for _, b := range m.vars[:min(len(m.vars), height)] {
		rows = append(rows, keyStyle.Render(b.Name)+" "+dimStyle.Render(truncate(compactJSON(b.Value), 40)))
	}
	return strings.Join(rows, "\n")
}

func (m tuiModel) renderHistory(n int) string {
	start := max(len(m.history)-n, 0)
	rows := make([]string, 0, n)
	for i := len(m.history) - 1; i >= start; i-- {
		rows = append(rows, formatEntry(m.history[i], m.width))
	}
	return strings.Join(rows, "\n")
}

func formatEntry(e historyEntry, width int) string {
	switch {
	case e.err != nil:
		return errorStyle.Render("✗ " + e.key + ": " + e.err.Error())
	case e.res.Err != nil:
		return errorStyle.Render("✗ " + e.key + ": " + truncate(e.res.Err.Error(), width))
	}
	line := "✓ " + e.key + " " + dimStyle.Render(e.res.Duration.Round(time.Millisecond).String())
	if e.res.Stored != "" {
		line += " → [[" + e.res.Stored + "]]"
	}
	return okStyle.Render(line) + " " + truncate(compactJSON(e.res.Value), width/2)
}

func compactJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 1 || len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
