package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	baseStyle    = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("240"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	gateway      = flag.String("gateway", "http://localhost:8080", "Gateway URL")
	engine       = flag.String("engine", "http://localhost:8081", "Engine admin API URL")
)

type model struct {
	stock   table.Model
	help    help.Model
	spinner spinner.Model
	keys    keyMap

	fetching       bool
	queueSuspended bool
	queueReason    string
	status         string
}

func (m model) Init() tea.Cmd {
	return tea.Batch(FetchStock, FetchQueueStatus, m.spinner.Tick)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.stock.SetHeight(msg.Height - 4)
		m.help.Width = msg.Width

	case NewStockMsg:
		m.fetching = false
		m.keys.Refresh.SetEnabled(true)

		skus := make([]string, 0, len(msg.stock))
		for sku := range msg.stock {
			skus = append(skus, sku)
		}
		sort.Strings(skus)

		var rows []table.Row
		for _, sku := range skus {
			rows = append(rows, []string{sku, strconv.Itoa(msg.stock[sku]), msg.notices[sku]})
		}
		m.stock.SetRows(rows)

	case NewQueueStatusMsg:
		m.queueSuspended = msg.suspended
		m.queueReason = msg.reason
		m.keys.Resume.SetEnabled(msg.suspended)

	case ActionDoneMsg:
		m.status = msg.message
		return m, FetchQueueStatus

	case FetchErrMsg:
		m.fetching = false
		m.keys.Refresh.SetEnabled(true)
		m.status = msg.err.Error()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Up):
			m.stock.MoveUp(1)
		case key.Matches(msg, m.keys.Down):
			m.stock.MoveDown(1)
		case key.Matches(msg, m.keys.PageUp):
			m.stock.GotoTop()
		case key.Matches(msg, m.keys.PageDown):
			m.stock.GotoBottom()

		case key.Matches(msg, m.keys.Refresh):
			m.keys.Refresh.SetEnabled(false)
			m.fetching = true
			m.status = ""
			return m, tea.Batch(FetchStock, FetchQueueStatus)

		case key.Matches(msg, m.keys.FullSync):
			m.status = ""
			return m, TriggerRefresh

		case key.Matches(msg, m.keys.Resume):
			m.status = ""
			return m, ResumeQueue
		}
	}

	return m, nil
}

type keyMap struct {
	Up       key.Binding
	Down     key.Binding
	PageUp   key.Binding
	PageDown key.Binding
	Refresh  key.Binding
	FullSync key.Binding
	Resume   key.Binding
	Quit     key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.PageUp, k.PageDown, k.Refresh, k.FullSync, k.Resume, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

func (m model) View() string {
	out := baseStyle.Render(m.stock.View()) + "\n"

	if m.queueSuspended {
		out += warningStyle.Render(fmt.Sprintf("queue suspended: %s", m.queueReason)) + "\n"
	}
	if m.fetching {
		out += m.spinner.View() + "fetching stock "
	}
	if m.status != "" {
		out += m.status + " "
	}

	out += m.help.View(m.keys)
	return out
}

func main() {
	flag.Parse()

	tableStyle := table.DefaultStyles()
	tableStyle.Header = tableStyle.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	tableStyle.Selected = tableStyle.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)

	stock := table.New(table.WithColumns([]table.Column{
		{Title: "SKU", Width: 16},
		{Title: "Stock", Width: 8},
		{Title: "Notice", Width: 14},
	}), table.WithStyles(tableStyle))

	h := help.New()

	keys := keyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "move up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "move down"),
		),
		PageUp: key.NewBinding(
			key.WithKeys("pageup", "g"),
			key.WithHelp("PgUp/g", "go to top"),
		),
		PageDown: key.NewBinding(
			key.WithKeys("pagedown", "G"),
			key.WithHelp("PgDown/G", "go to bottom"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("R", "refresh view"),
			key.WithDisabled(),
		),
		FullSync: key.NewBinding(
			key.WithKeys("f"),
			key.WithHelp("F", "full warehouse sync"),
		),
		Resume: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("S", "resume queue"),
			key.WithDisabled(),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}

	spin := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("205"))),
	)

	p := tea.NewProgram(model{
		stock:    stock,
		help:     h,
		spinner:  spin,
		keys:     keys,
		fetching: true,
	})
	if _, err := p.Run(); err != nil {
		fmt.Printf("Alas, there's been an error: %v", err)
		os.Exit(1)
	}
}
