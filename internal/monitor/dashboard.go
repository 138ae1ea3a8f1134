// Package monitor renders a terminal dashboard over the agentjj
// observation API: live sessions, operation throughput, tracked
// conflicts, and learning sync health.
package monitor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
)

// Model is the BubbleTea dashboard model.
type Model struct {
	apiURL     string
	interval   time.Duration
	startedAt  time.Time
	lastUpdate time.Time
	snap       Snapshot
	err        error
	quitting   bool

	// prevTotal carries the last poll's operation count so the ops
	// rate can be derived as a delta.
	prevTotal  int
	opsHistory []float64

	successProgress progress.Model
	fillProgress    progress.Model
}

// Lipgloss styles (k9s-inspired color scheme).
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a dashboard model polling the observation API at
// apiURL every interval.
func NewModel(apiURL string, interval time.Duration) Model {
	successProg := progress.New(
		progress.WithGradient("#ff0000", "#00ff00"),
		progress.WithWidth(40),
	)
	fillProg := progress.New(
		progress.WithGradient("#00ffff", "#ff00ff"),
		progress.WithWidth(40),
	)

	return Model{
		apiURL:          apiURL,
		interval:        interval,
		startedAt:       time.Now(),
		prevTotal:       -1,
		opsHistory:      make([]float64, 0, historySize),
		successProgress: successProg,
		fillProgress:    fillProg,
	}
}

// conflictBadge colors the open-conflict count: a quiet swarm is
// green, a few open conflicts are expected, many suggest agents are
// fighting over the same paths.
func conflictBadge(open int) string {
	switch {
	case open == 0:
		return healthyStyle.Render("✓ CLEAN")
	case open < 3:
		return warningStyle.Render(fmt.Sprintf("⚠ %d OPEN", open))
	default:
		return errorStyle.Render(fmt.Sprintf("✗ %d OPEN", open))
	}
}

// successBadge colors the success rate.
func successBadge(rate float64) string {
	switch {
	case rate >= 0.9:
		return healthyStyle.Render("[✓]")
	case rate >= 0.5:
		return warningStyle.Render("[⚠]")
	default:
		return errorStyle.Render("[✗]")
	}
}

// queueBadge colors the sync retry queue depth.
func queueBadge(depth int, dropped uint64) string {
	switch {
	case dropped > 0:
		return errorStyle.Render("[✗]")
	case depth > 0:
		return warningStyle.Render("[⚠]")
	default:
		return healthyStyle.Render("[✓]")
	}
}

// appendToHistory appends a value to history, maintaining max size.
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

// createSparkline creates a sparkline chart from historical data.
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}

	return sparklineStyle.Render(spark.View())
}

// Message types.
type tickMsg time.Time
type snapshotMsg Snapshot
type errMsg error

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(m.interval),
		fetchSnapshot(m.apiURL),
	)
}

// tick creates a tick command for auto-refresh.
func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchSnapshot polls the observation API.
func fetchSnapshot(apiURL string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		snap, err := NewClient(apiURL).Fetch(ctx)
		if err != nil {
			return errMsg(err)
		}
		return snapshotMsg(snap)
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetchSnapshot(m.apiURL)
		}

	case tickMsg:
		return m, tea.Batch(
			tick(m.interval),
			fetchSnapshot(m.apiURL),
		)

	case snapshotMsg:
		snap := Snapshot(msg)

		// Derive the ops rate from the total delta; the first poll
		// has no baseline.
		if m.prevTotal >= 0 {
			delta := snap.Total - m.prevTotal
			if delta < 0 {
				delta = 0
			}
			perMin := float64(delta) * (time.Minute.Seconds() / m.interval.Seconds())
			m.opsHistory = appendToHistory(m.opsHistory, perMin)
		}
		m.prevTotal = snap.Total

		m.snap = snap
		m.lastUpdate = time.Now()
		m.err = nil
		return m, nil

	case errMsg:
		m.err = error(msg)
		return m, nil
	}

	return m, nil
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return m.renderError()
	}
	return m.renderDashboard()
}

// renderError renders the error view.
func (m Model) renderError() string {
	header := headerStyle.Render(" agentjj Monitor ")

	var content string
	content += "\n"
	content += errorStyle.Render("⚠ Cannot reach the agentjj observation API") + "\n"
	content += "\n"
	content += dimStyle.Render("URL: ") + valueStyle.Render(m.apiURL) + "\n"
	content += dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n"
	content += "\n"
	content += dimStyle.Render("Please ensure:") + "\n"
	content += dimStyle.Render("  1. agentjj serve is running") + "\n"
	content += dimStyle.Render("  2. http.enabled is true in the config") + "\n"
	content += "\n"
	content += footerStyle.Render("[q] quit  [r] retry") + "\n"

	return containerStyle.Render(header + "\n" + content)
}

// renderDashboard renders the main dashboard view.
func (m Model) renderDashboard() string {
	var content string

	lastUpdateStr := "Never"
	if !m.lastUpdate.IsZero() {
		lastUpdateStr = m.lastUpdate.Format("3:04:05 PM")
	}
	uptimeStr := FormatDuration(int64(time.Since(m.startedAt).Seconds()))

	header := headerStyle.Render(" agentjj Monitor ")
	headerLine := fmt.Sprintf("%s   %s   %s   %s",
		conflictBadge(m.snap.OpenConflicts),
		dimStyle.Render("Watching:"),
		valueStyle.Render(uptimeStr),
		dimStyle.Render(lastUpdateStr))

	content += header + "\n"
	content += headerLine + "\n"

	// Sessions.
	content += "\n" + sectionStyle.Render("┃ Sessions") + "\n"
	content += labelStyle.Render("  Active: ") +
		valueStyle.Render(fmt.Sprintf("%d", m.snap.ActiveSessions)) + "\n"

	// Operations.
	content += "\n" + sectionStyle.Render("┃ Operations") + "\n"

	var currentRate float64
	if len(m.opsHistory) > 0 {
		currentRate = m.opsHistory[len(m.opsHistory)-1]
	}
	content += labelStyle.Render("  Rate: ") +
		valueStyle.Render(FormatRate(currentRate)) +
		"   " + createSparkline(m.opsHistory) + "\n"

	content += labelStyle.Render("  Recorded: ") +
		valueStyle.Render(FormatCount(m.snap.Total)) +
		" " + dimStyle.Render("("+m.snap.Source+")") + "\n"

	content += labelStyle.Render("  Success: ") +
		m.successProgress.ViewAs(m.snap.SuccessRate) +
		" " + successBadge(m.snap.SuccessRate) +
		" " + dimStyle.Render(FormatPercentage(m.snap.SuccessRate)) + "\n"

	logFill := 0.0
	if m.snap.LogCapacity > 0 {
		logFill = float64(m.snap.LogSize) / float64(m.snap.LogCapacity)
	}
	content += labelStyle.Render("  Log: ") +
		m.fillProgress.ViewAs(logFill) +
		" " + dimStyle.Render(fmt.Sprintf("%d/%d", m.snap.LogSize, m.snap.LogCapacity)) + "\n"

	// Per-complexity breakdown, stable order.
	if len(m.snap.ByClassification) > 0 {
		keys := make([]string, 0, len(m.snap.ByClassification))
		for k := range m.snap.ByClassification {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		line := labelStyle.Render("  Complexity: ")
		for _, k := range keys {
			line += dimStyle.Render(k+"=") +
				valueStyle.Render(fmt.Sprintf("%d", m.snap.ByClassification[k])) + "  "
		}
		content += line + "\n"
	}

	// Conflicts.
	content += "\n" + sectionStyle.Render("┃ Conflicts") + "\n"
	content += labelStyle.Render("  Open: ") +
		valueStyle.Render(fmt.Sprintf("%d", m.snap.OpenConflicts)) + "\n"

	// Learning sync.
	content += "\n" + sectionStyle.Render("┃ Learning Sync") + "\n"
	content += labelStyle.Render("  Queue: ") +
		valueStyle.Render(fmt.Sprintf("%d", m.snap.QueueDepth)) +
		" " + queueBadge(m.snap.QueueDepth, m.snap.Dropped)
	if m.snap.Dropped > 0 {
		content += "  " + errorStyle.Render(fmt.Sprintf("%d dropped", m.snap.Dropped))
	}
	content += "\n"

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval))

	content += "\n" + footer

	return containerStyle.Render(content)
}
