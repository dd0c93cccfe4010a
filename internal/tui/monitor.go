// Package tui renders a live terminal dashboard of a running session.
package tui

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"anc/internal/session"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5"))

	highlightStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#25A065")).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#E0A030")).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262"))
)

const (
	historyLen = 48
	meterWidth = 40
	floorDB    = -80.0
)

// Monitor is a session.Reporter that feeds a terminal dashboard. Report never
// blocks: records that arrive while the queue is full are dropped, so the
// dashboard may skip frames but the audio loop is never stalled by drawing.
type Monitor struct {
	title   string
	queue   chan session.Metrics
	dropped atomic.Uint64
	once    sync.Once
}

// NewMonitor creates a monitor with room for queue pending records.
func NewMonitor(title string, queue int) *Monitor {
	return &Monitor{title: title, queue: make(chan session.Metrics, max(queue, 1))}
}

// Report queues m for display.
func (m *Monitor) Report(metrics session.Metrics) {
	select {
	case m.queue <- metrics:
	default:
		m.dropped.Add(1)
	}
}

// Dropped reports how many records were not displayed.
func (m *Monitor) Dropped() uint64 { return m.dropped.Load() }

// Close tells the dashboard that no more records will arrive. Report must
// not be called afterwards.
func (m *Monitor) Close() {
	m.once.Do(func() { close(m.queue) })
}

// Run draws the dashboard until Close is called or the user quits. onQuit is
// invoked when the user asks to stop, typically cancelling the session.
func (m *Monitor) Run(ctx context.Context, onQuit func()) error {
	p := tea.NewProgram(newModel(m.title, m.queue, onQuit), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

var _ session.Reporter = (*Monitor)(nil)

type keyMap struct {
	Quit key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Quit: key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "stop session")),
	}
}

type metricsMsg session.Metrics

type finishedMsg struct{}

// waitForMetrics blocks on the queue for the next record.
func waitForMetrics(queue <-chan session.Metrics) tea.Cmd {
	return func() tea.Msg {
		m, ok := <-queue
		if !ok {
			return finishedMsg{}
		}
		return metricsMsg(m)
	}
}

type model struct {
	keys   keyMap
	title  string
	queue  <-chan session.Metrics
	onQuit func()

	frames  int
	last    session.Metrics
	first   float64
	best    float64
	history []float64
	done    bool
}

func newModel(title string, queue <-chan session.Metrics, onQuit func()) model {
	return model{
		keys:   defaultKeyMap(),
		title:  title,
		queue:  queue,
		onQuit: onQuit,
		best:   math.Inf(1),
	}
}

func (m model) Init() tea.Cmd {
	return waitForMetrics(m.queue)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case metricsMsg:
		m.observe(session.Metrics(msg))
		return m, waitForMetrics(m.queue)

	case finishedMsg:
		m.done = true
		return m, tea.Quit

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			if m.onQuit != nil {
				m.onQuit()
			}
			m.done = true
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m *model) observe(metrics session.Metrics) {
	if m.frames == 0 {
		m.first = metrics.ErrorRMS
	}
	m.frames++
	m.last = metrics
	if metrics.ErrorRMS < m.best {
		m.best = metrics.ErrorRMS
	}
	start := max(0, len(m.history)-historyLen+1)
	next := make([]float64, 0, historyLen)
	m.history = append(append(next, m.history[start:]...), metrics.ErrorRMS)
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n\n")

	if m.frames == 0 {
		b.WriteString(infoStyle.Render("Waiting for the first block..."))
		b.WriteString("\n")
		return b.String()
	}

	rms := m.last.ErrorRMS
	fmt.Fprintf(&b, "%s %d\n", infoStyle.Render("Frame:    "), m.last.FrameIndex)
	fmt.Fprintf(&b, "%s %.6f  %s\n", infoStyle.Render("Error RMS:"), rms, highlightStyle.Render(formatDB(level(rms))))
	fmt.Fprintf(&b, "%s %s\n", infoStyle.Render("Reduction:"), m.reduction())
	fmt.Fprintf(&b, "%s %s\n\n", infoStyle.Render("Level:    "), meter(level(rms)))
	b.WriteString(sparkline(m.history))
	b.WriteString("\n\n")

	if m.done {
		b.WriteString(infoStyle.Render("Session finished."))
	} else {
		b.WriteString(helpStyle.Render(m.keys.Quit.Help().Key + ": " + m.keys.Quit.Help().Desc))
	}
	b.WriteString("\n")
	return b.String()
}

// reduction compares the latest block against the first one.
func (m model) reduction() string {
	rms := m.last.ErrorRMS
	switch {
	case math.IsNaN(rms) || math.IsInf(rms, 0):
		return warnStyle.Render("diverged")
	case m.first <= 0 || rms <= 0:
		return infoStyle.Render("n/a")
	}
	db := 20 * math.Log10(m.first/rms)
	if db < 0 {
		return warnStyle.Render(fmt.Sprintf("%.1f dB (growing)", db))
	}
	return highlightStyle.Render(fmt.Sprintf("%.1f dB", db))
}

// level converts an RMS value to dBFS, clamped to the meter floor.
func level(rms float64) float64 {
	if !(rms > 0) {
		return floorDB
	}
	return max(20*math.Log10(rms), floorDB)
}

func formatDB(db float64) string {
	if db <= floorDB {
		return fmt.Sprintf("<= %.0f dBFS", floorDB)
	}
	return fmt.Sprintf("%.1f dBFS", db)
}

// meter draws a horizontal bar from the floor to 0 dBFS.
func meter(db float64) string {
	filled := int(math.Round((db - floorDB) / -floorDB * meterWidth))
	filled = max(0, min(filled, meterWidth))
	return highlightStyle.Render(strings.Repeat("█", filled)) +
		helpStyle.Render(strings.Repeat("░", meterWidth-filled))
}

var sparks = []rune("▁▂▃▄▅▆▇█")

// sparkline plots the RMS history on a log scale.
func sparkline(history []float64) string {
	var b strings.Builder
	for _, rms := range history {
		frac := (level(rms) - floorDB) / -floorDB
		i := int(math.Round(frac * float64(len(sparks)-1)))
		b.WriteRune(sparks[max(0, min(i, len(sparks)-1))])
	}
	return helpStyle.Render(b.String())
}
