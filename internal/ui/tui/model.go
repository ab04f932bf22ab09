package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/imamik/vmaas/internal/ui/benchmarks"
)

const (
	maxLogLines = 6
	maxWarnings = 3
)

// PhaseRow is a deployment phase as displayed.
type PhaseRow struct {
	Name   string
	Done   bool
	Active bool
	Err    error

	StartedAt time.Time
	EndedAt   *time.Time

	// Current and Total are the last item progress reported.
	Current int
	Total   int
}

// ResourceRow is a domain, volume or node and what happened to it.
type ResourceRow struct {
	Kind    string
	Name    string
	Outcome string
	Err     string
}

// Model is the Bubble Tea model for the deployment dashboard.
type Model struct {
	Target   string
	VirshURI string

	Phases    []PhaseRow
	Resources []ResourceRow
	Warnings  []string
	Logs      []string

	// ETA
	EstimatedRemaining time.Duration
	PerformanceScale   float64
	StartTime          time.Time

	// Animation
	SpinnerFrame int

	// UI state
	Width  int
	Height int
	Err    error
	Done   bool
}

// NewDeployModel creates a dashboard for a deployment running phases in
// order.
func NewDeployModel(target, virshURI string, phases []string) Model {
	rows := make([]PhaseRow, 0, len(phases))
	for _, p := range phases {
		rows = append(rows, PhaseRow{Name: p})
	}
	return Model{
		Target:           target,
		VirshURI:         virshURI,
		Phases:           rows,
		StartTime:        time.Now(),
		PerformanceScale: 1.0,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height

	case PhaseMsg:
		m.updatePhase(msg)

	case ProgressMsg:
		if i := m.phaseIndex(msg.Phase); i >= 0 {
			m.Phases[i].Current = msg.Current
			m.Phases[i].Total = msg.Total
		}

	case ResourceMsg:
		m.updateResource(msg)

	case WarningMsg:
		m.Warnings = append(m.Warnings, msg.Message)

	case LogMsg:
		m.Logs = append(m.Logs, msg.Line)
		if len(m.Logs) > maxLogLines {
			m.Logs = m.Logs[len(m.Logs)-maxLogLines:]
		}

	case TickMsg:
		m.SpinnerFrame++
		m.updateETA()
		return m, tickCmd()

	case ErrMsg:
		m.Err = msg.Err
		return m, tea.Quit

	case DoneMsg:
		m.Done = true
		m.EstimatedRemaining = 0
		return m, tea.Quit
	}

	return m, nil
}

func (m *Model) phaseIndex(name string) int {
	for i, p := range m.Phases {
		if p.Name == name {
			return i
		}
	}
	return -1
}

func (m *Model) updatePhase(msg PhaseMsg) {
	idx := m.phaseIndex(msg.Phase)
	if idx < 0 {
		return
	}
	now := time.Now()

	// Earlier phases have finished once a later one reports.
	for i := 0; i < idx; i++ {
		if m.Phases[i].Active && m.Phases[i].EndedAt == nil {
			m.Phases[i].EndedAt = &now
		}
		m.Phases[i].Done = true
		m.Phases[i].Active = false
	}

	row := &m.Phases[idx]
	switch {
	case msg.Err != nil:
		row.Err = msg.Err
		row.Active = false
		row.EndedAt = &now
	case msg.Done:
		row.Done = true
		row.Active = false
		row.EndedAt = &now
	default:
		row.Active = true
		row.StartedAt = now
	}
}

func (m *Model) updateResource(msg ResourceMsg) {
	for i, r := range m.Resources {
		if r.Kind == msg.Kind && r.Name == msg.Name {
			m.Resources[i] = ResourceRow(msg)
			return
		}
	}
	m.Resources = append(m.Resources, ResourceRow(msg))
}

// history converts the phase rows into benchmark records.
func (m *Model) history() []benchmarks.PhaseRecord {
	var out []benchmarks.PhaseRecord
	for _, p := range m.Phases {
		if p.StartedAt.IsZero() {
			continue
		}
		out = append(out, benchmarks.PhaseRecord{Phase: p.Name, StartedAt: p.StartedAt, EndedAt: p.EndedAt})
	}
	return out
}

func (m *Model) activePhase() (PhaseRow, bool) {
	for _, p := range m.Phases {
		if p.Active {
			return p, true
		}
	}
	return PhaseRow{}, false
}

func (m *Model) updateETA() {
	current, ok := m.activePhase()
	if !ok || m.Done {
		m.EstimatedRemaining = 0
		return
	}

	elapsed := time.Since(current.StartedAt)
	history := m.history()
	m.PerformanceScale = benchmarks.PerformanceScale(current.Name, elapsed, history)
	m.EstimatedRemaining = benchmarks.EstimateRemainingWithScale(current.Name, elapsed, history, m.PerformanceScale)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(_ time.Time) tea.Msg {
		return TickMsg{}
	})
}

// View implements tea.Model.
func (m Model) View() string {
	return renderView(m)
}
