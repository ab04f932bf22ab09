package tui

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/imamik/vmaas/internal/provisioning"
	"github.com/imamik/vmaas/internal/provisioning/deploy"
	"github.com/imamik/vmaas/internal/provisioning/lifecycle"
)

var testPhases = []string{deploy.PhaseBootstrapVM, deploy.PhaseVirtualNodes, deploy.PhaseControllerVM, deploy.PhaseNodes}

type sink struct {
	mu   sync.Mutex
	msgs []tea.Msg
}

func (s *sink) Send(msg tea.Msg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
}

func apply(m Model, msgs ...tea.Msg) Model {
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		m = next.(Model)
	}
	return m
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{30 * time.Second, "30s"},
		{90 * time.Second, "1m30s"},
		{3600 * time.Second, "1h0m"},
		{3661 * time.Second, "1h1m"},
	}
	for _, tt := range tests {
		got := formatDuration(tt.d)
		if got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestCalculateProgress_Done(t *testing.T) {
	m := Model{Done: true}
	if p := calculateProgress(m); p != 1.0 {
		t.Errorf("expected 1.0, got %v", p)
	}
}

func TestCalculateProgress_WeightedByTimings(t *testing.T) {
	m := NewDeployModel("demo", "", testPhases)
	m.Phases[0].Done = true
	m.Phases[1].Done = true

	// (5+10) of (5+10+90+10)
	p := calculateProgress(m)
	expected := 15.0 / 115.0
	if p < expected-0.001 || p > expected+0.001 {
		t.Errorf("expected ~%v, got %v", expected, p)
	}
}

func TestCalculateProgress_ActiveItems(t *testing.T) {
	m := NewDeployModel("demo", "", []string{deploy.PhaseNodes})
	m.Phases[0].Active = true
	m.Phases[0].Current = 1
	m.Phases[0].Total = 4

	if p := calculateProgress(m); p != 0.25 {
		t.Errorf("expected 0.25, got %v", p)
	}
}

func TestModelUpdatePhase(t *testing.T) {
	m := NewDeployModel("demo", "qemu:///system", testPhases)
	m = apply(m, PhaseMsg{Phase: deploy.PhaseControllerVM})

	for i := 0; i < 2; i++ {
		if !m.Phases[i].Done {
			t.Errorf("phase %s should be marked done", m.Phases[i].Name)
		}
	}
	if !m.Phases[2].Active {
		t.Error("controller phase should be active")
	}
	if m.Phases[2].StartedAt.IsZero() {
		t.Error("controller phase should have a start time")
	}

	m = apply(m, PhaseMsg{Phase: deploy.PhaseControllerVM, Done: true})
	if !m.Phases[2].Done || m.Phases[2].Active || m.Phases[2].EndedAt == nil {
		t.Errorf("controller phase not completed: %+v", m.Phases[2])
	}
}

func TestModelUpdatePhase_Failed(t *testing.T) {
	m := NewDeployModel("demo", "", testPhases)
	m = apply(m,
		PhaseMsg{Phase: deploy.PhaseBootstrapVM},
		PhaseMsg{Phase: deploy.PhaseBootstrapVM, Err: errors.New("pool missing")},
	)
	if m.Phases[0].Err == nil || m.Phases[0].Active {
		t.Errorf("expected failed phase, got %+v", m.Phases[0])
	}
	if !strings.Contains(m.View(), crossMark) {
		t.Error("expected failure marker in view")
	}
}

func TestModelUpdatePhase_Unknown(t *testing.T) {
	m := NewDeployModel("demo", "", testPhases)
	m = apply(m, PhaseMsg{Phase: "nope"})
	for _, p := range m.Phases {
		if p.Active || p.Done {
			t.Errorf("unknown phase changed %s", p.Name)
		}
	}
}

func TestModelUpdateResource(t *testing.T) {
	m := NewDeployModel("demo", "", testPhases)
	m = apply(m,
		ResourceMsg{Kind: "domain", Name: "node1", Outcome: "creating"},
		ResourceMsg{Kind: "domain", Name: "node2", Outcome: "creating"},
		ResourceMsg{Kind: "domain", Name: "node1", Outcome: string(lifecycle.Created)},
	)
	if len(m.Resources) != 2 {
		t.Fatalf("expected 2 resources, got %d", len(m.Resources))
	}
	if m.Resources[0].Outcome != string(lifecycle.Created) {
		t.Errorf("expected node1 to be updated in place, got %+v", m.Resources[0])
	}
}

func TestModelLogsAreBounded(t *testing.T) {
	m := NewDeployModel("demo", "", testPhases)
	for i := 0; i < maxLogLines+4; i++ {
		m = apply(m, LogMsg{Line: strings.Repeat("x", i+1)})
	}
	if len(m.Logs) != maxLogLines {
		t.Fatalf("expected %d log lines, got %d", maxLogLines, len(m.Logs))
	}
	if m.Logs[len(m.Logs)-1] != strings.Repeat("x", maxLogLines+4) {
		t.Error("expected newest line last")
	}
}

func TestModelDoneAndError(t *testing.T) {
	m := NewDeployModel("demo", "", testPhases)
	next, cmd := m.Update(DoneMsg{})
	if !next.(Model).Done || cmd == nil {
		t.Error("DoneMsg should mark done and quit")
	}

	next, cmd = m.Update(ErrMsg{Err: errors.New("boom")})
	if next.(Model).Err == nil || cmd == nil {
		t.Error("ErrMsg should record the error and quit")
	}
}

func TestModelETA(t *testing.T) {
	m := NewDeployModel("demo", "", testPhases)
	m = apply(m, PhaseMsg{Phase: deploy.PhaseControllerVM}, TickMsg{})
	if m.EstimatedRemaining <= 0 {
		t.Errorf("expected a positive ETA, got %v", m.EstimatedRemaining)
	}
	if m.SpinnerFrame != 1 {
		t.Errorf("expected spinner to advance, got %d", m.SpinnerFrame)
	}
}

func TestRenderView_Header(t *testing.T) {
	m := NewDeployModel("demo", "qemu:///system", testPhases)
	view := renderView(m)
	if !strings.Contains(view, "vmaas: demo") {
		t.Error("expected target name in header")
	}
	if !strings.Contains(view, "qemu:///system") {
		t.Error("expected hypervisor URI in header")
	}
}

func TestRenderView_Sections(t *testing.T) {
	m := NewDeployModel("demo", "", testPhases)
	m = apply(m,
		ResourceMsg{Kind: "domain", Name: "maas", Outcome: string(lifecycle.Reused)},
		WarningMsg{Message: "sticky IP claim failed"},
		LogMsg{Line: "Starting deployment"},
	)
	view := renderView(m)
	for _, want := range []string{"Phases", "Resources", "maas", "Warnings", "sticky IP claim failed", "Output", "Starting deployment"} {
		if !strings.Contains(view, want) {
			t.Errorf("expected %q in view", want)
		}
	}
}

func TestRenderView_WarningsAreBounded(t *testing.T) {
	m := NewDeployModel("demo", "", testPhases)
	for _, w := range []string{"w1", "w2", "w3", "w4"} {
		m = apply(m, WarningMsg{Message: w})
	}
	view := renderView(m)
	if strings.Contains(view, "w1") {
		t.Error("oldest warning should be hidden")
	}
	if !strings.Contains(view, "w4") {
		t.Error("newest warning should be shown")
	}
}

func TestOutcomeBadge(t *testing.T) {
	tests := []struct {
		row  ResourceRow
		want string
	}{
		{ResourceRow{Outcome: "failed", Err: "x"}, crossMark},
		{ResourceRow{Outcome: string(lifecycle.Created)}, checkMark},
		{ResourceRow{Outcome: string(lifecycle.Recreated)}, rebuildMark},
		{ResourceRow{Outcome: string(lifecycle.Reused)}, reuseMark},
		{ResourceRow{Outcome: "creating"}, spinnerFrames[0]},
	}
	for _, tt := range tests {
		if got := outcomeBadge(tt.row, 0).mark; got != tt.want {
			t.Errorf("%+v: expected %s, got %s", tt.row, tt.want, got)
		}
	}
}

func TestPhaseBadge(t *testing.T) {
	if got := phaseBadge(PhaseRow{Done: true}, 0).mark; got != checkMark {
		t.Errorf("expected %s, got %s", checkMark, got)
	}
	if got := phaseBadge(PhaseRow{Active: true}, 3).mark; got != spinnerFrames[3] {
		t.Errorf("expected spinner frame, got %s", got)
	}
	if got := phaseBadge(PhaseRow{}, 0).mark; got != pending {
		t.Errorf("expected %s, got %s", pending, got)
	}
}

func TestObserver_PhaseEvents(t *testing.T) {
	s := &sink{}
	o := NewObserver(s).WithFields(map[string]string{"target": "demo"})

	provisioning.LogPhaseStart(o, "nodes (12/17)")
	o.Progress("nodes", 11, 17)
	o.Progress("nodes", 1, 3)
	provisioning.LogPhaseComplete(o, "nodes (12/17)", time.Second)

	if len(s.msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d: %#v", len(s.msgs), s.msgs)
	}
	if got := s.msgs[0].(PhaseMsg); got.Phase != "nodes" || got.Done {
		t.Errorf("unexpected start message %+v", got)
	}
	if got := s.msgs[1].(ProgressMsg); got != (ProgressMsg{Phase: "nodes", Current: 1, Total: 3}) {
		t.Errorf("unexpected progress message %+v", got)
	}
	if got := s.msgs[2].(PhaseMsg); !got.Done {
		t.Errorf("unexpected completion message %+v", got)
	}
}

func TestObserver_FailureAndResources(t *testing.T) {
	s := &sink{}
	o := NewObserver(s)

	provisioning.LogResourceCreating(o, "virtual-nodes", "domain", "node1")
	provisioning.LogResourceOutcome(o, "virtual-nodes", "domain", "node1", lifecycle.Reused)
	provisioning.LogResourceFailed(o, "virtual-nodes", "domain", "node2", errors.New("no space"))
	provisioning.LogPhaseFailed(o, "virtual-nodes (3/17)", errors.New("no space"))
	o.Event(provisioning.Event{Type: provisioning.EventValidationWarning, Message: "check this"})
	o.Printf("hello %s", "world")

	want := []tea.Msg{
		ResourceMsg{Kind: "domain", Name: "node1", Outcome: "creating"},
		ResourceMsg{Kind: "domain", Name: "node1", Outcome: string(lifecycle.Reused)},
	}
	for i, w := range want {
		if s.msgs[i] != w {
			t.Errorf("message %d: expected %+v, got %+v", i, w, s.msgs[i])
		}
	}
	if got := s.msgs[2].(ResourceMsg); got.Name != "node2" || !strings.Contains(got.Err, "no space") {
		t.Errorf("unexpected failure message %+v", got)
	}
	if got := s.msgs[3].(PhaseMsg); got.Phase != "virtual-nodes" || got.Err == nil {
		t.Errorf("unexpected phase failure %+v", got)
	}
	if got := s.msgs[4].(WarningMsg); got.Message != "check this" {
		t.Errorf("unexpected warning %+v", got)
	}
	if got := s.msgs[5].(LogMsg); got.Line != "hello world" {
		t.Errorf("unexpected log %+v", got)
	}
}
