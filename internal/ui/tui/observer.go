package tui

import (
	"fmt"
	"regexp"
	"strconv"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/imamik/vmaas/internal/provisioning"
)

// Sender delivers messages to a running program. *tea.Program satisfies it.
type Sender interface {
	Send(msg tea.Msg)
}

// phaseSuffix matches the " (i/n)" position the pipeline appends to phase
// names in events.
var phaseSuffix = regexp.MustCompile(`^(.*) \((\d+)/(\d+)\)$`)

// Observer forwards provisioning events to the dashboard.
type Observer struct {
	send   Sender
	fields map[string]string

	// pipeline position of the running phase, shared between copies
	pos *position
}

type position struct {
	mu    sync.Mutex
	phase string
	index int
	total int
}

// NewObserver creates an Observer sending to s.
func NewObserver(s Sender) *Observer {
	return &Observer{send: s, pos: &position{}}
}

// Printf implements provisioning.Logger.
func (o *Observer) Printf(format string, v ...interface{}) {
	o.send.Send(LogMsg{Line: fmt.Sprintf(format, v...)})
}

// Event implements provisioning.Observer.
func (o *Observer) Event(event provisioning.Event) {
	phase := o.trackPhase(event)

	switch event.Type {
	case provisioning.EventPhaseStarted:
		o.send.Send(PhaseMsg{Phase: phase})
	case provisioning.EventPhaseCompleted:
		o.send.Send(PhaseMsg{Phase: phase, Done: true})
	case provisioning.EventPhaseFailed:
		o.send.Send(PhaseMsg{Phase: phase, Err: fmt.Errorf("%s", event.Message)})
	case provisioning.EventValidationWarning:
		o.send.Send(WarningMsg{Phase: phase, Message: event.Message})
	case provisioning.EventValidationError:
		o.send.Send(WarningMsg{Phase: phase, Message: event.Message})
		o.send.Send(LogMsg{Line: event.Message})
	case provisioning.EventResourceCreating:
		o.send.Send(ResourceMsg{Kind: event.Fields["type"], Name: event.Resource, Outcome: "creating"})
	case provisioning.EventResourceCreated, provisioning.EventResourceExists, provisioning.EventResourceRecreated:
		o.send.Send(ResourceMsg{Kind: event.Fields["type"], Name: event.Resource, Outcome: event.Fields["outcome"]})
	case provisioning.EventResourceFailed:
		o.send.Send(ResourceMsg{Kind: event.Fields["type"], Name: event.Resource, Outcome: "failed", Err: event.Message})
	default:
		o.send.Send(LogMsg{Line: event.Message})
	}
}

// Progress implements provisioning.Observer. The pipeline's own position
// report is dropped since the phase list already shows it.
func (o *Observer) Progress(phase string, current, total int) {
	o.pos.mu.Lock()
	pipeline := phase == o.pos.phase && current == o.pos.index && total == o.pos.total
	o.pos.mu.Unlock()
	if pipeline {
		return
	}
	o.send.Send(ProgressMsg{Phase: phase, Current: current, Total: total})
}

// WithFields implements provisioning.Observer.
func (o *Observer) WithFields(fields map[string]string) provisioning.Observer {
	merged := make(map[string]string, len(o.fields)+len(fields))
	for k, v := range o.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Observer{send: o.send, fields: merged, pos: o.pos}
}

// trackPhase strips the pipeline position from the event's phase name and
// remembers it for Progress.
func (o *Observer) trackPhase(event provisioning.Event) string {
	m := phaseSuffix.FindStringSubmatch(event.Phase)
	if m == nil {
		return event.Phase
	}
	if event.Type == provisioning.EventPhaseStarted {
		i, _ := strconv.Atoi(m[2])
		n, _ := strconv.Atoi(m[3])
		o.pos.mu.Lock()
		o.pos.phase, o.pos.index, o.pos.total = m[1], i-1, n
		o.pos.mu.Unlock()
	}
	return m[1]
}
