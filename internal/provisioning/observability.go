package provisioning

import (
	"fmt"
	"sort"
	"time"

	"github.com/go-logr/logr"

	"github.com/imamik/vmaas/internal/provisioning/lifecycle"
)

// Observer defines the interface for structured observability during provisioning.
type Observer interface {
	Logger

	// Event emits a structured event
	Event(event Event)

	// Progress reports progress for a phase
	Progress(phase string, current, total int)

	// WithFields returns a new Observer with additional context fields
	WithFields(fields map[string]string) Observer
}

// Event represents a structured provisioning event.
type Event struct {
	Type      EventType         // Type of event
	Phase     string            // Phase name (e.g., "controller", "nodes")
	Message   string            // Human-readable message
	Resource  string            // Resource name if applicable
	Timestamp time.Time         // When the event occurred
	Fields    map[string]string // Additional contextual fields
	Err       error             // Cause, for failure events
}

// EventType represents the type of provisioning event.
type EventType string

const (
	// EventPhaseStarted indicates a provisioning phase has started.
	EventPhaseStarted EventType = "phase.started"
	// EventPhaseCompleted indicates a provisioning phase completed successfully.
	EventPhaseCompleted EventType = "phase.completed"
	// EventPhaseFailed indicates a provisioning phase failed.
	EventPhaseFailed EventType = "phase.failed"

	// EventResourceCreating indicates a resource is being created.
	EventResourceCreating EventType = "resource.creating"
	// EventResourceCreated indicates a resource was created successfully.
	EventResourceCreated EventType = "resource.created"
	// EventResourceExists indicates an existing resource was reused.
	EventResourceExists EventType = "resource.exists"
	// EventResourceRecreated indicates a resource was deleted and created again.
	EventResourceRecreated EventType = "resource.recreated"
	// EventResourceFailed indicates resource creation failed.
	EventResourceFailed EventType = "resource.failed"

	// EventValidationWarning indicates a validation warning.
	EventValidationWarning EventType = "validation.warning"
	// EventValidationError indicates a validation error.
	EventValidationError EventType = "validation.error"

	// EventProgress indicates progress in a long-running operation.
	EventProgress EventType = "progress"
)

// ConsoleObserver renders events as structured log entries. Failures go
// through logr's Error with the event's Err attached.
type ConsoleObserver struct {
	log    logr.Logger
	fields map[string]string
}

// NewConsoleObserver creates an observer writing to log.
func NewConsoleObserver(log logr.Logger) *ConsoleObserver {
	return &ConsoleObserver{log: log, fields: map[string]string{}}
}

// Printf implements Logger.
func (o *ConsoleObserver) Printf(format string, v ...interface{}) {
	o.log.Info(fmt.Sprintf(format, v...))
}

// Event implements Observer. Event fields win over the observer's fields.
func (o *ConsoleObserver) Event(event Event) {
	merged := make(map[string]string, len(o.fields)+len(event.Fields))
	for k, v := range o.fields {
		merged[k] = v
	}
	for k, v := range event.Fields {
		merged[k] = v
	}

	kv := []any{"event", string(event.Type)}
	if event.Phase != "" {
		kv = append(kv, "phase", event.Phase)
	}
	if event.Resource != "" {
		kv = append(kv, "resource", event.Resource)
	}
	kv = append(kv, sortedKV(merged)...)

	if event.failed() {
		o.log.Error(event.Err, event.Message, kv...)
		return
	}
	o.log.Info(event.Message, kv...)
}

// Progress implements Observer.
func (o *ConsoleObserver) Progress(phase string, current, total int) {
	kv := []any{"phase", phase, "current", current, "total", total}
	if total > 0 {
		kv = append(kv, "percent", current*100/total)
	}
	o.log.V(1).Info("Progress", kv...)
}

// WithFields implements Observer.
func (o *ConsoleObserver) WithFields(fields map[string]string) Observer {
	merged := make(map[string]string, len(o.fields)+len(fields))
	for k, v := range o.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &ConsoleObserver{log: o.log, fields: merged}
}

func (e Event) failed() bool {
	switch e.Type {
	case EventPhaseFailed, EventResourceFailed, EventValidationError:
		return true
	}
	return false
}

// sortedKV flattens fields into logr key/value pairs in key order.
func sortedKV(fields map[string]string) []any {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	kv := make([]any, 0, 2*len(keys))
	for _, k := range keys {
		kv = append(kv, k, fields[k])
	}
	return kv
}

// Helper functions for common events

// LogPhaseStart logs a phase start event.
func LogPhaseStart(observer Observer, phase string) {
	observer.Event(Event{
		Type:    EventPhaseStarted,
		Phase:   phase,
		Message: "starting",
	})
}

// LogPhaseComplete logs a phase completion event.
func LogPhaseComplete(observer Observer, phase string, duration time.Duration) {
	observer.Event(Event{
		Type:    EventPhaseCompleted,
		Phase:   phase,
		Message: fmt.Sprintf("completed in %v", duration.Round(time.Millisecond)),
	})
}

// LogPhaseFailed logs a phase failure event.
func LogPhaseFailed(observer Observer, phase string, err error) {
	observer.Event(Event{
		Type:    EventPhaseFailed,
		Phase:   phase,
		Message: fmt.Sprintf("failed: %v", err),
		Err:     err,
	})
}

// LogResourceCreating logs a resource creation start event.
func LogResourceCreating(observer Observer, phase, resourceType, resourceName string) {
	observer.Event(Event{
		Type:     EventResourceCreating,
		Phase:    phase,
		Resource: resourceName,
		Message:  fmt.Sprintf("creating %s", resourceType),
		Fields: map[string]string{
			"type": resourceType,
		},
	})
}

// LogResourceOutcome logs the lifecycle decision taken for a resource.
func LogResourceOutcome(observer Observer, phase, resourceType, resourceName string, outcome lifecycle.Outcome) {
	event := Event{
		Phase:    phase,
		Resource: resourceName,
		Fields: map[string]string{
			"type":    resourceType,
			"outcome": string(outcome),
		},
	}
	switch outcome {
	case lifecycle.Reused:
		event.Type = EventResourceExists
		event.Message = fmt.Sprintf("%s already exists, reusing", resourceType)
	case lifecycle.Recreated:
		event.Type = EventResourceRecreated
		event.Message = fmt.Sprintf("%s recreated", resourceType)
	default:
		event.Type = EventResourceCreated
		event.Message = fmt.Sprintf("%s created", resourceType)
	}
	observer.Event(event)
}

// LogResourceFailed logs a resource creation failure.
func LogResourceFailed(observer Observer, phase, resourceType, resourceName string, err error) {
	observer.Event(Event{
		Type:     EventResourceFailed,
		Phase:    phase,
		Resource: resourceName,
		Message:  fmt.Sprintf("%s failed: %v", resourceType, err),
		Err:      err,
		Fields: map[string]string{
			"type": resourceType,
		},
	})
}

// LogWarning reports a non-fatal finding of a phase.
func LogWarning(observer Observer, phase, msg string, fields map[string]string) {
	observer.Event(Event{
		Type:    EventValidationWarning,
		Phase:   phase,
		Message: msg,
		Fields:  fields,
	})
}
