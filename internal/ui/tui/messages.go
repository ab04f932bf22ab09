// Package tui provides a Bubble Tea-based terminal dashboard for deployments.
package tui

// PhaseMsg reports that a deployment phase started, finished or failed.
type PhaseMsg struct {
	Phase string
	Done  bool
	Err   error
}

// ProgressMsg reports item progress within a phase.
type ProgressMsg struct {
	Phase   string
	Current int
	Total   int
}

// ResourceMsg reports the lifecycle outcome of one resource.
type ResourceMsg struct {
	Kind    string
	Name    string
	Outcome string
	Err     string
}

// WarningMsg carries a non-fatal problem.
type WarningMsg struct {
	Phase   string
	Message string
}

// LogMsg carries one line of deployment output.
type LogMsg struct{ Line string }

// TickMsg is sent periodically to refresh the display.
type TickMsg struct{}

// ErrMsg carries an error.
type ErrMsg struct{ Err error }

// DoneMsg signals that the operation is complete.
type DoneMsg struct{}
