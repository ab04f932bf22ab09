package provisioning

// Logger is the printf-style sink every Observer provides.
type Logger interface {
	Printf(format string, v ...interface{})
}

// Phase defines the interface for a provisioning phase.
type Phase interface {
	// Name returns the human-readable name of this phase.
	Name() string

	// Provision executes the provisioning logic for this phase.
	Provision(ctx *Context) error
}

// PhaseFunc adapts a function to the Phase interface.
type PhaseFunc struct {
	PhaseName string
	Fn        func(ctx *Context) error
}

// Name implements Phase.
func (p PhaseFunc) Name() string {
	return p.PhaseName
}

// Provision implements Phase.
func (p PhaseFunc) Provision(ctx *Context) error {
	return p.Fn(ctx)
}
