package provisioning

import (
	"context"

	"github.com/imamik/vmaas/internal/config"
	"github.com/imamik/vmaas/internal/logging"
	"github.com/imamik/vmaas/internal/provisioning/lifecycle"
)

// Context wraps all dependencies and state needed for a provisioning phase.
type Context struct {
	context.Context
	Env      *config.Environment
	State    *State
	Policy   lifecycle.Policy
	Observer Observer
	Timeouts *config.Timeouts
}

// NewContext creates a new provisioning context. The observer logs through
// the logger carried by ctx.
func NewContext(ctx context.Context, env *config.Environment, policy lifecycle.Policy) *Context {
	return &Context{
		Context:  ctx,
		Env:      env,
		State:    NewState(),
		Policy:   policy,
		Observer: NewConsoleObserver(logging.FromContext(ctx)),
		Timeouts: config.LoadTimeouts(),
	}
}

// WithContext returns a shallow copy of c bound to ctx. State is shared.
func (c *Context) WithContext(ctx context.Context) *Context {
	cp := *c
	cp.Context = ctx
	return &cp
}
