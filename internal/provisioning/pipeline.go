package provisioning

import (
	"fmt"
	"time"

	"github.com/imamik/vmaas/internal/metrics"
)

// Pipeline is an ordered list of phases run one after another.
type Pipeline struct {
	Phases []Phase
}

// NewPipeline creates a pipeline from phases.
func NewPipeline(phases ...Phase) *Pipeline {
	return &Pipeline{Phases: phases}
}

// Run executes the pipeline, stopping at the first failing phase.
func (p *Pipeline) Run(ctx *Context) error {
	return RunPhases(ctx, p.Phases)
}

// RunPhases executes all provisioning phases sequentially.
func RunPhases(ctx *Context, phases []Phase) error {
	start := time.Now()
	ctx.Observer.Printf("Starting deployment with %d phases...", len(phases))

	for i, phase := range phases {
		if ctx.Context != nil {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("%s phase not started: %w", phase.Name(), err)
			}
		}

		phaseStart := time.Now()
		name := fmt.Sprintf("%s (%d/%d)", phase.Name(), i+1, len(phases))

		LogPhaseStart(ctx.Observer, name)
		ctx.Observer.Progress(phase.Name(), i, len(phases))

		if err := phase.Provision(ctx); err != nil {
			metrics.RecordPhase(phase.Name(), time.Since(phaseStart), false)
			LogPhaseFailed(ctx.Observer, name, err)
			return fmt.Errorf("%s phase failed: %w", phase.Name(), err)
		}

		metrics.RecordPhase(phase.Name(), time.Since(phaseStart), true)
		LogPhaseComplete(ctx.Observer, name, time.Since(phaseStart))
	}

	ctx.Observer.Progress("deploy", len(phases), len(phases))
	ctx.Observer.Printf("Deployment completed in %v", time.Since(start).Round(time.Millisecond))
	return nil
}
