// Package benchmarks provides timing estimates for deployment phases.
package benchmarks

import (
	"time"

	"github.com/imamik/vmaas/internal/provisioning/deploy"
)

// PhaseRecord is one phase run as observed by the dashboard.
type PhaseRecord struct {
	Phase     string
	StartedAt time.Time
	EndedAt   *time.Time
}

// Duration returns how long the phase ran, or zero while it is running.
func (r PhaseRecord) Duration() time.Duration {
	if r.EndedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// DefaultTimings are median phase durations on a workstation hypervisor
// (seconds). Phases that only talk to the controller API are omitted and
// count as instant.
var DefaultTimings = map[string]int{
	deploy.PhaseBootstrapVM:     5,
	deploy.PhaseVirtualNodes:    10,
	deploy.PhaseControllerVM:    90,
	deploy.PhaseControllerReady: 480,
	deploy.PhaseAPIKey:          5,
	deploy.PhaseBootSource:      5,
	deploy.PhaseBootImages:      900,
	deploy.PhaseNodeGroup:       10,
	deploy.PhaseNodes:           10,
	deploy.PhaseEnvironment:     3,
	deploy.PhasePreseeds:        3,
	deploy.PhaseStartNodes:      5,
	deploy.PhaseCommissioning:   420,
}

// PhaseOrder is the sequence of deployment phases used for ETA calculation.
var PhaseOrder = []string{
	deploy.PhaseBootstrapVM,
	deploy.PhaseVirtualNodes,
	deploy.PhaseControllerVM,
	deploy.PhaseControllerReady,
	deploy.PhaseVirshControl,
	deploy.PhaseAPIKey,
	deploy.PhaseClient,
	deploy.PhaseSettings,
	deploy.PhaseBootSource,
	deploy.PhaseBootImages,
	deploy.PhaseNodeGroup,
	deploy.PhaseNodes,
	deploy.PhaseEnvironment,
	deploy.PhasePreseeds,
	deploy.PhaseStartNodes,
	deploy.PhaseCommissioning,
	deploy.PhaseStickyIPs,
}

// EstimateRemaining calculates the estimated time remaining based on
// current phase, elapsed time, and historical phase records.
func EstimateRemaining(currentPhase string, phaseElapsed time.Duration, history []PhaseRecord) time.Duration {
	return EstimateRemainingWithScale(currentPhase, phaseElapsed, history, PerformanceScale(currentPhase, phaseElapsed, history))
}

// EstimateRemainingWithScale calculates ETA while applying a performance scale factor.
func EstimateRemainingWithScale(
	currentPhase string,
	phaseElapsed time.Duration,
	history []PhaseRecord,
	scale float64,
) time.Duration {
	var remaining time.Duration

	currentIdx := -1
	for i, p := range PhaseOrder {
		if p == currentPhase {
			currentIdx = i
			break
		}
	}
	if currentIdx < 0 {
		return 0
	}

	// For the current phase: max(0, expected - elapsed)
	if expected, ok := DefaultTimings[currentPhase]; ok {
		expectedDur := time.Duration(float64(time.Duration(expected)*time.Second) * scale)
		if expectedDur > phaseElapsed {
			remaining += expectedDur - phaseElapsed
		}
	}

	completed := make(map[string]bool)
	for _, rec := range history {
		if rec.EndedAt != nil {
			completed[rec.Phase] = true
		}
	}

	for i := currentIdx + 1; i < len(PhaseOrder); i++ {
		phase := PhaseOrder[i]
		if completed[phase] {
			continue
		}
		if expected, ok := DefaultTimings[phase]; ok {
			remaining += time.Duration(float64(time.Duration(expected)*time.Second) * scale)
		}
	}

	return remaining
}

// PerformanceScale derives a speed multiplier from observed-vs-expected durations.
// Example: expected 8m, observed 12m => scale=1.5 (future ETAs are stretched by 50%).
func PerformanceScale(currentPhase string, phaseElapsed time.Duration, history []PhaseRecord) float64 {
	var expectedTotal time.Duration
	var actualTotal time.Duration

	for _, rec := range history {
		expectedSecs, ok := DefaultTimings[rec.Phase]
		if !ok || rec.EndedAt == nil {
			continue
		}
		expectedTotal += time.Duration(expectedSecs) * time.Second
		actualTotal += rec.Duration()
	}

	// An overrunning current phase is folded in immediately so the ETA adapts quickly.
	if expectedSecs, ok := DefaultTimings[currentPhase]; ok && phaseElapsed > 0 {
		expectedCurrent := time.Duration(expectedSecs) * time.Second
		if phaseElapsed > expectedCurrent {
			expectedTotal += expectedCurrent
			actualTotal += phaseElapsed
		}
	}

	if expectedTotal == 0 || actualTotal == 0 {
		return 1.0
	}

	scale := float64(actualTotal) / float64(expectedTotal)
	if scale < 0.6 {
		return 0.6
	}
	if scale > 3.0 {
		return 3.0
	}
	return scale
}

// TotalEstimate returns the total estimated deployment time.
func TotalEstimate() time.Duration {
	var total time.Duration
	for _, phase := range PhaseOrder {
		if secs, ok := DefaultTimings[phase]; ok {
			total += time.Duration(secs) * time.Second
		}
	}
	return total
}
