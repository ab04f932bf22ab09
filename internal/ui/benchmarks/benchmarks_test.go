package benchmarks

import (
	"testing"
	"time"

	"github.com/imamik/vmaas/internal/provisioning/deploy"
)

func record(phase string, took time.Duration) PhaseRecord {
	end := time.Now()
	return PhaseRecord{Phase: phase, StartedAt: end.Add(-took), EndedAt: &end}
}

func TestEstimateRemaining_NoHistory(t *testing.T) {
	remaining := EstimateRemaining(deploy.PhaseBootstrapVM, 2*time.Second, nil)

	// (5-2) + every later phase at its default
	expected := 1944 * time.Second
	if remaining != expected {
		t.Errorf("expected %v, got %v", expected, remaining)
	}
}

func TestEstimateRemaining_MidwayPhase(t *testing.T) {
	history := []PhaseRecord{
		record(deploy.PhaseControllerReady, 960*time.Second),
		{Phase: deploy.PhaseBootImages, StartedAt: time.Now()},
	}

	remaining := EstimateRemaining(deploy.PhaseBootImages, 60*time.Second, history)

	// The controller took twice its benchmark, so everything left doubles:
	// (900*2 - 60) + (10+10+3+3+5+420)*2 = 2642s
	expected := 2642 * time.Second
	if remaining != expected {
		t.Errorf("expected %v, got %v", expected, remaining)
	}
}

func TestEstimateRemaining_ElapsedExceedsExpected(t *testing.T) {
	remaining := EstimateRemaining(deploy.PhaseControllerReady, 960*time.Second, nil)

	// Overrun scales future predictions: 960s/480s = 2x
	// 0 + (5+5+900+10+10+3+3+5+420)*2 = 2722s
	expected := 2722 * time.Second
	if remaining != expected {
		t.Errorf("expected %v, got %v", expected, remaining)
	}
}

func TestEstimateRemaining_SkipsCompletedPhases(t *testing.T) {
	history := []PhaseRecord{record(deploy.PhaseCommissioning, 420*time.Second)}

	remaining := EstimateRemainingWithScale(deploy.PhaseStartNodes, 0, history, 1.0)
	if remaining != 5*time.Second {
		t.Errorf("expected 5s, got %v", remaining)
	}
}

func TestPerformanceScale(t *testing.T) {
	history := []PhaseRecord{record(deploy.PhaseControllerVM, 135*time.Second)}

	scale := PerformanceScale(deploy.PhaseControllerReady, 0, history)
	if scale < 1.49 || scale > 1.51 {
		t.Fatalf("expected ~1.5 scale, got %f", scale)
	}
}

func TestPerformanceScale_Clamped(t *testing.T) {
	slow := []PhaseRecord{record(deploy.PhaseBootstrapVM, 45*time.Second)}
	if scale := PerformanceScale(deploy.PhaseVirtualNodes, 0, slow); scale != 3.0 {
		t.Errorf("expected scale capped at 3.0, got %f", scale)
	}

	fast := []PhaseRecord{record(deploy.PhaseBootImages, 60*time.Second)}
	if scale := PerformanceScale(deploy.PhaseNodeGroup, 0, fast); scale != 0.6 {
		t.Errorf("expected scale floored at 0.6, got %f", scale)
	}
}

func TestPerformanceScale_NoData(t *testing.T) {
	if scale := PerformanceScale(deploy.PhaseNodes, 0, nil); scale != 1.0 {
		t.Errorf("expected 1.0, got %f", scale)
	}
}

func TestEstimateRemaining_UnknownPhase(t *testing.T) {
	remaining := EstimateRemaining("Unknown", 0, nil)
	if remaining != 0 {
		t.Errorf("expected 0 for unknown phase, got %v", remaining)
	}
}

func TestEstimateRemaining_LastTimedPhase(t *testing.T) {
	remaining := EstimateRemaining(deploy.PhaseCommissioning, 100*time.Second, nil)

	// max(0, 420-100) and sticky IPs count as instant
	expected := 320 * time.Second
	if remaining != expected {
		t.Errorf("expected %v, got %v", expected, remaining)
	}
}

func TestTotalEstimate(t *testing.T) {
	total := TotalEstimate()

	expected := 1946 * time.Second
	if total != expected {
		t.Errorf("expected %v, got %v", expected, total)
	}
}

func TestPhaseOrderCoversTimings(t *testing.T) {
	known := map[string]bool{}
	for _, p := range PhaseOrder {
		known[p] = true
	}
	for phase := range DefaultTimings {
		if !known[phase] {
			t.Errorf("timed phase %s is missing from PhaseOrder", phase)
		}
	}
}
