// Package metrics exposes Prometheus counters for a deployment run.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every vmaas collector. It is separate from the default
// registry so tests can gather it without process collectors.
var Registry = prometheus.NewRegistry()

var (
	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vmaas",
			Subsystem: "shell",
			Name:      "commands_total",
			Help:      "Total number of external commands by binary and result",
		},
		[]string{"binary", "result"},
	)

	retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vmaas",
			Subsystem: "retry",
			Name:      "retries_total",
			Help:      "Total number of retried attempts by operation",
		},
		[]string{"operation"},
	)

	pollAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vmaas",
			Subsystem: "poll",
			Name:      "attempts_total",
			Help:      "Total number of status queries issued by pollers",
		},
		[]string{"poller"},
	)

	driverCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vmaas",
			Subsystem: "maas",
			Name:      "driver_calls_total",
			Help:      "Total number of control plane operations by driver, operation and result",
		},
		[]string{"driver", "operation", "result"},
	)

	phaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vmaas",
			Subsystem: "deploy",
			Name:      "phase_duration_seconds",
			Help:      "Duration of deployment phases in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~34min
		},
		[]string{"phase", "result"},
	)

	resourcesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vmaas",
			Subsystem: "lifecycle",
			Name:      "resources_total",
			Help:      "Managed resources by kind and lifecycle outcome",
		},
		[]string{"kind", "outcome"},
	)
)

func init() {
	Registry.MustRegister(
		commandsTotal,
		retriesTotal,
		pollAttemptsTotal,
		driverCallsTotal,
		phaseDuration,
		resourcesTotal,
	)
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}

// RecordCommand counts one external command execution.
func RecordCommand(binary string, ok bool) {
	commandsTotal.WithLabelValues(binary, result(ok)).Inc()
}

// RecordRetry counts one retried attempt.
func RecordRetry(operation string) {
	retriesTotal.WithLabelValues(operation).Inc()
}

// RecordPollAttempt counts one poller status query.
func RecordPollAttempt(poller string) {
	pollAttemptsTotal.WithLabelValues(poller).Inc()
}

// RecordDriverCall counts one control plane operation.
func RecordDriverCall(driver, operation string, ok bool) {
	driverCallsTotal.WithLabelValues(driver, operation, result(ok)).Inc()
}

// RecordPhase observes the duration of a deployment phase.
func RecordPhase(phase string, d time.Duration, ok bool) {
	phaseDuration.WithLabelValues(phase, result(ok)).Observe(d.Seconds())
}

// RecordResource counts a lifecycle decision.
func RecordResource(kind, outcome string) {
	resourcesTotal.WithLabelValues(kind, outcome).Inc()
}

// Serve exposes Registry on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
