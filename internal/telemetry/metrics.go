package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	SchedulerTicks     = prometheus.NewCounter(prometheus.CounterOpts{Name: "capture_scheduler_ticks_total", Help: "Scheduler tick evaluations"})
	CapturesTriggered  = prometheus.NewCounter(prometheus.CounterOpts{Name: "capture_sessions_triggered_total", Help: "Capture sessions dispatched to the pipeline"})
	CapturesCompleted  = prometheus.NewCounter(prometheus.CounterOpts{Name: "capture_sessions_completed_total", Help: "Capture sessions finishing in completed"})
	CapturesFailed     = prometheus.NewCounter(prometheus.CounterOpts{Name: "capture_sessions_failed_total", Help: "Capture sessions finishing in a failure terminal"})
	FallbackArtifacts  = prometheus.NewCounter(prometheus.CounterOpts{Name: "capture_fallback_artifacts_total", Help: "Placeholder artifacts generated after strategy exhaustion"})
	StorageFallthrough = prometheus.NewCounter(prometheus.CounterOpts{Name: "capture_storage_fallthrough_total", Help: "Storage backend failures that fell through to the next backend"})
	RewardsCredited    = prometheus.NewCounter(prometheus.CounterOpts{Name: "capture_rewards_credited_total", Help: "Reward ledger credits recorded"})
	ManualRateRejects  = prometheus.NewCounter(prometheus.CounterOpts{Name: "capture_manual_rate_rejects_total", Help: "Manual triggers rejected by the rate limiter"})
	InFlightPipelines  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "capture_pipelines_inflight", Help: "Pipelines currently running"})
	ActiveSchedules    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "capture_schedules_active", Help: "Active schedules seen on the last tick"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			SchedulerTicks,
			CapturesTriggered,
			CapturesCompleted,
			CapturesFailed,
			FallbackArtifacts,
			StorageFallthrough,
			RewardsCredited,
			ManualRateRejects,
			InFlightPipelines,
			ActiveSchedules,
		)
	})
	return promhttp.Handler()
}
