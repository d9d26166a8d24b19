// Package metrics exposes Prometheus collectors for the monitor service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsTotal            *prometheus.CounterVec
	jobDurationSeconds   *prometheus.HistogramVec
	changesDetectedTotal *prometheus.CounterVec
	captchaTotal         *prometheus.CounterVec
	scheduledTotal       prometheus.Counter
	activeWorkers        prometheus.Gauge
	poolInUse            prometheus.Gauge
	poolRecyclesTotal    prometheus.Counter
	tokenWaitSeconds     prometheus.Histogram
	attachmentsTotal     *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "casewatch_jobs_total",
				Help: "Total jobs processed, labeled by lane and final status.",
			},
			[]string{"lane", "status"},
		)

		jobDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "casewatch_job_duration_seconds",
				Help:    "Histogram of end-to-end scrape durations by lane.",
				Buckets: []float64{5, 10, 20, 40, 60, 120, 300},
			},
			[]string{"lane"},
		)

		changesDetectedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "casewatch_changes_detected_total",
				Help: "Total change log entries emitted, labeled by change type.",
			},
			[]string{"type"},
		)

		captchaTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "casewatch_captcha_total",
				Help: "Captcha strategy outcomes, labeled by strategy and result.",
			},
			[]string{"strategy", "result"},
		)

		scheduledTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "casewatch_scheduled_casefiles_total",
				Help: "Case files enqueued by the scheduler.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "casewatch_active_workers",
				Help: "Workers currently processing a job.",
			},
		)

		poolInUse = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "casewatch_browser_sessions_in_use",
				Help: "Browser sessions currently leased from the pool.",
			},
		)

		poolRecyclesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "casewatch_browser_recycles_total",
				Help: "Browser sessions closed for recycling.",
			},
		)

		tokenWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "casewatch_token_wait_seconds",
				Help:    "Time spent waiting on the portal rate-limit bucket.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		)

		attachmentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "casewatch_attachments_total",
				Help: "Attachment downloads, labeled by result.",
			},
			[]string{"result"},
		)
	})
}

// Handler returns an http.Handler exposing the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJob records a finished job attempt.
func ObserveJob(lane, status string, duration time.Duration) {
	jobsTotal.WithLabelValues(lane, status).Inc()
	jobDurationSeconds.WithLabelValues(lane).Observe(duration.Seconds())
}

// ObserveChanges bumps the change counter for each emitted entry type.
func ObserveChanges(changeType string, n int) {
	if n > 0 {
		changesDetectedTotal.WithLabelValues(changeType).Add(float64(n))
	}
}

// ObserveCaptcha records one strategy attempt.
func ObserveCaptcha(strategy, result string) {
	captchaTotal.WithLabelValues(strategy, result).Inc()
}

// ObserveScheduled bumps the scheduled case file counter.
func ObserveScheduled(n int) {
	scheduledTotal.Add(float64(n))
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() { activeWorkers.Inc() }

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() { activeWorkers.Dec() }

// SetPoolInUse reports the pool lease gauge.
func SetPoolInUse(n int) { poolInUse.Set(float64(n)) }

// ObservePoolRecycle counts one session recycle.
func ObservePoolRecycle() { poolRecyclesTotal.Inc() }

// ObserveTokenWait records a rate-limit wait.
func ObserveTokenWait(d time.Duration) {
	if d > time.Millisecond {
		tokenWaitSeconds.Observe(d.Seconds())
	}
}

// ObserveAttachment records one attachment download outcome.
func ObserveAttachment(result string) {
	attachmentsTotal.WithLabelValues(result).Inc()
}
