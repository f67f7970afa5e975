package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	itemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_items_total",
			Help: "Work items attempted, by outcome",
		},
		[]string{"status"}, // "success" / "failure"
	)

	itemDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querypilot_item_duration_seconds",
			Help:    "Wall time spent processing one work item",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17m
		},
	)

	sessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_sessions_total",
			Help: "Portal sessions run, by outcome",
		},
		[]string{"outcome"}, // "completed" / "failed" / "auth_failed"
	)

	pagerActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_pager_actions_total",
			Help: "Pagination resolver decisions executed",
		},
		[]string{"action"},
	)

	worksetRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "querypilot_workset_remaining",
			Help: "Items not yet confirmed done",
		},
	)

	stagnantSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "querypilot_stagnant_sessions",
			Help: "Consecutive sessions without progress",
		},
	)
)

// Collector provides convenience methods for recording metrics. A nil
// Collector is valid and records nothing, which keeps test wiring short.
type Collector struct{}

// NewCollector creates a metrics collector.
func NewCollector() *Collector {
	return &Collector{}
}

// RecordItem records one unit-of-work attempt.
func (c *Collector) RecordItem(duration time.Duration, success bool) {
	if c == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	itemsTotal.WithLabelValues(status).Inc()
	itemDuration.Observe(duration.Seconds())
}

// RecordSession records one session outcome.
func (c *Collector) RecordSession(outcome string) {
	if c == nil {
		return
	}
	sessionsTotal.WithLabelValues(outcome).Inc()
}

// RecordPagerAction records one executed resolver decision.
func (c *Collector) RecordPagerAction(action string) {
	if c == nil {
		return
	}
	pagerActions.WithLabelValues(action).Inc()
}

// SetRemaining publishes the current work set size.
func (c *Collector) SetRemaining(n int) {
	if c == nil {
		return
	}
	worksetRemaining.Set(float64(n))
}

// SetStagnantSessions publishes the no-progress streak length.
func (c *Collector) SetStagnantSessions(n int) {
	if c == nil {
		return
	}
	stagnantSessions.Set(float64(n))
}
