// Package metrics exposes the process-wide Prometheus collectors for the
// engines. Everything registers on the default registry so takt-api can
// serve it straight through promhttp
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"net/http"
)

var (
	// TickTotal counts engine ticks by component and outcome
	TickTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "takt",
		Name:      "engine_ticks_total",
		Help:      "Engine ticks by component and outcome.",
	}, []string{"component", "outcome"})

	// TickSeconds observes wall time per tick by component
	TickSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "takt",
		Name:      "engine_tick_seconds",
		Help:      "Tick wall time by component.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"component"})

	// UpsertRows counts rows written per batched upsert by table
	UpsertRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "takt",
		Name:      "store_upsert_rows_total",
		Help:      "Rows written by batched upserts per table.",
	}, []string{"table"})

	// PublishTotal counts broker publishes by scope and outcome
	PublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "takt",
		Name:      "broker_publish_total",
		Help:      "Broker publishes by scope and outcome.",
	}, []string{"scope", "outcome"})

	// CoalesceDrops counts tag events absorbed by a coalescing window
	CoalesceDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "takt",
		Name:      "tagfan_coalesced_events_total",
		Help:      "Tag events absorbed into an already-armed coalescing window.",
	}, []string{"kind"})

	// StationsSkipped counts per-tick station skips by reason
	StationsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "takt",
		Name:      "engine_station_skips_total",
		Help:      "Stations skipped during a tick by reason.",
	}, []string{"component", "reason"})
)

// ObserveTick records one finished tick
func ObserveTick(component string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	TickTotal.WithLabelValues(component, outcome).Inc()
	TickSeconds.WithLabelValues(component).Observe(time.Since(start).Seconds())
}

// Handler returns the HTTP handler serving the default registry
func Handler() http.Handler { return promhttp.Handler() }
