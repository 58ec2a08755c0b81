package sinks

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marketscout/crawler/internal/report"
)

var (
	outcomesTotal   *prometheus.CounterVec
	qualityObserved prometheus.Histogram
	frontierDepth   prometheus.Gauge
	prometheusOnce  sync.Once
)

func initCollectors() {
	prometheusOnce.Do(func() {
		outcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_outcomes_total",
				Help: "Total pipeline outcomes, labeled by kind.",
			},
			[]string{"kind"},
		)
		qualityObserved = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pipeline_record_quality",
				Help:    "Quality score distribution of fetched records.",
				Buckets: prometheus.LinearBuckets(0, 0.1, 11),
			},
		)
		frontierDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pipeline_frontier_depth",
				Help: "Depth of the URL frontier as sampled by workers.",
			},
		)
	})
}

// PrometheusSink exports outcome counters as Prometheus metrics.
type PrometheusSink struct{}

// NewPrometheusSink registers the collectors (once per process) and returns
// the sink.
func NewPrometheusSink() *PrometheusSink {
	initCollectors()
	return &PrometheusSink{}
}

// Consume updates collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []report.Event) error {
	for _, evt := range batch {
		outcomesTotal.WithLabelValues(string(evt.Kind)).Inc()
		if evt.Kind == report.KindFetched {
			qualityObserved.Observe(evt.Quality)
		}
		if evt.FrontierDepth > 0 {
			frontierDepth.Set(float64(evt.FrontierDepth))
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
