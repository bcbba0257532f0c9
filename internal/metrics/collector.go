// Package metrics exposes selection outcomes as Prometheus metrics.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"uicontext-mcp-server/internal/recorder"
	"uicontext-mcp-server/internal/selection"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Outcome labels for uictx_selections_total.
const (
	OutcomeOK        = "ok"
	OutcomeCancelled = "cancelled"
	OutcomeInvalid   = "invalid"
	OutcomeError     = "error"
)

// Collector owns its registry so that several collectors can coexist in one
// process (tests, embedded servers).
type Collector struct {
	registry *prometheus.Registry

	selectionsTotal   *prometheus.CounterVec
	selectionTokens   prometheus.Histogram
	selectionItems    prometheus.Histogram
	selectionDuration *prometheus.HistogramVec
	stepsTotal        *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector registers the selection metrics under namespace (e.g. "uictx").
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	c := &Collector{
		registry: reg,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	c.selectionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "selections_total",
			Help:      "Total number of context selections",
		},
		[]string{"policy", "outcome"},
	)

	c.selectionTokens = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "selection_tokens",
			Help:      "Tokens spent per selection",
			Buckets:   prometheus.ExponentialBuckets(16, 2, 10),
		},
	)

	c.selectionItems = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "selection_items",
			Help:      "Nodes selected per selection",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	c.selectionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "selection_duration_seconds",
			Help:      "Selection duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"policy"},
	)

	c.stepsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traversal_steps_total",
			Help:      "Traversal decisions by action",
		},
		[]string{"action"},
	)

	return c
}

// Registry returns the registry the collector writes to.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordSelection records one Select call.
func (c *Collector) RecordSelection(policy selection.Policy, res *selection.Result, err error, duration time.Duration) {
	outcome := Outcome(err)
	c.selectionsTotal.WithLabelValues(policy.String(), outcome).Inc()
	c.selectionDuration.WithLabelValues(policy.String()).Observe(duration.Seconds())
	if res != nil && outcome != OutcomeInvalid {
		c.selectionTokens.Observe(float64(res.TotalTokens))
		c.selectionItems.Observe(float64(len(res.Items)))
	}
	c.logger.Debug("selection recorded",
		zap.String("policy", policy.String()),
		zap.String("outcome", outcome),
		zap.Duration("duration", duration))
}

// Outcome classifies a Select error into a metric label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, selection.ErrCancelled):
		return OutcomeCancelled
	case errors.Is(err, selection.ErrInvalidBudget),
		errors.Is(err, selection.ErrNoAnchors),
		errors.Is(err, selection.ErrNilAnchor):
		return OutcomeInvalid
	default:
		return OutcomeError
	}
}

// Observer returns a traversal observer that counts steps by action.
func (c *Collector) Observer() recorder.Observer { return stepCounter{c} }

type stepCounter struct{ c *Collector }

func (stepCounter) RegisterNode(recorder.NodeRecord) {}
func (stepCounter) RegisterEdge(string, string)      {}

func (s stepCounter) RecordStep(step recorder.StepRecord) {
	s.c.stepsTotal.WithLabelValues(string(step.Action)).Inc()
}
