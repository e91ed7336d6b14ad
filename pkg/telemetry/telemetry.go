// Package telemetry exposes Prometheus metrics for tsqlcompat.
//
// Every metric starts as a no-op so packages can record unconditionally;
// Init swaps in real collectors registered on a private registry.
package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tsqlcompat"

// Counter is the subset of prometheus.Counter used here.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram is the subset of prometheus.Histogram used here.
type Histogram interface {
	Observe(float64)
}

// CounterVec returns a counter for a label set.
type CounterVec interface {
	With(labels ...string) Counter
}

// NoopStat discards every observation.
type NoopStat struct{}

func (NoopStat) Inc()            {}
func (NoopStat) Add(float64)     {}
func (NoopStat) Observe(float64) {}

type noopCounterVec struct{}

func (noopCounterVec) With(...string) Counter { return NoopStat{} }

type prometheusCounterVec struct {
	vec *prometheus.CounterVec
}

func (p *prometheusCounterVec) With(labelValues ...string) Counter {
	return p.vec.WithLabelValues(labelValues...)
}

// NestingDepthBuckets covers realistic @@TRANCOUNT depths.
var NestingDepthBuckets = []float64{1, 2, 3, 4, 5, 8, 16, 32}

var (
	// TransactionOpsTotal counts transaction-control operations by op and outcome.
	TransactionOpsTotal CounterVec = noopCounterVec{}

	// NestingDepth observes @@TRANCOUNT after each BEGIN TRANSACTION.
	NestingDepth Histogram = NoopStat{}

	// LockAttemptsTotal counts logical-database lock attempts by mode and result.
	LockAttemptsTotal CounterVec = noopCounterVec{}

	// LockReleasesTotal counts releases by mode and whether they were forced.
	LockReleasesTotal CounterVec = noopCounterVec{}

	// SignatureResolutionsTotal counts call-signature resolutions by outcome.
	SignatureResolutionsTotal CounterVec = noopCounterVec{}

	// TemplateRewritesTotal counts template rewrites by kind and result.
	TemplateRewritesTotal CounterVec = noopCounterVec{}

	// ArgumentOverflowsTotal counts calls rejected for too many arguments.
	ArgumentOverflowsTotal Counter = NoopStat{}
)

var (
	mu       sync.Mutex
	registry *prometheus.Registry
)

// Init creates the registry and installs real collectors. Calling it more
// than once is a no-op.
func Init() {
	mu.Lock()
	defer mu.Unlock()
	if registry != nil {
		return
	}

	registry = prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	TransactionOpsTotal = newCounterVec("transaction_ops_total",
		"Transaction-control operations by op and outcome.", []string{"op", "outcome"})
	NestingDepth = newHistogram("transaction_nesting_depth",
		"@@TRANCOUNT observed after BEGIN TRANSACTION.", NestingDepthBuckets)
	LockAttemptsTotal = newCounterVec("lock_attempts_total",
		"Logical-database lock attempts by mode and result.", []string{"mode", "result"})
	LockReleasesTotal = newCounterVec("lock_releases_total",
		"Logical-database lock releases by mode and force flag.", []string{"mode", "forced"})
	SignatureResolutionsTotal = newCounterVec("signature_resolutions_total",
		"Call signature resolutions by outcome.", []string{"outcome"})
	TemplateRewritesTotal = newCounterVec("template_rewrites_total",
		"Statement template rewrites by kind and result.", []string{"kind", "result"})
	ArgumentOverflowsTotal = newCounter("argument_overflows_total",
		"Dynamic calls rejected for exceeding the argument ceiling.")
}

// Handler serves the registry in the Prometheus exposition format. Before
// Init it serves an empty registry.
func Handler() http.Handler {
	mu.Lock()
	defer mu.Unlock()
	if registry == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func newCounter(name, help string) Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	})
	registry.MustRegister(c)
	return c
}

func newCounterVec(name, help string, labels []string) CounterVec {
	v := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, labels)
	registry.MustRegister(v)
	return &prometheusCounterVec{vec: v}
}

func newHistogram(name, help string, buckets []float64) Histogram {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	})
	registry.MustRegister(h)
	return h
}
