// Package prom registers and serves the engine's prometheus metrics. All
// metrics are best-effort: a nil-safe no-op before Create is called, so unit
// tests and the migrate binary never need a metrics setup.
package prom

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	xhttp "github.com/tenantops/announcer/pkg/http"
)

var (
	mu       sync.Mutex
	enabled  bool
	registry *prometheus.Registry

	fanoutRuns        *prometheus.CounterVec
	deliveries        *prometheus.CounterVec
	finalized         *prometheus.CounterVec
	watchPolls        prometheus.Counter
	watchExpired      prometheus.Counter
	deliveryDuration  prometheus.Histogram
	recipientsPlanned prometheus.Histogram
)

// Create initializes the registry with default labels. Safe to call once per
// process; later calls are no-ops.
func Create(instance, env, namespace string) error {
	mu.Lock()
	defer mu.Unlock()
	if enabled {
		return nil
	}

	labels := prometheus.Labels{"env": env, "instance": instance}
	registry = prometheus.NewRegistry()

	fanoutRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "fanout_runs_total",
		Help:        "Fan-out coordinator runs by outcome.",
		ConstLabels: labels,
	}, []string{"outcome"})

	deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "deliveries_total",
		Help:        "Per-recipient delivery attempts by result.",
		ConstLabels: labels,
	}, []string{"result"})

	finalized = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "announcements_finalized_total",
		Help:        "Announcements reaching a terminal status.",
		ConstLabels: labels,
	}, []string{"status"})

	watchPolls = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "watch_polls_total",
		Help:        "Completion watcher poll executions.",
		ConstLabels: labels,
	})

	watchExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "watch_expired_total",
		Help:        "Watcher cutoffs that force-finalized a stuck announcement.",
		ConstLabels: labels,
	})

	deliveryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   namespace,
		Name:        "delivery_duration_seconds",
		Help:        "Transport send latency.",
		ConstLabels: labels,
		Buckets:     prometheus.DefBuckets,
	})

	recipientsPlanned = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   namespace,
		Name:        "fanout_recipients",
		Help:        "Recipients produced per fan-out.",
		ConstLabels: labels,
		Buckets:     []float64{0, 1, 10, 50, 100, 500, 1000, 5000, 10000},
	})

	registry.MustRegister(
		fanoutRuns, deliveries, finalized,
		watchPolls, watchExpired,
		deliveryDuration, recipientsPlanned,
	)

	enabled = true
	return nil
}

func ObserveFanoutRun(outcome string) {
	if enabled {
		fanoutRuns.WithLabelValues(outcome).Inc()
	}
}

func ObserveDelivery(result string) {
	if enabled {
		deliveries.WithLabelValues(result).Inc()
	}
}

func ObserveFinalized(status string) {
	if enabled {
		finalized.WithLabelValues(status).Inc()
	}
}

func ObserveWatchPoll() {
	if enabled {
		watchPolls.Inc()
	}
}

func ObserveWatchExpired() {
	if enabled {
		watchExpired.Inc()
	}
}

func ObserveDeliveryDuration(seconds float64) {
	if enabled {
		deliveryDuration.Observe(seconds)
	}
}

func ObserveFanoutSize(n int) {
	if enabled {
		recipientsPlanned.Observe(float64(n))
	}
}

// ListenAndServe runs a dedicated metrics listener, for binaries that have
// no HTTP surface of their own.
func ListenAndServe(addr, path string) error {
	r := xhttp.NewRouter()
	r.GET(path, Handler())
	srv := &fasthttp.Server{
		Name:    "metrics",
		Handler: r.Handler,
	}
	return srv.ListenAndServe(addr)
}

// Handler returns a fasthttp handler serving the exposition format, for
// mounting at /metrics on the ops server.
func Handler() xhttp.RequestHandler {
	if !enabled {
		return func(ctx *xhttp.RequestCtx) {
			ctx.Error("metrics disabled", xhttp.StatusNotFound)
		}
	}
	h := fasthttpadaptor.NewFastHTTPHandler(
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	)
	return func(ctx *fasthttp.RequestCtx) { h(ctx) }
}
