// Package metrics holds the Prometheus collectors for the bot.
//
// All methods are safe to call on a nil *Collector, so components can be
// built without metrics in tests and one-shot CLI commands.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Publish outcomes.
const (
	OutcomePublished = "published"
	OutcomePartial   = "partial"
	OutcomeFailed    = "failed"
	OutcomeEmpty     = "empty"
	OutcomeDryRun    = "dry_run"
)

// Collector groups the bot's metrics.
type Collector struct {
	gatherer prometheus.Gatherer

	publishRuns         *prometheus.CounterVec
	postSubmissions     *prometheus.CounterVec
	schedulerArmed      prometheus.Gauge
	schedulerFires      prometheus.Counter
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg. A nil reg uses a
// fresh private registry.
func New(reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	c := &Collector{gatherer: reg}

	c.publishRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roadtrip_publish_runs_total",
			Help: "Publish operations by outcome",
		},
		[]string{"outcome"},
	)
	c.postSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roadtrip_post_submissions_total",
			Help: "Split posts sent to Tumblr by post kind and result",
		},
		[]string{"kind", "result"},
	)
	c.schedulerArmed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "roadtrip_scheduler_armed",
			Help: "1 while a daily post timer is pending",
		},
	)
	c.schedulerFires = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "roadtrip_scheduler_fires_total",
			Help: "Number of times the daily post timer fired",
		},
	)
	c.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roadtrip_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
	c.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roadtrip_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	reg.MustRegister(
		c.publishRuns,
		c.postSubmissions,
		c.schedulerArmed,
		c.schedulerFires,
		c.httpRequestsTotal,
		c.httpRequestDuration,
	)
	return c
}

// PublishRun counts one publish operation.
func (c *Collector) PublishRun(outcome string) {
	if c == nil {
		return
	}
	c.publishRuns.WithLabelValues(outcome).Inc()
}

// PostSubmitted counts one split post submission.
func (c *Collector) PostSubmitted(kind string, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.postSubmissions.WithLabelValues(kind, result).Inc()
}

// SetArmed records whether the scheduler has a pending timer.
func (c *Collector) SetArmed(armed bool) {
	if c == nil {
		return
	}
	if armed {
		c.schedulerArmed.Set(1)
	} else {
		c.schedulerArmed.Set(0)
	}
}

// SchedulerFired counts one timer fire.
func (c *Collector) SchedulerFired() {
	if c == nil {
		return
	}
	c.schedulerFires.Inc()
}

// Middleware records request counts and durations per chi route pattern.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	if c == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		c.httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		c.httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registered metrics.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
