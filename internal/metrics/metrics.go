// Package metrics exposes Prometheus instrumentation for the sync service.
// Collectors are package-level promauto vars so callers record without
// plumbing a registry through every constructor.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "soulsync_http_requests_total",
		Help: "Total number of HTTP requests processed.",
	}, []string{"method", "route"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "soulsync_http_request_duration_seconds",
		Help:    "Histogram of latencies for HTTP requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	extractionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "soulsync_extractions_total",
		Help: "Extraction jobs by platform and outcome.",
	}, []string{"platform", "outcome"})

	extractionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "soulsync_extraction_duration_seconds",
		Help:    "Histogram of extraction job durations.",
		Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"platform"})

	dataPointsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "soulsync_data_points_total",
		Help: "Soul data points persisted, by platform.",
	}, []string{"platform"})

	tokenRefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "soulsync_token_refreshes_total",
		Help: "Token refresh attempts by platform and outcome.",
	}, []string{"platform", "outcome"})

	webhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "soulsync_webhook_deliveries_total",
		Help: "Inbound webhook deliveries by platform and verdict.",
	}, []string{"platform", "verdict"})

	activeChannels = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "soulsync_active_channels",
		Help: "Currently open notification channels (WebSocket and SSE).",
	})

	jobsReapedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "soulsync_jobs_reaped_total",
		Help: "Running jobs force-failed by the reaper.",
	})
)

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latencies keyed by the mux route
// template so per-user paths do not explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		httpRequestsTotal.WithLabelValues(r.Method, route).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).
			Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack keeps WebSocket upgrades working through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}

// Flush keeps SSE streaming working through the middleware.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// ObserveExtraction records one finished extraction attempt.
func ObserveExtraction(platform, outcome string, started time.Time) {
	extractionsTotal.WithLabelValues(platform, outcome).Inc()
	extractionDuration.WithLabelValues(platform).Observe(time.Since(started).Seconds())
}

// AddDataPoints counts persisted signals.
func AddDataPoints(platform string, n int) {
	if n > 0 {
		dataPointsTotal.WithLabelValues(platform).Add(float64(n))
	}
}

// ObserveTokenRefresh records a refresh attempt outcome
// ("refreshed", "failed", "needs_reauth").
func ObserveTokenRefresh(platform, outcome string) {
	tokenRefreshesTotal.WithLabelValues(platform, outcome).Inc()
}

// ObserveWebhook records an inbound delivery verdict
// ("accepted", "rejected", "duplicate").
func ObserveWebhook(platform, verdict string) {
	webhookDeliveriesTotal.WithLabelValues(platform, verdict).Inc()
}

// ChannelOpened / ChannelClosed track live notification channels.
func ChannelOpened() { activeChannels.Inc() }

// ChannelClosed decrements the live channel gauge.
func ChannelClosed() { activeChannels.Dec() }

// AddReapedJobs counts stale jobs force-failed by the reaper.
func AddReapedJobs(n int) {
	if n > 0 {
		jobsReapedTotal.Add(float64(n))
	}
}
