// Package metrics holds the Prometheus collectors exposed at /metrics.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "codelive"

var (
	// Registry holds the application collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "Current number of in-flight HTTP requests.",
	})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests handled.",
	}, []string{"method", "path", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"method", "path"})

	previewsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "preview",
		Name:      "active",
		Help:      "Previews currently tracked.",
	})

	previewsEnded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "preview",
		Name:      "ended_total",
		Help:      "Previews removed, by reason.",
	}, []string{"reason"})

	previewStartup = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "preview",
		Name:      "startup_seconds",
		Help:      "Time from create until the dev server reported ready.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	sandboxesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "sandbox",
		Name:      "active",
		Help:      "Docker sandboxes currently tracked.",
	})

	sandboxesEnded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sandbox",
		Name:      "ended_total",
		Help:      "Docker sandboxes removed, by reason.",
	}, []string{"reason"})

	deployments = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "deploy",
		Name:      "runs_total",
		Help:      "Deployments attempted.",
	}, []string{"provider", "status"})

	deployDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "deploy",
		Name:      "duration_seconds",
		Help:      "Duration of deployments.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
	}, []string{"provider"})

	aiRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ai",
		Name:      "requests_total",
		Help:      "Model requests, by provider and outcome.",
	}, []string{"provider", "success"})

	aiDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "ai",
		Name:      "request_duration_seconds",
		Help:      "Duration of model requests.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
	}, []string{"provider"})
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		previewsActive,
		previewsEnded,
		previewStartup,
		sandboxesActive,
		sandboxesEnded,
		deployments,
		deployDuration,
		aiRequests,
		aiDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler exposes the registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler records request counts and latency for next.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

// PreviewStarted counts a new preview.
func PreviewStarted() { previewsActive.Inc() }

// PreviewReady records how long a preview took to come up.
func PreviewReady(d time.Duration) { previewStartup.Observe(d.Seconds()) }

// PreviewEnded records a preview leaving the registry. reason is one of
// deleted, expired, failed or shutdown.
func PreviewEnded(reason string) {
	previewsActive.Dec()
	previewsEnded.WithLabelValues(reason).Inc()
}

// SandboxStarted counts a new container sandbox.
func SandboxStarted() { sandboxesActive.Inc() }

// SandboxEnded records a sandbox leaving the registry.
func SandboxEnded(reason string) {
	sandboxesActive.Dec()
	sandboxesEnded.WithLabelValues(reason).Inc()
}

// SetSandboxes resets the sandbox gauge after state is reloaded.
func SetSandboxes(n int) { sandboxesActive.Set(float64(n)) }

// RecordDeployment records one deployment attempt.
func RecordDeployment(provider string, duration time.Duration, err error) {
	status := "succeeded"
	if err != nil {
		status = "failed"
	}
	deployments.WithLabelValues(provider, status).Inc()
	deployDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordAIRequest records one model call.
func RecordAIRequest(provider string, duration time.Duration, err error) {
	if provider == "" {
		provider = "unknown"
	}
	aiRequests.WithLabelValues(provider, strconv.FormatBool(err == nil)).Inc()
	aiDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

// Flush passes streaming writes through.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// canonicalPath collapses ids so label cardinality stays bounded:
// /api/apps/<id>/files becomes /api/apps/:id/files.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) > 4 {
		parts = parts[:4]
	}
	if parts[0] == "api" {
		for i := 2; i < len(parts); i += 2 {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}
