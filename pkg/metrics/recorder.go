package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/psantana5/unit-provisioner/pkg/apierror"
)

// Recorder holds the provisioner's Prometheus metrics. A nil *Recorder
// records nothing.
type Recorder struct {
	stages          *prometheus.CounterVec
	failures        *prometheus.CounterVec
	externalCalls   *prometheus.HistogramVec
	relayDeliveries *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	bytesSent       *prometheus.CounterVec
}

// NewRecorder creates the metrics and registers them with reg
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		stages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provisioner_workflow_stage_total",
				Help: "Workflow stages reached, by run kind",
			},
			[]string{"kind", "stage"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provisioner_workflow_failures_total",
				Help: "Workflow runs that ended with an error, by error kind",
			},
			[]string{"kind", "error_kind"},
		),
		externalCalls: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "provisioner_external_call_duration_seconds",
				Help:    "Latency of calls to the ledger, minter and unit manager",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"target", "operation", "outcome"},
		),
		relayDeliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provisioner_relay_deliveries_total",
				Help: "Best-effort notification deliveries, by outcome",
			},
			[]string{"event", "outcome"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provisioner_http_requests_total",
				Help: "HTTP requests served by the public API",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "provisioner_http_request_duration_seconds",
				Help:    "HTTP request latency of the public API",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		bytesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provisioner_http_response_bytes_total",
				Help: "Total bytes sent in HTTP responses",
			},
			[]string{"method", "route", "status"},
		),
	}

	reg.MustRegister(
		r.stages,
		r.failures,
		r.externalCalls,
		r.relayDeliveries,
		r.httpRequests,
		r.httpDuration,
		r.bytesSent,
	)
	return r
}

// Stage counts a run reaching stage
func (r *Recorder) Stage(kind, stage string) {
	if r == nil {
		return
	}
	r.stages.WithLabelValues(kind, stage).Inc()
}

// Failure counts a run that failed with err
func (r *Recorder) Failure(kind string, err error) {
	if r == nil || err == nil {
		return
	}
	r.failures.WithLabelValues(kind, string(apierror.KindOf(err))).Inc()
}

// ObserveCall records the latency and outcome of one external call
func (r *Recorder) ObserveCall(target, operation string, start time.Time, err error) {
	if r == nil {
		return
	}
	r.externalCalls.WithLabelValues(target, operation, outcome(err)).Observe(time.Since(start).Seconds())
}

// RelayDelivery counts one notification delivery attempt
func (r *Recorder) RelayDelivery(event string, err error) {
	if r == nil {
		return
	}
	r.relayDeliveries.WithLabelValues(event, outcome(err)).Inc()
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(apierror.KindOf(err))
}

// Middleware returns HTTP middleware recording request counts, latency and
// response size. Routes are labelled by their mux template so ids do not
// explode cardinality.
func (r *Recorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if r == nil {
			next.ServeHTTP(w, req)
			return
		}

		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, req)

		route := routeTemplate(req)
		status := fmt.Sprintf("%d", rw.statusCode)
		r.httpRequests.WithLabelValues(req.Method, route, status).Inc()
		r.httpDuration.WithLabelValues(req.Method, route).Observe(time.Since(start).Seconds())
		if rw.bytesWritten > 0 {
			r.bytesSent.WithLabelValues(req.Method, route, status).Add(float64(rw.bytesWritten))
		}
	})
}

func routeTemplate(req *http.Request) string {
	if route := mux.CurrentRoute(req); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// Handler returns the HTTP handler exposing gatherer in the Prometheus format
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

type responseWriter struct {
	http.ResponseWriter
	bytesWritten int
	statusCode   int
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}
