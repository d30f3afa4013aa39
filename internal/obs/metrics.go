package obs

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	authLoginTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_login_total",
			Help: "Login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	otpIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_otp_issued_total",
		Help: "Password reset codes issued.",
	})

	otpDeliveryFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_otp_delivery_failures_total",
		Help: "Password reset codes that could not be handed to the mailer.",
	})

	passwordResetTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_password_reset_total",
			Help: "Password reset attempts by outcome.",
		},
		[]string{"outcome"},
	)

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "learnhub_ready",
		Help: "1 when the last readiness probe passed.",
	})

	accessDeniedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_access_denied_total",
			Help: "Requests rejected by access control, by reason.",
		},
		[]string{"reason"},
	)
)

// Init registers the metrics in the default registry. Safe to call repeatedly.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			authLoginTotal, otpIssuedTotal, otpDeliveryFailuresTotal,
			passwordResetTotal, accessDeniedTotal, readyGauge,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func Login(outcome string)         { authLoginTotal.WithLabelValues(outcome).Inc() }
func OTPIssued()                   { otpIssuedTotal.Inc() }
func OTPDeliveryFailed()           { otpDeliveryFailuresTotal.Inc() }
func PasswordReset(outcome string) { passwordResetTotal.WithLabelValues(outcome).Inc() }
func AccessDenied(reason string)   { accessDeniedTotal.WithLabelValues(reason).Inc() }

// SetReady records the outcome of the most recent readiness probe.
func SetReady(ok bool) {
	if ok {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

// Instrument records RPS, latency and in-flight requests. Mounted with
// router.Use so the matched route template is available as the path label.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := RouteLabel(r)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// RouteLabel returns the route template ("/v1/roles/{id}") to keep label
// cardinality bounded; unmatched requests collapse to "unmatched".
func RouteLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
