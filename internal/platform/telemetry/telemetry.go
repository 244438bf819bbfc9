// Package telemetry exposes kiosk metrics in the Prometheus format. HTTP
// traffic is recorded by an echo middleware; wizard, QR scan and ID capture
// outcomes arrive through the domain observer interfaces the provider
// implements.
package telemetry

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "clicare_kiosk"

// TelemetryConfig holds all configuration for the telemetry provider.
type TelemetryConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// MetricsEnabled turns the HTTP middleware off when false. nil means on.
	MetricsEnabled *bool
}

func (c *TelemetryConfig) metricsOn() bool {
	if c.MetricsEnabled == nil {
		return true
	}
	return *c.MetricsEnabled
}

func (c *TelemetryConfig) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "clicare-kiosk"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "0.0.0"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
}

// BoolPtr is a helper to create a *bool for TelemetryConfig fields.
func BoolPtr(b bool) *bool {
	return &b
}

var defaultDurationBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// TelemetryProvider owns the kiosk metric registry.
type TelemetryProvider struct {
	cfg      TelemetryConfig
	registry *prometheus.Registry
	factory  promauto.Factory

	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	httpInFlight   prometheus.Gauge
	submissions    *prometheus.CounterVec
	duplicateCheck *prometheus.CounterVec
	qrScans        *prometheus.CounterVec
	ocrCaptures    *prometheus.CounterVec
}

// NewTelemetryProvider registers the kiosk metrics and the Go runtime and
// process collectors.
func NewTelemetryProvider(cfg TelemetryConfig) *TelemetryProvider {
	cfg.applyDefaults()
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(prometheus.WrapRegistererWith(prometheus.Labels{
		"service": cfg.ServiceName,
		"env":     cfg.Environment,
	}, reg))

	tp := &TelemetryProvider{cfg: cfg, registry: reg, factory: f}

	tp.httpRequests = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"method", "route", "status"})
	tp.httpDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   defaultDurationBuckets,
	}, []string{"method", "route"})
	tp.httpInFlight = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "http_requests_in_flight",
		Help:      "Number of HTTP requests currently being processed.",
	})
	tp.submissions = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "submissions_total",
		Help:      "Wizard submissions by flow and outcome.",
	}, []string{"flow", "outcome"})
	tp.duplicateCheck = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "duplicate_checks_total",
		Help:      "Duplicate checks by outcome.",
	}, []string{"outcome"})
	tp.qrScans = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "qr_scans_total",
		Help:      "QR scan sessions by outcome.",
	}, []string{"outcome"})
	tp.ocrCaptures = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ocr_captures_total",
		Help:      "ID captures by outcome.",
	}, []string{"outcome"})
	return tp
}

// Registry returns the provider's registry.
func (tp *TelemetryProvider) Registry() *prometheus.Registry { return tp.registry }

// Resource describes the service the metrics belong to.
func (tp *TelemetryProvider) Resource() map[string]string {
	return map[string]string{
		"service.name":           tp.cfg.ServiceName,
		"service.version":        tp.cfg.ServiceVersion,
		"deployment.environment": tp.cfg.Environment,
	}
}

// GaugeFunc registers a gauge read from fn at scrape time.
func (tp *TelemetryProvider) GaugeFunc(name, help string, fn func() float64) {
	tp.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn)
}

// ObserveSubmission counts a submit attempt.
func (tp *TelemetryProvider) ObserveSubmission(flow, outcome string) {
	tp.submissions.WithLabelValues(flow, outcome).Inc()
}

// ObserveDuplicateCheck counts a duplicate check result.
func (tp *TelemetryProvider) ObserveDuplicateCheck(outcome string) {
	tp.duplicateCheck.WithLabelValues(outcome).Inc()
}

// ObserveQRScan counts a finished QR scan session.
func (tp *TelemetryProvider) ObserveQRScan(outcome string) {
	tp.qrScans.WithLabelValues(outcome).Inc()
}

// ObserveOCR counts a finished ID capture.
func (tp *TelemetryProvider) ObserveOCR(outcome string) {
	tp.ocrCaptures.WithLabelValues(outcome).Inc()
}

// MetricsMiddleware records HTTP server metrics labelled by route pattern.
func (tp *TelemetryProvider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !tp.cfg.metricsOn() {
				return next(c)
			}

			tp.httpInFlight.Inc()
			defer tp.httpInFlight.Dec()
			start := time.Now()

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			tp.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			tp.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// PrometheusHandler serves the registry at /metrics.
func (tp *TelemetryProvider) PrometheusHandler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(tp.registry, promhttp.HandlerOpts{}))
}
