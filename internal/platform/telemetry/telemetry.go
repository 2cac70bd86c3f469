package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// ShutdownFunc releases telemetry resources.
type ShutdownFunc func(ctx context.Context) error

// Setup initializes OpenTelemetry with a Prometheus exporter.
// Returns a shutdown function that must be called on exit.
func Setup(ctx context.Context, serviceName string) (ShutdownFunc, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	return provider.Shutdown, nil
}

// MetricsHandler returns an http.Handler that serves Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// Metrics holds all OTel instruments for the authentication pipeline.
// Every Record method is safe to call on a nil *Metrics.
type Metrics struct {
	httpRequestsTotal     otelmetric.Int64Counter
	httpRequestDuration   otelmetric.Float64Histogram
	authAttemptsTotal     otelmetric.Int64Counter
	authDuration          otelmetric.Float64Histogram
	filterDecisionsTotal  otelmetric.Int64Counter
	rememberMeTotal       otelmetric.Int64Counter
	cacheLookupsTotal     otelmetric.Int64Counter
	jwksRefreshesTotal    otelmetric.Int64Counter
	throttleDecisionTotal otelmetric.Int64Counter
	proxyRequestsTotal    otelmetric.Int64Counter
	proxyDuration         otelmetric.Float64Histogram
}

// NewMetrics creates and registers all metrics.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("authgate")
	m := &Metrics{}
	var err error

	latencyBuckets := otelmetric.WithExplicitBucketBoundaries(
		0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0,
	)

	if m.httpRequestsTotal, err = meter.Int64Counter("authgate_http_requests_total",
		otelmetric.WithDescription("Total HTTP requests")); err != nil {
		return nil, fmt.Errorf("creating http_requests_total: %w", err)
	}
	if m.httpRequestDuration, err = meter.Float64Histogram("authgate_http_request_duration_seconds",
		otelmetric.WithDescription("HTTP request duration"), latencyBuckets); err != nil {
		return nil, fmt.Errorf("creating http_request_duration: %w", err)
	}
	if m.authAttemptsTotal, err = meter.Int64Counter("authgate_auth_attempts_total",
		otelmetric.WithDescription("Credential source verifications by source and result")); err != nil {
		return nil, fmt.Errorf("creating auth_attempts_total: %w", err)
	}
	if m.authDuration, err = meter.Float64Histogram("authgate_auth_duration_seconds",
		otelmetric.WithDescription("Credential verification duration"), latencyBuckets); err != nil {
		return nil, fmt.Errorf("creating auth_duration: %w", err)
	}
	if m.filterDecisionsTotal, err = meter.Int64Counter("authgate_filter_decisions_total",
		otelmetric.WithDescription("Filter outcomes by filter name")); err != nil {
		return nil, fmt.Errorf("creating filter_decisions_total: %w", err)
	}
	if m.rememberMeTotal, err = meter.Int64Counter("authgate_rememberme_resolutions_total",
		otelmetric.WithDescription("Remember-me cookie resolutions")); err != nil {
		return nil, fmt.Errorf("creating rememberme_resolutions_total: %w", err)
	}
	if m.cacheLookupsTotal, err = meter.Int64Counter("authgate_verification_cache_lookups_total",
		otelmetric.WithDescription("Verification cache lookups")); err != nil {
		return nil, fmt.Errorf("creating verification_cache_lookups_total: %w", err)
	}
	if m.jwksRefreshesTotal, err = meter.Int64Counter("authgate_jwks_refreshes_total",
		otelmetric.WithDescription("Total JWKS refreshes")); err != nil {
		return nil, fmt.Errorf("creating jwks_refreshes_total: %w", err)
	}
	if m.throttleDecisionTotal, err = meter.Int64Counter("authgate_throttle_decisions_total",
		otelmetric.WithDescription("Total throttle decisions")); err != nil {
		return nil, fmt.Errorf("creating throttle_decisions_total: %w", err)
	}
	if m.proxyRequestsTotal, err = meter.Int64Counter("authgate_proxy_requests_total",
		otelmetric.WithDescription("Total upstream proxy requests")); err != nil {
		return nil, fmt.Errorf("creating proxy_requests_total: %w", err)
	}
	if m.proxyDuration, err = meter.Float64Histogram("authgate_proxy_duration_seconds",
		otelmetric.WithDescription("Upstream proxy request duration"), latencyBuckets); err != nil {
		return nil, fmt.Errorf("creating proxy_duration: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request metric.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, durationSec float64) {
	if m == nil {
		return
	}
	attrs := otelmetric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(status),
	)
	m.httpRequestsTotal.Add(ctx, 1, attrs)
	m.httpRequestDuration.Record(ctx, durationSec, attrs)
}

// RecordAuthAttempt records one credential source verification.
func (m *Metrics) RecordAuthAttempt(ctx context.Context, source, result string, durationSec float64) {
	if m == nil {
		return
	}
	attrs := otelmetric.WithAttributes(sourceAttr(source), resultAttr(result))
	m.authAttemptsTotal.Add(ctx, 1, attrs)
	m.authDuration.Record(ctx, durationSec, attrs)
}

// RecordFilterDecision records the outcome of a named filter.
func (m *Metrics) RecordFilterDecision(ctx context.Context, filter, result string) {
	if m == nil {
		return
	}
	m.filterDecisionsTotal.Add(ctx, 1, otelmetric.WithAttributes(filterAttr(filter), resultAttr(result)))
}

// RecordRememberMe records a remember-me cookie resolution.
func (m *Metrics) RecordRememberMe(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.rememberMeTotal.Add(ctx, 1, otelmetric.WithAttributes(resultAttr(result)))
}

// RecordCacheLookup records a verification cache hit or miss.
func (m *Metrics) RecordCacheLookup(ctx context.Context, source, result string) {
	if m == nil {
		return
	}
	m.cacheLookupsTotal.Add(ctx, 1, otelmetric.WithAttributes(sourceAttr(source), resultAttr(result)))
}

// RecordJWKSRefresh records a JWKS refresh attempt.
func (m *Metrics) RecordJWKSRefresh(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.jwksRefreshesTotal.Add(ctx, 1, otelmetric.WithAttributes(resultAttr(result)))
}

// RecordThrottleDecision records a throttle decision.
func (m *Metrics) RecordThrottleDecision(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.throttleDecisionTotal.Add(ctx, 1, otelmetric.WithAttributes(resultAttr(result)))
}

// RecordProxyRequest records a request forwarded upstream.
func (m *Metrics) RecordProxyRequest(ctx context.Context, upstream string, status int, durationSec float64) {
	if m == nil {
		return
	}
	attrs := otelmetric.WithAttributes(
		upstreamAttr(upstream),
		statusAttr(status),
	)
	m.proxyRequestsTotal.Add(ctx, 1, attrs)
	m.proxyDuration.Record(ctx, durationSec, attrs)
}
