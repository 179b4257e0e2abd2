package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.28.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	ServiceName    = "divorcecast"
	ServiceVersion = "v1.0.0"
	MeterName      = "divorcecast"
)

// OTelConfig holds OpenTelemetry configuration
type OTelConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	TraceExporter  string // "stdout", "none"
	MetricExporter string // "prometheus", "none"
	EnableMetrics  bool
	EnableTracing  bool
	SampleRatio    float64
}

// OTelProviders holds the OpenTelemetry providers
type OTelProviders struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	PrometheusHTTP http.Handler
	Logger         *slog.Logger
}

// DefaultOTelConfig returns a default OpenTelemetry configuration
func DefaultOTelConfig() *OTelConfig {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	return &OTelConfig{
		ServiceName:    ServiceName,
		ServiceVersion: ServiceVersion,
		Environment:    env,
		TraceExporter:  "none",
		MetricExporter: "prometheus",
		EnableMetrics:  true,
		EnableTracing:  true,
		SampleRatio:    1.0,
	}
}

// InitializeOTel initializes tracing and metrics. Disabled signals fall
// back to no-op implementations so callers never nil-check the tracer
// or meter.
func InitializeOTel(cfg *OTelConfig, logger *slog.Logger) (*OTelProviders, error) {
	if cfg == nil {
		cfg = DefaultOTelConfig()
	}
	if logger == nil {
		logger = GetLogger()
	}
	ctx := context.Background()

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironmentName(cfg.Environment),
		semconv.ServiceInstanceID(instanceID()),
	)
	providers := &OTelProviders{
		Tracer: tracenoop.NewTracerProvider().Tracer(MeterName),
		Meter:  noop.NewMeterProvider().Meter(MeterName),
		Logger: logger,
	}

	if cfg.EnableTracing {
		if err := initializeTracing(ctx, cfg, res, providers); err != nil {
			return nil, fmt.Errorf("tracing: %w", err)
		}
	}
	if cfg.EnableMetrics {
		if err := initializeMetrics(ctx, cfg, res, providers); err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	logger.InfoContext(ctx, "OpenTelemetry initialized",
		slog.String("service", cfg.ServiceName),
		slog.String("version", cfg.ServiceVersion),
		slog.String("environment", cfg.Environment),
		slog.Bool("tracing", cfg.EnableTracing),
		slog.Bool("metrics", cfg.EnableMetrics))
	return providers, nil
}

func initializeTracing(ctx context.Context, cfg *OTelConfig, res *resource.Resource, providers *OTelProviders) error {
	switch cfg.TraceExporter {
	case "none", "":
		return nil
	case "stdout":
	default:
		return fmt.Errorf("unsupported trace exporter %q", cfg.TraceExporter)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return fmt.Errorf("stdout trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	otel.SetTracerProvider(tp)
	providers.TracerProvider = tp
	providers.Tracer = tp.Tracer(MeterName, trace.WithInstrumentationVersion(cfg.ServiceVersion))

	providers.Logger.InfoContext(ctx, "tracing enabled",
		slog.String("exporter", cfg.TraceExporter),
		slog.Float64("sample_ratio", cfg.SampleRatio))
	return nil
}

// initializeMetrics installs a meter provider read by the Prometheus
// exporter, which registers with the default registry that promhttp
// serves on /metrics.
func initializeMetrics(ctx context.Context, cfg *OTelConfig, res *resource.Resource, providers *OTelProviders) error {
	switch cfg.MetricExporter {
	case "none", "":
		return nil
	case "prometheus":
	default:
		return fmt.Errorf("unsupported metric exporter %q", cfg.MetricExporter)
	}

	reader, err := prometheus.New()
	if err != nil {
		return fmt.Errorf("prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(reader))
	otel.SetMeterProvider(mp)
	providers.MeterProvider = mp
	providers.Meter = mp.Meter(MeterName, metric.WithInstrumentationVersion(cfg.ServiceVersion))
	providers.PrometheusHTTP = promhttp.Handler()

	providers.Logger.InfoContext(ctx, "metrics enabled", slog.String("exporter", cfg.MetricExporter))
	return nil
}

// BusinessMetrics holds the HTTP and domain instruments.
type BusinessMetrics struct {
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram
	HTTPActiveRequests  metric.Int64UpDownCounter

	ForecastFitsTotal   metric.Int64Counter
	ForecastFitDuration metric.Float64Histogram
	TuneTrials          metric.Int64Counter

	CacheLookups   metric.Int64Counter
	LoadFailures   metric.Int64Counter
	DatasetChanges metric.Int64Counter
	RegionQueries  metric.Int64Counter

	WebSocketClients metric.Int64UpDownCounter
	WebSocketEvents  metric.Int64Counter

	SystemErrors metric.Int64Counter
}

// instrumentSet creates instruments on one meter and keeps every
// registration error.
type instrumentSet struct {
	meter metric.Meter
	err   error
}

func (s *instrumentSet) counter(name, desc string) metric.Int64Counter {
	c, err := s.meter.Int64Counter(name, metric.WithDescription(desc))
	s.err = errors.Join(s.err, err)
	return c
}

func (s *instrumentSet) gauge(name, desc string) metric.Int64UpDownCounter {
	g, err := s.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	s.err = errors.Join(s.err, err)
	return g
}

func (s *instrumentSet) seconds(name, desc string) metric.Float64Histogram {
	h, err := s.meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("s"))
	s.err = errors.Join(s.err, err)
	return h
}

// CreateBusinessMetrics registers every instrument on meter.
func CreateBusinessMetrics(meter metric.Meter) (*BusinessMetrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter(MeterName)
	}
	set := &instrumentSet{meter: meter}

	m := &BusinessMetrics{
		HTTPRequestsTotal:   set.counter("http_requests_total", "HTTP requests by method, route and status"),
		HTTPRequestDuration: set.seconds("http_request_duration_seconds", "HTTP request latency"),
		HTTPActiveRequests:  set.gauge("http_active_requests", "In-flight HTTP requests"),

		ForecastFitsTotal:   set.counter("forecast_fits_total", "Model fits by model and status"),
		ForecastFitDuration: set.seconds("forecast_fit_duration_seconds", "Model fit and predict latency"),
		TuneTrials:          set.counter("forecast_tune_trials_total", "Hyperparameter trials evaluated"),

		CacheLookups:   set.counter("cache_lookups_total", "Memoization lookups by namespace and result"),
		LoadFailures:   set.counter("data_load_failures_total", "Failed dataset loads by file and error type"),
		DatasetChanges: set.counter("dataset_changes_total", "Dataset file changes observed by the watcher"),
		RegionQueries:  set.counter("region_queries_total", "Regional aggregation queries by scheme"),

		WebSocketClients: set.gauge("websocket_clients", "Connected WebSocket clients"),
		WebSocketEvents:  set.counter("websocket_events_total", "Events broadcast to WebSocket clients by type"),

		SystemErrors: set.counter("system_errors_total", "Unexpected failures by component"),
	}
	if set.err != nil {
		return nil, fmt.Errorf("register instruments: %w", set.err)
	}
	return m, nil
}

// Shutdown flushes and stops the tracer and meter providers.
func (p *OTelProviders) Shutdown(ctx context.Context) error {
	var err error
	if p.TracerProvider != nil {
		err = errors.Join(err, p.TracerProvider.Shutdown(ctx))
	}
	if p.MeterProvider != nil {
		err = errors.Join(err, p.MeterProvider.Shutdown(ctx))
	}
	if err != nil {
		return fmt.Errorf("otel shutdown: %w", err)
	}
	p.Logger.InfoContext(ctx, "OpenTelemetry shut down")
	return nil
}

// instanceID distinguishes replicas on the same host across restarts.
func instanceID() string {
	host, _ := os.Hostname()
	return host + "-" + strconv.FormatInt(time.Now().Unix(), 10)
}

// TraceIDFromContext returns the active span's trace ID, or "".
func TraceIDFromContext(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		return sc.TraceID().String()
	}
	return ""
}

// recording returns the span in ctx, or nil when it is not sampled.
func recording(ctx context.Context) trace.Span {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		return span
	}
	return nil
}

// AddSpanEvent adds a named event to the current span.
func AddSpanEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	if span := recording(ctx); span != nil {
		span.AddEvent(name, trace.WithAttributes(toAttributes(attributes)...))
	}
}

// RecordError marks the current span failed with err.
func RecordError(ctx context.Context, err error, options ...trace.EventOption) {
	if span := recording(ctx); span != nil {
		span.RecordError(err, options...)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanAttributes sets attributes on the current span.
func SetSpanAttributes(ctx context.Context, attributes map[string]interface{}) {
	if span := recording(ctx); span != nil {
		span.SetAttributes(toAttributes(attributes)...)
	}
}

func toAttributes(attributes map[string]interface{}) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(attributes))
	for k, v := range attributes {
		var kv attribute.KeyValue
		switch val := v.(type) {
		case string:
			kv = attribute.String(k, val)
		case int:
			kv = attribute.Int(k, val)
		case int64:
			kv = attribute.Int64(k, val)
		case float64:
			kv = attribute.Float64(k, val)
		case bool:
			kv = attribute.Bool(k, val)
		default:
			kv = attribute.String(k, fmt.Sprint(val))
		}
		attrs = append(attrs, kv)
	}
	return attrs
}

func statusAttr(err error) attribute.KeyValue {
	if err != nil {
		return attribute.String("status", "failure")
	}
	return attribute.String("status", "success")
}

// RecordFitMetrics records one fit-and-predict run of a model.
func RecordFitMetrics(ctx context.Context, metrics *BusinessMetrics, model string, duration time.Duration, err error) {
	if metrics == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("model", model),
		statusAttr(err),
	)
	metrics.ForecastFitsTotal.Add(ctx, 1, attrs)
	metrics.ForecastFitDuration.Record(ctx, duration.Seconds(), attrs)

	if err != nil {
		metrics.SystemErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("component", "forecast"),
			attribute.String("error.type", fmt.Sprintf("%T", err)),
		))
	}
}

// RecordTuneTrial records one hyperparameter trial.
func RecordTuneTrial(ctx context.Context, metrics *BusinessMetrics, err error) {
	if metrics == nil {
		return
	}
	metrics.TuneTrials.Add(ctx, 1, metric.WithAttributes(statusAttr(err)))
}

// RecordCacheLookup records a memoization hit or miss.
func RecordCacheLookup(ctx context.Context, metrics *BusinessMetrics, namespace string, hit bool) {
	if metrics == nil {
		return
	}

	result := "miss"
	if hit {
		result = "hit"
	}
	metrics.CacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("namespace", namespace),
		attribute.String("result", result),
	))
}

// RecordLoadFailure records a dataset that could not be loaded.
func RecordLoadFailure(ctx context.Context, metrics *BusinessMetrics, file, errorType string) {
	if metrics == nil {
		return
	}
	metrics.LoadFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("file", file),
		attribute.String("error.type", errorType),
	))
}

// RecordDatasetChange records a watched dataset file being rewritten.
func RecordDatasetChange(ctx context.Context, metrics *BusinessMetrics, file string) {
	if metrics == nil {
		return
	}
	metrics.DatasetChanges.Add(ctx, 1, metric.WithAttributes(attribute.String("file", file)))
}

// RecordRegionQuery records a regional aggregation request.
func RecordRegionQuery(ctx context.Context, metrics *BusinessMetrics, scheme string) {
	if metrics == nil {
		return
	}
	metrics.RegionQueries.Add(ctx, 1, metric.WithAttributes(attribute.String("scheme", scheme)))
}

// RecordWebSocketClient adjusts the connected client gauge by delta.
func RecordWebSocketClient(ctx context.Context, metrics *BusinessMetrics, delta int64) {
	if metrics == nil {
		return
	}
	metrics.WebSocketClients.Add(ctx, delta)
}

// RecordWebSocketEvent records one broadcast event.
func RecordWebSocketEvent(ctx context.Context, metrics *BusinessMetrics, eventType string) {
	if metrics == nil {
		return
	}
	metrics.WebSocketEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}
