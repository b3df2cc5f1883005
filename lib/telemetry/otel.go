// Package telemetry provides OpenTelemetry initialization for twapd
// binaries. Only metrics are exported; a disabled provider degrades to the
// global noop meter so instrumented code never branches on telemetry state.
package telemetry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.32.0"

	"github.com/quantfabric/twapd/internal/observability"
)

const serviceVersion = "1.0.0"

// Config defines OpenTelemetry configuration parameters.
type Config struct {
	Enabled         bool
	OTLPEndpoint    string
	OTLPInsecure    bool
	MetricInterval  time.Duration
	ShutdownTimeout time.Duration
	ServiceName     string
	Environment     string
}

// Provider manages the OpenTelemetry meter provider (metrics only).
type Provider struct {
	meterProvider *sdkmetric.MeterProvider
	config        Config
}

// NewProvider initializes a telemetry provider. A disabled config or an
// empty endpoint yields a provider backed by the global noop meter.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.MetricInterval <= 0 {
		cfg.MetricInterval = 30 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	if !cfg.Enabled || strings.TrimSpace(cfg.OTLPEndpoint) == "" {
		return &Provider{meterProvider: nil, config: cfg}, nil
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	mp, err := newMeterProvider(ctx, res, cfg)
	if err != nil {
		return nil, fmt.Errorf("create meter provider: %w", err)
	}
	otel.SetMeterProvider(mp)
	return &Provider{meterProvider: mp, config: cfg}, nil
}

// Shutdown flushes and stops the meter provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.meterProvider == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.config.ShutdownTimeout)
	defer cancel()
	if err := p.meterProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown meter: %w", err)
	}
	return nil
}

// Meter returns a meter with the given name.
func (p *Provider) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if p.meterProvider == nil {
		return otel.Meter(name, opts...)
	}
	return p.meterProvider.Meter(name, opts...)
}

func newResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	attrs := []resource.Option{
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(serviceVersion),
		),
	}
	if cfg.Environment != "" {
		attrs = append(attrs, resource.WithAttributes(
			attribute.String("environment", strings.ToLower(cfg.Environment)),
		))
	}
	attrs = append(attrs, resource.WithProcessRuntimeName())
	attrs = append(attrs, resource.WithProcessRuntimeVersion())
	attrs = append(attrs, resource.WithHost())
	res, err := resource.New(ctx, attrs...)
	if err != nil {
		return nil, fmt.Errorf("create telemetry resource: %w", err)
	}
	return res, nil
}

func newMeterProvider(ctx context.Context, res *resource.Resource, cfg Config) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(stripScheme(cfg.OTLPEndpoint)),
	}
	if cfg.OTLPInsecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}

	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(cfg.MetricInterval),
		)),
	), nil
}

// stripScheme removes the http:// or https:// prefix from an endpoint URL.
// OTLP HTTP exporters expect host:port, not a full URL with scheme.
func stripScheme(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")
	return endpoint
}

// MetricsAdapter bridges the engine's metrics surface onto an OpenTelemetry
// meter. Instruments are created lazily and cached per name.
type MetricsAdapter struct {
	meter metric.Meter

	mu       sync.Mutex
	counters map[string]metric.Float64Counter
	gauges   map[string]metric.Float64Gauge
}

// NewMetricsAdapter builds an adapter recording through the given meter.
func NewMetricsAdapter(meter metric.Meter) *MetricsAdapter {
	a := new(MetricsAdapter)
	a.meter = meter
	a.counters = make(map[string]metric.Float64Counter)
	a.gauges = make(map[string]metric.Float64Gauge)
	return a
}

// IncCounter adds value to the named counter.
func (a *MetricsAdapter) IncCounter(name string, value float64, labels map[string]string) {
	a.mu.Lock()
	counter, ok := a.counters[name]
	if !ok {
		var err error
		counter, err = a.meter.Float64Counter(name)
		if err != nil {
			a.mu.Unlock()
			return
		}
		a.counters[name] = counter
	}
	a.mu.Unlock()
	counter.Add(context.Background(), value, metric.WithAttributes(toAttributes(labels)...))
}

// SetGauge records the latest value for the named gauge.
func (a *MetricsAdapter) SetGauge(name string, value float64, labels map[string]string) {
	a.mu.Lock()
	gauge, ok := a.gauges[name]
	if !ok {
		var err error
		gauge, err = a.meter.Float64Gauge(name)
		if err != nil {
			a.mu.Unlock()
			return
		}
		a.gauges[name] = gauge
	}
	a.mu.Unlock()
	gauge.Record(context.Background(), value, metric.WithAttributes(toAttributes(labels)...))
}

func toAttributes(labels map[string]string) []attribute.KeyValue {
	if len(labels) == 0 {
		return nil
	}
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for key, value := range labels {
		attrs = append(attrs, attribute.String(key, value))
	}
	return attrs
}

var _ observability.Metrics = (*MetricsAdapter)(nil)
