// Package telemetry provides OpenTelemetry integration for traces, metrics
// and logs.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/govcon/shredder/internal/infrastructure/config"
	otelpyroscope "github.com/grafana/otel-profiling-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ServiceVersion is reported on every exported resource.
const ServiceVersion = "1.0.0"

const (
	defaultMetricsInterval = 60 * time.Second
	shutdownTimeout        = 10 * time.Second
)

// Settings configure the OTLP export of all three signals. Traces, metrics
// and logs share one collector endpoint.
type Settings struct {
	Enabled         bool
	Endpoint        string
	Insecure        bool
	ServiceName     string
	SamplingRatio   float64
	MetricsInterval time.Duration
	// Logs additionally ships application logs to the collector
	Logs bool
	// SpanProfiles labels profiler samples with the active span id
	SpanProfiles bool
}

// SettingsFrom maps the telemetry configuration section
func SettingsFrom(cfg config.TelemetryConfig) Settings {
	return Settings{
		Enabled:         cfg.Enabled,
		Endpoint:        cfg.CollectorEndpoint,
		Insecure:        cfg.Insecure,
		ServiceName:     cfg.ServiceName,
		SamplingRatio:   cfg.SamplingRatio,
		MetricsInterval: cfg.MetricsInterval,
		Logs:            cfg.LogsEnabled,
	}
}

// WithSpanProfiles links profiles to spans when continuous profiling is on
func (s Settings) WithSpanProfiles(cfg config.ProfilingConfig) Settings {
	s.SpanProfiles = cfg.Enabled && cfg.SpanProfiles
	return s
}

// Providers owns the SDK providers of the process. When telemetry is
// disabled no provider is created and callers get the global no-op ones.
type Providers struct {
	settings Settings
	logger   *zap.Logger

	tracer *sdktrace.TracerProvider
	// traces is tracer, possibly wrapped for span profiles
	traces trace.TracerProvider
	meter  *sdkmetric.MeterProvider
	logs   *sdklog.LoggerProvider
}

// Setup builds the providers and installs them as the OpenTelemetry globals.
// The gRPC exporters dial lazily, so Setup succeeds without a collector.
func Setup(ctx context.Context, s Settings, logger *zap.Logger) (*Providers, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Providers{settings: s, logger: logger}
	if !s.Enabled {
		logger.Info("Telemetry disabled, using no-op providers")
		return p, nil
	}

	res, err := newResource(s.ServiceName)
	if err != nil {
		return nil, err
	}

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(s.Endpoint)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(s.Endpoint)}
	logOpts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(s.Endpoint)}
	if s.Insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
		logOpts = append(logOpts, otlploggrpc.WithInsecure())
	}

	spanExporter, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}
	p.tracer = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(spanExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(s.SamplingRatio)),
	)

	metricExporter, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		_ = p.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create OTLP metrics exporter: %w", err)
	}
	interval := s.MetricsInterval
	if interval <= 0 {
		interval = defaultMetricsInterval
	}
	p.meter = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(interval))),
	)

	if s.Logs {
		logExporter, err := otlploggrpc.New(ctx, logOpts...)
		if err != nil {
			_ = p.Shutdown(ctx)
			return nil, fmt.Errorf("failed to create OTLP logs exporter: %w", err)
		}
		p.logs = sdklog.NewLoggerProvider(
			sdklog.WithResource(res),
			sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
		)
		global.SetLoggerProvider(p.logs)
	}

	p.traces = p.tracer
	if s.SpanProfiles {
		p.traces = otelpyroscope.NewTracerProvider(p.tracer)
	}
	otel.SetTracerProvider(p.traces)
	otel.SetMeterProvider(p.meter)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("OpenTelemetry initialized",
		zap.String("collector_endpoint", s.Endpoint),
		zap.String("service_name", s.ServiceName),
		zap.Float64("sampling_ratio", s.SamplingRatio),
		zap.Duration("metrics_interval", interval),
		zap.Bool("logs", s.Logs),
		zap.Bool("span_profiles", s.SpanProfiles),
	)
	return p, nil
}

// Enabled reports whether signals are exported
func (p *Providers) Enabled() bool {
	return p.tracer != nil
}

// LogsEnabled reports whether application logs are exported
func (p *Providers) LogsEnabled() bool {
	return p.logs != nil
}

// Settings returns the settings the providers were built from
func (p *Providers) Settings() Settings {
	return p.settings
}

// Tracer returns a named tracer
func (p *Providers) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	if p.traces == nil {
		return otel.GetTracerProvider().Tracer(name, opts...)
	}
	return p.traces.Tracer(name, opts...)
}

// Meter returns a named meter
func (p *Providers) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if p.meter == nil {
		return otel.GetMeterProvider().Meter(name, opts...)
	}
	return p.meter.Meter(name, opts...)
}

// ForceFlush exports everything buffered so far
func (p *Providers) ForceFlush(ctx context.Context) error {
	var errs []error
	if p.tracer != nil {
		errs = append(errs, p.tracer.ForceFlush(ctx))
	}
	if p.meter != nil {
		errs = append(errs, p.meter.ForceFlush(ctx))
	}
	if p.logs != nil {
		errs = append(errs, p.logs.ForceFlush(ctx))
	}
	return errors.Join(errs...)
}

// Shutdown flushes and stops every provider. Logs go last so shutdown
// messages of the other providers still reach the collector.
func (p *Providers) Shutdown(ctx context.Context) error {
	if p.tracer == nil && p.meter == nil && p.logs == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	var errs []error
	if p.tracer != nil {
		if err := p.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider: %w", err))
		}
	}
	if p.meter != nil {
		if err := p.meter.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider: %w", err))
		}
	}
	if p.logs != nil {
		if err := p.logs.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("logger provider: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		p.logger.Error("Error shutting down telemetry", zap.Error(err))
		return err
	}
	p.logger.Info("OpenTelemetry shutdown complete")
	return nil
}

// samplerFor maps a ratio to a parent-based sampler so remote decisions win.
func samplerFor(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1.0:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case ratio <= 0.0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}

func newResource(serviceName string) (*resource.Resource, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}
