// Package obs wraps OpenTelemetry tracing/metrics and log/slog structured
// logging around calls into the pure core (pkg/compiler, pkg/trustreducer,
// pkg/trustsnapshot). None of this package's code runs inside the compiler
// or the reducer themselves — those pure functions permit no network,
// wall-clock, or I/O access, so every span and metric here is recorded
// by the orchestrator wrapping a call, never by the call itself.
package obs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the OpenTelemetry providers an orchestrator stands up
// around the core.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	SampleRate     float64
	BatchTimeout   time.Duration
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns development-friendly defaults: telemetry enabled,
// every span sampled, an insecure local collector.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "truthmesh-core",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        true,
		Insecure:       true,
	}
}

// Provider wraps the trace/metric providers plus the compile/reduce/
// snapshot instrument set used to observe calls into the core.
type Provider struct {
	config Config
	logger *slog.Logger

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter

	compileCounter      metric.Int64Counter
	compileErrorCounter metric.Int64Counter
	compileDuration     metric.Float64Histogram
	reduceDuration      metric.Float64Histogram
	snapshotDuration    metric.Float64Histogram
}

// New creates a Provider. If cfg.Enabled is false, every method is a
// no-op (nil instruments are guarded throughout) so a caller can always
// construct a Provider regardless of deployment telemetry posture.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	p := &Provider{config: cfg, logger: slog.Default().With("component", "obs")}
	if !cfg.Enabled {
		p.logger.InfoContext(ctx, "telemetry disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", cfg.ServiceVersion),
			attribute.String("deployment.environment", cfg.Environment),
			attribute.String("service.instance.id", uuid.NewString()),
			attribute.String("truthmesh.component", "core"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("obs: build resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("obs: init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("obs: init metric provider: %w", err)
	}

	p.tracer = otel.Tracer("truthmesh.core", trace.WithInstrumentationVersion(cfg.ServiceVersion))
	p.meter = otel.Meter("truthmesh.core", metric.WithInstrumentationVersion(cfg.ServiceVersion))

	if err := p.initInstruments(); err != nil {
		return nil, fmt.Errorf("obs: init instruments: %w", err)
	}

	p.logger.InfoContext(ctx, "telemetry initialized",
		"service", cfg.ServiceName, "endpoint", cfg.OTLPEndpoint, "sample_rate", cfg.SampleRate)
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return err
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(p.config.BatchTimeout)),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return err
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initInstruments() error {
	var err error
	p.compileCounter, err = p.meter.Int64Counter("truthmesh.compile.total",
		metric.WithDescription("Total truth-compiler invocations"), metric.WithUnit("{compile}"))
	if err != nil {
		return err
	}
	p.compileErrorCounter, err = p.meter.Int64Counter("truthmesh.compile.errors",
		metric.WithDescription("Total failed truth-compiler invocations"), metric.WithUnit("{error}"))
	if err != nil {
		return err
	}
	p.compileDuration, err = p.meter.Float64Histogram("truthmesh.compile.duration",
		metric.WithDescription("compile_truth_state wall-clock duration"), metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5))
	if err != nil {
		return err
	}
	p.reduceDuration, err = p.meter.Float64Histogram("truthmesh.reduce.duration",
		metric.WithDescription("trust reducer replay duration"), metric.WithUnit("s"))
	if err != nil {
		return err
	}
	p.snapshotDuration, err = p.meter.Float64Histogram("truthmesh.snapshot.duration",
		metric.WithDescription("trust snapshot assembly duration"), metric.WithUnit("s"))
	return err
}

// Shutdown flushes and stops the providers. Safe to call even when
// telemetry is disabled.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "trace provider shutdown failed", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "meter provider shutdown failed", "error", err)
		}
	}
	return nil
}

// Logger returns the component-scoped slog logger.
func (p *Provider) Logger() *slog.Logger { return p.logger }

// TrackCompile wraps one compile_truth_state call: starts a span, records
// the request/error/duration instruments, and returns a function to call
// with the compile's error result (nil on success) when it finishes.
func (p *Provider) TrackCompile(ctx context.Context, truthKey, claimTypeID string) (context.Context, func(error)) {
	start := time.Now()
	attrs := []attribute.KeyValue{
		attribute.String("truthmesh.truth_key", truthKey),
		attribute.String("truthmesh.claim_type", claimTypeID),
	}
	var span trace.Span
	if p.tracer != nil {
		ctx, span = p.tracer.Start(ctx, "compile_truth_state", trace.WithAttributes(attrs...))
	}
	if p.compileCounter != nil {
		p.compileCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	return ctx, func(err error) {
		if p.compileDuration != nil {
			p.compileDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
		}
		if err != nil {
			if p.compileErrorCounter != nil {
				p.compileErrorCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
			}
			if span != nil {
				span.RecordError(err)
			}
			p.logger.ErrorContext(ctx, "compile_truth_state failed",
				"truth_key", truthKey, "claim_type", claimTypeID, "error", err)
		}
		if span != nil {
			span.End()
		}
	}
}

// TrackReduce wraps one trust-reducer Reduce call.
func (p *Provider) TrackReduce(ctx context.Context, signalCount int) func() {
	start := time.Now()
	attrs := []attribute.KeyValue{attribute.Int("truthmesh.signal_count", signalCount)}
	var span trace.Span
	if p.tracer != nil {
		ctx, span = p.tracer.Start(ctx, "trust_reducer.reduce", trace.WithAttributes(attrs...))
	}
	return func() {
		if p.reduceDuration != nil {
			p.reduceDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
		}
		if span != nil {
			span.End()
		}
	}
}

// TrackSnapshot wraps one trust-computer Compute call.
func (p *Provider) TrackSnapshot(ctx context.Context, agentCount int) func() {
	start := time.Now()
	attrs := []attribute.KeyValue{attribute.Int("truthmesh.agent_count", agentCount)}
	var span trace.Span
	if p.tracer != nil {
		ctx, span = p.tracer.Start(ctx, "trust_computer.compute", trace.WithAttributes(attrs...))
	}
	return func() {
		if p.snapshotDuration != nil {
			p.snapshotDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
		}
		if span != nil {
			span.End()
		}
	}
}
