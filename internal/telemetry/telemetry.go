// Package telemetry wires the OpenTelemetry tracer provider and gives each
// pipeline stage its own span.
package telemetry

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/OstapBender-commits/ema-signal-bot/internal/config"
	"github.com/OstapBender-commits/ema-signal-bot/internal/utils"
)

const (
	// Service information
	ServiceName    = "ema-signal-bot"
	ServiceVersion = "1.0.0"

	pipelineTracer = "github.com/OstapBender-commits/ema-signal-bot/pipeline"
)

// TelemetryConfig holds configuration for telemetry
type TelemetryConfig struct {
	Enabled        bool
	Exporter       string // "otlp" or "stdout"
	OTLPEndpoint   string
	ServiceName    string
	ServiceVersion string
	Environment    string
	SampleRate     float64
	BatchTimeout   time.Duration
	MaxExportBatch int
	MaxQueueSize   int
}

// DefaultConfig returns default telemetry configuration
func DefaultConfig() *TelemetryConfig {
	return &TelemetryConfig{
		Enabled:        true,
		Exporter:       "otlp",
		OTLPEndpoint:   "http://localhost:4318",
		ServiceName:    ServiceName,
		ServiceVersion: ServiceVersion,
		Environment:    "development",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		MaxExportBatch: 512,
		MaxQueueSize:   2048,
	}
}

// FromConfig overlays the loaded settings on DefaultConfig.
func FromConfig(c config.TelemetryConfig, environment string) TelemetryConfig {
	cfg := *DefaultConfig()
	cfg.Enabled = c.Enabled
	if c.Exporter != "" {
		cfg.Exporter = c.Exporter
	}
	if c.Endpoint != "" {
		cfg.OTLPEndpoint = c.Endpoint
	}
	if c.ServiceName != "" {
		cfg.ServiceName = c.ServiceName
	}
	if c.ServiceVersion != "" {
		cfg.ServiceVersion = c.ServiceVersion
	}
	if environment != "" {
		cfg.Environment = environment
	}
	return cfg
}

var (
	mu             sync.Mutex
	globalProvider *sdktrace.TracerProvider
)

// InitTelemetry installs a global tracer provider. Disabled config leaves the
// no-op provider in place.
func InitTelemetry(cfg TelemetryConfig) error {
	if !cfg.Enabled {
		return nil
	}

	ctx := context.Background()
	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch cfg.Exporter {
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("failed to create stdout exporter: %w", err)
		}
	default:
		hostport, path, insecure, _, perr := normalizeOTLPEndpoint(cfg.OTLPEndpoint)
		if perr != nil {
			return fmt.Errorf("failed to create OTLP exporter: %w", perr)
		}
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(hostport),
			otlptracehttp.WithURLPath(path),
		}
		if insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err = otlptracehttp.New(ctx, opts...)
		if err != nil {
			return fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
	}

	tp, err := newTracerProvider(ctx, cfg, exporter)
	if err != nil {
		return err
	}

	mu.Lock()
	globalProvider = tp
	mu.Unlock()

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func newTracerProvider(ctx context.Context, cfg TelemetryConfig, exporter sdktrace.SpanExporter) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	rate := cfg.SampleRate
	if rate <= 0 || rate > 1 {
		rate = 1
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(cfg.BatchTimeout),
			sdktrace.WithMaxExportBatchSize(cfg.MaxExportBatch),
			sdktrace.WithMaxQueueSize(cfg.MaxQueueSize),
		),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))),
	), nil
}

// Shutdown flushes and stops the global provider, if one was installed.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	tp := globalProvider
	globalProvider = nil
	mu.Unlock()

	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// HostPort extracts host:port from an OTLP endpoint URL. The log exporter
// takes it in that form.
func HostPort(endpoint string) (string, error) {
	hp, _, _, _, err := normalizeOTLPEndpoint(endpoint)
	return hp, err
}

// normalizeOTLPEndpoint accepts a collector base URL or a full traces URL.
func normalizeOTLPEndpoint(raw string) (hostport, urlPath string, insecure bool, resolved string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", false, "", fmt.Errorf("invalid OTLP endpoint %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", "", false, "", fmt.Errorf("invalid OTLP endpoint %q: scheme must be http or https", raw)
	}

	path := strings.TrimRight(u.Path, "/")
	if !strings.HasSuffix(path, "/v1/traces") {
		path += "/v1/traces"
	}
	return u.Host, path, u.Scheme == "http", u.Scheme + "://" + u.Host + path, nil
}

// GetTracer returns a named tracer from the global provider.
func GetTracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// StartStage opens the span for one pipeline stage of one symbol.
func StartStage(ctx context.Context, stage utils.Stage, symbol string) (context.Context, trace.Span) {
	return GetTracer(pipelineTracer).Start(ctx, "pipeline."+string(stage),
		trace.WithAttributes(
			attribute.String("pipeline.stage", string(stage)),
			attribute.String("symbol", symbol),
		),
	)
}

// EndStage closes span. Not-ready outcomes are recorded as an attribute but
// leave the span status unset.
func EndStage(span trace.Span, err error) {
	defer span.End()
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	kind := utils.KindOf(err)
	span.SetAttributes(attribute.String("pipeline.error_kind", string(kind)))
	if kind == utils.KindNotReady {
		return
	}
	RecordError(span, err)
}

// RecordError marks span as failed with err.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
