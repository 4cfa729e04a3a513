// Package telemetry provides OpenTelemetry metrics for roam.
//
// Telemetry is disabled by default (zero runtime overhead when off).
//
//	ROAM_OTEL_ENABLED=true   enable metrics (default: off)
//	ROAM_OTEL_STDOUT=true    write metrics to stdout (dev mode)
package telemetry

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const instrumentationScope = "github.com/roamkit/roam"

var shutdownFns []func(context.Context) error

// Enabled reports whether telemetry is active (ROAM_OTEL_ENABLED=true).
func Enabled() bool {
	return os.Getenv("ROAM_OTEL_ENABLED") == "true"
}

// Init configures the OTel meter provider. When ROAM_OTEL_ENABLED is
// not "true" this installs a no-op provider and returns immediately.
func Init(ctx context.Context, serviceName, version string) error {
	if !Enabled() {
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return fmt.Errorf("telemetry: resource: %w", err)
	}

	exp, err := stdoutmetric.New()
	if err != nil {
		return fmt.Errorf("telemetry: stdout exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
	)
	otel.SetMeterProvider(mp)
	shutdownFns = append(shutdownFns, mp.Shutdown)
	return nil
}

// Shutdown flushes and stops all providers installed by Init.
func Shutdown(ctx context.Context) error {
	var firstErr error
	for _, fn := range shutdownFns {
		if err := fn(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	shutdownFns = nil
	return firstErr
}

// Recorder holds the sync engine's counters. Construct once at startup
// and inject into the orchestrator; with telemetry disabled every
// recording is a no-op through the noop provider.
type Recorder struct {
	runs      metric.Int64Counter
	pushed    metric.Int64Counter
	pulled    metric.Int64Counter
	conflicts metric.Int64Counter
	failures  metric.Int64Counter
}

// NewRecorder creates the engine counters on the global meter provider.
func NewRecorder() (*Recorder, error) {
	meter := otel.Meter(instrumentationScope)

	var r Recorder
	var err error
	if r.runs, err = meter.Int64Counter("roam.sync.runs",
		metric.WithDescription("Completed sync runs")); err != nil {
		return nil, err
	}
	if r.pushed, err = meter.Int64Counter("roam.sync.issues_pushed",
		metric.WithDescription("Issues pushed to a backend")); err != nil {
		return nil, err
	}
	if r.pulled, err = meter.Int64Counter("roam.sync.issues_pulled",
		metric.WithDescription("Issues pulled from a backend")); err != nil {
		return nil, err
	}
	if r.conflicts, err = meter.Int64Counter("roam.sync.conflicts",
		metric.WithDescription("Conflicts detected during sync")); err != nil {
		return nil, err
	}
	if r.failures, err = meter.Int64Counter("roam.sync.failures",
		metric.WithDescription("Per-issue apply failures")); err != nil {
		return nil, err
	}
	return &r, nil
}

// RecordRun records the aggregate counters for one sync run.
func (r *Recorder) RecordRun(ctx context.Context, backend string, pushed, pulled, conflicts, failures int) {
	if r == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("backend", backend))
	r.runs.Add(ctx, 1, attrs)
	r.pushed.Add(ctx, int64(pushed), attrs)
	r.pulled.Add(ctx, int64(pulled), attrs)
	r.conflicts.Add(ctx, int64(conflicts), attrs)
	r.failures.Add(ctx, int64(failures), attrs)
}
