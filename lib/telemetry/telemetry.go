// Package telemetry wires the OpenTelemetry trace and metric providers for the
// astroquery binaries.
package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"astroquery/lib/configutil"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"
)

// ConfigName is searched for from the working directory upwards.
const ConfigName = "telemetry.json5"

// Telemetry holds the providers installed by Setup, a zero Telemetry means nothing
// was exported and Shutdown is a no-op.
type Telemetry struct {
	TracerProvider *trace.TracerProvider
	MeterProvider  *metric.MeterProvider
}

func (t Telemetry) Enabled() bool {
	return t.TracerProvider != nil || t.MeterProvider != nil
}

func (t Telemetry) Shutdown(ctx context.Context) error {
	var errlist []error
	if t.TracerProvider != nil {
		err := t.TracerProvider.Shutdown(ctx)
		if err != nil {
			errlist = append(errlist, err)
		}
	}
	if t.MeterProvider != nil {
		err := t.MeterProvider.Shutdown(ctx)
		if err != nil {
			errlist = append(errlist, err)
		}
	}
	return errors.Join(errlist...)
}

// InitSlog installs the default text logger on stderr.
func InitSlog(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}

// SetupFromEnv searches up the filesystem from the cwd for telemetry.json5 and
// sets up exporting with it. Without one telemetry stays disabled.
func SetupFromEnv(ctx context.Context, p Process) (Telemetry, error) {
	c, err := configutil.ReadRecursively[Config](ConfigName)
	if errors.Is(err, os.ErrNotExist) {
		slog.Debug("no telemetry config found, exporting is disabled", "name", ConfigName)
		return Telemetry{}, nil
	}
	if err != nil {
		return Telemetry{}, err
	}
	return Setup(ctx, p, c)
}

// Setup installs global providers for whichever signals c configures.
func Setup(ctx context.Context, p Process, c Config) (Telemetry, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second*15)
	defer cancel()

	r, err := newResource(p, c)
	if err != nil {
		return Telemetry{}, err
	}

	var tel Telemetry
	if c.Otlp.Traces.configured() {
		tel.TracerProvider, err = newTraceProvider(ctx, r, c.Otlp.Traces)
		if err != nil {
			return Telemetry{}, err
		}
		otel.SetTracerProvider(tel.TracerProvider)
	}
	if c.Otlp.Metrics.configured() {
		tel.MeterProvider, err = newMetricProvider(ctx, r, c.Otlp.Metrics, c.Otlp.metricInterval())
		if err != nil {
			return tel, errors.Join(err, tel.Shutdown(ctx))
		}
		otel.SetMeterProvider(tel.MeterProvider)
	}
	return tel, nil
}
