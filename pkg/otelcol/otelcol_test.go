package otelcol

import (
	"context"
	"testing"

	"clientops-controlplane/pkg/config"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/fx/fxtest"
)

func TestProvideTracerProviderWithoutEndpoint(t *testing.T) {
	lc := fxtest.NewLifecycle(t)

	tp, err := ProvideTracerProvider(lc, &config.Config{AppName: "clientops"})
	require.NoError(t, err)
	require.Equal(t, otel.GetTracerProvider(), tp)
}

func TestProvideTracerProviderRejectsUnknownProtocol(t *testing.T) {
	cfg := &config.Config{AppName: "clientops"}
	cfg.Otel.Addr = "collector:4318"
	cfg.Otel.Protocol = "udp"

	_, err := ProvideTracerProvider(fxtest.NewLifecycle(t), cfg)
	require.EqualError(t, err, `unsupported otel protocol "udp"`)
}

func TestResourceCarriesServiceName(t *testing.T) {
	res, err := Resource(&config.Config{AppName: "clientops", AppVersion: "1.2.3", AppEnv: "staging"})
	require.NoError(t, err)

	set := res.Set()
	v, ok := set.Value(attribute.Key("service.name"))
	require.True(t, ok)
	require.Equal(t, "clientops", v.AsString())

	v, ok = set.Value(attribute.Key("deployment.environment"))
	require.True(t, ok)
	require.Equal(t, "staging", v.AsString())
}

func TestProvideTraceExportsSpans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := ProvideTrace(exp)

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	span.End()
	require.NoError(t, tp.ForceFlush(context.Background()))

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	require.Equal(t, "op", spans[0].Name)
	require.NoError(t, tp.Shutdown(context.Background()))
}
