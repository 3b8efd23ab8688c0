package logger

import (
	"context"
	"testing"

	"clientops-controlplane/pkg/config"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewHonoursLevel(t *testing.T) {
	prev := zap.L()
	t.Cleanup(func() { zap.ReplaceGlobals(prev) })

	log, err := New(ConfigParams{Cfg: &config.Config{AppEnv: "test", AppName: "clientops", LogLevel: "warn"}})
	require.NoError(t, err)
	require.False(t, log.Core().Enabled(zapcore.InfoLevel))
	require.True(t, log.Core().Enabled(zapcore.WarnLevel))
	require.Same(t, log, zap.L())
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(ConfigParams{Cfg: &config.Config{LogLevel: "loud"}})
	require.Error(t, err)
}

func TestFromContextAddsTraceIDs(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	prev := zap.L()
	zap.ReplaceGlobals(zap.New(core))
	t.Cleanup(func() { zap.ReplaceGlobals(prev) })

	FromContext(context.Background()).Info("plain")

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3},
		SpanID:     trace.SpanID{4, 5, 6},
		TraceFlags: trace.FlagsSampled,
	})
	FromContext(trace.ContextWithSpanContext(context.Background(), sc)).Info("traced")

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Empty(t, entries[0].ContextMap())
	require.Equal(t, sc.TraceID().String(), entries[1].ContextMap()["trace_id"])
	require.Equal(t, sc.SpanID().String(), entries[1].ContextMap()["span_id"])
}
