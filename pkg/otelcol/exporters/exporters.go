package exporters

import (
	"context"
	"fmt"
	"time"

	"clientops-controlplane/pkg/config"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
)

// New builds the OTLP span exporter for the configured protocol.
func New(cfg *config.Config) (*otlptrace.Exporter, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch cfg.Otel.Protocol {
	case "", "http":
		return ProvideHttp(ctx, cfg)
	case "grpc":
		return ProvideGrpc(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported otel protocol %q", cfg.Otel.Protocol)
	}
}
