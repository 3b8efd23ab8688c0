package logger

import (
	"fmt"

	"clientops-controlplane/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Module = fx.Module("zap",
	fx.Provide(
		New,
	),
)

type ConfigParams struct {
	fx.In
	Cfg *config.Config
}

// New builds the process logger and installs it as zap's global. Production
// writes JSON with severity/timestamp keys; every other env uses the console
// encoder.
func New(p ConfigParams) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(p.Cfg.LogLevel)
	if p.Cfg.LogLevel == "" {
		level, err = zapcore.InfoLevel, nil
	}
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", p.Cfg.LogLevel, err)
	}

	zc := zap.NewDevelopmentConfig()
	if p.Cfg.AppEnv == "production" {
		zc = productionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	log, err := zc.Build()
	if err != nil {
		return nil, err
	}

	log = log.With(
		zap.String("env", p.Cfg.AppEnv),
		zap.String("service_name", p.Cfg.AppName),
		zap.String("version", p.Cfg.AppVersion),
	)
	zap.ReplaceGlobals(log)
	return log, nil
}

func productionConfig() zap.Config {
	zc := zap.NewProductionConfig()
	zc.Encoding = "json"
	zc.OutputPaths = []string{"stdout"}
	zc.ErrorOutputPaths = []string{"stderr"}

	ec := &zc.EncoderConfig
	ec.TimeKey = "timestamp"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.LevelKey = "severity"
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	ec.CallerKey = "caller"
	ec.EncodeCaller = zapcore.ShortCallerEncoder
	ec.StacktraceKey = "stacktrace"
	return zc
}
