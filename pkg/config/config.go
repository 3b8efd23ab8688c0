package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/vault-client-go"
	"github.com/spf13/viper"
	_ "github.com/spf13/viper/remote"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	NodeID     int64  `mapstructure:"APP_NODE_ID"`
	LogLevel   string `mapstructure:"LOG_LEVEL"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Otel struct {
		Addr     string `mapstructure:"ADDR"`
		Protocol string `mapstructure:"PROTOCOL"`
		Insecure bool   `mapstructure:"INSECURE"`
	} `mapstructure:"OTEL"`
	Consul struct {
		Addr        string `mapstructure:"ADDR"`
		ServiceHost string `mapstructure:"SERVICE_HOST"`
	} `mapstructure:"CONSUL"`
	Pyroscope struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"PYROSCOPE"`
	Server struct {
		Addr           string        `mapstructure:"ADDR"`
		ReadTimeout    time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout   time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout    time.Duration `mapstructure:"IDLE_TIMEOUT"`
		RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Grpc struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"GRPC_SERVER"`
	Database struct {
		Type           string        `mapstructure:"TYPE"`
		Host           string        `mapstructure:"HOST"`
		Port           string        `mapstructure:"PORT"`
		DBNAME         string        `mapstructure:"DBNAME"`
		User           string        `mapstructure:"USER"`
		Password       string        `mapstructure:"PASSWORD"`
		SSLMode        string        `mapstructure:"SSLMODE"`
		Timezone       string        `mapstructure:"TIMEZONE"`
		SlowThreshold  time.Duration `mapstructure:"SLOW_THRESHOLD"`
		AutoMigrate    bool          `mapstructure:"AUTO_MIGRATE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Worker struct {
		Concurrency     int           `mapstructure:"CONCURRENCY"`
		ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
	} `mapstructure:"WORKER"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password       string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Auth struct {
		JWTSecret string `mapstructure:"JWT_SECRET"`
		Issuer    string `mapstructure:"ISSUER"`
	} `mapstructure:"AUTH"`
	AccessControl struct {
		Model  string   `mapstructure:"MODEL"`
		Policy []string `mapstructure:"POLICY"`
	} `mapstructure:"ACCESS_CONTROL"`
	Automation struct {
		WebhookURL    string        `mapstructure:"WEBHOOK_URL"`
		WebhookSecret string        `mapstructure:"WEBHOOK_SECRET"`
		Timeout       time.Duration `mapstructure:"TIMEOUT"`
	} `mapstructure:"AUTOMATION"`
	Flagsmith struct {
		Addr   string `mapstructure:"ADDR"`
		ApiKey string `mapstructure:"API_KEY"`
	} `mapstructure:"FLAGSMITH"`
	Minio struct {
		Endpoint   string        `mapstructure:"ENDPOINT"`
		AccessKey  string        `mapstructure:"ACCESS_KEY"`
		SecretKey  string        `mapstructure:"SECRET_KEY"`
		Secure     bool          `mapstructure:"SECURE"`
		BucketName string        `mapstructure:"BUCKET_NAME"`
		PresignTTL time.Duration `mapstructure:"PRESIGN_TTL"`
	} `mapstructure:"MINIO"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

type Params struct {
	fx.In
	Vault *vault.Client `optional:"true"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "clientops-controlplane")
	v.SetDefault("APP_VERSION", "dev")
	v.SetDefault("APP_NODE_ID", 1)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("WORKER.CONCURRENCY", 10)
	v.SetDefault("WORKER.SHUTDOWN_TIMEOUT", 10*time.Second)
	v.SetDefault("HTTP_SERVER.ADDR", "8080")
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("HTTP_SERVER.REQUEST_TIMEOUT", 10*time.Second)
	v.SetDefault("GRPC_SERVER.ADDR", "9090")
	v.SetDefault("TLS.ENABLE", false)
	v.SetDefault("TLS.CERT_PATH", "")
	v.SetDefault("TLS.KEY_PATH", "")
	v.SetDefault("OTEL.ADDR", "")
	v.SetDefault("OTEL.PROTOCOL", "http")
	v.SetDefault("OTEL.INSECURE", true)
	v.SetDefault("PYROSCOPE.ADDR", "")
	v.SetDefault("CONSUL.ADDR", "")
	v.SetDefault("CONSUL.SERVICE_HOST", "")
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.HOST", "localhost")
	v.SetDefault("DATABASE.DBNAME", "clientops")
	v.SetDefault("DATABASE.USER", "postgres")
	v.SetDefault("DATABASE.PASSWORD", "")
	v.SetDefault("DATABASE.PORT", "5432")
	v.SetDefault("DATABASE.SSLMODE", "disable")
	v.SetDefault("DATABASE.TIMEZONE", "UTC")
	v.SetDefault("DATABASE.SLOW_THRESHOLD", 200*time.Millisecond)
	v.SetDefault("DATABASE.AUTO_MIGRATE", true)
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_IDLE_CONN", 5)
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_OPEN_CONNS", 20)
	v.SetDefault("DATABASE.CONNECTION_POOL.CONN_MAX_LIFETIME", time.Hour)
	v.SetDefault("REDIS.ADDR", "127.0.0.1:6379")
	v.SetDefault("REDIS.PASSWORD", "")
	v.SetDefault("REDIS.DB", 0)
	v.SetDefault("REDIS.POOL_SIZE", 10)
	v.SetDefault("REDIS.POOL_TIMEOUT", 5*time.Second)
	v.SetDefault("AUTH.JWT_SECRET", "")
	v.SetDefault("AUTH.ISSUER", "clientops")
	v.SetDefault("ACCESS_CONTROL.POLICY", []string{
		"admin, /api/admin/*, *",
	})
	v.SetDefault("AUTOMATION.WEBHOOK_URL", "")
	v.SetDefault("AUTOMATION.WEBHOOK_SECRET", "")
	v.SetDefault("AUTOMATION.TIMEOUT", 10*time.Second)
	v.SetDefault("FLAGSMITH.ADDR", "")
	v.SetDefault("FLAGSMITH.API_KEY", "")
	v.SetDefault("MINIO.ENDPOINT", "")
	v.SetDefault("MINIO.ACCESS_KEY", "")
	v.SetDefault("MINIO.SECRET_KEY", "")
	v.SetDefault("MINIO.SECURE", false)
	v.SetDefault("MINIO.BUCKET_NAME", "evidence")
	v.SetDefault("MINIO.PRESIGN_TTL", 15*time.Minute)
}

// Load reads config.yaml from the working directory (optional) and overlays
// environment variables, e.g. DATABASE_HOST for DATABASE.HOST.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	if err := readRemote(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// readRemote layers a YAML document from consul or etcd under the local file
// and env when REMOTE_CONFIG_PROVIDER is set.
func readRemote(v *viper.Viper) error {
	provider := os.Getenv("REMOTE_CONFIG_PROVIDER")
	if provider == "" {
		return nil
	}

	if err := v.AddRemoteProvider(provider, os.Getenv("REMOTE_CONFIG_ADDR"), os.Getenv("REMOTE_CONFIG_PATH")); err != nil {
		return err
	}
	if err := v.ReadRemoteConfig(); err != nil {
		return fmt.Errorf("read remote config: %w", err)
	}
	return nil
}

func LoadConfig(p Params) *Config {
	cfg, err := Load()
	if err != nil {
		zap.L().Error("failed to load config", zap.Error(err))
		os.Exit(1)
	}

	if p.Vault != nil {
		// START - Vault
		ctx := context.Background()

		zap.L().Info("Starting Get Secrets", zap.String("path", cfg.AppEnv))
		secret, err := p.Vault.Secrets.KvV2Read(ctx, cfg.AppEnv, vault.WithMountPath("secret"))
		if err != nil {
			zap.L().Error("failed get secret from vault", zap.Error(err))
			os.Exit(1)
		}
		zap.L().Info("Success Get Secret")

		applySecrets(cfg, secret.Data.Data)
		// END - Vault
	}

	return cfg
}

func applySecrets(cfg *Config, data map[string]interface{}) {
	get := func(key, fallback string) string {
		if val, ok := data[key].(string); ok && val != "" {
			return val
		}
		return fallback
	}

	cfg.Database.User = get("postgres_user", cfg.Database.User)
	cfg.Database.Password = get("postgres_password", cfg.Database.Password)
	cfg.Redis.Password = get("redis_password", cfg.Redis.Password)
	cfg.Auth.JWTSecret = get("jwt_secret", cfg.Auth.JWTSecret)
	cfg.Automation.WebhookSecret = get("automation_webhook_secret", cfg.Automation.WebhookSecret)
	cfg.Flagsmith.ApiKey = get("flagsmith_api_key", cfg.Flagsmith.ApiKey)
	cfg.Minio.SecretKey = get("minio_secret_key", cfg.Minio.SecretKey)
}
