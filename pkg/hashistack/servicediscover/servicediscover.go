package servicediscover

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"clientops-controlplane/pkg/config"

	"github.com/hashicorp/consul/api"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module registers the HTTP API with the Consul agent when CONSUL.ADDR is set.
var Module = fx.Module("servicediscover", fx.Invoke(registerConsul))

type ServiceRegistry interface {
	Register(ctx context.Context) error
	Deregister(ctx context.Context) error
}

type ConsulRegistry struct {
	client  *api.Client
	service *api.AgentServiceRegistration
}

func registerConsul(lc fx.Lifecycle, cfg *config.Config) error {
	if cfg.Consul.Addr == "" {
		return nil
	}

	svc, err := Registration(cfg)
	if err != nil {
		return err
	}
	registry, err := NewConsulRegistry(cfg.Consul.Addr, svc)
	if err != nil {
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := registry.Register(ctx); err != nil {
				// The API keeps serving; discovery is best effort.
				zap.L().Error("consul registration failed", zap.String("service_id", svc.ID), zap.Error(err))
				return nil
			}
			zap.L().Info("registered with consul", zap.String("service_id", svc.ID))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return registry.Deregister(ctx)
		},
	})
	return nil
}

// Registration describes this process to Consul, health-checked through /readyz.
func Registration(cfg *config.Config) (*api.AgentServiceRegistration, error) {
	port, err := strconv.Atoi(cfg.Server.Addr)
	if err != nil {
		return nil, fmt.Errorf("http server addr %q is not a port: %w", cfg.Server.Addr, err)
	}

	host := cfg.Consul.ServiceHost
	if host == "" {
		host, err = os.Hostname()
		if err != nil {
			return nil, err
		}
	}

	scheme := "http"
	if cfg.TLS.Enable {
		scheme = "https"
	}

	return &api.AgentServiceRegistration{
		ID:      fmt.Sprintf("%s-%s-%d", cfg.AppName, host, cfg.NodeID),
		Name:    cfg.AppName,
		Address: host,
		Port:    port,
		Tags:    []string{cfg.AppEnv, cfg.AppVersion},
		Check: &api.AgentServiceCheck{
			HTTP:          fmt.Sprintf("%s://%s:%d/readyz", scheme, host, port),
			TLSSkipVerify: cfg.TLS.Enable,
			Interval:      "10s",
			Timeout:       "5s",
		},
	}, nil
}

func NewConsulRegistry(address string, service *api.AgentServiceRegistration) (*ConsulRegistry, error) {
	conf := api.DefaultConfig()
	conf.Address = address

	client, err := api.NewClient(conf)
	if err != nil {
		return nil, err
	}

	return &ConsulRegistry{
		client:  client,
		service: service,
	}, nil
}

func (r *ConsulRegistry) Register(context.Context) error {
	return r.client.Agent().ServiceRegister(r.service)
}

func (r *ConsulRegistry) Deregister(context.Context) error {
	return r.client.Agent().ServiceDeregister(r.service.ID)
}
