package server

import (
	"testing"

	"clientops-controlplane/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestNewHttpServer(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.Addr = "8080"

	srv := NewHttpServer(Params{Config: cfg, Engine: gin.New()})
	require.Equal(t, ":8080", srv.server.Addr)
	require.Nil(t, srv.server.TLSConfig)
}

func TestNewHttpServerWithoutCertificate(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.Addr = "8443"
	cfg.TLS.Enable = true
	cfg.TLS.CertPath = t.TempDir() + "/missing.crt"
	cfg.TLS.KeyPath = t.TempDir() + "/missing.key"

	srv := NewHttpServer(Params{Config: cfg, Engine: gin.New()})
	require.NotNil(t, srv.server.TLSConfig)

	_, err := srv.server.TLSConfig.GetCertificate(nil)
	require.EqualError(t, err, "no TLS certificate loaded")
}
