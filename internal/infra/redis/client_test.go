package redis

import (
	"context"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/authguard/internal/infra/config"
)

func settingsFor(t *testing.T, srv *miniredis.Miniredis) config.RedisSettings {
	t.Helper()
	port, err := strconv.Atoi(srv.Port())
	if err != nil {
		t.Fatalf("parse miniredis port: %v", err)
	}
	return config.RedisSettings{Host: srv.Host(), Port: port}
}

func TestNewClientPingsAndChecksHealth(t *testing.T) {
	srv := miniredis.RunT(t)

	client, err := NewClient(settingsFor(t, srv), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	defer client.Close()

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}

	srv.Close()
	if err := client.HealthCheck(context.Background()); err == nil {
		t.Fatalf("expected health check to fail after server shutdown")
	}
}

func TestNewClientFailsWhenUnreachable(t *testing.T) {
	srv := miniredis.RunT(t)
	cfg := settingsFor(t, srv)
	srv.Close()

	if _, err := NewClient(cfg, nil); err == nil {
		t.Fatalf("expected error for unreachable redis")
	}
}
