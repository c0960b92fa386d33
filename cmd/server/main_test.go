package main

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/supremeagent/claudegate/pkg/executor/claude"
	"github.com/supremeagent/claudegate/pkg/gateway"
)

func TestGatewayHooksCountSkippedLines(t *testing.T) {
	var skipped atomic.Int64
	hooks := gatewayHooks(&skipped)
	if hooks.OnDecodeError == nil || hooks.OnEnd == nil {
		t.Fatal("expected decode and end hooks to be set")
	}

	for i := 0; i < 3; i++ {
		hooks.OnDecodeError(context.Background(), &claude.DecodeError{Line: "not json", Err: errors.New("bad")})
	}
	if skipped.Load() != 3 {
		t.Fatalf("expected 3 skipped lines, got %d", skipped.Load())
	}

	hooks.OnEnd(context.Background(), gateway.RouteChat, nil)
	hooks.OnEnd(context.Background(), gateway.RouteNative, context.Canceled)
}

func TestLoadConfigAddrOverride(t *testing.T) {
	t.Setenv("PORT", "4000")
	t.Setenv("WORKSPACE_BASE_PATH", t.TempDir())
	defer func() { serveAddr = "" }()

	serveAddr = "127.0.0.1:8123"
	cfg, err := loadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Host != "127.0.0.1" || cfg.Port != 8123 {
		t.Fatalf("expected --addr to win, got %s:%d", cfg.Host, cfg.Port)
	}

	serveAddr = "no-port"
	if _, err := loadConfig(); err == nil {
		t.Fatal("expected an invalid --addr to fail")
	}
}
