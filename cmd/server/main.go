package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/mylxsw/asteria/formatter"
	"github.com/mylxsw/asteria/level"
	"github.com/mylxsw/asteria/log"
	"github.com/spf13/cobra"
	"github.com/supremeagent/claudegate/internal/config"
	"github.com/supremeagent/claudegate/internal/health"
	"github.com/supremeagent/claudegate/internal/httpapi"
	"github.com/supremeagent/claudegate/internal/workspace"
	"github.com/supremeagent/claudegate/pkg/executor"
	"github.com/supremeagent/claudegate/pkg/executor/claude"
	"github.com/supremeagent/claudegate/pkg/gateway"
)

// Version is set at build time.
var Version = "dev"

const shutdownTimeout = 10 * time.Second

var (
	configPath string
	serveAddr  string

	errUnhealthy = errors.New("gateway is unhealthy")
)

var rootCmd = &cobra.Command{
	Use:           "claudegate",
	Short:         "HTTP gateway for the Claude CLI",
	Long:          "claudegate runs the Claude CLI for native and OpenAI compatible streaming requests.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          serveRun, // bare "claudegate" serves
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  serveRun,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Print the health report and exit non-zero when unhealthy",
	RunE:  checkRun,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveAddr, "addr", "", "listen address, overrides HOST and PORT")
	}
	rootCmd.AddCommand(serveCmd, checkCmd)
	rootCmd.Version = Version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errUnhealthy) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if serveAddr != "" {
		host, port, err := net.SplitHostPort(serveAddr)
		if err != nil {
			return cfg, fmt.Errorf("invalid --addr %q: %w", serveAddr, err)
		}
		p, err := strconv.Atoi(port)
		if err != nil {
			return cfg, fmt.Errorf("invalid --addr port %q: %w", port, err)
		}
		cfg.Host, cfg.Port = host, p
	}

	log.DefaultLogLevel(level.GetLevelByName(strings.ToUpper(cfg.LogLevel)))
	if strings.EqualFold(cfg.LogFormat, "json") {
		log.DefaultLogFormatter(formatter.NewJSONFormatter())
	}
	return cfg, nil
}

func newSupervisor(cfg config.Config) *executor.Supervisor {
	return executor.New(cfg.Executor(), executor.Hooks{
		OnSpawn: func(p *executor.Process) {
			log.WithFields(log.Fields{"pid": p.PID(), "session": p.SessionID}).Debugf("claude process registered")
		},
		OnRelease: func(p *executor.Process) {
			log.WithFields(log.Fields{
				"pid":      p.PID(),
				"state":    p.State().String(),
				"lines":    p.LineCount(),
				"duration": time.Since(p.SpawnedAt()).String(),
			}).Debugf("claude process unregistered")
		},
		OnTimeout: func(p *executor.Process, kind string) {
			log.WithFields(log.Fields{"pid": p.PID(), "kind": kind}).Warningf("claude process timed out")
		},
	})
}

// gatewayHooks logs skipped CLI lines with a running count and streams that
// end with an error.
func gatewayHooks(skipped *atomic.Int64) gateway.Hooks {
	return gateway.Hooks{
		OnDecodeError: func(ctx context.Context, err *claude.DecodeError) {
			log.WithFields(log.Fields{
				"request_id": httpapi.RequestIDFrom(ctx),
				"skipped":    skipped.Add(1),
			}).Warningf("undecodable claude output: %v", err)
		},
		OnEnd: func(ctx context.Context, route gateway.Route, err error) {
			if err != nil && !errors.Is(err, context.Canceled) {
				log.WithFields(log.Fields{
					"route":      string(route),
					"request_id": httpapi.RequestIDFrom(ctx),
				}).Warningf("stream ended with error: %v", err)
			}
		},
	}
}

func serveRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ws, err := workspace.NewManager(cfg.WorkspaceBasePath)
	if err != nil {
		return err
	}
	sup := newSupervisor(cfg)
	if path := sup.ResolveExecutable(); path != "" {
		log.Infof("using claude cli at %s", path)
	} else {
		log.Warningf("claude cli not found, requests will fail until it is installed")
	}

	var watcher *health.MCPWatcher
	if cfg.MCPConfigPath != "" {
		if err := health.ValidateMCPConfig(cfg.MCPConfigPath); err != nil {
			log.Warningf("mcp config: %v", err)
		}
		if watcher, err = health.WatchMCPConfig(cfg.MCPConfigPath, nil); err != nil {
			log.Warningf("cannot watch mcp config %s: %v", cfg.MCPConfigPath, err)
		}
	}

	client := gateway.New(gateway.Options{
		Supervisor: sup,
		Workspaces: ws,
		Hooks:      gatewayHooks(new(atomic.Int64)),
	})
	checker := health.NewChecker(health.Options{
		Resolver:      sup,
		WorkspaceBase: ws.Base(),
		MCPConfigPath: cfg.MCPConfigPath,
		Version:       Version,
	})

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           httpapi.NewRouter(httpapi.NewHandler(client, checker, ws), cfg.APIKeys),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(log.Fields{
			"workspace": ws.Base(),
			"auth":      cfg.AuthEnabled(),
		}).Infof("Starting server on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down server...")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warningf("graceful shutdown incomplete: %v", err)
	}
	sup.CleanupAll()
	_ = server.Close()
	if watcher != nil {
		_ = watcher.Close()
	}

	log.Info("Server stopped")
	return serveErr
}

func checkRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	checker := health.NewChecker(health.Options{
		Resolver:      newSupervisor(cfg),
		WorkspaceBase: cfg.WorkspaceBasePath,
		MCPConfigPath: cfg.MCPConfigPath,
		Version:       Version,
	})
	report := checker.Check(cmd.Context())

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "status: %s (version %s)\n", report.Status, report.Version)
	for _, name := range []string{"claudeCli", "workspace", "mcpConfig"} {
		res := report.Checks[name]
		fmt.Fprintf(out, "  %-10s %-9s %s\n", name, res.Status, res.Message)
	}

	if report.Status == health.StatusUnhealthy {
		return errUnhealthy
	}
	return nil
}
