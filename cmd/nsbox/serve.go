package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkaninda/nsbox/internal/config"
	"github.com/jkaninda/nsbox/internal/observability"
	"github.com/jkaninda/nsbox/internal/protocol"
	"github.com/jkaninda/nsbox/internal/sandbox"
	"github.com/jkaninda/nsbox/internal/server"
	"github.com/jkaninda/nsbox/internal/tools"
	"github.com/jkaninda/nsbox/internal/tools/file"
	"github.com/jkaninda/nsbox/internal/tools/nsexec"
	"github.com/jkaninda/nsbox/internal/workspace"
)

var (
	serveConfigPath  string
	serveWorkspace   string
	serveMetricsAddr string
	serveLogLevel    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve tool calls over stdin/stdout",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `nsbox --config path` and `nsbox serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&serveWorkspace, "workspace", "", "override workspace root directory")
		cmd.Flags().StringVar(&serveMetricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address (e.g. :9464)")
		cmd.Flags().StringVar(&serveLogLevel, "log-level", "info", "log level: debug, info, warn, error")
	}
}

// runServe starts the stdio server. Logs go to stderr — stdout carries the
// RPC channel and must stay clean.
func runServe(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(serveLogLevel),
	}))

	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return err
	}

	// Apply CLI overrides.
	if serveWorkspace != "" {
		cfg.Workspace = serveWorkspace
	}
	if serveMetricsAddr != "" {
		if cfg.Observability == nil {
			cfg.Observability = &config.ObservabilityConfig{}
		}
		cfg.Observability.Metrics = &config.MetricsConfig{Enabled: true, ListenAddr: serveMetricsAddr}
	}

	ws, err := buildWorkspace(cfg)
	if err != nil {
		return err
	}
	if err := ws.EnsureAll(); err != nil {
		return err
	}
	if err := ws.CleanSandbox(); err != nil {
		logger.Warn("cleaning stale sandbox dirs", slog.String("error", err.Error()))
	}

	logger.Info("starting nsbox",
		slog.String("version", version),
		slog.String("workspace", ws.Root),
	)

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Metrics are optional; a nil collector disables all recording.
	var metrics *observability.MetricsCollector
	var metricsServer *observability.MetricsServer
	if cfg.Observability != nil && cfg.Observability.Metrics != nil && cfg.Observability.Metrics.Enabled {
		metrics = observability.NewMetricsCollector()
		metricsServer = observability.NewMetricsServer(metrics, cfg.Observability.Metrics.Addr(), logger)
		go func() {
			if err := metricsServer.Start(ctx); err != nil {
				logger.Error("metrics listener failed", slog.String("error", err.Error()))
			}
		}()
	}

	registry, err := buildRegistry(cfg, ws, metrics, logger)
	if err != nil {
		return err
	}

	srv := server.New(server.Config{Name: "nsbox", Version: version}, registry, metrics, logger)
	transport := protocol.NewStdioTransport(os.Stdin, os.Stdout)

	serveErr := srv.Serve(ctx, transport)

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Stop(shutdownCtx); err != nil {
			logger.Error("stopping metrics listener", slog.String("error", err.Error()))
		}
	}

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return serveErr
	}
	return nil
}

// buildWorkspace resolves the runtime root from config or the default location.
func buildWorkspace(cfg *config.Config) (*workspace.Workspace, error) {
	if cfg.Workspace != "" {
		return workspace.New(cfg.Workspace)
	}
	return workspace.Default()
}

// buildRegistry wires the tool catalog. Registration order is the order
// reported by tools/list.
func buildRegistry(cfg *config.Config, ws *workspace.Workspace, metrics *observability.MetricsCollector, logger *slog.Logger) (*tools.Registry, error) {
	fileCfg := file.Config{
		Root:             cfg.Files.Root,
		MaxFileSizeBytes: cfg.Files.MaxFileSizeBytes,
	}
	if fileCfg.Root == "" {
		fileCfg.Root = ws.FilesDir()
	}
	if fileCfg.Root == "/" {
		fileCfg.Root = "" // explicit opt-out of confinement
	}

	defaultNamespaces := make([]sandbox.Namespace, 0, len(cfg.Sandbox.Namespaces))
	for _, s := range cfg.Sandbox.Namespaces {
		ns, err := sandbox.ParseNamespace(s)
		if err != nil {
			return nil, err
		}
		defaultNamespaces = append(defaultNamespaces, ns)
	}

	executor := sandbox.New(sandbox.Config{
		DefaultTimeout:    cfg.Sandbox.DefaultTimeout(),
		MaxOutputBytes:    cfg.Sandbox.MaxOutputBytes,
		WorkDir:           ws.SandboxDir(),
		DefaultNamespaces: defaultNamespaces,
	}, logger)

	registry := tools.NewRegistry()
	registry.Register(file.NewReadTool(fileCfg, logger))
	registry.Register(file.NewWriteTool(fileCfg, logger))
	registry.Register(file.NewListTool(fileCfg, logger))
	registry.Register(nsexec.New(executor, metrics, logger))
	return registry, nil
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
