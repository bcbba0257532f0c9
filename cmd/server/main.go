package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"uicontext-mcp-server/internal/browser"
	"uicontext-mcp-server/internal/config"
	"uicontext-mcp-server/internal/logging"
	mcpserver "uicontext-mcp-server/internal/mcp"
	"uicontext-mcp-server/internal/metrics"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type options struct {
	configPath    string
	workspaceDir  string
	noWorkspace   bool
	ssePort       int
	metricsAddr   string
	initWorkspace bool
}

func parseFlags(args []string, output io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("uicontext-mcp", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&opts.configPath, "config", "", "Path to a config file layered over the workspace config")
	fs.StringVar(&opts.workspaceDir, "workspace-dir", "", "Use this directory as the workspace root instead of searching upward")
	fs.BoolVar(&opts.noWorkspace, "no-workspace", false, "Skip .uictx workspace discovery")
	fs.IntVar(&opts.ssePort, "sse-port", 0, "Optional SSE port override (falls back to config)")
	fs.StringVar(&opts.metricsAddr, "metrics-addr", "", "Optional metrics listen address override (e.g. :9464)")
	fs.BoolVar(&opts.initWorkspace, "init", false, "Create a .uictx workspace in the current directory and exit")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	return opts, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}

	if opts.initWorkspace {
		cwd, err := os.Getwd()
		if err == nil {
			err = config.InitWorkspace(cwd)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "init workspace: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "initialized %s in %s\n", config.WorkspaceDirName, cwd)
		return
	}

	cfg, wsDir, err := config.LoadWithWorkspace(opts.configPath, config.WorkspaceOptions{
		Disable:     opts.noWorkspace,
		ExplicitDir: opts.workspaceDir,
	})
	if err != nil {
		// Before we can redirect logs, write to stderr as last resort
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if opts.ssePort != 0 {
		cfg.MCP.SSEPort = opts.ssePort
	}
	if opts.metricsAddr != "" {
		cfg.Metrics.ListenAddr = opts.metricsAddr
	}

	// stdio mode: stdout and stderr belong to the protocol
	var fallback []string
	if cfg.MCP.SSEPort == 0 && cfg.Server.LogFile != "" {
		fallback = []string{cfg.Server.LogFile}
	}
	logger, err := logging.New(cfg.Log, fallback...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited with error", zap.String("workspace", wsDir), zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	collector := metrics.NewCollector("uictx", logger)

	sessions := browser.NewSessionManager(cfg.Browser, logger)
	if cfg.Browser.AutoStart {
		if err := sessions.Start(ctx); err != nil {
			return fmt.Errorf("start browser: %w", err)
		}
	} else {
		logger.Info("browser auto-start disabled; use launch-browser or attach-session later")
	}
	defer func() {
		if err := sessions.Shutdown(context.Background()); err != nil {
			logger.Warn("browser shutdown failed", zap.Error(err))
		}
	}()

	server, err := mcpserver.NewServer(cfg, sessions, collector, logger)
	if err != nil {
		return fmt.Errorf("init MCP server: %w", err)
	}

	// The metrics listener stops when the MCP server does.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		var err error
		if cfg.MCP.SSEPort > 0 {
			logger.Info("starting MCP SSE server", zap.Int("port", cfg.MCP.SSEPort))
			err = server.StartSSE(ctx, cfg.MCP.SSEPort)
		} else {
			logger.Info("starting MCP stdio server")
			err = server.Start(ctx)
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if cfg.Metrics.ListenAddr != "" {
		srv := metricsServer(cfg.Metrics, collector)
		g.Go(func() error {
			logger.Info("serving metrics",
				zap.String("addr", cfg.Metrics.ListenAddr),
				zap.String("path", cfg.Metrics.GetMetricsPath()))
			return serveHTTP(ctx, srv)
		})
	}
	return g.Wait()
}

func metricsServer(cfg config.MetricsConfig, collector *metrics.Collector) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.GetMetricsPath(), collector.Handler())
	return &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// serveHTTP runs srv until ctx is done, then shuts it down gracefully.
func serveHTTP(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
