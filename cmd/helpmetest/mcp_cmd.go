package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/helpmetest/cli/pkg/api"
	"github.com/helpmetest/cli/pkg/browser"
	"github.com/helpmetest/cli/pkg/bus"
	"github.com/helpmetest/cli/pkg/config"
	hmterrors "github.com/helpmetest/cli/pkg/errors"
	"github.com/helpmetest/cli/pkg/interactive"
	mcpserver "github.com/helpmetest/cli/pkg/mcp"
	"github.com/helpmetest/cli/pkg/notify"
	"github.com/helpmetest/cli/pkg/telemetry"
)

func newMCPCmd(a *app) *cobra.Command {
	var httpAddr string

	cmd := &cobra.Command{
		Use:   "mcp [token]",
		Short: "Run the MCP server for coding agents",
		Long: `Run the helpmetest MCP server.

By default the server speaks MCP over stdin/stdout, which is what editors and
agent runtimes expect. With --http it serves the streamable HTTP transport at
/mcp next to /metrics and /healthz.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
				a.cfg.API.Token = strings.TrimSpace(args[0])
			}
			return a.runMCP(cmd.Context(), httpAddr)
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http", "", "Serve MCP over HTTP on this address instead of stdio (e.g. :31337)")
	return cmd
}

func (a *app) runMCP(ctx context.Context, httpAddr string) error {
	client, err := a.client()
	if err != nil {
		return err
	}
	log := a.logger.WithComponent("mcp")

	if path := strings.TrimSpace(a.cfg.Telemetry.TraceFile); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return hmterrors.Wrap(err, hmterrors.ErrCodeConfigInvalid, "cannot open trace file").
				WithContext("path", path)
		}
		defer f.Close()
		shutdown, err := telemetry.SetupTracing("helpmetest", version, f)
		if err != nil {
			return hmterrors.Wrap(err, hmterrors.ErrCodeInternal, "failed to set up tracing")
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(flushCtx)
		}()
	}

	messages, err := bus.New(a.busConfig())
	if err != nil {
		return hmterrors.Wrap(err, hmterrors.ErrCodeConfigInvalid, "failed to set up UI transport").
			WithContext("transport", a.cfg.UI.Transport)
	}
	defer messages.Close()

	channel := notify.NewChannel(messages, notify.WithLogger(a.logger.WithComponent("notify")))
	defer channel.Close()

	var opener browser.Opener = browser.NoopOpener{}
	if a.cfg.Interactive.OpenViewer {
		opener = browser.NewSystemOpener()
	}

	opts := []interactive.Option{
		interactive.WithOpener(opener),
		interactive.WithHints(client),
		interactive.WithLogger(a.logger.WithComponent("interactive")),
		interactive.WithDefaultTimeout(a.cfg.InteractiveTimeout()),
		interactive.WithAutoScreenshot(a.cfg.Interactive.AutoScreenshot),
	}
	history, err := a.openHistory()
	if err != nil {
		log.Warn("interactive history disabled", "error", err)
	} else if history != nil {
		defer history.Close()
		opts = append(opts, interactive.WithHistory(history))
	}

	coordinator := interactive.NewCoordinator(
		api.NewInteractiveExecutor(client),
		client.InteractiveIdentity(),
		channel,
		opts...,
	)

	server := mcpserver.NewServer(client, coordinator, mcpserver.Options{
		Version: version,
		Logger:  a.logger,
	})

	if strings.TrimSpace(httpAddr) != "" {
		return serveHTTP(ctx, a, httpAddr, server.HTTPHandler())
	}

	if addr := strings.TrimSpace(a.cfg.Telemetry.MetricsAddr); addr != "" {
		metrics, err := telemetry.NewServer(addr, nil)
		if err != nil {
			return hmterrors.Wrap(err, hmterrors.ErrCodeConfigInvalid, "cannot listen for metrics").
				WithContext("addr", addr)
		}
		go func() {
			if err := metrics.Serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("metrics server stopped", "error", err)
			}
		}()
		defer shutdownServer(metrics)
	}

	if err := server.RunStdio(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return hmterrors.Wrap(err, hmterrors.ErrCodeInternal, "MCP server stopped")
	}
	return nil
}

func serveHTTP(ctx context.Context, a *app, addr string, handler http.Handler) error {
	srv, err := telemetry.NewServer(addr, handler)
	if err != nil {
		return hmterrors.Wrap(err, hmterrors.ErrCodeInvalidInput, "cannot listen").
			WithContext("addr", addr)
	}
	a.out.Info("MCP server listening on http://%s/mcp", srv.Addr())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve() }()

	select {
	case <-ctx.Done():
		shutdownServer(srv)
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return hmterrors.Wrap(err, hmterrors.ErrCodeInternal, "MCP HTTP server stopped")
		}
		return nil
	}
}

func shutdownServer(srv *telemetry.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

// busConfig points the UI transport at NATS or at the API's WebSocket
// endpoint.
func (a *app) busConfig() bus.Config {
	cfg := bus.Config{
		Transport: a.cfg.UI.Transport,
		URL:       a.cfg.API.URL,
		Token:     a.cfg.API.Token,
		Path:      a.cfg.UI.WebSocketPath,
		Name:      "helpmetest-cli",
		Timeout:   10 * time.Second,
	}
	if strings.EqualFold(cfg.Transport, config.TransportNATS) {
		cfg.URL = a.cfg.UI.NATS.URL
		cfg.Token = a.cfg.UI.NATS.Token
		if a.cfg.UI.NATS.ConnectTimeout > 0 {
			cfg.Timeout = a.cfg.UI.NATS.ConnectTimeout
		}
	}
	return cfg
}
