package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/adityalohuni/uidsnap/internal/app"
	"github.com/adityalohuni/uidsnap/internal/config"
	"github.com/adityalohuni/uidsnap/internal/mcpserver"
	"github.com/adityalohuni/uidsnap/internal/session"
)

func main() {
	configPath := flag.String("config", "", "config file (default ~/.config/uidsnap/config.toml)")
	backend := flag.String("backend", "", "override browser.backend: rod, extension or static")
	flag.Parse()

	// stdout carries the MCP stream, so logs go to stderr.
	logger := app.NewLogger(os.Stderr)

	settings, err := config.LoadOrCreate(*configPath)
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}
	if *backend != "" {
		settings.Browser.Backend = *backend
	}
	logger.Info("loaded config", "path", settings.Path, "backend", settings.Browser.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, settings, logger)
	if err != nil {
		logger.Error("backend start failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if a.Bridge != nil {
		mux := http.NewServeMux()
		mux.HandleFunc("/ws", a.Bridge.HandleWS)
		httpServer := &http.Server{
			Addr:    settings.DaemonAddr,
			Handler: mux,
		}
		go func() {
			logger.Info("websocket server listening", "addr", httpServer.Addr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("websocket server error", "error", err)
				stop()
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpServer.Shutdown(shutdownCtx)
		}()
	}

	server := mcpserver.New(a.Browser, a.Manager, mcpserver.Options{
		Implementation: &mcp.Implementation{Name: "uidsnap-browser", Version: "v1.0.0"},
		Snapshot:       a.SnapshotOptions(),
		Registry:       session.NewRegistry(),
		Logger:         logger,
	})

	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		logger.Error("mcp server stopped", "error", err)
		os.Exit(1)
	}
}
