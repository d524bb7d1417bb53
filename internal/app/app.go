// Package app assembles a browser backend, resolver and snapshot manager
// from config.Settings. Both binaries start through Open.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/adityalohuni/uidsnap/internal/browser"
	"github.com/adityalohuni/uidsnap/internal/browser/htmlbrowser"
	"github.com/adityalohuni/uidsnap/internal/browser/rodbrowser"
	"github.com/adityalohuni/uidsnap/internal/browser/wsbrowser"
	"github.com/adityalohuni/uidsnap/internal/config"
	"github.com/adityalohuni/uidsnap/internal/page"
	"github.com/adityalohuni/uidsnap/internal/resolver"
	"github.com/adityalohuni/uidsnap/internal/snapshot"
	"github.com/adityalohuni/uidsnap/internal/wsbridge"
)

// DebugEnv turns on debug logging when set to 1.
const DebugEnv = "UIDSNAP_DEBUG"

type App struct {
	Settings config.Settings
	Browser  browser.Browser
	// Bridge is set for the extension backend. Its HandleWS must be
	// mounted on an HTTP server for extensions to connect.
	Bridge  *wsbridge.Bridge
	Manager *snapshot.Manager
	Logger  *slog.Logger
}

// NewLogger returns a text logger on w at info level, or debug level when
// DebugEnv is 1.
func NewLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv(DebugEnv) == "1" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func Open(ctx context.Context, settings config.Settings, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Settings: settings, Logger: logger}

	switch settings.Browser.Backend {
	case config.BackendStatic:
		b := htmlbrowser.New(htmlbrowser.Options{Logger: logger})
		if f := strings.TrimSpace(settings.Browser.StaticFile); f != "" {
			if _, err := b.Navigate(ctx, f); err != nil {
				return nil, fmt.Errorf("app: load %s: %w", f, err)
			}
		}
		a.Browser = b
	case config.BackendExtension:
		a.Bridge = wsbridge.NewBridge(wsbridge.Options{
			CheckOrigin: func(r *http.Request) bool { return true },
			Logger:      logger,
		})
		a.Browser = wsbrowser.NewClient(a.Bridge, wsbrowser.Options{
			Timeout: settings.Browser.Timeout,
			Logger:  logger,
		})
	case config.BackendRod, "":
		b, err := rodbrowser.Launch(ctx, rodbrowser.Config{
			RemoteURL: settings.Browser.RemoteURL,
			Headless:  settings.Browser.Headless,
			Stealth:   settings.Browser.Stealth,
			Timeout:   settings.Browser.Timeout,
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
		a.Browser = b
	default:
		return nil, fmt.Errorf("app: unknown backend %q", settings.Browser.Backend)
	}

	res := resolver.New(a.Browser, resolver.Options{Logger: logger})
	a.Manager = snapshot.NewManager(a.Browser, res, snapshot.ManagerOptions{
		Logger:      logger,
		History:     settings.Snapshot.History,
		Format:      a.Format(),
		MaxElements: settings.Snapshot.MaxElements,
	})
	logger.Info("app: backend ready", "backend", settings.Browser.Backend)
	return a, nil
}

func (a *App) Format() page.FormatOptions {
	return page.FormatOptions{
		MaxDepth: a.Settings.Snapshot.MaxDepth,
		MaxLines: a.Settings.Snapshot.MaxLines,
	}
}

// SnapshotOptions returns the configured defaults for a snapshot request.
func (a *App) SnapshotOptions() snapshot.Options {
	return snapshot.Options{
		IncludeIframes: a.Settings.Snapshot.IncludeIframes,
		Format:         a.Format(),
	}
}

func (a *App) Close() error {
	if a.Browser == nil {
		return nil
	}
	return a.Browser.Close()
}
