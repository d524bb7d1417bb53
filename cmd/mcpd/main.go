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

	"github.com/adityalohuni/uidsnap/internal/admin"
	"github.com/adityalohuni/uidsnap/internal/app"
	"github.com/adityalohuni/uidsnap/internal/config"
	"github.com/adityalohuni/uidsnap/internal/httpx"
	"github.com/adityalohuni/uidsnap/internal/mcpserver"
	"github.com/adityalohuni/uidsnap/internal/session"
)

func main() {
	configPath := flag.String("config", "", "config file (default ~/.config/uidsnap/config.toml)")
	flag.Parse()

	logger := app.NewLogger(os.Stderr)

	settings, err := config.LoadOrCreate(*configPath)
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
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

	registry := session.NewRegistry()
	server := mcpserver.New(a.Browser, a.Manager, mcpserver.Options{
		Implementation: &mcp.Implementation{Name: "uidsnap-browser", Version: "v1.0.0"},
		Snapshot:       a.SnapshotOptions(),
		Registry:       registry,
		Logger:         logger,
	})
	mcpServer := server.MCPServer()

	sseHandler := mcp.NewSSEHandler(func(_ *http.Request) *mcp.Server { return mcpServer }, nil)
	streamHandler := mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server { return mcpServer }, nil)

	adminHandlers := &admin.Handlers{
		StartedAt:       time.Now(),
		Backend:         settings.Browser.Backend,
		Clients:         registry,
		Bridge:          a.Bridge,
		Manager:         a.Manager,
		Snapshot:        a.SnapshotOptions(),
		SnapshotTimeout: settings.Browser.Timeout,
		MaxIdle:         settings.ClientMaxIdle,
		ConfigPath:      settings.Path,
		Logger:          logger,
	}

	mcpAuth := httpx.RequireToken(settings.MCPToken)
	adminAuth := httpx.RequireToken(settings.AdminToken)

	mux := http.NewServeMux()
	if a.Bridge != nil {
		mux.Handle("/ws", http.HandlerFunc(a.Bridge.HandleWS))
	}
	mux.Handle("/mcp/sse", mcpAuth(trackSSE(registry, sseHandler)))
	mux.Handle("/mcp/stream", mcpAuth(trackStreamable(registry, streamHandler)))
	mux.Handle("/admin/status", adminAuth(http.HandlerFunc(adminHandlers.Status)))
	mux.Handle("/admin/clients", adminAuth(http.HandlerFunc(adminHandlers.ClientsList)))
	mux.Handle("/admin/browsers", adminAuth(http.HandlerFunc(adminHandlers.BrowsersList)))
	mux.Handle("/admin/clients/disconnect", adminAuth(http.HandlerFunc(adminHandlers.DisconnectClient)))
	mux.Handle("/admin/browsers/disconnect", adminAuth(http.HandlerFunc(adminHandlers.DisconnectBrowser)))
	mux.Handle("/admin/snapshot", adminAuth(http.HandlerFunc(adminHandlers.Snapshot)))
	mux.Handle("/admin/resolve", adminAuth(http.HandlerFunc(adminHandlers.Resolve)))
	mux.Handle("/admin/clear", adminAuth(http.HandlerFunc(adminHandlers.Clear)))
	mux.Handle("/admin/config", adminAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			adminHandlers.ConfigGet(w, r)
		case http.MethodPut:
			adminHandlers.ConfigSet(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})))

	httpServer := &http.Server{
		Addr:    settings.DaemonAddr,
		Handler: httpx.LogRequests(logger)(mux),
	}

	go func() {
		logger.Info("mcp daemon listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
}

func trackSSE(reg *session.Registry, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info := clientInfoFromRequest(r, "sse")
		if r.Method != http.MethodGet {
			if id := r.URL.Query().Get("sessionid"); id != "" {
				reg.Touch(id, info)
			}
			next.ServeHTTP(w, r)
			return
		}
		clientID := ensureClient(reg, w, r, info)
		if clientID != "" {
			go func() {
				<-r.Context().Done()
				reg.Unregister(clientID)
			}()
		}
		next.ServeHTTP(w, r)
	})
}

func trackStreamable(reg *session.Registry, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info := clientInfoFromRequest(r, "streamable")
		if r.Method == http.MethodGet {
			clientID := ensureClient(reg, w, r, info)
			if clientID != "" {
				go func() {
					<-r.Context().Done()
					reg.Unregister(clientID)
				}()
			}
			next.ServeHTTP(w, r)
			return
		}
		if r.Method == http.MethodDelete {
			reg.Unregister(clientIDFromRequest(r))
			next.ServeHTTP(w, r)
			return
		}
		clientID := clientIDFromRequest(r)
		if clientID != "" {
			reg.Touch(clientID, info)
		}
		next.ServeHTTP(w, r)
	})
}

func ensureClient(reg *session.Registry, w http.ResponseWriter, r *http.Request, info session.ClientInfo) string {
	clientID := clientIDFromRequest(r)
	if clientID == "" {
		clientID = reg.Register("", info)
		w.Header().Set("X-Assigned-Client-Id", clientID)
		return clientID
	}
	reg.Touch(clientID, info)
	return clientID
}

func clientInfoFromRequest(r *http.Request, transport string) session.ClientInfo {
	return session.ClientInfo{
		Name:       r.Header.Get("X-Client-Name"),
		Transport:  transport,
		RemoteAddr: httpx.ClientIP(r),
		UserAgent:  r.UserAgent(),
	}
}

// clientIDFromRequest prefers explicit client headers and falls back to the
// MCP session id, which is also the id tool calls are recorded under.
func clientIDFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Client-Id"); v != "" {
		return v
	}
	if v := r.Header.Get("X-MCP-Client-Id"); v != "" {
		return v
	}
	return r.Header.Get("Mcp-Session-Id")
}
