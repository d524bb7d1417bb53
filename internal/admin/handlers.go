package admin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adityalohuni/uidsnap/internal/browser"
	"github.com/adityalohuni/uidsnap/internal/config"
	"github.com/adityalohuni/uidsnap/internal/page"
	"github.com/adityalohuni/uidsnap/internal/resolver"
	"github.com/adityalohuni/uidsnap/internal/session"
	"github.com/adityalohuni/uidsnap/internal/snapshot"
	"github.com/adityalohuni/uidsnap/internal/wsbridge"
)

type Status struct {
	Uptime          string `json:"uptime"`
	Backend         string `json:"backend,omitempty"`
	MCPClients      int    `json:"mcp_clients"`
	BrowserSessions int    `json:"browser_sessions"`
	SnapshotID      int    `json:"snapshot_id"`
	UIDs            int    `json:"uids"`
	CachedHandles   int    `json:"cached_handles"`
	History         []int  `json:"history"`
}

type Handlers struct {
	StartedAt time.Time
	Backend   string
	Clients   *session.Registry
	// Bridge is nil unless the extension backend is in use.
	Bridge  *wsbridge.Bridge
	Manager *snapshot.Manager
	// Snapshot holds the options used for snapshots taken through the API.
	Snapshot        snapshot.Options
	SnapshotTimeout time.Duration
	MaxIdle         time.Duration
	ConfigPath      string
	Logger          *slog.Logger
}

func (h *Handlers) Status(w http.ResponseWriter, _ *http.Request) {
	h.prune()
	resp := Status{
		Uptime:     time.Since(h.StartedAt).Round(time.Second).String(),
		Backend:    h.Backend,
		MCPClients: h.Clients.Count(),
		History:    []int{},
	}
	if h.Bridge != nil {
		resp.BrowserSessions = h.Bridge.Count()
	}
	if h.Manager != nil {
		res := h.Manager.Resolver()
		resp.SnapshotID = h.Manager.Current()
		resp.UIDs = res.Len()
		resp.CachedHandles = res.CacheSize()
		resp.History = append(resp.History, h.Manager.Store().IDs()...)
	}
	writeJSON(w, resp)
}

func (h *Handlers) ClientsList(w http.ResponseWriter, _ *http.Request) {
	h.prune()
	writeJSON(w, h.Clients.List())
}

func (h *Handlers) BrowsersList(w http.ResponseWriter, _ *http.Request) {
	if h.Bridge == nil {
		writeJSON(w, []wsbridge.SessionInfo{})
		return
	}
	writeJSON(w, h.Bridge.ListSessions())
}

func (h *Handlers) DisconnectClient(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}
	h.Clients.Unregister(id)
	writeJSON(w, map[string]any{"ok": true, "id": id})
}

func (h *Handlers) DisconnectBrowser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Bridge == nil {
		http.Error(w, "extension backend not enabled", http.StatusNotFound)
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	useActive := id == "active"
	if id == "active" {
		id = ""
	}
	if id == "" && !useActive {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}
	if err := h.Bridge.DisconnectSession(id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if useActive {
		id = "active"
	}
	writeJSON(w, map[string]any{"ok": true, "id": id})
}

// SnapshotView is the admin rendering of one stored snapshot.
type SnapshotView struct {
	SnapshotID int       `json:"snapshot_id"`
	URL        string    `json:"url,omitempty"`
	Title      string    `json:"title,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Truncated  bool      `json:"truncated,omitempty"`
	UIDCount   int       `json:"uid_count"`
	Text       string    `json:"text"`
}

// Snapshot serves the latest (or ?id=) snapshot on GET and takes a new one
// on POST. POST accepts ?selector= and ?session=.
func (h *Handlers) Snapshot(w http.ResponseWriter, r *http.Request) {
	if h.Manager == nil {
		http.Error(w, "snapshots not available", http.StatusServiceUnavailable)
		return
	}
	switch r.Method {
	case http.MethodGet:
		h.readSnapshot(w, r)
	case http.MethodPost:
		h.takeSnapshot(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handlers) readSnapshot(w http.ResponseWriter, r *http.Request) {
	store := h.Manager.Store()
	var (
		snap page.Snapshot
		ok   bool
	)
	if raw := strings.TrimSpace(r.URL.Query().Get("id")); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "invalid id", http.StatusBadRequest)
			return
		}
		snap, ok = store.Get(id)
	} else {
		snap, ok = store.Latest()
	}
	if !ok {
		http.Error(w, "no snapshot", http.StatusNotFound)
		return
	}
	writeJSON(w, SnapshotView{
		SnapshotID: snap.SnapshotID,
		URL:        snap.URL,
		Title:      snap.Title,
		Timestamp:  snap.Timestamp,
		Truncated:  snap.Truncated,
		UIDCount:   snap.Root.Count(),
		Text:       page.Format(snap.Root, 0, h.Snapshot.Format),
	})
}

func (h *Handlers) takeSnapshot(w http.ResponseWriter, r *http.Request) {
	opts := h.Snapshot
	opts.Selector = strings.TrimSpace(r.URL.Query().Get("selector"))
	ctx, cancel := context.WithTimeout(r.Context(), h.snapshotTimeout())
	defer cancel()
	if id := strings.TrimSpace(r.URL.Query().Get("session")); id != "" {
		ctx = browser.WithTarget(ctx, browser.Target{SessionID: id})
	}

	res, err := h.Manager.TakeSnapshot(ctx, opts)
	if err != nil {
		var sel *snapshot.SelectorError
		status := http.StatusBadGateway
		if errors.As(err, &sel) {
			status = http.StatusBadRequest
		}
		h.logger().Warn("admin: snapshot failed", "error", err)
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, SnapshotView{
		SnapshotID: res.JSON.SnapshotID,
		URL:        res.JSON.URL,
		Title:      res.JSON.Title,
		Timestamp:  res.JSON.Timestamp,
		Truncated:  res.Truncated,
		UIDCount:   res.UIDCount,
		Text:       res.Text,
	})
}

type ResolveView struct {
	page.UIDEntry
	SnapshotID int `json:"snapshot_id"`
}

func (h *Handlers) Resolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Manager == nil {
		http.Error(w, "snapshots not available", http.StatusServiceUnavailable)
		return
	}
	uid := strings.TrimSpace(r.URL.Query().Get("uid"))
	if uid == "" {
		http.Error(w, "missing uid", http.StatusBadRequest)
		return
	}
	res := h.Manager.Resolver()
	entry, err := res.Lookup(uid)
	switch {
	case errors.Is(err, resolver.ErrInvalidUIDFormat):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, resolver.ErrStaleSnapshot):
		http.Error(w, err.Error(), http.StatusGone)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, ResolveView{UIDEntry: entry, SnapshotID: res.SnapshotID()})
}

func (h *Handlers) Clear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Manager == nil {
		http.Error(w, "snapshots not available", http.StatusServiceUnavailable)
		return
	}
	h.Manager.Clear()
	writeJSON(w, map[string]any{"ok": true, "last_snapshot_id": h.Manager.Current()})
}

type ConfigPayload struct {
	Path               string `json:"path,omitempty"`
	DaemonAddr         string `json:"daemon_addr"`
	MCPToken           string `json:"mcp_token"`
	AdminToken         string `json:"admin_token"`
	ClientMaxIdle      string `json:"client_max_idle"`
	AdminBaseURL       string `json:"admin_base_url"`
	TUIRefreshInterval string `json:"tui_refresh_interval"`
	Backend            string `json:"backend"`
	RemoteURL          string `json:"remote_url"`
	Headless           bool   `json:"headless"`
	Stealth            bool   `json:"stealth"`
	BrowserTimeout     string `json:"browser_timeout"`
	StaticFile         string `json:"static_file"`
	IncludeIframes     bool   `json:"include_iframes"`
	MaxDepth           int    `json:"max_depth"`
	MaxLines           int    `json:"max_lines"`
	History            int    `json:"history"`
	MaxElements        int    `json:"max_elements,omitempty"`
}

func (h *Handlers) ConfigGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	settings, err := config.LoadOrCreate(h.ConfigPath)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, payloadFromSettings(settings))
}

// ConfigSet writes the payload to disk. Running components pick the new
// values up on restart.
func (h *Handlers) ConfigSet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var payload ConfigPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	maxIdle, err := time.ParseDuration(strings.TrimSpace(payload.ClientMaxIdle))
	if err != nil {
		http.Error(w, "invalid client_max_idle", http.StatusBadRequest)
		return
	}
	refresh, err := time.ParseDuration(strings.TrimSpace(payload.TUIRefreshInterval))
	if err != nil {
		http.Error(w, "invalid tui_refresh_interval", http.StatusBadRequest)
		return
	}
	var timeout time.Duration
	if v := strings.TrimSpace(payload.BrowserTimeout); v != "" {
		if timeout, err = time.ParseDuration(v); err != nil {
			http.Error(w, "invalid browser_timeout", http.StatusBadRequest)
			return
		}
	}
	backend := strings.ToLower(strings.TrimSpace(payload.Backend))
	switch backend {
	case "", config.BackendRod, config.BackendExtension, config.BackendStatic:
	default:
		http.Error(w, "invalid backend", http.StatusBadRequest)
		return
	}

	next := config.Settings{
		Path:               strings.TrimSpace(payload.Path),
		DaemonAddr:         strings.TrimSpace(payload.DaemonAddr),
		MCPToken:           strings.TrimSpace(payload.MCPToken),
		AdminToken:         strings.TrimSpace(payload.AdminToken),
		ClientMaxIdle:      maxIdle,
		AdminBaseURL:       strings.TrimSpace(payload.AdminBaseURL),
		TUIRefreshInterval: refresh,
		Browser: config.BrowserSettings{
			Backend:    backend,
			RemoteURL:  strings.TrimSpace(payload.RemoteURL),
			Headless:   payload.Headless,
			Stealth:    payload.Stealth,
			Timeout:    timeout,
			StaticFile: strings.TrimSpace(payload.StaticFile),
		},
		Snapshot: config.SnapshotSettings{
			IncludeIframes: payload.IncludeIframes,
			MaxDepth:       payload.MaxDepth,
			MaxLines:       payload.MaxLines,
			History:        payload.History,
			MaxElements:    payload.MaxElements,
		},
	}
	if next.Path == "" {
		next.Path = h.ConfigPath
	}

	saved, err := config.Save(next)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.logger().Info("admin: config saved", "path", saved.Path)
	writeJSON(w, payloadFromSettings(saved))
}

func payloadFromSettings(settings config.Settings) ConfigPayload {
	return ConfigPayload{
		Path:               settings.Path,
		DaemonAddr:         settings.DaemonAddr,
		MCPToken:           settings.MCPToken,
		AdminToken:         settings.AdminToken,
		ClientMaxIdle:      settings.ClientMaxIdle.String(),
		AdminBaseURL:       settings.AdminBaseURL,
		TUIRefreshInterval: settings.TUIRefreshInterval.String(),
		Backend:            settings.Browser.Backend,
		RemoteURL:          settings.Browser.RemoteURL,
		Headless:           settings.Browser.Headless,
		Stealth:            settings.Browser.Stealth,
		BrowserTimeout:     settings.Browser.Timeout.String(),
		StaticFile:         settings.Browser.StaticFile,
		IncludeIframes:     settings.Snapshot.IncludeIframes,
		MaxDepth:           settings.Snapshot.MaxDepth,
		MaxLines:           settings.Snapshot.MaxLines,
		History:            settings.Snapshot.History,
		MaxElements:        settings.Snapshot.MaxElements,
	}
}

func (h *Handlers) prune() {
	if h.MaxIdle <= 0 {
		return
	}
	if dropped := h.Clients.Prune(h.MaxIdle); len(dropped) > 0 {
		h.logger().Info("admin: pruned idle clients", "ids", dropped)
	}
}

func (h *Handlers) snapshotTimeout() time.Duration {
	if h.SnapshotTimeout <= 0 {
		return 30 * time.Second
	}
	return h.SnapshotTimeout
}

func (h *Handlers) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

func writeJSON(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(value)
}

func decodeJSON(r io.Reader, v any) error {
	dec := json.NewDecoder(io.LimitReader(r, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("invalid json payload")
	}
	return nil
}
