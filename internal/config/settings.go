package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

const (
	defaultDaemonAddr      = ":9099"
	defaultClientMaxIdle   = 30 * time.Minute
	defaultRefreshInterval = 2 * time.Second
	defaultBrowserTimeout  = 30 * time.Second
	defaultBackend         = BackendRod
	defaultHistory         = 8
	defaultConfigDirName   = "uidsnap"
	defaultConfigFileName  = "config.toml"
)

// Browser backends.
const (
	BackendRod       = "rod"
	BackendExtension = "extension"
	BackendStatic    = "static"
)

type Settings struct {
	Path               string
	DaemonAddr         string
	MCPToken           string
	AdminToken         string
	ClientMaxIdle      time.Duration
	AdminBaseURL       string
	TUIRefreshInterval time.Duration
	Browser            BrowserSettings
	Snapshot           SnapshotSettings
}

type BrowserSettings struct {
	Backend    string        `json:"backend"`
	RemoteURL  string        `json:"remote_url,omitempty"`
	Headless   bool          `json:"headless"`
	Stealth    bool          `json:"stealth"`
	Timeout    time.Duration `json:"timeout"`
	StaticFile string        `json:"static_file,omitempty"`
}

type SnapshotSettings struct {
	IncludeIframes bool `json:"include_iframes"`
	// MaxDepth and MaxLines limit the rendered text only. Zero renders all.
	MaxDepth int `json:"max_depth"`
	MaxLines int `json:"max_lines"`
	History  int `json:"history"`
	// MaxElements caps the in-page capture. Zero uses the built-in cap.
	MaxElements int `json:"max_elements,omitempty"`
}

type fileConfig struct {
	Daemon   daemonConfig   `toml:"daemon"`
	Auth     authConfig     `toml:"auth"`
	Browser  browserConfig  `toml:"browser"`
	Snapshot snapshotConfig `toml:"snapshot"`
	TUI      tuiConfig      `toml:"tui"`
}

type daemonConfig struct {
	Addr          string `toml:"addr"`
	ClientMaxIdle string `toml:"client_max_idle"`
}

type authConfig struct {
	MCPToken   string `toml:"mcp_token"`
	AdminToken string `toml:"admin_token"`
}

type browserConfig struct {
	Backend    string `toml:"backend"`
	RemoteURL  string `toml:"remote_url"`
	Headless   *bool  `toml:"headless"`
	Stealth    *bool  `toml:"stealth"`
	Timeout    string `toml:"timeout"`
	StaticFile string `toml:"static_file"`
}

type snapshotConfig struct {
	IncludeIframes *bool `toml:"include_iframes"`
	MaxDepth       int   `toml:"max_depth"`
	MaxLines       int   `toml:"max_lines"`
	History        int   `toml:"history"`
	MaxElements    int   `toml:"max_elements,omitempty"`
}

type tuiConfig struct {
	AdminBaseURL    string `toml:"admin_base_url"`
	RefreshInterval string `toml:"refresh_interval"`
}

func LoadOrCreate(path string) (Settings, error) {
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return Settings{}, err
		}
	}

	cfg := defaultFileConfig()
	exists := false
	if _, err := os.Stat(path); err == nil {
		exists = true
		var onDisk fileConfig
		if _, err := toml.DecodeFile(path, &onDisk); err != nil {
			return Settings{}, fmt.Errorf("decode config %s: %w", path, err)
		}
		mergeFileConfig(&cfg, onDisk)
	} else if !errors.Is(err, os.ErrNotExist) {
		return Settings{}, fmt.Errorf("stat config %s: %w", path, err)
	}

	changed := false
	if strings.TrimSpace(cfg.Auth.MCPToken) == "" {
		cfg.Auth.MCPToken = randomToken()
		changed = true
	}
	if strings.TrimSpace(cfg.Auth.AdminToken) == "" {
		cfg.Auth.AdminToken = randomToken()
		changed = true
	}
	if strings.TrimSpace(cfg.TUI.AdminBaseURL) == "" {
		cfg.TUI.AdminBaseURL = deriveAdminBaseURL(cfg.Daemon.Addr)
		changed = true
	}

	if !exists || changed {
		if err := writeConfig(path, cfg); err != nil {
			return Settings{}, err
		}
	}
	return toSettings(path, cfg)
}

// Save writes settings to disk and returns the normalized values loaded back
// from the config file (including defaults and generated tokens when needed).
func Save(settings Settings) (Settings, error) {
	path := strings.TrimSpace(settings.Path)
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return Settings{}, err
		}
	}

	headless, stealth := settings.Browser.Headless, settings.Browser.Stealth
	iframes := settings.Snapshot.IncludeIframes
	cfg := fileConfig{
		Daemon: daemonConfig{
			Addr:          settings.DaemonAddr,
			ClientMaxIdle: durationString(settings.ClientMaxIdle),
		},
		Auth: authConfig{
			MCPToken:   settings.MCPToken,
			AdminToken: settings.AdminToken,
		},
		Browser: browserConfig{
			Backend:    settings.Browser.Backend,
			RemoteURL:  settings.Browser.RemoteURL,
			Headless:   &headless,
			Stealth:    &stealth,
			Timeout:    durationString(settings.Browser.Timeout),
			StaticFile: settings.Browser.StaticFile,
		},
		Snapshot: snapshotConfig{
			IncludeIframes: &iframes,
			MaxDepth:       settings.Snapshot.MaxDepth,
			MaxLines:       settings.Snapshot.MaxLines,
			History:        settings.Snapshot.History,
			MaxElements:    settings.Snapshot.MaxElements,
		},
		TUI: tuiConfig{
			AdminBaseURL:    settings.AdminBaseURL,
			RefreshInterval: durationString(settings.TUIRefreshInterval),
		},
	}
	merged := defaultFileConfig()
	mergeFileConfig(&merged, cfg)

	if err := writeConfig(path, merged); err != nil {
		return Settings{}, err
	}
	return LoadOrCreate(path)
}

func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".config", defaultConfigDirName, defaultConfigFileName), nil
}

func defaultFileConfig() fileConfig {
	yes := true
	return fileConfig{
		Daemon: daemonConfig{
			Addr:          defaultDaemonAddr,
			ClientMaxIdle: defaultClientMaxIdle.String(),
		},
		Browser: browserConfig{
			Backend:  defaultBackend,
			Headless: &yes,
			Stealth:  &yes,
			Timeout:  defaultBrowserTimeout.String(),
		},
		Snapshot: snapshotConfig{
			IncludeIframes: &yes,
			History:        defaultHistory,
		},
		TUI: tuiConfig{
			RefreshInterval: defaultRefreshInterval.String(),
		},
	}
}

func mergeFileConfig(dst *fileConfig, src fileConfig) {
	if v := strings.TrimSpace(src.Daemon.Addr); v != "" {
		dst.Daemon.Addr = v
	}
	if v := strings.TrimSpace(src.Daemon.ClientMaxIdle); v != "" {
		dst.Daemon.ClientMaxIdle = v
	}
	if v := strings.TrimSpace(src.Auth.MCPToken); v != "" {
		dst.Auth.MCPToken = v
	}
	if v := strings.TrimSpace(src.Auth.AdminToken); v != "" {
		dst.Auth.AdminToken = v
	}
	if v := strings.ToLower(strings.TrimSpace(src.Browser.Backend)); v != "" {
		dst.Browser.Backend = v
	}
	if v := strings.TrimSpace(src.Browser.RemoteURL); v != "" {
		dst.Browser.RemoteURL = v
	}
	if src.Browser.Headless != nil {
		dst.Browser.Headless = src.Browser.Headless
	}
	if src.Browser.Stealth != nil {
		dst.Browser.Stealth = src.Browser.Stealth
	}
	if v := strings.TrimSpace(src.Browser.Timeout); v != "" {
		dst.Browser.Timeout = v
	}
	if v := strings.TrimSpace(src.Browser.StaticFile); v != "" {
		dst.Browser.StaticFile = v
	}
	if src.Snapshot.IncludeIframes != nil {
		dst.Snapshot.IncludeIframes = src.Snapshot.IncludeIframes
	}
	if src.Snapshot.MaxDepth > 0 {
		dst.Snapshot.MaxDepth = src.Snapshot.MaxDepth
	}
	if src.Snapshot.MaxLines > 0 {
		dst.Snapshot.MaxLines = src.Snapshot.MaxLines
	}
	if src.Snapshot.History > 0 {
		dst.Snapshot.History = src.Snapshot.History
	}
	if src.Snapshot.MaxElements > 0 {
		dst.Snapshot.MaxElements = src.Snapshot.MaxElements
	}
	if v := strings.TrimSpace(src.TUI.AdminBaseURL); v != "" {
		dst.TUI.AdminBaseURL = v
	}
	if v := strings.TrimSpace(src.TUI.RefreshInterval); v != "" {
		dst.TUI.RefreshInterval = v
	}
}

func toSettings(path string, cfg fileConfig) (Settings, error) {
	maxIdle, err := time.ParseDuration(cfg.Daemon.ClientMaxIdle)
	if err != nil {
		return Settings{}, fmt.Errorf("invalid daemon.client_max_idle duration: %w", err)
	}
	refresh, err := time.ParseDuration(cfg.TUI.RefreshInterval)
	if err != nil {
		return Settings{}, fmt.Errorf("invalid tui.refresh_interval duration: %w", err)
	}
	timeout, err := time.ParseDuration(cfg.Browser.Timeout)
	if err != nil {
		return Settings{}, fmt.Errorf("invalid browser.timeout duration: %w", err)
	}
	switch cfg.Browser.Backend {
	case BackendRod, BackendExtension, BackendStatic:
	default:
		return Settings{}, fmt.Errorf("invalid browser.backend %q (want %s, %s or %s)",
			cfg.Browser.Backend, BackendRod, BackendExtension, BackendStatic)
	}
	return Settings{
		Path:               path,
		DaemonAddr:         cfg.Daemon.Addr,
		MCPToken:           cfg.Auth.MCPToken,
		AdminToken:         cfg.Auth.AdminToken,
		ClientMaxIdle:      maxIdle,
		AdminBaseURL:       cfg.TUI.AdminBaseURL,
		TUIRefreshInterval: refresh,
		Browser: BrowserSettings{
			Backend:    cfg.Browser.Backend,
			RemoteURL:  cfg.Browser.RemoteURL,
			Headless:   deref(cfg.Browser.Headless),
			Stealth:    deref(cfg.Browser.Stealth),
			Timeout:    timeout,
			StaticFile: cfg.Browser.StaticFile,
		},
		Snapshot: SnapshotSettings{
			IncludeIframes: deref(cfg.Snapshot.IncludeIframes),
			MaxDepth:       cfg.Snapshot.MaxDepth,
			MaxLines:       cfg.Snapshot.MaxLines,
			History:        cfg.Snapshot.History,
			MaxElements:    cfg.Snapshot.MaxElements,
		},
	}, nil
}

func writeConfig(path string, cfg fileConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString("# uidsnap config for mcp, mcpd and snaptui\n\n"); err != nil {
		return fmt.Errorf("write config header: %w", err)
	}
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

func deriveAdminBaseURL(addr string) string {
	host := strings.TrimSpace(addr)
	if host == "" {
		host = defaultDaemonAddr
	}
	if strings.Contains(host, "://") {
		return strings.TrimRight(host, "/")
	}
	if strings.HasPrefix(host, ":") {
		return "http://127.0.0.1" + host
	}
	h, p, err := net.SplitHostPort(host)
	if err == nil {
		if h == "" || h == "0.0.0.0" || h == "::" || h == "[::]" {
			h = "127.0.0.1"
		}
		return "http://" + net.JoinHostPort(h, p)
	}
	return "http://" + net.JoinHostPort(host, "9099")
}

func durationString(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return d.String()
}

func deref(b *bool) bool {
	return b != nil && *b
}

func randomToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
