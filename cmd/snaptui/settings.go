package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adityalohuni/uidsnap/internal/config"
)

type settingsForm struct {
	DaemonAddr      string
	MCPToken        string
	AdminToken      string
	ClientMaxIdle   string
	AdminBaseURL    string
	RefreshInterval string
	Backend         string
	StaticFile      string
	MaxLines        string
}

type settingField struct {
	name  string
	field func(*settingsForm) *string
}

var settingFields = []settingField{
	{"daemon.addr", func(f *settingsForm) *string { return &f.DaemonAddr }},
	{"auth.mcp_token", func(f *settingsForm) *string { return &f.MCPToken }},
	{"auth.admin_token", func(f *settingsForm) *string { return &f.AdminToken }},
	{"daemon.client_max_idle", func(f *settingsForm) *string { return &f.ClientMaxIdle }},
	{"tui.admin_base_url", func(f *settingsForm) *string { return &f.AdminBaseURL }},
	{"tui.refresh_interval", func(f *settingsForm) *string { return &f.RefreshInterval }},
	{"browser.backend", func(f *settingsForm) *string { return &f.Backend }},
	{"browser.static_file", func(f *settingsForm) *string { return &f.StaticFile }},
	{"snapshot.max_lines", func(f *settingsForm) *string { return &f.MaxLines }},
}

func formFromSettings(s config.Settings) settingsForm {
	return settingsForm{
		DaemonAddr:      s.DaemonAddr,
		MCPToken:        s.MCPToken,
		AdminToken:      s.AdminToken,
		ClientMaxIdle:   s.ClientMaxIdle.String(),
		AdminBaseURL:    s.AdminBaseURL,
		RefreshInterval: s.TUIRefreshInterval.String(),
		Backend:         s.Browser.Backend,
		StaticFile:      s.Browser.StaticFile,
		MaxLines:        strconv.Itoa(s.Snapshot.MaxLines),
	}
}

func formToSettings(base config.Settings, form settingsForm) (config.Settings, error) {
	next := base
	next.DaemonAddr = strings.TrimSpace(form.DaemonAddr)
	next.MCPToken = strings.TrimSpace(form.MCPToken)
	next.AdminToken = strings.TrimSpace(form.AdminToken)
	next.AdminBaseURL = strings.TrimSpace(form.AdminBaseURL)
	next.Browser.StaticFile = strings.TrimSpace(form.StaticFile)

	maxIdle, err := parseDuration("daemon.client_max_idle", form.ClientMaxIdle)
	if err != nil {
		return config.Settings{}, err
	}
	refresh, err := parseDuration("tui.refresh_interval", form.RefreshInterval)
	if err != nil {
		return config.Settings{}, err
	}
	next.ClientMaxIdle = maxIdle
	next.TUIRefreshInterval = refresh

	backend := strings.ToLower(strings.TrimSpace(form.Backend))
	switch backend {
	case config.BackendRod, config.BackendExtension, config.BackendStatic:
		next.Browser.Backend = backend
	default:
		return config.Settings{}, fmt.Errorf("invalid browser.backend %q", form.Backend)
	}

	lines := 0
	if v := strings.TrimSpace(form.MaxLines); v != "" {
		if lines, err = strconv.Atoi(v); err != nil || lines < 0 {
			return config.Settings{}, fmt.Errorf("invalid snapshot.max_lines %q", v)
		}
	}
	next.Snapshot.MaxLines = lines
	return next, nil
}

func parseDuration(name, value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, errors.New(name + " cannot be empty")
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return d, nil
}
