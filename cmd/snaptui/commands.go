package main

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/adityalohuni/uidsnap/internal/admin"
	"github.com/adityalohuni/uidsnap/internal/adminclient"
	"github.com/adityalohuni/uidsnap/internal/config"
	"github.com/adityalohuni/uidsnap/internal/session"
)

const requestTimeout = 3 * time.Second

type loadResultMsg struct {
	status   admin.Status
	snapshot *admin.SnapshotView
	clients  []session.ClientInfo
	err      error
	at       time.Time
}

type snapshotTakenMsg struct {
	view admin.SnapshotView
	err  error
}

type resolvedMsg struct {
	uid  string
	view admin.ResolveView
	err  error
}

type clearedMsg struct{ err error }

type disconnectResultMsg struct {
	id  string
	err error
}

type serviceActionMsg struct {
	action string
	cmd    *exec.Cmd
	err    error
}

type configSavedMsg struct {
	settings config.Settings
	err      error
}

type configReloadedMsg struct {
	settings config.Settings
	err      error
}

type tickMsg time.Time

// fetchCmd polls status, clients and the latest snapshot. A missing
// snapshot is not an error.
func fetchCmd(client *adminclient.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		status, err := client.Status(ctx)
		if err != nil {
			return loadResultMsg{err: err}
		}
		clients, err := client.ListClients(ctx)
		if err != nil {
			return loadResultMsg{err: err}
		}
		msg := loadResultMsg{status: status, clients: clients, at: time.Now()}
		view, err := client.Snapshot(ctx, 0)
		var se *adminclient.StatusError
		switch {
		case err == nil:
			msg.snapshot = &view
		case errors.As(err, &se) && se.Code == 404:
		default:
			msg.err = err
		}
		return msg
	}
}

func takeSnapshotCmd(client *adminclient.Client, selector string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		view, err := client.TakeSnapshot(ctx, selector)
		return snapshotTakenMsg{view: view, err: err}
	}
}

func resolveCmd(client *adminclient.Client, uid string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		view, err := client.Resolve(ctx, uid)
		return resolvedMsg{uid: uid, view: view, err: err}
	}
}

func clearCmd(client *adminclient.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return clearedMsg{err: client.Clear(ctx)}
	}
}

func disconnectClientCmd(client *adminclient.Client, id string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return disconnectResultMsg{id: id, err: client.DisconnectClient(ctx, id)}
	}
}

func saveConfigCmd(current config.Settings, form settingsForm) tea.Cmd {
	return func() tea.Msg {
		next, err := formToSettings(current, form)
		if err != nil {
			return configSavedMsg{err: err}
		}
		saved, err := config.Save(next)
		if err != nil {
			return configSavedMsg{err: err}
		}
		return configSavedMsg{settings: saved}
	}
}

func reloadConfigCmd(path string) tea.Cmd {
	return func() tea.Msg {
		cfg, err := config.LoadOrCreate(path)
		if err != nil {
			return configReloadedMsg{err: err}
		}
		return configReloadedMsg{settings: cfg}
	}
}

// startDaemonCmd runs the mcpd binary found next to this one, or on PATH.
func startDaemonCmd(logPath string) tea.Cmd {
	return func() tea.Msg {
		bin, err := daemonBinary()
		if err != nil {
			return serviceActionMsg{action: "start", err: err}
		}
		logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return serviceActionMsg{action: "start", err: err}
		}
		cmd := exec.Command(bin)
		cmd.Stdout = logFile
		cmd.Stderr = logFile
		if err := cmd.Start(); err != nil {
			_ = logFile.Close()
			return serviceActionMsg{action: "start", err: err}
		}
		go func() {
			_ = cmd.Wait()
			_ = logFile.Close()
		}()
		return serviceActionMsg{action: "start", cmd: cmd}
	}
}

func stopDaemonCmd(cmd *exec.Cmd) tea.Cmd {
	return func() tea.Msg {
		if !procAlive(cmd) {
			return serviceActionMsg{action: "stop", err: errors.New("not running")}
		}
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			return serviceActionMsg{action: "stop", err: err}
		}
		return serviceActionMsg{action: "stop"}
	}
}

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func procAlive(cmd *exec.Cmd) bool {
	if cmd == nil || cmd.Process == nil {
		return false
	}
	return cmd.Process.Signal(syscall.Signal(0)) == nil
}
