package main

import (
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/harmonica"
	"github.com/charmbracelet/lipgloss"
	zone "github.com/lrstanley/bubblezone"

	"github.com/adityalohuni/uidsnap/internal/admin"
	"github.com/adityalohuni/uidsnap/internal/adminclient"
	"github.com/adityalohuni/uidsnap/internal/config"
	"github.com/adityalohuni/uidsnap/internal/session"
)

type panel int
type uiMode int

const (
	treePanel panel = iota
	clientsPanel
)

const (
	dashboardMode uiMode = iota
	promptMode
	settingsMode
)

type promptKind int

const (
	promptResolve promptKind = iota
	promptSelector
)

var uidPattern = regexp.MustCompile(`uid=(\d+_\d+)`)

// uidFromLine returns the uid a formatted snapshot line starts with.
func uidFromLine(line string) string {
	m := uidPattern.FindStringSubmatch(line)
	if m == nil {
		return ""
	}
	return m[1]
}

// counter eases a displayed number towards its target.
type counter struct {
	pos, vel, target float64
}

func (c *counter) step(s harmonica.Spring) {
	c.pos, c.vel = s.Update(c.pos, c.vel, c.target)
}

type model struct {
	adminClient *adminclient.Client
	refresh     time.Duration

	settings config.Settings
	form     settingsForm

	status   admin.Status
	snapshot *admin.SnapshotView
	lines    []string
	clients  []session.ClientInfo
	resolved *admin.ResolveView
	resolveE string
	seenGen  int

	mode           uiMode
	prompt         promptKind
	focus          panel
	lineCursor     int
	clientCursor   int
	settingsCursor int
	editingSetting bool

	input  textinput.Model
	editor textinput.Model

	daemonCmd *exec.Cmd
	daemonLog string

	spin     spinner.Model
	treeVP   viewport.Model
	clientVP viewport.Model
	uidTrend streamlinechart.Model

	spring   harmonica.Spring
	genCount counter
	uidCount counter
	cliCount counter

	message     string
	lastUpdated time.Time
	width       int
	height      int
}

func newModel(client *adminclient.Client, cfg config.Settings) model {
	in := textinput.New()
	in.CharLimit = 256
	in.Width = 48

	ed := textinput.New()
	ed.Prompt = "value> "
	ed.CharLimit = 512
	ed.Width = 64

	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))

	trend := streamlinechart.New(
		40,
		8,
		streamlinechart.WithYRange(0, 200),
		streamlinechart.WithStyles(runes.ArcLineStyle, lipgloss.NewStyle().Foreground(lipgloss.Color("14"))),
	)

	return model{
		adminClient: client,
		refresh:     cfg.TUIRefreshInterval,
		settings:    cfg,
		form:        formFromSettings(cfg),
		mode:        dashboardMode,
		focus:       treePanel,
		message:     "loading...",
		daemonLog:   filepath.Join(os.TempDir(), "uidsnap-mcpd.log"),
		spin:        sp,
		input:       in,
		editor:      ed,
		treeVP:      viewport.New(80, 20),
		clientVP:    viewport.New(40, 20),
		uidTrend:    trend,
		spring:      harmonica.NewSpring(harmonica.FPS(60), 12.0, 1.0),
	}
}

func newAdminClient(s config.Settings) *adminclient.Client {
	return adminclient.New(s.AdminBaseURL, s.AdminToken, &http.Client{Timeout: 4 * time.Second})
}

func (m model) Init() tea.Cmd {
	return tea.Batch(fetchCmd(m.adminClient), tickCmd(m.refresh), m.spin.Tick)
}

// setSnapshot replaces the displayed tree and records a trend point the
// first time a generation is seen.
func (m *model) setSnapshot(view *admin.SnapshotView) {
	m.snapshot = view
	if view == nil {
		m.lines = nil
		m.lineCursor = 0
		return
	}
	m.lines = strings.Split(view.Text, "\n")
	if m.lineCursor >= len(m.lines) {
		m.lineCursor = max(0, len(m.lines)-1)
	}
	if view.SnapshotID != m.seenGen {
		m.seenGen = view.SnapshotID
		m.uidTrend.Push(float64(view.UIDCount))
		m.uidTrend.Draw()
	}
}

func (m model) selectedUID() string {
	if m.lineCursor < 0 || m.lineCursor >= len(m.lines) {
		return ""
	}
	return uidFromLine(m.lines[m.lineCursor])
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.syncLayout()
		m.syncViewportContent()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case loadResultMsg:
		if msg.err != nil {
			m.message = "refresh failed: " + msg.err.Error()
			return m, nil
		}
		m.status = msg.status
		m.clients = msg.clients
		sort.Slice(m.clients, func(i, j int) bool { return m.clients[i].ConnectedAt.Before(m.clients[j].ConnectedAt) })
		if m.clientCursor >= len(m.clients) {
			m.clientCursor = max(0, len(m.clients)-1)
		}
		m.setSnapshot(msg.snapshot)
		m.genCount.target = float64(msg.status.SnapshotID)
		m.uidCount.target = float64(msg.status.UIDs)
		m.cliCount.target = float64(len(m.clients))
		m.lastUpdated = msg.at
		m.syncViewportContent()
		return m, nil

	case snapshotTakenMsg:
		if msg.err != nil {
			m.message = "snapshot failed: " + msg.err.Error()
			return m, nil
		}
		m.setSnapshot(&msg.view)
		m.resolved = nil
		m.resolveE = ""
		m.message = fmt.Sprintf("snapshot %d: %d uids", msg.view.SnapshotID, msg.view.UIDCount)
		m.syncViewportContent()
		return m, fetchCmd(m.adminClient)

	case resolvedMsg:
		if msg.err != nil {
			m.resolved = nil
			m.resolveE = fmt.Sprintf("%s: %v", msg.uid, msg.err)
			m.message = "resolve failed"
			return m, nil
		}
		m.resolved = &msg.view
		m.resolveE = ""
		m.message = "resolved " + msg.uid
		return m, nil

	case clearedMsg:
		if msg.err != nil {
			m.message = "clear failed: " + msg.err.Error()
			return m, nil
		}
		m.setSnapshot(nil)
		m.resolved = nil
		m.message = "all uids invalidated"
		m.syncViewportContent()
		return m, fetchCmd(m.adminClient)

	case disconnectResultMsg:
		if msg.err != nil {
			m.message = fmt.Sprintf("disconnect %s failed: %v", shortID(msg.id), msg.err)
			return m, nil
		}
		m.message = "disconnected client " + shortID(msg.id)
		return m, fetchCmd(m.adminClient)

	case serviceActionMsg:
		if msg.err != nil {
			m.message = fmt.Sprintf("%s mcpd failed: %v", msg.action, msg.err)
			return m, nil
		}
		if msg.action == "start" {
			m.daemonCmd = msg.cmd
		} else {
			m.daemonCmd = nil
		}
		m.message = msg.action + " mcpd ok"
		return m, fetchCmd(m.adminClient)

	case configReloadedMsg:
		return m.applySettings(msg.settings, msg.err, "reloaded")

	case configSavedMsg:
		return m.applySettings(msg.settings, msg.err, "saved")

	case tickMsg:
		if !procAlive(m.daemonCmd) {
			m.daemonCmd = nil
		}
		m.genCount.step(m.spring)
		m.uidCount.step(m.spring)
		m.cliCount.step(m.spring)
		return m, tea.Batch(fetchCmd(m.adminClient), tickCmd(m.refresh))

	case tea.MouseMsg:
		if m.mode == dashboardMode && msg.Action == tea.MouseActionPress && msg.Button == tea.MouseButtonLeft {
			for i, line := range m.lines {
				uid := uidFromLine(line)
				if uid == "" {
					continue
				}
				if z := zone.Get("uid-" + uid); z != nil && z.InBounds(msg) {
					m.focus = treePanel
					m.lineCursor = i
					m.syncViewportContent()
					return m, resolveCmd(m.adminClient, uid)
				}
			}
			for i, c := range m.clients {
				if z := zone.Get("client-" + c.ID); z != nil && z.InBounds(msg) {
					m.focus = clientsPanel
					m.clientCursor = i
					m.syncViewportContent()
					return m, nil
				}
			}
		}

	case tea.KeyMsg:
		switch m.mode {
		case settingsMode:
			return updateSettingsMode(m, msg)
		case promptMode:
			return updatePromptMode(m, msg)
		}
		return updateDashboard(m, msg)
	}

	return m, nil
}

func (m model) applySettings(s config.Settings, err error, verb string) (tea.Model, tea.Cmd) {
	if err != nil {
		m.message = "config " + verb + " failed: " + err.Error()
		return m, nil
	}
	m.settings = s
	m.form = formFromSettings(s)
	m.refresh = s.TUIRefreshInterval
	m.adminClient = newAdminClient(s)
	m.message = "settings " + verb
	return m, fetchCmd(m.adminClient)
}

func updateDashboard(m model, msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "c":
		m.mode = settingsMode
		m.editingSetting = false
		m.editor.Blur()
		m.message = "settings mode"
		return m, nil
	case "tab":
		if m.focus == treePanel {
			m.focus = clientsPanel
		} else {
			m.focus = treePanel
		}
		m.syncViewportContent()
		return m, nil
	case "r":
		return m, fetchCmd(m.adminClient)
	case "t":
		m.message = "taking snapshot..."
		return m, takeSnapshotCmd(m.adminClient, "")
	case "/":
		return m.openPrompt(promptSelector, "selector> ")
	case "u":
		return m.openPrompt(promptResolve, "uid> ")
	case "x":
		return m, clearCmd(m.adminClient)
	case "enter":
		if uid := m.selectedUID(); uid != "" {
			return m, resolveCmd(m.adminClient, uid)
		}
		return m, nil
	case "up", "k":
		if m.focus == treePanel && m.lineCursor > 0 {
			m.lineCursor--
		}
		if m.focus == clientsPanel && m.clientCursor > 0 {
			m.clientCursor--
		}
		m.syncViewportContent()
		return m, nil
	case "down", "j":
		if m.focus == treePanel && m.lineCursor < len(m.lines)-1 {
			m.lineCursor++
		}
		if m.focus == clientsPanel && m.clientCursor < len(m.clients)-1 {
			m.clientCursor++
		}
		m.syncViewportContent()
		return m, nil
	case "pgup":
		if m.focus == treePanel {
			m.treeVP.HalfViewUp()
		} else {
			m.clientVP.HalfViewUp()
		}
		return m, nil
	case "pgdown":
		if m.focus == treePanel {
			m.treeVP.HalfViewDown()
		} else {
			m.clientVP.HalfViewDown()
		}
		return m, nil
	case "d":
		if m.focus == clientsPanel && len(m.clients) > 0 {
			return m, disconnectClientCmd(m.adminClient, m.clients[m.clientCursor].ID)
		}
		return m, nil
	case "s":
		if procAlive(m.daemonCmd) {
			m.message = "mcpd is already running"
			return m, nil
		}
		return m, startDaemonCmd(m.daemonLog)
	case "S":
		return m, stopDaemonCmd(m.daemonCmd)
	}
	return m, nil
}

func (m model) openPrompt(kind promptKind, prompt string) (tea.Model, tea.Cmd) {
	m.mode = promptMode
	m.prompt = kind
	m.input.Prompt = prompt
	m.input.SetValue("")
	if kind == promptResolve {
		m.input.SetValue(m.selectedUID())
		m.input.CursorEnd()
	}
	return m, m.input.Focus()
}

func updatePromptMode(m model, msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.mode = dashboardMode
		m.input.Blur()
		return m, nil
	case "enter":
		value := strings.TrimSpace(m.input.Value())
		m.mode = dashboardMode
		m.input.Blur()
		if m.prompt == promptSelector {
			m.message = "taking scoped snapshot..."
			return m, takeSnapshotCmd(m.adminClient, value)
		}
		if value == "" {
			return m, nil
		}
		return m, resolveCmd(m.adminClient, value)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func updateSettingsMode(m model, msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.editingSetting {
		switch msg.String() {
		case "enter":
			*settingFields[m.settingsCursor].field(&m.form) = m.editor.Value()
			m.editingSetting = false
			m.editor.Blur()
			m.message = "value updated (press s to save config)"
			return m, nil
		case "esc":
			m.editingSetting = false
			m.editor.Blur()
			m.message = "edit canceled"
			return m, nil
		}
		var cmd tea.Cmd
		m.editor, cmd = m.editor.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "esc", "c":
		m.mode = dashboardMode
		m.message = "dashboard mode"
		return m, nil
	case "up", "k":
		if m.settingsCursor > 0 {
			m.settingsCursor--
		}
		return m, nil
	case "down", "j":
		if m.settingsCursor < len(settingFields)-1 {
			m.settingsCursor++
		}
		return m, nil
	case "r":
		return m, reloadConfigCmd(m.settings.Path)
	case "s":
		return m, saveConfigCmd(m.settings, m.form)
	case "e", "enter":
		m.editingSetting = true
		m.editor.SetValue(*settingFields[m.settingsCursor].field(&m.form))
		m.editor.CursorEnd()
		m.message = "editing " + settingFields[m.settingsCursor].name
		return m, m.editor.Focus()
	}
	return m, nil
}

func daemonBinary() (string, error) {
	if self, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(self), "mcpd")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return exec.LookPath("mcpd")
}

func main() {
	zone.NewGlobal()
	settings, err := config.LoadOrCreate("")
	if err != nil {
		fmt.Printf("config error: %v\n", err)
		return
	}
	m := newModel(newAdminClient(settings), settings)
	m.syncLayout()
	m.syncViewportContent()
	if _, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion()).Run(); err != nil {
		fmt.Printf("tui error: %v\n", err)
	}
}
