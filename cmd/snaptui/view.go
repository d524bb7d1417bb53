package main

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	zone "github.com/lrstanley/bubblezone"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	normalStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	cursorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	focusStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	keyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

func (m *model) syncLayout() {
	paneH := max(10, m.height-22)
	treeW := max(60, m.width*2/3-2)
	m.treeVP.Width = treeW - 2
	m.treeVP.Height = paneH
	m.clientVP.Width = max(30, m.width-treeW-6)
	m.clientVP.Height = paneH / 2
}

func (m *model) syncViewportContent() {
	m.treeVP.SetContent(m.renderTreeRows())
	m.clientVP.SetContent(m.renderClientRows())
	m.ensureCursorVisible()
}

func (m *model) ensureCursorVisible() {
	if m.focus == treePanel {
		if m.lineCursor < m.treeVP.YOffset {
			m.treeVP.SetYOffset(m.lineCursor)
		} else if bottom := m.treeVP.YOffset + m.treeVP.Height - 1; m.lineCursor > bottom {
			m.treeVP.SetYOffset(m.lineCursor - m.treeVP.Height + 1)
		}
		return
	}
	m.clientVP.GotoTop()
	for i := 0; i < m.clientCursor; i++ {
		m.clientVP.LineDown(2)
	}
}

// renderTreeRows marks every line with its uid so a click resolves it.
func (m model) renderTreeRows() string {
	if len(m.lines) == 0 {
		return normalStyle.Render("(no snapshot; press t to take one)")
	}
	rows := make([]string, len(m.lines))
	for i, line := range m.lines {
		row := line
		if i == m.lineCursor {
			row = cursorStyle.Render(line)
		}
		if uid := uidFromLine(line); uid != "" {
			row = zone.Mark("uid-"+uid, row)
		}
		rows[i] = row
	}
	return strings.Join(rows, "\n")
}

func (m model) renderClientRows() string {
	if len(m.clients) == 0 {
		return normalStyle.Render("(none)")
	}
	lines := make([]string, 0, len(m.clients)*2)
	for i, c := range m.clients {
		pref := "  "
		if i == m.clientCursor {
			pref = "> "
		}
		row := fmt.Sprintf("%s%s  %s  %s", pref, shortID(c.ID), emptyDefault(c.Name, "unnamed"), c.Transport)
		if i == m.clientCursor {
			row = cursorStyle.Render(row)
		}
		lines = append(lines, zone.Mark("client-"+c.ID, row))
		lines = append(lines, fmt.Sprintf("    snaps=%d actions=%d last=%s  seen %s",
			c.Snapshots, c.Actions, emptyDefault(c.LastTool, "-"), timeAgo(c.LastSeen)))
	}
	return strings.Join(lines, "\n")
}

func (m model) renderResolved() string {
	lines := []string{normalStyle.Render("Resolved uid")}
	switch {
	case m.resolveE != "":
		lines = append(lines, warnStyle.Render(trimText(m.resolveE, 80)))
	case m.resolved == nil:
		lines = append(lines, normalStyle.Render("click a line or press enter / u"))
	default:
		r := m.resolved
		lines = append(lines,
			keyStyle.Render(r.UID)+fmt.Sprintf("  (snapshot %d)", r.SnapshotID),
			"css:   "+r.CSS,
			"xpath: "+emptyDefault(r.XPath, "-"),
		)
		if len(r.Frames) > 0 {
			lines = append(lines, "frames: "+strings.Join(r.Frames, " >> "))
		}
	}
	return strings.Join(lines, "\n")
}

func (m model) View() string {
	if m.mode == settingsMode {
		return zone.Scan(m.settingsView())
	}

	treeTitle := normalStyle.Render("Snapshot")
	clientTitle := normalStyle.Render("MCP Clients")
	if m.focus == treePanel {
		treeTitle = focusStyle.Render("Snapshot")
	} else {
		clientTitle = focusStyle.Render("MCP Clients")
	}
	if s := m.snapshot; s != nil {
		header := fmt.Sprintf(" %d  %s", s.SnapshotID, trimText(emptyDefault(s.Title, s.URL), 50))
		if s.Truncated {
			header += warnStyle.Render(" truncated")
		}
		treeTitle += header
	}

	treePane := boxStyle.Width(m.treeVP.Width + 2).Render(treeTitle + "\n" + m.treeVP.View())
	side := lipgloss.JoinVertical(lipgloss.Left,
		boxStyle.Width(m.clientVP.Width+2).Render(clientTitle+"\n"+m.clientVP.View()),
		boxStyle.Width(m.clientVP.Width+2).Render(m.renderResolved()),
	)

	cards := lipgloss.JoinHorizontal(
		lipgloss.Top,
		boxStyle.Render(fmt.Sprintf("Generation\n%d", int(math.Round(m.genCount.pos)))),
		boxStyle.Render(fmt.Sprintf("UIDs\n%d", int(math.Round(m.uidCount.pos)))),
		boxStyle.Render(fmt.Sprintf("Clients\n%d", int(math.Round(m.cliCount.pos)))),
		boxStyle.Render(fmt.Sprintf("Backend\n%s", emptyDefault(m.status.Backend, "?"))),
		boxStyle.Render(fmt.Sprintf("Updated\n%s", lastUpdatedText(m.lastUpdated))),
		boxStyle.Render("UIDs per generation\n"+m.uidTrend.View()),
	)

	daemon := "down"
	if procAlive(m.daemonCmd) {
		daemon = fmt.Sprintf("up pid=%d", m.daemonCmd.Process.Pid)
	}
	proc := normalStyle.Render(fmt.Sprintf("mcpd[%s] %s | cached handles=%d | %s refreshing",
		daemon, m.daemonLog, m.status.CachedHandles, m.spin.View()))

	footer := normalStyle.Render("click line resolve | j/k move | enter resolve | u uid | t snapshot | / scoped | x clear | tab panel | d disconnect | s/S mcpd | c settings | q quit")
	if m.mode == promptMode {
		footer = m.input.View() + normalStyle.Render("  (enter submit, esc cancel)")
	}

	return zone.Scan(strings.Join([]string{
		titleStyle.Render("uidsnap control"),
		cards,
		lipgloss.JoinHorizontal(lipgloss.Top, treePane, side),
		proc,
		titleStyle.Render("status: ") + m.message,
		footer,
	}, "\n"))
}

func (m model) settingsView() string {
	lines := []string{titleStyle.Render("Settings")}
	for i, f := range settingFields {
		prefix := "  "
		if i == m.settingsCursor {
			prefix = cursorStyle.Render("> ")
		}
		form := m.form
		lines = append(lines, fmt.Sprintf("%s%s = %s", prefix, f.name, *f.field(&form)))
	}

	editLine := normalStyle.Render("select a field, press e or enter to edit")
	if m.editingSetting {
		editLine = keyStyle.Render("editing") + " " + settingFields[m.settingsCursor].name + "\n" + m.editor.View()
	}

	help := normalStyle.Render("j/k move | e/enter edit+apply | s save | r reload | c/esc back")
	status := titleStyle.Render("status: ") + m.message
	box := boxStyle.Width(max(80, m.width-2)).Render(strings.Join(lines, "\n"))
	return strings.Join([]string{box, editLine, status, help}, "\n")
}

func shortID(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:8]
}

func emptyDefault(s, d string) string {
	if strings.TrimSpace(s) == "" {
		return d
	}
	return s
}

func timeAgo(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	d := time.Since(t).Round(time.Second)
	if d < 0 {
		d = 0
	}
	return d.String() + " ago"
}

func trimText(s string, n int) string {
	if n < 4 || len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func lastUpdatedText(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format(time.TimeOnly)
}
