package mcpserver

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/adityalohuni/uidsnap/internal/browser/htmlbrowser"
	"github.com/adityalohuni/uidsnap/internal/page"
	"github.com/adityalohuni/uidsnap/internal/resolver"
	"github.com/adityalohuni/uidsnap/internal/session"
	"github.com/adityalohuni/uidsnap/internal/snapshot"
)

var testImpl = &mcp.Implementation{Name: "uidsnap-test", Version: "0.1.0"}

const testPage = `<html><head><title>Form</title></head><body>
<form><input id="q" name="q" placeholder="Search"><input type="checkbox" id="agree" aria-label="Agree">
<button id="go">Go</button></form>
</body></html>`

type harness struct {
	browser  *htmlbrowser.Browser
	manager  *snapshot.Manager
	registry *session.Registry
	session  *mcp.ClientSession
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	b := htmlbrowser.New(htmlbrowser.Options{})
	if err := b.LoadString("mem://form", testPage); err != nil {
		t.Fatalf("load: %v", err)
	}
	m := snapshot.NewManager(b, resolver.New(b, resolver.Options{}), snapshot.ManagerOptions{})
	reg := session.NewRegistry()
	srv := New(b, m, Options{Implementation: testImpl, Registry: reg})

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() {
		_ = srv.Run(ctx, serverT)
	}()

	client := mcp.NewClient(testImpl, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { cs.Close() })
	return &harness{browser: b, manager: m, registry: reg, session: cs}
}

func (h *harness) call(t *testing.T, name string, args any) *mcp.CallToolResult {
	t.Helper()
	result, err := h.session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	return result
}

func text(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatalf("empty content")
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

// callOK invokes a tool that must succeed and decodes its JSON output.
func (h *harness) callOK(t *testing.T, name string, args any, out any) {
	t.Helper()
	result := h.call(t, name, args)
	body := text(t, result)
	if result.IsError {
		t.Fatalf("CallTool(%s) tool error: %s", name, body)
	}
	if out == nil {
		return
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		t.Fatalf("decode %s output %q: %v", name, body, err)
	}
}

func (h *harness) callErr(t *testing.T, name string, args any) string {
	t.Helper()
	result := h.call(t, name, args)
	if !result.IsError {
		t.Fatalf("CallTool(%s) should fail, got %s", name, text(t, result))
	}
	return text(t, result)
}

func uidOf(t *testing.T, m *snapshot.Manager, tag, id string) string {
	t.Helper()
	snap, ok := m.Store().Latest()
	if !ok {
		t.Fatalf("no snapshot stored")
	}
	var found string
	var walk func(*page.SnapshotNode)
	walk = func(n *page.SnapshotNode) {
		if found != "" {
			return
		}
		if n.Tag == tag && (id == "" || strings.Contains(n.Name, id)) {
			found = n.UID
			return
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(snap.Root)
	if found == "" {
		t.Fatalf("no %s node named %q", tag, id)
	}
	return found
}

func TestSnapshotTool(t *testing.T) {
	h := newHarness(t)
	var out SnapshotOutput
	h.callOK(t, "browser.snapshot", map[string]any{}, &out)
	if out.SnapshotID != 1 || out.Title != "Form" || out.UIDCount == 0 {
		t.Fatalf("unexpected output %+v", out)
	}
	if !strings.Contains(out.Text, "uid=1_") || !strings.Contains(out.Text, `"Go"`) {
		t.Fatalf("unexpected text:\n%s", out.Text)
	}

	var scoped SnapshotOutput
	h.callOK(t, "browser.snapshot", map[string]any{"selector": "form", "omitText": true}, &scoped)
	if scoped.SnapshotID != 2 || scoped.UIDCount >= out.UIDCount {
		t.Fatalf("scoped snapshot %+v", scoped)
	}

	msg := h.callErr(t, "browser.snapshot", map[string]any{"selector": "#missing"})
	if !strings.Contains(msg, "not found") {
		t.Fatalf("selector error = %q", msg)
	}
}

func TestActionsByUID(t *testing.T) {
	h := newHarness(t)
	h.callOK(t, "browser.snapshot", map[string]any{}, nil)

	input := uidOf(t, h.manager, "input", "Search")
	h.callOK(t, "browser.fill", map[string]any{"uid": input, "text": "gophers"}, nil)

	agree := uidOf(t, h.manager, "input", "Agree")
	var act ActionOutput
	h.callOK(t, "browser.click", map[string]any{"uid": agree}, &act)
	if act.Status != "ok" || act.UID != agree {
		t.Fatalf("click output %+v", act)
	}

	button := uidOf(t, h.manager, "button", "Go")
	h.callOK(t, "browser.hover", map[string]any{"uid": button}, nil)
	h.callOK(t, "browser.drag", map[string]any{"uid": button, "targetUid": input}, nil)

	html := h.browser.HTML()
	if !strings.Contains(html, `value="gophers"`) || !strings.Contains(html, `checked=""`) {
		t.Fatalf("document not updated: %s", html)
	}
	if got := len(h.browser.Events()); got != 4 {
		t.Fatalf("events = %d", got)
	}

	var res ResolveOutput
	h.callOK(t, "browser.resolve_uid", map[string]any{"uid": button}, &res)
	if res.Selector == "" || res.SnapshotID != 1 {
		t.Fatalf("resolve output %+v", res)
	}
}

func TestStaleUIDAsksForSnapshot(t *testing.T) {
	h := newHarness(t)
	h.callOK(t, "browser.snapshot", map[string]any{}, nil)
	old := uidOf(t, h.manager, "button", "Go")
	h.callOK(t, "browser.snapshot", map[string]any{}, nil)

	msg := h.callErr(t, "browser.click", map[string]any{"uid": old})
	if !strings.Contains(msg, "stale") || !strings.Contains(msg, "browser.snapshot") {
		t.Fatalf("stale message = %q", msg)
	}
	msg = h.callErr(t, "browser.click", map[string]any{"uid": "button-7"})
	if !strings.Contains(msg, "invalid uid format") {
		t.Fatalf("format message = %q", msg)
	}
	msg = h.callErr(t, "browser.click", map[string]any{"uid": "2_999"})
	if !strings.Contains(msg, "not found") {
		t.Fatalf("missing uid message = %q", msg)
	}
}

func TestClearAndNavigateInvalidate(t *testing.T) {
	h := newHarness(t)
	h.callOK(t, "browser.snapshot", map[string]any{}, nil)
	uid := uidOf(t, h.manager, "button", "Go")

	var cleared ClearOutput
	h.callOK(t, "browser.clear_snapshot", map[string]any{}, &cleared)
	if !cleared.Cleared || cleared.LastSnapshotID != 1 {
		t.Fatalf("clear output %+v", cleared)
	}
	h.callErr(t, "browser.click", map[string]any{"uid": uid})

	h.callOK(t, "browser.snapshot", map[string]any{}, nil)
	uid = uidOf(t, h.manager, "button", "Go")

	path := filepath.Join(t.TempDir(), "next.html")
	if err := os.WriteFile(path, []byte(testPage), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	h.callOK(t, "browser.navigate", map[string]any{"url": path}, nil)
	msg := h.callErr(t, "browser.click", map[string]any{"uid": uid})
	if !strings.Contains(msg, "browser.snapshot") {
		t.Fatalf("navigate should invalidate uids: %q", msg)
	}
}

func TestScreenshotUnsupportedByStaticBackend(t *testing.T) {
	h := newHarness(t)
	h.callOK(t, "browser.snapshot", map[string]any{}, nil)
	msg := h.callErr(t, "browser.screenshot", map[string]any{"uid": uidOf(t, h.manager, "button", "Go")})
	if !strings.Contains(msg, "not supported") {
		t.Fatalf("screenshot message = %q", msg)
	}
}

func TestSnapshotResources(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.session.ReadResource(ctx, &mcp.ReadResourceParams{URI: "snapshot://latest"}); err == nil {
		t.Fatalf("latest should be missing before any snapshot")
	}
	h.callOK(t, "browser.snapshot", map[string]any{}, nil)

	for _, uri := range []string{"snapshot://latest", "snapshot://1"} {
		res, err := h.session.ReadResource(ctx, &mcp.ReadResourceParams{URI: uri})
		if err != nil {
			t.Fatalf("read %s: %v", uri, err)
		}
		var snap page.Snapshot
		if err := json.Unmarshal([]byte(res.Contents[0].Text), &snap); err != nil {
			t.Fatalf("decode %s: %v", uri, err)
		}
		if snap.SnapshotID != 1 || snap.Root == nil {
			t.Fatalf("%s = %+v", uri, snap)
		}
	}
	if _, err := h.session.ReadResource(ctx, &mcp.ReadResourceParams{URI: "snapshot://9"}); err == nil {
		t.Fatalf("unknown snapshot should not resolve")
	}
}
