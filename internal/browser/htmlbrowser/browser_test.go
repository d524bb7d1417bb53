package htmlbrowser

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"github.com/adityalohuni/uidsnap/internal/browser"
	"github.com/adityalohuni/uidsnap/internal/dom"
)

const fixture = `<!doctype html><html><head><title>Fixture</title></head><body>
<div id="app"><form><input id="q" name="q" value="old"><input type="checkbox" id="agree">
<select id="size"><option value="s">S</option><option value="m">M</option></select></form>
<button id="go">Go</button></div>
<iframe srcdoc="&lt;button id=inner&gt;Inner&lt;/button&gt;"></iframe>
<iframe src="https://other.example/"></iframe>
</body></html>`

func load(t *testing.T) *Browser {
	t.Helper()
	b := New(Options{})
	if err := b.LoadString("mem://fixture", fixture); err != nil {
		t.Fatalf("load: %v", err)
	}
	return b
}

func capture(t *testing.T, b *Browser, args dom.CaptureArgs) *dom.Capture {
	t.Helper()
	raw, err := b.Execute(context.Background(), browser.Script{Name: dom.ScriptName}, args)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	var c dom.Capture
	if err := json.Unmarshal(raw, &c); err != nil {
		t.Fatalf("decode: %v", err)
	}
	c.Link()
	return &c
}

func TestExecuteCapture(t *testing.T) {
	b := load(t)
	c := capture(t, b, dom.CaptureArgs{IncludeIframes: true})
	if c.Title != "Fixture" || c.URL != "mem://fixture" {
		t.Fatalf("unexpected header %q %q", c.Title, c.URL)
	}
	body := c.Root.Body()
	if body == nil || len(body.Children) != 3 {
		t.Fatalf("unexpected body %#v", body)
	}
	if f := body.Children[1].Frame; f == nil || !f.Accessible || f.Root == nil {
		t.Fatalf("srcdoc frame should be accessible: %#v", f)
	}
	if f := body.Children[2].Frame; f == nil || f.Accessible {
		t.Fatalf("src frame should be inaccessible: %#v", f)
	}
}

func TestExecuteSelectorScope(t *testing.T) {
	b := load(t)
	c := capture(t, b, dom.CaptureArgs{Selector: "#go"})
	if got := c.Start(); got == nil || got.ID() != "go" {
		t.Fatalf("scope resolved to %#v", got)
	}

	c = capture(t, b, dom.CaptureArgs{Selector: "#missing"})
	if c.SelectorError == nil || c.SelectorError.Kind != dom.SelectorNotFound {
		t.Fatalf("expected not found, got %#v", c.SelectorError)
	}
	c = capture(t, b, dom.CaptureArgs{Selector: "div[["})
	if c.SelectorError == nil || c.SelectorError.Kind != dom.SelectorSyntax {
		t.Fatalf("expected syntax error, got %#v", c.SelectorError)
	}
}

func TestExecuteRejectsOtherScripts(t *testing.T) {
	b := load(t)
	_, err := b.Execute(context.Background(), browser.Script{Name: "other"}, nil)
	if !errors.Is(err, browser.ErrUnsupported) {
		t.Fatalf("expected unsupported, got %v", err)
	}
}

func TestFindCSSXPathAndFrames(t *testing.T) {
	b := load(t)
	ctx := context.Background()
	if _, err := b.Find(ctx, browser.Locator{CSS: "#go"}); err != nil {
		t.Fatalf("css: %v", err)
	}
	if _, err := b.Find(ctx, browser.Locator{XPath: `//*[@id="go"]`}); err != nil {
		t.Fatalf("xpath: %v", err)
	}
	if _, err := b.Find(ctx, browser.Locator{Frames: []string{"body > iframe:nth-of-type(1)"}, CSS: "#inner"}); err != nil {
		t.Fatalf("frame: %v", err)
	}
	_, err := b.Find(ctx, browser.Locator{Frames: []string{"body > iframe:nth-of-type(2)"}, CSS: "button"})
	if !errors.Is(err, browser.ErrNotFound) {
		t.Fatalf("cross-origin frame should not resolve, got %v", err)
	}
	if _, err := b.Find(ctx, browser.Locator{CSS: "#nope"}); !errors.Is(err, browser.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestProbeDetectsRemoval(t *testing.T) {
	b := load(t)
	ctx := context.Background()
	h, err := b.Find(ctx, browser.Locator{CSS: "#go"})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if err := h.Probe(ctx); err != nil {
		t.Fatalf("probe: %v", err)
	}
	b.Mutate(func(doc *goquery.Document) { doc.Find("#go").Remove() })
	if err := h.Probe(ctx); !errors.Is(err, browser.ErrDetached) {
		t.Fatalf("expected detached, got %v", err)
	}
	if err := h.Click(ctx); !errors.Is(err, browser.ErrDetached) {
		t.Fatalf("click on detached element: %v", err)
	}
}

func TestActionsMutateDocument(t *testing.T) {
	b := load(t)
	ctx := context.Background()
	find := func(css string) browser.ElementHandle {
		h, err := b.Find(ctx, browser.Locator{CSS: css})
		if err != nil {
			t.Fatalf("find %s: %v", css, err)
		}
		return h
	}
	if err := find("#q").Fill(ctx, "new"); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if err := find("#agree").Click(ctx); err != nil {
		t.Fatalf("click: %v", err)
	}
	if err := find("#size").Fill(ctx, "m"); err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := find("#go").Fill(ctx, "x"); err == nil {
		t.Fatalf("button should not be fillable")
	}
	if _, err := find("#go").Screenshot(ctx); !errors.Is(err, browser.ErrUnsupported) {
		t.Fatalf("expected unsupported screenshot, got %v", err)
	}
	if err := find("#go").DragTo(ctx, find("#q")); err != nil {
		t.Fatalf("drag: %v", err)
	}

	c := capture(t, b, dom.CaptureArgs{})
	out := b.HTML()
	if !strings.Contains(out, `value="new"`) || !strings.Contains(out, `id="agree" checked=""`) {
		t.Fatalf("document not updated: %s", out)
	}
	form := c.Root.Body().Children[0].Children[0]
	if form.Children[2].Value != "m" {
		t.Fatalf("select value = %q", form.Children[2].Value)
	}
	events := b.Events()
	if len(events) != 4 || events[3].Kind != "drag" || events[3].Detail != "input#q" {
		t.Fatalf("unexpected events %#v", events)
	}
}

func TestNavigateFiresHooks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><a href="/x">x</a></body></html>`))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "page.html")
	if err := os.WriteFile(path, []byte(fixture), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	b := New(Options{})
	var seen []string
	b.OnNavigate(func(url string) { seen = append(seen, url) })
	ctx := context.Background()
	if _, err := b.Navigate(ctx, path); err != nil {
		t.Fatalf("navigate file: %v", err)
	}
	if _, err := b.Find(ctx, browser.Locator{CSS: "#go"}); err != nil {
		t.Fatalf("file document not loaded: %v", err)
	}
	if _, err := b.Navigate(ctx, srv.URL); err != nil {
		t.Fatalf("navigate http: %v", err)
	}
	if _, err := b.Find(ctx, browser.Locator{CSS: "#go"}); !errors.Is(err, browser.ErrNotFound) {
		t.Fatalf("old document still live: %v", err)
	}
	if len(seen) != 2 || seen[1] != srv.URL {
		t.Fatalf("hooks saw %v", seen)
	}
}
