package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"github.com/adityalohuni/uidsnap/internal/browser"
	"github.com/adityalohuni/uidsnap/internal/browser/htmlbrowser"
	"github.com/adityalohuni/uidsnap/internal/page"
	"github.com/adityalohuni/uidsnap/internal/resolver"
)

const scoped = `<html><head><title>Scoped</title></head><body>
<div id="app"><button>Inside</button></div><button>Outside</button>
</body></html>`

func newManager(t *testing.T, src string) (*Manager, *htmlbrowser.Browser) {
	t.Helper()
	b := htmlbrowser.New(htmlbrowser.Options{})
	if err := b.LoadString("mem://test", src); err != nil {
		t.Fatalf("load: %v", err)
	}
	m := NewManager(b, resolver.New(b, resolver.Options{}), ManagerOptions{})
	return m, b
}

func named(n *page.SnapshotNode, name string) *page.SnapshotNode {
	if n.Name == name {
		return n
	}
	for _, c := range n.Children {
		if found := named(c, name); found != nil {
			return found
		}
	}
	return nil
}

func TestTakeSnapshot(t *testing.T) {
	m, _ := newManager(t, scoped)
	res, err := m.TakeSnapshot(context.Background(), Options{})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if res.JSON.SnapshotID != 1 || res.JSON.Title != "Scoped" {
		t.Fatalf("unexpected snapshot header %+v", res.JSON)
	}
	if res.UIDCount != res.JSON.Root.Count() {
		t.Fatalf("uid count %d, tree has %d nodes", res.UIDCount, res.JSON.Root.Count())
	}
	if !strings.Contains(res.Text, `"Inside"`) || !strings.Contains(res.Text, "uid=1_") {
		t.Fatalf("unexpected text:\n%s", res.Text)
	}
	inside := named(res.JSON.Root, "Inside")
	if inside == nil {
		t.Fatalf("button missing from tree")
	}
	sel, err := m.Resolver().ResolveUIDToSelector(inside.UID)
	if err != nil || sel == "" {
		t.Fatalf("resolve selector: %q %v", sel, err)
	}
	if _, err := m.Resolver().ResolveUIDToElement(context.Background(), inside.UID); err != nil {
		t.Fatalf("resolve element: %v", err)
	}
	if _, ok := m.Store().Latest(); !ok {
		t.Fatalf("snapshot not stored")
	}
}

func TestSecondSnapshotMakesFirstStale(t *testing.T) {
	m, _ := newManager(t, scoped)
	ctx := context.Background()
	first, err := m.TakeSnapshot(ctx, Options{})
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := m.TakeSnapshot(ctx, Options{})
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	old := named(first.JSON.Root, "Outside").UID
	cur := named(second.JSON.Root, "Outside").UID
	if !strings.HasPrefix(cur, "2_") {
		t.Fatalf("second generation uid %q", cur)
	}
	if _, err := m.Resolver().ResolveUIDToSelector(old); !errors.Is(err, resolver.ErrStaleSnapshot) {
		t.Fatalf("expected stale, got %v", err)
	}
	if _, err := m.Resolver().ResolveUIDToSelector(cur); err != nil {
		t.Fatalf("current uid: %v", err)
	}
	if ids := m.Store().IDs(); len(ids) != 2 {
		t.Fatalf("history = %v", ids)
	}
}

func TestRemovedElementIsNotFound(t *testing.T) {
	m, b := newManager(t, scoped)
	ctx := context.Background()
	res, err := m.TakeSnapshot(ctx, Options{})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	uid := named(res.JSON.Root, "Inside").UID
	if _, err := m.Resolver().ResolveUIDToElement(ctx, uid); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	b.Mutate(func(doc *goquery.Document) { doc.Find("#app").Empty() })
	_, err = m.Resolver().ResolveUIDToElement(ctx, uid)
	if !errors.Is(err, resolver.ErrElementNotFound) {
		t.Fatalf("expected element not found, got %v", err)
	}
}

func TestScopedSnapshot(t *testing.T) {
	m, _ := newManager(t, scoped)
	ctx := context.Background()
	res, err := m.TakeSnapshot(ctx, Options{Selector: "#app"})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	root := res.JSON.Root
	if root.Tag != "div" || named(root, "Outside") != nil || named(root, "Inside") == nil {
		t.Fatalf("scope not applied: %s", res.Text)
	}

	_, err = m.TakeSnapshot(ctx, Options{Selector: "#nonexistent"})
	var serr *SelectorError
	if !errors.Is(err, ErrSelectorNotFound) || !errors.As(err, &serr) || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected selector not found, got %v", err)
	}
	if _, err := m.TakeSnapshot(ctx, Options{Selector: "div[["}); !errors.Is(err, ErrSelectorSyntax) {
		t.Fatalf("expected selector syntax error, got %v", err)
	}
}

func TestClearInvalidatesUIDs(t *testing.T) {
	m, _ := newManager(t, scoped)
	ctx := context.Background()
	res, err := m.TakeSnapshot(ctx, Options{})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	uid := named(res.JSON.Root, "Inside").UID
	m.Clear()
	_, err = m.Resolver().ResolveUIDToSelector(uid)
	if !errors.Is(err, resolver.ErrUIDNotFound) && !errors.Is(err, resolver.ErrStaleSnapshot) {
		t.Fatalf("expected uid to be invalid after clear, got %v", err)
	}
	if _, ok := m.Store().Latest(); ok {
		t.Fatalf("history survived clear")
	}
	next, err := m.TakeSnapshot(ctx, Options{})
	if err != nil || next.JSON.SnapshotID != 2 {
		t.Fatalf("counter should keep counting after clear: %d %v", next.JSON.SnapshotID, err)
	}
}

type gatedExecutor struct {
	inner   browser.Executor
	mu      sync.Mutex
	calls   int
	release chan struct{}
	started chan struct{}
}

func (g *gatedExecutor) Execute(ctx context.Context, s browser.Script, args any) (json.RawMessage, error) {
	g.mu.Lock()
	g.calls++
	call := g.calls
	g.mu.Unlock()
	if call == 1 {
		close(g.started)
		<-g.release
	}
	return g.inner.Execute(ctx, s, args)
}

func TestSupersededGenerationIsDiscarded(t *testing.T) {
	b := htmlbrowser.New(htmlbrowser.Options{})
	if err := b.LoadString("mem://test", scoped); err != nil {
		t.Fatalf("load: %v", err)
	}
	gate := &gatedExecutor{inner: b, release: make(chan struct{}), started: make(chan struct{})}
	m := NewManager(gate, resolver.New(b, resolver.Options{}), ManagerOptions{})
	ctx := context.Background()

	errc := make(chan error, 1)
	go func() {
		_, err := m.TakeSnapshot(ctx, Options{})
		errc <- err
	}()
	<-gate.started
	if _, err := m.TakeSnapshot(ctx, Options{}); err != nil {
		t.Fatalf("second: %v", err)
	}
	close(gate.release)

	err := <-errc
	var gerr *GenerationError
	if !errors.Is(err, ErrSuperseded) || !errors.Is(err, ErrGenerationFailed) || !errors.As(err, &gerr) || gerr.ID != 1 {
		t.Fatalf("expected superseded generation 1, got %v", err)
	}
	if m.Resolver().SnapshotID() != 2 {
		t.Fatalf("resolver generation = %d", m.Resolver().SnapshotID())
	}
}

type failingExecutor struct{}

func (failingExecutor) Execute(context.Context, browser.Script, any) (json.RawMessage, error) {
	return json.RawMessage(`"{\"root\":null}"`), nil
}

func TestEmptyCaptureIsGenerationFailure(t *testing.T) {
	m := NewManager(failingExecutor{}, resolver.New(nil, resolver.Options{}), ManagerOptions{})
	_, err := m.TakeSnapshot(context.Background(), Options{})
	if !errors.Is(err, ErrGenerationFailed) || resolver.NeedsSnapshot(err) {
		t.Fatalf("expected generation failure, got %v", err)
	}
}

// heldExecutor captures the page right away but hands the capture back
// only once release is closed.
type heldExecutor struct {
	inner    browser.Executor
	captured chan struct{}
	release  chan struct{}
}

func (h *heldExecutor) Execute(ctx context.Context, s browser.Script, args any) (json.RawMessage, error) {
	raw, err := h.inner.Execute(ctx, s, args)
	close(h.captured)
	<-h.release
	return raw, err
}

func TestNavigationDiscardsGenerationInFlight(t *testing.T) {
	b := htmlbrowser.New(htmlbrowser.Options{})
	if err := b.LoadString("mem://old", `<html><body><button>Save draft</button></body></html>`); err != nil {
		t.Fatalf("load: %v", err)
	}
	held := &heldExecutor{inner: b, captured: make(chan struct{}), release: make(chan struct{})}
	m := NewManager(held, resolver.New(b, resolver.Options{}), ManagerOptions{})
	b.OnNavigate(func(string) { m.Clear() })
	ctx := context.Background()

	errc := make(chan error, 1)
	go func() {
		_, err := m.TakeSnapshot(ctx, Options{})
		errc <- err
	}()
	<-held.captured
	if err := b.LoadString("mem://new", `<html><body><button>Delete account</button></body></html>`); err != nil {
		t.Fatalf("load: %v", err)
	}
	close(held.release)

	if err := <-errc; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected the pre-navigation generation to be discarded, got %v", err)
	}
	if n := m.Resolver().Len(); n != 0 {
		t.Fatalf("old document uids installed after clear: %d", n)
	}
	if _, err := m.Resolver().ResolveUIDToElement(ctx, "1_1"); !resolver.NeedsSnapshot(err) {
		t.Fatalf("expected resolution to ask for a snapshot, got %v", err)
	}
	if ev := b.Events(); len(ev) != 0 {
		t.Fatalf("new document was touched: %+v", ev)
	}
}

// pinnedExecutor reports a fixed default session like a multi-tab backend.
type pinnedExecutor struct {
	browser.Executor
	session string
}

func (p pinnedExecutor) PinSession(ctx context.Context) (string, error) {
	if target, ok := browser.TargetFromContext(ctx); ok && target.SessionID != "" {
		return target.SessionID, nil
	}
	return p.session, nil
}

func TestClearSessionOnlyClearsOwner(t *testing.T) {
	b := htmlbrowser.New(htmlbrowser.Options{})
	if err := b.LoadString("mem://test", scoped); err != nil {
		t.Fatalf("load: %v", err)
	}
	m := NewManager(pinnedExecutor{Executor: b, session: "tab-b"}, resolver.New(b, resolver.Options{}), ManagerOptions{})
	ctx := browser.WithTarget(context.Background(), browser.Target{SessionID: "tab-a"})
	res, err := m.TakeSnapshot(ctx, Options{})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if res.JSON.SessionID != "tab-a" || m.Session() != "tab-a" || m.Resolver().Session() != "tab-a" {
		t.Fatalf("session not recorded: %q %q", res.JSON.SessionID, m.Session())
	}
	if m.ClearSession("tab-b") || m.Resolver().Len() == 0 {
		t.Fatalf("navigation in another tab cleared the snapshot")
	}
	if !m.ClearSession("tab-a") || m.Resolver().Len() != 0 || m.Session() != "" {
		t.Fatalf("navigation in the owning tab did not clear")
	}
}
