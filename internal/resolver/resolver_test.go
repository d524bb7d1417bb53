package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/adityalohuni/uidsnap/internal/browser"
	"github.com/adityalohuni/uidsnap/internal/page"
)

type fakeHandle struct {
	name  string
	alive bool
}

func (h *fakeHandle) Probe(context.Context) error {
	if !h.alive {
		return browser.ErrDetached
	}
	return nil
}
func (h *fakeHandle) Click(context.Context) error                         { return nil }
func (h *fakeHandle) Fill(context.Context, string) error                  { return nil }
func (h *fakeHandle) Hover(context.Context) error                         { return nil }
func (h *fakeHandle) Screenshot(context.Context) ([]byte, error)          { return nil, nil }
func (h *fakeHandle) DragTo(context.Context, browser.ElementHandle) error { return nil }

type fakeFinder struct {
	css    map[string]*fakeHandle
	xpath  map[string]*fakeHandle
	calls  []browser.Locator
	during func()
	err    error
}

func (f *fakeFinder) Find(_ context.Context, loc browser.Locator) (browser.ElementHandle, error) {
	f.calls = append(f.calls, loc)
	if f.during != nil {
		f.during()
	}
	if f.err != nil {
		return nil, f.err
	}
	if loc.CSS != "" {
		if h, ok := f.css[loc.CSS]; ok {
			return h, nil
		}
	}
	if loc.XPath != "" {
		if h, ok := f.xpath[loc.XPath]; ok {
			return h, nil
		}
	}
	return nil, browser.ErrNotFound
}

func newFixture() (*Resolver, *fakeFinder) {
	f := &fakeFinder{css: map[string]*fakeHandle{}, xpath: map[string]*fakeHandle{}}
	r := New(f, Options{})
	r.Install(2, []page.UIDEntry{
		{UID: "2_1", CSS: "body > button", XPath: "/html/body/button"},
		{UID: "2_2", CSS: "body > a", XPath: "/html/body/a"},
	})
	return r, f
}

func TestValidateUID(t *testing.T) {
	r, _ := newFixture()
	cases := []struct {
		uid  string
		want error
	}{
		{"2_1", nil},
		{"21", ErrInvalidUIDFormat},
		{"x_1", ErrInvalidUIDFormat},
		{"_1", ErrInvalidUIDFormat},
		{"2_", ErrInvalidUIDFormat},
		{"1_1", ErrStaleSnapshot},
		{"3_1", ErrStaleSnapshot},
	}
	for _, tc := range cases {
		_, err := r.ValidateUID(tc.uid)
		if tc.want == nil && err != nil {
			t.Errorf("ValidateUID(%q) unexpected error %v", tc.uid, err)
		}
		if tc.want != nil && !errors.Is(err, tc.want) {
			t.Errorf("ValidateUID(%q) = %v, want %v", tc.uid, err, tc.want)
		}
	}
}

func TestResolveUIDToSelector(t *testing.T) {
	r, _ := newFixture()
	sel, err := r.ResolveUIDToSelector("2_2")
	if err != nil || sel != "body > a" {
		t.Fatalf("got %q, %v", sel, err)
	}
	again, _ := r.ResolveUIDToSelector("2_2")
	if again != sel {
		t.Fatalf("lookup not idempotent: %q vs %q", again, sel)
	}
	if _, err := r.ResolveUIDToSelector("2_9"); !errors.Is(err, ErrUIDNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	var rerr *Error
	if _, err := r.ResolveUIDToSelector("1_1"); !errors.As(err, &rerr) || rerr.Current != 2 {
		t.Fatalf("expected typed stale error, got %v", err)
	}
}

func TestResolveUIDToElementCachesAndProbes(t *testing.T) {
	r, f := newFixture()
	first := &fakeHandle{name: "first", alive: true}
	f.css["body > button"] = first

	h, err := r.ResolveUIDToElement(context.Background(), "2_1")
	if err != nil || h != first {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := r.ResolveUIDToElement(context.Background(), "2_1"); err != nil {
		t.Fatalf("cached resolve: %v", err)
	}
	if len(f.calls) != 1 {
		t.Fatalf("live cached handle should skip lookup, got %d calls", len(f.calls))
	}

	first.alive = false
	second := &fakeHandle{name: "second", alive: true}
	f.css["body > button"] = second
	h, err = r.ResolveUIDToElement(context.Background(), "2_1")
	if err != nil || h != second {
		t.Fatalf("expected re-resolved handle, got %v %v", h, err)
	}
	if len(f.calls) != 2 {
		t.Fatalf("dead handle should trigger a lookup, got %d calls", len(f.calls))
	}
}

func TestResolveFallsBackToXPath(t *testing.T) {
	r, f := newFixture()
	viaXPath := &fakeHandle{alive: true}
	f.xpath["/html/body/a"] = viaXPath
	h, err := r.ResolveUIDToElement(context.Background(), "2_2")
	if err != nil || h != viaXPath {
		t.Fatalf("expected xpath handle, got %v %v", h, err)
	}
	if len(f.calls) != 2 || f.calls[1].XPath == "" {
		t.Fatalf("unexpected lookups %#v", f.calls)
	}
}

func TestResolveElementNotFound(t *testing.T) {
	r, _ := newFixture()
	_, err := r.ResolveUIDToElement(context.Background(), "2_1")
	if !errors.Is(err, ErrElementNotFound) || !NeedsSnapshot(err) {
		t.Fatalf("expected element not found, got %v", err)
	}
}

func TestResolveTransportErrorIsNotNotFound(t *testing.T) {
	r, f := newFixture()
	f.err = context.DeadlineExceeded
	_, err := r.ResolveUIDToElement(context.Background(), "2_1")
	if !errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrElementNotFound) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestResolveStaleWhenGenerationChangesMidFlight(t *testing.T) {
	r, f := newFixture()
	f.css["body > button"] = &fakeHandle{alive: true}
	f.during = func() { r.Install(3, nil) }
	_, err := r.ResolveUIDToElement(context.Background(), "2_1")
	if !errors.Is(err, ErrStaleSnapshot) {
		t.Fatalf("expected stale error, got %v", err)
	}
	if r.CacheSize() != 0 {
		t.Fatalf("stale result must not be cached")
	}
}

func TestClearInvalidates(t *testing.T) {
	r, f := newFixture()
	f.css["body > button"] = &fakeHandle{alive: true}
	if _, err := r.ResolveUIDToElement(context.Background(), "2_1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	r.Clear()
	if r.CacheSize() != 0 || r.Len() != 0 {
		t.Fatalf("clear left state behind")
	}
	if _, err := r.ResolveUIDToSelector("2_1"); !errors.Is(err, ErrUIDNotFound) && !errors.Is(err, ErrStaleSnapshot) {
		t.Fatalf("expected not found or stale after clear, got %v", err)
	}
}

type releasingHandle struct {
	fakeHandle
	released chan struct{}
}

func (h *releasingHandle) Release(context.Context) error {
	close(h.released)
	return nil
}

func TestNewGenerationReleasesCachedHandles(t *testing.T) {
	h := &releasingHandle{fakeHandle: fakeHandle{alive: true}, released: make(chan struct{})}
	finder := finderFunc(func(context.Context, browser.Locator) (browser.ElementHandle, error) { return h, nil })
	r := New(finder, Options{})
	r.Install(1, []page.UIDEntry{{UID: "1_1", CSS: "button"}})
	if _, err := r.ResolveUIDToElement(context.Background(), "1_1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	r.Install(2, nil)
	select {
	case <-h.released:
	case <-time.After(2 * time.Second):
		t.Fatalf("handle from the old generation was not released")
	}
}

type finderFunc func(context.Context, browser.Locator) (browser.ElementHandle, error)

func (f finderFunc) Find(ctx context.Context, loc browser.Locator) (browser.ElementHandle, error) {
	return f(ctx, loc)
}

func TestResolveSpanningClearIsNotCached(t *testing.T) {
	r, f := newFixture()
	f.css["body > button"] = &fakeHandle{alive: true}
	f.during = func() { r.Clear() }
	_, err := r.ResolveUIDToElement(context.Background(), "2_1")
	if !errors.Is(err, ErrUIDNotFound) {
		t.Fatalf("expected not found after concurrent clear, got %v", err)
	}
	if r.CacheSize() != 0 {
		t.Fatalf("handle cached across clear")
	}
}

func TestResolveRoutesToOwningSession(t *testing.T) {
	var seen []string
	finder := finderFunc(func(ctx context.Context, _ browser.Locator) (browser.ElementHandle, error) {
		target, _ := browser.TargetFromContext(ctx)
		seen = append(seen, target.SessionID)
		return &fakeHandle{alive: true}, nil
	})
	r := New(finder, Options{})
	r.InstallSession(1, "tab-a", []page.UIDEntry{{UID: "1_1", CSS: "button"}})

	other := browser.WithTarget(context.Background(), browser.Target{SessionID: "tab-b"})
	_, err := r.ResolveUIDToElement(other, "1_1")
	if !errors.Is(err, ErrSessionMismatch) || !NeedsSnapshot(err) {
		t.Fatalf("expected session mismatch, got %v", err)
	}
	if _, err := r.ResolveUIDToElement(context.Background(), "1_1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(seen) != 1 || seen[0] != "tab-a" {
		t.Fatalf("lookup went to %v", seen)
	}
}
