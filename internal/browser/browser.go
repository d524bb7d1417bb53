package browser

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Find when no element matches the locator.
	ErrNotFound = errors.New("element not found")
	// ErrDetached is returned by Probe when a handle no longer points into the live document.
	ErrDetached = errors.New("element detached from document")
	// ErrUnsupported is returned by backends that cannot perform an action.
	ErrUnsupported = errors.New("operation not supported by backend")
)

// Script is a unit of code evaluated atomically inside the page realm.
// Backends that cannot evaluate JavaScript dispatch on Name instead.
type Script struct {
	Name   string
	Source string
}

// Locator addresses one element. Frames lists the CSS selectors of the
// enclosing iframe elements from the top document down.
type Locator struct {
	Frames []string `json:"frames,omitempty"`
	CSS    string   `json:"css,omitempty"`
	XPath  string   `json:"xpath,omitempty"`
}

type Executor interface {
	Execute(ctx context.Context, script Script, args any) (json.RawMessage, error)
}

type Finder interface {
	Find(ctx context.Context, loc Locator) (ElementHandle, error)
}

// ElementHandle is an opaque reference to a live element.
type ElementHandle interface {
	Probe(ctx context.Context) error
	Click(ctx context.Context) error
	Fill(ctx context.Context, text string) error
	Hover(ctx context.Context) error
	Screenshot(ctx context.Context) ([]byte, error)
	DragTo(ctx context.Context, target ElementHandle) error
}

// Releaser is implemented by handles that pin resources in the page.
type Releaser interface {
	Release(ctx context.Context) error
}

// SessionPinner is implemented by backends that serve several browser
// sessions at once. PinSession names the session a call with ctx reaches.
type SessionPinner interface {
	PinSession(ctx context.Context) (string, error)
}

// SessionNavigator is implemented by multi-session backends. fn runs when
// the document of session changes or the session goes away; url is empty
// in the latter case.
type SessionNavigator interface {
	OnSessionNavigate(fn func(session, url string))
}

// Browser is the full backend surface used by the tool layer.
type Browser interface {
	Executor
	Finder
	Navigate(ctx context.Context, url string) (NavigateResult, error)
	// OnNavigate registers fn to run after the top-level document changes.
	OnNavigate(fn func(url string))
	Close() error
}

type NavigateResult struct {
	URL string `json:"url"`
}

// Target scopes a single call. SessionID picks the extension session that
// serves it; Timeout replaces the backend default for calls that arrive
// without a deadline.
type Target struct {
	SessionID string
	Timeout   time.Duration
}

type targetKey struct{}

func WithTarget(ctx context.Context, target Target) context.Context {
	if target == (Target{}) {
		return ctx
	}
	return context.WithValue(ctx, targetKey{}, target)
}

func TargetFromContext(ctx context.Context) (Target, bool) {
	target, ok := ctx.Value(targetKey{}).(Target)
	return target, ok
}

// CallTimeout returns the Target timeout carried by ctx, or def.
func CallTimeout(ctx context.Context, def time.Duration) time.Duration {
	if target, ok := TargetFromContext(ctx); ok && target.Timeout > 0 {
		return target.Timeout
	}
	return def
}

// WithSession returns ctx targeted at session, keeping any timeout already
// set on it.
func WithSession(ctx context.Context, session string) context.Context {
	target, _ := TargetFromContext(ctx)
	target.SessionID = session
	return WithTarget(ctx, target)
}
