// Package snapshot owns the snapshot generation counter. Each call to
// TakeSnapshot walks the page, installs the resulting uid table in the
// resolver and renders the tree as text.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adityalohuni/uidsnap/internal/browser"
	"github.com/adityalohuni/uidsnap/internal/dom"
	"github.com/adityalohuni/uidsnap/internal/page"
	"github.com/adityalohuni/uidsnap/internal/resolver"
	"github.com/adityalohuni/uidsnap/internal/walker"
)

var (
	ErrGenerationFailed = errors.New("snapshot generation failed")
	// ErrSuperseded means a newer snapshot started before this one finished.
	ErrSuperseded       = errors.New("superseded by a newer snapshot")
	ErrSelectorSyntax   = errors.New("invalid selector syntax")
	ErrSelectorNotFound = errors.New("no element found for selector")
)

// GenerationError reports why generation id produced no snapshot.
type GenerationError struct {
	ID  int
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("snapshot %d: %v", e.ID, e.Err)
}

func (e *GenerationError) Unwrap() []error {
	return []error{ErrGenerationFailed, e.Err}
}

// SelectorError is returned when a scoping selector cannot be applied.
type SelectorError struct {
	Selector string
	Message  string
	Err      error
}

func (e *SelectorError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%v: %s", e.Err, e.Selector)
}

func (e *SelectorError) Unwrap() error {
	return e.Err
}

type Options struct {
	Selector       string
	IncludeAll     bool
	IncludeIframes bool
	Format         page.FormatOptions
}

type Result struct {
	Text      string
	JSON      page.Snapshot
	UIDCount  int
	Truncated bool
}

type ManagerOptions struct {
	Logger *slog.Logger
	Now    func() time.Time
	// History is the number of snapshots kept for later reads.
	History int
	// Format is applied when a call leaves Options.Format empty.
	Format page.FormatOptions
	// MaxElements caps the in-page capture of every walk.
	MaxElements int
}

type Manager struct {
	mu      sync.Mutex
	counter int
	// inflight holds the generations still being walked.
	inflight map[int]*flight
	// session owns the installed generation.
	session  string
	exec     browser.Executor
	resolver *resolver.Resolver
	store    *page.Store
	format   page.FormatOptions
	maxElems int
	logger   *slog.Logger
	now      func() time.Time
}

func NewManager(exec browser.Executor, res *resolver.Resolver, opts ManagerOptions) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		inflight: make(map[int]*flight),
		exec:     exec,
		resolver: res,
		store:    page.NewStore(opts.History),
		format:   opts.Format,
		maxElems: opts.MaxElements,
		logger:   logger,
		now:      now,
	}
}

type flight struct {
	session string
	cleared bool
}

// TakeSnapshot starts a new generation and returns its text and JSON forms.
// A generation overtaken by a newer one, or by Clear, while it was being
// walked is discarded with ErrSuperseded.
func (m *Manager) TakeSnapshot(ctx context.Context, opts Options) (Result, error) {
	var session string
	if p, ok := m.exec.(browser.SessionPinner); ok {
		var err error
		if session, err = p.PinSession(ctx); err != nil {
			m.mu.Lock()
			m.counter++
			id := m.counter
			m.mu.Unlock()
			return Result{}, &GenerationError{ID: id, Err: err}
		}
		ctx = browser.WithSession(ctx, session)
	}

	m.mu.Lock()
	m.counter++
	id := m.counter
	fl := &flight{session: session}
	m.inflight[id] = fl
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.inflight, id)
		m.mu.Unlock()
	}()

	log := m.logger.With("snapshot_id", id)
	if session != "" {
		log = log.With("session", session)
	}
	started := m.now()
	res, err := walker.Run(ctx, m.exec, id, walker.Options{
		Selector:       opts.Selector,
		IncludeAll:     opts.IncludeAll,
		IncludeIframes: opts.IncludeIframes,
		MaxElements:    m.maxElems,
	})
	if err != nil {
		log.Warn("snapshot: walk failed", "error", err)
		return Result{}, &GenerationError{ID: id, Err: err}
	}
	if res.SelectorError != nil {
		return Result{}, selectorError(res.SelectorError)
	}
	if res.Tree == nil {
		return Result{}, &GenerationError{ID: id, Err: walker.ErrEmptyCapture}
	}

	snap := page.Snapshot{
		Root:       res.Tree,
		SnapshotID: id,
		Timestamp:  m.now(),
		Truncated:  res.Truncated,
		URL:        res.URL,
		Title:      res.Title,
		SessionID:  session,
	}

	m.mu.Lock()
	if m.counter != id || fl.cleared {
		m.mu.Unlock()
		log.Info("snapshot: discarded, superseded while walking", "cleared", fl.cleared)
		return Result{}, &GenerationError{ID: id, Err: ErrSuperseded}
	}
	m.resolver.InstallSession(id, session, res.UIDMap)
	m.session = session
	m.store.Put(snap)
	m.mu.Unlock()

	format := opts.Format
	if format == (page.FormatOptions{}) {
		format = m.format
	}
	log.Debug("snapshot: installed",
		"nodes", len(res.UIDMap),
		"truncated", res.Truncated,
		"elapsed", m.now().Sub(started),
	)
	return Result{
		Text:      page.Format(res.Tree, 0, format),
		JSON:      snap,
		UIDCount:  len(res.UIDMap),
		Truncated: res.Truncated,
	}, nil
}

func selectorError(se *dom.SelectorError) error {
	err := ErrSelectorNotFound
	if se.Kind == dom.SelectorSyntax {
		err = ErrSelectorSyntax
	}
	return &SelectorError{Selector: se.Selector, Message: se.Message, Err: err}
}

// Clear invalidates every issued uid, drops stored snapshots and discards
// generations still being walked. The generation counter keeps counting.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, fl := range m.inflight {
		fl.cleared = true
	}
	m.clearLocked()
}

// ClearSession handles a document change in session. Walks pinned to that
// session are discarded, and the installed generation is cleared when it
// belongs to session or to no session. It reports whether uids were
// invalidated.
func (m *Manager) ClearSession(session string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, fl := range m.inflight {
		if fl.session == session || fl.session == "" {
			fl.cleared = true
		}
	}
	if m.session != "" && m.session != session {
		return false
	}
	m.clearLocked()
	return true
}

func (m *Manager) clearLocked() {
	m.resolver.Clear()
	m.store.Clear()
	m.session = ""
	m.logger.Debug("snapshot: cleared", "last_snapshot_id", m.counter)
}

// Resolver returns the resolver the manager installs into.
func (m *Manager) Resolver() *resolver.Resolver {
	return m.resolver
}

// Store returns the snapshot history.
func (m *Manager) Store() *page.Store {
	return m.store
}

// Session returns the browser session of the installed generation.
func (m *Manager) Session() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Current returns the id of the last generation started.
func (m *Manager) Current() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counter
}
