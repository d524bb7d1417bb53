// Package resolver maps snapshot uids back to live elements.
package resolver

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adityalohuni/uidsnap/internal/browser"
	"github.com/adityalohuni/uidsnap/internal/page"
)

const releaseTimeout = 5 * time.Second

type Options struct {
	Logger *slog.Logger
	Now    func() time.Time
}

type cacheEntry struct {
	selector   string
	xpath      string
	handle     browser.ElementHandle
	snapshotID int
	timestamp  time.Time
}

// Resolver holds the uid table of the current snapshot generation and a
// soft cache of resolved element handles.
type Resolver struct {
	mu         sync.RWMutex
	snapshotID int
	// session is the browser session the uid table was captured from.
	// Empty on single-session backends.
	session string
	// epoch changes whenever the uid table is replaced or wiped.
	epoch   uint64
	entries map[string]page.UIDEntry
	cache   map[string]cacheEntry

	finder browser.Finder
	logger *slog.Logger
	now    func() time.Time
}

func New(finder browser.Finder, opts Options) *Resolver {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Resolver{
		entries: make(map[string]page.UIDEntry),
		cache:   make(map[string]cacheEntry),
		finder:  finder,
		logger:  logger,
		now:     now,
	}
}

// SetSnapshotID makes id the current generation and drops cached handles.
func (r *Resolver) SetSnapshotID(id int) {
	r.mu.Lock()
	r.snapshotID = id
	r.epoch++
	dropped := r.dropCacheLocked()
	r.mu.Unlock()
	r.release(dropped)
}

func (r *Resolver) SnapshotID() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotID
}

// Session returns the browser session of the current uid table.
func (r *Resolver) Session() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.session
}

// StoreUIDMappings replaces the uid table.
func (r *Resolver) StoreUIDMappings(entries []page.UIDEntry) {
	table := make(map[string]page.UIDEntry, len(entries))
	for _, e := range entries {
		table[e.UID] = e
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = table
	r.epoch++
}

// Install switches to generation id with entries in one step.
func (r *Resolver) Install(id int, entries []page.UIDEntry) {
	r.InstallSession(id, "", entries)
}

// InstallSession is Install for a table captured from session. Later
// resolutions go to that session.
func (r *Resolver) InstallSession(id int, session string, entries []page.UIDEntry) {
	table := make(map[string]page.UIDEntry, len(entries))
	for _, e := range entries {
		table[e.UID] = e
	}
	r.mu.Lock()
	r.snapshotID = id
	r.session = session
	r.epoch++
	r.entries = table
	dropped := r.dropCacheLocked()
	r.mu.Unlock()
	r.release(dropped)
}

// Len returns the size of the current uid table.
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// ValidateUID checks the uid shape and that it belongs to the current
// generation. It returns the generation encoded in the uid.
func (r *Resolver) ValidateUID(uid string) (int, error) {
	gen, err := parseUID(uid)
	if err != nil {
		return 0, &Error{Op: "validate", UID: uid, Err: err}
	}
	current := r.SnapshotID()
	if gen != current {
		return gen, &Error{Op: "validate", UID: uid, Current: current, Err: ErrStaleSnapshot}
	}
	return gen, nil
}

func parseUID(uid string) (int, error) {
	prefix, ordinal, ok := strings.Cut(uid, "_")
	if !ok || prefix == "" || ordinal == "" {
		return 0, ErrInvalidUIDFormat
	}
	gen, err := strconv.Atoi(prefix)
	if err != nil || gen < 0 {
		return 0, ErrInvalidUIDFormat
	}
	if _, err := strconv.Atoi(ordinal); err != nil {
		return 0, ErrInvalidUIDFormat
	}
	return gen, nil
}

// Lookup returns the full entry for uid.
func (r *Resolver) Lookup(uid string) (page.UIDEntry, error) {
	if _, err := r.ValidateUID(uid); err != nil {
		return page.UIDEntry{}, err
	}
	r.mu.RLock()
	entry, ok := r.entries[uid]
	r.mu.RUnlock()
	if !ok {
		return page.UIDEntry{}, &Error{Op: "lookup", UID: uid, Err: ErrUIDNotFound}
	}
	return entry, nil
}

// ResolveUIDToSelector returns the CSS selector recorded for uid.
func (r *Resolver) ResolveUIDToSelector(uid string) (string, error) {
	entry, err := r.Lookup(uid)
	if err != nil {
		return "", err
	}
	return entry.CSS, nil
}

// ResolveUIDToElement returns a live handle for uid. A cached handle is
// reused only while its liveness probe succeeds. The CSS selector is tried
// first and the XPath second.
func (r *Resolver) ResolveUIDToElement(ctx context.Context, uid string) (browser.ElementHandle, error) {
	gen, err := r.ValidateUID(uid)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	entry, ok := r.entries[uid]
	cached, hit := r.cache[uid]
	epoch, owner := r.epoch, r.session
	r.mu.RUnlock()
	if !ok {
		return nil, &Error{Op: "resolve", UID: uid, Err: ErrUIDNotFound}
	}
	if owner != "" {
		if target, _ := browser.TargetFromContext(ctx); target.SessionID != "" && target.SessionID != owner {
			return nil, &Error{Op: "resolve", UID: uid, Err: ErrSessionMismatch}
		}
		ctx = browser.WithSession(ctx, owner)
	}

	if hit && cached.snapshotID == gen {
		if err := cached.handle.Probe(ctx); err == nil {
			return cached.handle, nil
		}
		r.logger.Debug("resolver: cached handle failed probe", "uid", uid)
		r.evict(uid, cached.handle)
		if rel, ok := cached.handle.(browser.Releaser); ok {
			_ = rel.Release(ctx)
		}
	}

	handle, err := r.find(ctx, entry)
	if err != nil {
		if errors.Is(err, browser.ErrNotFound) {
			return nil, &Error{Op: "resolve", UID: uid, Err: ErrElementNotFound}
		}
		return nil, &Error{Op: "resolve", UID: uid, Err: err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snapshotID != gen || r.epoch != epoch {
		if rel, ok := handle.(browser.Releaser); ok {
			r.release([]browser.Releaser{rel})
		}
		if r.snapshotID != gen {
			return nil, &Error{Op: "resolve", UID: uid, Current: r.snapshotID, Err: ErrStaleSnapshot}
		}
		// the table was wiped or replaced while the lookup ran
		return nil, &Error{Op: "resolve", UID: uid, Err: ErrUIDNotFound}
	}
	r.cache[uid] = cacheEntry{
		selector:   entry.CSS,
		xpath:      entry.XPath,
		handle:     handle,
		snapshotID: gen,
		timestamp:  r.now(),
	}
	return handle, nil
}

func (r *Resolver) find(ctx context.Context, entry page.UIDEntry) (browser.ElementHandle, error) {
	handle, err := r.finder.Find(ctx, browser.Locator{Frames: entry.Frames, CSS: entry.CSS})
	if err == nil {
		return handle, nil
	}
	if !errors.Is(err, browser.ErrNotFound) || entry.XPath == "" {
		return nil, err
	}
	r.logger.Debug("resolver: css lookup missed, trying xpath", "uid", entry.UID, "css", entry.CSS)
	return r.finder.Find(ctx, browser.Locator{Frames: entry.Frames, XPath: entry.XPath})
}

func (r *Resolver) evict(uid string, handle browser.ElementHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.cache[uid]; ok && cur.handle == handle {
		delete(r.cache, uid)
	}
}

// Clear wipes the uid table and the handle cache. The generation id is
// kept, so wiped uids of the current generation report ErrUIDNotFound.
func (r *Resolver) Clear() {
	r.mu.Lock()
	r.entries = make(map[string]page.UIDEntry)
	r.session = ""
	r.epoch++
	dropped := r.dropCacheLocked()
	r.mu.Unlock()
	r.release(dropped)
}

func (r *Resolver) dropCacheLocked() []browser.Releaser {
	var out []browser.Releaser
	for _, c := range r.cache {
		if rel, ok := c.handle.(browser.Releaser); ok {
			out = append(out, rel)
		}
	}
	r.cache = make(map[string]cacheEntry)
	return out
}

// release lets go of page-side references in the background. The callers
// hold no context and the page may already be gone, so failures are only
// logged.
func (r *Resolver) release(handles []browser.Releaser) {
	if len(handles) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		for _, h := range handles {
			if err := h.Release(ctx); err != nil {
				r.logger.Debug("resolver: release failed", "error", err)
			}
		}
	}()
}

// CacheSize returns the number of cached handles.
func (r *Resolver) CacheSize() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}
