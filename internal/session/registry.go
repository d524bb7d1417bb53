package session

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type ClientInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	Transport   string    `json:"transport,omitempty"`
	RemoteAddr  string    `json:"remote_addr,omitempty"`
	UserAgent   string    `json:"user_agent,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
	LastSeen    time.Time `json:"last_seen"`
	// Snapshots counts snapshots taken by this client. LastSnapshotID is
	// the generation of the most recent one.
	Snapshots      int    `json:"snapshots"`
	LastSnapshotID int    `json:"last_snapshot_id,omitempty"`
	Actions        int    `json:"actions"`
	LastTool       string `json:"last_tool,omitempty"`
}

type Registry struct {
	mu      sync.RWMutex
	clients map[string]*ClientInfo
	now     func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*ClientInfo), now: time.Now}
}

func (r *Registry) Register(id string, info ClientInfo) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == "" {
		id = uuid.New().String()
	}
	now := r.now()
	info.ID = id
	if info.ConnectedAt.IsZero() {
		info.ConnectedAt = now
	}
	info.LastSeen = now
	r.clients[id] = &info
	return id
}

func (r *Registry) Touch(id string, info ClientInfo) {
	if id == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touchLocked(id, info)
}

func (r *Registry) touchLocked(id string, info ClientInfo) *ClientInfo {
	now := r.now()
	if existing, ok := r.clients[id]; ok {
		if info.Name != "" {
			existing.Name = info.Name
		}
		if info.Transport != "" {
			existing.Transport = info.Transport
		}
		if info.RemoteAddr != "" {
			existing.RemoteAddr = info.RemoteAddr
		}
		if info.UserAgent != "" {
			existing.UserAgent = info.UserAgent
		}
		existing.LastSeen = now
		return existing
	}
	info.ID = id
	info.ConnectedAt = now
	info.LastSeen = now
	r.clients[id] = &info
	return &info
}

// RecordSnapshot notes that client id took snapshot generation snapshotID.
func (r *Registry) RecordSnapshot(id string, snapshotID int) {
	if id == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.touchLocked(id, ClientInfo{})
	c.Snapshots++
	c.LastSnapshotID = snapshotID
	c.LastTool = "browser.snapshot"
}

// RecordAction notes a uid-addressed tool call by client id.
func (r *Registry) RecordAction(id, tool string) {
	if id == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.touchLocked(id, ClientInfo{})
	c.Actions++
	c.LastTool = tool
}

func (r *Registry) Unregister(id string) {
	if id == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, id)
}

// List returns the clients oldest connection first.
func (r *Registry) List() []ClientInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ClientInfo, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Prune drops clients idle for longer than maxIdle and returns their ids.
func (r *Registry) Prune(maxIdle time.Duration) []string {
	if maxIdle <= 0 {
		return nil
	}
	cutoff := r.now().Add(-maxIdle)
	r.mu.Lock()
	defer r.mu.Unlock()
	var dropped []string
	for id, c := range r.clients {
		if c.LastSeen.Before(cutoff) {
			delete(r.clients, id)
			dropped = append(dropped, id)
		}
	}
	sort.Strings(dropped)
	return dropped
}
