package wsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/adityalohuni/uidsnap/internal/protocol"
)

var (
	ErrNoActiveSession = errors.New("no active browser session")
	ErrSessionClosed   = errors.New("browser session closed")
)

// EventHandler receives unsolicited extension messages, and
// protocol.EventDisconnected once a session is gone.
type EventHandler func(sessionID string, ev protocol.Event)

// Bridge routes commands to connected extension sessions and matches
// their responses by command id.
type Bridge struct {
	mu           sync.RWMutex
	sessions     map[string]*Session
	activeID     string
	pending      map[string]pending
	handlers     []EventHandler
	upgrader     websocket.Upgrader
	writeWait    time.Duration
	pingInterval time.Duration
	logger       *slog.Logger
}

type pending struct {
	session string
	typ     protocol.CommandType
	ch      chan protocol.Response
}

type Options struct {
	CheckOrigin     func(*http.Request) bool
	ReadBufferSize  int
	WriteBufferSize int
	WriteWait       time.Duration
	// PingInterval is how often idle sessions are pinged. A session that
	// misses two pongs is dropped. Zero uses 30s; negative disables pings.
	PingInterval time.Duration
	Logger       *slog.Logger
}

// Session is one connected extension, usually one controlled tab.
type Session struct {
	ID          string
	Conn        *websocket.Conn
	mu          sync.Mutex
	RemoteAddr  string
	UserAgent   string
	ConnectedAt time.Time
	LastSeen    time.Time
	URL         string
	// Handles counts element references the extension holds for us.
	Handles int
}

func (s *Session) touch() {
	s.mu.Lock()
	s.LastSeen = time.Now()
	s.mu.Unlock()
}

func (s *Session) write(messageType int, data []byte, wait time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.Conn.SetWriteDeadline(time.Now().Add(wait))
	return s.Conn.WriteMessage(messageType, data)
}

func NewBridge(opts Options) *Bridge {
	up := websocket.Upgrader{
		ReadBufferSize:  opts.ReadBufferSize,
		WriteBufferSize: opts.WriteBufferSize,
		CheckOrigin:     opts.CheckOrigin,
	}
	if up.ReadBufferSize == 0 {
		up.ReadBufferSize = 2048
	}
	if up.WriteBufferSize == 0 {
		up.WriteBufferSize = 2048
	}
	writeWait := opts.WriteWait
	if writeWait == 0 {
		writeWait = 5 * time.Second
	}
	ping := opts.PingInterval
	if ping == 0 {
		ping = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Bridge{
		sessions:     make(map[string]*Session),
		pending:      make(map[string]pending),
		upgrader:     up,
		writeWait:    writeWait,
		pingInterval: ping,
		logger:       logger,
	}
}

// OnEvent registers h for events from every session.
func (b *Bridge) OnEvent(h EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

func (b *Bridge) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("wsbridge: upgrade failed", "error", err)
		return
	}
	now := time.Now()
	session := &Session{
		ID:          uuid.New().String(),
		Conn:        conn,
		RemoteAddr:  r.RemoteAddr,
		UserAgent:   r.UserAgent(),
		ConnectedAt: now,
		LastSeen:    now,
	}

	b.mu.Lock()
	b.sessions[session.ID] = session
	b.activeID = session.ID
	b.mu.Unlock()
	b.logger.Info("wsbridge: connected", "session", session.ID, "remote", r.RemoteAddr)

	done := make(chan struct{})
	if b.pingInterval > 0 {
		go b.keepAlive(session, done)
	}
	b.readLoop(session)
	close(done)

	b.unregister(session.ID)
	conn.Close()
	b.logger.Info("wsbridge: disconnected", "session", session.ID)
	b.dispatch(session, protocol.Event{Event: protocol.EventDisconnected})
}

// unregister drops session id, promotes another session to active and
// fails the commands still waiting on id.
func (b *Bridge) unregister(id string) {
	b.mu.Lock()
	delete(b.sessions, id)
	if b.activeID == id {
		b.activeID = ""
		var newest *Session
		for _, s := range b.sessions {
			if newest == nil || s.ConnectedAt.After(newest.ConnectedAt) {
				newest = s
			}
		}
		if newest != nil {
			b.activeID = newest.ID
		}
	}
	var orphans []chan protocol.Response
	for cmdID, p := range b.pending {
		if p.session == id {
			orphans = append(orphans, p.ch)
			delete(b.pending, cmdID)
		}
	}
	b.mu.Unlock()
	for _, ch := range orphans {
		close(ch)
	}
}

func (b *Bridge) keepAlive(session *Session, done <-chan struct{}) {
	ticker := time.NewTicker(b.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := session.write(websocket.PingMessage, nil, b.writeWait); err != nil {
				b.logger.Debug("wsbridge: ping failed", "session", session.ID, "error", err)
				return
			}
		}
	}
}

func (b *Bridge) readLoop(session *Session) {
	if b.pingInterval > 0 {
		wait := 2 * b.pingInterval
		_ = session.Conn.SetReadDeadline(time.Now().Add(wait))
		session.Conn.SetPongHandler(func(string) error {
			session.touch()
			return session.Conn.SetReadDeadline(time.Now().Add(wait))
		})
	}
	for {
		_, message, err := session.Conn.ReadMessage()
		if err != nil {
			return
		}
		session.touch()
		if b.pingInterval > 0 {
			_ = session.Conn.SetReadDeadline(time.Now().Add(2 * b.pingInterval))
		}
		var resp protocol.Response
		if err := json.Unmarshal(message, &resp); err != nil {
			b.logger.Warn("wsbridge: invalid message", "session", session.ID, "error", err)
			continue
		}
		if resp.ID != "" {
			b.deliver(session, resp)
			continue
		}
		var ev protocol.Event
		if err := json.Unmarshal(message, &ev); err != nil || ev.Event == "" {
			continue
		}
		b.dispatch(session, ev)
	}
}

func (b *Bridge) deliver(session *Session, resp protocol.Response) {
	b.mu.Lock()
	p, ok := b.pending[resp.ID]
	if ok {
		delete(b.pending, resp.ID)
	}
	b.mu.Unlock()
	if !ok {
		b.logger.Debug("wsbridge: late response", "session", session.ID, "id", resp.ID)
		return
	}

	if resp.OK {
		session.mu.Lock()
		switch p.typ {
		case protocol.CommandFind:
			session.Handles++
		case protocol.CommandRelease:
			if session.Handles > 0 {
				session.Handles--
			}
		case protocol.CommandNavigate:
			session.Handles = 0
		}
		session.mu.Unlock()
	}
	p.ch <- resp
	close(p.ch)
}

func (b *Bridge) dispatch(session *Session, ev protocol.Event) {
	b.logger.Debug("wsbridge: event", "session", session.ID, "event", ev.Event)
	if ev.Event == protocol.EventNavigated {
		var nav protocol.NavigatedEvent
		if err := json.Unmarshal(ev.Data, &nav); err == nil {
			session.mu.Lock()
			session.URL = nav.URL
			// the old document's elements are gone along with their handles
			session.Handles = 0
			session.mu.Unlock()
		}
	}
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.handlers...)
	b.mu.RUnlock()
	for _, h := range handlers {
		h(session.ID, ev)
	}
}

func (b *Bridge) activeSession() (*Session, error) {
	b.mu.RLock()
	id := b.activeID
	session := b.sessions[id]
	b.mu.RUnlock()
	if session == nil {
		return nil, ErrNoActiveSession
	}
	return session, nil
}

func (b *Bridge) sessionByID(id string) (*Session, error) {
	if id == "" {
		return b.activeSession()
	}
	b.mu.RLock()
	session := b.sessions[id]
	b.mu.RUnlock()
	if session == nil {
		return nil, ErrNoActiveSession
	}
	return session, nil
}

// ActiveID returns the session commands go to by default.
func (b *Bridge) ActiveID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.activeID
}

type SessionInfo struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr,omitempty"`
	UserAgent   string    `json:"user_agent,omitempty"`
	URL         string    `json:"url,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
	LastSeen    time.Time `json:"last_seen"`
	Handles     int       `json:"handles"`
	Active      bool      `json:"active"`
}

func (b *Bridge) ListSessions() []SessionInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]SessionInfo, 0, len(b.sessions))
	for id, s := range b.sessions {
		s.mu.Lock()
		info := SessionInfo{
			ID:          id,
			RemoteAddr:  s.RemoteAddr,
			UserAgent:   s.UserAgent,
			URL:         s.URL,
			ConnectedAt: s.ConnectedAt,
			LastSeen:    s.LastSeen,
			Handles:     s.Handles,
			Active:      id == b.activeID,
		}
		s.mu.Unlock()
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.Before(out[j].ConnectedAt) })
	return out
}

func (b *Bridge) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions)
}

// DisconnectSession closes the connection of session id. The read loop
// then removes it.
func (b *Bridge) DisconnectSession(id string) error {
	b.mu.RLock()
	session := b.sessions[id]
	b.mu.RUnlock()
	if session == nil {
		return ErrNoActiveSession
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	_ = session.Conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "disconnected"),
		time.Now().Add(b.writeWait))
	return session.Conn.Close()
}

// SendCommand sends cmd to the session it names, or the active session,
// and waits for the matching response.
func (b *Bridge) SendCommand(ctx context.Context, cmd protocol.Command) (protocol.Response, error) {
	session, err := b.sessionByID(cmd.SessionID)
	if err != nil {
		return protocol.Response{}, err
	}

	msg, err := json.Marshal(cmd)
	if err != nil {
		return protocol.Response{}, err
	}

	ch := make(chan protocol.Response, 1)
	b.mu.Lock()
	b.pending[cmd.ID] = pending{session: session.ID, typ: cmd.Type, ch: ch}
	b.mu.Unlock()

	debugCommand(b.logger, session.ID, cmd)
	if err := session.write(websocket.TextMessage, msg, b.writeWait); err != nil {
		b.mu.Lock()
		delete(b.pending, cmd.ID)
		b.mu.Unlock()
		return protocol.Response{}, fmt.Errorf("wsbridge: write %s: %w", cmd.Type, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return protocol.Response{}, ErrSessionClosed
		}
		return resp, nil
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.pending, cmd.ID)
		b.mu.Unlock()
		return protocol.Response{}, ctx.Err()
	}
}
