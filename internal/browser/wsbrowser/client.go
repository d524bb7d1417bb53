// Package wsbrowser implements the browser backend over the extension
// websocket bridge.
package wsbrowser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adityalohuni/uidsnap/internal/browser"
	"github.com/adityalohuni/uidsnap/internal/protocol"
	"github.com/adityalohuni/uidsnap/internal/wsbridge"
)

type Options struct {
	Timeout time.Duration
	Logger  *slog.Logger
}

type Client struct {
	bridge  *wsbridge.Bridge
	timeout time.Duration
	logger  *slog.Logger

	mu                sync.Mutex
	onNavigate        []func(string)
	onSessionNavigate []func(session, url string)
}

var (
	_ browser.Browser          = (*Client)(nil)
	_ browser.SessionPinner    = (*Client)(nil)
	_ browser.SessionNavigator = (*Client)(nil)
)

func NewClient(bridge *wsbridge.Bridge, opts Options) *Client {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		bridge:  bridge,
		timeout: timeout,
		logger:  logger,
	}
	bridge.OnEvent(c.handleEvent)
	return c
}

// handleEvent fans navigation out to the session hooks for every session,
// and to the plain hooks only for the active one.
func (c *Client) handleEvent(sessionID string, ev protocol.Event) {
	var url string
	switch ev.Event {
	case protocol.EventNavigated:
		var nav protocol.NavigatedEvent
		if err := json.Unmarshal(ev.Data, &nav); err != nil {
			c.logger.Warn("wsbrowser: bad navigated event", "session", sessionID, "error", err)
			return
		}
		url = nav.URL
	case protocol.EventDisconnected:
	default:
		return
	}

	c.mu.Lock()
	hooks := append([]func(string){}, c.onNavigate...)
	sessionHooks := append([]func(string, string){}, c.onSessionNavigate...)
	c.mu.Unlock()
	for _, fn := range sessionHooks {
		fn(sessionID, url)
	}
	if ev.Event != protocol.EventNavigated {
		return
	}
	if active := c.bridge.ActiveID(); active != "" && active != sessionID {
		return
	}
	for _, fn := range hooks {
		fn(url)
	}
}

func (c *Client) OnNavigate(fn func(url string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onNavigate = append(c.onNavigate, fn)
}

func (c *Client) OnSessionNavigate(fn func(session, url string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSessionNavigate = append(c.onSessionNavigate, fn)
}

// PinSession returns the session named by ctx, or the active one.
func (c *Client) PinSession(ctx context.Context) (string, error) {
	if id := sessionFor(ctx); id != "" {
		return id, nil
	}
	if id := c.bridge.ActiveID(); id != "" {
		return id, nil
	}
	return "", wsbridge.ErrNoActiveSession
}

func (c *Client) Close() error {
	return nil
}

func (c *Client) Execute(ctx context.Context, script browser.Script, args any) (json.RawMessage, error) {
	rawArgs, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	resp, err := c.send(ctx, protocol.CommandExecute, protocol.ExecutePayload{
		Name:   script.Name,
		Source: script.Source,
		Args:   rawArgs,
	})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *Client) Find(ctx context.Context, loc browser.Locator) (browser.ElementHandle, error) {
	session, err := c.PinSession(ctx)
	if err != nil {
		return nil, err
	}
	ctx = browser.WithSession(ctx, session)
	resp, err := c.send(ctx, protocol.CommandFind, protocol.FindPayload{
		Frames: loc.Frames,
		CSS:    loc.CSS,
		XPath:  loc.XPath,
	})
	if err != nil {
		return nil, err
	}
	var data protocol.FindData
	if err := decodeResponse(resp, &data); err != nil {
		return nil, err
	}
	if data.Handle == "" {
		return nil, browser.ErrNotFound
	}
	return &element{c: c, handle: data.Handle, session: session}, nil
}

func (c *Client) Navigate(ctx context.Context, url string) (browser.NavigateResult, error) {
	if url == "" {
		return browser.NavigateResult{}, errors.New("url is required")
	}
	resp, err := c.send(ctx, protocol.CommandNavigate, protocol.NavigatePayload{URL: url})
	if err != nil {
		return browser.NavigateResult{}, err
	}
	out := protocol.NavigateData{URL: url}
	if err := decodeResponse(resp, &out); err != nil {
		return browser.NavigateResult{}, err
	}
	return browser.NavigateResult{URL: out.URL}, nil
}

func (c *Client) send(ctx context.Context, cmdType protocol.CommandType, payload any) (protocol.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, browser.CallTimeout(ctx, c.timeout))
	defer cancel()

	raw, err := json.Marshal(payload)
	if err != nil {
		return protocol.Response{}, err
	}
	resp, err := c.bridge.SendCommand(ctx, c.makeCommand(ctx, cmdType, raw))
	if err != nil {
		return protocol.Response{}, err
	}
	if !resp.OK {
		return protocol.Response{}, responseError(cmdType, resp)
	}
	return resp, nil
}

// responseError maps extension error codes onto the backend sentinels.
func responseError(cmdType protocol.CommandType, resp protocol.Response) error {
	var sentinel error
	switch resp.ErrorCode {
	case protocol.ErrorNotFound:
		sentinel = browser.ErrNotFound
	case protocol.ErrorDetached:
		sentinel = browser.ErrDetached
	case protocol.ErrorUnsupported:
		sentinel = browser.ErrUnsupported
	}
	msg := resp.Error
	if msg == "" {
		msg = "browser action failed"
	}
	switch {
	case sentinel != nil:
		return fmt.Errorf("%s: %s: %w", cmdType, msg, sentinel)
	case resp.ErrorCode != "":
		return fmt.Errorf("%s: %s (%s)", cmdType, msg, resp.ErrorCode)
	default:
		return fmt.Errorf("%s: %s", cmdType, msg)
	}
}

func (c *Client) makeCommand(ctx context.Context, cmdType protocol.CommandType, payload json.RawMessage) protocol.Command {
	return protocol.Command{
		ID:        uuid.New().String(),
		Type:      cmdType,
		SessionID: sessionFor(ctx),
		Payload:   payload,
	}
}

func sessionFor(ctx context.Context) string {
	if target, ok := browser.TargetFromContext(ctx); ok {
		return target.SessionID
	}
	return ""
}

func decodeResponse(resp protocol.Response, out any) error {
	if len(resp.Data) == 0 {
		return nil
	}
	return json.Unmarshal(resp.Data, out)
}
