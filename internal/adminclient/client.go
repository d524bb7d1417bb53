package adminclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/adityalohuni/uidsnap/internal/admin"
	"github.com/adityalohuni/uidsnap/internal/session"
	"github.com/adityalohuni/uidsnap/internal/wsbridge"
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// StatusError is returned for non-2xx responses. Message carries the
// server's error text.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("admin request failed: %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("admin request failed: %d %s", e.Code, e.Message)
}

func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

func (c *Client) Status(ctx context.Context) (admin.Status, error) {
	var out admin.Status
	err := c.do(ctx, http.MethodGet, "/admin/status", &out)
	return out, err
}

func (c *Client) ListClients(ctx context.Context) ([]session.ClientInfo, error) {
	var out []session.ClientInfo
	if err := c.do(ctx, http.MethodGet, "/admin/clients", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListBrowsers(ctx context.Context) ([]wsbridge.SessionInfo, error) {
	var out []wsbridge.SessionInfo
	if err := c.do(ctx, http.MethodGet, "/admin/browsers", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) DisconnectClient(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/admin/clients/disconnect?id="+url.QueryEscape(id), nil)
}

func (c *Client) DisconnectBrowser(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/admin/browsers/disconnect?id="+url.QueryEscape(id), nil)
}

// Snapshot reads a stored snapshot. id 0 means the latest.
func (c *Client) Snapshot(ctx context.Context, id int) (admin.SnapshotView, error) {
	path := "/admin/snapshot"
	if id > 0 {
		path += "?id=" + strconv.Itoa(id)
	}
	var out admin.SnapshotView
	err := c.do(ctx, http.MethodGet, path, &out)
	return out, err
}

// TakeSnapshot starts a new generation, optionally scoped to selector.
func (c *Client) TakeSnapshot(ctx context.Context, selector string) (admin.SnapshotView, error) {
	path := "/admin/snapshot"
	if selector != "" {
		path += "?selector=" + url.QueryEscape(selector)
	}
	var out admin.SnapshotView
	err := c.do(ctx, http.MethodPost, path, &out)
	return out, err
}

func (c *Client) Resolve(ctx context.Context, uid string) (admin.ResolveView, error) {
	var out admin.ResolveView
	err := c.do(ctx, http.MethodGet, "/admin/resolve?uid="+url.QueryEscape(uid), &out)
	return out, err
}

func (c *Client) Clear(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/admin/clear", nil)
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
