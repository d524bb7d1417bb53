package adminclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/adityalohuni/uidsnap/internal/admin"
	"github.com/adityalohuni/uidsnap/internal/browser/htmlbrowser"
	"github.com/adityalohuni/uidsnap/internal/httpx"
	"github.com/adityalohuni/uidsnap/internal/resolver"
	"github.com/adityalohuni/uidsnap/internal/session"
	"github.com/adityalohuni/uidsnap/internal/snapshot"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	b := htmlbrowser.New(htmlbrowser.Options{})
	if err := b.LoadString("mem://client", `<body><a href="/x">Link</a></body>`); err != nil {
		t.Fatalf("load: %v", err)
	}
	h := &admin.Handlers{
		StartedAt: time.Now(),
		Clients:   session.NewRegistry(),
		Manager:   snapshot.NewManager(b, resolver.New(b, resolver.Options{}), snapshot.ManagerOptions{}),
	}
	h.Clients.Register("c1", session.ClientInfo{Name: "agent"})

	mux := http.NewServeMux()
	mux.HandleFunc("/admin/status", h.Status)
	mux.HandleFunc("/admin/clients", h.ClientsList)
	mux.HandleFunc("/admin/clients/disconnect", h.DisconnectClient)
	mux.HandleFunc("/admin/snapshot", h.Snapshot)
	mux.HandleFunc("/admin/resolve", h.Resolve)
	mux.HandleFunc("/admin/clear", h.Clear)
	srv := httptest.NewServer(httpx.RequireToken("secret")(mux))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientAgainstHandlers(t *testing.T) {
	srv := newServer(t)
	c := New(srv.URL, "secret", nil)
	ctx := context.Background()

	clients, err := c.ListClients(ctx)
	if err != nil || len(clients) != 1 || clients[0].Name != "agent" {
		t.Fatalf("clients = %+v, %v", clients, err)
	}
	if err := c.DisconnectClient(ctx, "c1"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	view, err := c.TakeSnapshot(ctx, "")
	if err != nil || view.SnapshotID != 1 {
		t.Fatalf("take = %+v, %v", view, err)
	}
	latest, err := c.Snapshot(ctx, 0)
	if err != nil || latest.Text != view.Text {
		t.Fatalf("latest = %+v, %v", latest, err)
	}
	res, err := c.Resolve(ctx, "1_1")
	if err != nil || res.CSS == "" {
		t.Fatalf("resolve = %+v, %v", res, err)
	}

	if err := c.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	status, err := c.Status(ctx)
	if err != nil || status.UIDs != 0 || status.SnapshotID != 1 {
		t.Fatalf("status = %+v, %v", status, err)
	}

	_, err = c.Resolve(ctx, "1_1")
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound {
		t.Fatalf("resolve after clear: %v", err)
	}
}

func TestClientRejectsBadToken(t *testing.T) {
	srv := newServer(t)
	_, err := New(srv.URL, "wrong", nil).Status(context.Background())
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}
