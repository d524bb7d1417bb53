package wsbrowser

import (
	"context"
	"fmt"

	"github.com/adityalohuni/uidsnap/internal/browser"
	"github.com/adityalohuni/uidsnap/internal/protocol"
)

// element is a reference held by the extension. Handles die with the
// document that produced them, and the extension reports them detached.
type element struct {
	c       *Client
	handle  string
	session string
}

// bind routes commands to the session that issued the handle.
func (e *element) bind(ctx context.Context) context.Context {
	if e.session == "" {
		return ctx
	}
	return browser.WithSession(ctx, e.session)
}

func (e *element) do(ctx context.Context, cmdType protocol.CommandType, payload any) error {
	_, err := e.c.send(e.bind(ctx), cmdType, payload)
	return err
}

func (e *element) Probe(ctx context.Context) error {
	return e.do(ctx, protocol.CommandProbe, protocol.HandlePayload{Handle: e.handle})
}

func (e *element) Click(ctx context.Context) error {
	return e.do(ctx, protocol.CommandClick, protocol.HandlePayload{Handle: e.handle})
}

func (e *element) Fill(ctx context.Context, text string) error {
	return e.do(ctx, protocol.CommandFill, protocol.FillPayload{Handle: e.handle, Text: text})
}

func (e *element) Hover(ctx context.Context) error {
	return e.do(ctx, protocol.CommandHover, protocol.HandlePayload{Handle: e.handle})
}

func (e *element) Screenshot(ctx context.Context) ([]byte, error) {
	resp, err := e.c.send(e.bind(ctx), protocol.CommandScreenshot, protocol.HandlePayload{Handle: e.handle})
	if err != nil {
		return nil, err
	}
	var data protocol.ScreenshotData
	if err := decodeResponse(resp, &data); err != nil {
		return nil, err
	}
	return data.Data, nil
}

func (e *element) DragTo(ctx context.Context, target browser.ElementHandle) error {
	other, ok := target.(*element)
	if !ok || other.c != e.c {
		return fmt.Errorf("wsbrowser: drag target from another backend: %w", browser.ErrUnsupported)
	}
	return e.do(ctx, protocol.CommandDrag, protocol.DragPayload{Handle: e.handle, Target: other.handle})
}

// Release lets the extension drop its reference.
func (e *element) Release(ctx context.Context) error {
	return e.do(ctx, protocol.CommandRelease, protocol.HandlePayload{Handle: e.handle})
}
