package rodbrowser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/adityalohuni/uidsnap/internal/browser"
)

type element struct {
	b  *Browser
	el *rod.Element
}

func (e *element) on(ctx context.Context) (*rod.Element, context.CancelFunc) {
	ctx, cancel := e.b.withTimeout(ctx)
	return e.el.Context(ctx), cancel
}

// Probe asks the page whether the node is still attached.
func (e *element) Probe(ctx context.Context) error {
	el, cancel := e.on(ctx)
	defer cancel()
	res, err := el.Eval(`() => this.isConnected`)
	if err != nil {
		return fmt.Errorf("%w: %v", browser.ErrDetached, err)
	}
	if !res.Value.Bool() {
		return browser.ErrDetached
	}
	return nil
}

func (e *element) Click(ctx context.Context) error {
	el, cancel := e.on(ctx)
	defer cancel()
	if err := el.ScrollIntoView(); err != nil {
		return fmt.Errorf("rodbrowser: scroll: %w", err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("rodbrowser: click: %w", err)
	}
	return nil
}

// Fill replaces the current value. Select elements pick the option whose
// value or text matches.
func (e *element) Fill(ctx context.Context, text string) error {
	el, cancel := e.on(ctx)
	defer cancel()
	tag, err := el.Eval(`() => this.tagName.toLowerCase()`)
	if err != nil {
		return fmt.Errorf("rodbrowser: fill: %w", err)
	}
	if tag.Value.Str() == "select" {
		if err := el.Select([]string{text}, true, rod.SelectorTypeText); err == nil {
			return nil
		}
		_, err := el.Eval(`(v) => {
			const opt = [...this.options].find(o => o.value === v);
			if (!opt) throw new Error("no option " + v);
			this.value = v;
			this.dispatchEvent(new Event("input", {bubbles: true}));
			this.dispatchEvent(new Event("change", {bubbles: true}));
		}`, text)
		if err != nil {
			return fmt.Errorf("rodbrowser: select: %w", err)
		}
		return nil
	}
	if err := el.SelectAllText(); err == nil {
		_ = el.Input("")
	}
	if err := el.Input(text); err != nil {
		return fmt.Errorf("rodbrowser: input: %w", err)
	}
	return nil
}

func (e *element) Hover(ctx context.Context) error {
	el, cancel := e.on(ctx)
	defer cancel()
	if err := el.Hover(); err != nil {
		return fmt.Errorf("rodbrowser: hover: %w", err)
	}
	return nil
}

func (e *element) Screenshot(ctx context.Context) ([]byte, error) {
	el, cancel := e.on(ctx)
	defer cancel()
	data, err := el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
	if err != nil {
		return nil, fmt.Errorf("rodbrowser: screenshot: %w", err)
	}
	return data, nil
}

// DragTo presses the mouse on the element centre and releases it over
// target, moving in steps so drag handlers observe intermediate events.
func (e *element) DragTo(ctx context.Context, target browser.ElementHandle) error {
	other, ok := target.(*element)
	if !ok {
		return fmt.Errorf("rodbrowser: drag target from another backend: %w", browser.ErrUnsupported)
	}
	from, cancel := e.on(ctx)
	defer cancel()
	to := other.el.Context(from.GetContext())

	fromPt, err := centre(from)
	if err != nil {
		return err
	}
	toPt, err := centre(to)
	if err != nil {
		return err
	}
	mouse := from.Page().Mouse
	if err := mouse.MoveLinear(fromPt, 10); err != nil {
		return fmt.Errorf("rodbrowser: drag move: %w", err)
	}
	if err := mouse.Down(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("rodbrowser: drag down: %w", err)
	}
	if err := mouse.MoveLinear(toPt, 10); err != nil {
		return fmt.Errorf("rodbrowser: drag move: %w", err)
	}
	if err := mouse.Up(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("rodbrowser: drag up: %w", err)
	}
	return nil
}

func centre(el *rod.Element) (proto.Point, error) {
	if err := el.ScrollIntoView(); err != nil {
		return proto.Point{}, fmt.Errorf("rodbrowser: scroll: %w", err)
	}
	shape, err := el.Shape()
	if err != nil {
		return proto.Point{}, fmt.Errorf("rodbrowser: shape: %w", err)
	}
	box := shape.Box()
	if box == nil {
		return proto.Point{}, fmt.Errorf("rodbrowser: element has no box: %w", browser.ErrDetached)
	}
	return proto.Point{X: box.X + box.Width/2, Y: box.Y + box.Height/2}, nil
}

// Release frees the remote object backing the handle.
func (e *element) Release(ctx context.Context) error {
	el, cancel := e.on(ctx)
	defer cancel()
	return el.Release()
}
