// Package rodbrowser drives Chrome over CDP with go-rod.
package rodbrowser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/adityalohuni/uidsnap/internal/browser"
)

type Config struct {
	// RemoteURL is the CDP websocket of a running Chrome. Empty launches
	// a local one.
	RemoteURL string
	Headless  bool
	Stealth   bool
	// Timeout bounds each call that arrives without a deadline. Default 30s.
	Timeout time.Duration
	Logger  *slog.Logger
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

type Browser struct {
	cfg  Config
	rod  *rod.Browser
	lnch *launcher.Launcher
	page *rod.Page

	mu         sync.Mutex
	onNavigate []func(string)
	stop       context.CancelFunc
}

var _ browser.Browser = (*Browser)(nil)

// Launch starts or connects to Chrome and opens the working tab.
func Launch(ctx context.Context, cfg Config) (*Browser, error) {
	cfg.defaults()
	log := cfg.Logger
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b := &Browser{cfg: cfg}
	wsURL := cfg.RemoteURL
	if wsURL != "" {
		log.Info("rodbrowser: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().Headless(cfg.Headless).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("rodbrowser: launch: %w", err)
		}
		wsURL = u
		b.lnch = l
		log.Info("rodbrowser: launched local chrome", "url", wsURL, "headless", cfg.Headless)
	}

	b.rod = rod.New().ControlURL(wsURL)
	if err := b.rod.Connect(); err != nil {
		b.cleanup()
		return nil, fmt.Errorf("rodbrowser: connect: %w", err)
	}

	var err error
	if cfg.Stealth {
		b.page, err = stealth.Page(b.rod)
	} else {
		b.page, err = b.rod.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		b.cleanup()
		return nil, fmt.Errorf("rodbrowser: create tab: %w", err)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	b.stop = cancel
	go b.watchNavigation(watchCtx)
	return b, nil
}

// watchNavigation fires the navigate hooks when the top frame commits a
// new document, including navigations the page starts itself.
func (b *Browser) watchNavigation(ctx context.Context) {
	wait := b.page.Context(ctx).EachEvent(func(e *proto.PageFrameNavigated) {
		if e.Frame.ParentID != "" {
			return
		}
		b.cfg.Logger.Debug("rodbrowser: top frame navigated", "url", e.Frame.URL)
		b.fire(e.Frame.URL)
	})
	wait()
}

func (b *Browser) fire(url string) {
	b.mu.Lock()
	hooks := append([]func(string){}, b.onNavigate...)
	b.mu.Unlock()
	for _, fn := range hooks {
		fn(url)
	}
}

func (b *Browser) OnNavigate(fn func(url string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onNavigate = append(b.onNavigate, fn)
}

func (b *Browser) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, browser.CallTimeout(ctx, b.cfg.Timeout))
}

func (b *Browser) Navigate(ctx context.Context, url string) (browser.NavigateResult, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()
	p := b.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return browser.NavigateResult{}, fmt.Errorf("rodbrowser: navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		b.cfg.Logger.Warn("rodbrowser: wait load", "url", url, "error", err)
	}
	info, err := p.Info()
	if err != nil {
		return browser.NavigateResult{URL: url}, nil
	}
	return browser.NavigateResult{URL: info.URL}, nil
}

// Execute evaluates script.Source with args. The script must return a
// string, which is passed through as JSON.
func (b *Browser) Execute(ctx context.Context, script browser.Script, args any) (json.RawMessage, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()
	res, err := b.page.Context(ctx).Eval(script.Source, args)
	if err != nil {
		return nil, fmt.Errorf("rodbrowser: eval %s: %w", script.Name, err)
	}
	if res.Value.Nil() {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(res.Value.Str()), nil
}

func (b *Browser) Find(ctx context.Context, loc browser.Locator) (browser.ElementHandle, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()
	p := b.page.Context(ctx)
	for _, sel := range loc.Frames {
		ok, frame, err := p.Has(sel)
		if err != nil {
			return nil, fmt.Errorf("rodbrowser: frame %q: %w", sel, err)
		}
		if !ok {
			return nil, browser.ErrNotFound
		}
		fp, err := frame.Frame()
		if err != nil {
			return nil, fmt.Errorf("rodbrowser: enter frame %q: %w", sel, err)
		}
		p = fp.Context(ctx)
	}

	var (
		ok  bool
		el  *rod.Element
		err error
	)
	switch {
	case loc.CSS != "":
		ok, el, err = p.Has(loc.CSS)
	case loc.XPath != "":
		ok, el, err = p.HasX(loc.XPath)
	default:
		return nil, errors.New("rodbrowser: empty locator")
	}
	if err != nil {
		return nil, fmt.Errorf("rodbrowser: find: %w", err)
	}
	if !ok {
		return nil, browser.ErrNotFound
	}
	// Rebind to a background context so the handle outlives this lookup.
	return &element{b: b, el: el.Context(context.Background())}, nil
}

func (b *Browser) Close() error {
	if b.stop != nil {
		b.stop()
	}
	return b.cleanup()
}

func (b *Browser) cleanup() error {
	var err error
	if b.rod != nil {
		err = b.rod.Close()
	}
	if b.lnch != nil {
		b.lnch.Kill()
	}
	return err
}
