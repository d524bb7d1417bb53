// Package htmlbrowser is a browser backend over a parsed HTML document.
// It answers the capture script natively and resolves locators with
// cascadia and htmlquery, so snapshots work without a real browser.
package htmlbrowser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/adityalohuni/uidsnap/internal/browser"
	"github.com/adityalohuni/uidsnap/internal/dom"
)

type Options struct {
	Logger     *slog.Logger
	HTTPClient *http.Client
}

type Event struct {
	Kind   string `json:"kind"`
	Target string `json:"target"`
	Detail string `json:"detail,omitempty"`
}

type Browser struct {
	mu         sync.Mutex
	doc        *html.Node
	url        string
	frames     map[*html.Node]*html.Node
	events     []Event
	onNavigate []func(string)

	http   *http.Client
	logger *slog.Logger
}

var _ browser.Browser = (*Browser)(nil)

func New(opts Options) *Browser {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := opts.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	doc, _ := html.Parse(strings.NewReader(""))
	return &Browser{
		doc:    doc,
		url:    "about:blank",
		frames: make(map[*html.Node]*html.Node),
		http:   client,
		logger: logger,
	}
}

// Load replaces the document with the HTML read from r.
func (b *Browser) Load(url string, r io.Reader) error {
	doc, err := html.Parse(r)
	if err != nil {
		return fmt.Errorf("htmlbrowser: parse %s: %w", url, err)
	}
	b.mu.Lock()
	b.doc = doc
	b.url = url
	b.frames = make(map[*html.Node]*html.Node)
	b.events = nil
	hooks := append([]func(string){}, b.onNavigate...)
	b.mu.Unlock()

	b.logger.Debug("htmlbrowser: loaded document", "url", url)
	for _, fn := range hooks {
		fn(url)
	}
	return nil
}

// LoadString is Load for an in-memory document.
func (b *Browser) LoadString(url, src string) error {
	return b.Load(url, strings.NewReader(src))
}

// Navigate loads a file path, file:// URL or http(s) URL.
func (b *Browser) Navigate(ctx context.Context, url string) (browser.NavigateResult, error) {
	var body []byte
	switch {
	case strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return browser.NavigateResult{}, err
		}
		resp, err := b.http.Do(req)
		if err != nil {
			return browser.NavigateResult{}, fmt.Errorf("htmlbrowser: fetch %s: %w", url, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return browser.NavigateResult{}, fmt.Errorf("htmlbrowser: fetch %s: %s", url, resp.Status)
		}
		body, err = io.ReadAll(io.LimitReader(resp.Body, 32<<20))
		if err != nil {
			return browser.NavigateResult{}, err
		}
	default:
		data, err := os.ReadFile(strings.TrimPrefix(url, "file://"))
		if err != nil {
			return browser.NavigateResult{}, fmt.Errorf("htmlbrowser: read %s: %w", url, err)
		}
		body = data
	}
	if err := b.Load(url, bytes.NewReader(body)); err != nil {
		return browser.NavigateResult{}, err
	}
	return browser.NavigateResult{URL: url}, nil
}

func (b *Browser) OnNavigate(fn func(url string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onNavigate = append(b.onNavigate, fn)
}

func (b *Browser) Close() error {
	return nil
}

// Execute runs the capture script natively. Other scripts are unsupported.
func (b *Browser) Execute(ctx context.Context, script browser.Script, args any) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if script.Name != dom.ScriptName {
		return nil, fmt.Errorf("htmlbrowser: script %q: %w", script.Name, browser.ErrUnsupported)
	}
	var opts dom.CaptureArgs
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("htmlbrowser: capture args: %w", err)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	capture := &dom.Capture{URL: b.url}
	if opts.Selector != "" {
		sel, err := cascadia.Compile(opts.Selector)
		if err != nil {
			capture.SelectorError = &dom.SelectorError{
				Kind:     dom.SelectorSyntax,
				Selector: opts.Selector,
				Message:  fmt.Sprintf("invalid selector %q: %v", opts.Selector, err),
			}
			return json.Marshal(capture)
		}
		target := first(b.doc, sel)
		if target == nil {
			capture.SelectorError = &dom.SelectorError{
				Kind:     dom.SelectorNotFound,
				Selector: opts.Selector,
				Message:  fmt.Sprintf("no element found for selector %q (not found)", opts.Selector),
			}
			return json.Marshal(capture)
		}
		capture.Scope = dom.ElementPath(target)
	}
	built := dom.FromDocument(b.doc, dom.BuildOptions{
		FrameDocument: b.frameDocLocked,
		MaxElements:   opts.MaxElements,
	})
	capture.Root = built.Root
	capture.Title = built.Title
	capture.Truncated = built.Truncated
	return json.Marshal(capture)
}

// Find resolves loc against the current document, descending through the
// listed iframes first.
func (b *Browser) Find(ctx context.Context, loc browser.Locator) (browser.ElementHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	doc := b.doc
	for _, frameSel := range loc.Frames {
		sel, err := cascadia.Compile(frameSel)
		if err != nil {
			return nil, fmt.Errorf("htmlbrowser: frame selector %q: %w", frameSel, err)
		}
		iframe := first(doc, sel)
		if iframe == nil {
			return nil, browser.ErrNotFound
		}
		doc = b.frameDocLocked(iframe)
		if doc == nil {
			return nil, browser.ErrNotFound
		}
	}

	var node *html.Node
	switch {
	case loc.CSS != "":
		sel, err := cascadia.Compile(loc.CSS)
		if err != nil {
			return nil, fmt.Errorf("htmlbrowser: selector %q: %w", loc.CSS, err)
		}
		node = first(doc, sel)
	case loc.XPath != "":
		found, err := htmlquery.Query(doc, loc.XPath)
		if err != nil {
			return nil, fmt.Errorf("htmlbrowser: xpath %q: %w", loc.XPath, err)
		}
		node = found
	default:
		return nil, errors.New("htmlbrowser: empty locator")
	}
	if node == nil {
		return nil, browser.ErrNotFound
	}
	return &element{b: b, node: node}, nil
}

// Mutate runs fn against the live document, as page scripts would.
func (b *Browser) Mutate(fn func(doc *goquery.Document)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(goquery.NewDocumentFromNode(b.doc))
}

// Events returns the actions performed on elements since the last load.
func (b *Browser) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Event(nil), b.events...)
}

// HTML renders the current document.
func (b *Browser) HTML() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var buf bytes.Buffer
	_ = html.Render(&buf, b.doc)
	return buf.String()
}

func (b *Browser) frameDocLocked(iframe *html.Node) *html.Node {
	if doc, ok := b.frames[iframe]; ok {
		return doc
	}
	doc := dom.SrcdocDocument(iframe)
	b.frames[iframe] = doc
	return doc
}

func (b *Browser) attachedLocked(n *html.Node) bool {
	top := n
	for top.Parent != nil {
		top = top.Parent
	}
	if top == b.doc {
		return true
	}
	for _, fdoc := range b.frames {
		if fdoc == top {
			return true
		}
	}
	return false
}

func first(doc *html.Node, sel goquery.Matcher) *html.Node {
	found := goquery.NewDocumentFromNode(doc).FindMatcher(sel)
	if found.Length() == 0 {
		return nil
	}
	return found.Get(0)
}
