// Package walker turns a captured document into a filtered snapshot tree
// and the uid table that locates each included element.
package walker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/adityalohuni/uidsnap/internal/browser"
	"github.com/adityalohuni/uidsnap/internal/dom"
	"github.com/adityalohuni/uidsnap/internal/page"
)

const (
	// MaxDepth is the deepest level below the start node that is walked.
	MaxDepth = 10
	// MaxNodes bounds the uids issued by one walk.
	MaxNodes = 1000
)

// ErrEmptyCapture is returned when the page produced no document.
var ErrEmptyCapture = errors.New("capture returned no document")

// CaptureScript is the script Run evaluates in the page.
var CaptureScript = browser.Script{Name: dom.ScriptName, Source: dom.CaptureJS}

// Options controls one walk.
type Options struct {
	// Selector scopes the walk to the first matching element.
	Selector string
	// IncludeAll keeps every visible element instead of relevant ones.
	IncludeAll     bool
	IncludeIframes bool
	// MaxElements caps the in-page capture. Zero uses dom.DefaultMaxElements.
	MaxElements int
}

// Result is the snapshot tree of one walk and the uid table for it.
type Result struct {
	Tree          *page.SnapshotNode
	UIDMap        []page.UIDEntry
	Truncated     bool
	SelectorError *dom.SelectorError
	URL           string
	Title         string
}

// Run captures the page through exec and walks the capture.
func Run(ctx context.Context, exec browser.Executor, snapshotID int, opts Options) (Result, error) {
	raw, err := exec.Execute(ctx, CaptureScript, dom.CaptureArgs{
		Selector:       opts.Selector,
		IncludeIframes: opts.IncludeIframes,
		MaxElements:    opts.MaxElements,
	})
	if err != nil {
		return Result{}, fmt.Errorf("capture: %w", err)
	}
	// The script returns JSON text; some transports deliver it still quoted.
	if len(raw) > 0 && raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return Result{}, fmt.Errorf("decode capture: %w", err)
		}
		raw = json.RawMessage(text)
	}
	var capture dom.Capture
	if err := json.Unmarshal(raw, &capture); err != nil {
		return Result{}, fmt.Errorf("decode capture: %w", err)
	}
	if capture.Root == nil && capture.SelectorError == nil {
		return Result{}, ErrEmptyCapture
	}
	capture.Link()
	return Walk(&capture, snapshotID, opts), nil
}

// Walk builds the snapshot tree for capture. Children are walked before
// their parent decides its own relevance; irrelevant elements are dropped
// and their kept descendants attach to the nearest kept ancestor.
func Walk(capture *dom.Capture, snapshotID int, opts Options) Result {
	res := Result{URL: capture.URL, Title: capture.Title, Truncated: capture.Truncated}
	if capture.SelectorError != nil {
		res.SelectorError = capture.SelectorError
		return res
	}
	start := capture.Start()
	if start == nil {
		if capture.Scope != nil {
			res.SelectorError = &dom.SelectorError{
				Kind:     dom.SelectorNotFound,
				Selector: opts.Selector,
				Message:  fmt.Sprintf("no element found for selector %q (not found)", opts.Selector),
			}
		}
		return res
	}

	st := &walkState{
		snapshotID: snapshotID,
		opts:       opts,
		labels:     make(map[*dom.Node]Labels),
		truncated:  capture.Truncated,
	}
	nodes := st.walk(start, 0, nil, true)
	if len(nodes) == 1 {
		res.Tree = nodes[0]
	}
	res.UIDMap = st.uids
	res.Truncated = st.truncated
	return res
}

// walkState carries the per-walk counters.
type walkState struct {
	snapshotID int
	opts       Options
	count      int
	truncated  bool
	uids       []page.UIDEntry
	labels     map[*dom.Node]Labels
}

func (st *walkState) walk(n *dom.Node, depth int, frames []string, root bool) []*page.SnapshotNode {
	if depth > MaxDepth {
		st.truncated = true
		return nil
	}
	if !root && st.count >= MaxNodes {
		st.truncated = true
		return nil
	}

	var kids []*page.SnapshotNode
	for _, c := range n.Children {
		if st.count >= MaxNodes {
			st.truncated = true
			break
		}
		kids = append(kids, st.walk(c, depth+1, frames, false)...)
	}

	var frameRoot *dom.Node
	crossOrigin := false
	if n.Tag == "iframe" && st.opts.IncludeIframes && n.Frame != nil && IsVisible(n) {
		if n.Frame.Accessible && n.Frame.Root != nil {
			frameRoot = n.Frame.Root.Body()
		} else {
			crossOrigin = true
		}
	}
	if frameRoot != nil && st.count < MaxNodes {
		inner := append(append([]string(nil), frames...), CSSSelector(n))
		kids = append(kids, st.walk(frameRoot, depth+1, inner, true)...)
	}

	keep := root || n.Tag == "body" || n.Tag == "html"
	if !keep {
		if st.opts.IncludeAll {
			keep = IsVisible(n)
		} else {
			keep = IsRelevant(n, len(kids) > 0)
		}
	}
	if !keep {
		return kids
	}
	if !root && st.count >= MaxNodes {
		st.truncated = true
		return kids
	}

	st.count++
	uid := fmt.Sprintf("%d_%d", st.snapshotID, st.count)
	entry := page.UIDEntry{UID: uid, CSS: CSSSelector(n), XPath: XPath(n)}
	if len(frames) > 0 {
		entry.Frames = frames
	}
	st.uids = append(st.uids, entry)

	node := st.build(n, uid, kids)
	if n.Tag == "iframe" {
		node.IsIframe = true
		node.FrameSrc = n.AttrValue("src")
		node.CrossOrigin = crossOrigin
	}
	return []*page.SnapshotNode{node}
}

func (st *walkState) build(n *dom.Node, uid string, kids []*page.SnapshotNode) *page.SnapshotNode {
	if kids == nil {
		kids = []*page.SnapshotNode{}
	}
	node := &page.SnapshotNode{
		UID:      uid,
		Tag:      n.Tag,
		Role:     strings.ToLower(n.AttrValue("role")),
		Name:     Name(n, st.labelsFor(n)),
		Value:    n.Value,
		Text:     DirectText(n),
		Aria:     Aria(n),
		Computed: ComputedProps(n),
		Children: kids,
	}
	switch n.Tag {
	case "a", "area", "link":
		node.Href = n.AttrValue("href")
	case "img", "video", "audio", "source", "iframe", "embed", "script":
		node.Src = n.AttrValue("src")
	}
	return node
}

func (st *walkState) labelsFor(n *dom.Node) Labels {
	doc := n.Document()
	labels, ok := st.labels[doc]
	if !ok {
		labels = IndexLabels(doc)
		st.labels[doc] = labels
	}
	return labels
}
