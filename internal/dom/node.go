// Package dom holds the serialized form of a page captured in one
// synchronous pass, and builders that produce it.
package dom

import (
	_ "embed"
	"strings"
)

// CaptureJS serializes the document. It runs as a single function
// expression taking CaptureArgs and returning a JSON string.
//
//go:embed capture.js
var CaptureJS string

// DefaultMaxElements is the capture cap used when none is given.
const DefaultMaxElements = 50000

// ScriptName identifies the capture script to backends that dispatch by name.
const ScriptName = "dom.capture"

// CaptureArgs is passed to CaptureJS.
type CaptureArgs struct {
	Selector       string `json:"selector,omitempty"`
	IncludeIframes bool   `json:"includeIframes,omitempty"`
	// MaxElements caps the captured element count. Zero uses
	// DefaultMaxElements.
	MaxElements int `json:"maxElements,omitempty"`
}

type SelectorErrorKind string

const (
	SelectorSyntax   SelectorErrorKind = "syntax"
	SelectorNotFound SelectorErrorKind = "not_found"
)

type SelectorError struct {
	Kind     SelectorErrorKind `json:"kind"`
	Selector string            `json:"selector"`
	Message  string            `json:"message"`
}

func (e *SelectorError) Error() string {
	return e.Message
}

// Capture is the result of one capture pass.
type Capture struct {
	URL   string `json:"url,omitempty"`
	Title string `json:"title,omitempty"`
	// Root is the documentElement.
	Root *Node `json:"root"`
	// Scope is the element-child index path from Root to the element the
	// selector matched. Nil when no selector was given.
	Scope         []int          `json:"scope,omitempty"`
	SelectorError *SelectorError `json:"selectorError,omitempty"`
	// Truncated reports that the element cap stopped the capture early.
	Truncated bool `json:"truncated,omitempty"`
}

type Style struct {
	Display    string `json:"display,omitempty"`
	Visibility string `json:"visibility,omitempty"`
	Opacity    string `json:"opacity,omitempty"`
}

// Frame is the content of an iframe element.
type Frame struct {
	Accessible bool  `json:"accessible"`
	Root       *Node `json:"root,omitempty"`
}

type Node struct {
	Tag      string            `json:"tag"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Style    Style             `json:"style"`
	Text     string            `json:"text,omitempty"`
	Value    string            `json:"value,omitempty"`
	Children []*Node           `json:"children,omitempty"`
	Frame    *Frame            `json:"frame,omitempty"`

	parent *Node
}

// Link sets parent pointers below c.Root and inside every frame document.
// Frame roots have no parent.
func (c *Capture) Link() {
	if c.Root != nil {
		c.Root.link(nil)
	}
}

func (n *Node) link(parent *Node) {
	n.parent = parent
	for _, child := range n.Children {
		child.link(n)
	}
	if n.Frame != nil && n.Frame.Root != nil {
		n.Frame.Root.link(nil)
	}
}

// Start returns the node the walk begins at: the scoped element when a
// selector was given, otherwise the body. A scope on the html element
// also starts at the body.
func (c *Capture) Start() *Node {
	if c.Root == nil {
		return nil
	}
	if c.Scope != nil {
		n := c.Root.Lookup(c.Scope)
		if n == nil {
			return nil
		}
		return n.Body()
	}
	return c.Root.Body()
}

func (n *Node) Parent() *Node {
	return n.parent
}

func (n *Node) Attr(name string) (string, bool) {
	if n.Attrs == nil {
		return "", false
	}
	v, ok := n.Attrs[name]
	return v, ok
}

// AttrValue returns the trimmed attribute value, or "" when absent.
func (n *Node) AttrValue(name string) string {
	v, _ := n.Attr(name)
	return strings.TrimSpace(v)
}

func (n *Node) ID() string {
	return n.AttrValue("id")
}

// Body returns the body child of an html node, or n itself for other tags.
func (n *Node) Body() *Node {
	if n.Tag != "html" {
		return n
	}
	for _, c := range n.Children {
		if c.Tag == "body" {
			return c
		}
	}
	return nil
}

// Lookup follows an element-child index path.
func (n *Node) Lookup(path []int) *Node {
	cur := n
	for _, i := range path {
		if i < 0 || i >= len(cur.Children) {
			return nil
		}
		cur = cur.Children[i]
	}
	return cur
}

// Index returns the position of n among its parent's children.
func (n *Node) Index() int {
	if n.parent == nil {
		return 0
	}
	for i, c := range n.parent.Children {
		if c == n {
			return i
		}
	}
	return -1
}

// TextContent concatenates the direct text of n and all its descendants.
func (n *Node) TextContent() string {
	var parts []string
	var collect func(*Node)
	collect = func(cur *Node) {
		if cur.Text != "" {
			parts = append(parts, cur.Text)
		}
		for _, c := range cur.Children {
			collect(c)
		}
	}
	collect(n)
	return strings.Join(parts, " ")
}

// Document returns the root of the document n belongs to.
func (n *Node) Document() *Node {
	cur := n
	for cur.parent != nil {
		cur = cur.parent
	}
	return cur
}
