package dom

import (
	"io"
	"strings"

	"golang.org/x/net/html"
)

// notRendered lists elements the browser never lays out. Their children
// are not captured.
var notRendered = map[string]bool{
	"head":     true,
	"script":   true,
	"style":    true,
	"template": true,
	"noscript": true,
	"title":    true,
	"meta":     true,
	"link":     true,
	"base":     true,
}

// BuildOptions controls how a parsed document is converted.
type BuildOptions struct {
	// FrameDocument returns the content document of an iframe element, or
	// nil when it cannot be accessed. Defaults to parsing srcdoc.
	FrameDocument func(iframe *html.Node) *html.Node
	// MaxElements caps the converted element count the way the in-page
	// script does. Zero uses DefaultMaxElements.
	MaxElements int
}

// FromHTML parses r and converts it into a Capture.
func FromHTML(r io.Reader) (*Capture, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	return FromDocument(doc, BuildOptions{}), nil
}

// FromDocument converts a parsed document. Inline styles, the hidden
// attribute and non-rendered tags stand in for computed style.
func FromDocument(doc *html.Node, opts BuildOptions) *Capture {
	if opts.FrameDocument == nil {
		opts.FrameDocument = SrcdocDocument
	}
	c := &Capture{}
	root := DocumentElement(doc)
	if root == nil {
		return c
	}
	if opts.MaxElements <= 0 {
		opts.MaxElements = DefaultMaxElements
	}
	b := builder{opts: opts}
	c.Root = b.build(root)
	c.Truncated = b.truncated
	c.Title = strings.TrimSpace(titleOf(root))
	c.Link()
	return c
}

// DocumentElement returns the html element of a parsed document.
func DocumentElement(doc *html.Node) *html.Node {
	if doc == nil {
		return nil
	}
	if doc.Type == html.ElementNode {
		return doc
	}
	for c := doc.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return c
		}
	}
	return nil
}

// SrcdocDocument parses the srcdoc attribute of an iframe. Frames without
// srcdoc are treated as cross-origin.
func SrcdocDocument(iframe *html.Node) *html.Node {
	src, ok := attrOf(iframe, "srcdoc")
	if !ok {
		return nil
	}
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil
	}
	return doc
}

// ElementPath returns the element-child index path from the document
// element down to n, matching Capture.Scope.
func ElementPath(n *html.Node) []int {
	path := []int{}
	for cur := n; cur != nil && cur.Parent != nil && cur.Parent.Type == html.ElementNode; cur = cur.Parent {
		idx := 0
		for sib := cur.Parent.FirstChild; sib != nil && sib != cur; sib = sib.NextSibling {
			if sib.Type == html.ElementNode {
				idx++
			}
		}
		path = append([]int{idx}, path...)
	}
	return path
}

type builder struct {
	opts      BuildOptions
	count     int
	truncated bool
}

func (b *builder) build(n *html.Node) *Node {
	b.count++
	tag := strings.ToLower(n.Data)
	node := &Node{Tag: tag}
	for _, a := range n.Attr {
		if node.Attrs == nil {
			node.Attrs = make(map[string]string, len(n.Attr))
		}
		key := strings.ToLower(a.Key)
		if _, dup := node.Attrs[key]; !dup {
			node.Attrs[key] = a.Val
		}
	}
	node.Style = styleOf(tag, node.Attrs)
	node.Text = directText(n)
	node.Value = valueOf(tag, n)

	if tag == "iframe" {
		node.Frame = &Frame{}
		if fdoc := b.opts.FrameDocument(n); fdoc != nil {
			if froot := DocumentElement(fdoc); froot != nil {
				node.Frame.Accessible = true
				node.Frame.Root = b.build(froot)
			}
		}
	}
	if notRendered[tag] {
		return node
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		if b.count >= b.opts.MaxElements {
			b.truncated = true
			break
		}
		node.Children = append(node.Children, b.build(c))
	}
	return node
}

// titleOf returns the text of the first title element. The head is not
// captured, so it is read from the parsed tree.
func titleOf(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "title" {
		return directText(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := titleOf(c); t != "" {
			return t
		}
	}
	return ""
}

func styleOf(tag string, attrs map[string]string) Style {
	s := Style{Display: "block", Visibility: "visible", Opacity: "1"}
	if notRendered[tag] {
		s.Display = "none"
	}
	if _, ok := attrs["hidden"]; ok {
		s.Display = "none"
	}
	if tag == "input" && strings.EqualFold(strings.TrimSpace(attrs["type"]), "hidden") {
		s.Display = "none"
	}
	for _, decl := range strings.Split(attrs["style"], ";") {
		prop, val, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		val = strings.ToLower(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(val), "!important")))
		switch strings.ToLower(strings.TrimSpace(prop)) {
		case "display":
			s.Display = val
		case "visibility":
			s.Visibility = val
		case "opacity":
			s.Opacity = val
		}
	}
	return s
}

func directText(n *html.Node) string {
	var parts []string
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.TextNode {
			continue
		}
		if t := strings.TrimSpace(c.Data); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

func valueOf(tag string, n *html.Node) string {
	switch tag {
	case "input":
		v, _ := attrOf(n, "value")
		return v
	case "textarea":
		var b strings.Builder
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				b.WriteString(c.Data)
			}
		}
		return b.String()
	case "select":
		var first *html.Node
		var pick func(*html.Node) *html.Node
		pick = func(cur *html.Node) *html.Node {
			for c := cur.FirstChild; c != nil; c = c.NextSibling {
				if c.Type != html.ElementNode {
					continue
				}
				if c.Data == "option" {
					if first == nil {
						first = c
					}
					if _, ok := attrOf(c, "selected"); ok {
						return c
					}
				}
				if c.Data == "optgroup" {
					if found := pick(c); found != nil {
						return found
					}
				}
			}
			return nil
		}
		opt := pick(n)
		if opt == nil {
			opt = first
		}
		if opt == nil {
			return ""
		}
		if v, ok := attrOf(opt, "value"); ok {
			return v
		}
		return directText(opt)
	}
	return ""
}

func attrOf(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}
