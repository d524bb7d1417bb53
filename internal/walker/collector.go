package walker

import (
	"strconv"
	"strings"

	"github.com/adityalohuni/uidsnap/internal/dom"
	"github.com/adityalohuni/uidsnap/internal/page"
)

const maxDirectText = 100

// Labels maps element ids to the text of the <label for> elements that
// point at them, within one document.
type Labels map[string]string

// IndexLabels collects every <label for> below root.
func IndexLabels(root *dom.Node) Labels {
	labels := Labels{}
	var visit func(*dom.Node)
	visit = func(n *dom.Node) {
		if n.Tag == "label" {
			if target := n.AttrValue("for"); target != "" {
				if _, seen := labels[target]; !seen {
					labels[target] = collapse(n.TextContent())
				}
			}
		}
		for _, c := range n.Children {
			visit(c)
		}
	}
	if root != nil {
		visit(root)
	}
	return labels
}

// Name picks the accessible name of n in priority order.
func Name(n *dom.Node, labels Labels) string {
	if v := n.AttrValue("aria-label"); v != "" {
		return v
	}
	if id := n.ID(); id != "" {
		if v := labels[id]; v != "" {
			return v
		}
	}
	for _, attr := range []string{"placeholder", "title", "alt", "name"} {
		if v := n.AttrValue(attr); v != "" {
			return v
		}
	}
	if n.Tag == "a" || n.Tag == "button" || isHeading(n.Tag) {
		return DirectText(n)
	}
	return ""
}

// DirectText returns the trimmed text of the immediate text children of n.
func DirectText(n *dom.Node) string {
	return truncateRunes(collapse(n.Text), maxDirectText)
}

// Aria collects the allow-listed aria-* attributes of n. It returns nil
// when none are present.
func Aria(n *dom.Node) *page.Aria {
	var a page.Aria
	found := false
	boolAttr := func(name string) *bool {
		v, ok := n.Attr("aria-" + name)
		if !ok {
			return nil
		}
		found = true
		b := strings.EqualFold(strings.TrimSpace(v), "true")
		return &b
	}
	triAttr := func(name string) *page.Tristate {
		v, ok := n.Attr("aria-" + name)
		if !ok {
			return nil
		}
		found = true
		t := page.TriFalse
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true":
			t = page.TriTrue
		case "mixed":
			t = page.TriMixed
		}
		return &t
	}
	strAttr := func(name string) string {
		v, ok := n.Attr("aria-" + name)
		if !ok {
			return ""
		}
		v = strings.TrimSpace(v)
		if v != "" {
			found = true
		}
		return v
	}

	a.Disabled = boolAttr("disabled")
	a.Hidden = boolAttr("hidden")
	a.Selected = boolAttr("selected")
	a.Expanded = boolAttr("expanded")
	a.Checked = triAttr("checked")
	a.Pressed = triAttr("pressed")
	a.Autocomplete = strAttr("autocomplete")
	a.HasPopup = strAttr("haspopup")
	a.Invalid = strAttr("invalid")
	a.Label = strAttr("label")
	a.LabelledBy = strAttr("labelledby")
	a.DescribedBy = strAttr("describedby")
	a.Controls = strAttr("controls")
	if v, ok := n.Attr("aria-level"); ok {
		if lvl, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			a.Level = &lvl
			found = true
		}
	}
	if !found {
		return nil
	}
	return &a
}

// ComputedProps derives the computed flags of n.
func ComputedProps(n *dom.Node) *page.Computed {
	visible := IsVisible(n)
	ariaHidden := strings.EqualFold(n.AttrValue("aria-hidden"), "true")
	return &page.Computed{
		Focusable:   IsFocusable(n),
		Interactive: IsInteractive(n),
		Visible:     visible,
		Accessible:  visible && !ariaHidden,
	}
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
