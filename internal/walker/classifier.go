package walker

import (
	"strconv"
	"strings"

	"github.com/adityalohuni/uidsnap/internal/dom"
)

// maxContainerText is the longest direct text that still makes a generic
// container relevant on its own.
const maxContainerText = 500

var interactiveTags = map[string]bool{
	"a":        true,
	"button":   true,
	"input":    true,
	"select":   true,
	"textarea": true,
	"option":   true,
	"details":  true,
	"summary":  true,
	"img":      true,
	"video":    true,
	"audio":    true,
	"iframe":   true,
}

var landmarkTags = map[string]bool{
	"nav":     true,
	"main":    true,
	"section": true,
	"article": true,
	"header":  true,
	"footer":  true,
	"form":    true,
}

var containerTags = map[string]bool{
	"div":  true,
	"span": true,
	"p":    true,
	"ul":   true,
	"ol":   true,
	"li":   true,
}

var interactiveRoles = map[string]bool{
	"button":           true,
	"link":             true,
	"checkbox":         true,
	"radio":            true,
	"switch":           true,
	"tab":              true,
	"menuitem":         true,
	"menuitemcheckbox": true,
	"menuitemradio":    true,
	"option":           true,
	"textbox":          true,
	"searchbox":        true,
	"combobox":         true,
	"slider":           true,
	"spinbutton":       true,
	"treeitem":         true,
}

// IsVisible reports whether n and every ancestor in its document are rendered.
func IsVisible(n *dom.Node) bool {
	for cur := n; cur != nil; cur = cur.Parent() {
		if hidden(cur.Style) {
			return false
		}
	}
	return true
}

func hidden(s dom.Style) bool {
	if strings.EqualFold(s.Display, "none") {
		return true
	}
	switch strings.ToLower(s.Visibility) {
	case "hidden", "collapse":
		return true
	}
	if s.Opacity != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s.Opacity), 64); err == nil && f == 0 {
			return true
		}
	}
	return false
}

// IsRelevant decides whether n earns its own node in a snapshot.
// relevantDescendants reports whether the walk kept anything below n.
func IsRelevant(n *dom.Node, relevantDescendants bool) bool {
	if !IsVisible(n) {
		return false
	}
	tag := n.Tag
	if interactiveTags[tag] {
		return true
	}
	if n.AttrValue("role") != "" || n.AttrValue("aria-label") != "" {
		return true
	}
	if isHeading(tag) || landmarkTags[tag] {
		return true
	}
	if containerTags[tag] {
		if text := strings.TrimSpace(n.Text); text != "" && len([]rune(text)) <= maxContainerText {
			return true
		}
		if n.ID() != "" || n.AttrValue("class") != "" {
			return true
		}
		return relevantDescendants
	}
	return false
}

// IsFocusable reports whether n can take keyboard focus.
func IsFocusable(n *dom.Node) bool {
	if _, disabled := n.Attr("disabled"); disabled && formControl(n.Tag) {
		return false
	}
	if ti, ok := n.Attr("tabindex"); ok {
		if v, err := strconv.Atoi(strings.TrimSpace(ti)); err == nil {
			return v >= 0
		}
	}
	switch n.Tag {
	case "a", "area":
		_, ok := n.Attr("href")
		return ok
	case "input":
		return !strings.EqualFold(n.AttrValue("type"), "hidden")
	case "button", "select", "textarea", "iframe", "summary":
		return true
	}
	if ce, ok := n.Attr("contenteditable"); ok && !strings.EqualFold(strings.TrimSpace(ce), "false") {
		return true
	}
	return false
}

// IsInteractive reports whether n accepts user actions.
func IsInteractive(n *dom.Node) bool {
	switch n.Tag {
	case "a", "button", "input", "select", "textarea", "option", "details", "summary", "label":
		return true
	}
	if interactiveRoles[strings.ToLower(n.AttrValue("role"))] {
		return true
	}
	if _, ok := n.Attr("onclick"); ok {
		return true
	}
	return IsFocusable(n)
}

func isHeading(tag string) bool {
	return len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6'
}

func formControl(tag string) bool {
	switch tag {
	case "button", "input", "select", "textarea", "option", "fieldset":
		return true
	}
	return false
}
