package walker

import (
	"strings"
	"testing"

	"github.com/adityalohuni/uidsnap/internal/dom"
)

func mustCapture(t *testing.T, src string) *dom.Capture {
	t.Helper()
	c, err := dom.FromHTML(strings.NewReader(src))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}
	return c
}

func findNode(n *dom.Node, pred func(*dom.Node) bool) *dom.Node {
	if n == nil {
		return nil
	}
	if pred(n) {
		return n
	}
	for _, c := range n.Children {
		if found := findNode(c, pred); found != nil {
			return found
		}
	}
	return nil
}

func byID(c *dom.Capture, id string) *dom.Node {
	return findNode(c.Root, func(n *dom.Node) bool { return n.ID() == id })
}

func TestIsVisibleChecksAncestors(t *testing.T) {
	c := mustCapture(t, `<body>
		<div style="display:none"><button id="a">a</button></div>
		<div style="visibility:hidden"><button id="b">b</button></div>
		<div style="opacity: 0.0"><button id="c">c</button></div>
		<div style="opacity:0.5"><button id="d">d</button></div>
	</body>`)
	cases := map[string]bool{"a": false, "b": false, "c": false, "d": true}
	for id, want := range cases {
		if got := IsVisible(byID(c, id)); got != want {
			t.Errorf("IsVisible(%s) = %v, want %v", id, got, want)
		}
	}
}

func TestIsRelevant(t *testing.T) {
	long := strings.Repeat("x", maxContainerText+1)
	c := mustCapture(t, `<body>
		<a id="link" href="/">home</a>
		<aside id="aside"><b>side</b></aside>
		<div id="withid"></div>
		<div><span id="short">hello</span></div>
		<p id="long-wrap"><span>`+long+`</span></p>
		<div role="tab" id="role"></div>
		<h3 id="heading">Title</h3>
		<nav id="nav"></nav>
		<button id="hidden" style="display:none">x</button>
	</body>`)
	cases := []struct {
		id          string
		descendants bool
		want        bool
	}{
		{"link", false, true},
		{"aside", true, false},
		{"withid", false, true},
		{"short", false, true},
		{"role", false, true},
		{"heading", false, true},
		{"nav", false, true},
		{"hidden", false, false},
	}
	for _, tc := range cases {
		if got := IsRelevant(byID(c, tc.id), tc.descendants); got != tc.want {
			t.Errorf("IsRelevant(%s) = %v, want %v", tc.id, got, tc.want)
		}
	}

	longSpan := findNode(c.Root, func(n *dom.Node) bool { return n.Tag == "span" && len(n.Text) > maxContainerText })
	if IsRelevant(longSpan, false) {
		t.Errorf("span with oversized text and no id/class should not be relevant")
	}
	bare := findNode(c.Root, func(n *dom.Node) bool { return n.Tag == "div" && n.ID() == "" })
	if IsRelevant(bare, false) {
		t.Errorf("bare div without descendants should not be relevant")
	}
	if !IsRelevant(bare, true) {
		t.Errorf("bare div with relevant descendants should be relevant")
	}
}

func TestFocusableAndInteractive(t *testing.T) {
	c := mustCapture(t, `<body>
		<a id="nohref">x</a>
		<a id="href" href="/">x</a>
		<button id="disabled" disabled>x</button>
		<div id="tab" tabindex="0">x</div>
		<div id="neg" tabindex="-1" role="button">x</div>
		<span id="click" onclick="go()">x</span>
	</body>`)
	if IsFocusable(byID(c, "nohref")) || !IsFocusable(byID(c, "href")) {
		t.Errorf("anchor focusability should depend on href")
	}
	if IsFocusable(byID(c, "disabled")) {
		t.Errorf("disabled button should not be focusable")
	}
	if !IsFocusable(byID(c, "tab")) || IsFocusable(byID(c, "neg")) {
		t.Errorf("tabindex handling wrong")
	}
	if !IsInteractive(byID(c, "neg")) || !IsInteractive(byID(c, "click")) {
		t.Errorf("role and onclick should make elements interactive")
	}
}
