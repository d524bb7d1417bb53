package walker

import (
	"testing"

	"github.com/adityalohuni/uidsnap/internal/dom"
)

func TestCSSSelector(t *testing.T) {
	c := mustCapture(t, `<body>
		<div class="list"><ul><li>a</li><li><a href="#" class="target-a">b</a></li></ul></div>
		<main id="content"><section><button>Go</button><button class="target-b">Stop</button></section></main>
		<div id="ember12345"><span class="target-c">x</span></div>
		<div><button data-testid="save" class="target-d">Save</button><button>Other</button></div>
		<nav><a role="tab" aria-label="Next" class="target-e">n</a><a aria-label="Next" class="target-f">n</a></nav>
	</body>`)
	byClass := func(cls string) *dom.Node {
		return findNode(c.Root, func(n *dom.Node) bool { return n.AttrValue("class") == cls })
	}
	cases := map[string]string{
		"target-a": "body > div:nth-of-type(1) > ul > li:nth-of-type(2) > a",
		"target-b": "#content > section > button:nth-of-type(2)",
		"target-c": "body > div:nth-of-type(2) > span",
		"target-d": `body > div:nth-of-type(3) > button[data-testid="save"]`,
		"target-e": `body > nav > a[role="tab"][aria-label="Next"]`,
		"target-f": `body > nav > a[aria-label="Next"]:nth-of-type(2)`,
	}
	for cls, want := range cases {
		if got := CSSSelector(byClass(cls)); got != want {
			t.Errorf("CSSSelector(%s) = %q, want %q", cls, got, want)
		}
	}
	if got := CSSSelector(c.Root.Body()); got != "body" {
		t.Errorf("body selector = %q", got)
	}
}

func TestCSSSelectorAmbiguousAttributes(t *testing.T) {
	c := mustCapture(t, `<body><ul><li aria-label="Item">a</li><li aria-label="Item" id="x2">b</li></ul></body>`)
	second := findNode(c.Root, func(n *dom.Node) bool { return n.Tag == "li" && n.Text == "b" })
	if got := CSSSelector(second); got != "#x2" {
		t.Fatalf("stable id should win, got %q", got)
	}
	first := findNode(c.Root, func(n *dom.Node) bool { return n.Tag == "li" && n.Text == "a" })
	if got, want := CSSSelector(first), `body > ul > li[aria-label="Item"]:nth-of-type(1)`; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestCSSEscape(t *testing.T) {
	cases := map[string]string{
		"main":  "main",
		"1abc":  `\31 abc`,
		"-2x":   `-\32 x`,
		"-":     `\-`,
		"a.b":   `a\.b`,
		"a:b c": `a\:b\ c`,
		"héllo": "héllo",
	}
	for in, want := range cases {
		if got := CSSEscape(in); got != want {
			t.Errorf("CSSEscape(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestXPath(t *testing.T) {
	c := mustCapture(t, `<body>
		<main id="content"><section><button>Go</button><button class="t">Stop</button></section></main>
		<p id="it's">x</p>
		<svg><circle class="dot"></circle></svg>
	</body>`)
	stop := findNode(c.Root, func(n *dom.Node) bool { return n.AttrValue("class") == "t" })
	if got, want := XPath(stop), "/html/body/main/section/button[2]"; got != want {
		t.Errorf("XPath = %q, want %q", got, want)
	}
	if got, want := XPath(byID(c, "content")), `//*[@id="content"]`; got != want {
		t.Errorf("XPath = %q, want %q", got, want)
	}
	if got, want := XPath(byID(c, "it's")), `//*[@id="it's"]`; got != want {
		t.Errorf("XPath = %q, want %q", got, want)
	}
	dot := findNode(c.Root, func(n *dom.Node) bool { return n.AttrValue("class") == "dot" })
	if got, want := XPath(dot), `/html/body/*[local-name()="svg"]/*[local-name()="circle"]`; got != want {
		t.Errorf("XPath = %q, want %q", got, want)
	}
}
