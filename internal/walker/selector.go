package walker

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/adityalohuni/uidsnap/internal/dom"
)

// maxSegmentLen bounds a single attribute-based selector segment. Longer
// segments fall back to positional form.
const maxSegmentLen = 100

// CSSSelector builds a selector for n from the element up to body. A stable
// id ends the walk; other segments are joined with " > ".
func CSSSelector(n *dom.Node) string {
	if n == nil {
		return ""
	}
	switch n.Tag {
	case "body", "html":
		return n.Tag
	}
	var segs []string
	for cur := n; cur != nil; cur = cur.Parent() {
		if cur.Tag == "body" || cur.Tag == "html" {
			segs = append(segs, cur.Tag)
			break
		}
		if id := cur.ID(); stableID(id) {
			segs = append(segs, "#"+CSSEscape(id))
			break
		}
		segs = append(segs, segment(cur))
	}
	reverse(segs)
	return strings.Join(segs, " > ")
}

func segment(n *dom.Node) string {
	tag := CSSEscape(n.Tag)
	var attrSeg string
	switch {
	case n.AttrValue("data-testid") != "":
		attrSeg = tag + attrSelector("data-testid", n.AttrValue("data-testid"))
	case n.AttrValue("data-test-id") != "":
		attrSeg = tag + attrSelector("data-test-id", n.AttrValue("data-test-id"))
	case n.AttrValue("aria-label") != "":
		attrSeg = tag
		if role := n.AttrValue("role"); role != "" {
			attrSeg += attrSelector("role", role)
		}
		attrSeg += attrSelector("aria-label", n.AttrValue("aria-label"))
	}
	if attrSeg != "" && len(attrSeg) <= maxSegmentLen && !ambiguous(n) {
		return attrSeg
	}
	if attrSeg != "" && len(attrSeg) <= maxSegmentLen {
		return attrSeg + nthOfType(n)
	}
	return tag + nthOfType(n)
}

// ambiguous reports whether a same-tag sibling would also match the
// attribute segment of n.
func ambiguous(n *dom.Node) bool {
	parent := n.Parent()
	if parent == nil {
		return false
	}
	for _, sib := range parent.Children {
		if sib == n || sib.Tag != n.Tag {
			continue
		}
		switch {
		case n.AttrValue("data-testid") != "":
			if sib.AttrValue("data-testid") == n.AttrValue("data-testid") {
				return true
			}
		case n.AttrValue("data-test-id") != "":
			if sib.AttrValue("data-test-id") == n.AttrValue("data-test-id") {
				return true
			}
		default:
			role := n.AttrValue("role")
			if sib.AttrValue("aria-label") == n.AttrValue("aria-label") && (role == "" || sib.AttrValue("role") == role) {
				return true
			}
		}
	}
	return false
}

// nthOfType returns ":nth-of-type(k)" when n has same-tag siblings.
func nthOfType(n *dom.Node) string {
	pos, count := typePosition(n)
	if count <= 1 {
		return ""
	}
	return ":nth-of-type(" + strconv.Itoa(pos) + ")"
}

// typePosition returns the 1-based position of n among siblings with the
// same tag, and how many such siblings exist.
func typePosition(n *dom.Node) (int, int) {
	parent := n.Parent()
	if parent == nil {
		return 1, 1
	}
	pos, count := 0, 0
	for _, sib := range parent.Children {
		if sib.Tag != n.Tag {
			continue
		}
		count++
		if sib == n {
			pos = count
		}
	}
	return pos, count
}

func stableID(id string) bool {
	if id == "" || len(id) > maxSegmentLen {
		return false
	}
	if strings.HasPrefix(id, ":") || strings.ContainsAny(id, " \t\n\r\f") {
		return false
	}
	run := 0
	for _, r := range id {
		if r >= '0' && r <= '9' {
			run++
			if run >= 4 {
				return false
			}
		} else {
			run = 0
		}
	}
	return true
}

func attrSelector(name, value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	value = strings.ReplaceAll(value, `"`, `\"`)
	value = strings.ReplaceAll(value, "\n", `\a `)
	return "[" + name + `="` + value + `"]`
}

// CSSEscape escapes an identifier the way CSS.escape does.
func CSSEscape(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		switch {
		case r == 0:
			b.WriteRune('\uFFFD')
		case (r >= 0x1 && r <= 0x1f) || r == 0x7f:
			fmt.Fprintf(&b, "\\%x ", r)
		case i == 0 && r >= '0' && r <= '9':
			fmt.Fprintf(&b, "\\%x ", r)
		case i == 1 && r >= '0' && r <= '9' && runes[0] == '-':
			fmt.Fprintf(&b, "\\%x ", r)
		case i == 0 && r == '-' && len(runes) == 1:
			b.WriteString(`\-`)
		case r >= 0x80 || r == '-' || r == '_' || (r >= '0' && r <= '9') || (r < 0x80 && unicode.IsLetter(r)):
			b.WriteRune(r)
		default:
			b.WriteByte('\\')
			b.WriteRune(r)
		}
	}
	return b.String()
}

// XPath builds an absolute XPath for n, or an id lookup when n has an id.
// Positional indexes appear only where same-tag siblings exist.
func XPath(n *dom.Node) string {
	if n == nil {
		return ""
	}
	if id := n.ID(); id != "" {
		if lit, ok := xpathLiteral(id); ok {
			return "//*[@id=" + lit + "]"
		}
	}
	var segs []string
	for cur := n; cur != nil; cur = cur.Parent() {
		seg := cur.Tag
		if foreign(cur) {
			seg = `*[local-name()="` + cur.Tag + `"]`
		}
		if pos, count := typePosition(cur); count > 1 {
			seg += "[" + strconv.Itoa(pos) + "]"
		}
		segs = append(segs, seg)
	}
	reverse(segs)
	return "/" + strings.Join(segs, "/")
}

// foreign reports whether n sits inside an svg or math subtree, where
// unprefixed names do not match.
func foreign(n *dom.Node) bool {
	for cur := n; cur != nil; cur = cur.Parent() {
		if cur.Tag == "svg" || cur.Tag == "math" {
			return true
		}
	}
	return false
}

func xpathLiteral(s string) (string, bool) {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`, true
	}
	if !strings.Contains(s, `'`) {
		return `'` + s + `'`, true
	}
	return "", false
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
