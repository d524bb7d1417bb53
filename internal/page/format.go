package page

import (
	"fmt"
	"strconv"
	"strings"
)

const maxValueLen = 30

// FormatOptions controls the text projection. The zero value renders
// everything.
type FormatOptions struct {
	OmitAttributes bool
	OmitText       bool
	// MaxDepth stops descending at this depth when positive.
	MaxDepth int
	// MaxLines caps the output when positive.
	MaxLines int
}

// Format renders n and its descendants, one line per node, two spaces of
// indentation per level starting at depth.
func Format(n *SnapshotNode, depth int, opts FormatOptions) string {
	if n == nil {
		return ""
	}
	var lines []string
	total := 0
	var walk func(*SnapshotNode, int)
	walk = func(cur *SnapshotNode, d int) {
		total++
		if opts.MaxLines <= 0 || len(lines) < opts.MaxLines {
			lines = append(lines, FormatLine(cur, d, opts))
		}
		if opts.MaxDepth > 0 && d >= opts.MaxDepth {
			return
		}
		for _, c := range cur.Children {
			walk(c, d+1)
		}
	}
	walk(n, depth)
	if hidden := total - len(lines); hidden > 0 {
		lines = append(lines, fmt.Sprintf("%s... %d more nodes", strings.Repeat("  ", depth), hidden))
	}
	return strings.Join(lines, "\n")
}

// FormatLine renders a single node without its children.
func FormatLine(n *SnapshotNode, depth int, opts FormatOptions) string {
	var b strings.Builder
	b.WriteString(strings.Repeat("  ", depth))
	b.WriteString("uid=")
	b.WriteString(n.UID)
	b.WriteByte(' ')
	if n.Role != "" {
		b.WriteString(n.Role)
	} else {
		b.WriteString(n.Tag)
	}
	if n.Name != "" {
		b.WriteByte(' ')
		b.WriteString(quote(n.Name))
	}
	if n.Role != "" && n.Role != n.Tag {
		b.WriteString(" tag=")
		b.WriteString(n.Tag)
	}
	if !opts.OmitAttributes {
		writeAttr(&b, "value", n.Value)
		writeAttr(&b, "href", n.Href)
		writeAttr(&b, "src", n.Src)
	}
	if !opts.OmitText && n.Text != "" && n.Text != n.Name {
		writeAttr(&b, "text", n.Text)
	}
	if !opts.OmitAttributes {
		for _, flag := range ariaFlags(n.Aria) {
			b.WriteByte(' ')
			b.WriteString(flag)
		}
		for _, flag := range computedFlags(n.Computed) {
			b.WriteByte(' ')
			b.WriteString(flag)
		}
	}
	if n.IsIframe {
		b.WriteString(" [iframe")
		if n.FrameSrc != "" {
			b.WriteString(" src=")
			b.WriteString(quote(n.FrameSrc))
		}
		if n.CrossOrigin {
			b.WriteString(" cross-origin")
		}
		b.WriteByte(']')
	}
	return b.String()
}

func writeAttr(b *strings.Builder, key, value string) {
	if value == "" {
		return
	}
	b.WriteByte(' ')
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(quote(value))
}

func quote(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > maxValueLen {
		s = string(r[:maxValueLen]) + "..."
	}
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

func ariaFlags(a *Aria) []string {
	if a == nil {
		return nil
	}
	var out []string
	if a.Disabled != nil && *a.Disabled {
		out = append(out, "disabled")
	}
	if a.Hidden != nil && *a.Hidden {
		out = append(out, "hidden")
	}
	if a.Selected != nil && *a.Selected {
		out = append(out, "selected")
	}
	if a.Expanded != nil {
		out = append(out, "expanded="+strconv.FormatBool(*a.Expanded))
	}
	if a.Checked != nil {
		out = append(out, "checked="+string(*a.Checked))
	}
	if a.Pressed != nil {
		out = append(out, "pressed="+string(*a.Pressed))
	}
	if a.Level != nil {
		out = append(out, "level="+strconv.Itoa(*a.Level))
	}
	if a.HasPopup != "" {
		out = append(out, "haspopup="+a.HasPopup)
	}
	if a.Invalid != "" && a.Invalid != "false" {
		out = append(out, "invalid="+a.Invalid)
	}
	return out
}

func computedFlags(c *Computed) []string {
	if c == nil {
		return nil
	}
	var out []string
	if c.Focusable {
		out = append(out, "focusable")
	}
	if c.Interactive {
		out = append(out, "interactive")
	}
	if !c.Accessible {
		out = append(out, "inaccessible")
	}
	return out
}
