package htmlbrowser

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/adityalohuni/uidsnap/internal/browser"
)

type element struct {
	b    *Browser
	node *html.Node
}

func (e *element) Probe(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.b.mu.Lock()
	defer e.b.mu.Unlock()
	if !e.b.attachedLocked(e.node) {
		return browser.ErrDetached
	}
	return nil
}

// Click toggles checkboxes, radios and details elements.
func (e *element) Click(ctx context.Context) error {
	return e.act(ctx, "click", "", func(s *goquery.Selection) error {
		switch goquery.NodeName(s) {
		case "input":
			switch strings.ToLower(s.AttrOr("type", "")) {
			case "checkbox":
				toggle(s, "checked")
			case "radio":
				if name, ok := s.Attr("name"); ok {
					root := s.Closest("form")
					if root.Length() == 0 {
						root = s.ParentsFiltered("body")
					}
					root.Find(fmt.Sprintf(`input[type="radio"][name=%q]`, name)).RemoveAttr("checked")
				}
				s.SetAttr("checked", "")
			}
		case "summary":
			toggle(s.ParentFiltered("details"), "open")
		case "details":
			toggle(s, "open")
		}
		return nil
	})
}

func (e *element) Fill(ctx context.Context, text string) error {
	return e.act(ctx, "fill", text, func(s *goquery.Selection) error {
		switch goquery.NodeName(s) {
		case "input":
			s.SetAttr("value", text)
		case "textarea":
			s.SetText(text)
		case "select":
			opts := s.Find("option")
			match := opts.FilterFunction(func(_ int, o *goquery.Selection) bool {
				return o.AttrOr("value", strings.TrimSpace(o.Text())) == text
			})
			if match.Length() == 0 {
				return fmt.Errorf("htmlbrowser: no option %q", text)
			}
			opts.RemoveAttr("selected")
			match.First().SetAttr("selected", "")
		default:
			if _, ok := s.Attr("contenteditable"); !ok {
				return fmt.Errorf("htmlbrowser: <%s> is not fillable", goquery.NodeName(s))
			}
			s.SetText(text)
		}
		return nil
	})
}

func (e *element) Hover(ctx context.Context) error {
	return e.act(ctx, "hover", "", nil)
}

func (e *element) Screenshot(context.Context) ([]byte, error) {
	return nil, fmt.Errorf("htmlbrowser: screenshot: %w", browser.ErrUnsupported)
}

func (e *element) DragTo(ctx context.Context, target browser.ElementHandle) error {
	other, ok := target.(*element)
	if !ok || other.b != e.b {
		return fmt.Errorf("htmlbrowser: drag target from another backend: %w", browser.ErrUnsupported)
	}
	e.b.mu.Lock()
	attached := e.b.attachedLocked(other.node)
	e.b.mu.Unlock()
	if !attached {
		return browser.ErrDetached
	}
	return e.act(ctx, "drag", describe(other.node), nil)
}

func (e *element) act(ctx context.Context, kind, detail string, fn func(*goquery.Selection) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.b.mu.Lock()
	defer e.b.mu.Unlock()
	if !e.b.attachedLocked(e.node) {
		return browser.ErrDetached
	}
	if fn != nil {
		if err := fn(goquery.NewDocumentFromNode(e.node).Selection); err != nil {
			return err
		}
	}
	e.b.events = append(e.b.events, Event{Kind: kind, Target: describe(e.node), Detail: detail})
	e.b.logger.Debug("htmlbrowser: "+kind, "target", describe(e.node))
	return nil
}

func toggle(s *goquery.Selection, attr string) {
	if _, ok := s.Attr(attr); ok {
		s.RemoveAttr(attr)
		return
	}
	s.SetAttr(attr, "")
}

// describe renders n as tag#id or tag.class for event logs.
func describe(n *html.Node) string {
	s := goquery.NewDocumentFromNode(n).Selection
	name := goquery.NodeName(s)
	if id := s.AttrOr("id", ""); id != "" {
		return name + "#" + id
	}
	if class := strings.Fields(s.AttrOr("class", "")); len(class) > 0 {
		return name + "." + class[0]
	}
	return name
}
