// Package annotate draws a snapshot uid onto an element screenshot.
package annotate

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"

	"github.com/fogleman/gg"
)

type Config struct {
	BorderWidth float64
	Padding     float64
	LinkColor   color.Color
	ButtonColor color.Color
	InputColor  color.Color
	OtherColor  color.Color
	LabelText   color.Color
}

func DefaultConfig() Config {
	return Config{
		BorderWidth: 2,
		Padding:     3,
		LinkColor:   color.RGBA{R: 76, G: 175, B: 80, A: 255},
		ButtonColor: color.RGBA{R: 33, G: 150, B: 243, A: 255},
		InputColor:  color.RGBA{R: 255, G: 152, B: 0, A: 255},
		OtherColor:  color.RGBA{R: 156, G: 39, B: 176, A: 255},
		LabelText:   color.White,
	}
}

// Label identifies the element in the image.
type Label struct {
	UID string
	Tag string
}

func (l Label) String() string {
	if l.Tag == "" {
		return l.UID
	}
	return l.UID + " " + l.Tag
}

// Annotate outlines the image and stamps the label in its top-left corner.
// The result is always PNG.
func Annotate(data []byte, label Label, cfg Config) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("annotate: decode: %w", err)
	}
	dc := gg.NewContextForImage(img)
	w, h := float64(dc.Width()), float64(dc.Height())
	accent := cfg.colorFor(label.Tag)

	dc.SetColor(accent)
	dc.SetLineWidth(cfg.BorderWidth)
	dc.DrawRectangle(cfg.BorderWidth/2, cfg.BorderWidth/2, w-cfg.BorderWidth, h-cfg.BorderWidth)
	dc.Stroke()

	text := label.String()
	tw, th := dc.MeasureString(text)
	dc.SetColor(accent)
	dc.DrawRectangle(0, 0, tw+2*cfg.Padding, th+2*cfg.Padding)
	dc.Fill()
	dc.SetColor(cfg.LabelText)
	dc.DrawStringAnchored(text, cfg.Padding, cfg.Padding, 0, 1)

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("annotate: encode: %w", err)
	}
	return buf.Bytes(), nil
}

func (c Config) colorFor(tag string) color.Color {
	switch tag {
	case "a":
		return c.LinkColor
	case "button":
		return c.ButtonColor
	case "input", "textarea", "select":
		return c.InputColor
	default:
		return c.OtherColor
	}
}
