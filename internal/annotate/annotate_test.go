package annotate

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func solid(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestAnnotateDrawsBorderAndLabel(t *testing.T) {
	out, err := Annotate(solid(t, 120, 40), Label{UID: "3_7", Tag: "button"}, DefaultConfig())
	if err != nil {
		t.Fatalf("annotate: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if img.Bounds().Dx() != 120 || img.Bounds().Dy() != 40 {
		t.Fatalf("size changed: %v", img.Bounds())
	}
	r, g, b, _ := img.At(119, 39).RGBA()
	if r == 0xffff && g == 0xffff && b == 0xffff {
		t.Fatalf("border not drawn")
	}
	r, g, b, _ = img.At(60, 30).RGBA()
	if r != 0xffff || g != 0xffff || b != 0xffff {
		t.Fatalf("interior should be untouched")
	}
}

func TestAnnotateRejectsGarbage(t *testing.T) {
	if _, err := Annotate([]byte("not an image"), Label{UID: "1_1"}, DefaultConfig()); err == nil {
		t.Fatalf("expected decode error")
	}
}
