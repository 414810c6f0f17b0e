package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"
)

func buildTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}

func buildTestJPEG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: 90, B: uint8(y % 256), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode source jpeg: %v", err)
	}
	return buf.Bytes()
}

func buildPalettedGIF(t *testing.T, w, h int, palette color.Palette) []byte {
	t.Helper()

	img := image.NewPaletted(image.Rect(0, 0, w, h), palette)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetColorIndex(x, y, uint8((x+y)%len(palette)))
		}
	}
	var buf bytes.Buffer
	if err := gif.Encode(&buf, img, &gif.Options{NumColors: len(palette)}); err != nil {
		t.Fatalf("encode source gif: %v", err)
	}
	return buf.Bytes()
}

func mustOpenStd(t *testing.T, data []byte) *StdImage {
	t.Helper()

	img, err := StdBackend().Open(data)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return img.(*StdImage)
}

func TestStdBackendOpenReadsFormatAndDimensions(t *testing.T) {
	si := mustOpenStd(t, buildTestPNG(t, 240, 120))
	if si.Width() != 240 || si.Height() != 120 {
		t.Fatalf("dimensions %dx%d, want 240x120", si.Width(), si.Height())
	}
	if got := StdBackend().Format(si); got != FormatPNG {
		t.Fatalf("format %s, want PNG", got)
	}

	si = mustOpenStd(t, buildTestJPEG(t, 30, 20))
	if got := StdBackend().Format(si); got != FormatJPEG {
		t.Fatalf("format %s, want JPEG", got)
	}
}

func TestStdBackendOpenRejectsGarbage(t *testing.T) {
	if _, err := StdBackend().Open([]byte("not an image at all")); err == nil {
		t.Fatal("expected decode error")
	}
	truncated := buildTestPNG(t, 40, 40)[:20]
	if _, err := StdBackend().Open(truncated); err == nil {
		t.Fatal("expected decode error for truncated file")
	}
}

func TestStdBackendSaveRoundTripsFormats(t *testing.T) {
	si := mustOpenStd(t, buildTestPNG(t, 32, 16))

	for _, format := range []string{FormatJPEG, FormatPNG, FormatGIF, FormatTIFF, FormatBMP} {
		data, err := StdBackend().Save(si, &SaveOptions{Format: format, Transparency: -1})
		if err != nil {
			t.Fatalf("save %s: %v", format, err)
		}
		decoded, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("decode saved %s: %v", format, err)
		}
		if decoded.Bounds().Dx() != 32 || decoded.Bounds().Dy() != 16 {
			t.Fatalf("%s round trip changed dimensions", format)
		}
	}
}

func TestStdBackendSaveWebpUnsupported(t *testing.T) {
	si := mustOpenStd(t, buildTestPNG(t, 8, 8))
	_, err := StdBackend().Save(si, &SaveOptions{Format: FormatWEBP, Transparency: -1})
	if err == nil {
		t.Fatal("expected webp encode error on std backend")
	}
}

func TestStdBackendSaveDefaultsToSourceFormat(t *testing.T) {
	si := mustOpenStd(t, buildTestJPEG(t, 16, 16))
	data, err := StdBackend().Save(si, &SaveOptions{Transparency: -1})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	_, format, err := image.Decode(bytes.NewReader(data))
	if err != nil || format != "jpeg" {
		t.Fatalf("expected jpeg output, got %q, %v", format, err)
	}
}

func TestStdBackendVerifyAcceptsValidImage(t *testing.T) {
	si := mustOpenStd(t, buildTestPNG(t, 64, 48))
	if err := StdBackend().Verify(si); err != nil {
		t.Fatalf("verify valid image: %v", err)
	}
}

func TestStdBackendGIFKeepsSourcePalette(t *testing.T) {
	palette := color.Palette{
		color.RGBA{0, 0, 0, 255},
		color.RGBA{255, 0, 0, 255},
		color.RGBA{255, 255, 255, 255},
	}
	si := mustOpenStd(t, buildPalettedGIF(t, 24, 24, palette))

	data, err := StdBackend().Save(si, &SaveOptions{
		Format:       FormatGIF,
		Palette:      si.palette,
		Transparency: si.transparency,
	})
	if err != nil {
		t.Fatalf("save gif: %v", err)
	}
	decoded, err := gif.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode gif: %v", err)
	}
	paletted, ok := decoded.(*image.Paletted)
	if !ok {
		t.Fatalf("gif decoded to %T", decoded)
	}
	for _, c := range paletted.Palette {
		found := false
		for _, want := range palette {
			if colorEq(c, want) {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("output palette color %v not in source palette", c)
		}
	}
}

func colorEq(a, b color.Color) bool {
	ar, ag, ab, aa := a.RGBA()
	br, bg, bb, ba := b.RGBA()
	return ar == br && ag == bg && ab == bb && aa == ba
}
