package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"testing"

	"imgfield/internal/domain"
)

func runStdChain(t *testing.T, data []byte, format string, specs []Spec, ppoi domain.PPOI) (*StdImage, *Context) {
	t.Helper()

	backend := StdBackend()
	pc := NewContext(specs)
	if err := pc.SetPPOI(ppoi); err != nil {
		t.Fatalf("set ppoi: %v", err)
	}
	pc.Save().Format = format
	pc.Seal()

	chain, err := backend.Processors().Compile(pc.Processors())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	img, err := backend.Open(data)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	out, err := chain.Run(img, pc)
	if err != nil {
		t.Fatalf("run chain: %v", err)
	}
	return out.(*StdImage), pc
}

func TestStdThumbnailShrinksToFit(t *testing.T) {
	out, _ := runStdChain(t, buildTestPNG(t, 240, 120), FormatPNG,
		[]Spec{P("thumbnail", 80, 80)}, domain.DefaultPPOI())
	if out.Width() != 80 || out.Height() != 40 {
		t.Fatalf("thumbnail gave %dx%d, want 80x40", out.Width(), out.Height())
	}
}

func TestStdThumbnailNeverUpscales(t *testing.T) {
	out, _ := runStdChain(t, buildTestPNG(t, 20, 10), FormatPNG,
		[]Spec{P("thumbnail", 80, 80)}, domain.DefaultPPOI())
	if out.Width() != 20 || out.Height() != 10 {
		t.Fatalf("small image was rescaled to %dx%d", out.Width(), out.Height())
	}
}

func TestStdCropProducesExactSize(t *testing.T) {
	for _, ppoi := range []domain.PPOI{
		domain.DefaultPPOI(),
		{X: 0, Y: 0},
		{X: 1, Y: 1},
		{X: 0.2, Y: 0.9},
	} {
		out, _ := runStdChain(t, buildTestPNG(t, 397, 211), FormatPNG,
			[]Spec{P("crop", 100, 100)}, ppoi)
		if out.Width() != 100 || out.Height() != 100 {
			t.Fatalf("crop with ppoi %v gave %dx%d", ppoi, out.Width(), out.Height())
		}
	}
}

// buildSplitPNG is red on the left half and blue on the right half.
func buildSplitPNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < w/2 {
				img.Set(x, y, color.RGBA{255, 0, 0, 255})
			} else {
				img.Set(x, y, color.RGBA{0, 0, 255, 255})
			}
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode split png: %v", err)
	}
	return buf.Bytes()
}

func TestStdCropKeepsPPOIRegion(t *testing.T) {
	src := buildSplitPNG(t, 400, 100)

	out, _ := runStdChain(t, src, FormatPNG, []Spec{P("crop", 100, 100)},
		domain.PPOI{X: 0.25, Y: 0.5})
	r, _, b, _ := out.Native().At(50, 50).RGBA()
	if r < b {
		t.Fatal("crop at left ppoi should keep the red region")
	}

	out, _ = runStdChain(t, src, FormatPNG, []Spec{P("crop", 100, 100)},
		domain.PPOI{X: 0.75, Y: 0.5})
	r, _, b, _ = out.Native().At(50, 50).RGBA()
	if b < r {
		t.Fatal("crop at right ppoi should keep the blue region")
	}
}

func TestStdDefaultChainSetsJPEGSaveDefaults(t *testing.T) {
	out, pc := runStdChain(t, buildTestJPEG(t, 400, 300), FormatJPEG,
		[]Spec{{Name: Default}, P("crop", 200, 200)}, domain.DefaultPPOI())

	if out.Width() != 200 || out.Height() != 200 {
		t.Fatalf("pipeline gave %dx%d, want 200x200", out.Width(), out.Height())
	}
	if pc.Save().Quality != 90 {
		t.Fatalf("quality = %d, want 90", pc.Save().Quality)
	}
	if !pc.Save().Progressive {
		t.Fatal("progressive flag not set")
	}

	data, err := StdBackend().Save(out, pc.Save())
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	decoded, format, err := image.Decode(bytes.NewReader(data))
	if err != nil || format != "jpeg" {
		t.Fatalf("decode gave format %q, err %v", format, err)
	}
	if decoded.Bounds().Dx() != 200 || decoded.Bounds().Dy() != 200 {
		t.Fatal("encoded output lost the crop size")
	}
}

func TestStdForceJPEGOverridesChainQuality(t *testing.T) {
	_, pc := runStdChain(t, buildTestPNG(t, 50, 50), "",
		[]Spec{P("force_jpeg"), {Name: Default}}, domain.DefaultPPOI())
	if pc.Save().Format != FormatJPEG {
		t.Fatalf("format = %q, want JPEG", pc.Save().Format)
	}
	if pc.Save().Quality != 95 {
		t.Fatalf("quality = %d, want 95 from force_jpeg", pc.Save().Quality)
	}
}

func TestStdProcessJPEGFlattensGrayscale(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 40, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 40; x++ {
			gray.SetGray(x, y, color.Gray{Y: uint8(x * 6)})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, gray); err != nil {
		t.Fatalf("encode gray png: %v", err)
	}

	out, pc := runStdChain(t, buf.Bytes(), FormatJPEG,
		[]Spec{{Name: Default}}, domain.DefaultPPOI())

	data, err := StdBackend().Save(out, pc.Save())
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	decoded, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, isGray := decoded.(*image.Gray); isGray {
		t.Fatal("grayscale should have been flattened to color jpeg")
	}
}

func TestStdProcessPNGExpandsPalette(t *testing.T) {
	palette := color.Palette{
		color.RGBA{10, 20, 30, 255},
		color.RGBA{200, 100, 0, 255},
	}
	img := image.NewPaletted(image.Rect(0, 0, 16, 16), palette)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode paletted png: %v", err)
	}

	out, _ := runStdChain(t, buf.Bytes(), FormatPNG,
		[]Spec{{Name: Default}}, domain.DefaultPPOI())
	if _, isPaletted := out.Native().(*image.Paletted); isPaletted {
		t.Fatal("paletted png should expand to RGBA under the default chain")
	}
}

func TestStdProcessGIFCarriesPaletteThroughCrop(t *testing.T) {
	palette := color.Palette{
		color.RGBA{0, 0, 0, 255},
		color.RGBA{0, 255, 0, 255},
		color.RGBA{255, 255, 255, 255},
	}
	src := buildPalettedGIF(t, 64, 32, palette)

	out, pc := runStdChain(t, src, FormatGIF,
		[]Spec{{Name: Default}, P("crop", 16, 16)}, domain.DefaultPPOI())
	if pc.Save().Palette == nil {
		t.Fatal("gif palette not captured into save options")
	}

	data, err := StdBackend().Save(out, pc.Save())
	if err != nil {
		t.Fatalf("save gif: %v", err)
	}
	decoded, err := gif.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode gif: %v", err)
	}
	paletted, ok := decoded.(*image.Paletted)
	if !ok {
		t.Fatalf("gif output decoded to %T", decoded)
	}
	if paletted.Bounds().Dx() != 16 || paletted.Bounds().Dy() != 16 {
		t.Fatal("crop size lost through gif save")
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
			t.Fatalf("output palette color %v not from source palette", c)
		}
	}
}

func TestStdPreserveICCProfileThroughChain(t *testing.T) {
	profile := []byte("fake-icc-profile-payload-for-roundtrip")
	src := pngEmbedICC(buildTestPNG(t, 60, 60), profile)

	out, pc := runStdChain(t, src, FormatPNG,
		[]Spec{{Name: Default}, P("thumbnail", 30, 30)}, domain.DefaultPPOI())
	if !bytes.Equal(pc.Save().ICCProfile, profile) {
		t.Fatal("icc profile not captured into save options")
	}

	data, err := StdBackend().Save(out, pc.Save())
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if got := pngExtractICC(data); !bytes.Equal(got, profile) {
		t.Fatalf("profile did not survive the chain: %q", got)
	}
}

func TestStdAutorotateAppliesOrientation(t *testing.T) {
	src := buildJPEGWithOrientation(t, 30, 20, 6)

	si := mustOpenStd(t, src)
	if si.orientation != 6 {
		t.Fatalf("orientation = %d, want 6", si.orientation)
	}

	out, _ := runStdChain(t, src, FormatJPEG,
		[]Spec{{Name: "autorotate"}}, domain.DefaultPPOI())
	if out.Width() != 20 || out.Height() != 30 {
		t.Fatalf("rotated image is %dx%d, want 20x30", out.Width(), out.Height())
	}
}

func buildJPEGWithOrientation(t *testing.T, w, h, orientation int) []byte {
	t.Helper()

	base := buildTestJPEG(t, w, h)
	app1 := buildEXIFSegment(byte(orientation))
	out := make([]byte, 0, len(base)+len(app1))
	out = append(out, base[:2]...)
	out = append(out, app1...)
	out = append(out, base[2:]...)
	return out
}

// buildEXIFSegment assembles a minimal APP1 segment: a little-endian TIFF
// whose IFD0 holds a single orientation tag.
func buildEXIFSegment(orientation byte) []byte {
	tiffData := []byte{
		'I', 'I', 0x2A, 0x00,
		0x08, 0x00, 0x00, 0x00,
		0x01, 0x00,
		0x12, 0x01, // tag 0x0112
		0x03, 0x00, // SHORT
		0x01, 0x00, 0x00, 0x00,
		orientation, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
	}
	payload := append([]byte("Exif\x00\x00"), tiffData...)
	seg := []byte{0xFF, 0xE1, byte((len(payload) + 2) >> 8), byte(len(payload) + 2)}
	return append(seg, payload...)
}

func TestTransposeForOrientation(t *testing.T) {
	// 2x1 source: red at (0,0), blue at (1,0).
	src := image.NewRGBA(image.Rect(0, 0, 2, 1))
	red := color.RGBA{255, 0, 0, 255}
	blue := color.RGBA{0, 0, 255, 255}
	src.Set(0, 0, red)
	src.Set(1, 0, blue)

	cases := []struct {
		orientation int
		w, h        int
		redAt       image.Point
	}{
		{1, 2, 1, image.Pt(0, 0)},
		{2, 2, 1, image.Pt(1, 0)},
		{3, 2, 1, image.Pt(1, 0)},
		{4, 2, 1, image.Pt(0, 0)},
		{5, 1, 2, image.Pt(0, 0)},
		{6, 1, 2, image.Pt(0, 0)},
		{7, 1, 2, image.Pt(0, 1)},
		{8, 1, 2, image.Pt(0, 1)},
	}
	for _, tc := range cases {
		out := transposeForOrientation(src, tc.orientation)
		if out.Bounds().Dx() != tc.w || out.Bounds().Dy() != tc.h {
			t.Fatalf("orientation %d gave %v", tc.orientation, out.Bounds())
		}
		if got := out.At(tc.redAt.X, tc.redAt.Y); !colorEq(got, red) {
			t.Fatalf("orientation %d: red pixel at %v is %v", tc.orientation, tc.redAt, got)
		}
	}
}
