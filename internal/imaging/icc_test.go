package imaging

import (
	"bytes"
	"image"
	"testing"
)

func TestJPEGICCRoundTrip(t *testing.T) {
	profile := []byte("small-icc-profile")
	src := buildTestJPEG(t, 40, 40)

	embedded := jpegEmbedICC(src, profile)
	if bytes.Equal(embedded, src) {
		t.Fatal("embed did not change the file")
	}
	if got := jpegExtractICC(embedded); !bytes.Equal(got, profile) {
		t.Fatalf("extracted %q, want %q", got, profile)
	}

	// APP2 segments must not break decoding.
	img, format, err := image.Decode(bytes.NewReader(embedded))
	if err != nil || format != "jpeg" {
		t.Fatalf("decode after embed: format %q, err %v", format, err)
	}
	if img.Bounds().Dx() != 40 {
		t.Fatal("decode after embed lost dimensions")
	}
}

func TestJPEGICCMultiChunkRoundTrip(t *testing.T) {
	// Larger than one APP2 segment can hold, so the profile splits.
	profile := make([]byte, 70000)
	for i := range profile {
		profile[i] = byte(i % 251)
	}
	embedded := jpegEmbedICC(buildTestJPEG(t, 20, 20), profile)
	if got := jpegExtractICC(embedded); !bytes.Equal(got, profile) {
		t.Fatalf("multi-chunk profile did not survive: got %d bytes, want %d",
			len(got), len(profile))
	}
}

func TestJPEGICCEmbedAfterEXIF(t *testing.T) {
	profile := []byte("profile-after-exif")
	src := buildJPEGWithOrientation(t, 30, 20, 6)

	embedded := jpegEmbedICC(src, profile)
	if got := jpegExtractICC(embedded); !bytes.Equal(got, profile) {
		t.Fatalf("extracted %q, want %q", got, profile)
	}
	if got := readOrientation(embedded); got != 6 {
		t.Fatalf("orientation after embed = %d, want 6", got)
	}
}

func TestJPEGICCExtractAbsent(t *testing.T) {
	if got := jpegExtractICC(buildTestJPEG(t, 10, 10)); got != nil {
		t.Fatalf("extract from plain jpeg gave %d bytes", len(got))
	}
	if got := jpegExtractICC([]byte("not a jpeg")); got != nil {
		t.Fatal("extract from garbage should give nil")
	}
}

func TestJPEGICCEmbedRejectsNonJPEG(t *testing.T) {
	data := buildTestPNG(t, 10, 10)
	if got := jpegEmbedICC(data, []byte("p")); !bytes.Equal(got, data) {
		t.Fatal("png input should pass through unchanged")
	}
	jpg := buildTestJPEG(t, 10, 10)
	if got := jpegEmbedICC(jpg, nil); !bytes.Equal(got, jpg) {
		t.Fatal("empty profile should pass through unchanged")
	}
}

func TestPNGICCRoundTrip(t *testing.T) {
	profile := []byte("png-icc-profile-payload")
	src := buildTestPNG(t, 32, 32)

	embedded := pngEmbedICC(src, profile)
	if got := pngExtractICC(embedded); !bytes.Equal(got, profile) {
		t.Fatalf("extracted %q, want %q", got, profile)
	}

	// The inserted iCCP chunk carries a valid CRC, so decoding still works.
	img, format, err := image.Decode(bytes.NewReader(embedded))
	if err != nil || format != "png" {
		t.Fatalf("decode after embed: format %q, err %v", format, err)
	}
	if img.Bounds().Dx() != 32 {
		t.Fatal("decode after embed lost dimensions")
	}
}

func TestPNGICCExtractAbsent(t *testing.T) {
	if got := pngExtractICC(buildTestPNG(t, 10, 10)); got != nil {
		t.Fatalf("extract from plain png gave %d bytes", len(got))
	}
	if got := pngExtractICC([]byte("not a png")); got != nil {
		t.Fatal("extract from garbage should give nil")
	}
}

func TestPNGICCEmbedRejectsNonPNG(t *testing.T) {
	data := buildTestJPEG(t, 10, 10)
	if got := pngEmbedICC(data, []byte("p")); !bytes.Equal(got, data) {
		t.Fatal("jpeg input should pass through unchanged")
	}
}
