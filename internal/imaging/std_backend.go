package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// StdImage is the pure-Go backend's native image: decoded pixels plus the
// source metadata (EXIF orientation, ICC profile, GIF palette) that the
// stdlib decoders drop from image.Image. Processors derive new StdImages
// with withImage so the metadata survives pixel operations.
type StdImage struct {
	img          image.Image
	format       string
	orientation  int
	icc          []byte
	palette      color.Palette
	transparency int
}

func (s *StdImage) Width() int  { return s.img.Bounds().Dx() }
func (s *StdImage) Height() int { return s.img.Bounds().Dy() }

// Native returns the wrapped image.Image.
func (s *StdImage) Native() image.Image { return s.img }

func (s *StdImage) withImage(img image.Image) *StdImage {
	out := *s
	out.img = img
	return &out
}

func asStdImage(img Image) (*StdImage, error) {
	si, ok := img.(*StdImage)
	if !ok {
		return nil, fmt.Errorf("requires a std backend image, got %T", img)
	}
	return si, nil
}

type stdBackend struct{}

// StdBackend returns the pure-Go imaging engine built on image/* and
// golang.org/x/image. It is always available; the vips engine is selected
// with the govips build tag.
func StdBackend() Backend { return stdBackend{} }

func (stdBackend) Name() string { return "std" }

func (stdBackend) Processors() *Registry { return stdProcessors }

func (stdBackend) Open(data []byte) (Image, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}
	si := &StdImage{
		img:          img,
		format:       strings.ToUpper(format),
		transparency: -1,
	}
	switch si.format {
	case FormatJPEG, FormatTIFF:
		si.orientation = readOrientation(data)
	}
	switch si.format {
	case FormatJPEG:
		si.icc = jpegExtractICC(data)
	case FormatPNG:
		si.icc = pngExtractICC(data)
	}
	if p, ok := img.(*image.Paletted); ok {
		si.palette = append(color.Palette(nil), p.Palette...)
		si.transparency = transparentIndex(p.Palette)
	}
	return si, nil
}

// Save encodes through the stdlib and x/image encoders. The pure-Go JPEG
// encoder writes baseline JPEG; SaveOptions.Progressive takes effect on the
// vips backend only. An ICC profile in the options is spliced into JPEG and
// PNG output.
func (stdBackend) Save(img Image, opts *SaveOptions) ([]byte, error) {
	si, err := asStdImage(img)
	if err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &SaveOptions{Transparency: -1}
	}
	format := strings.ToUpper(strings.TrimSpace(opts.Format))
	if format == "" {
		format = si.format
	}

	var buf bytes.Buffer
	switch format {
	case FormatJPEG:
		quality := opts.Quality
		if quality <= 0 || quality > 100 {
			quality = 80
		}
		if err := jpeg.Encode(&buf, si.img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
		if len(opts.ICCProfile) > 0 {
			return jpegEmbedICC(buf.Bytes(), opts.ICCProfile), nil
		}
	case FormatPNG:
		encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
		if err := encoder.Encode(&buf, si.img); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
		if len(opts.ICCProfile) > 0 {
			return pngEmbedICC(buf.Bytes(), opts.ICCProfile), nil
		}
	case FormatGIF:
		out := si.img
		gifOpts := &gif.Options{NumColors: 256}
		if opts.Palette != nil {
			out = mapToPalette(out, opts.Palette)
		}
		if p, ok := out.(*image.Paletted); ok {
			gifOpts.NumColors = len(p.Palette)
		}
		if err := gif.Encode(&buf, out, gifOpts); err != nil {
			return nil, fmt.Errorf("encode gif: %w", err)
		}
	case FormatTIFF:
		if err := tiff.Encode(&buf, si.img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
			return nil, fmt.Errorf("encode tiff: %w", err)
		}
	case FormatBMP:
		if err := bmp.Encode(&buf, si.img); err != nil {
			return nil, fmt.Errorf("encode bmp: %w", err)
		}
	case FormatWEBP:
		return nil, errors.New("webp encoding requires the vips backend")
	default:
		return nil, fmt.Errorf("unsupported save format: %s", format)
	}
	return buf.Bytes(), nil
}

func (stdBackend) Format(img Image) string {
	si, err := asStdImage(img)
	if err != nil || si.format == "" {
		return FormatJPEG
	}
	return si.format
}

func (b stdBackend) Verify(img Image) error {
	si, err := asStdImage(img)
	if err != nil {
		return err
	}
	probe := si.withImage(scaleTo(si.img, 10, 10))
	probe.icc = nil
	for _, format := range []string{FormatJPEG, FormatPNG, FormatTIFF} {
		if _, err := b.Save(probe, &SaveOptions{Format: format, Transparency: -1}); err != nil {
			return fmt.Errorf("image failed %s probe: %w", strings.ToLower(format), err)
		}
	}
	return nil
}

// mapToPalette redraws img onto a paletted canvas, mapping every pixel to
// its nearest palette entry. Used to restore a GIF's source palette after
// pixel operations produced a true-color intermediate.
func mapToPalette(img image.Image, palette color.Palette) *image.Paletted {
	out := image.NewPaletted(img.Bounds(), palette)
	draw.Draw(out, out.Bounds(), img, img.Bounds().Min, draw.Src)
	return out
}

func transparentIndex(p color.Palette) int {
	for i, c := range p {
		if _, _, _, a := c.RGBA(); a == 0 {
			return i
		}
	}
	return -1
}
