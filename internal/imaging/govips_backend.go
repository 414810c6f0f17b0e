//go:build govips && cgo

package imaging

import (
	"fmt"
	"strings"

	"github.com/davidbyttow/govips/v2/vips"
)

// The vips engine uses *vips.ImageRef as its native image; ImageRef already
// satisfies the Image interface. Operations mutate the ref in place, so the
// chain hands the same pointer through every step.

type vipsEngine struct{}

func (vipsEngine) Name() string { return "vips" }

func (vipsEngine) Processors() *Registry { return vipsProcessors }

func (vipsEngine) Open(data []byte) (Image, error) {
	img, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}
	return img, nil
}

func asVipsImage(img Image) (*vips.ImageRef, error) {
	ref, ok := img.(*vips.ImageRef)
	if !ok {
		return nil, fmt.Errorf("requires a vips backend image, got %T", img)
	}
	return ref, nil
}

// Save exports through libvips. Embedded ICC profiles ride along
// automatically, so SaveOptions.ICCProfile is not consulted here.
func (vipsEngine) Save(img Image, opts *SaveOptions) ([]byte, error) {
	ref, err := asVipsImage(img)
	if err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &SaveOptions{Transparency: -1}
	}
	format := strings.ToUpper(strings.TrimSpace(opts.Format))
	if format == "" {
		format = vipsFormatName(ref.Format())
	}

	switch format {
	case FormatJPEG:
		params := vips.NewJpegExportParams()
		if opts.Quality > 0 && opts.Quality <= 100 {
			params.Quality = opts.Quality
		}
		params.Interlace = opts.Progressive
		data, _, err := ref.ExportJpeg(params)
		if err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
		return data, nil
	case FormatPNG:
		params := vips.NewPngExportParams()
		data, _, err := ref.ExportPng(params)
		if err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
		return data, nil
	case FormatGIF:
		params := vips.NewGifExportParams()
		if opts.Quality > 0 && opts.Quality <= 100 {
			params.Quality = opts.Quality
		}
		data, _, err := ref.ExportGif(params)
		if err != nil {
			return nil, fmt.Errorf("encode gif: %w", err)
		}
		return data, nil
	case FormatWEBP:
		params := vips.NewWebpExportParams()
		if opts.Quality > 0 && opts.Quality <= 100 {
			params.Quality = opts.Quality
		}
		params.Lossless = opts.Lossless
		data, _, err := ref.ExportWebp(params)
		if err != nil {
			return nil, fmt.Errorf("encode webp: %w", err)
		}
		return data, nil
	case FormatTIFF:
		params := vips.NewTiffExportParams()
		data, _, err := ref.ExportTiff(params)
		if err != nil {
			return nil, fmt.Errorf("encode tiff: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported save format: %s", format)
	}
}

func (vipsEngine) Format(img Image) string {
	ref, err := asVipsImage(img)
	if err != nil {
		return FormatJPEG
	}
	return vipsFormatName(ref.Format())
}

func (vipsEngine) Verify(img Image) error {
	ref, err := asVipsImage(img)
	if err != nil {
		return err
	}
	probe, err := ref.Copy()
	if err != nil {
		return fmt.Errorf("image failed probe copy: %w", err)
	}
	defer probe.Close()

	scale := 10.0 / float64(max(probe.Width(), probe.Height()))
	if scale > 1 {
		scale = 1
	}
	if err := probe.Resize(scale, vips.KernelLanczos3); err != nil {
		return fmt.Errorf("image failed probe resize: %w", err)
	}
	if err := probe.ToColorSpace(vips.InterpretationSRGB); err != nil {
		return fmt.Errorf("image failed srgb probe: %w", err)
	}
	if _, _, err := probe.ExportJpeg(vips.NewJpegExportParams()); err != nil {
		return fmt.Errorf("image failed jpeg probe: %w", err)
	}
	if _, _, err := probe.ExportPng(vips.NewPngExportParams()); err != nil {
		return fmt.Errorf("image failed png probe: %w", err)
	}
	return nil
}

func vipsFormatName(t vips.ImageType) string {
	switch t {
	case vips.ImageTypeJPEG:
		return FormatJPEG
	case vips.ImageTypePNG:
		return FormatPNG
	case vips.ImageTypeGIF:
		return FormatGIF
	case vips.ImageTypeWEBP:
		return FormatWEBP
	case vips.ImageTypeTIFF:
		return FormatTIFF
	case vips.ImageTypeBMP:
		return FormatBMP
	default:
		return FormatJPEG
	}
}
