//go:build govips && cgo

package imaging

import (
	"fmt"
	"math"

	"github.com/davidbyttow/govips/v2/vips"
)

var vipsProcessors = NewRegistry()

func init() {
	registerVipsProcessors(vipsProcessors)
	registerCommonProcessors(vipsProcessors)
}

func registerVipsProcessors(r *Registry) {
	r.Add("autorotate", vipsAutorotate)
	r.Add("process_jpeg", vipsProcessJPEG)
	r.Add("process_png", vipsProcessPNG)
	r.Add("process_gif", vipsProcessGIF)
	r.Add("preserve_icc_profile", vipsPreserveICC)
	r.Add("thumbnail", vipsThumbnail)
	r.Add("crop", vipsCrop)
}

func vipsAutorotate(args []any) (Processor, error) {
	return func(next Next, img Image, pc *Context) (Image, error) {
		out, err := next(img, pc)
		if err != nil {
			return nil, err
		}
		ref, err := asVipsImage(out)
		if err != nil {
			return nil, err
		}
		if err := ref.AutoRotate(); err != nil {
			return nil, fmt.Errorf("autorotate: %w", err)
		}
		return ref, nil
	}, nil
}

func vipsProcessJPEG(args []any) (Processor, error) {
	return func(next Next, img Image, pc *Context) (Image, error) {
		out, err := next(img, pc)
		if err != nil {
			return nil, err
		}
		save := pc.Save()
		if save.Format != FormatJPEG {
			return out, nil
		}
		if save.Quality == 0 {
			save.Quality = 90
		}
		save.Progressive = true
		ref, err := asVipsImage(out)
		if err != nil {
			return nil, err
		}
		if ref.Interpretation() != vips.InterpretationSRGB {
			if err := ref.ToColorSpace(vips.InterpretationSRGB); err != nil {
				return nil, fmt.Errorf("convert to srgb: %w", err)
			}
		}
		return ref, nil
	}, nil
}

// vipsProcessPNG expands indexed and single-band images into sRGB with an
// alpha channel, mirroring the std backend's palette-to-RGBA expansion.
func vipsProcessPNG(args []any) (Processor, error) {
	return func(next Next, img Image, pc *Context) (Image, error) {
		out, err := next(img, pc)
		if err != nil {
			return nil, err
		}
		if pc.Save().Format != FormatPNG {
			return out, nil
		}
		ref, err := asVipsImage(out)
		if err != nil {
			return nil, err
		}
		if ref.Bands() < 3 {
			if err := ref.ToColorSpace(vips.InterpretationSRGB); err != nil {
				return nil, fmt.Errorf("convert to srgb: %w", err)
			}
			if !ref.HasAlpha() {
				if err := ref.AddAlpha(); err != nil {
					return nil, fmt.Errorf("add alpha: %w", err)
				}
			}
		}
		return ref, nil
	}, nil
}

// vipsProcessGIF is a pass-through: libvips tracks palette and transparency
// itself through load and export.
func vipsProcessGIF(args []any) (Processor, error) {
	return func(next Next, img Image, pc *Context) (Image, error) {
		return next(img, pc)
	}, nil
}

// vipsPreserveICC is a pass-through: libvips carries embedded profiles from
// load to export without help.
func vipsPreserveICC(args []any) (Processor, error) {
	return func(next Next, img Image, pc *Context) (Image, error) {
		return next(img, pc)
	}, nil
}

func vipsThumbnail(args []any) (Processor, error) {
	width, height, err := sizeArgs(args)
	if err != nil {
		return nil, err
	}
	return func(next Next, img Image, pc *Context) (Image, error) {
		out, err := next(img, pc)
		if err != nil {
			return nil, err
		}
		ref, err := asVipsImage(out)
		if err != nil {
			return nil, err
		}
		f := math.Min(1, math.Min(
			float64(width)/float64(ref.Width()),
			float64(height)/float64(ref.Height()),
		))
		if f >= 1 {
			return ref, nil
		}
		if err := ref.Resize(f, vips.KernelLanczos3); err != nil {
			return nil, fmt.Errorf("thumbnail resize: %w", err)
		}
		return ref, nil
	}, nil
}

func vipsCrop(args []any) (Processor, error) {
	width, height, err := sizeArgs(args)
	if err != nil {
		return nil, err
	}
	return func(next Next, img Image, pc *Context) (Image, error) {
		out, err := next(img, pc)
		if err != nil {
			return nil, err
		}
		ref, err := asVipsImage(out)
		if err != nil {
			return nil, err
		}
		box := calculateCropBox(ref.Width(), ref.Height(), width, height, pc.PPOI())
		if err := ref.ExtractArea(box.Left, box.Top, box.Width, box.Height); err != nil {
			return nil, fmt.Errorf("crop: %w", err)
		}
		hscale := float64(width) / float64(box.Width)
		vscale := float64(height) / float64(box.Height)
		if err := ref.ResizeWithVScale(hscale, vscale, vips.KernelLanczos3); err != nil {
			return nil, fmt.Errorf("crop resize: %w", err)
		}
		return ref, nil
	}, nil
}
