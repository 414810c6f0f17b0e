package imaging

import (
	"image"
	"image/draw"
	"math"

	xdraw "golang.org/x/image/draw"
)

var stdProcessors = NewRegistry()

func init() {
	registerStdProcessors(stdProcessors)
	registerCommonProcessors(stdProcessors)
}

func registerStdProcessors(r *Registry) {
	r.Add("autorotate", stdAutorotate)
	r.Add("process_jpeg", stdProcessJPEG)
	r.Add("process_png", stdProcessPNG)
	r.Add("process_gif", stdProcessGIF)
	r.Add("preserve_icc_profile", stdPreserveICC)
	r.Add("thumbnail", stdThumbnail)
	r.Add("crop", stdCrop)
}

func stdAutorotate(args []any) (Processor, error) {
	return func(next Next, img Image, pc *Context) (Image, error) {
		out, err := next(img, pc)
		if err != nil {
			return nil, err
		}
		si, err := asStdImage(out)
		if err != nil {
			return nil, err
		}
		if si.orientation <= 1 {
			return si, nil
		}
		rotated := si.withImage(transposeForOrientation(si.img, si.orientation))
		rotated.orientation = 1
		return rotated, nil
	}, nil
}

// stdProcessJPEG applies the JPEG save defaults and flattens anything that
// is not RGB-shaped (palette, grayscale, CMYK, alpha) so the output encodes
// as plain color JPEG.
func stdProcessJPEG(args []any) (Processor, error) {
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
		si, err := asStdImage(out)
		if err != nil {
			return nil, err
		}
		if _, ok := si.img.(*image.YCbCr); ok {
			return si, nil
		}
		if _, ok := si.img.(*image.RGBA); ok {
			return si, nil
		}
		return si.withImage(flattenToRGB(si.img)), nil
	}, nil
}

func stdProcessPNG(args []any) (Processor, error) {
	return func(next Next, img Image, pc *Context) (Image, error) {
		out, err := next(img, pc)
		if err != nil {
			return nil, err
		}
		if pc.Save().Format != FormatPNG {
			return out, nil
		}
		si, err := asStdImage(out)
		if err != nil {
			return nil, err
		}
		if p, ok := si.img.(*image.Paletted); ok {
			rgba := image.NewRGBA(p.Bounds())
			draw.Draw(rgba, rgba.Bounds(), p, p.Bounds().Min, draw.Src)
			si = si.withImage(rgba)
		}
		return si, nil
	}, nil
}

// stdProcessGIF copies the source palette and transparency index into the
// save options so the encoder can restore them after resizes and crops have
// gone through a true-color intermediate.
func stdProcessGIF(args []any) (Processor, error) {
	return func(next Next, img Image, pc *Context) (Image, error) {
		out, err := next(img, pc)
		if err != nil {
			return nil, err
		}
		save := pc.Save()
		if save.Format != FormatGIF {
			return out, nil
		}
		si, err := asStdImage(out)
		if err != nil {
			return nil, err
		}
		if si.transparency >= 0 {
			save.Transparency = si.transparency
		}
		if si.palette != nil {
			save.Palette = si.palette
		}
		return si, nil
	}, nil
}

func stdPreserveICC(args []any) (Processor, error) {
	return func(next Next, img Image, pc *Context) (Image, error) {
		out, err := next(img, pc)
		if err != nil {
			return nil, err
		}
		si, err := asStdImage(out)
		if err != nil {
			return nil, err
		}
		if len(si.icc) > 0 {
			pc.Save().ICCProfile = si.icc
		}
		return si, nil
	}, nil
}

// stdThumbnail scales the image down to fit within the given bounds,
// preserving aspect ratio. Images that already fit pass through untouched.
func stdThumbnail(args []any) (Processor, error) {
	width, height, err := sizeArgs(args)
	if err != nil {
		return nil, err
	}
	return func(next Next, img Image, pc *Context) (Image, error) {
		out, err := next(img, pc)
		if err != nil {
			return nil, err
		}
		si, err := asStdImage(out)
		if err != nil {
			return nil, err
		}
		f := math.Min(1, math.Min(
			float64(width)/float64(si.Width()),
			float64(height)/float64(si.Height()),
		))
		if f >= 1 {
			return si, nil
		}
		newW := int(f * float64(si.Width()))
		newH := int(f * float64(si.Height()))
		if newW < 1 {
			newW = 1
		}
		if newH < 1 {
			newH = 1
		}
		return si.withImage(scaleTo(si.img, newW, newH)), nil
	}, nil
}

// stdCrop cuts the PPOI-centered window with the target aspect ratio and
// resizes it to exactly the requested size.
func stdCrop(args []any) (Processor, error) {
	width, height, err := sizeArgs(args)
	if err != nil {
		return nil, err
	}
	return func(next Next, img Image, pc *Context) (Image, error) {
		out, err := next(img, pc)
		if err != nil {
			return nil, err
		}
		si, err := asStdImage(out)
		if err != nil {
			return nil, err
		}
		box := calculateCropBox(si.Width(), si.Height(), width, height, pc.PPOI())
		cropped := cropImage(si.img, box)
		return si.withImage(scaleTo(cropped, width, height)), nil
	}, nil
}

// scaleTo resamples img to exactly w by h with the Catmull-Rom kernel, the
// highest quality scaler in x/image/draw.
func scaleTo(img image.Image, w, h int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	return dst
}

func cropImage(img image.Image, box CropBox) image.Image {
	rect := image.Rect(box.Left, box.Top, box.Left+box.Width, box.Top+box.Height).
		Add(img.Bounds().Min)
	type subImager interface {
		SubImage(image.Rectangle) image.Image
	}
	if s, ok := img.(subImager); ok {
		return s.SubImage(rect)
	}
	dst := image.NewRGBA(image.Rect(0, 0, box.Width, box.Height))
	draw.Draw(dst, dst.Bounds(), img, rect.Min, draw.Src)
	return dst
}

// flattenToRGB redraws img into a plain RGBA raster, collapsing palette,
// grayscale and CMYK representations. JPEG encoding ignores the alpha
// channel.
func flattenToRGB(img image.Image) image.Image {
	dst := image.NewRGBA(img.Bounds())
	draw.Draw(dst, dst.Bounds(), img, img.Bounds().Min, draw.Src)
	return dst
}
