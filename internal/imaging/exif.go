package imaging

import (
	"bytes"
	"image"

	"github.com/rwcarlsen/goexif/exif"
)

// readOrientation extracts the EXIF orientation tag from the raw file bytes.
// Returns 0 when there is no usable tag; valid values are 1 through 8.
func readOrientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 0
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 0
	}
	v, err := tag.Int(0)
	if err != nil || v < 1 || v > 8 {
		return 0
	}
	return v
}

// transposeForOrientation remaps pixels so the image displays upright
// without its EXIF orientation tag. Orientations 5 through 8 swap the axes.
func transposeForOrientation(src image.Image, orientation int) image.Image {
	if orientation <= 1 || orientation > 8 {
		return src
	}
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	var dst *image.RGBA
	if orientation >= 5 {
		dst = image.NewRGBA(image.Rect(0, 0, h, w))
	} else {
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := src.At(bounds.Min.X+x, bounds.Min.Y+y)
			switch orientation {
			case 2: // mirrored horizontally
				dst.Set(w-1-x, y, c)
			case 3: // rotated 180
				dst.Set(w-1-x, h-1-y, c)
			case 4: // mirrored vertically
				dst.Set(x, h-1-y, c)
			case 5: // transposed
				dst.Set(y, x, c)
			case 6: // rotated 90 clockwise
				dst.Set(h-1-y, x, c)
			case 7: // transversed
				dst.Set(h-1-y, w-1-x, c)
			case 8: // rotated 90 counter-clockwise
				dst.Set(y, w-1-x, c)
			}
		}
	}
	return dst
}
