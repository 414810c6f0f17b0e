package imaging

import "imgfield/internal/domain"

// CropBox is a window in source pixel coordinates.
type CropBox struct {
	Left   int
	Top    int
	Width  int
	Height int
}

// calculateCropBox picks the largest window with the target aspect ratio
// that fits inside the source, positioned so the PPOI sits at the window
// center, sliding the window back inside the source when the PPOI is close
// to an edge. Both backends crop this box and then resize it to the exact
// target size.
func calculateCropBox(srcW, srcH, targetW, targetH int, ppoi domain.PPOI) CropBox {
	if srcW <= 0 || srcH <= 0 || targetW <= 0 || targetH <= 0 {
		return CropBox{Width: srcW, Height: srcH}
	}

	srcAspect := float64(srcW) / float64(srcH)
	targetAspect := float64(targetW) / float64(targetH)

	boxW, boxH := srcW, srcH
	if srcAspect >= targetAspect {
		// Source is wider than the target shape: keep full height, trim
		// the sides.
		boxW = int(targetAspect*float64(srcH) + 0.5)
		if boxW > srcW {
			boxW = srcW
		}
	} else {
		boxH = int(float64(srcW)/targetAspect + 0.5)
		if boxH > srcH {
			boxH = srcH
		}
	}
	if boxW < 1 {
		boxW = 1
	}
	if boxH < 1 {
		boxH = 1
	}

	p := ppoi.Clamp()
	centerX := int(float64(srcW) * p.X)
	centerY := int(float64(srcH) * p.Y)

	return CropBox{
		Left:   clampInt(centerX-boxW/2, 0, srcW-boxW),
		Top:    clampInt(centerY-boxH/2, 0, srcH-boxH),
		Width:  boxW,
		Height: boxH,
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
