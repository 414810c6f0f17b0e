package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// PPOI is the primary point of interest of an image, expressed as relative
// horizontal and vertical positions in [0, 1]. Crops keep this point visible.
type PPOI struct {
	X float64
	Y float64
}

// DefaultPPOI is the image center.
func DefaultPPOI() PPOI {
	return PPOI{X: 0.5, Y: 0.5}
}

// ParsePPOI parses the serialized "0.25x0.75" form. The second return value
// reports whether the input was well formed; callers that store PPOI values
// loosely treat anything malformed as the center rather than failing.
func ParsePPOI(s string) (PPOI, bool) {
	parts := strings.Split(strings.TrimSpace(s), "x")
	if len(parts) != 2 {
		return DefaultPPOI(), false
	}
	x, errX := strconv.ParseFloat(parts[0], 64)
	y, errY := strconv.ParseFloat(parts[1], 64)
	if errX != nil || errY != nil || x < 0 || x > 1 || y < 0 || y > 1 {
		return DefaultPPOI(), false
	}
	return PPOI{X: x, Y: y}, true
}

// PPOIOrDefault is the lenient form used when reading stored values.
func PPOIOrDefault(s string) PPOI {
	p, _ := ParsePPOI(s)
	return p
}

func (p PPOI) String() string {
	return fmt.Sprintf("%gx%g", p.X, p.Y)
}

func (p PPOI) Clamp() PPOI {
	clamp := func(v float64) float64 {
		if v < 0 {
			return 0
		}
		if v > 1 {
			return 1
		}
		return v
	}
	return PPOI{X: clamp(p.X), Y: clamp(p.Y)}
}
