package imaging

import (
	"errors"
	"fmt"
	"strings"
)

// Image is a decoded image held in whatever native representation the owning
// backend uses. Processors receive it together with the backend that opened
// it and type-assert to the native type; code outside the chain only needs
// the dimensions.
type Image interface {
	Width() int
	Height() int
}

// Backend is one imaging engine: it decodes, encodes and validates images
// and owns the processor registry whose entries know how to manipulate its
// native image type.
type Backend interface {
	Name() string
	Open(data []byte) (Image, error)
	Save(img Image, opts *SaveOptions) ([]byte, error)
	// Format reports the canonical source format of an opened image.
	Format(img Image) string
	// Verify exercises enough of the engine to prove the image is usable:
	// a small resize plus re-encodes in several formats. It exists so
	// broken uploads fail at attach time instead of during rendering.
	Verify(img Image) error
	Processors() *Registry
}

var ErrUnknownBackend = errors.New("unknown imaging backend")

// Select returns the backend for a configuration name. The empty name means
// the pure-Go engine; "pillow" is accepted as an alias for it so configs
// ported from other stacks keep working. "vips" requires a binary built with
// the govips tag and cgo; selecting it in other builds returns an error
// instead of a silent fallback.
func Select(name string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "std", "pillow":
		return StdBackend(), nil
	case "vips":
		return vipsBackend()
	default:
		return nil, fmt.Errorf("%w: %q (valid options: std, vips)", ErrUnknownBackend, name)
	}
}
