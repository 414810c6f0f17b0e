package imaging

import (
	"errors"
	"fmt"
	"image/color"

	"imgfield/internal/domain"
)

// ErrSealed is returned when a chain-identity attribute of a Context is
// assigned after Seal. Save options stay writable for the whole run.
var ErrSealed = errors.New("context is sealed")

// SaveOptions collects the parameters applied when the processed image is
// encoded. Processors mutate it freely; the backend reads it once at save
// time. The zero value means "encoder defaults".
type SaveOptions struct {
	// Format is the canonical encoder name: JPEG, PNG, GIF, WEBP, TIFF, BMP.
	Format      string
	Quality     int
	Progressive bool
	Lossless    bool
	ICCProfile  []byte
	// Palette and Transparency carry GIF palette data across the pixel
	// operations that would otherwise discard it.
	Palette      color.Palette
	Transparency int
}

// Context carries everything about one rendition run that is not the pixel
// data: the processor chain, the target name and extension, the point of
// interest, and the save options. The identity attributes (processors, name,
// extension, PPOI) may be assigned only until Seal is called; after that the
// context is handed to the running chain, which may still adjust SaveOptions.
type Context struct {
	processors []Spec
	name       string
	extension  string
	ppoi       domain.PPOI
	save       *SaveOptions
	sealed     bool
}

func NewContext(processors []Spec) *Context {
	return &Context{
		processors: processors,
		ppoi:       domain.DefaultPPOI(),
		save:       &SaveOptions{Transparency: -1},
	}
}

func (c *Context) Processors() []Spec { return c.processors }
func (c *Context) Name() string       { return c.name }
func (c *Context) Extension() string  { return c.extension }
func (c *Context) PPOI() domain.PPOI  { return c.ppoi }
func (c *Context) Save() *SaveOptions { return c.save }
func (c *Context) Sealed() bool       { return c.sealed }

func (c *Context) SetProcessors(processors []Spec) error {
	if c.sealed {
		return fmt.Errorf("%w: processors", ErrSealed)
	}
	c.processors = processors
	return nil
}

func (c *Context) SetName(name string) error {
	if c.sealed {
		return fmt.Errorf("%w: name", ErrSealed)
	}
	c.name = name
	return nil
}

// SetExtension records the target file extension, normalized to a leading
// dot and lower case, e.g. ".jpg".
func (c *Context) SetExtension(ext string) error {
	if c.sealed {
		return fmt.Errorf("%w: extension", ErrSealed)
	}
	c.extension = normalizeExtension(ext)
	return nil
}

func (c *Context) SetPPOI(p domain.PPOI) error {
	if c.sealed {
		return fmt.Errorf("%w: ppoi", ErrSealed)
	}
	c.ppoi = p.Clamp()
	return nil
}

// Seal freezes the identity attributes. Sealing twice is a no-op.
func (c *Context) Seal() {
	c.sealed = true
}
