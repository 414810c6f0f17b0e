package imaging

import (
	"errors"
	"fmt"
	"sort"
)

// Default is the macro spec name that expands to the standard normalization
// steps. The constituents are registered individually, so any of them can be
// overridden without replacing the whole macro.
const Default = "default"

var defaultConstituents = []string{
	"autorotate",
	"process_jpeg",
	"process_png",
	"process_gif",
	"preserve_icc_profile",
}

var ErrUnknownProcessor = errors.New("unknown processor")

// Next is the continuation handed to a processor: it applies every earlier
// step of the chain to the image.
type Next func(img Image, pc *Context) (Image, error)

// Processor is one compiled chain step. Implementations call next to obtain
// the image with all earlier steps applied, then perform their own work on
// the result and on the context's save options.
type Processor func(next Next, img Image, pc *Context) (Image, error)

// Factory builds a Processor from the arguments of its Spec. Argument
// validation happens here, before any image bytes are opened.
type Factory func(args []any) (Processor, error)

// Registry maps processor names to factories. Each backend owns one, so the
// same name can do backend-appropriate work on each side. Add replaces any
// existing entry, which is how callers override built-ins.
type Registry struct {
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Add(name string, factory Factory) {
	r.factories[name] = factory
}

func (r *Registry) Resolve(name string) (Factory, error) {
	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProcessor, name)
	}
	return factory, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
