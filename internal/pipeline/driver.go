package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"strings"

	"imgfield/internal/domain"
	"imgfield/internal/imaging"
)

// Request names one rendition to produce: a record whose source to read and
// the format spec that shapes the output.
type Request struct {
	Record domain.Record
	Format string
	Spec   imaging.FormatSpec
}

// Result describes a written rendition. Fallback marks a silent-failure copy
// of the unprocessed source.
type Result struct {
	Path     string
	Format   string
	Width    int
	Height   int
	Bytes    int
	Fallback bool
}

type Fetcher interface {
	Fetch(ctx context.Context, rec domain.Record) ([]byte, error)
}

type Emitter interface {
	Emit(ctx context.Context, key string, data []byte, contentType string) error
}

// RenderError ties an imaging failure to the field, format and, when known,
// the processor it happened in.
type RenderError struct {
	Field     string
	Format    string
	Processor string
	Err       error
}

func (e *RenderError) Error() string {
	if e.Processor != "" {
		return fmt.Sprintf("render %s/%s processor %s: %v", e.Field, e.Format, e.Processor, e.Err)
	}
	return fmt.Sprintf("render %s/%s: %v", e.Field, e.Format, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// Driver renders one rendition end to end: resolve the format spec into a
// sealed context, compile the processor chain, then fetch, decode, run,
// encode and emit. Spec resolution and chain compilation happen before any
// image bytes move, so configuration mistakes surface without I/O.
//
// With SilentFailure set, imaging errors (decode, chain, encode) degrade to
// copying the unprocessed source bytes onto the rendition key. Fetch and
// emit errors always propagate.
type Driver struct {
	Backend       imaging.Backend
	Fetcher       Fetcher
	Emitter       Emitter
	SilentFailure bool
	Logger        *log.Logger
}

func (d *Driver) Process(ctx context.Context, req Request) (Result, error) {
	if d.Backend == nil {
		return Result{}, errors.New("imaging backend is required")
	}
	if d.Fetcher == nil || d.Emitter == nil {
		return Result{}, errors.New("fetcher and emitter are required")
	}
	if strings.TrimSpace(req.Format) == "" {
		return Result{}, errors.New("format name is required")
	}
	if req.Spec == nil {
		return Result{}, fmt.Errorf("format %q has no spec", req.Format)
	}
	if strings.TrimSpace(req.Record.SourceKey) == "" {
		return Result{}, errors.New("record has no source image")
	}

	pc, err := d.buildContext(req)
	if err != nil {
		return Result{}, &RenderError{Field: req.Record.Field, Format: req.Format, Err: err}
	}
	chain, err := d.Backend.Processors().Compile(pc.Processors())
	if err != nil {
		return Result{}, &RenderError{Field: req.Record.Field, Format: req.Format, Err: err}
	}

	source, err := d.Fetcher.Fetch(ctx, req.Record)
	if err != nil {
		return Result{}, fmt.Errorf("fetch source %s: %w", req.Record.SourceKey, err)
	}

	data, width, height, renderErr := d.render(ctx, req, pc, chain, source)
	if renderErr != nil {
		var re *RenderError
		if !d.SilentFailure || !errors.As(renderErr, &re) {
			return Result{}, renderErr
		}
		d.logf("silent fallback for %s/%s: %v", req.Record.Field, req.Format, renderErr)
		return d.emitFallback(ctx, req, pc, source)
	}

	key := ProcessedPath(req.Record.SourceKey, Fingerprint(pc.Processors()), pc.Extension())
	format := pc.Save().Format
	if format == "" {
		format = imaging.FormatForExtension(pc.Extension())
	}
	if err := d.Emitter.Emit(ctx, key, data, contentTypeForFormat(format)); err != nil {
		return Result{}, fmt.Errorf("emit rendition %s: %w", key, err)
	}

	return Result{
		Path:   key,
		Format: format,
		Width:  width,
		Height: height,
		Bytes:  len(data),
	}, nil
}

// buildContext seeds the context with the record's attributes (target name,
// source extension, PPOI), lets the format spec reshape it, then seals it.
func (d *Driver) buildContext(req Request) (*imaging.Context, error) {
	pc := imaging.NewContext(nil)
	if err := pc.SetName(req.Format); err != nil {
		return nil, err
	}
	if err := pc.SetExtension(path.Ext(req.Record.SourceKey)); err != nil {
		return nil, err
	}
	if err := pc.SetPPOI(domain.PPOIOrDefault(req.Record.PPOI)); err != nil {
		return nil, err
	}
	if err := req.Spec(req.Record, pc); err != nil {
		return nil, fmt.Errorf("resolve spec: %w", err)
	}
	pc.Seal()
	return pc, nil
}

func (d *Driver) render(ctx context.Context, req Request, pc *imaging.Context, chain *imaging.Chain, source []byte) ([]byte, int, int, error) {
	select {
	case <-ctx.Done():
		return nil, 0, 0, ctx.Err()
	default:
	}

	img, err := d.Backend.Open(source)
	if err != nil {
		return nil, 0, 0, &RenderError{
			Field:  req.Record.Field,
			Format: req.Format,
			Err:    fmt.Errorf("open source: %w", err),
		}
	}
	defer closeImage(img)

	// Format-conditional processors key on the save format; unless the spec
	// forced one, it follows the source.
	if pc.Save().Format == "" {
		pc.Save().Format = d.Backend.Format(img)
	}

	out, err := chain.Run(img, pc)
	if err != nil {
		re := &RenderError{Field: req.Record.Field, Format: req.Format, Err: err}
		var step *imaging.StepError
		if errors.As(err, &step) {
			re.Processor = step.Processor
		}
		return nil, 0, 0, re
	}
	if out != img {
		defer closeImage(out)
	}

	data, err := d.Backend.Save(out, pc.Save())
	if err != nil {
		return nil, 0, 0, &RenderError{
			Field:  req.Record.Field,
			Format: req.Format,
			Err:    fmt.Errorf("encode: %w", err),
		}
	}
	return data, out.Width(), out.Height(), nil
}

// emitFallback copies the unprocessed source bytes onto the rendition key,
// keeping the source's own extension.
func (d *Driver) emitFallback(ctx context.Context, req Request, pc *imaging.Context, source []byte) (Result, error) {
	ext := strings.ToLower(path.Ext(req.Record.SourceKey))
	key := ProcessedPath(req.Record.SourceKey, Fingerprint(pc.Processors()), ext)
	format := imaging.FormatForExtension(ext)
	if err := d.Emitter.Emit(ctx, key, source, contentTypeForFormat(format)); err != nil {
		return Result{}, fmt.Errorf("emit fallback %s: %w", key, err)
	}
	return Result{
		Path:     key,
		Format:   format,
		Bytes:    len(source),
		Fallback: true,
	}, nil
}

func (d *Driver) logf(format string, args ...any) {
	if d.Logger != nil {
		d.Logger.Printf(format, args...)
	}
}

// closeImage releases native resources for backends whose handles hold any.
func closeImage(img imaging.Image) {
	if c, ok := img.(interface{ Close() }); ok {
		c.Close()
	}
}

func contentTypeForFormat(format string) string {
	switch format {
	case imaging.FormatJPEG:
		return "image/jpeg"
	case imaging.FormatPNG:
		return "image/png"
	case imaging.FormatGIF:
		return "image/gif"
	case imaging.FormatWEBP:
		return "image/webp"
	case imaging.FormatTIFF:
		return "image/tiff"
	case imaging.FormatBMP:
		return "image/bmp"
	default:
		return "application/octet-stream"
	}
}
