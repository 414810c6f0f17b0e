package field

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"imgfield/internal/domain"
	"imgfield/internal/imaging"
	"imgfield/internal/pipeline"
	"imgfield/internal/storage"
)

var (
	ErrUnknownFormat = errors.New("unknown format")
	ErrUnknownField  = errors.New("unknown field")
)

// Field binds a label ("records.image") to its configured format specs and
// the collaborators that render and store them. It is the unit of
// configuration: every record names the field it belongs to, and the field
// decides which renditions exist for it.
type Field struct {
	Label        string
	Formats      map[string]imaging.FormatSpec
	Driver       *pipeline.Driver
	Store        storage.Store
	Autogenerate bool
}

// Outcome is the per-format result of a batch run. Generated is false when
// bookkeeping already named the rendition and force was off.
type Outcome struct {
	Format    string
	Rendition domain.Rendition
	Generated bool
	Err       error
}

// Process renders one configured format for the record. When the record's
// bookkeeping already names the rendition and force is off, the existing
// entry is returned without touching storage. On success the record's
// rendition map is updated in place; persisting it is the caller's job.
func (f *Field) Process(ctx context.Context, rec *domain.Record, format string, force bool) (domain.Rendition, bool, error) {
	spec, ok := f.Formats[format]
	if !ok {
		return domain.Rendition{}, false, fmt.Errorf("%w: %q for field %s", ErrUnknownFormat, format, f.Label)
	}
	if !force {
		if existing, ok := rec.Renditions[format]; ok {
			return existing, false, nil
		}
	}

	res, err := f.Driver.Process(ctx, pipeline.Request{
		Record: *rec,
		Format: format,
		Spec:   spec,
	})
	if err != nil {
		return domain.Rendition{}, false, err
	}

	rendition := domain.Rendition{
		Format:      res.Format,
		StorageKey:  res.Path,
		Width:       res.Width,
		Height:      res.Height,
		Bytes:       int64(res.Bytes),
		Fallback:    res.Fallback,
		GeneratedAt: time.Now().UTC(),
	}
	if rec.Renditions == nil {
		rec.Renditions = make(map[string]domain.Rendition)
	}
	rec.Renditions[format] = rendition
	return rendition, true, nil
}

// ProcessAll runs every configured format (or the given subset) in sorted
// order. A failing format does not stop the rest; each outcome carries its
// own error.
func (f *Field) ProcessAll(ctx context.Context, rec *domain.Record, only []string, force bool) []Outcome {
	names := only
	if len(names) == 0 {
		names = make([]string, 0, len(f.Formats))
		for name := range f.Formats {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	outcomes := make([]Outcome, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			outcomes = append(outcomes, Outcome{Format: name, Err: err})
			break
		}
		rendition, generated, err := f.Process(ctx, rec, name, force)
		outcomes = append(outcomes, Outcome{
			Format:    name,
			Rendition: rendition,
			Generated: generated,
			Err:       err,
		})
	}
	return outcomes
}

// ProcessSpec renders an ad-hoc spec against the record. Nothing is recorded
// in the rendition bookkeeping.
func (f *Field) ProcessSpec(ctx context.Context, rec domain.Record, name string, spec imaging.FormatSpec) (pipeline.Result, error) {
	if spec == nil {
		return pipeline.Result{}, errors.New("spec is required")
	}
	return f.Driver.Process(ctx, pipeline.Request{Record: rec, Format: name, Spec: spec})
}

// ValidateSource decodes and probes the record's source image, returning its
// intrinsic dimensions. Broken or unsupported sources fail here, at attach
// time, before any rendition work is queued.
func (f *Field) ValidateSource(ctx context.Context, rec domain.Record) (int, int, error) {
	if f.Driver == nil || f.Driver.Backend == nil || f.Driver.Fetcher == nil {
		return 0, 0, errors.New("field driver is not configured")
	}
	data, err := f.Driver.Fetcher.Fetch(ctx, rec)
	if err != nil {
		return 0, 0, fmt.Errorf("fetch source %s: %w", rec.SourceKey, err)
	}
	img, err := f.Driver.Backend.Open(data)
	if err != nil {
		return 0, 0, fmt.Errorf("open source: %w", err)
	}
	defer func() {
		if c, ok := img.(interface{ Close() }); ok {
			c.Close()
		}
	}()
	if err := f.Driver.Backend.Verify(img); err != nil {
		return 0, 0, fmt.Errorf("verify source: %w", err)
	}
	return img.Width(), img.Height(), nil
}

// URLs maps every tracked rendition to its public URL. No storage I/O runs
// and nothing is generated; formats without bookkeeping are simply absent.
func (f *Field) URLs(rec domain.Record) map[string]string {
	if f.Store == nil {
		return nil
	}
	urls := make(map[string]string, len(rec.Renditions))
	for name, rendition := range rec.Renditions {
		urls[name] = f.Store.URL(rendition.StorageKey)
	}
	return urls
}

// SourceURL returns the public URL of the record's source image, or "" when
// no source is attached.
func (f *Field) SourceURL(rec domain.Record) string {
	if f.Store == nil || rec.SourceKey == "" {
		return ""
	}
	return f.Store.URL(rec.SourceKey)
}

// Cleanup deletes the record's source object and every tracked rendition.
// Objects already gone do not fail the sweep.
func (f *Field) Cleanup(ctx context.Context, rec domain.Record) error {
	if f.Store == nil {
		return errors.New("storage is required")
	}

	names := make([]string, 0, len(rec.Renditions))
	for name := range rec.Renditions {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		key := rec.Renditions[name].StorageKey
		if key == "" {
			continue
		}
		if err := f.Store.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrNotFound) {
			errs = append(errs, fmt.Errorf("delete rendition %s: %w", name, err))
		}
	}
	if rec.SourceKey != "" {
		if err := f.Store.Delete(ctx, rec.SourceKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
			errs = append(errs, fmt.Errorf("delete source: %w", err))
		}
	}
	return errors.Join(errs...)
}
