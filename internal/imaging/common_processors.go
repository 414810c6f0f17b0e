package imaging

// registerCommonProcessors adds the processors that only manipulate save
// options and therefore work identically on every backend. Each backend
// registry gets its own copy so overrides stay per-backend.
func registerCommonProcessors(r *Registry) {
	r.Add("force_jpeg", forceFormat(FormatJPEG, 95))
	r.Add("force_webp", forceFormat(FormatWEBP, 95))
}

// forceFormat overrides the target format so format-conditional steps in the
// same chain see the forced format, and pins the quality so their defaults
// do not replace it.
func forceFormat(format string, quality int) Factory {
	return func(args []any) (Processor, error) {
		return func(next Next, img Image, pc *Context) (Image, error) {
			pc.Save().Format = format
			out, err := next(img, pc)
			if err != nil {
				return nil, err
			}
			pc.Save().Quality = quality
			return out, nil
		}, nil
	}
}
