package field

import (
	"path"
	"strings"

	"imgfield/internal/domain"
	"imgfield/internal/imaging"
)

// defaultWebsafeExtensions are the source extensions browsers render
// natively; anything else gets re-encoded as JPEG.
var defaultWebsafeExtensions = []string{".png", ".gif", ".jpg", ".jpeg"}

// Websafe wraps a processor list so sources in formats browsers cannot show
// (TIFF, BMP and friends) come out as JPEG, while already-websafe sources
// keep their format.
func Websafe(extra ...imaging.Spec) imaging.FormatSpec {
	return WebsafeWithExtensions(defaultWebsafeExtensions, extra...)
}

// WebsafeWithExtensions is Websafe with a custom allow-list of source
// extensions.
func WebsafeWithExtensions(extensions []string, extra ...imaging.Spec) imaging.FormatSpec {
	allowed := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		allowed[strings.ToLower(ext)] = true
	}
	return func(rec domain.Record, pc *imaging.Context) error {
		ext := strings.ToLower(path.Ext(rec.SourceKey))
		if allowed[ext] {
			return pc.SetProcessors(extra)
		}
		if err := pc.SetExtension(".jpg"); err != nil {
			return err
		}
		return pc.SetProcessors(append([]imaging.Spec{imaging.P("force_jpeg")}, extra...))
	}
}

// Webp wraps a processor list so every rendition encodes as WebP regardless
// of the source format.
func Webp(extra ...imaging.Spec) imaging.FormatSpec {
	return func(_ domain.Record, pc *imaging.Context) error {
		if err := pc.SetExtension(".webp"); err != nil {
			return err
		}
		return pc.SetProcessors(append([]imaging.Spec{imaging.P("force_webp")}, extra...))
	}
}
