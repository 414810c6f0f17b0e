package imaging

import "strings"

// Canonical encoder names shared by both backends.
const (
	FormatJPEG = "JPEG"
	FormatPNG  = "PNG"
	FormatGIF  = "GIF"
	FormatWEBP = "WEBP"
	FormatTIFF = "TIFF"
	FormatBMP  = "BMP"
)

var formatExtensions = map[string]string{
	FormatJPEG: ".jpg",
	FormatPNG:  ".png",
	FormatGIF:  ".gif",
	FormatWEBP: ".webp",
	FormatTIFF: ".tif",
	FormatBMP:  ".bmp",
}

var extensionFormats = map[string]string{
	".jpg":  FormatJPEG,
	".jpeg": FormatJPEG,
	".png":  FormatPNG,
	".gif":  FormatGIF,
	".webp": FormatWEBP,
	".tif":  FormatTIFF,
	".tiff": FormatTIFF,
	".bmp":  FormatBMP,
}

// ExtensionForFormat maps a canonical format name to its preferred file
// extension, falling back to the lower-cased name for formats this package
// does not know.
func ExtensionForFormat(format string) string {
	if ext, ok := formatExtensions[strings.ToUpper(format)]; ok {
		return ext
	}
	return "." + strings.ToLower(format)
}

// FormatForExtension maps a file extension (with or without the leading dot)
// to a canonical format name. Unknown extensions return "".
func FormatForExtension(ext string) string {
	return extensionFormats[normalizeExtension(ext)]
}

func normalizeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
