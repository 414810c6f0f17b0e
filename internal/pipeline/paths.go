package pipeline

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"path"
	"strings"

	"imgfield/internal/imaging"
)

const processedPrefix = "__processed__"

// Fingerprint flattens resolved processor descriptors into the canonical
// string hashed into rendition keys. Equivalent descriptor lists must
// fingerprint identically or regenerated renditions would land on new keys.
func Fingerprint(specs []imaging.Spec) string {
	parts := make([]string, 0, len(specs))
	for _, s := range specs {
		parts = append(parts, s.String())
	}
	return strings.Join(parts, "|")
}

// ProcessedPath derives the deterministic storage key for one rendition of
// one source. Keys shard on a hash of the source key so no single directory
// accumulates every rendition, and embed a fingerprint of the processor list
// so a changed format definition writes a new object instead of silently
// shadowing the old one.
func ProcessedPath(sourceKey, fingerprint, extension string) string {
	sourceSum := md5.Sum([]byte(sourceKey))
	shard := hex.EncodeToString(sourceSum[:])[:3]

	base := path.Base(sourceKey)
	stem := sanitizePathToken(strings.TrimSuffix(base, path.Ext(base)))

	specSum := md5.Sum([]byte(fingerprint))
	suffix := hex.EncodeToString(specSum[:])[:12]

	return path.Join(processedPrefix, shard, fmt.Sprintf("%s-%s%s", stem, suffix, extension))
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
