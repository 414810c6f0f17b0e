package field

import (
	"encoding/json"
	"fmt"
	"strings"

	"imgfield/internal/imaging"
)

// ParseFormats decodes a formats document into per-field format specs. The
// document maps field labels to format names to processor lists:
//
//	{"records.image": {
//	    "thumb":   ["default", ["crop", [300, 300]]],
//	    "desktop": ["default", ["thumbnail", [300, 225]]],
//	    "web":     ["websafe", "default", ["thumbnail", [1200, 1200]]]}}
//
// A leading "websafe" or "webp" entry selects the matching spec helper for
// the rest of the list; those two are spec-level wrappers, not registered
// processors, which keeps the marker position unambiguous.
func ParseFormats(raw string) (map[string]map[string]imaging.FormatSpec, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]map[string]imaging.FormatSpec{}, nil
	}
	var doc map[string]map[string][]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("parse formats document: %w", err)
	}

	out := make(map[string]map[string]imaging.FormatSpec, len(doc))
	for label, formats := range doc {
		out[label] = make(map[string]imaging.FormatSpec, len(formats))
		for name, rawSpecs := range formats {
			spec, err := buildFormatSpec(rawSpecs)
			if err != nil {
				return nil, fmt.Errorf("field %s format %s: %w", label, name, err)
			}
			out[label][name] = spec
		}
	}
	return out, nil
}

func buildFormatSpec(raw []json.RawMessage) (imaging.FormatSpec, error) {
	helper := ""
	if len(raw) > 0 {
		var head string
		if err := json.Unmarshal(raw[0], &head); err == nil && (head == "websafe" || head == "webp") {
			helper = head
			raw = raw[1:]
		}
	}

	specs, err := imaging.ParseSpecList(raw)
	if err != nil {
		return nil, err
	}
	switch helper {
	case "websafe":
		return Websafe(specs...), nil
	case "webp":
		return Webp(specs...), nil
	default:
		return imaging.Static(specs...), nil
	}
}
