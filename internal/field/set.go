package field

import (
	"fmt"
	"sort"
)

// Set indexes fields by label.
type Set struct {
	fields map[string]*Field
}

func NewSet(fields ...*Field) *Set {
	s := &Set{fields: make(map[string]*Field, len(fields))}
	for _, f := range fields {
		s.fields[f.Label] = f
	}
	return s
}

func (s *Set) Get(label string) (*Field, error) {
	f, ok := s.fields[label]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, label)
	}
	return f, nil
}

func (s *Set) Labels() []string {
	labels := make([]string, 0, len(s.fields))
	for label := range s.fields {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// AutogenerateAllowed reports whether save-time generation is enabled for
// the label. An empty allow-list or the single entry "all" enables every
// field; otherwise only listed labels generate on save.
func AutogenerateAllowed(allowList []string, label string) bool {
	if len(allowList) == 0 {
		return true
	}
	for _, item := range allowList {
		if item == "all" || item == label {
			return true
		}
	}
	return false
}
