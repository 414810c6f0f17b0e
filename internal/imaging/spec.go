package imaging

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"imgfield/internal/domain"
)

// Spec names one processor plus its construction arguments, e.g.
// {Name: "crop", Args: [300, 300]}. A plain name with no arguments is the
// common case.
type Spec struct {
	Name string
	Args []any
}

// P builds a Spec inline: P("crop", 300, 300).
func P(name string, args ...any) Spec {
	return Spec{Name: name, Args: args}
}

// String renders the canonical form used for chain fingerprints:
// "autorotate", "crop(300,300)". Arguments are rendered with %v, which is
// stable for the int/float/string arguments processors accept.
func (s Spec) String() string {
	if len(s.Args) == 0 {
		return s.Name
	}
	parts := make([]string, len(s.Args))
	for i, a := range s.Args {
		parts[i] = fmt.Sprintf("%v", a)
	}
	return s.Name + "(" + strings.Join(parts, ",") + ")"
}

// FormatSpec resolves the processor list for one configured format. Static
// lists ignore the record; dynamic specs may inspect it (its PPOI, its other
// attributes) and adjust the context before the chain is compiled. The
// context is not yet sealed when the spec runs.
type FormatSpec func(rec domain.Record, pc *Context) error

// Static wraps a fixed processor list as a FormatSpec.
func Static(specs ...Spec) FormatSpec {
	return func(_ domain.Record, pc *Context) error {
		return pc.SetProcessors(specs)
	}
}

// ParseSpecList converts the JSON configuration form into Specs. Each entry
// is either a bare name ("default") or a list whose first element is the
// name and whose remaining elements are arguments; a nested list flattens,
// so ["crop", [300, 300]] and ["crop", 300, 300] are the same chain.
func ParseSpecList(raw []json.RawMessage) ([]Spec, error) {
	specs := make([]Spec, 0, len(raw))
	for i, entry := range raw {
		spec, err := parseSpec(entry)
		if err != nil {
			return nil, fmt.Errorf("processors[%d]: %w", i, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func parseSpec(raw json.RawMessage) (Spec, error) {
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		if strings.TrimSpace(name) == "" {
			return Spec{}, fmt.Errorf("empty processor name")
		}
		return Spec{Name: name}, nil
	}
	var list []any
	if err := json.Unmarshal(raw, &list); err != nil {
		return Spec{}, fmt.Errorf("entry must be a name or [name, args...]")
	}
	if len(list) == 0 {
		return Spec{}, fmt.Errorf("entry must not be empty")
	}
	name, ok := list[0].(string)
	if !ok || strings.TrimSpace(name) == "" {
		return Spec{}, fmt.Errorf("entry must start with a processor name")
	}
	return Spec{Name: name, Args: flattenArgs(list[1:])}, nil
}

func flattenArgs(args []any) []any {
	var out []any
	for _, a := range args {
		if nested, ok := a.([]any); ok {
			out = append(out, flattenArgs(nested)...)
			continue
		}
		out = append(out, a)
	}
	return out
}

// intArg coerces argument i to an int. JSON numbers arrive as float64, so
// both forms are accepted as long as the value is integral.
func intArg(args []any, i int) (int, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("missing argument %d", i+1)
	}
	switch v := args[i].(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("argument %d must be an integer, got %v", i+1, v)
		}
		return int(v), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("argument %d must be an integer, got %q", i+1, v)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("argument %d must be an integer, got %T", i+1, args[i])
	}
}

func sizeArgs(args []any) (int, int, error) {
	w, err := intArg(args, 0)
	if err != nil {
		return 0, 0, err
	}
	h, err := intArg(args, 1)
	if err != nil {
		return 0, 0, err
	}
	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("size must be positive, got %dx%d", w, h)
	}
	return w, h, nil
}
