package mapping

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vk/querygrid/internal/composition"
)

// TransformFunc is a named scalar transformation applied by a transform
// mapping. The value is the extracted source value; args carry the
// transform's declared configuration.
type TransformFunc func(value any, args map[string]string) (any, error)

// Registry holds the set of named transformations available to transform
// mappings. It is constructed explicitly and injected; there is no
// process-wide default.
type Registry struct {
	mu  sync.RWMutex
	fns map[string]TransformFunc
}

// NewRegistry returns a registry preloaded with the built-in transforms:
// date_format, cast, extract, and join.
func NewRegistry() *Registry {
	r := &Registry{fns: make(map[string]TransformFunc)}
	r.fns["date_format"] = transformDateFormat
	r.fns["cast"] = transformCast
	r.fns["extract"] = transformExtract
	r.fns["join"] = transformJoin
	return r
}

// Register adds a custom transform. Re-registering an existing name is an error.
func (r *Registry) Register(name string, fn TransformFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.fns[name]; exists {
		return fmt.Errorf("transform %q already registered", name)
	}
	r.fns[name] = fn
	return nil
}

// Has reports whether a transform with the given name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.fns[name]
	return ok
}

func (r *Registry) lookup(name string) (TransformFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.fns[name]
	return fn, ok
}

// transformDateFormat reparses a date-time value from the "from" layout
// (default: the engine's window layout) into the "to" layout.
func transformDateFormat(value any, args map[string]string) (any, error) {
	to := args["to"]
	if to == "" {
		return nil, fmt.Errorf("date_format requires a 'to' layout")
	}
	from := args["from"]
	if from == "" {
		from = composition.WindowTimeFormat
	}

	switch v := value.(type) {
	case time.Time:
		return v.Format(to), nil
	case string:
		t, err := time.Parse(from, v)
		if err != nil {
			return nil, fmt.Errorf("date_format: %w", err)
		}
		return t.Format(to), nil
	}
	return nil, fmt.Errorf("date_format: unsupported value type %T", value)
}

// transformCast converts a scalar to the type named by the "to" argument.
func transformCast(value any, args map[string]string) (any, error) {
	switch args["to"] {
	case "string":
		return stringify(value), nil
	case "number":
		return toNumber(value)
	case "bool":
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("cast to bool: %w", err)
			}
			return b, nil
		}
		return nil, fmt.Errorf("cast to bool: unsupported value type %T", value)
	case "":
		return nil, fmt.Errorf("cast requires a 'to' type")
	}
	return nil, fmt.Errorf("cast: unknown target type %q", args["to"])
}

// transformExtract applies the regular expression in the "pattern" argument
// and returns the first capture group (or the whole match if there is none).
func transformExtract(value any, args map[string]string) (any, error) {
	pattern := args["pattern"]
	if pattern == "" {
		return nil, fmt.Errorf("extract requires a 'pattern' argument")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	s := stringify(value)
	match := re.FindStringSubmatch(s)
	if match == nil {
		return nil, fmt.Errorf("extract: pattern %q did not match %q", pattern, s)
	}
	if len(match) > 1 {
		return match[1], nil
	}
	return match[0], nil
}

// transformJoin narrows a list value to a single string using the "sep"
// argument. It is the explicit list-to-scalar narrowing transform.
func transformJoin(value any, args map[string]string) (any, error) {
	list, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("join: value is %T, not a list", value)
	}
	parts := make([]string, len(list))
	for i, v := range list {
		parts[i] = stringify(v)
	}
	return strings.Join(parts, args["sep"]), nil
}
