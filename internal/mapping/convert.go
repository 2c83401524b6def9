package mapping

import (
	"fmt"
	"strconv"
	"time"

	"github.com/vk/querygrid/internal/composition"
)

// stringify renders a scalar in its plainest string form. Floats that carry
// integral values print without a decimal point, matching how JSON-decoded
// row values round-trip.
func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format(composition.WindowTimeFormat)
	case nil:
		return ""
	}
	return fmt.Sprintf("%v", v)
}

// toNumber coerces a scalar into float64, the numeric representation used
// for all row values decoded from the engine.
func toNumber(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, fmt.Errorf("value %q is not numeric", x)
		}
		return f, nil
	}
	return 0, fmt.Errorf("value of type %T is not numeric", v)
}

// coerceScalar checks and converts a scalar value against a scalar parameter
// type. It rejects rather than silently coerces anything lossy.
func coerceScalar(t composition.ParamType, v any) (any, error) {
	switch t {
	case composition.TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return nil, fmt.Errorf("value of type %T is not a string", v)
	case composition.TypeNumber:
		return toNumber(v)
	case composition.TypeBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
		return nil, fmt.Errorf("value of type %T is not a bool", v)
	case composition.TypeTimestamp:
		switch x := v.(type) {
		case time.Time:
			return x, nil
		case string:
			ts, err := time.Parse(composition.WindowTimeFormat, x)
			if err != nil {
				return nil, fmt.Errorf("value %q is not a timestamp: %w", x, err)
			}
			return ts, nil
		}
		return nil, fmt.Errorf("value of type %T is not a timestamp", v)
	}
	return nil, fmt.Errorf("parameter type %s is not scalar", t)
}

// coerce checks a produced value against the parameter's declared type,
// returning the normalized value. A list-shaped value never satisfies a
// scalar parameter here; that narrowing must go through an explicit
// transform mapping.
func coerce(param composition.Parameter, v any) (any, error) {
	list, isList := v.([]any)
	if param.Type.IsList() {
		if !isList {
			return nil, fmt.Errorf("scalar value for list parameter %q", param.Name)
		}
		out := make([]any, len(list))
		for i, el := range list {
			c, err := coerceScalar(param.Type.Elem(), el)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = c
		}
		return out, nil
	}
	if isList {
		return nil, fmt.Errorf("list value for scalar parameter %q; declare a transform to narrow it", param.Name)
	}
	return coerceScalar(param.Type, v)
}
