package composition

import "fmt"

// ParamType describes the declared type of a template parameter.
type ParamType string

const (
	TypeString     ParamType = "string"
	TypeNumber     ParamType = "number"
	TypeBool       ParamType = "bool"
	TypeTimestamp  ParamType = "timestamp"
	TypeStringList ParamType = "list(string)"
	TypeNumberList ParamType = "list(number)"
)

// IsList reports whether the type holds a list of values rather than a scalar.
func (t ParamType) IsList() bool {
	return t == TypeStringList || t == TypeNumberList
}

// Elem returns the element type of a list type. For scalar types it returns
// the type itself.
func (t ParamType) Elem() ParamType {
	switch t {
	case TypeStringList:
		return TypeString
	case TypeNumberList:
		return TypeNumber
	}
	return t
}

// ParseParamType converts the textual form used in composition definitions
// into a ParamType.
func ParseParamType(s string) (ParamType, error) {
	switch ParamType(s) {
	case TypeString, TypeNumber, TypeBool, TypeTimestamp, TypeStringList, TypeNumberList:
		return ParamType(s), nil
	}
	return "", fmt.Errorf("unknown parameter type %q", s)
}

// Parameter is one named input slot on a query template.
type Parameter struct {
	Name     string
	Type     ParamType
	Required bool
	// Default is applied when neither an edge mapping nor a run parameter
	// provides a value. Nil means no default.
	Default any
}

// Template is a reusable query definition with a parameter schema.
type Template struct {
	Name       string
	SQL        string
	Parameters map[string]Parameter
}

// Parameter looks up a parameter by name.
func (t *Template) Parameter(name string) (Parameter, bool) {
	p, ok := t.Parameters[name]
	return p, ok
}
