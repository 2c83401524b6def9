package mapping

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/vk/querygrid/internal/composition"
)

// SQLLimits bounds how list parameters render into SQL text. Lists up to
// InlineListLimit entries render as a plain parenthesized list; lists up to
// MaxListValues render through an explicit VALUES-clause derived table;
// anything larger fails the node before any engine call.
type SQLLimits struct {
	InlineListLimit int
	MaxListValues   int
}

// DefaultSQLLimits are used when the caller leaves a limit at zero.
var DefaultSQLLimits = SQLLimits{
	InlineListLimit: 500,
	MaxListValues:   10000,
}

func (l SQLLimits) withDefaults() SQLLimits {
	if l.InlineListLimit <= 0 {
		l.InlineListLimit = DefaultSQLLimits.InlineListLimit
	}
	if l.MaxListValues <= 0 {
		l.MaxListValues = DefaultSQLLimits.MaxListValues
	}
	return l
}

// placeholderRe matches {{name}} parameter placeholders in template SQL.
var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// Placeholders returns the distinct parameter names referenced by the SQL
// text, in first-appearance order.
func Placeholders(sql string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range placeholderRe.FindAllStringSubmatch(sql, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// RenderSQL substitutes every {{name}} placeholder in the template SQL with
// the literal rendering of the named value. A placeholder without a value is
// a mapping error; values without placeholders are ignored.
func RenderSQL(sql string, values map[string]any, limits SQLLimits) (string, error) {
	limits = limits.withDefaults()
	var renderErr error
	out := placeholderRe.ReplaceAllStringFunc(sql, func(match string) string {
		if renderErr != nil {
			return match
		}
		name := placeholderRe.FindStringSubmatch(match)[1]
		v, ok := values[name]
		if !ok {
			renderErr = &Error{Param: name, Reason: "no value for SQL placeholder"}
			return match
		}
		rendered, err := renderValue(name, v, limits)
		if err != nil {
			renderErr = err
			return match
		}
		return rendered
	})
	if renderErr != nil {
		return "", renderErr
	}
	return out, nil
}

func renderValue(name string, v any, limits SQLLimits) (string, error) {
	switch x := v.(type) {
	case string:
		return quoteString(x), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case bool:
		if x {
			return "TRUE", nil
		}
		return "FALSE", nil
	case time.Time:
		return quoteString(x.Format(composition.WindowTimeFormat)), nil
	case []any:
		return renderList(name, x, limits)
	}
	return "", &Error{Param: name, Reason: fmt.Sprintf("cannot render value of type %T into SQL", v)}
}

// renderList is the explicit code path for list parameters. Small lists
// inline; large lists become a VALUES-clause derived table; oversized lists
// are rejected outright rather than spliced in and left to the engine.
func renderList(name string, list []any, limits SQLLimits) (string, error) {
	if len(list) == 0 {
		return "", &Error{Param: name, Reason: "empty list cannot be rendered into SQL"}
	}
	if len(list) > limits.MaxListValues {
		return "", &Error{Param: name, Reason: fmt.Sprintf("list has %d values, above the configured maximum of %d", len(list), limits.MaxListValues)}
	}

	elems := make([]string, len(list))
	for i, v := range list {
		switch v.(type) {
		case []any:
			return "", &Error{Param: name, Reason: "nested lists cannot be rendered into SQL"}
		}
		rendered, err := renderValue(name, v, limits)
		if err != nil {
			return "", err
		}
		elems[i] = rendered
	}

	if len(elems) <= limits.InlineListLimit {
		return "(" + strings.Join(elems, ", ") + ")", nil
	}
	var b strings.Builder
	b.WriteString("(SELECT value FROM (VALUES ")
	for i, e := range elems {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		b.WriteString(e)
		b.WriteString(")")
	}
	b.WriteString(") AS inline_values(value))")
	return b.String(), nil
}

// quoteString renders a SQL string literal with embedded quotes doubled.
func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
