package composition

import "time"

// Row is one result row keyed by column name.
type Row map[string]any

// ResultSet is the tabular output of one node's query.
type ResultSet struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// Values returns the named field from every row, in row order.
func (r *ResultSet) Values(field string) []any {
	if r == nil {
		return nil
	}
	vals := make([]any, 0, len(r.Rows))
	for _, row := range r.Rows {
		vals = append(vals, row[field])
	}
	return vals
}

// HasColumn reports whether the result set carries the named column.
func (r *ResultSet) HasColumn(name string) bool {
	if r == nil {
		return false
	}
	for _, c := range r.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// WindowTimeFormat is the date-time layout the query engine expects for
// execution time windows: no timezone suffix.
const WindowTimeFormat = "2006-01-02T15:04:05"

// TimeWindow bounds one execution request against the query engine.
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// StartString formats the window start in the engine's wire layout.
func (w TimeWindow) StartString() string { return w.Start.Format(WindowTimeFormat) }

// EndString formats the window end in the engine's wire layout.
func (w TimeWindow) EndString() string { return w.End.Format(WindowTimeFormat) }
