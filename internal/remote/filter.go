package remote

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Op is a filter comparison.
type Op string

const (
	OpEq     Op = "eq"
	OpIn     Op = "in"
	OpBefore Op = "lt"
)

// Cond is one predicate on a record field.
type Cond struct {
	Field  string `json:"field"`
	Op     Op     `json:"op"`
	Values []any  `json:"values"`
}

// Filter is a conjunction of conditions. The zero value matches everything.
type Filter []Cond

// Eq matches records whose field equals value.
func Eq(field string, value any) Filter {
	return Filter{{Field: field, Op: OpEq, Values: []any{value}}}
}

// In matches records whose field equals one of values. An empty set matches
// nothing.
func In[T any](field string, values ...T) Filter {
	vals := make([]any, len(values))
	for i, v := range values {
		vals[i] = v
	}
	return Filter{{Field: field, Op: OpIn, Values: vals}}
}

// Before matches records whose time field is strictly earlier than t.
func Before(field string, t time.Time) Filter {
	return Filter{{Field: field, Op: OpBefore, Values: []any{t}}}
}

// And combines filters.
func (f Filter) And(other Filter) Filter {
	out := make(Filter, 0, len(f)+len(other))
	out = append(out, f...)
	return append(out, other...)
}

// Value returns the first value of the equality condition on field.
func (f Filter) Value(field string) (any, bool) {
	for _, c := range f {
		if c.Field == field && c.Op == OpEq && len(c.Values) > 0 {
			return c.Values[0], true
		}
	}
	return nil, false
}

// Values returns the candidate values constrained by an eq or in condition on field.
func (f Filter) Values(field string) ([]any, bool) {
	for _, c := range f {
		if c.Field == field && (c.Op == OpEq || c.Op == OpIn) {
			return c.Values, true
		}
	}
	return nil, false
}

// Match reports whether r satisfies every condition.
func (f Filter) Match(r Record) bool {
	for _, c := range f {
		if !c.match(r) {
			return false
		}
	}
	return true
}

func (c Cond) match(r Record) bool {
	v, ok := r[c.Field]
	switch c.Op {
	case OpEq, OpIn:
		if !ok {
			return false
		}
		for _, want := range c.Values {
			if equal(v, want) {
				return true
			}
		}
		return false
	case OpBefore:
		got, ok := asTime(v)
		if !ok || len(c.Values) == 0 {
			return false
		}
		limit, ok := asTime(c.Values[0])
		return ok && got.Before(limit)
	}
	return false
}

func (f Filter) String() string {
	parts := make([]string, len(f))
	for i, c := range f {
		parts[i] = fmt.Sprintf("%s=%s.%v", c.Field, c.Op, c.Values)
	}
	return strings.Join(parts, "&")
}

func equal(a, b any) bool {
	if ta, ok := asTime(a); ok {
		if tb, ok := asTime(b); ok {
			return ta.Equal(tb)
		}
	}
	if na, ok := number(a); ok {
		if nb, ok := number(b); ok {
			return na == nb
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func number(v any) (int64, bool) {
	switch v.(type) {
	case int, int32, int64, float32, float64:
		return asInt(v)
	}
	return 0, false
}

// Less orders two records by field: times, then numbers, then strings.
func Less(a, b Record, field string) bool {
	if ta, ok := asTime(a[field]); ok {
		if tb, ok := asTime(b[field]); ok {
			return ta.Before(tb)
		}
	}
	if na, ok := number(a[field]); ok {
		if nb, ok := number(b[field]); ok {
			return na < nb
		}
	}
	return a.String(field) < b.String(field)
}

// Apply filters, orders and limits rows in place according to opts.
func Apply(rows []Record, filter Filter, opts ListOptions) []Record {
	out := rows[:0]
	for _, r := range rows {
		if filter.Match(r) {
			out = append(out, r)
		}
	}
	if opts.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			if opts.Descending {
				return Less(out[j], out[i], opts.OrderBy)
			}
			return Less(out[i], out[j], opts.OrderBy)
		})
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}
