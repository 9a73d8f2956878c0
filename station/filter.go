package station

import (
	"reflect"
	"strings"
	"time"
)

// Op is a filter comparison operator.
type Op string

const (
	OpEq  Op = "=="
	OpNe  Op = "!="
	OpGt  Op = ">"
	OpGte Op = ">="
	OpLt  Op = "<"
	OpLte Op = "<="
)

// Filter is a single (field, op, value) predicate. Values may be strings
// (or named string types), bools, numbers, decimals or times; stored
// values are converted to the filter value's type before comparing.
type Filter struct {
	Field string
	Op    Op
	Value any
}

func Where(field string, op Op, value any) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

func Eq(field string, value any) Filter {
	return Filter{Field: field, Op: OpEq, Value: value}
}

// Between returns the two filters selecting from <= field < to.
func Between(field string, from, to time.Time) []Filter {
	return []Filter{Where(field, OpGte, from), Where(field, OpLt, to)}
}

// EqualityValue returns the plain string or bool a backend can push down
// as an exact-match query, and false for every other filter.
func (f Filter) EqualityValue() (any, bool) {
	if f.Op != OpEq {
		return nil, false
	}
	switch v := scalar(f.Value).(type) {
	case string, bool:
		return v, true
	}
	return nil, false
}

// Match reports whether doc satisfies the filter. A stored value that
// cannot be compared with the filter value only matches OpNe.
func (f Filter) Match(doc Document) bool {
	c, ok := compare(doc[f.Field], f.Value)
	if !ok {
		return f.Op == OpNe
	}
	switch f.Op {
	case OpEq:
		return c == 0
	case OpNe:
		return c != 0
	case OpGt:
		return c > 0
	case OpGte:
		return c >= 0
	case OpLt:
		return c < 0
	case OpLte:
		return c <= 0
	}
	return false
}

// MatchAll reports whether doc satisfies every filter.
func MatchAll(doc Document, filters []Filter) bool {
	for _, f := range filters {
		if !f.Match(doc) {
			return false
		}
	}
	return true
}

// scalar unwraps named string and bool types.
func scalar(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	}
	return v
}

// compare returns got <=> want.
func compare(got, want any) (int, bool) {
	want = scalar(want)
	switch w := want.(type) {
	case nil:
		if got == nil {
			return 0, true
		}
		return 1, true
	case time.Time:
		g, err := ToTime(got)
		if err != nil || got == nil {
			return 0, false
		}
		return g.Compare(w), true
	case string:
		g, ok := scalar(got).(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(g, w), true
	case bool:
		g, ok := scalar(got).(bool)
		if !ok {
			return 0, false
		}
		if g == w {
			return 0, true
		}
		return 1, true
	}
	w, err := ToDecimal(want)
	if err != nil {
		return 0, false
	}
	if got == nil {
		return 0, false
	}
	g, err := ToDecimal(got)
	if err != nil {
		return 0, false
	}
	return g.Cmp(w), true
}
