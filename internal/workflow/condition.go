package workflow

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

// Condition is a recursive expression evaluated against a context map.
//
// Composite forms:
//
//	{"op": "and", "conditions": [...]}
//	{"op": "or",  "conditions": [...]}
//	{"op": "not", "condition": {...}}
//
// Leaf forms compare a dotted context path against a literal value:
//
//	{"op": "eq", "path": "lead.source", "value": "LinkedIn"}
//	{"op": "gt", "path": "lead.score", "value": 75}
type Condition struct {
	Op         string       `json:"op,omitempty"`
	Conditions []*Condition `json:"conditions,omitempty"`
	Condition  *Condition   `json:"condition,omitempty"`
	Path       string       `json:"path,omitempty"`
	Value      any          `json:"value,omitempty"`
}

// Lookup traverses a dotted path through nested maps. A missing key or a
// non-map intermediate yields nil.
func Lookup(data map[string]any, path string) any {
	var cur any = data
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

// Evaluate applies a condition to a context map. It is a pure total
// function: it never panics and identical inputs produce identical results.
// A nil or empty condition evaluates false; a condition with an unknown op
// evaluates to its own truthiness (any populated field).
func Evaluate(cond *Condition, ctx map[string]any) bool {
	if cond == nil {
		return false
	}

	switch cond.Op {
	case "and":
		for _, c := range cond.Conditions {
			if !Evaluate(c, ctx) {
				return false
			}
		}
		return true
	case "or":
		for _, c := range cond.Conditions {
			if Evaluate(c, ctx) {
				return true
			}
		}
		return false
	case "not":
		if cond.Condition == nil {
			return false
		}
		return !Evaluate(cond.Condition, ctx)
	}

	var left any
	if cond.Path != "" {
		left = Lookup(ctx, cond.Path)
	}

	switch cond.Op {
	case "eq":
		return equalValues(left, cond.Value)
	case "neq":
		return !equalValues(left, cond.Value)
	case "gt":
		l, r, ok := bothFloats(left, cond.Value)
		return ok && l > r
	case "gte":
		l, r, ok := bothFloats(left, cond.Value)
		return ok && l >= r
	case "lt":
		l, r, ok := bothFloats(left, cond.Value)
		return ok && l < r
	case "lte":
		l, r, ok := bothFloats(left, cond.Value)
		return ok && l <= r
	case "contains":
		return strings.Contains(
			strings.ToLower(stringify(left)),
			strings.ToLower(stringify(cond.Value)),
		)
	case "regex":
		re, err := regexp.Compile(stringify(cond.Value))
		if err != nil {
			return false
		}
		return re.MatchString(stringify(left))
	}

	// Unknown or missing op: truthiness of the condition object itself.
	return cond.truthy()
}

// truthy reports whether any field of the condition is populated, mirroring
// the truthiness of a non-empty JSON object.
func (c *Condition) truthy() bool {
	return c.Op != "" || c.Path != "" || c.Value != nil ||
		len(c.Conditions) > 0 || c.Condition != nil
}

// equalValues is structural equality with numeric cross-type tolerance:
// 1 equals 1.0, but "1" does not equal 1.
func equalValues(a, b any) bool {
	af, aNum := numericValue(a)
	bf, bNum := numericValue(b)
	if aNum && bNum {
		return af == bf
	}
	if aNum != bNum {
		return false
	}
	return reflect.DeepEqual(a, b)
}

// numericValue extracts a float64 from genuinely numeric types (not strings).
func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// bothFloats coerces both operands through a float parse, the way the
// ordered comparison ops require. Strings and bools coerce; anything that
// fails to parse makes the comparison false.
func bothFloats(a, b any) (float64, float64, bool) {
	af, ok := coerceFloat(a)
	if !ok {
		return 0, 0, false
	}
	bf, ok := coerceFloat(b)
	if !ok {
		return 0, 0, false
	}
	return af, bf, true
}

func coerceFloat(v any) (float64, bool) {
	if f, ok := numericValue(v); ok {
		return f, true
	}
	switch t := v.(type) {
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(v)
	}
}
