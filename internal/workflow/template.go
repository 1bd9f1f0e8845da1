package workflow

import (
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([\w.]+)\s*\}\}`)

// SubstituteParams resolves {{path}} placeholders in string parameter values
// against the execution context, using the same dotted-path semantics as
// condition evaluation. A string that is exactly one placeholder yields the
// raw looked-up value, so non-string context values survive substitution.
// Unresolved placeholders become empty strings. Non-string values pass
// through untouched.
func SubstituteParams(params map[string]any, ctx map[string]any) map[string]any {
	if len(params) == 0 {
		return map[string]any{}
	}

	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = substituteValue(v, ctx)
	}
	return out
}

func substituteValue(v any, ctx map[string]any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}

	// A bare placeholder keeps the looked-up value's type.
	if m := placeholderRe.FindStringSubmatch(s); m != nil && m[0] == strings.TrimSpace(s) {
		val := Lookup(ctx, m[1])
		if val == nil {
			return ""
		}
		return val
	}

	return placeholderRe.ReplaceAllStringFunc(s, func(match string) string {
		path := placeholderRe.FindStringSubmatch(match)[1]
		return stringify(Lookup(ctx, path))
	})
}
