package trigger

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/oliveagle/jsonpath"
)

var tokenPattern = regexp.MustCompile(`\{(\$[^{}]*)\}`)

// ResolveString replaces every {$.path} token in s with the value found at
// that path in vars. Tokens that resolve to nothing become empty strings.
func ResolveString(vars map[string]any, s string) string {
	return tokenPattern.ReplaceAllStringFunc(s, func(token string) string {
		path := strings.TrimSuffix(strings.TrimPrefix(token, "{"), "}")
		value, err := jsonpath.JsonPathLookup(vars, path)
		if err != nil || value == nil {
			return ""
		}
		return fmt.Sprintf("%v", value)
	})
}

// ResolveParams walks a decoded JSON config and resolves tokens in every
// string it contains.
func ResolveParams(vars map[string]any, params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = resolveValue(vars, v)
	}
	return out
}

func resolveValue(vars map[string]any, v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return ResolveParams(vars, typed)
	case []any:
		list := make([]any, 0, len(typed))
		for _, item := range typed {
			list = append(list, resolveValue(vars, item))
		}
		return list
	case string:
		return ResolveString(vars, typed)
	default:
		return v
	}
}
