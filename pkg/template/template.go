// Package template renders customer-facing message templates. Templates use
// single-brace tokens such as {name} and {business}; tokens without a
// supplied value are left verbatim rather than treated as errors.
package template

import "strings"

// Vars holds runtime substitution values keyed by token name.
type Vars map[string]string

// Render substitutes every {token} that has a value in vars. Unmatched
// tokens stay in the output untouched.
func Render(tpl string, vars Vars) string {
	if len(vars) == 0 {
		return tpl
	}

	pairs := make([]string, 0, len(vars)*2)
	for token, value := range vars {
		pairs = append(pairs, "{"+token+"}", value)
	}

	return strings.NewReplacer(pairs...).Replace(tpl)
}

// Merge overlays extra on top of base without mutating either.
func Merge(base, extra Vars) Vars {
	merged := make(Vars, len(base)+len(extra))

	for token, value := range base {
		merged[token] = value
	}

	for token, value := range extra {
		merged[token] = value
	}

	return merged
}
