// Package environment expands environment variable references in
// configuration strings.
package environment

import (
	"os"
	"regexp"
)

// Matches ${NAME}, ${NAME:-default} and $NAME in a single alternation so the
// input is scanned exactly once, left to right. Substituted values are never
// re-scanned, which prevents injection via chained variables.
var placeholderRegex = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// Expand replaces every $NAME or ${NAME} reference in raw with the value of
// the corresponding environment variable. ${NAME:-default} substitutes the
// default when NAME is unset. An unresolved reference is left as the literal
// placeholder text; Expand itself never fails.
func Expand(raw string) string {
	expanded, _ := ExpandWithUnresolved(raw)
	return expanded
}

// ExpandWithUnresolved behaves like Expand but also reports the names of
// variables that could not be resolved, so callers can surface a warning.
func ExpandWithUnresolved(raw string) (string, []string) {
	var unresolved []string

	expanded := placeholderRegex.ReplaceAllStringFunc(raw, func(match string) string {
		groups := placeholderRegex.FindStringSubmatch(match)

		// Braced form: ${NAME} or ${NAME:-default}
		if name := groups[1]; name != "" {
			if value, ok := os.LookupEnv(name); ok {
				return value
			}
			if groups[2] != "" {
				// Default provided, even if empty after ":-".
				return groups[3]
			}
			unresolved = append(unresolved, name)
			return match
		}

		// Bare form: $NAME
		name := groups[4]
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		unresolved = append(unresolved, name)
		return match
	})

	return expanded, unresolved
}
