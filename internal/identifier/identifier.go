// Package identifier validates class and property names. It follows the
// teacher's compile-once-reuse regexp idiom from core.Database.Validate's
// AllowedNamePattern handling.
package identifier

import "regexp"

// pattern implements spec.md §2.2: [_A-Za-z][-_A-Za-z0-9]{1,128}.
var pattern = regexp.MustCompile(`^[_A-Za-z][-_A-Za-z0-9]{1,128}$`)

// Valid reports whether name is an acceptable class or property identifier.
func Valid(name string) bool {
	return pattern.MatchString(name)
}
