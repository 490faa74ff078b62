package registry

import "regexp"

func mustNameMatcher() *regexp.Regexp {
	return regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
}
