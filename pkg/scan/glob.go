// Redis KEYS filters the key stream of a scope through a glob pattern; the following module implements glob matching.

package scan

import (
	"fmt"
	"iter"

	"v.io/v23/glob"
)

// MatchGlob lazily filters `keys` down to the ones matching the `pattern` glob.
func MatchGlob(pattern string, keys iter.Seq[string]) (iter.Seq[string], error) {
	parsedPattern, err := glob.Parse(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid glob pattern %q: %w", pattern, err)
	}
	matcher := parsedPattern.Head()
	return func(yield func(string) bool) {
		for key := range keys {
			if matcher.Match(key) {
				if !yield(key) {
					return
				}
			}
		}
	}, nil
}
