// Package extraargs parses the free-form "key: value, key: value" option
// string users attach to a submission.
package extraargs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrMalformed is returned for input that cannot be turned into a mapping.
var ErrMalformed = errors.New("malformed extra arguments")

// Parse turns "key1: value1, key2: value2" into a map. Each piece is split
// on its first colon so values may themselves contain colons. Pieces
// without a colon are skipped. An empty key is an error.
func Parse(s string) (map[string]string, error) {
	out := make(map[string]string)
	if strings.TrimSpace(s) == "" {
		return out, nil
	}
	for _, piece := range strings.Split(s, ",") {
		key, value, ok := strings.Cut(piece, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("%w: empty key in %q", ErrMalformed, strings.TrimSpace(piece))
		}
		out[key] = strings.TrimSpace(value)
	}
	return out, nil
}

// Format renders m back into the "key: value, ..." form with keys sorted.
func Format(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+m[k])
	}
	return strings.Join(parts, ", ")
}
