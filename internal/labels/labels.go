// Package labels assigns display colours to entity labels.
package labels

import "hash/fnv"

// Palette is the set of highlight colours, indexed by label hash.
var Palette = []string{
	"#fca5a5", "#fcd34d", "#6ee7b7", "#93c5fd", "#c4b5fd",
	"#f9a8d4", "#fdba74", "#a5f3fc", "#d9f99d", "#fcd5ce",
	"#e0f2fe", "#f0abfc", "#bbf7d0", "#fde68a", "#fecaca",
	"#c7d2fe", "#ddd6fe", "#fef9c3", "#bae6fd", "#fecdd3",
}

// Color returns the palette colour for label. The same label always maps
// to the same colour, across processes too.
func Color(label string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(label))
	return Palette[h.Sum32()%uint32(len(Palette))]
}

// Colors returns a colour for every distinct label in result.
func Colors(result map[string]string) map[string]string {
	out := make(map[string]string)
	for _, label := range result {
		if _, ok := out[label]; !ok {
			out[label] = Color(label)
		}
	}
	return out
}
