// Package compare builds side-by-side views of what each configured model
// has cached for a text. It only reads from the cache and never reaches an
// endpoint.
package compare

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ferro-labs/ner-visualizer/internal/cache"
)

// Reader is the read-only view of the cache registry used to build
// comparisons. It deliberately has no way to trigger a compute.
type Reader interface {
	LatestForText(id cache.Identity, text string) (cache.Entry, bool)
}

// Column identifies one model in a comparison.
type Column struct {
	Identity cache.Identity
	Name     string
}

// EntityLabel is one recognised entity.
type EntityLabel struct {
	Entity string `json:"entity"`
	Label  string `json:"label"`
}

// ColumnResult is the comparison column for one model.
type ColumnResult struct {
	Identity cache.Identity `json:"identity"`
	Name     string         `json:"name"`
	Header   string         `json:"header"`
	Cached   bool           `json:"cached"`
	Elapsed  *float64       `json:"elapsed_seconds,omitempty"`
	Entities []EntityLabel  `json:"entities"`
}

// Comparison is the result of Build.
type Comparison struct {
	Text    string                   `json:"text"`
	Headers []string                 `json:"headers"`
	Table   map[string][]EntityLabel `json:"table"`
	Columns []ColumnResult           `json:"columns"`
}

// Build returns, for every column in order, the newest result cached for
// text under that model, whatever extra arguments produced it. Models with
// nothing cached get an empty column.
func Build(r Reader, columns []Column, text string) Comparison {
	out := Comparison{
		Text:    text,
		Headers: make([]string, 0, len(columns)),
		Table:   make(map[string][]EntityLabel, len(columns)),
		Columns: make([]ColumnResult, 0, len(columns)),
	}

	for _, c := range columns {
		name := DisplayName(c)
		col := ColumnResult{
			Identity: c.Identity,
			Name:     name,
			Header:   name,
			Entities: []EntityLabel{},
		}

		if c.Identity != "" {
			if entry, ok := r.LatestForText(c.Identity, text); ok {
				col.Cached = true
				col.Entities = SortEntities(entry.Result)
				if secs, timed := entry.ElapsedSeconds(); timed {
					col.Elapsed = &secs
					col.Header = FormatHeader(name, secs)
				}
			}
		}

		out.Headers = append(out.Headers, col.Header)
		out.Table[name] = col.Entities
		out.Columns = append(out.Columns, col)
	}
	return out
}

// DisplayName falls back to the identity, then to "Model", when a column
// has no name.
func DisplayName(c Column) string {
	switch {
	case c.Name != "":
		return c.Name
	case c.Identity != "":
		return string(c.Identity)
	default:
		return "Model"
	}
}

// FormatHeader renders "name (1.2s)".
func FormatHeader(name string, seconds float64) string {
	return fmt.Sprintf("%s (%.1fs)", name, seconds)
}

// SortEntities orders entities case-insensitively, breaking ties on the raw
// text so the output is stable.
func SortEntities(result map[string]string) []EntityLabel {
	out := make([]EntityLabel, 0, len(result))
	for entity, label := range result {
		out = append(out, EntityLabel{Entity: entity, Label: label})
	}
	sort.Slice(out, func(i, j int) bool {
		li, lj := strings.ToLower(out[i].Entity), strings.ToLower(out[j].Entity)
		if li != lj {
			return li < lj
		}
		return out[i].Entity < out[j].Entity
	})
	return out
}
