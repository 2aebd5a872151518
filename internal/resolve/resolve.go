// Package resolve implements C6: mapping an ExtractionConfig's logical
// field names onto a parsed Table's physical columns by normalized
// substring matching, with a small built-in vendor-synonym table.
// Grounded on the teacher's preference for small, explicit lookup tables
// over a rules engine (internal/extraction/client.go's field-name mapping
// for legacy-vs-Modal API response shapes follows the same shape).
package resolve

import (
	"strings"

	"github.com/castlemilk/pricelake/backend/internal/store"
	"github.com/castlemilk/pricelake/backend/internal/tableparse"
)

// Mode describes how the value_anchor field was resolved.
type Mode string

const (
	ModePin  Mode = "pin"  // match_child specified: exactly one value column
	ModeMelt Mode = "melt" // melt flag set: every child under the parent is a value column
	ModeFlat Mode = "flat" // default: exactly one value column, parent or child match
)

// ColumnMatch pairs a config field name with the physical column index it
// resolved to.
type ColumnMatch struct {
	Field      string
	ColumnIdx  int
	Column     tableparse.Column
}

// FieldMapping is the resolver's output for one Table.
type FieldMapping struct {
	TableIndex  int
	RowAnchor   *ColumnMatch
	ValueMode   Mode
	ValueCols   []ColumnMatch // one entry in pin/flat mode, N entries in melt mode
	Extras      map[string]*ColumnMatch
	Usable      bool
}

// Synonyms is the resolver's built-in vendor-term equivalence table (spec
// §4.6: "a resolver input, not wired in at call sites"). Each entry's
// members are mutually normalized-substring-equivalent for matching
// purposes, layered on top of plain substring matching.
var Synonyms = [][]string{
	{"ref", "reference", "sku", "code", "item code", "part number", "cat no", "catalogue number"},
	{"mrp", "list price", "rrp", "srp", "unit mrp", "price"},
	{"qty", "quantity", "pack", "pack qty", "pack size"},
	{"desc", "description", "product", "product description"},
}

func synonymGroup(normalized string) []string {
	for _, group := range Synonyms {
		for _, term := range group {
			if Normalize(term) == normalized {
				return group
			}
		}
	}
	return nil
}

// Normalize matches tableparse.Normalize exactly; re-exported here so
// resolver callers don't need to import tableparse just to normalize a
// config field name.
func Normalize(s string) string {
	return tableparse.Normalize(s)
}

// matches reports whether query normalized-matches candidate: substring
// either way, after expanding query through the synonym table.
func matches(query, candidateNormalized string) bool {
	queryNorm := Normalize(query)
	if substringEitherWay(queryNorm, candidateNormalized) {
		return true
	}
	for _, syn := range synonymGroup(queryNorm) {
		synNorm := Normalize(syn)
		if substringEitherWay(synNorm, candidateNormalized) {
			return true
		}
	}
	return false
}

func substringEitherWay(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(b, a) || strings.Contains(a, b)
}

// Resolve builds a FieldMapping for one table against cfg. Resolution
// never errors: an unmatched field simply leaves its ColumnMatch nil (row
// anchor / value) or absent (extras), and Usable reflects spec §4.6's
// "at least a row_anchor and at least one value column" rule.
func Resolve(cfg store.ExtractionConfig, table tableparse.Table) FieldMapping {
	fm := FieldMapping{TableIndex: table.Index, Extras: map[string]*ColumnMatch{}}

	fm.RowAnchor = resolveRowAnchor(cfg.RowAnchor, table)

	switch {
	case cfg.MatchChild != "":
		fm.ValueMode = ModePin
		fm.ValueCols = resolvePin(cfg.ValueAnchor, cfg.MatchChild, table)
	case cfg.Melt:
		fm.ValueMode = ModeMelt
		fm.ValueCols = resolveMelt(cfg.ValueAnchor, table)
	default:
		fm.ValueMode = ModeFlat
		fm.ValueCols = resolveFlat(cfg.ValueAnchor, table)
	}

	for _, extra := range cfg.Extras {
		if m := resolveFlat(extra, table); len(m) > 0 {
			fm.Extras[extra] = &m[0]
		} else {
			fm.Extras[extra] = nil
		}
	}

	fm.Usable = fm.RowAnchor != nil && len(fm.ValueCols) > 0
	return fm
}

// resolveRowAnchor finds the first column whose parent OR child matches
// the anchor. Among multiple children of a matching parent, picks the
// column with the highest non-empty ratio in its data rows, tie-broken
// leftmost.
func resolveRowAnchor(anchor string, table tableparse.Table) *ColumnMatch {
	var parentMatchIdxs []int
	for i, col := range table.Columns {
		if matches(anchor, Normalize(col.Parent)) || matches(anchor, Normalize(col.Child)) {
			parentMatchIdxs = append(parentMatchIdxs, i)
		}
	}
	if len(parentMatchIdxs) == 0 {
		return nil
	}
	if len(parentMatchIdxs) == 1 {
		idx := parentMatchIdxs[0]
		return &ColumnMatch{Field: "row_anchor", ColumnIdx: idx, Column: table.Columns[idx]}
	}

	best := parentMatchIdxs[0]
	bestRatio := nonEmptyRatio(table, best)
	for _, idx := range parentMatchIdxs[1:] {
		ratio := nonEmptyRatio(table, idx)
		if ratio > bestRatio {
			best = idx
			bestRatio = ratio
		}
	}
	return &ColumnMatch{Field: "row_anchor", ColumnIdx: best, Column: table.Columns[best]}
}

func nonEmptyRatio(table tableparse.Table, col int) float64 {
	if len(table.Rows) == 0 {
		return 0
	}
	nonEmpty := 0
	for _, row := range table.Rows {
		if col < len(row) && strings.TrimSpace(row[col]) != "" {
			nonEmpty++
		}
	}
	return float64(nonEmpty) / float64(len(table.Rows))
}

// resolveFlat finds the single column whose parent or child matches
// query, used for both flat-mode value resolution and extras.
func resolveFlat(query string, table tableparse.Table) []ColumnMatch {
	for i, col := range table.Columns {
		if matches(query, Normalize(col.Parent)) || matches(query, Normalize(col.Child)) {
			return []ColumnMatch{{Field: query, ColumnIdx: i, Column: col}}
		}
	}
	return nil
}

// resolvePin finds the single column whose (parent, child) matches both
// the value anchor and the configured match_child.
func resolvePin(anchor, matchChild string, table tableparse.Table) []ColumnMatch {
	for i, col := range table.Columns {
		if matches(anchor, Normalize(col.Parent)) && matches(matchChild, Normalize(col.Child)) {
			return []ColumnMatch{{Field: anchor, ColumnIdx: i, Column: col}}
		}
	}
	return nil
}

// resolveMelt collects every column under a parent matching the value
// anchor as its own value column.
func resolveMelt(anchor string, table tableparse.Table) []ColumnMatch {
	var out []ColumnMatch
	for i, col := range table.Columns {
		if matches(anchor, Normalize(col.Parent)) {
			out = append(out, ColumnMatch{Field: anchor, ColumnIdx: i, Column: col})
		}
	}
	return out
}
