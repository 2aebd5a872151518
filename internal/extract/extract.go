// Package extract implements C7: turning resolved tables into flat output
// rows, with fill-down, melt/unpivot, and anomaly flagging. Grounded on
// the teacher's internal/extraction package for its "deterministic
// transform over a fixed shape, never throws" posture, generalized from
// receipt-field extraction to pricelist row extraction.
package extract

import (
	"math"
	"regexp"
	"strings"

	"github.com/castlemilk/pricelake/backend/internal/resolve"
	"github.com/castlemilk/pricelake/backend/internal/store"
	"github.com/castlemilk/pricelake/backend/internal/tableparse"
)

// PageTables is the resolver input for one page: its 1-based page number
// and the tables parsed from its markdown.
type PageTables struct {
	Page   int
	Tables []tableparse.Table
}

// TableIndex identifies a source table within an Upload by page and
// in-page table index, for row provenance tracking (spec §4.7 step 6).
type TableIndex struct {
	Page       int
	TableIndex int
}

// Flag is an advisory anomaly annotation on one output cell.
type Flag struct {
	RowIdx int
	Column string
	Reason string
}

const (
	ReasonNonNumericInNumericColumn = "non_numeric_in_numeric_column"
	ReasonOutlierLength             = "outlier_length"
	ReasonRarePattern               = "rare_pattern"
)

// Result is the full output of one extraction run.
type Result struct {
	Columns         []string
	Rows            [][]string
	Flags           []Flag
	RowTableIndices []TableIndex
}

var subRowRe = regexp.MustCompile(`^[a-z0-9]{1,3}$`)

// Extract runs C6 resolution and C7 row emission across every table on
// every page, in page order then in-page table order, and profiles the
// resulting columns for anomalies. Output is a pure function of
// (pages, cfg) — identical inputs always produce byte-identical output.
func Extract(cfg store.ExtractionConfig, pages []PageTables) Result {
	variantMode := false
	for _, pt := range pages {
		for _, tbl := range pt.Tables {
			if resolve.Resolve(cfg, tbl).ValueMode == resolve.ModeMelt {
				variantMode = true
			}
		}
	}

	columns := []string{"reference"}
	if variantMode {
		columns = append(columns, "variant")
	}
	for _, extra := range cfg.Extras {
		columns = append(columns, extra)
	}
	columns = append(columns, "value")
	if cfg.IncludeHeading {
		columns = append(columns, "heading")
	}
	if cfg.IncludePage {
		columns = append(columns, "page")
	}

	var rows [][]string
	var provenance []TableIndex

	for _, pt := range pages {
		for _, tbl := range pt.Tables {
			fm := resolve.Resolve(cfg, tbl)
			if !fm.Usable {
				continue
			}
			emitted := emitTable(cfg, columns, pt.Page, tbl, fm)
			rows = append(rows, emitted...)
			for range emitted {
				provenance = append(provenance, TableIndex{Page: pt.Page, TableIndex: tbl.Index})
			}
		}
	}

	result := Result{Columns: columns, Rows: rows, RowTableIndices: provenance}
	result.Flags = profileAnomalies(columns, rows)
	return result
}

func emitTable(cfg store.ExtractionConfig, columns []string, page int, tbl tableparse.Table, fm resolve.FieldMapping) [][]string {
	var out [][]string
	lastRef := ""

	for _, row := range tbl.Rows {
		ref := ""
		if fm.RowAnchor != nil && fm.RowAnchor.ColumnIdx < len(row) {
			ref = strings.TrimSpace(row[fm.RowAnchor.ColumnIdx])
		}
		if isFillDownCandidate(ref, lastRef) {
			ref = lastRef
		} else if ref != "" {
			lastRef = ref
		}
		if ref == "" {
			continue
		}

		switch fm.ValueMode {
		case resolve.ModeMelt:
			for _, vc := range fm.ValueCols {
				value := cellAt(row, vc.ColumnIdx)
				out = append(out, buildRow(columns, ref, vc.Column.Child, value, row, fm, tbl, page))
			}
		default:
			value := ""
			if len(fm.ValueCols) > 0 {
				value = cellAt(row, fm.ValueCols[0].ColumnIdx)
			}
			if value == "" && cfg.FillDownValue {
				value = lastNonEmptyValue(out, columns)
			}
			out = append(out, buildRow(columns, ref, "", value, row, fm, tbl, page))
		}
	}
	return out
}

// isFillDownCandidate reports whether ref should be replaced with the
// last seen reference: empty, or a short lowercase/digit continuation
// marker per spec §4.7 step 2.
func isFillDownCandidate(ref, lastRef string) bool {
	if ref == "" {
		return lastRef != ""
	}
	if lastRef == "" {
		return false
	}
	return subRowRe.MatchString(ref)
}

func cellAt(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func lastNonEmptyValue(rows [][]string, columns []string) string {
	valueIdx := indexOf(columns, "value")
	for i := len(rows) - 1; i >= 0; i-- {
		if valueIdx < len(rows[i]) && rows[i][valueIdx] != "" {
			return rows[i][valueIdx]
		}
	}
	return ""
}

func buildRow(columns []string, ref, variant, value string, srcRow []string, fm resolve.FieldMapping, tbl tableparse.Table, page int) []string {
	out := make([]string, len(columns))
	for i, col := range columns {
		switch col {
		case "reference":
			out[i] = ref
		case "variant":
			out[i] = variant
		case "value":
			out[i] = value
		case "heading":
			out[i] = tbl.Heading
		case "page":
			out[i] = itoa(page)
		default:
			if m := fm.Extras[col]; m != nil {
				out[i] = cellAt(srcRow, m.ColumnIdx)
			}
		}
	}
	return out
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func indexOf(columns []string, name string) int {
	for i, c := range columns {
		if c == name {
			return i
		}
	}
	return -1
}

// profileAnomalies flags cells per spec §4.7's type/length/frequency
// profiles. The value column is always profiled numerically.
func profileAnomalies(columns []string, rows [][]string) []Flag {
	var flags []Flag
	for colIdx, colName := range columns {
		if colName == "reference" || colName == "variant" || colName == "heading" || colName == "page" {
			continue
		}
		values := make([]string, 0, len(rows))
		for _, row := range rows {
			if colIdx < len(row) {
				values = append(values, row[colIdx])
			}
		}
		flags = append(flags, profileColumn(colIdx, colName, values)...)
	}
	return flags
}

func profileColumn(colIdx int, colName string, values []string) []Flag {
	var flags []Flag

	nonEmpty := 0
	numeric := 0
	lengths := []int{}
	freq := map[string]int{}
	for _, v := range values {
		if v == "" {
			continue
		}
		nonEmpty++
		lengths = append(lengths, len(v))
		freq[strings.ToLower(v)]++
		if _, ok := ParseNumber(v); ok {
			numeric++
		}
	}
	if nonEmpty == 0 {
		return nil
	}

	numericFraction := float64(numeric) / float64(nonEmpty)
	mean, stdev := meanStdev(lengths)

	topCount := 0
	for _, c := range freq {
		if c > topCount {
			topCount = c
		}
	}
	topRatio := float64(topCount) / float64(nonEmpty)

	rowIdx := -1
	for _, v := range values {
		rowIdx++
		if v == "" {
			continue
		}

		if numericFraction >= 0.8 {
			if _, ok := ParseNumber(v); !ok {
				flags = append(flags, Flag{RowIdx: rowIdx, Column: colName, Reason: ReasonNonNumericInNumericColumn})
				continue
			}
		}

		if stdev >= 2 && math.Abs(float64(len(v))-mean) > 3*stdev {
			flags = append(flags, Flag{RowIdx: rowIdx, Column: colName, Reason: ReasonOutlierLength})
			continue
		}

		if topRatio >= 0.5 && freq[strings.ToLower(v)] == 1 {
			flags = append(flags, Flag{RowIdx: rowIdx, Column: colName, Reason: ReasonRarePattern})
		}
	}
	return flags
}

func meanStdev(lengths []int) (float64, float64) {
	if len(lengths) == 0 {
		return 0, 0
	}
	sum := 0
	for _, l := range lengths {
		sum += l
	}
	mean := float64(sum) / float64(len(lengths))

	var variance float64
	for _, l := range lengths {
		d := float64(l) - mean
		variance += d * d
	}
	variance /= float64(len(lengths))
	return mean, math.Sqrt(variance)
}
