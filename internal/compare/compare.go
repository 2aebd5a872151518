// Package compare implements C9: joining two completed extractions by
// reference (and variant, when melted) and classifying price movement.
// Grounded on the teacher's internal/extraction numeric-handling idiom
// (reuses extract.ParseNumber rather than re-deriving a parser).
package compare

import (
	"github.com/castlemilk/pricelake/backend/internal/extract"
)

// Status is the price-change classification for one joined row.
type Status string

const (
	StatusNew     Status = "NEW"
	StatusRemoved Status = "REMOVED"
	StatusUnavail Status = "UNAVAIL"
	StatusAvail   Status = "AVAIL"
	StatusUp      Status = "UP"
	StatusDown    Status = "DOWN"
	StatusSame    Status = "SAME"
)

// priceEqualTolerance is the relative tolerance within which two numeric
// prices are considered SAME, per spec §4.9 (open question, decided at
// 0.5% — see repository design notes).
const priceEqualTolerance = 0.005

// Row is one joined comparison result.
type Row struct {
	Reference      string
	Variant        string
	BasePrice      string
	TargetPrice    string
	Status         Status
	AbsoluteChange *float64
	PercentChange  *float64
	BasePage       int
	TargetPage     int
}

type key struct {
	reference, variant string
}

// Compare joins base and target extraction results on (reference,
// variant) and classifies each joined row.
func Compare(base, target extract.Result) []Row {
	baseIdx := indexRows(base)
	targetIdx := indexRows(target)

	seen := map[key]bool{}
	var rows []Row

	order := []key{}
	for _, k := range rowKeys(base) {
		if !seen[k] {
			seen[k] = true
			order = append(order, k)
		}
	}
	for _, k := range rowKeys(target) {
		if !seen[k] {
			seen[k] = true
			order = append(order, k)
		}
	}

	for _, k := range order {
		b, bOK := baseIdx[k]
		t, tOK := targetIdx[k]
		rows = append(rows, classify(k, b, bOK, t, tOK))
	}
	return rows
}

type rowRef struct {
	value string
	page  int
}

func indexRows(r extract.Result) map[key]rowRef {
	refIdx := colIndex(r.Columns, "reference")
	variantIdx := colIndex(r.Columns, "variant")
	valueIdx := colIndex(r.Columns, "value")
	pageIdx := colIndex(r.Columns, "page")

	out := map[key]rowRef{}
	for _, row := range r.Rows {
		k := key{reference: at(row, refIdx)}
		if variantIdx >= 0 {
			k.variant = at(row, variantIdx)
		}
		page := 0
		if pageIdx >= 0 {
			page = atoiOrZero(at(row, pageIdx))
		}
		out[k] = rowRef{value: at(row, valueIdx), page: page}
	}
	return out
}

func rowKeys(r extract.Result) []key {
	refIdx := colIndex(r.Columns, "reference")
	variantIdx := colIndex(r.Columns, "variant")
	var keys []key
	for _, row := range r.Rows {
		k := key{reference: at(row, refIdx)}
		if variantIdx >= 0 {
			k.variant = at(row, variantIdx)
		}
		keys = append(keys, k)
	}
	return keys
}

func colIndex(columns []string, name string) int {
	for i, c := range columns {
		if c == name {
			return i
		}
	}
	return -1
}

func at(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func atoiOrZero(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}

func classify(k key, b rowRef, bOK bool, t rowRef, tOK bool) Row {
	row := Row{Reference: k.reference, Variant: k.variant, BasePage: b.page, TargetPage: t.page}

	switch {
	case !bOK && tOK:
		row.Status = StatusNew
		row.TargetPrice = t.value
		return row
	case bOK && !tOK:
		row.Status = StatusRemoved
		row.BasePrice = b.value
		return row
	}

	row.BasePrice = b.value
	row.TargetPrice = t.value

	bNum, bOKNum := extract.ParseNumber(b.value)
	tNum, tOKNum := extract.ParseNumber(t.value)

	switch {
	case bOKNum && !tOKNum:
		row.Status = StatusUnavail
	case !bOKNum && tOKNum:
		row.Status = StatusAvail
	case bOKNum && tOKNum:
		diff := tNum - bNum
		row.AbsoluteChange = &diff
		if bNum != 0 {
			pct := diff / bNum * 100
			row.PercentChange = &pct
		}
		switch {
		case isWithinTolerance(bNum, tNum):
			row.Status = StatusSame
		case tNum > bNum:
			row.Status = StatusUp
		default:
			row.Status = StatusDown
		}
	default:
		row.Status = StatusSame
	}
	return row
}

func isWithinTolerance(base, target float64) bool {
	if base == 0 {
		return target == 0
	}
	diff := target - base
	if diff < 0 {
		diff = -diff
	}
	return diff/absf(base) <= priceEqualTolerance
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
