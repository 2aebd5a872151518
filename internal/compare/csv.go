package compare

import (
	"bytes"
	"encoding/csv"
	"strconv"
)

// Header is the fixed output column order for compare CSV export.
var Header = []string{
	"reference", "variant", "base_price", "target_price", "status",
	"absolute_change", "percent_change", "base_page", "target_page",
}

// ToCSV renders comparison rows as RFC 4180 CSV with CRLF, per spec §6.
func ToCSV(rows []Row) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.UseCRLF = true

	if err := w.Write(Header); err != nil {
		return nil, err
	}
	for _, r := range rows {
		record := []string{
			r.Reference,
			r.Variant,
			r.BasePrice,
			r.TargetPrice,
			string(r.Status),
			floatOrEmpty(r.AbsoluteChange),
			floatOrEmpty(r.PercentChange),
			intOrEmpty(r.BasePage),
			intOrEmpty(r.TargetPage),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func floatOrEmpty(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}

func intOrEmpty(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}
