package extract

import (
	"bytes"
	"encoding/csv"
)

// ToCSV renders a Result as RFC 4180 CSV with a CRLF line terminator,
// header row first, per spec §6.
func ToCSV(result Result) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.UseCRLF = true

	if err := w.Write(result.Columns); err != nil {
		return nil, err
	}
	for _, row := range result.Rows {
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
