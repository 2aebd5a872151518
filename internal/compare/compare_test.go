package compare

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/castlemilk/pricelake/backend/internal/extract"
)

func result(rows ...[]string) extract.Result {
	return extract.Result{
		Columns: []string{"reference", "value"},
		Rows:    rows,
	}
}

func TestCompare_ScenarioFromSpec(t *testing.T) {
	base := result(
		[]string{"LC1D09", "120.00"},
		[]string{"LC1D12", "150.00"},
	)
	target := result(
		[]string{"LC1D09", "130.00"},
		[]string{"LC1D18", "200.00"},
	)

	rows := Compare(base, target)
	byRef := map[string]Row{}
	for _, r := range rows {
		byRef[r.Reference] = r
	}

	require.Equal(t, StatusUp, byRef["LC1D09"].Status)
	require.InDelta(t, 8.33, *byRef["LC1D09"].PercentChange, 0.01)
	require.Equal(t, StatusRemoved, byRef["LC1D12"].Status)
	require.Equal(t, StatusNew, byRef["LC1D18"].Status)
}

func TestCompare_WithinTolerancePercentIsSame(t *testing.T) {
	base := result([]string{"A", "100.00"})
	target := result([]string{"A", "100.40"})

	rows := Compare(base, target)
	require.Equal(t, StatusSame, rows[0].Status)
}

func TestCompare_UnavailAndAvail(t *testing.T) {
	base := result([]string{"A", "100.00"}, []string{"B", "N/A"})
	target := result([]string{"A", "N/A"}, []string{"B", "120.00"})

	rows := Compare(base, target)
	byRef := map[string]Row{}
	for _, r := range rows {
		byRef[r.Reference] = r
	}
	require.Equal(t, StatusUnavail, byRef["A"].Status)
	require.Equal(t, StatusAvail, byRef["B"].Status)
}

func TestToCSV_HeaderAndCRLF(t *testing.T) {
	rows := Compare(result([]string{"A", "100"}), result([]string{"A", "110"}))
	out, err := ToCSV(rows)
	require.NoError(t, err)
	require.Contains(t, string(out), "reference,variant,base_price")
	require.Contains(t, string(out), "\r\n")
}
