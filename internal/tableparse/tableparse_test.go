package tableparse

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse_SimpleTable(t *testing.T) {
	md := "## Pricelist\n\n<table><tr><th>Reference</th><th>Unit MRP</th></tr>" +
		"<tr><td>LC1D09</td><td>120.00</td></tr>" +
		"<tr><td>LC1D12</td><td>150.00</td></tr></table>\n"

	tables := Parse(md)
	require.Len(t, tables, 1)
	tbl := tables[0]
	require.Equal(t, "Pricelist", tbl.Heading)
	require.Len(t, tbl.Columns, 2)
	require.Equal(t, "Reference", tbl.Columns[0].Parent)
	require.Equal(t, "Unit MRP", tbl.Columns[1].Parent)
	require.Len(t, tbl.Rows, 2)
	require.Equal(t, []string{"LC1D09", "120.00"}, tbl.Rows[0])
}

func TestParse_RowspanExpandsDownward(t *testing.T) {
	md := "<table><tr><th>Ref</th><th>Value</th></tr>" +
		"<tr><td rowspan=\"2\">LC1D09</td><td>120.00</td></tr>" +
		"<tr><td>125.00</td></tr></table>"

	tables := Parse(md)
	require.Len(t, tables, 1)
	require.Len(t, tables[0].Rows, 2)
	require.Equal(t, "LC1D09", tables[0].Rows[0][0])
	require.Equal(t, "LC1D09", tables[0].Rows[1][0], "rowspan cell must be repeated into the covered row")
}

func TestParse_ColspanPadsGrid(t *testing.T) {
	md := "<table><tr><th colspan=\"2\">Unit MRP</th></tr>" +
		"<tr><th>AC-1</th><th>AC-3</th></tr>" +
		"<tr><td>10</td><td>20</td></tr></table>"

	tables := Parse(md)
	require.Len(t, tables, 1)
	require.Len(t, tables[0].Columns, 2)
	require.Equal(t, "Unit MRP", tables[0].Columns[0].Parent)
	require.Equal(t, "AC-1", tables[0].Columns[0].Child)
	require.Equal(t, "AC-3", tables[0].Columns[1].Child)
}

func TestParse_TwoTablesStableIndices(t *testing.T) {
	md := "<table><tr><td>a</td></tr></table>\nsome text\n<table><tr><td>b</td></tr></table>"
	tables := Parse(md)
	require.Len(t, tables, 2)
	require.Equal(t, 0, tables[0].Index)
	require.Equal(t, 1, tables[1].Index)
}

func TestParse_MalformedTableReturnsEmptyNotError(t *testing.T) {
	md := "<table></table>"
	tables := Parse(md)
	require.Len(t, tables, 1)
	require.Empty(t, tables[0].Rows)
}

func TestParse_NoTablesReturnsEmptySlice(t *testing.T) {
	tables := Parse("just some markdown text, no tables here")
	require.Empty(t, tables)
}

func TestParse_DeterministicAcrossCalls(t *testing.T) {
	md := "<table><tr><th>Ref</th><th>Value</th></tr><tr><td>a</td><td>1</td></tr></table>"
	first := Parse(md)
	second := Parse(md)
	require.Equal(t, first, second)
}

func TestNormalize_CollapsesAndStrips(t *testing.T) {
	require.Equal(t, "unit mrp", Normalize("Unit  MRP!!"))
	require.Equal(t, "ref", Normalize("Ref."))
}
