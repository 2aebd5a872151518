package resolve

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/castlemilk/pricelake/backend/internal/store"
	"github.com/castlemilk/pricelake/backend/internal/tableparse"
)

func col(parent, child string) tableparse.Column {
	return tableparse.Column{Parent: parent, Child: child, Normalized: Normalize(parent + " " + child)}
}

func TestResolve_FlatMode(t *testing.T) {
	table := tableparse.Table{
		Columns: []tableparse.Column{col("Reference", "Reference"), col("Unit MRP", "Unit MRP")},
		Rows: [][]string{
			{"LC1D09", "120.00"},
			{"LC1D12", "150.00"},
		},
	}
	cfg := store.ExtractionConfig{RowAnchor: "ref", ValueAnchor: "mrp"}

	fm := Resolve(cfg, table)
	require.True(t, fm.Usable)
	require.Equal(t, ModeFlat, fm.ValueMode)
	require.NotNil(t, fm.RowAnchor)
	require.Equal(t, 0, fm.RowAnchor.ColumnIdx)
	require.Len(t, fm.ValueCols, 1)
	require.Equal(t, 1, fm.ValueCols[0].ColumnIdx)
}

func TestResolve_MeltMode(t *testing.T) {
	table := tableparse.Table{
		Columns: []tableparse.Column{
			col("Reference", "Reference"),
			col("Unit MRP", "AC-1"),
			col("Unit MRP", "AC-3"),
			col("Unit MRP", "AC-4"),
		},
	}
	cfg := store.ExtractionConfig{RowAnchor: "reference", ValueAnchor: "unit mrp", Melt: true}

	fm := Resolve(cfg, table)
	require.True(t, fm.Usable)
	require.Equal(t, ModeMelt, fm.ValueMode)
	require.Len(t, fm.ValueCols, 3)
}

func TestResolve_PinMode(t *testing.T) {
	table := tableparse.Table{
		Columns: []tableparse.Column{
			col("Reference", "Reference"),
			col("Unit MRP", "AC-1"),
			col("Unit MRP", "AC-3"),
		},
	}
	cfg := store.ExtractionConfig{RowAnchor: "reference", ValueAnchor: "unit mrp", MatchChild: "AC-3"}

	fm := Resolve(cfg, table)
	require.True(t, fm.Usable)
	require.Equal(t, ModePin, fm.ValueMode)
	require.Len(t, fm.ValueCols, 1)
	require.Equal(t, 2, fm.ValueCols[0].ColumnIdx)
}

func TestResolve_SynonymMatch(t *testing.T) {
	table := tableparse.Table{
		Columns: []tableparse.Column{col("SKU", "SKU"), col("RRP", "RRP")},
	}
	cfg := store.ExtractionConfig{RowAnchor: "reference", ValueAnchor: "mrp"}

	fm := Resolve(cfg, table)
	require.True(t, fm.Usable)
	require.Equal(t, 0, fm.RowAnchor.ColumnIdx)
	require.Equal(t, 1, fm.ValueCols[0].ColumnIdx)
}

func TestResolve_UnmatchedIsNotUsable(t *testing.T) {
	table := tableparse.Table{Columns: []tableparse.Column{col("Notes", "Notes")}}
	cfg := store.ExtractionConfig{RowAnchor: "reference", ValueAnchor: "mrp"}

	fm := Resolve(cfg, table)
	require.False(t, fm.Usable)
}

func TestResolve_ExtrasUnmatchedAreNilNotError(t *testing.T) {
	table := tableparse.Table{Columns: []tableparse.Column{col("Reference", "Reference"), col("Price", "Price")}}
	cfg := store.ExtractionConfig{RowAnchor: "reference", ValueAnchor: "price", Extras: []string{"Description"}}

	fm := Resolve(cfg, table)
	require.True(t, fm.Usable)
	require.Nil(t, fm.Extras["Description"])
}

func TestResolve_RowAnchorTiesPickNonEmptyLeftmost(t *testing.T) {
	table := tableparse.Table{
		Columns: []tableparse.Column{col("Code", "Code A"), col("Code", "Code B")},
		Rows: [][]string{
			{"X1", ""},
			{"X2", ""},
		},
	}
	cfg := store.ExtractionConfig{RowAnchor: "code", ValueAnchor: "code"}

	fm := Resolve(cfg, table)
	require.Equal(t, 0, fm.RowAnchor.ColumnIdx)
}
