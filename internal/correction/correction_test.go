package correction

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildResult_NoChangeWhenCellTextEquivalent(t *testing.T) {
	original := "<table><tr><td>LC1D09</td><td>120.00</td></tr></table>"
	corrected := "```html\n<table><tr><td>  LC1D09 </td><td>120.00</td></tr></table>\n```"

	result := buildResult(original, corrected)
	require.True(t, result.NoChange)
}

func TestBuildResult_ChangeWhenCellTextDiffers(t *testing.T) {
	original := "<table><tr><td>LC1D09</td><td>120.00</td></tr></table>"
	corrected := "<table><tr><td>LC1D09</td><td>125.00</td></tr></table>"

	result := buildResult(original, corrected)
	require.False(t, result.NoChange)
}

func TestDiagnose_FlagsMismatchedColumnCount(t *testing.T) {
	html := "<table><tr><td>a</td><td>b</td></tr><tr><td>c</td></tr></table>"
	diag := diagnose(html)
	require.Contains(t, diag, "row 0: 2 columns (ok)")
	require.Contains(t, diag, "row 1: 1 columns (MISMATCH)")
}

func TestApply_ReplacesOnlyTheNthTable(t *testing.T) {
	markdown := "prefix\n<table><tr><td>one</td></tr></table>\nmiddle\n<table><tr><td>two</td></tr></table>\nsuffix"

	out, err := Apply(markdown, 1, "<table><tr><td>TWO-FIXED</td></tr></table>")
	require.NoError(t, err)
	require.Contains(t, out, "<td>one</td>")
	require.Contains(t, out, "TWO-FIXED")
	require.NotContains(t, out, "<td>two</td>")
	require.Contains(t, out, "prefix")
	require.Contains(t, out, "suffix")
}

func TestApply_OutOfRangeIndexErrors(t *testing.T) {
	markdown := "<table><tr><td>one</td></tr></table>"
	_, err := Apply(markdown, 5, "<table></table>")
	require.Error(t, err)
}
