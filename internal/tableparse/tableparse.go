// Package tableparse implements C5: discovering HTML <table> blocks inside
// OCR markdown and flattening each into a physical cell grid with inferred
// (parent, child) column identities. Grounded on golang.org/x/net/html's
// tokenizer, which the teacher already depends on transitively for its
// h2c HTTP/2 server wrapper (cmd/server/main.go) — reused here for its
// actual intended purpose, lenient HTML parsing.
package tableparse

import (
	"log"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// Column is a resolved header identity for one physical grid column.
type Column struct {
	Parent     string
	Child      string
	Normalized string // normalized form of "parent child" combined, for matching
	Display    string
}

// Table is one parsed <table> block plus its page-local context.
type Table struct {
	Index    int // stable position among tables found on this page
	Columns  []Column
	Rows     [][]string // data rows only, aligned to Columns
	Heading  string     // closest preceding heading on the page, if any
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Normalize lowercases, collapses whitespace and strips non-alphanumerics,
// per spec §4.6.
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = nonAlnum.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

// Parse scans markdown for <table> blocks in source order and returns one
// Table per block, each tagged with the closest preceding heading. Never
// returns an error: a malformed table becomes an empty Table plus a log line.
func Parse(markdown string) []Table {
	headings := collectHeadings(markdown)
	blocks := findTableBlocks(markdown)

	tables := make([]Table, 0, len(blocks))
	for i, block := range blocks {
		grid, err := parseGrid(block)
		if err != nil {
			log.Printf("tableparse: table %d malformed, emitting empty table: %v", i, err)
			tables = append(tables, Table{Index: i, Heading: closestHeading(headings, block.offset)})
			continue
		}

		cols, rows := buildColumns(grid)
		tables = append(tables, Table{
			Index:   i,
			Columns: cols,
			Rows:    rows,
			Heading: closestHeading(headings, block.offset),
		})
	}
	return tables
}

type tableBlock struct {
	html   string
	offset int
}

var tableOpenRe = regexp.MustCompile(`(?is)<table[^>]*>`)
var tableCloseRe = regexp.MustCompile(`(?is)</table>`)

// findTableBlocks scans for top-level <table>...</table> spans in source
// order. Nested tables (rare in OCR output) are kept inside their parent's
// HTML and not surfaced as separate blocks.
func findTableBlocks(markdown string) []tableBlock {
	var blocks []tableBlock
	pos := 0
	for {
		openLoc := tableOpenRe.FindStringIndex(markdown[pos:])
		if openLoc == nil {
			break
		}
		start := pos + openLoc[0]

		depth := 1
		cursor := pos + openLoc[1]
		end := -1
		for depth > 0 {
			nextOpen := tableOpenRe.FindStringIndex(markdown[cursor:])
			nextClose := tableCloseRe.FindStringIndex(markdown[cursor:])
			if nextClose == nil {
				break
			}
			closeAt := cursor + nextClose[0]
			if nextOpen != nil && cursor+nextOpen[0] < closeAt {
				depth++
				cursor = cursor + nextOpen[1]
				continue
			}
			depth--
			cursor = closeAt + nextClose[1]
			end = cursor
		}
		if end == -1 {
			break
		}

		blocks = append(blocks, tableBlock{html: markdown[start:end], offset: start})
		pos = end
	}
	return blocks
}

var headingRe = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)

type heading struct {
	text   string
	offset int
}

func collectHeadings(markdown string) []heading {
	matches := headingRe.FindAllStringSubmatchIndex(markdown, -1)
	headings := make([]heading, 0, len(matches))
	for _, m := range matches {
		headings = append(headings, heading{
			text:   strings.TrimSpace(markdown[m[4]:m[5]]),
			offset: m[0],
		})
	}
	return headings
}

func closestHeading(headings []heading, offset int) string {
	var best string
	for _, h := range headings {
		if h.offset < offset {
			best = h.text
		} else {
			break
		}
	}
	return best
}

// gridCell is one physical (row, col) slot.
type gridCell struct {
	text    string
	isTH    bool
	rowSpan int
	colSpan int
}

// parseGrid tokenizes one <table> block into a rectangular grid, expanding
// rowspan/colspan so every covered slot holds the originating cell's text.
func parseGrid(tableHTML string) ([][]gridCell, error) {
	z := html.NewTokenizer(strings.NewReader(tableHTML))

	var rows [][]gridCell
	// pending tracks cells still spanning downward: pending[col] = rows the
	// span still covers, counting the row being built, and value to repeat.
	type spanFill struct {
		remaining int
		cell      gridCell
	}
	pending := map[int]spanFill{}

	var curRow []gridCell
	var curCol int
	var inCell bool
	var cellIsTH bool
	var cellRowspan, cellColspan int
	var cellText strings.Builder
	inRow := false

	flushCell := func() {
		if !inCell {
			return
		}
		text := strings.TrimSpace(collapseSpace(cellText.String()))
		rs, cs := cellRowspan, cellColspan
		if rs < 1 {
			rs = 1
		}
		if cs < 1 {
			cs = 1
		}
		for curCol < len(curRow) && curRow[curCol].text != "" {
			curCol++
		}
		for i := 0; i < cs; i++ {
			col := curCol + i
			for len(curRow) <= col {
				curRow = append(curRow, gridCell{})
			}
			curRow[col] = gridCell{text: text, isTH: cellIsTH, rowSpan: rs, colSpan: cs}
			if rs > 1 {
				pending[col] = spanFill{remaining: rs, cell: gridCell{text: text, isTH: cellIsTH, rowSpan: rs, colSpan: cs}}
			}
		}
		curCol += cs
		inCell = false
		cellText.Reset()
		cellRowspan, cellColspan = 0, 0
	}

	flushRow := func() {
		if !inRow {
			return
		}
		// apply any spans still pending from previous rows into empty slots
		for col, fill := range pending {
			for len(curRow) <= col {
				curRow = append(curRow, gridCell{})
			}
			if curRow[col].text == "" {
				curRow[col] = fill.cell
			}
		}
		rows = append(rows, curRow)

		for col, fill := range pending {
			if fill.remaining <= 1 {
				delete(pending, col)
			} else {
				pending[col] = spanFill{remaining: fill.remaining - 1, cell: fill.cell}
			}
		}

		curRow = nil
		curCol = 0
		inRow = false
	}

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		tok := z.Token()
		switch tok.Data {
		case "tr":
			if tt == html.StartTagToken {
				flushRow()
				inRow = true
				curCol = 0
				// reserve slots covered by spans from earlier rows before
				// this row's own cells are placed
				for col, fill := range pending {
					for len(curRow) <= col {
						curRow = append(curRow, gridCell{})
					}
					curRow[col] = fill.cell
				}
			} else if tt == html.EndTagToken {
				flushCell()
				flushRow()
			}
		case "td", "th":
			if tt == html.StartTagToken || tt == html.SelfClosingTagToken {
				flushCell()
				inCell = true
				cellIsTH = tok.Data == "th"
				cellRowspan, cellColspan = 1, 1
				for _, attr := range tok.Attr {
					switch attr.Key {
					case "rowspan":
						cellRowspan = atoiDefault(attr.Val, 1)
					case "colspan":
						cellColspan = atoiDefault(attr.Val, 1)
					}
				}
				if tt == html.SelfClosingTagToken {
					flushCell()
				}
			} else if tt == html.EndTagToken {
				flushCell()
			}
		default:
			if tt == html.TextToken && inCell {
				cellText.WriteString(tok.Data)
			}
		}
	}
	flushCell()
	flushRow()

	if len(rows) == 0 {
		return nil, errNoRows
	}

	maxCols := 0
	for _, r := range rows {
		if len(r) > maxCols {
			maxCols = len(r)
		}
	}
	for i := range rows {
		for len(rows[i]) < maxCols {
			rows[i] = append(rows[i], gridCell{})
		}
	}
	return rows, nil
}

func atoiDefault(s string, def int) int {
	n := 0
	ok := false
	for _, r := range s {
		if r < '0' || r > '9' {
			return def
		}
		n = n*10 + int(r-'0')
		ok = true
	}
	if !ok || n == 0 {
		return def
	}
	return n
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// buildColumns infers header rows (first up to 2 physical rows) and
// returns the remaining rows as data, aligned one-to-one with Columns.
func buildColumns(grid [][]gridCell) ([]Column, [][]string) {
	headerRows := 1
	if len(grid) >= 2 && looksLikeHeaderRow(grid[1]) {
		headerRows = 2
	}
	if len(grid) < headerRows {
		headerRows = len(grid)
	}

	numCols := 0
	if len(grid) > 0 {
		numCols = len(grid[0])
	}

	cols := make([]Column, numCols)
	for c := 0; c < numCols; c++ {
		var parent, child string
		if headerRows >= 1 && c < len(grid[0]) {
			parent = grid[0][c].text
		}
		if headerRows == 2 && c < len(grid[1]) {
			child = grid[1][c].text
		}
		if child == "" {
			child = parent
		}
		display := parent
		if child != "" && child != parent {
			display = parent + " · " + child
		}
		cols[c] = Column{
			Parent:     parent,
			Child:      child,
			Normalized: Normalize(parent + " " + child),
			Display:    display,
		}
	}

	dataRows := make([][]string, 0, len(grid)-headerRows)
	for _, r := range grid[headerRows:] {
		row := make([]string, numCols)
		for c := 0; c < numCols && c < len(r); c++ {
			row[c] = r[c].text
		}
		dataRows = append(dataRows, row)
	}
	return cols, dataRows
}

// looksLikeHeaderRow treats a second physical row as a header continuation
// when at least half of its cells are <th> cells — a light
// heuristic since OCR markdown rarely marks thead/tbody explicitly.
func looksLikeHeaderRow(row []gridCell) bool {
	if len(row) == 0 {
		return false
	}
	thCount := 0
	for _, c := range row {
		if c.isTH {
			thCount++
		}
	}
	return thCount*2 >= len(row)
}

var errNoRows = tableParseError("no rows found in table block")

type tableParseError string

func (e tableParseError) Error() string { return string(e) }
