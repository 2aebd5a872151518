// Package correction implements C8: re-OCR-ing one table on one page via
// a vision model (VLM) or re-deriving it from structural diagnosis via a
// text model (LLM), testing the result for equivalence against the
// original, and surgically splicing an accepted correction back into the
// stored page markdown. Grounded on the teacher's
// internal/extraction/tax_gemini.go for its hand-rolled prompt-building
// and markdown-fence-stripping idiom against a raw chat-completions
// endpoint.
package correction

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/castlemilk/pricelake/backend/internal/apperr"
	"github.com/castlemilk/pricelake/backend/internal/tableparse"
)

// Method selects which model re-derives the table.
type Method string

const (
	MethodVLM Method = "vlm"
	MethodLLM Method = "llm"
)

// Result is the outcome of one validate call.
type Result struct {
	Original  string
	Corrected string
	NoChange  bool
}

// Client drives the VLM/LLM round-trip against OpenAI-compatible
// chat-completions endpoints, same wire shape as internal/ocr.Client.
type Client struct {
	vlmBaseURL, vlmModel string
	llmBaseURL, llmModel string
	httpClient           *http.Client
}

func New(vlmBaseURL, vlmModel, llmBaseURL, llmModel string) *Client {
	return &Client{
		vlmBaseURL: vlmBaseURL, vlmModel: vlmModel,
		llmBaseURL: llmBaseURL, llmModel: llmModel,
		httpClient: &http.Client{Timeout: 180 * time.Second}, // spec §5: VLM/LLM per-call timeout
	}
}

const vlmSystemPrompt = `You re-transcribe a single pricelist table from an image into clean HTML.
Output only one HTML table using thead, tbody, tr, td, th, rowspan and colspan as needed.
Do not include any prose, explanation, or markdown code fences. Do not guess values you cannot read.`

// ValidateVLM sends the whole of pageImage to a vision model and asks it
// to transcribe one pricelist table; the request does not crop the image
// or say which table on the page is meant. The original HTML is not sent, to avoid anchoring
// the model on the existing (possibly wrong) transcription.
func (c *Client) ValidateVLM(ctx context.Context, pageImage []byte, mime, originalHTML string) (Result, error) {
	dataURL := fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(pageImage))

	reqBody := map[string]any{
		"model": c.vlmModel,
		"messages": []map[string]any{
			{"role": "system", "content": vlmSystemPrompt},
			{"role": "user", "content": []map[string]any{
				{"type": "image_url", "image_url": map[string]string{"url": dataURL}},
			}},
		},
	}

	corrected, err := c.chat(ctx, c.vlmBaseURL, reqBody)
	if err != nil {
		return Result{}, err
	}
	return buildResult(originalHTML, corrected), nil
}

// ValidateLLM computes a structural diagnosis of the original table
// (per-row effective column count after rowspan carry-over, flagged when
// it diverges from the row-count mode) and asks a text model to correct
// it given that diagnosis, the original HTML, and the full page markdown.
func (c *Client) ValidateLLM(ctx context.Context, pageMarkdown, originalHTML string) (Result, error) {
	diagnosis := diagnose(originalHTML)

	prompt := fmt.Sprintf(`You correct a malformed pricelist HTML table.

Structural diagnosis (row index: effective column count, "MISMATCH" if it differs from the table's modal column count):
%s

Original table:
%s

Full page context:
%s

Return only the corrected HTML table using thead, tbody, tr, td, th, rowspan and colspan as needed. No prose, no markdown code fences.`, diagnosis, originalHTML, pageMarkdown)

	reqBody := map[string]any{
		"model": c.llmModel,
		"messages": []map[string]any{
			{"role": "user", "content": prompt},
		},
	}

	corrected, err := c.chat(ctx, c.llmBaseURL, reqBody)
	if err != nil {
		return Result{}, err
	}
	return buildResult(originalHTML, corrected), nil
}

var codeFenceRe = regexp.MustCompile("(?s)```(?:html)?\\s*(.*?)\\s*```")

func buildResult(original, corrected string) Result {
	if m := codeFenceRe.FindStringSubmatch(corrected); m != nil {
		corrected = m[1]
	}
	corrected = strings.TrimSpace(corrected)

	return Result{
		Original:  original,
		Corrected: corrected,
		NoChange:  normalizedCellText(original) == normalizedCellText(corrected),
	}
}

// normalizedCellText concatenates every cell's lowercased,
// whitespace-collapsed text, per spec §4.8's equivalence test: the header
// text of each column (parent and child) first, then the data rows.
func normalizedCellText(html string) string {
	tables := tableparse.Parse(html)
	if len(tables) == 0 {
		return ""
	}
	var buf strings.Builder
	for _, col := range tables[0].Columns {
		buf.WriteString(strings.ToLower(strings.Join(strings.Fields(col.Parent+" "+col.Child), " ")))
		buf.WriteByte('|')
	}
	for _, row := range tables[0].Rows {
		for _, cell := range row {
			buf.WriteString(strings.ToLower(strings.Join(strings.Fields(cell), " ")))
			buf.WriteByte('|')
		}
	}
	return buf.String()
}

// diagnose computes, per physical row, the effective column count after
// rowspan carry-over, and flags rows whose count differs from the mode
// (on a tie, the larger count). Row 0 is the first header row, rebuilt
// from the column parents; a second header row is not listed.
func diagnose(tableHTML string) string {
	tables := tableparse.Parse(tableHTML)
	if len(tables) == 0 {
		return "(no rows found)"
	}
	rows := tables[0].Rows
	if len(tables[0].Columns) > 0 {
		header := make([]string, len(tables[0].Columns))
		for i, col := range tables[0].Columns {
			header[i] = col.Parent
		}
		rows = append([][]string{header}, rows...)
	}

	counts := make([]int, len(rows))
	freq := map[int]int{}
	for i, row := range rows {
		n := 0
		for _, cell := range row {
			if cell != "" {
				n++
			}
		}
		counts[i] = n
		freq[n]++
	}
	mode, modeCount := 0, -1
	for n, c := range freq {
		if c > modeCount || (c == modeCount && n > mode) {
			mode, modeCount = n, c
		}
	}

	var buf strings.Builder
	for i, n := range counts {
		status := "ok"
		if n != mode {
			status = "MISMATCH"
		}
		fmt.Fprintf(&buf, "row %d: %d columns (%s)\n", i, n, status)
	}
	return buf.String()
}

func (c *Client) chat(ctx context.Context, baseURL string, reqBody map[string]any) (string, error) {
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", apperr.Internal(err, "marshal correction request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", apperr.Internal(err, "build correction request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", apperr.Upstream(err, "correction model request failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperr.Upstream(err, "read correction model response")
	}
	if resp.StatusCode >= 400 {
		return "", apperr.Upstream(fmt.Errorf("status %d: %s", resp.StatusCode, respBody), "correction model rejected request")
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", apperr.Upstream(err, "parse correction model response")
	}
	if len(parsed.Choices) == 0 {
		return "", apperr.Upstream(fmt.Errorf("empty choices"), "correction model returned no content")
	}
	return parsed.Choices[0].Message.Content, nil
}

var tableBlockRe = regexp.MustCompile(`(?is)<table[^>]*>.*?</table>`)

// ExtractTableBlock returns the N-th (0-based) raw <table>...</table> block
// found in markdown, the originalHTML argument ValidateVLM/ValidateLLM need.
func ExtractTableBlock(markdown string, tableIndex int) (string, error) {
	matches := tableBlockRe.FindAllString(markdown, -1)
	if tableIndex < 0 || tableIndex >= len(matches) {
		return "", apperr.Validation("table index %d out of range (%d tables found)", tableIndex, len(matches))
	}
	return matches[tableIndex], nil
}

// Apply replaces the N-th (0-based) <table>...</table> block in markdown
// with correctedHTML, leaving everything outside that block byte-identical.
func Apply(markdown string, tableIndex int, correctedHTML string) (string, error) {
	matches := tableBlockRe.FindAllStringIndex(markdown, -1)
	if tableIndex < 0 || tableIndex >= len(matches) {
		return "", apperr.Validation("table index %d out of range (%d tables found)", tableIndex, len(matches))
	}

	loc := matches[tableIndex]
	return markdown[:loc[0]] + correctedHTML + markdown[loc[1]:], nil
}
