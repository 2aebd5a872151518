// Package render implements C3: rasterizing an uploaded document into one
// PNG per page. PDFs are rendered page-by-page via MuPDF (go-fitz), after a
// cheap page-count sanity probe through ledongthuc/pdf — the teacher's own
// direct dependency, used the same way in
// internal/extraction/pdf_preprocessor.go's AnalyzePDF (open a lightweight
// reader first, recover from panics, never let a malformed PDF reach the
// heavier rasterizer uncaught). Image uploads pass through as a single
// synthetic page.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"log"

	_ "image/gif"
	_ "image/jpeg"

	"github.com/gen2brain/go-fitz"
	"github.com/ledongthuc/pdf"
	"golang.org/x/image/draw"

	"github.com/castlemilk/pricelake/backend/internal/apperr"
)

// Options configures rasterization. Defaults mirror spec §4.3: 200 DPI,
// long edge scaled down to at most 1540px.
type Options struct {
	DPI        int
	LongEdgePx int
}

// DefaultOptions matches the teacher's config-driven defaults (internal/config).
func DefaultOptions() Options {
	return Options{DPI: 200, LongEdgePx: 1540}
}

// Page is one rendered page, 1-based in source order.
type Page struct {
	PageNum int
	PNG     []byte
}

// Render rasterizes a document into PNG pages. mime selects the decode
// path: "application/pdf" renders every page through MuPDF; anything else
// is treated as a single already-rasterized image and passed through
// (re-encoded to PNG, scaled the same way as a PDF page).
func Render(data []byte, mime string, opts Options) ([]Page, error) {
	if mime == "application/pdf" {
		return renderPDF(data, opts)
	}
	return renderImage(data, opts)
}

func renderPDF(data []byte, opts Options) ([]Page, error) {
	probeCount, probeErr := probePageCount(data)
	if probeErr != nil {
		return nil, &apperr.Error{Kind: apperr.KindValidation, Message: fmt.Sprintf("decode PDF: %v", probeErr), Cause: probeErr}
	}

	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, &apperr.Error{Kind: apperr.KindValidation, Message: fmt.Sprintf("decode PDF: %v", err), Cause: err}
	}
	defer doc.Close()

	n := doc.NumPage()
	if probeCount > 0 && n != probeCount {
		// MuPDF and the lightweight reader disagree on page count; trust
		// MuPDF's rasterization but surface the mismatch for diagnosis.
		log.Printf("render: page-count probe (%d) disagrees with rasterizer (%d)", probeCount, n)
	}
	pages := make([]Page, 0, n)
	for i := 0; i < n; i++ {
		img, err := doc.ImageDPI(i, float64(opts.DPI))
		if err != nil {
			return nil, &apperr.Error{Kind: apperr.KindValidation, Message: fmt.Sprintf("render page %d: %v", i+1, err), Cause: err}
		}

		scaled := scaleLongEdge(img, opts.LongEdgePx)

		var buf bytes.Buffer
		if err := png.Encode(&buf, scaled); err != nil {
			return nil, apperr.Internal(err, "encode page %d png", i+1)
		}
		pages = append(pages, Page{PageNum: i + 1, PNG: buf.Bytes()})
	}
	return pages, nil
}

// probePageCount does a cheap sanity check of data as a PDF before handing
// it to the heavier MuPDF rasterizer, wrapped in recover() the same way
// the teacher's AnalyzePDF guards against malformed input panicking the
// parser. Returns 0 (no error) if the probe itself can't determine a count,
// since it exists to catch hard failures, not to gate on disagreement.
func probePageCount(data []byte) (count int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during PDF page-count probe: %v", r)
		}
	}()

	reader, rerr := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if rerr != nil {
		return 0, fmt.Errorf("open PDF reader: %w", rerr)
	}
	n := reader.NumPage()
	if n < 1 {
		return 0, nil
	}
	return n, nil
}

func renderImage(data []byte, opts Options) ([]Page, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &apperr.Error{Kind: apperr.KindValidation, Message: fmt.Sprintf("decode image: %v", err), Cause: err}
	}

	scaled := scaleLongEdge(img, opts.LongEdgePx)

	var buf bytes.Buffer
	if err := png.Encode(&buf, scaled); err != nil {
		return nil, apperr.Internal(err, "encode image png")
	}
	return []Page{{PageNum: 1, PNG: buf.Bytes()}}, nil
}

// scaleLongEdge downsizes img so its longer side is at most longEdge px,
// preserving aspect ratio. Images already within bounds are returned as-is.
func scaleLongEdge(img image.Image, longEdge int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 || longEdge <= 0 {
		return img
	}

	long := w
	if h > long {
		long = h
	}
	if long <= longEdge {
		return img
	}

	ratio := float64(longEdge) / float64(long)
	newW := int(float64(w) * ratio)
	newH := int(float64(h) * ratio)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}
