package httpapi

import (
	"net/http"

	"github.com/castlemilk/pricelake/backend/internal/apperr"
	"github.com/castlemilk/pricelake/backend/internal/correction"
	"github.com/castlemilk/pricelake/backend/internal/extract"
	"github.com/castlemilk/pricelake/backend/internal/objectstore"
	"github.com/castlemilk/pricelake/backend/internal/store"
	"github.com/castlemilk/pricelake/backend/internal/tableparse"
)

// handlePages implements GET /uploads/{id}/pages: the ordered list of
// rendered page-PNG filenames.
func (s *Server) handlePages(w http.ResponseWriter, r *http.Request, uploadID string) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	if _, ok := s.getUploadOr404(w, r, uploadID); !ok {
		return
	}
	pages, err := s.store.ListPages(r.Context(), uploadID)
	if err != nil {
		writeError(w, err)
		return
	}
	names := make([]string, 0, len(pages))
	for _, pg := range pages {
		names = append(names, objectstore.PageKey(uploadID, pg.PageNum))
	}
	writeJSON(w, http.StatusOK, names)
}

type pageStateEntry struct {
	PageNum int            `json:"page_num"`
	State   store.PageState `json:"state"`
}

// handlePageStates implements GET /uploads/{id}/page-states.
func (s *Server) handlePageStates(w http.ResponseWriter, r *http.Request, uploadID string) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	if _, ok := s.getUploadOr404(w, r, uploadID); !ok {
		return
	}
	pages, err := s.store.ListPages(r.Context(), uploadID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]pageStateEntry, 0, len(pages))
	for _, pg := range pages {
		out = append(out, pageStateEntry{PageNum: pg.PageNum, State: pg.State})
	}
	writeJSON(w, http.StatusOK, out)
}

// handlePage implements GET /uploads/{id}/page/{n}: {markdown,state,error}.
func (s *Server) handlePage(w http.ResponseWriter, r *http.Request, uploadID string, pageNum int) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	if _, ok := s.getUploadOr404(w, r, uploadID); !ok {
		return
	}
	pg, err := s.store.GetPage(r.Context(), uploadID, pageNum)
	if err != nil {
		if err == store.ErrNotFound {
			writeError(w, apperr.NotFound("page %d of upload %s", pageNum, uploadID))
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pg)
}

// handlePageTables implements GET /uploads/{id}/page/{n}/tables: parsed
// tables with their headings, for the frontend's table-picker UI.
func (s *Server) handlePageTables(w http.ResponseWriter, r *http.Request, uploadID string, pageNum int) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	if _, ok := s.getUploadOr404(w, r, uploadID); !ok {
		return
	}
	pg, err := s.store.GetPage(r.Context(), uploadID, pageNum)
	if err != nil {
		if err == store.ErrNotFound {
			writeError(w, apperr.NotFound("page %d of upload %s", pageNum, uploadID))
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tableparse.Parse(pg.Markdown))
}

type validateTableRequest struct {
	TableIndex int    `json:"table_index"`
	Method     string `json:"method"`
}

// handleValidateTable implements POST /uploads/{id}/page/{n}/validate-table.
func (s *Server) handleValidateTable(w http.ResponseWriter, r *http.Request, uploadID string, pageNum int) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	if _, ok := s.getUploadOr404(w, r, uploadID); !ok {
		return
	}
	var req validateTableRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.Validation("decode body: %v", err))
		return
	}

	pg, err := s.store.GetPage(r.Context(), uploadID, pageNum)
	if err != nil {
		if err == store.ErrNotFound {
			writeError(w, apperr.NotFound("page %d of upload %s", pageNum, uploadID))
			return
		}
		writeError(w, err)
		return
	}

	originalHTML, err := correction.ExtractTableBlock(pg.Markdown, req.TableIndex)
	if err != nil {
		writeError(w, err)
		return
	}

	switch req.Method {
	case string(correction.MethodVLM):
		png, err := s.objects.Get(r.Context(), objectstore.BucketPages, objectstore.PageKey(uploadID, pageNum))
		if err != nil {
			writeError(w, err)
			return
		}
		result, err := s.correction.ValidateVLM(r.Context(), png, "image/png", originalHTML)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	case string(correction.MethodLLM):
		result, err := s.correction.ValidateLLM(r.Context(), pg.Markdown, originalHTML)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	default:
		writeError(w, apperr.Validation("unknown method %q", req.Method))
	}
}

type applyCorrectionRequest struct {
	TableIndex     int    `json:"table_index"`
	CorrectedTable string `json:"corrected_table"`
}

// handleApplyCorrection implements POST /uploads/{id}/page/{n}/apply-correction.
func (s *Server) handleApplyCorrection(w http.ResponseWriter, r *http.Request, uploadID string, pageNum int) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	if _, ok := s.getUploadOr404(w, r, uploadID); !ok {
		return
	}
	var req applyCorrectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.Validation("decode body: %v", err))
		return
	}

	pg, err := s.store.GetPage(r.Context(), uploadID, pageNum)
	if err != nil {
		if err == store.ErrNotFound {
			writeError(w, apperr.NotFound("page %d of upload %s", pageNum, uploadID))
			return
		}
		writeError(w, err)
		return
	}

	corrected, err := correction.Apply(pg.Markdown, req.TableIndex, req.CorrectedTable)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.store.UpsertPage(r.Context(), &store.Page{UploadID: uploadID, PageNum: pageNum, State: pg.State, Markdown: corrected}); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleScanColumns implements POST /uploads/{id}/scan-columns.
func (s *Server) handleScanColumns(w http.ResponseWriter, r *http.Request, uploadID string) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	if _, ok := s.getUploadOr404(w, r, uploadID); !ok {
		return
	}
	var cfg store.ExtractionConfig
	if err := decodeJSON(r, &cfg); err != nil {
		writeError(w, apperr.Validation("decode body: %v", err))
		return
	}
	if cfg.RowAnchor == "" || cfg.ValueAnchor == "" {
		writeError(w, apperr.Validation("row_anchor and value_anchor are required"))
		return
	}
	mappings, err := s.pipeline.ScanColumns(r.Context(), uploadID, cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mappings)
}

// handleExtract implements POST /uploads/{id}/extract.
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request, uploadID string) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	if _, ok := s.getUploadOr404(w, r, uploadID); !ok {
		return
	}
	var cfg store.ExtractionConfig
	if err := decodeJSON(r, &cfg); err != nil {
		writeError(w, apperr.Validation("decode body: %v", err))
		return
	}
	result, err := s.pipeline.RunExtraction(r.Context(), uploadID, cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleExtractCSV implements POST /uploads/{id}/extract/csv.
func (s *Server) handleExtractCSV(w http.ResponseWriter, r *http.Request, uploadID string) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	if _, ok := s.getUploadOr404(w, r, uploadID); !ok {
		return
	}
	var cfg store.ExtractionConfig
	if err := decodeJSON(r, &cfg); err != nil {
		writeError(w, apperr.Validation("decode body: %v", err))
		return
	}
	result, err := s.pipeline.RunExtraction(r.Context(), uploadID, cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	csvBytes, err := extract.ToCSV(result)
	if err != nil {
		writeError(w, apperr.Internal(err, "render csv"))
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(csvBytes)
}
