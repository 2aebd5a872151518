package httpapi

import (
	"net/http"

	"github.com/castlemilk/pricelake/backend/internal/apperr"
	"github.com/castlemilk/pricelake/backend/internal/compare"
	"github.com/castlemilk/pricelake/backend/internal/store"
)

type compareRequest struct {
	BaseUploadID   string                  `json:"base_upload_id"`
	TargetUploadID string                  `json:"target_upload_id"`
	Config         store.ExtractionConfig  `json:"config,omitempty"`
}

func (s *Server) runCompare(r *http.Request) ([]compare.Row, error) {
	var req compareRequest
	if err := decodeJSON(r, &req); err != nil {
		return nil, apperr.Validation("decode body: %v", err)
	}
	if req.BaseUploadID == "" || req.TargetUploadID == "" {
		return nil, apperr.Validation("base_upload_id and target_upload_id are required")
	}
	if err := req.Config.Validate(); err != nil {
		return nil, apperr.Validation("%v", err)
	}

	base, err := s.pipeline.RunExtraction(r.Context(), req.BaseUploadID, req.Config)
	if err != nil {
		return nil, err
	}
	target, err := s.pipeline.RunExtraction(r.Context(), req.TargetUploadID, req.Config)
	if err != nil {
		return nil, err
	}

	return compare.Compare(base, target), nil
}

// handleCompare implements POST /compare.
func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	rows, err := s.runCompare(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// handleCompareCSV implements POST /compare/csv.
func (s *Server) handleCompareCSV(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	rows, err := s.runCompare(r)
	if err != nil {
		writeError(w, err)
		return
	}
	csvBytes, err := compare.ToCSV(rows)
	if err != nil {
		writeError(w, apperr.Internal(err, "render csv"))
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(csvBytes)
}
