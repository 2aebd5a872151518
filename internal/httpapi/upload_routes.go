package httpapi

import (
	"net/http"
	"strconv"
	"strings"
)

// handleUploadSubroutes dispatches every "/uploads/{id}/..." path. A plain
// ServeMux can't pattern-match path segments, so this mirrors the teacher's
// own preference for a single handler doing manual dispatch over a heavier
// router dependency — there is no router in the teacher's go.mod to reuse.
func (s *Server) handleUploadSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/uploads/")
	segments := strings.Split(strings.Trim(rest, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		http.NotFound(w, r)
		return
	}
	id := segments[0]
	tail := segments[1:]

	if len(tail) == 0 {
		s.handleUploadDetail(w, r, id)
		return
	}

	switch tail[0] {
	case "resume":
		s.handleResume(w, r, id)
	case "reparse":
		s.handleReparse(w, r, id)
	case "status":
		s.handleStatus(w, r, id)
	case "pages":
		s.handlePages(w, r, id)
	case "page-states":
		s.handlePageStates(w, r, id)
	case "page":
		s.handlePageSubroutes(w, r, id, tail[1:])
	case "scan-columns":
		s.handleScanColumns(w, r, id)
	case "extract":
		if len(tail) == 2 && tail[1] == "csv" {
			s.handleExtractCSV(w, r, id)
			return
		}
		s.handleExtract(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handlePageSubroutes(w http.ResponseWriter, r *http.Request, uploadID string, rest []string) {
	if len(rest) == 0 {
		http.NotFound(w, r)
		return
	}
	pageNum, err := strconv.Atoi(rest[0])
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if len(rest) == 1 {
		s.handlePage(w, r, uploadID, pageNum)
		return
	}
	switch rest[1] {
	case "tables":
		s.handlePageTables(w, r, uploadID, pageNum)
	case "validate-table":
		s.handleValidateTable(w, r, uploadID, pageNum)
	case "apply-correction":
		s.handleApplyCorrection(w, r, uploadID, pageNum)
	default:
		http.NotFound(w, r)
	}
}
