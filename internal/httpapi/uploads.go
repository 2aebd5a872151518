package httpapi

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/castlemilk/pricelake/backend/internal/apperr"
	"github.com/castlemilk/pricelake/backend/internal/ingest"
	"github.com/castlemilk/pricelake/backend/internal/objectstore"
	"github.com/castlemilk/pricelake/backend/internal/store"
)

const maxUploadBytes = 64 << 20 // 64 MiB, generous for a scanned pricelist PDF

// handleUpload implements POST /upload: multipart file + company/year/month,
// creates the Upload row in `queued` and dispatches the pipeline in the
// background so the caller gets `{id}` back immediately.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	ws := workspaceID(r)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, apperr.Validation("parse multipart form: %v", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, apperr.Validation("missing file field: %v", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		writeError(w, apperr.Internal(err, "read uploaded file"))
		return
	}
	if len(data) > maxUploadBytes {
		writeError(w, apperr.Validation("file exceeds %d bytes", maxUploadBytes))
		return
	}

	company := r.FormValue("company")
	if company == "" {
		writeError(w, apperr.Validation("company is required"))
		return
	}

	docType, fileExt, mime := classifyUpload(header.Filename)
	if docType == "" {
		writeError(w, apperr.Validation("unsupported file type: %s", header.Filename))
		return
	}

	id := uuid.NewString()
	if err := s.objects.Put(r.Context(), objectstore.BucketPDFs, objectstore.OriginalKey(id, fileExt), data, mime); err != nil {
		writeError(w, err)
		return
	}

	u := &store.Upload{
		ID:            id,
		WorkspaceID:   ws,
		Filename:      header.Filename,
		Company:       company,
		Year:          parseIntPtr(r.FormValue("year")),
		Month:         parseIntPtr(r.FormValue("month")),
		DocType:       docType,
		ContentSHA256: ingest.ContentHash(data),
		State:         store.IngestQueued,
		ExtractState:  store.ExtractNone,
	}
	if err := s.store.CreateUpload(r.Context(), u); err != nil {
		writeError(w, apperr.Internal(err, "create upload"))
		return
	}

	go s.pipeline.Start(context.Background(), ws, id)

	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func classifyUpload(filename string) (store.DocType, string, string) {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), ".")) {
	case "pdf":
		return store.DocTypePDF, "pdf", "application/pdf"
	case "png":
		return store.DocTypeImage, "png", "image/png"
	case "jpg", "jpeg":
		return store.DocTypeImage, "jpg", "image/jpeg"
	default:
		return "", "", ""
	}
}

func parseIntPtr(s string) *int {
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}

// handleUploads implements GET /uploads: list workspace uploads.
func (s *Server) handleUploads(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	uploads, err := s.store.ListUploads(r.Context(), workspaceID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, uploads)
}

type uploadPatch struct {
	Company string `json:"company,omitempty"`
	Year    *int   `json:"year,omitempty"`
	Month   *int   `json:"month,omitempty"`
}

func (s *Server) getUploadOr404(w http.ResponseWriter, r *http.Request, id string) (*store.Upload, bool) {
	u, err := s.store.GetUpload(r.Context(), workspaceID(r), id)
	if err != nil {
		if err == store.ErrNotFound {
			writeError(w, apperr.NotFound("upload %s", id))
		} else {
			writeError(w, err)
		}
		return nil, false
	}
	return u, true
}

func (s *Server) handleUploadDetail(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		u, ok := s.getUploadOr404(w, r, id)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, u)
	case http.MethodPut:
		u, ok := s.getUploadOr404(w, r, id)
		if !ok {
			return
		}
		var patch uploadPatch
		if err := decodeJSON(r, &patch); err != nil {
			writeError(w, apperr.Validation("decode body: %v", err))
			return
		}
		if patch.Company != "" {
			u.Company = patch.Company
		}
		u.Year = patch.Year
		u.Month = patch.Month
		if err := s.store.UpdateUpload(r.Context(), u); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, u)
	case http.MethodDelete:
		if _, ok := s.getUploadOr404(w, r, id); !ok {
			return
		}
		if err := s.objects.DeletePrefix(r.Context(), objectstore.BucketPDFs, id); err != nil {
			writeError(w, err)
			return
		}
		if err := s.objects.DeletePrefix(r.Context(), objectstore.BucketPages, id); err != nil {
			writeError(w, err)
			return
		}
		if err := s.objects.DeletePrefix(r.Context(), objectstore.BucketOutput, id); err != nil {
			writeError(w, err)
			return
		}
		if err := s.store.DeleteUpload(r.Context(), workspaceID(r), id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	ws := workspaceID(r)
	if err := s.pipeline.Resume(r.Context(), ws, id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReparse(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	ws := workspaceID(r)
	if err := s.pipeline.Reparse(r.Context(), ws, id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

