// Package httpapi implements the REST/SSE surface from spec §6: a plain
// net/http.ServeMux wired with the teacher's own mux+CORS+h2c skeleton
// (cmd/server/main.go), generalized from Connect-RPC handler registration
// to ordinary method+path routing since this surface is JSON/multipart/SSE,
// not an RPC service.
package httpapi

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/castlemilk/pricelake/backend/internal/apperr"
	"github.com/castlemilk/pricelake/backend/internal/auth"
	"github.com/castlemilk/pricelake/backend/internal/correction"
	"github.com/castlemilk/pricelake/backend/internal/ingest"
	"github.com/castlemilk/pricelake/backend/internal/objectstore"
	"github.com/castlemilk/pricelake/backend/internal/progress"
	"github.com/castlemilk/pricelake/backend/internal/store"
)

// Server holds every dependency the handlers need, mirroring the teacher's
// financeService struct shape (one struct, one method per RPC) adapted to
// plain handler methods.
type Server struct {
	store      store.Store
	objects    *objectstore.Store
	pipeline   *ingest.Pipeline
	correction *correction.Client
	progress   *progress.Manager
}

func New(st store.Store, objects *objectstore.Store, pipeline *ingest.Pipeline, correctionClient *correction.Client, progressMgr *progress.Manager) *Server {
	return &Server{store: st, objects: objects, pipeline: pipeline, correction: correctionClient, progress: progressMgr}
}

// Mux builds the full route table and wraps it with the auth middleware,
// the same layering order the teacher applies interceptors in.
func (s *Server) Mux(authMw *auth.Middleware) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mux.HandleFunc("/upload", s.handleUpload)
	mux.HandleFunc("/uploads", s.handleUploads)
	mux.HandleFunc("/uploads/", s.handleUploadSubroutes)

	mux.HandleFunc("/schemas", s.handleSchemas)
	mux.HandleFunc("/schemas/", s.handleSchemaSubroutes)

	mux.HandleFunc("/compare", s.handleCompare)
	mux.HandleFunc("/compare/csv", s.handleCompareCSV)

	return authMw.Wrap(mux)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("httpapi: write json response: %v", err)
	}
}

// writeError maps an apperr.Kind to the status codes spec §7 names.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindConflict:
		status = http.StatusConflict
	case apperr.KindUpstream:
		status = http.StatusBadGateway
	case apperr.KindInternal:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func workspaceID(r *http.Request) string {
	claims, _ := auth.ClaimsFrom(r.Context())
	return claims.WorkspaceID
}
