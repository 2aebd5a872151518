package httpapi

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/castlemilk/pricelake/backend/internal/apperr"
	"github.com/castlemilk/pricelake/backend/internal/store"
)

// handleSchemas implements GET/POST /schemas.
func (s *Server) handleSchemas(w http.ResponseWriter, r *http.Request) {
	ws := workspaceID(r)
	switch r.Method {
	case http.MethodGet:
		schemas, err := s.store.ListSchemas(r.Context(), ws)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, schemas)
	case http.MethodPost:
		var sc store.Schema
		if err := decodeJSON(r, &sc); err != nil {
			writeError(w, apperr.Validation("decode body: %v", err))
			return
		}
		if err := sc.Config.Validate(); err != nil {
			writeError(w, apperr.Validation("%v", err))
			return
		}
		sc.ID = uuid.NewString()
		sc.WorkspaceID = ws
		if err := s.store.CreateSchema(r.Context(), &sc); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sc)
	default:
		http.NotFound(w, r)
	}
}

// handleSchemaSubroutes dispatches "/schemas/{id}" and
// "/schemas/{id}/set-default".
func (s *Server) handleSchemaSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/schemas/")
	segments := strings.Split(strings.Trim(rest, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		http.NotFound(w, r)
		return
	}
	id := segments[0]
	ws := workspaceID(r)

	if len(segments) == 2 && segments[1] == "set-default" {
		if r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if err := s.store.SetDefaultSchema(r.Context(), ws, id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	switch r.Method {
	case http.MethodGet:
		sc, err := s.store.GetSchema(r.Context(), ws, id)
		if err != nil {
			if err == store.ErrNotFound {
				writeError(w, apperr.NotFound("schema %s", id))
				return
			}
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sc)
	case http.MethodDelete:
		if err := s.store.DeleteSchema(r.Context(), ws, id); err != nil {
			if err == store.ErrNotFound {
				writeError(w, apperr.NotFound("schema %s", id))
				return
			}
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}
