package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/castlemilk/pricelake/backend/internal/apperr"
)

var errStreamingUnsupported = apperr.Internal(nil, "streaming unsupported by response writer")

// handleStatus implements GET /uploads/{id}/status: an SSE stream of
// progress.Record JSON, closing on the terminal state per spec §4.10.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, uploadID string) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	if _, ok := s.getUploadOr404(w, r, uploadID); !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, errStreamingUnsupported)
		return
	}

	ch, unsubscribe := s.progress.Subscribe(uploadID)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case rec, open := <-ch:
			if !open {
				return
			}
			payload, err := json.Marshal(rec)
			if err != nil {
				return
			}
			if _, err := w.Write([]byte("data: ")); err != nil {
				return
			}
			if _, err := w.Write(payload); err != nil {
				return
			}
			if _, err := w.Write([]byte("\n\n")); err != nil {
				return
			}
			flusher.Flush()
			if rec.Terminal() {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
