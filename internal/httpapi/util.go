package httpapi

import (
	"encoding/json"
	"net/http"
)

// decodeJSON decodes the request body, rejecting unknown fields the same
// way store.ExtractionConfig expects to be a closed, versioned record.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
