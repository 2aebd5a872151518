package store

import "errors"

var errEmptyAnchor = errors.New("row_anchor and value_anchor must both be non-empty")

// ErrNotFound is returned by Store lookups for a missing row. Callers in
// internal/httpapi translate it into apperr.NotFound.
var ErrNotFound = errors.New("not found")
