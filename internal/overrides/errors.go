package overrides

import "errors"

// ErrConfig is returned when the override document is malformed or names
// an unknown platform. Callers treat it as fatal at start-up and keep the
// previous document on reload.
var ErrConfig = errors.New("overrides: invalid override document")
