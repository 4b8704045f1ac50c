package models

import "errors"

// ErrUnavailable is returned when a model backend cannot be reached or
// refuses the request. Job workers record it and keep going; it never
// aborts a batch.
var ErrUnavailable = errors.New("model backend unavailable")
