package ai

import "errors"

var (
	// ErrUnavailable means the model could not be reached (or is not
	// configured) after the retry budget. Maps to 503 at the HTTP layer.
	ErrUnavailable = errors.New("ai: model unavailable")

	// ErrBadResponse means the model answered but its output failed schema
	// or semantic validation after a retry. Maps to 502 at the HTTP layer.
	ErrBadResponse = errors.New("ai: model response failed validation")
)
