// Package facade wraps the external services the content pipeline
// depends on: the language model, web search, and document storage.
//
// Each facade maps transport-level failures onto a package sentinel so
// pipeline steps can classify errors without knowing which SDK produced
// them. Faults behind these facades fail the calling step; the run's
// checkpoint stays at that step, so a Resume retries exactly the failed
// interaction.
package facade

import "errors"

var (
	// ErrModel marks failures of the language model backend.
	ErrModel = errors.New("model request failed")

	// ErrSearch marks failures of the web search backend.
	ErrSearch = errors.New("search request failed")

	// ErrStorage marks failures of the document storage backend.
	ErrStorage = errors.New("storage operation failed")
)
