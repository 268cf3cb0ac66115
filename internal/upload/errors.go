package upload

import "errors"

var (
	// ErrFileNotFound is returned for ids not in the batch.
	ErrFileNotFound = errors.New("file not found in batch")
	// ErrNotEligible is returned when a file cannot be extracted in its current state.
	ErrNotEligible = errors.New("file not eligible for extraction")
	// ErrExtractionDisabled is returned when the coordinator has extraction turned off.
	ErrExtractionDisabled = errors.New("extraction disabled")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("coordinator closed")
)
