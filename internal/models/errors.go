package models

import (
	"errors"
	"fmt"
)

var (
	// ErrDocumentNotFound indicates a coordination bug upstream: a stage was
	// invoked for a record that does not exist.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrConflict is returned by a conditional update whose expected status
	// no longer matches; the caller must re-read and decide again.
	ErrConflict = errors.New("conditional update conflict")

	// ErrUnsupportedExtension marks a page that is skipped, not fatal to the
	// document.
	ErrUnsupportedExtension = errors.New("unsupported file extension")

	// ErrInvalidJob marks an expired or unknown OCR job handle; the page is
	// resubmitted.
	ErrInvalidJob = errors.New("invalid ocr job handle")
)

// StageError is a fatal failure of one processing stage for one document.
// It sets the document FAILED with its message as last_error.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// OCRFailure builds a fatal OCR stage error.
func OCRFailure(err error) *StageError {
	return &StageError{Stage: "ocr", Err: err}
}

// ClassificationFailure builds a fatal classification stage error.
func ClassificationFailure(err error) *StageError {
	return &StageError{Stage: "llm", Err: err}
}
