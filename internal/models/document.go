package models

import (
	"time"
)

// Status is the document lifecycle state. It only moves forward through the
// stage sequence, except for the reopen transition on a late-arriving page
// and the FAILED transition reachable from any non-terminal state.
type Status string

const (
	StatusAwaitingPages Status = "AWAITING_PAGES"
	StatusOCRRunning    Status = "OCR_RUNNING"
	StatusAggregating   Status = "AGGREGATING"
	StatusLLMRunning    Status = "LLM_RUNNING"
	StatusComplete      Status = "COMPLETE"
	StatusFailed        Status = "FAILED"
)

// Terminal reports whether the status ends a processing attempt.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// JobKind tags the per-page OCR job state.
type JobKind string

const (
	JobPending     JobKind = "pending"
	JobSynchronous JobKind = "synchronous"
	JobAsync       JobKind = "async"
	JobSucceeded   JobKind = "succeeded"
	JobFailed      JobKind = "failed"
)

// PageJob tracks text extraction for one page. Handle is set only while an
// asynchronous job is in flight; Error only when the job failed.
type PageJob struct {
	Kind   JobKind `json:"kind"`
	Handle string  `json:"handle,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// Resolved reports whether the page needs no further OCR work.
func (j PageJob) Resolved() bool {
	return j.Kind == JobSynchronous || j.Kind == JobSucceeded
}

// Document is the central record: one logical multi-page source document and
// its aggregate processing state. It is the single source of truth for
// resumability; every stage reads and conditionally updates it.
type Document struct {
	ID               string `json:"document_id"`
	OriginalFilename string `json:"original_filename"`
	BaseName         string `json:"base_name"`
	Status           Status `json:"status"`

	// Pages holds page object keys in arrival order, never duplicated.
	Pages         []string `json:"pages"`
	PagesReceived int      `json:"pages_received"`

	// Jobs maps a page key to its OCR job state.
	Jobs map[string]PageJob `json:"textract_jobs"`

	// OCRTextKeys is index-aligned with Pages; an empty entry means the
	// page's text has not been extracted yet.
	OCRTextKeys []string `json:"ocr_text_keys"`

	CombinedKey  string `json:"combined_key,omitempty"`
	ResultKey    string `json:"result_key,omitempty"`
	DocumentType string `json:"document_type,omitempty"`
	MovedFiles   []string `json:"moved_files,omitempty"`

	Retries   int    `json:"retries"`
	LastError string `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// WindowExpiresAt is the batching deadline; nil once the window closed.
	WindowExpiresAt *time.Time `json:"window_expires_at,omitempty"`

	PIIProcessingComplete bool   `json:"pii_processing_complete,omitempty"`
	PIIResultKey          string `json:"pii_result_key,omitempty"`
	PIIError              string `json:"pii_error,omitempty"`
}

// NewDocument creates a fresh record in the initial state.
func NewDocument(id, baseName, filename string, now time.Time) *Document {
	return &Document{
		ID:               id,
		OriginalFilename: filename,
		BaseName:         baseName,
		Status:           StatusAwaitingPages,
		Pages:            []string{},
		Jobs:             map[string]PageJob{},
		OCRTextKeys:      []string{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// AddPage appends a page key if absent and returns whether it was added.
// PagesReceived always equals len(Pages), so duplicate delivery of the same
// upload notification never inflates the count.
func (d *Document) AddPage(key string) bool {
	for _, p := range d.Pages {
		if p == key {
			return false
		}
	}
	d.Pages = append(d.Pages, key)
	d.PagesReceived = len(d.Pages)
	return true
}

// PageIndex returns the zero-based position of a page key.
func (d *Document) PageIndex(key string) (int, bool) {
	for i, p := range d.Pages {
		if p == key {
			return i, true
		}
	}
	return 0, false
}

// SetTextKey records the extracted-text key for the page at index i, growing
// the slice with empty placeholders so it stays aligned with Pages.
func (d *Document) SetTextKey(i int, key string) {
	for len(d.OCRTextKeys) <= i {
		d.OCRTextKeys = append(d.OCRTextKeys, "")
	}
	d.OCRTextKeys[i] = key
}

// OCRComplete reports whether every page has a resolved job and a stored
// text key.
func (d *Document) OCRComplete() bool {
	if len(d.Pages) == 0 || len(d.OCRTextKeys) != len(d.Pages) {
		return false
	}
	for i, p := range d.Pages {
		job, ok := d.Jobs[p]
		if !ok || !job.Resolved() {
			return false
		}
		if d.OCRTextKeys[i] == "" {
			return false
		}
	}
	return true
}
