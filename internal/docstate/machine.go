// Package docstate owns the document lifecycle. Each stage invocation is
// reduced to a pure step: (current record, event) -> (mutated record,
// effects). Handlers run the step inside a conditional record update, so a
// concurrent transition surfaces as a conflict instead of a lost write.
package docstate

import (
	"fmt"

	"github.com/docstream/docproc/internal/models"
)

// Event is a lifecycle trigger.
type Event interface {
	isEvent()
}

// PageArrived records a page upload. Duplicate keys are absorbed.
type PageArrived struct {
	Key string
}

// StartProcessing closes the batching window and hands the page set to OCR.
type StartProcessing struct{}

// OCRCompleted fires when every page has extracted text.
type OCRCompleted struct{}

// AggregationDone fires when the combined text artifact is stored.
type AggregationDone struct {
	CombinedKey string
}

// AnalysisDone fires when classification/extraction succeeded.
type AnalysisDone struct {
	ResultKey    string
	DocumentType string
	MovedFiles   []string
}

// StageFailed marks an unrecoverable stage error.
type StageFailed struct {
	Reason string
}

func (PageArrived) isEvent()     {}
func (StartProcessing) isEvent() {}
func (OCRCompleted) isEvent()    {}
func (AggregationDone) isEvent() {}
func (AnalysisDone) isEvent()    {}
func (StageFailed) isEvent()     {}

// Effect is a side effect the caller must carry out after the record write
// commits.
type Effect int

const (
	// EffectRunOCR hands {document_id, pages} to the OCR stage.
	EffectRunOCR Effect = iota
	// EffectAggregate starts text aggregation.
	EffectAggregate
	// EffectAnalyze starts classification/extraction.
	EffectAnalyze
	// EffectReopened signals that a late page invalidated a previous run.
	EffectReopened
)

// InvalidTransitionError reports an event arriving in a state that cannot
// accept it, usually because a concurrent handler moved the document first.
type InvalidTransitionError struct {
	From  models.Status
	Event Event
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %T in state %s", e.Event, e.From)
}

// Step applies one event to the document and returns the effects to run.
// It mutates doc; callers persist it with a conditional update keyed on the
// previously observed status.
func Step(doc *models.Document, ev Event) ([]Effect, error) {
	switch e := ev.(type) {
	case PageArrived:
		return stepPageArrived(doc, e)

	case StartProcessing:
		if doc.Status != models.StatusAwaitingPages {
			return nil, &InvalidTransitionError{From: doc.Status, Event: ev}
		}
		doc.Status = models.StatusOCRRunning
		doc.WindowExpiresAt = nil
		return []Effect{EffectRunOCR}, nil

	case OCRCompleted:
		if doc.Status != models.StatusOCRRunning {
			return nil, &InvalidTransitionError{From: doc.Status, Event: ev}
		}
		if !doc.OCRComplete() {
			return nil, fmt.Errorf("ocr completion signaled for %s but pages are unresolved", doc.ID)
		}
		doc.Status = models.StatusAggregating
		return []Effect{EffectAggregate}, nil

	case AggregationDone:
		if doc.Status != models.StatusAggregating {
			return nil, &InvalidTransitionError{From: doc.Status, Event: ev}
		}
		doc.Status = models.StatusLLMRunning
		doc.CombinedKey = e.CombinedKey
		return []Effect{EffectAnalyze}, nil

	case AnalysisDone:
		if doc.Status != models.StatusLLMRunning {
			return nil, &InvalidTransitionError{From: doc.Status, Event: ev}
		}
		doc.Status = models.StatusComplete
		doc.ResultKey = e.ResultKey
		doc.DocumentType = e.DocumentType
		doc.MovedFiles = e.MovedFiles
		doc.LastError = ""
		return nil, nil

	case StageFailed:
		if doc.Status.Terminal() {
			return nil, &InvalidTransitionError{From: doc.Status, Event: ev}
		}
		doc.Status = models.StatusFailed
		doc.LastError = e.Reason
		if doc.LastError == "" {
			doc.LastError = "unknown error"
		}
		doc.Retries++
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown event %T", ev)
	}
}

func stepPageArrived(doc *models.Document, e PageArrived) ([]Effect, error) {
	added := doc.AddPage(e.Key)
	if !added {
		// Duplicate delivery of the same upload notification.
		return nil, nil
	}
	if len(doc.Pages) == 1 {
		doc.OriginalFilename = pathBase(e.Key)
	}

	// A late page invalidates a stale completion or an in-flight OCR run;
	// the document reopens and reprocesses with the full page set.
	switch doc.Status {
	case models.StatusComplete, models.StatusOCRRunning:
		doc.Status = models.StatusAwaitingPages
		return []Effect{EffectReopened}, nil
	}
	return nil, nil
}

func pathBase(key string) string {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '/' {
			return key[i+1:]
		}
	}
	return key
}
