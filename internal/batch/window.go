// Package batch decides when a document has collected enough pages to start
// processing. Multi-page uploads arrive as a burst of separate events; a
// short window keeps the burst in one document without delaying singletons.
package batch

import (
	"time"

	"github.com/docstream/docproc/internal/models"
)

// Decision is the outcome of a batching check.
type Decision int

const (
	// DecisionNone means the document is not in a startable state.
	DecisionNone Decision = iota
	// DecisionStart means processing should begin with the current pages.
	DecisionStart
	// DecisionWait means the window is open; re-check at Deadline.
	DecisionWait
)

// Outcome couples a Decision with the wait deadline when relevant.
type Outcome struct {
	Decision Decision
	Deadline time.Time
}

// Manager applies the batching policy. It has no scheduler of its own: the
// invocation that opens a window performs a bounded wait and re-checks, and
// any later invocation observing an expired deadline closes the window.
type Manager struct {
	Window time.Duration
}

func NewManager(window time.Duration) *Manager {
	return &Manager{Window: window}
}

// OnPageAdded decides what to do after a page was appended. It may set or
// slide doc.WindowExpiresAt; the caller persists the record.
//
// The first page of a document starts immediately when its filename carried
// no page-number suffix (a singleton upload must not wait), and opens a
// window when it did (siblings are likely in flight). Later pages slide an
// open window and start immediately once it has lapsed or never existed.
func (m *Manager) OnPageAdded(doc *models.Document, explicitPage bool, now time.Time) Outcome {
	if doc.Status != models.StatusAwaitingPages {
		return Outcome{Decision: DecisionNone}
	}

	if doc.PagesReceived <= 1 {
		if !explicitPage {
			return Outcome{Decision: DecisionStart}
		}
		deadline := now.Add(m.Window)
		doc.WindowExpiresAt = &deadline
		return Outcome{Decision: DecisionWait, Deadline: deadline}
	}

	if doc.WindowExpiresAt == nil || !now.Before(*doc.WindowExpiresAt) {
		doc.WindowExpiresAt = nil
		return Outcome{Decision: DecisionStart}
	}

	deadline := now.Add(m.Window)
	doc.WindowExpiresAt = &deadline
	return Outcome{Decision: DecisionWait, Deadline: deadline}
}

// CheckExpiry is used after a bounded wait: it reports whether the window
// has lapsed and processing should start. A still-open (slid) window yields
// a new Wait outcome.
func (m *Manager) CheckExpiry(doc *models.Document, now time.Time) Outcome {
	if doc.Status != models.StatusAwaitingPages {
		return Outcome{Decision: DecisionNone}
	}
	if doc.WindowExpiresAt == nil {
		return Outcome{Decision: DecisionStart}
	}
	if now.Before(*doc.WindowExpiresAt) {
		return Outcome{Decision: DecisionWait, Deadline: *doc.WindowExpiresAt}
	}
	doc.WindowExpiresAt = nil
	return Outcome{Decision: DecisionStart}
}
