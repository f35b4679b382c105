// Package projection maintains a dashboard-side view of the active
// triage queue: seeded from a snapshot fetch, kept current by applying
// broadcast deltas. Delivery upstream is at-most-once, so the view is
// only eventually right - callers reseed from a fresh snapshot on
// reconnect.
package projection

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/afya-pulse/triage-api/internal/domain/report"
	"github.com/afya-pulse/triage-api/internal/realtime"
)

type Queue struct {
	mu      sync.Mutex
	entries []*report.HealthReport
	alerts  []realtime.OutbreakAlert
}

func NewQueue() *Queue {
	return &Queue{}
}

// Seed replaces the whole view with a snapshot. Accumulated outbreak
// alerts survive a reseed; they are dismissed explicitly.
func (q *Queue) Seed(snapshot []*report.HealthReport) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries = make([]*report.HealthReport, len(snapshot))
	copy(q.entries, snapshot)
	q.resort()
}

// Apply folds one broadcast delta into the view. An UPDATE for an id the
// snapshot never contained is treated as an ADD: at startup a delta can
// outrun the snapshot fetch.
func (q *Queue) Apply(delta realtime.QueueDelta) {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch delta.Type {
	case realtime.QueueAdd, realtime.QueueUpdate:
		if delta.Patient == nil {
			return
		}
		if i := q.indexOf(delta.ID); i >= 0 {
			q.entries[i] = delta.Patient
		} else {
			q.entries = append(q.entries, delta.Patient)
		}
		q.resort()
	case realtime.QueueRemove:
		if i := q.indexOf(delta.ID); i >= 0 {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
		}
	}
}

// ApplyAlert accumulates an outbreak alert.
func (q *Queue) ApplyAlert(alert realtime.OutbreakAlert) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.alerts = append(q.alerts, alert)
}

// DismissAlert drops the alert at the given index. Out-of-range indexes
// are ignored.
func (q *Queue) DismissAlert(i int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if i < 0 || i >= len(q.alerts) {
		return
	}
	q.alerts = append(q.alerts[:i], q.alerts[i+1:]...)
}

// Items returns the current view, most urgent first.
func (q *Queue) Items() []*report.HealthReport {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*report.HealthReport, len(q.entries))
	copy(out, q.entries)
	return out
}

// Alerts returns the outstanding outbreak alerts in arrival order.
func (q *Queue) Alerts() []realtime.OutbreakAlert {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]realtime.OutbreakAlert, len(q.alerts))
	copy(out, q.alerts)
	return out
}

// Len reports the number of queue entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *Queue) indexOf(id uuid.UUID) int {
	for i, r := range q.entries {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// resort enforces the store's queue ordering: category rank ascending,
// then creation time descending. Callers hold q.mu.
func (q *Queue) resort() {
	sort.SliceStable(q.entries, func(i, j int) bool {
		ri, rj := q.entries[i], q.entries[j]
		if ri.TriageCategory.Rank() != rj.TriageCategory.Rank() {
			return ri.TriageCategory.Rank() < rj.TriageCategory.Rank()
		}
		return ri.CreatedAt.After(rj.CreatedAt)
	})
}
