package projection

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/afya-pulse/triage-api/internal/domain/report"
	"github.com/afya-pulse/triage-api/internal/realtime"
)

var baseTime = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func entry(cat report.TriageCategory, age time.Duration) *report.HealthReport {
	return &report.HealthReport{
		ID:             uuid.New(),
		CreatedAt:      baseTime.Add(-age),
		Symptoms:       "test symptoms",
		TriageCategory: cat,
	}
}

func ids(rs []*report.HealthReport) []uuid.UUID {
	out := make([]uuid.UUID, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}

func TestSeedOrdersLikeStoreQueue(t *testing.T) {
	oldGreen := entry(report.CategoryGreen, 3*time.Hour)
	newYellow := entry(report.CategoryYellow, 10*time.Minute)
	oldYellow := entry(report.CategoryYellow, 2*time.Hour)
	red := entry(report.CategoryRed, time.Hour)

	q := NewQueue()
	q.Seed([]*report.HealthReport{oldGreen, newYellow, oldYellow, red})

	got := ids(q.Items())
	want := []uuid.UUID{red.ID, newYellow.ID, oldYellow.ID, oldGreen.ID}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestApplyAddInsertsInOrder(t *testing.T) {
	q := NewQueue()
	q.Seed([]*report.HealthReport{entry(report.CategoryGreen, time.Hour)})

	red := entry(report.CategoryRed, time.Minute)
	q.Apply(realtime.QueueDelta{Type: realtime.QueueAdd, ID: red.ID, Patient: red})

	items := q.Items()
	if len(items) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(items))
	}
	if items[0].ID != red.ID {
		t.Errorf("RED arrival should lead the queue, got %s first", items[0].TriageCategory)
	}
}

func TestApplyAddReplacesKnownID(t *testing.T) {
	r := entry(report.CategoryGreen, time.Hour)
	q := NewQueue()
	q.Seed([]*report.HealthReport{r})

	escalated := *r
	escalated.TriageCategory = report.CategoryRed
	q.Apply(realtime.QueueDelta{Type: realtime.QueueAdd, ID: r.ID, Patient: &escalated})

	items := q.Items()
	if len(items) != 1 {
		t.Fatalf("replay of a known id must not duplicate, got %d entries", len(items))
	}
	if items[0].TriageCategory != report.CategoryRed {
		t.Errorf("entry not replaced: category = %s", items[0].TriageCategory)
	}
}

func TestApplyUpdateUnknownIDTreatedAsAdd(t *testing.T) {
	q := NewQueue()

	// A follow-up delta can arrive before the snapshot fetch completes.
	r := entry(report.CategoryYellow, time.Minute)
	q.Apply(realtime.QueueDelta{Type: realtime.QueueUpdate, ID: r.ID, Patient: r})

	if q.Len() != 1 {
		t.Fatalf("UPDATE for unknown id should insert, queue has %d entries", q.Len())
	}
}

func TestApplyUpdateReplacesInPlace(t *testing.T) {
	r := entry(report.CategoryYellow, time.Hour)
	other := entry(report.CategoryGreen, 2*time.Hour)
	q := NewQueue()
	q.Seed([]*report.HealthReport{r, other})

	merged := *r
	merged.Symptoms = "test symptoms | Follow-up: worse at night"
	q.Apply(realtime.QueueDelta{Type: realtime.QueueUpdate, ID: r.ID, Patient: &merged})

	for _, it := range q.Items() {
		if it.ID == r.ID && it.Symptoms != merged.Symptoms {
			t.Errorf("follow-up text not applied: %q", it.Symptoms)
		}
	}
	if q.Len() != 2 {
		t.Errorf("expected 2 entries, got %d", q.Len())
	}
}

func TestApplyRemove(t *testing.T) {
	r := entry(report.CategoryRed, time.Hour)
	keep := entry(report.CategoryYellow, time.Hour)
	q := NewQueue()
	q.Seed([]*report.HealthReport{r, keep})

	q.Apply(realtime.QueueDelta{Type: realtime.QueueRemove, ID: r.ID})

	items := q.Items()
	if len(items) != 1 || items[0].ID != keep.ID {
		t.Fatalf("REMOVE left wrong entries: %v", ids(items))
	}

	// Removing an id that was never seen is a no-op.
	q.Apply(realtime.QueueDelta{Type: realtime.QueueRemove, ID: uuid.New()})
	if q.Len() != 1 {
		t.Errorf("phantom REMOVE changed the queue")
	}
}

func TestApplyDeltaWithoutPatientIgnored(t *testing.T) {
	q := NewQueue()
	q.Apply(realtime.QueueDelta{Type: realtime.QueueAdd, ID: uuid.New()})
	if q.Len() != 0 {
		t.Errorf("ADD with no payload should be dropped")
	}
}

func TestOutbreakAlertsAccumulateAndDismiss(t *testing.T) {
	q := NewQueue()
	q.ApplyAlert(realtime.OutbreakAlert{Location: "Kibera", Count: 3})
	q.ApplyAlert(realtime.OutbreakAlert{Location: "Mathare", Count: 4})
	q.ApplyAlert(realtime.OutbreakAlert{Location: "Kibera", Count: 5})

	if got := len(q.Alerts()); got != 3 {
		t.Fatalf("expected 3 alerts, got %d", got)
	}

	q.DismissAlert(1)
	alerts := q.Alerts()
	if len(alerts) != 2 {
		t.Fatalf("expected 2 alerts after dismiss, got %d", len(alerts))
	}
	if alerts[0].Location != "Kibera" || alerts[1].Count != 5 {
		t.Errorf("wrong alert dismissed: %+v", alerts)
	}

	// Out-of-range dismissals are ignored.
	q.DismissAlert(9)
	q.DismissAlert(-1)
	if len(q.Alerts()) != 2 {
		t.Errorf("out-of-range dismiss changed alerts")
	}
}

func TestSeedKeepsAlerts(t *testing.T) {
	q := NewQueue()
	q.ApplyAlert(realtime.OutbreakAlert{Location: "Kibera", Count: 3})
	q.Seed(nil)
	if len(q.Alerts()) != 1 {
		t.Errorf("reseed must not clear outstanding alerts")
	}
}
