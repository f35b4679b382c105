package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/afya-pulse/triage-api/internal/domain/report"
)

// MemReportStore is an in-memory report.Repository with the same
// semantics as the gorm store, including the one-unresolved-report-per-
// phone constraint. It backs the pipeline tests and DB-less development.
type MemReportStore struct {
	mu      sync.Mutex
	reports map[uuid.UUID]*report.HealthReport
	now     func() time.Time
}

func NewMemReportStore() *MemReportStore {
	return &MemReportStore{
		reports: make(map[uuid.UUID]*report.HealthReport),
		now:     time.Now,
	}
}

// SetClock overrides the creation timestamp source for tests.
func (s *MemReportStore) SetClock(now func() time.Time) {
	s.now = now
}

func (s *MemReportStore) Create(ctx context.Context, r *report.HealthReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.PatientPhone != "" {
		for _, existing := range s.reports {
			if !existing.IsResolved && existing.PatientPhone == r.PatientPhone {
				return report.ErrDuplicateActiveReport
			}
		}
	}

	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	r.UpdatedAt = r.CreatedAt

	clone := *r
	s.reports[r.ID] = &clone
	return nil
}

// Len reports the number of stored records, resolved included.
func (s *MemReportStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reports)
}

func (s *MemReportStore) GetByID(ctx context.Context, id uuid.UUID) (*report.HealthReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reports[id]
	if !ok {
		return nil, report.ErrReportNotFound
	}
	clone := *r
	return &clone, nil
}

func (s *MemReportStore) FindActiveByPhone(ctx context.Context, phone string) (*report.HealthReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.reports {
		if !r.IsResolved && r.PatientPhone == phone {
			clone := *r
			return &clone, nil
		}
	}
	return nil, report.ErrReportNotFound
}

func (s *MemReportStore) AppendFollowUp(ctx context.Context, id uuid.UUID, followUp string, category report.TriageCategory, flagged bool, analysis *report.Analysis) (*report.HealthReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reports[id]
	if !ok {
		return nil, report.ErrReportNotFound
	}

	r.Symptoms = report.AppendFollowUp(r.Symptoms, followUp)
	r.TriageCategory = category
	r.FlaggedForReview = flagged
	r.AIAnalysis = analysis
	r.UpdatedAt = s.now()

	clone := *r
	return &clone, nil
}

func (s *MemReportStore) ListActiveQueue(ctx context.Context, viewerID uuid.UUID) ([]*report.HealthReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*report.HealthReport
	for _, r := range s.reports {
		if visibleTo(viewerID, r) {
			clone := *r
			out = append(out, &clone)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].TriageCategory.Rank() != out[j].TriageCategory.Rank() {
			return out[i].TriageCategory.Rank() < out[j].TriageCategory.Rank()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemReportStore) Resolve(ctx context.Context, id uuid.UUID, outcome report.ResolveOutcome) (*report.HealthReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reports[id]
	if !ok {
		return nil, report.ErrReportNotFound
	}

	if outcome == report.OutcomeTreated {
		r.IsResolved = true
	} else {
		r.TriageCategory = report.TriageCategory(outcome)
	}
	r.FlaggedForReview = false
	r.UpdatedAt = s.now()

	clone := *r
	return &clone, nil
}

func (s *MemReportStore) CountRecentRed(ctx context.Context, location string, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, r := range s.reports {
		if r.TriageCategory == report.CategoryRed && r.Location == location && !r.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *MemReportStore) CategoryCounts(ctx context.Context, viewerID uuid.UUID) ([]report.CategoryCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byCategory := make(map[report.TriageCategory]int64)
	for _, r := range s.reports {
		if visibleTo(viewerID, r) {
			byCategory[r.TriageCategory]++
		}
	}

	counts := make([]report.CategoryCount, 0, len(byCategory))
	for _, c := range []report.TriageCategory{report.CategoryRed, report.CategoryYellow, report.CategoryGreen} {
		if n, ok := byCategory[c]; ok {
			counts = append(counts, report.CategoryCount{TriageCategory: c, Count: n})
		}
	}
	return counts, nil
}

// visibleTo is the ownership predicate in Go form, mirrored by
// visibleScope on the SQL side.
func visibleTo(viewerID uuid.UUID, r *report.HealthReport) bool {
	if r.IsResolved {
		return false
	}
	if r.TriageCategory == report.CategoryRed {
		return true
	}
	return r.DoctorID != nil && *r.DoctorID == viewerID
}
