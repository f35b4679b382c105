package report

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// Create persists a new report. Returns ErrDuplicateActiveReport when
	// an unresolved report already exists for the same phone.
	Create(ctx context.Context, r *HealthReport) error

	// GetByID retrieves a report by primary key. Returns ErrReportNotFound
	// if not found.
	GetByID(ctx context.Context, id uuid.UUID) (*HealthReport, error)

	// FindActiveByPhone returns the unresolved report for a phone number,
	// or ErrReportNotFound when the phone has no open session.
	FindActiveByPhone(ctx context.Context, phone string) (*HealthReport, error)

	// AppendFollowUp merges a follow-up into an existing report: symptoms
	// text gains an appended annotation, category/flag/analysis are
	// replaced with the latest classification.
	AppendFollowUp(ctx context.Context, id uuid.UUID, followUp string, category TriageCategory, flagged bool, analysis *Analysis) (*HealthReport, error)

	// ListActiveQueue returns unresolved reports visible to the viewer:
	// owned by them, or RED (RED overrides ownership). Ordered by category
	// rank ascending, then created_at descending.
	ListActiveQueue(ctx context.Context, viewerID uuid.UUID) ([]*HealthReport, error)

	// Resolve applies a doctor's decision: TREATED closes the report,
	// a category corrects it in place. Both clear the review flag.
	Resolve(ctx context.Context, id uuid.UUID, outcome ResolveOutcome) (*HealthReport, error)

	// CountRecentRed counts RED reports for a location created at or after
	// the cutoff. Drives the outbreak heuristic.
	CountRecentRed(ctx context.Context, location string, since time.Time) (int64, error)

	// CategoryCounts aggregates unresolved reports visible to the viewer
	// per category.
	CategoryCounts(ctx context.Context, viewerID uuid.UUID) ([]CategoryCount, error)
}
