package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/afya-pulse/triage-api/internal/domain/report"
)

// queueOrder mirrors report.TriageCategory.Rank so the SQL ordering and
// the in-memory ordering can never disagree.
const queueOrder = `CASE triage_category
	WHEN 'RED' THEN 0
	WHEN 'YELLOW' THEN 1
	WHEN 'GREEN' THEN 2
	ELSE 3 END, created_at DESC`

// visibleScope is the single ownership predicate: a viewer sees their own
// unresolved reports plus every unresolved RED, which overrides
// ownership partitioning.
func visibleScope(viewerID uuid.UUID) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("is_resolved = ?", false).
			Where("doctor_id = ? OR triage_category = ?", viewerID, report.CategoryRed)
	}
}

type ReportStore struct {
	db *gorm.DB
}

func NewReportStore(db *gorm.DB) *ReportStore {
	return &ReportStore{db: db}
}

func (s *ReportStore) Create(ctx context.Context, r *report.HealthReport) error {
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		// The partial unique index on (patient_phone) WHERE NOT is_resolved
		// closes the lookup-then-insert race: the loser of the race lands
		// here and retries as a follow-up update.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return report.ErrDuplicateActiveReport
		}
		return err
	}
	return nil
}

func (s *ReportStore) GetByID(ctx context.Context, id uuid.UUID) (*report.HealthReport, error) {
	var r report.HealthReport
	if err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, report.ErrReportNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (s *ReportStore) FindActiveByPhone(ctx context.Context, phone string) (*report.HealthReport, error) {
	var r report.HealthReport
	err := s.db.WithContext(ctx).
		Where("patient_phone = ? AND is_resolved = ?", phone, false).
		First(&r).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, report.ErrReportNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (s *ReportStore) AppendFollowUp(ctx context.Context, id uuid.UUID, followUp string, category report.TriageCategory, flagged bool, analysis *report.Analysis) (*report.HealthReport, error) {
	var updated *report.HealthReport
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var r report.HealthReport
		if err := tx.First(&r, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return report.ErrReportNotFound
			}
			return err
		}

		r.Symptoms = report.AppendFollowUp(r.Symptoms, followUp)
		r.TriageCategory = category
		r.FlaggedForReview = flagged
		r.AIAnalysis = analysis

		if err := tx.Model(&r).Updates(map[string]any{
			"symptoms":              r.Symptoms,
			"triage_category":       r.TriageCategory,
			"is_flagged_for_review": r.FlaggedForReview,
			"raw_ai_response":       r.AIAnalysis,
		}).Error; err != nil {
			return err
		}

		updated = &r
		return nil
	})
	return updated, err
}

func (s *ReportStore) ListActiveQueue(ctx context.Context, viewerID uuid.UUID) ([]*report.HealthReport, error) {
	var reports []*report.HealthReport
	err := s.db.WithContext(ctx).
		Scopes(visibleScope(viewerID)).
		Order(queueOrder).
		Find(&reports).Error
	return reports, err
}

func (s *ReportStore) Resolve(ctx context.Context, id uuid.UUID, outcome report.ResolveOutcome) (*report.HealthReport, error) {
	updates := map[string]any{"is_flagged_for_review": false}
	if outcome == report.OutcomeTreated {
		updates["is_resolved"] = true
	} else {
		updates["triage_category"] = report.TriageCategory(outcome)
	}

	var r report.HealthReport
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&report.HealthReport{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return report.ErrReportNotFound
		}
		return tx.First(&r, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *ReportStore) CountRecentRed(ctx context.Context, location string, since time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&report.HealthReport{}).
		Where("triage_category = ? AND location = ? AND created_at >= ?", report.CategoryRed, location, since).
		Count(&count).Error
	return count, err
}

func (s *ReportStore) CategoryCounts(ctx context.Context, viewerID uuid.UUID) ([]report.CategoryCount, error) {
	var counts []report.CategoryCount
	err := s.db.WithContext(ctx).
		Model(&report.HealthReport{}).
		Scopes(visibleScope(viewerID)).
		Select("triage_category, COUNT(*) as count").
		Group("triage_category").
		Find(&counts).Error
	return counts, err
}
