package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/afya-pulse/triage-api/internal/classifier"
	"github.com/afya-pulse/triage-api/internal/config"
	"github.com/afya-pulse/triage-api/internal/domain/report"
	"github.com/afya-pulse/triage-api/internal/realtime"
)

// Classifier is the AI gateway seam. Classify never fails; unavailability
// surfaces as a fallback outcome, not an error.
type Classifier interface {
	Classify(ctx context.Context, req classifier.Request) classifier.Outcome
}

// Broadcaster is the realtime fan-out seam. Both publishes are
// non-blocking fire-and-forget.
type Broadcaster interface {
	PublishQueueDelta(realtime.QueueDelta)
	PublishOutbreakAlert(realtime.OutbreakAlert)
}

// StaffDirectory supplies the dashboard's active-doctor count.
type StaffDirectory interface {
	CountActiveDoctors(ctx context.Context) (int64, error)
}

// SubmitResult is what the caller gets back from a completed submission.
type SubmitResult struct {
	Report *report.HealthReport
	// FollowUp is true when the submission merged into an existing
	// session instead of creating a new report.
	FollowUp bool
	// Fallback is true when the category came from the safety net rather
	// than the classifier.
	Fallback bool
	// OutbreakCount is non-zero when this submission tripped the cluster
	// heuristic for its location.
	OutbreakCount int64
}

// SystemStatus is the derived dashboard load label.
type SystemStatus string

const (
	StatusNormal   SystemStatus = "NORMAL"
	StatusModerate SystemStatus = "MODERATE"
	StatusHigh     SystemStatus = "HIGH"
	StatusCritical SystemStatus = "CRITICAL"
)

type Stats struct {
	Counts        []report.CategoryCount `json:"stats"`
	SystemStatus  SystemStatus           `json:"system_status"`
	ActiveDoctors int64                  `json:"active_doctors"`
}

type TriageService struct {
	repo       report.Repository
	staff      StaffDirectory
	classifier Classifier
	broadcast  Broadcaster
	cfg        config.TriageConfig
	log        *zap.Logger
	now        func() time.Time
}

func NewTriageService(
	repo report.Repository,
	staff StaffDirectory,
	cls Classifier,
	broadcast Broadcaster,
	cfg config.TriageConfig,
	log *zap.Logger,
) *TriageService {
	return &TriageService{
		repo:       repo,
		staff:      staff,
		classifier: cls,
		broadcast:  broadcast,
		cfg:        cfg,
		log:        log,
		now:        time.Now,
	}
}

// Submit runs one report through the pipeline: validate, session lookup,
// classify (with RED fallback), persist (insert or follow-up merge),
// outbreak check, broadcast. classifyTimeout bounds only the AI call;
// zero means the gateway's default.
func (s *TriageService) Submit(ctx context.Context, cmd *report.SubmitCommand, classifyTimeout time.Duration) (*SubmitResult, error) {
	ctx, span := otel.Tracer("triage").Start(ctx, "triage.submit")
	defer span.End()

	if err := validateSubmit(cmd); err != nil {
		return nil, err
	}

	// Absence of an active session is the normal "new report" branch.
	existing, err := s.repo.FindActiveByPhone(ctx, cmd.Phone)
	if err != nil && !errors.Is(err, report.ErrReportNotFound) {
		s.log.Error("session lookup failed", zap.Error(err))
		return nil, fmt.Errorf("looking up session: %w", err)
	}

	outcome := s.classify(ctx, cmd, classifyTimeout)
	flagged := outcome.Category.ReviewRequired()
	span.SetAttributes(
		attribute.String("triage.category", string(outcome.Category)),
		attribute.Bool("triage.fallback", outcome.Fallback),
	)

	var (
		persisted *report.HealthReport
		followUp  bool
	)
	if existing != nil {
		persisted, err = s.repo.AppendFollowUp(ctx, existing.ID, cmd.Symptoms, outcome.Category, flagged, outcome.Analysis)
		followUp = true
	} else {
		persisted, followUp, err = s.insertNew(ctx, cmd, outcome.Category, flagged, outcome.Analysis)
	}
	if err != nil {
		s.log.Error("failed to persist health report",
			zap.Error(err),
			zap.String("phone", cmd.Phone),
		)
		return nil, fmt.Errorf("persisting report: %w", err)
	}

	result := &SubmitResult{Report: persisted, FollowUp: followUp, Fallback: outcome.Fallback}

	if persisted.TriageCategory == report.CategoryRed && persisted.Location != "" {
		result.OutbreakCount = s.checkOutbreak(ctx, persisted.Location)
	}

	deltaType := realtime.QueueAdd
	if followUp {
		deltaType = realtime.QueueUpdate
	}
	s.broadcast.PublishQueueDelta(realtime.QueueDelta{
		Type:    deltaType,
		ID:      persisted.ID,
		Patient: persisted,
	})

	s.log.Info("triage report processed",
		zap.String("report_id", persisted.ID.String()),
		zap.String("category", string(persisted.TriageCategory)),
		zap.Bool("follow_up", followUp),
		zap.Bool("fallback", outcome.Fallback),
	)

	return result, nil
}

func (s *TriageService) classify(ctx context.Context, cmd *report.SubmitCommand, timeout time.Duration) classifier.Outcome {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return s.classifier.Classify(ctx, classifier.Request{
		Symptoms: cmd.Symptoms,
		Age:      cmd.Age,
		Gender:   cmd.Gender,
		History:  cmd.History,
	})
}

// insertNew creates a fresh session record. If a concurrent submission
// for the same phone won the insert race, the duplicate-key conflict is
// converted into a follow-up update.
func (s *TriageService) insertNew(ctx context.Context, cmd *report.SubmitCommand, category report.TriageCategory, flagged bool, analysis *report.Analysis) (*report.HealthReport, bool, error) {
	r := &report.HealthReport{
		Symptoms:         cmd.SourcePrefix + report.EnrichSymptoms(cmd.Symptoms, cmd.Age, cmd.Gender),
		TriageCategory:   category,
		Location:         cmd.Location,
		PatientPhone:     cmd.Phone,
		DoctorID:         cmd.DoctorID,
		FlaggedForReview: flagged,
		AIAnalysis:       analysis,
	}

	err := s.repo.Create(ctx, r)
	if err == nil {
		return r, false, nil
	}
	if !errors.Is(err, report.ErrDuplicateActiveReport) {
		return nil, false, err
	}

	s.log.Warn("insert raced an existing session, merging as follow-up", zap.String("phone", cmd.Phone))
	existing, lookupErr := s.repo.FindActiveByPhone(ctx, cmd.Phone)
	if lookupErr != nil {
		return nil, false, fmt.Errorf("re-resolving session after conflict: %w", lookupErr)
	}
	merged, mergeErr := s.repo.AppendFollowUp(ctx, existing.ID, cmd.Symptoms, category, flagged, analysis)
	return merged, true, mergeErr
}

func (s *TriageService) checkOutbreak(ctx context.Context, location string) int64 {
	since := s.now().Add(-s.cfg.OutbreakWindow)
	count, err := s.repo.CountRecentRed(ctx, location, since)
	if err != nil {
		// Surveillance is best-effort; never fail the submission over it.
		s.log.Error("outbreak check failed", zap.Error(err), zap.String("location", location))
		return 0
	}
	if count < int64(s.cfg.OutbreakThreshold) {
		return 0
	}

	s.broadcast.PublishOutbreakAlert(realtime.OutbreakAlert{Location: location, Count: count})
	s.log.Warn("outbreak alert raised",
		zap.String("location", location),
		zap.Int64("red_count", count),
	)
	return count
}

// Queue returns the unresolved reports visible to the viewer, ordered by
// severity then recency.
func (s *TriageService) Queue(ctx context.Context, viewerID uuid.UUID) ([]*report.HealthReport, error) {
	return s.repo.ListActiveQueue(ctx, viewerID)
}

// Resolve applies a doctor's decision and broadcasts the matching delta:
// REMOVE when treated, UPDATE when the category was corrected.
func (s *TriageService) Resolve(ctx context.Context, id uuid.UUID, outcome report.ResolveOutcome) (*report.HealthReport, error) {
	if !outcome.IsValid() {
		return nil, &ValidationError{Fields: []string{"doctor_final_category must be TREATED or a triage category"}}
	}

	updated, err := s.repo.Resolve(ctx, id, outcome)
	if err != nil {
		return nil, err
	}

	delta := realtime.QueueDelta{Type: realtime.QueueUpdate, ID: updated.ID, Patient: updated}
	if outcome == report.OutcomeTreated {
		delta = realtime.QueueDelta{Type: realtime.QueueRemove, ID: updated.ID}
	}
	s.broadcast.PublishQueueDelta(delta)

	s.log.Info("triage report resolved",
		zap.String("report_id", updated.ID.String()),
		zap.String("outcome", string(outcome)),
	)
	return updated, nil
}

// Stats aggregates the viewer's visible queue into per-category counts
// and the derived system load label.
func (s *TriageService) Stats(ctx context.Context, viewerID uuid.UUID) (*Stats, error) {
	counts, err := s.repo.CategoryCounts(ctx, viewerID)
	if err != nil {
		return nil, fmt.Errorf("aggregating categories: %w", err)
	}

	doctors, err := s.staff.CountActiveDoctors(ctx)
	if err != nil {
		s.log.Error("failed to count active doctors", zap.Error(err))
		doctors = 1
	}

	return &Stats{
		Counts:        counts,
		SystemStatus:  deriveStatus(counts),
		ActiveDoctors: doctors,
	}, nil
}

func deriveStatus(counts []report.CategoryCount) SystemStatus {
	var red, total int64
	for _, c := range counts {
		total += c.Count
		if c.TriageCategory == report.CategoryRed {
			red += c.Count
		}
	}

	switch {
	case red >= 3:
		return StatusCritical
	case total > 15 || red >= 1:
		return StatusHigh
	case total > 5:
		return StatusModerate
	}
	return StatusNormal
}

func validateSubmit(cmd *report.SubmitCommand) error {
	var fields []string
	if strings.TrimSpace(cmd.Symptoms) == "" {
		fields = append(fields, "symptoms is required")
	}
	if strings.TrimSpace(cmd.Phone) == "" {
		fields = append(fields, "phone is required")
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	cmd.Symptoms = strings.TrimSpace(cmd.Symptoms)
	cmd.Phone = strings.TrimSpace(cmd.Phone)
	return nil
}
