package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TriageCategory is the severity label assigned to a health report.
// RED is the most urgent and is globally visible to all doctors.
type TriageCategory string

const (
	CategoryRed    TriageCategory = "RED"
	CategoryYellow TriageCategory = "YELLOW"
	CategoryGreen  TriageCategory = "GREEN"
)

func (c TriageCategory) IsValid() bool {
	switch c {
	case CategoryRed, CategoryYellow, CategoryGreen:
		return true
	}
	return false
}

// Rank orders categories for queue sorting: RED < YELLOW < GREEN.
func (c TriageCategory) Rank() int {
	switch c {
	case CategoryRed:
		return 0
	case CategoryYellow:
		return 1
	case CategoryGreen:
		return 2
	}
	return 3
}

// ReviewRequired pins the review policy: everything except GREEN is
// flagged for a doctor. This is deliberately the conservative variant -
// an unknown or degraded category must land in front of a human.
func (c TriageCategory) ReviewRequired() bool {
	return c != CategoryGreen
}

// Analysis is the structured outcome extracted from the AI classifier's
// text output. It is persisted verbatim on the report and must survive a
// serialize/deserialize round trip field for field.
type Analysis struct {
	Reasoning          string   `json:"reasoning"`
	Advice             string   `json:"advice"`
	PossibleConditions []string `json:"possible_conditions"`
	FollowUpQuestions  []string `json:"follow_up_questions"`
	RawOutput          string   `json:"raw_output,omitempty"`
}

// HealthReport is one patient session: the initial symptom report plus
// any follow-ups merged in while unresolved. Reports are never deleted,
// only marked resolved.
type HealthReport struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"report_id"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Symptoms       string         `gorm:"column:symptoms;type:text;not null" json:"symptoms"`
	TriageCategory TriageCategory `gorm:"column:triage_category;type:varchar(10);not null;index" json:"triage_category"`
	Location       string         `gorm:"column:location;type:varchar(100);index" json:"location"`
	PatientPhone   string         `gorm:"column:patient_phone;type:varchar(30);index" json:"patient_phone"`

	// DoctorID is the staff member who filed or owns the report. Nil for
	// self-service USSD intakes until a doctor claims the case.
	DoctorID *uuid.UUID `gorm:"column:doctor_id;type:uuid;index" json:"doctor_id"`

	FlaggedForReview bool `gorm:"column:is_flagged_for_review;default:false" json:"is_flagged_for_review"`
	IsResolved       bool `gorm:"column:is_resolved;default:false;index" json:"is_resolved"`

	AIAnalysis *Analysis `gorm:"column:raw_ai_response;serializer:json" json:"ai_analysis"`
}

func (HealthReport) TableName() string {
	return "clinical.health_reports"
}

// EnrichSymptoms prefixes the free-text symptoms with the demographics
// the classifier saw, so the queue card carries them without extra
// columns. Unknown values render as "?".
func EnrichSymptoms(symptoms, age, gender string) string {
	if age == "" {
		age = "?"
	}
	if gender == "" {
		gender = "?"
	}
	return fmt.Sprintf("[Age: %s, Sex: %s] %s", age, gender, strings.TrimSpace(symptoms))
}

// AppendFollowUp merges a follow-up submission into the existing symptom
// text. Appending rather than replacing keeps the session history
// readable on the dashboard.
func AppendFollowUp(existing, followUp string) string {
	return existing + " | Follow-up: " + strings.TrimSpace(followUp)
}

// HistoryTurn is one prior exchange in a multi-turn refinement
// conversation, forwarded to the classifier as-is.
type HistoryTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SubmitCommand carries one intake submission through the pipeline.
type SubmitCommand struct {
	Symptoms string
	Location string
	Age      string
	Gender   string
	Phone    string
	History  []HistoryTurn
	DoctorID *uuid.UUID

	// SourcePrefix tags non-web intakes, e.g. "[USSD-EN] ".
	SourcePrefix string
}

// ResolveOutcome is either the TREATED marker or a corrected category.
type ResolveOutcome string

const OutcomeTreated ResolveOutcome = "TREATED"

func (o ResolveOutcome) IsValid() bool {
	return o == OutcomeTreated || TriageCategory(o).IsValid()
}

// CategoryCount is one row of the stats aggregation.
type CategoryCount struct {
	TriageCategory TriageCategory `json:"triage_category"`
	Count          int64          `json:"count"`
}
