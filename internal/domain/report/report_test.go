package report

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAnalysisRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		in   Analysis
	}{
		{
			name: "full",
			in: Analysis{
				Reasoning:          "Crushing chest pain in a 52-year-old male is an acute coronary syndrome red flag.",
				Advice:             "Seek immediate medical attention. Call 999 immediately.",
				PossibleConditions: []string{"Myocardial infarction", "Unstable angina"},
				FollowUpQuestions:  []string{"Does the pain radiate to your left arm?"},
				RawOutput:          "RISK_LEVEL: RED\nRATIONALE: ...",
			},
		},
		{
			name: "fallback shape",
			in: Analysis{
				Reasoning:          "AI service unavailable – defaulting to RED for patient safety",
				Advice:             "Seek immediate medical attention. Call 999 immediately.",
				PossibleConditions: []string{"Unknown – seek immediate evaluation"},
				FollowUpQuestions:  []string{},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := json.Marshal(tc.in)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			var out Analysis
			if err := json.Unmarshal(raw, &out); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if diff := cmp.Diff(tc.in, out); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReviewRequired(t *testing.T) {
	cases := []struct {
		category TriageCategory
		want     bool
	}{
		{CategoryRed, true},
		{CategoryYellow, true},
		{CategoryGreen, false},
	}
	for _, tc := range cases {
		if got := tc.category.ReviewRequired(); got != tc.want {
			t.Errorf("ReviewRequired(%s) = %v, want %v", tc.category, got, tc.want)
		}
	}
}

func TestCategoryRankOrdering(t *testing.T) {
	if !(CategoryRed.Rank() < CategoryYellow.Rank() && CategoryYellow.Rank() < CategoryGreen.Rank()) {
		t.Fatalf("rank ordering broken: RED=%d YELLOW=%d GREEN=%d",
			CategoryRed.Rank(), CategoryYellow.Rank(), CategoryGreen.Rank())
	}
}

func TestEnrichSymptoms(t *testing.T) {
	cases := []struct {
		name                  string
		symptoms, age, gender string
		want                  string
	}{
		{"full demographics", "fever and headache", "30", "Female", "[Age: 30, Sex: Female] fever and headache"},
		{"missing demographics", "cough", "", "", "[Age: ?, Sex: ?] cough"},
		{"trims whitespace", "  dizziness ", "52", "Male", "[Age: 52, Sex: Male] dizziness"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := EnrichSymptoms(tc.symptoms, tc.age, tc.gender); got != tc.want {
				t.Errorf("EnrichSymptoms = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestAppendFollowUp(t *testing.T) {
	got := AppendFollowUp("[Age: 30, Sex: Female] fever", "now vomiting")
	want := "[Age: 30, Sex: Female] fever | Follow-up: now vomiting"
	if got != want {
		t.Errorf("AppendFollowUp = %q, want %q", got, want)
	}
}

func TestResolveOutcomeIsValid(t *testing.T) {
	for _, ok := range []ResolveOutcome{OutcomeTreated, "RED", "YELLOW", "GREEN"} {
		if !ok.IsValid() {
			t.Errorf("IsValid(%s) = false, want true", ok)
		}
	}
	for _, bad := range []ResolveOutcome{"", "treated", "PURPLE"} {
		if bad.IsValid() {
			t.Errorf("IsValid(%s) = true, want false", bad)
		}
	}
}
