package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/afya-pulse/triage-api/internal/config"
	"github.com/afya-pulse/triage-api/internal/domain/report"
)

// Request is the payload forwarded to the AI service. Demographics are
// optional; History carries prior conversation turns for multi-turn
// refinement.
type Request struct {
	Symptoms string               `json:"symptoms"`
	Age      string               `json:"age"`
	Gender   string               `json:"gender"`
	History  []report.HistoryTurn `json:"history"`
}

// Outcome always carries a usable category and analysis. Fallback marks
// outcomes produced by the safety net rather than the model.
type Outcome struct {
	Category report.TriageCategory
	Analysis *report.Analysis
	Fallback bool
}

type aiResponse struct {
	Output string `json:"output"`
}

// Gateway calls the external AI service over HTTP. Every failure mode -
// dial error, timeout, non-2xx, empty body, open breaker - collapses into
// the same RED fallback: a transport failure must never silently
// downgrade urgency.
type Gateway struct {
	cfg     config.ClassifierConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[string]
	log     *zap.Logger
}

func NewGateway(cfg config.ClassifierConfig, log *zap.Logger) *Gateway {
	maxFailures := cfg.BreakerFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	cooldown := cfg.BreakerCooldown
	if cooldown == 0 {
		cooldown = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:    "ai-classifier",
		Timeout: cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("classifier breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Gateway{
		cfg: cfg,
		// Per-call deadlines come from the caller's context; the client
		// timeout is a backstop for the slower REST path.
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		log:     log,
	}
}

// Classify sends the symptom payload and parses the response. It never
// returns an error: callers always receive a category to persist.
func (g *Gateway) Classify(ctx context.Context, req Request) Outcome {
	raw, err := g.breaker.Execute(func() (string, error) {
		return g.call(ctx, req)
	})
	if err != nil {
		g.log.Warn("classifier unavailable, applying RED fallback",
			zap.Error(err),
			zap.String("breaker_state", g.breaker.State().String()),
		)
		return FallbackOutcome()
	}

	category, analysis := Parse(raw)
	return Outcome{Category: category, Analysis: analysis}
}

func (g *Gateway) call(ctx context.Context, req Request) (string, error) {
	if req.Age == "" {
		req.Age = "Unknown"
	}
	if req.Gender == "" {
		req.Gender = "Unknown"
	}
	if req.History == nil {
		req.History = []report.HistoryTurn{}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encoding classifier request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building classifier request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Service-Key", g.cfg.ServiceKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("calling classifier: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("classifier returned status %d", resp.StatusCode)
	}

	var parsed aiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decoding classifier response: %w", err)
	}
	if parsed.Output == "" {
		return "", fmt.Errorf("classifier returned empty output")
	}

	return parsed.Output, nil
}

// FallbackOutcome is the mandated safety default applied whenever the
// classifier cannot be reached or parsed.
func FallbackOutcome() Outcome {
	return Outcome{
		Category: report.CategoryRed,
		Analysis: &report.Analysis{
			Reasoning:          "AI service unavailable – defaulting to RED for patient safety",
			Advice:             "Seek immediate medical attention. Call 999 immediately.",
			PossibleConditions: []string{"Unknown – seek immediate evaluation"},
			FollowUpQuestions:  []string{},
		},
		Fallback: true,
	}
}
