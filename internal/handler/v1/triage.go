package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/afya-pulse/triage-api/internal/domain"
	"github.com/afya-pulse/triage-api/internal/domain/report"
	"github.com/afya-pulse/triage-api/internal/service"
	"github.com/afya-pulse/triage-api/pkg/metrics"
)

type TriageHandler struct {
	triage  *service.TriageService
	metrics *metrics.Collector
	log     *zap.Logger
}

func NewTriageHandler(triage *service.TriageService, collector *metrics.Collector, log *zap.Logger) *TriageHandler {
	return &TriageHandler{triage: triage, metrics: collector, log: log}
}

type submitRequest struct {
	Symptoms string               `json:"symptoms"`
	Location string               `json:"location"`
	Age      string               `json:"age"`
	Gender   string               `json:"gender"`
	Phone    string               `json:"phone"`
	History  []report.HistoryTurn `json:"history"`
}

type submitResponse struct {
	Message    string               `json:"message"`
	Data       *report.HealthReport `json:"data"`
	AIAnalysis *report.Analysis     `json:"ai_analysis"`
}

// Submit handles POST /api/triage. Works both authenticated (kiosk
// staff, the report is owned by them) and anonymous (patient web form).
func (h *TriageHandler) Submit(c *gin.Context) {
	var req submitRequest
	if !bindJSON(c, &req) {
		return
	}

	cmd := &report.SubmitCommand{
		Symptoms: req.Symptoms,
		Location: req.Location,
		Age:      req.Age,
		Gender:   req.Gender,
		Phone:    req.Phone,
		History:  req.History,
	}
	if claims := claimsFrom(c); claims != nil {
		id := claims.UserID
		cmd.DoctorID = &id
	}

	result, err := h.triage.Submit(c.Request.Context(), cmd, 0)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	recordSubmit(h.metrics, result)

	message := "Triage Complete"
	if result.Report.FlaggedForReview {
		message = "Flagged for Review"
	}

	c.JSON(http.StatusCreated, submitResponse{
		Message:    message,
		Data:       result.Report,
		AIAnalysis: result.Report.AIAnalysis,
	})
}

// Queue handles GET /api/triage/queue: the viewer's own active reports
// plus every RED, most urgent first.
func (h *TriageHandler) Queue(c *gin.Context) {
	claims := claimsFrom(c)
	if claims == nil {
		respondError(c, http.StatusUnauthorized, "authentication required")
		return
	}

	reports, err := h.triage.Queue(c.Request.Context(), claims.UserID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, reports)
}

// Stats handles GET /api/triage/stats.
func (h *TriageHandler) Stats(c *gin.Context) {
	claims := claimsFrom(c)
	if claims == nil {
		respondError(c, http.StatusUnauthorized, "authentication required")
		return
	}

	stats, err := h.triage.Stats(c.Request.Context(), claims.UserID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

type resolveRequest struct {
	DoctorFinalCategory report.ResolveOutcome `json:"doctor_final_category"`
}

type resolveResponse struct {
	Message string               `json:"message"`
	Data    *report.HealthReport `json:"data"`
}

// Resolve handles PUT /api/triage/:id/resolve. TREATED closes the
// session; a category corrects the AI's call and clears the review flag.
func (h *TriageHandler) Resolve(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	var req resolveRequest
	if !bindJSON(c, &req) {
		return
	}

	updated, err := h.triage.Resolve(c.Request.Context(), id, req.DoctorFinalCategory)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, resolveResponse{Message: "Resolved", Data: updated})
}

func recordSubmit(m *metrics.Collector, result *service.SubmitResult) {
	m.ReportsTotal.WithLabelValues(string(result.Report.TriageCategory)).Inc()
	if result.Fallback {
		m.ClassifierFallbacks.Inc()
	}
	if result.FollowUp {
		m.FollowUpsTotal.Inc()
	}
	if result.OutbreakCount > 0 {
		m.OutbreakAlertsTotal.Inc()
	}
}

// claimsFrom returns the authenticated staff claims, or nil for
// anonymous requests.
func claimsFrom(c *gin.Context) *domain.Claims {
	v, ok := c.Get(contextClaimsKey)
	if !ok {
		return nil
	}
	claims, ok := v.(*domain.Claims)
	if !ok {
		return nil
	}
	return claims
}
