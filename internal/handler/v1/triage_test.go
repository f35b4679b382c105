package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/afya-pulse/triage-api/internal/classifier"
	"github.com/afya-pulse/triage-api/internal/config"
	"github.com/afya-pulse/triage-api/internal/domain"
	"github.com/afya-pulse/triage-api/internal/domain/report"
	"github.com/afya-pulse/triage-api/internal/notify"
	"github.com/afya-pulse/triage-api/internal/realtime"
	"github.com/afya-pulse/triage-api/internal/service"
	"github.com/afya-pulse/triage-api/internal/store"
	"github.com/afya-pulse/triage-api/pkg/auth"
	"github.com/afya-pulse/triage-api/pkg/metrics"
)

// One collector for the whole test binary: promauto registers globally
// and a second registration panics.
var testCollector = metrics.NewCollector("handler_test")

type fakeClassifier struct {
	outcome classifier.Outcome
}

func (f *fakeClassifier) Classify(ctx context.Context, req classifier.Request) classifier.Outcome {
	return f.outcome
}

type fakeBroadcaster struct {
	deltas []realtime.QueueDelta
	alerts []realtime.OutbreakAlert
}

func (f *fakeBroadcaster) PublishQueueDelta(d realtime.QueueDelta) {
	f.deltas = append(f.deltas, d)
}

func (f *fakeBroadcaster) PublishOutbreakAlert(a realtime.OutbreakAlert) {
	f.alerts = append(f.alerts, a)
}

type fakeStaff struct{ doctors int64 }

func (f *fakeStaff) CountActiveDoctors(ctx context.Context) (int64, error) { return f.doctors, nil }

type fakeUserRepo struct {
	users map[string]*domain.User
}

func (f *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	u, ok := f.users[email]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, store.ErrUserNotFound
}

func (f *fakeUserRepo) TouchLogin(ctx context.Context, id uuid.UUID) error { return nil }

type recordingSender struct {
	mu   sync.Mutex
	sent []string
}

func (r *recordingSender) Send(ctx context.Context, phone, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, phone+": "+message)
	return nil
}

type routerFixture struct {
	router    *gin.Engine
	repo      *store.MemReportStore
	broadcast *fakeBroadcaster
	sms       *recordingSender
	jwt       *auth.JWTManager
}

func newFixture(t *testing.T, outcome classifier.Outcome) *routerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		App: config.AppConfig{Name: "pulse-api", Environment: "test"},
		JWT: config.JWTConfig{
			Secret:          "test-secret-test-secret-test-secret",
			AccessTokenTTL:  time.Minute,
			RefreshTokenTTL: time.Hour,
			Issuer:          "pulse-test",
		},
		CORS: config.CORSConfig{
			AllowedOrigins: []string{"http://localhost:5173"},
			AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
		},
		Classifier: config.ClassifierConfig{USSDTimeout: 7 * time.Second, Timeout: 15 * time.Second},
		Triage:     config.TriageConfig{OutbreakWindow: time.Hour, OutbreakThreshold: 3},
	}

	log := zap.NewNop()
	repo := store.NewMemReportStore()
	bc := &fakeBroadcaster{}
	sms := &recordingSender{}
	jwtManager := auth.NewJWTManager(cfg.JWT)

	triageSvc := service.NewTriageService(repo, &fakeStaff{doctors: 2}, &fakeClassifier{outcome: outcome}, bc, cfg.Triage, log)

	pwHash, _ := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	userRepo := &fakeUserRepo{users: map[string]*domain.User{
		"doc@clinic.example": {
			ID:           uuid.New(),
			Email:        "doc@clinic.example",
			PasswordHash: string(pwHash),
			Role:         domain.RoleDoctor,
			IsActive:     true,
		},
	}}
	authSvc := service.NewAuthService(userRepo, jwtManager, log)

	router := NewRouter(RouterDeps{
		Config:     cfg,
		Triage:     NewTriageHandler(triageSvc, testCollector, log),
		User:       NewUserHandler(authSvc, log),
		USSD:       NewUSSDHandler(triageSvc, sms, cfg.Classifier, testCollector, log),
		Hub:        realtime.NewHub(log),
		JWTManager: jwtManager,
		Metrics:    testCollector,
		Logger:     log,
	})

	return &routerFixture{router: router, repo: repo, broadcast: bc, sms: sms, jwt: jwtManager}
}

func (f *routerFixture) token(t *testing.T) string {
	t.Helper()
	pair, err := f.jwt.GenerateTokenPair(&domain.Claims{
		UserID: uuid.New(),
		Email:  "doc@clinic.example",
		Role:   domain.RoleDoctor,
	})
	if err != nil {
		t.Fatalf("GenerateTokenPair: %v", err)
	}
	return pair.AccessToken
}

func postJSON(router *gin.Engine, path, token string, body any) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSubmitChestPainReturnsCreatedRedFlagged(t *testing.T) {
	fx := newFixture(t, classifier.Outcome{
		Category: report.CategoryRed,
		Analysis: &report.Analysis{Reasoning: "Cardiac red flags.", Advice: "Go to hospital now."},
	})

	w := postJSON(fx.router, "/api/triage", "", map[string]any{
		"symptoms": "crushing chest pain radiating to left arm",
		"age":      "54",
		"gender":   "Male",
		"phone":    "0712345678",
		"location": "Nairobi",
	})

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body: %s", w.Code, w.Body.String())
	}

	var resp submitResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Data.TriageCategory != report.CategoryRed {
		t.Errorf("category = %s, want RED", resp.Data.TriageCategory)
	}
	if !resp.Data.FlaggedForReview {
		t.Error("RED report must be flagged for review")
	}
	if resp.Message != "Flagged for Review" {
		t.Errorf("message = %q", resp.Message)
	}
	if resp.AIAnalysis == nil || resp.AIAnalysis.Advice != "Go to hospital now." {
		t.Errorf("ai_analysis missing or wrong: %+v", resp.AIAnalysis)
	}

	if len(fx.broadcast.deltas) != 1 || fx.broadcast.deltas[0].Type != realtime.QueueAdd {
		t.Fatalf("deltas = %+v, want single ADD", fx.broadcast.deltas)
	}
}

func TestSubmitMissingSymptomsReturns400(t *testing.T) {
	fx := newFixture(t, classifier.Outcome{Category: report.CategoryGreen, Analysis: &report.Analysis{}})

	w := postJSON(fx.router, "/api/triage", "", map[string]any{"phone": "0712000000"})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if fx.repo.Len() != 0 {
		t.Error("invalid submission must leave no record")
	}
}

func TestQueueRequiresAuth(t *testing.T) {
	fx := newFixture(t, classifier.Outcome{Category: report.CategoryGreen, Analysis: &report.Analysis{}})

	req := httptest.NewRequest(http.MethodGet, "/api/triage/queue", nil)
	w := httptest.NewRecorder()
	fx.router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestQueueReturnsVisibleReports(t *testing.T) {
	fx := newFixture(t, classifier.Outcome{
		Category: report.CategoryRed,
		Analysis: &report.Analysis{Advice: "Hospital now."},
	})

	if w := postJSON(fx.router, "/api/triage", "", map[string]any{
		"symptoms": "severe bleeding", "phone": "0712000001", "location": "Nakuru",
	}); w.Code != http.StatusCreated {
		t.Fatalf("seed submit: %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/triage/queue", nil)
	req.Header.Set("Authorization", "Bearer "+fx.token(t))
	w := httptest.NewRecorder()
	fx.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}

	var reports []*report.HealthReport
	if err := json.Unmarshal(w.Body.Bytes(), &reports); err != nil {
		t.Fatalf("decode queue: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("queue length = %d, want 1 (RED is globally visible)", len(reports))
	}
}

func TestResolveUnknownIDReturns404(t *testing.T) {
	fx := newFixture(t, classifier.Outcome{Category: report.CategoryGreen, Analysis: &report.Analysis{}})

	raw, _ := json.Marshal(resolveRequest{DoctorFinalCategory: report.OutcomeTreated})
	req := httptest.NewRequest(http.MethodPut, "/api/triage/"+uuid.NewString()+"/resolve", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+fx.token(t))
	w := httptest.NewRecorder()
	fx.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestResolveMalformedIDReturns400(t *testing.T) {
	fx := newFixture(t, classifier.Outcome{Category: report.CategoryGreen, Analysis: &report.Analysis{}})

	raw, _ := json.Marshal(resolveRequest{DoctorFinalCategory: report.OutcomeTreated})
	req := httptest.NewRequest(http.MethodPut, "/api/triage/not-a-uuid/resolve", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+fx.token(t))
	w := httptest.NewRecorder()
	fx.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestStatsShape(t *testing.T) {
	fx := newFixture(t, classifier.Outcome{
		Category: report.CategoryRed,
		Analysis: &report.Analysis{Advice: "Hospital now."},
	})

	for i := 0; i < 3; i++ {
		w := postJSON(fx.router, "/api/triage", "", map[string]any{
			"symptoms": "collapse", "phone": fmt.Sprintf("071200100%d", i),
		})
		if w.Code != http.StatusCreated {
			t.Fatalf("seed submit %d: %d", i, w.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/triage/stats", nil)
	req.Header.Set("Authorization", "Bearer "+fx.token(t))
	w := httptest.NewRecorder()
	fx.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}

	var stats struct {
		SystemStatus  string `json:"system_status"`
		ActiveDoctors int64  `json:"active_doctors"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.SystemStatus != "CRITICAL" {
		t.Errorf("system_status = %q, want CRITICAL with 3 REDs", stats.SystemStatus)
	}
	if stats.ActiveDoctors != 2 {
		t.Errorf("active_doctors = %d, want 2", stats.ActiveDoctors)
	}
}

func TestLogin(t *testing.T) {
	fx := newFixture(t, classifier.Outcome{Category: report.CategoryGreen, Analysis: &report.Analysis{}})

	w := postJSON(fx.router, "/api/users/login", "", map[string]string{
		"email": "doc@clinic.example", "password": "correct-horse",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}

	var pair domain.TokenPair
	if err := json.Unmarshal(w.Body.Bytes(), &pair); err != nil {
		t.Fatalf("decode token pair: %v", err)
	}
	if pair.AccessToken == "" || pair.TokenType != "Bearer" {
		t.Errorf("unexpected token pair: %+v", pair)
	}

	w = postJSON(fx.router, "/api/users/login", "", map[string]string{
		"email": "doc@clinic.example", "password": "wrong",
	})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong password: status = %d, want 401", w.Code)
	}
}

func postForm(router *gin.Engine, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestUSSDMenuWalk(t *testing.T) {
	fx := newFixture(t, classifier.Outcome{
		Category: report.CategoryRed,
		Analysis: &report.Analysis{Advice: "Hospital immediately."},
	})

	steps := []struct {
		text string
		want string
	}{
		{"", "CON Chagua Lugha / Select Language"},
		{"1", "CON Welcome to Afya-Pulse"},
		{"1*1", "CON Enter your County"},
		{"1*1*Nairobi", "CON Enter your Age"},
		{"1*1*Nairobi*45", "CON Select Gender"},
		{"1*1*Nairobi*45*1", "CON Describe your symptoms"},
	}

	for _, step := range steps {
		w := postForm(fx.router, "/api/ussd", url.Values{
			"sessionId":   {"sess-1"},
			"phoneNumber": {"+254712345678"},
			"text":        {step.text},
		})
		if w.Code != http.StatusOK {
			t.Fatalf("text=%q: status = %d", step.text, w.Code)
		}
		if !strings.HasPrefix(w.Body.String(), step.want) {
			t.Fatalf("text=%q: body = %q, want prefix %q", step.text, w.Body.String(), step.want)
		}
	}

	w := postForm(fx.router, "/api/ussd", url.Values{
		"sessionId":   {"sess-1"},
		"phoneNumber": {"+254712345678"},
		"text":        {"1*1*Nairobi*45*1*chest pain and sweating"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("final step: status = %d", w.Code)
	}
	if !strings.HasPrefix(w.Body.String(), "END CRITICAL") {
		t.Errorf("final body = %q, want END CRITICAL", w.Body.String())
	}

	if fx.repo.Len() != 1 {
		t.Fatalf("expected 1 persisted report, got %d", fx.repo.Len())
	}
	reports, _ := fx.repo.ListActiveQueue(context.Background(), uuid.Nil)
	if !strings.HasPrefix(reports[0].Symptoms, "[USSD-EN] ") {
		t.Errorf("symptoms not source-tagged: %q", reports[0].Symptoms)
	}
	if !strings.Contains(reports[0].Symptoms, "[Age: 45, Sex: Male]") {
		t.Errorf("symptoms not enriched: %q", reports[0].Symptoms)
	}
}

func TestUSSDEmergencyShortCircuits(t *testing.T) {
	fx := newFixture(t, classifier.Outcome{Category: report.CategoryGreen, Analysis: &report.Analysis{}})

	w := postForm(fx.router, "/api/ussd", url.Values{
		"sessionId":   {"sess-2"},
		"phoneNumber": {"+254712000000"},
		"text":        {"2*2"},
	})
	if !strings.HasPrefix(w.Body.String(), "END Huduma za Dharura") {
		t.Errorf("body = %q, want Swahili emergency END", w.Body.String())
	}
	if fx.repo.Len() != 0 {
		t.Error("emergency branch must not persist a report")
	}
}

var _ notify.Sender = (*recordingSender)(nil)
