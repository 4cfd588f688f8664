package http

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/certguard/internal/application/dto"
	"github.com/turtacn/certguard/internal/config"
	"github.com/turtacn/certguard/internal/domain/models"
	"github.com/turtacn/certguard/internal/infrastructure/monitoring"
	"github.com/turtacn/certguard/internal/interfaces/http/handlers"
	"github.com/turtacn/certguard/internal/interfaces/http/middleware"
	"github.com/turtacn/certguard/pkg/constants"
	"github.com/turtacn/certguard/pkg/errors"
	"github.com/turtacn/certguard/pkg/logger"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type mockGuard struct{ mock.Mock }

func (m *mockGuard) Check(ctx context.Context, req *dto.AttemptRequest) (*dto.CheckResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.CheckResponse), args.Error(1)
}

func (m *mockGuard) Record(ctx context.Context, req *dto.AttemptRequest) (*dto.RecordResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.RecordResponse), args.Error(1)
}

func (m *mockGuard) Block(ctx context.Context, req *dto.BlockRequest) (*dto.BlockResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.BlockResponse), args.Error(1)
}

func (m *mockGuard) Unblock(ctx context.Context, req *dto.UnblockRequest) (*dto.UnblockResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.UnblockResponse), args.Error(1)
}

type mockStats struct{ mock.Mock }

func (m *mockStats) Report(ctx context.Context, q *dto.StatsQuery) (*dto.StatsResponse, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.StatsResponse), args.Error(1)
}

type mockMaintenance struct{ mock.Mock }

func (m *mockMaintenance) RunAll(ctx context.Context, now time.Time) (*dto.MaintenanceReport, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(*dto.MaintenanceReport), args.Error(1)
}

type fakeChecker struct{ err error }

func (f fakeChecker) HealthCheck(context.Context) (map[string]interface{}, error) {
	return map[string]interface{}{"open_connections": 1}, f.err
}

type fixture struct {
	router      *Router
	guard       *mockGuard
	stats       *mockStats
	maintenance *mockMaintenance
	health      map[string]handlers.HealthChecker
}

func newFixture(t *testing.T, secret string) *fixture {
	t.Helper()
	f := &fixture{
		guard:       new(mockGuard),
		stats:       new(mockStats),
		maintenance: new(mockMaintenance),
		health:      map[string]handlers.HealthChecker{"database": fakeChecker{}},
	}
	cfg := &config.Config{Admin: config.AdminConfig{JWTSecret: secret, Issuer: "certguard", EnablePprof: true}}
	log := logger.NewNoopLogger()
	registry := prometheus.NewRegistry()

	f.router = NewRouter(cfg, log, Handlers{
		Health: handlers.NewHealthHandler(f.health, log),
		Guard:  handlers.NewGuardHandler(f.guard, log),
		Admin:  handlers.NewAdminHandler(f.guard, f.stats, f.maintenance, log),
	}, Observability{Requests: monitoring.NewMetrics(registry), Gatherer: registry})
	return f
}

func (f *fixture) do(method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.Engine().ServeHTTP(w, req)
	return w
}

func adminToken(t *testing.T, expiresIn time.Duration) string {
	t.Helper()
	token, err := middleware.IssueAdminToken([]byte(testSecret), "certguard", "ops@example.com", jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
	})
	require.NoError(t, err)
	return token
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestGuardCheck_ReturnsDecision(t *testing.T) {
	f := newFixture(t, testSecret)
	decision := &models.Decision{Allowed: false, Code: constants.DecisionCooldown, WaitSeconds: 6, BlockingDimension: constants.DimensionIP}
	f.guard.On("Check", mock.Anything, mock.MatchedBy(func(r *dto.AttemptRequest) bool {
		return r.IP == "" && r.Email == "a@b.c" && r.Scope == "cert:issue"
	})).Return(&dto.CheckResponse{Decision: decision}, nil).Once()

	w := f.do(http.MethodPost, "/v1/guard/check", map[string]string{"email": "a@b.c", "scope": "cert:issue"}, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))

	body := decode(t, w)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, false, data["allowed"])
	assert.Equal(t, "cooldown", data["code"])
	assert.EqualValues(t, 6, data["wait_seconds"])
	f.guard.AssertExpectations(t)
}

func TestGuardRecord_DoesNotSubstituteCallerIP(t *testing.T) {
	f := newFixture(t, testSecret)
	f.guard.On("Record", mock.Anything, mock.MatchedBy(func(r *dto.AttemptRequest) bool {
		return r.IP == "" && r.TaxID == "123.456.789-09" && r.UserAgent == "form-backend/2.1"
	})).Return(&dto.RecordResponse{RecordResult: models.NewRecordResult()}, nil).Once()

	raw, _ := json.Marshal(map[string]string{"tax_id": "123.456.789-09"})
	req := httptest.NewRequest(http.MethodPost, "/v1/guard/record", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "form-backend/2.1")
	req.RemoteAddr = "10.1.2.3:41000"
	w := httptest.NewRecorder()
	f.router.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	f.guard.AssertExpectations(t)
}

func TestGuardCheck_KeepsSuppliedUserAgent(t *testing.T) {
	f := newFixture(t, testSecret)
	f.guard.On("Check", mock.Anything, mock.MatchedBy(func(r *dto.AttemptRequest) bool {
		return r.IP == "198.51.100.4" && r.UserAgent == "Mozilla/5.0"
	})).Return(&dto.CheckResponse{Decision: &models.Decision{Allowed: true, Code: constants.DecisionOK}}, nil).Once()

	raw, _ := json.Marshal(map[string]string{"ip": "198.51.100.4", "user_agent": "Mozilla/5.0"})
	req := httptest.NewRequest(http.MethodPost, "/v1/guard/check", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "form-backend/2.1")
	w := httptest.NewRecorder()
	f.router.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	f.guard.AssertExpectations(t)
}

func TestGuardCheck_Errors(t *testing.T) {
	f := newFixture(t, testSecret)

	req := httptest.NewRequest(http.MethodPost, "/v1/guard/check", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	f.router.Engine().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.guard.On("Record", mock.Anything, mock.Anything).Return(nil, errors.ErrStoreUnavailable("failed to record attempt")).Once()
	w = f.do(http.MethodPost, "/v1/guard/record", map[string]string{"ip": "192.0.2.9"}, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	errBody := decode(t, w)["error"].(map[string]interface{})
	assert.Equal(t, "store_unavailable", errBody["code"])
}

func TestAdminRoutes_RequireAdminToken(t *testing.T) {
	f := newFixture(t, testSecret)

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/v1/admin/stats", nil, "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/v1/admin/stats", nil, adminToken(t, -time.Minute)).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/v1/admin/stats", nil, "garbage").Code)

	wrongRole := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.AdminClaims{
		Role: "viewer",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "certguard",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := wrongRole.SignedString([]byte(testSecret))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/v1/admin/stats", nil, signed).Code)

	otherKey, err := middleware.IssueAdminToken([]byte("other"), "certguard", "ops", jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/v1/admin/stats", nil, otherKey).Code)
}

func TestAdminStats(t *testing.T) {
	f := newFixture(t, testSecret)
	from := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(48 * time.Hour)
	f.stats.On("Report", mock.Anything, mock.MatchedBy(func(q *dto.StatsQuery) bool {
		return q.From.Equal(from) && q.To.Equal(to) && q.Top == 5
	})).Return(&dto.StatsResponse{StatsReport: &models.StatsReport{From: from, To: to}}, nil).Once()

	w := f.do(http.MethodGet, "/v1/admin/stats?from=2024-06-01T00:00:00Z&to=2024-06-03T00:00:00Z&top=5", nil, adminToken(t, time.Hour))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	f.stats.AssertExpectations(t)

	w = f.do(http.MethodGet, "/v1/admin/stats?from=yesterday", nil, adminToken(t, time.Hour))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminUnblockAndBlock(t *testing.T) {
	f := newFixture(t, testSecret)
	f.guard.On("Unblock", mock.MatchedBy(func(ctx context.Context) bool {
		return ctx.Value(constants.ContextKeyAdminSubject) == "ops@example.com"
	}), &dto.UnblockRequest{Dimension: "tax_id", Identifier: "12345678909", Scope: "cert:issue"}).
		Return(&dto.UnblockResponse{Dimension: "tax_id", Identifier: "12345678909", Scope: "cert:issue", Cleared: true}, nil).Once()

	w := f.do(http.MethodDelete, "/v1/admin/blocks/tax_id/12345678909?scope=cert:issue", nil, adminToken(t, time.Hour))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decode(t, w)["data"].(map[string]interface{})["cleared"])

	f.guard.On("Block", mock.Anything, mock.MatchedBy(func(r *dto.BlockRequest) bool {
		return r.Dimension == "ip" && r.DurationSeconds == 600
	})).Return(&dto.BlockResponse{BlockState: &models.BlockState{Dimension: constants.DimensionIP, Times: 1}}, nil).Once()
	w = f.do(http.MethodPost, "/v1/admin/blocks", map[string]interface{}{"dimension": "ip", "identifier": "192.0.2.1", "duration_seconds": 600}, adminToken(t, time.Hour))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	f.guard.AssertExpectations(t)
}

func TestAdminMaintenance(t *testing.T) {
	f := newFixture(t, testSecret)
	f.maintenance.On("RunAll", mock.Anything, mock.Anything).Return(&dto.MaintenanceReport{CountersPurged: 4}, nil).Once()
	w := f.do(http.MethodPost, "/v1/admin/maintenance/run", nil, adminToken(t, time.Hour))
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 4, decode(t, w)["data"].(map[string]interface{})["counters_purged"])

	f.maintenance.On("RunAll", mock.Anything, mock.Anything).Return(&dto.MaintenanceReport{LogsExpired: 1}, stderrors.New("trim failed")).Once()
	w = f.do(http.MethodPost, "/v1/admin/maintenance/run", nil, adminToken(t, time.Hour))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["data"].(map[string]interface{})["logs_expired"])
}

func TestAdminDisabledWithoutSecret(t *testing.T) {
	f := newFixture(t, "")
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/v1/admin/stats", nil, "").Code)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, testSecret)

	w := f.do(http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])

	f.health["redis"] = fakeChecker{err: stderrors.New("connection refused")}
	w = f.do(http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = f.do(http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "certguard_http_requests_total")
}

func TestRequestIDIsPropagated(t *testing.T) {
	f := newFixture(t, testSecret)
	const id = "0b4f9a0e-2a1c-4a59-9d37-0f6c4f3d2e11"
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set(middleware.RequestIDHeader, id)
	w := httptest.NewRecorder()
	f.router.Engine().ServeHTTP(w, req)
	assert.Equal(t, id, w.Header().Get(middleware.RequestIDHeader))
}
