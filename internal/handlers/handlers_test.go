package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yieldledger/backend/internal/audit"
	"github.com/yieldledger/backend/internal/catalog"
	"github.com/yieldledger/backend/internal/database"
	"github.com/yieldledger/backend/internal/ledger"
	mW "github.com/yieldledger/backend/internal/middleware"
	"github.com/yieldledger/backend/internal/models"
	"github.com/yieldledger/backend/internal/services"
)

const (
	jwtSecret = "handler-test-secret"
	cronKey   = "cron-secret"
)

type testServer struct {
	handler http.Handler
	store   *database.MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := database.NewMemoryStore()
	return buildTestServer(t, store, store, 0)
}

// buildTestServer wires every service over backing, which may wrap store.
func buildTestServer(t *testing.T, store *database.MemoryStore, backing ledger.Store, cronTimeout time.Duration) *testServer {
	t.Helper()
	log, _ := test.NewNullLogger()
	l := ledger.New(backing, 5, 0, log)
	auditLog := audit.NewLogger(log)
	policy := services.NewAllowListPolicy([]string{"admin-1"}, nil)

	cat, err := catalog.New(
		[]models.InvestmentPackage{
			{ID: "starter", Name: "Starter", Price: decimal.NewFromInt(1000), DailyReturn: decimal.NewFromInt(50), DurationDays: 30},
		},
		[]models.ContributorTier{
			{ID: "level-1", Level: "Level 1", Deposit: decimal.NewFromInt(39000), MonthlyIncome: decimal.NewFromInt(4500)},
		},
		nil,
	)
	require.NoError(t, err)

	accounts := services.NewAccountService(l, policy, auditLog, log)
	referrals := services.NewReferralService(l, decimal.RequireFromString("0.05"), nil, auditLog, log)
	purchases := services.NewPurchaseService(l, cat, referrals, auditLog, log)
	funding := services.NewFundingService(l, nil, false, false, auditLog, log)
	contributor := services.NewContributorService(l, cat, policy, nil, false, 2, auditLog, log)
	approvals := services.NewApprovalService(l, policy, auditLog, log)
	investments := services.NewInvestmentAdminService(l, policy, auditLog, log)
	sync := services.NewStatusSync(l, log)
	accrual := services.NewAccrualEngine(l, nil, time.UTC, time.Minute, auditLog, log)
	maturity := services.NewMaturitySweep(l, log)

	router := NewRouter(Routes{
		Accounts:    NewAccountHandler(accounts, l, log),
		Catalog:     NewCatalogHandler(cat),
		Funding:     NewFundingHandler(funding, purchases, contributor, log),
		Admin:       NewAdminHandler(approvals, contributor, investments, accounts, sync, log),
		Cron:        NewCronHandler(accrual, maturity, log),
		Auth:        mW.NewAuthenticator(jwtSecret, log).Middleware,
		Policy:      policy,
		RateLimiter: mW.NewRateLimiter(100, 100, log),
		CronKey:     cronKey,
		CronTimeout: cronTimeout,
	})

	return &testServer{handler: router, store: store}
}

func bearer(t *testing.T, userID string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":        userID,
		"email":          userID + "@example.com",
		"email_verified": true,
		"exp":            time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return "Bearer " + token
}

func (s *testServer) do(t *testing.T, method, path, userID, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", bearer(t, userID))
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w, out
}

func (s *testServer) open(t *testing.T, userID string) {
	t.Helper()
	w, _ := s.do(t, http.MethodPost, "/api/v1/accounts", userID, `{"displayName":"`+userID+`"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

// fund runs a deposit through submission and admin approval.
func (s *testServer) fund(t *testing.T, userID, amount string) {
	t.Helper()
	w, dep := s.do(t, http.MethodPost, "/api/v1/deposits", userID, `{"amount":"`+amount+`","proof":"tx-hash"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w, _ = s.do(t, http.MethodPost, "/api/v1/admin/deposits/"+dep["id"].(string)+"/approve", "admin-1", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestHealthAndAuth(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])

	w, _ = s.do(t, http.MethodGet, "/api/v1/balance", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, body = s.do(t, http.MethodGet, "/api/v1/catalog/packages", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["packages"], 1)
}

func TestAccountEndpoints(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodPost, "/api/v1/accounts", "alice", `{"displayName":"Alice"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "0", body["balance"].(map[string]any)["available"])

	w, _ = s.do(t, http.MethodPost, "/api/v1/accounts", "alice", `{"displayName":"Alice"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/v1/accounts", "bob", `{"displayName":"Bob","referrerId":"nobody"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body = s.do(t, http.MethodGet, "/api/v1/accounts/me", "alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", body["user"].(map[string]any)["id"])
}

func TestRequestBodyRules(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"displayName":`},
		{"unknown field", `{"displayName":"A","role":"admin"}`},
		{"two objects", `{"displayName":"A"}{"displayName":"B"}`},
		{"validation", `{"displayName":""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := s.do(t, http.MethodPost, "/api/v1/accounts", "carol", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestDepositApprovalFlow(t *testing.T) {
	s := newTestServer(t)
	s.open(t, "alice")

	w, dep := s.do(t, http.MethodPost, "/api/v1/deposits", "alice", `{"amount":"500","proof":"tx-1"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "pending", dep["status"])
	approvePath := "/api/v1/admin/deposits/" + dep["id"].(string) + "/approve"

	w, _ = s.do(t, http.MethodPost, approvePath, "alice", "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body := s.do(t, http.MethodPost, approvePath, "admin-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "approved", body["status"])

	w, _ = s.do(t, http.MethodPost, approvePath, "admin-1", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w, body = s.do(t, http.MethodGet, "/api/v1/balance", "alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "500", body["available"])
	assert.Equal(t, "500", body["rechargeTotal"])

	w, body = s.do(t, http.MethodGet, "/api/v1/deposits", "alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["deposits"], 1)

	w, _ = s.do(t, http.MethodPost, "/api/v1/deposits", "alice", `{"amount":"-5","proof":"tx-2"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/v1/admin/deposits/missing/approve", "admin-1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWithdrawalAndPurchase(t *testing.T) {
	s := newTestServer(t)
	s.open(t, "alice")
	s.fund(t, "alice", "1500")

	w, _ := s.do(t, http.MethodPost, "/api/v1/withdrawals", "alice", `{"amount":"2000","destination":{"bank":"x"}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/v1/investments", "alice", `{"packageId":"platinum"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, inv := s.do(t, http.MethodPost, "/api/v1/investments", "alice", `{"packageId":"starter"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "active", inv["status"])
	assert.True(t, s.store.User("alice").HasActiveInvestment)
	assert.True(t, s.store.Balance("alice").Available.Equal(decimal.NewFromInt(500)))

	w, wd := s.do(t, http.MethodPost, "/api/v1/withdrawals", "alice", `{"amount":"400","destination":{"bank":"x"}}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/v1/admin/withdrawals/"+wd["id"].(string)+"/approve", "admin-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, s.store.Balance("alice").Available.Equal(decimal.NewFromInt(100)))
	assert.True(t, s.store.Balance("alice").WithdrawalTotal.Equal(decimal.NewFromInt(400)))
}

func TestContributorRequiresReferrals(t *testing.T) {
	s := newTestServer(t)
	s.open(t, "alice")

	w, body := s.do(t, http.MethodGet, "/api/v1/contributor/eligibility", "alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["eligible"])

	w, _ = s.do(t, http.MethodPost, "/api/v1/contributor/applications", "alice", `{"tierId":"level-1"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.True(t, s.store.Balance("alice").Available.IsZero())
}

func TestAdminUserAndInvestmentRoutes(t *testing.T) {
	s := newTestServer(t)
	s.open(t, "alice")
	s.fund(t, "alice", "1000")

	w, inv := s.do(t, http.MethodPost, "/api/v1/investments", "alice", `{"packageId":"starter"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	invPath := "/api/v1/admin/investments/" + inv["id"].(string)

	w, _ = s.do(t, http.MethodPut, invPath+"/status", "admin-1", `{"status":"paused"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body := s.do(t, http.MethodPut, invPath+"/status", "admin-1", `{"status":"completed"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "completed", body["status"])
	assert.False(t, s.store.User("alice").HasActiveInvestment)

	w, body = s.do(t, http.MethodPost, "/api/v1/admin/users/alice/sync", "admin-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["hasActiveInvestment"])

	w, _ = s.do(t, http.MethodDelete, invPath, "admin-1", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w, _ = s.do(t, http.MethodPut, "/api/v1/admin/users/alice/disabled", "admin-1", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = s.do(t, http.MethodPut, "/api/v1/admin/users/alice/disabled", "admin-1", `{"disabled":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["disabled"])

	w, _ = s.do(t, http.MethodPost, "/api/v1/deposits", "alice", `{"amount":"10","proof":"tx-9"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCronEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.open(t, "alice")
	s.fund(t, "alice", "1000")
	w, _ := s.do(t, http.MethodPost, "/api/v1/investments", "alice", `{"packageId":"starter"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	cron := func(path string, key string) (*httptest.ResponseRecorder, map[string]any) {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		if key != "" {
			req.Header.Set(mW.CronKeyHeader, key)
		}
		w := httptest.NewRecorder()
		s.handler.ServeHTTP(w, req)
		var out map[string]any
		_ = json.Unmarshal(w.Body.Bytes(), &out)
		return w, out
	}

	w, _ = cron("/api/v1/cron/daily-accrual", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = cron("/api/v1/cron/daily-accrual", "wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = cron("/api/v1/cron/daily-accrual?date=tomorrow", cronKey)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body := cron("/api/v1/cron/daily-accrual?date=2026-04-10", cronKey)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2026-04-10", body["runKey"])
	assert.Equal(t, float64(1), body["usersCredited"])
	assert.True(t, s.store.Balance("alice").Available.Equal(decimal.NewFromInt(50)))

	w, body = cron("/api/v1/cron/daily-accrual?date=2026-04-10", cronKey)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["usersSkipped"])
	assert.True(t, s.store.Balance("alice").Available.Equal(decimal.NewFromInt(50)))

	for _, future := range []string{"2099-01-01", "2099-01-02"} {
		w, _ = cron("/api/v1/cron/daily-accrual?date="+future, cronKey)
		assert.Equal(t, http.StatusBadRequest, w.Code, future)
	}
	assert.True(t, s.store.Balance("alice").Available.Equal(decimal.NewFromInt(50)))

	w, body = cron("/api/v1/cron/maturity", cronKey)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), body["completed"])
}

// deadlineStore records how much time each unit of work had left.
type deadlineStore struct {
	*database.MemoryStore
	mu        sync.Mutex
	remaining []time.Duration
}

func (s *deadlineStore) WithTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	if deadline, ok := ctx.Deadline(); ok {
		s.mu.Lock()
		s.remaining = append(s.remaining, time.Until(deadline))
		s.mu.Unlock()
	}
	return s.MemoryStore.WithTx(ctx, fn)
}

func (s *deadlineStore) reset() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.remaining
	s.remaining = nil
	return out
}

func TestCronRoutesUseTheirOwnTimeout(t *testing.T) {
	mem := database.NewMemoryStore()
	store := &deadlineStore{MemoryStore: mem}
	s := buildTestServer(t, mem, store, 10*time.Minute)

	s.open(t, "alice")
	apiDeadlines := store.reset()
	require.NotEmpty(t, apiDeadlines)
	for _, d := range apiDeadlines {
		assert.LessOrEqual(t, d, time.Minute)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cron/maturity", nil)
	req.Header.Set(mW.CronKeyHeader, cronKey)
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	cronDeadlines := store.reset()
	require.NotEmpty(t, cronDeadlines)
	for _, d := range cronDeadlines {
		assert.Greater(t, d, 9*time.Minute)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ledger.ErrInsufficientFunds, http.StatusUnprocessableEntity},
		{ledger.ErrNotFound, http.StatusNotFound},
		{ledger.ErrInvalidStateTransition, http.StatusConflict},
		{ledger.ErrUnauthorized, http.StatusForbidden},
		{ledger.ErrTransientConflict, http.StatusServiceUnavailable},
		{ledger.ErrInvalidAmount, http.StatusBadRequest},
		{ledger.ErrAccountDisabled, http.StatusForbidden},
		{ledger.ErrNotEligible, http.StatusUnprocessableEntity},
		{services.ErrAccrualInProgress, http.StatusConflict},
		{services.ErrFutureRunDate, http.StatusBadRequest},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
