/*
handlers_test.go - HTTP tests for the PTO API

Tests for:
- Submission, approval and the balance update seen through the API
- Envelope codes and HTTP status mapping
- Caller identity on /api/me and on review endpoints
- Health and metrics endpoints
*/
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/pto-service/api"
	"github.com/warp/pto-service/metrics"
	"github.com/warp/pto-service/platform"
	"github.com/warp/pto-service/pto"
	"github.com/warp/pto-service/record"
	"github.com/warp/pto-service/record/kvstore"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	router  http.Handler
	metrics *metrics.Metrics
}

func newServer(t *testing.T, health func(context.Context) error) *testServer {
	t.Helper()
	m := metrics.New()
	records := record.NewStore(kvstore.NewMemory(), pto.Schemas(), record.WithObserver(m.StoreObserver()))
	dir := platform.NewStaticDirectory([]pto.Account{
		{AccountID: "acc-ann", DisplayName: "Ann Lee", Email: "ann@example.com", Active: true},
	})
	svc := pto.New(pto.Deps{Records: records, Directory: dir, Recorder: m})
	h := api.NewHandler(svc, health, nil)
	return &testServer{
		router:  api.NewRouter(h, api.RouterOptions{Metrics: m}),
		metrics: m,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers ...string) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

type userView struct {
	ID        string             `json:"user_id"`
	AccountID string             `json:"account_id"`
	Used      map[string]float64 `json:"used_pto_days_in_period"`
	Remaining map[string]float64 `json:"remaining_pto_days_in_period"`
}

type requestView struct {
	ID             string           `json:"pto_request_id"`
	Status         string           `json:"status"`
	TotalDays      float64          `json:"total_days"`
	TotalHours     float64          `json:"total_hours"`
	ReviewerID     string           `json:"reviewer_id"`
	DeclineReason  string           `json:"decline_reason"`
	DailySchedules []map[string]any `json:"daily_schedules"`
}

func (s *testServer) createUser(t *testing.T, id string) {
	t.Helper()
	code, env := s.do(t, http.MethodPost, "/api/users", map[string]any{
		"user_id":      id,
		"account_id":   id,
		"display_name": id,
		"email":        id + "@example.com",
	})
	require.Equal(t, http.StatusCreated, code, env.Message)
}

func (s *testServer) submit(t *testing.T, requester, manager string) requestView {
	t.Helper()
	code, env := s.do(t, http.MethodPost, "/api/requests", map[string]any{
		"requester_id": requester,
		"manager_id":   manager,
		"leave_type":   "vacation",
		"start_date":   "2026-03-02",
		"end_date":     "2026-03-03",
		"daily_schedules": []map[string]string{
			{"date": "2026-03-02", "schedule_type": "FULL_DAY"},
			{"date": "2026-03-03", "schedule_type": "FULL_DAY"},
		},
	})
	require.Equal(t, http.StatusCreated, code, env.Message)
	require.True(t, env.Success)
	return decodeData[requestView](t, env)
}

// =============================================================================
// REQUEST LIFECYCLE
// =============================================================================

func TestSubmitAndApprove(t *testing.T) {
	// GIVEN: A requester and a pending two-day request
	s := newServer(t, nil)
	s.createUser(t, "u-1")
	req := s.submit(t, "u-1", "mgr-1")
	assert.Equal(t, "pending", req.Status)
	assert.Equal(t, 2.0, req.TotalDays)
	assert.Equal(t, 16.0, req.TotalHours)
	assert.Len(t, req.DailySchedules, 2)

	// WHEN: The manager lists pending work and approves it
	code, env := s.do(t, http.MethodGet, "/api/managers/mgr-1/pending", nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, decodeData[[]requestView](t, env), 1)

	code, env = s.do(t, http.MethodPost, "/api/requests/"+req.ID+"/approve", api.ApproveBody{ApproverID: "mgr-1"})
	require.Equal(t, http.StatusOK, code, env.Message)

	// THEN: The request is approved and the balance reflects it
	approved := decodeData[requestView](t, env)
	assert.Equal(t, "approved", approved.Status)
	assert.Equal(t, "mgr-1", approved.ReviewerID)

	code, env = s.do(t, http.MethodGet, "/api/users/u-1", nil)
	require.Equal(t, http.StatusOK, code)
	u := decodeData[userView](t, env)
	assert.Equal(t, 2.0, u.Used["vacation"])
	assert.Equal(t, 18.0, u.Remaining["vacation"])

	// AND: A second approval is rejected as a conflict
	code, env = s.do(t, http.MethodPost, "/api/requests/"+req.ID+"/approve", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.False(t, env.Success)
	assert.Equal(t, pto.CodeInvalidTransition, env.Code)
}

func TestDeclineUsesCallerAsReviewer(t *testing.T) {
	s := newServer(t, nil)
	s.createUser(t, "u-1")
	req := s.submit(t, "u-1", "mgr-1")

	code, env := s.do(t, http.MethodPost, "/api/requests/"+req.ID+"/decline",
		map[string]string{"reason": "team offsite"},
		api.HeaderAccountID, "mgr-1",
	)
	require.Equal(t, http.StatusOK, code, env.Message)

	declined := decodeData[requestView](t, env)
	assert.Equal(t, "declined", declined.Status)
	assert.Equal(t, "mgr-1", declined.ReviewerID)
	assert.Equal(t, "team offsite", declined.DeclineReason)
}

func TestListAndDeleteRequests(t *testing.T) {
	s := newServer(t, nil)
	s.createUser(t, "u-1")
	req := s.submit(t, "u-1", "mgr-1")
	s.submit(t, "u-1", "mgr-2")

	_, env := s.do(t, http.MethodGet, "/api/requests?manager_id=mgr-2", nil)
	assert.Len(t, decodeData[[]requestView](t, env), 1)

	_, env = s.do(t, http.MethodGet, "/api/users/u-1/requests", nil)
	assert.Len(t, decodeData[[]requestView](t, env), 2)

	code, env := s.do(t, http.MethodDelete, "/api/requests/"+req.ID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, decodeData[api.DeleteDTO](t, env).Deleted)

	code, env = s.do(t, http.MethodGet, "/api/requests/"+req.ID, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, pto.CodeNotFound, env.Code)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestErrorStatusMapping(t *testing.T) {
	s := newServer(t, nil)
	s.createUser(t, "u-1")

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"unknown request", http.MethodGet, "/api/requests/nope", nil, http.StatusNotFound, pto.CodeNotFound},
		{"malformed body", http.MethodPost, "/api/requests", "{not json", http.StatusBadRequest, pto.CodeValidation},
		{"start after end", http.MethodPost, "/api/requests", map[string]any{
			"requester_id": "u-1", "leave_type": "vacation",
			"start_date": "2026-03-05", "end_date": "2026-03-02",
		}, http.StatusBadRequest, pto.CodeValidation},
		{"bad schedule range", http.MethodGet, "/api/schedules?start=2026-03-05&end=2026-03-01", nil, http.StatusBadRequest, pto.CodeValidation},
		{"unknown team", http.MethodDelete, "/api/teams/nope", nil, http.StatusNotFound, pto.CodeNotFound},
		{"duplicate user", http.MethodPost, "/api/users", map[string]any{
			"user_id": "u-1", "display_name": "Impostor",
		}, http.StatusConflict, pto.CodeConflict},
		{"no caller", http.MethodGet, "/api/me", nil, http.StatusUnauthorized, pto.CodeUnauthenticated},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, env := s.do(t, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.status, code)
			assert.False(t, env.Success)
			assert.Equal(t, tc.code, env.Code)
			assert.NotEmpty(t, env.Message)
		})
	}
}

// =============================================================================
// USERS AND TEAMS
// =============================================================================

func TestCurrentUser(t *testing.T) {
	s := newServer(t, nil)

	code, env := s.do(t, http.MethodGet, "/api/me", nil, api.HeaderAccountID, "acc-ann")
	require.Equal(t, http.StatusOK, code, env.Message)
	u := decodeData[userView](t, env)
	assert.Equal(t, "acc-ann", u.ID)
	assert.Equal(t, "acc-ann", u.AccountID)

	_, env = s.do(t, http.MethodGet, "/api/users", nil)
	assert.Len(t, decodeData[[]userView](t, env), 1)
}

func TestTeamMembership(t *testing.T) {
	s := newServer(t, nil)
	s.createUser(t, "u-1")
	s.createUser(t, "boss")

	code, env := s.do(t, http.MethodPost, "/api/teams", map[string]string{
		"name":       "Platform",
		"manager_id": "boss",
	})
	require.Equal(t, http.StatusCreated, code, env.Message)
	team := decodeData[pto.Team](t, env)

	code, env = s.do(t, http.MethodPost, "/api/teams/"+team.ID+"/members", api.MemberBody{UserID: "u-1", Role: pto.RoleMember})
	require.Equal(t, http.StatusOK, code, env.Message)

	_, env = s.do(t, http.MethodGet, "/api/teams/"+team.ID+"/members", nil)
	assert.Len(t, decodeData[[]userView](t, env), 1)

	_, env = s.do(t, http.MethodGet, "/api/users/u-1/managers", nil)
	managers := decodeData[[]pto.ManagerRef](t, env)
	require.Len(t, managers, 1)
	assert.Equal(t, "boss", managers[0].ID)

	code, _ = s.do(t, http.MethodDelete, "/api/teams/"+team.ID+"/members/u-1", nil)
	assert.Equal(t, http.StatusOK, code)
	_, env = s.do(t, http.MethodGet, "/api/teams/"+team.ID+"/members", nil)
	assert.Empty(t, decodeData[[]userView](t, env))
}

func TestIntegrationDisabled(t *testing.T) {
	s := newServer(t, nil)

	code, env := s.do(t, http.MethodGet, "/api/integration/tasks", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, decodeData[[]pto.Task](t, env))

	code, env = s.do(t, http.MethodPost, "/api/integration/deliver", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, api.DeliveryDTO{}, decodeData[api.DeliveryDTO](t, env))
}

// =============================================================================
// HEALTH AND METRICS
// =============================================================================

func TestHealth(t *testing.T) {
	code, env := newServer(t, func(context.Context) error { return nil }).do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", decodeData[api.HealthDTO](t, env).Status)

	code, env = newServer(t, func(context.Context) error { return errors.New("database is locked") }).
		do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.False(t, env.Success)
	assert.Equal(t, "degraded", decodeData[api.HealthDTO](t, env).Status)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newServer(t, nil)
	s.do(t, http.MethodGet, "/api/users", nil)

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `path_pattern="/api/users`)
	assert.Contains(t, rec.Body.String(), `pto_store_operations_total{collection="users"`)
}
