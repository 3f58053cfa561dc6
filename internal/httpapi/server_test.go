package httpapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viasnake/arbiter/internal/audit"
	"github.com/viasnake/arbiter/internal/authz"
	"github.com/viasnake/arbiter/internal/domain"
	"github.com/viasnake/arbiter/internal/gate"
	"github.com/viasnake/arbiter/internal/httpapi"
	"github.com/viasnake/arbiter/internal/pipeline"
	"github.com/viasnake/arbiter/internal/planner"
	"github.com/viasnake/arbiter/internal/store/memory"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	w, err := audit.NewWriter(filepath.Join(t.TempDir(), "audit.jsonl"), "", nil)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	p := &pipeline.Pipeline{
		Store: memory.New(),
		Audit: w,
		Authz: authz.NewBuiltin(),
		Config: pipeline.Config{
			Gate:    gate.Config{CooldownMS: 0, MaxQueue: 10, TenantRateLimitPerMin: 1000},
			Planner: pipeline.PlannerConfig{Config: planner.Config{ReplyPolicy: planner.PolicyAll, ReplyProbability: 1}, ApprovalTimeoutMS: 60000},
		},
		Now: func() time.Time { return time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC) },
	}
	return (&httpapi.Server{Pipeline: p}).Handler()
}

func postJSON(t *testing.T, h http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	h := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `"ok"`+"\n", rec.Body.String())
}

func TestPostEvents_ReturnsPlan(t *testing.T) {
	h := newTestServer(t)
	rec := postJSON(t, h, "/v1/events", domain.Event{
		V: 1, EventID: "evt-http-1", TenantID: "t1", Source: "chat", RoomID: "r1",
		Actor: domain.Actor{Type: domain.ActorHuman, ID: "u1"},
		Content: domain.Content{Type: "text", Text: "hi"}, TS: "2026-07-29T12:00:00Z",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var plan domain.ResponsePlan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plan))
	require.Len(t, plan.Actions, 1)
}

func TestPostEvents_ValidationErrorReturns400(t *testing.T) {
	h := newTestServer(t)
	rec := postJSON(t, h, "/v1/events", domain.Event{V: 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var envelope map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "validation_error", envelope["error"]["code"])
}

func TestPostEvents_ProviderNotAllowedReturns400(t *testing.T) {
	w, err := audit.NewWriter(filepath.Join(t.TempDir(), "audit.jsonl"), "", nil)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	p := &pipeline.Pipeline{
		Store: memory.New(),
		Audit: w,
		Authz: authz.NewBuiltin(),
		Config: pipeline.Config{
			Gate:    gate.Config{CooldownMS: 0, MaxQueue: 10, TenantRateLimitPerMin: 1000},
			Planner: pipeline.PlannerConfig{Config: planner.Config{ReplyPolicy: planner.PolicyAll, ReplyProbability: 1}, ApprovalTimeoutMS: 60000},
			Policy:  pipeline.PolicyConfig{AllowedProviders: []string{"chat"}},
		},
		Now: func() time.Time { return time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC) },
	}
	h := (&httpapi.Server{Pipeline: p}).Handler()

	rec := postJSON(t, h, "/v1/events", domain.Event{
		V: 1, EventID: "evt-http-policy-1", TenantID: "t1", Source: "untrusted-bot", RoomID: "r1",
		Actor: domain.Actor{Type: domain.ActorHuman, ID: "u1"},
		Content: domain.Content{Type: "text", Text: "hi"}, TS: "2026-07-29T12:00:00Z",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var envelope map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "policy.provider_not_allowed", envelope["error"]["code"])
}

func TestPostActionResults_ReturnsNoContent(t *testing.T) {
	h := newTestServer(t)
	res := domain.ActionResult{V: 1, TenantID: "t1", PlanID: "plan_x", ActionID: "act_x", Status: domain.ActionSucceeded, TS: "2026-07-29T12:00:00Z"}
	rec := postJSON(t, h, "/v1/action-results", res)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestGetJobState_NotFoundReturns404(t *testing.T) {
	h := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/t1/job-1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPostJobEvents_InvalidTransitionReturns409(t *testing.T) {
	h := newTestServer(t)
	rec := postJSON(t, h, "/v1/job-events", domain.JobStatusEvent{
		V: 1, EventID: "je-1", TenantID: "t1", JobID: "job-1", Status: domain.JobCompleted, TS: "2026-07-29T12:00:00Z",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postJSON(t, h, "/v1/job-events", domain.JobStatusEvent{
		V: 1, EventID: "je-2", TenantID: "t1", JobID: "job-1", Status: domain.JobStarted, TS: "2026-07-29T12:00:01Z",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}
