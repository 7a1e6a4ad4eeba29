package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sora960/paragas-agrikonek-sub003/internal/platform/logger"
	"github.com/sora960/paragas-agrikonek-sub003/internal/repository"
	"github.com/sora960/paragas-agrikonek-sub003/internal/repository/memstore"
	"github.com/sora960/paragas-agrikonek-sub003/internal/service"
)

type staticRoles map[string]repository.Role

func (s staticRoles) GetUserRole(ctx context.Context, userID string) (repository.Role, error) {
	return s[userID], nil
}

func newTestServer(t *testing.T) (*httptest.Server, *memstore.Store) {
	t.Helper()

	store := memstore.New()
	log := logger.Nop()
	approvals := service.NewApprovalService(store, store, repository.DefaultPolicies(), nil, log)
	batches := service.NewBatchService(store, store, nil, log)
	audit := service.NewAuditService(store, log)

	roles := staticRoles{"user-lookup": repository.RoleRegionalAdmin}
	h := NewHTTPHandler(approvals, batches, audit, roles, log)

	r := chi.NewRouter()
	h.Routes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, store
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))

	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func createWorkflowHTTP(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/workflows", map[string]any{
		"region_id":       "region-7",
		"organization_id": "org-42",
		"request_type":    "budget_increase",
		"amount":          50_000,
		"fiscal_year":     2026,
		"reason":          "expansion",
		"requested_by":    "user-requester",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	wf := body["workflow"].(map[string]any)
	return wf["id"].(string)
}

func TestWorkflowLifecycleOverHTTP(t *testing.T) {
	srv, store := newTestServer(t)
	store.SeedRegionBudget("region-7", 2026, 100_000)

	wfID := createWorkflowHTTP(t, srv)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/workflows/"+wfID+"/decisions", map[string]any{
		"step_order": 0,
		"decision":   "approve",
		"actor_id":   "user-regional",
		"actor_role": "Regional Admin",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["step_satisfied"])

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/v1/workflows/"+wfID+"/decisions", map[string]any{
		"step_order": 1,
		"decision":   "approve",
		"actor_id":   "user-super",
		"actor_role": "super_admin",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["workflow_completed"])

	budget, err := store.GetRegionBudget(context.Background(), "region-7", 2026)
	require.NoError(t, err)
	assert.Equal(t, int64(150_000), budget.Amount)

	resp, err = http.Get(srv.URL + "/api/v1/workflows/" + wfID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDecisionErrorStatusMapping(t *testing.T) {
	srv, _ := newTestServer(t)
	wfID := createWorkflowHTTP(t, srv)

	// Wrong role → 403.
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/v1/workflows/"+wfID+"/decisions", map[string]any{
		"step_order": 0,
		"decision":   "approve",
		"actor_id":   "user-finance",
		"actor_role": "finance_officer",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Unknown role string → 403.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/workflows/"+wfID+"/decisions", map[string]any{
		"step_order": 0,
		"decision":   "approve",
		"actor_id":   "user-x",
		"actor_role": "intern",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Decision against a stale step order → 409.
	approve := map[string]any{
		"step_order": 0,
		"decision":   "approve",
		"actor_id":   "user-regional",
		"actor_role": "regional_admin",
	}
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/workflows/"+wfID+"/decisions", approve)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/workflows/"+wfID+"/decisions", map[string]any{
		"step_order": 0,
		"decision":   "approve",
		"actor_id":   "user-regional",
		"actor_role": "regional_admin",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "conflict", errObj["code"])

	// Unknown workflow → 404.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/workflows/missing/decisions", approve)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDecisionRoleLookupFallback(t *testing.T) {
	srv, _ := newTestServer(t)
	wfID := createWorkflowHTTP(t, srv)

	// No actor_role in the body: the handler asks the identity service.
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/workflows/"+wfID+"/decisions", map[string]any{
		"step_order": 0,
		"decision":   "approve",
		"actor_id":   "user-lookup",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["step_satisfied"])
}

func TestPendingApprovalsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	wfID := createWorkflowHTTP(t, srv)

	resp, err := http.Get(srv.URL + "/api/v1/approvals/pending?role=regional_admin")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	pending := body["pending"].([]any)
	require.Len(t, pending, 1)
	first := pending[0].(map[string]any)
	assert.Equal(t, wfID, first["workflow_id"])

	resp, err = http.Get(srv.URL + "/api/v1/approvals/pending?role=janitor")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestBatchEndpoints(t *testing.T) {
	srv, store := newTestServer(t)
	store.SeedAllocation("org-a", 2026, 50_000)
	store.SeedOrganizationBudget("org-a", "region-7", 2026, 0)

	items := []map[string]any{
		{"organization_id": "org-a", "fiscal_year": 2026, "amount": 10_000, "purpose": "seed subsidy"},
	}

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/batches/validate", map[string]any{
		"items": items,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["valid"])

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/v1/batches", map[string]any{
		"created_by": "user-finance",
		"items":      items,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	batchID := body["id"].(string)

	resp, body = doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/v1/batches/%s/process", srv.URL, batchID), map[string]any{
		"actor_id": "user-finance",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", body["status"])

	// Retry on a completed batch → 409.
	resp, _ = doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/v1/batches/%s/retry", srv.URL, batchID), map[string]any{
		"actor_id": "user-finance",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, err := http.Get(srv.URL + "/api/v1/batches/" + batchID)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/v1/batches/summary")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var summary map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
	assert.Equal(t, float64(1), summary["total_batches"])
}

func TestAuditEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	wfID := createWorkflowHTTP(t, srv)

	resp, err := http.Get(srv.URL + "/api/v1/audit/approval_workflow/" + wfID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	entries := body["entries"].([]any)
	require.Len(t, entries, 1)
	first := entries[0].(map[string]any)
	assert.Equal(t, "workflow_created", first["action_type"])

	resp, err = http.Get(srv.URL + "/api/v1/audit/summary")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/v1/audit/?start_date=not-a-date")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
