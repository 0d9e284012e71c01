package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/custodia-labs/ordersync-core/internal/core/domain"
	"github.com/custodia-labs/ordersync-core/internal/core/ports/driven/mocks"
)

const testSecret = "test-secret"

func setupTestServer(t *testing.T) (*Server, *mocks.MockTaskQueue, *mocks.MockRunStore) {
	t.Helper()

	queue := mocks.NewMockTaskQueue()
	runs := mocks.NewMockRunStore()

	srv := NewServer(Config{
		Version:    "test",
		AuthSecret: testSecret,
	}, queue, runs, nil, nil)

	return srv, queue, runs
}

func authedRequest(t *testing.T, method, target, body string) *http.Request {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}

	token, err := IssueToken(testSecret, "ops", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestHealth(t *testing.T) {
	srv, _, _ := setupTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestEnqueueSyncScope(t *testing.T) {
	srv, queue, _ := setupTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, authedRequest(t, "POST", "/api/v1/sync/runs", `{"scope_id":"cust-1"}`))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}

	var resp EnqueueSyncResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Type != string(domain.TaskTypeSyncScope) {
		t.Errorf("type = %s, want sync_scope", resp.Type)
	}

	task, err := queue.GetTask(context.Background(), resp.TaskID)
	if err != nil {
		t.Fatalf("task not enqueued: %v", err)
	}
	if task.ScopeID() != "cust-1" {
		t.Errorf("scope id = %s, want cust-1", task.ScopeID())
	}
}

func TestEnqueueSyncAll(t *testing.T) {
	srv, _, _ := setupTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, authedRequest(t, "POST", "/api/v1/sync/runs", ""))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}

	var resp EnqueueSyncResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Type != string(domain.TaskTypeSyncAll) {
		t.Errorf("type = %s, want sync_all", resp.Type)
	}
}

func TestEnqueueRequiresAuth(t *testing.T) {
	srv, queue, _ := setupTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/sync/runs", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if queue.PendingCount() != 0 {
		t.Error("task should not be enqueued without auth")
	}
}

func TestGetRun(t *testing.T) {
	srv, _, runs := setupTestServer(t)

	run := domain.NewSyncRun("cust-1")
	run.Complete(&domain.SyncSummary{ScopeID: "cust-1", Status: domain.RunStatusSuccess})
	if err := runs.Save(context.Background(), run); err != nil {
		t.Fatalf("Save: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, authedRequest(t, "GET", "/api/v1/sync/runs/"+run.ID, ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var got domain.SyncRun
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.State != domain.RunStateCompleted {
		t.Errorf("state = %s, want completed", got.State)
	}
	if got.Summary == nil || got.Summary.Status != domain.RunStatusSuccess {
		t.Errorf("summary = %+v", got.Summary)
	}
}

func TestGetRunNotFound(t *testing.T) {
	srv, _, _ := setupTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, authedRequest(t, "GET", "/api/v1/sync/runs/missing", ""))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestListRuns(t *testing.T) {
	srv, _, runs := setupTestServer(t)

	for _, scope := range []string{"cust-1", "cust-2"} {
		if err := runs.Save(context.Background(), domain.NewSyncRun(scope)); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, authedRequest(t, "GET", "/api/v1/sync/runs", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var got []*domain.SyncRun
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d runs, want 2", len(got))
	}
}

func TestGetTaskStatus(t *testing.T) {
	srv, queue, _ := setupTestServer(t)

	task := domain.NewSyncScopeTask("cust-1")
	if err := queue.Enqueue(context.Background(), task); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, authedRequest(t, "GET", "/api/v1/sync/tasks/"+task.ID, ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var got domain.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID != task.ID {
		t.Errorf("task id = %s, want %s", got.ID, task.ID)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	srv, _, _ := setupTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, authedRequest(t, "GET", "/api/v1/sync/tasks/missing", ""))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestQueueStats(t *testing.T) {
	srv, queue, _ := setupTestServer(t)

	if err := queue.Enqueue(context.Background(), domain.NewSyncAllTask()); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, authedRequest(t, "GET", "/api/v1/queue/stats", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var got struct {
		PendingCount int64 `json:"pending_count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.PendingCount != 1 {
		t.Errorf("pending = %d, want 1", got.PendingCount)
	}
}
