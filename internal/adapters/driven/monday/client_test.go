package monday

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/custodia-labs/ordersync-core/internal/core/domain"
	"github.com/custodia-labs/ordersync-core/internal/core/ports/driven"
)

// fakeAPI scripts responses for successive calls and records the queries
// it received.
type fakeAPI struct {
	mu        sync.Mutex
	queries   []string
	responses []scripted
	calls     int
}

type scripted struct {
	status int
	body   string
}

func (f *fakeAPI) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var req struct {
		Query string `json:"query"`
	}
	_ = json.Unmarshal(body, &req)

	f.mu.Lock()
	f.queries = append(f.queries, req.Query)
	idx := f.calls
	f.calls++
	f.mu.Unlock()

	resp := scripted{status: 200, body: `{"data":{}}`}
	if idx < len(f.responses) {
		resp = f.responses[idx]
	}
	w.WriteHeader(resp.status)
	fmt.Fprint(w, resp.body)
}

func (f *fakeAPI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeAPI) query(i int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries[i]
}

// newTestClient wires a client at the fake server with instant retries and
// a sleep recorder.
func newTestClient(t *testing.T, api *fakeAPI) (*Client, *[]time.Duration) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(api.handler))
	t.Cleanup(srv.Close)

	client, err := NewClient(ClientConfig{
		APIURL:             srv.URL,
		Token:              "test-token",
		MinRequestInterval: time.Nanosecond,
		Backoff:            BackoffPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Second},
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	var slept []time.Duration
	client.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return client, &slept
}

func TestCreateItemsSingleCall(t *testing.T) {
	api := &fakeAPI{responses: []scripted{
		{200, `{"data":{"m0":{"id":"101"},"m1":{"id":"102"}}}`},
	}}
	client, _ := newTestClient(t, api)

	results, err := client.CreateItems(context.Background(), "board-1", "grp-1", []driven.ItemSpec{
		{RecordID: "SO-1", Name: "SO-1", Fields: map[string]string{"status": "open", "qty_total": "4"}},
		{RecordID: "SO-2", Name: "SO-2", Fields: map[string]string{"status": "open"}},
	})
	if err != nil {
		t.Fatalf("CreateItems: %v", err)
	}

	if api.callCount() != 1 {
		t.Errorf("call count = %d, want 1 (batch must be one document)", api.callCount())
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].RemoteID != "101" || results[1].RemoteID != "102" {
		t.Errorf("remote ids = %q, %q", results[0].RemoteID, results[1].RemoteID)
	}

	q := api.query(0)
	if !strings.Contains(q, "m0: create_item") || !strings.Contains(q, "m1: create_item") {
		t.Errorf("query missing aliased mutations: %s", q)
	}
	if !strings.Contains(q, "qty_total") {
		t.Errorf("query missing column values: %s", q)
	}
}

func TestCreateItemsPartialAliasFailure(t *testing.T) {
	api := &fakeAPI{responses: []scripted{
		{200, `{"data":{"m0":{"id":"101"},"m1":null},
			"errors":[{"message":"column invalid","path":["m1"],"extensions":{"code":"InvalidColumnException"}}]}`},
	}}
	client, _ := newTestClient(t, api)

	results, err := client.CreateItems(context.Background(), "board-1", "grp-1", []driven.ItemSpec{
		{RecordID: "SO-1", Name: "SO-1"},
		{RecordID: "SO-2", Name: "SO-2"},
	})
	if err != nil {
		t.Fatalf("CreateItems: %v", err)
	}

	if results[0].Err != nil || results[0].RemoteID != "101" {
		t.Errorf("first record should succeed, got %+v", results[0])
	}
	if results[1].Err == nil {
		t.Fatal("second record should carry the per-alias error")
	}
	if !strings.Contains(results[1].Err.Error(), "column invalid") {
		t.Errorf("error = %v, want the API message", results[1].Err)
	}
}

func TestRetryHonorsServerDelay(t *testing.T) {
	api := &fakeAPI{responses: []scripted{
		{429, `{"error_message":"rate limit exceeded","retry_in_seconds":7}`},
		{200, `{"data":{"me":{"id":"1"}}}`},
	}}
	client, slept := newTestClient(t, api)

	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping after retry: %v", err)
	}
	if api.callCount() != 2 {
		t.Fatalf("call count = %d, want 2", api.callCount())
	}
	if len(*slept) != 1 {
		t.Fatalf("slept %d times, want 1", len(*slept))
	}
	if (*slept)[0] < 7*time.Second {
		t.Errorf("slept %v, want >= 7s (server hint)", (*slept)[0])
	}
}

func TestComplexityBudgetIn200Body(t *testing.T) {
	api := &fakeAPI{responses: []scripted{
		{200, `{"error_code":"ComplexityException","error_message":"budget exhausted","retry_in_seconds":3}`},
		{200, `{"data":{"me":{"id":"1"}}}`},
	}}
	client, slept := newTestClient(t, api)

	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if len(*slept) != 1 || (*slept)[0] < 3*time.Second {
		t.Errorf("slept %v, want one sleep >= 3s", *slept)
	}
}

func TestTransientRetriesThenSucceeds(t *testing.T) {
	api := &fakeAPI{responses: []scripted{
		{502, `bad gateway`},
		{503, `unavailable`},
		{200, `{"data":{"me":{"id":"1"}}}`},
	}}
	client, slept := newTestClient(t, api)

	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if api.callCount() != 3 {
		t.Errorf("call count = %d, want 3", api.callCount())
	}
	if len(*slept) != 2 {
		t.Errorf("slept %d times, want 2", len(*slept))
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	api := &fakeAPI{responses: []scripted{
		{500, `boom`}, {500, `boom`}, {500, `boom`}, {500, `boom`},
	}}
	client, _ := newTestClient(t, api)

	err := client.Ping(context.Background())
	if !errors.Is(err, domain.ErrRetryExhausted) {
		t.Fatalf("err = %v, want ErrRetryExhausted", err)
	}
	if api.callCount() != 3 {
		t.Errorf("call count = %d, want MaxAttempts (3)", api.callCount())
	}
}

func TestValidationFailureNotRetried(t *testing.T) {
	api := &fakeAPI{responses: []scripted{
		{401, `{"error_message":"not authenticated"}`},
	}}
	client, slept := newTestClient(t, api)

	err := client.Ping(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if domain.IsRetryable(err) {
		t.Errorf("auth failure should not be retryable: %v", err)
	}
	if api.callCount() != 1 {
		t.Errorf("call count = %d, want 1 (no retry)", api.callCount())
	}
	if len(*slept) != 0 {
		t.Errorf("slept %v, want none", *slept)
	}
}

func TestEnsureGroupFindsExisting(t *testing.T) {
	api := &fakeAPI{responses: []scripted{
		{200, `{"data":{"boards":[{"groups":[{"id":"grp-a","title":"cust-1/ss26"},{"id":"grp-b","title":"cust-2/fw26"}]}]}}`},
	}}
	client, _ := newTestClient(t, api)

	id, err := client.EnsureGroup(context.Background(), "board-1", "cust-2/fw26")
	if err != nil {
		t.Fatalf("EnsureGroup: %v", err)
	}
	if id != "grp-b" {
		t.Errorf("group id = %q, want grp-b", id)
	}
	if api.callCount() != 1 {
		t.Errorf("call count = %d, want 1 (no create for existing group)", api.callCount())
	}
}

func TestEnsureGroupCreatesMissing(t *testing.T) {
	api := &fakeAPI{responses: []scripted{
		{200, `{"data":{"boards":[{"groups":[]}]}}`},
		{200, `{"data":{"create_group":{"id":"grp-new"}}}`},
	}}
	client, _ := newTestClient(t, api)

	id, err := client.EnsureGroup(context.Background(), "board-1", "cust-3/ss27")
	if err != nil {
		t.Fatalf("EnsureGroup: %v", err)
	}
	if id != "grp-new" {
		t.Errorf("group id = %q, want grp-new", id)
	}
	if !strings.Contains(api.query(1), `create_group`) {
		t.Errorf("second query should create the group: %s", api.query(1))
	}
}

func TestUpdateItemsTargetsRemoteIDs(t *testing.T) {
	api := &fakeAPI{responses: []scripted{
		{200, `{"data":{"m0":{"id":"201"}}}`},
	}}
	client, _ := newTestClient(t, api)

	results, err := client.UpdateItems(context.Background(), "board-1", []driven.ItemUpdate{
		{RecordID: "SO-9", RemoteItemID: "201", Fields: map[string]string{"qty_total": "0"}},
	})
	if err != nil {
		t.Fatalf("UpdateItems: %v", err)
	}
	if results[0].RemoteID != "201" {
		t.Errorf("remote id = %q, want 201", results[0].RemoteID)
	}
	q := api.query(0)
	if !strings.Contains(q, "change_multiple_column_values") || !strings.Contains(q, "item_id: 201") {
		t.Errorf("query should update item 201: %s", q)
	}
}

func TestNewClientRequiresToken(t *testing.T) {
	if _, err := NewClient(ClientConfig{}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}
