package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarryd/quarry/internal/domain"
	"github.com/quarryd/quarry/internal/handler"
	"github.com/quarryd/quarry/internal/logger"
	"github.com/quarryd/quarry/internal/queue"
	"github.com/quarryd/quarry/internal/storage/memory"
)

func newTestRouter(t *testing.T) (http.Handler, *memory.ScraperStore, *queue.Queue) {
	t.Helper()
	scrapers := memory.NewScraperStore()
	q := queue.New(memory.NewQueueStore(), logger.NewNop())
	registry, err := handler.NewRegistry(handler.NewDynamic())
	require.NoError(t, err)
	service := NewService(scrapers, q, memory.NewLogStore(), registry)
	return NewRouter(service, logger.NewNop()), scrapers, q
}

func call(t *testing.T, router http.Handler, method string, params any) rpcResponse {
	t.Helper()
	body := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		body["params"] = params
	}
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, RPCPath, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2.0", resp.JSONRPC)
	return resp
}

// decodeResult re-marshals the untyped result into the caller's shape.
func decodeResult[T any](t *testing.T, resp rpcResponse) T {
	t.Helper()
	require.Nil(t, resp.Error, "unexpected rpc error: %+v", resp.Error)
	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var out T
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func validScraper(name string) map[string]any {
	return map[string]any{
		"name":              name,
		"handler":           handler.DynamicName,
		"schedule":          "every_hour",
		"schedule_priority": 1,
		"config": map[string]any{
			"params": map[string]any{"source_code": "def handler(ctx):\n    return 'ok'\n"},
		},
	}
}

func TestScraperRoundTrip(t *testing.T) {
	router, _, _ := newTestRouter(t)

	created := decodeResult[domain.Scraper](t,
		call(t, router, "create_scraper", map[string]any{"scraper": validScraper("news")}))
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "news", created.Name)

	fetched := decodeResult[domain.Scraper](t,
		call(t, router, "get_scraper", map[string]any{"id": created.ID}))
	assert.Equal(t, created.ID, fetched.ID)

	listed := decodeResult[[]domain.Scraper](t, call(t, router, "get_scrapers", nil))
	require.Len(t, listed, 1)

	created.Name = "news-updated"
	updated := decodeResult[domain.Scraper](t,
		call(t, router, "update_scraper", map[string]any{"scraper": created}))
	assert.Equal(t, "news-updated", updated.Name)

	found := decodeResult[[]domain.Scraper](t,
		call(t, router, "search_scrapers", map[string]any{"filters": map[string]any{"name_contains": "updated"}}))
	require.Len(t, found, 1)

	decodeResult[domain.Scraper](t,
		call(t, router, "delete_scraper", map[string]any{"id": created.ID}))
	resp := call(t, router, "get_scraper", map[string]any{"id": created.ID})
	require.NotNil(t, resp.Error)
	assert.Contains(t, resp.Error.Message, "NotFound:")
}

func TestCreateScraperValidation(t *testing.T) {
	router, _, _ := newTestRouter(t)

	bad := validScraper("broken")
	bad["schedule"] = "every_fortnight"
	resp := call(t, router, "create_scraper", map[string]any{"scraper": bad})
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeServerError, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "ValidationError:")

	unknown := validScraper("mystery")
	unknown["handler"] = "nonexistent"
	resp = call(t, router, "create_scraper", map[string]any{"scraper": unknown})
	require.NotNil(t, resp.Error)
	assert.Contains(t, resp.Error.Message, "ValidationError:")
}

func TestEnqueueAndTaskLifecycle(t *testing.T) {
	router, _, q := newTestRouter(t)
	ctx := context.Background()

	created := decodeResult[domain.Scraper](t,
		call(t, router, "create_scraper", map[string]any{"scraper": validScraper("jobs")}))

	task := decodeResult[domain.Task](t,
		call(t, router, "enqueue_scraper", map[string]any{"scraper_id": created.ID, "priority": 0}))
	assert.Equal(t, domain.PriorityUtmost, task.Priority)
	assert.Equal(t, domain.StatusPending, task.Status)

	// A second enqueue collides with the pending run.
	resp := call(t, router, "enqueue_scraper", map[string]any{"scraper_id": created.ID})
	require.NotNil(t, resp.Error)
	assert.Contains(t, resp.Error.Message, "TaskHasActiveRun:")

	instances := decodeResult[[]domain.Task](t,
		call(t, router, "get_task_instances", map[string]any{"task_name": created.ID}))
	require.Len(t, instances, 1)

	fetched := decodeResult[domain.Task](t,
		call(t, router, "get_task_instance", map[string]any{"task_id": task.ID}))
	assert.Equal(t, task.ID, fetched.ID)

	killed := decodeResult[domain.Task](t,
		call(t, router, "kill_task", map[string]any{"task_id": task.ID}))
	assert.Equal(t, domain.StatusKilled, killed.Status)

	// Killing twice reports the finished state.
	resp = call(t, router, "kill_task", map[string]any{"task_id": task.ID})
	require.NotNil(t, resp.Error)
	assert.Contains(t, resp.Error.Message, "TaskFinished:")

	// The queue no longer sees the killed task as active.
	_, err := q.Enqueue(ctx, domain.Task{
		ScraperID: created.ID, Handler: handler.DynamicName, Priority: domain.PriorityNormal,
	})
	require.NoError(t, err)
}

func TestRunEphemeral(t *testing.T) {
	router, _, _ := newTestRouter(t)

	task := decodeResult[domain.Task](t, call(t, router, "run_ephemeral", map[string]any{
		"task": map[string]any{
			"handler": handler.DynamicName,
			"config": map[string]any{
				"params": map[string]any{"source_code": "def handler(ctx):\n    return 'once'\n"},
			},
		},
	}))
	assert.Equal(t, domain.EphemeralScraperID, task.ScraperID)
	assert.Equal(t, domain.PriorityUtmost, task.Priority)

	resp := call(t, router, "run_ephemeral", map[string]any{
		"task": map[string]any{"handler": "nonexistent"},
	})
	require.NotNil(t, resp.Error)
	assert.Contains(t, resp.Error.Message, "ValidationError:")
}

func TestGetTaskLogsEmpty(t *testing.T) {
	router, _, _ := newTestRouter(t)

	lines := decodeResult[[]domain.LogLine](t,
		call(t, router, "get_task_logs", map[string]any{"task_id": "missing", "max_lines": 10}))
	assert.Empty(t, lines)
}

func TestCatalogueMethods(t *testing.T) {
	router, _, _ := newTestRouter(t)

	readOnly := decodeResult[bool](t, call(t, router, "is_read_only", nil))
	assert.False(t, readOnly)

	handlers := decodeResult[[]string](t, call(t, router, "get_scraper_handlers", nil))
	assert.Contains(t, handlers, handler.DynamicName)

	schedules := decodeResult[[]domain.Schedule](t, call(t, router, "get_schedules", nil))
	assert.Contains(t, schedules, domain.ScheduleEveryHour)

	priorities := decodeResult[[]priorityRecord](t, call(t, router, "get_priorities", nil))
	require.Len(t, priorities, 3)
	assert.Equal(t, priorityRecord{Name: "utmost", Value: 0}, priorities[0])
}

func TestProtocolErrors(t *testing.T) {
	router, _, _ := newTestRouter(t)

	post := func(body string) rpcResponse {
		req := httptest.NewRequest(http.MethodPost, RPCPath, bytes.NewBufferString(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp rpcResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return resp
	}

	resp := post("{not json")
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeParseError, resp.Error.Code)

	resp = post(`{"jsonrpc":"1.0","id":1,"method":"get_scrapers"}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeInvalidRequest, resp.Error.Code)

	resp = post(`{"jsonrpc":"2.0","id":1}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeInvalidRequest, resp.Error.Code)

	resp = post(`{"jsonrpc":"2.0","id":1,"method":"no_such_method"}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeMethodNotFound, resp.Error.Code)

	resp = post(`{"jsonrpc":"2.0","id":7,"method":"get_scraper"}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeInvalidParams, resp.Error.Code)
	assert.Equal(t, "7", string(resp.ID))
}

func TestHealthz(t *testing.T) {
	router, _, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
