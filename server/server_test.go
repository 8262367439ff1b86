package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warriorguo/blockflow/client"
	"github.com/warriorguo/blockflow/runtime"
	"github.com/warriorguo/blockflow/store/mem"
	"github.com/warriorguo/blockflow/types"
)

func newTestServer(t *testing.T, options ...types.ServerOption) *Server {
	s := mem.NewMemStore()
	opts := types.NewEngineOptions()
	opts.PersistResults = true
	return New(runtime.NewEngine(s, opts), s, options...)
}

// startServer serves srv on a local port and returns its base url.
func startServer(t *testing.T, srv *Server) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.Nil(t, err)
	go func() {
		_ = srv.App().Listener(ln)
	}()
	t.Cleanup(func() {
		_ = srv.Shutdown()
	})
	return "http://" + ln.Addr().String()
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any, headers ...string) (int, map[string]any) {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		encoded, err := json.Marshal(b)
		require.Nil(t, err)
		reader = bytes.NewBuffer(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := app.Test(req, -1)
	require.Nil(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.Nil(t, err)
	payload := map[string]any{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &payload)
	}
	return resp.StatusCode, payload
}

func sumWorkflow(t *testing.T) *types.Workflow {
	b := runtime.NewBuilder("sum", "adds two numbers")
	require.Nil(t, b.AddBlock(types.NewFunctionBlock("calc", "Calculate",
		`{"sum": a + b, "product": a * b, "timestamp": timestamp()}`)))
	require.Nil(t, b.Connect(b.GetStarterBlock().ID, "calc"))
	wf, err := b.Build()
	require.Nil(t, err)
	return wf
}

func failingWorkflow(t *testing.T) *types.Workflow {
	b := runtime.NewBuilder("ask", "")
	require.Nil(t, b.AddBlock(types.NewFunctionBlock("prepare", "Prepare", `{"question": "why"}`)))
	require.Nil(t, b.AddBlock(types.NewAgentBlock("agent", "Agent", types.AgentConfig{Model: "m"})))
	require.Nil(t, b.Connect(b.GetStarterBlock().ID, "prepare"))
	require.Nil(t, b.Connect("prepare", "agent"))
	wf, err := b.Build()
	require.Nil(t, err)
	return wf
}

func createWorkflow(t *testing.T, app *fiber.App, wf *types.Workflow) string {
	status, payload := doJSON(t, app, http.MethodPost, "/workflows", wf.Document())
	require.Equal(t, fiber.StatusCreated, status)
	doc := payload["workflow"].(map[string]any)
	id := cast.ToString(doc["id"])
	require.NotEmpty(t, id)
	return id
}

func TestWorkflowLifecycle(t *testing.T) {
	srv := newTestServer(t)
	app := srv.App()

	id := createWorkflow(t, app, sumWorkflow(t))

	status, payload := doJSON(t, app, http.MethodGet, "/workflow/"+id, nil)
	assert.Equal(t, fiber.StatusOK, status)
	doc := payload["workflow"].(map[string]any)
	assert.Equal(t, "sum", doc["name"])
	state := doc["state"].(map[string]any)
	assert.Len(t, state["blocks"], 2)
	assert.Len(t, state["edges"], 1)

	updated := sumWorkflow(t)
	updated.Name = "renamed"
	status, payload = doJSON(t, app, http.MethodPut, "/workflow/"+id, updated.Document())
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, id, payload["workflow"].(map[string]any)["id"])

	_, payload = doJSON(t, app, http.MethodGet, "/workflow/"+id, nil)
	assert.Equal(t, "renamed", payload["workflow"].(map[string]any)["name"])

	status, _ = doJSON(t, app, http.MethodDelete, "/workflow/"+id, nil)
	assert.Equal(t, fiber.StatusOK, status)
	status, payload = doJSON(t, app, http.MethodGet, "/workflow/"+id, nil)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "Workflow not found", payload["error"])
	status, _ = doJSON(t, app, http.MethodDelete, "/workflow/"+id, nil)
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestInvalidWorkflowData(t *testing.T) {
	app := newTestServer(t).App()

	status, payload := doJSON(t, app, http.MethodPost, "/workflows", "{not json")
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Contains(t, payload["error"], "Invalid workflow data")

	broken := sumWorkflow(t)
	broken.Connections = append(broken.Connections, &types.Connection{Source: "calc", Target: "ghost"})
	status, payload = doJSON(t, app, http.MethodPost, "/workflows", broken.Document())
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Contains(t, payload["error"], "Invalid workflow data")
	assert.Contains(t, payload["error"], string(types.UnknownBlock))

	nameless := sumWorkflow(t)
	nameless.Name = ""
	status, _ = doJSON(t, app, http.MethodPut, "/workflow/x", nameless.Document())
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestExecuteWorkflow(t *testing.T) {
	srv := newTestServer(t)
	app := srv.App()
	id := createWorkflow(t, app, sumWorkflow(t))

	status, payload := doJSON(t, app, http.MethodPost, "/workflow/"+id+"/execute", map[string]any{"a": 5, "b": 7})
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, payload["success"])
	response := payload["output"].(map[string]any)["response"].(map[string]any)
	assert.Equal(t, float64(12), response["sum"])
	assert.Equal(t, float64(35), response["product"])
	assert.NotEmpty(t, response["timestamp"])

	executionID := cast.ToString(payload["executionId"])
	status, payload = doJSON(t, app, http.MethodGet, "/executions/"+executionID, nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, executionID, payload["executionId"])

	status, _ = doJSON(t, app, http.MethodGet, "/executions/unknown", nil)
	assert.Equal(t, fiber.StatusNotFound, status)

	status, _ = doJSON(t, app, http.MethodPost, "/workflow/unknown/execute", nil)
	assert.Equal(t, fiber.StatusNotFound, status)

	status, _ = doJSON(t, app, http.MethodPost, "/workflow/"+id+"/execute", "[1, 2]")
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestExecuteFailureCarriesTrace(t *testing.T) {
	app := newTestServer(t).App()
	id := createWorkflow(t, app, failingWorkflow(t))

	status, payload := doJSON(t, app, http.MethodPost, "/workflow/"+id+"/execute", nil)
	assert.Equal(t, fiber.StatusInternalServerError, status)
	assert.Equal(t, false, payload["success"])
	assert.Contains(t, payload["error"], "Agent (agent) failed")
	assert.Len(t, payload["logs"], 3)
}

func TestUsageLimit(t *testing.T) {
	app := newTestServer(t, types.WithUsageLimit(2), types.WithWarningPercent(50)).App()
	id := createWorkflow(t, app, sumWorkflow(t))

	status, payload := doJSON(t, app, http.MethodGet, "/user/usage", nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, false, payload["isWarning"])
	assert.Equal(t, float64(2), payload["limit"])

	for i := 0; i < 2; i++ {
		status, _ = doJSON(t, app, http.MethodPost, "/workflow/"+id+"/execute", map[string]any{"a": 1, "b": 1})
		assert.Equal(t, fiber.StatusOK, status)
	}
	status, payload = doJSON(t, app, http.MethodPost, "/workflow/"+id+"/execute", map[string]any{"a": 1, "b": 1})
	assert.Equal(t, fiber.StatusTooManyRequests, status)
	assert.Equal(t, "Usage limit exceeded", payload["error"])

	_, payload = doJSON(t, app, http.MethodGet, "/user/usage", nil)
	assert.Equal(t, float64(100), payload["percentUsed"])
	assert.Equal(t, float64(2), payload["currentUsage"])
	assert.Equal(t, true, payload["isWarning"])
	assert.Equal(t, true, payload["isExceeded"])
}

func TestAuthentication(t *testing.T) {
	app := newTestServer(t, types.WithAPIKeys("k1")).App()

	status, payload := doJSON(t, app, http.MethodGet, "/user/usage", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "Unauthorized", payload["error"])

	status, _ = doJSON(t, app, http.MethodGet, "/user/usage", nil, "Authorization", "Bearer wrong")
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, _ = doJSON(t, app, http.MethodGet, "/user/usage", nil, "Authorization", "Bearer k1")
	assert.Equal(t, fiber.StatusOK, status)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := app.Test(req, -1)
	require.Nil(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "blockflow_batch_runs_total")
}

func TestWebhooks(t *testing.T) {
	app := newTestServer(t).App()

	b := runtime.NewBuilder("mail", "")
	require.Nil(t, b.AddBlock(types.NewFunctionBlock("echo", "Echo", `{"subject": subject, "via": triggerType}`)))
	require.Nil(t, b.Connect(b.GetStarterBlock().ID, "echo"))
	wf, err := b.Build()
	require.Nil(t, err)
	id := createWorkflow(t, app, wf)

	status, _ := doJSON(t, app, http.MethodPost, "/webhooks", map[string]any{"path": "bad path", "workflowId": id})
	assert.Equal(t, fiber.StatusBadRequest, status)
	status, _ = doJSON(t, app, http.MethodPost, "/webhooks", map[string]any{"path": "mail", "workflowId": "ghost"})
	assert.Equal(t, fiber.StatusNotFound, status)
	status, _ = doJSON(t, app, http.MethodPost, "/webhooks", map[string]any{"path": "mail", "workflowId": id, "secret": "s3cr3t"})
	assert.Equal(t, fiber.StatusCreated, status)

	other := createWorkflow(t, app, sumWorkflow(t))
	status, _ = doJSON(t, app, http.MethodPost, "/webhooks", map[string]any{"path": "mail", "workflowId": other})
	assert.Equal(t, fiber.StatusConflict, status)

	item := map[string]any{"id": "m1", "subject": "hello", "timestamp": "2024-03-01T12:00:00Z"}
	status, _ = doJSON(t, app, http.MethodPost, "/webhooks/trigger/mail", item)
	assert.Equal(t, fiber.StatusUnauthorized, status)
	status, _ = doJSON(t, app, http.MethodPost, "/webhooks/trigger/nope", item)
	assert.Equal(t, fiber.StatusNotFound, status)

	status, payload := doJSON(t, app, http.MethodPost, "/webhooks/trigger/mail", item, client.WebhookSecretHeader, "s3cr3t")
	require.Equal(t, fiber.StatusOK, status)
	response := payload["output"].(map[string]any)["response"].(map[string]any)
	assert.Equal(t, "hello", response["subject"])
	assert.Equal(t, "webhook", response["via"])
}

func TestRecordStats(t *testing.T) {
	app := newTestServer(t).App()
	id := createWorkflow(t, app, sumWorkflow(t))

	status, payload := doJSON(t, app, http.MethodPost, "/workflow/"+id+"/stats", map[string]any{"runs": 4})
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(4), payload["totalRuns"])

	_, payload = doJSON(t, app, http.MethodPost, "/workflow/"+id+"/stats", map[string]any{"runs": 6})
	assert.Equal(t, float64(10), payload["totalRuns"])
	assert.Equal(t, float64(2), payload["batches"])

	status, _ = doJSON(t, app, http.MethodPost, "/workflow/"+id+"/stats", map[string]any{"runs": 0})
	assert.Equal(t, fiber.StatusBadRequest, status)
	status, _ = doJSON(t, app, http.MethodPost, "/workflow/ghost/stats", map[string]any{"runs": 1})
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestClientAgainstServer(t *testing.T) {
	srv := newTestServer(t, types.WithAPIKeys("k1"))
	c := client.NewClient(types.WithBaseURL(startServer(t, srv)), types.WithAPIKey("k1"))
	ctx := context.Background()

	wf := sumWorkflow(t)
	result, err := c.ExecuteWorkflow(ctx, wf, types.Data{"a": 5, "b": 7})
	require.Nil(t, err)
	assert.True(t, result.Success)
	response, ok := result.ResponseData()
	require.True(t, ok)
	assert.Equal(t, 12, cast.ToInt(response["sum"]))
	assert.Equal(t, "", wf.ID)

	loaded, err := c.GetWorkflow(ctx, result.WorkflowID)
	require.Nil(t, err)
	assert.Equal(t, len(wf.Blocks), len(loaded.Blocks))
	assert.Equal(t, len(wf.Connections), len(loaded.Connections))

	failing, err := c.ExecuteWorkflow(ctx, failingWorkflow(t), nil)
	require.Nil(t, err)
	assert.False(t, failing.Success)
	assert.Len(t, failing.Logs, 3)

	invalid := sumWorkflow(t)
	invalid.Blocks = invalid.Blocks[1:]
	_, err = c.ExecuteWorkflow(ctx, invalid, nil)
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "Invalid workflow data")

	usage, err := c.GetUsage(ctx)
	require.Nil(t, err)
	assert.Equal(t, float64(2), usage.CurrentUsage)
}
