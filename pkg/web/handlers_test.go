package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskflow/deskflow/pkg/dispatch"
	"github.com/deskflow/deskflow/pkg/engine"
	"github.com/deskflow/deskflow/pkg/graph"
	"github.com/deskflow/deskflow/pkg/models"
	"github.com/deskflow/deskflow/pkg/persistence/file"
	"github.com/deskflow/deskflow/pkg/registry"
	"github.com/deskflow/deskflow/pkg/services"
	"github.com/deskflow/deskflow/pkg/testutil"
	"github.com/deskflow/deskflow/pkg/validation"
	"github.com/deskflow/deskflow/pkg/web"
)

func setupTestApp(t *testing.T) (*fiber.App, *services.Workflow) {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	reg := registry.NewRegistry(logger)
	eng := engine.New(engine.Config{}, dispatch.NewRecorder().Collaborators(), engine.WithLogger(logger))

	t.Cleanup(func() { _ = eng.Close(context.Background()) })

	workflowService := services.NewWorkflow(file.NewPersistence(t.TempDir()), reg, eng, services.WithLogger(logger))
	handlers := web.NewAPIHandlers(workflowService, validator.New(validator.WithRequiredStructEnabled()), reg, nil)

	app := fiber.New()
	handlers.RegisterRoutes(app.Group("/api/v1"))

	return app, workflowService
}

func doRequest(t *testing.T, app *fiber.App, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader

	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)

		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req, fiber.TestConfig{Timeout: 5 * time.Second})
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, data
}

func graphJSON(t *testing.T, g *models.Graph) string {
	t.Helper()

	data, err := graph.Encode(g)
	require.NoError(t, err)

	return string(data)
}

func TestAPIHandlers_CreateWorkflow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		body           any
		expectedStatus int
		expectedType   string
	}{
		{
			name:           "graph as string",
			body:           map[string]any{"name": "Critical triage", "graph_json": `{"nodes":[{"id":"start","type":"start"}]}`},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "graph as object",
			body:           `{"name":"Critical triage","graph_json":{"nodes":[{"id":"start","type":"start"}]}}`,
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "missing name",
			body:           map[string]any{"graph_json": `{"nodes":[]}`},
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
		{
			name:           "missing graph",
			body:           map[string]any{"name": "x"},
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
		{
			name:           "malformed graph",
			body:           map[string]any{"name": "x", "graph_json": `{"nodes":[{"type":"start"}]}`},
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
		{
			name:           "invalid json",
			body:           `{"name":`,
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app, _ := setupTestApp(t)

			resp, body := doRequest(t, app, http.MethodPost, "/api/v1/workflows", tt.body)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode, string(body))

			if tt.expectedType != "" {
				var problem map[string]any
				require.NoError(t, json.Unmarshal(body, &problem))
				assert.Equal(t, tt.expectedType, problem["type"])

				return
			}

			var workflow models.Workflow
			require.NoError(t, json.Unmarshal(body, &workflow))
			assert.NotEmpty(t, workflow.ID)
			assert.Equal(t, "Critical triage", workflow.Name)
			assert.Contains(t, workflow.GraphJSON, `"id":"start"`)
			assert.False(t, workflow.CreatedAt.IsZero())
		})
	}
}

func TestAPIHandlers_WorkflowLifecycle(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp, body := doRequest(t, app, http.MethodPost, "/api/v1/workflows", web.CreateWorkflowRequest{
		Name:      "Linear",
		GraphJSON: web.GraphPayload(graphJSON(t, testutil.CreateLinearGraph())),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var created models.Workflow
	require.NoError(t, json.Unmarshal(body, &created))

	resp, body = doRequest(t, app, http.MethodGet, "/api/v1/workflows/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var fetched models.Workflow
	require.NoError(t, json.Unmarshal(body, &fetched))
	assert.Equal(t, created.GraphJSON, fetched.GraphJSON)

	resp, body = doRequest(t, app, http.MethodPut, "/api/v1/workflows/"+created.ID, web.UpdateWorkflowRequest{
		Name:      "Escalation",
		GraphJSON: web.GraphPayload(graphJSON(t, testutil.CreateConnectedEscalationGraph())),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = doRequest(t, app, http.MethodGet, "/api/v1/workflows?sort_by=name&limit=5", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list struct {
		Workflows  []models.Workflow `json:"workflows"`
		TotalCount int64             `json:"total_count"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list.Workflows, 1)
	assert.Equal(t, "Escalation", list.Workflows[0].Name)

	resp, _ = doRequest(t, app, http.MethodGet, "/api/v1/workflows?sort_by=owner", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doRequest(t, app, http.MethodGet, "/api/v1/workflows?limit=ten", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doRequest(t, app, http.MethodDelete, "/api/v1/workflows/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = doRequest(t, app, http.MethodGet, "/api/v1/workflows/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), "workflow_not_found")

	resp, _ = doRequest(t, app, http.MethodDelete, "/api/v1/workflows/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_ValidateWorkflow(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp, body := doRequest(t, app, http.MethodPost, "/api/v1/workflows/validate", map[string]any{"graph_json": `{"nodes":[]}`})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var result web.ValidationResponse
	require.NoError(t, json.Unmarshal(body, &result))
	assert.False(t, result.Valid)
	require.Len(t, result.Findings, 2)
	assert.Equal(t, validation.FindingNoStart, result.Findings[0].ID)
	assert.Equal(t, models.SeverityError, result.Findings[0].Severity)
	assert.Equal(t, validation.FindingNoEnd, result.Findings[1].ID)
	assert.Equal(t, models.SeverityWarning, result.Findings[1].Severity)

	resp, body = doRequest(t, app, http.MethodPost, "/api/v1/workflows/validate", map[string]any{
		"graph_json": graphJSON(t, testutil.CreateConnectedEscalationGraph()),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &result))
	assert.True(t, result.Valid)
}

func TestAPIHandlers_ExecuteWorkflow(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp, body := doRequest(t, app, http.MethodPost, "/api/v1/workflows/execute", map[string]any{
		"graph_json": graphJSON(t, testutil.CreateCriticalEscalationGraph()),
		"ticket":     testutil.CreateTestTicket("T-1", models.PriorityCritical),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var result web.ExecutionResponse
	require.NoError(t, json.Unmarshal(body, &result))
	assert.NotEmpty(t, result.ExecutionID)
	assert.Equal(t, models.RunStateCompleted, result.FinalState)
	assert.Empty(t, result.Error)
	require.Len(t, result.Trace, 4)
	assert.Equal(t, "escalate", result.Trace[2].NodeID)

	resp, body = doRequest(t, app, http.MethodGet, "/api/v1/executions/"+result.ExecutionID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stored web.ExecutionResponse
	require.NoError(t, json.Unmarshal(body, &stored))
	assert.Equal(t, result.ExecutionID, stored.ExecutionID)
	assert.NotNil(t, stored.FinishedAt)

	resp, _ = doRequest(t, app, http.MethodDelete, "/api/v1/executions/"+result.ExecutionID, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = doRequest(t, app, http.MethodGet, "/api/v1/executions/unknown", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_ExecuteWorkflowWithInputs(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	graph := `{"nodes":[` +
		`{"id":"start","type":"start"},` +
		`{"id":"check","type":"decision","params":{"conditionValue":"source = email"}},` +
		`{"id":"done","type":"end","params":{"outputs":{"via":"{{ .context.source }}"}}},` +
		`{"id":"other","type":"end"}],"edges":[` +
		`{"id":"e1","source":"start","target":"check"},` +
		`{"id":"e2","source":"check","target":"done","sourceHandle":"true"},` +
		`{"id":"e3","source":"check","target":"other","sourceHandle":"false"}]}`

	resp, body := doRequest(t, app, http.MethodPost, "/api/v1/workflows/execute", map[string]any{
		"graph_json": graph,
		"inputs":     map[string]any{"source": "email"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var result web.ExecutionResponse
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, models.RunStateCompleted, result.FinalState)
	require.Len(t, result.Trace, 3)
	assert.Equal(t, "done", result.Trace[2].NodeID)
	assert.Equal(t, "email", result.Context["source"])
	assert.Equal(t, map[string]any{"result": true}, result.Context["output_check"])
	assert.Equal(t, map[string]any{"via": "email"}, result.Output)
}

func TestAPIHandlers_ExecuteWorkflowFailures(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp, body := doRequest(t, app, http.MethodPost, "/api/v1/workflows/execute", map[string]any{"graph_json": `{"nodes":[]}`})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var result web.ExecutionResponse
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, models.RunStateFailed, result.FinalState)
	assert.Contains(t, result.Error, engine.ErrNoStartNode.Error())
	assert.Empty(t, result.Trace)

	resp, body = doRequest(t, app, http.MethodPost, "/api/v1/workflows/execute", map[string]any{
		"graph_json": `{"nodes":[{"id":"start","type":"start"},{"id":"check","type":"decision","params":{"conditionValue":""}},{"id":"end","type":"end"}]}`,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, models.RunStateFailed, result.FinalState)
	assert.Contains(t, result.Error, engine.ErrUnresolvedBranch.Error())

	resp, _ = doRequest(t, app, http.MethodPost, "/api/v1/workflows/execute", map[string]any{"graph_json": `{"nodes":[{"id":"a","type":"wormhole"}]}`})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIHandlers_ExecuteStoredWorkflow(t *testing.T) {
	t.Parallel()

	app, service := setupTestApp(t)

	created, err := service.Create(t.Context(), "Linear", graphJSON(t, testutil.CreateLinearGraph()))
	require.NoError(t, err)

	resp, body := doRequest(t, app, http.MethodPost, "/api/v1/workflows/"+created.ID+"/execute", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var result web.ExecutionResponse
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, created.ID, result.WorkflowID)
	assert.Equal(t, models.RunStateCompleted, result.FinalState)

	resp, body = doRequest(t, app, http.MethodPost, "/api/v1/workflows/"+created.ID+"/execute", map[string]any{
		"ticket": map[string]any{"id": "T-8"},
		"async":  true,
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))
	require.NoError(t, service.Wait(t.Context()))

	resp, body = doRequest(t, app, http.MethodGet, "/api/v1/workflows/"+created.ID+"/executions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var executions struct {
		Executions []web.ExecutionResponse `json:"executions"`
	}
	require.NoError(t, json.Unmarshal(body, &executions))
	assert.Len(t, executions.Executions, 2)

	resp, _ = doRequest(t, app, http.MethodPost, "/api/v1/workflows/missing/execute", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_ExportImport(t *testing.T) {
	t.Parallel()

	app, service := setupTestApp(t)

	created, err := service.Create(t.Context(), "Critical triage", graphJSON(t, testutil.CreateConnectedEscalationGraph()))
	require.NoError(t, err)

	resp, exported := doRequest(t, app, http.MethodGet, "/api/v1/workflows/"+created.ID+"/export", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), created.ID+".json")

	var file models.WorkflowFile
	require.NoError(t, json.Unmarshal(exported, &file))
	assert.Equal(t, "Critical triage", file.Metadata.Name)
	assert.Len(t, file.Edges, 4)

	resp, body := doRequest(t, app, http.MethodPost, "/api/v1/workflows/import", string(exported))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var imported models.Workflow
	require.NoError(t, json.Unmarshal(body, &imported))
	assert.NotEqual(t, created.ID, imported.ID)
	assert.Equal(t, created.GraphJSON, imported.GraphJSON)

	resp, _ = doRequest(t, app, http.MethodPost, "/api/v1/workflows/import", `{"metadata":{}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIHandlers_NodeTypes(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp, body := doRequest(t, app, http.MethodGet, "/api/v1/node-types", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var catalog struct {
		NodeTypes []registry.Descriptor `json:"node_types"`
	}
	require.NoError(t, json.Unmarshal(body, &catalog))
	assert.Len(t, catalog.NodeTypes, len(models.NodeTypes))

	resp, body = doRequest(t, app, http.MethodGet, "/api/v1/node-types/escalation", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var descriptor registry.Descriptor
	require.NoError(t, json.Unmarshal(body, &descriptor))
	assert.Equal(t, models.NodeTypeEscalation, descriptor.Type)
	assert.Contains(t, descriptor.RequiredParams, "escalationLevel")

	resp, _ = doRequest(t, app, http.MethodGet, "/api/v1/node-types/teleport", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp, body := doRequest(t, app, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]any
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "healthy", health["status"])
}
