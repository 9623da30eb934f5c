package integration

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docuflow/waypoint/model"
)

func startProcess(t *testing.T, h *TestHarness, token string, body map[string]any) model.ProcessInstance {
	t.Helper()
	resp := h.POST("/api/v1/processes", body, token)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var inst model.ProcessInstance
	h.ParseJSON(resp, &inst)
	return inst
}

func createTask(t *testing.T, h *TestHarness, token, processID string, body map[string]any) model.Task {
	t.Helper()
	body["process_instance_id"] = processID
	resp := h.POST("/api/v1/tasks", body, token)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var task model.Task
	h.ParseJSON(resp, &task)
	return task
}

func TestProcessLifecycle_StartToComplete(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(OperatorClaims())

	inst := startProcess(t, h, token, map[string]any{
		"process_definition_id": "loan-origination",
		"name":                  "Loan LN-1042",
		"type":                  "approval",
		"priority":              model.PriorityHigh,
		"sla_target_mins":       240,
		"input_data":            map[string]any{"amount": 50000, "currency": "EUR"},
	})

	assert.Equal(t, model.ProcessStatusRunning, inst.Status)
	assert.Equal(t, "user-operator", inst.InitiatedBy)
	assert.NotNil(t, inst.DueDate)
	assert.Equal(t, model.SLAOnTrack, inst.SLAStatus)

	review := createTask(t, h, token, inst.ID, map[string]any{
		"task_definition_id": "document-review",
		"name":               "Review Documents",
		"type":               "human",
		"assigned_to":        "alice",
	})
	assert.Equal(t, model.TaskStatusAssigned, review.Status)
	// An unset task priority inherits from the process.
	assert.Equal(t, model.PriorityHigh, review.Priority)

	resp := h.POST("/api/v1/tasks/"+review.ID+"/start", map[string]any{}, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var started model.Task
	h.ParseJSON(resp, &started)
	assert.Equal(t, model.TaskStatusInProgress, started.Status)
	assert.Equal(t, "user-operator", started.ClaimedBy)

	resp = h.POST("/api/v1/tasks/"+review.ID+"/complete", map[string]any{
		"output": map[string]any{"verdict": "approved"},
	}, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var completed model.Task
	h.ParseJSON(resp, &completed)
	assert.Equal(t, model.TaskStatusCompleted, completed.Status)
	assert.Equal(t, "approved", completed.OutputData["verdict"])

	// All tasks done, the process auto-completes.
	resp = h.GET("/api/v1/processes/"+inst.ID, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var final model.ProcessInstance
	h.ParseJSON(resp, &final)
	assert.Equal(t, model.ProcessStatusCompleted, final.Status)
	assert.Equal(t, float64(100), final.ProgressPercentage)
	assert.NotNil(t, final.CompletedAt)
}

func TestProcessLifecycle_CompleteWithOutput(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(SupervisorClaims())

	inst := startProcess(t, h, token, map[string]any{
		"process_definition_id": "loan-origination",
		"name":                  "Loan LN-11",
	})

	resp := h.POST("/api/v1/processes/"+inst.ID+"/status", map[string]any{
		"status": model.ProcessStatusCompleted,
		"output": map[string]any{"verdict": "approved", "approved_amount": 12000},
	}, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var completed model.ProcessInstance
	h.ParseJSON(resp, &completed)
	assert.Equal(t, model.ProcessStatusCompleted, completed.Status)
	assert.Equal(t, "approved", completed.OutputData["verdict"])
	assert.Equal(t, float64(100), completed.ProgressPercentage)

	resp = h.GET("/api/v1/processes/"+inst.ID, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var fetched model.ProcessInstance
	h.ParseJSON(resp, &fetched)
	assert.Equal(t, "approved", fetched.OutputData["verdict"])
}

func TestProcessLifecycle_AuditTrail(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(OperatorClaims())

	inst := startProcess(t, h, token, map[string]any{
		"process_definition_id": "loan-origination",
		"name":                  "Loan LN-7",
	})
	task := createTask(t, h, token, inst.ID, map[string]any{
		"task_definition_id": "kyc",
		"name":               "KYC Check",
		"type":               "human",
		"assigned_to":        "bob",
	})
	resp := h.POST("/api/v1/tasks/"+task.ID+"/fail", map[string]any{
		"error": "identity mismatch",
	}, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = h.GET("/api/v1/processes/"+inst.ID+"/events", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Events []model.ProcessEvent `json:"events"`
	}
	h.ParseJSON(resp, &body)

	types := make([]string, len(body.Events))
	for i, evt := range body.Events {
		types[i] = evt.EventType
	}
	assert.Contains(t, types, model.EventProcessStarted)
	assert.Contains(t, types, model.EventTaskCreated)
	assert.Contains(t, types, model.EventTaskFailed)
	// A failed task takes the parent process down with it.
	assert.Contains(t, types, model.EventProcessFailed)

	resp = h.GET("/api/v1/processes/"+inst.ID, token)
	var failed model.ProcessInstance
	h.ParseJSON(resp, &failed)
	assert.Equal(t, model.ProcessStatusFailed, failed.Status)
	assert.Contains(t, failed.ErrorMessage, "KYC Check")
}

func TestProcessLifecycle_SuspendResume(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(SupervisorClaims())

	inst := startProcess(t, h, token, map[string]any{
		"process_definition_id": "loan-origination",
		"name":                  "Loan LN-8",
	})

	resp := h.POST("/api/v1/processes/"+inst.ID+"/suspend", map[string]any{
		"reason": "awaiting external fraud check",
	}, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var suspended model.ProcessInstance
	h.ParseJSON(resp, &suspended)
	assert.Equal(t, model.ProcessStatusSuspended, suspended.Status)

	// Suspending twice is a conflict.
	resp = h.POST("/api/v1/processes/"+inst.ID+"/suspend", map[string]any{}, token)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp = h.POST("/api/v1/processes/"+inst.ID+"/resume", map[string]any{}, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var resumed model.ProcessInstance
	h.ParseJSON(resp, &resumed)
	assert.Equal(t, model.ProcessStatusRunning, resumed.Status)
}

func TestProcessLifecycle_CancelIsTerminal(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(OperatorClaims())

	inst := startProcess(t, h, token, map[string]any{
		"process_definition_id": "loan-origination",
		"name":                  "Loan LN-9",
	})

	resp := h.POST("/api/v1/processes/"+inst.ID+"/cancel", map[string]any{
		"reason": "customer withdrew application",
	}, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cancelled model.ProcessInstance
	h.ParseJSON(resp, &cancelled)
	assert.Equal(t, model.ProcessStatusCancelled, cancelled.Status)

	// No transitions out of a terminal state.
	resp = h.POST("/api/v1/processes/"+inst.ID+"/status", map[string]any{
		"status": model.ProcessStatusRunning,
	}, token)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	// Nor new tasks under it.
	resp = h.POST("/api/v1/tasks", map[string]any{
		"process_instance_id": inst.ID,
		"task_definition_id":  "late-task",
		"name":                "Late Task",
	}, token)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestProcessLifecycle_IdempotentStart(t *testing.T) {
	h := NewTestHarness(t, WithIdempotency())
	token := h.GenerateToken(OperatorClaims())

	body := map[string]any{
		"process_definition_id": "loan-origination",
		"name":                  "Loan LN-10",
		"input_data":            map[string]any{"amount": 12000},
	}
	headers := map[string]string{"Idempotency-Key": "client-key-1"}

	resp := h.POSTWithHeaders("/api/v1/processes", body, token, headers)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var first model.ProcessInstance
	h.ParseJSON(resp, &first)

	// Replaying the same request returns the original instance.
	resp = h.POSTWithHeaders("/api/v1/processes", body, token, headers)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var second model.ProcessInstance
	h.ParseJSON(resp, &second)
	assert.Equal(t, first.ID, second.ID)

	// Same key with different input is a conflict.
	body["input_data"] = map[string]any{"amount": 99999}
	resp = h.POSTWithHeaders("/api/v1/processes", body, token, headers)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestProcessLifecycle_ValidationErrors(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(OperatorClaims())

	resp := h.POST("/api/v1/processes", map[string]any{"name": "no definition"}, token)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = h.GET("/api/v1/processes/does-not-exist", token)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}
