package router

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docuflow/waypoint/internal/bus"
	"github.com/docuflow/waypoint/internal/store"
	"github.com/docuflow/waypoint/model"
)

func newTestRouter() (*TaskRouter, *store.MemoryStore, *bus.EventBus) {
	st := store.NewMemoryStore()
	b := bus.New(zap.NewNop())
	return New(st, b, zap.NewNop(), nil), st, b
}

func seedTask(t *testing.T, st *store.MemoryStore, status, assignedTo string) model.Task {
	t.Helper()
	now := time.Now().UTC()
	task := model.Task{
		ID:                uuid.New().String(),
		ProcessInstanceID: "proc-1",
		TaskDefinitionID:  "review",
		Name:              "Review Documents",
		Type:              "human",
		Status:            status,
		Priority:          model.PriorityMedium,
		AssignedTo:        assignedTo,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := st.CreateTask(context.Background(), task); err != nil {
		t.Fatal(err)
	}
	return task
}

func wantErrCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("error is nil, want code %s", code)
	}
	if got := model.ErrorCode(err); got != code {
		t.Fatalf("error code = %s, want %s (%v)", got, code, err)
	}
}

func TestAssignRoundRobinCyclesPool(t *testing.T) {
	r, st, _ := newTestRouter()
	pool := []string{"alice", "bob", "carol"}

	var got []string
	for i := 0; i < 4; i++ {
		task := seedTask(t, st, model.TaskStatusPending, "")
		assignment, err := r.Assign(context.Background(), AssignInput{
			TaskID: task.ID,
			Method: model.AssignRoundRobin,
			Team:   "underwriting",
			Pool:   pool,
		})
		if err != nil {
			t.Fatalf("Assign() error: %v", err)
		}
		got = append(got, assignment.AssignedTo)
	}

	want := []string{"alice", "bob", "carol", "alice"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("assignment %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestAssignRoundRobinCountersPerTeam(t *testing.T) {
	r, st, _ := newTestRouter()
	pool := []string{"alice", "bob"}

	first := seedTask(t, st, model.TaskStatusPending, "")
	a1, err := r.Assign(context.Background(), AssignInput{
		TaskID: first.ID, Method: model.AssignRoundRobin, Team: "ops", Pool: pool,
	})
	if err != nil {
		t.Fatal(err)
	}

	// A different team has its own counter and starts from the top.
	second := seedTask(t, st, model.TaskStatusPending, "")
	a2, err := r.Assign(context.Background(), AssignInput{
		TaskID: second.ID, Method: model.AssignRoundRobin, Team: "compliance", Pool: pool,
	})
	if err != nil {
		t.Fatal(err)
	}

	if a1.AssignedTo != "alice" || a2.AssignedTo != "alice" {
		t.Errorf("assignees = %q, %q, want alice for both fresh teams", a1.AssignedTo, a2.AssignedTo)
	}
}

func TestAssignLoadBalancedPicksLeastLoaded(t *testing.T) {
	r, st, _ := newTestRouter()

	// alice carries two active tasks, bob one, carol none.
	seedTask(t, st, model.TaskStatusAssigned, "alice")
	seedTask(t, st, model.TaskStatusInProgress, "alice")
	seedTask(t, st, model.TaskStatusAssigned, "bob")
	// Completed work does not count toward load.
	seedTask(t, st, model.TaskStatusCompleted, "carol")

	task := seedTask(t, st, model.TaskStatusPending, "")
	assignment, err := r.Assign(context.Background(), AssignInput{
		TaskID: task.ID,
		Method: model.AssignLoadBalanced,
		Pool:   []string{"alice", "bob", "carol"},
	})
	if err != nil {
		t.Fatalf("Assign() error: %v", err)
	}
	if assignment.AssignedTo != "carol" {
		t.Errorf("AssignedTo = %q, want carol", assignment.AssignedTo)
	}
}

func TestAssignLoadBalancedTieBreaksLexicographically(t *testing.T) {
	r, st, _ := newTestRouter()

	task := seedTask(t, st, model.TaskStatusPending, "")
	assignment, err := r.Assign(context.Background(), AssignInput{
		TaskID: task.ID,
		Method: model.AssignLoadBalanced,
		Pool:   []string{"zoe", "bob", "alice"},
	})
	if err != nil {
		t.Fatalf("Assign() error: %v", err)
	}
	if assignment.AssignedTo != "alice" {
		t.Errorf("AssignedTo = %q, want alice on all-zero tie", assignment.AssignedTo)
	}
}

func TestAssignSkillBasedDegradesToLoadBalanced(t *testing.T) {
	r, st, _ := newTestRouter()

	seedTask(t, st, model.TaskStatusAssigned, "alice")

	task := seedTask(t, st, model.TaskStatusPending, "")
	assignment, err := r.Assign(context.Background(), AssignInput{
		TaskID: task.ID,
		Method: model.AssignSkillBased,
		Pool:   []string{"alice", "bob"},
	})
	if err != nil {
		t.Fatalf("Assign() error: %v", err)
	}
	if assignment.AssignedTo != "bob" {
		t.Errorf("AssignedTo = %q, want bob", assignment.AssignedTo)
	}
	if assignment.Method != model.AssignSkillBased {
		t.Errorf("Method = %q, want SKILL_BASED", assignment.Method)
	}
	if len(assignment.Reason) == 0 || assignment.Reason[:22] != "skill data unavailable" {
		t.Errorf("Reason = %q, want skill-data-unavailable prefix", assignment.Reason)
	}
}

func TestAssignValidation(t *testing.T) {
	r, st, _ := newTestRouter()
	task := seedTask(t, st, model.TaskStatusPending, "")

	tests := []struct {
		name string
		in   AssignInput
		code string
	}{
		{
			name: "manual rejected",
			in:   AssignInput{TaskID: task.ID, Method: model.AssignManual, Pool: []string{"alice"}},
			code: model.ErrInvalidArgument,
		},
		{
			name: "empty pool",
			in:   AssignInput{TaskID: task.ID, Method: model.AssignRoundRobin},
			code: model.ErrInvalidArgument,
		},
		{
			name: "unknown method",
			in:   AssignInput{TaskID: task.ID, Method: "COIN_FLIP", Pool: []string{"alice"}},
			code: model.ErrInvalidArgument,
		},
		{
			name: "missing task",
			in:   AssignInput{TaskID: "nope", Method: model.AssignRoundRobin, Pool: []string{"alice"}},
			code: model.ErrNotFound,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Assign(context.Background(), tc.in)
			wantErrCode(t, err, tc.code)
		})
	}
}

func TestAssignTerminalTaskRejected(t *testing.T) {
	r, st, _ := newTestRouter()
	task := seedTask(t, st, model.TaskStatusCompleted, "alice")

	_, err := r.Assign(context.Background(), AssignInput{
		TaskID: task.ID, Method: model.AssignRoundRobin, Pool: []string{"bob"},
	})
	wantErrCode(t, err, model.ErrConflict)
}

func TestAssignUpdatesTaskAndRecordsHistory(t *testing.T) {
	r, st, b := newTestRouter()
	task := seedTask(t, st, model.TaskStatusPending, "")

	assignment, err := r.Assign(context.Background(), AssignInput{
		TaskID: task.ID, Method: model.AssignRoundRobin, Pool: []string{"alice"},
	})
	if err != nil {
		t.Fatalf("Assign() error: %v", err)
	}

	updated, err := st.GetTask(context.Background(), task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != model.TaskStatusAssigned {
		t.Errorf("Status = %q, want ASSIGNED", updated.Status)
	}
	if updated.AssignedTo != "alice" {
		t.Errorf("AssignedTo = %q, want alice", updated.AssignedTo)
	}

	history, err := r.History(context.Background(), task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 {
		t.Fatalf("len(history) = %d, want 1", len(history))
	}
	if history[0].ID != assignment.ID || history[0].Status != model.AssignmentActive {
		t.Errorf("history[0] = %+v, want active %s", history[0], assignment.ID)
	}
	if history[0].AssignedBy != "system" {
		t.Errorf("AssignedBy = %q, want system without request context", history[0].AssignedBy)
	}

	events, _ := st.ListProcessEvents(context.Background(), task.ProcessInstanceID)
	if len(events) != 1 || events[0].EventType != model.EventTaskAssigned {
		t.Fatalf("events = %+v, want one TASK_ASSIGNED", events)
	}
	if got := b.History(model.EventTaskAssigned, 0); len(got) != 1 {
		t.Errorf("bus events = %d, want 1", len(got))
	}
}

func TestReassignClosesPreviousAssignment(t *testing.T) {
	r, st, _ := newTestRouter()
	task := seedTask(t, st, model.TaskStatusPending, "")

	if _, err := r.Assign(context.Background(), AssignInput{
		TaskID: task.ID, Method: model.AssignRoundRobin, Pool: []string{"alice"},
	}); err != nil {
		t.Fatal(err)
	}

	assignment, err := r.Reassign(context.Background(), task.ID, "bob", "alice is out sick")
	if err != nil {
		t.Fatalf("Reassign() error: %v", err)
	}
	if assignment.AssignedTo != "bob" {
		t.Errorf("AssignedTo = %q, want bob", assignment.AssignedTo)
	}
	if assignment.Reason != "alice is out sick" {
		t.Errorf("Reason = %q", assignment.Reason)
	}

	history, err := st.ListAssignments(context.Background(), task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("len(history) = %d, want 2", len(history))
	}
	if history[0].Status != model.AssignmentReassigned {
		t.Errorf("history[0].Status = %q, want reassigned", history[0].Status)
	}
	if history[1].Status != model.AssignmentActive || history[1].AssignedTo != "bob" {
		t.Errorf("history[1] = %+v, want active bob", history[1])
	}

	events, _ := st.ListProcessEvents(context.Background(), task.ProcessInstanceID)
	var reassigned *model.ProcessEvent
	for i := range events {
		if events[i].EventType == model.EventTaskReassigned {
			reassigned = &events[i]
		}
	}
	if reassigned == nil {
		t.Fatal("no TASK_REASSIGNED event recorded")
	}
	if reassigned.Details["previous_assignee"] != "alice" {
		t.Errorf("previous_assignee = %v, want alice", reassigned.Details["previous_assignee"])
	}
}

func TestReassignValidation(t *testing.T) {
	r, st, _ := newTestRouter()

	_, err := r.Reassign(context.Background(), "any", "", "reason")
	wantErrCode(t, err, model.ErrInvalidArgument)

	_, err = r.Reassign(context.Background(), "missing", "bob", "reason")
	wantErrCode(t, err, model.ErrNotFound)

	done := seedTask(t, st, model.TaskStatusCancelled, "alice")
	_, err = r.Reassign(context.Background(), done.ID, "bob", "reason")
	wantErrCode(t, err, model.ErrConflict)
}

func TestHistoryMissingTask(t *testing.T) {
	r, _, _ := newTestRouter()
	_, err := r.History(context.Background(), "missing")
	wantErrCode(t, err, model.ErrNotFound)
}
