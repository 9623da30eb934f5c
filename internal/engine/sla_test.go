package engine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/docuflow/waypoint/model"
)

func seedProcessWithDue(t *testing.T, e *Engine, due *time.Time) model.ProcessInstance {
	t.Helper()
	now := time.Now().UTC()
	inst := model.ProcessInstance{
		ID:                  uuid.New().String(),
		ProcessDefinitionID: "loan-origination",
		Name:                "sla probe",
		Status:              model.ProcessStatusRunning,
		Priority:            model.PriorityMedium,
		DueDate:             due,
		SLAStatus:           model.SLAOnTrack,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := e.store.CreateProcess(context.Background(), inst); err != nil {
		t.Fatal(err)
	}
	return inst
}

func timePtr(t time.Time) *time.Time { return &t }

func TestCheckSLAComplianceBoundaries(t *testing.T) {
	e, _, _ := newTestEngine()
	now := time.Now().UTC()

	breached := seedProcessWithDue(t, e, timePtr(now.Add(-time.Second)))
	atRisk := seedProcessWithDue(t, e, timePtr(now.Add(10*time.Minute)))
	onTrack := seedProcessWithDue(t, e, timePtr(now.Add(20*time.Minute)))
	noDue := seedProcessWithDue(t, e, nil)

	violations, err := e.CheckSLACompliance(context.Background())
	if err != nil {
		t.Fatalf("CheckSLACompliance() error: %v", err)
	}
	if violations != 1 {
		t.Errorf("violations = %d, want 1", violations)
	}

	for _, tc := range []struct {
		id   string
		want string
	}{
		{breached.ID, model.SLABreached},
		{atRisk.ID, model.SLAAtRisk},
		{onTrack.ID, model.SLAOnTrack},
		{noDue.ID, model.SLAOnTrack},
	} {
		inst, _ := e.GetProcess(context.Background(), tc.id)
		if inst.SLAStatus != tc.want {
			t.Errorf("process %s SLAStatus = %q, want %q", tc.id, inst.SLAStatus, tc.want)
		}
	}
}

func TestCheckSLAComplianceEmitsEvents(t *testing.T) {
	e, st, b := newTestEngine()
	now := time.Now().UTC()

	breached := seedProcessWithDue(t, e, timePtr(now.Add(-time.Minute)))
	atRisk := seedProcessWithDue(t, e, timePtr(now.Add(5*time.Minute)))

	if _, err := e.CheckSLACompliance(context.Background()); err != nil {
		t.Fatal(err)
	}

	breachEvents, _ := st.ListProcessEvents(context.Background(), breached.ID)
	if len(breachEvents) != 1 || breachEvents[0].EventType != model.EventSLABreached {
		t.Fatalf("breach events = %+v, want one SLA_BREACHED", breachEvents)
	}
	if breachEvents[0].Severity != model.SeverityCritical || !breachEvents[0].Automated {
		t.Errorf("breach event = %+v, want automated critical", breachEvents[0])
	}

	riskEvents, _ := st.ListProcessEvents(context.Background(), atRisk.ID)
	if len(riskEvents) != 1 || riskEvents[0].EventType != model.EventSLAAtRisk {
		t.Fatalf("at-risk events = %+v, want one SLA_AT_RISK", riskEvents)
	}
	if riskEvents[0].Severity != model.SeverityWarning {
		t.Errorf("at-risk severity = %q, want WARNING", riskEvents[0].Severity)
	}

	if got := b.History(model.EventSLABreached, 0); len(got) != 1 {
		t.Errorf("bus breach events = %d, want 1", len(got))
	}
}

func TestCheckSLAComplianceIdempotent(t *testing.T) {
	e, st, _ := newTestEngine()
	now := time.Now().UTC()

	inst := seedProcessWithDue(t, e, timePtr(now.Add(-time.Minute)))

	if _, err := e.CheckSLACompliance(context.Background()); err != nil {
		t.Fatal(err)
	}
	// A second sweep still reports the breach but emits nothing new.
	violations, err := e.CheckSLACompliance(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if violations != 1 {
		t.Errorf("violations = %d, want 1", violations)
	}

	events, _ := st.ListProcessEvents(context.Background(), inst.ID)
	if len(events) != 1 {
		t.Errorf("events after two sweeps = %d, want 1", len(events))
	}
}

func TestCheckSLAComplianceSkipsTerminal(t *testing.T) {
	e, _, _ := newTestEngine()
	now := time.Now().UTC()

	inst := seedProcessWithDue(t, e, timePtr(now.Add(-time.Minute)))
	if _, err := e.CancelProcess(context.Background(), inst.ID, ""); err != nil {
		t.Fatal(err)
	}

	violations, err := e.CheckSLACompliance(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if violations != 0 {
		t.Errorf("violations = %d, want 0 for terminal process", violations)
	}
}

func TestCheckSLAComplianceCoversTasks(t *testing.T) {
	e, _, _ := newTestEngine()
	inst := startTestProcess(t, e, 60)

	task := createTestTask(t, e, inst.ID, "review", "alice")
	// Force the task overdue.
	loaded, _ := e.GetTask(context.Background(), task.ID)
	past := time.Now().UTC().Add(-time.Minute)
	loaded.DueDate = &past
	if err := e.store.UpdateTask(context.Background(), loaded); err != nil {
		t.Fatal(err)
	}

	violations, err := e.CheckSLACompliance(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if violations != 1 {
		t.Errorf("violations = %d, want 1", violations)
	}

	swept, _ := e.GetTask(context.Background(), task.ID)
	if swept.SLAStatus != model.SLABreached {
		t.Errorf("task SLAStatus = %q, want BREACHED", swept.SLAStatus)
	}
}

func TestAtRiskWindowOverride(t *testing.T) {
	e, _, _ := newTestEngine(WithAtRiskWindow(30 * time.Minute))
	now := time.Now().UTC()

	inst := seedProcessWithDue(t, e, timePtr(now.Add(20*time.Minute)))

	if _, err := e.CheckSLACompliance(context.Background()); err != nil {
		t.Fatal(err)
	}
	swept, _ := e.GetProcess(context.Background(), inst.ID)
	if swept.SLAStatus != model.SLAAtRisk {
		t.Errorf("SLAStatus = %q, want AT_RISK inside widened window", swept.SLAStatus)
	}
}
