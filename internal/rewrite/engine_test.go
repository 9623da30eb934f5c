package rewrite

import (
	"context"
	"reflect"
	"testing"

	"go.uber.org/zap"

	"github.com/docuflow/waypoint/model"
)

// --- Test helpers ---

func newTestEngine(t *testing.T, rules ...model.RuleDefinition) *Engine {
	t.Helper()
	store := NewRuleStore(&StaticRuleSource{Rules: rules})
	if err := store.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error: %v", err)
	}
	return NewEngine(store, zap.NewNop(), nil)
}

func onboardingJourney() model.Journey {
	return model.Journey{
		ID:     "journey-onboarding",
		Name:   "Customer Onboarding",
		Phases: []string{"identity-check", "document-upload", "account-setup"},
	}
}

func leafCondition(field, operator string, value any) model.ConditionGroup {
	return model.ConditionGroup{
		Type: model.GroupAnd,
		Children: []model.ConditionNode{
			{Rule: &model.ConditionRule{Field: field, Operator: operator, Value: value}},
		},
	}
}

func insertRule(id string, priority int, phaseID, position, reference, criticality string) model.RuleDefinition {
	return model.RuleDefinition{
		RuleID:    id,
		Name:      id,
		Priority:  priority,
		Active:    true,
		Condition: leafCondition("customer_data.credit_score", model.OpLessThan, 620),
		Action: model.RuleAction{
			Type:           model.ActionInsertPhase,
			PhaseID:        phaseID,
			Position:       position,
			ReferencePhase: reference,
			Criticality:    criticality,
		},
	}
}

func lowCreditContext() model.RuntimeContext {
	return model.RuntimeContext{
		CustomerData: map[string]any{"credit_score": 580},
	}
}

// --- Evaluate ---

func TestEvaluateInsertAfterReference(t *testing.T) {
	rule := insertRule("low-credit-review", 9, "manual-review", model.PositionAfter, "identity-check", model.CriticalityHigh)
	eng := newTestEngine(t, rule)

	result := eng.Evaluate(context.Background(), onboardingJourney(), lowCreditContext())

	want := []string{"identity-check", "manual-review", "document-upload", "account-setup"}
	if !reflect.DeepEqual(result.ModifiedJourney.Phases, want) {
		t.Errorf("phases = %v, want %v", result.ModifiedJourney.Phases, want)
	}
	if result.PhasesAdded != 1 {
		t.Errorf("PhasesAdded = %d, want 1", result.PhasesAdded)
	}
	if result.RiskScore != 0.6 {
		t.Errorf("RiskScore = %v, want 0.6", result.RiskScore)
	}
	if len(result.Modifications) != 1 || result.Modifications[0].Action != model.ModInsert {
		t.Fatalf("modifications = %+v, want one INSERT", result.Modifications)
	}
	if result.Modifications[0].RuleID != "low-credit-review" {
		t.Errorf("RuleID = %q, want low-credit-review", result.Modifications[0].RuleID)
	}
}

func TestEvaluateDoesNotMutateInput(t *testing.T) {
	rule := insertRule("r1", 5, "manual-review", model.PositionAtStart, "", model.CriticalityLow)
	eng := newTestEngine(t, rule)

	journey := onboardingJourney()
	eng.Evaluate(context.Background(), journey, lowCreditContext())

	if !reflect.DeepEqual(journey.Phases, onboardingJourney().Phases) {
		t.Errorf("input journey mutated: %v", journey.Phases)
	}
}

func TestEvaluateInsertExistingPhaseIsNoop(t *testing.T) {
	rule := insertRule("r1", 5, "document-upload", model.PositionAtEnd, "", model.CriticalityHigh)
	eng := newTestEngine(t, rule)

	result := eng.Evaluate(context.Background(), onboardingJourney(), lowCreditContext())

	if !reflect.DeepEqual(result.ModifiedJourney.Phases, onboardingJourney().Phases) {
		t.Errorf("phases changed: %v", result.ModifiedJourney.Phases)
	}
	if len(result.Modifications) != 1 || result.Modifications[0].Action != model.ModNoop {
		t.Fatalf("modifications = %+v, want one NOOP", result.Modifications)
	}
	if result.RiskScore != 0 {
		t.Errorf("RiskScore = %v, want 0 for noop-only pass", result.RiskScore)
	}
}

func TestEvaluatePriorityOrder(t *testing.T) {
	// The higher-priority rule runs first, so the lower-priority rule sees
	// its inserted phase and positions relative to it.
	first := insertRule("high", 9, "manual-review", model.PositionAfter, "identity-check", model.CriticalityHigh)
	second := insertRule("low", 2, "fraud-check", model.PositionAfter, "manual-review", model.CriticalityMedium)
	eng := newTestEngine(t, second, first)

	result := eng.Evaluate(context.Background(), onboardingJourney(), lowCreditContext())

	want := []string{"identity-check", "manual-review", "fraud-check", "document-upload", "account-setup"}
	if !reflect.DeepEqual(result.ModifiedJourney.Phases, want) {
		t.Errorf("phases = %v, want %v", result.ModifiedJourney.Phases, want)
	}
	if result.Modifications[0].RuleID != "high" || result.Modifications[1].RuleID != "low" {
		t.Errorf("modification order = %q then %q, want high then low",
			result.Modifications[0].RuleID, result.Modifications[1].RuleID)
	}
}

func TestEvaluateMissingReferenceFallsBackToAppend(t *testing.T) {
	rule := insertRule("r1", 5, "manual-review", model.PositionBefore, "no-such-phase", model.CriticalityLow)
	eng := newTestEngine(t, rule)

	result := eng.Evaluate(context.Background(), onboardingJourney(), lowCreditContext())

	phases := result.ModifiedJourney.Phases
	if phases[len(phases)-1] != "manual-review" {
		t.Errorf("phases = %v, want manual-review appended", phases)
	}
	if result.Modifications[0].Action != model.ModInsert {
		t.Errorf("action = %q, want INSERT", result.Modifications[0].Action)
	}
}

func TestEvaluateRemovePhase(t *testing.T) {
	rule := model.RuleDefinition{
		RuleID:    "skip-docs",
		Priority:  5,
		Active:    true,
		Condition: leafCondition("customer_data.tier", model.OpEquals, "vip"),
		Action: model.RuleAction{
			Type:        model.ActionRemovePhase,
			PhaseID:     "document-upload",
			Criticality: model.CriticalityMedium,
		},
	}
	eng := newTestEngine(t, rule)

	rctx := model.RuntimeContext{CustomerData: map[string]any{"tier": "vip"}}
	result := eng.Evaluate(context.Background(), onboardingJourney(), rctx)

	want := []string{"identity-check", "account-setup"}
	if !reflect.DeepEqual(result.ModifiedJourney.Phases, want) {
		t.Errorf("phases = %v, want %v", result.ModifiedJourney.Phases, want)
	}
	if result.PhasesRemoved != 1 {
		t.Errorf("PhasesRemoved = %d, want 1", result.PhasesRemoved)
	}
}

func TestEvaluateRemoveAbsentPhaseIsNoop(t *testing.T) {
	rule := model.RuleDefinition{
		RuleID:    "r1",
		Priority:  5,
		Active:    true,
		Condition: leafCondition("customer_data.credit_score", model.OpLessThan, 620),
		Action:    model.RuleAction{Type: model.ActionRemovePhase, PhaseID: "no-such-phase"},
	}
	eng := newTestEngine(t, rule)

	result := eng.Evaluate(context.Background(), onboardingJourney(), lowCreditContext())
	if result.Modifications[0].Action != model.ModNoop {
		t.Errorf("action = %q, want NOOP", result.Modifications[0].Action)
	}
}

func TestEvaluateReplacePhase(t *testing.T) {
	rule := model.RuleDefinition{
		RuleID:    "enhanced-identity",
		Priority:  5,
		Active:    true,
		Condition: leafCondition("risk_flags", model.OpContains, "pep"),
		Action: model.RuleAction{
			Type:           model.ActionReplacePhase,
			PhaseID:        "enhanced-identity-check",
			ReferencePhase: "identity-check",
			Criticality:    model.CriticalityCritical,
		},
	}
	eng := newTestEngine(t, rule)

	rctx := model.RuntimeContext{RiskFlags: map[string]bool{"pep": true}}
	result := eng.Evaluate(context.Background(), onboardingJourney(), rctx)

	want := []string{"enhanced-identity-check", "document-upload", "account-setup"}
	if !reflect.DeepEqual(result.ModifiedJourney.Phases, want) {
		t.Errorf("phases = %v, want %v", result.ModifiedJourney.Phases, want)
	}
	if result.RiskScore != 1.0 {
		t.Errorf("RiskScore = %v, want 1.0", result.RiskScore)
	}
	if result.PhasesAdded != 0 || result.PhasesRemoved != 0 {
		t.Errorf("added/removed = %d/%d, want 0/0 for replace", result.PhasesAdded, result.PhasesRemoved)
	}
}

func TestEvaluateRuleFailureIsolated(t *testing.T) {
	broken := model.RuleDefinition{
		RuleID:   "broken",
		Priority: 9,
		Active:   true,
		// Unknown group type fails condition evaluation.
		Condition: model.ConditionGroup{Type: "XOR"},
		Action:    model.RuleAction{Type: model.ActionInsertPhase, PhaseID: "x"},
	}
	good := insertRule("good", 5, "manual-review", model.PositionAtEnd, "", model.CriticalityLow)
	eng := newTestEngine(t, broken, good)

	result := eng.Evaluate(context.Background(), onboardingJourney(), lowCreditContext())

	if len(result.Modifications) != 1 || result.Modifications[0].RuleID != "good" {
		t.Fatalf("modifications = %+v, want only the good rule applied", result.Modifications)
	}
}

func TestEvaluateUnknownActionIsolated(t *testing.T) {
	bad := model.RuleDefinition{
		RuleID:    "bad-action",
		Priority:  9,
		Active:    true,
		Condition: leafCondition("customer_data.credit_score", model.OpLessThan, 620),
		Action:    model.RuleAction{Type: "SHUFFLE_PHASES", PhaseID: "x"},
	}
	eng := newTestEngine(t, bad)

	result := eng.Evaluate(context.Background(), onboardingJourney(), lowCreditContext())
	if len(result.Modifications) != 0 {
		t.Errorf("modifications = %+v, want none", result.Modifications)
	}
	if !reflect.DeepEqual(result.ModifiedJourney.Phases, onboardingJourney().Phases) {
		t.Errorf("phases changed: %v", result.ModifiedJourney.Phases)
	}
}

func TestEvaluateRiskScoreIsMeanOfApplied(t *testing.T) {
	high := insertRule("r-high", 9, "manual-review", model.PositionAtEnd, "", model.CriticalityHigh)
	low := insertRule("r-low", 5, "fraud-check", model.PositionAtEnd, "", model.CriticalityLow)
	noop := insertRule("r-noop", 1, "identity-check", model.PositionAtEnd, "", model.CriticalityCritical)
	eng := newTestEngine(t, high, low, noop)

	result := eng.Evaluate(context.Background(), onboardingJourney(), lowCreditContext())

	// Mean of 0.6 and 0.1; the noop's CRITICAL weight must not count.
	if got, want := result.RiskScore, (0.6+0.1)/2; got != want {
		t.Errorf("RiskScore = %v, want %v", got, want)
	}
}

func TestEvaluateNetDeltaCounts(t *testing.T) {
	insert := insertRule("add", 9, "manual-review", model.PositionAtEnd, "", model.CriticalityLow)
	remove := model.RuleDefinition{
		RuleID:    "drop",
		Priority:  5,
		Active:    true,
		Condition: leafCondition("customer_data.credit_score", model.OpLessThan, 620),
		Action:    model.RuleAction{Type: model.ActionRemovePhase, PhaseID: "document-upload"},
	}
	eng := newTestEngine(t, insert, remove)

	result := eng.Evaluate(context.Background(), onboardingJourney(), lowCreditContext())

	// Counts reflect the net length change, not per-modification totals.
	if result.PhasesAdded != 0 || result.PhasesRemoved != 0 {
		t.Errorf("added/removed = %d/%d, want 0/0 net", result.PhasesAdded, result.PhasesRemoved)
	}
	if len(result.Modifications) != 2 {
		t.Errorf("modifications = %d, want 2", len(result.Modifications))
	}
}

func TestEvaluateNoMatchingRules(t *testing.T) {
	rule := insertRule("r1", 5, "manual-review", model.PositionAtEnd, "", model.CriticalityHigh)
	eng := newTestEngine(t, rule)

	rctx := model.RuntimeContext{CustomerData: map[string]any{"credit_score": 780}}
	result := eng.Evaluate(context.Background(), onboardingJourney(), rctx)

	if len(result.Modifications) != 0 {
		t.Errorf("modifications = %+v, want none", result.Modifications)
	}
	if result.RiskScore != 0 {
		t.Errorf("RiskScore = %v, want 0", result.RiskScore)
	}
	if result.OriginalJourneyID != "journey-onboarding" {
		t.Errorf("OriginalJourneyID = %q", result.OriginalJourneyID)
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	rules := []model.RuleDefinition{
		insertRule("a", 9, "manual-review", model.PositionAfter, "identity-check", model.CriticalityHigh),
		insertRule("b", 9, "fraud-check", model.PositionAtEnd, "", model.CriticalityMedium),
		insertRule("c", 2, "final-review", model.PositionAtStart, "", model.CriticalityLow),
	}
	eng := newTestEngine(t, rules...)

	first := eng.Evaluate(context.Background(), onboardingJourney(), lowCreditContext())
	for i := 0; i < 10; i++ {
		again := eng.Evaluate(context.Background(), onboardingJourney(), lowCreditContext())
		if !reflect.DeepEqual(again.ModifiedJourney.Phases, first.ModifiedJourney.Phases) {
			t.Fatalf("run %d produced %v, first run produced %v",
				i, again.ModifiedJourney.Phases, first.ModifiedJourney.Phases)
		}
	}
}
