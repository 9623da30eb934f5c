package integration

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docuflow/waypoint/model"
)

func onboardingJourney() map[string]any {
	return map[string]any{
		"id":     "journey-onboarding",
		"name":   "Customer Onboarding",
		"phases": []string{"identity-check", "document-upload", "standard-screening", "account-setup"},
	}
}

func evaluateJourney(t *testing.T, h *TestHarness, token string, context map[string]any) model.JourneyEvaluation {
	t.Helper()
	resp := h.POST("/api/v1/journeys/evaluate", map[string]any{
		"journey": onboardingJourney(),
		"context": context,
	}, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result model.JourneyEvaluation
	h.ParseJSON(resp, &result)
	return result
}

func TestJourney_LowCreditInsertsManualReview(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(OperatorClaims())

	result := evaluateJourney(t, h, token, map[string]any{
		"customer_data": map[string]any{"credit_score": 580},
	})

	assert.Equal(t, "journey-onboarding", result.OriginalJourneyID)
	assert.Equal(t,
		[]string{"identity-check", "manual-review", "document-upload", "standard-screening", "account-setup"},
		result.ModifiedJourney.Phases)
	assert.Equal(t, 1, result.PhasesAdded)
	assert.Equal(t, 0, result.PhasesRemoved)
	// A single HIGH criticality modification scores 0.6.
	assert.InDelta(t, 0.6, result.RiskScore, 1e-9)

	require.Len(t, result.Modifications, 1)
	assert.Equal(t, model.ModInsert, result.Modifications[0].Action)
	assert.Equal(t, "low-credit-manual-review", result.Modifications[0].RuleID)
}

func TestJourney_CleanContextIsUntouched(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(OperatorClaims())

	result := evaluateJourney(t, h, token, map[string]any{
		"customer_data": map[string]any{"credit_score": 720, "tier": "standard"},
	})

	assert.Equal(t,
		[]string{"identity-check", "document-upload", "standard-screening", "account-setup"},
		result.ModifiedJourney.Phases)
	assert.Empty(t, result.Modifications)
	assert.Zero(t, result.RiskScore)
}

func TestJourney_MultipleRulesCompose(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(OperatorClaims())

	// Low credit VIP with a PEP flag trips all three active rules.
	result := evaluateJourney(t, h, token, map[string]any{
		"customer_data": map[string]any{"credit_score": 500, "tier": "vip"},
		"risk_flags":    map[string]bool{"pep": true},
	})

	assert.Equal(t,
		[]string{"identity-check", "manual-review", "enhanced-due-diligence", "account-setup"},
		result.ModifiedJourney.Phases)
	require.Len(t, result.Modifications, 3)
	// Net phase delta: one added, one removed, one replaced in place.
	assert.Equal(t, 0, result.PhasesAdded)
	assert.Equal(t, 0, result.PhasesRemoved)
	// Mean of HIGH, CRITICAL, and LOW weights.
	assert.InDelta(t, (0.6+1.0+0.1)/3, result.RiskScore, 1e-9)

	// Priority order: credit rule (10), then pep rule (8), then vip rule (5).
	assert.Equal(t, "low-credit-manual-review", result.Modifications[0].RuleID)
	assert.Equal(t, "pep-enhanced-screening", result.Modifications[1].RuleID)
	assert.Equal(t, "vip-skip-document-upload", result.Modifications[2].RuleID)
}

func TestJourney_InactiveRulesAreFiltered(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(OperatorClaims())

	resp := h.GET("/api/v1/rules", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Rules []model.RuleDefinition `json:"rules"`
	}
	h.ParseJSON(resp, &body)
	require.Len(t, body.Rules, 3)
	for _, rule := range body.Rules {
		assert.NotEqual(t, "retired-sanctions-hold", rule.RuleID)
	}

	// The retired rule never fires even when its condition holds.
	result := evaluateJourney(t, h, token, map[string]any{
		"risk_flags": map[string]bool{"sanctions_hit": true},
	})
	assert.Empty(t, result.Modifications)
}

func TestJourney_HotReloadPicksUpRuleChanges(t *testing.T) {
	rulesFile := WriteRulesFile(t, `
rules:
  - rule_id: always-append-survey
    name: Append satisfaction survey
    priority: 1
    active: true
    version: 1
    condition:
      type: AND
      children: []
    action:
      type: INSERT_PHASE
      phase_id: satisfaction-survey
      position: AT_END
      criticality: LOW
`)
	h := NewTestHarness(t, WithRulesFile(rulesFile))
	token := h.GenerateToken(SupervisorClaims())

	result := evaluateJourney(t, h, token, map[string]any{})
	require.Len(t, result.Modifications, 1)
	assert.Equal(t, "satisfaction-survey", result.ModifiedJourney.Phases[len(result.ModifiedJourney.Phases)-1])

	// Publish a new rule set and reload without restarting.
	WriteRulesFileAt(t, rulesFile, "rules: []\n")
	resp := h.POST("/api/v1/rules/reload", map[string]any{}, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var reload map[string]any
	h.ParseJSON(resp, &reload)
	assert.Equal(t, "reloaded", reload["status"])
	assert.Equal(t, float64(0), reload["active_rules"])

	result = evaluateJourney(t, h, token, map[string]any{})
	assert.Empty(t, result.Modifications)
}

func TestJourney_EvaluateRequiresJourneyID(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(OperatorClaims())

	resp := h.POST("/api/v1/journeys/evaluate", map[string]any{
		"journey": map[string]any{"phases": []string{"a"}},
	}, token)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}
