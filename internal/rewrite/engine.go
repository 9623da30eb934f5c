// Package rewrite implements the condition-driven rule engine that
// mutates an in-flight journey's phase sequence at evaluation time.
package rewrite

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/docuflow/waypoint/internal/observability"
	"github.com/docuflow/waypoint/model"
)

// Engine produces a JourneyEvaluation from a journey and a runtime
// context without mutating the caller's journey.
type Engine struct {
	store     *RuleStore
	evaluator *ConditionEvaluator
	logger    *zap.Logger
	metrics   *observability.Metrics // optional
}

// NewEngine creates a rewrite engine. metrics may be nil.
func NewEngine(store *RuleStore, logger *zap.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{
		store:     store,
		evaluator: NewConditionEvaluator(),
		logger:    logger,
		metrics:   metrics,
	}
}

// Evaluate runs every active rule, highest priority first, against the
// runtime context and applies matching actions to a private copy of the
// phase list. Each rule observes the cumulative effect of all
// higher-priority rules. A single rule's failure is logged and skipped;
// the pass always returns a result.
func (e *Engine) Evaluate(ctx context.Context, journey model.Journey, rctx model.RuntimeContext) model.JourneyEvaluation {
	ctx, span := observability.StartSpan(ctx, "rewrite.Evaluate",
		observability.AttrJourneyID.String(journey.ID))
	defer span.End()
	start := time.Now()

	// Snapshot reference captured once: a concurrent reload cannot change
	// the rule set mid-pass.
	rules := e.store.Active()

	current := journey.Clone()
	var modifications []model.PhaseModification

	for _, rule := range rules {
		matched, err := e.evaluator.EvaluateGroup(rule.Condition, rctx)
		if err != nil {
			e.ruleFailed(ctx, rule.RuleID, "condition evaluation failed", err)
			continue
		}
		if e.metrics != nil {
			e.metrics.RuleEvaluationsTotal.WithLabelValues(fmt.Sprintf("%t", matched)).Inc()
		}
		if !matched {
			continue
		}

		next, mod, err := applyAction(current, rule)
		if err != nil {
			e.ruleFailed(ctx, rule.RuleID, "action application failed", err)
			continue
		}
		current = next
		modifications = append(modifications, mod)

		if e.metrics != nil && mod.Action != model.ModNoop {
			e.metrics.RuleApplicationsTotal.WithLabelValues(mod.Action).Inc()
		}
	}

	result := model.JourneyEvaluation{
		OriginalJourneyID: journey.ID,
		ModifiedJourney:   current,
		Modifications:     modifications,
		PhasesAdded:       max(0, len(current.Phases)-len(journey.Phases)),
		PhasesRemoved:     max(0, len(journey.Phases)-len(current.Phases)),
		RiskScore:         riskScore(modifications),
	}

	if e.metrics != nil {
		e.metrics.EvaluationDuration.Observe(time.Since(start).Seconds())
	}
	e.logger.Info("journey evaluated",
		zap.String("journey_id", journey.ID),
		zap.Int("rules", len(rules)),
		zap.Int("modifications", len(result.Modifications)),
		zap.Float64("risk_score", result.RiskScore),
	)
	return result
}

// ReloadRules refreshes the active rule snapshot from the source.
func (e *Engine) ReloadRules(ctx context.Context) error {
	err := e.store.Reload(ctx)
	if e.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		e.metrics.RuleReloadTotal.WithLabelValues(status).Inc()
		if err == nil {
			e.metrics.RulesLoaded.Set(float64(e.store.Len()))
		}
	}
	if err == nil {
		e.logger.Info("rewrite rules reloaded", zap.Int("active", e.store.Len()))
	}
	return err
}

func (e *Engine) ruleFailed(ctx context.Context, ruleID, msg string, err error) {
	observability.LoggerFrom(ctx, e.logger).Warn("rule skipped: "+msg,
		zap.String("rule_id", ruleID),
		zap.Error(err),
	)
	if e.metrics != nil {
		e.metrics.RuleFailuresTotal.WithLabelValues(ruleID).Inc()
	}
}

// applyAction applies a rule's action to a copy of the journey and
// returns the new journey plus the modification record.
func applyAction(journey model.Journey, rule model.RuleDefinition) (model.Journey, model.PhaseModification, error) {
	action := rule.Action
	mod := model.PhaseModification{
		PhaseID:        action.PhaseID,
		ReferencePhase: action.ReferencePhase,
		Reason:         action.Reason,
		Criticality:    action.Criticality,
		RuleID:         rule.RuleID,
	}

	next := journey.Clone()

	switch action.Type {
	case model.ActionInsertPhase:
		if next.HasPhase(action.PhaseID) {
			// Idempotence guard: a rule must never duplicate a phase.
			mod.Action = model.ModNoop
			return journey, mod, nil
		}
		next.Phases = insertPhase(next.Phases, action)
		mod.Action = model.ModInsert
		return next, mod, nil

	case model.ActionRemovePhase:
		filtered := next.Phases[:0]
		for _, p := range next.Phases {
			if p != action.PhaseID {
				filtered = append(filtered, p)
			}
		}
		if len(filtered) == len(next.Phases) {
			mod.Action = model.ModNoop
			return journey, mod, nil
		}
		next.Phases = filtered
		mod.Action = model.ModRemove
		return next, mod, nil

	case model.ActionReplacePhase:
		replaced := false
		for i, p := range next.Phases {
			if p == action.ReferencePhase {
				next.Phases[i] = action.PhaseID
				replaced = true
			}
		}
		if !replaced {
			mod.Action = model.ModNoop
			return journey, mod, nil
		}
		mod.Action = model.ModReplace
		return next, mod, nil
	}

	return journey, mod, model.NewEvaluationError(
		fmt.Sprintf("unknown action type %q in rule %s", action.Type, rule.RuleID))
}

// insertPhase places a phase per the action's position. A missing
// reference phase falls back to appending at the end rather than failing.
func insertPhase(phases []string, action model.RuleAction) []string {
	switch action.Position {
	case model.PositionAtStart:
		return append([]string{action.PhaseID}, phases...)
	case model.PositionBefore:
		for i, p := range phases {
			if p == action.ReferencePhase {
				out := make([]string, 0, len(phases)+1)
				out = append(out, phases[:i]...)
				out = append(out, action.PhaseID)
				out = append(out, phases[i:]...)
				return out
			}
		}
		return append(phases, action.PhaseID)
	case model.PositionAfter:
		for i, p := range phases {
			if p == action.ReferencePhase {
				out := make([]string, 0, len(phases)+1)
				out = append(out, phases[:i+1]...)
				out = append(out, action.PhaseID)
				out = append(out, phases[i+1:]...)
				return out
			}
		}
		return append(phases, action.PhaseID)
	}
	// AT_END and anything unrecognized append.
	return append(phases, action.PhaseID)
}

// riskScore is the mean criticality weight over applied (non-noop)
// modifications, clamped to [0,1]. No applied modifications scores 0.
func riskScore(mods []model.PhaseModification) float64 {
	var sum float64
	var n int
	for _, m := range mods {
		if m.Action == model.ModNoop {
			continue
		}
		sum += model.CriticalityWeight(m.Criticality)
		n++
	}
	if n == 0 {
		return 0.0
	}
	score := sum / float64(n)
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}
