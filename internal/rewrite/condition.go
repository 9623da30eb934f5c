package rewrite

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/docuflow/waypoint/model"
)

// ConditionEvaluator evaluates a boolean condition tree against a runtime
// context. It is a pure function holder: no state, safe for concurrent use.
type ConditionEvaluator struct{}

// NewConditionEvaluator creates a ConditionEvaluator.
func NewConditionEvaluator() *ConditionEvaluator {
	return &ConditionEvaluator{}
}

// EvaluateGroup evaluates a condition group: AND is true iff every child
// is true, OR iff any child is true. Both short-circuit.
func (e *ConditionEvaluator) EvaluateGroup(group model.ConditionGroup, rctx model.RuntimeContext) (bool, error) {
	switch group.Type {
	case model.GroupAnd:
		for _, child := range group.Children {
			ok, err := e.evaluateNode(child, rctx)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case model.GroupOr:
		for _, child := range group.Children {
			ok, err := e.evaluateNode(child, rctx)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
	return false, model.NewEvaluationError(fmt.Sprintf("unknown group type %q", group.Type))
}

func (e *ConditionEvaluator) evaluateNode(node model.ConditionNode, rctx model.RuntimeContext) (bool, error) {
	switch {
	case node.Group != nil:
		return e.EvaluateGroup(*node.Group, rctx)
	case node.Rule != nil:
		return e.evaluateLeaf(*node.Rule, rctx)
	}
	return false, model.NewEvaluationError("condition node has neither group nor rule")
}

// evaluateLeaf resolves the rule's field against the context and applies
// its operator.
func (e *ConditionEvaluator) evaluateLeaf(rule model.ConditionRule, rctx model.RuntimeContext) (bool, error) {
	actual := resolveField(rctx, rule.Field)

	switch rule.Operator {
	case model.OpEquals:
		return deepEqual(actual, rule.Value), nil
	case model.OpLessThan:
		a, aok := toFloat(actual)
		b, bok := toFloat(rule.Value)
		// Fails closed on non-numeric operands.
		return aok && bok && a < b, nil
	case model.OpGreaterThan:
		a, aok := toFloat(actual)
		b, bok := toFloat(rule.Value)
		return aok && bok && a > b, nil
	case model.OpContains:
		return contains(actual, rule.Value), nil
	case model.OpIn:
		return in(actual, rule.Value), nil
	}
	return false, model.NewEvaluationError(fmt.Sprintf("unknown operator %q", rule.Operator))
}

// resolveField resolves a dot-path into the runtime context. The first
// segment names one of the context's sections; missing paths resolve to a
// type-appropriate zero value rather than failing.
func resolveField(rctx model.RuntimeContext, field string) any {
	head, rest, _ := strings.Cut(field, ".")

	switch head {
	case "customer_data":
		return navigatePath(rctx.CustomerData, rest)
	case "transaction_data":
		return navigatePath(rctx.TransactionData, rest)
	case "risk_flags":
		return setValues(rctx.RiskFlags)
	case "compliance_requirements":
		return setValues(rctx.ComplianceRequirements)
	}
	return nil
}

// navigatePath navigates a dot-separated path through nested maps.
func navigatePath(data map[string]any, path string) any {
	if path == "" {
		return data
	}
	var current any = data
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[part]
	}
	return current
}

// setValues returns a set's members as a sorted slice so evaluation of the
// same context is deterministic.
func setValues(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for v, present := range set {
		if present {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

// deepEqual compares with numeric normalization: JSON decoding produces
// float64 where rule sources may carry int, and those must still match.
func deepEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

// toFloat converts any numeric type to float64.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// contains implements CONTAINS: substring for strings, membership for
// collections.
func contains(actual, needle any) bool {
	switch c := actual.(type) {
	case string:
		s, ok := needle.(string)
		return ok && strings.Contains(c, s)
	case []string:
		for _, item := range c {
			if deepEqual(item, needle) {
				return true
			}
		}
	case []any:
		for _, item := range c {
			if deepEqual(item, needle) {
				return true
			}
		}
	}
	return false
}

// in implements IN: the context value is a member of the provided list.
func in(actual, list any) bool {
	switch l := list.(type) {
	case []any:
		for _, item := range l {
			if deepEqual(actual, item) {
				return true
			}
		}
	case []string:
		for _, item := range l {
			if deepEqual(actual, item) {
				return true
			}
		}
	}
	return false
}
