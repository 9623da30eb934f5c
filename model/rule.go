package model

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Condition group types.
const (
	GroupAnd = "AND"
	GroupOr  = "OR"
)

// Leaf condition operators.
const (
	OpEquals      = "EQUALS"
	OpLessThan    = "LESS_THAN"
	OpGreaterThan = "GREATER_THAN"
	OpContains    = "CONTAINS"
	OpIn          = "IN"
)

// Rule action types.
const (
	ActionInsertPhase  = "INSERT_PHASE"
	ActionRemovePhase  = "REMOVE_PHASE"
	ActionReplacePhase = "REPLACE_PHASE"
)

// Insert positions for INSERT_PHASE actions.
const (
	PositionAtStart = "AT_START"
	PositionAtEnd   = "AT_END"
	PositionBefore  = "BEFORE"
	PositionAfter   = "AFTER"
)

// Criticality labels, used both on modifications and for risk scoring.
const (
	CriticalityLow      = "LOW"
	CriticalityMedium   = "MEDIUM"
	CriticalityHigh     = "HIGH"
	CriticalityCritical = "CRITICAL"
)

// RuleDefinition is a priority-ordered condition→action pair. Definitions
// are immutable once published except via an explicit version bump.
type RuleDefinition struct {
	RuleID      string         `json:"rule_id" yaml:"rule_id"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Priority    int            `json:"priority" yaml:"priority"`
	Active      bool           `json:"active" yaml:"active"`
	Version     int            `json:"version" yaml:"version"`
	Condition   ConditionGroup `json:"condition" yaml:"condition"`
	Action      RuleAction     `json:"action" yaml:"action"`
	CreatedBy   string         `json:"created_by,omitempty" yaml:"created_by,omitempty"`
	CreatedAt   time.Time      `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

// ConditionGroup is a recursive boolean expression: AND is true iff every
// child is true, OR iff any child is true.
type ConditionGroup struct {
	Type     string          `json:"type" yaml:"type"`
	Children []ConditionNode `json:"children" yaml:"children"`
}

// ConditionRule is a leaf predicate against a dot-path into the runtime
// context.
type ConditionRule struct {
	Field    string `json:"field" yaml:"field"`
	Operator string `json:"operator" yaml:"operator"`
	Value    any    `json:"value" yaml:"value"`
}

// ConditionNode is a tagged variant holding either a nested group or a
// leaf rule. Exactly one of the two is set.
type ConditionNode struct {
	Group *ConditionGroup
	Rule  *ConditionRule
}

// UnmarshalJSON decodes a node as a group when a "type" key with children
// is present, otherwise as a leaf rule.
func (n *ConditionNode) UnmarshalJSON(data []byte) error {
	var probe struct {
		Type  string `json:"type"`
		Field string `json:"field"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if probe.Type != "" && probe.Field == "" {
		var g ConditionGroup
		if err := json.Unmarshal(data, &g); err != nil {
			return err
		}
		n.Group = &g
		return nil
	}
	var r ConditionRule
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	n.Rule = &r
	return nil
}

// MarshalJSON emits whichever variant is populated.
func (n ConditionNode) MarshalJSON() ([]byte, error) {
	switch {
	case n.Group != nil:
		return json.Marshal(n.Group)
	case n.Rule != nil:
		return json.Marshal(n.Rule)
	}
	return nil, fmt.Errorf("condition node has neither group nor rule")
}

// UnmarshalYAML mirrors the JSON tagging rules for YAML rule sources.
func (n *ConditionNode) UnmarshalYAML(value *yaml.Node) error {
	var probe struct {
		Type  string `yaml:"type"`
		Field string `yaml:"field"`
	}
	if err := value.Decode(&probe); err != nil {
		return err
	}
	if probe.Type != "" && probe.Field == "" {
		var g ConditionGroup
		if err := value.Decode(&g); err != nil {
			return err
		}
		n.Group = &g
		return nil
	}
	var r ConditionRule
	if err := value.Decode(&r); err != nil {
		return err
	}
	n.Rule = &r
	return nil
}

// RuleAction describes the journey mutation a matching rule applies.
type RuleAction struct {
	Type           string `json:"type" yaml:"type"`
	PhaseID        string `json:"phase_id" yaml:"phase_id"`
	Position       string `json:"position,omitempty" yaml:"position,omitempty"`
	ReferencePhase string `json:"reference_phase,omitempty" yaml:"reference_phase,omitempty"`
	Reason         string `json:"reason,omitempty" yaml:"reason,omitempty"`
	Criticality    string `json:"criticality,omitempty" yaml:"criticality,omitempty"`
}

// CriticalityWeight maps a criticality label to its risk contribution.
// Unknown labels weigh as MEDIUM.
func CriticalityWeight(criticality string) float64 {
	switch criticality {
	case CriticalityLow:
		return 0.1
	case CriticalityMedium:
		return 0.3
	case CriticalityHigh:
		return 0.6
	case CriticalityCritical:
		return 1.0
	}
	return 0.3
}
