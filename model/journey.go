package model

// Journey is an ordered sequence of phase ids representing a template
// workflow. Phase ids are opaque tokens; phase definitions live with an
// external collaborator.
type Journey struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Phases []string `json:"phases"`
}

// Clone returns a deep copy of the journey. Rule application always works
// on a copy so the caller's journey is never mutated.
func (j Journey) Clone() Journey {
	phases := make([]string, len(j.Phases))
	copy(phases, j.Phases)
	return Journey{ID: j.ID, Name: j.Name, Phases: phases}
}

// HasPhase reports whether the journey already contains the given phase id.
func (j Journey) HasPhase(phaseID string) bool {
	for _, p := range j.Phases {
		if p == phaseID {
			return true
		}
	}
	return false
}

// RuntimeContext is the read-only input to rule evaluation. It is never
// persisted by the core.
type RuntimeContext struct {
	CustomerData           map[string]any  `json:"customer_data,omitempty"`
	TransactionData        map[string]any  `json:"transaction_data,omitempty"`
	RiskFlags              map[string]bool `json:"risk_flags,omitempty"`
	ComplianceRequirements map[string]bool `json:"compliance_requirements,omitempty"`
}

// Modification actions recorded per fired rule.
const (
	ModInsert  = "insert"
	ModRemove  = "remove"
	ModReplace = "replace"
	ModNoop    = "noop"
)

// PhaseModification is one record per rule that fired. Noops are kept in
// the log but excluded from the risk calculation.
type PhaseModification struct {
	Action         string `json:"action"`
	PhaseID        string `json:"phase_id"`
	ReferencePhase string `json:"reference_phase,omitempty"`
	Reason         string `json:"reason,omitempty"`
	Criticality    string `json:"criticality"`
	RuleID         string `json:"rule_id"`
}

// JourneyEvaluation is the stateless output of one evaluation pass.
//
// PhasesAdded and PhasesRemoved are net length deltas, not operation
// counts, so offsetting insertions and removals under-report churn. That
// matches the historical behavior and is deliberately preserved.
type JourneyEvaluation struct {
	OriginalJourneyID string              `json:"original_journey_id"`
	ModifiedJourney   Journey             `json:"modified_journey"`
	Modifications     []PhaseModification `json:"modifications"`
	PhasesAdded       int                 `json:"phases_added"`
	PhasesRemoved     int                 `json:"phases_removed"`
	RiskScore         float64             `json:"risk_score"`
}
