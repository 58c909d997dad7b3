package model

// Rule trigger kinds.
const (
	RuleTriggerSLAAtRisk   = "sla_at_risk"
	RuleTriggerSLABreached = "sla_breached"
)

// Rule action kinds.
const (
	RuleActionEscalate = "escalate"
	RuleActionNotify   = "notify"
)

// WorkflowRule is a declarative escalation rule evaluated by the SLA
// monitor. Rules react to SLA state changes; they never mutate process or
// task status.
type WorkflowRule struct {
	ID           string `yaml:"id" json:"id"`
	DefinitionID string `yaml:"definition_id,omitempty" json:"definition_id,omitempty"`
	Trigger      string `yaml:"trigger" json:"trigger"`
	Action       string `yaml:"action" json:"action"`
	Target       string `yaml:"target,omitempty" json:"target,omitempty"`
	Enabled      bool   `yaml:"enabled" json:"enabled"`
}

// Matches reports whether the rule fires for the given definition and
// trigger. An empty DefinitionID matches every definition.
func (r *WorkflowRule) Matches(definitionID, trigger string) bool {
	if !r.Enabled || r.Trigger != trigger {
		return false
	}
	return r.DefinitionID == "" || r.DefinitionID == definitionID
}
