package model

import "time"

// On-task-failure policies. Applied when a task exhausts its retry budget.
const (
	OnTaskFailureFailProcess = "fail_process"
	OnTaskFailureContinue    = "continue"
)

// ProcessDefinition is a read-only process template. Definitions are loaded
// from YAML at startup and served from an immutable registry snapshot;
// running instances keep the definition they started with.
type ProcessDefinition struct {
	ID              string           `yaml:"id" json:"id"`
	Name            string           `yaml:"name" json:"name"`
	Version         string           `yaml:"version" json:"version"`
	Description     string           `yaml:"description,omitempty" json:"description,omitempty"`
	RequiredContext []string         `yaml:"required_context,omitempty" json:"required_context,omitempty"`
	SLATarget       string           `yaml:"sla_target,omitempty" json:"sla_target,omitempty"`
	SLAWarningPct   int              `yaml:"sla_warning_percent,omitempty" json:"sla_warning_percent,omitempty"`
	OnTaskFailure   string           `yaml:"on_task_failure,omitempty" json:"on_task_failure,omitempty"`
	Steps           []StepDefinition `yaml:"steps" json:"steps"`

	// Loader bookkeeping.
	SourceFile string `yaml:"-" json:"-"`
	Checksum   string `yaml:"-" json:"-"`
}

// StepDefinition is one node of the definition's dependency graph.
type StepDefinition struct {
	ID          string         `yaml:"id" json:"id"`
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	DependsOn   []string       `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	Condition   string         `yaml:"condition,omitempty" json:"condition,omitempty"`
	Assignment  AssignmentSpec `yaml:"assignment" json:"assignment"`
	Priority    string         `yaml:"priority,omitempty" json:"priority,omitempty"`
	SLATarget   string         `yaml:"sla_target,omitempty" json:"sla_target,omitempty"`
	MaxRetries  int            `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	Input       map[string]any `yaml:"input,omitempty" json:"input,omitempty"`
}

// AssignmentSpec declares how a step's task is routed.
type AssignmentSpec struct {
	Method   string `yaml:"method" json:"method"`
	Team     string `yaml:"team,omitempty" json:"team,omitempty"`
	Skill    string `yaml:"skill,omitempty" json:"skill,omitempty"`
	Assignee string `yaml:"assignee,omitempty" json:"assignee,omitempty"`
}

// Step returns the step with the given ID, or nil.
func (d *ProcessDefinition) Step(id string) *StepDefinition {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return &d.Steps[i]
		}
	}
	return nil
}

// Roots returns the IDs of steps with no dependencies.
func (d *ProcessDefinition) Roots() []string {
	var roots []string
	for _, s := range d.Steps {
		if len(s.DependsOn) == 0 {
			roots = append(roots, s.ID)
		}
	}
	return roots
}

// ProcessSLA parses the definition-level SLA target. A zero duration means
// no process SLA is tracked.
func (d *ProcessDefinition) ProcessSLA() (time.Duration, error) {
	if d.SLATarget == "" {
		return 0, nil
	}
	return time.ParseDuration(d.SLATarget)
}

// WarningPercent returns the at-risk threshold for this definition,
// defaulting to 80.
func (d *ProcessDefinition) WarningPercent() int {
	if d.SLAWarningPct <= 0 {
		return 80
	}
	return d.SLAWarningPct
}

// FailurePolicy returns the retry-exhaustion policy, defaulting to
// fail_process.
func (d *ProcessDefinition) FailurePolicy() string {
	if d.OnTaskFailure == "" {
		return OnTaskFailureFailProcess
	}
	return d.OnTaskFailure
}
