package definition

import (
	"fmt"
	"time"

	"github.com/Chunkys0up7/Atoms-sub002/model"
)

// VError describes a single validation error in a definition.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator validates process definitions structurally and referentially.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks all definitions. Any returned error makes the whole load
// invalid; the engine refuses to start on a bad definition set.
func (v *Validator) Validate(defs []model.ProcessDefinition) []VError {
	var errs []VError
	seen := make(map[string]bool)
	for i, def := range defs {
		prefix := fmt.Sprintf("definitions[%d]", i)
		if def.ID != "" && seen[def.ID] {
			errs = append(errs, VError{Path: prefix + ".id", Code: "DUPLICATE", Message: fmt.Sprintf("duplicate definition id %q", def.ID)})
		}
		seen[def.ID] = true
		errs = append(errs, v.validateDefinition(prefix, def)...)
	}
	return errs
}

func (v *Validator) validateDefinition(prefix string, def model.ProcessDefinition) []VError {
	var errs []VError

	if def.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "id is required"})
	}
	if def.Name == "" {
		errs = append(errs, VError{Path: prefix + ".name", Code: "REQUIRED", Message: "name is required"})
	}
	if def.Version == "" {
		errs = append(errs, VError{Path: prefix + ".version", Code: "REQUIRED", Message: "version is required"})
	}
	if len(def.Steps) == 0 {
		errs = append(errs, VError{Path: prefix + ".steps", Code: "REQUIRED", Message: "at least one step is required"})
		return errs
	}

	if def.SLATarget != "" {
		if _, err := time.ParseDuration(def.SLATarget); err != nil {
			errs = append(errs, VError{Path: prefix + ".sla_target", Code: "INVALID_DURATION", Message: fmt.Sprintf("invalid duration %q", def.SLATarget)})
		}
	}
	if def.SLAWarningPct < 0 || def.SLAWarningPct > 100 {
		errs = append(errs, VError{Path: prefix + ".sla_warning_percent", Code: "RANGE", Message: "sla_warning_percent must be 0-100"})
	}
	switch def.OnTaskFailure {
	case "", model.OnTaskFailureFailProcess, model.OnTaskFailureContinue:
	default:
		errs = append(errs, VError{Path: prefix + ".on_task_failure", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid policy %q", def.OnTaskFailure)})
	}

	stepIDs := make(map[string]bool, len(def.Steps))
	for i, s := range def.Steps {
		sp := fmt.Sprintf("%s.steps[%d]", prefix, i)
		if s.ID == "" {
			errs = append(errs, VError{Path: sp + ".id", Code: "REQUIRED", Message: "step id is required"})
			continue
		}
		if stepIDs[s.ID] {
			errs = append(errs, VError{Path: sp + ".id", Code: "DUPLICATE", Message: fmt.Sprintf("duplicate step id %q", s.ID)})
		}
		stepIDs[s.ID] = true
	}

	hasRoot := false
	for i, s := range def.Steps {
		sp := fmt.Sprintf("%s.steps[%d]", prefix, i)
		if len(s.DependsOn) == 0 {
			hasRoot = true
		}
		for _, dep := range s.DependsOn {
			if dep == s.ID {
				errs = append(errs, VError{Path: sp + ".depends_on", Code: "SELF_REFERENCE", Message: fmt.Sprintf("step %q depends on itself", s.ID)})
			} else if !stepIDs[dep] {
				errs = append(errs, VError{Path: sp + ".depends_on", Code: "REF_NOT_FOUND", Message: fmt.Sprintf("dependency %q not found in steps", dep)})
			}
		}
		errs = append(errs, v.validateStep(sp, s)...)
	}
	if !hasRoot {
		errs = append(errs, VError{Path: prefix + ".steps", Code: "NO_ROOT", Message: "at least one step must have no dependencies"})
	}

	if cycle := findCycle(def.Steps); cycle != "" {
		errs = append(errs, VError{Path: prefix + ".steps", Code: "CYCLE", Message: fmt.Sprintf("dependency cycle through step %q", cycle)})
	}

	return errs
}

func (v *Validator) validateStep(prefix string, s model.StepDefinition) []VError {
	var errs []VError

	if s.Name == "" {
		errs = append(errs, VError{Path: prefix + ".name", Code: "REQUIRED", Message: "step name is required"})
	}
	if s.MaxRetries < 0 {
		errs = append(errs, VError{Path: prefix + ".max_retries", Code: "RANGE", Message: "max_retries must be >= 0"})
	}
	if s.SLATarget != "" {
		if _, err := time.ParseDuration(s.SLATarget); err != nil {
			errs = append(errs, VError{Path: prefix + ".sla_target", Code: "INVALID_DURATION", Message: fmt.Sprintf("invalid duration %q", s.SLATarget)})
		}
	}

	method := s.Assignment.Method
	if method == "" {
		errs = append(errs, VError{Path: prefix + ".assignment.method", Code: "REQUIRED", Message: "assignment.method is required"})
		return errs
	}
	if !model.KnownAssignmentMethod(method) {
		errs = append(errs, VError{Path: prefix + ".assignment.method", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid assignment method %q", method)})
		return errs
	}

	switch method {
	case model.AssignRoundRobin:
		if s.Assignment.Team == "" {
			errs = append(errs, VError{Path: prefix + ".assignment.team", Code: "REQUIRED", Message: "team is required for round_robin"})
		}
	case model.AssignSkillBased:
		if s.Assignment.Skill == "" {
			errs = append(errs, VError{Path: prefix + ".assignment.skill", Code: "REQUIRED", Message: "skill is required for skill_based"})
		}
	case model.AssignManual:
		if s.Assignment.Assignee == "" {
			errs = append(errs, VError{Path: prefix + ".assignment.assignee", Code: "REQUIRED", Message: "assignee is required for manual"})
		}
	}

	return errs
}

// DFS colors for cycle detection.
const (
	colorWhite = 0
	colorGray  = 1
	colorBlack = 2
)

// findCycle runs a three-color depth-first search over the dependency graph
// and returns the ID of a step on a cycle, or "" if the graph is acyclic.
// Unknown dependency references are ignored here; they are reported
// separately as REF_NOT_FOUND.
func findCycle(steps []model.StepDefinition) string {
	deps := make(map[string][]string, len(steps))
	for _, s := range steps {
		deps[s.ID] = s.DependsOn
	}

	color := make(map[string]int, len(steps))
	var visit func(id string) string
	visit = func(id string) string {
		color[id] = colorGray
		for _, dep := range deps[id] {
			if _, known := deps[dep]; !known {
				continue
			}
			switch color[dep] {
			case colorGray:
				return dep
			case colorWhite:
				if c := visit(dep); c != "" {
					return c
				}
			}
		}
		color[id] = colorBlack
		return ""
	}

	for _, s := range steps {
		if color[s.ID] == colorWhite {
			if c := visit(s.ID); c != "" {
				return c
			}
		}
	}
	return ""
}
