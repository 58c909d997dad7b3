package router

import (
	"context"
	"fmt"
	"sync"

	"github.com/Chunkys0up7/Atoms-sub002/model"
)

// WorkloadSource supplies live per-assignee open task counts.
type WorkloadSource interface {
	Workload(ctx context.Context) ([]model.AssigneeWorkload, error)
}

// Decision is the outcome of routing one task.
type Decision struct {
	Assignee string
	Method   string
	Reason   string
}

// Router selects assignees. Round-robin cursors live in memory and reset on
// restart; fairness is best-effort across a single process lifetime.
type Router struct {
	directory *Directory
	workload  WorkloadSource

	mu      sync.Mutex
	cursors map[string]int // key: team
}

// New creates a Router over the given directory and workload source.
func New(directory *Directory, workload WorkloadSource) *Router {
	return &Router{
		directory: directory,
		workload:  workload,
		cursors:   make(map[string]int),
	}
}

// Route picks an assignee per the assignment spec. A routing dead end
// returns NO_ELIGIBLE_ASSIGNEE; the router never silently falls back to a
// different candidate pool than the assignment names.
func (r *Router) Route(ctx context.Context, spec model.AssignmentSpec) (Decision, error) {
	switch spec.Method {
	case model.AssignRoundRobin:
		return r.roundRobin(spec.Team)
	case model.AssignLoadBalanced:
		return r.loadBalanced(ctx, spec.Team)
	case model.AssignSkillBased:
		return r.skillBased(ctx, spec.Skill)
	case model.AssignManual:
		return r.manual(spec.Assignee)
	default:
		return Decision{}, model.NewValidationError([]model.FieldError{
			{Field: "assignment.method", Code: "INVALID_ENUM", Message: fmt.Sprintf("unknown assignment method %q", spec.Method)},
		})
	}
}

// ResetCursors clears all round-robin cursors, e.g. after a directory sync.
func (r *Router) ResetCursors() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursors = make(map[string]int)
}

func (r *Router) roundRobin(team string) (Decision, error) {
	members := r.directory.TeamMembers(team)
	if len(members) == 0 {
		return Decision{}, model.NewNoEligibleAssigneeError(
			fmt.Sprintf("team %q has no members", team),
		)
	}

	r.mu.Lock()
	idx := r.cursors[team] % len(members)
	r.cursors[team]++
	r.mu.Unlock()

	return Decision{
		Assignee: members[idx],
		Method:   model.AssignRoundRobin,
		Reason:   fmt.Sprintf("round robin over team %q", team),
	}, nil
}

func (r *Router) loadBalanced(ctx context.Context, team string) (Decision, error) {
	var candidates []string
	if team != "" {
		candidates = r.directory.TeamMembers(team)
	} else {
		candidates = r.directory.All()
	}
	if len(candidates) == 0 {
		return Decision{}, model.NewNoEligibleAssigneeError("no candidates in directory")
	}

	assignee, err := r.leastLoaded(ctx, candidates)
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		Assignee: assignee,
		Method:   model.AssignLoadBalanced,
		Reason:   "least active tasks",
	}, nil
}

func (r *Router) skillBased(ctx context.Context, skill string) (Decision, error) {
	candidates := r.directory.WithSkill(skill)
	if len(candidates) == 0 {
		return Decision{}, model.NewNoEligibleAssigneeError(
			fmt.Sprintf("no assignee holds skill %q", skill),
		)
	}

	assignee, err := r.leastLoaded(ctx, candidates)
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		Assignee: assignee,
		Method:   model.AssignSkillBased,
		Reason:   fmt.Sprintf("least active tasks with skill %q", skill),
	}, nil
}

func (r *Router) manual(assignee string) (Decision, error) {
	if assignee == "" {
		return Decision{}, model.NewValidationError([]model.FieldError{
			{Field: "assignment.assignee", Code: "REQUIRED", Message: "assignee is required for manual assignment"},
		})
	}
	if !r.directory.Exists(assignee) {
		return Decision{}, model.NewNoEligibleAssigneeError(
			fmt.Sprintf("assignee %q not found in directory", assignee),
		)
	}
	return Decision{
		Assignee: assignee,
		Method:   model.AssignManual,
		Reason:   "manually designated",
	}, nil
}

// leastLoaded picks the candidate with the fewest open tasks. Ties go to the
// candidate whose last assignment is oldest; never-assigned candidates win
// over everyone.
func (r *Router) leastLoaded(ctx context.Context, candidates []string) (string, error) {
	workloads, err := r.workload.Workload(ctx)
	if err != nil {
		return "", fmt.Errorf("router: reading workload: %w", err)
	}

	byAssignee := make(map[string]model.AssigneeWorkload, len(workloads))
	for _, w := range workloads {
		byAssignee[w.Assignee] = w
	}

	best := ""
	var bestLoad model.AssigneeWorkload
	for _, c := range candidates {
		load := byAssignee[c] // zero value: no open tasks, never assigned
		if best == "" || lessLoaded(load, bestLoad) {
			best = c
			bestLoad = load
		}
	}
	return best, nil
}

func lessLoaded(a, b model.AssigneeWorkload) bool {
	if a.ActiveTasks != b.ActiveTasks {
		return a.ActiveTasks < b.ActiveTasks
	}
	if a.LastAssignedAt == nil {
		return b.LastAssignedAt != nil
	}
	if b.LastAssignedAt == nil {
		return false
	}
	return a.LastAssignedAt.Before(*b.LastAssignedAt)
}
