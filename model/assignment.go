package model

import "time"

// Assignment methods.
const (
	AssignRoundRobin   = "round_robin"
	AssignLoadBalanced = "load_balanced"
	AssignSkillBased   = "skill_based"
	AssignManual       = "manual"
)

// KnownAssignmentMethod reports whether method is one of the supported
// routing strategies.
func KnownAssignmentMethod(method string) bool {
	switch method {
	case AssignRoundRobin, AssignLoadBalanced, AssignSkillBased, AssignManual:
		return true
	}
	return false
}

// TaskAssignment records one placement of a task on an assignee. A task has
// at most one active assignment at a time; reassignment closes the old record
// and opens a new one in the same commit.
type TaskAssignment struct {
	ID         string     `json:"id"`
	TaskID     string     `json:"task_id"`
	ProcessID  string     `json:"process_id"`
	Assignee   string     `json:"assignee"`
	AssignedBy string     `json:"assigned_by,omitempty"`
	Method     string     `json:"method"`
	Reason     string     `json:"reason,omitempty"`
	Active     bool       `json:"active"`
	CreatedAt  time.Time  `json:"created_at"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
}

// AssigneeWorkload summarizes one assignee's open task load. Used by the
// load-balanced router and the workload report.
type AssigneeWorkload struct {
	Assignee       string     `json:"assignee"`
	ActiveTasks    int        `json:"active_tasks"`
	LastAssignedAt *time.Time `json:"last_assigned_at,omitempty"`
}
