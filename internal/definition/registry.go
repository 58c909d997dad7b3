package definition

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/Chunkys0up7/Atoms-sub002/model"
)

// snapshot is an immutable collection of all definitions indexed by ID.
type snapshot struct {
	defs     map[string]model.ProcessDefinition
	rules    []model.WorkflowRule
	checksum string
}

// Registry is a read-optimized, thread-safe store of all loaded process
// definitions and escalation rules. It uses atomic pointer swap for
// lock-free concurrent reads. Running instances are unaffected by a swap;
// they keep the definition they started with.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates a Registry from the given definitions and rules.
func NewRegistry(defs []model.ProcessDefinition, rules []model.WorkflowRule) *Registry {
	r := &Registry{}
	r.Replace(defs, rules)
	return r
}

// Replace atomically swaps the registry contents with a new snapshot built
// from the given definitions and rules.
func (r *Registry) Replace(defs []model.ProcessDefinition, rules []model.WorkflowRule) {
	s := &snapshot{
		defs:  make(map[string]model.ProcessDefinition, len(defs)),
		rules: rules,
	}

	var checksumParts []string
	for _, def := range defs {
		s.defs[def.ID] = def
		checksumParts = append(checksumParts, def.Checksum)
	}

	sort.Strings(checksumParts)
	combined := strings.Join(checksumParts, ":")
	s.checksum = fmt.Sprintf("%x", sha256.Sum256([]byte(combined)))

	r.snap.Store(s)
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// Get returns the process definition with the given ID.
func (r *Registry) Get(definitionID string) (model.ProcessDefinition, bool) {
	d, ok := r.current().defs[definitionID]
	return d, ok
}

// All returns all process definitions, sorted by ID.
func (r *Registry) All() []model.ProcessDefinition {
	s := r.current()
	defs := make([]model.ProcessDefinition, 0, len(s.defs))
	for _, d := range s.defs {
		defs = append(defs, d)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs
}

// Rules returns the escalation rules that match the definition and trigger.
func (r *Registry) Rules(definitionID, trigger string) []model.WorkflowRule {
	var matched []model.WorkflowRule
	for _, rule := range r.current().rules {
		if rule.Matches(definitionID, trigger) {
			matched = append(matched, rule)
		}
	}
	return matched
}

// Count returns the number of loaded definitions.
func (r *Registry) Count() int {
	return len(r.current().defs)
}

// Checksum returns the combined checksum of all loaded definitions.
func (r *Registry) Checksum() string {
	return r.current().checksum
}
