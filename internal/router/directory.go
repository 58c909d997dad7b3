// Package router decides which assignee receives a task, using one of four
// strategies against a static assignee directory and live workload counts.
package router

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Assignee is one entry of the directory file.
type Assignee struct {
	ID     string   `yaml:"id"`
	Name   string   `yaml:"name"`
	Teams  []string `yaml:"teams"`
	Skills []string `yaml:"skills"`
}

type directoryFile struct {
	Assignees []Assignee `yaml:"assignees"`
}

// Directory resolves routing candidates from a static YAML file mapping
// assignees to teams and skills.
type Directory struct {
	path string
	mu   sync.RWMutex
	file directoryFile
}

// NewDirectory creates a directory that loads candidates from path.
func NewDirectory(path string) (*Directory, error) {
	d := &Directory{path: path}
	if err := d.Sync(); err != nil {
		return nil, err
	}
	return d, nil
}

// Sync reloads the directory file from disk.
func (d *Directory) Sync() error {
	data, err := os.ReadFile(d.path)
	if err != nil {
		return fmt.Errorf("router: reading directory file %s: %w", d.path, err)
	}

	var f directoryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("router: parsing directory file %s: %w", d.path, err)
	}

	d.mu.Lock()
	d.file = f
	d.mu.Unlock()

	return nil
}

// Exists reports whether the assignee is in the directory.
func (d *Directory) Exists(assigneeID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, a := range d.file.Assignees {
		if a.ID == assigneeID {
			return true
		}
	}
	return false
}

// TeamMembers returns the IDs of assignees on the given team, sorted.
func (d *Directory) TeamMembers(team string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var members []string
	for _, a := range d.file.Assignees {
		for _, t := range a.Teams {
			if t == team {
				members = append(members, a.ID)
				break
			}
		}
	}
	sort.Strings(members)
	return members
}

// WithSkill returns the IDs of assignees holding the given skill, sorted.
func (d *Directory) WithSkill(skill string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var matched []string
	for _, a := range d.file.Assignees {
		for _, s := range a.Skills {
			if s == skill {
				matched = append(matched, a.ID)
				break
			}
		}
	}
	sort.Strings(matched)
	return matched
}

// All returns every assignee ID in the directory, sorted.
func (d *Directory) All() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ids := make([]string, 0, len(d.file.Assignees))
	for _, a := range d.file.Assignees {
		ids = append(ids, a.ID)
	}
	sort.Strings(ids)
	return ids
}
