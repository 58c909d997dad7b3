// Package definition loads YAML process definitions, validates their
// dependency graphs, and provides a fast-lookup registry with atomic
// pointer swap.
package definition

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Chunkys0up7/Atoms-sub002/model"
	"gopkg.in/yaml.v3"
)

// Loader scans directories for YAML definition files, parses them, and
// computes SHA-256 checksums.
type Loader struct{}

// NewLoader creates a new definition Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadAll recursively scans directories for *.yaml and *.yml files and parses
// each into a ProcessDefinition.
func (l *Loader) LoadAll(directories []string) ([]model.ProcessDefinition, error) {
	var defs []model.ProcessDefinition

	for _, dir := range directories {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".yaml" && ext != ".yml" {
				return nil
			}

			def, err := l.LoadFile(path)
			if err != nil {
				return fmt.Errorf("loading %s: %w", path, err)
			}
			defs = append(defs, def)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
		}
	}

	return defs, nil
}

// LoadFile loads and parses a single YAML definition file. It computes the
// SHA-256 checksum and records the source file path.
func (l *Loader) LoadFile(path string) (model.ProcessDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.ProcessDefinition{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var def model.ProcessDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return model.ProcessDefinition{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	def.Checksum = fmt.Sprintf("%x", sha256.Sum256(data))
	def.SourceFile = path

	return def, nil
}

// rulesFile is the on-disk shape of the escalation rules file.
type rulesFile struct {
	Rules []model.WorkflowRule `yaml:"rules"`
}

// LoadRules parses an escalation rules YAML file. An empty path yields no
// rules.
func (l *Loader) LoadRules(path string) ([]model.WorkflowRule, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var rf rulesFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return rf.Rules, nil
}
