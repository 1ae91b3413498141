// Package fixtures provides test helpers for integration tests.
package fixtures

import (
	"os"
	"path/filepath"

	"go.yaml.in/yaml/v3"

	"github.com/eliteGoblin/focusd/regsync/internal/domain"
	"github.com/eliteGoblin/focusd/regsync/internal/infra"
)

// SampleTaskList adds one managed service with two catalogs, one legacy
// repository, and removes a service that was never there.
const SampleTaskList = `
SLES_15:
  type: managed-source
  action: add
  url: https://updates.example.com/SLES_15
  catalogs:
    SLES15-Pool: {action: a}
    SLES15-Updates: {action: a}
    SLES15-Debuginfo: {action: d}
legacy-tools:
  type: legacy-source
  action: add
  url: https://download.example.com/tools
old-service:
  type: managed-source
  action: delete
`

// SampleAddons returns a small catalog: sdk depends on base, ha on
// base and is not released yet.
func SampleAddons() []domain.Addon {
	base := domain.AddonRef{Identifier: "sle-module-basesystem", Version: "15.5", Arch: "x86_64"}
	return []domain.Addon{
		{Identifier: "sle-module-basesystem", Version: "15.5", Arch: "x86_64", Label: "Basesystem Module", Free: true, Recommended: true, Released: true},
		{Identifier: "sle-sdk", Version: "15.5", Arch: "x86_64", Label: "Software Development Kit", Free: true, Released: true, Depends: []domain.AddonRef{base}},
		{Identifier: "sle-ha", Version: "15.5", Arch: "x86_64", Label: "High Availability", Depends: []domain.AddonRef{base}},
	}
}

// ScenarioDir writes scenario files for the scripted registration client.
type ScenarioDir struct {
	Dir string
}

// NewScenarioDir creates a new scenario writer rooted at dir.
func NewScenarioDir(dir string) *ScenarioDir {
	return &ScenarioDir{Dir: dir}
}

// NewScenario builds a scenario that answers register calls with codes
// in order and serves taskList after success.
func NewScenario(addons []domain.Addon, taskList string, codes ...int) (*infra.Scenario, error) {
	s := &infra.Scenario{Addons: addons}
	for _, c := range codes {
		s.Responses = append(s.Responses, infra.ScenarioResponse{Code: c})
	}
	if err := yaml.Unmarshal([]byte(taskList), &s.Tasks); err != nil {
		return nil, err
	}
	// Unmarshal yields a document node; the scenario embeds its content.
	if s.Tasks.Kind == yaml.DocumentNode && len(s.Tasks.Content) > 0 {
		s.Tasks = *s.Tasks.Content[0]
	}
	return s, nil
}

// Write stores s as name and returns the file path.
func (d *ScenarioDir) Write(name string, s *infra.Scenario) (string, error) {
	data, err := yaml.Marshal(s)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(d.Dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(d.Dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}

// WriteTaskList stores a task-list document as name and returns the path.
func (d *ScenarioDir) WriteTaskList(name, doc string) (string, error) {
	if err := os.MkdirAll(d.Dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(d.Dir, name)
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		return "", err
	}
	return path, nil
}

// Cleanup removes everything written.
func (d *ScenarioDir) Cleanup() error {
	return os.RemoveAll(d.Dir)
}
