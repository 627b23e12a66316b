package flow

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/8428215330a-ui/Jarvis/internal/models"
	"github.com/8428215330a-ui/Jarvis/internal/scheduler"
	"gopkg.in/yaml.v3"
)

//go:embed flows.yaml
var defaultCatalog []byte

// TaskCount is the number of stages every flow has.
const TaskCount = 3

type catalogFile struct {
	Flows []catalogFlow `yaml:"flows"`
}

type catalogFlow struct {
	ID       string        `yaml:"id"`
	Name     string        `yaml:"name"`
	Kind     string        `yaml:"kind"`
	Schedule string        `yaml:"schedule"`
	Tasks    []catalogTask `yaml:"tasks"`
}

type catalogTask struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DefaultCatalog returns the built in flows.
func DefaultCatalog() ([]models.Flow, error) {
	return ParseCatalog(defaultCatalog)
}

// LoadCatalogFile reads a catalog from path.
func LoadCatalogFile(path string) ([]models.Flow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read flow catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML catalog. Flows start IDLE with
// every task PENDING.
func ParseCatalog(data []byte) ([]models.Flow, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse flow catalog: %w", err)
	}
	if len(file.Flows) == 0 {
		return nil, fmt.Errorf("flow catalog is empty")
	}

	seen := make(map[string]bool, len(file.Flows))
	flows := make([]models.Flow, 0, len(file.Flows))
	for i, cf := range file.Flows {
		if cf.ID == "" {
			return nil, fmt.Errorf("flow %d: missing id", i)
		}
		if seen[cf.ID] {
			return nil, fmt.Errorf("flow %s: duplicate id", cf.ID)
		}
		seen[cf.ID] = true
		kind := models.FlowKind(cf.Kind)
		if !models.IsValidFlowKind(kind) {
			return nil, fmt.Errorf("flow %s: unknown kind %q", cf.ID, cf.Kind)
		}
		if cf.Schedule != "" {
			if err := scheduler.Validate(cf.Schedule); err != nil {
				return nil, fmt.Errorf("flow %s: %w", cf.ID, err)
			}
		}
		if len(cf.Tasks) != TaskCount {
			return nil, fmt.Errorf("flow %s: expected %d tasks, got %d", cf.ID, TaskCount, len(cf.Tasks))
		}
		f := models.Flow{
			ID:       cf.ID,
			Name:     cf.Name,
			Kind:     kind,
			Status:   models.FlowStatusIdle,
			Tasks:    make([]models.Task, 0, TaskCount),
			Schedule: cf.Schedule,
		}
		if f.Name == "" {
			f.Name = cf.ID
		}
		for _, ct := range cf.Tasks {
			f.Tasks = append(f.Tasks, models.Task{ID: ct.ID, Name: ct.Name, Status: models.TaskStatusPending})
		}
		flows = append(flows, f)
	}
	return flows, nil
}
