package aggregate

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"wallcalc/internal/converter/models"
)

// LoadProject читает иерархию проекта (здания, этажи) из YAML/JSON.
func LoadProject(path string) (*models.Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read hierarchy: %w", err)
	}
	p, err := ParseProject(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// ParseProject разбирает иерархию и проверяет ее так же, как New.
func ParseProject(data []byte) (*models.Project, error) {
	var p models.Project
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHierarchy, err)
	}
	if _, err := New(p, nil); err != nil {
		return nil, err
	}
	return &p, nil
}
