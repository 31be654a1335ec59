package classify

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"wallcalc/internal/converter/models"
)

// LoadRuleSet читает набор правил из YAML или JSON файла.
func LoadRuleSet(path string) (*models.RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule set: %w", err)
	}
	rs, err := ParseRuleSet(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rs, nil
}

// ParseRuleSet разбирает YAML (JSON - его подмножество) и проверяет правила.
func ParseRuleSet(data []byte) (*models.RuleSet, error) {
	var rs models.RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("parse rule set: %w", err)
	}
	if _, err := New(rs.Rules); err != nil {
		return nil, fmt.Errorf("rule set %q: %w", rs.Name, err)
	}
	return &rs, nil
}

func MarshalRuleSet(rs *models.RuleSet) ([]byte, error) {
	return yaml.Marshal(rs)
}
