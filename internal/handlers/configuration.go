package handlers

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// TemplateConfiguration is the optional configuration file shipped next to a
// template. JSON files parse as YAML.
type TemplateConfiguration struct {
	Parameters  map[string]string `yaml:"Parameters"`
	Tags        map[string]string `yaml:"Tags"`
	StackPolicy any               `yaml:"StackPolicy"`
}

// ParseTemplateConfiguration decodes a JSON or YAML template configuration
func ParseTemplateConfiguration(data []byte) (*TemplateConfiguration, error) {
	var config TemplateConfiguration
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse template configuration: %w", err)
	}
	return &config, nil
}

// StackPolicyBody returns the stack policy encoded as JSON, or an empty string
// when none is set
func (c *TemplateConfiguration) StackPolicyBody() (string, error) {
	if c == nil || c.StackPolicy == nil {
		return "", nil
	}
	if s, ok := c.StackPolicy.(string); ok {
		return s, nil
	}

	data, err := json.Marshal(c.StackPolicy)
	if err != nil {
		return "", fmt.Errorf("failed to encode stack policy: %w", err)
	}
	return string(data), nil
}
