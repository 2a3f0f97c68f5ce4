package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// definitionFile is the on-disk shape of a named agent under
// <config>/agents/<name>.yaml.
type definitionFile struct {
	Description  string         `yaml:"description,omitempty"`
	Model        string         `yaml:"model,omitempty"`
	SystemPrompt string         `yaml:"system_prompt,omitempty"`
	OutputSchema map[string]any `yaml:"output_schema,omitempty"`
}

// LoadDefinition reads a named agent definition from dir. A sibling
// <name>.md file, when present, supplies the system prompt and wins over
// the inline one. Returns (nil, nil) when no definition file exists, so a
// bare name still runs with the caller's defaults.
func LoadDefinition(dir, name string) (*Definition, error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("invalid agent name %q", name)
	}

	path := filepath.Join(dir, name+".yaml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read agent definition: %w", err)
	}

	var file definitionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	def := &Definition{
		Name:         name,
		Model:        file.Model,
		SystemPrompt: file.SystemPrompt,
		OutputSchema: file.OutputSchema,
	}

	if prompt, err := os.ReadFile(filepath.Join(dir, name+".md")); err == nil {
		def.SystemPrompt = strings.TrimSpace(string(prompt))
	}
	return def, nil
}
