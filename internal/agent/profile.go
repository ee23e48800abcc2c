package agent

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed profile.yaml
var defaultProfileYAML []byte

// Profile describes the agent persona handed to the model.
type Profile struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Model       string   `yaml:"model"`
	Instruction string   `yaml:"instruction"`
	Tools       []string `yaml:"tools"`
}

// HasTool reports whether the profile enables the named built-in tool.
func (p Profile) HasTool(name string) bool {
	for _, t := range p.Tools {
		if strings.EqualFold(strings.TrimSpace(t), name) {
			return true
		}
	}
	return false
}

// DefaultProfile returns the embedded plant pathology profile.
func DefaultProfile() (Profile, error) {
	return ParseProfile(defaultProfileYAML)
}

// LoadProfile reads a profile from path, or the embedded default when path is empty.
func LoadProfile(path string) (Profile, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultProfile()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read agent profile: %w", err)
	}
	return ParseProfile(raw)
}

func ParseProfile(raw []byte) (Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Profile{}, fmt.Errorf("parse agent profile: %w", err)
	}
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return Profile{}, errors.New("agent profile name is required")
	}
	if strings.ContainsAny(p.Name, " \t\n>") {
		return Profile{}, fmt.Errorf("agent profile name %q must be a single identifier", p.Name)
	}
	if strings.TrimSpace(p.Model) == "" {
		p.Model = "gemini-2.5-flash-lite"
	}
	return p, nil
}
