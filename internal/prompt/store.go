// Package prompt holds the template registry. Templates are loaded once
// from the embedded definitions, and the store is immutable afterwards;
// collaborators hold a shared reference.
package prompt

import (
	_ "embed"
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/cardforge/cardforge/internal/provider"
)

// Template names known to the embedded registry.
const (
	TemplatePlanning   = "document_planning"
	TemplateGeneration = "card_generation"
	TemplateAnswer     = "answer_generation"
	TemplateValidation = "card_validation"
)

//go:embed templates.yaml
var templatesYAML []byte

type Template struct {
	Name     string   `yaml:"name"`
	System   string   `yaml:"system"`
	User     string   `yaml:"user"`
	Required []string `yaml:"required"`
}

type templateFile struct {
	Templates []Template `yaml:"templates"`
}

type Store struct {
	templates map[string]Template
}

var placeholderRe = regexp.MustCompile(`\{\{(\w+)\}\}`)

// NewStore parses the embedded template definitions.
func NewStore() (*Store, error) {
	var f templateFile
	if err := yaml.Unmarshal(templatesYAML, &f); err != nil {
		return nil, fmt.Errorf("prompt: parse embedded templates: %w", err)
	}
	s := &Store{templates: make(map[string]Template, len(f.Templates))}
	for _, t := range f.Templates {
		if t.Name == "" {
			return nil, fmt.Errorf("prompt: template without a name")
		}
		if _, ok := s.templates[t.Name]; ok {
			return nil, fmt.Errorf("prompt: duplicate template %q", t.Name)
		}
		s.templates[t.Name] = t
	}
	return s, nil
}

// Render substitutes variables into the named template and returns the
// system+user message pair. Unknown names and missing required variables
// fail; placeholders without a matching variable are left untouched.
func (s *Store) Render(name string, vars map[string]string) ([]provider.Message, error) {
	tpl, ok := s.templates[name]
	if !ok {
		return nil, fmt.Errorf("prompt: unknown template %q", name)
	}
	for _, req := range tpl.Required {
		if _, ok := vars[req]; !ok {
			return nil, fmt.Errorf("prompt: template %q missing required variable %q", name, req)
		}
	}

	sub := func(text string) string {
		return placeholderRe.ReplaceAllStringFunc(text, func(m string) string {
			key := m[2 : len(m)-2]
			if v, ok := vars[key]; ok {
				return v
			}
			return m
		})
	}

	return []provider.Message{
		{Role: provider.RoleSystem, Content: sub(tpl.System)},
		{Role: provider.RoleUser, Content: sub(tpl.User)},
	}, nil
}

// Names lists registered template names, mainly for diagnostics.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.templates))
	for name := range s.templates {
		names = append(names, name)
	}
	return names
}
