package matcher

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/promptforge-ai/demon-engine/internal/model"
)

// DefaultTechniques is the compiled-in technique catalog.
func DefaultTechniques() []model.Technique {
	return []model.Technique{
		{
			ID:         "clean",
			Aliases:    []string{"/clean"},
			Tags:       []string{"fix", "cleanup", "typo"},
			Template:   "Rewrite the following prompt with spelling, grammar, and phrasing corrected while preserving its meaning:\n\n{input}",
			BaseWeight: 0.8,
			Cost:       1,
		},
		{
			ID:         "clarify",
			Aliases:    []string{"/clarify"},
			Tags:       []string{"vague", "unclear", "ambiguous"},
			Intents:    []string{"chat"},
			Template:   "Sharpen the following prompt so the request is unambiguous. State the goal explicitly:\n\n{input}",
			BaseWeight: 0.5,
			Cost:       1,
		},
		{
			ID:         "structure",
			Aliases:    []string{"/structure"},
			Tags:       []string{"list", "steps", "outline", "sections"},
			Template:   "Reorganize the following prompt into {n} clearly labeled sections covering context, task, and constraints:\n\n{input}",
			BaseWeight: 0.5,
			Cost:       1,
		},
		{
			ID:         "tone",
			Aliases:    []string{"/tone"},
			Tags:       []string{"formal", "casual", "friendly", "professional"},
			Intents:    []string{"chat", "editor"},
			Template:   "Adjust the tone of the following prompt to be {tone} without changing its intent:\n\n{input}",
			BaseWeight: 0.4,
			Cost:       1,
		},
		{
			ID:         "code_context",
			Aliases:    []string{"/context"},
			Tags:       []string{"code", "function", "bug", "refactor", "test"},
			Intents:    []string{"code"},
			Template:   "Restate the following programming request with explicit language, framework, and expected behavior so a code model can act on it:\n\n{input}",
			BaseWeight: 0.6,
			Cost:       1,
		},
		{
			ID:         "constraints",
			Aliases:    []string{"/constraints"},
			Tags:       []string{"must", "limit", "require", "format"},
			Intents:    []string{"code", "agent"},
			Template:   "List the explicit constraints and output format the following request implies, then restate the request with them attached:\n\n{input}",
			BaseWeight: 0.5,
			Cost:       1,
		},
		{
			ID:         "decompose",
			Aliases:    []string{"/decompose"},
			Tags:       []string{"plan", "steps", "workflow"},
			Intents:    []string{"agent"},
			Template:   "Break the following goal into an ordered list of concrete sub-tasks an agent can execute, then restate the goal:\n\n{input}",
			BaseWeight: 0.5,
			Cost:       2,
		},
	}
}

// LoadTechniques reads a technique catalog from a YAML file.
func LoadTechniques(path string) ([]model.Technique, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "matcher: read techniques %s", path)
	}

	var file struct {
		Techniques []model.Technique `yaml:"techniques"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, eris.Wrap(err, "matcher: parse techniques")
	}
	if len(file.Techniques) == 0 {
		return nil, eris.New("matcher: technique catalog is empty")
	}
	for _, tech := range file.Techniques {
		if tech.ID == "" {
			return nil, eris.New("matcher: technique with empty id")
		}
		if tech.Template == "" {
			return nil, eris.Errorf("matcher: technique %q has no template", tech.ID)
		}
	}
	return file.Techniques, nil
}
