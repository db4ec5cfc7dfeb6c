package router

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/promptforge-ai/demon-engine/internal/model"
)

// pipelineFile is the on-disk pipeline table layout.
type pipelineFile struct {
	Pipelines []model.PipelineDefinition `yaml:"pipelines"`
	Disabled  []string                   `yaml:"disabled,omitempty"`
}

// Load reads a pipeline table from a YAML file and builds a Router from
// it. File order is declaration order. IDs must be unique and every
// pipeline must cover at least one intent.
func Load(path string) (*Router, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "router: read pipelines %s", path)
	}

	var file pipelineFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, eris.Wrap(err, "router: parse pipelines")
	}
	if err := validate(file.Pipelines); err != nil {
		return nil, err
	}

	r := New(file.Pipelines)
	for _, id := range file.Disabled {
		r.Disable(id)
	}
	return r, nil
}

func validate(pipelines []model.PipelineDefinition) error {
	if len(pipelines) == 0 {
		return eris.New("router: pipeline table is empty")
	}
	seen := make(map[string]bool, len(pipelines))
	for _, p := range pipelines {
		if p.ID == "" {
			return eris.New("router: pipeline with empty id")
		}
		if seen[p.ID] {
			return eris.Errorf("router: duplicate pipeline id %q", p.ID)
		}
		seen[p.ID] = true
		if len(p.Intents) == 0 {
			return eris.Errorf("router: pipeline %q covers no intents", p.ID)
		}
		if p.ModelClass == "" {
			return eris.Errorf("router: pipeline %q has no model class", p.ID)
		}
	}
	return nil
}
