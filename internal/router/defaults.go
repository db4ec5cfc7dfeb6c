package router

import "github.com/promptforge-ai/demon-engine/internal/model"

// DefaultPipelines is the compiled-in routing table used when no pipeline
// file is configured. Declaration order matters for tie-breaks.
func DefaultPipelines() []model.PipelineDefinition {
	return []model.PipelineDefinition{
		{
			ID:           "Conversational.Basic",
			Intents:      []string{"chat"},
			Clients:      []string{model.Wildcard},
			Modes:        []string{model.Wildcard},
			TechniqueIDs: []string{"clean", "clarify", "tone"},
			Contract:     model.Contract{Format: model.ContractText},
			BaseCost:     2,
			ModelClass:   "fast",
		},
		{
			ID:           "CodeForge.LangGraph",
			Intents:      []string{"code"},
			Clients:      []string{"vscode", "cursor"},
			Modes:        []string{"pro"},
			ProOnly:      true,
			TechniqueIDs: []string{"clean", "structure", "code_context", "constraints"},
			Contract: model.Contract{
				Format: model.ContractJSON,
				RequiredFields: map[string]string{
					"prompt":    "string",
					"rationale": "string",
				},
			},
			BaseCost:   5,
			ModelClass: "deep",
		},
		{
			ID:           "CodeForge.Basic",
			Intents:      []string{"code"},
			Clients:      []string{model.Wildcard},
			Modes:        []string{model.Wildcard},
			TechniqueIDs: []string{"clean", "structure", "code_context"},
			Contract:     model.Contract{Format: model.ContractText},
			BaseCost:     3,
			ModelClass:   "balanced",
		},
		{
			ID:           "Temple.Basic",
			Intents:      []string{"editor"},
			Clients:      []string{model.Wildcard},
			Modes:        []string{model.Wildcard},
			TechniqueIDs: []string{"clean", "structure", "tone"},
			Contract:     model.Contract{Format: model.ContractText},
			BaseCost:     2,
			ModelClass:   "fast",
		},
		{
			ID:           "Agent.Orchestrate",
			Intents:      []string{"agent"},
			Clients:      []string{model.Wildcard},
			Modes:        []string{"pro"},
			ProOnly:      true,
			TechniqueIDs: []string{"clean", "structure", "constraints", "decompose"},
			Contract: model.Contract{
				Format: model.ContractJSON,
				RequiredFields: map[string]string{
					"prompt": "string",
					"steps":  "array",
				},
			},
			BaseCost:   6,
			ModelClass: "deep",
		},
		{
			ID:           DefaultPipelineID,
			Intents:      []string{model.Wildcard},
			Clients:      []string{model.Wildcard},
			Modes:        []string{model.Wildcard},
			TechniqueIDs: []string{"clean"},
			Contract:     model.Contract{Format: model.ContractText},
			BaseCost:     1,
			ModelClass:   "fast",
		},
	}
}
