package model

// Wildcard matches any intent, client, or mode in a pipeline definition.
const Wildcard = "any"

// ContractFormat describes the expected top-level shape of provider output.
type ContractFormat string

const (
	// ContractJSON requires the output to parse as a JSON object with the
	// contract's required fields present and type-matched.
	ContractJSON ContractFormat = "json"
	// ContractText requires non-empty plain text.
	ContractText ContractFormat = "text"
)

// Contract declares the output shape a pipeline's provider response must
// satisfy before billing is finalized.
type Contract struct {
	Format ContractFormat `json:"format" yaml:"format"`
	// RequiredFields maps field name to expected JSON type: "string",
	// "number", "bool", "array", "object". Only checked for ContractJSON.
	RequiredFields map[string]string `json:"required_fields,omitempty" yaml:"required_fields,omitempty"`
}

// PipelineDefinition names an ordered composition of techniques applied to
// requests matching its intent/client/mode sets. Definitions are loaded
// from configuration and are read-only at request time.
type PipelineDefinition struct {
	ID           string   `json:"id" yaml:"id"`
	Intents      []string `json:"intents" yaml:"intents"`
	Clients      []string `json:"clients" yaml:"clients"`
	Modes        []string `json:"modes" yaml:"modes"`
	ProOnly      bool     `json:"pro_only" yaml:"pro_only"`
	TechniqueIDs []string `json:"technique_ids" yaml:"technique_ids"`
	Contract     Contract `json:"contract" yaml:"contract"`
	// MatchThreshold is the minimum technique confidence for inclusion.
	// Zero means the default (0.5).
	MatchThreshold float64 `json:"match_threshold,omitempty" yaml:"match_threshold,omitempty"`
	// BaseCost is the pipeline's flat credit cost before per-technique and
	// length components.
	BaseCost int64 `json:"base_cost" yaml:"base_cost"`
	// ModelClass selects which providers may serve this pipeline.
	ModelClass string `json:"model_class" yaml:"model_class"`
	// Order is the declaration index, used to break specificity ties
	// deterministically (first registered wins).
	Order int `json:"-" yaml:"-"`
}

// MatchesIntent reports whether the pipeline applies to the given intent.
func (p *PipelineDefinition) MatchesIntent(intent string) bool {
	return containsOrWildcard(p.Intents, intent)
}

// MatchesClient reports whether the pipeline applies to the given client.
func (p *PipelineDefinition) MatchesClient(client string) bool {
	return containsOrWildcard(p.Clients, client)
}

// MatchesMode reports whether the pipeline applies to the given mode.
func (p *PipelineDefinition) MatchesMode(mode string) bool {
	return containsOrWildcard(p.Modes, mode)
}

// WildcardIntent reports whether the pipeline accepts any intent.
func (p *PipelineDefinition) WildcardIntent() bool { return containsWildcard(p.Intents) }

// WildcardClient reports whether the pipeline accepts any client.
func (p *PipelineDefinition) WildcardClient() bool { return containsWildcard(p.Clients) }

// WildcardMode reports whether the pipeline accepts any mode.
func (p *PipelineDefinition) WildcardMode() bool { return containsWildcard(p.Modes) }

func containsWildcard(set []string) bool {
	for _, s := range set {
		if s == Wildcard {
			return true
		}
	}
	return false
}

func containsOrWildcard(set []string, v string) bool {
	for _, s := range set {
		if s == v || s == Wildcard {
			return true
		}
	}
	return false
}

// Technique is a single reusable prompt transformation. Fragment templates
// use {input} for the text being composed plus optional named slots filled
// from request metadata.
type Technique struct {
	ID         string   `json:"id" yaml:"id"`
	Aliases    []string `json:"aliases,omitempty" yaml:"aliases,omitempty"` // PFCL commands, e.g. "/structure"
	Tags       []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	Intents    []string `json:"intents,omitempty" yaml:"intents,omitempty"`
	Template   string   `json:"template" yaml:"template"`
	BaseWeight float64  `json:"base_weight,omitempty" yaml:"base_weight,omitempty"`
	Cost       int64    `json:"cost" yaml:"cost"`
}
