// Package matcher selects which of a pipeline's techniques actually apply
// to a given request. Techniques are scored for relevance; the pipeline's
// declared order is preserved for everything that makes the cut. Inline
// slash commands force their technique in regardless of score.
package matcher

import (
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/promptforge-ai/demon-engine/internal/model"
)

// DefaultThreshold is the minimum confidence for a technique to be
// included when the pipeline does not set its own.
const DefaultThreshold = 0.5

// ErrUnknownTechnique means a pipeline references a technique ID that is
// not in the catalog.
var ErrUnknownTechnique = eris.New("unknown technique")

// Match is the outcome of matching one request against one pipeline.
type Match struct {
	// Techniques are the included techniques in pipeline-declared order,
	// followed by any command-forced extras in command order.
	Techniques []model.Technique
	// Scores covers every candidate, included or not, for diagnostics.
	Scores []model.TechniqueScore
	// Commands are the parsed inline commands.
	Commands []Command
	// Text is the request text with leading commands stripped.
	Text string
}

// Matcher scores techniques from a catalog.
type Matcher struct {
	catalog map[string]model.Technique
	byAlias map[string]string // normalized alias -> technique ID
}

// New builds a Matcher over the technique catalog.
func New(techniques []model.Technique) *Matcher {
	m := &Matcher{
		catalog: make(map[string]model.Technique, len(techniques)),
		byAlias: make(map[string]string),
	}
	for _, tech := range techniques {
		m.catalog[tech.ID] = tech
		m.byAlias[normalize(tech.ID)] = tech.ID
		for _, alias := range tech.Aliases {
			m.byAlias[normalize(strings.TrimPrefix(alias, "/"))] = tech.ID
		}
	}
	return m
}

// Lookup returns a technique by ID.
func (m *Matcher) Lookup(id string) (model.Technique, bool) {
	t, ok := m.catalog[id]
	return t, ok
}

// Match scores the pipeline's declared techniques against the request text
// and intent. Techniques at or above the threshold are included in
// declared order. Slash commands at the start of the text force their
// technique with full confidence, even when it is not declared by the
// pipeline, and are stripped from the text.
func (m *Matcher) Match(pipeline *model.PipelineDefinition, text, intent string) (*Match, error) {
	commands, stripped := ParseCommands(text)
	normText := normalize(stripped)

	forced := make(map[string]bool)
	var forcedOrder []string
	for _, cmd := range commands {
		id, ok := m.byAlias[cmd.Name]
		if !ok {
			zap.L().Debug("ignoring unknown command", zap.String("command", cmd.Name))
			continue
		}
		if !forced[id] {
			forced[id] = true
			forcedOrder = append(forcedOrder, id)
		}
	}

	threshold := pipeline.MatchThreshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	out := &Match{Commands: commands, Text: stripped}
	declared := make(map[string]bool, len(pipeline.TechniqueIDs))

	for _, id := range pipeline.TechniqueIDs {
		tech, ok := m.catalog[id]
		if !ok {
			return nil, eris.Wrapf(ErrUnknownTechnique, "matcher: pipeline %q technique %q", pipeline.ID, id)
		}
		declared[id] = true

		score := m.score(tech, normText, intent)
		isForced := forced[id]
		included := isForced || score >= threshold
		out.Scores = append(out.Scores, model.TechniqueScore{
			TechniqueID: id,
			Score:       score,
			Included:    included,
			Forced:      isForced,
		})
		if included {
			out.Techniques = append(out.Techniques, tech)
		}
	}

	// Command-forced techniques outside the pipeline come last, in the
	// order the user wrote them.
	for _, id := range forcedOrder {
		if declared[id] {
			continue
		}
		tech := m.catalog[id]
		out.Scores = append(out.Scores, model.TechniqueScore{
			TechniqueID: id,
			Score:       1,
			Included:    true,
			Forced:      true,
		})
		out.Techniques = append(out.Techniques, tech)
	}

	return out, nil
}

// score computes the technique's confidence for this request in [0, 1].
func (m *Matcher) score(tech model.Technique, normText, intent string) float64 {
	score := tech.BaseWeight
	if score <= 0 {
		score = DefaultThreshold
	}

	for _, ti := range tech.Intents {
		if ti == intent {
			score += 0.2
			break
		}
	}
	for _, tag := range tech.Tags {
		if strings.Contains(normText, normalize(tag)) {
			score += 0.15
			break
		}
	}

	if score > 1 {
		score = 1
	}
	return score
}

// normalize folds the text to a canonical lowercase form so tag and alias
// matching is insensitive to case and unicode presentation.
func normalize(s string) string {
	return strings.ToLower(norm.NFKC.String(s))
}
