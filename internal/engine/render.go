package engine

import (
	"regexp"
	"strings"

	"github.com/promptforge-ai/demon-engine/internal/matcher"
	"github.com/promptforge-ai/demon-engine/internal/model"
)

var slotPattern = regexp.MustCompile(`\{([a-z_][a-z0-9_]*)\}`)

// slotDefaults fills template slots nothing else provided a value for.
var slotDefaults = map[string]string{
	"n":    "3",
	"tone": "neutral",
}

// renderPrompt composes the final prompt by threading the request text
// through each technique template in order. {input} carries the running
// text; named slots fill from command arguments first, then request
// metadata, then defaults.
func renderPrompt(techniques []model.Technique, commands []matcher.Command, meta map[string]string, text string) string {
	params := make(map[string]string, len(meta)+4)
	for k, v := range slotDefaults {
		params[k] = v
	}
	for k, v := range meta {
		params[k] = v
	}
	for _, cmd := range commands {
		for k, v := range cmd.Args {
			params[k] = v
		}
	}

	composed := text
	for _, tech := range techniques {
		composed = slotPattern.ReplaceAllStringFunc(tech.Template, func(m string) string {
			name := m[1 : len(m)-1]
			if name == "input" {
				return composed
			}
			if v, ok := params[name]; ok {
				return v
			}
			return ""
		})
	}
	return strings.TrimSpace(composed)
}
