package engine

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/promptforge-ai/demon-engine/internal/model"
)

// ErrContractViolation means the provider output did not satisfy the
// pipeline's output contract. The request is refunded in full.
var ErrContractViolation = eris.New("output violates pipeline contract")

// validateContract checks provider output against the pipeline contract.
// For JSON contracts it returns the parsed object for downstream use.
func validateContract(contract model.Contract, output string) (map[string]any, error) {
	switch contract.Format {
	case model.ContractJSON:
		return validateJSON(contract, output)
	default:
		if strings.TrimSpace(output) == "" {
			return nil, eris.Wrap(ErrContractViolation, "engine: empty text output")
		}
		return nil, nil
	}
}

func validateJSON(contract model.Contract, output string) (map[string]any, error) {
	raw := extractJSON(output)
	if raw == "" {
		return nil, eris.Wrap(ErrContractViolation, "engine: no JSON object in output")
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, eris.Wrap(ErrContractViolation, "engine: output is not valid JSON")
	}

	for field, wantType := range contract.RequiredFields {
		v, ok := obj[field]
		if !ok {
			return nil, eris.Wrapf(ErrContractViolation, "engine: missing field %q", field)
		}
		if !typeMatches(v, wantType) {
			return nil, eris.Wrapf(ErrContractViolation, "engine: field %q is not %s", field, wantType)
		}
	}
	return obj, nil
}

// extractJSON pulls the outermost JSON object from the output, tolerating
// surrounding prose and markdown code fences.
func extractJSON(output string) string {
	s := strings.TrimSpace(output)
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func typeMatches(v any, wantType string) bool {
	switch wantType {
	case "string":
		s, ok := v.(string)
		return ok && s != ""
	case "number":
		_, ok := v.(float64)
		return ok
	case "bool":
		_, ok := v.(bool)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	default:
		return v != nil
	}
}
