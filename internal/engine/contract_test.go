package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptforge-ai/demon-engine/internal/model"
)

func jsonContract() model.Contract {
	return model.Contract{
		Format: model.ContractJSON,
		RequiredFields: map[string]string{
			"prompt": "string",
			"steps":  "array",
		},
	}
}

func TestValidateContractText(t *testing.T) {
	c := model.Contract{Format: model.ContractText}

	_, err := validateContract(c, "some output")
	assert.NoError(t, err)

	_, err = validateContract(c, "   \n ")
	assert.ErrorIs(t, err, ErrContractViolation)
}

func TestValidateContractJSON(t *testing.T) {
	obj, err := validateContract(jsonContract(), `{"prompt": "do x", "steps": ["a", "b"]}`)
	require.NoError(t, err)
	assert.Equal(t, "do x", obj["prompt"])
}

func TestValidateContractJSONViolations(t *testing.T) {
	tests := []struct {
		name   string
		output string
	}{
		{"prose only", "I cannot answer in JSON"},
		{"invalid json", `{"prompt": `},
		{"missing field", `{"prompt": "do x"}`},
		{"wrong type", `{"prompt": "do x", "steps": "not an array"}`},
		{"empty string field", `{"prompt": "", "steps": []}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := validateContract(jsonContract(), tt.output)
			assert.ErrorIs(t, err, ErrContractViolation)
		})
	}
}

func TestValidateContractJSONInCodeFence(t *testing.T) {
	output := "Here you go:\n```json\n{\"prompt\": \"do x\", \"steps\": []}\n```\n"
	obj, err := validateContract(jsonContract(), output)
	require.NoError(t, err)
	assert.Equal(t, "do x", obj["prompt"])
}

func TestValidateContractJSONWithSurroundingProse(t *testing.T) {
	output := `Sure! {"prompt": "do x", "steps": [1, 2]} Hope that helps.`
	obj, err := validateContract(jsonContract(), output)
	require.NoError(t, err)
	assert.Equal(t, "do x", obj["prompt"])
}
