package util

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type output struct {
	Verdict   string             `json:"verdict" enum:"pass,fail,review"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	Rationale string             `json:"rationale" description:"short explanation"`
}

func decode(t *testing.T, s string) map[string]any {
	t.Helper()

	m := map[string]any{}
	require.NoError(t, json.Unmarshal([]byte(s), &m))

	return m
}

func TestCreateSchema(t *testing.T) {
	schema := CreateSchema(output{})

	assert.Equal(t, []string{"verdict", "rationale"}, schema["required"])
	assert.Equal(t, false, schema["additionalProperties"])

	props := schema["properties"].(map[string]any)
	assert.Equal(t, []string{"pass", "fail", "review"}, props["verdict"].(map[string]any)["enum"])
	assert.Equal(t, "short explanation", props["rationale"].(map[string]any)["description"])
}

func TestValidateObject(t *testing.T) {
	schema := CreateSchema(&output{})

	assert.NoError(t, ValidateObject(decode(t, `{"verdict":"pass","rationale":"ok","metrics":{"score":700}}`), schema))

	tests := map[string]string{
		"missing rationale": `{"verdict":"pass"}`,
		"unknown field":     `{"verdict":"pass","rationale":"ok","extra":1}`,
		"bad enum":          `{"verdict":"maybe","rationale":"ok"}`,
		"wrong type":        `{"verdict":1,"rationale":"ok"}`,
		"bad metric":        `{"verdict":"pass","rationale":"ok","metrics":{"score":"high"}}`,
		"null verdict":      `{"verdict":null,"rationale":"ok"}`,
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			err := ValidateObject(decode(t, body), schema)

			var verr *ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestRenderTemplate(t *testing.T) {
	out, err := RenderTemplate(`{{ .name | upper }} asks {{ money .amount }}`, map[string]any{"name": "ada", "amount": 30000.0})
	require.NoError(t, err)
	assert.Equal(t, "ADA asks 30000.00", out)

	out, err = RenderTemplate("no markers", nil)
	require.NoError(t, err)
	assert.Equal(t, "no markers", out)

	_, err = RenderTemplate(`{{ .missing }}`, map[string]any{})
	assert.Error(t, err)
}
