package structured

import (
	"testing"

	"github.com/nguyenthanhtuan/agentrun/modelcfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func answerSchema() Schema {
	return Schema{
		Name: "answer",
		Raw: map[string]interface{}{
			"type":     "object",
			"required": []interface{}{"answer"},
			"properties": map[string]interface{}{
				"answer": map[string]interface{}{"type": "string"},
				"confidence": map[string]interface{}{
					"type":    "number",
					"minimum": 0,
					"maximum": 1,
				},
			},
		},
	}
}

func TestSelectModeAuto(t *testing.T) {
	assert.Equal(t, ModeToolCall, SelectMode(ModeAuto, modelcfg.ProviderAnthropic))
	assert.Equal(t, ModeJSONSchema, SelectMode(ModeAuto, modelcfg.ProviderOpenAI))
	assert.Equal(t, ModeJSONSchema, SelectMode(ModeAuto, modelcfg.ProviderVLLM))
	assert.Equal(t, ModeJSONSchema, SelectMode(ModeAuto, modelcfg.ProviderOllama))
	assert.Equal(t, ModeMDJSON, SelectMode(ModeAuto, modelcfg.ProviderGemini))
}

func TestSelectModeExplicitPassesThrough(t *testing.T) {
	assert.Equal(t, ModeJSON, SelectMode(ModeJSON, modelcfg.ProviderAnthropic))
}

func TestValidateAcceptsConformingOutput(t *testing.T) {
	s := answerSchema()
	val, errs, err := Validate(s, `{"answer":"42","confidence":0.9}`)
	require.NoError(t, err)
	assert.Empty(t, errs)
	assert.NotNil(t, val)
}

func TestValidateRejectsMissingRequiredField(t *testing.T) {
	s := answerSchema()
	_, errs, err := Validate(s, `{"confidence":0.9}`)
	require.NoError(t, err)
	require.NotEmpty(t, errs)
}

func TestValidateRejectsOutOfRangeField(t *testing.T) {
	s := answerSchema()
	_, errs, err := Validate(s, `{"answer":"42","confidence":5}`)
	require.NoError(t, err)
	require.NotEmpty(t, errs)
}

func TestValidateRejectsInvalidJSON(t *testing.T) {
	s := answerSchema()
	_, _, err := Validate(s, `not json`)
	require.Error(t, err)
}

func TestCompileIsCached(t *testing.T) {
	s := answerSchema()
	sc1, err := Compile(s)
	require.NoError(t, err)
	sc2, err := Compile(s)
	require.NoError(t, err)
	assert.Same(t, sc1, sc2)
}

func TestRetryMessageRendersFieldPaths(t *testing.T) {
	msg := RetryMessage([]FieldError{{Path: "answer", Constraint: "required"}})
	assert.Contains(t, msg, "answer")
	assert.Contains(t, msg, "required")
}

func TestExtractJSONFromFencedBlock(t *testing.T) {
	text := "Here is my answer:\n```json\n{\"answer\":\"42\"}\n```\nThanks."
	out, err := ExtractJSON(text, ModeMDJSON)
	require.NoError(t, err)
	assert.Equal(t, `{"answer":"42"}`, out)
}

func TestExtractJSONFromFencedBlockMissing(t *testing.T) {
	_, err := ExtractJSON("no fences here", ModeMDJSON)
	require.Error(t, err)
}

func TestExtractJSONFromBareText(t *testing.T) {
	out, err := ExtractJSON(`some preamble {"answer":"42"}`, ModeJSON)
	require.NoError(t, err)
	assert.Equal(t, `{"answer":"42"}`, out)
}

func TestExtractJSONIgnoresTrailingProse(t *testing.T) {
	out, err := ExtractJSON("{\"answer\":\"42\"}\nHope that helps!", ModeJSON)
	require.NoError(t, err)
	assert.Equal(t, `{"answer":"42"}`, out)
}

func TestToolCallToolCarriesSchema(t *testing.T) {
	s := answerSchema()
	tl := ToolCallTool(s)
	assert.Equal(t, StructuredToolName, tl.Name)
	assert.Equal(t, s.Raw, tl.Schema)
}
