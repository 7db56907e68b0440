// Package structured implements agentrun's structured-output contract: a
// runner can constrain a model's final answer to a JSON Schema and get
// back a validated value instead of free text, through one of four
// response-modes. Schemas compile once through
// github.com/santhosh-tekuri/jsonschema/v6 and are cached by their
// canonical JSON form.
package structured

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/nguyenthanhtuan/agentrun/agent/agenterr"
	"github.com/nguyenthanhtuan/agentrun/modelcfg"
	"github.com/nguyenthanhtuan/agentrun/tool"
)

// Mode selects how the runner causes a model to emit schema-conforming
// JSON. Auto lets SelectMode pick one appropriate to the target provider.
type Mode string

const (
	ModeAuto       Mode = "auto"
	ModeToolCall   Mode = "tool_call"
	ModeJSONSchema Mode = "json_schema"
	ModeJSON       Mode = "json"
	ModeMDJSON     Mode = "md_json"
)

// StructuredToolName is the synthetic tool ModeToolCall forces the model to
// call; its single argument is the structured output.
const StructuredToolName = "__structured_output__"

// SelectMode resolves ModeAuto against a target provider: Anthropic
// prefers native tool-calling; OpenAI-compatible backends prefer
// response_format json_schema; anything else falls back to a
// fenced-markdown convention every model can follow without API support.
func SelectMode(mode Mode, p modelcfg.Provider) Mode {
	if mode != ModeAuto {
		return mode
	}
	switch {
	case p == modelcfg.ProviderAnthropic:
		return ModeToolCall
	case p.IsOpenAICompatible():
		return ModeJSONSchema
	default:
		return ModeMDJSON
	}
}

// Schema is a named JSON Schema target for structured output.
type Schema struct {
	Name string
	Raw  map[string]interface{}
}

// GuidedKind selects the token-level constraint a guided-decoding backend
// (vLLM, SGLang) applies instead of schema validation after the fact.
type GuidedKind string

const (
	GuidedChoice  GuidedKind = "choice"
	GuidedRegex   GuidedKind = "regex"
	GuidedGrammar GuidedKind = "grammar"
)

// Guided is a guided-decoding constraint: the model's output is restricted
// at sampling time to one of Choices, a Pattern match, or a Grammar (EBNF)
// derivation. Only providers that expose guided decoding honor it; the
// runner passes it through verbatim and returns the raw text.
type Guided struct {
	Kind    GuidedKind
	Choices []string
	Pattern string
	Grammar string
}

// ToolCallTool builds the synthetic tool ModeToolCall forces the model to
// select; its Func is never invoked by the executor because the runner
// intercepts this call name and treats its arguments as the output.
func ToolCallTool(s Schema) *tool.Tool {
	return &tool.Tool{
		Name:        StructuredToolName,
		Description: "Return the final answer matching the required schema.",
		Schema:      s.Raw,
		Func: func(ctx context.Context, _ *tool.RunContext, args map[string]interface{}) (string, tool.ContextPatch, error) {
			return "", tool.ContextPatch{}, fmt.Errorf("%s is not meant to be executed directly", StructuredToolName)
		},
	}
}

var (
	compileMu sync.Mutex
	compiled  = make(map[string]*jsonschema.Schema)
)

// Compile compiles s once and caches the result keyed by its canonical JSON
// form, so a Schema reused across many runner calls only pays the
// compilation cost once.
func Compile(s Schema) (*jsonschema.Schema, error) {
	key, err := canonicalKey(s.Raw)
	if err != nil {
		return nil, agenterr.Wrap(agenterr.KindValidation, "failed to serialize schema", err)
	}

	compileMu.Lock()
	defer compileMu.Unlock()
	if sc, ok := compiled[key]; ok {
		return sc, nil
	}

	c := jsonschema.NewCompiler()
	url := "agentrun://" + s.Name
	if err := c.AddResource(url, s.Raw); err != nil {
		return nil, agenterr.Wrap(agenterr.KindValidation, "failed to add schema resource", err)
	}
	sc, err := c.Compile(url)
	if err != nil {
		return nil, agenterr.Wrap(agenterr.KindValidation, "failed to compile schema", err)
	}
	compiled[key] = sc
	return sc, nil
}

func canonicalKey(raw map[string]interface{}) (string, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// FieldError is one schema-constraint violation, rendered so a model can
// address it directly in a retry turn.
type FieldError struct {
	Path       string
	Constraint string
}

// Validate parses raw JSON against s's compiled schema and returns the
// decoded value plus any field errors. A non-empty FieldError slice with a
// nil error means "parsed fine, failed validation" (the retry path);
// a non-nil error means raw wasn't even valid JSON.
func Validate(s Schema, raw string) (interface{}, []FieldError, error) {
	var instance interface{}
	if err := json.Unmarshal([]byte(raw), &instance); err != nil {
		return nil, nil, agenterr.Wrap(agenterr.KindValidation, "output is not valid JSON", err)
	}

	sc, err := Compile(s)
	if err != nil {
		return nil, nil, err
	}

	if err := sc.Validate(instance); err != nil {
		return instance, flattenValidationError(err), nil
	}
	return instance, nil, nil
}

// flattenValidationError renders a jsonschema validation error tree into
// one FieldError per leaf cause, falling back to a single entry carrying
// err.Error() if the library's internal shape ever changes underneath us.
func flattenValidationError(err error) []FieldError {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []FieldError{{Path: "", Constraint: err.Error()}}
	}

	var out []FieldError
	var walk func(v *jsonschema.ValidationError)
	walk = func(v *jsonschema.ValidationError) {
		if len(v.Causes) == 0 {
			out = append(out, FieldError{
				Path:       strings.Join(v.InstanceLocation, "/"),
				Constraint: v.Error(),
			})
			return
		}
		for _, c := range v.Causes {
			walk(c)
		}
	}
	walk(ve)
	return out
}

// RetryMessage renders field errors into a message the model can act on in
// its next turn.
func RetryMessage(errs []FieldError) string {
	var b strings.Builder
	b.WriteString("Your previous output did not match the required schema:\n")
	for _, e := range errs {
		path := e.Path
		if path == "" {
			path = "(root)"
		}
		fmt.Fprintf(&b, "- %s: %s\n", path, e.Constraint)
	}
	b.WriteString("Please provide a corrected value.")
	return b.String()
}

// SystemInstruction renders a system-prompt suffix telling the model how
// to comply with s under mode, for the modes that rely on instruction
// text rather than a provider-native mechanism (ModeToolCall needs no
// instruction since the tool's own schema and description carry it).
func SystemInstruction(mode Mode, s Schema) string {
	schemaJSON, _ := json.MarshalIndent(s.Raw, "", "  ")
	switch mode {
	case ModeMDJSON:
		return fmt.Sprintf("Respond with a single fenced ```json code block containing a value conforming to this JSON Schema, and nothing else outside the block:\n%s", schemaJSON)
	case ModeJSON, ModeJSONSchema:
		return fmt.Sprintf("Respond with only a JSON value conforming to this JSON Schema, with no surrounding text:\n%s", schemaJSON)
	default:
		return ""
	}
}

var fencedJSONPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// ExtractJSON pulls a JSON payload out of model text according to mode:
// ModeMDJSON looks for a fenced code block, ModeJSON/ModeJSONSchema/
// ModeToolCall expect the text to already be (or contain) a bare JSON
// value.
func ExtractJSON(text string, mode Mode) (string, error) {
	switch mode {
	case ModeMDJSON:
		if m := fencedJSONPattern.FindStringSubmatch(text); len(m) == 2 {
			return strings.TrimSpace(m[1]), nil
		}
		return "", agenterr.New(agenterr.KindValidation, "no fenced JSON block found in output")
	default:
		trimmed := strings.TrimSpace(text)
		start := strings.IndexAny(trimmed, "{[")
		if start < 0 {
			return "", agenterr.New(agenterr.KindValidation, "no JSON value found in output")
		}
		return firstJSONValue(trimmed[start:])
	}
}

// firstJSONValue decodes exactly one JSON value off the front of s,
// discarding any prose the model appended after it.
func firstJSONValue(s string) (string, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	var v json.RawMessage
	if err := dec.Decode(&v); err != nil {
		return "", agenterr.Wrap(agenterr.KindValidation, "output is not valid JSON", err)
	}
	return string(v), nil
}
