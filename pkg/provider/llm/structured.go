package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator"
	"github.com/invopop/jsonschema"
	"github.com/kaptinlin/jsonrepair"
)

// ErrInvalidOutput is returned by [GenerateStructured] when the model reply
// cannot be decoded into the target type or fails validation.
var ErrInvalidOutput = errors.New("llm: invalid structured output")

var validate = validator.New()

// SchemaFor reflects a JSON Schema for T. Additional properties are
// disallowed and definitions are inlined so the result can be sent to
// providers that do not resolve $ref.
func SchemaFor[T any]() (map[string]any, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	t := reflect.TypeFor[T]()
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	raw, err := json.Marshal(reflector.ReflectFromType(t))
	if err != nil {
		return nil, fmt.Errorf("llm: marshal schema for %s: %w", t, err)
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("llm: decode schema for %s: %w", t, err)
	}
	delete(schema, "$schema")
	delete(schema, "$id")
	return schema, nil
}

// GenerateStructured runs req against p with a response schema derived from T
// and decodes the reply into a T. Malformed JSON is repaired before decoding
// and the decoded value is checked against its `validate` struct tags.
func GenerateStructured[T any](ctx context.Context, p Provider, req CompletionRequest, name, description string) (T, error) {
	var zero T
	schema, err := SchemaFor[T]()
	if err != nil {
		return zero, err
	}
	req.ResponseSchema = &ResponseSchema{Name: name, Description: description, Schema: schema}

	resp, err := p.Complete(ctx, req)
	if err != nil {
		return zero, err
	}
	if resp == nil {
		return zero, fmt.Errorf("%w: empty response", ErrInvalidOutput)
	}

	var out T
	if err := DecodeJSON(resp.Content, &out); err != nil {
		if resp.Truncated() {
			return zero, fmt.Errorf("%w (reply cut off at the token limit)", err)
		}
		return zero, err
	}
	if reflect.TypeFor[T]().Kind() == reflect.Struct {
		if err := validate.Struct(out); err != nil {
			return zero, fmt.Errorf("%w: %w", ErrInvalidOutput, err)
		}
	}
	return out, nil
}

// DecodeJSON unmarshals model output into out. It tolerates markdown code
// fences, double-encoded strings and syntactically broken JSON.
func DecodeJSON(content string, out any) error {
	input := stripFences(content)
	if input == "" {
		return fmt.Errorf("%w: empty content", ErrInvalidOutput)
	}
	if err := json.Unmarshal([]byte(input), out); err == nil {
		return nil
	}

	var asString string
	if err := json.Unmarshal([]byte(input), &asString); err == nil {
		asString = strings.TrimSpace(asString)
		if err := json.Unmarshal([]byte(asString), out); err == nil {
			return nil
		}
		input = asString
	}

	repaired, err := jsonrepair.JSONRepair(input)
	if err != nil {
		return fmt.Errorf("%w: repair: %w", ErrInvalidOutput, err)
	}
	if err := json.Unmarshal([]byte(repaired), out); err != nil {
		return fmt.Errorf("%w: decode repaired output: %w", ErrInvalidOutput, err)
	}
	return nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// SchemaInstruction renders rs as a prompt suffix for providers without
// native structured output.
func SchemaInstruction(rs *ResponseSchema) string {
	if rs == nil {
		return ""
	}
	raw, err := json.Marshal(rs.Schema)
	if err != nil {
		raw = []byte("{}")
	}
	var b strings.Builder
	b.WriteString("Respond with a single JSON document and nothing else.")
	if rs.Description != "" {
		b.WriteString(" The document is ")
		b.WriteString(rs.Description)
		b.WriteString(".")
	}
	b.WriteString(" It must conform to this JSON Schema:\n")
	b.Write(raw)
	return b.String()
}
