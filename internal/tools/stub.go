package tools

import (
	"context"
	"strings"

	"github.com/chorale-dev/chorale/internal/playbook"
)

// StubProvider is a deterministic stand-in for an inference backend, used in
// development and for tools configured without a real endpoint. It derives a
// schema-conforming output from the input text, so repeated calls on the same
// input produce the same result.
type StubProvider struct{}

func NewStubProvider() *StubProvider {
	return &StubProvider{}
}

func (p *StubProvider) Call(_ context.Context, _ CallContext, params map[string]any) (map[string]any, error) {
	input, _ := params["input"].(string)
	schema := asSchema(params["schema"])

	out := make(map[string]any, len(schema))
	for key, ft := range schema {
		switch ft {
		case playbook.FieldString:
			out[key] = firstWords(input, 8)
		case playbook.FieldNumber:
			out[key] = float64(len(input) % 97)
		case playbook.FieldBoolean:
			out[key] = len(input)%2 == 0
		case playbook.FieldArray:
			out[key] = []any{firstWords(input, 3)}
		case playbook.FieldObject:
			out[key] = map[string]any{"value": firstWords(input, 3)}
		}
	}
	if len(out) == 0 {
		out["summary"] = firstWords(input, 12)
	}

	return map[string]any{"output": out, "confidence": 0.8}, nil
}

func asSchema(v any) map[string]playbook.FieldType {
	schema := make(map[string]playbook.FieldType)
	switch m := v.(type) {
	case map[string]playbook.FieldType:
		return m
	case map[string]any:
		for key, ft := range m {
			if s, ok := ft.(string); ok {
				schema[key] = playbook.FieldType(s)
			}
		}
	case map[string]string:
		for key, ft := range m {
			schema[key] = playbook.FieldType(ft)
		}
	}
	return schema
}

func firstWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) == 0 {
		return "no input"
	}
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}
