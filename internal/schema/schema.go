// Package schema checks one agent's output against its declared contract:
// at most five keys, each of a fixed JSON kind.
package schema

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/chorale-dev/chorale/internal/playbook"
)

// MaxKeys caps the number of keys an agent output may carry.
const MaxKeys = 5

// Outcome classifies a contract check.
type Outcome string

const (
	OutcomeOK            Outcome = "ok"
	OutcomeMissingKey    Outcome = "missing_key"
	OutcomeExtraKeyCount Outcome = "extra_key_count_exceeded"
	OutcomeTypeMismatch  Outcome = "type_mismatch"
)

// Result is the verdict for one output. Key names the offending key when the
// outcome is key-specific.
type Result struct {
	Outcome Outcome `json:"outcome"`
	Key     string  `json:"key,omitempty"`
	Detail  string  `json:"detail,omitempty"`
}

// OK reports whether the output satisfied its contract.
func (r Result) OK() bool {
	return r.Outcome == OutcomeOK
}

// Check validates output against schema. The output must be a JSON object
// with at most MaxKeys keys, every declared key present, and every declared
// key's value matching its declared type. Undeclared keys are tolerated as
// long as the total stays within the cap. Checks run in a fixed order over
// sorted keys, so identical input always yields an identical Result.
func Check(decl map[string]playbook.FieldType, output any) Result {
	obj, ok := output.(map[string]any)
	if !ok {
		return Result{
			Outcome: OutcomeTypeMismatch,
			Detail:  fmt.Sprintf("output is %T, not an object", output),
		}
	}

	if len(obj) > MaxKeys {
		return Result{
			Outcome: OutcomeExtraKeyCount,
			Detail:  fmt.Sprintf("output has %d keys, limit is %d", len(obj), MaxKeys),
		}
	}

	keys := make([]string, 0, len(decl))
	for k := range decl {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v, present := obj[k]
		if !present {
			return Result{
				Outcome: OutcomeMissingKey,
				Key:     k,
				Detail:  fmt.Sprintf("required key %q is absent", k),
			}
		}
		if !matches(decl[k], v) {
			return Result{
				Outcome: OutcomeTypeMismatch,
				Key:     k,
				Detail:  fmt.Sprintf("key %q is %T, declared %s", k, v, decl[k]),
			}
		}
	}

	return Result{Outcome: OutcomeOK}
}

func matches(t playbook.FieldType, v any) bool {
	switch t {
	case playbook.FieldString:
		_, ok := v.(string)
		return ok
	case playbook.FieldNumber:
		switch v.(type) {
		case float64, float32, int, int32, int64, json.Number:
			return true
		}
		return false
	case playbook.FieldBoolean:
		_, ok := v.(bool)
		return ok
	case playbook.FieldArray:
		_, ok := v.([]any)
		return ok
	case playbook.FieldObject:
		_, ok := v.(map[string]any)
		return ok
	}
	return false
}
