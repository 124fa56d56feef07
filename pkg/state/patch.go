package state

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Warning describes a patch field dropped at the merge boundary.
type Warning struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Field, w.Reason)
}

// arrayFields lists the top-level AgentState keys whose values are arrays.
var arrayFields = func() map[string]bool {
	fields := make(map[string]bool)
	t := reflect.TypeOf(AgentState{})
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Type.Kind() != reflect.Slice {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name != "" && name != "-" {
			fields[name] = true
		}
	}
	return fields
}()

// ArrayFields returns the sorted top-level keys guarded by ValidatePatch.
func ArrayFields() []string {
	out := make([]string, 0, len(arrayFields))
	for name := range arrayFields {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// NormalizePatch converts typed Go values inside p into their JSON shape so
// structs merge recursively and slices are recognized as arrays.
func NormalizePatch(p Patch) (Patch, error) {
	if len(p) == 0 {
		return Patch{}, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal patch: %w", err)
	}
	var out Patch
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal patch: %w", err)
	}
	return out, nil
}

// ValidatePatch drops top-level array fields that arrive as non-arrays.
// It runs before Merge; Merge itself never inspects field shapes.
func ValidatePatch(p Patch) (Patch, []Warning) {
	var warnings []Warning
	out := make(Patch, len(p))
	for k, v := range p {
		if arrayFields[k] {
			if _, ok := v.([]any); !ok {
				warnings = append(warnings, Warning{
					Field:  k,
					Reason: fmt.Sprintf("expected array, got %s", describe(v)),
				})
				continue
			}
		}
		out[k] = v
	}
	sort.Slice(warnings, func(i, j int) bool { return warnings[i].Field < warnings[j].Field })
	return out, warnings
}

// Apply validates, normalizes and merges p into s. Dropped fields are
// returned as warnings; a patch that cannot be decoded back into a state
// leaves s untouched and returns an error.
func Apply(s AgentState, p Patch) (AgentState, []Warning, error) {
	normalized, err := NormalizePatch(p)
	if err != nil {
		return s, nil, err
	}
	valid, warnings := ValidatePatch(normalized)
	if len(valid) == 0 {
		return s, warnings, nil
	}
	base, err := s.ToMap()
	if err != nil {
		return s, warnings, err
	}
	merged, err := FromMap(Merge(base, valid))
	if err != nil {
		return s, warnings, fmt.Errorf("patch does not fit state: %w", err)
	}
	return merged, warnings, nil
}

func describe(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, int, int64:
		return "number"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
