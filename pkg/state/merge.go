package state

// Patch is a partial state in JSON object form. Only the keys present are
// applied.
type Patch map[string]any

// Merge deep-merges patch into base and returns a new map. When both sides
// of a key hold objects they are merged recursively; any other patch value,
// arrays included, replaces the base value. Neither input is mutated and the
// result shares no containers with them.
func Merge(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		out[k] = copyValue(v)
	}
	for k, pv := range patch {
		bm, baseIsObject := out[k].(map[string]any)
		pm, patchIsObject := pv.(map[string]any)
		if baseIsObject && patchIsObject {
			out[k] = Merge(bm, pm)
			continue
		}
		out[k] = copyValue(pv)
	}
	return out
}

// Fold merges patches left to right into a single patch.
func Fold(patches ...Patch) Patch {
	out := Patch{}
	for _, p := range patches {
		if len(p) == 0 {
			continue
		}
		out = Merge(out, p)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, inner := range t {
			m[k] = copyValue(inner)
		}
		return m
	case Patch:
		return copyValue(map[string]any(t))
	case []any:
		s := make([]any, len(t))
		for i, inner := range t {
			s[i] = copyValue(inner)
		}
		return s
	default:
		return v
	}
}
