package domain

// Metadata is an unstructured field container for definition dialects and
// stage selections.
type Metadata map[string]any

func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	copy := make(Metadata, len(m))
	for k, v := range m {
		copy[k] = v
	}
	return copy
}

// String returns the value of a key when it is a non-empty string.
func (m Metadata) String(key string) (string, bool) {
	if m == nil {
		return "", false
	}
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// StringSlice returns the value of a key as a string slice, accepting both
// []string and []any payloads from decoded documents.
func (m Metadata) StringSlice(key string) []string {
	if m == nil {
		return nil
	}
	switch v := m[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// DefinitionDocument is the raw definition material fetched from the
// definition store: a textual dialect, a canvas graph dialect, or both,
// plus the flat per-stage selections side channel keyed "<nodeId>__<stageId>".
type DefinitionDocument struct {
	PipelineRef string
	Textual     []byte
	Canvas      []byte
	Selections  map[string]Metadata
}
