package models

import (
	"encoding/json"
	"strings"
)

// NormalizeAssignees flattens the flexible assignee encoding accepted in
// node configs into a plain list of identifiers. Accepted shapes:
//
//   - a single identifier string
//   - an array of identifier strings
//   - an array of records like {"id": "kind:identifier", ...}, where the raw
//     identifier follows the first colon
//   - any of the above JSON-encoded as a string
//
// The ambiguity is resolved here at the boundary; engine code only ever
// sees []string. Unrecognized shapes yield an empty list.
func NormalizeAssignees(value any) []string {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return nil
		}

		// A string holding serialized structured data is parsed before
		// interpretation.
		if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{") {
			var decoded any
			if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
				return NormalizeAssignees(decoded)
			}
		}

		return []string{trimmed}
	case []string:
		ids := make([]string, 0, len(v))
		for _, s := range v {
			ids = append(ids, NormalizeAssignees(s)...)
		}

		return ids
	case []any:
		ids := make([]string, 0, len(v))
		for _, item := range v {
			ids = append(ids, NormalizeAssignees(item)...)
		}

		return ids
	case map[string]any:
		raw, ok := v["id"].(string)
		if !ok || raw == "" {
			return nil
		}

		if _, id, found := strings.Cut(raw, ":"); found {
			return []string{id}
		}

		return []string{raw}
	default:
		return nil
	}
}
