package models

import "slices"

// FormField describes one editable field of a task form. An empty Editors
// list means any task assignee may edit the field.
type FormField struct {
	Name     string   `json:"name"     validate:"required"`
	Label    string   `json:"label,omitempty"`
	Type     string   `json:"type,omitempty"`
	Required bool     `json:"required,omitempty"`
	Editors  []string `json:"editors,omitempty"`
}

// FormSchema restricts which fields of a task form exist and who may edit
// each of them. The optional JSONSchema payload is validated on submission
// by the form service.
type FormSchema struct {
	Fields     []FormField    `json:"fields"`
	JSONSchema map[string]any `json:"json_schema,omitempty"`
}

// EditableFields returns the names of the fields the given user is
// authorized to edit.
func (s *FormSchema) EditableFields(userID string) []string {
	names := make([]string, 0, len(s.Fields))

	for _, f := range s.Fields {
		if len(f.Editors) == 0 || slices.Contains(f.Editors, userID) {
			names = append(names, f.Name)
		}
	}

	return names
}

// FieldEditable reports whether the user may edit the named field. Fields
// absent from the schema are not editable when a schema is attached.
func (s *FormSchema) FieldEditable(name, userID string) bool {
	for _, f := range s.Fields {
		if f.Name != name {
			continue
		}

		return len(f.Editors) == 0 || slices.Contains(f.Editors, userID)
	}

	return false
}
