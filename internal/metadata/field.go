package metadata

// Field describes a single field on an entity. Type is a field-kind tag
// resolved against the query package's type registry; the schema model itself
// never interprets operator semantics.
type Field struct {
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	Column    string   `json:"column,omitempty"` // storage column override, defaults to Name
	Path      []string `json:"path,omitempty"`   // JSON path inside Column for embedded values
	Required  bool     `json:"required,omitempty"`
	Unique    bool     `json:"unique,omitempty"`
	Nullable  bool     `json:"nullable,omitempty"`
	Localized bool     `json:"localized,omitempty"`
	Enum      []string `json:"enum,omitempty"`
	Precision int      `json:"precision,omitempty"`
	Auto      string   `json:"auto,omitempty"` // "create" or "update"

	Access FieldAccess `json:"access,omitempty"`
}

// ColumnName returns the storage column backing this field.
func (f *Field) ColumnName() string {
	if f.Column != "" {
		return f.Column
	}
	return f.Name
}

// Embedded reports whether the field value lives inside a JSON document
// column rather than in a dedicated column of its own.
func (f *Field) Embedded() bool {
	return len(f.Path) > 0
}

// IsAuto returns true if the field is auto-managed by the engine.
func (f Field) IsAuto() bool {
	return f.Auto == "create" || f.Auto == "update"
}
