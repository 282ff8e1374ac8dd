package metadata

type Entity struct {
	Name       string     `json:"name"`
	Table      string     `json:"table"`
	PrimaryKey PrimaryKey `json:"primary_key"`
	SoftDelete bool       `json:"soft_delete"`
	Timestamps bool       `json:"timestamps"`
	Localized  bool       `json:"localized"`
	I18nTable  string     `json:"i18n_table,omitempty"`
	Fields     []Field    `json:"fields"`

	Access EntityAccess `json:"access,omitempty"`
}

type PrimaryKey struct {
	Field     string `json:"field"`
	Type      string `json:"type"` // uuid, number, text
	Generated bool   `json:"generated"`
}

// GetField returns a pointer to the field with the given name, or nil.
func (e *Entity) GetField(name string) *Field {
	for i := range e.Fields {
		if e.Fields[i].Name == name {
			return &e.Fields[i]
		}
	}
	return nil
}

// HasField returns true if the entity has a field with the given name.
func (e *Entity) HasField(name string) bool {
	return e.GetField(name) != nil
}

// FieldNames returns all field names.
func (e *Entity) FieldNames() []string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.Name
	}
	return names
}

// LocaleTable returns the table holding localized field values,
// defaulting to "<table>_i18n" when localization is enabled.
func (e *Entity) LocaleTable() string {
	if !e.Localized {
		return ""
	}
	if e.I18nTable != "" {
		return e.I18nTable
	}
	return e.Table + "_i18n"
}

// LocalizedFields returns the fields whose values live in the locale table.
func (e *Entity) LocalizedFields() []Field {
	var fields []Field
	for _, f := range e.Fields {
		if f.Localized {
			fields = append(fields, f)
		}
	}
	return fields
}

// WritableFields returns fields that can be set by the client.
// Excludes auto-generated PKs and auto-timestamp fields.
func (e *Entity) WritableFields() []Field {
	var fields []Field
	for _, f := range e.Fields {
		if f.Name == e.PrimaryKey.Field && e.PrimaryKey.Generated {
			continue
		}
		if f.IsAuto() {
			continue
		}
		fields = append(fields, f)
	}
	return fields
}
