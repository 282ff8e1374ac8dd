package metadata

// Relation topology tags.
const (
	RelationBelongsTo  = "belongs_to"
	RelationHasMany    = "has_many"
	RelationManyToMany = "many_to_many"
	RelationMorphTo    = "morph_to"
)

// Relation describes how two entities are connected. The set of meaningful
// fields depends on Type:
//
//   - belongs_to: SourceFields (FK columns on the source table) pair
//     positionally with TargetFields (referenced columns on the target).
//   - has_many: the target entity owns the foreign key; Reverse names the
//     belongs_to relation on the target whose join keys are reused.
//   - many_to_many: Through is the join table; SourceJoinField/TargetJoinField
//     are its columns, SourceKey/TargetKey the columns they reference on the
//     source and target tables.
//   - morph_to: the source row stores "<name>_type" and "<name>_id" columns;
//     TypeMap maps discriminator values to entity names.
type Relation struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Source string `json:"source"`
	Target string `json:"target,omitempty"` // empty for morph_to

	SourceFields []string `json:"source_fields,omitempty"`
	TargetFields []string `json:"target_fields,omitempty"`

	Reverse string `json:"reverse,omitempty"`

	Through         string `json:"through,omitempty"`
	SourceKey       string `json:"source_key,omitempty"`
	TargetKey       string `json:"target_key,omitempty"`
	SourceJoinField string `json:"source_join_field,omitempty"`
	TargetJoinField string `json:"target_join_field,omitempty"`

	TypeMap map[string]string `json:"type_map,omitempty"`
}

func (r *Relation) IsBelongsTo() bool  { return r.Type == RelationBelongsTo }
func (r *Relation) IsHasMany() bool    { return r.Type == RelationHasMany }
func (r *Relation) IsManyToMany() bool { return r.Type == RelationManyToMany }
func (r *Relation) IsMorphTo() bool    { return r.Type == RelationMorphTo }

// ToOne reports whether the relation points at a single row.
func (r *Relation) ToOne() bool {
	return r.IsBelongsTo() || r.IsMorphTo()
}

// MorphTypeColumn returns the discriminator column for a morph_to relation.
func (r *Relation) MorphTypeColumn() string { return r.Name + "_type" }

// MorphIDColumn returns the id column for a morph_to relation.
func (r *Relation) MorphIDColumn() string { return r.Name + "_id" }
