package metadata

import "sync"

// Registry holds the schema model. It is populated once at startup (and
// swapped wholesale on reload); readers never see a partial load.
type Registry struct {
	mu                sync.RWMutex
	entities          map[string]*Entity
	relationsBySource map[string][]*Relation
}

func NewRegistry() *Registry {
	return &Registry{
		entities:          make(map[string]*Entity),
		relationsBySource: make(map[string][]*Relation),
	}
}

// GetEntity returns the entity with the given name, or nil.
func (r *Registry) GetEntity(name string) *Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entities[name]
}

// AllEntities returns all registered entities.
func (r *Registry) AllEntities() []*Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entities := make([]*Entity, 0, len(r.entities))
	for _, e := range r.entities {
		entities = append(entities, e)
	}
	return entities
}

// RelationFor returns the named relation declared by the given source
// entity, or nil. Relation names are scoped per source entity, so a filter
// key can be classified as field or relation without ambiguity.
func (r *Registry) RelationFor(entityName, relationName string) *Relation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rel := range r.relationsBySource[entityName] {
		if rel.Name == relationName {
			return rel
		}
	}
	return nil
}

// RelationsForSource returns all relations declared by the given entity.
func (r *Registry) RelationsForSource(entityName string) []*Relation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.relationsBySource[entityName]
}

// Load replaces all entities and relations in the registry.
// Called during startup and after schema mutations.
func (r *Registry) Load(entities []*Entity, relations []*Relation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entities = make(map[string]*Entity, len(entities))
	for _, e := range entities {
		r.entities[e.Name] = e
	}

	r.relationsBySource = make(map[string][]*Relation)
	for _, rel := range relations {
		r.relationsBySource[rel.Source] = append(r.relationsBySource[rel.Source], rel)
	}
}
