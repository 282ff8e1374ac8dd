package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/questpie/questpie-cms-sub013/internal/store"
)

// LoadAll reads all entities and relations from the system tables and
// populates the registry in one swap.
func LoadAll(ctx context.Context, q store.Querier, reg *Registry) error {
	entities, err := loadEntities(ctx, q)
	if err != nil {
		return fmt.Errorf("load entities: %w", err)
	}

	relations, err := loadRelations(ctx, q)
	if err != nil {
		return fmt.Errorf("load relations: %w", err)
	}

	reg.Load(entities, relations)

	log.Printf("Loaded %d entities, %d relations into registry", len(entities), len(relations))
	return nil
}

// Reload is an alias for LoadAll, called after schema mutations.
func Reload(ctx context.Context, q store.Querier, reg *Registry) error {
	return LoadAll(ctx, q, reg)
}

func loadEntities(ctx context.Context, q store.Querier) ([]*Entity, error) {
	rows, err := q.QueryContext(ctx, "SELECT name, definition FROM _entities ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entities []*Entity
	for rows.Next() {
		var name string
		var defJSON []byte
		if err := rows.Scan(&name, &defJSON); err != nil {
			return nil, fmt.Errorf("scan entity row: %w", err)
		}

		var entity Entity
		if err := json.Unmarshal(defJSON, &entity); err != nil {
			log.Printf("WARN: skipping entity %s (invalid JSON): %v", name, err)
			continue
		}
		entities = append(entities, &entity)
	}
	return entities, rows.Err()
}

func loadRelations(ctx context.Context, q store.Querier) ([]*Relation, error) {
	rows, err := q.QueryContext(ctx, "SELECT name, source, definition FROM _relations ORDER BY source, name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var relations []*Relation
	for rows.Next() {
		var name, source string
		var defJSON []byte
		if err := rows.Scan(&name, &source, &defJSON); err != nil {
			return nil, fmt.Errorf("scan relation row: %w", err)
		}

		var rel Relation
		if err := json.Unmarshal(defJSON, &rel); err != nil {
			log.Printf("WARN: skipping relation %s.%s (invalid JSON): %v", source, name, err)
			continue
		}
		rel.Name = name
		rel.Source = source
		relations = append(relations, &rel)
	}
	return relations, rows.Err()
}
