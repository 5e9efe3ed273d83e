package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/querygate/internal/domain"
)

type entityDefinitionRepository struct {
	pool *pgxpool.Pool
}

// NewEntityDefinitionRepository wires the Postgres-backed entity definition
// repository. Definitions are loaded once at boot into the static catalog.
func NewEntityDefinitionRepository(pool *pgxpool.Pool) EntityDefinitionRepository {
	return &entityDefinitionRepository{pool: pool}
}

func (r *entityDefinitionRepository) List(ctx context.Context) ([]domain.EntityDefinition, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT name, label, display_field, tenant_field, read_roles, synonyms, fields
		FROM entity_definitions ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list entity definitions: %w", err)
	}
	defer rows.Close()

	var defs []domain.EntityDefinition
	for rows.Next() {
		var (
			def        domain.EntityDefinition
			fieldsJSON []byte
		)
		if err := rows.Scan(&def.Name, &def.Label, &def.DisplayField, &def.TenantField,
			&def.ReadRoles, &def.Synonyms, &fieldsJSON); err != nil {
			return nil, fmt.Errorf("scan entity definition: %w", err)
		}
		if def.Fields, err = domain.FieldsFromJSON(fieldsJSON); err != nil {
			return nil, fmt.Errorf("decode fields for entity %s: %w", def.Name, err)
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func (r *entityDefinitionRepository) Upsert(ctx context.Context, def domain.EntityDefinition) error {
	fieldsJSON, err := def.FieldsToJSON()
	if err != nil {
		return fmt.Errorf("marshal fields for entity %s: %w", def.Name, err)
	}
	readRoles := def.ReadRoles
	if readRoles == nil {
		readRoles = []string{}
	}
	synonyms := def.Synonyms
	if synonyms == nil {
		synonyms = []string{}
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO entity_definitions (name, label, display_field, tenant_field, read_roles, synonyms, fields)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (name) DO UPDATE SET
			label = EXCLUDED.label,
			display_field = EXCLUDED.display_field,
			tenant_field = EXCLUDED.tenant_field,
			read_roles = EXCLUDED.read_roles,
			synonyms = EXCLUDED.synonyms,
			fields = EXCLUDED.fields,
			updated_at = now()`,
		def.Name, def.Label, def.DisplayField, def.TenantField, readRoles, synonyms, fieldsJSON,
	)
	if err != nil {
		return fmt.Errorf("upsert entity definition %s: %w", def.Name, err)
	}
	return nil
}
