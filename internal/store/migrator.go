package store

import (
	"context"
	"fmt"
	"log"
	"strings"

	"sieve-backend/internal/metadata"
)

// Migrator keeps entity tables in sync with their metadata definitions.
type Migrator struct {
	store *Store
}

func NewMigrator(store *Store) *Migrator {
	return &Migrator{store: store}
}

// MigrateAll migrates every entity in the registry.
func (m *Migrator) MigrateAll(ctx context.Context, entities []*metadata.Entity) error {
	for _, e := range entities {
		if err := m.Migrate(ctx, e); err != nil {
			return fmt.Errorf("migrate %s: %w", e.Name, err)
		}
	}
	return nil
}

// Migrate ensures the table matches the entity metadata. Creates the table
// if it doesn't exist, or adds missing columns.
func (m *Migrator) Migrate(ctx context.Context, entity *metadata.Entity) error {
	exists, err := m.store.Dialect.TableExists(ctx, m.store.DB, entity.Table)
	if err != nil {
		return fmt.Errorf("check table exists: %w", err)
	}

	if !exists {
		return m.createTable(ctx, entity)
	}
	return m.alterTable(ctx, entity)
}

func (m *Migrator) createTable(ctx context.Context, entity *metadata.Entity) error {
	var cols []string
	for i := range entity.Fields {
		cols = append(cols, m.buildColumnDef(entity, &entity.Fields[i]))
	}
	if entity.SoftDelete && !entity.HasField("deleted_at") {
		cols = append(cols, "deleted_at "+m.store.Dialect.ColumnType("timestamp", 0))
	}

	sqlStr := fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)", entity.Table, strings.Join(cols, ",\n\t"))
	if _, err := m.store.DB.ExecContext(ctx, sqlStr); err != nil {
		return fmt.Errorf("create table %s: %w", entity.Table, err)
	}

	if entity.SoftDelete {
		if _, err := m.store.DB.ExecContext(ctx, m.store.Dialect.SoftDeleteIndexSQL(entity.Table)); err != nil {
			return fmt.Errorf("create soft delete index on %s: %w", entity.Table, err)
		}
	}

	log.Printf("Created table %s for entity %s", entity.Table, entity.Name)
	return nil
}

func (m *Migrator) alterTable(ctx context.Context, entity *metadata.Entity) error {
	existing, err := m.store.Dialect.GetColumns(ctx, m.store.DB, entity.Table)
	if err != nil {
		return fmt.Errorf("get columns for %s: %w", entity.Table, err)
	}

	for i := range entity.Fields {
		f := &entity.Fields[i]
		if _, ok := existing[f.Name]; ok {
			continue
		}
		// Additive only: existing columns are never altered or dropped.
		sqlStr := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
			entity.Table, f.Name, m.store.Dialect.ColumnType(f.Type, f.Precision))
		if _, err := m.store.DB.ExecContext(ctx, sqlStr); err != nil {
			return fmt.Errorf("add column %s.%s: %w", entity.Table, f.Name, err)
		}
		log.Printf("Added column %s.%s", entity.Table, f.Name)
	}

	if entity.SoftDelete {
		if _, ok := existing["deleted_at"]; !ok {
			sqlStr := fmt.Sprintf("ALTER TABLE %s ADD COLUMN deleted_at %s",
				entity.Table, m.store.Dialect.ColumnType("timestamp", 0))
			if _, err := m.store.DB.ExecContext(ctx, sqlStr); err != nil {
				return fmt.Errorf("add deleted_at to %s: %w", entity.Table, err)
			}
		}
	}
	return nil
}

func (m *Migrator) buildColumnDef(entity *metadata.Entity, f *metadata.Field) string {
	d := m.store.Dialect
	col := fmt.Sprintf("%s %s", f.Name, d.ColumnType(f.Type, f.Precision))

	if f.Name == entity.PrimaryKey.Field {
		col += " PRIMARY KEY"
		if entity.PrimaryKey.Generated && entity.PrimaryKey.Type == "uuid" {
			if def := d.UUIDDefault(); def != "" {
				col += " " + def
			}
		}
		return col
	}

	if f.Required {
		col += " NOT NULL"
	}
	if f.Unique {
		col += " UNIQUE"
	}
	if f.IsAuto() {
		col += " DEFAULT " + d.NowExpr()
	}
	return col
}
