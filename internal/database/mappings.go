package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tablesync/internal/domain"
	"tablesync/internal/models"
)

func (db *DB) GetMapping(ctx context.Context, id string) (*models.TableMapping, error) {
	var m models.TableMapping
	err := db.QueryRowContext(ctx, `
        SELECT id, source_name, source_table, target_kind, spreadsheet_id, target_path, sheet_name
        FROM table_mappings WHERE id = ?`, id).Scan(
		&m.ID,
		&m.SourceName,
		&m.SourceTable,
		&m.Target.Kind,
		&m.Target.SpreadsheetID,
		&m.Target.Path,
		&m.Target.Sheet,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("mapping %s: %w", id, domain.ErrMappingNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mapping %s: %w", id, err)
	}

	rows, err := db.QueryContext(ctx, `
        SELECT source_column, target_field, transform_name, default_value, required, data_type
        FROM field_mappings WHERE mapping_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get field mappings for %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			f   models.FieldMapping
			def sql.NullString
		)
		if err := rows.Scan(&f.SourceColumn, &f.TargetField, &f.TransformName, &def, &f.Required, &f.DataType); err != nil {
			return nil, fmt.Errorf("failed to scan field mapping: %w", err)
		}
		f.DefaultValue = stringPtr(def)
		m.Fields = append(m.Fields, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &m, nil
}

// UpsertMapping replaces a mapping and its field set atomically.
func (db *DB) UpsertMapping(ctx context.Context, m *models.TableMapping) error {
	now := db.now().UTC()
	return db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
            INSERT INTO table_mappings (id, source_name, source_table, target_kind, spreadsheet_id, target_path, sheet_name, created_at, updated_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
            ON CONFLICT(id) DO UPDATE SET
                source_name = excluded.source_name,
                source_table = excluded.source_table,
                target_kind = excluded.target_kind,
                spreadsheet_id = excluded.spreadsheet_id,
                target_path = excluded.target_path,
                sheet_name = excluded.sheet_name,
                updated_at = excluded.updated_at`,
			m.ID, m.SourceName, m.SourceTable, m.Target.Kind, m.Target.SpreadsheetID, m.Target.Path, m.Target.Sheet, now, now,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert mapping %s: %w", m.ID, err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM field_mappings WHERE mapping_id = ?`, m.ID); err != nil {
			return fmt.Errorf("failed to clear field mappings for %s: %w", m.ID, err)
		}

		stmt, err := tx.PrepareContext(ctx, `
            INSERT INTO field_mappings (mapping_id, position, source_column, target_field, transform_name, default_value, required, data_type)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare field mapping insert: %w", err)
		}
		defer stmt.Close()

		for i, f := range m.Fields {
			dataType := f.DataType
			if dataType == "" {
				dataType = models.DataTypeString
			}
			if _, err := stmt.ExecContext(ctx, m.ID, i, f.SourceColumn, f.TargetField, f.TransformName, nullString(f.DefaultValue), f.Required, dataType); err != nil {
				return fmt.Errorf("failed to insert field mapping %s.%s: %w", m.ID, f.SourceColumn, err)
			}
		}
		return nil
	})
}
