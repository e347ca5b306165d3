package database

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaValidator checks that a migrated database has the structure the store relies on
// ARCHITECTURAL DISCOVERY: Separate validation component enables deployment
// verification without coupling to the migration system
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// Validate runs every check in order and stops at the first failure
func (v *SchemaValidator) Validate(ctx context.Context) error {
	checks := []func(context.Context) error{
		v.ValidateTablesExist,
		v.ValidateTableStructure,
		v.ValidateIndexes,
		v.ValidateConstraints,
	}
	for _, check := range checks {
		if err := check(ctx); err != nil {
			return err
		}
	}
	return nil
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist(ctx context.Context) error {
	requiredTables := map[string]string{
		"classrooms":        "Classroom ownership",
		"enrollments":       "Classroom rosters",
		"sessions":          "Session lifecycle",
		"performances":      "Attendance and focus",
		"schema_migrations": "Migration tracking",
	}

	for table, description := range requiredTables {
		exists, err := v.objectExists(ctx, "table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}

	return nil
}

// ValidateTableStructure verifies table column structure matches expectations
// TECHNICAL DISCOVERY: Column validation ensures type compatibility between
// Go structs and database schema
func (v *SchemaValidator) ValidateTableStructure(ctx context.Context) error {
	expected := map[string]map[string]string{
		"sessions": {
			"id":           "INTEGER",
			"classroom_id": "INTEGER",
			"start_time":   "DATETIME",
			"end_time":     "DATETIME",
			"is_active":    "INTEGER",
		},
		"performances": {
			"session_id":  "INTEGER",
			"student_id":  "INTEGER",
			"attended":    "INTEGER",
			"focus_score": "REAL",
			"timestamp":   "DATETIME",
		},
	}

	for table, columns := range expected {
		if err := v.validateColumns(ctx, table, columns); err != nil {
			return fmt.Errorf("%s table structure invalid: %w", table, err)
		}
	}

	return nil
}

// ValidateIndexes verifies that all required indexes exist
func (v *SchemaValidator) ValidateIndexes(ctx context.Context) error {
	requiredIndexes := map[string]string{
		"idx_sessions_one_active":       "One active session per classroom",
		"idx_sessions_classroom_time":   "Session lookups by classroom",
		"idx_performances_session_time": "Recent performance window",
	}

	for index, purpose := range requiredIndexes {
		exists, err := v.objectExists(ctx, "index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}

	return nil
}

// ValidateConstraints probes the single-active-session rule inside a transaction that is
// always rolled back, so the database is left untouched
func (v *SchemaValidator) ValidateConstraints(ctx context.Context) error {
	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin constraint probe: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, "INSERT INTO classrooms (name, instructor_id) VALUES ('schema-probe', 0)")
	if err != nil {
		return fmt.Errorf("failed to create probe classroom: %w", err)
	}
	classroomID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	insert := "INSERT INTO sessions (classroom_id, start_time, is_active) VALUES (?, CURRENT_TIMESTAMP, 1)"
	if _, err := tx.ExecContext(ctx, insert, classroomID); err != nil {
		return fmt.Errorf("failed to create probe session: %w", err)
	}
	if _, err := tx.ExecContext(ctx, insert, classroomID); err == nil {
		return fmt.Errorf("constraint not enforced: one active session per classroom")
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO sessions (classroom_id, start_time, is_active) VALUES (?, CURRENT_TIMESTAMP, 0)", -1); err == nil {
		return fmt.Errorf("foreign key constraint not enforced: sessions.classroom_id")
	}

	return nil
}

// objectExists checks sqlite_master for a table or index
func (v *SchemaValidator) objectExists(ctx context.Context, kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// validateColumns checks that a table has the expected columns with correct types
func (v *SchemaValidator) validateColumns(ctx context.Context, tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	foundColumns := make(map[string]string)
	for rows.Next() {
		var cid int
		var name, dataType string
		var notNull int
		var defaultValue interface{}
		var pk int

		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		foundColumns[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for expectedCol, expectedType := range expectedColumns {
		foundType, exists := foundColumns[expectedCol]
		if !exists {
			return fmt.Errorf("column %s not found", expectedCol)
		}
		if foundType != expectedType {
			return fmt.Errorf("column %s has type %s, expected %s", expectedCol, foundType, expectedType)
		}
	}

	return nil
}
