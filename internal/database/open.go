package database

import (
	"context"
	"fmt"

	dbconfig "classpulse/pkg/database"
	"classpulse/pkg/interfaces"
	"classpulse/pkg/logger"
)

// Supported drivers
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// AdminStore is a Store that can also manage classrooms and their rosters
type AdminStore interface {
	interfaces.Store
	CreateClassroom(ctx context.Context, name string, instructorID int64) (int64, error)
	Enroll(ctx context.Context, classroomID, studentID int64) error
}

var (
	_ AdminStore = (*Manager)(nil)
	_ AdminStore = (*MemoryStore)(nil)
)

// Open builds the store for the configured driver; SQLite databases are migrated before use
func Open(ctx context.Context, driver string, config *dbconfig.Config, log logger.Logger) (AdminStore, error) {
	switch driver {
	case DriverMemory:
		log.Warn(ctx, "using in-memory store, data is lost on restart")
		return NewMemoryStore(), nil

	case DriverSQLite, "":
		manager, err := NewManager(config, log)
		if err != nil {
			return nil, err
		}
		if _, err := manager.Migrate(ctx); err != nil {
			_ = manager.Close()
			return nil, fmt.Errorf("failed to apply database migrations: %w", err)
		}
		return manager, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, driver)
	}
}
