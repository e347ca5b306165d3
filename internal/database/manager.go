package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	dbconfig "classpulse/pkg/database"
	"classpulse/pkg/interfaces"
	"classpulse/pkg/logger"
	"classpulse/pkg/metrics"
	"classpulse/pkg/types"
)

// Manager is the SQLite implementation of interfaces.Store
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	log          logger.Logger
	now          func() time.Time
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	done         chan struct{}
	closed       bool
	mu           sync.RWMutex
}

var _ interfaces.Store = (*Manager)(nil)

type writeOperation struct {
	name      string
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database and starts the writer goroutine
// Migrations are applied separately, see Migrate
func NewManager(config *dbconfig.Config, log logger.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// FUNCTIONAL DISCOVERY: Connection pool configuration critical for concurrent reads
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		log:          log,
		now:          time.Now,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		done:         make(chan struct{}),
	}

	go manager.writeLoop()

	return manager, nil
}

// Migrate applies pending migrations and validates the resulting schema
func (m *Manager) Migrate(ctx context.Context) ([]string, error) {
	source, err := dbconfig.MigrationSource(m.config.MigrationsPath)
	if err != nil {
		return nil, err
	}

	applied, err := dbconfig.NewMigrationManager(m.db, source).ApplyMigrations(ctx)
	if err != nil {
		return applied, err
	}
	for _, version := range applied {
		m.log.Info(ctx, "migration applied", logger.String("version", version))
	}

	if err := dbconfig.NewSchemaValidator(m.db).Validate(ctx); err != nil {
		return applied, fmt.Errorf("schema validation failed: %w", err)
	}
	return applied, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer close(m.done)

	for {
		select {
		case op := <-m.writeChannel:
			start := time.Now()
			err := op.operation(m.db)
			// FUNCTIONAL DISCOVERY: a busy database gets exactly one retry after the configured delay;
			// constraint violations and other logical errors are returned immediately
			if isBusy(err) {
				m.log.Warn(context.Background(), "database write busy, retrying",
					logger.String("operation", op.name), logger.Duration("delay", m.config.WriteRetryDelay), logger.Error(err))
				time.Sleep(m.config.WriteRetryDelay)
				err = op.operation(m.db)
			}
			if err != nil {
				metrics.RecordStoreError(op.name)
			}
			metrics.RecordStoreWrite(op.name, float64(time.Since(start).Microseconds())/1000)
			op.result <- err

		case <-m.shutdown:
			return
		}
	}
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return false
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, name string, operation func(*sql.DB) error) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	result := make(chan error, 1)
	timer := time.NewTimer(m.config.WriteTimeout)
	defer timer.Stop()

	select {
	case m.writeChannel <- writeOperation{name: name, operation: operation, result: result}:
	case <-timer.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrClosed
	}

	// TECHNICAL DISCOVERY: once queued the operation may still be dropped by a shutdown,
	// so waiting on done as well keeps callers from blocking forever
	select {
	case err := <-result:
		return err
	case <-m.done:
		select {
		case err := <-result:
			return err
		default:
			return ErrClosed
		}
	}
}

const sessionColumns = "id, classroom_id, start_time, end_time, is_active"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*types.Session, error) {
	var session types.Session
	var endTime sql.NullTime
	if err := row.Scan(&session.ID, &session.ClassroomID, &session.StartTime, &endTime, &session.IsActive); err != nil {
		return nil, err
	}
	if endTime.Valid {
		end := endTime.Time
		session.EndTime = &end
	}
	return &session, nil
}

// GetSession retrieves a session by ID
func (m *Manager) GetSession(ctx context.Context, sessionID int64) (*types.Session, error) {
	row := m.db.QueryRowContext(ctx, "SELECT "+sessionColumns+" FROM sessions WHERE id = ?", sessionID)

	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return session, nil
}

// SaveSession inserts a new session (ID zero) or updates an existing one
func (m *Manager) SaveSession(ctx context.Context, session *types.Session) error {
	var endTime interface{}
	if session.EndTime != nil {
		endTime = session.EndTime.UTC()
	}

	return m.executeWrite(ctx, "save_session", func(db *sql.DB) error {
		if session.ID == 0 {
			res, err := db.ExecContext(ctx,
				"INSERT INTO sessions (classroom_id, start_time, end_time, is_active) VALUES (?, ?, ?, ?)",
				session.ClassroomID, session.StartTime.UTC(), endTime, session.IsActive)
			if err != nil {
				return translateSessionError(err, session.ClassroomID)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("failed to read session id: %w", err)
			}
			session.ID = id
			return nil
		}

		res, err := db.ExecContext(ctx,
			"UPDATE sessions SET classroom_id = ?, start_time = ?, end_time = ?, is_active = ? WHERE id = ?",
			session.ClassroomID, session.StartTime.UTC(), endTime, session.IsActive, session.ID)
		if err != nil {
			return translateSessionError(err, session.ClassroomID)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return interfaces.ErrSessionNotFound
		}
		return nil
	})
}

func translateSessionError(err error, classroomID int64) error {
	switch {
	case isUniqueViolation(err):
		return fmt.Errorf("classroom %d: %w", classroomID, ErrActiveSessionExists)
	case isForeignKeyViolation(err):
		return fmt.Errorf("classroom %d: %w", classroomID, ErrClassroomNotFound)
	default:
		return fmt.Errorf("failed to save session: %w", err)
	}
}

// CloseSession ends the session only if it is still active
func (m *Manager) CloseSession(ctx context.Context, sessionID int64, endTime time.Time) (bool, error) {
	var closed bool
	err := m.executeWrite(ctx, "close_session", func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			"UPDATE sessions SET end_time = ?, is_active = 0 WHERE id = ? AND is_active = 1",
			endTime.UTC(), sessionID)
		if err != nil {
			return fmt.Errorf("failed to close session: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to close session: %w", err)
		}
		if n == 1 {
			closed = true
			return nil
		}

		var exists bool
		if err := db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM sessions WHERE id = ?)", sessionID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check session: %w", err)
		}
		if !exists {
			return interfaces.ErrSessionNotFound
		}
		return nil
	})
	return closed, err
}

// ActiveSessions lists the active sessions of a classroom, newest first
func (m *Manager) ActiveSessions(ctx context.Context, classroomID int64) ([]*types.Session, error) {
	rows, err := m.db.QueryContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE classroom_id = ? AND is_active = 1 ORDER BY start_time DESC",
		classroomID)
	if err != nil {
		return nil, fmt.Errorf("failed to query active sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*types.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}
	return sessions, nil
}

// UpsertPerformance creates or updates the (session, student) record
// FUNCTIONAL DISCOVERY: only the fields present in the update are overwritten, and the
// timestamp moves only when a new focus score arrives
func (m *Manager) UpsertPerformance(ctx context.Context, sessionID, studentID int64, update types.PerformanceUpdate) error {
	attended := false
	if update.Attended != nil {
		attended = *update.Attended
	}
	score := 0.0
	if update.FocusScore != nil {
		score = types.ClampFocusScore(*update.FocusScore)
	}

	var sets []string
	if update.Attended != nil {
		sets = append(sets, "attended = excluded.attended")
	}
	if update.FocusScore != nil {
		sets = append(sets, "focus_score = excluded.focus_score", "timestamp = excluded.timestamp")
	}
	conflict := "DO NOTHING"
	if len(sets) > 0 {
		conflict = "DO UPDATE SET " + strings.Join(sets, ", ")
	}

	query := `INSERT INTO performances (session_id, student_id, attended, focus_score, timestamp)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (session_id, student_id) ` + conflict

	now := m.now().UTC()
	return m.executeWrite(ctx, "upsert_performance", func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx, query, sessionID, studentID, attended, score, now); err != nil {
			if isForeignKeyViolation(err) {
				return interfaces.ErrSessionNotFound
			}
			return fmt.Errorf("failed to upsert performance: %w", err)
		}
		return nil
	})
}

// BulkMarkUnattended clears the attended flag of every record in the session
func (m *Manager) BulkMarkUnattended(ctx context.Context, sessionID int64) error {
	return m.executeWrite(ctx, "bulk_mark_unattended", func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx, "UPDATE performances SET attended = 0 WHERE session_id = ?", sessionID); err != nil {
			return fmt.Errorf("failed to mark performances unattended: %w", err)
		}
		return nil
	})
}

// RecentPerformances returns the session's records stamped at or after since
func (m *Manager) RecentPerformances(ctx context.Context, sessionID int64, since time.Time) ([]*types.PerformanceRecord, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT session_id, student_id, attended, focus_score, timestamp
		FROM performances
		WHERE session_id = ? AND timestamp >= ?
		ORDER BY timestamp ASC
	`, sessionID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query performances: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*types.PerformanceRecord
	for rows.Next() {
		var record types.PerformanceRecord
		if err := rows.Scan(&record.SessionID, &record.StudentID, &record.Attended, &record.FocusScore, &record.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan performance row: %w", err)
		}
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating performance rows: %w", err)
	}
	return records, nil
}

// CountEnrolledStudents counts the classroom roster
func (m *Manager) CountEnrolledStudents(ctx context.Context, classroomID int64) (int, error) {
	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM enrollments WHERE classroom_id = ?", classroomID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count enrollments: %w", err)
	}
	return count, nil
}

// IsInstructorOf reports whether the user owns the classroom
func (m *Manager) IsInstructorOf(ctx context.Context, userID, classroomID int64) (bool, error) {
	return m.exists(ctx, "SELECT EXISTS(SELECT 1 FROM classrooms WHERE id = ? AND instructor_id = ?)", classroomID, userID)
}

// IsEnrolled reports whether the user is on the classroom roster
func (m *Manager) IsEnrolled(ctx context.Context, userID, classroomID int64) (bool, error) {
	return m.exists(ctx, "SELECT EXISTS(SELECT 1 FROM enrollments WHERE classroom_id = ? AND student_id = ?)", classroomID, userID)
}

func (m *Manager) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var found bool
	if err := m.db.QueryRowContext(ctx, query, args...).Scan(&found); err != nil {
		return false, fmt.Errorf("failed to query membership: %w", err)
	}
	return found, nil
}

// CreateClassroom registers a classroom owned by the instructor
func (m *Manager) CreateClassroom(ctx context.Context, name string, instructorID int64) (int64, error) {
	var id int64
	err := m.executeWrite(ctx, "create_classroom", func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, "INSERT INTO classrooms (name, instructor_id) VALUES (?, ?)", name, instructorID)
		if err != nil {
			return fmt.Errorf("failed to create classroom: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// Enroll adds a student to the classroom roster; enrolling twice is a no-op
func (m *Manager) Enroll(ctx context.Context, classroomID, studentID int64) error {
	return m.executeWrite(ctx, "enroll", func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			"INSERT OR IGNORE INTO enrollments (classroom_id, student_id) VALUES (?, ?)",
			classroomID, studentID)
		if isForeignKeyViolation(err) {
			return fmt.Errorf("classroom %d: %w", classroomID, ErrClassroomNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to enroll student: %w", err)
		}
		return nil
	})
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions WHERE is_active = 1").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// DB exposes the underlying handle for migrations
func (m *Manager) DB() *sql.DB {
	return m.db
}

// Close shuts down the writer and closes the database
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	<-m.done

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
