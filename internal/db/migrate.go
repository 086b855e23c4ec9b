package db

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/anstrom/ipprism/internal/errors"
	"github.com/anstrom/ipprism/internal/logging"
)

//go:embed *.sql
var migrationFiles embed.FS

// migrationLockKey keys the advisory lock held while migrating, so two
// processes starting together do not apply the same script twice.
const migrationLockKey int64 = 0x69707072

const (
	createMigrationsTable = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id SERIAL PRIMARY KEY,
			name VARCHAR(255) NOT NULL UNIQUE,
			applied_at TIMESTAMPTZ DEFAULT NOW(),
			checksum VARCHAR(64) NOT NULL
		)`
	selectMigrations = `SELECT id, name, applied_at, checksum FROM schema_migrations ORDER BY id`
	insertMigration  = `INSERT INTO schema_migrations (name, checksum) VALUES ($1, $2)`
)

// Migration is one row of schema_migrations.
type Migration struct {
	ID        int       `db:"id"`
	Name      string    `db:"name"`
	AppliedAt time.Time `db:"applied_at"`
	Checksum  string    `db:"checksum"`
}

// MigrationStatus describes one embedded script and whether it has been
// applied.
type MigrationStatus struct {
	Name      string
	Applied   bool
	AppliedAt time.Time
	// Modified is set when the script differs from what was applied.
	Modified bool
}

// script is one migration file.
type script struct {
	name     string
	body     string
	checksum string
}

func checksumOf(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

// Migrator applies the embedded schema scripts in name order.
type Migrator struct {
	db     *sqlx.DB
	source fs.FS
}

// NewMigrator creates a migrator for db.
func NewMigrator(db *sqlx.DB) *Migrator {
	return &Migrator{db: db, source: migrationFiles}
}

func migrationError(name, message string, cause error) *errors.DatabaseError {
	err := errors.WrapDatabaseError(errors.CodeDatabaseMigration, message, cause)
	err.Operation = "migrate"
	if name != "" {
		err.Operation += " " + name
	}
	return err
}

func (m *Migrator) scripts() ([]script, error) {
	names, err := fs.Glob(m.source, "*.sql")
	if err != nil {
		return nil, migrationError("", "Failed to list migration scripts", err)
	}
	sort.Strings(names)

	scripts := make([]script, 0, len(names))
	for _, file := range names {
		content, err := fs.ReadFile(m.source, file)
		if err != nil {
			return nil, migrationError(file, "Failed to read migration script", err)
		}
		body := string(content)
		scripts = append(scripts, script{
			name:     strings.TrimSuffix(file, ".sql"),
			body:     body,
			checksum: checksumOf(body),
		})
	}
	return scripts, nil
}

// migrationQuerier is satisfied by *sqlx.DB and *sqlx.Conn.
type migrationQuerier interface {
	sqlx.QueryerContext
	sqlx.ExecerContext
}

// applied loads schema_migrations, creating it first if needed.
func applied(ctx context.Context, q migrationQuerier) (map[string]Migration, error) {
	if _, err := q.ExecContext(ctx, createMigrationsTable); err != nil {
		return nil, errors.ErrDatabaseQuery(createMigrationsTable, err)
	}

	var rows []Migration
	if err := sqlx.SelectContext(ctx, q, &rows, selectMigrations); err != nil {
		return nil, errors.ErrDatabaseQuery(selectMigrations, err)
	}

	byName := make(map[string]Migration, len(rows))
	for _, row := range rows {
		byName[row.Name] = row
	}
	return byName, nil
}

// Up applies every pending script, each in its own transaction. It refuses
// to run when an applied script was edited afterwards.
func (m *Migrator) Up(ctx context.Context) error {
	scripts, err := m.scripts()
	if err != nil {
		return err
	}

	conn, err := m.db.Connx(ctx)
	if err != nil {
		return errors.ErrDatabaseConnection(err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, migrationLockKey); err != nil {
		return migrationError("", "Failed to acquire migration lock", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, migrationLockKey)
	}()

	done, err := applied(ctx, conn)
	if err != nil {
		return err
	}

	known := make(map[string]bool, len(scripts))
	for _, s := range scripts {
		known[s.name] = true
		if prior, ok := done[s.name]; ok {
			if prior.Checksum != s.checksum {
				return migrationError(s.name, "Applied migration was modified",
					fmt.Errorf("recorded checksum %.12s, script checksum %.12s", prior.Checksum, s.checksum))
			}
			continue
		}

		logging.InfoDatabase("Applying migration", "migration", s.name)
		if err := m.apply(ctx, conn, s); err != nil {
			return err
		}
	}

	for name := range done {
		if !known[name] {
			logging.Warn("Database has a migration this binary does not know", "migration", name)
		}
	}
	return nil
}

func (m *Migrator) apply(ctx context.Context, conn *sqlx.Conn, s script) error {
	tx, err := conn.BeginTxx(ctx, nil)
	if err != nil {
		return migrationError(s.name, "Failed to begin migration", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.body); err != nil {
		return migrationError(s.name, "Migration script failed", err).WithQuery(s.body)
	}
	if _, err := tx.ExecContext(ctx, insertMigration, s.name, s.checksum); err != nil {
		return migrationError(s.name, "Failed to record migration", err).WithQuery(insertMigration)
	}
	if err := tx.Commit(); err != nil {
		return migrationError(s.name, "Failed to commit migration", err)
	}
	return nil
}

// Status reports every embedded script, in apply order.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	scripts, err := m.scripts()
	if err != nil {
		return nil, err
	}
	done, err := applied(ctx, m.db)
	if err != nil {
		return nil, err
	}

	statuses := make([]MigrationStatus, 0, len(scripts))
	for _, s := range scripts {
		status := MigrationStatus{Name: s.name}
		if prior, ok := done[s.name]; ok {
			status.Applied = true
			status.AppliedAt = prior.AppliedAt
			status.Modified = prior.Checksum != s.checksum
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// ConnectAndMigrate connects to the database and applies pending
// migrations. The connection is closed again if migrating fails.
func ConnectAndMigrate(ctx context.Context, config *Config) (*DB, error) {
	db, err := Connect(ctx, config)
	if err != nil {
		return nil, err
	}

	if err := NewMigrator(db.DB).Up(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
