package database

import (
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// Migration represents one schema migration
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered schema history. Statements are embedded so a
// deployment never depends on a migrations directory being shipped with the
// binary.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "entities",
		SQL: `
			CREATE TABLE IF NOT EXISTS entities (
				entity_type     TEXT NOT NULL,
				entity_id       TEXT NOT NULL,
				organization_id TEXT NOT NULL DEFAULT '',
				status          TEXT NOT NULL,
				derived         TEXT,
				created_at      DATETIME NOT NULL,
				updated_at      DATETIME NOT NULL,
				PRIMARY KEY (entity_type, entity_id)
			);

			CREATE TABLE IF NOT EXISTS entity_links (
				source_type TEXT NOT NULL,
				source_id   TEXT NOT NULL,
				target_type TEXT NOT NULL,
				target_id   TEXT NOT NULL,
				PRIMARY KEY (source_type, source_id, target_type, target_id)
			);
		`,
	},
	{
		Version: 2,
		Name:    "transition_records",
		SQL: `
			CREATE TABLE IF NOT EXISTS transition_records (
				seq         INTEGER PRIMARY KEY AUTOINCREMENT,
				entity_type TEXT NOT NULL,
				entity_id   TEXT NOT NULL,
				from_state  TEXT NOT NULL,
				to_state    TEXT NOT NULL,
				actor_id    TEXT NOT NULL DEFAULT '',
				occurred_at DATETIME NOT NULL,
				notes       TEXT NOT NULL DEFAULT ''
			);

			CREATE INDEX IF NOT EXISTS idx_transition_records_entity
				ON transition_records (entity_type, entity_id, occurred_at, seq);
		`,
	},
	{
		Version: 3,
		Name:    "checkpoints",
		SQL: `
			CREATE TABLE IF NOT EXISTS checkpoints (
				seq            INTEGER PRIMARY KEY AUTOINCREMENT,
				correlation_id TEXT NOT NULL,
				step           TEXT NOT NULL,
				payload        TEXT,
				created_at     DATETIME NOT NULL,
				UNIQUE (correlation_id, step)
			);
		`,
	},
	{
		Version: 4,
		Name:    "effect_failures",
		SQL: `
			CREATE TABLE IF NOT EXISTS effect_failures (
				id             INTEGER PRIMARY KEY AUTOINCREMENT,
				correlation_id TEXT NOT NULL,
				source_type    TEXT NOT NULL,
				source_id      TEXT NOT NULL,
				target_type    TEXT NOT NULL,
				target_id      TEXT NOT NULL,
				target_state   TEXT NOT NULL,
				reason         TEXT NOT NULL,
				occurred_at    DATETIME NOT NULL,
				resolved_at    DATETIME
			);

			CREATE INDEX IF NOT EXISTS idx_effect_failures_unresolved
				ON effect_failures (occurred_at) WHERE resolved_at IS NULL;
		`,
	},
}

// Migrator handles database migrations
type Migrator struct {
	db     *DB
	logger *zap.Logger
}

// NewMigrator creates a new migrator
func NewMigrator(db *DB, logger *zap.Logger) *Migrator {
	return &Migrator{db: db, logger: logger}
}

// createMigrationsTable creates the migrations tracking table
func (m *Migrator) createMigrationsTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`
	_, err := m.db.Exec(query)
	return err
}

// getAppliedMigrations returns the set of applied migration versions
func (m *Migrator) getAppliedMigrations() (map[int]bool, error) {
	rows, err := m.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

// RunMigrations applies all pending migrations in version order, each inside
// its own transaction
func (m *Migrator) RunMigrations() error {
	if err := m.createMigrationsTable(); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	applied, err := m.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("read applied migrations: %w", err)
	}

	pending := make([]Migration, 0, len(migrations))
	for _, mig := range migrations {
		if !applied[mig.Version] {
			pending = append(pending, mig)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Version < pending[j].Version })

	for _, mig := range pending {
		m.logger.Info("applying migration",
			zap.Int("version", mig.Version),
			zap.String("name", mig.Name))

		tx, err := m.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", mig.Version, err)
		}
		if _, err := tx.Exec(mig.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", mig.Version, mig.Name, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version, name) VALUES (?, ?)", mig.Version, mig.Name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", mig.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", mig.Version, err)
		}
	}

	m.logger.Info("migrations up to date", zap.Int("applied", len(pending)))
	return nil
}
