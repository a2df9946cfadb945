package store

import (
	"database/sql"
	"fmt"

	"sleuthnerd/internal/logging"
)

// Schema versions:
// v1: sessions + reports
// v2: graph snapshot tables (session_entities, session_edges)
// v3: iteration_stats, sessions.finished_at, sessions.degraded
const CurrentSchemaVersion = 3

const sessionsTable = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	subject TEXT NOT NULL,
	context TEXT DEFAULT '',
	created_at DATETIME NOT NULL,
	finished_at DATETIME,
	max_depth INTEGER NOT NULL,
	final_depth INTEGER NOT NULL,
	termination_reason TEXT NOT NULL,
	status TEXT NOT NULL,
	degraded INTEGER DEFAULT 0,
	query_count INTEGER DEFAULT 0,
	entity_count INTEGER DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at);
`

const reportsTable = `
CREATE TABLE IF NOT EXISTS reports (
	session_id TEXT PRIMARY KEY,
	risk_level TEXT NOT NULL,
	report_json TEXT NOT NULL,
	markdown TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
`

const graphTables = `
CREATE TABLE IF NOT EXISTS session_entities (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	name TEXT NOT NULL,
	category TEXT DEFAULT '',
	aliases TEXT DEFAULT '[]',
	metadata TEXT DEFAULT '{}',
	mentions INTEGER DEFAULT 0,
	importance REAL DEFAULT 0,
	UNIQUE(session_id, name)
);
CREATE INDEX IF NOT EXISTS idx_entities_session ON session_entities(session_id);

CREATE TABLE IF NOT EXISTS session_edges (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	source TEXT NOT NULL,
	relation TEXT NOT NULL,
	target TEXT NOT NULL,
	evidence TEXT DEFAULT '[]',
	UNIQUE(session_id, source, relation, target)
);
CREATE INDEX IF NOT EXISTS idx_edges_session ON session_edges(session_id);
`

const iterationStatsTable = `
CREATE TABLE IF NOT EXISTS iteration_stats (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	depth INTEGER NOT NULL,
	queries INTEGER DEFAULT 0,
	new_entities INTEGER DEFAULT 0,
	errors INTEGER DEFAULT 0,
	UNIQUE(session_id, depth)
);
CREATE INDEX IF NOT EXISTS idx_stats_session ON iteration_stats(session_id);
`

// initialize creates the required tables.
func (s *Store) initialize() error {
	for _, table := range []string{sessionsTable, reportsTable, graphTables, iterationStatsTable} {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Migration defines a column added after a table first shipped.
type Migration struct {
	Table  string
	Column string
	Def    string
}

// pendingMigrations upgrades databases created before v3. Fresh
// databases get these columns from the base DDL.
var pendingMigrations = []Migration{
	{"sessions", "finished_at", "DATETIME"},
	{"sessions", "degraded", "INTEGER DEFAULT 0"},
	{"sessions", "query_count", "INTEGER DEFAULT 0"},
	{"sessions", "entity_count", "INTEGER DEFAULT 0"},
}

// RunMigrations applies schema migrations for existing databases.
// Migration failures are logged, not fatal: the column may already
// exist in a different form.
func RunMigrations(db *sql.DB) error {
	applied := 0
	for _, m := range pendingMigrations {
		if !tableExists(db, m.Table) {
			continue
		}
		if columnExists(db, m.Table, m.Column) {
			continue
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := db.Exec(query); err != nil {
			logging.StoreWarn("Migration failed (may already exist): %s.%s: %v", m.Table, m.Column, err)
			continue
		}
		logging.Store("Migration applied: added %s.%s", m.Table, m.Column)
		applied++
	}
	if applied > 0 {
		logging.Store("Schema migrations complete: applied=%d", applied)
	}
	return nil
}

// tableExists checks the sqlite master table for a table by name.
func tableExists(db *sql.DB, table string) bool {
	var name string
	err := db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table,
	).Scan(&name)
	return err == nil
}

// columnExists checks if a column exists using PRAGMA table_info.
func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}
