// Package store persists finished investigations to a local SQLite
// database: the session registry, synthesized report artifacts,
// per-iteration execution stats, and optional entity graph snapshots.
// The live research loop never touches the store; sessions are written
// once, after termination.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"sleuthnerd/internal/investigation"
	"sleuthnerd/internal/logging"
)

// ErrNotFound is returned when a session or report does not exist.
var ErrNotFound = errors.New("not found")

// Store wraps the SQLite database holding finished investigations.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// New opens (creating if needed) the database at the given path.
func New(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db, dbPath: path}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	logging.StoreDebug("Store opened at %s", path)
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// SESSIONS
// =============================================================================

// SessionRecord is one row of the session registry.
type SessionRecord struct {
	ID                string
	Subject           string
	Context           string
	CreatedAt         time.Time
	FinishedAt        time.Time
	MaxDepth          int
	FinalDepth        int
	TerminationReason string
	Status            string
	Degraded          bool
	QueryCount        int
	EntityCount       int
}

// Session statuses derived from the termination reason.
const (
	StatusCompleted = "completed"
	StatusAborted   = "aborted"
)

func statusFor(reason string) string {
	if investigation.CleanReason(reason) {
		return StatusCompleted
	}
	return StatusAborted
}

// SaveSession records a finished session and its per-iteration stats.
// Saving the same session again replaces the previous record.
func (s *Store) SaveSession(in *investigation.ReportInput) error {
	timer := logging.StartTimer(logging.CategoryStore, "SaveSession")
	defer timer.Stop()

	if in == nil || in.SessionID == "" {
		return fmt.Errorf("invalid session: missing id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT OR REPLACE INTO sessions
		 (id, subject, context, created_at, finished_at, max_depth, final_depth,
		  termination_reason, status, degraded, query_count, entity_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.SessionID, in.Subject, in.Context,
		in.StartedAt.UTC(), in.FinishedAt.UTC(),
		in.MaxDepth, in.Iterations,
		in.TerminationReason, statusFor(in.TerminationReason),
		boolToInt(in.Degraded), len(in.Queries), len(in.Entities),
	)
	if err != nil {
		logging.StoreError("Failed to save session %s: %v", in.SessionID, err)
		return err
	}

	if _, err := tx.Exec("DELETE FROM iteration_stats WHERE session_id = ?", in.SessionID); err != nil {
		return err
	}
	for _, st := range in.Stats {
		_, err := tx.Exec(
			`INSERT INTO iteration_stats (session_id, depth, queries, new_entities, errors)
			 VALUES (?, ?, ?, ?, ?)`,
			in.SessionID, st.Depth, st.Queries, st.NewEntities, st.Errors,
		)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session save: %w", err)
	}

	logging.Store("Session saved: %s (%s, %d iterations, %d entities)",
		in.SessionID, statusFor(in.TerminationReason), in.Iterations, len(in.Entities))
	return nil
}

// GetSession loads one session registry row.
func (s *Store) GetSession(id string) (*SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT id, subject, context, created_at, finished_at, max_depth, final_depth,
		        termination_reason, status, degraded, query_count, entity_count
		 FROM sessions WHERE id = ?`, id,
	)
	rec, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return rec, nil
}

// ListSessions returns the most recent sessions, newest first.
func (s *Store) ListSessions(limit int) ([]SessionRecord, error) {
	timer := logging.StartTimer(logging.CategoryStore, "ListSessions")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(
		`SELECT id, subject, context, created_at, finished_at, max_depth, final_depth,
		        termination_reason, status, degraded, query_count, entity_count
		 FROM sessions ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			continue
		}
		records = append(records, *rec)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*SessionRecord, error) {
	var rec SessionRecord
	var finished sql.NullTime
	var degraded int
	err := row.Scan(
		&rec.ID, &rec.Subject, &rec.Context, &rec.CreatedAt, &finished,
		&rec.MaxDepth, &rec.FinalDepth, &rec.TerminationReason, &rec.Status,
		&degraded, &rec.QueryCount, &rec.EntityCount,
	)
	if err != nil {
		return nil, err
	}
	if finished.Valid {
		rec.FinishedAt = finished.Time
	}
	rec.Degraded = degraded != 0
	return &rec, nil
}

// IterationStats returns the per-depth stats recorded for a session,
// ordered by depth.
func (s *Store) IterationStats(sessionID string) ([]investigation.IterationStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT depth, queries, new_entities, errors
		 FROM iteration_stats WHERE session_id = ? ORDER BY depth`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []investigation.IterationStat
	for rows.Next() {
		var st investigation.IterationStat
		if err := rows.Scan(&st.Depth, &st.Queries, &st.NewEntities, &st.Errors); err != nil {
			continue
		}
		stats = append(stats, st)
	}
	return stats, nil
}

// =============================================================================
// REPORTS
// =============================================================================

// SaveReport stores a synthesized report. The structured report is kept
// as JSON alongside the rendered markdown.
func (s *Store) SaveReport(rep *investigation.Report) error {
	timer := logging.StartTimer(logging.CategoryStore, "SaveReport")
	defer timer.Stop()

	if rep == nil || rep.SessionID == "" {
		return fmt.Errorf("invalid report: missing session id")
	}

	reportJSON, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := rep.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO reports (session_id, risk_level, report_json, markdown, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rep.SessionID, rep.RiskLevel, string(reportJSON), rep.Markdown, createdAt.UTC(),
	)
	if err != nil {
		logging.StoreError("Failed to save report for %s: %v", rep.SessionID, err)
		return err
	}

	logging.Store("Report saved: session=%s risk=%s markdown_len=%d", rep.SessionID, rep.RiskLevel, len(rep.Markdown))
	return nil
}

// GetReport loads the report for a session, markdown included.
func (s *Store) GetReport(sessionID string) (*investigation.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var reportJSON, markdown string
	err := s.db.QueryRow(
		"SELECT report_json, markdown FROM reports WHERE session_id = ?", sessionID,
	).Scan(&reportJSON, &markdown)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("report for session %s: %w", sessionID, ErrNotFound)
		}
		return nil, err
	}

	var rep investigation.Report
	if err := json.Unmarshal([]byte(reportJSON), &rep); err != nil {
		return nil, fmt.Errorf("failed to decode stored report: %w", err)
	}
	rep.Markdown = markdown
	return &rep, nil
}

// =============================================================================
// GRAPH SNAPSHOTS
// =============================================================================

// SaveGraph snapshots a session's canonical entities and relationship
// graph. Node importances must be finite; a NaN or Inf would poison
// every later read. Resaving replaces the previous snapshot.
func (s *Store) SaveGraph(sessionID string, entities []investigation.Entity, graph investigation.KnowledgeGraph) error {
	timer := logging.StartTimer(logging.CategoryStore, "SaveGraph")
	defer timer.Stop()

	if sessionID == "" {
		return fmt.Errorf("invalid graph snapshot: missing session id")
	}
	for id, n := range graph.Nodes {
		if math.IsNaN(n.Importance) || math.IsInf(n.Importance, 0) {
			return fmt.Errorf("invalid importance for node %q: %v", id, n.Importance)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM session_entities WHERE session_id = ?", sessionID); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM session_edges WHERE session_id = ?", sessionID); err != nil {
		return err
	}

	for _, e := range entities {
		aliasJSON, _ := json.Marshal(e.Aliases)
		metaJSON, _ := json.Marshal(e.Metadata)
		importance := float64(e.Mentions)
		if n, ok := graph.Nodes[e.Key()]; ok {
			importance = n.Importance
		}
		_, err := tx.Exec(
			`INSERT OR REPLACE INTO session_entities
			 (session_id, name, category, aliases, metadata, mentions, importance)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sessionID, e.Name, e.Category, string(aliasJSON), string(metaJSON), e.Mentions, importance,
		)
		if err != nil {
			return err
		}
	}

	for _, edge := range graph.Edges {
		evidenceJSON, _ := json.Marshal(edge.Evidence)
		_, err := tx.Exec(
			`INSERT OR REPLACE INTO session_edges (session_id, source, relation, target, evidence)
			 VALUES (?, ?, ?, ?, ?)`,
			sessionID, edge.Source, edge.Relation, edge.Target, string(evidenceJSON),
		)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit graph snapshot: %w", err)
	}

	logging.StoreDebug("Graph snapshot saved: session=%s entities=%d edges=%d",
		sessionID, len(entities), len(graph.Edges))
	return nil
}

// LoadGraph restores a session's entity list and relationship graph.
// The entity list keeps mention-count ordering; the graph carries one
// node per entity under its normalized name.
func (s *Store) LoadGraph(sessionID string) ([]investigation.Entity, investigation.KnowledgeGraph, error) {
	timer := logging.StartTimer(logging.CategoryStore, "LoadGraph")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	graph := investigation.NewKnowledgeGraph()

	rows, err := s.db.Query(
		`SELECT name, category, aliases, metadata, mentions, importance
		 FROM session_entities WHERE session_id = ?
		 ORDER BY mentions DESC, name`, sessionID,
	)
	if err != nil {
		return nil, graph, err
	}
	defer rows.Close()

	var entities []investigation.Entity
	for rows.Next() {
		var e investigation.Entity
		var aliasJSON, metaJSON string
		var importance float64
		if err := rows.Scan(&e.Name, &e.Category, &aliasJSON, &metaJSON, &e.Mentions, &importance); err != nil {
			continue
		}
		if aliasJSON != "" {
			json.Unmarshal([]byte(aliasJSON), &e.Aliases)
		}
		if metaJSON != "" {
			json.Unmarshal([]byte(metaJSON), &e.Metadata)
		}
		entities = append(entities, e)
		graph.Nodes[e.Key()] = investigation.GraphNode{ID: e.Key(), Importance: importance}
	}

	edgeRows, err := s.db.Query(
		"SELECT source, relation, target, evidence FROM session_edges WHERE session_id = ?", sessionID,
	)
	if err != nil {
		return entities, graph, err
	}
	defer edgeRows.Close()

	for edgeRows.Next() {
		var edge investigation.GraphEdge
		var evidenceJSON string
		if err := edgeRows.Scan(&edge.Source, &edge.Relation, &edge.Target, &evidenceJSON); err != nil {
			continue
		}
		if evidenceJSON != "" {
			json.Unmarshal([]byte(evidenceJSON), &edge.Evidence)
		}
		graph.Edges = append(graph.Edges, edge)
	}

	return entities, graph, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
