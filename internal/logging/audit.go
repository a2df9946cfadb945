// Audit logging for research sessions. Every engine event is appended as
// a JSON line to the session's events.jsonl; unlike the category logs,
// the audit trail is part of the session record and is written regardless
// of debug mode.
package logging

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"sleuthnerd/internal/investigation"
)

// auditLine is the on-disk shape of one audit event.
type auditLine struct {
	Timestamp int64                  `json:"ts"` // Unix milliseconds
	SessionID string                 `json:"session"`
	Depth     int                    `json:"depth"`
	Kind      string                 `json:"kind"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// SessionAudit writes one research session's audit trail as JSON lines to
// <data-dir>/sessions/<session-id>/events.jsonl. It implements
// investigation.AuditTrail.
type SessionAudit struct {
	sessionID string
	dataDir   string
	path      string

	mu      sync.Mutex
	file    *os.File
	dropped int
}

// NewSessionAudit opens (creating if needed) the audit trail for a session.
func NewSessionAudit(dataDir, sessionID string) (*SessionAudit, error) {
	if dataDir == "" || sessionID == "" {
		return nil, fmt.Errorf("data directory and session ID required")
	}

	dir := filepath.Join(dataDir, "sessions", sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	path := filepath.Join(dir, "events.jsonl")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit trail: %w", err)
	}

	return &SessionAudit{sessionID: sessionID, path: path, file: file}, nil
}

// NewLazySessionAudit returns a trail that opens its file on the first
// event, under the session ID that event carries. The engine mints its
// session IDs itself, so a caller wiring collaborators up front cannot
// know the ID yet.
func NewLazySessionAudit(dataDir string) *SessionAudit {
	return &SessionAudit{dataDir: dataDir}
}

// openLocked creates the trail file for a now-known session ID. Called
// with s.mu held. A failed open disables the trail rather than retrying
// on every event.
func (s *SessionAudit) openLocked(sessionID string) {
	dir := filepath.Join(s.dataDir, "sessions", sessionID)
	s.dataDir = ""
	if err := os.MkdirAll(dir, 0755); err != nil {
		Get(CategoryAudit).Warn("cannot create session directory for %s: %v", sessionID, err)
		return
	}
	path := filepath.Join(dir, "events.jsonl")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		Get(CategoryAudit).Warn("cannot open audit trail for %s: %v", sessionID, err)
		return
	}
	s.sessionID = sessionID
	s.path = path
	s.file = file
}

// Append records one engine event. Failures are swallowed after being
// counted and logged: the audit trail must never fail a running session.
func (s *SessionAudit) Append(event investigation.AuditEvent) {
	line := auditLine{
		Timestamp: event.Timestamp.UnixMilli(),
		SessionID: event.SessionID,
		Depth:     event.Depth,
		Kind:      event.Kind,
		Payload:   event.Payload,
	}
	if event.Timestamp.IsZero() {
		line.Timestamp = time.Now().UnixMilli()
	}
	if line.SessionID == "" {
		line.SessionID = s.sessionID
	}

	data, err := json.Marshal(line)
	if err != nil {
		Get(CategoryAudit).Warn("unencodable audit payload for %s: %v", event.Kind, err)
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	if s.file == nil && s.dataDir != "" && line.SessionID != "" {
		s.openLocked(line.SessionID)
	}
	if s.file == nil {
		s.dropped++
		s.mu.Unlock()
		return
	}
	_, err = s.file.Write(append(data, '\n'))
	if err != nil {
		s.dropped++
	}
	s.mu.Unlock()

	if err != nil {
		Get(CategoryAudit).Warn("audit write failed for %s: %v", s.sessionID, err)
		return
	}
	mirrorToCategoryLog(event)
}

// Path returns the on-disk location of the trail.
func (s *SessionAudit) Path() string {
	return s.path
}

// Dropped reports how many events could not be persisted.
func (s *SessionAudit) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close flushes and closes the trail file. Later appends count as dropped.
func (s *SessionAudit) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// mirrorToCategoryLog echoes engine events into the debug category logs so
// a debug session can be followed per concern without parsing JSONL.
func mirrorToCategoryLog(event investigation.AuditEvent) {
	if !IsDebugMode() {
		return
	}
	cat := CategoryOrchestrator
	switch event.Kind {
	case investigation.AuditRouting:
		cat = CategoryRouting
	case investigation.AuditMerge, investigation.AuditMergeDegraded:
		cat = CategoryMerge
	case investigation.AuditReflection:
		cat = CategoryReflect
	case investigation.AuditQueryDispatched, investigation.AuditQueryFailed, investigation.AuditBatchRetry:
		cat = CategorySearch
	case investigation.AuditPlannerExhausted:
		cat = CategoryPlanner
	}
	Get(cat).Debug("%s depth=%d %v", event.Kind, event.Depth, event.Payload)
}

// ReadSessionTrail loads a persisted audit trail back into memory.
// Damaged lines are skipped rather than failing the whole read.
func ReadSessionTrail(dataDir, sessionID string) ([]investigation.AuditEvent, error) {
	path := filepath.Join(dataDir, "sessions", sessionID, "events.jsonl")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit trail: %w", err)
	}
	defer f.Close()

	var events []investigation.AuditEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var line auditLine
		if err := json.Unmarshal(raw, &line); err != nil {
			Get(CategoryAudit).Debug("skipping damaged audit line in %s: %v", sessionID, err)
			continue
		}
		events = append(events, investigation.AuditEvent{
			Timestamp: time.UnixMilli(line.Timestamp).UTC(),
			SessionID: line.SessionID,
			Depth:     line.Depth,
			Kind:      line.Kind,
			Payload:   line.Payload,
		})
	}
	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("failed to read audit trail: %w", err)
	}
	return events, nil
}
