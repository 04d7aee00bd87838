package agent

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"labrag/internal/storage"
	"labrag/internal/util"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Checkpointer persists session state between turns.
type Checkpointer interface {
	// Load reports false when the session has never been saved.
	Load(ctx context.Context, sessionID string) (State, bool, error)
	Save(ctx context.Context, st State) error
}

func cloneState(st State) State {
	st.Messages = slices.Clone(st.Messages)
	st.Docs = slices.Clone(st.Docs)
	st.Sources = slices.Clone(st.Sources)
	if st.Answer != nil {
		a := *st.Answer
		st.Answer = &a
	}
	return st
}

type MemoryCheckpointer struct {
	mu       sync.RWMutex
	sessions map[string]State
}

func NewMemoryCheckpointer() *MemoryCheckpointer {
	return &MemoryCheckpointer{sessions: map[string]State{}}
}

func (m *MemoryCheckpointer) Load(_ context.Context, sessionID string) (State, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.sessions[sessionID]
	if !ok {
		return State{}, false, nil
	}
	return cloneState(st), true, nil
}

func (m *MemoryCheckpointer) Save(_ context.Context, st State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[st.SessionID] = cloneState(st)
	return nil
}

const sessionSchema = `
CREATE TABLE IF NOT EXISTS session_checkpoints (
  session_id TEXT PRIMARY KEY,
  state      TEXT NOT NULL,
  updated_at TEXT NOT NULL
);`

// SQLiteCheckpointer stores each session as one JSON document.
type SQLiteCheckpointer struct {
	db *sql.DB
}

func OpenSQLiteCheckpointer(ctx context.Context, path string) (*SQLiteCheckpointer, error) {
	db, err := storage.OpenSQLite(ctx, path, sessionSchema)
	if err != nil {
		return nil, fmt.Errorf("%w: open session store: %v", util.ErrStorage, err)
	}
	return &SQLiteCheckpointer{db: db}, nil
}

func (s *SQLiteCheckpointer) Load(ctx context.Context, sessionID string) (State, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM session_checkpoints WHERE session_id = ?`, sessionID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("%w: load session %s: %v", util.ErrStorage, sessionID, err)
	}
	var st State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return State{}, false, fmt.Errorf("%w: decode session %s: %v", util.ErrStorage, sessionID, err)
	}
	return st, true, nil
}

func (s *SQLiteCheckpointer) Save(ctx context.Context, st State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", st.SessionID, err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO session_checkpoints (session_id, state, updated_at)
VALUES (?, ?, ?)
ON CONFLICT (session_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		st.SessionID, string(raw), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("%w: save session %s: %v", util.ErrStorage, st.SessionID, err)
	}
	return nil
}

func (s *SQLiteCheckpointer) Close() error {
	return s.db.Close()
}

// CachedCheckpointer keeps recently used sessions in memory in front of a
// durable checkpointer. Saves write through.
type CachedCheckpointer struct {
	next  Checkpointer
	cache *lru.Cache[string, State]
}

func NewCachedCheckpointer(next Checkpointer, size int) (*CachedCheckpointer, error) {
	if size <= 0 {
		size = 256
	}
	c, err := lru.New[string, State](size)
	if err != nil {
		return nil, fmt.Errorf("%w: session cache: %v", util.ErrConfiguration, err)
	}
	return &CachedCheckpointer{next: next, cache: c}, nil
}

func (c *CachedCheckpointer) Load(ctx context.Context, sessionID string) (State, bool, error) {
	if st, ok := c.cache.Get(sessionID); ok {
		return cloneState(st), true, nil
	}
	st, ok, err := c.next.Load(ctx, sessionID)
	if err != nil || !ok {
		return st, ok, err
	}
	c.cache.Add(sessionID, cloneState(st))
	return st, true, nil
}

func (c *CachedCheckpointer) Save(ctx context.Context, st State) error {
	if err := c.next.Save(ctx, st); err != nil {
		c.cache.Remove(st.SessionID)
		return err
	}
	c.cache.Add(st.SessionID, cloneState(st))
	return nil
}
