package akashic

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"apiary/internal/event"
)

// SQLiteStore persists events in the workspace database. A store-level mutex
// serializes appends so each scope sees a single total order; reads go
// straight to the database.
type SQLiteStore struct {
	DB *sql.DB

	mu sync.Mutex
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{DB: db}
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func (s *SQLiteStore) Append(ctx context.Context, scopeID string, e *event.Event) error {
	if scopeID == "" {
		return errors.New("scope id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	var tail sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT seq, hash FROM events WHERE scope_id=? ORDER BY seq DESC LIMIT 1`, scopeID).
		Scan(&seq, &tail)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read scope tail: %w", err)
	}
	if err := prepareForAppend(e, tail.String); err != nil {
		return err
	}
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO events(scope_id,seq,id,type,ts,actor,run_id,task_id,colony_id,hash,body)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		scopeID, seq+1, e.ID, e.Type, e.Timestamp.Format("2006-01-02T15:04:05.999999999Z07:00"),
		e.Actor, nullable(e.RunID), nullable(e.TaskID), nullable(e.ColonyID), e.Hash, string(body))
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Replay(ctx context.Context, scopeID string) ([]*event.Event, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT body FROM events WHERE scope_id=? ORDER BY seq ASC`, scopeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*event.Event{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var e event.Event
		if err := json.Unmarshal([]byte(body), &e); err != nil {
			return nil, fmt.Errorf("decode event in scope %s: %w", scopeID, err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListScopes(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT scope_id FROM events GROUP BY scope_id ORDER BY MIN(rowid)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) TailHash(ctx context.Context, scopeID string) (string, error) {
	var tail string
	err := s.DB.QueryRowContext(ctx,
		`SELECT hash FROM events WHERE scope_id=? ORDER BY seq DESC LIMIT 1`, scopeID).Scan(&tail)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return tail, err
}
