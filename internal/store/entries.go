package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/msgpass/internal/message"
)

// Entry is one logged message.
type Entry struct {
	ID      string
	Arrival int64
	Message message.TimedMessage
}

// Append stores m under id and returns its arrival number.
// Uses ON CONFLICT(id) DO NOTHING for idempotency: a repeated id returns the
// existing arrival number and inserted=false.
func (s *Store) Append(ctx context.Context, id string, m message.TimedMessage) (arrival int64, inserted bool, err error) {
	body, err := json.Marshal(m)
	if err != nil {
		return 0, false, fmt.Errorf("append entry: marshal: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("append entry: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO entries
		(id, source, destination, kind, seq, duplicate, clock_kind, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		id,
		m.Source,
		m.Destination,
		m.Kind,
		m.Seq,
		m.Duplicate,
		m.Timestamp.Kind().String(),
		string(body),
	)
	if err != nil {
		return 0, false, fmt.Errorf("append entry: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("append entry: rows affected: %w", err)
	}
	if n > 0 {
		arrival, err = result.LastInsertId()
		if err != nil {
			return 0, false, fmt.Errorf("append entry: last insert id: %w", err)
		}
		inserted = true
	} else if err := tx.QueryRowContext(ctx, `SELECT arrival FROM entries WHERE id = ?`, id).Scan(&arrival); err != nil {
		return 0, false, fmt.Errorf("append entry: lookup existing: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("append entry: commit: %w", err)
	}
	return arrival, inserted, nil
}

// Entries returns every entry in arrival order.
// Returns an empty slice (not nil) for an empty log.
func (s *Store) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, arrival, message
		FROM entries
		ORDER BY arrival ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

// BySource returns the entries sent by source, ordered by message sequence.
func (s *Store) BySource(ctx context.Context, source string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, arrival, message
		FROM entries
		WHERE source = ?
		ORDER BY seq ASC, arrival ASC
	`, source)
	if err != nil {
		return nil, fmt.Errorf("query entries by source: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

// Count returns the number of stored entries.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

// Clear removes every entry. Arrival numbers keep increasing afterwards.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM entries`); err != nil {
		return fmt.Errorf("clear entries: %w", err)
	}
	return nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e    Entry
		body string
	)
	if err := rows.Scan(&e.ID, &e.Arrival, &body); err != nil {
		return Entry{}, fmt.Errorf("scan entry: %w", err)
	}
	if err := json.Unmarshal([]byte(body), &e.Message); err != nil {
		return Entry{}, fmt.Errorf("entry %s: unmarshal message: %w", e.ID, err)
	}
	return e, nil
}
