// Package journal keeps an optional sqlite history of reconciled line
// changes so an operator can see what the dashboard observed.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/dwizi/switchboard/internal/linemask"
)

type Event struct {
	ID        string
	SessionID string
	LineID    int
	Kind      string
	Status    string
	Phone     string
	Name      string
	Active    bool
	Mask      linemask.Mask
	CreatedAt time.Time
}

type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("journal path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite pragmas: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) AutoMigrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS line_events (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			line_id INTEGER NOT NULL,
			kind TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			active INTEGER NOT NULL DEFAULT 0,
			mask INTEGER NOT NULL DEFAULT 0,
			created_at_unix INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_line_events_created ON line_events(created_at_unix);`,
		`CREATE INDEX IF NOT EXISTS idx_line_events_line ON line_events(line_id, created_at_unix);`,
	}
	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("run migration: %w", err)
		}
	}
	return nil
}

func (s *Store) Append(ctx context.Context, event Event) (Event, error) {
	if strings.TrimSpace(event.ID) == "" {
		event.ID = "evt_" + uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	active := 0
	if event.Active {
		active = 1
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO line_events (
			id, session_id, line_id, kind, status, phone, name, active, mask, created_at_unix
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		strings.TrimSpace(event.SessionID),
		event.LineID,
		strings.TrimSpace(event.Kind),
		event.Status,
		event.Phone,
		event.Name,
		active,
		int64(event.Mask),
		event.CreatedAt.UTC().Unix(),
	)
	if err != nil {
		return Event{}, fmt.Errorf("insert line event: %w", err)
	}
	return event, nil
}

// Recent returns the newest events first. A non-negative lineID restricts
// the result to one line.
func (s *Store) Recent(ctx context.Context, lineID, limit int) ([]Event, error) {
	if limit < 1 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	query := `SELECT id, session_id, line_id, kind, status, phone, name, active, mask, created_at_unix
		FROM line_events`
	args := []any{}
	if lineID >= 0 {
		query += ` WHERE line_id = ?`
		args = append(args, lineID)
	}
	query += ` ORDER BY created_at_unix DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list line events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			event         Event
			active        int
			mask          int64
			createdAtUnix int64
		)
		if err := rows.Scan(
			&event.ID,
			&event.SessionID,
			&event.LineID,
			&event.Kind,
			&event.Status,
			&event.Phone,
			&event.Name,
			&active,
			&mask,
			&createdAtUnix,
		); err != nil {
			return nil, fmt.Errorf("scan line event: %w", err)
		}
		event.Active = active == 1
		event.Mask = linemask.FromInt(mask)
		event.CreatedAt = time.Unix(createdAtUnix, 0).UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate line events: %w", err)
	}
	return events, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}
