package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SessionRecord is one interactive session as remembered locally.
type SessionRecord struct {
	Token        string
	TenantID     string
	Room         string
	Origin       string // minted | explicit
	StartedAt    time.Time
	EndedAt      *time.Time
	CommandCount int
}

// CommandRecord is one command run inside a session.
type CommandRecord struct {
	ID           int64
	SessionToken string
	MessageID    string
	Command      string
	Explanation  string
	Line         int
	Success      bool
	Exit         bool
	Error        string
	EventCount   int
	Elapsed      time.Duration
	CreatedAt    time.Time
}

// RecordSession stores a session. Recording a known token keeps the
// original row.
func (s *Store) RecordSession(ctx context.Context, rec SessionRecord) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	if rec.Token == "" {
		return fmt.Errorf("session token is required")
	}
	origin := rec.Origin
	if origin == "" {
		origin = "minted"
	}
	return withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
            INSERT INTO interactive_sessions (token, tenant_id, room, origin, started_at)
            VALUES (?, ?, ?, ?, ?)
            ON CONFLICT(token) DO UPDATE SET
                tenant_id = CASE WHEN interactive_sessions.tenant_id = '' THEN excluded.tenant_id ELSE interactive_sessions.tenant_id END,
                room = CASE WHEN interactive_sessions.room = '' THEN excluded.room ELSE interactive_sessions.room END
        `, rec.Token, rec.TenantID, rec.Room, origin, formatTime(rec.StartedAt))
		return err
	})
}

// EndSession marks a session as ended.
func (s *Store) EndSession(ctx context.Context, token string, at time.Time) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	return withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE interactive_sessions SET ended_at = ? WHERE token = ?`,
			formatTime(at), token)
		return err
	})
}

// RecordCommand stores a command and bumps the session's command count. The
// session row is created on the fly for tokens that were never recorded.
func (s *Store) RecordCommand(ctx context.Context, rec CommandRecord) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrStoreClosed
	}
	if rec.SessionToken == "" {
		return 0, fmt.Errorf("session token is required")
	}

	var id int64
	err := withBusyRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		created := formatTime(rec.CreatedAt)
		if _, err := tx.ExecContext(ctx, `
            INSERT OR IGNORE INTO interactive_sessions (token, origin, started_at)
            VALUES (?, 'explicit', ?)
        `, rec.SessionToken, created); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
            INSERT INTO interactive_commands
                (session_token, message_id, command, explanation, line, success, is_exit, error_text, event_count, elapsed_ms, created_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        `, rec.SessionToken, rec.MessageID, rec.Command, rec.Explanation, rec.Line,
			rec.Success, rec.Exit, rec.Error, rec.EventCount, rec.Elapsed.Milliseconds(), created)
		if err != nil {
			return err
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE interactive_sessions SET command_count = command_count + 1 WHERE token = ?`,
			rec.SessionToken); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, fmt.Errorf("record command: %w", err)
	}
	return id, nil
}

// ListSessions returns the most recently started sessions first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
        SELECT token, tenant_id, room, origin, started_at, ended_at, command_count
        FROM interactive_sessions
        ORDER BY started_at DESC, token DESC
        LIMIT ?
    `, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var started string
		var ended sql.NullString
		if err := rows.Scan(&rec.Token, &rec.TenantID, &rec.Room, &rec.Origin, &started, &ended, &rec.CommandCount); err != nil {
			return nil, err
		}
		rec.StartedAt = parseTime(started)
		if ended.Valid {
			t := parseTime(ended.String)
			rec.EndedAt = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListCommands returns a session's commands in execution order.
func (s *Store) ListCommands(ctx context.Context, token string) ([]CommandRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
        SELECT id, session_token, message_id, command, explanation, line, success, is_exit, error_text, event_count, elapsed_ms, created_at
        FROM interactive_commands
        WHERE session_token = ?
        ORDER BY id
    `, token)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CommandRecord
	for rows.Next() {
		var rec CommandRecord
		var elapsedMS int64
		var created string
		if err := rows.Scan(&rec.ID, &rec.SessionToken, &rec.MessageID, &rec.Command, &rec.Explanation,
			&rec.Line, &rec.Success, &rec.Exit, &rec.Error, &rec.EventCount, &elapsedMS, &created); err != nil {
			return nil, err
		}
		rec.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		rec.CreatedAt = parseTime(created)
		out = append(out, rec)
	}
	return out, rows.Err()
}
