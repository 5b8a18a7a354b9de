package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/park285/Cheese-PvP-Server/internal/game"
)

// SQLite keeps sessions in a single WAL-mode database file. Writes take
// the database lock at BEGIN so read-modify-write cycles never interleave.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id                 TEXT PRIMARY KEY,
		status             TEXT NOT NULL,
		white_id           TEXT NOT NULL,
		black_id           TEXT NOT NULL,
		live               INTEGER NOT NULL DEFAULT 1,
		conclusion_pending INTEGER NOT NULL DEFAULT 0,
		version            INTEGER NOT NULL,
		body               TEXT NOT NULL,
		updated_at         TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_live ON sessions(live);
	CREATE INDEX IF NOT EXISTS idx_sessions_pending ON sessions(conclusion_pending);
	CREATE INDEX IF NOT EXISTS idx_sessions_white ON sessions(white_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_black ON sessions(black_id);

	CREATE TABLE IF NOT EXISTS presence (
		session_id TEXT NOT NULL,
		player_id  TEXT NOT NULL,
		last_seen  TEXT NOT NULL,
		PRIMARY KEY (session_id, player_id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLite) Create(ctx context.Context, sess *game.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	if sess.Version == 0 {
		sess.Version = 1
	}
	body, err := encode(sess)
	if err != nil {
		return err
	}
	return retryOp(ctx, defaultRetryConfig, func() error {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO sessions (id, status, white_id, black_id, live, conclusion_pending, version, body, updated_at)
			 VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)
			 ON CONFLICT(id) DO NOTHING`,
			sess.ID, string(sess.Status), sess.White.ID, sess.Black.ID, boolInt(!sess.Status.Terminal()),
			sess.Version, string(body), formatTime(sess.UpdatedAt),
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrExists
		}
		return nil
	})
}

func (s *SQLite) Get(ctx context.Context, id string) (*game.Session, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM sessions WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decode([]byte(body))
}

func (s *SQLite) Update(ctx context.Context, id string, fn Mutator) (*game.Session, error) {
	var out *game.Session
	err := retryOp(ctx, defaultRetryConfig, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var body string
		if err := tx.QueryRowContext(ctx, `SELECT body FROM sessions WHERE id = ?`, id).Scan(&body); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		cur, err := decode([]byte(body))
		if err != nil {
			return err
		}
		prev := cur.Version
		write, concluded, err := apply(cur, fn)
		if err != nil {
			return err
		}
		out = cur
		if !write {
			return nil
		}
		next, err := encode(cur)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE sessions
			 SET status = ?, live = ?, conclusion_pending = CASE WHEN ? = 1 THEN 1 ELSE conclusion_pending END,
			     version = ?, body = ?, updated_at = ?
			 WHERE id = ? AND version = ?`,
			string(cur.Status), boolInt(!cur.Status.Terminal()), boolInt(concluded),
			cur.Version, string(next), formatTime(cur.UpdatedAt), id, prev,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrConflict
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLite) Live(ctx context.Context) ([]string, error) {
	return s.ids(ctx, `SELECT id FROM sessions WHERE live = 1 ORDER BY id`)
}

func (s *SQLite) PendingConclusions(ctx context.Context) ([]string, error) {
	return s.ids(ctx, `SELECT id FROM sessions WHERE conclusion_pending = 1 ORDER BY id`)
}

func (s *SQLite) MarkConcluded(ctx context.Context, id string) error {
	return retryOp(ctx, defaultRetryConfig, func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE sessions SET conclusion_pending = 0 WHERE id = ?`, id)
		return err
	})
}

func (s *SQLite) ByPlayer(ctx context.Context, playerID string) ([]string, error) {
	return s.ids(ctx, `SELECT id FROM sessions WHERE white_id = ? OR black_id = ? ORDER BY updated_at DESC`, playerID, playerID)
}

func (s *SQLite) Touch(ctx context.Context, sessionID, playerID string, at time.Time) error {
	return retryOp(ctx, defaultRetryConfig, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO presence (session_id, player_id, last_seen) VALUES (?, ?, ?)
			 ON CONFLICT(session_id, player_id) DO UPDATE SET last_seen = excluded.last_seen`,
			sessionID, playerID, formatTime(at),
		)
		return err
	})
}

func (s *SQLite) LastSeen(ctx context.Context, sessionID string) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT player_id, last_seen FROM presence WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]time.Time)
	for rows.Next() {
		var player, seen string
		if err := rows.Scan(&player, &seen); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, seen)
		if err != nil {
			continue
		}
		out[player] = t
	}
	return out, rows.Err()
}

func (s *SQLite) ids(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
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

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
