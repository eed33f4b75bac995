package credstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLite persists credential sets in a local SQLite database, one row per
// profile.
type SQLite struct {
	db      *sql.DB
	profile string
}

// OpenSQLite opens/creates the database at path and runs migrations.
func OpenSQLite(path, profile string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if profile == "" {
		profile = "default"
	}
	s := &SQLite{db: db, profile: profile}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS credentials (
  profile TEXT PRIMARY KEY,
  access_token TEXT NOT NULL,
  refresh_token TEXT NOT NULL DEFAULT '',
  token_type TEXT NOT NULL DEFAULT 'bearer',
  expires_at INTEGER NOT NULL DEFAULT 0
);
`)
	return err
}

func (s *SQLite) Load(ctx context.Context) (*Credentials, error) {
	var c Credentials
	err := s.db.QueryRowContext(ctx, `
SELECT access_token, refresh_token, token_type, expires_at FROM credentials WHERE profile = ?`, s.profile).
		Scan(&c.AccessToken, &c.RefreshToken, &c.TokenType, &c.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load credentials row: %w", err)
	}
	return &c, nil
}

func (s *SQLite) Save(ctx context.Context, c Credentials) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO credentials(profile, access_token, refresh_token, token_type, expires_at)
VALUES(?,?,?,?,?)
ON CONFLICT(profile) DO UPDATE SET
  access_token = excluded.access_token,
  refresh_token = excluded.refresh_token,
  token_type = excluded.token_type,
  expires_at = excluded.expires_at`,
		s.profile, c.AccessToken, c.RefreshToken, c.TokenType, c.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("save credentials row: %w", err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE profile = ?`, s.profile); err != nil {
		return fmt.Errorf("delete credentials row: %w", err)
	}
	return nil
}
