package sqlite

import (
	"database/sql"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mentionist/pkg/domain/interfaces"

	_ "modernc.org/sqlite" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	workspace_id TEXT NOT NULL,
	id           TEXT NOT NULL,
	external_id  TEXT NOT NULL DEFAULT '',
	name         TEXT NOT NULL DEFAULT '',
	display_name TEXT NOT NULL DEFAULT '',
	full_name    TEXT NOT NULL DEFAULT '',
	avatar_url   TEXT NOT NULL DEFAULT '',
	updated_at   INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (workspace_id, id)
);

CREATE TABLE IF NOT EXISTS user_directory_metadata (
	workspace_id         TEXT PRIMARY KEY,
	last_refresh_success INTEGER NOT NULL DEFAULT 0,
	last_refresh_attempt INTEGER NOT NULL DEFAULT 0,
	user_count           INTEGER NOT NULL DEFAULT 0
);
`

// SQLite is a single-file Repository backend
type SQLite struct {
	db   *sql.DB
	user *userRepository
}

var _ interfaces.Repository = &SQLite{}

// New opens (or creates) the database at dsn, configures WAL mode and creates the schema
func New(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open sqlite database", goerr.V("dsn", dsn))
	}

	// SQLite only supports one concurrent writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, goerr.Wrap(err, "failed to configure sqlite", goerr.V("pragma", p))
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, goerr.Wrap(err, "failed to create schema")
	}

	return &SQLite{
		db:   db,
		user: &userRepository{db: db},
	}, nil
}

func (s *SQLite) User() interfaces.UserRepository {
	return s.user
}

func (s *SQLite) Close() error {
	if err := s.db.Close(); err != nil {
		return goerr.Wrap(err, "failed to close sqlite database")
	}
	return nil
}
