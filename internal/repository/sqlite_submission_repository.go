package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/webmatic/backend/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS contact_submissions (
    id             TEXT PRIMARY KEY,
    name           TEXT NOT NULL,
    email          TEXT NOT NULL,
    phone          TEXT,
    service        TEXT NOT NULL,
    message        TEXT NOT NULL,
    source_address TEXT NOT NULL,
    client_agent   TEXT NOT NULL DEFAULT '',
    submitted_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_contact_submissions_submitted_at ON contact_submissions (submitted_at);
`

// SQLiteSubmissionRepository stores submissions in an embedded SQLite file.
// The pool is limited to one connection so that all writes go through a
// single writer.
type SQLiteSubmissionRepository struct {
	db *sql.DB
}

var _ SubmissionStore = (*SQLiteSubmissionRepository)(nil)

// OpenSQLiteSubmissionRepository opens (creating if needed) the database at path.
func OpenSQLiteSubmissionRepository(ctx context.Context, path string) (*SQLiteSubmissionRepository, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("sqlite: mkdir: %w", err)
		}
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: schema: %w", err)
	}
	return &SQLiteSubmissionRepository{db: db}, nil
}

// Append inserts a contact_submissions row.
func (r *SQLiteSubmissionRepository) Append(ctx context.Context, s *model.ContactSubmission) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO contact_submissions
		   (id, name, email, phone, service, message, source_address, client_agent, submitted_at)
		 VALUES (?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?, ?)`,
		s.ID, s.Name, s.Email, s.Phone, s.Service, s.Message, s.SourceAddress, s.ClientAgent,
		s.SubmittedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrDuplicateID
	}
	return err
}

// Ping checks the database file is usable.
func (r *SQLiteSubmissionRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database.
func (r *SQLiteSubmissionRepository) Close() error {
	return r.db.Close()
}
