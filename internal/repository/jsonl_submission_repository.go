package repository

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/webmatic/backend/internal/model"
)

// appendFile is the subset of *os.File used for appends.
type appendFile interface {
	Write(b []byte) (int, error)
	Sync() error
	Stat() (os.FileInfo, error)
	Truncate(size int64) error
	Close() error
}

// JSONLSubmissionRepository appends one JSON object per line to a file
// opened with O_APPEND. Writes are serialized through a one-slot semaphore
// whose acquisition honours the caller's context, so a stalled writer turns
// into a deadline error rather than an unbounded wait. A failed write or sync
// is rolled back by truncating to the pre-write size, so a record is either
// fully stored or absent.
type JSONLSubmissionRepository struct {
	path string
	file appendFile
	sem  chan struct{}
	ids  map[string]struct{} // guarded by sem
}

var _ SubmissionStore = (*JSONLSubmissionRepository)(nil)

// OpenJSONLSubmissionRepository opens (creating if needed) the file at path
// and indexes the ids already present so uniqueness holds across restarts.
// A final line without a newline is the remains of an interrupted write; it
// is cut off and logged. Any other undecodable line is an error.
func OpenJSONLSubmissionRepository(path string) (*JSONLSubmissionRepository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("jsonl: mkdir: %w", err)
	}
	ids, err := recoverIDs(path)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("jsonl: open: %w", err)
	}
	return &JSONLSubmissionRepository{
		path: path,
		file: f,
		sem:  make(chan struct{}, 1),
		ids:  ids,
	}, nil
}

// recoverIDs indexes the complete lines of path and truncates a torn tail.
func recoverIDs(path string) (map[string]struct{}, error) {
	ids := make(map[string]struct{})
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return ids, nil
	}
	if err != nil {
		return nil, fmt.Errorf("jsonl: read: %w", err)
	}
	defer f.Close()

	var (
		rd       = bufio.NewReader(f)
		complete int64 // bytes up to and including the last newline
	)
	for {
		line, err := rd.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			if len(line) > 0 {
				slog.Warn("jsonl: dropping torn final line", "path", path, "offset", complete, "bytes", len(line))
				if err := os.Truncate(path, complete); err != nil {
					return nil, fmt.Errorf("jsonl: truncate torn line: %w", err)
				}
			}
			return ids, nil
		}
		if err != nil {
			return nil, fmt.Errorf("jsonl: read: %w", err)
		}
		lineStart := complete
		complete += int64(len(line))

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var rec struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("jsonl: corrupt line at offset %d: %w", lineStart, err)
		}
		ids[rec.ID] = struct{}{}
	}
}

// Append writes s as a single line and syncs the file.
func (r *JSONLSubmissionRepository) Append(ctx context.Context, s *model.ContactSubmission) error {
	line, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("jsonl: encode: %w", err)
	}
	line = append(line, '\n')

	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-r.sem }()

	if _, dup := r.ids[s.ID]; dup {
		return ErrDuplicateID
	}
	fi, err := r.file.Stat()
	if err != nil {
		return fmt.Errorf("jsonl: stat: %w", err)
	}
	size := fi.Size()

	if _, err := r.file.Write(line); err != nil {
		return r.rollback(size, fmt.Errorf("jsonl: write: %w", err))
	}
	if err := r.file.Sync(); err != nil {
		return r.rollback(size, fmt.Errorf("jsonl: sync: %w", err))
	}
	r.ids[s.ID] = struct{}{}
	return nil
}

// rollback cuts the file back to size after a failed append. Caller holds sem.
func (r *JSONLSubmissionRepository) rollback(size int64, cause error) error {
	if err := r.file.Truncate(size); err != nil {
		slog.Error("jsonl: rollback failed, file may hold a partial record", "path", r.path, "error", err)
		return errors.Join(cause, fmt.Errorf("jsonl: truncate: %w", err))
	}
	return cause
}

// Ping checks the file still exists.
func (r *JSONLSubmissionRepository) Ping(_ context.Context) error {
	if _, err := os.Stat(r.path); err != nil {
		return fmt.Errorf("jsonl: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (r *JSONLSubmissionRepository) Close() error {
	return r.file.Close()
}
