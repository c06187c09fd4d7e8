package repository

import (
	"context"

	"github.com/webmatic/backend/internal/model"
)

// DB checks that the backing store is reachable.
type DB interface {
	Ping(ctx context.Context) error
}

// SubmissionStore persists accepted contact submissions. Append is atomic:
// a record is either fully stored or not at all, and concurrent appends
// never overwrite each other. There is no update or delete.
type SubmissionStore interface {
	DB
	Append(ctx context.Context, s *model.ContactSubmission) error
	Close() error
}
