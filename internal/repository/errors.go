package repository

import "errors"

// ErrDuplicateID is returned when a submission id is already present in the store.
var ErrDuplicateID = errors.New("duplicate submission id")
